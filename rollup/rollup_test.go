package rollup

import (
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
)

func TestCountAdd(t *testing.T) {
	tests := []struct {
		a, b, want Count
	}{
		{Count{}, Count{}, Count{}},
		{NewCount(2, 1), Count{}, NewCount(2, 1)},
		{Count{}, NewCount(0, 3), NewCount(0, 3)},
		{NewCount(2, 1), NewCount(1, 1), NewCount(3, 2)},
	}
	for i, test := range tests {
		if got := test.a.Add(test.b); got != test.want {
			t.Errorf("test %d: got %+v, want %+v", i, got, test.want)
		}
	}
}

func TestCountNormalization(t *testing.T) {
	if NewCount(0, 0).Valid {
		t.Error("zero count is present")
	}
	if !NewCount(0, 1).Valid {
		t.Error("nonzero count is absent")
	}
}

func TestCountFromNull(t *testing.T) {
	absent := CountFromNull(sql.NullInt64{}, sql.NullInt64{})
	if absent.Valid {
		t.Error("both-null did not map to absent")
	}
	present := CountFromNull(
		sql.NullInt64{Int64: 4, Valid: true},
		sql.NullInt64{Int64: 0, Valid: true},
	)
	if !present.Valid || present.New != 4 {
		t.Errorf("unexpected count %+v", present)
	}
}

func TestCountJSON(t *testing.T) {
	b, err := json.Marshal(NewCount(3, 2))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"new":3,"edited":2}` {
		t.Errorf("got %s", b)
	}

	b, err = json.Marshal(Count{})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "null" {
		t.Errorf("got %s", b)
	}

	var c Count
	if err := json.Unmarshal([]byte(`{"new":0,"edited":0}`), &c); err != nil {
		t.Fatal(err)
	}
	if c.Valid {
		t.Error("zero pair did not normalize to absent")
	}
	if err := json.Unmarshal([]byte("null"), &c); err != nil {
		t.Fatal(err)
	}
	if c.Valid {
		t.Error("null did not map to absent")
	}
}

func TestWeeklyRowJSONSparse(t *testing.T) {
	row := WeeklyRow{
		Chapter:   "Nairobi",
		Week:      "2024-04-29",
		Buildings: NewCount(3, 1),
		Features:  NewCount(4, 1),
		Other:     1,
	}
	b, err := json.Marshal(row)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, `"buildings":{"new":3,"edited":1}`) {
		t.Error("present subtotal missing:", s)
	}
	if strings.Contains(s, "highways") || strings.Contains(s, "amenities") {
		t.Error("absent subtotal serialized:", s)
	}
}

func TestBBoxUnion(t *testing.T) {
	a := NewBBox(10, -5, 12, -1)
	b := NewBBox(9, -4, 13, 0)
	u := a.Union(b)
	if u != NewBBox(9, -5, 13, 0) {
		t.Errorf("got %+v", u)
	}
	if a.Union(BBox{}) != a {
		t.Error("union with invalid changed bbox")
	}
	if (BBox{}).Union(a) != a {
		t.Error("union of invalid did not take other")
	}
}

func TestWeeklyRowValidate(t *testing.T) {
	ok := WeeklyRow{
		Chapter:   "Dar es Salaam",
		Week:      "2024-04-29",
		Buildings: NewCount(3, 1),
		Features:  NewCount(5, 2),
		Other:     3,
	}
	if err := ok.Validate(); err != nil {
		t.Error(err)
	}

	presentEmpty := ok
	presentEmpty.Highways = Count{Valid: true}
	if err := presentEmpty.Validate(); err == nil {
		t.Error("empty present subtotal accepted")
	}

	mismatch := ok
	mismatch.Other = 1
	if err := mismatch.Validate(); err == nil {
		t.Error("wrong other count accepted")
	}

	negative := WeeklyRow{
		Chapter:   "X",
		Week:      "2024-04-29",
		Buildings: NewCount(3, 0),
		Features:  NewCount(2, 0),
		Other:     -1,
	}
	if err := negative.Validate(); err == nil {
		t.Error("negative other accepted")
	}
}

func TestParseCountriesCSV(t *testing.T) {
	csv := `month,a3,country,country_name,region,changesets,features_new,features_edited,features_total
2024-05-01 00:00:00,TZA,Tanzania,United Republic of Tanzania,Africa,10,120,30,150
2024-04-01 00:00:00,KEN,Kenya,Kenya,Africa,8,100,20,120
`
	rows, err := ParseCountriesCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatal("rows:", len(rows))
	}
	if rows[0].A3 != "TZA" || rows[0].FeaturesTotal != 150 {
		t.Errorf("unexpected row %+v", rows[0])
	}
	if err := ValidateRanking(rows); err != nil {
		t.Error(err)
	}
}

func TestParseCountriesCSVMissingColumn(t *testing.T) {
	csv := "month,a3\n2024-05-01,TZA\n"
	if _, err := ParseCountriesCSV(strings.NewReader(csv)); err == nil {
		t.Error("missing columns accepted")
	}
}

func TestValidateRanking(t *testing.T) {
	rows := []CountryMonth{
		{Country: "Kenya", FeaturesNew: 10, FeaturesEdited: 0, FeaturesTotal: 10},
		{Country: "Tanzania", FeaturesNew: 20, FeaturesEdited: 0, FeaturesTotal: 20},
	}
	if err := ValidateRanking(rows); err == nil {
		t.Error("unsorted ranking accepted")
	}

	rows = []CountryMonth{
		{Country: "", FeaturesTotal: 0},
	}
	if err := ValidateRanking(rows); err == nil {
		t.Error("empty country accepted")
	}

	rows = []CountryMonth{
		{Country: "Kenya", FeaturesNew: 10, FeaturesEdited: 5, FeaturesTotal: 14},
	}
	if err := ValidateRanking(rows); err == nil {
		t.Error("total mismatch accepted")
	}
}
