package rollup

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// CountryMonth is one row of the top-countries ranking export.
type CountryMonth struct {
	Month          string
	A3             string
	Country        string
	CountryName    string
	Region         string
	Changesets     int64
	FeaturesNew    int64
	FeaturesEdited int64
	FeaturesTotal  int64
}

// ParseCountriesCSV reads the top_countries_90d.csv export.
func ParseCountriesCSV(r io.Reader) ([]CountryMonth, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading countries csv header")
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	for _, name := range []string{
		"month", "a3", "country", "country_name", "region",
		"changesets", "features_new", "features_edited", "features_total",
	} {
		if _, ok := col[name]; !ok {
			return nil, errors.Errorf("countries csv missing column %q", name)
		}
	}

	var rows []CountryMonth
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading countries csv line %d", line)
		}
		row := CountryMonth{
			Month:       record[col["month"]],
			A3:          record[col["a3"]],
			Country:     record[col["country"]],
			CountryName: record[col["country_name"]],
			Region:      record[col["region"]],
		}
		for _, field := range []struct {
			name string
			dst  *int64
		}{
			{"changesets", &row.Changesets},
			{"features_new", &row.FeaturesNew},
			{"features_edited", &row.FeaturesEdited},
			{"features_total", &row.FeaturesTotal},
		} {
			v := record[col[field.name]]
			if v == "" {
				continue
			}
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "countries csv line %d, column %s", line, field.name)
			}
			*field.dst = n
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ValidateRanking checks the ranking export contract: every row has a
// country, totals add up and the rows are sorted descending by total
// feature count.
func ValidateRanking(rows []CountryMonth) error {
	for i := range rows {
		if rows[i].Country == "" {
			return errors.Errorf("ranking row %d has no country", i)
		}
		if rows[i].FeaturesTotal != rows[i].FeaturesNew+rows[i].FeaturesEdited {
			return errors.Errorf("ranking row %d (%s): total %d != new %d + edited %d",
				i, rows[i].Country, rows[i].FeaturesTotal,
				rows[i].FeaturesNew, rows[i].FeaturesEdited)
		}
		if i > 0 && rows[i].FeaturesTotal > rows[i-1].FeaturesTotal {
			return errors.Errorf("ranking not sorted at row %d: %d after %d",
				i, rows[i].FeaturesTotal, rows[i-1].FeaturesTotal)
		}
	}
	return nil
}
