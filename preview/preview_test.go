package preview

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	osm "github.com/omniscale/go-osm"

	"github.com/youthmappers/mapactivity/duckdb"
)

var testMembers = map[int64]duckdb.Member{
	1001: {UID: 1001, Username: "amina", Chapter: "YouthMappers UNILAG"},
	1002: {UID: 1002, Username: "jorge", Chapter: "Geomappers UPAO"},
}

func TestCollectFiltersAndDeduplicates(t *testing.T) {
	changesets := make(chan osm.Changeset, 4)
	changesets <- osm.Changeset{ID: 1, UserID: 1001, NumChanges: 5}
	changesets <- osm.Changeset{ID: 2, UserID: 9999, NumChanges: 50}
	changesets <- osm.Changeset{ID: 1, UserID: 1001, NumChanges: 12}
	close(changesets)

	byID := make(map[int64]osm.Changeset)
	collect(changesets, testMembers, byID)

	if len(byID) != 1 {
		t.Fatalf("expected single changeset, got %v", byID)
	}
	if cs := byID[1]; cs.NumChanges != 12 {
		t.Errorf("expected latest changeset state with 12 changes, got %d", cs.NumChanges)
	}
}

func TestDays(t *testing.T) {
	byID := map[int64]osm.Changeset{
		1: {
			ID:         1,
			UserID:     1001,
			CreatedAt:  time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
			NumChanges: 5,
			MaxExtent:  [4]float64{1, 2, 3, 4},
		},
		2: {
			ID:         2,
			UserID:     1001,
			CreatedAt:  time.Date(2026, 8, 24, 18, 30, 0, 0, time.UTC),
			NumChanges: 7,
			MaxExtent:  [4]float64{0, 0, 5, 6},
		},
		3: {
			ID:         3,
			UserID:     1001,
			CreatedAt:  time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC),
			NumChanges: 2,
		},
		4: {
			ID:         4,
			UserID:     1002,
			// 01:30 CEST is still the previous UTC day.
			CreatedAt:  time.Date(2026, 8, 25, 1, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
			NumChanges: 3,
			MaxExtent:  [4]float64{-1, -1, 1, 1},
		},
	}

	result := days(byID, testMembers)
	if len(result) != 3 {
		t.Fatalf("expected 3 days, got %v", result)
	}

	first := result[0]
	if first.UID != 1001 || first.Day != "2026-08-24" {
		t.Fatalf("unexpected first day: %v", first)
	}
	if first.Username != "amina" || first.Chapter != "YouthMappers UNILAG" {
		t.Errorf("roster fields not filled: %v", first)
	}
	if first.Changesets != 2 || first.NumChanges != 12 {
		t.Errorf("expected 2 changesets with 12 changes, got %v", first)
	}
	if first.Bbox == nil || *first.Bbox != [4]float64{0, 0, 5, 6} {
		t.Errorf("unexpected bbox union: %v", first.Bbox)
	}

	second := result[1]
	if second.UID != 1002 || second.Day != "2026-08-24" {
		t.Fatalf("unexpected second day: %v", second)
	}
	if second.Changesets != 1 || second.NumChanges != 3 {
		t.Errorf("unexpected counts: %v", second)
	}

	third := result[2]
	if third.UID != 1001 || third.Day != "2026-08-25" {
		t.Fatalf("unexpected third day: %v", third)
	}
	if third.Bbox != nil {
		t.Errorf("expected no bbox for changeset without extent, got %v", third.Bbox)
	}
}

func TestFirstSequence(t *testing.T) {
	tests := []struct {
		current  int
		backfill int
		want     int
	}{
		{current: 100, backfill: 60, want: 41},
		{current: 10, backfill: 60, want: 1},
		{current: 1, backfill: 1, want: 1},
		{current: 6523001, backfill: 60, want: 6522942},
	}
	for _, test := range tests {
		if got := firstSequence(test.current, test.backfill); got != test.want {
			t.Errorf("firstSequence(%d, %d) = %d, want %d",
				test.current, test.backfill, got, test.want)
		}
	}
}

func TestReportWrite(t *testing.T) {
	report := &Report{
		Replication: DefaultReplicationURL,
		First:       100,
		Last:        160,
		Generated:   time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Days: []Day{
			{UID: 1001, Username: "amina", Day: "2026-08-25", Changesets: 1, NumChanges: 5},
		},
	}
	filename := filepath.Join(t.TempDir(), "preview.json")
	if err := report.Write(filename); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filename + "~"); !os.IsNotExist(err) {
		t.Error("temporary file not renamed")
	}

	b, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}
	read := Report{}
	if err := json.Unmarshal(b, &read); err != nil {
		t.Fatal(err)
	}
	if read.First != 100 || read.Last != 160 {
		t.Errorf("unexpected sequence range: %d-%d", read.First, read.Last)
	}
	if len(read.Days) != 1 || read.Days[0].UID != 1001 {
		t.Errorf("unexpected days: %v", read.Days)
	}
	if read.Days[0].Bbox != nil {
		t.Errorf("expected bbox omitted, got %v", read.Days[0].Bbox)
	}
}
