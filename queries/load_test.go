package queries

import (
	"reflect"
	"strings"
	"testing"
)

func TestLoadBlock(t *testing.T) {
	sql, err := Load("tables.sql:osm-pds-changesets")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(sql, "CREATE EXTERNAL TABLE IF NOT EXISTS changesets") {
		t.Error("unexpected block start:", sql[:60])
	}
	if strings.Contains(sql, "BEGIN") || strings.Contains(sql, "planet_history") {
		t.Error("block not terminated at -- END")
	}
}

func TestLoadWholeFile(t *testing.T) {
	sql, err := Load("tables.sql")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sql, "planet_history") || !strings.Contains(sql, "youthmappers") {
		t.Error("whole file load missing content")
	}
	if strings.HasSuffix(sql, "\n") {
		t.Error("whole file load not trimmed")
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("tables.sql:no-such-block"); err == nil {
		t.Error("expected error for missing block")
	}
	if _, err := Load("nosuchfile.sql"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNames(t *testing.T) {
	names, err := Names("tables.sql")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"osm-pds-changesets",
		"osm-pds-planet-history",
		"osm-pds-planet",
		"natural-earth-boundaries",
		"youthmappers-from-parquet",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestFindBlockCompactMarker(t *testing.T) {
	content := "--BEGIN q\nSELECT 1\n--END\n"
	block, ok := findBlock(content, "q")
	if !ok {
		t.Fatal("block not found")
	}
	if block != "SELECT 1" {
		t.Errorf("got %q", block)
	}
}

func TestFindBlockStopsAtFirstEnd(t *testing.T) {
	content := "-- BEGIN a\nSELECT 1\n-- END\n-- BEGIN b\nSELECT 2\n-- END\n"
	block, ok := findBlock(content, "b")
	if !ok {
		t.Fatal("block not found")
	}
	if block != "SELECT 2" {
		t.Errorf("got %q", block)
	}
}

func TestExpand(t *testing.T) {
	sql := Expand("SELECT * FROM 's3://${bucket}/${prefix}ds=${ds}/*'", map[string]string{
		"bucket": "youthmappers-internal-us-east1",
		"prefix": "youthmappers_changesets/",
		"ds":     "2024-05-01",
	})
	want := "SELECT * FROM 's3://youthmappers-internal-us-east1/youthmappers_changesets/ds=2024-05-01/*'"
	if sql != want {
		t.Errorf("got %q, want %q", sql, want)
	}

	// unknown tokens stay visible
	sql = Expand("SELECT '${unknown}'", nil)
	if sql != "SELECT '${unknown}'" {
		t.Errorf("unknown token rewritten: %q", sql)
	}
}

func TestAggregateBlocks(t *testing.T) {
	// every stage referenced by the aggregate pipeline must resolve
	for _, name := range []string{
		"changesets", "youthmappers", "natural-earth", "latest-youthmappers",
		"ym-changesets", "h3-day", "daily-rollup", "export-daily-rollup",
		"chapters-weekly", "alltime-monthly", "top-countries-90d",
		"cells-coarse", "cells-fine", "points-daily", "bbox-daily",
		"activity-rows", "roster-ids", "rollup-rows",
	} {
		if _, err := Load("aggregate.sql:" + name); err != nil {
			t.Error(err)
		}
	}
}
