package athena

import (
	"strings"
	"testing"

	"github.com/youthmappers/mapactivity/queries"
)

func TestUnloadSQL(t *testing.T) {
	sql := UnloadSQL("SELECT 1 AS ds", "bucket", "youthmappers_changesets/")
	want := "UNLOAD (\nSELECT 1 AS ds\n)\nTO 's3://bucket/youthmappers_changesets/'\nWITH (format='PARQUET', compression='ZSTD', partitioned_by=ARRAY['ds'])"
	if sql != want {
		t.Errorf("got:\n%s\nwant:\n%s", sql, want)
	}

	// prefix without trailing slash gets one
	sql = UnloadSQL("SELECT 1 AS ds", "bucket", "youthmappers_changesets")
	if !strings.Contains(sql, "TO 's3://bucket/youthmappers_changesets/'") {
		t.Errorf("unexpected target in:\n%s", sql)
	}
}

func TestTableBlocksResolve(t *testing.T) {
	for _, name := range tableBlocks {
		sql, err := queries.Load("tables.sql:" + name)
		if err != nil {
			t.Fatalf("block %s: %v", name, err)
		}
		if !strings.Contains(sql, "CREATE EXTERNAL TABLE") {
			t.Errorf("block %s is not a table definition", name)
		}
	}
}
