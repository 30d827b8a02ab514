package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity/log"
	"github.com/youthmappers/mapactivity/partition"
	"github.com/youthmappers/mapactivity/queries"
	"github.com/youthmappers/mapactivity/rollup"
)

// Config carries the aggregation settings of one run.
type Config struct {
	Bucket           string
	Region           string
	DatabasePath     string
	OutputDir        string
	CacheDir         string
	CountriesFile    string
	ChangesetsPrefix string
	RosterPrefix     string
	NoFetch          bool
}

// Stage is one step of the aggregation: a query block materialized as a
// table or exported to a file in the output directory.
type Stage struct {
	Name   string
	Block  string
	Table  string
	File   string
	Format string
	fetch  bool
}

const geojsonSeq = "FORMAT GDAL, DRIVER 'GeoJSONSeq'"

// stages run in order. The fetch stages read from S3 and are skipped with
// -no-fetch, everything after derives from the fetched tables.
var stages = []Stage{
	{Name: "changesets with h3 indexes", Block: "changesets", Table: "changesets", fetch: true},
	{Name: "roster snapshots", Block: "youthmappers", Table: "youthmappers", fetch: true},
	{Name: "natural earth countries", Block: "natural-earth", Table: "natural_earth"},
	{Name: "latest roster", Block: "latest-youthmappers", Table: "latest_youthmappers"},
	{Name: "member changesets", Block: "ym-changesets", Table: "ym_changesets"},
	{Name: "h3 daily aggregation", Block: "h3-day", Table: "changesets_gb_h3_day"},
	{Name: "daily rollup", Block: "daily-rollup", Table: "daily_rollup"},
	{Name: "chapter weeks", Block: "chapters-weekly", Table: "chapters_weekly"},
	{Name: "daily rollup export", Block: "export-daily-rollup", File: "daily_rollup.parquet", Format: "FORMAT PARQUET, COMPRESSION ZSTD"},
	{Name: "alltime monthly export", Block: "alltime-monthly", File: "alltime_monthly.csv", Format: "HEADER"},
	{Name: "top countries export", Block: "top-countries-90d", File: "top_countries_90d.csv", Format: "HEADER"},
	{Name: "coarse cells export", Block: "cells-coarse", File: "cells_coarse.geojsonl", Format: geojsonSeq},
	{Name: "fine cells export", Block: "cells-fine", File: "cells_fine.geojsonl", Format: geojsonSeq},
	{Name: "daily points export", Block: "points-daily", File: "points_daily.geojsonl", Format: geojsonSeq},
	{Name: "daily bbox export", Block: "bbox-daily", File: "bbox_daily.geojsonl", Format: geojsonSeq},
}

// SQL assembles the full statement for the stage: table stages wrap their
// block in CREATE OR REPLACE TABLE, export stages in COPY TO.
func (st Stage) SQL(outputDir string, vars map[string]string) (string, error) {
	query, err := queries.Load("aggregate.sql:" + st.Block)
	if err != nil {
		return "", err
	}
	query = queries.Expand(query, vars)
	if st.Table != "" {
		return "CREATE OR REPLACE TABLE " + st.Table + " AS (\n" + query + "\n)", nil
	}
	target := filepath.Join(outputDir, st.File)
	return "COPY (\n" + query + "\n) TO '" + target + "' (" + st.Format + ")", nil
}

// Aggregate pins the changeset partition, runs all aggregation stages and
// writes the dashboard artifacts to the output directory. Returns the
// pinned partition value.
func Aggregate(ctx context.Context, lister partition.Lister, conf Config) (string, error) {
	defer log.Step("Aggregating changesets")()

	ds, err := pinPartition(ctx, lister, conf)
	if err != nil {
		return "", err
	}
	log.Printf("[info] aggregating partition ds=%s", ds)

	if err := os.MkdirAll(conf.OutputDir, 0755); err != nil {
		return "", err
	}

	session, err := Open(ctx, conf.DatabasePath, conf.Region)
	if err != nil {
		return "", err
	}
	defer session.Close()

	vars := map[string]string{
		"bucket":            conf.Bucket,
		"ds":                ds,
		"changesets_prefix": conf.ChangesetsPrefix,
		"roster_prefix":     conf.RosterPrefix,
		"countries":         conf.CountriesFile,
	}
	for _, st := range stages {
		if st.fetch && conf.NoFetch {
			log.Printf("[info] skipping %s", st.Name)
			continue
		}
		query, err := st.SQL(conf.OutputDir, vars)
		if err != nil {
			return "", err
		}
		if err := session.Exec(ctx, st.Name, query); err != nil {
			return "", err
		}
	}

	if err := writeActivity(ctx, session, ds, filepath.Join(conf.OutputDir, "activity.json")); err != nil {
		return "", err
	}
	if err := checkCountries(filepath.Join(conf.OutputDir, "top_countries_90d.csv")); err != nil {
		return "", err
	}
	return ds, nil
}

// pinPartition selects the partition for this run. A fetch pins the latest
// available partition, -no-fetch reuses the previously pinned one.
func pinPartition(ctx context.Context, lister partition.Lister, conf Config) (string, error) {
	if conf.NoFetch {
		marker, err := partition.ParseMarker(conf.CacheDir)
		if err != nil {
			return "", errors.Wrap(err, "no pinned partition, run without -no-fetch first")
		}
		return marker.Partition, nil
	}
	return partition.Pin(ctx, lister, conf.Bucket, conf.ChangesetsPrefix, conf.CacheDir)
}

// writeActivity serializes the chapter weeks from Go instead of COPY TO
// json, so absent categories are dropped rather than written as null.
func writeActivity(ctx context.Context, session *Session, ds, filename string) error {
	query, err := queries.Load("aggregate.sql:activity-rows")
	if err != nil {
		return err
	}
	rows, err := session.Query(ctx, query)
	if err != nil {
		return errors.Wrap(err, "reading chapter weeks")
	}
	defer rows.Close()

	activity := &rollup.Activity{Partition: ds}
	for rows.Next() {
		var row rollup.WeeklyRow
		var country sql.NullString
		var buildingsNew, buildingsEdited sql.NullInt64
		var highwaysNew, highwaysEdited sql.NullInt64
		var amenitiesNew, amenitiesEdited sql.NullInt64
		var featuresNew, featuresEdited sql.NullInt64
		err := rows.Scan(&row.ChapterID, &row.Chapter, &country, &row.Week,
			&row.Mappers, &row.Changesets,
			&buildingsNew, &buildingsEdited,
			&highwaysNew, &highwaysEdited,
			&amenitiesNew, &amenitiesEdited,
			&featuresNew, &featuresEdited,
			&row.Other)
		if err != nil {
			return errors.Wrap(err, "scanning chapter week")
		}
		row.Country = country.String
		row.Buildings = rollup.CountFromNull(buildingsNew, buildingsEdited)
		row.Highways = rollup.CountFromNull(highwaysNew, highwaysEdited)
		row.Amenities = rollup.CountFromNull(amenitiesNew, amenitiesEdited)
		row.Features = rollup.CountFromNull(featuresNew, featuresEdited)
		activity.Chapters = append(activity.Chapters, row)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "reading chapter weeks")
	}

	if err := activity.Validate(); err != nil {
		return err
	}

	buf, err := json.MarshalIndent(activity, "", "  ")
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	tmpname := filename + "~"
	if err := os.WriteFile(tmpname, buf, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpname, filename); err != nil {
		return err
	}
	log.Printf("[info] wrote %d chapter weeks to %s", len(activity.Chapters), filename)
	return nil
}

// checkCountries validates the country ranking export before it is
// published.
func checkCountries(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	months, err := rollup.ParseCountriesCSV(f)
	if err != nil {
		return errors.Wrap(err, filename)
	}
	if err := rollup.ValidateRanking(months); err != nil {
		return errors.Wrap(err, filename)
	}
	log.Printf("[info] country ranking has %d rows", len(months))
	return nil
}
