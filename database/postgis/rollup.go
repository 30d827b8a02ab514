package postgis

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity/duckdb"
	"github.com/youthmappers/mapactivity/queries"
)

// RollupRow is one row of the exported daily rollup. The category counts
// are sparse, a pair is NULL when the member never touched that category.
type RollupRow struct {
	Day             string
	H3              string
	H3R5            string
	ChangesetCount  int64
	NumChanges      int64
	BuildingsNew    sql.NullInt64
	BuildingsEdited sql.NullInt64
	HighwaysNew     sql.NullInt64
	HighwaysEdited  sql.NullInt64
	AmenitiesNew    sql.NullInt64
	AmenitiesEdited sql.NullInt64
	FeaturesNew     sql.NullInt64
	FeaturesEdited  sql.NullInt64
	ChapterID       sql.NullInt64
	Chapter         sql.NullString
	ChapterCountry  sql.NullString
	A3              sql.NullString
	Country         sql.NullString
	CountryName     sql.NullString
	Region          sql.NullString
	Geometry        sql.NullString
}

// ReadRollup loads a daily rollup parquet file back into typed rows
// through an open DuckDB session.
func ReadRollup(ctx context.Context, session *duckdb.Session, filename string) ([]RollupRow, error) {
	q, err := queries.Load("aggregate.sql:rollup-rows")
	if err != nil {
		return nil, err
	}
	q = queries.Expand(q, map[string]string{"rollup": filename})

	rows, err := session.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(err, "reading daily rollup from %s", filename)
	}
	defer rows.Close()

	var result []RollupRow
	for rows.Next() {
		var r RollupRow
		if err := rows.Scan(
			&r.Day, &r.H3, &r.H3R5,
			&r.ChangesetCount, &r.NumChanges,
			&r.BuildingsNew, &r.BuildingsEdited,
			&r.HighwaysNew, &r.HighwaysEdited,
			&r.AmenitiesNew, &r.AmenitiesEdited,
			&r.FeaturesNew, &r.FeaturesEdited,
			&r.ChapterID, &r.Chapter, &r.ChapterCountry,
			&r.A3, &r.Country, &r.CountryName, &r.Region,
			&r.Geometry,
		); err != nil {
			return nil, errors.Wrap(err, "scanning rollup row")
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading daily rollup from %s", filename)
	}
	return result, nil
}

// values returns the row in CopySQL column order. The geometry is passed
// as EWKT so the type input function assigns the SRID.
func (r *RollupRow) values() []interface{} {
	return []interface{}{
		r.Day, r.H3, r.H3R5,
		r.ChangesetCount, r.NumChanges,
		nullInt(r.BuildingsNew), nullInt(r.BuildingsEdited),
		nullInt(r.HighwaysNew), nullInt(r.HighwaysEdited),
		nullInt(r.AmenitiesNew), nullInt(r.AmenitiesEdited),
		nullInt(r.FeaturesNew), nullInt(r.FeaturesEdited),
		nullInt(r.ChapterID),
		nullStr(r.Chapter), nullStr(r.ChapterCountry),
		nullStr(r.A3), nullStr(r.Country), nullStr(r.CountryName), nullStr(r.Region),
		ewkt(r.Geometry),
	}
}

func nullInt(v sql.NullInt64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Int64
}

func nullStr(v sql.NullString) interface{} {
	if !v.Valid {
		return nil
	}
	return v.String
}

func ewkt(wkt sql.NullString) interface{} {
	if !wkt.Valid {
		return nil
	}
	return "SRID=4326;" + wkt.String
}
