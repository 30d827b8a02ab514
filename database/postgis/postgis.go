// Package postgis mirrors the daily rollup into a PostGIS database. The
// rollup is loaded into a fresh table under an import schema and deployed by
// rotating the table into the production schema, so consumers never see a
// half-loaded state.
package postgis

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/youthmappers/mapactivity/duckdb"
	"github.com/youthmappers/mapactivity/log"
)

type SQLError struct {
	query         string
	originalError error
}

func (e *SQLError) Error() string {
	return fmt.Sprintf("SQL Error: %s in query %s", e.originalError.Error(), e.query)
}

type SQLInsertError struct {
	SQLError
	data interface{}
}

func (e *SQLInsertError) Error() string {
	return fmt.Sprintf("SQL Error: %s in query %s (%+v)", e.originalError.Error(), e.query, e.data)
}

type columnSpec struct {
	Name string
	Type string
}

type tableSpec struct {
	Name           string
	Columns        []columnSpec
	GeometryColumn string
	GeometryType   string
	Srid           int
}

var rollupTable = tableSpec{
	Name: "activity_rollup",
	Columns: []columnSpec{
		{"day", "DATE NOT NULL"},
		{"h3", "TEXT NOT NULL"},
		{"h3_r5", "TEXT NOT NULL"},
		{"changeset_count", "BIGINT NOT NULL"},
		{"num_changes", "BIGINT NOT NULL"},
		{"buildings_new", "BIGINT"},
		{"buildings_edited", "BIGINT"},
		{"highways_new", "BIGINT"},
		{"highways_edited", "BIGINT"},
		{"amenities_new", "BIGINT"},
		{"amenities_edited", "BIGINT"},
		{"features_new", "BIGINT"},
		{"features_edited", "BIGINT"},
		{"chapter_id", "BIGINT"},
		{"chapter", "TEXT"},
		{"chapter_country", "TEXT"},
		{"a3", "TEXT"},
		{"country", "TEXT"},
		{"country_name", "TEXT"},
		{"region", "TEXT"},
	},
	GeometryColumn: "geometry",
	GeometryType:   "POINT",
	Srid:           4326,
}

func (spec *tableSpec) CreateTableSQL(schema string) string {
	cols := []string{
		"id SERIAL PRIMARY KEY",
	}
	for _, col := range spec.Columns {
		cols = append(cols, fmt.Sprintf("\"%s\" %s", col.Name, col.Type))
	}
	columnSQL := strings.Join(cols, ",\n")
	return fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS "%s"."%s" (
            %s
        );`,
		schema,
		spec.Name,
		columnSQL,
	)
}

// CopySQL lists the geometry column last, matching RollupRow.values.
func (spec *tableSpec) CopySQL(schema string) string {
	var cols []string
	for _, col := range spec.Columns {
		cols = append(cols, "\""+col.Name+"\"")
	}
	cols = append(cols, "\""+spec.GeometryColumn+"\"")
	columns := strings.Join(cols, ", ")

	return fmt.Sprintf(`COPY "%s"."%s" (%s) FROM STDIN`,
		schema,
		spec.Name,
		columns,
	)
}

type Config struct {
	Connection       string
	ImportSchema     string
	ProductionSchema string
	BackupSchema     string
}

type PostGIS struct {
	Db     *sql.DB
	Params string
	Config Config
}

// New parses a postgis:// or postgres:// connection string and opens the
// database. Empty schemas default to import/public/backup.
func New(conf Config) (*PostGIS, error) {
	if conf.ImportSchema == "" {
		conf.ImportSchema = "import"
	}
	if conf.ProductionSchema == "" {
		conf.ProductionSchema = "public"
	}
	if conf.BackupSchema == "" {
		conf.BackupSchema = "backup"
	}
	params, err := connectionParams(conf.Connection)
	if err != nil {
		return nil, err
	}
	pg := &PostGIS{
		Params: params,
		Config: conf,
	}
	if err := pg.Open(); err != nil {
		return nil, err
	}
	return pg, nil
}

func (pg *PostGIS) Open() error {
	var err error

	pg.Db, err = sql.Open("postgres", pg.Params)
	if err != nil {
		return err
	}
	// check that the connection actually works
	err = pg.Db.Ping()
	if err != nil {
		return err
	}
	return nil
}

func (pg *PostGIS) Close() error {
	return pg.Db.Close()
}

func (pg *PostGIS) createSchema(schema string) error {
	var sql string
	var err error

	if schema == "public" {
		return nil
	}

	sql = fmt.Sprintf("SELECT EXISTS(SELECT schema_name FROM information_schema.schemata WHERE schema_name = '%s');",
		schema)
	row := pg.Db.QueryRow(sql)
	var exists bool
	err = row.Scan(&exists)
	if err != nil {
		return &SQLError{sql, err}
	}
	if exists {
		return nil
	}

	sql = fmt.Sprintf("CREATE SCHEMA \"%s\"", schema)
	_, err = pg.Db.Exec(sql)
	if err != nil {
		return &SQLError{sql, err}
	}
	return nil
}

func addGeometryColumn(tx *sql.Tx, schema string, spec tableSpec) error {
	sql := fmt.Sprintf("SELECT AddGeometryColumn('%s', '%s', '%s', '%d', '%s', 2);",
		schema, spec.Name, spec.GeometryColumn, spec.Srid, spec.GeometryType)
	row := tx.QueryRow(sql)
	var void interface{}
	err := row.Scan(&void)
	if err != nil {
		return &SQLError{sql, err}
	}
	return nil
}

// Init creates the import schema and a fresh rollup table, dropping
// existing data.
func (pg *PostGIS) Init() error {
	if err := pg.createSchema(pg.Config.ImportSchema); err != nil {
		return err
	}

	tx, err := pg.Db.Begin()
	if err != nil {
		return err
	}
	defer rollbackIfTx(&tx)

	if err := dropTableIfExists(tx, pg.Config.ImportSchema, rollupTable.Name); err != nil {
		return err
	}
	sql := rollupTable.CreateTableSQL(pg.Config.ImportSchema)
	if _, err := tx.Exec(sql); err != nil {
		return &SQLError{sql, err}
	}
	if err := addGeometryColumn(tx, pg.Config.ImportSchema, rollupTable); err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return err
	}
	tx = nil
	return nil
}

// ImportRollup reads the exported daily rollup through an open DuckDB
// session and bulk-loads it into the import schema.
func (pg *PostGIS) ImportRollup(ctx context.Context, session *duckdb.Session, filename string) (int, error) {
	defer log.Step("Importing daily rollup into PostGIS")()

	rows, err := ReadRollup(ctx, session, filename)
	if err != nil {
		return 0, err
	}
	if err := pg.Init(); err != nil {
		return 0, err
	}

	tx, err := pg.Db.Begin()
	if err != nil {
		return 0, err
	}
	defer rollbackIfTx(&tx)

	copySQL := rollupTable.CopySQL(pg.Config.ImportSchema)
	stmt, err := tx.Prepare(copySQL)
	if err != nil {
		return 0, &SQLError{copySQL, err}
	}
	for i := range rows {
		if _, err := stmt.Exec(rows[i].values()...); err != nil {
			return 0, &SQLInsertError{SQLError{copySQL, err}, rows[i]}
		}
	}
	// an Exec without arguments flushes the COPY
	if _, err := stmt.Exec(); err != nil {
		return 0, &SQLError{copySQL, err}
	}
	if err := stmt.Close(); err != nil {
		return 0, err
	}

	err = tx.Commit()
	if err != nil {
		return 0, err
	}
	tx = nil

	if err := pg.finishImport(); err != nil {
		return 0, err
	}
	log.Printf("[info] imported %d rollup rows into \"%s\".\"%s\"",
		len(rows), pg.Config.ImportSchema, rollupTable.Name)
	return len(rows), nil
}

// finishImport creates the indices the rollup consumers query on and
// analyses the fresh table.
func (pg *PostGIS) finishImport() error {
	defer log.Step("Creating rollup indices")()

	tableName := rollupTable.Name
	stmts := []string{
		fmt.Sprintf(`CREATE INDEX "%s_geom" ON "%s"."%s" USING GIST ("%s")`,
			tableName, pg.Config.ImportSchema, tableName, rollupTable.GeometryColumn),
		fmt.Sprintf(`CREATE INDEX "%s_day_idx" ON "%s"."%s" USING BTREE ("day")`,
			tableName, pg.Config.ImportSchema, tableName),
		fmt.Sprintf(`ANALYSE "%s"."%s"`, pg.Config.ImportSchema, tableName),
	}
	for _, sql := range stmts {
		if _, err := pg.Db.Exec(sql); err != nil {
			return &SQLError{sql, err}
		}
	}
	return nil
}
