// Package duckdb runs the local aggregation: it loads the unloaded
// changeset partition and the roster snapshots into a DuckDB database,
// aggregates them into anonymized rollups and exports the dashboard
// artifacts.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity/log"
)

// Session is a single DuckDB connection with the spatial and h3 extensions
// loaded and S3 access configured. All statements run on one connection so
// session settings apply throughout.
type Session struct {
	db   *sql.DB
	conn *sql.Conn
}

// Open connects to the database file and prepares it for the aggregation
// stages. Credentials for the S3 reads come from the default provider
// chain of the environment.
func Open(ctx context.Context, path, region string) (*Session, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening database %s", path)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting")
	}

	s := &Session{db: db, conn: conn}
	if err := s.init(ctx, region); err != nil {
		s.Close()
		return nil, err
	}
	log.Printf("[info] connected to DuckDB at %s", path)
	logCredentials()
	return s, nil
}

func (s *Session) init(ctx context.Context, region string) error {
	stmts := []string{
		"INSTALL spatial",
		"LOAD spatial",
		"INSTALL h3 FROM community",
		"LOAD h3",
		fmt.Sprintf("CREATE OR REPLACE SECRET pipeline_s3 (TYPE s3, PROVIDER credential_chain, REGION '%s')", region),
		fmt.Sprintf("SET s3_region='%s'", region),
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, stmt)
		}
	}
	return nil
}

// Exec runs a single statement, logging it under name.
func (s *Session) Exec(ctx context.Context, name, query string) error {
	log.Printf("[info] executing %s", name)
	log.Printf("[debug] %s", preview(query))
	if _, err := s.conn.ExecContext(ctx, query); err != nil {
		return errors.Wrapf(err, "executing %s", name)
	}
	return nil
}

// Query runs a row-returning statement on the session connection.
func (s *Session) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

func (s *Session) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return s.db.Close()
}

func preview(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) > 100 {
		return query[:100] + "..."
	}
	return query
}

func logCredentials() {
	log.Printf("[debug] AWS env: AWS_ACCESS_KEY_ID=%s AWS_SECRET_ACCESS_KEY=%s AWS_SESSION_TOKEN=%s",
		maskCredential(os.Getenv("AWS_ACCESS_KEY_ID")),
		maskCredential(os.Getenv("AWS_SECRET_ACCESS_KEY")),
		maskCredential(os.Getenv("AWS_SESSION_TOKEN")))
}

// maskCredential keeps enough of a credential to recognize it in logs
// without disclosing it.
func maskCredential(value string) string {
	if value == "" {
		return "<unset>"
	}
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
