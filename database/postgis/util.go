package postgis

import (
	"database/sql"
	"fmt"
	"strings"

	pq "github.com/lib/pq"

	"github.com/youthmappers/mapactivity/log"
)

// connectionParams turns a postgis:// or postgres:// connection string into
// libpq parameters. Plain parameter strings are passed through.
func connectionParams(connection string) (string, error) {
	if strings.HasPrefix(connection, "postgis://") {
		connection = strings.Replace(connection, "postgis", "postgres", 1)
	}
	params := connection
	if strings.HasPrefix(connection, "postgres://") {
		var err error
		params, err = pq.ParseURL(connection)
		if err != nil {
			return "", err
		}
	}
	return disableDefaultSsl(params), nil
}

func disableDefaultSsl(params string) string {
	if strings.Contains(params, "sslmode=") {
		return params
	}
	return strings.TrimSpace(params + " sslmode=disable")
}

func tableExists(tx *sql.Tx, schema, table string) (bool, error) {
	var exists bool
	sql := fmt.Sprintf(`SELECT EXISTS(SELECT * FROM information_schema.tables WHERE table_name='%s' AND table_schema='%s')`,
		table, schema)
	row := tx.QueryRow(sql)
	err := row.Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func dropTableIfExists(tx *sql.Tx, schema, table string) error {
	sql := fmt.Sprintf("SELECT DropGeometryTable('%s', '%s');",
		schema, table)
	row := tx.QueryRow(sql)
	var void interface{}
	err := row.Scan(&void)
	if err != nil {
		return &SQLError{sql, err}
	}
	return nil
}

func rollbackIfTx(tx **sql.Tx) {
	if *tx != nil {
		if err := (*tx).Rollback(); err != nil {
			log.Fatal("rollback failed", err)
		}
	}
}
