// Package queries holds the pipeline's SQL and loads single statements from
// named blocks. A block starts with a "-- BEGIN name" marker line and runs
// until the next "-- END" marker.
package queries

import (
	"embed"
	"strings"

	"github.com/pkg/errors"
)

//go:embed *.sql
var files embed.FS

// Load returns the statement for a query path. Supported forms:
//
//	"tables.sql"           whole file
//	"tables.sql:osm-pds-changesets"  single named block
func Load(queryPath string) (string, error) {
	filename := queryPath
	queryName := ""
	if idx := strings.Index(queryPath, ":"); idx >= 0 {
		filename = queryPath[:idx]
		queryName = queryPath[idx+1:]
	}

	content, err := files.ReadFile(filename)
	if err != nil {
		return "", errors.Wrapf(err, "reading sql file %s", filename)
	}
	if queryName == "" {
		return strings.TrimSpace(string(content)), nil
	}

	block, ok := findBlock(string(content), queryName)
	if !ok {
		return "", errors.Errorf(
			"query %q not found in %s, expected a block starting with '-- BEGIN %s'",
			queryName, filename, queryName)
	}
	return block, nil
}

func findBlock(content, name string) (string, bool) {
	begin1 := "-- BEGIN " + name
	begin2 := "--BEGIN " + name

	inBlock := false
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == begin1 || stripped == begin2 {
			inBlock = true
			continue
		}
		if inBlock && (strings.HasPrefix(stripped, "--END") || strings.HasPrefix(stripped, "-- END")) {
			break
		}
		if inBlock {
			lines = append(lines, line)
		}
	}

	block := strings.TrimSpace(strings.Join(lines, "\n"))
	if block == "" {
		return "", false
	}
	return block, true
}

// Names lists the block names defined in an embedded SQL file, in order.
func Names(filename string) ([]string, error) {
	content, err := files.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading sql file %s", filename)
	}
	var names []string
	for _, line := range strings.Split(string(content), "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "-- BEGIN ") {
			names = append(names, strings.TrimSpace(stripped[len("-- BEGIN "):]))
		} else if strings.HasPrefix(stripped, "--BEGIN ") {
			names = append(names, strings.TrimSpace(stripped[len("--BEGIN "):]))
		}
	}
	return names, nil
}

// Expand substitutes ${name} tokens. Unknown tokens are left untouched so
// that a missing variable shows up in the SQL error instead of vanishing.
func Expand(sql string, vars map[string]string) string {
	oldnew := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		oldnew = append(oldnew, "${"+name+"}", value)
	}
	return strings.NewReplacer(oldnew...).Replace(sql)
}
