package duckdb

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity/log"
	"github.com/youthmappers/mapactivity/queries"
)

// Member is one entry of the latest roster snapshot.
type Member struct {
	UID      int64
	Username string
	Chapter  string
}

// Roster loads the latest roster snapshot keyed by uid. Runs on its own
// in-memory database so it does not touch the aggregation file.
func Roster(ctx context.Context, bucket, rosterPrefix, region string) (map[int64]Member, error) {
	session, err := Open(ctx, ":memory:", region)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	query, err := queries.Load("aggregate.sql:roster-ids")
	if err != nil {
		return nil, err
	}
	query = queries.Expand(query, map[string]string{
		"bucket":        bucket,
		"roster_prefix": rosterPrefix,
	})

	rows, err := session.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "reading roster")
	}
	defer rows.Close()

	members := map[int64]Member{}
	for rows.Next() {
		var m Member
		var username, chapter sql.NullString
		if err := rows.Scan(&m.UID, &username, &chapter); err != nil {
			return nil, errors.Wrap(err, "scanning roster member")
		}
		m.Username = username.String
		m.Chapter = chapter.String
		members[m.UID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading roster")
	}

	log.Printf("[info] roster has %d members", len(members))
	return members, nil
}
