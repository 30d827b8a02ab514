package athena

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/youthmappers/mapactivity/log"
	"github.com/youthmappers/mapactivity/queries"
)

// Config carries the catalog-side settings of one run.
type Config struct {
	Bucket           string
	Database         string
	Workgroup        string
	OutputLocation   string
	RosterPrefix     string
	ChangesetsPrefix string
}

// tableBlocks are the external table definitions in queries/tables.sql.
var tableBlocks = []string{
	"osm-pds-changesets",
	"osm-pds-planet-history",
	"osm-pds-planet",
	"natural-earth-boundaries",
	"youthmappers-from-parquet",
}

// rosterTable is the Glue table backed by the roster snapshots.
const rosterTable = "youthmappers"

// Fetch runs the catalog side: ensure the database and external tables
// exist, register new roster partitions and UNLOAD the member changesets
// partitioned by ds.
func Fetch(ctx context.Context, awscfg aws.Config, conf Config) error {
	defer log.Step("Fetching member changesets")()

	runner := NewRunner(awscfg, conf.Database, conf.Workgroup, conf.OutputLocation)

	if err := createDatabase(ctx, runner, conf.Database); err != nil {
		return err
	}
	if err := createTables(ctx, runner, conf.Bucket); err != nil {
		return err
	}

	glueClient := glue.NewFromConfig(awscfg)
	s3Client := s3.NewFromConfig(awscfg)
	if _, err := RegisterPartitions(ctx, glueClient, s3Client,
		conf.Database, rosterTable, conf.Bucket, conf.RosterPrefix); err != nil {
		return err
	}

	if err := unloadChangesets(ctx, runner, conf); err != nil {
		return err
	}

	log.Printf("[info] queries scanned %.2f GB total",
		float64(runner.ScannedBytes())/1024/1024/1024)
	return nil
}

func createDatabase(ctx context.Context, r *Runner, database string) error {
	ex, err := r.StartWithoutDatabase(ctx, "create-database",
		"CREATE DATABASE IF NOT EXISTS "+database)
	if err != nil {
		return err
	}
	return r.Wait(ctx, ex)
}

func createTables(ctx context.Context, r *Runner, bucket string) error {
	defer log.Step("Registering external tables")()

	execs := make([]*Execution, 0, len(tableBlocks))
	for _, name := range tableBlocks {
		sql, err := queries.Load("tables.sql:" + name)
		if err != nil {
			return err
		}
		sql = queries.Expand(sql, map[string]string{"bucket": bucket})
		ex, err := r.Start(ctx, name, sql)
		if err != nil {
			return err
		}
		execs = append(execs, ex)
	}
	return r.Wait(ctx, execs...)
}

func unloadChangesets(ctx context.Context, r *Runner, conf Config) error {
	defer log.Step("Unloading member changesets")()

	sql, err := queries.Load("changesets.sql:unload")
	if err != nil {
		return err
	}
	return r.Run(ctx, "unload-changesets", UnloadSQL(sql, conf.Bucket, conf.ChangesetsPrefix))
}

// UnloadSQL wraps a select statement in an UNLOAD to the changeset dataset
// location, ZSTD Parquet partitioned by the emitted ds column.
func UnloadSQL(query, bucket, prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	return fmt.Sprintf(
		"UNLOAD (\n%s\n)\nTO 's3://%s/%s'\nWITH (format='PARQUET', compression='ZSTD', partitioned_by=ARRAY['ds'])",
		query, bucket, prefix)
}
