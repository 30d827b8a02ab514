package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity"
	"github.com/youthmappers/mapactivity/athena"
	"github.com/youthmappers/mapactivity/config"
	"github.com/youthmappers/mapactivity/database/postgis"
	"github.com/youthmappers/mapactivity/duckdb"
	"github.com/youthmappers/mapactivity/log"
	"github.com/youthmappers/mapactivity/partition"
	"github.com/youthmappers/mapactivity/pipeline"
	"github.com/youthmappers/mapactivity/preview"
	"github.com/youthmappers/mapactivity/publish"
	"github.com/youthmappers/mapactivity/stats"
	"github.com/youthmappers/mapactivity/tiles"
)

func PrintCmds() {
	fmt.Fprintf(os.Stderr, "Usage: %s COMMAND [args]\n\n", os.Args[0])
	fmt.Println("Available commands:")
	fmt.Println("\tfetch")
	fmt.Println("\taggregate")
	fmt.Println("\ttiles")
	fmt.Println("\tpublish")
	fmt.Println("\trun")
	fmt.Println("\tpreview")
	fmt.Println("\tdeploy-rollup")
	fmt.Println("\tversion")
}

func Main(usage func()) {
	if len(os.Args) <= 1 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "fetch":
		config.ParseFetch(os.Args[2:])
		setup()
		if err := fetch(ctx, awsSession(ctx)); err != nil {
			log.Fatalf("[fatal] fetch failed: %+v", err)
		}
	case "aggregate":
		config.ParseAggregate(os.Args[2:])
		setup()
		if _, err := aggregate(ctx, awsSession(ctx)); err != nil {
			log.Fatalf("[fatal] aggregate failed: %+v", err)
		}
	case "tiles":
		config.ParseTiles(os.Args[2:])
		setup()
		if err := buildTiles(ctx); err != nil {
			log.Fatalf("[fatal] tiles failed: %+v", err)
		}
	case "publish":
		config.ParsePublish(os.Args[2:])
		setup()
		if _, err := publishArtifacts(ctx, awsSession(ctx)); err != nil {
			log.Fatalf("[fatal] publish failed: %+v", err)
		}
	case "run":
		config.ParseRun(os.Args[2:])
		setup()
		if err := run(ctx); err != nil {
			log.Fatalf("[fatal] run failed: %+v", err)
		}
	case "preview":
		config.ParsePreview(os.Args[2:])
		setup()
		if err := runPreview(ctx); err != nil {
			log.Fatalf("[fatal] preview failed: %+v", err)
		}
	case "deploy-rollup":
		config.ParseDeployRollup(os.Args[2:])
		setup()
		if err := deployRollup(ctx); err != nil {
			log.Fatalf("[fatal] deploy-rollup failed: %+v", err)
		}
	case "version":
		fmt.Println(mapactivity.Version)
		os.Exit(0)
	default:
		usage()
		log.Fatalf("invalid command: '%s'", os.Args[1])
	}
	os.Exit(0)
}

func setup() {
	if config.BaseOptions.Quiet {
		log.SetMinLevel(log.LWarn)
	}
	if config.BaseOptions.Httpprofile != "" {
		stats.StartHttpPProf(config.BaseOptions.Httpprofile)
	}
}

func awsSession(ctx context.Context) aws.Config {
	awscfg, err := athena.NewSession(ctx, config.BaseOptions.Region, config.BaseOptions.Role)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	return awscfg
}

func fetch(ctx context.Context, awscfg aws.Config) error {
	return athena.Fetch(ctx, awscfg, athena.Config{
		Bucket:           config.BaseOptions.Bucket,
		Database:         config.FetchOptions.Database,
		Workgroup:        config.FetchOptions.Workgroup,
		OutputLocation:   config.FetchOptions.OutputLocation,
		RosterPrefix:     config.FetchOptions.RosterPrefix,
		ChangesetsPrefix: config.FetchOptions.ChangesetsPrefix,
	})
}

func aggregate(ctx context.Context, awscfg aws.Config) (string, error) {
	return duckdb.Aggregate(ctx, s3.NewFromConfig(awscfg), duckdb.Config{
		Bucket:           config.BaseOptions.Bucket,
		Region:           config.BaseOptions.Region,
		DatabasePath:     config.AggregateOptions.DatabasePath,
		OutputDir:        config.BaseOptions.OutputDir,
		CacheDir:         config.BaseOptions.CacheDir,
		CountriesFile:    config.AggregateOptions.CountriesFile,
		ChangesetsPrefix: config.FetchOptions.ChangesetsPrefix,
		RosterPrefix:     config.FetchOptions.RosterPrefix,
		NoFetch:          config.AggregateOptions.NoFetch,
	})
}

func buildTiles(ctx context.Context) error {
	conf, err := tiles.FromFile(config.TilesOptions.LayersFile)
	if err != nil {
		return err
	}
	return tiles.Build(ctx, conf, config.BaseOptions.OutputDir)
}

func publishArtifacts(ctx context.Context, awscfg aws.Config) ([]publish.Upload, error) {
	marker, err := partition.ParseMarker(config.BaseOptions.CacheDir)
	if err != nil {
		return nil, errors.Wrap(err, "no pinned partition, run aggregate first")
	}
	return publish.Publish(ctx,
		s3.NewFromConfig(awscfg),
		cloudfront.NewFromConfig(awscfg),
		marker.Partition,
		publish.Config{
			Bucket:          config.BaseOptions.Bucket,
			DashboardPrefix: config.PublishOptions.DashboardPrefix,
			Distribution:    config.PublishOptions.Distribution,
			OutputDir:       config.BaseOptions.OutputDir,
			NoInvalidate:    config.PublishOptions.NoInvalidate,
		})
}

func run(ctx context.Context) error {
	if config.RunOptions.Schedule != "" {
		log.Printf("[info] scheduling pipeline runs: %s", config.RunOptions.Schedule)
		scheduler := pipeline.NewScheduler(config.RunOptions.Schedule, runOnce)
		return scheduler.Start(ctx)
	}
	return runOnce(ctx)
}

// runOnce executes the full pipeline and records the run manifest, also
// for failed runs.
func runOnce(ctx context.Context) error {
	awscfg, err := athena.NewSession(ctx, config.BaseOptions.Region, config.BaseOptions.Role)
	if err != nil {
		return err
	}

	var ds string
	var uploads []publish.Upload

	manifest, runErr := pipeline.Sequence(ctx,
		pipeline.NewStep("fetch", func(ctx context.Context) error {
			return fetch(ctx, awscfg)
		}),
		pipeline.NewStep("aggregate", func(ctx context.Context) (err error) {
			ds, err = aggregate(ctx, awscfg)
			return err
		}),
		pipeline.NewStep("tiles", buildTiles),
		pipeline.NewStep("publish", func(ctx context.Context) (err error) {
			uploads, err = publishArtifacts(ctx, awscfg)
			return err
		}),
	)
	manifest.Partition = ds
	manifest.Uploads = uploads
	if err := manifest.Write(config.BaseOptions.CacheDir); err != nil {
		log.Printf("[error] writing run manifest: %v", err)
	}
	return runErr
}

func runPreview(ctx context.Context) error {
	members, err := duckdb.Roster(ctx,
		config.BaseOptions.Bucket,
		config.FetchOptions.RosterPrefix,
		config.BaseOptions.Region)
	if err != nil {
		return err
	}
	report, err := preview.Run(ctx, members, preview.Config{
		ReplicationURL: config.PreviewOptions.ReplicationURL,
		CacheDir:       config.BaseOptions.CacheDir,
		Backfill:       config.PreviewOptions.Backfill,
	})
	if err != nil {
		return err
	}
	output := config.PreviewOptions.Output
	if output == "-" {
		output = ""
	}
	return report.Write(output)
}

func deployRollup(ctx context.Context) error {
	pg, err := postgis.New(postgis.Config{
		Connection:       config.DeployOptions.Connection,
		ImportSchema:     config.DeployOptions.Schemas.Import,
		ProductionSchema: config.DeployOptions.Schemas.Production,
		BackupSchema:     config.DeployOptions.Schemas.Backup,
	})
	if err != nil {
		return err
	}
	defer pg.Close()

	if config.DeployOptions.RevertDeploy {
		return pg.RevertDeploy()
	}
	if config.DeployOptions.RemoveBackup {
		return pg.RemoveBackup()
	}

	session, err := duckdb.Open(ctx, ":memory:", config.BaseOptions.Region)
	if err != nil {
		return err
	}
	defer session.Close()

	if _, err := pg.ImportRollup(ctx, session, config.DeployOptions.RollupFile); err != nil {
		return err
	}
	return pg.Deploy()
}

func main() {
	Main(PrintCmds)
}
