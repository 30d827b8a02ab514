package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
)

// Config is the optional JSON configuration file. Values from the file are
// applied only where the corresponding flag was left at its default.
type Config struct {
	Region          string  `json:"region"`
	Role            string  `json:"role"`
	Bucket          string  `json:"bucket"`
	CacheDir        string  `json:"cachedir"`
	OutputDir       string  `json:"outputdir"`
	Database        string  `json:"database"`
	Workgroup       string  `json:"workgroup"`
	OutputLocation  string  `json:"output_location"`
	LayersFile      string  `json:"layers"`
	Distribution    string  `json:"distribution"`
	Connection      string  `json:"connection"`
	ReplicationURL  string  `json:"replication_url"`
	CountriesFile   string  `json:"countries"`
	DashboardPrefix string  `json:"dashboard_prefix"`
	Schemas         Schemas `json:"schemas"`
}

type Schemas struct {
	Import     string `json:"import"`
	Production string `json:"production"`
	Backup     string `json:"backup"`
}

const defaultBucket = "youthmappers-internal-us-east1"
const defaultCacheDir = "/tmp/mapactivity"
const defaultOutputDir = "output"
const defaultLayersFile = "layers.yml"
const defaultCountriesFile = "ne_adm0.parquet"
const defaultDatabasePath = "ym.ddb"
const defaultDashboardPrefix = "activity-dashboard/"
const defaultRosterPrefix = "mappers/"
const defaultChangesetsPrefix = "youthmappers_changesets/"
const defaultReplicationURL = "https://planet.openstreetmap.org/replication/changesets/"
const defaultSchemaImport = "import"
const defaultSchemaProduction = "public"
const defaultSchemaBackup = "backup"

// Environment defaults, resolved once at startup.
var defaultRegion = envDefault("YOUTHMAPPERS_AWS_REGION", "us-east-1")
var defaultRole = envDefault("YOUTHMAPPERS_AWS_ROLE", "")
var defaultAthenaDatabase = envDefault("YOUTHMAPPERS_ATHENA_DATABASE", "youthmappers")
var defaultAthenaWorkgroup = envDefault("YOUTHMAPPERS_ATHENA_WORKGROUP", "youthmappers")
var defaultAthenaOutput = envDefault("YOUTHMAPPERS_ATHENA_OUTPUT_LOCATION",
	"s3://youthmappers-internal-us-east1/athena-results/")
var defaultDistribution = envDefault("YOUTHMAPPERS_CDN_DISTRIBUTION", "")

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var FetchFlags = flag.NewFlagSet("fetch", flag.ExitOnError)
var AggregateFlags = flag.NewFlagSet("aggregate", flag.ExitOnError)
var TilesFlags = flag.NewFlagSet("tiles", flag.ExitOnError)
var PublishFlags = flag.NewFlagSet("publish", flag.ExitOnError)
var RunFlags = flag.NewFlagSet("run", flag.ExitOnError)
var PreviewFlags = flag.NewFlagSet("preview", flag.ExitOnError)
var DeployFlags = flag.NewFlagSet("deploy-rollup", flag.ExitOnError)

type _BaseOptions struct {
	Region      string
	Role        string
	Bucket      string
	CacheDir    string
	OutputDir   string
	ConfigFile  string
	Httpprofile string
	Quiet       bool
}

func (o *_BaseOptions) updateFromConfig() (*Config, error) {
	conf := &Config{}

	if o.ConfigFile != "" {
		f, err := os.Open(o.ConfigFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		decoder := json.NewDecoder(f)

		if err := decoder.Decode(&conf); err != nil {
			return nil, err
		}
	}

	if conf.Region != "" && o.Region == defaultRegion {
		o.Region = conf.Region
	}
	if conf.Role != "" && o.Role == defaultRole {
		o.Role = conf.Role
	}
	if conf.Bucket != "" && o.Bucket == defaultBucket {
		o.Bucket = conf.Bucket
	}
	if conf.CacheDir != "" && o.CacheDir == defaultCacheDir {
		o.CacheDir = conf.CacheDir
	}
	if conf.OutputDir != "" && o.OutputDir == defaultOutputDir {
		o.OutputDir = conf.OutputDir
	}
	return conf, nil
}

func (o *_BaseOptions) check() []error {
	errs := []error{}
	if o.Region == "" {
		errs = append(errs, errors.New("missing -region"))
	}
	if o.Bucket == "" {
		errs = append(errs, errors.New("missing -bucket"))
	}
	return errs
}

type _FetchOptions struct {
	Database         string
	Workgroup        string
	OutputLocation   string
	RosterPrefix     string
	ChangesetsPrefix string
}

func (o *_FetchOptions) updateFromConfig(conf *Config) {
	if conf.Database != "" && o.Database == defaultAthenaDatabase {
		o.Database = conf.Database
	}
	if conf.Workgroup != "" && o.Workgroup == defaultAthenaWorkgroup {
		o.Workgroup = conf.Workgroup
	}
	if conf.OutputLocation != "" && o.OutputLocation == defaultAthenaOutput {
		o.OutputLocation = conf.OutputLocation
	}
}

func (o *_FetchOptions) check() []error {
	errs := []error{}
	if !strings.HasPrefix(o.OutputLocation, "s3://") {
		errs = append(errs, errors.New("-output-location must be an s3:// url"))
	}
	if o.Database == "" {
		errs = append(errs, errors.New("missing -database"))
	}
	return errs
}

type _AggregateOptions struct {
	DatabasePath  string
	CountriesFile string
	NoFetch       bool
}

type _TilesOptions struct {
	LayersFile string
}

type _PublishOptions struct {
	Distribution    string
	DashboardPrefix string
	NoInvalidate    bool
}

func (o *_PublishOptions) updateFromConfig(conf *Config) {
	if conf.Distribution != "" && o.Distribution == defaultDistribution {
		o.Distribution = conf.Distribution
	}
	if conf.DashboardPrefix != "" && o.DashboardPrefix == defaultDashboardPrefix {
		o.DashboardPrefix = conf.DashboardPrefix
	}
}

func (o *_PublishOptions) check() []error {
	errs := []error{}
	if o.Distribution == "" && !o.NoInvalidate {
		errs = append(errs, errors.New("missing -distribution (or use -no-invalidate)"))
	}
	return errs
}

type _RunOptions struct {
	Schedule string
}

type _PreviewOptions struct {
	ReplicationURL string
	Backfill       int
	Output         string
}

type _DeployOptions struct {
	Connection   string
	RollupFile   string
	Schemas      Schemas
	RevertDeploy bool
	RemoveBackup bool
}

func (o *_DeployOptions) check() []error {
	errs := []error{}
	if o.Connection == "" {
		errs = append(errs, errors.New("missing -connection"))
	}
	return errs
}

var BaseOptions = _BaseOptions{}
var FetchOptions = _FetchOptions{}
var AggregateOptions = _AggregateOptions{}
var TilesOptions = _TilesOptions{}
var PublishOptions = _PublishOptions{}
var RunOptions = _RunOptions{}
var PreviewOptions = _PreviewOptions{}
var DeployOptions = _DeployOptions{}

func addBaseFlags(flags *flag.FlagSet) {
	flags.StringVar(&BaseOptions.Region, "region", defaultRegion, "aws region")
	flags.StringVar(&BaseOptions.Role, "role", defaultRole, "aws role to assume (arn)")
	flags.StringVar(&BaseOptions.Bucket, "bucket", defaultBucket, "s3 bucket for datasets and artifacts")
	flags.StringVar(&BaseOptions.CacheDir, "cachedir", defaultCacheDir, "directory for partition marker and run manifest")
	flags.StringVar(&BaseOptions.OutputDir, "outputdir", defaultOutputDir, "directory for generated artifacts")
	flags.StringVar(&BaseOptions.ConfigFile, "config", "", "config (json)")
	flags.StringVar(&BaseOptions.Httpprofile, "httpprofile", "", "bind address for profile/metrics server")
	flags.BoolVar(&BaseOptions.Quiet, "quiet", false, "quiet log output")
}

func addFetchFlags(flags *flag.FlagSet) {
	flags.StringVar(&FetchOptions.Database, "database", defaultAthenaDatabase, "athena database")
	flags.StringVar(&FetchOptions.Workgroup, "workgroup", defaultAthenaWorkgroup, "athena workgroup")
	flags.StringVar(&FetchOptions.OutputLocation, "output-location", defaultAthenaOutput, "athena query result location")
	flags.StringVar(&FetchOptions.RosterPrefix, "roster-prefix", defaultRosterPrefix, "bucket prefix of the roster snapshots")
	flags.StringVar(&FetchOptions.ChangesetsPrefix, "changesets-prefix", defaultChangesetsPrefix, "bucket prefix of the unloaded changesets")
}

func addAggregateFlags(flags *flag.FlagSet) {
	flags.StringVar(&AggregateOptions.DatabasePath, "dbpath", defaultDatabasePath, "duckdb database path")
	flags.StringVar(&AggregateOptions.CountriesFile, "countries", defaultCountriesFile, "country polygons parquet file")
	flags.BoolVar(&AggregateOptions.NoFetch, "no-fetch", false, "skip remote fetch stages, reuse local tables")
}

func addTilesFlags(flags *flag.FlagSet) {
	flags.StringVar(&TilesOptions.LayersFile, "layers", defaultLayersFile, "tile layer definition file")
}

func addPublishFlags(flags *flag.FlagSet) {
	flags.StringVar(&PublishOptions.Distribution, "distribution", defaultDistribution, "cloudfront distribution id")
	flags.StringVar(&PublishOptions.DashboardPrefix, "dashboard-prefix", defaultDashboardPrefix, "bucket prefix for published artifacts")
	flags.BoolVar(&PublishOptions.NoInvalidate, "no-invalidate", false, "skip cdn invalidation")
}

func UsageFetch() {
	fmt.Fprintf(os.Stderr, "Usage: %s %s [args]\n\n", os.Args[0], os.Args[1])
	FetchFlags.PrintDefaults()
	os.Exit(2)
}

func UsageAggregate() {
	fmt.Fprintf(os.Stderr, "Usage: %s %s [args]\n\n", os.Args[0], os.Args[1])
	AggregateFlags.PrintDefaults()
	os.Exit(2)
}

func UsageTiles() {
	fmt.Fprintf(os.Stderr, "Usage: %s %s [args]\n\n", os.Args[0], os.Args[1])
	TilesFlags.PrintDefaults()
	os.Exit(2)
}

func UsagePublish() {
	fmt.Fprintf(os.Stderr, "Usage: %s %s [args]\n\n", os.Args[0], os.Args[1])
	PublishFlags.PrintDefaults()
	os.Exit(2)
}

func UsageRun() {
	fmt.Fprintf(os.Stderr, "Usage: %s %s [args]\n\n", os.Args[0], os.Args[1])
	RunFlags.PrintDefaults()
	os.Exit(2)
}

func UsagePreview() {
	fmt.Fprintf(os.Stderr, "Usage: %s %s [args]\n\n", os.Args[0], os.Args[1])
	PreviewFlags.PrintDefaults()
	os.Exit(2)
}

func UsageDeploy() {
	fmt.Fprintf(os.Stderr, "Usage: %s %s [args]\n\n", os.Args[0], os.Args[1])
	DeployFlags.PrintDefaults()
	os.Exit(2)
}

func init() {
	FetchFlags.Usage = UsageFetch
	AggregateFlags.Usage = UsageAggregate
	TilesFlags.Usage = UsageTiles
	PublishFlags.Usage = UsagePublish
	RunFlags.Usage = UsageRun
	PreviewFlags.Usage = UsagePreview
	DeployFlags.Usage = UsageDeploy

	addBaseFlags(FetchFlags)
	addFetchFlags(FetchFlags)

	addBaseFlags(AggregateFlags)
	addAggregateFlags(AggregateFlags)
	AggregateFlags.StringVar(&FetchOptions.ChangesetsPrefix, "changesets-prefix", defaultChangesetsPrefix, "bucket prefix of the unloaded changesets")
	AggregateFlags.StringVar(&FetchOptions.RosterPrefix, "roster-prefix", defaultRosterPrefix, "bucket prefix of the roster snapshots")

	addBaseFlags(TilesFlags)
	addTilesFlags(TilesFlags)

	addBaseFlags(PublishFlags)
	addPublishFlags(PublishFlags)

	addBaseFlags(RunFlags)
	addFetchFlags(RunFlags)
	addAggregateFlags(RunFlags)
	addTilesFlags(RunFlags)
	addPublishFlags(RunFlags)
	RunFlags.StringVar(&RunOptions.Schedule, "schedule", "", "cron expression, keeps running when set")

	addBaseFlags(PreviewFlags)
	PreviewFlags.StringVar(&PreviewOptions.ReplicationURL, "replication-url", defaultReplicationURL, "changeset replication base url")
	PreviewFlags.IntVar(&PreviewOptions.Backfill, "backfill", 60, "number of replication sequences to read")
	PreviewFlags.StringVar(&PreviewOptions.Output, "o", "-", "output file (- for stdout)")
	PreviewFlags.StringVar(&AggregateOptions.DatabasePath, "dbpath", defaultDatabasePath, "duckdb database path")
	PreviewFlags.StringVar(&FetchOptions.RosterPrefix, "roster-prefix", defaultRosterPrefix, "bucket prefix of the roster snapshots")

	addBaseFlags(DeployFlags)
	DeployFlags.StringVar(&DeployOptions.Connection, "connection", "", "postgis connection parameters")
	DeployFlags.StringVar(&DeployOptions.RollupFile, "rollup", "", "daily rollup parquet file (defaults to <outputdir>/daily_rollup.parquet)")
	DeployFlags.StringVar(&DeployOptions.Schemas.Import, "dbschema-import", defaultSchemaImport, "db schema for imports")
	DeployFlags.StringVar(&DeployOptions.Schemas.Production, "dbschema-production", defaultSchemaProduction, "db schema for production")
	DeployFlags.StringVar(&DeployOptions.Schemas.Backup, "dbschema-backup", defaultSchemaBackup, "db schema for backups")
	DeployFlags.BoolVar(&DeployOptions.RevertDeploy, "revert-deploy", false, "revert deploy to production")
	DeployFlags.BoolVar(&DeployOptions.RemoveBackup, "remove-backup", false, "remove backups from deploy")
}

func parse(flags *flag.FlagSet, usage func(), args []string, checks ...func() []error) {
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}
	conf, err := BaseOptions.updateFromConfig()
	if err != nil {
		log.Fatal(err)
	}
	FetchOptions.updateFromConfig(conf)
	PublishOptions.updateFromConfig(conf)
	if conf.LayersFile != "" && TilesOptions.LayersFile == defaultLayersFile {
		TilesOptions.LayersFile = conf.LayersFile
	}
	if conf.Connection != "" && DeployOptions.Connection == "" {
		DeployOptions.Connection = conf.Connection
	}
	if conf.ReplicationURL != "" && PreviewOptions.ReplicationURL == defaultReplicationURL {
		PreviewOptions.ReplicationURL = conf.ReplicationURL
	}
	if conf.CountriesFile != "" && AggregateOptions.CountriesFile == defaultCountriesFile {
		AggregateOptions.CountriesFile = conf.CountriesFile
	}
	if conf.Schemas.Import != "" && DeployOptions.Schemas.Import == defaultSchemaImport {
		DeployOptions.Schemas.Import = conf.Schemas.Import
	}
	if conf.Schemas.Production != "" && DeployOptions.Schemas.Production == defaultSchemaProduction {
		DeployOptions.Schemas.Production = conf.Schemas.Production
	}
	if conf.Schemas.Backup != "" && DeployOptions.Schemas.Backup == defaultSchemaBackup {
		DeployOptions.Schemas.Backup = conf.Schemas.Backup
	}

	errs := BaseOptions.check()
	for _, check := range checks {
		errs = append(errs, check()...)
	}
	if len(errs) != 0 {
		reportErrors(errs)
		usage()
	}
}

func ParseFetch(args []string) {
	parse(FetchFlags, UsageFetch, args, FetchOptions.check)
}

func ParseAggregate(args []string) {
	parse(AggregateFlags, UsageAggregate, args)
}

func ParseTiles(args []string) {
	parse(TilesFlags, UsageTiles, args)
}

func ParsePublish(args []string) {
	parse(PublishFlags, UsagePublish, args, PublishOptions.check)
}

func ParseRun(args []string) {
	parse(RunFlags, UsageRun, args, FetchOptions.check, PublishOptions.check)
}

func ParsePreview(args []string) {
	parse(PreviewFlags, UsagePreview, args)
}

func ParseDeployRollup(args []string) {
	parse(DeployFlags, UsageDeploy, args, DeployOptions.check)
	if DeployOptions.RollupFile == "" {
		DeployOptions.RollupFile = BaseOptions.OutputDir + "/daily_rollup.parquet"
	}
}

func reportErrors(errs []error) {
	fmt.Println("errors in config/options:")
	for _, err := range errs {
		fmt.Printf("\t%s\n", err)
	}
	os.Exit(1)
}
