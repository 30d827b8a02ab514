// Package publish uploads the generated artifacts to object storage under
// the partition-stamped dashboard prefix and refreshes the CDN aliases.
package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity/log"
	"github.com/youthmappers/mapactivity/stats"
)

// rollupAlias is the stable key of the anonymized rollup, kept outside the
// dashboard prefix for consumers that only read the table.
const rollupAlias = "activity/daily_rollup.parquet"

// Uploader is the part of the S3 API used for publication.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Invalidator is the part of the CloudFront API used for cache purges.
type Invalidator interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// Config carries the publication settings of one run.
type Config struct {
	Bucket          string
	DashboardPrefix string
	Distribution    string
	OutputDir       string
	NoInvalidate    bool
}

// Upload records one published object for the run manifest.
type Upload struct {
	Key   string `json:"key"`
	Bytes int64  `json:"bytes"`
}

// Publish uploads all artifacts from the output directory to the
// partition-stamped prefix, refreshes the two latest aliases and purges
// their CDN cache entries. Partition-stamped keys are immutable, so only
// the aliases are invalidated. A partial failure leaves earlier uploads in
// place; the next run overwrites them.
func Publish(ctx context.Context, uploader Uploader, inv Invalidator, ds string, conf Config) ([]Upload, error) {
	defer log.Step("Publishing artifacts")()

	names, err := listArtifacts(conf.OutputDir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no artifacts in %s", conf.OutputDir)
	}

	var uploads []Upload
	for _, name := range names {
		key := Key(conf.DashboardPrefix, ds, name)
		n, err := upload(ctx, uploader, conf.Bucket, key, filepath.Join(conf.OutputDir, name))
		if err != nil {
			return uploads, err
		}
		uploads = append(uploads, Upload{Key: key, Bytes: n})
	}

	for _, alias := range aliases(conf.DashboardPrefix) {
		n, err := upload(ctx, uploader, conf.Bucket, alias.key, filepath.Join(conf.OutputDir, alias.name))
		if err != nil {
			return uploads, err
		}
		uploads = append(uploads, Upload{Key: alias.key, Bytes: n})
	}

	if conf.NoInvalidate || conf.Distribution == "" {
		log.Printf("[info] skipping CDN invalidation")
		return uploads, nil
	}
	if err := invalidateAliases(ctx, inv, conf.Distribution, conf.DashboardPrefix); err != nil {
		return uploads, err
	}
	return uploads, nil
}

// Key returns the partition-stamped object key of an artifact.
func Key(prefix, ds, name string) string {
	return prefix + "ds=" + ds + "/" + name
}

type alias struct {
	name string
	key  string
}

func aliases(prefix string) []alias {
	return []alias{
		{"activity.json", prefix + "activity.json"},
		{"daily_rollup.parquet", rollupAlias},
	}
}

// InvalidationPaths are the CDN paths purged after publication, exactly
// the two latest aliases.
func InvalidationPaths(prefix string) []string {
	return []string{
		"/" + prefix + "activity.json",
		"/" + rollupAlias,
	}
}

// publishExt are the published artifact types. GeoJSON intermediates and
// the database file stay local.
var publishExt = map[string]bool{
	".json":    true,
	".csv":     true,
	".parquet": true,
	".pmtiles": true,
}

func listArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !publishExt[filepath.Ext(e.Name())] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func upload(ctx context.Context, uploader Uploader, bucket, key, filename string) (int64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}

	_, err = uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType(key)),
	})
	if err != nil {
		return 0, errors.Wrapf(err, "uploading %s", key)
	}

	stats.ArtifactsPublished.Inc()
	stats.ArtifactBytes.Add(float64(stat.Size()))
	log.Printf("[info] uploaded s3://%s/%s (%.1f kB)", bucket, key, float64(stat.Size())/1024)
	return stat.Size(), nil
}

func invalidateAliases(ctx context.Context, client Invalidator, distribution, prefix string) error {
	paths := InvalidationPaths(prefix)
	ref := fmt.Sprintf("mapactivity-%d", time.Now().UnixNano())

	_, err := client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(distribution),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(ref),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "invalidating CDN cache")
	}
	log.Printf("[info] invalidated %s", strings.Join(paths, ", "))
	return nil
}

func contentType(key string) string {
	switch filepath.Ext(key) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".parquet":
		return "application/vnd.apache.parquet"
	}
	return "application/octet-stream"
}
