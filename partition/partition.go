// Package partition discovers the date partition ("ds") that versions one
// pipeline run. The producer writes date-stamped sub-prefixes to object
// storage; consumers read the latest value once at the start of a run, pin
// it, and reuse it for every downstream path.
package partition

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity/log"
)

// NotFoundError reports an empty partition prefix. This is a distinct,
// fatal condition: the pipeline must never fall back to a stale partition.
type NotFoundError struct {
	Bucket string
	Prefix string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no partitions found under s3://%s/%s", e.Bucket, e.Prefix)
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

// Lister is the part of the S3 API used for partition discovery.
type Lister interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// List returns all partition values below bucket/prefix in ascending order.
// Sub-prefixes of the forms "ds=2024-05-01/" and "2024-05-01/" are
// accepted, anything else is ignored.
func List(ctx context.Context, client Lister, bucket, prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var values []string
	var token *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "listing partitions of s3://%s/%s", bucket, prefix)
		}
		for _, cp := range out.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			if value, ok := parsePrefix(strings.TrimPrefix(*cp.Prefix, prefix)); ok {
				values = append(values, value)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Strings(values)
	return values, nil
}

// parsePrefix extracts the partition value from a single sub-prefix.
func parsePrefix(p string) (string, bool) {
	p = strings.TrimSuffix(p, "/")
	p = strings.TrimPrefix(p, "ds=")
	if _, err := time.Parse("2006-01-02", p); err != nil {
		return "", false
	}
	return p, true
}

// Latest returns the lexicographically maximal partition, which is the
// chronologically latest one for ISO formatted dates.
func Latest(ctx context.Context, client Lister, bucket, prefix string) (string, error) {
	values, err := List(ctx, client, bucket, prefix)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", &NotFoundError{Bucket: bucket, Prefix: prefix}
	}
	return values[len(values)-1], nil
}

// Pin discovers the latest partition and persists it to the marker file in
// cacheDir. Re-running without a new partition reselects the same value.
func Pin(ctx context.Context, client Lister, bucket, prefix, cacheDir string) (string, error) {
	latest, err := Latest(ctx, client, bucket, prefix)
	if err != nil {
		return "", err
	}

	if prev, err := ParseMarker(cacheDir); err == nil {
		if prev.Partition == latest {
			log.Printf("[info] partition %s unchanged since last run", latest)
		} else {
			log.Printf("[info] new partition %s (previous %s)", latest, prev.Partition)
		}
	}

	marker := &Marker{
		Partition: latest,
		Prefix:    fmt.Sprintf("s3://%s/%s", bucket, prefix),
		PinnedAt:  time.Now().UTC(),
	}
	if err := WriteMarker(cacheDir, marker); err != nil {
		return "", err
	}
	return latest, nil
}
