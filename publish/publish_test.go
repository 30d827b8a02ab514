package publish

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeUploader struct {
	puts []*s3.PutObjectInput
}

func (f *fakeUploader) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, params)
	return &s3.PutObjectOutput{}, nil
}

type fakeInvalidator struct {
	batches []*cloudfront.CreateInvalidationInput
}

func (f *fakeInvalidator) CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error) {
	f.batches = append(f.batches, params)
	return &cloudfront.CreateInvalidationOutput{}, nil
}

func outputDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data-"+name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestPublish(t *testing.T) {
	dir := outputDir(t,
		"activity.json",
		"daily_rollup.parquet",
		"alltime_monthly.csv",
		"h3_fine.pmtiles",
		"cells_fine.geojsonl", // intermediate, stays local
		"ym.ddb",
	)
	uploader := &fakeUploader{}
	inv := &fakeInvalidator{}

	uploads, err := Publish(context.Background(), uploader, inv, "2024-05-03", Config{
		Bucket:          "bucket",
		DashboardPrefix: "activity-dashboard/",
		Distribution:    "E123",
		OutputDir:       dir,
	})
	if err != nil {
		t.Fatal(err)
	}

	wantKeys := []string{
		"activity-dashboard/ds=2024-05-03/activity.json",
		"activity-dashboard/ds=2024-05-03/alltime_monthly.csv",
		"activity-dashboard/ds=2024-05-03/daily_rollup.parquet",
		"activity-dashboard/ds=2024-05-03/h3_fine.pmtiles",
		"activity-dashboard/activity.json",
		"activity/daily_rollup.parquet",
	}
	if len(uploads) != len(wantKeys) {
		t.Fatalf("got %d uploads, want %d: %+v", len(uploads), len(wantKeys), uploads)
	}
	for i, want := range wantKeys {
		if uploads[i].Key != want {
			t.Errorf("upload %d: got key %q, want %q", i, uploads[i].Key, want)
		}
		if uploads[i].Bytes == 0 {
			t.Errorf("upload %d: no bytes recorded", i)
		}
	}
	for _, put := range uploader.puts {
		if strings.HasSuffix(*put.Key, ".geojsonl") || strings.HasSuffix(*put.Key, ".ddb") {
			t.Errorf("uploaded intermediate %s", *put.Key)
		}
	}

	if len(inv.batches) != 1 {
		t.Fatalf("got %d invalidations, want 1", len(inv.batches))
	}
	batch := inv.batches[0].InvalidationBatch
	if *batch.Paths.Quantity != 2 {
		t.Errorf("got %d paths, want 2", *batch.Paths.Quantity)
	}
	wantPaths := []string{"/activity-dashboard/activity.json", "/activity/daily_rollup.parquet"}
	for i, want := range wantPaths {
		if batch.Paths.Items[i] != want {
			t.Errorf("path %d: got %q, want %q", i, batch.Paths.Items[i], want)
		}
	}
	if *batch.CallerReference == "" {
		t.Error("empty caller reference")
	}
}

func TestPublishNoInvalidate(t *testing.T) {
	dir := outputDir(t, "activity.json", "daily_rollup.parquet")
	uploader := &fakeUploader{}
	inv := &fakeInvalidator{}

	_, err := Publish(context.Background(), uploader, inv, "2024-05-03", Config{
		Bucket:          "bucket",
		DashboardPrefix: "activity-dashboard/",
		Distribution:    "E123",
		OutputDir:       dir,
		NoInvalidate:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(inv.batches) != 0 {
		t.Errorf("unexpected invalidations: %d", len(inv.batches))
	}
}

func TestPublishMissingAlias(t *testing.T) {
	// no daily_rollup.parquet, the alias upload must fail
	dir := outputDir(t, "activity.json")
	uploader := &fakeUploader{}
	inv := &fakeInvalidator{}

	_, err := Publish(context.Background(), uploader, inv, "2024-05-03", Config{
		Bucket:          "bucket",
		DashboardPrefix: "activity-dashboard/",
		OutputDir:       dir,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "daily_rollup.parquet") {
		t.Errorf("error does not name the missing artifact: %v", err)
	}
	if len(inv.batches) != 0 {
		t.Errorf("invalidated after failed upload: %d", len(inv.batches))
	}
}

func TestKey(t *testing.T) {
	got := Key("activity-dashboard/", "2024-05-03", "activity.json")
	if got != "activity-dashboard/ds=2024-05-03/activity.json" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestContentType(t *testing.T) {
	for _, tt := range []struct {
		key  string
		want string
	}{
		{"a/activity.json", "application/json"},
		{"a/top_countries_90d.csv", "text/csv"},
		{"a/daily_rollup.parquet", "application/vnd.apache.parquet"},
		{"a/h3_fine.pmtiles", "application/octet-stream"},
	} {
		if got := contentType(tt.key); got != tt.want {
			t.Errorf("contentType(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
