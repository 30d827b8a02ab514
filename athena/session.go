// Package athena drives the catalog side of the pipeline: external table
// registration, Glue partition registration and the primary UNLOAD query
// that rewrites the changeset dataset restricted to roster members.
package athena

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity/log"
)

const roleSessionName = "changesets-fetcher-session"

// NewSession resolves the shared AWS configuration. With a role ARN the
// session assumes that role for one hour and refreshes it as needed; all
// service clients (Athena, Glue, S3, CloudFront) share the credentials.
func NewSession(ctx context.Context, region, role string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, errors.Wrap(err, "loading aws config")
	}

	if role != "" {
		log.Printf("[info] assuming role %s", role)
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), role,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = roleSessionName
				o.Duration = time.Hour
			})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return cfg, nil
}
