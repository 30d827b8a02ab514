package athena

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity/log"
	"github.com/youthmappers/mapactivity/stats"
)

// API is the part of the Athena service used by the runner.
type API interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
}

// QueryError is a failed or cancelled query execution.
type QueryError struct {
	Name   string
	State  string
	Reason string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s %s: %s", e.Name, e.State, e.Reason)
}

// Execution is one submitted query.
type Execution struct {
	ID   string
	Name string
}

// Runner submits queries and polls for their completion. Safe for
// sequential use by a single run; scanned bytes accumulate per runner.
type Runner struct {
	client         API
	database       string
	workgroup      string
	outputLocation string
	pollMin        time.Duration
	pollMax        time.Duration
	scannedBytes   int64
}

func NewRunner(cfg aws.Config, database, workgroup, outputLocation string) *Runner {
	return &Runner{
		client:         athena.NewFromConfig(cfg),
		database:       database,
		workgroup:      workgroup,
		outputLocation: outputLocation,
		pollMin:        time.Second,
		pollMax:        10 * time.Second,
	}
}

// Start submits a query in the runner's database context.
func (r *Runner) Start(ctx context.Context, name, query string) (*Execution, error) {
	return r.start(ctx, name, query, r.database)
}

// StartWithoutDatabase submits a query without a database context, for
// statements like CREATE DATABASE that must not depend on one.
func (r *Runner) StartWithoutDatabase(ctx context.Context, name, query string) (*Execution, error) {
	return r.start(ctx, name, query, "")
}

func (r *Runner) start(ctx context.Context, name, query, database string) (*Execution, error) {
	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(query),
		WorkGroup:   aws.String(r.workgroup),
		ResultConfiguration: &types.ResultConfiguration{
			OutputLocation: aws.String(r.outputLocation),
		},
	}
	if database != "" {
		input.QueryExecutionContext = &types.QueryExecutionContext{
			Database: aws.String(database),
		}
	}

	log.Printf("[info] starting query %s", name)
	out, err := r.client.StartQueryExecution(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "starting query %s", name)
	}
	return &Execution{ID: *out.QueryExecutionId, Name: name}, nil
}

// Wait polls all executions until they finish. The poll interval starts at
// one second and grows by half until capped. The first failed or cancelled
// query aborts the wait.
func (r *Runner) Wait(ctx context.Context, execs ...*Execution) error {
	pending := map[string]*Execution{}
	for _, ex := range execs {
		pending[ex.ID] = ex
	}

	interval := r.pollMin
	for len(pending) > 0 {
		for id, ex := range pending {
			out, err := r.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
				QueryExecutionId: aws.String(id),
			})
			if err != nil {
				return errors.Wrapf(err, "polling query %s", ex.Name)
			}
			status := out.QueryExecution.Status
			switch status.State {
			case types.QueryExecutionStateSucceeded:
				r.logFinished(ex, out.QueryExecution.Statistics)
				delete(pending, id)
			case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
				reason := ""
				if status.StateChangeReason != nil {
					reason = *status.StateChangeReason
				}
				return &QueryError{Name: ex.Name, State: string(status.State), Reason: reason}
			}
		}
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = nextInterval(interval, r.pollMax)
	}
	return nil
}

// Run submits a single query and waits for it.
func (r *Runner) Run(ctx context.Context, name, query string) error {
	ex, err := r.Start(ctx, name, query)
	if err != nil {
		return err
	}
	return r.Wait(ctx, ex)
}

// ScannedBytes reports the data scanned by all finished queries.
func (r *Runner) ScannedBytes() int64 {
	return r.scannedBytes
}

func (r *Runner) logFinished(ex *Execution, st *types.QueryExecutionStatistics) {
	var ms, scanned int64
	if st != nil {
		if st.EngineExecutionTimeInMillis != nil {
			ms = *st.EngineExecutionTimeInMillis
		}
		if st.DataScannedInBytes != nil {
			scanned = *st.DataScannedInBytes
		}
	}
	r.scannedBytes += scanned
	stats.QueriesFinished.Inc()
	stats.BytesScanned.Add(float64(scanned))
	log.Printf("[info] query %s finished in %dms, scanned %.1f MB",
		ex.Name, ms, float64(scanned)/1024/1024)
}

func nextInterval(current, max time.Duration) time.Duration {
	next := current + current/2
	if next > max {
		return max
	}
	return next
}
