package athena

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
)

type fakeQuery struct {
	states  []types.QueryExecutionState
	reason  string
	scanned int64
	millis  int64
}

type fakeAthena struct {
	started []*athena.StartQueryExecutionInput
	queries map[string]*fakeQuery
}

func (f *fakeAthena) StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.started = append(f.started, params)
	id := fmt.Sprintf("q%d", len(f.started))
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String(id)}, nil
}

func (f *fakeAthena) GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	q, ok := f.queries[*params.QueryExecutionId]
	if !ok {
		return nil, fmt.Errorf("unknown query %s", *params.QueryExecutionId)
	}
	state := q.states[0]
	if len(q.states) > 1 {
		q.states = q.states[1:]
	}
	status := &types.QueryExecutionStatus{State: state}
	if q.reason != "" {
		status.StateChangeReason = aws.String(q.reason)
	}
	out := &athena.GetQueryExecutionOutput{
		QueryExecution: &types.QueryExecution{Status: status},
	}
	if state == types.QueryExecutionStateSucceeded {
		out.QueryExecution.Statistics = &types.QueryExecutionStatistics{
			EngineExecutionTimeInMillis: aws.Int64(q.millis),
			DataScannedInBytes:          aws.Int64(q.scanned),
		}
	}
	return out, nil
}

func newTestRunner(client API) *Runner {
	return &Runner{
		client:         client,
		database:       "youthmappers",
		workgroup:      "youthmappers",
		outputLocation: "s3://bucket/athena-results/",
		pollMin:        time.Millisecond,
		pollMax:        4 * time.Millisecond,
	}
}

func TestStartQueryContext(t *testing.T) {
	fake := &fakeAthena{}
	r := newTestRunner(fake)

	if _, err := r.Start(context.Background(), "with-db", "SELECT 1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartWithoutDatabase(context.Background(), "no-db", "CREATE DATABASE x"); err != nil {
		t.Fatal(err)
	}

	if len(fake.started) != 2 {
		t.Fatalf("started %d queries, want 2", len(fake.started))
	}
	first := fake.started[0]
	if first.QueryExecutionContext == nil || *first.QueryExecutionContext.Database != "youthmappers" {
		t.Errorf("missing database context: %+v", first.QueryExecutionContext)
	}
	if *first.WorkGroup != "youthmappers" {
		t.Errorf("unexpected workgroup %q", *first.WorkGroup)
	}
	if *first.ResultConfiguration.OutputLocation != "s3://bucket/athena-results/" {
		t.Errorf("unexpected output location %q", *first.ResultConfiguration.OutputLocation)
	}
	if fake.started[1].QueryExecutionContext != nil {
		t.Errorf("unexpected database context: %+v", fake.started[1].QueryExecutionContext)
	}
}

func TestWaitSuccess(t *testing.T) {
	fake := &fakeAthena{queries: map[string]*fakeQuery{
		"q1": {
			states: []types.QueryExecutionState{
				types.QueryExecutionStateRunning,
				types.QueryExecutionStateSucceeded,
			},
			scanned: 1 << 20, millis: 1200,
		},
		"q2": {
			states:  []types.QueryExecutionState{types.QueryExecutionStateSucceeded},
			scanned: 2 << 20, millis: 300,
		},
	}}
	r := newTestRunner(fake)

	err := r.Wait(context.Background(),
		&Execution{ID: "q1", Name: "one"},
		&Execution{ID: "q2", Name: "two"})
	if err != nil {
		t.Fatal(err)
	}
	if r.ScannedBytes() != 3<<20 {
		t.Errorf("scanned %d bytes, want %d", r.ScannedBytes(), 3<<20)
	}
}

func TestWaitFailure(t *testing.T) {
	fake := &fakeAthena{queries: map[string]*fakeQuery{
		"q1": {
			states: []types.QueryExecutionState{
				types.QueryExecutionStateQueued,
				types.QueryExecutionStateFailed,
			},
			reason: "SYNTAX_ERROR: line 1",
		},
	}}
	r := newTestRunner(fake)

	err := r.Wait(context.Background(), &Execution{ID: "q1", Name: "bad"})
	if err == nil {
		t.Fatal("expected error")
	}
	qerr, ok := err.(*QueryError)
	if !ok {
		t.Fatalf("unexpected error type %T: %v", err, err)
	}
	if qerr.Name != "bad" || qerr.State != "FAILED" || qerr.Reason != "SYNTAX_ERROR: line 1" {
		t.Errorf("unexpected error %+v", qerr)
	}
}

func TestWaitCancelled(t *testing.T) {
	fake := &fakeAthena{queries: map[string]*fakeQuery{
		"q1": {states: []types.QueryExecutionState{types.QueryExecutionStateRunning}},
	}}
	r := newTestRunner(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Wait(ctx, &Execution{ID: "q1", Name: "stuck"})
	if err != context.Canceled {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNextInterval(t *testing.T) {
	max := 10 * time.Second
	interval := time.Second
	var got []time.Duration
	for i := 0; i < 7; i++ {
		interval = nextInterval(interval, max)
		got = append(got, interval)
	}
	want := []time.Duration{
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5062500 * time.Microsecond,
		7593750 * time.Microsecond,
		10 * time.Second,
		10 * time.Second,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("interval %d: got %s, want %s", i, got[i], want[i])
		}
	}
}
