// Package pipeline sequences the dashboard build and schedules runs.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/youthmappers/mapactivity/log"
	"github.com/youthmappers/mapactivity/publish"
	"github.com/youthmappers/mapactivity/stats"
)

// Step is one named fallible stage of a run.
type Step interface {
	Name() string
	Run(ctx context.Context) error
}

type stepFunc struct {
	name string
	run  func(context.Context) error
}

func (s stepFunc) Name() string                  { return s.name }
func (s stepFunc) Run(ctx context.Context) error { return s.run(ctx) }

// NewStep wraps a function as a named step.
func NewStep(name string, run func(context.Context) error) Step {
	return stepFunc{name: name, run: run}
}

// StepError reports which step aborted the run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %s", e.Step, e.Err)
}

func (e *StepError) Cause() error { return e.Err }

// StepResult is one step's outcome in the run manifest.
type StepResult struct {
	Name     string `json:"name"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// Manifest records one run: the pinned partition, each step's outcome and
// every published object.
type Manifest struct {
	Partition string           `json:"partition,omitempty"`
	Started   time.Time        `json:"started"`
	Finished  time.Time        `json:"finished"`
	Steps     []StepResult     `json:"steps"`
	Uploads   []publish.Upload `json:"uploads,omitempty"`
}

// Sequence runs the steps in order and aborts on the first failure. The
// returned manifest always covers the attempted steps, also on failure.
func Sequence(ctx context.Context, steps ...Step) (*Manifest, error) {
	manifest := &Manifest{Started: time.Now().UTC()}
	stats.RunsStarted.Inc()

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return manifest.finish(), ctx.Err()
		default:
		}

		start := time.Now()
		err := step.Run(ctx)
		elapsed := time.Since(start)
		stats.StepDuration.WithLabelValues(step.Name()).Observe(elapsed.Seconds())

		result := StepResult{Name: step.Name(), Duration: elapsed.Round(time.Millisecond).String()}
		if err != nil {
			result.Error = err.Error()
			manifest.Steps = append(manifest.Steps, result)
			stats.RunsFailed.WithLabelValues(step.Name()).Inc()
			return manifest.finish(), &StepError{Step: step.Name(), Err: err}
		}
		manifest.Steps = append(manifest.Steps, result)
	}

	stats.LastRunTimestamp.SetToCurrentTime()
	return manifest.finish(), nil
}

func (m *Manifest) finish() *Manifest {
	m.Finished = time.Now().UTC()
	return m
}

// ManifestFilename is the manifest of the most recent run, kept in the
// cache directory next to the partition marker.
const ManifestFilename = "run.json"

// Write stores the manifest in dir.
func (m *Manifest) Write(dir string) error {
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	filename := filepath.Join(dir, ManifestFilename)
	tmpname := filename + "~"
	if err := os.WriteFile(tmpname, buf, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpname, filename); err != nil {
		return err
	}
	log.Printf("[info] wrote run manifest to %s", filename)
	return nil
}

// ReadManifest loads the manifest of the most recent run from dir.
func ReadManifest(dir string) (*Manifest, error) {
	buf, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{}
	if err := json.Unmarshal(buf, manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}
