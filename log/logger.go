// Package log provides the filtered logger used by all pipeline stages.
//
// Messages carry their level inline as a "[level]" tag, e.g.
// log.Printf("[warn] slow query %s", name). Lines below the configured
// minimum level are dropped, everything else is prefixed with the wall-clock
// time and the elapsed run time.
package log

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"
)

type Logger interface {
	Println(v ...interface{})
	Printf(format string, v ...interface{})
}

var DefaultLogger *log.Logger
var defaultFilter *levelFilter

type Level string

const (
	LDebug    = Level("debug")
	LProgress = Level("progress")
	LStep     = Level("step")
	LInfo     = Level("info")
	LWarn     = Level("warn")
	LError    = Level("error")
	LFatal    = Level("fatal")
)

// levels in ascending order of severity
var levels = []Level{LDebug, LProgress, LStep, LInfo, LWarn, LError, LFatal}

func init() {
	defaultFilter = &levelFilter{
		start:    time.Now(),
		writer:   os.Stderr,
		minLevel: LProgress,
	}
	defaultFilter.init()
	DefaultLogger = log.New(defaultFilter, "", 0)
}

type levelFilter struct {
	start    time.Time
	writer   io.Writer
	dropped  map[Level]struct{}
	minLevel Level
}

func (f *levelFilter) SetMinLevel(lvl Level) {
	f.minLevel = lvl
	f.init()
}

func (f *levelFilter) init() {
	dropped := make(map[Level]struct{})
	for _, level := range levels {
		if level == f.minLevel {
			break
		}
		dropped[level] = struct{}{}
	}
	f.dropped = dropped
}

// check reports whether a line passes the level filter. Lines without a
// recognizable "[level]" tag always pass.
func (f *levelFilter) check(line []byte) bool {
	var level Level
	x := bytes.IndexByte(line, '[')
	if x >= 0 {
		y := bytes.IndexByte(line[x:], ']')
		if y >= 0 {
			level = Level(line[x+1 : x+y])
		}
	}

	_, drop := f.dropped[level]
	return !drop
}

func (f *levelFilter) Write(p []byte) (n int, err error) {
	if !f.check(p) {
		return 0, nil
	}
	// The log package guarantees a single line per Write.
	b := bytes.Buffer{}
	now := time.Now()

	d := now.Sub(f.start)
	fmt.Fprintf(&b, "[%s] %d:%02d:%02d ",
		now.Format(time.RFC3339),
		int(d.Hours()),
		int(math.Mod(d.Minutes(), 60)),
		int(math.Mod(d.Seconds(), 60)),
	)
	b.Write(p)

	return f.writer.Write(b.Bytes())
}

func SetMinLevel(lvl Level) {
	defaultFilter.SetMinLevel(lvl)
}

// SetOutput redirects all log output, for tests.
func SetOutput(w io.Writer) {
	defaultFilter.writer = w
}

func Println(v ...interface{}) {
	DefaultLogger.Println(v...)
}

func Printf(format string, v ...interface{}) {
	DefaultLogger.Printf(format, v...)
}

func Fatal(v ...interface{}) {
	DefaultLogger.Fatal(v...)
}

func Fatalf(format string, v ...interface{}) {
	DefaultLogger.Fatalf(format, v...)
}

// Step logs the start of a named stage and returns a func that logs its
// completion with the elapsed time. Use with defer:
//
//	defer log.Step("Building tiles")()
func Step(name string) func() {
	start := time.Now()
	Println("[step] Starting:", name)
	return func() {
		Printf("[step] Finished: %s in %s", name, time.Since(start))
	}
}
