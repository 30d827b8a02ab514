package log

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLevelFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &levelFilter{start: time.Now(), writer: buf, minLevel: LInfo}
	f.init()

	tests := []struct {
		line string
		want bool
	}{
		{"[debug] ignored", false},
		{"[progress] ignored", false},
		{"[step] ignored", false},
		{"[info] kept", true},
		{"[warn] kept", true},
		{"[error] kept", true},
		{"[fatal] kept", true},
		{"no level tag", true},
		{"broken [tag", true},
	}

	for _, test := range tests {
		if got := f.check([]byte(test.line)); got != test.want {
			t.Errorf("check(%q) = %v, want %v", test.line, got, test.want)
		}
	}
}

func TestWritePrefix(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &levelFilter{start: time.Now(), writer: buf, minLevel: LDebug}
	f.init()

	if _, err := f.Write([]byte("[info] hello\n")); err != nil {
		t.Fatal(err)
	}
	line := buf.String()
	if !strings.HasSuffix(line, "[info] hello\n") {
		t.Errorf("unexpected line %q", line)
	}
	if !strings.HasPrefix(line, "[") {
		t.Errorf("missing timestamp prefix in %q", line)
	}
	// elapsed time part, e.g. "0:00:00"
	if !strings.Contains(line, ":") {
		t.Errorf("missing elapsed time in %q", line)
	}
}

func TestWriteDropsFiltered(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &levelFilter{start: time.Now(), writer: buf, minLevel: LInfo}
	f.init()

	if _, err := f.Write([]byte("[debug] hidden\n")); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("filtered line was written: %q", buf.String())
	}
}
