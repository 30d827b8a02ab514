package partition

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const MarkerFilename = "last.partition.txt"

// Marker is the persisted record of the pinned partition. Later stages and
// manual reruns read it instead of redoing the discovery.
type Marker struct {
	Partition string
	Prefix    string
	PinnedAt  time.Time
}

func (m *Marker) Write(w io.Writer) error {
	lines := []string{
		"partition=" + m.Partition,
		"prefix=" + m.Prefix,
		"pinnedAt=" + m.PinnedAt.Format(time.RFC3339),
	}
	for _, line := range lines {
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			return err
		}
	}
	return nil
}

// WriteMarker writes the marker atomically (temp file, then rename).
func WriteMarker(cacheDir string, m *Marker) error {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return errors.Wrap(err, "creating cache dir")
	}
	markerFile := filepath.Join(cacheDir, MarkerFilename)
	tmpname := markerFile + "~"
	f, err := os.Create(tmpname)
	if err != nil {
		return errors.Wrap(err, "creating marker file")
	}
	if err := m.Write(f); err != nil {
		f.Close()
		return errors.Wrap(err, "writing marker file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "closing marker file")
	}
	return os.Rename(tmpname, markerFile)
}

func ParseMarker(cacheDir string) (*Marker, error) {
	markerFile := filepath.Join(cacheDir, MarkerFilename)
	f, err := os.Open(markerFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMarker(f)
}

func parseMarker(r io.Reader) (*Marker, error) {
	values, err := parseSimpleIni(r)
	if err != nil {
		return nil, err
	}
	if values["partition"] == "" {
		return nil, errors.New("missing partition in marker")
	}
	m := &Marker{
		Partition: values["partition"],
		Prefix:    values["prefix"],
	}
	if ts := values["pinnedAt"]; ts != "" {
		pinnedAt, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, errors.Wrap(err, "parsing pinnedAt")
		}
		m.PinnedAt = pinnedAt
	}
	return m, nil
}

func parseSimpleIni(f io.Reader) (map[string]string, error) {
	result := make(map[string]string)

	reader := bufio.NewScanner(f)
	for reader.Scan() {
		line := reader.Text()
		if line != "" && line[0] == '#' {
			continue
		}
		if strings.Contains(line, "=") {
			keyVal := strings.SplitN(line, "=", 2)
			result[strings.TrimSpace(keyVal[0])] = strings.TrimSpace(keyVal[1])
		}
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
