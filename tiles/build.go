package tiles

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity/log"
)

// Build runs tippecanoe for every configured layer, reading the exports
// from outputDir and writing <layer>.pmtiles next to them. Tiling is not
// retried, the first failure aborts.
func Build(ctx context.Context, conf *Config, outputDir string) error {
	defer log.Step("Building vector tiles")()

	bin, err := exec.LookPath("tippecanoe")
	if err != nil {
		return errors.Wrap(err, "tippecanoe not found in PATH")
	}

	for _, layer := range conf.Layers {
		source := filepath.Join(outputDir, layer.Source)
		if _, err := os.Stat(source); err != nil {
			return errors.Wrapf(err, "missing export for layer %s", layer.Name)
		}
		target := filepath.Join(outputDir, layer.Name+".pmtiles")

		log.Printf("[info] tiling layer %s (zoom %d) to %s", layer.Name, layer.Zoom, target)
		cmd := exec.CommandContext(ctx, bin, tippecanoeArgs(layer, source, target)...)
		cmd.Stdout = toolOutput{}
		cmd.Stderr = toolOutput{}
		if err := cmd.Run(); err != nil {
			return errors.Wrapf(err, "tiling layer %s", layer.Name)
		}
	}
	return nil
}

func tippecanoeArgs(layer Layer, source, target string) []string {
	return []string{
		"-o", target,
		"-Z", strconv.Itoa(layer.Zoom),
		"-z", strconv.Itoa(layer.Zoom),
		"-l", layer.Name,
		"--use-attribute-for-id=" + layer.ID,
		"--force",
		source,
	}
}

// toolOutput forwards tippecanoe's progress output at debug level.
type toolOutput struct{}

func (toolOutput) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		log.Printf("[debug] tippecanoe: %s", line)
	}
	return len(p), nil
}
