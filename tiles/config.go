// Package tiles converts the line-delimited GeoJSON exports into PMTiles
// archives with tippecanoe.
package tiles

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Layer maps one GeoJSON export to one tiled archive.
type Layer struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Zoom   int    `yaml:"zoom"`
	ID     string `yaml:"id"`
}

// Config is the layers.yml file.
type Config struct {
	Layers []Layer `yaml:"layers"`
}

func FromFile(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	conf, err := New(b)
	if err != nil {
		return nil, errors.Wrap(err, filename)
	}
	return conf, nil
}

func New(b []byte) (*Config, error) {
	conf := Config{}
	if err := yaml.Unmarshal(b, &conf); err != nil {
		return nil, err
	}
	if err := conf.prepare(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) prepare() error {
	if len(c.Layers) == 0 {
		return errors.New("no layers configured")
	}
	seen := map[string]bool{}
	for _, layer := range c.Layers {
		if layer.Name == "" {
			return errors.New("layer without name")
		}
		if seen[layer.Name] {
			return errors.Errorf("duplicate layer %s", layer.Name)
		}
		seen[layer.Name] = true
		if layer.Zoom < 0 || layer.Zoom > 16 {
			return errors.Errorf("layer %s: zoom %d out of range 0-16", layer.Name, layer.Zoom)
		}
		if !strings.HasSuffix(layer.Source, ".geojsonl") {
			return errors.Errorf("layer %s: source %q is not a .geojsonl export", layer.Name, layer.Source)
		}
		if layer.ID == "" {
			return errors.Errorf("layer %s: missing feature id attribute", layer.Name)
		}
	}
	return nil
}
