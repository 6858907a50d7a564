// Package config loads daplinkd's optional YAML configuration file,
// grounded on the corpus's gopkg.in/yaml.v3 usage: command-line flags
// always take precedence, the file only supplies defaults a flag didn't
// override.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Server is the subset of daplinkd's config file that maps onto
// broker.Config and its surrounding process flags.
type Server struct {
	Address   string `yaml:"address"`
	Temporary bool   `yaml:"temporary"`
	Verbosity int    `yaml:"verbosity"`
}

// Load reads and parses a YAML config file. A missing path is not an
// error: callers get a zero-value Server and fall back entirely to
// flags/defaults.
func Load(path string) (Server, error) {
	var s Server
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return s, nil
}
