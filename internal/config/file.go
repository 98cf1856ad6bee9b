package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file on top of the defaults,
// without environment overrides or validation.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile decodes the YAML file at path into c. Keys absent from the file
// keep their current values.
func (c *Config) mergeFile(path string) error {
	if !filepath.IsAbs(path) {
		abspath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = abspath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	log.Debug().
		Str("config_file", path).
		Int("total_bytes", len(data)).
		Msg("Read config file")

	if err := yaml.Unmarshal(data, c); err != nil {
		log.Error().Err(err).Str("config_file", path).Msg("Failed to unmarshal YAML config")
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return nil
}
