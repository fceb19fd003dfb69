package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// parse decodes expanded YAML into a Config. Unknown fields are rejected so
// typos surface at startup instead of silently using defaults.
func parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &cfg, nil
}

// merge overlays loaded values onto the defaults. Non-zero loaded values win.
func merge(base, loaded *Config) error {
	if err := mergo.Merge(base, loaded, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge configuration: %w", err)
	}
	return nil
}
