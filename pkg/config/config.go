// Package config loads YAML configuration files, expanding ${VAR}
// references from the environment before decoding.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is implemented by config types that can check themselves
// after decoding.
type Validator interface {
	Validate() error
}

// Load reads path, expands environment variables in its contents and
// decodes the result into target. If target implements Validator the
// decoded value is validated before Load returns.
func Load[T any](path string, target *T) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), target); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate config %s: %w", path, err)
		}
	}
	return nil
}

// LoadIfExists behaves like Load but leaves target untouched when the
// file is missing, so callers can fall back to programmatic defaults.
func LoadIfExists[T any](path string, target *T) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return Load(path, target)
}
