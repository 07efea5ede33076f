package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/reglet-dev/portbridge/domain/errors"
	"gopkg.in/yaml.v3"
)

// MaxPages is the largest page count a 32-bit linear memory can address.
const MaxPages = 65536

// DefaultInitialPages is used when no initial size is given.
const DefaultInitialPages = 1

// MemoryConfig describes the shared memory handed to a module that imports js.mem.
type MemoryConfig struct {
	// InitialPages is the starting size in 64 KiB pages.
	InitialPages uint32 `json:"initial,omitempty" yaml:"initial,omitempty" validate:"min=1,max=65536" jsonschema:"minimum=1,maximum=65536,default=1,description=Initial size in 64 KiB pages"`

	// MaximumPages caps growth. Zero means the runtime limit.
	MaximumPages uint32 `json:"maximum,omitempty" yaml:"maximum,omitempty" validate:"omitempty,max=65536,gtefield=InitialPages" jsonschema:"minimum=0,maximum=65536,description=Maximum size in 64 KiB pages; 0 for no explicit limit"`
}

// Default returns the configuration used when none is supplied.
func Default() MemoryConfig {
	return MemoryConfig{InitialPages: DefaultInitialPages}
}

// WithDefaults fills unset fields.
func (c MemoryConfig) WithDefaults() MemoryConfig {
	if c.InitialPages == 0 {
		c.InitialPages = DefaultInitialPages
	}
	return c
}

// HasMaximum reports whether growth is capped.
func (c MemoryConfig) HasMaximum() bool {
	return c.MaximumPages > 0
}

// FromMap decodes a JS-style memory descriptor. Unknown keys are ignored.
func FromMap(m map[string]any) (MemoryConfig, error) {
	var cfg MemoryConfig
	if len(m) == 0 {
		return Default(), nil
	}

	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return cfg, &errors.ConfigError{Err: fmt.Errorf("failed to marshal config map: %w", err)}
	}
	if err := json.Unmarshal(jsonBytes, &cfg); err != nil {
		return cfg, &errors.ConfigError{Err: fmt.Errorf("failed to unmarshal config into struct: %w", err)}
	}

	cfg = cfg.WithDefaults()
	if err := Validate(cfg); err != nil {
		return MemoryConfig{}, err
	}
	return cfg, nil
}

// Parse decodes YAML (or JSON) bytes into a validated MemoryConfig.
func Parse(data []byte) (MemoryConfig, error) {
	var cfg MemoryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MemoryConfig{}, &errors.ConfigError{Err: fmt.Errorf("failed to parse config: %w", err)}
	}

	cfg = cfg.WithDefaults()
	if err := Validate(cfg); err != nil {
		return MemoryConfig{}, err
	}
	return cfg, nil
}

// Load reads and parses a config file.
func Load(path string) (MemoryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MemoryConfig{}, &errors.ConfigError{Err: fmt.Errorf("failed to read config: %w", err)}
	}
	return Parse(data)
}
