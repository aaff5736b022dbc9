package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "COWORKFORGE_"

// rootKeys are top-level config fields whose names contain underscores.
// Without this the env transformer would split them into section.field.
var rootKeys = map[string]string{
	"work_dir":     "work_dir",
	"project_root": "project_root",
}

// Load reads configuration from a YAML file (optional) and environment
// variables, applied on top of defaults.
//
// Precedence (highest to lowest):
//  1. Environment variables (COWORKFORGE_THROTTLE_MAX_CONCURRENT, ...)
//  2. YAML config file
//  3. Defaults from NewDefaultConfig
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Load from YAML file if it exists.
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment overrides.
	//
	// COWORKFORGE_WORK_DIR             -> work_dir
	// COWORKFORGE_THROTTLE_PACING      -> throttle.pacing
	// COWORKFORGE_LOGGING_LEVEL        -> logging.level
	// COWORKFORGE_VERIFY_ALLOW_RUN     -> verify.allow_run
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		if key, ok := rootKeys[lower]; ok {
			return key
		}
		// section.field_name: split on the first underscore only.
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
