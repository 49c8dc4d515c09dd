package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the prefix for dispatchd environment variables.
const envPrefix = "DISPATCHD_"

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (DISPATCHD_SERVER_PORT, DISPATCHD_CACHE_EXACT_TTL, ...)
//  2. YAML config file (default ~/.config/dispatchd/config.yaml)
//  3. Hardcoded defaults
//
// Environment variables map to config keys by stripping the DISPATCHD_
// prefix, lowercasing, and splitting on the first underscore:
//
//	DISPATCHD_SERVER_PORT          -> server.port
//	DISPATCHD_CACHE_SEMANTIC_TTL   -> cache.semantic_ttl
//	DISPATCHD_PROVIDERS_OPENAI_KEY -> providers.openai_key
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "dispatchd", "config.yaml")
	}

	// Load from YAML file if it exists; a missing default file is fine.
	if content, err := os.ReadFile(configPath); err == nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envTransform maps DISPATCHD_SECTION_FIELD_NAME to section.field_name.
// The split happens on the first underscore after the prefix; field names
// keep their underscores.
func envTransform(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// ExpandPath expands a leading ~ to the user's home directory. The
// path is returned unchanged when the home directory cannot be
// resolved.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
