// Package config loads SIMGuard configuration from defaults, an optional
// YAML file and SIMGUARD_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/opensource-finance/simguard/internal/domain"
)

const (
	// EnvPrefix is stripped from environment variable names.
	EnvPrefix = "SIMGUARD_"

	// EnvConfigFile names the optional YAML file.
	EnvConfigFile = "SIMGUARD_CONFIG"

	// EnvTier selects the defaults: "community" or "pro".
	EnvTier = "SIMGUARD_TIER"
)

// Options controls where configuration is read from.
type Options struct {
	// Path is the YAML file to load. Empty means $SIMGUARD_CONFIG; a
	// missing file is not an error unless the path was given explicitly.
	Path string

	// Tier overrides $SIMGUARD_TIER when choosing defaults.
	Tier domain.Tier
}

// Load builds the configuration. Environment variables map onto keys by
// stripping the prefix, lowercasing, and turning "__" into a nesting
// level, so SIMGUARD_REPOSITORY__SQLITE_PATH sets repository.sqlite_path.
func Load(opts Options) (*domain.Config, error) {
	tier := opts.Tier
	if tier == "" {
		tier = domain.Tier(strings.ToLower(os.Getenv(EnvTier)))
	}

	defaults := domain.DefaultConfig()
	if tier == domain.TierPro {
		defaults = domain.ProConfig()
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	path, explicit := opts.Path, opts.Path != ""
	if path == "" {
		path = os.Getenv(EnvConfigFile)
		explicit = path != ""
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("config policy: %w", err)
	}
	if cfg.Analysis.Workers <= 0 {
		return nil, fmt.Errorf("analysis.workers must be positive, got %d", cfg.Analysis.Workers)
	}

	return &cfg, nil
}

// envKey maps a variable name to a config key. The file and tier selectors
// are consumed by Load itself and map to nothing.
func envKey(s string) string {
	if s == EnvConfigFile || s == EnvTier {
		return ""
	}
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
