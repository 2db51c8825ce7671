package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "PADDOCK_"
	envFileVar   = "PADDOCK_CONFIG"
	thresholdKey = "threshold_pct"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PADDOCK_CONFIG is set
//  3. env (prefix PADDOCK_)
//
// An out-of-range or non-numeric threshold_pct is not an error: it is
// replaced by the default and the returned flag is true so the caller can
// log it.
func Load(_ context.Context) (*Config, bool, error) {
	base := New()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(base, "koanf"), nil); err != nil {
		return nil, false, fmt.Errorf("%w: defaults: %w", ErrLoadConfig, err)
	}

	if path := os.Getenv(envFileVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, false, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PADDOCK_CACHE_TTL_SECONDS -> cache_ttl_seconds. Underscores are kept to
	// match the flat koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, false, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	replaced := dropUnparsableThreshold(k)

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	if cfg.NormalizeThreshold() {
		replaced = true
	}
	return &cfg, replaced, nil
}

// dropUnparsableThreshold removes a threshold_pct that is not a number so the
// default survives decoding. It reports whether it removed one.
func dropUnparsableThreshold(k *koanf.Koanf) bool {
	raw, ok := k.Get(thresholdKey).(string)
	if !ok {
		return false
	}
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		return false
	}
	k.Delete(thresholdKey)
	return true
}
