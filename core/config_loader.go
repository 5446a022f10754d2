package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var durationKeys = map[string]bool{
	"inactivity_timeout": true,
	"tick_interval":      true,
	"claim_lease":        true,
	"initial_backoff":    true,
	"max_backoff":        true,
	"timeout":            true,
	"ping_timeout":       true,
}

// TOMLConfigLoader reads raw configuration from a TOML file. Duration keys
// accept Go duration strings such as "30s".
type TOMLConfigLoader struct {
	Path string
	// Data is decoded instead of Path when set.
	Data string
}

func (l TOMLConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}
	switch {
	case strings.TrimSpace(l.Data) != "":
		if _, err := toml.Decode(l.Data, &raw); err != nil {
			return nil, fmt.Errorf("core: decode toml config: %w", err)
		}
	case strings.TrimSpace(l.Path) != "":
		if _, err := toml.DecodeFile(strings.TrimSpace(l.Path), &raw); err != nil {
			return nil, fmt.Errorf("core: decode toml config %q: %w", l.Path, err)
		}
	default:
		return raw, nil
	}
	if err := normalizeDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func normalizeDurations(values map[string]any) error {
	for key, value := range values {
		switch typed := value.(type) {
		case map[string]any:
			if err := normalizeDurations(typed); err != nil {
				return err
			}
		case string:
			if !durationKeys[key] {
				continue
			}
			parsed, err := time.ParseDuration(strings.TrimSpace(typed))
			if err != nil {
				return fmt.Errorf("core: config key %q: %w", key, err)
			}
			values[key] = parsed
		case int64:
			if durationKeys[key] {
				values[key] = time.Duration(typed) * time.Second
			}
		}
	}
	return nil
}

var _ RawConfigLoader = TOMLConfigLoader{}
