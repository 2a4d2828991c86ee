package control

import (
	"fmt"
	"regexp"
	"strconv"

	"ralphd/internal/config"
	"ralphd/internal/logging"
)

// allowedSettings is the whitelist of config fields the dashboard may change.
// Everything else requires editing the config file directly.
var allowedSettings = map[string]bool{
	"context_mode":              true,
	"max_iterations":            true,
	"default_max_retries":       true,
	"validation_strategy":       true,
	"compaction_interval":       true,
	"compaction_byte_threshold": true,
}

// safeValueRe rejects values that could smuggle shell or config syntax.
var safeValueRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ApplySettings applies whitelisted settings to the config and persists it.
// Unknown keys and unsafe values are skipped, not errors; the returned slice
// names the keys actually updated.
func ApplySettings(cfg *config.Config, configPath string, settings map[string]string) ([]string, error) {
	var updated []string
	for key, value := range settings {
		if !allowedSettings[key] {
			logging.Control("Rejected settings key %q (not whitelisted)", key)
			continue
		}
		if !safeValueRe.MatchString(value) {
			logging.Control("Rejected unsafe value for %q", key)
			continue
		}
		if applySetting(cfg, key, value) {
			updated = append(updated, key)
		}
	}

	if len(updated) == 0 {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("settings update produced invalid config: %w", err)
	}
	if err := cfg.Save(configPath); err != nil {
		return nil, err
	}
	return updated, nil
}

func applySetting(cfg *config.Config, key, value string) bool {
	switch key {
	case "context_mode":
		cfg.Context.Mode = value
	case "validation_strategy":
		cfg.Plan.ValidationCommand = value
	case "max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return false
		}
		cfg.Plan.MaxIterations = n
	case "default_max_retries":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return false
		}
		cfg.Plan.DefaultMaxRetries = n
	case "compaction_interval":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return false
		}
		cfg.Compaction.PeriodicInterval = n
	case "compaction_byte_threshold":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return false
		}
		cfg.Compaction.ByteThreshold = n
	default:
		return false
	}
	return true
}
