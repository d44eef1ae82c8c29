package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the variable that points at a YAML config file.
const EnvConfigFile = "APPSTORE_SCRAPER_CONFIG"

// Load builds the effective configuration: defaults, then the YAML file at
// path (or $APPSTORE_SCRAPER_CONFIG), then .env and the process environment.
// Flags are applied by the caller on top of the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path, _ = EnvString(EnvConfigFile)
	}
	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the non-zero values of a YAML file onto cfg.
func mergeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var override Config
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := mergo.Merge(cfg, override, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge config file %s: %w", path, err)
	}
	slog.Debug("merged config file", slog.String("path", path))
	return nil
}

func applyEnv(cfg *Config) error {
	if value, ok := EnvString("APPSTORE_FEATURED_URL"); ok {
		cfg.FeaturedURL = value
	}
	if value, ok, err := EnvInt("APPSTORE_WORKERS"); err != nil {
		return err
	} else if ok {
		cfg.Workers = value
	}
	if value, ok, err := EnvInt("APPSTORE_PARALLEL"); err != nil {
		return err
	} else if ok {
		cfg.Parallelism = value
	}
	if value, ok, err := EnvDuration("APPSTORE_TIMEOUT"); err != nil {
		return err
	} else if ok {
		cfg.Timeout = value
	}
	if value, ok, err := EnvInt("APPSTORE_MAX_RETRIES"); err != nil {
		return err
	} else if ok {
		cfg.MaxRetries = value
	}
	if value, ok, err := EnvInt("APPSTORE_MAX_GAMES"); err != nil {
		return err
	} else if ok {
		cfg.MaxGames = value
	}
	if value, ok, err := EnvFloat("APPSTORE_RPS"); err != nil {
		return err
	} else if ok {
		cfg.RequestsPerSecond = value
	}
	if value, ok := EnvString("APPSTORE_FETCHER"); ok {
		cfg.Fetcher = value
	}
	if value, ok, err := EnvBool("APPSTORE_CLOUDFLARE_BYPASS"); err != nil {
		return err
	} else if ok {
		cfg.CloudflareBypass = value
	}
	if value, ok := EnvString("APPSTORE_USER_AGENT"); ok {
		cfg.UserAgent = value
	}
	if value, ok := EnvString("APPSTORE_OUTPUT"); ok {
		cfg.OutputFile = value
	}
	if value, ok := EnvString("APPSTORE_FREE_OUTPUT"); ok {
		cfg.FreeOutputFile = value
	}
	if value, ok := EnvString("APPSTORE_PAID_OUTPUT"); ok {
		cfg.PaidOutputFile = value
	}
	if value, ok := EnvString("APPSTORE_FORMAT"); ok {
		cfg.OutputFormat = value
	}
	if value, ok, err := EnvBool("APPSTORE_PARTITION"); err != nil {
		return err
	} else if ok {
		cfg.Partition = value
	}
	if value, ok := EnvString("APPSTORE_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	return nil
}

// EnvString returns the trimmed value of key and whether it was set to a
// non-blank value.
func EnvString(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, true, nil
}

// EnvFloat parses key as a float.
func EnvFloat(key string) (float64, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, true, nil
}
