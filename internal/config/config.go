package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SENTINEL_SERVER_PORT.
const EnvPrefix = "SENTINEL"

var (
	mu     sync.Mutex
	active *viper.Viper
)

// Load loads configuration from defaults, an optional file, a .env file and
// environment variables, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	// Best-effort: .env only feeds the environment
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	// Seed every key so AutomaticEnv can override keys absent from the file
	base, err := yaml.Marshal(GetDefaults())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/contract-sentinel/")
		v.AddConfigPath("$HOME/.contract-sentinel/")
	}

	if err := v.MergeInConfig(); err != nil {
		// A missing file is fine when none was asked for
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	active = v
	mu.Unlock()

	return config, nil
}

func decode(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Privacy.Masking.Mode {
	case "mask", "anonymize", "none":
	default:
		return fmt.Errorf("invalid masking mode: %s (must be mask, anonymize, or none)", config.Privacy.Masking.Mode)
	}

	if _, err := ParseDetectors(config.Privacy.Detectors); err != nil {
		return err
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	for name, raw := range map[string]string{"auth_url": config.Upstream.AuthURL, "api_url": config.Upstream.APIURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid upstream %s: %q", name, raw)
		}
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerMinute <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_minute and burst")
	}

	if config.Extract.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid max upload size: %d", config.Extract.MaxUploadBytes)
	}

	if config.Telemetry.SampleRatio < 0 || config.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("invalid telemetry sample ratio: %v", config.Telemetry.SampleRatio)
	}

	return nil
}

// ParseDetectors maps configured detector names to types. "all" (or an
// empty list) selects every built-in type. Names match type names
// case-insensitively, e.g. "email" or "credit card".
func ParseDetectors(names []string) ([]sensitive.Type, error) {
	known := sensitive.DefaultBank().Types()
	if len(names) == 0 {
		return known, nil
	}

	byName := make(map[string]sensitive.Type, len(known))
	for _, t := range known {
		byName[normalizeDetector(string(t))] = t
	}

	seen := make(map[sensitive.Type]bool)
	var types []sensitive.Type
	for _, name := range names {
		key := normalizeDetector(name)
		if key == "all" {
			return known, nil
		}
		t, ok := byName[key]
		if !ok {
			return nil, fmt.Errorf("unknown detector: %q", name)
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	return types, nil
}

func normalizeDetector(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", " ", "-", " ").Replace(name)
}

// Watch re-reads the file used by the last Load on every change and hands
// valid configurations to callback. Invalid edits are reported to onError
// and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) error {
	mu.Lock()
	v := active
	mu.Unlock()

	if v == nil {
		return fmt.Errorf("configuration not loaded")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
