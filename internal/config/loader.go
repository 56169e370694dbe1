// Package config provides centralized configuration management for deckward:
// built-in defaults, an optional YAML file, and DECKWARD_* environment
// variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const appName = "deckward"

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// Load reads configuration from the given file path, or from the default
// search paths when path is empty. A missing config file is not an error;
// defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir := gfconfig.GetAppConfigDir(appName); strings.TrimSpace(dir) != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	pins, err := decodePins(v.Get("security.pins"))
	if err != nil {
		return nil, err
	}
	cfg.Security.Pins = pins

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.driver", "libsql")

	v.SetDefault("guard.rate_limit.generation_per_hour", 10)
	v.SetDefault("guard.rate_limit.file_processing_per_hour", 20)
	v.SetDefault("guard.rate_limit.window", time.Hour)
	v.SetDefault("guard.rate_limit.cooldown", 30*time.Second)
	v.SetDefault("guard.rate_limit.max_concurrent", 2)

	v.SetDefault("guard.circuit.failure_threshold", 5)
	v.SetDefault("guard.circuit.success_threshold", 2)
	v.SetDefault("guard.circuit.open_timeout", 60*time.Second)

	v.SetDefault("ai.default_provider", "openai")
	v.SetDefault("ai.call_timeout", 30*time.Second)

	v.SetDefault("security.salt", appName)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// decodePins reads security.pins directly from the raw config tree. Hostname
// keys contain dots, which viper's path-based unmarshal would split into
// nested maps ("api.anthropic.com" → api → anthropic → com).
func decodePins(raw any) (map[string][]string, error) {
	if raw == nil {
		return nil, nil
	}

	entries, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("security.pins must map hosts to fingerprint lists")
	}

	pins := make(map[string][]string, len(entries))
	for host, value := range entries {
		switch v := value.(type) {
		case []any:
			list := make([]string, 0, len(v))
			for _, item := range v {
				fingerprint, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("security.pins[%s] entries must be strings", host)
				}
				list = append(list, fingerprint)
			}
			pins[host] = list
		case []string:
			pins[host] = v
		case string:
			parts := strings.Split(v, ",")
			list := make([]string, 0, len(parts))
			for _, part := range parts {
				if trimmed := strings.TrimSpace(part); trimmed != "" {
					list = append(list, trimmed)
				}
			}
			pins[host] = list
		default:
			return nil, fmt.Errorf("security.pins[%s] must be a fingerprint list", host)
		}
	}

	return pins, nil
}

func validate(cfg *Config) error {
	if len(cfg.AI.Providers) > 0 {
		id := strings.TrimSpace(cfg.AI.DefaultProvider)
		if id == "" {
			return fmt.Errorf("ai.default_provider is required when providers are configured")
		}
		provider, ok := cfg.AI.Providers[id]
		if !ok {
			return fmt.Errorf("ai.default_provider %q is not a configured provider", id)
		}
		if !provider.Enabled {
			return fmt.Errorf("ai.default_provider %q is disabled", id)
		}
	}

	if cfg.Guard.RateLimit.GenerationPerHour < 0 ||
		cfg.Guard.RateLimit.FileProcessingPerHour < 0 ||
		cfg.Guard.RateLimit.MaxConcurrent < 0 {
		return fmt.Errorf("guard.rate_limit values must not be negative")
	}

	return nil
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(appName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(appName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + appName + ".db"
	}
	return filepath.Join(dataDir, appName+".db")
}
