// Package config loads weldr's configuration from weldr.yaml (searched in
// "." and "./config"), overridable by WELDR_-prefixed environment
// variables, and watches the file for changes the same way the teacher's
// config layer does.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultProxyHost = "0.0.0.0"
	DefaultProxyPort = 8080
	DefaultAdminHost = "127.0.0.1"
	DefaultAdminPort = 8081

	// DefaultFileWriteDelay gives a config file write in progress time
	// to settle before the watcher re-reads it.
	DefaultFileWriteDelay = 150 * time.Millisecond
	reloadDebounceWindow  = 500 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults, used as
// the base that file/env values are unmarshalled on top of.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ProxyHost:       DefaultProxyHost,
			ProxyPort:       DefaultProxyPort,
			AdminHost:       DefaultAdminHost,
			AdminPort:       DefaultAdminPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Proxy: ProxyConfig{
			ConnectTimeout:   5 * time.Second,
			WriteTimeout:     10 * time.Second,
			ReadTimeout:      60 * time.Second,
			StreamBufferSize: 32 * 1024,
		},
		HealthCheck: HealthCheckConfig{
			Interval: 10 * time.Second,
			URIPath:  "/health",
			Failures: 3,
			Passes:   2,
			Workers:  4,
		},
		Manager: ManagerConfig{
			WorkerCount:           2,
			ControlAddress:        "127.0.0.1:7750",
			SubscriberInFlightCap: 5,
			WorkerStartTimeout:    10 * time.Second,
			WorkerRestartBackoff:  time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FileOutput: false,
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Theme:      "default",
		},
	}
}

// Load reads weldr.yaml (if present) and WELDR_-prefixed environment
// overrides on top of DefaultConfig, then starts watching the config
// file. Register a reload handler with OnReload.
func Load() (*Config, error) {
	viper.SetConfigName("weldr")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("WELDR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("WELDR_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	cfg, err := snapshot()
	if err != nil {
		return nil, err
	}

	viper.WatchConfig()
	return cfg, nil
}

// snapshot decodes viper's current state onto a fresh DefaultConfig.
func snapshot() (*Config, error) {
	cfg := DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return cfg, nil
}

// OnReload invokes fn with a freshly decoded Config after every settled
// change to the watched file. Rapid-fire change events are debounced,
// and the re-read is delayed briefly because on some platforms the
// change event fires before the write is fully flushed to disk.
func OnReload(fn func(*Config)) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		reloadMutex.Lock()
		defer reloadMutex.Unlock()

		now := time.Now()
		if now.Sub(lastReload) < reloadDebounceWindow {
			return
		}
		lastReload = now

		time.Sleep(DefaultFileWriteDelay)

		cfg, err := snapshot()
		if err != nil {
			return
		}
		fn(cfg)
	})
}
