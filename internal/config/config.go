// Package config loads chatsync settings from a TOML file, CHATSYNC_*
// environment variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "chatsync"
	configType = "toml"
	envPrefix  = "CHATSYNC"
)

// Keys shared by flags and the config file.
const (
	KeyServerURL       = "server.url"
	KeyAPIURL          = "api.url"
	KeyUserID          = "user.id"
	KeyUserName        = "user.name"
	KeyUserAvatar      = "user.avatar"
	KeyStoreBackend    = "store.backend"
	KeyStorePath       = "store.path"
	KeyConnectTimeout  = "timeouts.connect"
	KeyFetchTimeout    = "timeouts.fetch"
	KeyRefreshInterval = "refresh.interval"
	KeyRelayListen     = "relay.listen"
	KeyRelayTCPListen  = "relay.tcp_listen"
	KeyRelayDirectory  = "relay.directory"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	API      APIConfig      `mapstructure:"api"`
	User     UserConfig     `mapstructure:"user"`
	Store    StoreConfig    `mapstructure:"store"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Relay    RelayConfig    `mapstructure:"relay"`
}

type ServerConfig struct {
	URL string `mapstructure:"url"`
}

type APIConfig struct {
	URL string `mapstructure:"url"`
}

type UserConfig struct {
	ID     string `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	Avatar string `mapstructure:"avatar"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type TimeoutsConfig struct {
	Connect time.Duration `mapstructure:"connect"`
	Fetch   time.Duration `mapstructure:"fetch"`
}

type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type RelayConfig struct {
	Listen    string `mapstructure:"listen"`
	TCPListen string `mapstructure:"tcp_listen"`
	Directory string `mapstructure:"directory"`
}

// New returns a viper instance with defaults, search paths and env
// bindings in place.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "chatsync"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyServerURL, "ws://localhost:8080/ws")
	v.SetDefault(KeyAPIURL, "http://localhost:8080")
	v.SetDefault(KeyUserID, "")
	v.SetDefault(KeyUserName, "")
	v.SetDefault(KeyUserAvatar, "")
	v.SetDefault(KeyStoreBackend, BackendFile)
	v.SetDefault(KeyStorePath, defaultStorePath())
	v.SetDefault(KeyConnectTimeout, 10*time.Second)
	v.SetDefault(KeyFetchTimeout, 10*time.Second)
	v.SetDefault(KeyRefreshInterval, 5*time.Second)
	v.SetDefault(KeyRelayListen, ":8080")
	v.SetDefault(KeyRelayTCPListen, "")
	v.SetDefault(KeyRelayDirectory, "")
	return v
}

// Load reads the config file, if any, and decodes the merged settings.
// An explicit path must exist; the search paths may hold nothing.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend != BackendMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
	}
	for key, d := range map[string]time.Duration{
		KeyConnectTimeout:  c.Timeouts.Connect,
		KeyFetchTimeout:    c.Timeouts.Fetch,
		KeyRefreshInterval: c.Refresh.Interval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	return nil
}

// DisplayName returns the configured name, falling back to the user id.
func (u UserConfig) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatsync"
	}
	return filepath.Join(home, ".local", "state", "chatsync")
}
