package shared

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Session     SessionConfig     `toml:"session"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	Keyring     KeyringConfig     `toml:"keyring"`
	Server      ServerConfig      `toml:"server"`
	HTTP        HTTPConfig        `toml:"http"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// placeholderPrefix marks the unfilled values shipped in config.example.toml.
const placeholderPrefix = "your_"

// Configured reports whether a client ID and secret are present and not the template placeholders.
func (s SpotifyConfig) Configured() bool {
	for _, v := range []string{s.ClientID, s.ClientSecret} {
		if v == "" || strings.HasPrefix(v, placeholderPrefix) {
			return false
		}
	}
	return true
}

// SessionConfig selects the credential store backend and its namespace.
type SessionConfig struct {
	Store string `toml:"store"`
	Scope string `toml:"scope"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// RedisConfig contains redis connection settings for the redis store.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// KeyringConfig contains OS keychain settings for the keyring store.
type KeyringConfig struct {
	Service string `toml:"service"`
	FileDir string `toml:"file_dir"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HTTPConfig controls the outbound API client.
type HTTPConfig struct {
	Timeout   int     `toml:"timeout"`
	RateLimit float64 `toml:"rate_limit"`
}

// LogConfig controls logger verbosity.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// ResolveConfig loads path when it exists, otherwise the defaults, and then applies
// .env and environment overrides.
func ResolveConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := LoadConfig(path)
			if err != nil {
				return nil, err
			}
			config = loaded
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	ApplyEnv(config)

	return config, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides config values with SPOTIFY_* and SPOTAUTH_* environment variables.
func ApplyEnv(config *Config) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"SPOTIFY_CLIENT_ID", &config.Credentials.Spotify.ClientID},
		{"SPOTIFY_CLIENT_SECRET", &config.Credentials.Spotify.ClientSecret},
		{"SPOTIFY_REDIRECT_URI", &config.Credentials.Spotify.RedirectURI},
		{"SPOTAUTH_STORE", &config.Session.Store},
		{"SPOTAUTH_REDIS_ADDR", &config.Redis.Addr},
		{"SPOTAUTH_LOG_LEVEL", &config.Log.Level},
	}

	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.key)); v != "" {
			*o.target = v
		}
	}
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
