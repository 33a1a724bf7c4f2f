// Package config loads the relay's typed settings from a YAML file with
// environment overrides, validates them, and holds the live snapshot that
// hot reloads update.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInviteCodeUnsupported is returned when InviteCode is selected; the
	// method has no handshake.
	ErrInviteCodeUnsupported = errors.New("auth method InviteCode has no handshake and cannot be used")
	// ErrInvalidConfig wraps every other validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config holds the server settings. Keys follow the settings file names.
type Config struct {
	BindAddress          string        `yaml:"bindAddress" env:"CHATRELAY_BIND_ADDRESS"`
	ServerPort           int           `yaml:"serverPort" env:"CHATRELAY_SERVER_PORT"`
	MaxClients           int           `yaml:"maxClients" env:"CHATRELAY_MAX_CLIENTS"`
	AuthMethod           AuthMethod    `yaml:"authMethod" env:"CHATRELAY_AUTH_METHOD"`
	PassKey              string        `yaml:"passKey" env:"CHATRELAY_PASS_KEY"`
	LogPackets           bool          `yaml:"logPackets" env:"CHATRELAY_LOG_PACKETS"`
	WriteInFile          bool          `yaml:"writeInFile" env:"CHATRELAY_WRITE_IN_FILE"`
	LogDir               string        `yaml:"logDir" env:"CHATRELAY_LOG_DIR"`
	LogLevel             string        `yaml:"logLevel" env:"CHATRELAY_LOG_LEVEL"`
	DefaultBanTime       time.Duration `yaml:"defaultBanTime" env:"CHATRELAY_DEFAULT_BAN_TIME"`
	ServerOwner          string        `yaml:"svOwner" env:"CHATRELAY_SV_OWNER"`
	ServerName           string        `yaml:"svName" env:"CHATRELAY_SV_NAME"`
	WelcomeMessage       string        `yaml:"svWelcomeMsg" env:"CHATRELAY_SV_WELCOME_MSG"`
	SendServerInfo       bool          `yaml:"sendServerInfo" env:"CHATRELAY_SEND_SERVER_INFO"`
	RejectWhenFull       bool          `yaml:"rejectWhenFull" env:"CHATRELAY_REJECT_WHEN_FULL"`
	CapacityPollInterval time.Duration `yaml:"capacityPollInterval" env:"CHATRELAY_CAPACITY_POLL_INTERVAL"`
	HandshakeTimeout     time.Duration `yaml:"handshakeTimeout" env:"CHATRELAY_HANDSHAKE_TIMEOUT"`
	WriteTimeout         time.Duration `yaml:"writeTimeout" env:"CHATRELAY_WRITE_TIMEOUT"`
	BanSweepInterval     time.Duration `yaml:"banSweepInterval" env:"CHATRELAY_BAN_SWEEP_INTERVAL"`
	MetricsAddress       string        `yaml:"metricsAddress" env:"CHATRELAY_METRICS_ADDRESS"`
	RedisAddress         string        `yaml:"redisAddress" env:"CHATRELAY_REDIS_ADDRESS"`
	RedisKeyPrefix       string        `yaml:"redisKeyPrefix" env:"CHATRELAY_REDIS_KEY_PREFIX"`
}

// Default returns the settings used when a key is absent from the file.
func Default() *Config {
	return &Config{
		BindAddress:          "0.0.0.0",
		ServerPort:           3000,
		MaxClients:           50,
		AuthMethod:           UsernameOnly,
		LogDir:               "logs",
		LogLevel:             "info",
		DefaultBanTime:       5 * time.Minute,
		ServerOwner:          "admin",
		ServerName:           "chatrelay",
		WelcomeMessage:       "Welcome!",
		CapacityPollInterval: 100 * time.Millisecond,
		WriteTimeout:         5 * time.Second,
		BanSweepInterval:     time.Second,
		RedisKeyPrefix:       "chatrelay:bans:",
	}
}

// Load reads the settings file at path over the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
//
// Parameters:
//   - path: Location of the YAML settings file, or ""
//
// Returns:
//   - The loaded settings, or an error if reading, decoding or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode settings %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WriteDefault writes the default settings to path. It fails if the file
// already exists.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode default settings: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create settings %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	_, err = f.Write(data)
	return err
}

// Validate checks the settings for values the server cannot run with.
func (c *Config) Validate() error {
	if c.AuthMethod == InviteCode {
		return ErrInviteCodeUnsupported
	}

	if c.AuthMethod != UsernameOnly && c.AuthMethod != Full {
		return fmt.Errorf("%w: unknown auth method %d", ErrInvalidConfig, int(c.AuthMethod))
	}

	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("%w: serverPort %d out of range", ErrInvalidConfig, c.ServerPort)
	}

	if c.MaxClients <= 0 {
		return fmt.Errorf("%w: maxClients must be positive", ErrInvalidConfig)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	durations := map[string]time.Duration{
		"defaultBanTime":       c.DefaultBanTime,
		"capacityPollInterval": c.CapacityPollInterval,
		"handshakeTimeout":     c.HandshakeTimeout,
		"writeTimeout":         c.WriteTimeout,
		"banSweepInterval":     c.BanSweepInterval,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, key)
		}
	}

	if c.CapacityPollInterval == 0 || c.BanSweepInterval == 0 {
		return fmt.Errorf("%w: capacityPollInterval and banSweepInterval must be positive", ErrInvalidConfig)
	}

	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.ServerPort))
}

// Entry is one setting rendered for display.
type Entry struct {
	Key   string
	Value string
}

// Entries lists every setting in declaration order. The password is masked.
func (c *Config) Entries() []Entry {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()

	entries := make([]Entry, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("yaml")
		value := fmt.Sprint(v.Field(i).Interface())
		if key == "passKey" && value != "" {
			value = "********"
		}
		entries = append(entries, Entry{Key: key, Value: value})
	}

	return entries
}

// Lookup returns the displayed value of one setting.
func (c *Config) Lookup(key string) (string, bool) {
	for _, e := range c.Entries() {
		if e.Key == key {
			return e.Value, true
		}
	}

	return "", false
}
