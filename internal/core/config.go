package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator"
	"github.com/jo-hoe/goberry/internal/history"
	"github.com/jo-hoe/goberry/internal/preview"
	"github.com/jo-hoe/goberry/internal/workflow"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

type BackendConfig struct {
	URL string `yaml:"url" validate:"required,url"`
}

type HistoryConfig struct {
	Timezone        string `yaml:"timezone"`
	TimestampLayout string `yaml:"timestampLayout"`
	Locale          string `yaml:"locale"`
}

type PreferencesConfig struct {
	Type             string `yaml:"type" validate:"omitempty,oneof=memory sqlite postgres redis"`
	ConnectionString string `yaml:"connectionString"`
}

// SignalConfig enables the cross-instance change signal. Without a redis URL
// the preferences redis connection is reused when there is one.
type SignalConfig struct {
	RedisURL string `yaml:"redisUrl"`
	Channel  string `yaml:"channel"`
}

type SessionConfig struct {
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

type UploadConfig struct {
	MaxBytes int64 `yaml:"maxBytes" validate:"min=1"`
}

type ServiceConfig struct {
	Port        int                     `yaml:"port" validate:"min=1,max=65535"`
	LogLevel    string                  `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	Backend     BackendConfig           `yaml:"backend"`
	Progress    workflow.ProgressConfig `yaml:"progress"`
	History     HistoryConfig           `yaml:"history"`
	Preferences PreferencesConfig       `yaml:"preferences"`
	Signal      SignalConfig            `yaml:"signal"`
	Session     SessionConfig           `yaml:"session"`
	Upload      UploadConfig            `yaml:"upload"`
	Commands    []preview.CommandConfig `yaml:"commands"`
}

// DefaultCommands renders every upload as PNG no wider than 1024 pixels.
func DefaultCommands() []preview.CommandConfig {
	return []preview.CommandConfig{
		{Name: "PngConverterCommand", Params: map[string]any{}},
		{Name: "FitWidthCommand", Params: map[string]any{"maxWidth": 1024}},
	}
}

func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:     8080,
		LogLevel: "info",
		Backend:  BackendConfig{URL: "http://127.0.0.1:8000"},
		Progress: workflow.DefaultProgressConfig(),
		History: HistoryConfig{
			Timezone:        "Local",
			TimestampLayout: history.DefaultTimestampLayout,
			Locale:          "ru",
		},
		Preferences: PreferencesConfig{Type: "memory"},
		Session:     SessionConfig{IdleTimeout: 30 * time.Minute},
		Upload:      UploadConfig{MaxBytes: 10 << 20},
	}
}

// LoadEnvFile loads a .env file into the process environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from the specified YAML file on top of the
// defaults and applies environment overrides.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if config.Commands == nil {
		config.Commands = DefaultCommands()
	}

	if err := applyEnvOverrides(config, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}
	return config, nil
}

func applyEnvOverrides(config *ServiceConfig, lookup func(string) (string, bool)) error {
	if raw, ok := lookup("PORT"); ok && raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", raw, err)
		}
		config.Port = port
	}
	if url, ok := lookup("BACKEND_URL"); ok && url != "" {
		config.Backend.URL = url
	}
	if storeType, ok := lookup("PREFERENCES_TYPE"); ok && storeType != "" {
		config.Preferences.Type = storeType
	}
	if conn, ok := lookup("PREFERENCES_CONNECTION_STRING"); ok && conn != "" {
		config.Preferences.ConnectionString = conn
	}
	return nil
}

// Validate checks struct tags, then the values the tags cannot express.
func (c *ServiceConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Locale(); err != nil {
		return err
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session idle timeout must be positive, got %s", c.Session.IdleTimeout)
	}
	return validateCommands(c.Commands)
}

// Location resolves the history timezone.
func (c *ServiceConfig) Location() (*time.Location, error) {
	if c.History.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.History.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid history timezone %q: %w", c.History.Timezone, err)
	}
	return loc, nil
}

// Locale resolves the collation locale used for the status sort.
func (c *ServiceConfig) Locale() (language.Tag, error) {
	if c.History.Locale == "" {
		return language.Russian, nil
	}
	tag, err := language.Parse(c.History.Locale)
	if err != nil {
		return language.Und, fmt.Errorf("invalid history locale %q: %w", c.History.Locale, err)
	}
	return tag, nil
}

// validateCommands ensures all command configurations have required fields
func validateCommands(commands []preview.CommandConfig) error {
	seenNames := make(map[string]bool)

	for i, cmd := range commands {
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}
		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true
	}

	return nil
}
