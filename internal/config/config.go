package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Backend kinds.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
)

const (
	DefaultViewListen = "127.0.0.1:7420"
	DefaultLogLevel   = "info"
)

// Config represents the global ~/.chatterbox/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session"`
	Backend        Backend `toml:"backend"`
	Account        Account `toml:"account"`
	View           View    `toml:"view"`
	Log            Log     `toml:"log"`
	Tracing        Tracing `toml:"tracing"`
}

// Backend selects and locates the record store.
type Backend struct {
	Kind    string `toml:"kind" validate:"omitempty,oneof=sqlite postgres supabase"`
	Path    string `toml:"path,omitempty"`
	DSN     string `toml:"dsn,omitempty" validate:"required_if=Kind postgres"`
	URL     string `toml:"url,omitempty" validate:"required_if=Kind supabase,omitempty,url"`
	AnonKey string `toml:"anon_key,omitempty" validate:"required_if=Kind supabase"`
}

// Account holds optional credentials used to sign in at daemon start.
type Account struct {
	Email    string `toml:"email,omitempty" validate:"omitempty,email"`
	Password string `toml:"password,omitempty"`
}

// View configures the websocket listener for display clients.
type View struct {
	Listen string `toml:"listen,omitempty" validate:"omitempty,hostname_port"`
}

// Log configures the daemon logger.
type Log struct {
	Level string `toml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// Tracing toggles the stdout span exporter.
type Tracing struct {
	Enabled bool `toml:"enabled"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Resolve builds the effective daemon config: the file at path if it
// exists, then the variables of envFile (when present) and the process
// environment on top, then defaults. The result is validated.
func Resolve(path, envFile string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	if envFile != "" {
		// Existing variables win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints, e.g. after flags were applied on top
// of a resolved config.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	for env, field := range map[string]*string{
		"CHATTERBOX_BACKEND":  &c.Backend.Kind,
		"CHATTERBOX_DB":       &c.Backend.Path,
		"CHATTERBOX_DSN":      &c.Backend.DSN,
		"SUPABASE_URL":        &c.Backend.URL,
		"SUPABASE_ANON_KEY":   &c.Backend.AnonKey,
		"CHATTERBOX_EMAIL":    &c.Account.Email,
		"CHATTERBOX_PASSWORD": &c.Account.Password,
		"CHATTERBOX_LISTEN":   &c.View.Listen,
		"CHATTERBOX_LOG":      &c.Log.Level,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}
	if v := os.Getenv("CHATTERBOX_TRACING"); v == "1" || v == "true" {
		c.Tracing.Enabled = true
	}
}

func (c *Config) applyDefaults() {
	if c.Backend.Kind == "" {
		c.Backend.Kind = BackendSQLite
	}
	if c.View.Listen == "" {
		c.View.Listen = DefaultViewListen
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
