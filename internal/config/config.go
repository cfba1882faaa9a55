// Package config provides functionality for managing configuration options
// for the application using command-line flags, an optional JSON file and
// environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Options holds the configuration values for the application.
type Options struct {
	// Addr defines the API listening address (ip:port).
	Addr string `json:"address" env:"SERVER_ADDRESS" validate:"required,hostname_port"`

	// Storage selects the persistence backend.
	Storage string `json:"storage" env:"GOPHAUTH_STORAGE" validate:"oneof=file sqlite postgres"`

	// DataDir holds the file store and the default SQLite database.
	DataDir string `json:"data_dir" env:"GOPHAUTH_DATA_DIR" validate:"required"`

	// DatabaseDSN is the database connection string. Required for postgres.
	DatabaseDSN string `json:"database_dsn" env:"DATABASE_DSN" validate:"required_if=Storage postgres"`

	// VaultKey is the base64 vault encryption key. Never read from the config file.
	VaultKey string `json:"-" env:"GOPHAUTH_VAULT_KEY"`

	// KeyFile is used when VaultKey is empty; it is created on first run.
	KeyFile string `json:"key_file" env:"GOPHAUTH_KEY_FILE"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	// AutoLockIdle locks the app after this much inactivity. Zero disables it.
	AutoLockIdle Duration `json:"auto_lock_idle" env:"GOPHAUTH_AUTO_LOCK"`

	// TLS serves HTTPS with a self-signed certificate kept in DataDir/tls.
	TLS bool `json:"tls" env:"GOPHAUTH_TLS"`

	// Config is the path to the config file.
	Config string `json:"-" env:"CONFIG"`
}

// Duration is a time.Duration that reads and writes as "90s", "5m".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", b)
	}
	*d = Duration(v)
	return nil
}

// SQLiteDSN returns DatabaseDSN or, when it is empty, a database file in DataDir.
func (o *Options) SQLiteDSN() string {
	if o.DatabaseDSN != "" {
		return o.DatabaseDSN
	}
	return filepath.Join(o.DataDir, "gophauth.db")
}

// KeyPath returns KeyFile or its default location in DataDir.
func (o *Options) KeyPath() string {
	if o.KeyFile != "" {
		return o.KeyFile
	}
	return filepath.Join(o.DataDir, "vault.key")
}

// TLSCertPath returns the server certificate location, which clients use
// as their CA file.
func (o *Options) TLSCertPath() string {
	return filepath.Join(o.DataDir, "tls", "server.crt")
}

// TLSKeyPath returns the server private key location.
func (o *Options) TLSKeyPath() string {
	return filepath.Join(o.DataDir, "tls", "server.key")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds Options from args (without the program name). Flags are
// overridden by the config file, which is overridden by the environment.
// A .env file in the working directory is loaded if present.
func Load(args []string) (*Options, error) {
	_ = godotenv.Load()

	o := &Options{}
	fs := flag.NewFlagSet("gophauth", flag.ContinueOnError)
	fs.StringVar(&o.Addr, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&o.Storage, "s", StorageFile, "storage backend: file, sqlite or postgres")
	fs.StringVar(&o.DataDir, "data", defaultDataDir(), "data directory")
	fs.StringVar(&o.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&o.KeyFile, "key-file", "", "vault key file (default <data>/vault.key)")
	fs.StringVar(&o.LogLevel, "l", "info", "log level")
	fs.TextVar(&o.AutoLockIdle, "idle", Duration(5*time.Minute), "auto-lock after inactivity, 0 disables")
	fs.BoolVar(&o.TLS, "tls", false, "serve HTTPS with a self-signed certificate")
	fs.StringVar(&o.Config, "config", "config.json", "path to config file")
	fs.StringVar(&o.Config, "c", "config.json", "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		o.Config = configPath
	}
	if o.Config != "" {
		data, err := os.ReadFile(o.Config)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("error while reading config file: %w", err)
		default:
			if err := json.Unmarshal(data, o); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
		}
	}

	if err := env.Parse(o); err != nil {
		return nil, fmt.Errorf("error while parsing environment: %w", err)
	}
	o.Storage = strings.ToLower(o.Storage)
	o.LogLevel = strings.ToLower(o.LogLevel)

	if err := validate.Struct(o); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return o, nil
}

// Parse loads Options from the process arguments and exits on error.
func Parse() *Options {
	o, err := Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return o
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "gophauth")
	}
	return ".gophauth"
}
