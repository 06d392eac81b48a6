// Package config provides functionality for managing configuration options
// for the server using command-line flags, environment variables and an
// optional JSON config file.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"
)

// Options holds the configuration values for the server.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"address"`

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string `json:"database_dsn"`

	// Config is the path to the Config file.
	Config string `json:"-"`

	// LogLevel is the zap level name.
	LogLevel string `json:"log_level"`

	// TokenTTL is the lifetime of issued session tokens.
	TokenTTL Duration `json:"token_ttl"`

	// CleanupInterval is how often expired sessions are purged.
	CleanupInterval Duration `json:"cleanup_interval"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`
}

// TLSEnabled reports whether both TLS files are configured.
func (o *Options) TLSEnabled() bool {
	return o.TLSCert != "" && o.TLSKey != ""
}

// Duration is a time.Duration that reads "90s"-style strings from JSON.
type Duration struct {
	time.Duration
}

// UnmarshalJSON accepts a Go duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		d.Duration = v
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or an integer: %s", b)
	}
	d.Duration = time.Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func newFlagSet(o *Options) *flag.FlagSet {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&o.Port, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&o.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&o.Config, "config", "config.json", "path to config file")
	fs.StringVar(&o.Config, "c", "config.json", "path to config file (shorthand)")
	fs.StringVar(&o.LogLevel, "log-level", "info", "log level")
	fs.DurationVar(&o.TokenTTL.Duration, "token-ttl", 30*24*time.Hour, "session token lifetime")
	fs.DurationVar(&o.CleanupInterval.Duration, "cleanup-interval", time.Hour, "expired session purge interval")
	fs.StringVar(&o.TLSCert, "tls-cert", "", "server certificate (PEM)")
	fs.StringVar(&o.TLSKey, "tls-key", "", "server private key (PEM)")
	return fs
}

// ParseArgs resolves the options from args, the config file and the
// environment. Precedence, lowest first: defaults, config file, flags,
// environment variables.
func ParseArgs(args []string, getenv func(string) string) (*Options, error) {
	options := &Options{}
	fs := newFlagSet(options)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	explicit := map[string]string{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

	if configPath := getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		data, err := os.ReadFile(options.Config)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("error while reading config file: %w", err)
		default:
			configPath := options.Config
			if err := json.Unmarshal(data, options); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
			// Explicit flags win over the file.
			for name, value := range explicit {
				if err := fs.Set(name, value); err != nil {
					return nil, err
				}
			}
			options.Config = configPath
		}
	}

	if serverAddress := getenv("SERVER_ADDRESS"); serverAddress != "" {
		options.Port = serverAddress
	}
	if dsn := getenv("DATABASE_DSN"); dsn != "" {
		options.DatabaseDSN = dsn
	}
	if level := getenv("LOG_LEVEL"); level != "" {
		options.LogLevel = level
	}

	if options.DatabaseDSN == "" {
		return nil, errors.New("database DSN is required (-d or DATABASE_DSN)")
	}
	if (options.TLSCert == "") != (options.TLSKey == "") {
		return nil, errors.New("tls-cert and tls-key must be set together")
	}
	return options, nil
}

// Parse parses os.Args and the process environment. It exits the process on
// invalid configuration.
func Parse() *Options {
	options, err := ParseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return options
}
