package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ClientConfigFile is the name of the optional JSON file in the client home.
const ClientConfigFile = "config.json"

// ClientOptions holds the configuration of the command-line client.
type ClientOptions struct {
	// Home is the directory holding the local cache, state and keys.
	Home string `json:"-"`
	// Backend selects the remote store: "api" or "docstore".
	Backend string `json:"backend"`
	// ServerURL is the base URL of the API server.
	ServerURL string `json:"server_url"`
	// CAFile optionally pins the CA that signed the server certificate.
	CAFile string `json:"ca_file"`
	// LogLevel is the zap level name.
	LogLevel string `json:"log_level"`
	// Timeout bounds every HTTP request.
	Timeout Duration `json:"timeout"`
	// SyncInterval is the period of background sync in the shell.
	SyncInterval Duration `json:"sync_interval"`
}

// DefaultClientOptions returns the built-in client defaults.
func DefaultClientOptions() ClientOptions {
	home := ".glucosync"
	if dir, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(dir, ".glucosync")
	}
	return ClientOptions{
		Home:         home,
		Backend:      "api",
		ServerURL:    "http://localhost:8080",
		LogLevel:     "warn",
		Timeout:      Duration{10 * time.Second},
		SyncInterval: Duration{time.Minute},
	}
}

// clientField binds one option to its flag name and environment variable.
type clientField struct {
	flag string
	env  string
	set  func(o *ClientOptions, v string) error
	copy func(dst, src *ClientOptions)
}

var clientFields = []clientField{
	{
		flag: "backend", env: "GLUCOSYNC_BACKEND",
		set:  func(o *ClientOptions, v string) error { o.Backend = v; return nil },
		copy: func(d, s *ClientOptions) { d.Backend = s.Backend },
	},
	{
		flag: "server", env: "GLUCOSYNC_SERVER_URL",
		set:  func(o *ClientOptions, v string) error { o.ServerURL = v; return nil },
		copy: func(d, s *ClientOptions) { d.ServerURL = s.ServerURL },
	},
	{
		flag: "ca", env: "GLUCOSYNC_CA_FILE",
		set:  func(o *ClientOptions, v string) error { o.CAFile = v; return nil },
		copy: func(d, s *ClientOptions) { d.CAFile = s.CAFile },
	},
	{
		flag: "log-level", env: "GLUCOSYNC_LOG_LEVEL",
		set:  func(o *ClientOptions, v string) error { o.LogLevel = v; return nil },
		copy: func(d, s *ClientOptions) { d.LogLevel = s.LogLevel },
	},
	{
		flag: "timeout", env: "GLUCOSYNC_TIMEOUT",
		set:  func(o *ClientOptions, v string) error { return setDuration(&o.Timeout, v) },
		copy: func(d, s *ClientOptions) { d.Timeout = s.Timeout },
	},
	{
		flag: "sync-interval", env: "GLUCOSYNC_SYNC_INTERVAL",
		set:  func(o *ClientOptions, v string) error { return setDuration(&o.SyncInterval, v) },
		copy: func(d, s *ClientOptions) { d.SyncInterval = s.SyncInterval },
	},
}

// ResolveClient completes o, whose fields already hold flag values or
// defaults. For every option whose flag was not changed, a GLUCOSYNC_*
// environment variable wins over the config file, which wins over the
// default. The home directory comes from the flag or GLUCOSYNC_HOME only.
func ResolveClient(o *ClientOptions, changed func(flag string) bool, getenv func(string) string) error {
	if !changed("home") {
		if home := getenv("GLUCOSYNC_HOME"); home != "" {
			o.Home = home
		}
	}

	file, err := readClientFile(filepath.Join(o.Home, ClientConfigFile))
	if err != nil {
		return err
	}

	for _, f := range clientFields {
		if changed(f.flag) {
			continue
		}
		if v := getenv(f.env); v != "" {
			if err := f.set(o, v); err != nil {
				return fmt.Errorf("%s: %w", f.env, err)
			}
			continue
		}
		if file != nil {
			f.copy(o, mergeNonZero(*o, *file))
		}
	}

	switch o.Backend {
	case "api", "docstore":
	default:
		return fmt.Errorf("unknown backend %q (want api or docstore)", o.Backend)
	}
	return nil
}

func readClientFile(path string) (*ClientOptions, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error while reading config file: %w", err)
	}
	var file ClientOptions
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error while parsing config file %s: %w", path, err)
	}
	return &file, nil
}

// mergeNonZero returns base with every non-zero field of over applied.
func mergeNonZero(base, over ClientOptions) *ClientOptions {
	if over.Backend != "" {
		base.Backend = over.Backend
	}
	if over.ServerURL != "" {
		base.ServerURL = over.ServerURL
	}
	if over.CAFile != "" {
		base.CAFile = over.CAFile
	}
	if over.LogLevel != "" {
		base.LogLevel = over.LogLevel
	}
	if over.Timeout.Duration != 0 {
		base.Timeout = over.Timeout
	}
	if over.SyncInterval.Duration != 0 {
		base.SyncInterval = over.SyncInterval
	}
	return &base
}

func setDuration(d *Duration, v string) error {
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
