package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corvuslabs/magpie"
	"github.com/corvuslabs/magpie/creds"
	"github.com/corvuslabs/magpie/store/dirstore"
	"github.com/corvuslabs/magpie/store/memstore"
	"github.com/corvuslabs/magpie/store/sqlstore"
)

type fileConfig struct {
	Hostname    string `yaml:"hostname"`
	Listen      string `yaml:"listen"`
	MetricsAddr string `yaml:"metrics_listen"`

	TLS struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
		Require  bool   `yaml:"require"`
	} `yaml:"tls"`

	Auth struct {
		Users         map[string]string `yaml:"users"` // identity -> bcrypt hash
		Mechanisms    []string          `yaml:"mechanisms"`
		Require       bool              `yaml:"require"`
		AllowInsecure bool              `yaml:"allow_insecure"`
	} `yaml:"auth"`

	Store struct {
		Driver string `yaml:"driver"` // sqlite, dir or memory
		Path   string `yaml:"path"`
	} `yaml:"store"`

	Limits struct {
		MaxMessageSize int64 `yaml:"max_message_size"`
		MaxRecipients  int   `yaml:"max_recipients"`
		MaxConnections int   `yaml:"max_connections"`
		MaxErrors      int   `yaml:"max_errors"`
	} `yaml:"limits"`

	ReverseLookup   bool   `yaml:"reverse_lookup"`
	ShutdownTimeout string `yaml:"shutdown_timeout"` // time.ParseDuration form, e.g. "30s"
	LogLevel        string `yaml:"log_level"`
}

func loadConfig(path string) (*fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &fileConfig{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if cfg.Hostname == "" {
		return nil, fmt.Errorf("config: hostname is required")
	}
	return cfg, nil
}

// applyEnv overlays environment variables on the file values, so secrets
// and deploy-specific settings can stay out of the config file.
func (c *fileConfig) applyEnv() {
	if v := os.Getenv("MAGPIED_HOSTNAME"); v != "" {
		c.Hostname = v
	}
	if v := os.Getenv("MAGPIED_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("MAGPIED_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("MAGPIED_TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("MAGPIED_TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}
	// MAGPIED_AUTH_USER / MAGPIED_AUTH_HASH inject one account without
	// writing its hash to disk.
	if user := os.Getenv("MAGPIED_AUTH_USER"); user != "" {
		if hash := os.Getenv("MAGPIED_AUTH_HASH"); hash != "" {
			if c.Auth.Users == nil {
				c.Auth.Users = make(map[string]string)
			}
			c.Auth.Users[user] = hash
		}
	}
}

func (c *fileConfig) logLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildServerConfig turns the file form into a magpie.ServerConfig. The
// returned close function releases the store.
func (c *fileConfig) buildServerConfig(logger *slog.Logger) (magpie.ServerConfig, func() error, error) {
	cfg := magpie.DefaultServerConfig()
	cfg.Hostname = c.Hostname
	cfg.Logger = logger
	if c.Listen != "" {
		cfg.Addr = c.Listen
	}

	closeStore := func() error { return nil }
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return cfg, nil, fmt.Errorf("config: store.path is required for the sqlite driver")
		}
		store, err := sqlstore.Open(c.Store.Path)
		if err != nil {
			return cfg, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		cfg.Store = store
		closeStore = store.Close
	case "dir":
		if c.Store.Path == "" {
			return cfg, nil, fmt.Errorf("config: store.path is required for the dir driver")
		}
		store, err := dirstore.New(c.Store.Path)
		if err != nil {
			return cfg, nil, fmt.Errorf("open dir store: %w", err)
		}
		cfg.Store = store
	case "memory", "":
		cfg.Store = memstore.New()
	default:
		return cfg, nil, fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	if c.TLS.CertFile != "" || c.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return cfg, nil, fmt.Errorf("load TLS keypair: %w", err)
		}
		cfg.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	cfg.RequireTLS = c.TLS.Require

	if len(c.Auth.Users) > 0 {
		table := creds.NewStatic()
		for identity, hash := range c.Auth.Users {
			table.SetHash(identity, []byte(hash))
		}
		cfg.Authenticator = table
		cfg.AuthMechanisms = c.Auth.Mechanisms
		cfg.RequireAuth = c.Auth.Require
		cfg.AllowInsecureAuth = c.Auth.AllowInsecure
	}

	cfg.MaxMessageSize = c.Limits.MaxMessageSize
	cfg.MaxRecipients = c.Limits.MaxRecipients
	cfg.MaxConnections = c.Limits.MaxConnections
	if c.Limits.MaxErrors > 0 {
		cfg.MaxErrors = c.Limits.MaxErrors
	}
	cfg.ReverseLookup = c.ReverseLookup
	if c.ShutdownTimeout != "" {
		d, err := time.ParseDuration(c.ShutdownTimeout)
		if err != nil {
			return cfg, nil, fmt.Errorf("config: invalid shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	return cfg, closeStore, nil
}
