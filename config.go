package magpie

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// ServerConfig is the immutable configuration a Server is built from. It is
// assembled once, before any session starts, and read-only afterwards.
type ServerConfig struct {
	// Hostname is the identity announced in the greeting, EHLO response
	// and QUIT reply. Required.
	Hostname string

	// Addr is the listen address. Defaults to ":25".
	Addr string

	// TLSConfig enables STARTTLS (and ListenAndServeTLS). Nil disables
	// the secure upgrade.
	TLSConfig *tls.Config

	// RequireTLS rejects MAIL on unsecured channels.
	RequireTLS bool

	// Store receives every completed message. Required.
	Store Store

	// Authenticator validates AUTH credentials. Nil disables AUTH.
	Authenticator Authenticator

	// AuthMechanisms lists the advertised SASL mechanisms. Defaults to
	// PLAIN and LOGIN when an Authenticator is set.
	AuthMechanisms []string

	// RequireAuth rejects MAIL from unauthenticated sessions.
	RequireAuth bool

	// AllowInsecureAuth permits credential exchange on an unsecured
	// channel. Off by default: AUTH then requires an active secure
	// channel.
	AllowInsecureAuth bool

	// RecipientFilter, when set, is consulted per RCPT command.
	RecipientFilter RecipientFilter

	// MaxMessageSize bounds the DATA body and is advertised via SIZE.
	// 0 means unlimited.
	MaxMessageSize int64

	// MaxRecipients bounds recipients per transaction. 0 = unlimited.
	MaxRecipients int

	// MaxConnections bounds concurrent sessions. Additional connections
	// queue in the accept backlog. 0 = unlimited.
	MaxConnections int

	// MaxCommands disconnects a session after this many commands.
	// 0 = unlimited.
	MaxCommands int64

	// MaxErrors disconnects a session after this many protocol errors.
	// 0 = unlimited.
	MaxErrors int

	// MaxLineLength bounds a single command line. Defaults to 512
	// (RFC 5321 Section 4.5.3.1.4).
	MaxLineLength int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DataTimeout  time.Duration

	// ShutdownTimeout is the grace period ListenAndServe-driven shutdown
	// waits for in-flight sessions.
	ShutdownTimeout time.Duration

	// ReverseLookup enables a best-effort PTR lookup of the client IP,
	// recorded in the session trace and logs.
	ReverseLookup bool

	// Resolver overrides the DNS resolver used for reverse lookups.
	Resolver *ReverseResolver

	Logger *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with production defaults.
// Store and Hostname must still be set.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":25",
		ReadTimeout:     5 * time.Minute,
		WriteTimeout:    5 * time.Minute,
		DataTimeout:     10 * time.Minute,
		MaxLineLength:   512,
		MaxErrors:       10,
		ShutdownTimeout: 30 * time.Second,
		Logger:          slog.Default(),
	}
}

// SubmissionConfig returns a ServerConfig for authenticated mail submission
// (port 587): AUTH required, credential exchange only over TLS.
func SubmissionConfig() ServerConfig {
	config := DefaultServerConfig()
	config.Addr = ":587"
	config.AuthMechanisms = []string{"PLAIN"}
	config.RequireAuth = true
	config.RequireTLS = true
	return config
}

func (c *ServerConfig) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":25"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.DataTimeout == 0 {
		c.DataTimeout = 10 * time.Minute
	}
	if c.MaxLineLength == 0 {
		c.MaxLineLength = 512
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Authenticator != nil && len(c.AuthMechanisms) == 0 {
		c.AuthMechanisms = []string{"PLAIN", "LOGIN"}
	}
}
