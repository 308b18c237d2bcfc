package server

import (
	"crypto/tls"
	"time"

	"go.uber.org/zap"

	imap "github.com/ternpost/imapd"
)

// Option is a functional option for configuring the server.
type Option func(*Options)

// Options holds all server configuration.
type Options struct {
	// TLSConfig is the TLS configuration used by STARTTLS and by
	// ListenAndServeTLS when that is passed a nil config.
	TLSConfig *tls.Config

	// Caps is the set of capabilities to advertise.
	Caps *imap.CapSet

	// Logger is the structured logger.
	Logger *zap.SugaredLogger

	// NewSession is called when a new connection is established.
	// It must return a Session implementation.
	NewSession func(conn *Conn) (Session, error)

	// MaxLiteralSize records a literal size limit. The server does not
	// read it: literals of any size are accepted.
	MaxLiteralSize int64

	// ReadTimeout records a per-command read timeout. The server does not
	// read it and sets no read deadline on connections.
	ReadTimeout time.Duration

	// WriteTimeout records a response write timeout. The server does not
	// read it and sets no write deadline on connections.
	WriteTimeout time.Duration

	// IdleTimeout records an IDLE timeout. The server does not read it and
	// puts no time limit on IDLE.
	IdleTimeout time.Duration

	// MaxConnections is the maximum number of concurrent connections.
	// 0 means no limit.
	MaxConnections int

	// GreetingText is the text sent in the initial greeting.
	GreetingText string

	// AllowInsecureAuth allows authentication without TLS.
	AllowInsecureAuth bool

	// EnableStartTLS enables STARTTLS support.
	EnableStartTLS bool

	// InsecureSkipVerify is stored but not read by the server; TLS
	// verification is governed by TLSConfig alone.
	InsecureSkipVerify bool
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Caps:         NewDefaultCapSet(),
		Logger:       zap.NewNop().Sugar(),
		ReadTimeout:  30 * time.Minute,
		WriteTimeout: 1 * time.Minute,
		IdleTimeout:  30 * time.Minute,
		GreetingText: "IMAP server ready",
	}
}

// NewDefaultCapSet returns a CapSet with the default capabilities.
func NewDefaultCapSet() *imap.CapSet {
	return imap.NewCapSet(
		imap.CapIMAP4rev1,
		imap.CapIdle,
		imap.CapLiteralPlus,
		imap.CapAuthPlain,
		imap.CapSASLIR,
	)
}

// WithTLS configures TLS for the server.
func WithTLS(config *tls.Config) Option {
	return func(o *Options) {
		o.TLSConfig = config
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithNewSession sets the session factory.
func WithNewSession(fn func(conn *Conn) (Session, error)) Option {
	return func(o *Options) {
		o.NewSession = fn
	}
}

// WithMaxLiteralSize sets the maximum literal size.
func WithMaxLiteralSize(size int64) Option {
	return func(o *Options) {
		o.MaxLiteralSize = size
	}
}

// WithReadTimeout sets the read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ReadTimeout = d
	}
}

// WithWriteTimeout sets the write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.WriteTimeout = d
	}
}

// WithIdleTimeout sets the IDLE timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.IdleTimeout = d
	}
}

// WithMaxConnections sets the maximum number of connections.
func WithMaxConnections(n int) Option {
	return func(o *Options) {
		o.MaxConnections = n
	}
}

// WithCapabilities adds capabilities to the server.
func WithCapabilities(caps ...imap.Cap) Option {
	return func(o *Options) {
		o.Caps.Add(caps...)
	}
}

// WithGreetingText sets the greeting text.
func WithGreetingText(text string) Option {
	return func(o *Options) {
		o.GreetingText = text
	}
}

// WithAllowInsecureAuth allows authentication without TLS.
func WithAllowInsecureAuth(allow bool) Option {
	return func(o *Options) {
		o.AllowInsecureAuth = allow
	}
}

// WithStartTLS enables STARTTLS support with the given TLS config.
func WithStartTLS(config *tls.Config) Option {
	return func(o *Options) {
		o.EnableStartTLS = true
		if o.TLSConfig == nil {
			o.TLSConfig = config
		}
	}
}
