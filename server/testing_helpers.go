package server

import (
	"net"

	"go.uber.org/zap"
)

// NewTestConn creates a Conn suitable for use in tests. It wraps the given
// net.Conn with a minimal server configuration using default options and the
// provided logger. This function is intended for testing middleware and other
// components that require a *Conn.
func NewTestConn(netConn net.Conn, logger *zap.SugaredLogger) *Conn {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	srv := New(WithLogger(logger))
	return newConn(netConn, srv)
}
