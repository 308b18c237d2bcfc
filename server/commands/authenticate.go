package commands

import (
	"context"
	"encoding/base64"
	"strings"

	imap "github.com/ternpost/imapd"
	"github.com/ternpost/imapd/auth"
	"github.com/ternpost/imapd/server"
	"github.com/ternpost/imapd/wire"
)

// sessionAuthenticator adapts a server.Session's Login method to
// auth.Authenticator so SASL mechanisms can validate credentials without
// knowing about the Session interface.
type sessionAuthenticator struct {
	session server.Session
}

func (a sessionAuthenticator) Authenticate(_ context.Context, _, identity string, credentials []byte) error {
	return a.session.Login(identity, string(credentials))
}

// Authenticate returns a handler for the AUTHENTICATE command (RFC 9051 §6.2.2).
// Only the PLAIN mechanism is supported; the client's initial response and
// any subsequent challenge/response round trips are base64-encoded per
// RFC 4422.
func Authenticate() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		if !ctx.Conn.IsTLS() && !ctx.Server.Options().AllowInsecureAuth {
			return imap.ErrNo("AUTHENTICATE disabled without TLS")
		}

		if ctx.Decoder == nil {
			return imap.ErrBad("missing mechanism name")
		}

		mechName, err := ctx.Decoder.ReadAtom()
		if err != nil {
			return imap.ErrBad("invalid mechanism name")
		}

		if !strings.EqualFold(mechName, "PLAIN") {
			return imap.ErrNo("unsupported authentication mechanism")
		}

		mech, err := auth.DefaultRegistry.NewServerMechanism(mechName, sessionAuthenticator{session: ctx.Session})
		if err != nil {
			return imap.ErrNo("unsupported authentication mechanism")
		}

		// Optional SASL-IR initial response on the same line.
		var initial []byte
		if spErr := ctx.Decoder.ReadSP(); spErr == nil {
			ir, err := ctx.Decoder.ReadAString()
			if err != nil {
				return imap.ErrBad("invalid initial response")
			}
			if ir == "=" {
				initial = []byte{}
			} else {
				decoded, err := base64.StdEncoding.DecodeString(ir)
				if err != nil {
					return imap.ErrBad("invalid base64 initial response")
				}
				initial = decoded
			}
		}

		response := initial
		for {
			challenge, done, mechErr := mech.Next(response)
			if done {
				if mechErr != nil {
					return imap.ErrNo("authentication failed")
				}
				break
			}

			enc := ctx.Conn.Encoder()
			enc.Encode(func(e *wire.Encoder) {
				e.ContinuationRequest(base64.StdEncoding.EncodeToString(challenge))
			})

			line, err := ctx.Conn.Decoder().ReadLine()
			if err != nil {
				return err
			}
			if strings.TrimSpace(line) == "*" {
				return imap.ErrBad("authentication cancelled")
			}
			decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line))
			if err != nil {
				return imap.ErrBad("invalid base64 response")
			}
			response = decoded
		}

		if err := ctx.Conn.SetState(imap.ConnStateAuthenticated); err != nil {
			return err
		}

		ctx.Conn.WriteOK(ctx.Tag, "AUTHENTICATE completed")
		return nil
	}
}
