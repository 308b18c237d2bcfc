package middleware

import (
	"fmt"
	"runtime/debug"

	imap "github.com/ternpost/imapd"
	"github.com/ternpost/imapd/server"
)

// Recovery returns a middleware that recovers from panics in command
// handlers, turning them into a tagged NO response instead of killing the
// connection's serve loop.
func Recovery() Middleware {
	return func(next server.CommandHandler) server.CommandHandler {
		return server.CommandHandlerFunc(func(ctx *server.CommandContext) (err error) {
			defer func() {
				if r := recover(); r != nil {
					ctx.Conn.Logger().Errorw("panic in command handler",
						"tag", ctx.Tag,
						"command", ctx.Name,
						"panic", fmt.Sprintf("%v", r),
						"stack", string(debug.Stack()),
					)
					err = imap.ErrNo("internal server error")
				}
			}()

			return next.Handle(ctx)
		})
	}
}
