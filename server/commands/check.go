package commands

import (
	"github.com/ternpost/imapd/server"
)

// Check returns a handler for the CHECK command.
// CHECK requests a checkpoint of the currently selected mailbox: any
// pending housekeeping is performed and any updates accumulated for this
// session are flushed as untagged responses before the tagged OK.
func Check() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		w := server.NewUpdateWriter(ctx.Conn.Encoder())
		if err := ctx.Session.Poll(w, true); err != nil {
			return err
		}

		ctx.Conn.WriteOK(ctx.Tag, "CHECK completed")
		return nil
	}
}
