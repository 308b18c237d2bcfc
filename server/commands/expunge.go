package commands

import (
	imap "github.com/ternpost/imapd"
	"github.com/ternpost/imapd/server"
)

// Expunge returns a handler for the EXPUNGE command.
// EXPUNGE permanently removes all messages that have the \Deleted flag set.
func Expunge() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		// For UID EXPUNGE, parse the UID set
		var uids *imap.UIDSet
		if ctx.NumKind == server.NumKindUID && ctx.Decoder != nil {
			uidStr, err := ctx.Decoder.ReadAtom()
			if err != nil {
				return imap.ErrBad("invalid UID set")
			}
			uidSet, err := imap.ParseUIDSet(uidStr)
			if err != nil {
				return imap.ErrBad("invalid UID set")
			}
			uids = uidSet
		}

		w := server.NewExpungeWriter(ctx.Conn.Encoder())
		if err := ctx.Session.Expunge(w, uids); err != nil {
			return err
		}

		// EXPUNGE already wrote its own untagged EXPUNGE responses above;
		// the generic drain must not repeat them.
		ctx.SetValue("no_drain", true)

		ctx.Conn.WriteOK(ctx.Tag, "EXPUNGE completed")
		return nil
	}
}
