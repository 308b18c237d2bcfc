package state

import (
	imap "github.com/ternpost/imapd"
)

// DefaultTransitions returns the default RFC 9051 state transition rules.
//
// The allowed transitions are:
//   - NotAuthenticated -> Authenticated (via LOGIN/AUTHENTICATE)
//   - NotAuthenticated -> Logout (via LOGOUT)
//   - Authenticated -> Selected (via SELECT/EXAMINE)
//   - Authenticated -> Logout (via LOGOUT)
//   - Authenticated -> NotAuthenticated (via UNAUTHENTICATE)
//   - Selected -> Authenticated (via CLOSE/UNSELECT)
//   - Selected -> Selected (via SELECT/EXAMINE of another mailbox)
//   - Selected -> Logout (via LOGOUT)
func DefaultTransitions() map[imap.ConnState][]imap.ConnState {
	return map[imap.ConnState][]imap.ConnState{
		imap.ConnStateNotAuthenticated: {
			imap.ConnStateAuthenticated,
			imap.ConnStateLogout,
		},
		imap.ConnStateAuthenticated: {
			imap.ConnStateSelected,
			imap.ConnStateLogout,
			imap.ConnStateNotAuthenticated, // UNAUTHENTICATE
		},
		imap.ConnStateSelected: {
			imap.ConnStateAuthenticated,
			imap.ConnStateSelected, // re-select
			imap.ConnStateLogout,
		},
	}
}

// CommandAllowedStates returns the states in which a command is allowed
// according to RFC 9051.
func CommandAllowedStates(cmd string) []imap.ConnState {
	switch cmd {
	// Any state
	case "CAPABILITY", "NOOP", "LOGOUT":
		return []imap.ConnState{
			imap.ConnStateNotAuthenticated,
			imap.ConnStateAuthenticated,
			imap.ConnStateSelected,
		}

	// Not authenticated state
	case "STARTTLS", "AUTHENTICATE", "LOGIN":
		return []imap.ConnState{
			imap.ConnStateNotAuthenticated,
		}

	// Authenticated state
	case "ENABLE", "SELECT", "EXAMINE", "CREATE", "DELETE", "RENAME",
		"SUBSCRIBE", "UNSUBSCRIBE", "LIST", "LSUB", "NAMESPACE",
		"STATUS", "APPEND", "IDLE":
		return []imap.ConnState{
			imap.ConnStateAuthenticated,
			imap.ConnStateSelected,
		}

	// Selected state
	case "CLOSE", "UNSELECT", "EXPUNGE", "SEARCH", "FETCH", "STORE",
		"COPY", "MOVE", "SORT", "THREAD", "UID", "CHECK":
		return []imap.ConnState{
			imap.ConnStateSelected,
		}

	default:
		return nil
	}
}

// GateErrorText renders the spec-exact BAD text for a command rejected by
// the state gate, given the command's allowed states and the connection's
// actual state. It assumes allowed is non-empty and current is not in it
// (the caller already confirmed the gate failed).
func GateErrorText(cmd string, allowed []imap.ConnState, current imap.ConnState) string {
	onlyNotAuth := len(allowed) == 1 && allowed[0] == imap.ConnStateNotAuthenticated
	if onlyNotAuth {
		return cmd + ": Already authenticated."
	}

	requiresSelect := false
	for _, s := range allowed {
		if s == imap.ConnStateSelected {
			requiresSelect = true
			break
		}
	}

	// A session is the more fundamental prerequisite: a connection with no
	// session can't satisfy a selection requirement either, so it gets the
	// authenticate-first text regardless of which gate it tripped.
	if current == imap.ConnStateNotAuthenticated {
		return cmd + ": Must authenticate first."
	}
	if requiresSelect {
		return cmd + ": Must select a mailbox first."
	}

	return cmd + ": command not allowed in " + current.String() + " state."
}
