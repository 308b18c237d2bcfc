package mailstore

import (
	"sync"

	imap "github.com/ternpost/imapd"
)

// UserData holds all mailbox data for a single user.
type UserData struct {
	mu        sync.RWMutex
	Mailboxes map[string]*Mailbox

	// lastUIDValidity guards against two mailboxes created within the
	// same wall-clock second getting the same UID validity.
	lastUIDValidity uint32
}

// NewUserData creates a new UserData with a default INBOX.
func NewUserData() *UserData {
	u := &UserData{
		Mailboxes: make(map[string]*Mailbox),
	}
	inbox := u.newMailboxLocked("INBOX")
	inbox.Subscribed = true
	u.Mailboxes["INBOX"] = inbox
	return u
}

// newMailboxLocked creates a mailbox with a UID validity guaranteed to
// differ from the last one this user issued. Caller must hold u.mu.
func (u *UserData) newMailboxLocked(name string) *Mailbox {
	mbox := NewMailbox(name)
	if mbox.UIDValidity <= u.lastUIDValidity {
		mbox.UIDValidity = u.lastUIDValidity + 1
	}
	u.lastUIDValidity = mbox.UIDValidity
	return mbox
}

// GetMailbox returns the mailbox with the given name.
// INBOX is matched case-insensitively per the IMAP spec.
func (u *UserData) GetMailbox(name string) *Mailbox {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.getMailboxLocked(name)
}

// getMailboxLocked returns a mailbox without locking. Caller must hold at least a read lock.
func (u *UserData) getMailboxLocked(name string) *Mailbox {
	// INBOX is case-insensitive
	mbox, ok := u.Mailboxes[name]
	if ok {
		return mbox
	}
	// Try case-insensitive match for INBOX
	if normalizeINBOX(name) == "INBOX" {
		return u.Mailboxes["INBOX"]
	}
	return nil
}

// CreateMailbox creates a new mailbox with the given name. INBOX always
// exists, so creating it is rejected outright rather than reported as a
// conflict with an existing mailbox.
func (u *UserData) CreateMailbox(name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if normalizeINBOX(name) == "INBOX" {
		return imap.ErrNo("Cannot create INBOX.")
	}

	if u.getMailboxLocked(name) != nil {
		return imap.ErrNo("Mailbox already exists.")
	}

	u.Mailboxes[name] = u.newMailboxLocked(name)
	return nil
}

// DeleteMailbox deletes the mailbox with the given name. INBOX can never
// be deleted, and a mailbox with inferior hierarchical names (children)
// must have those children removed first.
func (u *UserData) DeleteMailbox(name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if normalizeINBOX(name) == "INBOX" {
		return imap.ErrNo("Cannot delete INBOX.")
	}

	if u.getMailboxLocked(name) == nil {
		return imap.ErrNo("Mailbox not found.")
	}

	if HasChildren(name, u.mailboxNamesLocked(), Delimiter) {
		return imap.ErrNo("Mailbox has inferior hierarchical names.")
	}

	delete(u.Mailboxes, name)
	return nil
}

// RenameMailbox renames a mailbox. Renaming to INBOX is rejected.
// Renaming INBOX itself is special-cased per RFC 3501 6.3.5: INBOX's
// messages move to newName under a fresh mailbox, while INBOX itself is
// reset to a new, empty mailbox rather than removed.
func (u *UserData) RenameMailbox(oldName, newName string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	mbox := u.getMailboxLocked(oldName)
	if mbox == nil {
		return imap.ErrNo("Mailbox not found.")
	}

	if normalizeINBOX(newName) == "INBOX" {
		return imap.ErrNo("Cannot rename to INBOX.")
	}

	if u.getMailboxLocked(newName) != nil {
		return imap.ErrNo("Mailbox already exists.")
	}

	if normalizeINBOX(oldName) == "INBOX" {
		renamed := u.newMailboxLocked(newName)
		renamed.Messages = mbox.Messages
		renamed.UIDNext = mbox.UIDNext
		u.Mailboxes[newName] = renamed

		u.Mailboxes["INBOX"] = u.newMailboxLocked("INBOX")
		return nil
	}

	delete(u.Mailboxes, oldName)
	mbox.Name = newName
	u.Mailboxes[newName] = mbox

	return nil
}

// MailboxNames returns a list of all mailbox names.
func (u *UserData) MailboxNames() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.mailboxNamesLocked()
}

// mailboxNamesLocked returns all mailbox names. Caller must hold at
// least a read lock.
func (u *UserData) mailboxNamesLocked() []string {
	names := make([]string, 0, len(u.Mailboxes))
	for name := range u.Mailboxes {
		names = append(names, name)
	}
	return names
}

// normalizeINBOX normalizes a mailbox name to "INBOX" if it matches case-insensitively.
func normalizeINBOX(name string) string {
	if len(name) == 5 {
		upper := ""
		for _, c := range name {
			if c >= 'a' && c <= 'z' {
				upper += string(c - 32)
			} else {
				upper += string(c)
			}
		}
		if upper == "INBOX" {
			return "INBOX"
		}
	}
	return name
}
