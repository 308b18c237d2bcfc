package server

import (
	"sync"

	imap "github.com/ternpost/imapd"
)

// MailboxTracker tracks the state of a selected mailbox and fans out
// updates to every session currently watching it.
type MailboxTracker struct {
	mu          sync.RWMutex
	name        string
	numMessages uint32
	uidNext     imap.UID
	uidValidity uint32
	sessions    map[*SessionTracker]struct{}

	// recentCount is the \Recent count live to whichever session(s) are
	// currently watching this mailbox. It is seeded by SetRecentCount at
	// SELECT time (from the mailbox's unclaimed backlog) and incremented
	// by QueueNewMessage for every append that arrives while at least one
	// session is watching, so a message's recency is reflected here or in
	// the mailbox's unclaimed set, never both.
	recentCount uint32
}

// NewMailboxTracker creates a new tracker for a mailbox.
func NewMailboxTracker(name string, numMessages uint32, uidValidity uint32, uidNext imap.UID) *MailboxTracker {
	return &MailboxTracker{
		name:        name,
		numMessages: numMessages,
		uidNext:     uidNext,
		uidValidity: uidValidity,
		sessions:    make(map[*SessionTracker]struct{}),
	}
}

// Name returns the mailbox name.
func (t *MailboxTracker) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// NumMessages returns the current message count.
func (t *MailboxTracker) NumMessages() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.numMessages
}

// NumSessions reports how many sessions currently have this mailbox selected.
func (t *MailboxTracker) NumSessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// QueueUpdate queues an update for all sessions watching this mailbox.
func (t *MailboxTracker) QueueUpdate(update Update) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for st := range t.sessions {
		st.queueUpdate(update)
	}
}

// QueueUpdateExcept queues an update for all sessions watching this mailbox
// except origin. Used by STORE, which per RFC 3501 must not echo the
// mutating session's own flag change back to it as an unsolicited update.
func (t *MailboxTracker) QueueUpdateExcept(origin *SessionTracker, update Update) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for st := range t.sessions {
		if st == origin {
			continue
		}
		st.queueUpdate(update)
	}
}

// QueueExpunge queues an expunge notification and decrements the tracked
// message count.
func (t *MailboxTracker) QueueExpunge(seqNum uint32) {
	t.mu.Lock()
	if t.numMessages > 0 {
		t.numMessages--
	}
	t.mu.Unlock()
	t.QueueUpdate(ExpungeUpdate{SeqNum: seqNum})
}

// SetRecentCount seeds the tracker's live \Recent count, called right
// after SELECT claims the mailbox's unclaimed backlog so subsequent
// appends increment from that baseline rather than from zero.
func (t *MailboxTracker) SetRecentCount(n uint32) {
	t.mu.Lock()
	t.recentCount = n
	t.mu.Unlock()
}

// QueueNewMessage notifies sessions of a new message, incrementing the
// tracked message count and, since at least one session is watching
// whenever this is called with watchers present, the live \Recent count.
// Returns the resulting EXISTS value.
func (t *MailboxTracker) QueueNewMessage() uint32 {
	t.mu.Lock()
	t.numMessages++
	num := t.numMessages
	t.recentCount++
	recent := t.recentCount
	t.mu.Unlock()
	t.QueueUpdate(ExistsUpdate{NumMessages: num})
	t.QueueUpdate(RecentUpdate{Count: recent})
	return num
}

// QueueFlagsUpdate notifies sessions (except origin, when non-nil) of a
// flag change.
func (t *MailboxTracker) QueueFlagsUpdate(origin *SessionTracker, seqNum uint32, flags []imap.Flag) {
	update := FetchFlagsUpdate{SeqNum: seqNum, Flags: flags}
	if origin != nil {
		t.QueueUpdateExcept(origin, update)
	} else {
		t.QueueUpdate(update)
	}
}

func (t *MailboxTracker) addSession(st *SessionTracker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[st] = struct{}{}
}

func (t *MailboxTracker) removeSession(st *SessionTracker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, st)
}

// SessionTracker tracks pending updates for a single connection's
// selection, plus the level-triggered "updated" signal IDLE and
// blocking-CHECK wait on.
type SessionTracker struct {
	mu      sync.Mutex
	mailbox *MailboxTracker
	updates []Update
	signal  chan struct{}
}

// NewSessionTracker creates a new session tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		signal: make(chan struct{}, 1),
	}
}

// Select associates the session with a mailbox, replacing any prior
// association.
func (st *SessionTracker) Select(mbox *MailboxTracker) {
	st.mu.Lock()
	if st.mailbox != nil {
		st.mailbox.removeSession(st)
	}
	st.mailbox = mbox
	st.updates = nil
	st.mu.Unlock()
	if mbox != nil {
		mbox.addSession(st)
	}
}

// Unselect disassociates the session from the current mailbox.
func (st *SessionTracker) Unselect() {
	st.mu.Lock()
	if st.mailbox != nil {
		st.mailbox.removeSession(st)
	}
	st.mailbox = nil
	st.updates = nil
	st.mu.Unlock()
}

// Signal wakes anyone blocked in Wait. Safe to call from any goroutine;
// non-blocking.
func (st *SessionTracker) Signal() {
	select {
	case st.signal <- struct{}{}:
	default:
	}
}

// Wait suspends until an update has been signaled, or ctx-like stop fires.
// Used by IDLE and by CHECK(block=true).
func (st *SessionTracker) Wait(stop <-chan struct{}) {
	select {
	case <-st.signal:
	case <-stop:
	}
}

// Flush drains all pending updates into w, coalescing EXISTS/RECENT into a
// single final value each while preserving the original relative order of
// EXPUNGE and FETCH entries, per the ordering rule: Exists, Recent,
// Expunge*, Fetch*, tagged-response.
func (st *SessionTracker) Flush(w *UpdateWriter, allowExpunge bool) {
	st.mu.Lock()
	updates := st.updates
	st.updates = nil
	st.mu.Unlock()

	var (
		haveExists bool
		exists     uint32
		haveRecent bool
		recent     uint32
		rest       []Update
	)

	for _, u := range updates {
		switch v := u.(type) {
		case ExistsUpdate:
			haveExists = true
			exists = v.NumMessages
		case RecentUpdate:
			haveRecent = true
			recent = v.Count
		default:
			rest = append(rest, u)
		}
	}

	if haveExists {
		w.WriteExists(exists)
	}
	if haveRecent {
		w.WriteRecent(recent)
	}
	for _, u := range rest {
		switch v := u.(type) {
		case ExpungeUpdate:
			if allowExpunge {
				w.WriteExpunge(v.SeqNum)
			}
		case FetchFlagsUpdate:
			w.WriteMessageFlags(v.SeqNum, v.Flags)
		}
	}
}

func (st *SessionTracker) queueUpdate(update Update) {
	st.mu.Lock()
	st.updates = append(st.updates, update)
	st.mu.Unlock()
	st.Signal()
}

// Update is an interface for mailbox updates.
type Update interface {
	updateType() string
}

// ExistsUpdate indicates the mailbox message count changed.
type ExistsUpdate struct {
	NumMessages uint32
}

func (ExistsUpdate) updateType() string { return "EXISTS" }

// RecentUpdate indicates this session's \Recent claim count changed.
type RecentUpdate struct {
	Count uint32
}

func (RecentUpdate) updateType() string { return "RECENT" }

// ExpungeUpdate indicates a message was expunged.
type ExpungeUpdate struct {
	SeqNum uint32
}

func (ExpungeUpdate) updateType() string { return "EXPUNGE" }

// FetchFlagsUpdate indicates message flags changed.
type FetchFlagsUpdate struct {
	SeqNum uint32
	Flags  []imap.Flag
}

func (FetchFlagsUpdate) updateType() string { return "FETCH" }
