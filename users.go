package roundtable

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var (
	ErrDirectoryFull = errors.New("directory is at capacity")
	ErrNameTaken     = errors.New("nickname already in use")
	ErrSessionClosed = errors.New("session is no longer connected")
)

// Command permission levels. These gate command dispatch, not room
// moderation (see the room permission levels in channel.go).
const (
	PermUnregistered = 0
	PermRegistered   = 1
	PermAdmin        = 2
)

// User mode flags.
const (
	UserModeAway       = 'a'
	UserModeRegistered = 'r'
	UserModeAdmin      = 'o'
)

// sessionWriteTimeout bounds a single socket write so one stuck client
// cannot hold its session lock forever.
const sessionWriteTimeout = 10 * time.Second

// SessionID is the stable handle room memberships store instead of a
// session pointer. Ids are process-wide, monotonic, and assigned once.
type SessionID uint64

// Session is the server-side state for one connected client. The
// directory owns it; rooms and in-flight commands only reference it.
type Session struct {
	// ID never changes after creation.
	ID SessionID

	conn net.Conn

	// lock guards the identity fields and the socket write path.
	lock   sync.Mutex
	nick   string
	folded string
	modes  map[rune]bool

	flood *floodLimiter

	// pending holds synthesized commands (e.g. the NAMES issued on a
	// JOIN) that the owning worker dispatches after the current line.
	pendingLock sync.Mutex
	pending     []*Message
}

// Nick returns the display nickname, or * before one is set.
func (s *Session) Nick() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.nick == "" {
		return "*"
	}
	return s.nick
}

// foldedNick returns the casefolded nickname used by the directory index.
func (s *Session) foldedNick() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.folded
}

// HasMode reports whether the given user mode flag is set.
func (s *Session) HasMode(mode rune) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.modes[mode]
}

// SetMode sets or clears a user mode flag.
func (s *Session) SetMode(mode rune, on bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if on {
		s.modes[mode] = true
	} else {
		delete(s.modes, mode)
	}
}

// PermLevel derives the command permission level from the mode flags.
func (s *Session) PermLevel() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	switch {
	case s.modes[UserModeAdmin]:
		return PermAdmin
	case s.modes[UserModeRegistered]:
		return PermRegistered
	default:
		return PermUnregistered
	}
}

// Write serializes the message and writes it to the session's socket
// under the session lock.
func (s *Session) Write(msg *Message) error {
	return s.WriteLine(msg.String())
}

// WriteLine writes one delimited protocol line to the session's socket.
// Lines over the protocol bound are truncated; a 353 for a crowded
// channel can otherwise outgrow it.
func (s *Session) WriteLine(line string) error {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength]
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
	_, err := s.conn.Write([]byte(line + "\r\n"))
	if err != nil {
		return fmt.Errorf("write to client: %w", err)
	}
	return nil
}

// Close closes the session's socket. Safe to call more than once.
func (s *Session) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.conn.Close()
}

// queueCommand appends a synthesized command for the owning worker to
// dispatch once the current line's handler has finished.
func (s *Session) queueCommand(msg *Message) {
	s.pendingLock.Lock()
	s.pending = append(s.pending, msg)
	s.pendingLock.Unlock()
}

// takePending removes and returns all queued synthesized commands.
func (s *Session) takePending() []*Message {
	s.pendingLock.Lock()
	defer s.pendingLock.Unlock()
	pending := s.pending
	s.pending = nil
	return pending
}

// Directory is the process-wide registry of connected sessions. It is
// capacity-bounded and keeps nicknames unique among active sessions.
type Directory struct {
	lock    sync.Mutex
	max     int
	nextID  SessionID
	byID    map[SessionID]*Session
	byNick  map[string]SessionID
	nickLen int
}

// NewDirectory returns an empty directory holding at most max sessions.
func NewDirectory(max, nickLen int) *Directory {
	return &Directory{
		max:     max,
		byID:    make(map[SessionID]*Session),
		byNick:  make(map[string]SessionID),
		nickLen: nickLen,
	}
}

// CreateSession admits a new connection. It fails when the directory is
// at capacity.
func (d *Directory) CreateSession(conn net.Conn) (*Session, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if len(d.byID) >= d.max {
		return nil, ErrDirectoryFull
	}
	s := &Session{
		ID:    d.nextID,
		conn:  conn,
		modes: make(map[rune]bool),
		flood: newFloodLimiter(),
	}
	d.nextID++
	d.byID[s.ID] = s
	return s, nil
}

// Get returns the session with the given id, or nil if it is gone.
func (d *Directory) Get(id SessionID) *Session {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.byID[id]
}

// Len returns the number of active sessions.
func (d *Directory) Len() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.byID)
}

// FindByNickname returns the session using the given nickname, or nil.
func (d *Directory) FindByNickname(name string) *Session {
	folded, err := Casefold(name)
	if err != nil {
		return nil
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	id, ok := d.byNick[folded]
	if !ok {
		return nil
	}
	return d.byID[id]
}

// SetNickname validates the new nickname and installs it. The check and
// the index write happen under the directory lock, so two concurrent
// claims on the same name resolve with exactly one winner. A session
// that already left the directory cannot claim a name; without that
// check a line read just before a hangup could reserve a nickname for
// a session nothing will ever tear down again.
func (d *Directory) SetNickname(s *Session, name string) error {
	folded, err := CasefoldNickname(name, d.nickLen)
	if err != nil {
		return err
	}

	d.lock.Lock()
	if _, ok := d.byID[s.ID]; !ok {
		d.lock.Unlock()
		return ErrSessionClosed
	}
	if id, ok := d.byNick[folded]; ok {
		d.lock.Unlock()
		if id == s.ID {
			// Case-only change of our own nick falls through to the
			// field write below.
			s.setNickFields(name, folded)
			return nil
		}
		return ErrNameTaken
	}
	old := s.foldedNick()
	if old != "" {
		delete(d.byNick, old)
	}
	d.byNick[folded] = s.ID
	d.lock.Unlock()

	// The index above is authoritative for uniqueness; the display
	// fields only ever change on the session's own worker.
	s.setNickFields(name, folded)
	return nil
}

func (s *Session) setNickFields(name, folded string) {
	s.lock.Lock()
	s.nick = name
	s.folded = folded
	s.lock.Unlock()
}

// RemoveSession detaches the session from the directory. The caller is
// responsible for first removing it from every room it belongs to.
func (d *Directory) RemoveSession(s *Session) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.byID, s.ID)
	folded := s.foldedNick()
	if id, ok := d.byNick[folded]; ok && id == s.ID {
		delete(d.byNick, folded)
	}
}

// Broadcast writes the message to every active session. Used for
// server-wide notifications such as nickname changes. A failed write is
// the affected client's problem, not the broadcast's.
func (d *Directory) Broadcast(msg *Message) {
	d.lock.Lock()
	sessions := make([]*Session, 0, len(d.byID))
	for _, s := range d.byID {
		sessions = append(sessions, s)
	}
	d.lock.Unlock()

	for _, s := range sessions {
		s.Write(msg)
	}
}
