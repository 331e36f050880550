package roundtable

import (
	"sync"
)

// Outcome is a handler's verdict on what the engine should do with the
// populated reply.
type Outcome int

const (
	// Outcome_Handled means the reply is complete; send it to the
	// session it is addressed to.
	Outcome_Handled Outcome = iota

	// Outcome_Broadcast means the reply also goes to every member of
	// the room the handler returned.
	Outcome_Broadcast

	// Outcome_Suppressed means no reply is sent at all.
	Outcome_Suppressed

	// Outcome_Failed means the reply carries an error numeric; send it
	// to the origin only.
	Outcome_Failed
)

// Broadcaster is the delivery target of an Outcome_Broadcast reply: a
// channel, a group, or the whole directory for server-wide notices.
type Broadcaster interface {
	Broadcast(msg *Message)
}

// HandlerFunc executes one validated command. It fills in reply and
// returns the outcome, plus the room to broadcast to when the outcome
// is Outcome_Broadcast.
type HandlerFunc func(srv *Server, cmd *Message, reply *Message) (Outcome, Broadcaster)

// commandEntry is one registered verb. Immutable after registration.
type commandEntry struct {
	verb      string
	minParams int
	minPerm   int
	handler   HandlerFunc
}

// CommandTable maps protocol verbs to handlers. Registration happens
// only during startup; lookups are read-mostly and never hold the lock
// across handler execution.
type CommandTable struct {
	lock    sync.RWMutex
	entries map[string]*commandEntry
}

// NewCommandTable returns an empty command table.
func NewCommandTable() *CommandTable {
	return &CommandTable{
		entries: make(map[string]*commandEntry),
	}
}

// Register adds a verb to the table. minParams is the fewest parameters
// the handler will accept; minPerm is the command permission level the
// origin session must hold.
func (t *CommandTable) Register(verb string, minParams, minPerm int, handler HandlerFunc) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.entries[verb] = &commandEntry{
		verb:      verb,
		minParams: minParams,
		minPerm:   minPerm,
		handler:   handler,
	}
}

// lookup finds the entry for a verb. The match is case-sensitive.
func (t *CommandTable) lookup(verb string) *commandEntry {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.entries[verb]
}

// Dispatch runs one parsed command through Lookup, Validate, Execute,
// Reply. It returns whether a handler executed. Every required reply is
// sent exactly once.
func (srv *Server) Dispatch(cmd *Message) bool {
	origin := cmd.Session
	entry := srv.commands.lookup(cmd.Command)
	if entry == nil {
		srv.sendReply(origin, &Message{
			Session: origin,
			Prefix:  srv.name,
			Command: ERR_UNKNOWNCOMMAND,
			Params:  []string{origin.Nick(), cmd.Command, "Unknown command"},
		})
		return false
	}

	if origin.PermLevel() < entry.minPerm {
		srv.sendReply(origin, &Message{
			Session: origin,
			Prefix:  srv.name,
			Command: ERR_NOTREGISTERED,
			Params:  []string{origin.Nick(), "You have not registered"},
		})
		return false
	}

	if len(cmd.Params) < entry.minParams {
		srv.sendReply(origin, &Message{
			Session: origin,
			Prefix:  srv.name,
			Command: ERR_NEEDMOREPARAMS,
			Params:  []string{origin.Nick(), entry.verb, "Not enough parameters"},
		})
		return false
	}

	reply := &Message{
		Session: origin,
		Prefix:  srv.name,
	}
	outcome, room := entry.handler(srv, cmd, reply)
	switch outcome {
	case Outcome_Handled, Outcome_Failed:
		srv.sendReply(reply.Session, reply)
	case Outcome_Broadcast:
		room.Broadcast(reply)
	case Outcome_Suppressed:
		// Nothing to send.
	}
	return true
}

// sendReply writes a reply to one session, logging rather than
// propagating a write failure.
func (srv *Server) sendReply(s *Session, reply *Message) {
	if s == nil {
		return
	}
	if err := s.Write(reply); err != nil {
		srv.log.Debug("reply to " + s.Nick() + ": " + err.Error())
	}
}

// registerCommands installs the protocol verbs. Called once during
// startup, before any line is dispatched.
func (srv *Server) registerCommands() {
	t := srv.commands
	t.Register("NICK", 0, PermUnregistered, cmdNick)
	t.Register("PRIVMSG", 2, PermRegistered, cmdPrivmsg)
	t.Register("JOIN", 1, PermRegistered, cmdJoin)
	t.Register("NAMES", 1, PermRegistered, cmdNames)
	t.Register("PART", 1, PermRegistered, cmdPart)
	t.Register("KICK", 2, PermRegistered, cmdKick)
	t.Register("MODE", 2, PermRegistered, cmdMode)
	t.Register("PING", 1, PermUnregistered, cmdPing)
	t.Register("PONG", 0, PermUnregistered, cmdPong)
}
