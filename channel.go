package roundtable

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/roundtable/roundtable/logger"
)

var (
	ErrRoomFull      = errors.New("room is at capacity")
	ErrNotMember     = errors.New("not a member of this room")
	ErrNoSuchChannel = errors.New("no such channel")
	ErrUnknownMode   = errors.New("unknown mode character")
	ErrKeySet        = errors.New("key already set")
	ErrBadKey        = errors.New("bad key")
)

// Room permission levels, per membership entry.
const (
	RoomPermDefault = 0
	RoomPermVoice   = 1
	RoomPermChanOp  = 2
	RoomPermGroupOp = 3
)

// DefaultGroupName is the group an unqualified #channel lives in.
const DefaultGroupName = "General-Chat"

// Channel mode flags. The o and v moderation modes act on a member's
// permission level rather than the flag set and take a nick argument.
const (
	ChanModeModerated = 'm'
	ChanModeKey       = 'k'
	ChanModeOp        = 'o'
	ChanModeVoice     = 'v'
)

// member is one membership entry: a session id plus the permission
// level the session holds in this room. Storing the id instead of the
// session pointer means a torn-down session can never be dereferenced
// through a stale membership.
type member struct {
	id   SessionID
	perm int
}

// Room is a membership container: a Channel or a Group.
type Room interface {
	// Name returns the room's full display name, with sigils.
	Name() string

	// AddMember inserts the session at the given permission level.
	AddMember(s *Session, perm int) error

	// RemoveMember removes the session's membership entry.
	RemoveMember(s *Session) error

	// PermissionOf returns the session's effective permission level in
	// this room, or -1 for non-members.
	PermissionOf(s *Session) int

	// Broadcast delivers the message to every live member.
	Broadcast(msg *Message)

	// ChangeMode applies a +/- mode change with an optional argument.
	ChangeMode(op byte, mode rune, arg string) error
}

// roomCore is the membership and mode state shared by channels and
// groups. Each room owns its own lock; the lock is never held across a
// socket write.
type roomCore struct {
	lock    sync.Mutex
	members []member
	modes   map[rune]bool
	key     string
	max     int

	dir *Directory
	log *logger.Manager
}

func newRoomCore(max int, dir *Directory, log *logger.Manager) roomCore {
	return roomCore{
		modes: make(map[rune]bool),
		max:   max,
		dir:   dir,
		log:   log,
	}
}

func (r *roomCore) addMember(s *Session, perm int) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, m := range r.members {
		if m.id == s.ID {
			// Joining twice is a no-op; keep the existing permission.
			return nil
		}
	}
	if r.max > 0 && len(r.members) >= r.max {
		return ErrRoomFull
	}
	r.members = append(r.members, member{id: s.ID, perm: perm})
	return nil
}

func (r *roomCore) removeMember(id SessionID) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for i, m := range r.members {
		if m.id == id {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return nil
		}
	}
	return ErrNotMember
}

// permissionOf returns the stored permission level, or -1 for
// non-members.
func (r *roomCore) permissionOf(id SessionID) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, m := range r.members {
		if m.id == id {
			return m.perm
		}
	}
	return -1
}

// setMemberPerm updates a member's permission level in place.
func (r *roomCore) setMemberPerm(id SessionID, perm int) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for i, m := range r.members {
		if m.id == id {
			r.members[i].perm = perm
			return nil
		}
	}
	return ErrNotMember
}

// snapshotMembers copies the membership under the room lock. Delivery
// order for a broadcast is the membership order at this instant.
func (r *roomCore) snapshotMembers() []member {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]member, len(r.members))
	copy(out, r.members)
	return out
}

func (r *roomCore) hasMode(mode rune) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.modes[mode]
}

// broadcast delivers the message to every member still present in the
// directory. The room lock fixes the delivery order but is released
// before any socket write; each write takes only that session's lock.
func (r *roomCore) broadcast(name string, msg *Message) {
	for _, m := range r.snapshotMembers() {
		s := r.dir.Get(m.id)
		if s == nil {
			continue
		}
		if err := s.Write(msg); err != nil {
			r.log.Debug("broadcast to " + name + ": " + err.Error())
		}
	}
}

// changeFlagMode toggles a plain flag mode in the given alphabet; key
// modes go through changeKeyMode instead.
func (r *roomCore) changeFlagMode(op byte, mode rune, alphabet string) error {
	if !strings.ContainsRune(alphabet, mode) {
		return ErrUnknownMode
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if op == '+' {
		r.modes[mode] = true
	} else {
		delete(r.modes, mode)
	}
	return nil
}

// changeKeyMode sets or removes the room key. Setting over an existing
// key is rejected; removal must present the current key.
func (r *roomCore) changeKeyMode(op byte, arg string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if op == '+' {
		if arg == "" {
			return ErrBadKey
		}
		if r.key != "" {
			return ErrKeySet
		}
		r.key = arg
		r.modes[ChanModeKey] = true
		return nil
	}
	if r.key != arg {
		return ErrBadKey
	}
	r.key = ""
	delete(r.modes, ChanModeKey)
	return nil
}

// checkKey reports whether the supplied key grants entry.
func (r *roomCore) checkKey(key string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.key == "" || r.key == key
}

// Channel is a named room prefixed with #, owned by its group.
type Channel struct {
	roomCore
	name  string // display name including the # sigil
	group *Group
}

// Name returns the fully qualified &group/#channel name.
func (c *Channel) Name() string {
	return "&" + c.group.name + "/" + c.name
}

// ShortName returns the #channel segment alone.
func (c *Channel) ShortName() string {
	return c.name
}

// Group returns the owning group.
func (c *Channel) Group() *Group {
	return c.group
}

func (c *Channel) AddMember(s *Session, perm int) error {
	return c.addMember(s, perm)
}

func (c *Channel) RemoveMember(s *Session) error {
	return c.removeMember(s.ID)
}

// PermissionOf reports the session's effective level in the channel.
// Group operators hold level 3 in every channel of their group.
func (c *Channel) PermissionOf(s *Session) int {
	if c.group.permissionOf(s.ID) >= RoomPermGroupOp {
		return RoomPermGroupOp
	}
	return c.permissionOf(s.ID)
}

func (c *Channel) Broadcast(msg *Message) {
	c.broadcast(c.Name(), msg)
}

// ChangeMode applies a channel mode change. The o and v modes take a
// nickname argument and adjust that member's permission level.
func (c *Channel) ChangeMode(op byte, mode rune, arg string) error {
	switch mode {
	case ChanModeKey:
		return c.changeKeyMode(op, arg)
	case ChanModeOp, ChanModeVoice:
		target := c.dir.FindByNickname(arg)
		if target == nil {
			return ErrNotMember
		}
		perm := RoomPermDefault
		if op == '+' {
			perm = RoomPermChanOp
			if mode == ChanModeVoice {
				perm = RoomPermVoice
			}
		}
		return c.setMemberPerm(target.ID, perm)
	default:
		return c.changeFlagMode(op, mode, "m")
	}
}

// MemberNicks returns the display nicknames of the live members, in
// membership order.
func (c *Channel) MemberNicks() []string {
	var nicks []string
	for _, m := range c.snapshotMembers() {
		if s := c.dir.Get(m.id); s != nil {
			nicks = append(nicks, s.Nick())
		}
	}
	return nicks
}

// Group is a named collection of channels with its own membership.
type Group struct {
	roomCore
	name     string // display name without the & sigil
	chanLock sync.Mutex
	channels map[string]*Channel
}

// Name returns the group's display name including the & sigil.
func (g *Group) Name() string {
	return "&" + g.name
}

func (g *Group) AddMember(s *Session, perm int) error {
	return g.addMember(s, perm)
}

func (g *Group) RemoveMember(s *Session) error {
	return g.removeMember(s.ID)
}

func (g *Group) PermissionOf(s *Session) int {
	return g.permissionOf(s.ID)
}

func (g *Group) Broadcast(msg *Message) {
	g.broadcast(g.Name(), msg)
}

// ChangeMode applies a group mode change. Groups have no voice level,
// so only the o moderation mode is recognized besides the flags.
func (g *Group) ChangeMode(op byte, mode rune, arg string) error {
	switch mode {
	case ChanModeKey:
		return g.changeKeyMode(op, arg)
	case ChanModeOp:
		target := g.dir.FindByNickname(arg)
		if target == nil {
			return ErrNotMember
		}
		perm := RoomPermDefault
		if op == '+' {
			perm = RoomPermGroupOp
		}
		return g.setMemberPerm(target.ID, perm)
	default:
		return g.changeFlagMode(op, mode, "m")
	}
}

// MemberNicks returns the display nicknames of the live members, in
// membership order.
func (g *Group) MemberNicks() []string {
	var nicks []string
	for _, m := range g.snapshotMembers() {
		if s := g.dir.Get(m.id); s != nil {
			nicks = append(nicks, s.Nick())
		}
	}
	return nicks
}

// channel returns the named channel (folded #name), or nil.
func (g *Group) channel(folded string) *Channel {
	g.chanLock.Lock()
	defer g.chanLock.Unlock()
	return g.channels[folded]
}

// Channels returns the group's channels sorted by name.
func (g *Group) Channels() []*Channel {
	g.chanLock.Lock()
	defer g.chanLock.Unlock()
	out := make([]*Channel, 0, len(g.channels))
	for _, c := range g.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Registry is the process-wide room registry: all groups, and through
// them all channels. Constructed explicitly at startup.
type Registry struct {
	lock   sync.Mutex
	groups map[string]*Group

	dir      *Directory
	log      *logger.Manager
	chanMax  int
	groupLen int
}

// NewRegistry returns an empty room registry. chanMax bounds the
// membership of every channel and group it creates.
func NewRegistry(dir *Directory, log *logger.Manager, chanMax, groupLen int) *Registry {
	return &Registry{
		groups:   make(map[string]*Group),
		dir:      dir,
		log:      log,
		chanMax:  chanMax,
		groupLen: groupLen,
	}
}

// SplitRoomName splits a &group/#channel target. A bare #channel
// implies the default group; a bare &group has an empty channel
// segment. The channel segment, when present, must start with #.
func SplitRoomName(target string) (group, channel string, err error) {
	switch {
	case strings.HasPrefix(target, "&"):
		rest := target[1:]
		if rest == "" {
			return "", "", ErrNoSuchChannel
		}
		group, channel, found := strings.Cut(rest, "/")
		if !found {
			return group, "", nil
		}
		if !strings.HasPrefix(channel, "#") || len(channel) < 2 {
			return "", "", ErrNoSuchChannel
		}
		return group, channel, nil
	case strings.HasPrefix(target, "#"):
		if len(target) < 2 {
			return "", "", ErrNoSuchChannel
		}
		return DefaultGroupName, target, nil
	default:
		return "", "", ErrNoSuchChannel
	}
}

// GetGroup returns the named group (without sigil), or nil.
func (reg *Registry) GetGroup(name string) *Group {
	folded, err := foldRoomSegment(name, reg.groupLen)
	if err != nil {
		return nil
	}
	reg.lock.Lock()
	defer reg.lock.Unlock()
	return reg.groups[folded]
}

// GetOrCreateGroup returns the named group, creating it if needed. The
// creator of a new group becomes its group operator. The second return
// reports whether the group was created by this call.
func (reg *Registry) GetOrCreateGroup(name string, creator *Session) (*Group, bool, error) {
	folded, err := foldRoomSegment(name, reg.groupLen)
	if err != nil {
		return nil, false, ErrNoSuchChannel
	}
	reg.lock.Lock()
	g, ok := reg.groups[folded]
	if !ok {
		g = &Group{
			roomCore: newRoomCore(reg.chanMax, reg.dir, reg.log),
			name:     name,
			channels: make(map[string]*Channel),
		}
		reg.groups[folded] = g
	}
	reg.lock.Unlock()

	if !ok && creator != nil {
		g.addMember(creator, RoomPermGroupOp)
		reg.log.Info("created group " + g.Name())
	}
	return g, !ok, nil
}

// GetOrCreateChannel returns the named channel in the group, creating
// it if needed. A newly created channel takes its key from the supplied
// one. The creator joins at the default level; their authority comes
// from the group-operator level they hold as the group's creator. The
// second return reports whether the channel was created by this call.
func (reg *Registry) GetOrCreateChannel(g *Group, name string, creator *Session, key string) (*Channel, bool, error) {
	if !strings.HasPrefix(name, "#") || len(name) < 2 {
		return nil, false, ErrNoSuchChannel
	}
	folded, err := foldRoomSegment(name[1:], reg.groupLen)
	if err != nil {
		return nil, false, ErrNoSuchChannel
	}
	folded = "#" + folded

	g.chanLock.Lock()
	c, ok := g.channels[folded]
	if !ok {
		c = &Channel{
			roomCore: newRoomCore(reg.chanMax, reg.dir, reg.log),
			name:     name,
			group:    g,
		}
		if key != "" {
			c.key = key
			c.modes[ChanModeKey] = true
		}
		g.channels[folded] = c
	}
	g.chanLock.Unlock()

	if !ok && creator != nil {
		c.addMember(creator, RoomPermDefault)
		reg.log.Info("created channel " + c.Name())
	}
	return c, !ok, nil
}

// FindChannel resolves a &group/#channel or #channel target to an
// existing channel.
func (reg *Registry) FindChannel(target string) (*Channel, error) {
	groupName, chanName, err := SplitRoomName(target)
	if err != nil || chanName == "" {
		return nil, ErrNoSuchChannel
	}
	g := reg.GetGroup(groupName)
	if g == nil {
		return nil, ErrNoSuchChannel
	}
	folded, err := foldRoomSegment(chanName[1:], reg.groupLen)
	if err != nil {
		return nil, ErrNoSuchChannel
	}
	c := g.channel("#" + folded)
	if c == nil {
		return nil, ErrNoSuchChannel
	}
	return c, nil
}

// Groups returns all groups sorted by name.
func (reg *Registry) Groups() []*Group {
	reg.lock.Lock()
	defer reg.lock.Unlock()
	out := make([]*Group, 0, len(reg.groups))
	for _, g := range reg.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// RemoveFromAllRooms removes the session from every group and channel.
// It runs to completion regardless of individual misses; it must be
// called exactly once at teardown, before the session leaves the
// directory.
func (reg *Registry) RemoveFromAllRooms(s *Session) {
	for _, g := range reg.Groups() {
		for _, c := range g.Channels() {
			c.removeMember(s.ID)
		}
		g.removeMember(s.ID)
	}
}
