package roundtable

import (
	"errors"
	"strings"
)

// maxNamesTargets bounds how many comma-separated targets one NAMES
// command will answer.
const maxNamesTargets = 5

// fail populates the reply with an error numeric addressed to the
// origin.
func fail(reply *Message, numeric string, params ...string) (Outcome, Broadcaster) {
	reply.Command = numeric
	reply.Params = params
	return Outcome_Failed, nil
}

// cmdNick validates and installs a nickname. The first successful NICK
// registers the session; later ones are renames announced server-wide.
func cmdNick(srv *Server, cmd *Message, reply *Message) (Outcome, Broadcaster) {
	origin := cmd.Session
	name := cmd.Param(0)
	if name == "" {
		return fail(reply, ERR_NONICKNAMEGIVEN, origin.Nick(), "No nickname given")
	}

	wasRegistered := origin.HasMode(UserModeRegistered)
	oldNick := origin.Nick()

	switch err := srv.directory.SetNickname(origin, name); {
	case errors.Is(err, ErrNameTaken):
		return fail(reply, ERR_NICKNAMEINUSE, oldNick, name, "Nickname already in use!")
	case err != nil:
		return fail(reply, ERR_UNKNOWNERROR, oldNick, name, "Erroneous nickname")
	}

	if !wasRegistered {
		origin.SetMode(UserModeRegistered, true)
		reply.Command = RPL_WELCOME
		reply.Params = []string{name, "Welcome to the server!"}
		srv.log.Info("registered nickname " + name)
		return Outcome_Handled, nil
	}

	// Plain rename: everyone connected learns the new name.
	reply.Prefix = oldNick
	reply.Command = "NICK"
	reply.Params = []string{name}
	return Outcome_Broadcast, srv.directory
}

// cmdPrivmsg routes a message to a session by nickname or to a channel
// by name. Moderated channels require at least voice to post.
func cmdPrivmsg(srv *Server, cmd *Message, reply *Message) (Outcome, Broadcaster) {
	origin := cmd.Session
	target := cmd.Param(0)
	text := cmd.Param(1)

	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") {
		c, err := srv.registry.FindChannel(target)
		if err != nil {
			return fail(reply, ERR_NOSUCHCHANNEL, origin.Nick(), target, "No such channel")
		}
		if c.hasMode(ChanModeModerated) && c.PermissionOf(origin) < RoomPermVoice {
			return fail(reply, ERR_CANNOTSENDTOCHAN, origin.Nick(), target, "Cannot send to channel")
		}
		reply.Prefix = origin.Nick()
		reply.Command = "PRIVMSG"
		reply.Params = []string{target, text}
		return Outcome_Broadcast, c
	}

	dest := srv.directory.FindByNickname(target)
	if dest == nil {
		return fail(reply, ERR_NOSUCHNICK, origin.Nick(), target, "Nick not found!")
	}
	reply.Session = dest
	reply.Prefix = origin.Nick()
	reply.Command = "PRIVMSG"
	reply.Params = []string{target, text}
	return Outcome_Handled, nil
}

// cmdJoin adds the origin to a channel or group, creating either as
// needed, and queues a NAMES for the joiner.
func cmdJoin(srv *Server, cmd *Message, reply *Message) (Outcome, Broadcaster) {
	origin := cmd.Session
	target := cmd.Param(0)
	key := cmd.Param(1)

	groupName, chanName, err := SplitRoomName(target)
	if err != nil {
		return fail(reply, ERR_NOSUCHCHANNEL, origin.Nick(), target, "No such channel")
	}

	g, createdGroup, err := srv.registry.GetOrCreateGroup(groupName, origin)
	if err != nil {
		return fail(reply, ERR_NOSUCHCHANNEL, origin.Nick(), target, "No such channel")
	}

	var room Broadcaster
	if chanName == "" {
		// Joining the group itself.
		if !createdGroup {
			if !g.checkKey(key) {
				return fail(reply, ERR_BADCHANNELKEY, origin.Nick(), target, "Cannot join channel (+k)")
			}
			switch err := g.AddMember(origin, RoomPermDefault); {
			case errors.Is(err, ErrRoomFull):
				return fail(reply, ERR_CHANNELISFULL, origin.Nick(), target, "Cannot join channel (+l)")
			}
		}
		room = g
	} else {
		c, created, err := srv.registry.GetOrCreateChannel(g, chanName, origin, key)
		if err != nil {
			return fail(reply, ERR_NOSUCHCHANNEL, origin.Nick(), target, "No such channel")
		}
		if !created {
			if !c.checkKey(key) {
				return fail(reply, ERR_BADCHANNELKEY, origin.Nick(), target, "Cannot join channel (+k)")
			}
			switch err := c.AddMember(origin, RoomPermDefault); {
			case errors.Is(err, ErrRoomFull):
				return fail(reply, ERR_CHANNELISFULL, origin.Nick(), target, "Cannot join channel (+l)")
			}
		}
		room = c
	}

	// The joiner hears the membership next time its worker runs the
	// queued NAMES.
	origin.queueCommand(&Message{
		Session: origin,
		Command: "NAMES",
		Params:  []string{target},
	})

	reply.Prefix = origin.Nick()
	reply.Command = "JOIN"
	reply.Params = []string{target}
	return Outcome_Broadcast, room
}

// cmdNames answers with a 353 per valid target and one final 366.
func cmdNames(srv *Server, cmd *Message, reply *Message) (Outcome, Broadcaster) {
	origin := cmd.Session

	targets := strings.Split(cmd.Param(0), ",")
	if len(targets) > maxNamesTargets {
		targets = targets[:maxNamesTargets]
	}

	for _, target := range targets {
		var nicks []string
		switch {
		case strings.Contains(target, "#"):
			c, err := srv.registry.FindChannel(target)
			if err != nil {
				srv.sendReply(origin, &Message{
					Session: origin,
					Prefix:  srv.name,
					Command: ERR_NOSUCHCHANNEL,
					Params:  []string{origin.Nick(), target, "No such channel"},
				})
				continue
			}
			nicks = c.MemberNicks()
		case strings.HasPrefix(target, "&"):
			g := srv.registry.GetGroup(target[1:])
			if g == nil {
				srv.sendReply(origin, &Message{
					Session: origin,
					Prefix:  srv.name,
					Command: ERR_NOSUCHCHANNEL,
					Params:  []string{origin.Nick(), target, "No such channel"},
				})
				continue
			}
			nicks = g.MemberNicks()
		default:
			srv.sendReply(origin, &Message{
				Session: origin,
				Prefix:  srv.name,
				Command: ERR_NOSUCHCHANNEL,
				Params:  []string{origin.Nick(), target, "No such channel"},
			})
			continue
		}

		srv.sendReply(origin, &Message{
			Session: origin,
			Prefix:  srv.name,
			Command: RPL_NAMREPLY,
			Params:  []string{origin.Nick(), "=", target, strings.Join(nicks, " ")},
		})
	}

	reply.Command = RPL_ENDOFNAMES
	reply.Params = []string{origin.Nick(), cmd.Param(0), "End of /NAMES list"}
	return Outcome_Handled, nil
}

// cmdPart removes the origin from a channel or group. The parter gets
// the PART line directly; remaining members get the broadcast.
func cmdPart(srv *Server, cmd *Message, reply *Message) (Outcome, Broadcaster) {
	origin := cmd.Session
	target := cmd.Param(0)

	room, outcome := resolveRoom(srv, origin, target, reply)
	if room == nil {
		return outcome, nil
	}

	if err := room.RemoveMember(origin); errors.Is(err, ErrNotMember) {
		return fail(reply, ERR_NOTONCHANNEL, origin.Nick(), target, "You're not on that channel")
	}

	reply.Prefix = origin.Nick()
	reply.Command = "PART"
	reply.Params = []string{target}
	srv.sendReply(origin, reply)
	return Outcome_Broadcast, room
}

// cmdKick forcibly removes a member; it needs channel-operator level.
// The kicked member gets the KICK line directly, the room the broadcast.
func cmdKick(srv *Server, cmd *Message, reply *Message) (Outcome, Broadcaster) {
	origin := cmd.Session
	target := cmd.Param(0)
	nick := cmd.Param(1)

	room, outcome := resolveRoom(srv, origin, target, reply)
	if room == nil {
		return outcome, nil
	}

	if room.PermissionOf(origin) < RoomPermChanOp {
		return fail(reply, ERR_CHANOPRIVSNEEDED, origin.Nick(), target, "You're not channel operator")
	}

	victim := srv.directory.FindByNickname(nick)
	if victim == nil {
		return fail(reply, ERR_NOSUCHNICK, origin.Nick(), nick, "Nick not found!")
	}
	if err := room.RemoveMember(victim); errors.Is(err, ErrNotMember) {
		return fail(reply, ERR_USERNOTINCHANNEL, origin.Nick(), nick, target, "They aren't on that channel")
	}

	reply.Prefix = origin.Nick()
	reply.Command = "KICK"
	reply.Params = []string{target, nick}
	if comment := cmd.Param(2); comment != "" {
		reply.Params = append(reply.Params, comment)
	}
	srv.sendReply(victim, reply)
	return Outcome_Broadcast, room
}

// cmdMode infers the target type and applies a single +/- mode change.
func cmdMode(srv *Server, cmd *Message, reply *Message) (Outcome, Broadcaster) {
	origin := cmd.Session
	target := cmd.Param(0)
	modeStr := cmd.Param(1)

	if len(modeStr) != 2 || (modeStr[0] != '+' && modeStr[0] != '-') {
		return fail(reply, ERR_UNKNOWNMODE, origin.Nick(), modeStr, "is unknown mode char to me")
	}
	op := modeStr[0]
	mode := rune(modeStr[1])

	if !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "&") {
		return cmdModeUser(srv, cmd, reply, op, mode)
	}

	room, outcome := resolveRoom(srv, origin, target, reply)
	if room == nil {
		return outcome, nil
	}

	// Group mode changes need group-operator level; channel changes
	// need channel-operator level.
	required := RoomPermChanOp
	if _, isGroup := room.(*Group); isGroup {
		required = RoomPermGroupOp
	}
	if room.PermissionOf(origin) < required {
		return fail(reply, ERR_CHANOPRIVSNEEDED, origin.Nick(), target, "You're not channel operator")
	}

	arg := cmd.Param(2)
	switch err := room.ChangeMode(op, mode, arg); {
	case errors.Is(err, ErrUnknownMode):
		return fail(reply, ERR_UNKNOWNMODE, origin.Nick(), string(mode), "is unknown mode char to me")
	case errors.Is(err, ErrKeySet):
		return fail(reply, ERR_KEYSET, origin.Nick(), target, "Channel key already set")
	case errors.Is(err, ErrBadKey):
		return fail(reply, ERR_BADCHANNELKEY, origin.Nick(), target, "Cannot join channel (+k)")
	case errors.Is(err, ErrNotMember):
		return fail(reply, ERR_USERNOTINCHANNEL, origin.Nick(), arg, target, "They aren't on that channel")
	}

	reply.Prefix = origin.Nick()
	reply.Command = "MODE"
	reply.Params = []string{target, modeStr}
	if arg != "" {
		reply.Params = append(reply.Params, arg)
	}
	return Outcome_Broadcast, room
}

// cmdModeUser handles MODE with a nickname target. Sessions can only
// target themselves, and changes to the away/registered/operator flags
// are suppressed silently rather than honored.
func cmdModeUser(srv *Server, cmd *Message, reply *Message, op byte, mode rune) (Outcome, Broadcaster) {
	origin := cmd.Session
	target := cmd.Param(0)

	folded, err := Casefold(target)
	if err != nil || folded != origin.foldedNick() {
		return fail(reply, ERR_USERSDONTMATCH, origin.Nick(), "Cannot change mode for other users")
	}

	switch mode {
	case UserModeAway, UserModeRegistered, UserModeAdmin:
		return Outcome_Suppressed, nil
	default:
		return fail(reply, ERR_UNKNOWNMODE, origin.Nick(), string(mode), "is unknown mode char to me")
	}
}

// cmdPing echoes a PONG carrying the client's token.
func cmdPing(srv *Server, cmd *Message, reply *Message) (Outcome, Broadcaster) {
	reply.Command = "PONG"
	reply.Params = []string{srv.name, cmd.Param(0)}
	return Outcome_Handled, nil
}

// cmdPong is a no-op.
func cmdPong(srv *Server, cmd *Message, reply *Message) (Outcome, Broadcaster) {
	return Outcome_Suppressed, nil
}

// resolveRoom maps a &group/#channel, #channel, or &group target to an
// existing room, populating reply with 403 when it does not resolve.
func resolveRoom(srv *Server, origin *Session, target string, reply *Message) (Room, Outcome) {
	groupName, chanName, err := SplitRoomName(target)
	if err != nil {
		fail(reply, ERR_NOSUCHCHANNEL, origin.Nick(), target, "No such channel")
		return nil, Outcome_Failed
	}
	if chanName == "" {
		g := srv.registry.GetGroup(groupName)
		if g == nil {
			fail(reply, ERR_NOSUCHCHANNEL, origin.Nick(), target, "No such channel")
			return nil, Outcome_Failed
		}
		return g, Outcome_Handled
	}
	c, err := srv.registry.FindChannel(target)
	if err != nil {
		fail(reply, ERR_NOSUCHCHANNEL, origin.Nick(), target, "No such channel")
		return nil, Outcome_Failed
	}
	return c, Outcome_Handled
}
