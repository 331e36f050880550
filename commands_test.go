package roundtable

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchPreconditions(t *testing.T) {
	srv := newTestServer(t)
	sess, fc := newTestSession(t, srv, "alice")

	// Unknown verb.
	sendLine(srv, sess, "BOGUS something")
	assert.True(t, fc.HasLine(ERR_UNKNOWNCOMMAND+" * BOGUS"))

	// Commands gated on registration.
	sendLine(srv, sess, "PRIVMSG bob :hi")
	assert.True(t, fc.HasLine(ERR_NOTREGISTERED))

	registerNick(t, srv, sess, fc, "alice")

	// Too few parameters.
	sendLine(srv, sess, "PRIVMSG bob")
	assert.True(t, fc.HasLine(ERR_NEEDMOREPARAMS+" alice PRIVMSG"))
}

func TestCmdNick(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	bob, bfc := newTestSession(t, srv, "bob")

	sendLine(srv, alice, "NICK")
	assert.True(t, afc.HasLine(ERR_NONICKNAMEGIVEN))

	registerNick(t, srv, alice, afc, "alice")
	assert.True(t, afc.HasLine("Welcome to the server!"))
	assert.Equal(t, PermRegistered, alice.PermLevel())

	// Same name, different case, different session.
	sendLine(srv, bob, "NICK ALICE")
	assert.True(t, bfc.HasLine(ERR_NICKNAMEINUSE))
	assert.True(t, bfc.HasLine("Nickname already in use!"))
	assert.Equal(t, PermUnregistered, bob.PermLevel())

	sendLine(srv, bob, "NICK #bad")
	assert.True(t, bfc.HasLine(ERR_UNKNOWNERROR))

	registerNick(t, srv, bob, bfc, "bob")

	// A rename is announced to every connected session, prefixed with
	// the old name.
	sendLine(srv, bob, "NICK robert")
	assert.True(t, afc.HasLine(":bob NICK robert"))
	assert.True(t, bfc.HasLine(":bob NICK robert"))
	assert.Nil(t, srv.directory.FindByNickname("bob"))
	assert.Same(t, bob, srv.directory.FindByNickname("robert"))
}

// Two simultaneous claims on one nickname produce exactly one welcome
// and one rejection.
func TestCmdNickRace(t *testing.T) {
	srv := newTestServer(t)
	s1, fc1 := newTestSession(t, srv, "c1")
	s2, fc2 := newTestSession(t, srv, "c2")

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(2)
	for _, s := range []*Session{s1, s2} {
		go func(s *Session) {
			defer done.Done()
			start.Wait()
			sendLine(srv, s, "NICK highlander")
		}(s)
	}
	start.Done()
	done.Wait()

	welcomes, rejections := 0, 0
	for _, fc := range []*fakeConn{fc1, fc2} {
		if fc.HasLine(RPL_WELCOME) {
			welcomes++
		}
		if fc.HasLine(ERR_NICKNAMEINUSE) {
			rejections++
		}
	}
	assert.Equal(t, 1, welcomes)
	assert.Equal(t, 1, rejections)
}

func TestCmdJoin(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")

	sendLine(srv, alice, "JOIN #games")
	assert.True(t, afc.HasLine(":alice JOIN #games"))

	// The joiner hears the membership via the synthesized NAMES.
	assert.True(t, afc.HasLine(RPL_NAMREPLY+" alice = #games alice"))
	assert.True(t, afc.HasLine(RPL_ENDOFNAMES))

	// The bare #games lives in the default group.
	c, err := srv.registry.FindChannel("&" + DefaultGroupName + "/#games")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, c.MemberNicks())

	sendLine(srv, alice, "JOIN bogus")
	assert.True(t, afc.HasLine(ERR_NOSUCHCHANNEL))
}

func TestCmdJoinGroup(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")
	bob, bfc := newTestSession(t, srv, "bob")
	registerNick(t, srv, bob, bfc, "bob")

	sendLine(srv, alice, "JOIN &lobby")
	g := srv.registry.GetGroup("lobby")
	require.NotNil(t, g)
	assert.Equal(t, RoomPermGroupOp, g.PermissionOf(alice))

	sendLine(srv, bob, "JOIN &lobby")
	assert.Equal(t, RoomPermDefault, g.PermissionOf(bob))
	assert.True(t, bfc.HasLine(":bob JOIN &lobby"))
	// Members of the group hear the join too.
	assert.True(t, afc.HasLine(":bob JOIN &lobby"))
}

func TestCmdJoinKeyedChannel(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")
	bob, bfc := newTestSession(t, srv, "bob")
	registerNick(t, srv, bob, bfc, "bob")

	// Creating with a key sets it.
	sendLine(srv, alice, "JOIN #vault sesame")
	c, err := srv.registry.FindChannel("#vault")
	require.NoError(t, err)
	assert.True(t, c.hasMode(ChanModeKey))

	// Wrong key is rejected and membership does not change.
	sendLine(srv, bob, "JOIN #vault wrong")
	assert.True(t, bfc.HasLine(ERR_BADCHANNELKEY))
	assert.True(t, bfc.HasLine("Cannot join channel (+k)"))
	assert.Equal(t, -1, c.PermissionOf(bob))

	sendLine(srv, bob, "JOIN #vault sesame")
	assert.Equal(t, RoomPermDefault, c.PermissionOf(bob))
}

func TestCmdJoinFullChannel(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")
	bob, bfc := newTestSession(t, srv, "bob")
	registerNick(t, srv, bob, bfc, "bob")

	sendLine(srv, alice, "JOIN #tiny")
	c, err := srv.registry.FindChannel("#tiny")
	require.NoError(t, err)
	c.lock.Lock()
	c.max = 1
	c.lock.Unlock()

	sendLine(srv, bob, "JOIN #tiny")
	assert.True(t, bfc.HasLine(ERR_CHANNELISFULL))
	assert.True(t, bfc.HasLine("Cannot join channel (+l)"))
	assert.Equal(t, -1, c.PermissionOf(bob))
}

func TestCmdPrivmsg(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")
	bob, bfc := newTestSession(t, srv, "bob")
	registerNick(t, srv, bob, bfc, "bob")

	// Direct message lands only on the destination.
	sendLine(srv, alice, "PRIVMSG bob :hello there")
	assert.True(t, bfc.HasLine(":alice PRIVMSG bob :hello there"))
	assert.False(t, afc.HasLine("hello there"))

	sendLine(srv, alice, "PRIVMSG carol :anyone home")
	assert.True(t, afc.HasLine(ERR_NOSUCHNICK))
	assert.True(t, afc.HasLine("Nick not found!"))

	// Channel message reaches every member, sender included.
	sendLine(srv, alice, "JOIN #games")
	sendLine(srv, bob, "JOIN #games")
	sendLine(srv, alice, "PRIVMSG #games :round one")
	assert.True(t, afc.HasLine(":alice PRIVMSG #games :round one"))
	assert.True(t, bfc.HasLine(":alice PRIVMSG #games :round one"))

	sendLine(srv, alice, "PRIVMSG #missing :hm")
	assert.True(t, afc.HasLine(ERR_NOSUCHCHANNEL))
}

func TestCmdPrivmsgModerated(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")
	bob, bfc := newTestSession(t, srv, "bob")
	registerNick(t, srv, bob, bfc, "bob")

	// alice created &lobby, so she is its group operator and can set
	// channel modes.
	sendLine(srv, alice, "JOIN &lobby/#stage")
	sendLine(srv, bob, "JOIN &lobby/#stage")
	sendLine(srv, alice, "MODE &lobby/#stage +m")

	sendLine(srv, bob, "PRIVMSG &lobby/#stage :psst")
	assert.True(t, bfc.HasLine(ERR_CANNOTSENDTOCHAN))
	assert.False(t, afc.HasLine("psst"))

	// Voice lets bob through.
	sendLine(srv, alice, "MODE &lobby/#stage +v bob")
	sendLine(srv, bob, "PRIVMSG &lobby/#stage :now then")
	assert.True(t, afc.HasLine(":bob PRIVMSG &lobby/#stage :now then"))
}

func TestCmdNames(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")
	bob, bfc := newTestSession(t, srv, "bob")
	registerNick(t, srv, bob, bfc, "bob")

	sendLine(srv, alice, "JOIN #games")
	sendLine(srv, bob, "JOIN #games")

	sendLine(srv, alice, "NAMES #games,#missing")
	assert.True(t, afc.HasLine(RPL_NAMREPLY+" alice = #games :alice bob"))
	assert.True(t, afc.HasLine(ERR_NOSUCHCHANNEL+" alice #missing"))
	assert.True(t, afc.HasLine(RPL_ENDOFNAMES))

	// Group targets list the group's own membership.
	sendLine(srv, bob, "JOIN &lobby")
	sendLine(srv, bob, "NAMES &lobby")
	assert.True(t, bfc.HasLine(RPL_NAMREPLY+" bob = &lobby bob"))
}

func TestCmdPart(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")
	bob, bfc := newTestSession(t, srv, "bob")
	registerNick(t, srv, bob, bfc, "bob")

	sendLine(srv, alice, "JOIN #games")
	sendLine(srv, bob, "JOIN #games")

	sendLine(srv, bob, "PART #games")
	// The parter hears its own PART; remaining members get the
	// broadcast.
	assert.True(t, bfc.HasLine(":bob PART #games"))
	assert.True(t, afc.HasLine(":bob PART #games"))

	c, err := srv.registry.FindChannel("#games")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, c.MemberNicks())

	// Parting twice is an error, not a crash.
	sendLine(srv, bob, "PART #games")
	assert.True(t, bfc.HasLine(ERR_NOTONCHANNEL))
	assert.True(t, bfc.HasLine("You're not on that channel"))

	sendLine(srv, bob, "PART #missing")
	assert.True(t, bfc.HasLine(ERR_NOSUCHCHANNEL))
}

func TestCmdKick(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")
	bob, bfc := newTestSession(t, srv, "bob")
	registerNick(t, srv, bob, bfc, "bob")
	carol, cfc := newTestSession(t, srv, "carol")
	registerNick(t, srv, carol, cfc, "carol")

	// alice created the default group, so she holds operator level in
	// its channels. bob and carol are ordinary members.
	sendLine(srv, alice, "JOIN #games")
	sendLine(srv, bob, "JOIN #games")
	sendLine(srv, carol, "JOIN #games")
	c, err := srv.registry.FindChannel("#games")
	require.NoError(t, err)

	// Ordinary members cannot kick.
	sendLine(srv, bob, "KICK #games carol")
	assert.True(t, bfc.HasLine(ERR_CHANOPRIVSNEEDED))
	assert.True(t, bfc.HasLine("You're not channel operator"))
	assert.Equal(t, RoomPermDefault, c.PermissionOf(carol))

	sendLine(srv, alice, "KICK #games dave")
	assert.True(t, afc.HasLine(ERR_NOSUCHNICK))

	sendLine(srv, alice, "KICK #games carol :begone")
	// The victim is notified even though they are no longer a member.
	assert.True(t, cfc.HasLine(":alice KICK #games carol :begone"))
	assert.True(t, bfc.HasLine(":alice KICK #games carol :begone"))
	assert.Equal(t, -1, c.PermissionOf(carol))

	// Kicking a non-member.
	sendLine(srv, alice, "KICK #games carol")
	assert.True(t, afc.HasLine(ERR_USERNOTINCHANNEL))
	assert.True(t, afc.HasLine("They aren't on that channel"))
}

func TestCmdModeUser(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")

	before := len(afc.Lines())

	// Self-targeted flag changes are accepted but never honored: no
	// output, no permission change.
	sendLine(srv, alice, "MODE alice +o")
	assert.Equal(t, before, len(afc.Lines()))
	assert.Equal(t, PermRegistered, alice.PermLevel())

	sendLine(srv, alice, "MODE bob +o")
	assert.True(t, afc.HasLine(ERR_USERSDONTMATCH))
	assert.True(t, afc.HasLine("Cannot change mode for other users"))

	sendLine(srv, alice, "MODE alice +z")
	assert.True(t, afc.HasLine(ERR_UNKNOWNMODE))
}

func TestCmdModeChannel(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")
	bob, bfc := newTestSession(t, srv, "bob")
	registerNick(t, srv, bob, bfc, "bob")

	sendLine(srv, alice, "JOIN &lobby/#games")
	sendLine(srv, bob, "JOIN &lobby/#games")
	c, err := srv.registry.FindChannel("&lobby/#games")
	require.NoError(t, err)

	// Ordinary members cannot change modes.
	sendLine(srv, bob, "MODE &lobby/#games +m")
	assert.True(t, bfc.HasLine(ERR_CHANOPRIVSNEEDED))
	assert.False(t, c.hasMode(ChanModeModerated))

	// Mode changes are announced to the room.
	sendLine(srv, alice, "MODE &lobby/#games +m")
	assert.True(t, c.hasMode(ChanModeModerated))
	assert.True(t, bfc.HasLine(":alice MODE &lobby/#games +m"))

	// Malformed mode strings.
	sendLine(srv, alice, "MODE &lobby/#games m")
	assert.True(t, afc.HasLine(ERR_UNKNOWNMODE))

	// Key collisions surface as 467.
	sendLine(srv, alice, "MODE &lobby/#games +k one")
	sendLine(srv, alice, "MODE &lobby/#games +k two")
	assert.True(t, afc.HasLine(ERR_KEYSET))
	assert.True(t, afc.HasLine("Channel key already set"))

	// Granting op to someone who is not there.
	sendLine(srv, alice, "MODE &lobby/#games +o dave")
	assert.True(t, afc.HasLine(ERR_USERNOTINCHANNEL))
}

func TestCmdModeGroupNeedsGroupOp(t *testing.T) {
	srv := newTestServer(t)
	alice, afc := newTestSession(t, srv, "alice")
	registerNick(t, srv, alice, afc, "alice")
	bob, bfc := newTestSession(t, srv, "bob")
	registerNick(t, srv, bob, bfc, "bob")

	sendLine(srv, alice, "JOIN &lobby")
	sendLine(srv, bob, "JOIN &lobby")
	g := srv.registry.GetGroup("lobby")
	require.NotNil(t, g)

	sendLine(srv, bob, "MODE &lobby +m")
	assert.True(t, bfc.HasLine(ERR_CHANOPRIVSNEEDED))
	assert.False(t, g.hasMode(ChanModeModerated))

	sendLine(srv, alice, "MODE &lobby +o bob")
	assert.Equal(t, RoomPermGroupOp, g.PermissionOf(bob))
	assert.True(t, bfc.HasLine(":alice MODE &lobby +o bob"))
}

func TestCmdPingPong(t *testing.T) {
	srv := newTestServer(t)
	sess, fc := newTestSession(t, srv, "alice")

	// PING works before registration.
	sendLine(srv, sess, "PING token123")
	assert.True(t, fc.HasLine("PONG "+srv.name+" token123"))

	before := len(fc.Lines())
	sendLine(srv, sess, "PONG token123")
	assert.Equal(t, before, len(fc.Lines()))
}
