package roundtable

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roundtable/roundtable/logger"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// writeLog records the order in which a set of fake connections were
// written to, for broadcast-ordering assertions.
type writeLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *writeLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// fakeConn is a net.Conn that records everything written to it.
type fakeConn struct {
	name string
	log  *writeLog

	mu     sync.Mutex
	closed bool
	lines  []string
}

func (c *fakeConn) Read(b []byte) (int, error) { return 0, net.ErrClosed }

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	for _, ln := range strings.Split(string(b), "\r\n") {
		if ln != "" {
			c.lines = append(c.lines, ln)
		}
	}
	c.mu.Unlock()
	if c.log != nil {
		c.log.mu.Lock()
		c.log.entries = append(c.log.entries, c.name)
		c.log.mu.Unlock()
	}
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Lines returns a copy of every protocol line written so far.
func (c *fakeConn) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// HasLine reports whether any written line contains the substring.
func (c *fakeConn) HasLine(substr string) bool {
	for _, ln := range c.Lines() {
		if strings.Contains(ln, substr) {
			return true
		}
	}
	return false
}

func (c *fakeConn) LocalAddr() net.Addr                { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr               { return fakeAddr("remote") }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func testLogger(t *testing.T) *logger.Manager {
	t.Helper()
	lm, err := logger.NewManager(logger.LogError, "", false)
	require.NoError(t, err)
	return lm
}

func testConfig() *Config {
	config := &Config{}
	config.normalize()
	return config
}

// newTestServer builds a server with default configuration and no
// listener or worker goroutines.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newServer(testConfig(), testLogger(t))
}

// newTestSession admits a fake connection into the server's directory.
func newTestSession(t *testing.T, srv *Server, name string) (*Session, *fakeConn) {
	t.Helper()
	fc := &fakeConn{name: name}
	sess, err := srv.directory.CreateSession(fc)
	require.NoError(t, err)
	return sess, fc
}

// sendLine feeds one raw protocol line through the server the way a
// worker would, including any queued follow-up commands.
func sendLine(srv *Server, sess *Session, line string) {
	srv.handleLine(sess, []byte(line))
}

// registerNick registers the session under the given nickname and
// drops the welcome line from the record.
func registerNick(t *testing.T, srv *Server, sess *Session, fc *fakeConn, nick string) {
	t.Helper()
	sendLine(srv, sess, "NICK "+nick)
	require.True(t, fc.HasLine(RPL_WELCOME), "expected welcome for %s, got %v", nick, fc.Lines())
}
