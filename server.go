package roundtable

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/roundtable/roundtable/logger"
)

var ErrServerFull = errors.New("server is full")

const (
	// pollTimeout bounds one worker sweep over its slot table, so a
	// worker revisits the table regularly even when every socket is
	// quiet.
	pollTimeout = 50 * time.Millisecond

	// workerIdleDelay yields the worker briefly after a sweep with no
	// activity.
	workerIdleDelay = time.Millisecond
)

// Server is the chat server: the listener, the worker pool, and the
// shared state every command handler operates on. All state is
// in-memory and lost on restart.
type Server struct {
	name   string
	config *Config
	log    *logger.Manager

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	directory *Directory
	registry  *Registry
	commands  *CommandTable

	workers []*worker
}

// newServer builds the server state without binding a socket. Used
// directly by tests; production goes through Listen.
func newServer(config *Config, log *logger.Manager) *Server {
	s := &Server{
		name:   config.Server.Name,
		config: config,
		log:    log,
	}
	s.directory = NewDirectory(config.Server.MaxClients, config.Limits.NickLen)
	s.registry = NewRegistry(s.directory, log, config.Server.MaxClients, config.Limits.GroupLen)
	s.commands = NewCommandTable()
	s.registerCommands()

	// Capacity per worker is the total split evenly, with the
	// remainder going to the first workers.
	base := config.Server.MaxClients / config.Server.Workers
	remainder := config.Server.MaxClients % config.Server.Workers
	for i := 0; i < config.Server.Workers; i++ {
		capacity := base
		if i < remainder {
			capacity++
		}
		s.workers = append(s.workers, &worker{
			index:    i,
			capacity: capacity,
			srv:      s,
			slots:    make([]*slot, capacity),
		})
	}
	return s
}

// Listen starts the chat server on the configured port and returns
// once the listener is bound and the workers are running.
func Listen(ctx context.Context, config *Config, log *logger.Manager) (*Server, error) {
	ctx, cancel := context.WithCancel(ctx)

	l, err := startListening(ctx, config, log)
	if err != nil {
		cancel()
		return nil, err
	}

	s := newServer(config, log)
	s.ctx = ctx
	s.cancel = cancel

	// A few accepts above the configured cap are allowed through so
	// the marginal connection can still be told the server is full.
	s.listener = netutil.LimitListener(l, config.Server.MaxClients+config.Server.Workers)

	for _, w := range s.workers {
		go w.loop(ctx)
	}
	log.Info(fmt.Sprintf("listening on %s with %d workers", s.listener.Addr(), len(s.workers)))

	go s.acceptLoop()

	return s, nil
}

// startListening binds the listen socket. On dual-stack failure it
// falls back to IPv4-only and retries once before failing for good.
func startListening(ctx context.Context, config *Config, log *logger.Manager) (net.Listener, error) {
	addr := ":" + strconv.Itoa(config.Server.Port)
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		log.Info("retrying with IPv4...")
		l, err = lc.Listen(ctx, "tcp4", addr)
		if err != nil {
			return nil, fmt.Errorf("Listen: %w", err)
		}
	}
	return l, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close shuts the server down: the listener stops accepting and every
// worker closes its connections.
func (s *Server) Close() error {
	s.cancel()
	return s.listener.Close()
}

// acceptLoop accepts connections until the listener closes. One bad
// accept never stops the loop.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.log.Warning("accept: " + err.Error())
			continue
		}
		s.log.Info("new client connected from " + conn.RemoteAddr().String())
		s.placeClient(conn)
	}
}

// placeClient admits the connection into the directory and onto the
// least-loaded worker (ties broken by lowest index). When no worker has
// spare capacity, or the directory is full, the client is told so and
// the socket is closed.
func (s *Server) placeClient(conn net.Conn) (int, error) {
	least := -1
	best := 0
	for i, w := range s.workers {
		w.lock.Lock()
		connected, capacity := w.connected, w.capacity
		w.lock.Unlock()
		if connected < capacity && (least == -1 || connected < best) {
			least = i
			best = connected
		}
	}
	if least == -1 {
		s.rejectClient(conn)
		return -1, ErrServerFull
	}

	sess, err := s.directory.CreateSession(conn)
	if err != nil {
		s.rejectClient(conn)
		return -1, err
	}
	if err := s.workers[least].addSlot(sess); err != nil {
		s.directory.RemoveSession(sess)
		s.rejectClient(conn)
		return -1, err
	}
	s.log.Debug("placed client on worker " + strconv.Itoa(least))
	return least, nil
}

func (s *Server) rejectClient(conn net.Conn) {
	s.log.Warning("reached max clients!")
	conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
	conn.Write([]byte("ERROR :Server is full\r\n"))
	conn.Close()
}

// teardownSession runs the disconnect sequence: leave every room, leave
// the directory, close the socket. Rooms first, so no broadcast can
// pick the session up once it is gone from the directory.
func (s *Server) teardownSession(sess *Session) {
	s.log.Info("client disconnected: " + sess.Nick())
	s.registry.RemoveFromAllRooms(sess)
	s.directory.RemoveSession(sess)
	sess.Close()
}

// handleLine runs one raw line through the dispatch engine, then any
// commands the handler queued for this session (e.g. the NAMES that
// follows a JOIN). Malformed lines are dropped without a reply.
func (s *Server) handleLine(sess *Session, raw []byte) {
	if !sess.flood.allow() {
		s.log.Warning("flood limit exceeded, dropping line from " + sess.Nick())
		return
	}

	msg, err := ParseMessage(raw)
	if err != nil {
		s.log.Debug("dropping malformed line: " + err.Error())
		return
	}
	msg.Session = sess
	s.Dispatch(msg)

	for pending := sess.takePending(); len(pending) > 0; pending = sess.takePending() {
		for _, m := range pending {
			s.Dispatch(m)
		}
	}
}

// worker owns a fixed set of connection slots and services them with
// bounded-timeout read sweeps. A socket lives and dies on the worker
// that accepted it.
type worker struct {
	index    int
	capacity int
	srv      *Server

	// lock guards the slot table; it is held across the non-blocking
	// reads of a sweep but never across dispatch.
	lock      sync.Mutex
	slots     []*slot
	connected int
}

// slot is one connection assignment: the session plus whatever partial
// line has been read so far.
type slot struct {
	session *Session
	buf     []byte
}

// inboundLine is one complete line collected by a sweep, still tied to
// the session it came from.
type inboundLine struct {
	session *Session
	raw     []byte
}

// addSlot assigns a session to this worker's first free slot.
func (w *worker) addSlot(sess *Session) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.connected >= w.capacity {
		return ErrServerFull
	}
	for i, sl := range w.slots {
		if sl == nil {
			w.slots[i] = &slot{session: sess}
			w.connected++
			return nil
		}
	}
	return ErrServerFull
}

// loop services the worker's sockets until the server context ends.
// Dispatch happens outside the slot lock; handlers may block on other
// locks.
func (w *worker) loop(ctx context.Context) {
	readBuf := make([]byte, MaxLineLength)
	for {
		select {
		case <-ctx.Done():
			w.closeAll()
			return
		default:
		}

		if !w.service(readBuf) {
			time.Sleep(workerIdleDelay)
		}
	}
}

// service runs one sweep and handles what it produced. A read can
// return final data together with a hangup, so the collected lines are
// dispatched before the dead sessions are torn down. It reports whether
// the sweep found any activity.
func (w *worker) service(readBuf []byte) bool {
	lines, dead := w.sweep(readBuf)
	for _, ln := range lines {
		w.srv.handleLine(ln.session, ln.raw)
	}
	for _, sess := range dead {
		w.srv.teardownSession(sess)
	}
	return len(lines) > 0 || len(dead) > 0
}

// sweep polls every assigned socket once with a share of the sweep
// budget. It returns the complete lines read and the sessions whose
// sockets errored or hung up; the caller handles both after the lock
// is released.
func (w *worker) sweep(readBuf []byte) (lines []inboundLine, dead []*Session) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.connected == 0 {
		return nil, nil
	}
	share := pollTimeout / time.Duration(w.connected)
	if share < time.Millisecond {
		share = time.Millisecond
	}

	for i, sl := range w.slots {
		if sl == nil {
			continue
		}
		conn := sl.session.conn
		conn.SetReadDeadline(time.Now().Add(share))
		n, err := conn.Read(readBuf)
		if n > 0 {
			sl.buf = append(sl.buf, readBuf[:n]...)
			for {
				advance, line := nextLine(sl.buf)
				if advance == 0 {
					break
				}
				if len(line) > 0 {
					raw := make([]byte, len(line))
					copy(raw, line)
					lines = append(lines, inboundLine{session: sl.session, raw: raw})
				}
				sl.buf = sl.buf[advance:]
			}
			if len(sl.buf) > MaxLineLength {
				// A line that long will never parse; drop the buffer
				// rather than grow it forever.
				w.srv.log.Debug("dropping oversized line")
				sl.buf = nil
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// A hangup or a hard socket error: same cleanup either way.
			dead = append(dead, sl.session)
			w.slots[i] = nil
			w.connected--
		}
	}
	return lines, dead
}

// closeAll closes every connection this worker still owns.
func (w *worker) closeAll() {
	w.lock.Lock()
	defer w.lock.Unlock()
	for i, sl := range w.slots {
		if sl == nil {
			continue
		}
		sl.session.Close()
		w.slots[i] = nil
	}
	w.connected = 0
}
