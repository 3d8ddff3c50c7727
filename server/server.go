package server

import (
	"bufio"
	"errors"
	"msgserver/models"
	"msgserver/protocol"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrServerClosed = errors.New("server closed")

// Store is the persistence the server needs; *db.DB implements it.
type Store interface {
	AddUser(name string, passwdHash []byte) error
	RemoveUser(name string) error
	CheckUser(name string) (bool, error)
	GetHash(name string) ([]byte, error)
	GetPubkey(name string) (string, error)
	UsersList() ([]models.User, error)

	UserLogin(name, ip string, port int, pubkey string) error
	UserLogout(name string) error
	ActiveUsersList() ([]models.ActiveSession, error)
	LoginHistory(name string) ([]models.LoginRecord, error)

	GetContacts(name string) ([]string, error)
	AddContact(name, contact string) error
	RemoveContact(name, contact string) error

	ProcessMessage(sender, recipient string) error
	MessageHistory() ([]models.MessageStats, error)
}

type ServerConfig struct {
	ListenAddr    string
	AcceptTimeout time.Duration
	WriteTimeout  time.Duration
}

// Server is a single reactor: one goroutine owns the client list and the
// socket table and handles every event in arrival order. The acceptor and
// the per-connection readers only feed it events.
type Server struct {
	db        Store
	config    *ServerConfig
	log       *zap.SugaredLogger
	metrics   *Metrics
	startTime time.Time

	events   chan any
	quit     chan struct{}
	done     chan struct{}
	runOnce  sync.Once
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener

	// Owned by the reactor goroutine.
	clients map[*Client]struct{}
	names   map[string]*Client
}

type acceptEvent struct {
	conn net.Conn
}

type readEvent struct {
	client *Client
	msg    protocol.Message
	err    error
}

type callEvent struct {
	fn   func()
	done chan struct{}
}

func New(store Store, config *ServerConfig, logger *zap.SugaredLogger) *Server {
	if config.AcceptTimeout <= 0 {
		config.AcceptTimeout = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Server{
		db:        store,
		config:    config,
		log:       logger,
		metrics:   NewMetrics(),
		startTime: time.Now(),
		events:    make(chan any, 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		clients:   make(map[*Client]struct{}),
		names:     make(map[string]*Client),
	}
}

// Start binds the configured address and serves until Stop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Stop is called. It returns nil
// after a clean stop.
func (s *Server) Serve(listener net.Listener) error {
	select {
	case <-s.quit:
		listener.Close()
		return ErrServerClosed
	default:
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.startReactor()
	s.log.Infof("Message server listening on %s", listener.Addr())

	return s.acceptLoop(listener)
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, deregisters every client and waits for all
// goroutines to exit. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)

		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()

		s.startReactor()
		<-s.done
		s.wg.Wait()
		s.log.Infof("Message server stopped")
	})
}

func (s *Server) startReactor() {
	s.runOnce.Do(func() {
		go s.run()
	})
}

func (s *Server) acceptLoop(listener net.Listener) error {
	type deadliner interface {
		SetDeadline(t time.Time) error
	}

	for {
		// A bounded accept lets the loop notice Stop without relying on Close.
		if dl, ok := listener.(deadliner); ok {
			dl.SetDeadline(time.Now().Add(s.config.AcceptTimeout))
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warnf("Error accepting connection: %v", err)
			continue
		}

		select {
		case s.events <- acceptEvent{conn: conn}:
		case <-s.quit:
			conn.Close()
			return nil
		}
	}
}

// run is the reactor loop.
func (s *Server) run() {
	defer close(s.done)

	for {
		select {
		case <-s.quit:
			s.drain()
			s.closeAll()
			return
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

func (s *Server) dispatch(ev any) {
	switch ev := ev.(type) {
	case acceptEvent:
		s.accept(ev.conn)
	case readEvent:
		s.handleRead(ev.client, ev.msg, ev.err)
	case callEvent:
		ev.fn()
		close(ev.done)
	}
}

// drain handles whatever is already queued so pending admin calls complete
// and accepted connections get closed.
func (s *Server) drain() {
	for {
		select {
		case ev := <-s.events:
			if a, ok := ev.(acceptEvent); ok {
				a.conn.Close()
				continue
			}
			s.dispatch(ev)
		default:
			return
		}
	}
}

func (s *Server) closeAll() {
	for c := range s.clients {
		s.deregister(c, "server shutdown")
	}
}

func (s *Server) accept(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	c := &Client{
		id:    uuid.NewString(),
		conn:  conn,
		state: stateAwaitPresence,
	}
	c.log = s.log.With("conn", c.id, "remote", conn.RemoteAddr().String())

	s.clients[c] = struct{}{}
	s.metrics.RecordConnectionAccepted()
	s.metrics.RecordConnectedClients(len(s.clients))
	c.log.Infof("New client connected from %s", conn.RemoteAddr())

	s.wg.Add(1)
	go s.readLoop(c)
}

// readLoop decodes frames from one connection and queues them for the
// reactor. It stops after the first error, which it also queues.
func (s *Server) readLoop(c *Client) {
	defer s.wg.Done()

	reader := bufio.NewReader(c.conn)
	for {
		msg, err := protocol.ReadMessage(reader)
		select {
		case s.events <- readEvent{client: c, msg: msg, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// exec runs fn on the reactor goroutine and waits for it to finish.
func (s *Server) exec(fn func()) error {
	s.startReactor()

	done := make(chan struct{})
	select {
	case s.events <- callEvent{fn: fn, done: done}:
	case <-s.done:
		return ErrServerClosed
	}

	select {
	case <-done:
		return nil
	case <-s.done:
		// The reactor drains queued calls before it exits.
		select {
		case <-done:
			return nil
		default:
			return ErrServerClosed
		}
	}
}

// GetStats returns server statistics as a formatted string
func (s *Server) GetStats() string {
	var connections int
	var users []string
	if err := s.exec(func() {
		connections = len(s.clients)
		users = s.onlineUsers()
	}); err != nil {
		return "closed"
	}

	return "connections=" + strconv.Itoa(connections) + ",users=" + strings.Join(users, ";")
}

// OnlineUsers returns the authenticated account names, sorted.
func (s *Server) OnlineUsers() []string {
	var users []string
	s.exec(func() {
		users = s.onlineUsers()
	})
	return users
}
