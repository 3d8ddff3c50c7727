package server

import (
	"msgserver/protocol"
	"net"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type authState uint8

const (
	stateAwaitPresence authState = iota
	stateAwaitAnswer
	stateAuthenticated
)

// Client is one accepted connection. All fields are owned by the reactor.
type Client struct {
	id      string
	conn    net.Conn
	log     *zap.SugaredLogger
	state   authState
	pending *pendingAuth
	name    string
	closed  bool
}

// pendingAuth holds the expected answer between the challenge and the reply.
type pendingAuth struct {
	name   string
	pubkey string
	digest []byte
}

// send writes one message to c under the configured write deadline.
func (s *Server) send(c *Client, m protocol.Message) error {
	if s.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if err := protocol.WriteMessage(c.conn, m); err != nil {
		return err
	}
	s.metrics.RecordMessageSent(string(m.Kind()))
	return nil
}

// register binds a verified client to its account: store first, then the
// socket table, so a store failure leaves no half-registered session.
func (s *Server) register(c *Client, name, pubkey string) error {
	ip, port := peerAddr(c.conn)
	if err := s.db.UserLogin(name, ip, port, pubkey); err != nil {
		return err
	}

	c.name = name
	c.state = stateAuthenticated
	s.names[name] = c
	c.log = c.log.With("user", name)

	s.metrics.RecordActiveSessions(len(s.names))
	c.log.Infof("Client %s authenticated from %s:%d", name, ip, port)
	return nil
}

// deregister tears a client down: Active_users row, socket table, client
// list, connection. Calling it again for the same client does nothing.
func (s *Server) deregister(c *Client, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.pending = nil

	if c.name != "" && s.names[c.name] == c {
		delete(s.names, c.name)
		if err := s.db.UserLogout(c.name); err != nil {
			c.log.Errorf("Failed to remove active session for %s: %v", c.name, err)
		}
		s.metrics.RecordActiveSessions(len(s.names))
	}

	delete(s.clients, c)
	c.conn.Close()

	s.metrics.RecordDisconnect(reason)
	s.metrics.RecordConnectedClients(len(s.clients))
	if c.name != "" {
		c.log.Infof("Client %s disconnected: %s", c.name, reason)
	} else {
		c.log.Infof("Client disconnected: %s", reason)
	}
}

// broadcastUpdate tells every authenticated client that the user list
// changed. A client that cannot be written to is dropped; the rest still get
// the notice.
func (s *Server) broadcastUpdate() {
	var failed []*Client
	for _, c := range s.names {
		if err := s.send(c, protocol.Update()); err != nil {
			c.log.Warnf("Error sending update: %v", err)
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		s.deregister(c, "write failed")
	}
}

func (s *Server) onlineUsers() []string {
	users := make([]string, 0, len(s.names))
	for name := range s.names {
		users = append(users, name)
	}
	sort.Strings(users)
	return users
}

// owns reports whether name is bound to c in the socket table.
func (s *Server) owns(c *Client, name string) bool {
	bound, ok := s.names[name]
	return ok && bound == c
}

func peerAddr(conn net.Conn) (string, int) {
	addr := conn.RemoteAddr().String()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
