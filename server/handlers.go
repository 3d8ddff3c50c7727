package server

import (
	"errors"
	"io"
	"msgserver/auth"
	"msgserver/errs"
	"msgserver/protocol"
	"net"
	"time"
)

// Reply texts
const (
	reasonBadRequest    = "bad request"
	reasonNameInUse     = "name in use"
	reasonNotRegistered = "not registered"
	reasonBadPassword   = "bad password"
	reasonNoPublicKey   = "no public key"
	reasonInternal      = "internal error"
)

type handlerFunc func(s *Server, c *Client, msg protocol.Message) error

// routes serves authenticated clients. Kinds missing here, including a
// second presence, get "bad request".
var routes = map[protocol.Kind]handlerFunc{
	protocol.KindChat:             (*Server).handleChat,
	protocol.KindExit:             (*Server).handleExit,
	protocol.KindGetContacts:      (*Server).handleGetContacts,
	protocol.KindAddContact:       (*Server).handleAddContact,
	protocol.KindRemoveContact:    (*Server).handleRemoveContact,
	protocol.KindUsersRequest:     (*Server).handleUsersRequest,
	protocol.KindPublicKeyRequest: (*Server).handlePublicKeyRequest,
}

func (s *Server) handleRead(c *Client, msg protocol.Message, err error) {
	// Events queued before a disconnect are dropped.
	if c.closed {
		return
	}

	if err != nil {
		s.deregister(c, readFailure(err))
		return
	}

	kind := msg.Kind()
	s.metrics.RecordMessageReceived(string(kind))
	start := time.Now()

	switch c.state {
	case stateAwaitPresence:
		err = s.handlePresence(c, msg)
	case stateAwaitAnswer:
		err = s.handleAnswer(c, msg)
	default:
		handler, ok := routes[kind]
		if !ok {
			err = errs.Protocol(reasonBadRequest)
		} else {
			err = handler(s, c, msg)
		}
	}

	s.metrics.RecordHandleDuration(string(kind), time.Since(start))
	s.handleError(c, err)
}

// handleError maps a handler result to what the peer sees.
func (s *Server) handleError(c *Client, err error) {
	if err == nil || c.closed {
		return
	}

	switch errs.KindOf(err) {
	case errs.KindProtocol:
		c.log.Debugf("Bad request: %v", err)
		if werr := s.send(c, protocol.BadRequest(err.Error())); werr != nil {
			s.deregister(c, "write failed")
		}
	case errs.KindAuth:
		s.metrics.RecordAuthFailure(err.Error())
		c.log.Infof("Authentication rejected: %v", err)
		s.send(c, protocol.BadRequest(err.Error()))
		s.deregister(c, "authentication failed")
	case errs.KindTransport:
		c.log.Warnf("Transport error: %v", err)
		s.deregister(c, "write failed")
	default:
		c.log.Errorf("Internal error: %v", err)
		s.send(c, protocol.BadRequest(reasonInternal))
		s.deregister(c, "internal error")
	}
}

func readFailure(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		return "connection closed"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "connection closed mid-frame"
	case errors.Is(err, net.ErrClosed):
		return "connection closed"
	case errors.As(err, &netErr):
		return "read failed"
	default:
		return "malformed message"
	}
}

// reply sends m and classifies a write failure as a transport error.
func (s *Server) reply(c *Client, m protocol.Message) error {
	if err := s.send(c, m); err != nil {
		return errs.Transport("reply failed", err)
	}
	return nil
}

// Handshake

// handlePresence answers the first message of a connection. A known,
// not-yet-connected account gets a challenge.
func (s *Server) handlePresence(c *Client, msg protocol.Message) error {
	p, ok := msg.(*protocol.Presence)
	if !ok {
		return errs.Protocol(reasonBadRequest)
	}

	if _, taken := s.names[p.AccountName]; taken {
		return errs.Auth(reasonNameInUse)
	}

	exists, err := s.db.CheckUser(p.AccountName)
	if err != nil {
		return errs.Persistence("check user", err)
	}
	if !exists {
		return errs.Auth(reasonNotRegistered)
	}

	hash, err := s.db.GetHash(p.AccountName)
	if err != nil {
		return errs.Persistence("load password hash", err)
	}

	challenge, err := auth.NewChallenge()
	if err != nil {
		return errs.Wrap(errs.KindUnknown, "generate challenge", err)
	}

	c.pending = &pendingAuth{
		name:   p.AccountName,
		pubkey: p.PublicKey,
		digest: auth.Digest(hash, challenge),
	}
	c.state = stateAwaitAnswer

	return s.reply(c, protocol.Challenge(challenge))
}

// handleAnswer checks the digest sent back for the challenge. The name is
// looked up again since another connection may have claimed it meanwhile.
func (s *Server) handleAnswer(c *Client, msg protocol.Message) error {
	pending := c.pending
	c.pending = nil

	resp, ok := msg.(*protocol.Response)
	if !ok || pending == nil || resp.Code != protocol.CodeAuthRequired || !auth.Verify(pending.digest, resp.Data) {
		return errs.Auth(reasonBadPassword)
	}

	if _, taken := s.names[pending.name]; taken {
		return errs.Auth(reasonNameInUse)
	}

	if err := s.register(c, pending.name, pending.pubkey); err != nil {
		return errs.Persistence("register session", err)
	}

	return s.reply(c, protocol.OK())
}

// Router

func (s *Server) handleChat(c *Client, msg protocol.Message) error {
	m := msg.(*protocol.Chat)
	if !s.owns(c, m.From) {
		return errs.Protocol(reasonBadRequest)
	}

	dest, ok := s.names[m.To]
	if !ok {
		return errs.Protocol(reasonNotRegistered + ": " + m.To)
	}

	// Пересылаем сообщение получателю как есть
	if err := s.send(dest, m); err != nil {
		dest.log.Warnf("Error forwarding message from %s: %v", m.From, err)
		s.deregister(dest, "write failed")
		return errs.Protocol(reasonNotRegistered + ": " + m.To)
	}

	if err := s.db.ProcessMessage(m.From, m.To); err != nil {
		return errs.Persistence("count message", err)
	}
	s.metrics.RecordChatRouted()
	c.log.Debugf("Message from %s delivered to %s", m.From, m.To)

	return s.reply(c, protocol.OK())
}

func (s *Server) handleExit(c *Client, msg protocol.Message) error {
	m := msg.(*protocol.Exit)
	if !s.owns(c, m.AccountName) {
		return errs.Protocol(reasonBadRequest)
	}

	s.deregister(c, "exit")
	return nil
}

func (s *Server) handleGetContacts(c *Client, msg protocol.Message) error {
	m := msg.(*protocol.GetContacts)
	if !s.owns(c, m.User) {
		return errs.Protocol(reasonBadRequest)
	}

	contacts, err := s.db.GetContacts(m.User)
	if err != nil {
		return errs.Persistence("get contacts", err)
	}

	return s.reply(c, protocol.List(contacts))
}

func (s *Server) handleAddContact(c *Client, msg protocol.Message) error {
	m := msg.(*protocol.AddContact)
	if !s.owns(c, m.User) {
		return errs.Protocol(reasonBadRequest)
	}

	if err := s.db.AddContact(m.User, m.AccountName); err != nil {
		return errs.Persistence("add contact", err)
	}

	return s.reply(c, protocol.OK())
}

func (s *Server) handleRemoveContact(c *Client, msg protocol.Message) error {
	m := msg.(*protocol.RemoveContact)
	if !s.owns(c, m.User) {
		return errs.Protocol(reasonBadRequest)
	}

	if err := s.db.RemoveContact(m.User, m.AccountName); err != nil {
		return errs.Persistence("remove contact", err)
	}

	return s.reply(c, protocol.OK())
}

func (s *Server) handleUsersRequest(c *Client, msg protocol.Message) error {
	m := msg.(*protocol.UsersRequest)
	if !s.owns(c, m.AccountName) {
		return errs.Protocol(reasonBadRequest)
	}

	users, err := s.db.UsersList()
	if err != nil {
		return errs.Persistence("list users", err)
	}

	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}

	return s.reply(c, protocol.List(names))
}

// handlePublicKeyRequest needs no sender binding: keys are public.
func (s *Server) handlePublicKeyRequest(c *Client, msg protocol.Message) error {
	m := msg.(*protocol.PublicKeyRequest)

	key, err := s.db.GetPubkey(m.AccountName)
	if err != nil {
		return errs.Persistence("get public key", err)
	}
	if key == "" {
		return errs.Protocol(reasonNoPublicKey)
	}

	return s.reply(c, protocol.Challenge(key))
}
