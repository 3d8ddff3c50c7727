package client

import (
	"bufio"
	"msgserver/auth"
	"msgserver/protocol"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer plays the server side of a net.Pipe.
type fakeServer struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func newPair(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})
	return New(clientConn, 5*time.Second), &fakeServer{t: t, conn: serverConn, reader: bufio.NewReader(serverConn)}
}

func (f *fakeServer) receive() protocol.Message {
	msg, err := protocol.ReadMessage(f.reader)
	if err != nil {
		f.t.Errorf("fake server read: %v", err)
	}
	return msg
}

func (f *fakeServer) send(m protocol.Message) {
	if err := protocol.WriteMessage(f.conn, m); err != nil {
		f.t.Errorf("fake server write: %v", err)
	}
}

func TestLogin(t *testing.T) {
	c, srv := newPair(t)
	hash := auth.HashPassword("alice", "secret")

	go func() {
		p, ok := srv.receive().(*protocol.Presence)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, "alice", p.AccountName)
		assert.Equal(t, "KEY", p.PublicKey)

		challenge, err := auth.NewChallenge()
		assert.NoError(t, err)
		srv.send(protocol.Challenge(challenge))

		answer := srv.receive().(*protocol.Response)
		assert.True(t, auth.Verify(auth.Digest(hash, challenge), answer.Data))
		srv.send(protocol.OK())
	}()

	require.NoError(t, c.Login("alice", "secret", "KEY"))
	assert.Equal(t, "alice", c.Name())
}

func TestLoginRejected(t *testing.T) {
	c, srv := newPair(t)

	go func() {
		srv.receive()
		srv.send(protocol.BadRequest("not registered"))
	}()

	err := c.Login("ghost", "secret", "")
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.CodeBadRequest, serverErr.Code)
	assert.Equal(t, "server replied 400: not registered", err.Error())
	assert.Empty(t, c.Name())
}

// TestCallKeepsPushedMessages: chats and updates ahead of the reply go to
// the inbox.
func TestCallKeepsPushedMessages(t *testing.T) {
	c, srv := newPair(t)

	go func() {
		srv.receive()
		srv.send(protocol.Update())
		srv.send(&protocol.Chat{From: "bob", To: "alice", Time: 1, Text: "hi"})
		srv.send(protocol.List([]string{"bob", "carol"}))
	}()

	contacts, err := c.Contacts()
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, contacts)

	inbox := c.Inbox()
	require.Len(t, inbox, 2)
	assert.Equal(t, protocol.KindResponse, inbox[0].Kind())
	assert.Equal(t, "hi", inbox[1].(*protocol.Chat).Text)
	assert.Empty(t, c.Inbox())
}

func TestPublicKey(t *testing.T) {
	c, srv := newPair(t)

	go func() {
		req := srv.receive().(*protocol.PublicKeyRequest)
		assert.Equal(t, "bob", req.AccountName)
		srv.send(protocol.Challenge("BOB-KEY"))

		srv.receive()
		srv.send(protocol.BadRequest("no public key"))
	}()

	key, err := c.PublicKey("bob")
	require.NoError(t, err)
	assert.Equal(t, "BOB-KEY", key)

	_, err = c.PublicKey("carol")
	assert.Error(t, err)
}

func TestSendMessageError(t *testing.T) {
	c, srv := newPair(t)

	go func() {
		chat := srv.receive().(*protocol.Chat)
		srv.send(protocol.BadRequest("not registered: " + chat.To))
	}()

	err := c.SendMessage("bob", "hello")
	assert.EqualError(t, err, "server replied 400: not registered: bob")
}
