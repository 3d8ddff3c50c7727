// Package client speaks the message server protocol from the user side.
package client

import (
	"bufio"
	"fmt"
	"msgserver/auth"
	"msgserver/protocol"
	"net"
	"time"
)

// ServerError is a 400 reply, or any reply with an unexpected code.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server replied %d", e.Code)
	}
	return fmt.Sprintf("server replied %d: %s", e.Code, e.Message)
}

type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	name    string
	timeout time.Duration
	inbox   []protocol.Message
}

// Dial connects to addr. timeout bounds the dial and every later read and
// write; zero means no deadline.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return New(conn, timeout), nil
}

func New(conn net.Conn, timeout time.Duration) *Client {
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Name is the account this client logged in as.
func (c *Client) Name() string {
	return c.name
}

// SetTimeout replaces the per-operation deadline; zero disables it.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
	c.conn.SetDeadline(time.Time{})
}

func (c *Client) Send(m protocol.Message) error {
	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return protocol.WriteMessage(c.conn, m)
}

func (c *Client) Receive() (protocol.Message, error) {
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return protocol.ReadMessage(c.reader)
}

// Login runs the presence / challenge / answer exchange. The password never
// leaves the process; only the HMAC of the server's challenge does.
func (c *Client) Login(name, password, pubkey string) error {
	return c.LoginWithHash(name, auth.HashPassword(name, password), pubkey)
}

func (c *Client) LoginWithHash(name string, passwdHash []byte, pubkey string) error {
	presence := &protocol.Presence{Time: now(), AccountName: name, PublicKey: pubkey}
	if err := c.Send(presence); err != nil {
		return err
	}

	resp, err := c.expectResponse()
	if err != nil {
		return err
	}
	if resp.Code != protocol.CodeAuthRequired {
		return &ServerError{Code: resp.Code, Message: resp.Error}
	}

	answer := &protocol.Response{Code: protocol.CodeAuthRequired, Data: auth.Answer(passwdHash, resp.Data)}
	if err := c.Send(answer); err != nil {
		return err
	}

	resp, err = c.expectResponse()
	if err != nil {
		return err
	}
	if resp.Code != protocol.CodeOK {
		return &ServerError{Code: resp.Code, Message: resp.Error}
	}

	c.name = name
	return nil
}

// Call sends m and returns the next reply. Chats and user-list updates that
// arrive first are kept for Inbox.
func (c *Client) Call(m protocol.Message) (*protocol.Response, error) {
	if err := c.Send(m); err != nil {
		return nil, err
	}
	return c.expectResponse()
}

// Inbox returns and clears the messages set aside by Call.
func (c *Client) Inbox() []protocol.Message {
	msgs := c.inbox
	c.inbox = nil
	return msgs
}

func (c *Client) expectResponse() (*protocol.Response, error) {
	for {
		msg, err := c.Receive()
		if err != nil {
			return nil, err
		}
		resp, ok := msg.(*protocol.Response)
		if !ok || resp.Code == protocol.CodeUpdate {
			c.inbox = append(c.inbox, msg)
			continue
		}
		return resp, nil
	}
}

func (c *Client) SendMessage(to, text string) error {
	resp, err := c.Call(&protocol.Chat{From: c.name, To: to, Time: now(), Text: text})
	if err != nil {
		return err
	}
	return expect(resp, protocol.CodeOK)
}

func (c *Client) Contacts() ([]string, error) {
	return c.list(&protocol.GetContacts{User: c.name})
}

func (c *Client) Users() ([]string, error) {
	return c.list(&protocol.UsersRequest{AccountName: c.name})
}

func (c *Client) AddContact(contact string) error {
	resp, err := c.Call(&protocol.AddContact{User: c.name, AccountName: contact})
	if err != nil {
		return err
	}
	return expect(resp, protocol.CodeOK)
}

func (c *Client) RemoveContact(contact string) error {
	resp, err := c.Call(&protocol.RemoveContact{User: c.name, AccountName: contact})
	if err != nil {
		return err
	}
	return expect(resp, protocol.CodeOK)
}

func (c *Client) PublicKey(name string) (string, error) {
	resp, err := c.Call(&protocol.PublicKeyRequest{AccountName: name})
	if err != nil {
		return "", err
	}
	if err := expect(resp, protocol.CodeAuthRequired); err != nil {
		return "", err
	}
	return resp.Data, nil
}

// Exit ends the session. The server closes the connection without a reply.
func (c *Client) Exit() error {
	err := c.Send(&protocol.Exit{AccountName: c.name})
	c.conn.Close()
	return err
}

func (c *Client) list(m protocol.Message) ([]string, error) {
	resp, err := c.Call(m)
	if err != nil {
		return nil, err
	}
	if err := expect(resp, protocol.CodeAccepted); err != nil {
		return nil, err
	}
	return resp.ListInfo, nil
}

func expect(resp *protocol.Response, code int) error {
	if resp.Code != code {
		return &ServerError{Code: resp.Code, Message: resp.Error}
	}
	return nil
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
