// Package fakeconn is an in-process stand-in for Telegram used by tests. A
// Network holds accounts and server-side authorization; Conns created by its
// Factory talk to it.
package fakeconn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jrsteele09/go-tg-session-gateway/connection"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrPhoneCodeInvalid = errors.New("PHONE_CODE_INVALID")
	ErrPhoneCodeExpired = errors.New("PHONE_CODE_EXPIRED")
	ErrPasswordInvalid  = errors.New("PASSWORD_HASH_INVALID")
	ErrPhoneInvalid     = errors.New("PHONE_NUMBER_INVALID")
)

// Account is a registered phone. A non-empty Password enables two-factor auth.
type Account struct {
	Code     string
	Password string
}

// Call is one collaborator call as seen by the network.
type Call struct {
	Phone string
	Op    string
}

// Sent is a delivered message or file.
type Sent struct {
	Phone       string
	Target      string
	Text        string
	Path        string
	FileContent []byte // read while the file existed
	Voice       bool
}

// Network is the fake Telegram backend shared by all connections.
type Network struct {
	// Delay is applied inside every call, to widen race windows in tests.
	Delay time.Duration

	mu          sync.Mutex
	accounts    map[string]Account
	authorized  map[string]bool
	pendingPass map[string]bool
	handles     map[string]string
	nextHandle  int
	failures    map[string]error
	calls       []Call
	sent        []Sent
	conns       []*Conn
	inFlight    int
	overlapped  bool
}

// NewNetwork creates an empty fake network.
func NewNetwork() *Network {
	return &Network{
		accounts:    make(map[string]Account),
		authorized:  make(map[string]bool),
		pendingPass: make(map[string]bool),
		handles:     make(map[string]string),
		failures:    make(map[string]error),
	}
}

// AddAccount registers phone.
func (n *Network) AddAccount(phone string, acc Account) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts[phone] = acc
}

// Authorize marks phone as signed in, as if a session file already existed.
func (n *Network) Authorize(phone string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.authorized[phone] = true
}

// FailNext makes the next call of op fail with err.
func (n *Network) FailNext(op string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[op] = err
}

// Factory returns a connection.Factory bound to the network.
func (n *Network) Factory() connection.Factory {
	return func(creds connection.Credentials) (connection.Connection, error) {
		if creds.APIID == 0 || creds.APIHash == "" {
			return nil, errors.New("api_id and api_hash are required")
		}
		c := &Conn{net: n, creds: creds}
		n.mu.Lock()
		n.conns = append(n.conns, c)
		n.mu.Unlock()
		return c, nil
	}
}

// Calls returns every call made so far.
func (n *Network) Calls() []Call {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Call(nil), n.calls...)
}

// CountCalls returns how many times op was called for phone.
func (n *Network) CountCalls(phone, op string) int {
	count := 0
	for _, c := range n.Calls() {
		if c.Phone == phone && c.Op == op {
			count++
		}
	}
	return count
}

// Sent returns every delivered message.
func (n *Network) Sent() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Sent(nil), n.sent...)
}

// Overlapped reports whether two calls were ever in flight at the same time.
func (n *Network) Overlapped() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.overlapped
}

// OpenConnections returns the number of connections currently connected.
func (n *Network) OpenConnections() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	open := 0
	for _, c := range n.conns {
		if c.connected {
			open++
		}
	}
	return open
}

// Created returns the number of connections the factory built.
func (n *Network) Created() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// Drop disconnects every connection for phone, as a network failure would.
func (n *Network) Drop(phone string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.conns {
		if c.creds.Phone == phone {
			c.connected = false
		}
	}
}

// IsAuthorized reports the server-side authorization of phone.
func (n *Network) IsAuthorized(phone string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.authorized[phone]
}

// begin records the call and returns the injected failure, if any. The
// returned function must be called when the call completes.
func (n *Network) begin(phone, op string) (func(), error) {
	n.mu.Lock()
	n.calls = append(n.calls, Call{Phone: phone, Op: op})
	n.inFlight++
	if n.inFlight > 1 {
		n.overlapped = true
	}
	err, ok := n.failures[op]
	if ok {
		delete(n.failures, op)
	}
	delay := n.Delay
	n.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return func() {
		n.mu.Lock()
		n.inFlight--
		n.mu.Unlock()
	}, err
}

// Conn is a fake connection.Connection.
type Conn struct {
	net       *Network
	creds     connection.Credentials
	connected bool
}

var _ connection.Connection = (*Conn)(nil)

func (c *Conn) call(op string) (func(), error) {
	done, err := c.net.begin(c.creds.Phone, op)
	if err != nil {
		return done, err
	}
	if op != "connect" && !c.IsConnected() {
		return done, ErrNotConnected
	}
	return done, nil
}

func (c *Conn) Connect(ctx context.Context) error {
	done, err := c.call("connect")
	defer done()
	if err != nil {
		return err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.connected = true
	return nil
}

func (c *Conn) IsConnected() bool {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.connected
}

func (c *Conn) IsAuthorized(ctx context.Context) (bool, error) {
	done, err := c.call("is_authorized")
	defer done()
	if err != nil {
		return false, err
	}
	return c.net.IsAuthorized(c.creds.Phone), nil
}

func (c *Conn) RequestCode(ctx context.Context, phone string) (string, error) {
	done, err := c.call("request_code")
	defer done()
	if err != nil {
		return "", err
	}
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.accounts[phone]; !ok {
		return "", ErrPhoneInvalid
	}
	n.nextHandle++
	handle := fmt.Sprintf("hash-%d", n.nextHandle)
	n.handles[phone] = handle
	delete(n.pendingPass, phone)
	return handle, nil
}

func (c *Conn) SignInWithCode(ctx context.Context, phone, code, handle string) error {
	done, err := c.call("sign_in_code")
	defer done()
	if err != nil {
		return err
	}
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	acc, ok := n.accounts[phone]
	if !ok {
		return ErrPhoneInvalid
	}
	if handle != n.handles[phone] {
		return ErrPhoneCodeExpired
	}
	if code != acc.Code {
		return ErrPhoneCodeInvalid
	}
	if acc.Password != "" {
		n.pendingPass[phone] = true
		return connection.ErrPasswordRequired
	}
	n.authorized[phone] = true
	delete(n.handles, phone)
	return nil
}

func (c *Conn) SignInWithPassword(ctx context.Context, password string) error {
	done, err := c.call("sign_in_password")
	defer done()
	if err != nil {
		return err
	}
	n := c.net
	phone := c.creds.Phone
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.pendingPass[phone] {
		return errors.New("AUTH_RESTART")
	}
	if password != n.accounts[phone].Password {
		return ErrPasswordInvalid
	}
	n.authorized[phone] = true
	delete(n.pendingPass, phone)
	delete(n.handles, phone)
	return nil
}

func (c *Conn) LogOut(ctx context.Context) error {
	done, err := c.call("log_out")
	defer done()
	if err != nil {
		return err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	delete(c.net.authorized, c.creds.Phone)
	return nil
}

func (c *Conn) Disconnect(ctx context.Context) error {
	done, err := c.net.begin(c.creds.Phone, "disconnect")
	defer done()
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.connected = false
	return err
}

func (c *Conn) SendText(ctx context.Context, target, text string) error {
	done, err := c.call("send_text")
	defer done()
	if err != nil {
		return err
	}
	if !c.net.IsAuthorized(c.creds.Phone) {
		return errors.New("AUTH_KEY_UNREGISTERED")
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.net.sent = append(c.net.sent, Sent{Phone: c.creds.Phone, Target: target, Text: text})
	return nil
}

func (c *Conn) SendFile(ctx context.Context, target, path string, asVoiceNote bool) error {
	done, err := c.call("send_file")
	defer done()
	// The file is read before an injected failure is reported so tests can
	// check it existed during the call on both paths.
	content, readErr := os.ReadFile(path)
	if err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}
	if !c.net.IsAuthorized(c.creds.Phone) {
		return errors.New("AUTH_KEY_UNREGISTERED")
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.net.sent = append(c.net.sent, Sent{
		Phone:       c.creds.Phone,
		Target:      target,
		Path:        path,
		FileContent: content,
		Voice:       asVoiceNote,
	})
	return nil
}
