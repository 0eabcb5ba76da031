// Package telegram adapts the gotd MTProto client to connection.Connection.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/jrsteele09/go-tg-session-gateway/connection"
)

// SelfTarget addresses the account's own Saved Messages.
const SelfTarget = "me"

var errNotConnected = errors.New("client is not connected")

// Client is one Telegram user-account connection. The MTProto connection
// runs in a background goroutine from Connect until Disconnect, outside of
// any request context.
type Client struct {
	client *telegram.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

var _ connection.Connection = (*Client)(nil)

// NewClient creates an unconnected client that keeps its session in storage.
func NewClient(creds connection.Credentials, storage session.Storage) (*Client, error) {
	if creds.APIID <= 0 || creds.APIHash == "" {
		return nil, fmt.Errorf("[telegram NewClient] api_id and api_hash are required")
	}
	if storage == nil {
		return nil, fmt.Errorf("[telegram NewClient] session storage is required")
	}
	return &Client{
		client: telegram.NewClient(creds.APIID, creds.APIHash, telegram.Options{
			SessionStorage: storage,
		}),
	}, nil
}

// Connect starts the client and returns once it is ready to serve requests.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running() {
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ready := make(chan struct{})
	c.cancel, c.done, c.runErr = cancel, done, nil
	c.mu.Unlock()

	go func() {
		err := c.client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()
		close(done)
	}()

	select {
	case <-ready:
		return nil
	case <-done:
		c.mu.Lock()
		err := c.runErr
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("[telegram Connect] %w", err)
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (c *Client) running() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// IsConnected reports whether the background connection is still running.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running()
}

func (c *Client) ready() error {
	if !c.IsConnected() {
		return errNotConnected
	}
	return nil
}

func (c *Client) IsAuthorized(ctx context.Context) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Authorized, nil
}

// RequestCode asks Telegram to send a login code and returns the phone code
// hash that SignInWithCode needs.
func (c *Client) RequestCode(ctx context.Context, phone string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", err
	}
	switch s := sent.(type) {
	case *tg.AuthSentCode:
		return s.PhoneCodeHash, nil
	default:
		return "", fmt.Errorf("unexpected sent code response %T", sent)
	}
}

func (c *Client) SignInWithCode(ctx context.Context, phone, code, handle string) error {
	if err := c.ready(); err != nil {
		return err
	}
	_, err := c.client.Auth().SignIn(ctx, phone, code, handle)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return connection.ErrPasswordRequired
	}
	return err
}

func (c *Client) SignInWithPassword(ctx context.Context, password string) error {
	if err := c.ready(); err != nil {
		return err
	}
	_, err := c.client.Auth().Password(ctx, password)
	return err
}

func (c *Client) LogOut(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	_, err := c.client.API().AuthLogOut(ctx)
	return err
}

// Disconnect stops the background connection and waits for it to exit.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) SendText(ctx context.Context, target, text string) error {
	if err := c.ready(); err != nil {
		return err
	}
	_, err := c.peer(target).Text(ctx, text)
	return err
}

// SendFile uploads the file at path and sends it as a document. With
// asVoiceNote it is marked as a voice message.
func (c *Client) SendFile(ctx context.Context, target, path string, asVoiceNote bool) error {
	if err := c.ready(); err != nil {
		return err
	}
	file, err := uploader.NewUploader(c.client.API()).FromPath(ctx, path)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	doc := message.UploadedDocument(file).
		Filename(filepath.Base(path)).
		MIME(mimeType(path))
	if asVoiceNote {
		doc = doc.Attributes(&tg.DocumentAttributeAudio{Voice: true})
	}
	_, err = c.peer(target).Media(ctx, doc)
	return err
}

func (c *Client) peer(target string) *message.RequestBuilder {
	sender := message.NewSender(c.client.API())
	if target == "" || strings.EqualFold(target, SelfTarget) {
		return sender.Self()
	}
	return sender.Resolve(target)
}

func mimeType(path string) string {
	if m := mime.TypeByExtension(filepath.Ext(path)); m != "" {
		return m
	}
	return "audio/ogg"
}
