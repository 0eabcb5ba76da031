// Package connection defines the narrow capability set the session gateway
// consumes from a Telegram user-account client.
package connection

import (
	"context"
	"errors"
)

// ErrPasswordRequired is returned by SignInWithCode when the account has a
// two-factor password. It is the only collaborator error the state machine
// interprets.
var ErrPasswordRequired = errors.New("session password needed")

// Credentials identify the application and account a connection is opened for.
// APIID and APIHash are issued by Telegram and passed through untouched.
type Credentials struct {
	APIID   int
	APIHash string
	Phone   string
}

// Connection is one client connection to Telegram for one phone number.
// Implementations are not required to be safe for concurrent use; callers
// serialize access per identity.
type Connection interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	IsAuthorized(ctx context.Context) (bool, error)

	// RequestCode asks Telegram to deliver a login code and returns the
	// verification handle (phone code hash) needed to redeem it.
	RequestCode(ctx context.Context, phone string) (string, error)
	SignInWithCode(ctx context.Context, phone, code, handle string) error
	SignInWithPassword(ctx context.Context, password string) error

	LogOut(ctx context.Context) error
	Disconnect(ctx context.Context) error

	SendText(ctx context.Context, target, text string) error
	SendFile(ctx context.Context, target, path string, asVoiceNote bool) error
}

// Factory builds an unconnected Connection for the given credentials.
type Factory func(creds Credentials) (Connection, error)
