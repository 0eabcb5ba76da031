package sessions

import (
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-tg-session-gateway/connection"
)

// Record is the per-phone session: the live Telegram connection plus the
// handshake state. A missing record is the NEW state.
type Record struct {
	ID         string                 // Unique record identifier (UUID), for log correlation
	Identity   string                 // Canonical phone number, the store key
	Conn       connection.Connection  // Exclusively owned by this record
	Creds      connection.Credentials // Credentials the connection was opened with
	State      State                  // CodeSent or Authorized
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// NewRecord creates a record for identity that owns conn.
func NewRecord(identity string, creds connection.Credentials, conn connection.Connection, now time.Time) *Record {
	return &Record{
		ID:         uuid.New().String(),
		Identity:   identity,
		Conn:       conn,
		Creds:      creds,
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

// Clone returns a shallow copy. The connection handle is shared; State values
// are immutable so sharing them is safe.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Touch records activity at now.
func (r *Record) Touch(now time.Time) {
	r.LastUsedAt = now
}

// IsAuthorized reports whether the record is in the Authorized state.
func (r *Record) IsAuthorized() bool {
	if r == nil {
		return false
	}
	_, ok := r.State.(Authorized)
	return ok
}

// CodeSent returns the CodeSent state if the record is waiting for a code.
func (r *Record) CodeSent() (CodeSent, bool) {
	if r == nil {
		return CodeSent{}, false
	}
	cs, ok := r.State.(CodeSent)
	return cs, ok
}

// StateName returns the name of the record's state, "new" for a nil record.
func (r *Record) StateName() string {
	if r == nil || r.State == nil {
		return StateNew
	}
	return r.State.Name()
}
