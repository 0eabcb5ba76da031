package sessions

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/go-tg-session-gateway/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// GateMode selects how steps are serialized.
type GateMode string

const (
	// GateGlobal runs one step at a time across every identity.
	GateGlobal GateMode = "global"
	// GateIdentity runs one step at a time per identity; different identities
	// proceed in parallel.
	GateIdentity GateMode = "identity"
)

// ParseGateMode converts a configuration value to a GateMode.
func ParseGateMode(s string) (GateMode, error) {
	switch GateMode(s) {
	case GateGlobal, GateIdentity:
		return GateMode(s), nil
	case "":
		return GateGlobal, nil
	}
	return "", fmt.Errorf("unknown gate mode %q (want %q or %q)", s, GateGlobal, GateIdentity)
}

type identityGate struct {
	sem  *semaphore.Weighted
	refs int // holders plus waiters; the gate is dropped at zero
}

// Store maps identities to session records. Every read-modify-write of a
// record goes through WithSession, which holds the gate for the identity for
// the whole step, including the Telegram calls made inside it.
type Store struct {
	mode    GateMode
	nowTime func() time.Time
	global  *semaphore.Weighted

	mu      sync.Mutex // guards records and gates, never held across a step
	records map[string]*Record
	gates   map[string]*identityGate
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

// WithGateMode sets the serialization mode (GateGlobal by default).
func WithGateMode(mode GateMode) StoreOption {
	return func(s *Store) {
		s.mode = mode
	}
}

// WithStoreNowTime sets the now time function (primarily for testing)
func WithStoreNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// NewStore creates an empty session store.
func NewStore(options ...StoreOption) *Store {
	s := &Store{
		mode:    GateGlobal,
		nowTime: time.Now,
		global:  semaphore.NewWeighted(1),
		records: make(map[string]*Record),
		gates:   make(map[string]*identityGate),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Mode returns the store's gate mode.
func (s *Store) Mode() GateMode {
	return s.mode
}

// WithSession runs fn with exclusive access to the record for identity.
// fn receives a copy of the current record, or nil if there is none, and
// returns the record to keep: nil removes it. Nothing is written when fn
// returns an error, so a failed step leaves the previous record in place.
func (s *Store) WithSession(ctx context.Context, identity string, fn func(rec *Record) (*Record, error)) error {
	if identity == "" {
		return fmt.Errorf("%w: identity is required", errors.ErrInvalidIdentity)
	}

	release, err := s.acquire(ctx, identity)
	if err != nil {
		return errors.Wrapf(err, "[Store WithSession] waiting for session gate")
	}
	defer release()

	s.mu.Lock()
	current := s.records[identity].Clone()
	s.mu.Unlock()

	next, err := fn(current)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if next == nil {
		delete(s.records, identity)
		return nil
	}
	if next.Conn == nil {
		return fmt.Errorf("%w: record for %s has no connection", errors.ErrInternal, MaskPhone(identity))
	}
	next.Identity = identity
	s.records[identity] = next
	return nil
}

func (s *Store) acquire(ctx context.Context, identity string) (func(), error) {
	if s.mode != GateIdentity {
		if err := s.global.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { s.global.Release(1) }, nil
	}

	s.mu.Lock()
	g, ok := s.gates[identity]
	if !ok {
		g = &identityGate{sem: semaphore.NewWeighted(1)}
		s.gates[identity] = g
	}
	g.refs++
	s.mu.Unlock()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		s.unref(identity, g)
		return nil, err
	}
	return func() {
		g.sem.Release(1)
		s.unref(identity, g)
	}, nil
}

func (s *Store) unref(identity string, g *identityGate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.refs--
	if g.refs == 0 {
		delete(s.gates, identity)
	}
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Identities returns the identities that currently have a record, sorted.
func (s *Store) Identities() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// EvictIdle removes records whose last use is older than maxIdle,
// disconnecting their connections first. It returns how many were removed.
func (s *Store) EvictIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	evicted := 0
	for _, id := range s.Identities() {
		err := s.WithSession(ctx, id, func(rec *Record) (*Record, error) {
			if rec == nil || s.nowTime().Sub(rec.LastUsedAt) < maxIdle {
				return rec, nil
			}
			if err := rec.Conn.Disconnect(ctx); err != nil {
				log.Warn().Err(err).Str("phone", MaskPhone(id)).Msg("disconnect on eviction failed")
			}
			evicted++
			return nil, nil
		})
		if err != nil {
			return evicted, err
		}
	}
	return evicted, nil
}

// Close disconnects and removes every record.
func (s *Store) Close(ctx context.Context) error {
	var errs []error
	for _, id := range s.Identities() {
		err := s.WithSession(ctx, id, func(rec *Record) (*Record, error) {
			if rec == nil {
				return nil, nil
			}
			if err := rec.Conn.Disconnect(ctx); err != nil {
				errs = append(errs, fmt.Errorf("disconnect %s: %w", MaskPhone(id), err))
			}
			return nil, nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
