package auth

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrsteele09/go-tg-session-gateway/connection"
	"github.com/jrsteele09/go-tg-session-gateway/internal/errors"
	"github.com/jrsteele09/go-tg-session-gateway/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Response messages.
const (
	MsgCodeRequested     = "code requested"
	MsgAlreadyAuthorized = "already authorized"
	MsgAuthorized        = "authorized"
	MsgSignedOut         = "signed out"
	MsgMessageSent       = "message sent"
	MsgAudioSent         = "audio sent"
)

// Step names, used in logs and metrics.
const (
	stepStartAuth   = "start_auth"
	stepVerifyCode  = "verify_code"
	stepSignOut     = "sign_out"
	stepSendMessage = "send_message"
	stepSendAudio   = "send_audio"
)

const (
	defaultTarget   = "me" // Saved Messages
	defaultAudioExt = ".ogg"
	meterName       = "github.com/jrsteele09/go-tg-session-gateway/auth"
)

// Result is the outcome of a successful step.
type Result struct {
	Message string `json:"message"`
}

// Status describes the session held for a phone number.
type Status struct {
	Phone      string     `json:"phone"`
	State      string     `json:"state"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Service drives the login handshake and message sending for each phone
// number. Every step runs inside Store.WithSession, so steps for one phone
// never interleave.
type Service struct {
	store         *sessions.Store
	newConn       connection.Factory
	fs            afero.Fs
	tempDir       string
	defaultTarget string
	logger        zerolog.Logger
	meter         metric.Meter
	steps         metric.Int64Counter
	nowTime       func() time.Time
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithFileSystem sets where uploaded files are staged before sending.
func WithFileSystem(fs afero.Fs, tempDir string) ServiceOption {
	return func(s *Service) {
		s.fs = fs
		s.tempDir = tempDir
	}
}

// WithDefaultTarget sets the peer messages go to when a request names none.
func WithDefaultTarget(target string) ServiceOption {
	return func(s *Service) {
		if target != "" {
			s.defaultTarget = target
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMeter sets the meter used for step counters.
func WithMeter(meter metric.Meter) ServiceOption {
	return func(s *Service) {
		s.meter = meter
	}
}

// NewService initializes a Service over store, opening connections with newConn.
func NewService(store *sessions.Store, newConn connection.Factory, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("[NewService] session store is required")
	}
	if newConn == nil {
		return nil, fmt.Errorf("[NewService] connection factory is required")
	}

	s := &Service{
		store:         store,
		newConn:       newConn,
		fs:            afero.NewOsFs(),
		tempDir:       os.TempDir(),
		defaultTarget: defaultTarget,
		logger:        log.With().Str("component", "auth").Logger(),
		meter:         otel.Meter(meterName),
		nowTime:       time.Now,
	}
	for _, opt := range options {
		opt(s)
	}

	steps, err := s.meter.Int64Counter("tgsession.steps",
		metric.WithDescription("Session steps handled, by step and outcome"))
	if err != nil {
		return nil, errors.Wrapf(err, "[NewService] creating step counter")
	}
	s.steps = steps
	return s, nil
}

// StartAuth opens (or reuses) the connection for the phone and requests a
// login code unless the account is already authorized. Calling it again
// while a code is pending requests a new code and replaces the stored handle.
func (s *Service) StartAuth(ctx context.Context, creds connection.Credentials) (Result, error) {
	creds, err := validateCredentials(creds)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = s.run(ctx, stepStartAuth, creds.Phone, func() error {
		return s.store.WithSession(ctx, creds.Phone, func(rec *sessions.Record) (*sessions.Record, error) {
			rec, fresh, err := s.connect(ctx, rec, creds)
			if err != nil {
				return nil, err
			}

			authorized, err := rec.Conn.IsAuthorized(ctx)
			if err != nil {
				s.discard(ctx, fresh)
				return nil, errors.Collaborator("check authorization", err)
			}

			if authorized {
				rec.State = sessions.Authorized{}
				res.Message = MsgAlreadyAuthorized
			} else {
				handle, err := rec.Conn.RequestCode(ctx, rec.Identity)
				if err != nil {
					s.discard(ctx, fresh)
					return nil, errors.Collaborator("send code", err)
				}
				rec.State = sessions.CodeSent{Handle: handle}
				res.Message = MsgCodeRequested
			}
			rec.Touch(s.nowTime())
			return rec, nil
		})
	})
	return res, err
}

// VerifyCode redeems the login code. When the account has a two-factor
// password and none is given, ErrSecondFactorRequired is returned and the
// session is kept so the same request can be resubmitted with the password.
func (s *Service) VerifyCode(ctx context.Context, creds connection.Credentials, code, password string) (Result, error) {
	creds, err := validateCredentials(creds)
	if err != nil {
		return Result{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Result{}, fmt.Errorf("%w: code is required", errors.ErrInvalidRequest)
	}

	var res Result
	err = s.run(ctx, stepVerifyCode, creds.Phone, func() error {
		// stepErr is returned after the record is persisted; errors returned
		// from the closure discard the step instead.
		var stepErr error
		err := s.store.WithSession(ctx, creds.Phone, func(rec *sessions.Record) (*sessions.Record, error) {
			if rec == nil {
				return nil, fmt.Errorf("%w: call start_auth first", errors.ErrNotStarted)
			}
			rec, fresh, err := s.connect(ctx, rec, creds)
			if err != nil {
				return nil, err
			}

			if rec.IsAuthorized() {
				res.Message = MsgAlreadyAuthorized
				rec.Touch(s.nowTime())
				return rec, nil
			}

			pending, _ := rec.CodeSent()
			if !pending.PasswordRequired {
				err := rec.Conn.SignInWithCode(ctx, rec.Identity, code, pending.Handle)
				switch {
				case err == nil:
					rec.State = sessions.Authorized{}
					res.Message = MsgAuthorized
					rec.Touch(s.nowTime())
					return rec, nil
				case errors.Is(err, connection.ErrPasswordRequired):
					pending.PasswordRequired = true
					rec.State = pending
				default:
					s.discard(ctx, fresh)
					return nil, errors.Collaborator("sign in", err)
				}
			}

			rec.Touch(s.nowTime())
			if password == "" {
				stepErr = fmt.Errorf("%w: resubmit the code with the account password", errors.ErrSecondFactorRequired)
				return rec, nil
			}
			if err := rec.Conn.SignInWithPassword(ctx, password); err != nil {
				// The code was accepted, so keep waiting for the password.
				stepErr = errors.Collaborator("check password", err)
				return rec, nil
			}
			rec.State = sessions.Authorized{}
			res.Message = MsgAuthorized
			return rec, nil
		})
		if err != nil {
			return err
		}
		return stepErr
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// SignOut logs the account out, disconnects and removes the session.
func (s *Service) SignOut(ctx context.Context, creds connection.Credentials) (Result, error) {
	creds, err := validateCredentials(creds)
	if err != nil {
		return Result{}, err
	}

	err = s.run(ctx, stepSignOut, creds.Phone, func() error {
		return s.store.WithSession(ctx, creds.Phone, func(rec *sessions.Record) (*sessions.Record, error) {
			if rec == nil {
				return nil, fmt.Errorf("%w: no session for this phone", errors.ErrUnknownIdentity)
			}
			if !rec.IsAuthorized() {
				return nil, fmt.Errorf("%w: session is %s", errors.ErrUnauthorized, rec.StateName())
			}
			rec, fresh, err := s.connect(ctx, rec, creds)
			if err != nil {
				return nil, err
			}
			if err := rec.Conn.LogOut(ctx); err != nil {
				s.discard(ctx, fresh)
				return nil, errors.Collaborator("log out", err)
			}
			if err := rec.Conn.Disconnect(ctx); err != nil {
				s.logger.Warn().Err(err).Str("phone", sessions.MaskPhone(rec.Identity)).Msg("disconnect after log out failed")
			}
			return nil, nil
		})
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Message: MsgSignedOut}, nil
}

// SendMessage sends text to target ("me" when empty) from the authorized account.
func (s *Service) SendMessage(ctx context.Context, creds connection.Credentials, target, text string) (Result, error) {
	creds, err := validateCredentials(creds)
	if err != nil {
		return Result{}, err
	}
	if text == "" {
		return Result{}, fmt.Errorf("%w: text is required", errors.ErrInvalidRequest)
	}
	target = s.target(target)

	err = s.run(ctx, stepSendMessage, creds.Phone, func() error {
		return s.withAuthorized(ctx, creds, func(rec *sessions.Record) error {
			if err := rec.Conn.SendText(ctx, target, text); err != nil {
				return errors.Collaborator("send message", err)
			}
			return nil
		})
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Message: MsgMessageSent}, nil
}

// SendAudio stages the upload in a temporary file, sends it to target as a
// voice note and removes the file whatever the outcome.
func (s *Service) SendAudio(ctx context.Context, creds connection.Credentials, target, filename string, audio io.Reader) (Result, error) {
	creds, err := validateCredentials(creds)
	if err != nil {
		return Result{}, err
	}
	if audio == nil {
		return Result{}, fmt.Errorf("%w: file is required", errors.ErrInvalidRequest)
	}
	target = s.target(target)

	err = s.run(ctx, stepSendAudio, creds.Phone, func() error {
		return s.withAuthorized(ctx, creds, func(rec *sessions.Record) error {
			path, cleanup, err := s.stageFile(filename, audio)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := rec.Conn.SendFile(ctx, target, path, true); err != nil {
				return errors.Collaborator("send voice note", err)
			}
			return nil
		})
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Message: MsgAudioSent}, nil
}

// Status reports the session state for a phone without touching Telegram.
func (s *Service) Status(ctx context.Context, phone string) (Status, error) {
	identity, err := sessions.NormalizePhone(phone)
	if err != nil {
		return Status{}, err
	}

	status := Status{Phone: identity, State: sessions.StateNew}
	err = s.store.WithSession(ctx, identity, func(rec *sessions.Record) (*sessions.Record, error) {
		if rec != nil {
			status.State = rec.StateName()
			createdAt, lastUsedAt := rec.CreatedAt, rec.LastUsedAt
			status.CreatedAt = &createdAt
			status.LastUsedAt = &lastUsedAt
		}
		return rec, nil
	})
	return status, err
}

// withAuthorized runs fn for a record whose connection is live and signed
// in. It never starts a login: a missing or unauthorized session fails with
// ErrUnauthorized.
func (s *Service) withAuthorized(ctx context.Context, creds connection.Credentials, fn func(rec *sessions.Record) error) error {
	return s.store.WithSession(ctx, creds.Phone, func(rec *sessions.Record) (*sessions.Record, error) {
		if rec == nil {
			return nil, fmt.Errorf("%w: no session for this phone", errors.ErrUnauthorized)
		}
		rec, fresh, err := s.connect(ctx, rec, creds)
		if err != nil {
			return nil, err
		}

		authorized, err := rec.Conn.IsAuthorized(ctx)
		if err != nil {
			s.discard(ctx, fresh)
			return nil, errors.Collaborator("check authorization", err)
		}
		if !authorized {
			s.discard(ctx, fresh)
			return nil, fmt.Errorf("%w: session is %s", errors.ErrUnauthorized, rec.StateName())
		}
		rec.State = sessions.Authorized{}

		if err := fn(rec); err != nil {
			s.discard(ctx, fresh)
			return nil, err
		}
		rec.Touch(s.nowTime())
		return rec, nil
	})
}

// connect returns rec with a live connection. A nil rec gets a new record; a
// record whose connection dropped gets a replacement. fresh is the connection
// opened by this call, if any, which the caller must discard if the step
// fails and the record is not stored.
func (s *Service) connect(ctx context.Context, rec *sessions.Record, creds connection.Credentials) (*sessions.Record, connection.Connection, error) {
	if rec != nil && rec.Conn.IsConnected() {
		return rec, nil, nil
	}

	conn, err := s.newConn(creds)
	if err != nil {
		return nil, nil, errors.Collaborator("create client", err)
	}
	if err := conn.Connect(ctx); err != nil {
		s.discard(ctx, conn)
		return nil, nil, errors.Collaborator("connect", err)
	}

	if rec == nil {
		return sessions.NewRecord(creds.Phone, creds, conn, s.nowTime()), conn, nil
	}

	s.logger.Info().Str("phone", sessions.MaskPhone(rec.Identity)).Str("session_id", rec.ID).Msg("connection dropped, reconnected")
	s.discard(ctx, rec.Conn)
	rec.Conn = conn
	rec.Creds = creds
	return rec, conn, nil
}

// discard disconnects conn, logging failures. A nil conn is ignored.
func (s *Service) discard(ctx context.Context, conn connection.Connection) {
	if conn == nil {
		return
	}
	if err := conn.Disconnect(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("disconnect failed")
	}
}

func (s *Service) target(target string) string {
	if target = strings.TrimSpace(target); target != "" {
		return target
	}
	return s.defaultTarget
}

// stageFile copies r into a new temporary file. cleanup removes it.
func (s *Service) stageFile(filename string, r io.Reader) (string, func(), error) {
	if err := s.fs.MkdirAll(s.tempDir, 0o700); err != nil {
		return "", nil, errors.Wrapf(err, "[Service.stageFile] creating %s", s.tempDir)
	}
	f, err := afero.TempFile(s.fs, s.tempDir, "voice-*"+audioExt(filename))
	if err != nil {
		return "", nil, errors.Wrapf(err, "[Service.stageFile] creating temp file")
	}
	path := f.Name()
	cleanup := func() {
		if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Error().Err(err).Str("path", path).Msg("failed to remove staged file")
		}
	}

	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		cleanup()
		if copyErr != nil {
			return "", nil, errors.Wrapf(copyErr, "[Service.stageFile] writing upload")
		}
		return "", nil, errors.Wrapf(closeErr, "[Service.stageFile] closing upload")
	}
	return path, cleanup, nil
}

// audioExt keeps a short alphanumeric extension from the client's file
// name, falling back to .ogg.
func audioExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 8 {
		return defaultAudioExt
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultAudioExt
		}
	}
	return ext
}

func (s *Service) run(ctx context.Context, step, phone string, fn func() error) error {
	start := s.nowTime()
	err := fn()
	outcome := errors.Code(err)

	s.steps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("outcome", outcome),
	))

	event := s.logger.Info()
	if err != nil {
		event = s.logger.Warn().Err(err)
	}
	event.Str("step", step).
		Str("phone", sessions.MaskPhone(phone)).
		Str("outcome", outcome).
		Dur("elapsed", s.nowTime().Sub(start)).
		Msg("session step")
	return err
}

func validateCredentials(creds connection.Credentials) (connection.Credentials, error) {
	if creds.APIID <= 0 {
		return creds, fmt.Errorf("%w: api_id is required", errors.ErrInvalidRequest)
	}
	if strings.TrimSpace(creds.APIHash) == "" {
		return creds, fmt.Errorf("%w: api_hash is required", errors.ErrInvalidRequest)
	}
	phone, err := sessions.NormalizePhone(creds.Phone)
	if err != nil {
		return creds, err
	}
	creds.Phone = phone
	return creds, nil
}
