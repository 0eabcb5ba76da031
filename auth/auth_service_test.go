package auth_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-tg-session-gateway/auth"
	"github.com/jrsteele09/go-tg-session-gateway/connection"
	"github.com/jrsteele09/go-tg-session-gateway/connection/fakeconn"
	apperrors "github.com/jrsteele09/go-tg-session-gateway/internal/errors"
	"github.com/jrsteele09/go-tg-session-gateway/sessions"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	testAPIID    = 12345
	testAPIHash  = "0123456789abcdef"
	testPhone    = "+1555"
	testCode     = "12345"
	testPhone2FA = "+4420"
	testPassword = "hunter2"
)

// testFixture holds all test dependencies
type testFixture struct {
	network *fakeconn.Network
	store   *sessions.Store
	service *auth.Service
	tempDir string
}

func setupTestFixture(t *testing.T, storeOptions ...sessions.StoreOption) *testFixture {
	t.Helper()

	network := fakeconn.NewNetwork()
	network.AddAccount(testPhone, fakeconn.Account{Code: testCode})
	network.AddAccount(testPhone2FA, fakeconn.Account{Code: testCode, Password: testPassword})

	store := sessions.NewStore(storeOptions...)
	tempDir := t.TempDir()
	service, err := auth.NewService(store, network.Factory(),
		auth.WithFileSystem(afero.NewOsFs(), tempDir),
		auth.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	return &testFixture{
		network: network,
		store:   store,
		service: service,
		tempDir: tempDir,
	}
}

func creds(phone string) connection.Credentials {
	return connection.Credentials{APIID: testAPIID, APIHash: testAPIHash, Phone: phone}
}

func (f *testFixture) authorize(t *testing.T, phone string) {
	t.Helper()
	ctx := context.Background()

	res, err := f.service.StartAuth(ctx, creds(phone))
	require.NoError(t, err)
	require.Equal(t, auth.MsgCodeRequested, res.Message)

	res, err = f.service.VerifyCode(ctx, creds(phone), testCode, "")
	require.NoError(t, err)
	require.Equal(t, auth.MsgAuthorized, res.Message)
}

func (f *testFixture) state(t *testing.T, phone string) string {
	t.Helper()
	status, err := f.service.Status(context.Background(), phone)
	require.NoError(t, err)
	return status.State
}

func (f *testFixture) stagedFiles(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	return entries
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := auth.NewService(nil, fakeconn.NewNetwork().Factory())
	require.Error(t, err)

	_, err = auth.NewService(sessions.NewStore(), nil)
	require.Error(t, err)
}

func TestService_ExampleScenario(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	res, err := f.service.StartAuth(ctx, creds(testPhone))
	require.NoError(t, err)
	require.Equal(t, "code requested", res.Message)

	res, err = f.service.VerifyCode(ctx, creds(testPhone), testCode, "")
	require.NoError(t, err)
	require.Equal(t, "authorized", res.Message)

	res, err = f.service.SendMessage(ctx, creds(testPhone), "", "hi")
	require.NoError(t, err)
	require.Equal(t, "message sent", res.Message)

	res, err = f.service.SignOut(ctx, creds(testPhone))
	require.NoError(t, err)
	require.Equal(t, "signed out", res.Message)

	_, err = f.service.SendMessage(ctx, creds(testPhone), "", "hi again")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	sent := f.network.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "me", sent[0].Target)
	require.Equal(t, "hi", sent[0].Text)
}

func TestService_VerifyCode(t *testing.T) {
	ctx := context.Background()

	t.Run("never seen identity fails with not started", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.service.VerifyCode(ctx, creds(testPhone), testCode, "")
		require.ErrorIs(t, err, apperrors.ErrNotStarted)
		require.Equal(t, 0, f.store.Len())
		require.Equal(t, 0, f.network.Created())
	})

	t.Run("wrong code keeps the pending code", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.StartAuth(ctx, creds(testPhone))
		require.NoError(t, err)

		_, err = f.service.VerifyCode(ctx, creds(testPhone), "00000", "")
		require.ErrorIs(t, err, apperrors.ErrCollaborator)
		require.ErrorIs(t, err, fakeconn.ErrPhoneCodeInvalid)
		require.Equal(t, sessions.StateCodeSent, f.state(t, testPhone))

		res, err := f.service.VerifyCode(ctx, creds(testPhone), testCode, "")
		require.NoError(t, err)
		require.Equal(t, auth.MsgAuthorized, res.Message)
	})

	t.Run("second factor required then password succeeds", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.StartAuth(ctx, creds(testPhone2FA))
		require.NoError(t, err)

		_, err = f.service.VerifyCode(ctx, creds(testPhone2FA), testCode, "")
		require.ErrorIs(t, err, apperrors.ErrSecondFactorRequired)
		require.NotErrorIs(t, err, apperrors.ErrCollaborator)
		require.Equal(t, sessions.StateCodeSent, f.state(t, testPhone2FA))

		res, err := f.service.VerifyCode(ctx, creds(testPhone2FA), testCode, testPassword)
		require.NoError(t, err)
		require.Equal(t, auth.MsgAuthorized, res.Message)
		require.Equal(t, sessions.StateAuthorized, f.state(t, testPhone2FA))
		require.True(t, f.network.IsAuthorized(testPhone2FA))
	})

	t.Run("code and password in one request", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.StartAuth(ctx, creds(testPhone2FA))
		require.NoError(t, err)

		res, err := f.service.VerifyCode(ctx, creds(testPhone2FA), testCode, testPassword)
		require.NoError(t, err)
		require.Equal(t, auth.MsgAuthorized, res.Message)
		require.Equal(t, 1, f.network.CountCalls(testPhone2FA, "sign_in_code"))
	})

	t.Run("wrong password can be retried", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.StartAuth(ctx, creds(testPhone2FA))
		require.NoError(t, err)

		_, err = f.service.VerifyCode(ctx, creds(testPhone2FA), testCode, "wrong")
		require.ErrorIs(t, err, fakeconn.ErrPasswordInvalid)
		require.Equal(t, sessions.StateCodeSent, f.state(t, testPhone2FA))

		res, err := f.service.VerifyCode(ctx, creds(testPhone2FA), testCode, testPassword)
		require.NoError(t, err)
		require.Equal(t, auth.MsgAuthorized, res.Message)
		// The code was already accepted; the retry only sends the password.
		require.Equal(t, 1, f.network.CountCalls(testPhone2FA, "sign_in_code"))
	})

	t.Run("already authorized", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authorize(t, testPhone)

		res, err := f.service.VerifyCode(ctx, creds(testPhone), testCode, "")
		require.NoError(t, err)
		require.Equal(t, auth.MsgAlreadyAuthorized, res.Message)
		require.Equal(t, 1, f.network.CountCalls(testPhone, "sign_in_code"))
	})

	t.Run("empty code is rejected", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.VerifyCode(ctx, creds(testPhone), " ", "")
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
	})
}

func TestService_StartAuth(t *testing.T) {
	ctx := context.Background()

	t.Run("second call uses the most recent handle", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.service.StartAuth(ctx, creds(testPhone))
		require.NoError(t, err)
		_, err = f.service.StartAuth(ctx, creds(testPhone))
		require.NoError(t, err)

		require.Equal(t, 2, f.network.CountCalls(testPhone, "request_code"))
		require.Equal(t, 1, f.network.Created(), "connection must be reused")

		res, err := f.service.VerifyCode(ctx, creds(testPhone), testCode, "")
		require.NoError(t, err)
		require.Equal(t, auth.MsgAuthorized, res.Message)
	})

	t.Run("authorized identity is idempotent", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authorize(t, testPhone)

		res, err := f.service.StartAuth(ctx, creds(testPhone))
		require.NoError(t, err)
		require.Equal(t, auth.MsgAlreadyAuthorized, res.Message)
		require.Equal(t, 1, f.network.CountCalls(testPhone, "request_code"))
	})

	t.Run("existing telegram session is reported authorized", func(t *testing.T) {
		f := setupTestFixture(t)
		f.network.Authorize(testPhone)

		res, err := f.service.StartAuth(ctx, creds(testPhone))
		require.NoError(t, err)
		require.Equal(t, auth.MsgAlreadyAuthorized, res.Message)
		require.Equal(t, sessions.StateAuthorized, f.state(t, testPhone))
	})

	t.Run("failed code request leaves no record or connection", func(t *testing.T) {
		f := setupTestFixture(t)
		f.network.FailNext("request_code", errors.New("FLOOD_WAIT_30"))

		_, err := f.service.StartAuth(ctx, creds(testPhone))
		require.ErrorIs(t, err, apperrors.ErrCollaborator)
		require.ErrorContains(t, err, "FLOOD_WAIT_30")
		require.Equal(t, 0, f.store.Len())
		require.Equal(t, 0, f.network.OpenConnections())
	})

	t.Run("phone formatting maps to one identity", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.service.StartAuth(ctx, creds("+1 (555)"))
		require.NoError(t, err)
		_, err = f.service.VerifyCode(ctx, creds("1-555"), testCode, "")
		require.NoError(t, err)
		require.Equal(t, 1, f.store.Len())
	})

	t.Run("missing credentials", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.service.StartAuth(ctx, connection.Credentials{APIHash: testAPIHash, Phone: testPhone})
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
		_, err = f.service.StartAuth(ctx, connection.Credentials{APIID: testAPIID, Phone: testPhone})
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
		_, err = f.service.StartAuth(ctx, creds("not-a-phone"))
		require.ErrorIs(t, err, apperrors.ErrInvalidIdentity)
	})
}

func TestService_SignOut(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the record and disconnects", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authorize(t, testPhone)
		require.Equal(t, 1, f.network.OpenConnections())

		_, err := f.service.SignOut(ctx, creds(testPhone))
		require.NoError(t, err)
		require.Equal(t, 0, f.store.Len())
		require.Equal(t, 0, f.network.OpenConnections())
		require.False(t, f.network.IsAuthorized(testPhone))
		require.Equal(t, sessions.StateNew, f.state(t, testPhone))

		// A new start behaves as for a brand new identity.
		res, err := f.service.StartAuth(ctx, creds(testPhone))
		require.NoError(t, err)
		require.Equal(t, auth.MsgCodeRequested, res.Message)
		require.Equal(t, 2, f.network.Created())
	})

	t.Run("unknown identity", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.SignOut(ctx, creds(testPhone))
		require.ErrorIs(t, err, apperrors.ErrUnknownIdentity)
	})

	t.Run("not authorized", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.StartAuth(ctx, creds(testPhone))
		require.NoError(t, err)

		_, err = f.service.SignOut(ctx, creds(testPhone))
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.Equal(t, 1, f.store.Len())
	})

	t.Run("failed log out keeps the session", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authorize(t, testPhone)
		f.network.FailNext("log_out", errors.New("RPC_CALL_FAIL"))

		_, err := f.service.SignOut(ctx, creds(testPhone))
		require.ErrorIs(t, err, apperrors.ErrCollaborator)
		require.Equal(t, sessions.StateAuthorized, f.state(t, testPhone))
	})
}

func TestService_SendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("no session fails fast without connecting", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.SendMessage(ctx, creds(testPhone), "", "hi")
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.Equal(t, 0, f.network.Created())
	})

	t.Run("pending login is unauthorized", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.StartAuth(ctx, creds(testPhone))
		require.NoError(t, err)

		_, err = f.service.SendMessage(ctx, creds(testPhone), "", "hi")
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.Equal(t, 1, f.network.CountCalls(testPhone, "request_code"), "no new login started")
	})

	t.Run("dropped connection is recreated", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authorize(t, testPhone)
		f.network.Drop(testPhone)

		_, err := f.service.SendMessage(ctx, creds(testPhone), "@friend", "hi")
		require.NoError(t, err)
		require.Equal(t, 2, f.network.Created())
		require.Equal(t, 1, f.network.OpenConnections())
		require.Equal(t, "@friend", f.network.Sent()[0].Target)
	})

	t.Run("send failure is a collaborator error", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authorize(t, testPhone)
		f.network.FailNext("send_text", errors.New("PEER_ID_INVALID"))

		_, err := f.service.SendMessage(ctx, creds(testPhone), "", "hi")
		var collabErr *apperrors.CollaboratorError
		require.ErrorAs(t, err, &collabErr)
		require.Equal(t, "send message", collabErr.Op)
	})

	t.Run("empty text", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.SendMessage(ctx, creds(testPhone), "", "")
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
	})
}

func TestService_SendAudio(t *testing.T) {
	ctx := context.Background()
	audio := []byte("OggS fake voice payload")

	t.Run("sends a voice note and removes the staged file", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authorize(t, testPhone)

		res, err := f.service.SendAudio(ctx, creds(testPhone), "", "note.ogg", bytes.NewReader(audio))
		require.NoError(t, err)
		require.Equal(t, auth.MsgAudioSent, res.Message)

		sent := f.network.Sent()
		require.Len(t, sent, 1)
		require.True(t, sent[0].Voice)
		require.Equal(t, audio, sent[0].FileContent)
		require.Empty(t, f.stagedFiles(t))
	})

	t.Run("removes the staged file when sending fails", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authorize(t, testPhone)
		f.network.FailNext("send_file", errors.New("FILE_PARTS_INVALID"))

		_, err := f.service.SendAudio(ctx, creds(testPhone), "", "note.mp3", bytes.NewReader(audio))
		require.ErrorIs(t, err, apperrors.ErrCollaborator)
		require.Empty(t, f.stagedFiles(t))
	})

	t.Run("unauthorized does not stage a file", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.SendAudio(ctx, creds(testPhone), "", "note.ogg", bytes.NewReader(audio))
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.Empty(t, f.stagedFiles(t))
	})
}

func TestService_ConcurrentStartAuth(t *testing.T) {
	t.Run("global gate never interleaves steps", func(t *testing.T) {
		f := setupTestFixture(t)
		f.network.Delay = 5 * time.Millisecond

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, phone := range []string{testPhone, testPhone2FA} {
			wg.Add(1)
			go func(i int, phone string) {
				defer wg.Done()
				_, errs[i] = f.service.StartAuth(context.Background(), creds(phone))
			}(i, phone)
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		require.False(t, f.network.Overlapped())
		require.Equal(t, sessions.StateCodeSent, f.state(t, testPhone))
		require.Equal(t, sessions.StateCodeSent, f.state(t, testPhone2FA))
	})

	t.Run("identity gate still completes every step", func(t *testing.T) {
		f := setupTestFixture(t, sessions.WithGateMode(sessions.GateIdentity))
		f.network.Delay = time.Millisecond

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 4; i++ {
			for _, phone := range []string{testPhone, testPhone2FA} {
				wg.Add(1)
				go func(phone string) {
					defer wg.Done()
					_, err := f.service.StartAuth(context.Background(), creds(phone))
					errs <- err
				}(phone)
			}
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		require.Equal(t, 2, f.network.Created(), "one connection per identity")
		require.Equal(t, 4, f.network.CountCalls(testPhone, "request_code"))

		res, err := f.service.VerifyCode(context.Background(), creds(testPhone), testCode, "")
		require.NoError(t, err)
		require.Equal(t, auth.MsgAuthorized, res.Message)
	})
}

func TestService_Status(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	network := fakeconn.NewNetwork()
	network.AddAccount(testPhone, fakeconn.Account{Code: testCode})
	service, err := auth.NewService(sessions.NewStore(), network.Factory(),
		auth.WithNowTime(func() time.Time { return now }),
		auth.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	status, err := service.Status(context.Background(), testPhone)
	require.NoError(t, err)
	require.Equal(t, sessions.StateNew, status.State)
	require.Nil(t, status.CreatedAt)

	_, err = service.StartAuth(context.Background(), creds(testPhone))
	require.NoError(t, err)

	status, err = service.Status(context.Background(), "1555")
	require.NoError(t, err)
	require.Equal(t, testPhone, status.Phone)
	require.Equal(t, sessions.StateCodeSent, status.State)
	require.Equal(t, now, *status.CreatedAt)
	require.Equal(t, now, *status.LastUsedAt)
}
