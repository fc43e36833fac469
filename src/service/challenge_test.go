package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cloudsignup/backend/src/domain"
	"github.com/cloudsignup/backend/src/notification"
	"github.com/cloudsignup/backend/src/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHost = "https://app.example.com"

type challengeFixture struct {
	store    *testutil.MemoryChallengeStore
	accounts *testutil.FakeAccounts
	mailer   *testutil.RecordingMailer
	service  *ChallengeService
}

func newChallengeFixture(t *testing.T, limiter RateLimiter) *challengeFixture {
	t.Helper()
	f := &challengeFixture{
		store:    testutil.NewMemoryChallengeStore(),
		accounts: testutil.NewFakeAccounts(),
		mailer:   &testutil.RecordingMailer{},
	}
	f.service = NewChallengeService(NewTokenService(f.store), f.accounts, f.mailer, limiter)
	return f
}

// register runs Register and returns the token carried by the email.
func (f *challengeFixture) register(t *testing.T, name, email string) string {
	t.Helper()
	require.NoError(t, f.service.Register(context.Background(), name, email, testHost))
	sent := f.mailer.Last()
	require.Equal(t, notification.KindRegistration, sent.Kind)
	return sent.Token
}

func assertKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	var domainErr domain.DomainError
	require.True(t, errors.As(err, &domainErr), "expected a domain error, got %v", err)
	assert.Equal(t, kind, domainErr.Kind())
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func TestRegisterThenVerify(t *testing.T) {
	f := newChallengeFixture(t, nil)

	token := f.register(t, "Alice", "a@x.com")
	sent := f.mailer.Last()
	assert.Equal(t, "a@x.com", sent.To)
	assert.Equal(t, "Alice", sent.Name)
	assert.Equal(t, testHost, sent.Host)

	challenge, err := f.service.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Alice", challenge.Name)
	assert.Equal(t, "a@x.com", challenge.Email)
}

func TestRegisterIssueFailure(t *testing.T) {
	f := newChallengeFixture(t, nil)
	f.store.CreateErr = errors.New("connection refused")

	err := f.service.Register(context.Background(), "Alice", "a@x.com", testHost)
	assertKind(t, err, domain.ErrorKindAuth)
	assert.Empty(t, f.mailer.Sent())
}

func TestRegisterSendFailure(t *testing.T) {
	f := newChallengeFixture(t, nil)
	f.mailer.Err = errors.Join(domain.ErrNotification, notification.ErrUnavailable)

	err := f.service.Register(context.Background(), "Alice", "a@x.com", testHost)
	assertKind(t, err, domain.ErrorKindEmail)
	// the token stays issued
	assert.Len(t, f.store.Tokens("a@x.com"), 1)
}

func TestRegisterRateLimited(t *testing.T) {
	limiter := &stubLimiter{allow: false}
	f := newChallengeFixture(t, limiter)

	err := f.service.Register(context.Background(), "Alice", "A@X.com", testHost)
	assertKind(t, err, domain.ErrorKindAuth)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, []string{"a@x.com"}, limiter.keys)
	assert.Zero(t, f.store.Len())
}

func TestRegisterLimiterFailureFailsOpen(t *testing.T) {
	f := newChallengeFixture(t, &stubLimiter{err: errors.New("redis down")})

	err := f.service.Register(context.Background(), "Alice", "a@x.com", testHost)
	assert.NoError(t, err)
	assert.Len(t, f.mailer.Sent(), 1)
}

func TestVerifyUnknownToken(t *testing.T) {
	f := newChallengeFixture(t, nil)

	_, err := f.service.VerifyToken(context.Background(), "nope")
	assertKind(t, err, domain.ErrorKindToken)
}

func TestVerifyExpiredToken(t *testing.T) {
	f := newChallengeFixture(t, nil)
	token := f.register(t, "Alice", "a@x.com")
	f.store.Backdate(token, domain.TokenTTL)

	_, err := f.service.VerifyToken(context.Background(), token)
	assertKind(t, err, domain.ErrorKindToken)
}

func TestCreateUserSpendsToken(t *testing.T) {
	f := newChallengeFixture(t, nil)
	token := f.register(t, "Alice", "a@x.com")

	session, err := f.service.CreateUser(context.Background(), CreateUserInput{
		Token:    token,
		Name:     "Alice",
		Email:    "a@x.com",
		Password: "pw123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.JWT)

	password, ok := f.accounts.Password("a@x.com")
	require.True(t, ok)
	assert.Equal(t, "pw123", password)

	_, err = f.service.VerifyToken(context.Background(), token)
	assertKind(t, err, domain.ErrorKindToken)

	_, err = f.service.CreateUser(context.Background(), CreateUserInput{Token: token, Password: "pw123"})
	assertKind(t, err, domain.ErrorKindToken)
	assert.Equal(t, 1, f.accounts.AccountCount())
}

func TestCreateUserNameFallsBackToToken(t *testing.T) {
	f := newChallengeFixture(t, nil)
	token := f.register(t, "Alice", "a@x.com")

	_, err := f.service.CreateUser(context.Background(), CreateUserInput{Token: token, Password: "pw123"})
	require.NoError(t, err)
	assert.Equal(t, []string{"CreateAccount", "CreatePasswordCredential", "Login"}, f.accounts.Calls)
}

func TestCreateUserEmailMismatch(t *testing.T) {
	f := newChallengeFixture(t, nil)
	token := f.register(t, "Alice", "a@x.com")

	_, err := f.service.CreateUser(context.Background(), CreateUserInput{
		Token:    token,
		Email:    "mallory@x.com",
		Password: "pw123",
	})
	assertKind(t, err, domain.ErrorKindAuth)
	assert.Empty(t, f.accounts.Calls)

	_, err = f.service.VerifyToken(context.Background(), token)
	assert.NoError(t, err)
}

func TestCreateUserRejectsResetToken(t *testing.T) {
	f := newChallengeFixture(t, nil)
	f.accounts.AddUser("Alice", "a@x.com", "old")
	require.NoError(t, f.service.RequestPasswordReset(context.Background(), "a@x.com", "", testHost))
	resetToken := f.mailer.Last().Token

	_, err := f.service.CreateUser(context.Background(), CreateUserInput{Token: resetToken, Password: "pw123"})
	assertKind(t, err, domain.ErrorKindToken)
}

func TestCreateUserCredentialFailureKeepsToken(t *testing.T) {
	f := newChallengeFixture(t, nil)
	token := f.register(t, "Alice", "a@x.com")
	f.accounts.Errors["CreatePasswordCredential"] = &domain.GatewayError{Status: http.StatusUnprocessableEntity}

	_, err := f.service.CreateUser(context.Background(), CreateUserInput{Token: token, Password: "pw123"})
	assertKind(t, err, domain.ErrorKindAccount)
	assert.ErrorIs(t, err, domain.ErrGateway)

	// the account exists without a credential and the token is still live
	assert.Equal(t, 1, f.accounts.AccountCount())
	_, err = f.service.VerifyToken(context.Background(), token)
	assert.NoError(t, err)
}

func TestCreateUserAccountFailure(t *testing.T) {
	f := newChallengeFixture(t, nil)
	token := f.register(t, "Alice", "a@x.com")
	f.accounts.Errors["CreateAccount"] = &domain.GatewayError{Err: errors.New("connection refused")}

	_, err := f.service.CreateUser(context.Background(), CreateUserInput{Token: token, Password: "pw123"})
	assertKind(t, err, domain.ErrorKindAccount)
	assert.Len(t, f.store.Tokens("a@x.com"), 1)
}

func TestCreateUserInvalidateFailure(t *testing.T) {
	f := newChallengeFixture(t, nil)
	token := f.register(t, "Alice", "a@x.com")
	f.store.DeleteErr = errors.New("connection reset")

	_, err := f.service.CreateUser(context.Background(), CreateUserInput{Token: token, Password: "pw123"})
	assertKind(t, err, domain.ErrorKindDB)
	// the account is not rolled back
	assert.Equal(t, 1, f.accounts.AccountCount())
}

func TestCreateUserLoginRejectedPassesThrough(t *testing.T) {
	f := newChallengeFixture(t, nil)
	token := f.register(t, "Alice", "a@x.com")
	rejected := &domain.LoginError{Status: http.StatusForbidden, Body: []byte(`{"code":"InactiveAccount"}`)}
	f.accounts.Errors["Login"] = rejected

	_, err := f.service.CreateUser(context.Background(), CreateUserInput{Token: token, Password: "pw123"})
	var loginErr *domain.LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.Same(t, rejected, loginErr)

	var domainErr domain.DomainError
	assert.False(t, errors.As(err, &domainErr))
}

func TestCreateUserLoginTransportFailure(t *testing.T) {
	f := newChallengeFixture(t, nil)
	token := f.register(t, "Alice", "a@x.com")
	f.accounts.Errors["Login"] = &domain.GatewayError{Err: errors.New("connection refused")}

	_, err := f.service.CreateUser(context.Background(), CreateUserInput{Token: token, Password: "pw123"})
	assertKind(t, err, domain.ErrorKindAccount)
}

func TestCreateUserIgnoresCancellation(t *testing.T) {
	f := newChallengeFixture(t, nil)
	token := f.register(t, "Alice", "a@x.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.CreateUser(ctx, CreateUserInput{Token: token, Password: "pw123"})
	assert.NoError(t, err)
}

func TestRequestPasswordReset(t *testing.T) {
	f := newChallengeFixture(t, nil)
	accountID := f.accounts.AddUser("Alice", "a@x.com", "old")

	require.NoError(t, f.service.RequestPasswordReset(context.Background(), "a@x.com", "", testHost))

	sent := f.mailer.Last()
	assert.Equal(t, notification.KindPasswordReset, sent.Kind)
	assert.Equal(t, "a@x.com", sent.To)
	assert.Equal(t, "Alice", sent.Name)

	tokens := f.store.Tokens("a@x.com")
	require.Len(t, tokens, 1)
	assert.Equal(t, domain.PurposeReset, tokens[0].Purpose)
	require.NotNil(t, tokens[0].AccountID)
	assert.Equal(t, accountID, *tokens[0].AccountID)
	assert.Equal(t, sent.Token, tokens[0].Token)
}

func TestRequestPasswordResetFailures(t *testing.T) {
	tests := []struct {
		name  string
		email string
		setup func(f *challengeFixture)
		kind  domain.ErrorKind
	}{
		{
			name:  "missing email",
			email: "",
			kind:  domain.ErrorKindAccount,
		},
		{
			name:  "unknown email",
			email: "ghost@x.com",
			kind:  domain.ErrorKindAccount,
		},
		{
			name:  "account lookup fails",
			email: "a@x.com",
			setup: func(f *challengeFixture) {
				f.accounts.Errors["GetAccount"] = domain.ErrAccountNotFound
			},
			kind: domain.ErrorKindAccount,
		},
		{
			name:  "issue fails",
			email: "a@x.com",
			setup: func(f *challengeFixture) {
				f.store.CreateErr = errors.New("disk full")
			},
			kind: domain.ErrorKindToken,
		},
		{
			name:  "send fails",
			email: "a@x.com",
			setup: func(f *challengeFixture) {
				f.mailer.Err = domain.ErrNotification
			},
			kind: domain.ErrorKindEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChallengeFixture(t, nil)
			f.accounts.AddUser("Alice", "a@x.com", "old")
			if tt.setup != nil {
				tt.setup(f)
			}

			err := f.service.RequestPasswordReset(context.Background(), tt.email, "", testHost)
			assertKind(t, err, tt.kind)
		})
	}
}

func TestUpdatePassword(t *testing.T) {
	f := newChallengeFixture(t, nil)
	f.accounts.AddUser("Alice", "a@x.com", "old")
	require.NoError(t, f.service.RequestPasswordReset(context.Background(), "a@x.com", "", testHost))
	token := f.mailer.Last().Token

	session, err := f.service.UpdatePassword(context.Background(), token, "new-pw", testHost)
	require.NoError(t, err)
	assert.NotEmpty(t, session.JWT)

	password, _ := f.accounts.Password("a@x.com")
	assert.Equal(t, "new-pw", password)

	sent := f.mailer.Last()
	assert.Equal(t, notification.KindPasswordResetConfirmation, sent.Kind)
	assert.Equal(t, "a@x.com", sent.To)

	_, err = f.service.VerifyToken(context.Background(), token)
	assertKind(t, err, domain.ErrorKindToken)
}

func TestUpdatePasswordFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *challengeFixture)
		kind  domain.ErrorKind
		live  bool
	}{
		{
			name: "credential gone",
			setup: func(f *challengeFixture) {
				f.accounts.Errors["FindPassword"] = domain.ErrCredentialNotFound
			},
			kind: domain.ErrorKindToken,
			live: true,
		},
		{
			name: "lookup fails",
			setup: func(f *challengeFixture) {
				f.accounts.Errors["FindPassword"] = &domain.GatewayError{Status: http.StatusInternalServerError}
			},
			kind: domain.ErrorKindAccount,
			live: true,
		},
		{
			name: "change secret fails",
			setup: func(f *challengeFixture) {
				f.accounts.Errors["ChangeSecret"] = &domain.GatewayError{Status: http.StatusUnprocessableEntity}
			},
			kind: domain.ErrorKindAccount,
			live: true,
		},
		{
			name: "invalidate fails",
			setup: func(f *challengeFixture) {
				f.store.DeleteErr = errors.New("connection reset")
			},
			kind: domain.ErrorKindDB,
			live: true,
		},
		{
			name: "confirmation fails",
			setup: func(f *challengeFixture) {
				f.mailer.Err = domain.ErrNotification
			},
			kind: domain.ErrorKindEmail,
			live: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChallengeFixture(t, nil)
			f.accounts.AddUser("Alice", "a@x.com", "old")
			require.NoError(t, f.service.RequestPasswordReset(context.Background(), "a@x.com", "", testHost))
			token := f.mailer.Last().Token
			tt.setup(f)

			_, err := f.service.UpdatePassword(context.Background(), token, "new-pw", testHost)
			assertKind(t, err, tt.kind)

			f.store.DeleteErr = nil
			assert.Equal(t, tt.live, len(f.store.Tokens("a@x.com")) == 1)
		})
	}
}

func TestUpdatePasswordRejectsCreateToken(t *testing.T) {
	f := newChallengeFixture(t, nil)
	token := f.register(t, "Alice", "a@x.com")

	_, err := f.service.UpdatePassword(context.Background(), token, "new-pw", testHost)
	assertKind(t, err, domain.ErrorKindToken)
}

func TestUpdatePasswordExpiredToken(t *testing.T) {
	f := newChallengeFixture(t, nil)
	f.accounts.AddUser("Alice", "a@x.com", "old")
	require.NoError(t, f.service.RequestPasswordReset(context.Background(), "a@x.com", "", testHost))
	token := f.mailer.Last().Token
	f.store.Backdate(token, 25*time.Hour)

	_, err := f.service.UpdatePassword(context.Background(), token, "new-pw", testHost)
	assertKind(t, err, domain.ErrorKindToken)

	password, _ := f.accounts.Password("a@x.com")
	assert.Equal(t, "old", password)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", outcome(nil))
	assert.Equal(t, "db", outcome(domain.NewError(domain.ErrorKindDB, errors.New("x"))))
	assert.Equal(t, "login_rejected", outcome(&domain.LoginError{Status: 401}))
	assert.Equal(t, "generic", outcome(errors.New("x")))
}
