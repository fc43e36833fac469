package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudsignup/backend/src/domain"
	"github.com/cloudsignup/backend/src/notification"
	"github.com/rs/zerolog"
)

// AccountGateway is the subset of the Accounts API used by the workflows.
// *gateway.AccountsClient implements it.
type AccountGateway interface {
	CreateAccount(ctx context.Context, name string) (*domain.Account, error)
	CreatePasswordCredential(ctx context.Context, accountID, email, password string) (*domain.Credential, error)
	FindPasswordCredential(ctx context.Context, email string) (*domain.Credential, error)
	FindPassword(ctx context.Context, email string) (*domain.Credential, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ChangeSecret(ctx context.Context, credential *domain.Credential, newSecret string) error
	Login(ctx context.Context, username, password string) (*domain.Session, error)
}

// Mailer sends workflow emails. *notification.Notifier implements it.
type Mailer interface {
	Send(ctx context.Context, kind notification.Kind, to, name, host, token string) error
}

// RateLimiter bounds how often a key may start a workflow.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// CreateUserInput is the payload of the account creation workflow.
type CreateUserInput struct {
	Token    string
	Name     string
	Email    string
	Password string
}

// ChallengeService runs the registration and password reset workflows.
// Every step is a single blocking call; the first failure ends the workflow
// and nothing already done is rolled back.
type ChallengeService struct {
	tokens   *TokenService
	accounts AccountGateway
	mailer   Mailer
	limiter  RateLimiter
}

// NewChallengeService wires the workflows. limiter may be nil.
func NewChallengeService(tokens *TokenService, accounts AccountGateway, mailer Mailer, limiter RateLimiter) *ChallengeService {
	return &ChallengeService{
		tokens:   tokens,
		accounts: accounts,
		mailer:   mailer,
		limiter:  limiter,
	}
}

// logger wraps the execution context with component info
func (s *ChallengeService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "challenge").Logger()
	return &l
}

// Register issues a create token for email and mails the verification link.
func (s *ChallengeService) Register(ctx context.Context, name, email, host string) (err error) {
	ctx = context.WithoutCancel(ctx)
	defer s.observe(WorkflowRegister, time.Now(), &err)

	if err := s.allow(ctx, email); err != nil {
		return err
	}

	token, err := s.tokens.Issue(ctx, nil, name, email, domain.PurposeCreate)
	if err != nil {
		return domain.NewError(domain.ErrorKindAuth, err)
	}

	if err := s.mailer.Send(ctx, notification.KindRegistration, email, name, host, token); err != nil {
		return domain.NewError(domain.ErrorKindEmail, err)
	}

	s.logger(ctx).Info().Msg("registration email sent")
	return nil
}

// VerifyToken returns the identity bound to a live token without consuming it.
func (s *ChallengeService) VerifyToken(ctx context.Context, token string) (_ *domain.ChallengeToken, err error) {
	ctx = context.WithoutCancel(ctx)
	defer s.observe(WorkflowVerify, time.Now(), &err)

	challenge, err := s.tokens.Redeem(ctx, token)
	if err != nil {
		return nil, domain.NewError(domain.ErrorKindToken, err)
	}

	return challenge, nil
}

// CreateUser turns a create token into an account with a password credential
// and logs the new user in. The token email is authoritative; a differing
// email in the input is rejected.
func (s *ChallengeService) CreateUser(ctx context.Context, in CreateUserInput) (_ *domain.Session, err error) {
	ctx = context.WithoutCancel(ctx)
	defer s.observe(WorkflowCreateUser, time.Now(), &err)

	challenge, err := s.redeemFor(ctx, in.Token, domain.PurposeCreate)
	if err != nil {
		return nil, err
	}

	if in.Email != "" && !strings.EqualFold(in.Email, challenge.Email) {
		return nil, domain.NewError(domain.ErrorKindAuth, domain.ErrAuth, domain.WithMsg("email does not match the challenge token"))
	}

	name := in.Name
	if name == "" {
		name = challenge.Name
	}

	logger := s.logger(ctx)

	account, err := s.accounts.CreateAccount(ctx, name)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create account")
		return nil, domain.NewError(domain.ErrorKindAccount, err)
	}

	if _, err := s.accounts.CreatePasswordCredential(ctx, account.ID, challenge.Email, in.Password); err != nil {
		logger.Error().Err(err).Str("account_id", account.ID).Msg("failed to create password credential")
		return nil, domain.NewError(domain.ErrorKindAccount, err)
	}

	if err := s.tokens.Invalidate(ctx, challenge.Email); err != nil {
		return nil, domain.NewError(domain.ErrorKindDB, err)
	}

	session, err := s.login(ctx, challenge.Email, in.Password)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("account_id", account.ID).Msg("account created")
	return session, nil
}

// RequestPasswordReset issues a reset token for the account owning the
// password credential of email and mails the reset link. The token keeps the
// requested name, falling back to the account name; the email greets the
// account name.
func (s *ChallengeService) RequestPasswordReset(ctx context.Context, email, name, host string) (err error) {
	ctx = context.WithoutCancel(ctx)
	defer s.observe(WorkflowResetPassword, time.Now(), &err)

	if email == "" {
		return domain.NewError(domain.ErrorKindAccount, domain.ErrCredentialNotFound, domain.WithMsg("email is required"))
	}

	if err := s.allow(ctx, email); err != nil {
		return err
	}

	logger := s.logger(ctx)

	credential, err := s.accounts.FindPasswordCredential(ctx, email)
	if err != nil {
		logger.Warn().Err(err).Msg("password credential lookup failed")
		return domain.NewError(domain.ErrorKindAccount, err)
	}

	account, err := s.accounts.GetAccount(ctx, credential.AccountID)
	if err != nil {
		logger.Warn().Err(err).Str("account_id", credential.AccountID).Msg("account lookup failed")
		return domain.NewError(domain.ErrorKindAccount, err)
	}

	if name == "" {
		name = account.Name
	}

	token, err := s.tokens.Issue(ctx, &account.ID, name, credential.PublicValue, domain.PurposeReset)
	if err != nil {
		return domain.NewError(domain.ErrorKindToken, err)
	}

	if err := s.mailer.Send(ctx, notification.KindPasswordReset, credential.PublicValue, account.Name, host, token); err != nil {
		return domain.NewError(domain.ErrorKindEmail, err)
	}

	logger.Info().Str("account_id", account.ID).Msg("password reset email sent")
	return nil
}

// UpdatePassword applies a reset token: the password credential of the token
// email gets the new secret, the user is logged in and a confirmation mailed.
func (s *ChallengeService) UpdatePassword(ctx context.Context, token, password, host string) (_ *domain.Session, err error) {
	ctx = context.WithoutCancel(ctx)
	defer s.observe(WorkflowApplyReset, time.Now(), &err)

	challenge, err := s.redeemFor(ctx, token, domain.PurposeReset)
	if err != nil {
		return nil, err
	}

	logger := s.logger(ctx)

	credential, err := s.accounts.FindPassword(ctx, challenge.Email)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return nil, domain.NewError(domain.ErrorKindToken, err)
		}
		logger.Error().Err(err).Msg("password lookup failed")
		return nil, domain.NewError(domain.ErrorKindAccount, err)
	}

	if err := s.accounts.ChangeSecret(ctx, credential, password); err != nil {
		logger.Error().Err(err).Str("credential_id", credential.ID).Msg("failed to change secret")
		return nil, domain.NewError(domain.ErrorKindAccount, err)
	}

	if err := s.tokens.Invalidate(ctx, challenge.Email); err != nil {
		return nil, domain.NewError(domain.ErrorKindDB, err)
	}

	session, err := s.login(ctx, challenge.Email, password)
	if err != nil {
		return nil, err
	}

	if err := s.mailer.Send(ctx, notification.KindPasswordResetConfirmation, challenge.Email, challenge.Name, host, ""); err != nil {
		return nil, domain.NewError(domain.ErrorKindEmail, err)
	}

	logger.Info().Str("credential_id", credential.ID).Msg("password updated")
	return session, nil
}

// redeemFor redeems token and checks it was issued for purpose.
func (s *ChallengeService) redeemFor(ctx context.Context, token string, purpose domain.Purpose) (*domain.ChallengeToken, error) {
	challenge, err := s.tokens.Redeem(ctx, token)
	if err != nil {
		return nil, domain.NewError(domain.ErrorKindToken, err)
	}

	if challenge.Purpose != purpose {
		s.logger(ctx).Warn().
			Str("expected", string(purpose)).
			Str("actual", string(challenge.Purpose)).
			Msg("challenge token used for the wrong workflow")
		return nil, domain.NewError(domain.ErrorKindToken, domain.ErrTokenNotFound)
	}

	return challenge, nil
}

// login returns a *domain.LoginError unchanged so the caller can relay the
// downstream answer; only transport failures become an account error.
func (s *ChallengeService) login(ctx context.Context, email, password string) (*domain.Session, error) {
	session, err := s.accounts.Login(ctx, email, password)
	if err != nil {
		var loginErr *domain.LoginError
		if errors.As(err, &loginErr) {
			s.logger(ctx).Warn().Int("status", loginErr.Status).Msg("login rejected")
			return nil, loginErr
		}
		s.logger(ctx).Error().Err(err).Msg("login request failed")
		return nil, domain.NewError(domain.ErrorKindAccount, err)
	}

	return session, nil
}

// allow applies the per-email rate limit. Limiter failures let the request through.
func (s *ChallengeService) allow(ctx context.Context, email string) error {
	if s.limiter == nil {
		return nil
	}

	ok, err := s.limiter.Allow(ctx, strings.ToLower(email))
	if err != nil {
		s.logger(ctx).Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		s.logger(ctx).Warn().Msg("rate limit exceeded")
		return domain.NewError(domain.ErrorKindAuth, domain.ErrRateLimited)
	}

	return nil
}

func (s *ChallengeService) observe(workflow string, start time.Time, errp *error) {
	observeWorkflow(workflow, start, outcome(*errp))
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}

	var loginErr *domain.LoginError
	if errors.As(err, &loginErr) {
		return "login_rejected"
	}

	var domainErr domain.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Name()
	}

	return string(domain.ErrorKindGeneric)
}
