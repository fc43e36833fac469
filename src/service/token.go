package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cloudsignup/backend/src/domain"
	"github.com/rs/zerolog"
)

// tokenBytes is the entropy of an issued token; its hex form is 40 characters.
const tokenBytes = 20

// ChallengeStore is the persistence used by TokenService.
// *repository.ChallengeRepository implements it.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, challenge *domain.ChallengeToken) error
	FindLiveChallenge(ctx context.Context, token string, ttl time.Duration) (*domain.ChallengeToken, error)
	DeleteByEmailOrStale(ctx context.Context, email string, ttl time.Duration) (int64, error)
	DeleteStale(ctx context.Context, ttl time.Duration) (int64, error)
}

// TokenService issues, redeems and invalidates single-use challenge tokens.
type TokenService struct {
	store ChallengeStore
	ttl   time.Duration
}

func NewTokenService(store ChallengeStore) *TokenService {
	return &TokenService{
		store: store,
		ttl:   domain.TokenTTL,
	}
}

// logger wraps the execution context with component info
func (s *TokenService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "token").Logger()
	return &l
}

// Issue creates and stores a fresh token for email. accountID is set for
// password reset tokens and nil for registration tokens.
func (s *TokenService) Issue(ctx context.Context, accountID *string, name, email string, purpose domain.Purpose) (string, error) {
	if !purpose.Valid() {
		return "", fmt.Errorf("%w: invalid token purpose %q", domain.ErrGeneric, purpose)
	}

	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrGeneric, err)
	}

	challenge := &domain.ChallengeToken{
		AccountID: accountID,
		Name:      name,
		Email:     email,
		Token:     token,
		Purpose:   purpose,
	}
	if err := s.store.CreateChallenge(ctx, challenge); err != nil {
		s.logger(ctx).Error().Err(err).Str("purpose", string(purpose)).Msg("failed to store challenge token")
		return "", fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	s.logger(ctx).Debug().Str("purpose", string(purpose)).Msg("challenge token issued")
	return token, nil
}

// Redeem returns the token row without consuming it. Expired and unknown
// tokens both yield domain.ErrTokenNotFound.
func (s *TokenService) Redeem(ctx context.Context, token string) (*domain.ChallengeToken, error) {
	if token == "" {
		return nil, domain.ErrTokenNotFound
	}

	challenge, err := s.store.FindLiveChallenge(ctx, token, s.ttl)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return nil, err
		}
		s.logger(ctx).Error().Err(err).Msg("failed to look up challenge token")
		return nil, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	return challenge, nil
}

// Invalidate deletes every token issued to email, and any stale token.
func (s *TokenService) Invalidate(ctx context.Context, email string) error {
	deleted, err := s.store.DeleteByEmailOrStale(ctx, email, s.ttl)
	if err != nil {
		s.logger(ctx).Error().Err(err).Msg("failed to invalidate challenge tokens")
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	s.logger(ctx).Debug().Int64("deleted", deleted).Msg("challenge tokens invalidated")
	return nil
}

// Sweep deletes tokens older than the token lifetime.
func (s *TokenService) Sweep(ctx context.Context) (int64, error) {
	deleted, err := s.store.DeleteStale(ctx, s.ttl)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	return deleted, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
