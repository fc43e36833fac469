package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudsignup/backend/src/domain"
	"gorm.io/gorm"
)

// ChallengeTable is the unprefixed name of the challenge token table.
const ChallengeTable = "challenge"

// ChallengeRepository persists challenge tokens in the {prefix}challenge table.
// The *gorm.DB handle wraps a pooled connection and is safe for concurrent use.
type ChallengeRepository struct {
	db    *gorm.DB
	table string
}

func NewChallengeRepository(db *gorm.DB, tablePrefix string) *ChallengeRepository {
	return &ChallengeRepository{
		db:    db,
		table: tablePrefix + ChallengeTable,
	}
}

// TableName returns the prefixed table name this repository reads and writes.
func (r *ChallengeRepository) TableName() string {
	return r.table
}

// AutoMigrate creates or updates the prefixed challenge table from the model.
// Deployments without a prefix use the SQL migrations instead.
func (r *ChallengeRepository) AutoMigrate() error {
	return r.db.Table(r.table).AutoMigrate(&domain.ChallengeToken{})
}

// CreateChallenge inserts a token row. The creation time is taken from the
// database clock so that expiry checks never compare two different clocks.
func (r *ChallengeRepository) CreateChallenge(ctx context.Context, challenge *domain.ChallengeToken) error {
	row := map[string]interface{}{
		"account_id": challenge.AccountID,
		"name":       challenge.Name,
		"email":      challenge.Email,
		"token":      challenge.Token,
		"request":    string(challenge.Purpose),
		"created":    gorm.Expr("NOW()"),
	}

	if err := r.db.WithContext(ctx).Table(r.table).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert challenge: %w", err)
	}

	return nil
}

// FindLiveChallenge returns the token row if it was created less than ttl ago.
// Returns domain.ErrTokenNotFound for absent and expired tokens alike.
func (r *ChallengeRepository) FindLiveChallenge(ctx context.Context, token string, ttl time.Duration) (*domain.ChallengeToken, error) {
	var challenge domain.ChallengeToken

	err := r.db.WithContext(ctx).
		Table(r.table).
		Where("token = ? AND created > NOW() - (? * INTERVAL '1 second')", token, ttl.Seconds()).
		Take(&challenge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to query challenge: %w", err)
	}

	return &challenge, nil
}

// DeleteByEmailOrStale removes every token of email together with every
// token older than ttl, whoever it belongs to.
func (r *ChallengeRepository) DeleteByEmailOrStale(ctx context.Context, email string, ttl time.Duration) (int64, error) {
	result := r.db.WithContext(ctx).
		Table(r.table).
		Where("email = ? OR created <= NOW() - (? * INTERVAL '1 second')", email, ttl.Seconds()).
		Delete(&domain.ChallengeToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete challenges: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// DeleteStale removes tokens older than ttl.
func (r *ChallengeRepository) DeleteStale(ctx context.Context, ttl time.Duration) (int64, error) {
	result := r.db.WithContext(ctx).
		Table(r.table).
		Where("created <= NOW() - (? * INTERVAL '1 second')", ttl.Seconds()).
		Delete(&domain.ChallengeToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete stale challenges: %w", result.Error)
	}

	return result.RowsAffected, nil
}
