package domain

import (
	"time"
)

// TokenTTL is how long a challenge token stays redeemable after it was created.
const TokenTTL = 24 * time.Hour

// Purpose records which workflow issued a challenge token.
type Purpose string

const (
	PurposeCreate Purpose = "create"
	PurposeReset  Purpose = "reset"
)

func (p Purpose) Valid() bool {
	return p == PurposeCreate || p == PurposeReset
}

// ChallengeToken is one outstanding row of the challenge table.
// The table name carries a deployment specific prefix, so repositories
// always address it explicitly instead of relying on TableName.
type ChallengeToken struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	AccountID *string   `gorm:"column:account_id;type:varchar(255)"`
	Name      string    `gorm:"column:name;type:varchar(255);not null;default:''"`
	Email     string    `gorm:"column:email;type:varchar(255);not null;index"`
	Token     string    `gorm:"column:token;type:varchar(64);not null;uniqueIndex"`
	Purpose   Purpose   `gorm:"column:request;type:varchar(16);not null"`
	CreatedAt time.Time `gorm:"column:created;not null;default:CURRENT_TIMESTAMP;index"`
}

// Expired reports whether the token is outside the redemption window at now.
func (t *ChallengeToken) Expired(now time.Time) bool {
	return now.Sub(t.CreatedAt) >= TokenTTL
}
