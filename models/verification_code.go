package models

import (
	"time"

	"github.com/google/uuid"
)

// CodePurpose discriminates sign-in codes from credential-reset codes
type CodePurpose string

const (
	PurposeVerification CodePurpose = "VERIFICATION"
	PurposeResetKey     CodePurpose = "RESET_KEY"
)

// VerificationCode is a one-time code issued to an email address.
// Only the SHA-256 hex digest of the code is ever stored.
type VerificationCode struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	Email      string      `json:"email" db:"email"`
	HashedCode string      `json:"-" db:"hashed_code"`
	Purpose    CodePurpose `json:"purpose" db:"purpose"`
	Expiry     time.Time   `json:"expiry" db:"expiry"`
	Used       bool        `json:"used" db:"used"`
	Attempts   int         `json:"attempts" db:"attempts"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the VerificationCode model
func (VerificationCode) TableName() string {
	return "verification_codes"
}

// NewVerificationCode creates an unused code that expires at expiry
func NewVerificationCode(email, hashedCode string, purpose CodePurpose, expiry time.Time) *VerificationCode {
	return &VerificationCode{
		ID:         uuid.New(),
		Email:      email,
		HashedCode: hashedCode,
		Purpose:    purpose,
		Expiry:     expiry.UTC(),
		CreatedAt:  time.Now().UTC(),
	}
}

// IsExpired reports whether the code expired strictly before now
func (c *VerificationCode) IsExpired(now time.Time) bool {
	return c.Expiry.Before(now)
}

// IsActive reports whether the code is unused and unexpired
func (c *VerificationCode) IsActive(now time.Time) bool {
	return !c.Used && !c.IsExpired(now)
}
