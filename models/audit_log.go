package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of auth event being audited
type AuditAction string

const (
	AuditActionCodeRequested    AuditAction = "code_requested"
	AuditActionSignIn           AuditAction = "sign_in"
	AuditActionSignInFailed     AuditAction = "sign_in_failed"
	AuditActionSessionRefreshed AuditAction = "session_refreshed"
	AuditActionSessionRejected  AuditAction = "session_rejected"
	AuditActionKeyReset         AuditAction = "key_reset"
	AuditActionSignedOut        AuditAction = "signed_out"
	AuditActionUserUpdated      AuditAction = "user_updated"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Email     string          `json:"email,omitempty" db:"email"`
	Action    AuditAction     `json:"action" db:"action"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"` // JSONB for flexible metadata
	IPAddress string          `json:"ip_address" db:"ip_address"`
	UserAgent string          `json:"user_agent" db:"user_agent"`
	RequestID string          `json:"request_id" db:"request_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction, email string) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Email:     email,
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
}

// WithUser sets the user ID
func (a *AuditLog) WithUser(userID uuid.UUID) *AuditLog {
	a.UserID = &userID
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}
