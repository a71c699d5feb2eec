package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuditType string

const (
	AuditCollectionSucceeded     AuditType = "collection_succeeded"
	AuditCollectionFailed        AuditType = "collection_failed"
	AuditRateLimited             AuditType = "rate_limited"
	AuditConsistencyError        AuditType = "consistency_error"
	AuditExternalDependencyError AuditType = "external_dependency_error"
	AuditReconciliationSubmitted AuditType = "reconciliation_submitted"
	AuditReconciliationReviewed  AuditType = "reconciliation_reviewed"
	AuditReconciliationReopened  AuditType = "reconciliation_reopened"
	AuditSweepCompleted          AuditType = "sweep_completed"
)

// AuditEvent is an append-only record of a security or money relevant action.
type AuditEvent struct {
	ID               int64            `json:"id,omitempty"`
	EventID          string           `json:"event_id"`
	Type             AuditType        `json:"type"`
	AgentID          *int64           `json:"agent_id,omitempty"`
	OrderID          *int64           `json:"order_id,omitempty"`
	ReconciliationID *int64           `json:"reconciliation_id,omitempty"`
	Code             string           `json:"code,omitempty"`
	Message          string           `json:"message,omitempty"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Origin           string           `json:"origin,omitempty"`
	OccurredAt       time.Time        `json:"occurred_at"`
	RecordedAt       time.Time        `json:"recorded_at,omitempty"`
}

// Notification is published for the external dispatcher; this service never delivers it.
type Notification struct {
	Type             string    `json:"type"`
	AgentID          int64     `json:"agent_id"`
	ReconciliationID int64     `json:"reconciliation_id"`
	Date             string    `json:"date"`
	CreatedAt        time.Time `json:"created_at"`
}

const (
	NotificationReconciliationDue = "reconciliation_due"
	NotificationReviewPending     = "review_pending"
)
