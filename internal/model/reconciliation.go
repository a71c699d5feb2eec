package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReconciliationStatus string

const (
	ReconciliationOpen          ReconciliationStatus = "open"
	ReconciliationSubmitted     ReconciliationStatus = "submitted"
	ReconciliationPendingReview ReconciliationStatus = "pending_review"
	ReconciliationApproved      ReconciliationStatus = "approved"
	ReconciliationRejected      ReconciliationStatus = "rejected"
)

type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
)

func (d ReviewDecision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// CashReconciliation is one courier's cash position for one calendar day.
type CashReconciliation struct {
	ID                 int64                `json:"id"`
	AgentID            int64                `json:"agent_id"`
	ReconciliationDate string               `json:"reconciliation_date"`
	OpeningBalance     decimal.Decimal      `json:"opening_balance"`
	TotalCollections   decimal.Decimal      `json:"total_collections"`
	TotalChangeGiven   decimal.Decimal      `json:"total_change_given"`
	ClosingBalance     decimal.Decimal      `json:"closing_balance"`
	SubmittedAmount    *decimal.Decimal     `json:"submitted_amount,omitempty"`
	Variance           *decimal.Decimal     `json:"variance,omitempty"`
	Status             ReconciliationStatus `json:"status"`
	DiscrepancyFlag    bool                 `json:"discrepancy_flag"`
	Notes              string               `json:"notes"`
	AdminNotes         string               `json:"admin_notes"`
	Version            int64                `json:"version"`
	SubmittedAt        *time.Time           `json:"submitted_at,omitempty"`
	ReviewedBy         *int64               `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time           `json:"reviewed_at,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// ExpectedClosing recomputes the closing balance from its parts.
func (r *CashReconciliation) ExpectedClosing() decimal.Decimal {
	return r.OpeningBalance.Add(r.TotalCollections).Sub(r.TotalChangeGiven)
}

// SubmissionUpdate is written when a courier reports the cash they hold.
type SubmissionUpdate struct {
	SubmittedAmount decimal.Decimal
	Variance        decimal.Decimal
	Status          ReconciliationStatus
	DiscrepancyFlag bool
	Notes           string
	SubmittedAt     time.Time
}

// VarianceUpdate is written when a collection lands on a day that already has a submitted count.
type VarianceUpdate struct {
	Variance        decimal.Decimal
	Status          ReconciliationStatus
	DiscrepancyFlag bool
	UpdatedAt       time.Time
}

// ReviewUpdate is written when an administrator decides on a submission.
type ReviewUpdate struct {
	Status          ReconciliationStatus
	DiscrepancyFlag bool
	AdminNotes      string
	ReviewedBy      int64
	ReviewedAt      time.Time
}
