package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeCOD    PaymentType = "cod"
	PaymentTypeOnline PaymentType = "online"
)

func (t PaymentType) Valid() bool {
	return t == PaymentTypeCOD || t == PaymentTypeOnline
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusCollected  PaymentStatus = "collected"
	PaymentStatusVerified   PaymentStatus = "verified"
	PaymentStatusReconciled PaymentStatus = "reconciled"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Settled reports whether money for the order has already changed hands.
func (s PaymentStatus) Settled() bool {
	switch s {
	case PaymentStatusCollected, PaymentStatusVerified, PaymentStatusReconciled:
		return true
	}
	return false
}

// CollectionMetadata is the audit context captured with a collection.
type CollectionMetadata struct {
	ClientTimestamp *time.Time `json:"client_timestamp,omitempty"`
	ClientOrigin    string     `json:"client_origin,omitempty"`
	// SessionRef is a digest of the session token, never the token itself.
	SessionRef string `json:"session_ref,omitempty"`
}

type PaymentTransaction struct {
	ID              int64              `json:"id"`
	OrderID         int64              `json:"order_id"`
	PaymentType     PaymentType        `json:"payment_type"`
	PaymentMethod   string             `json:"payment_method"`
	Amount          decimal.Decimal    `json:"amount"`
	Status          PaymentStatus      `json:"status"`
	AgentID         *int64             `json:"agent_id,omitempty"`
	CollectedAmount decimal.Decimal    `json:"collected_amount"`
	ChangeAmount    decimal.Decimal    `json:"change_amount"`
	CollectedAt     *time.Time         `json:"collected_at,omitempty"`
	CollectionDate  *string            `json:"collection_date,omitempty"`
	CollectionID    *string            `json:"collection_id,omitempty"`
	VerifiedAt      *time.Time         `json:"verified_at,omitempty"`
	Notes           string             `json:"notes"`
	Metadata        CollectionMetadata `json:"metadata"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// CollectionUpdate is the set of fields written when a pending payment is claimed.
type CollectionUpdate struct {
	AgentID         int64
	CollectedAmount decimal.Decimal
	ChangeAmount    decimal.Decimal
	CollectedAt     time.Time
	CollectionDate  string
	CollectionID    string
	Notes           string
	Metadata        CollectionMetadata
}
