package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Capabilities granted to callers through their access token.
const (
	CapabilityCollect = "cod:collect"
	CapabilityReview  = "cod:review"
	CapabilityReport  = "cod:report"
	CapabilityLedger  = "cod:ledger"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	AgentID      int64
	Capabilities []string
	SessionRef   string
}

func (p Principal) Can(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type CollectRequest struct {
	Principal       Principal
	OrderID         int64
	CollectedAmount decimal.Decimal
	// ChangeAmount is what the client computed, if it sent one.
	ChangeAmount    *decimal.Decimal
	Notes           string
	ClientTimestamp time.Time
	ClientOrigin    string
}

type CollectionReceipt struct {
	OrderID         int64           `json:"order_id"`
	CollectedAmount decimal.Decimal `json:"collected_amount"`
	ChangeAmount    decimal.Decimal `json:"change_amount"`
	OrderTotal      decimal.Decimal `json:"order_total"`
	CollectionID    string          `json:"collection_id"`
	OrderCompleted  bool            `json:"order_completed"`
}

type ChangeResult struct {
	ChangeAmount decimal.Decimal `json:"change_amount"`
	Sufficient   bool            `json:"sufficient"`
}
