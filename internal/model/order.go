package model

import "github.com/shopspring/decimal"

// Order is the slice of the order domain this service needs.
type Order struct {
	ID              int64           `json:"id"`
	Total           decimal.Decimal `json:"total"`
	Status          string          `json:"status"`
	AssignedAgentID int64           `json:"assigned_agent_id"`
	PaymentMethod   string          `json:"payment_method"`
}
