package fixtures

import (
	"github.com/shopspring/decimal"
)

// Order is what the stub order service hands out.
type Order struct {
	ID              int64           `json:"id"`
	Total           decimal.Decimal `json:"total"`
	Status          string          `json:"status"`
	AssignedAgentID int64           `json:"assigned_agent_id"`
	PaymentMethod   string          `json:"payment_method"`
}

const OutForDelivery = "out_for_delivery"

const (
	CourierOne int64 = 7
	CourierTwo int64 = 8
	Admin      int64 = 900
)

// NewCODOrder returns an order that is ready for cash collection.
func NewCODOrder(id int64, agentID int64, total string) Order {
	return Order{
		ID:              id,
		Total:           decimal.RequireFromString(total),
		Status:          OutForDelivery,
		AssignedAgentID: agentID,
		PaymentMethod:   "cod",
	}
}

// DayOfTwoOrders is one courier's day: 18.50 paid with 20, 30.00 paid with 35.
// Collections total 55.00, change 6.50, closing balance 48.50.
func DayOfTwoOrders() []Order {
	return []Order{
		NewCODOrder(1001, CourierOne, "18.50"),
		NewCODOrder(1002, CourierOne, "30.00"),
	}
}

// ShortDay is a day the courier under-declares by a wide margin.
func ShortDay() []Order {
	return []Order{
		NewCODOrder(2001, CourierTwo, "100.00"),
	}
}
