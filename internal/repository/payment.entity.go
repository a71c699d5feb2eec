package repository

import (
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentTransactionEntity struct {
	ID              int64                                        `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	OrderID         int64                                        `db:"order_id"         gorm:"column:order_id;not null;uniqueIndex:ux_payment_transactions_order_id"`
	PaymentType     string                                       `db:"payment_type"     gorm:"column:payment_type;type:varchar(10);not null"`
	PaymentMethod   string                                       `db:"payment_method"   gorm:"column:payment_method;type:varchar(50);not null;default:''"`
	Amount          decimal.Decimal                              `db:"amount"           gorm:"column:amount;type:numeric(12,2);not null"`
	Status          string                                       `db:"status"           gorm:"column:status;type:varchar(20);not null;index"`
	AgentID         *int64                                       `db:"agent_id"         gorm:"column:agent_id;index:ix_payment_transactions_agent_day,priority:1"`
	CollectedAmount decimal.NullDecimal                          `db:"collected_amount" gorm:"column:collected_amount;type:numeric(12,2)"`
	ChangeAmount    decimal.NullDecimal                          `db:"change_amount"    gorm:"column:change_amount;type:numeric(12,2)"`
	CollectedAt     *time.Time                                   `db:"collected_at"     gorm:"column:collected_at"`
	CollectionDate  *string                                      `db:"collection_date"  gorm:"column:collection_date;type:varchar(10);index:ix_payment_transactions_agent_day,priority:2"`
	CollectionID    *string                                      `db:"collection_id"    gorm:"column:collection_id;type:varchar(36);uniqueIndex:ux_payment_transactions_collection_id"`
	VerifiedAt      *time.Time                                   `db:"verified_at"      gorm:"column:verified_at"`
	Notes           string                                       `db:"notes"            gorm:"column:notes;type:text;not null;default:''"`
	Metadata        datatypes.JSONType[model.CollectionMetadata] `db:"metadata"         gorm:"column:metadata"`
	CreatedAt       time.Time                                    `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                                    `db:"updated_at"       gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentTransactionEntity) TableName() string {
	return "payment_transactions"
}

func toPaymentEntity(m *model.PaymentTransaction) *PaymentTransactionEntity {
	if m == nil {
		return nil
	}
	e := &PaymentTransactionEntity{
		ID:             m.ID,
		OrderID:        m.OrderID,
		PaymentType:    string(m.PaymentType),
		PaymentMethod:  m.PaymentMethod,
		Amount:         m.Amount,
		Status:         string(m.Status),
		AgentID:        m.AgentID,
		CollectedAt:    m.CollectedAt,
		CollectionDate: m.CollectionDate,
		CollectionID:   m.CollectionID,
		VerifiedAt:     m.VerifiedAt,
		Notes:          m.Notes,
		Metadata:       datatypes.NewJSONType(m.Metadata),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.Status.Settled() {
		e.CollectedAmount = decimal.NewNullDecimal(m.CollectedAmount)
		e.ChangeAmount = decimal.NewNullDecimal(m.ChangeAmount)
	}
	return e
}

func toPaymentModel(e *PaymentTransactionEntity) *model.PaymentTransaction {
	if e == nil {
		return nil
	}
	return &model.PaymentTransaction{
		ID:              e.ID,
		OrderID:         e.OrderID,
		PaymentType:     model.PaymentType(e.PaymentType),
		PaymentMethod:   e.PaymentMethod,
		Amount:          money(e.Amount),
		Status:          model.PaymentStatus(e.Status),
		AgentID:         e.AgentID,
		CollectedAmount: nullMoney(e.CollectedAmount),
		ChangeAmount:    nullMoney(e.ChangeAmount),
		CollectedAt:     e.CollectedAt,
		CollectionDate:  e.CollectionDate,
		CollectionID:    e.CollectionID,
		VerifiedAt:      e.VerifiedAt,
		Notes:           e.Notes,
		Metadata:        e.Metadata.Data(),
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toPaymentModels(entities []*PaymentTransactionEntity) []*model.PaymentTransaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.PaymentTransaction, len(entities))
	for i, e := range entities {
		models[i] = toPaymentModel(e)
	}
	return models
}

// money normalises values read back from drivers that store NUMERIC as floating point.
func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func nullMoney(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal.Round(2)
}

func nullMoneyPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.Round(2)
	return &v
}
