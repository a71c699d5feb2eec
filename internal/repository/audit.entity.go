package repository

import (
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/shopspring/decimal"
)

type AuditEventEntity struct {
	ID               int64               `db:"id" gorm:"primaryKey;autoIncrement;column:id"`
	EventID          string              `db:"event_id" gorm:"column:event_id;type:varchar(36);not null;uniqueIndex:ux_audit_events_event_id"`
	Type             string              `db:"type" gorm:"column:type;type:varchar(40);not null;index"`
	AgentID          *int64              `db:"agent_id" gorm:"column:agent_id;index"`
	OrderID          *int64              `db:"order_id" gorm:"column:order_id;index"`
	ReconciliationID *int64              `db:"reconciliation_id" gorm:"column:reconciliation_id"`
	Code             string              `db:"code" gorm:"column:code;type:varchar(60);not null;default:''"`
	Message          string              `db:"message" gorm:"column:message;type:text;not null;default:''"`
	Amount           decimal.NullDecimal `db:"amount" gorm:"column:amount;type:numeric(12,2)"`
	Origin           string              `db:"origin" gorm:"column:origin;type:varchar(64);not null;default:''"`
	OccurredAt       time.Time           `db:"occurred_at" gorm:"column:occurred_at;not null;index"`
	RecordedAt       time.Time           `db:"recorded_at" gorm:"column:recorded_at;autoCreateTime"`
}

func (AuditEventEntity) TableName() string {
	return "audit_events"
}

func toAuditEntity(m *model.AuditEvent) *AuditEventEntity {
	if m == nil {
		return nil
	}
	e := &AuditEventEntity{
		EventID:          m.EventID,
		Type:             string(m.Type),
		AgentID:          m.AgentID,
		OrderID:          m.OrderID,
		ReconciliationID: m.ReconciliationID,
		Code:             m.Code,
		Message:          m.Message,
		Origin:           m.Origin,
		OccurredAt:       m.OccurredAt,
	}
	if m.Amount != nil {
		e.Amount = decimal.NewNullDecimal(*m.Amount)
	}
	return e
}

func toAuditModel(e *AuditEventEntity) *model.AuditEvent {
	if e == nil {
		return nil
	}
	return &model.AuditEvent{
		ID:               e.ID,
		EventID:          e.EventID,
		Type:             model.AuditType(e.Type),
		AgentID:          e.AgentID,
		OrderID:          e.OrderID,
		ReconciliationID: e.ReconciliationID,
		Code:             e.Code,
		Message:          e.Message,
		Amount:           nullMoneyPtr(e.Amount),
		Origin:           e.Origin,
		OccurredAt:       e.OccurredAt,
		RecordedAt:       e.RecordedAt,
	}
}
