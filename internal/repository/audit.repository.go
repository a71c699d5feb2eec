package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrDuplicateAuditEvent = errors.New("audit event already recorded")
)

// AuditRepository only ever inserts; audit rows are never updated or deleted.
type AuditRepository struct {
	*pg.DB
}

func NewAuditRepository(db *pg.DB) *AuditRepository {
	return &AuditRepository{
		db,
	}
}

func (r *AuditRepository) Append(ctx context.Context, event *model.AuditEvent) (*model.AuditEvent, error) {
	entity := toAuditEntity(event)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateAuditEvent
		}
		return nil, err
	}
	return toAuditModel(entity), nil
}

type AuditFilter struct {
	AgentID *int64
	OrderID *int64
	Type    *model.AuditType
	Limit   int
}

func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]*model.AuditEvent, error) {
	query := r.Read(ctx).Model(&AuditEventEntity{})
	if filter.AgentID != nil {
		query = query.Where("agent_id = ?", *filter.AgentID)
	}
	if filter.OrderID != nil {
		query = query.Where("order_id = ?", *filter.OrderID)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", string(*filter.Type))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entities []*AuditEventEntity
	if err := query.Order("occurred_at ASC, id ASC").Limit(limit).Find(&entities).Error; err != nil {
		return nil, err
	}
	events := make([]*model.AuditEvent, len(entities))
	for i, e := range entities {
		events[i] = toAuditModel(e)
	}
	return events, nil
}
