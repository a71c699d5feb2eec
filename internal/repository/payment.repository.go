package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/pkg/pg"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
)

type PaymentRepository struct {
	*pg.DB
}

func NewPaymentRepository(db *pg.DB) *PaymentRepository {
	return &PaymentRepository{
		db,
	}
}

// Register inserts a pending payment unless one already exists for the order. It returns the
// stored row and whether this call created it.
func (r *PaymentRepository) Register(ctx context.Context, p *model.PaymentTransaction) (*model.PaymentTransaction, bool, error) {
	entity := toPaymentEntity(p)
	entity.ID = 0
	entity.Status = string(model.PaymentStatusPending)

	result := r.Write(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(entity)
	if result.Error != nil {
		return nil, false, result.Error
	}

	stored, err := r.getByOrderID(r.Write(ctx), orderIDOf(p))
	if err != nil {
		return nil, false, err
	}
	return stored, result.RowsAffected > 0, nil
}

func orderIDOf(p *model.PaymentTransaction) int64 {
	if p == nil {
		return 0
	}
	return p.OrderID
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID int64) (*model.PaymentTransaction, error) {
	return r.getByOrderID(r.Read(ctx), orderID)
}

func (r *PaymentRepository) getByOrderID(db *gorm.DB, orderID int64) (*model.PaymentTransaction, error) {
	var entity PaymentTransactionEntity
	err := db.Where("order_id = ?", orderID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return toPaymentModel(&entity), nil
}

// MarkCollected claims a pending payment. Only one caller can move a given order out of pending;
// every other caller gets false.
func (r *PaymentRepository) MarkCollected(ctx context.Context, orderID int64, u model.CollectionUpdate) (bool, error) {
	result := r.Write(ctx).
		Model(&PaymentTransactionEntity{}).
		Where("order_id = ? AND status = ?", orderID, string(model.PaymentStatusPending)).
		Updates(map[string]interface{}{
			"status":           string(model.PaymentStatusCollected),
			"agent_id":         u.AgentID,
			"collected_amount": u.CollectedAmount,
			"change_amount":    u.ChangeAmount,
			"collected_at":     u.CollectedAt,
			"collection_date":  u.CollectionDate,
			"collection_id":    u.CollectionID,
			"notes":            u.Notes,
			"metadata":         datatypes.NewJSONType(u.Metadata),
			"updated_at":       u.CollectedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkVerified moves a collected payment to verified.
func (r *PaymentRepository) MarkVerified(ctx context.Context, orderID int64, at time.Time) (bool, error) {
	result := r.Write(ctx).
		Model(&PaymentTransactionEntity{}).
		Where("order_id = ? AND status = ?", orderID, string(model.PaymentStatusCollected)).
		Updates(map[string]interface{}{
			"status":      string(model.PaymentStatusVerified),
			"verified_at": at,
			"updated_at":  at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkReconciled closes every collected or verified payment of one courier day. Running it again
// affects nothing.
func (r *PaymentRepository) MarkReconciled(ctx context.Context, agentID int64, date string, at time.Time) (int64, error) {
	result := r.Write(ctx).
		Model(&PaymentTransactionEntity{}).
		Where("agent_id = ? AND collection_date = ? AND status IN ?", agentID, date,
			[]string{string(model.PaymentStatusCollected), string(model.PaymentStatusVerified)}).
		Updates(map[string]interface{}{
			"status":     string(model.PaymentStatusReconciled),
			"updated_at": at,
		})
	return result.RowsAffected, result.Error
}

// ListCollected returns the settled payments of one courier day ordered by collection time.
func (r *PaymentRepository) ListCollected(ctx context.Context, agentID int64, date string) ([]*model.PaymentTransaction, error) {
	var entities []*PaymentTransactionEntity
	err := r.Read(ctx).
		Where("agent_id = ? AND collection_date = ? AND status IN ?", agentID, date, settledStatuses()).
		Order("collected_at ASC, id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toPaymentModels(entities), nil
}

func settledStatuses() []string {
	return []string{
		string(model.PaymentStatusCollected),
		string(model.PaymentStatusVerified),
		string(model.PaymentStatusReconciled),
	}
}
