package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRepository_Append(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	agent := int64(7)
	order := int64(100)
	amount := d("20.00")
	event := &model.AuditEvent{
		EventID:    "6f1d3b7a-1111-4c2d-8e9f-000000000001",
		Type:       model.AuditCollectionSucceeded,
		AgentID:    &agent,
		OrderID:    &order,
		Amount:     &amount,
		Origin:     "10.0.0.9",
		OccurredAt: time.Now().UTC(),
	}

	stored, err := repo.Append(ctx, event)
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)

	_, err = repo.Append(ctx, event)
	assert.ErrorIs(t, err, ErrDuplicateAuditEvent)

	other := *event
	other.EventID = "6f1d3b7a-1111-4c2d-8e9f-000000000002"
	other.Type = model.AuditRateLimited
	other.Amount = nil
	_, err = repo.Append(ctx, &other)
	require.NoError(t, err)

	all, err := repo.List(ctx, AuditFilter{OrderID: &order})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	typ := model.AuditRateLimited
	limited, err := repo.List(ctx, AuditFilter{AgentID: &agent, Type: &typ})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Nil(t, limited[0].Amount)
}
