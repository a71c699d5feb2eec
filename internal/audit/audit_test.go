package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	args := m.Called(ctx, data, metadata)
	return args.String(0), args.Error(1)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Append(ctx context.Context, event *model.AuditEvent) (*model.AuditEvent, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AuditEvent), args.Error(1)
}

func fixedRecorder(p Publisher, s Store) *Recorder {
	r := NewRecorder(p, s, nil)
	r.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	return r
}

func TestRecorder_PublishesToStream(t *testing.T) {
	pub := new(MockPublisher)
	store := new(MockStore)
	pub.On("PublishJSON", mock.Anything, mock.MatchedBy(func(e *model.AuditEvent) bool {
		return e.Type == model.AuditCollectionSucceeded && e.EventID != "" && !e.OccurredAt.IsZero()
	}), map[string]string{"type": "collection_succeeded"}).Return("1-0", nil)

	fixedRecorder(pub, store).Record(context.Background(), ForOrder(model.AuditCollectionSucceeded, 7, 1001))

	pub.AssertExpectations(t)
	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestRecorder_FallsBackToStore(t *testing.T) {
	pub := new(MockPublisher)
	store := new(MockStore)
	pub.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("redis down"))
	store.On("Append", mock.Anything, mock.MatchedBy(func(e *model.AuditEvent) bool {
		return e.Type == model.AuditRateLimited && *e.AgentID == 7 && !e.RecordedAt.IsZero()
	})).Return(&model.AuditEvent{ID: 1}, nil)

	event := ForOrder(model.AuditRateLimited, 7, 1001)
	event.Code = string(model.CodeRateLimited)
	fixedRecorder(pub, store).Record(context.Background(), event)

	pub.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestRecorder_WithoutPublisher(t *testing.T) {
	store := new(MockStore)
	store.On("Append", mock.Anything, mock.Anything).Return(&model.AuditEvent{ID: 1}, nil)

	fixedRecorder(nil, store).Record(context.Background(), ForReconciliation(model.AuditReconciliationSubmitted, 7, 3))

	store.AssertNumberOfCalls(t, "Append", 1)
}

func TestRecorder_Persist(t *testing.T) {
	t.Run("duplicate event id is success", func(t *testing.T) {
		store := new(MockStore)
		store.On("Append", mock.Anything, mock.Anything).Return(nil, repository.ErrDuplicateAuditEvent)

		err := fixedRecorder(nil, store).Persist(context.Background(), &model.AuditEvent{EventID: "e1", Type: model.AuditSweepCompleted})
		assert.NoError(t, err)
	})

	t.Run("store failure is returned", func(t *testing.T) {
		store := new(MockStore)
		store.On("Append", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

		err := fixedRecorder(nil, store).Persist(context.Background(), &model.AuditEvent{EventID: "e2"})
		assert.Error(t, err)
	})

	t.Run("no store configured", func(t *testing.T) {
		err := fixedRecorder(nil, nil).Persist(context.Background(), &model.AuditEvent{EventID: "e3"})
		assert.Error(t, err)
	})
}

func TestRecorder_AgainstRepository(t *testing.T) {
	db := repository.NewTestDB(t)
	repo := repository.NewAuditRepository(db)
	rec := fixedRecorder(nil, repo)

	event := ForOrder(model.AuditCollectionFailed, 7, 1001)
	event.EventID = "fixed-id"
	event.Code = string(model.CodeInsufficientPayment)

	rec.Record(context.Background(), event)
	rec.Record(context.Background(), event)

	agent := int64(7)
	events, err := repo.List(context.Background(), repository.AuditFilter{AgentID: &agent})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "insufficient_payment", events[0].Code)
	assert.Equal(t, int64(1001), *events[0].OrderID)
}

func TestEventBuilders(t *testing.T) {
	e := ForOrder(model.AuditCollectionFailed, 0, 5)
	assert.Nil(t, e.AgentID)
	assert.Equal(t, int64(5), *e.OrderID)

	r := ForReconciliation(model.AuditReconciliationReviewed, 7, 0)
	assert.Nil(t, r.ReconciliationID)
	assert.Equal(t, int64(7), *r.AgentID)
}
