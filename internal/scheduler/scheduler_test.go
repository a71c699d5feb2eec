package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSweeper struct {
	mu    sync.Mutex
	dates []string
	done  chan struct{}
	want  int
}

func (r *recordingSweeper) Sweep(_ context.Context, date string) (*model.SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dates = append(r.dates, date)
	if len(r.dates) == r.want && r.done != nil {
		close(r.done)
	}
	return &model.SweepResult{Date: date}, nil
}

func TestScheduler_Next(t *testing.T) {
	tehran := time.FixedZone("IRST", 3*3600+30*60)

	s, err := New(&recordingSweeper{}, "23:30", tehran)
	require.NoError(t, err)

	// 19:00 UTC is 22:30 in Tehran, one hour before the sweep
	from := time.Date(2025, 3, 14, 19, 0, 0, 0, time.UTC)
	next := s.Next(from)
	assert.Equal(t, time.Date(2025, 3, 14, 23, 30, 0, 0, tehran), next)

	// exactly at the sweep time the next one is tomorrow
	assert.Equal(t, time.Date(2025, 3, 15, 23, 30, 0, 0, tehran), s.Next(next))
}

func TestScheduler_InvalidTime(t *testing.T) {
	_, err := New(&recordingSweeper{}, "25:99", time.UTC)
	assert.Error(t, err)
}

func TestScheduler_RunForCoversYesterdayAndToday(t *testing.T) {
	sweeper := &recordingSweeper{}
	s, err := New(sweeper, "00:10", time.UTC)
	require.NoError(t, err)

	s.RunFor(context.Background(), time.Date(2025, 3, 1, 0, 10, 0, 0, time.UTC))
	assert.Equal(t, []string{"2025-02-28", "2025-03-01"}, sweeper.dates)
}

func TestScheduler_Run(t *testing.T) {
	sweeper := &recordingSweeper{done: make(chan struct{}), want: 2}
	s, err := New(sweeper, "23:30", time.UTC)
	require.NoError(t, err)

	clock := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	var waited time.Duration
	var fired bool
	s.now = func() time.Time { return clock }
	s.after = func(d time.Duration) <-chan time.Time {
		if fired {
			// later days never arrive
			return nil
		}
		fired = true
		waited = d
		ch := make(chan time.Time, 1)
		ch <- clock.Add(d)
		return ch
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-sweeper.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	assert.Equal(t, []string{"2025-03-13", "2025-03-14"}, sweeper.dates)
	assert.Equal(t, 14*time.Hour+30*time.Minute, waited)
}
