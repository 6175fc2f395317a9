package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

type countingRunner struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
}

func (c *countingRunner) RunCycle(ctx context.Context) (domain.CycleResult, error) {
	c.calls.Add(1)
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return domain.CycleResult{ID: "x"}, ctx.Err()
		}
	}
	return domain.CycleResult{ID: "x", Resolved: 2}, nil
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"*/5 * * * *", "0 */10 * * * *", "@every 30s", "@hourly"} {
		_, err := ParseSchedule(spec)
		assert.NoError(t, err, spec)
	}
	_, err := ParseSchedule("every five minutes")
	assert.Error(t, err)

	_, err = NewScheduler(&countingRunner{}, "bogus", nil)
	assert.Error(t, err)
}

func TestScheduler_TriggerRecordsLastResult(t *testing.T) {
	s, err := NewScheduler(&countingRunner{}, "*/5 * * * *", nil)
	require.NoError(t, err)

	_, ok := s.LastResult()
	assert.False(t, ok)

	res, err := s.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Found 2 markets to resolve", res.Summary())

	last, ok := s.LastResult()
	require.True(t, ok)
	assert.Equal(t, "x", last.ID)
}

func TestScheduler_NoOverlappingCycles(t *testing.T) {
	runner := &countingRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s, err := NewScheduler(runner, "*/5 * * * *", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Trigger(context.Background())
	}()
	<-runner.started

	assert.True(t, s.Running())
	_, err = s.Trigger(context.Background())
	assert.ErrorIs(t, err, domain.ErrCycleInProgress)

	close(runner.block)
	wg.Wait()
	assert.False(t, s.Running())
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestScheduler_CycleTimeout(t *testing.T) {
	runner := &countingRunner{block: make(chan struct{})}
	s, err := NewScheduler(runner, "*/5 * * * *", nil, WithCycleTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = s.Trigger(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_LockHeldElsewhere(t *testing.T) {
	runner := &countingRunner{}
	s, err := NewScheduler(runner, "*/5 * * * *", nil, WithLock(heldLock{}))
	require.NoError(t, err)

	_, err = s.Trigger(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, runner.calls.Load())
}

type recordingLock struct {
	key      string
	ttl      time.Duration
	released bool
}

func (l *recordingLock) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.key, l.ttl = key, ttl
	return func() { l.released = true }, nil
}

func TestScheduler_LockTTL(t *testing.T) {
	tests := []struct {
		name string
		opts []SchedulerOption
		want time.Duration
	}{
		{"explicit ttl", []SchedulerOption{WithCycleTimeout(time.Minute), WithLockTTL(3 * time.Minute)}, 3 * time.Minute},
		{"falls back to cycle timeout", []SchedulerOption{WithCycleTimeout(time.Minute)}, time.Minute},
		{"default", nil, 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lock := &recordingLock{}
			opts := append([]SchedulerOption{WithLock(lock)}, tt.opts...)
			s, err := NewScheduler(&countingRunner{}, "*/5 * * * *", nil, opts...)
			require.NoError(t, err)

			_, err = s.Trigger(context.Background())
			require.NoError(t, err)
			assert.Equal(t, cycleLockKey, lock.key)
			assert.Equal(t, tt.want, lock.ttl)
			assert.True(t, lock.released)
		})
	}
}

func TestScheduler_RunFiresOnSchedule(t *testing.T) {
	runner := &countingRunner{}
	s, err := NewScheduler(runner, "* * * * * *", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.GreaterOrEqual(t, runner.calls.Load(), int32(1))
}

type memBlob struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[path] = b
	return nil
}

func TestCycleArchiver(t *testing.T) {
	blob := &memBlob{}
	a := NewCycleArchiver(blob, "")

	c := domain.CycleResult{
		ID:        "c1",
		ChainName: testChain,
		StartedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Resolved:  1,
		Outcomes: []domain.MarketOutcome{
			{MarketID: 0, Kind: domain.OutcomeResolved, Value: 12, TxHash: "0xabc"},
		},
	}
	require.NoError(t, a.Archive(context.Background(), c))

	raw, ok := blob.files["cycles/2026/03/04/c1.json"]
	require.True(t, ok)

	var doc struct {
		Summary  string        `json:"summary"`
		Outcomes []MarketEvent `json:"outcomes"`
	}
	require.NoError(t, json.NewDecoder(bytes.NewReader(raw)).Decode(&doc))
	assert.Equal(t, "Found 1 markets to resolve", doc.Summary)
	require.Len(t, doc.Outcomes, 1)
	assert.Equal(t, "0xabc", doc.Outcomes[0].TxHash)
}
