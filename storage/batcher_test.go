package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-analytics/model"
)

type stubSender struct {
	mu      sync.Mutex
	batches [][]*pgx.QueuedQuery
	block   chan struct{}
}

type stubBatchResults struct{}

func (s *stubSender) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	copyQueries := append([]*pgx.QueuedQuery(nil), b.QueuedQueries...)
	s.batches = append(s.batches, copyQueries)
	return &stubBatchResults{}
}

func (s *stubSender) snapshot() [][]*pgx.QueuedQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]*pgx.QueuedQuery(nil), s.batches...)
}

func (s *stubBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, nil }
func (s *stubBatchResults) Query() (pgx.Rows, error)         { return nil, nil }
func (s *stubBatchResults) QueryRow() pgx.Row                { return nil }
func (s *stubBatchResults) Close() error                     { return nil }

func testLog() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func testMessage(seq uint64) model.ChatMessage {
	return model.ChatMessage{
		Seq: seq, ID: "m", Channel: "ch", UserID: "u", Author: "disp", Content: "hi",
		Tier: model.TierSubscriber1, Flags: model.FlagRepetition, Timestamp: time.Now(),
	}
}

func TestBatcherFlushesOnMaxBatch(t *testing.T) {
	sender := &stubSender{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batcher := newBatcher(ctx, sender, BatchConfig{
		MaxBatch:      2,
		FlushEvery:    time.Hour,
		ChanBuffer:    10,
		StatsLogEvery: time.Hour,
		FlushTimeout:  time.Second,
	}, testLog())

	assert.True(t, batcher.EnqueueMessage(testMessage(1)))
	assert.True(t, batcher.EnqueueEvent(model.PlatformEvent{
		Seq: 2, Type: model.EventCheer, User: "c", Timestamp: time.Now(), Payload: model.Cheer{Bits: 100},
	}))

	waitForBatches(t, sender, 1)
	batch := sender.snapshot()[0]
	require.Len(t, batch, 2)
	assert.Contains(t, batch[0].SQL, "insert into chat_messages")
	assert.Equal(t, int64(1), batch[0].Arguments[0])
	assert.Equal(t, "tier1_subscriber", batch[0].Arguments[6])
	assert.Equal(t, []string{"repetition"}, batch[0].Arguments[9])

	assert.Contains(t, batch[1].SQL, "insert into platform_events")
	assert.Equal(t, "cheer", batch[1].Arguments[1])
	assert.Equal(t, 100.0, batch[1].Arguments[3])
	assert.JSONEq(t, `{"bits":100}`, string(batch[1].Arguments[4].([]byte)))
}

func TestBatcherFlushesOnTimer(t *testing.T) {
	sender := &stubSender{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batcher := newBatcher(ctx, sender, BatchConfig{
		MaxBatch:      10,
		FlushEvery:    50 * time.Millisecond,
		ChanBuffer:    10,
		StatsLogEvery: time.Hour,
		FlushTimeout:  time.Second,
	}, testLog())

	batcher.EnqueueMessage(testMessage(2))

	waitForBatches(t, sender, 1)
}

func TestBatcherFlushesOnCancel(t *testing.T) {
	sender := &stubSender{}
	ctx, cancel := context.WithCancel(context.Background())

	batcher := newBatcher(ctx, sender, BatchConfig{
		MaxBatch:      100,
		FlushEvery:    time.Hour,
		ChanBuffer:    10,
		StatsLogEvery: time.Hour,
		FlushTimeout:  time.Second,
	}, testLog())

	for i := uint64(1); i <= 3; i++ {
		batcher.EnqueueMessage(testMessage(i))
	}
	cancel()

	select {
	case <-batcher.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("batcher did not stop")
	}
	total := 0
	for _, b := range sender.snapshot() {
		total += len(b)
	}
	assert.Equal(t, 3, total)
}

func TestBatcherDropsWhenFull(t *testing.T) {
	sender := &stubSender{block: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		close(sender.block)
		cancel()
	}()

	batcher := newBatcher(ctx, sender, BatchConfig{
		MaxBatch:      1,
		FlushEvery:    time.Hour,
		ChanBuffer:    1,
		StatsLogEvery: time.Hour,
		FlushTimeout:  time.Second,
	}, testLog())

	// первое сообщение застревает во флаше, второе занимает буфер
	accepted := 0
	for i := uint64(1); i <= 10; i++ {
		if batcher.EnqueueMessage(testMessage(i)) {
			accepted++
		}
	}
	assert.LessOrEqual(t, accepted, 3)
	assert.Equal(t, uint64(10-accepted), batcher.Dropped())
}

type stubExec struct {
	sql  string
	args []any
	err  error
}

func (s *stubExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.sql, s.args = sql, args
	return pgconn.CommandTag{}, s.err
}

func TestSaveSession(t *testing.T) {
	db := &stubExec{}
	start := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	rec := model.SessionRecord{
		ID:        "s1",
		StartedAt: start,
		EndedAt:   start.Add(time.Hour),
		Messages:  model.AnalyticsSnapshot{SessionID: "s1", Session: model.MessageCounters{Total: 7}},
		Rows:      9,
	}

	require.NoError(t, SaveSession(context.Background(), db, rec, time.Second))
	assert.Contains(t, db.sql, "insert into analytics_sessions")
	assert.Equal(t, "s1", db.args[0])
	ended, ok := db.args[2].(*time.Time)
	require.True(t, ok)
	assert.True(t, ended.Equal(rec.EndedAt))
	assert.Contains(t, string(db.args[3].([]byte)), `"total":7`)
	assert.Equal(t, 9, db.args[5])

	db.err = errors.New("connection refused")
	err := SaveSession(context.Background(), db, rec, time.Second)
	assert.ErrorIs(t, err, db.err)
}

func TestEnsureSchema(t *testing.T) {
	db := &stubExec{}
	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.Contains(t, db.sql, "create table if not exists analytics_sessions")
	assert.Empty(t, db.args)
}

func waitForBatches(t *testing.T, sender *stubSender, expected int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(sender.snapshot()) >= expected
	}, 2*time.Second, 10*time.Millisecond, "expected at least %d batches", expected)
}
