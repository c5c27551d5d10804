package bus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-analytics/export"
	"twitch-chat-analytics/model"
)

func newTestBus(t *testing.T) (*Bus, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	b := New(logrus.NewEntry(logger))
	t.Cleanup(func() { _ = b.Close() })
	return b, hook
}

func closedSession() (model.SessionRecord, []export.Row) {
	start := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	rec := model.SessionRecord{
		ID:        "s-1",
		StartedAt: start,
		EndedAt:   start.Add(time.Hour),
		Messages: model.AnalyticsSnapshot{
			SessionID: "s-1",
			Session: model.MessageCounters{
				Total:     2,
				Sentiment: map[model.Sentiment]int64{model.SentimentPositive: 2},
			},
		},
		Events: model.StreamStats{
			SessionID: "s-1",
			Counts:    map[model.EventType]int64{model.EventCheer: 1},
		},
		Rows: 2,
	}
	rows := []export.Row{
		{Seq: 1, Timestamp: start, Kind: export.KindMessage, Type: export.TypeChatMessage, User: "a", UserID: "a", Text: "hi"},
		{Seq: 2, Timestamp: start.Add(time.Second), Kind: export.KindEvent, Type: "cheer", User: "b", UserID: "b", Value: 100},
	}
	return rec, rows
}

func TestSessionClosedDeliveredToEverySubscriber(t *testing.T) {
	b, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan SessionClosed, 1)
	second := make(chan SessionClosed, 1)
	require.NoError(t, b.Subscribe(ctx, "first", func(_ context.Context, ev SessionClosed) error {
		first <- ev
		return nil
	}))
	require.NoError(t, b.Subscribe(ctx, "second", func(_ context.Context, ev SessionClosed) error {
		second <- ev
		return nil
	}))

	rec, rows := closedSession()
	require.NoError(t, b.SessionClosed(rec, rows))

	for _, ch := range []chan SessionClosed{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, rec.ID, ev.Record.ID)
			assert.True(t, rec.StartedAt.Equal(ev.Record.StartedAt))
			assert.Equal(t, int64(2), ev.Record.Messages.Session.Sentiment[model.SentimentPositive])
			assert.Equal(t, int64(1), ev.Record.Events.Counts[model.EventCheer])
			require.Len(t, ev.Rows, 2)
			assert.Equal(t, "cheer", ev.Rows[1].Type)
		case <-time.After(2 * time.Second):
			t.Fatal("session was not delivered")
		}
	}
}

func TestHandlerErrorIsLoggedAndAcked(t *testing.T) {
	b, hook := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 4)
	require.NoError(t, b.Subscribe(ctx, "failing", func(context.Context, SessionClosed) error {
		calls <- struct{}{}
		return errors.New("disk full")
	}))

	rec, rows := closedSession()
	require.NoError(t, b.SessionClosed(rec, rows))

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "session handler failed" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	// без повторной доставки
	select {
	case <-calls:
		t.Fatal("message was redelivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWriteCSVHandler(t *testing.T) {
	dir := t.TempDir()
	logger, _ := test.NewNullLogger()
	h := WriteCSV(dir, logrus.NewEntry(logger))

	rec, rows := closedSession()
	require.NoError(t, h(context.Background(), SessionClosed{Record: rec, Rows: rows}))

	f, err := os.Open(filepath.Join(dir, "session-s-1.csv"))
	require.NoError(t, err)
	defer f.Close()
	got, err := export.ReadCSV(f)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Text)
}
