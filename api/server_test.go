package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-analytics/engine"
	"twitch-chat-analytics/export"
	"twitch-chat-analytics/model"
	"twitch-chat-analytics/moderation"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	rules, err := moderation.DefaultRuleset().Compile()
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	log := logrus.NewEntry(logger)
	eng := engine.New(engine.Config{}, rules, log)
	eng.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return NewServer(eng, log), eng
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPostMessage(t *testing.T) {
	s, eng := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/messages?wait=true", `{"user_id":"u1","timestamp":"2024-05-01T18:00:00Z","display_name":"Viewer","text":"great stream!"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	msg := decode[model.ChatMessage](t, rec)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "Viewer", msg.Author)
	assert.NotZero(t, msg.Seq)
	assert.False(t, msg.Timestamp.IsZero())

	rec = do(t, s, http.MethodPost, "/api/messages", `{"user_id":"u2","timestamp":"2024-05-01T18:00:00Z","text":"hi"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return eng.GetSnapshot().Lifetime.Total == 2 }, time.Second, 5*time.Millisecond)

	rec = do(t, s, http.MethodGet, "/api/analytics/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[messageStatsResponse](t, rec)
	assert.Equal(t, int64(2), stats.Lifetime.Total)

	rec = do(t, s, http.MethodGet, "/api/analytics/users/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[model.UserStats](t, rec).MessageCount)

	rec = do(t, s, http.MethodGet, "/api/analytics/users/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/analytics/recent-messages?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ChatMessage](t, rec), 1)
}

func TestPostMessageRejectsInvalid(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/messages", `{"text":"no user"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "validation")

	rec = do(t, s, http.MethodPost, "/api/messages", `{"user_id":"u1","text":"no timestamp"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "Timestamp")

	rec = do(t, s, http.MethodPost, "/api/messages?wait=true", `{"user_id":"u1","text":"no timestamp"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/messages", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsAndContributors(t *testing.T) {
	s, eng := newTestServer(t)

	for _, body := range []string{
		`{"event_type":"cheer","user":"A","payload":{"bits":500}}`,
		`{"event_type":"cheer","user":"B","payload":{"bits":100}}`,
		`{"event_type":"subscription","user":"B","payload":{"tier":1}}`,
	} {
		rec := do(t, s, http.MethodPost, "/api/events", body)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		assert.Empty(t, decode[acceptedResponse](t, rec).Warning)
	}

	rec := do(t, s, http.MethodPost, "/api/events", `{"event_type":"poll_started","user":"host","payload":{"title":"map?"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, decode[acceptedResponse](t, rec).Warning, "unknown event type")

	rec = do(t, s, http.MethodPost, "/api/events", `{"user":"nobody"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Eventually(t, func() bool { return eng.GetStreamStats().TotalEvents == 4 }, time.Second, 5*time.Millisecond)

	rec = do(t, s, http.MethodGet, "/api/analytics/contributors?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	top := decode[[]model.Ranked](t, rec)
	require.Len(t, top, 1)
	assert.Equal(t, "B", top[0].UserID)

	rec = do(t, s, http.MethodGet, "/api/analytics/contributors?by=cheerers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cheerers := decode[[]model.Ranked](t, rec)
	require.NotEmpty(t, cheerers)
	assert.Equal(t, "A", cheerers[0].UserID)

	rec = do(t, s, http.MethodGet, "/api/analytics/contributors?by=lurkers", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/analytics/contributors?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/analytics/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(600), decode[model.StreamStats](t, rec).TotalBits)

	rec = do(t, s, http.MethodGet, "/api/analytics/recent-events?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]json.RawMessage](t, rec), 2)

	rec = do(t, s, http.MethodGet, "/api/analytics/recent-events?type=cheer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]json.RawMessage](t, rec), 2)
}

func TestEventSubEndpoint(t *testing.T) {
	s, eng := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/twitch/eventsub", `{"metadata":{"message_type":"session_keepalive"},"payload":{}}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/twitch/eventsub", `{
		"subscription": {"type": "channel.follow"},
		"event": {"user_name": "NewFan"}
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/twitch/eventsub", `{
		"subscription": {"type": "channel.chat.message"},
		"event": {"chatter_user_id": "42", "chatter_user_name": "Chatter", "message": {"text": "hey"}}
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/twitch/eventsub", `{"event": {}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Eventually(t, func() bool {
		return eng.GetStreamStats().Followers == 1 && eng.GetSnapshot().Lifetime.Total == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSessionEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodDelete, "/api/sessions/current", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	started := decode[sessionResponse](t, rec)
	require.NotEmpty(t, started.ID)
	assert.Empty(t, started.Warning)

	rec = do(t, s, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[sessionResponse](t, rec)
	assert.Equal(t, started.ID, again.ID)
	assert.NotEmpty(t, again.Warning)

	rec = do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, started.ID, decode[healthStatus](t, rec).Session)

	rec = do(t, s, http.MethodPost, "/api/messages", `{"user_id":"u1","timestamp":"2024-05-01T18:00:00Z","text":"first"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/events", `{"event_type":"follow","user":"fan"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/sessions/current", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[model.SessionRecord](t, rec)
	assert.Equal(t, started.ID, closed.ID)
	assert.False(t, closed.Open())
	assert.Equal(t, 2, closed.Rows)

	rec = do(t, s, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.SessionRecord](t, rec), 1)

	rec = do(t, s, http.MethodGet, "/api/sessions/"+started.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/sessions/"+started.ID+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	rows, err := export.ReadCSV(rec.Body)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, export.KindMessage, rows[0].Kind)
	assert.Equal(t, export.KindEvent, rows[1].Kind)

	rec = do(t, s, http.MethodGet, "/api/sessions/missing/export", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/sessions/current", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestModerationEndpoints(t *testing.T) {
	s, eng := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/moderation/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[rulesResponse](t, rec)
	assert.Equal(t, moderation.StrictnessModerate, rules.Rules.Strictness)
	assert.Positive(t, rules.Weights.Subscription)

	rec = do(t, s, http.MethodPut, "/api/moderation/strictness", `{"level":"paranoid"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPut, "/api/moderation/strictness", `{"level":"strict"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, moderation.StrictnessStrict, eng.Rules().Strictness)

	rec = do(t, s, http.MethodPost, "/api/moderation/filter", `{"user_id":"x","text":"HELLO EVERYONE IN CHAT"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[filterResponse](t, rec)
	assert.Contains(t, res.Flags, "excessive_caps")
	assert.Positive(t, res.Caps)

	rec = do(t, s, http.MethodPost, "/api/moderation/filter", `{"text":"hi","tier":"emperor"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/moderation/blocklist", `{"user_id":"troll","reason":"spam"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, eng.Blocklist().Contains("troll"))

	rec = do(t, s, http.MethodPost, "/api/moderation/blocklist", `{"reason":"missing id"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/moderation/blocklist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[[]moderation.BlockedUser](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, "spam", listed[0].Reason)

	rec = do(t, s, http.MethodDelete, "/api/moderation/blocklist/troll", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodDelete, "/api/moderation/blocklist/troll", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	do(t, s, http.MethodGet, "/healthz", "")
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat_analytics_http_request_duration_seconds")
}

func TestShutdownRejectsIngest(t *testing.T) {
	s, eng := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, eng.Shutdown(ctx))

	rec := do(t, s, http.MethodPost, "/api/messages", `{"user_id":"late","timestamp":"2024-05-01T18:00:00Z","text":"hello?"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
