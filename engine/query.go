package engine

import (
	"context"
	"errors"
	"time"

	"twitch-chat-analytics/events"
	"twitch-chat-analytics/export"
	"twitch-chat-analytics/model"
	"twitch-chat-analytics/moderation"
	"twitch-chat-analytics/session"
)

// GetSnapshot возвращает неизменяемый срез статистики сообщений.
func (e *Engine) GetSnapshot() model.AnalyticsSnapshot { return e.analytics.Snapshot() }

// GetStreamStats возвращает счётчики событий текущей сессии.
func (e *Engine) GetStreamStats() model.StreamStats { return e.events.StreamStats() }

// GetTopContributors возвращает до n лучших контрибьюторов.
func (e *Engine) GetTopContributors(n int) []model.Ranked { return e.events.TopContributors(n) }

func (e *Engine) TopRaiders(n int) []model.Ranked     { return e.events.TopRaiders(n) }
func (e *Engine) TopCheerers(n int) []model.Ranked    { return e.events.TopCheerers(n) }
func (e *Engine) TopSubscribers(n int) []model.Ranked { return e.events.TopSubscribers(n) }

// RecentEvents возвращает до n последних событий, новые первыми.
func (e *Engine) RecentEvents(n int) []model.PlatformEvent { return e.events.RecentEvents(n) }

// EventsByType возвращает до n последних событий одного типа.
func (e *Engine) EventsByType(t model.EventType, n int) []model.PlatformEvent {
	return e.events.EventsByType(t, n)
}

// RecentMessages возвращает до n последних обработанных сообщений.
func (e *Engine) RecentMessages(n int) []model.ChatMessage { return e.analytics.Recent(n) }

// UserStats возвращает статистику пользователя, если профиль ещё хранится.
func (e *Engine) UserStats(userID string) (model.UserStats, bool) {
	return e.analytics.UserStats(userID)
}

// StartSession открывает сессию и возвращает её идентификатор. Сообщения и
// события, принятые до вызова, обрабатываются раньше открытия и в сессию не
// попадают. Повторный вызов возвращает тот же идентификатор вместе с
// session.ErrSessionAlreadyOpen.
func (e *Engine) StartSession() (string, error) {
	e.gate.Lock()
	defer e.gate.Unlock()

	if _, ok := e.sessions.Current(); !ok && !e.closed {
		if !e.drain(context.Background()) {
			e.log.Warn("session opened before ingest queues drained")
		}
	}
	rec, err := e.sessions.Start()
	return rec.ID, err
}

// EndSession дожидается обработки принятых сообщений и событий, затем
// закрывает сессию. Если очереди не успели опустеть за grace period,
// сессия закрывается с тем, что успело обработаться.
func (e *Engine) EndSession(ctx context.Context) (model.SessionRecord, error) {
	e.gate.Lock()
	defer e.gate.Unlock()

	if _, ok := e.sessions.Current(); !ok {
		return e.sessions.End()
	}

	if !e.closed {
		start := time.Now()
		if !e.drain(ctx) {
			e.log.WithField("waited", time.Since(start).String()).
				Warn("session closed before ingest queues drained")
		}
	}
	return e.sessions.End()
}

// CurrentSession возвращает открытую сессию.
func (e *Engine) CurrentSession() (model.SessionRecord, bool) { return e.sessions.Current() }

// Session возвращает запись сессии.
func (e *Engine) Session(id string) (model.SessionRecord, error) { return e.sessions.Record(id) }

// Sessions возвращает все сессии, которые ещё хранятся в памяти.
func (e *Engine) Sessions() []model.SessionRecord { return e.sessions.Records() }

// ExportSession возвращает строки экспорта сессии в порядке приёма.
func (e *Engine) ExportSession(id string) ([]export.Row, error) { return e.sessions.Rows(id) }

// Rules возвращает копию активных правил модерации.
func (e *Engine) Rules() moderation.Ruleset { return *e.rules.Load() }

// SetStrictness меняет уровень строгости без перезагрузки остальных правил.
func (e *Engine) SetStrictness(level moderation.Strictness) error {
	if err := e.rules.SetStrictness(level); err != nil {
		return err
	}
	e.log.WithField("strictness", level.String()).Info("moderation strictness changed")
	return nil
}

// ApplyRules заменяет правила модерации и веса контрибьюторов.
func (e *Engine) ApplyRules(rules *moderation.Ruleset, weights events.Weights, keepStrictness bool) {
	e.rules.Swap(rules, keepStrictness)
	e.events.SetWeights(weights)
	e.log.WithField("strictness", e.rules.Load().Strictness.String()).Info("moderation rules applied")
}

// ContributorWeights возвращает активные веса контрибьюторов.
func (e *Engine) ContributorWeights() events.Weights { return e.events.Weights() }

// Blocklist возвращает блоклист, которым пользуется модерация.
func (e *Engine) Blocklist() *moderation.Blocklist { return e.blocklist }

// Filter оценивает текст по активным правилам без учёта и без записи в
// историю пользователя.
func (e *Engine) Filter(userID, text string, t model.Tier) moderation.Result {
	return e.scorer.Score(moderation.Input{
		UserID:    userID,
		Text:      text,
		Tier:      t,
		Timestamp: time.Now(),
	}, e.rules.Load(), nil)
}

// IsSoft сообщает, что ошибка является предупреждением, а не отказом.
func IsSoft(err error) bool {
	return errors.Is(err, session.ErrSessionAlreadyOpen) ||
		errors.Is(err, session.ErrNoOpenSession) ||
		errors.Is(err, model.ErrUnknownEventType)
}
