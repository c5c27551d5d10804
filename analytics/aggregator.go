// Package analytics сворачивает классифицированные сообщения в скользящую статистику.
package analytics

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"twitch-chat-analytics/model"
	"twitch-chat-analytics/ranking"
)

// Config задаёт ёмкости и окно хранения агрегатора.
type Config struct {
	LeaderboardSize int
	RecentWindow    int
	ArchiveSize     int
	Retention       time.Duration
	HistorySize     int
	BotUserIDs      []string
}

func (c Config) withDefaults() Config {
	if c.LeaderboardSize <= 0 {
		c.LeaderboardSize = 10
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = 200
	}
	if c.ArchiveSize <= 0 {
		c.ArchiveSize = 32
	}
	if c.Retention <= 0 {
		c.Retention = 12 * time.Hour
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 5
	}
	return c
}

// Aggregator хранит профили пользователей и счётчики сессии и всего времени.
// Профили живут в xsync.MapOf и не требуют общей блокировки; глобальные
// счётчики защищены коротким mu, который не держится дольше обновления рейтинга.
type Aggregator struct {
	log  *logrus.Entry
	cfg  Config
	bots map[string]bool
	now  func() time.Time

	profiles *xsync.MapOf[string, *Profile]

	mu              sync.Mutex
	sessionID       string
	updatedAt       time.Time
	session         *counters
	lifetime        *counters
	leaderboard     *ranking.TopK
	chatCounts      map[string]int64
	chatFirst       map[string]time.Time
	recent          []model.ChatMessage
	recentStart     int
	pendingBotAt    time.Time
	responseTotal   time.Duration
	responseSamples int64
	archive         map[string]model.AnalyticsSnapshot
	archiveOrder    []string
}

func NewAggregator(cfg Config, log *logrus.Entry) *Aggregator {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	bots := make(map[string]bool, len(cfg.BotUserIDs))
	for _, id := range cfg.BotUserIDs {
		bots[id] = true
	}
	return &Aggregator{
		log:         log.WithField("component", "analytics"),
		cfg:         cfg,
		bots:        bots,
		now:         time.Now,
		profiles:    xsync.NewMapOf[string, *Profile](),
		session:     newCounters(),
		lifetime:    newCounters(),
		leaderboard: ranking.New(cfg.LeaderboardSize),
		chatCounts:  make(map[string]int64),
		chatFirst:   make(map[string]time.Time),
		archive:     make(map[string]model.AnalyticsSnapshot),
	}
}

// IsBot сообщает, принадлежит ли userID боту канала.
func (a *Aggregator) IsBot(userID string) bool { return a.bots[userID] }

// Acquire возвращает профиль пользователя, создавая его при первом обращении,
// и закрепляет его до Release: закреплённый профиль не удаляется очисткой.
func (a *Aggregator) Acquire(userID string) *Profile {
	now := a.now()
	p, _ := a.profiles.Compute(userID, func(old *Profile, loaded bool) (*Profile, bool) {
		if !loaded {
			old = newProfile(userID, a.cfg.HistorySize)
			old.touch(now)
		}
		old.inflight++
		return old, false
	})
	profilesTracked.Set(float64(a.profiles.Size()))
	return p
}

// Release снимает закрепление, поставленное Acquire.
func (a *Aggregator) Release(userID string) {
	a.profiles.Compute(userID, func(old *Profile, loaded bool) (*Profile, bool) {
		if !loaded {
			return old, true
		}
		if old.inflight > 0 {
			old.inflight--
		}
		return old, false
	})
}

// Ingest учитывает классифицированное сообщение. Воркер шарда закрепляет
// профиль через Acquire до оценки сообщения.
func (a *Aggregator) Ingest(msg model.ChatMessage) {
	now := a.now()
	if p, ok := a.profiles.Load(msg.UserID); ok {
		p.record(msg, now)
	} else {
		a.Acquire(msg.UserID).record(msg, now)
		a.Release(msg.UserID)
	}

	blocked := msg.Blocked()
	result := "clean"
	if blocked {
		result = "blocked"
	}
	messagesAggregated.WithLabelValues(result).Inc()
	for _, name := range msg.Flags.Names() {
		moderationFlags.WithLabelValues(name).Inc()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.updatedAt = now
	a.session.add(msg)
	a.lifetime.add(msg)
	a.pushRecent(msg)

	if a.bots[msg.UserID] || msg.FromBot {
		a.pendingBotAt = msg.Timestamp
		return
	}
	if !a.pendingBotAt.IsZero() && !msg.Timestamp.Before(a.pendingBotAt) {
		a.responseTotal += msg.Timestamp.Sub(a.pendingBotAt)
		a.responseSamples++
		a.pendingBotAt = time.Time{}
	}

	if blocked {
		return
	}
	a.chatCounts[msg.UserID]++
	if _, ok := a.chatFirst[msg.UserID]; !ok {
		a.chatFirst[msg.UserID] = msg.Timestamp
	}
	a.leaderboard.Offer(msg.UserID, msg.Author, float64(a.chatCounts[msg.UserID]), a.chatFirst[msg.UserID])
}

func (a *Aggregator) pushRecent(msg model.ChatMessage) {
	if len(a.recent) < a.cfg.RecentWindow {
		a.recent = append(a.recent, msg)
		return
	}
	a.recent[a.recentStart] = msg
	a.recentStart = (a.recentStart + 1) % len(a.recent)
}

// Snapshot возвращает неизменяемый срез. Два вызова без Ingest между ними равны.
func (a *Aggregator) Snapshot() model.AnalyticsSnapshot {
	known := a.profiles.Size()

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(known)
}

func (a *Aggregator) snapshotLocked(known int) model.AnalyticsSnapshot {
	snap := model.AnalyticsSnapshot{
		SessionID:       a.sessionID,
		AsOf:            a.updatedAt,
		Session:         a.session.export(),
		Lifetime:        a.lifetime.export(),
		TopChatters:     a.leaderboard.Top(0),
		ResponseSamples: a.responseSamples,
		KnownUsers:      known,
	}
	if a.responseSamples > 0 {
		snap.AvgResponseTime = a.responseTotal / time.Duration(a.responseSamples)
	}
	return snap
}

// Recent возвращает до n последних сообщений, новые первыми.
func (a *Aggregator) Recent(n int) []model.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := len(a.recent)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]model.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		idx := (a.recentStart + size - 1 - i) % size
		out = append(out, a.recent[idx])
	}
	return out
}

// Begin помечает начало сессии и очищает счётчики сессии: всё, что пришло
// после прошлого Reset, остаётся только в счётчиках всего времени.
// Последующие снимки несут идентификатор сессии.
func (a *Aggregator) Begin(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearSessionLocked()
	a.sessionID = sessionID
}

// Reset архивирует снимок под sessionID и очищает счётчики сессии.
// Счётчики всего времени и профили сохраняются. Снимок и очистка атомарны
// относительно Ingest.
func (a *Aggregator) Reset(sessionID string) model.AnalyticsSnapshot {
	known := a.profiles.Size()

	a.mu.Lock()
	defer a.mu.Unlock()

	snap := a.snapshotLocked(known)
	snap.SessionID = sessionID

	if _, ok := a.archive[sessionID]; !ok {
		a.archiveOrder = append(a.archiveOrder, sessionID)
	}
	a.archive[sessionID] = snap
	for len(a.archiveOrder) > a.cfg.ArchiveSize {
		delete(a.archive, a.archiveOrder[0])
		a.archiveOrder = a.archiveOrder[1:]
	}

	a.clearSessionLocked()

	a.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"messages":   snap.Session.Total,
		"blocked":    snap.Session.Blocked,
	}).Info("session analytics archived")
	return snap
}

func (a *Aggregator) clearSessionLocked() {
	a.sessionID = ""
	a.updatedAt = a.now()
	a.session = newCounters()
	a.leaderboard.Reset()
	a.chatCounts = make(map[string]int64)
	a.chatFirst = make(map[string]time.Time)
	a.pendingBotAt = time.Time{}
	a.responseTotal = 0
	a.responseSamples = 0
}

// Archived возвращает снимок закрытой сессии.
func (a *Aggregator) Archived(sessionID string) (model.AnalyticsSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, ok := a.archive[sessionID]
	return snap, ok
}

// UserStats возвращает проекцию профиля пользователя.
func (a *Aggregator) UserStats(userID string) (model.UserStats, bool) {
	p, ok := a.profiles.Load(userID)
	if !ok {
		return model.UserStats{}, false
	}
	return p.stats(), true
}

// Sweep удаляет профили, неактивные дольше окна хранения. Профиль с сообщением
// в обработке не удаляется. Проход по карте не берёт mu профилей; Compute
// вызывается только для кандидатов на удаление. Возвращает число удалённых профилей.
func (a *Aggregator) Sweep(now time.Time) int {
	cutoff := now.Add(-a.cfg.Retention)

	var idle []string
	a.profiles.Range(func(userID string, p *Profile) bool {
		if p.idleSince().Before(cutoff) {
			idle = append(idle, userID)
		}
		return true
	})

	removed := 0
	for _, userID := range idle {
		a.profiles.Compute(userID, func(old *Profile, loaded bool) (*Profile, bool) {
			if !loaded {
				return old, true
			}
			if old.inflight > 0 || !old.idleSince().Before(cutoff) {
				return old, false
			}
			removed++
			return old, true
		})
	}

	profilesTracked.Set(float64(a.profiles.Size()))
	if removed > 0 {
		profilesSwept.Add(float64(removed))
		a.log.WithField("removed", removed).Debug("idle profiles swept")
	}
	return removed
}

// counters хранит изменяемую сторону model.MessageCounters.
type counters struct {
	c model.MessageCounters
}

func newCounters() *counters {
	return &counters{c: model.MessageCounters{
		Sentiment:      make(map[model.Sentiment]int64),
		CleanSentiment: make(map[model.Sentiment]int64),
		Tiers:          make(map[model.Tier]int64),
		Flags:          make(map[string]int64),
	}}
}

func (c *counters) add(msg model.ChatMessage) {
	c.c.Total++
	c.c.Sentiment[msg.Sentiment]++
	c.c.Tiers[msg.Tier]++
	for _, name := range msg.Flags.Names() {
		c.c.Flags[name]++
	}
	if msg.Blocked() {
		c.c.Blocked++
	} else {
		c.c.Clean++
		c.c.CleanSentiment[msg.Sentiment]++
	}
	if n := utf8.RuneCountInString(msg.Content); n > c.c.LongestMessage {
		c.c.LongestMessage = n
	}
	if !msg.Timestamp.IsZero() {
		c.c.HourHistogram[msg.Timestamp.UTC().Hour()]++
	}
}

func (c *counters) export() model.MessageCounters {
	out := c.c
	out.Sentiment = copyMap(c.c.Sentiment)
	out.CleanSentiment = copyMap(c.c.CleanSentiment)
	out.Tiers = copyMap(c.c.Tiers)
	out.Flags = copyMap(c.c.Flags)
	return out
}

func copyMap[K comparable](in map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
