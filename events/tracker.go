// Package events учитывает платформенные события: счётчики по типам,
// рейтинг контрибьюторов и итоги сессии.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"twitch-chat-analytics/model"
	"twitch-chat-analytics/ranking"
)

type Config struct {
	LogSize         int
	LeaderboardSize int
	ArchiveSize     int
	Weights         Weights
}

func (c Config) withDefaults() Config {
	if c.LogSize <= 0 {
		c.LogSize = 1000
	}
	if c.LeaderboardSize <= 0 {
		c.LeaderboardSize = 10
	}
	if c.ArchiveSize <= 0 {
		c.ArchiveSize = 32
	}
	if c.Weights.SubTierFactor == nil {
		factors := DefaultWeights().SubTierFactor
		if c.Weights.isZero() {
			c.Weights = DefaultWeights()
		}
		c.Weights.SubTierFactor = factors
	}
	return c
}

// Tracker записывает события в ограниченный журнал и ведёт счётчики сессии.
type Tracker struct {
	log *logrus.Entry
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	seq       uint64
	sessionID string
	weights   Weights
	entries   []model.PlatformEvent
	start     int
	stats     *streamCounters
	boards    boards
	archive   map[string]model.StreamStats
	order     []string
}

type boards struct {
	contributors *board
	raiders      *board
	cheerers     *board
	subscribers  *board
}

func NewTracker(cfg Config, log *logrus.Entry) *Tracker {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	t := &Tracker{
		log:     log.WithField("component", "events"),
		cfg:     cfg,
		now:     time.Now,
		weights: cfg.Weights,
		stats:   newStreamCounters(),
		archive: make(map[string]model.StreamStats),
	}
	t.boards = t.newBoards()
	return t
}

func (t *Tracker) newBoards() boards {
	k := t.cfg.LeaderboardSize
	return boards{
		contributors: newBoard(k),
		raiders:      newBoard(k),
		cheerers:     newBoard(k),
		subscribers:  newBoard(k),
	}
}

// SetWeights заменяет веса вклада; уже набранные очки не пересчитываются.
func (t *Tracker) SetWeights(w Weights) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.weights = w
}

// Weights возвращает активные веса.
func (t *Tracker) Weights() Weights {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.weights
}

// Track учитывает событие и возвращает его в том виде, в каком оно записано:
// с порядковым номером (если его не присвоили раньше), временем прибытия
// вместо нулевого времени и заполненным payload. Неизвестный тип учитывается как other.
func (t *Tracker) Track(ev model.PlatformEvent) model.PlatformEvent {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = t.now().UTC()
	}
	if !ev.Type.Valid() {
		ev.Type = model.EventOther
	}
	if ev.Payload == nil {
		ev.Payload, _ = model.DecodePayload(ev.Type, nil)
	}
	if ev.Type == model.EventOther {
		unknownEvents.Inc()
		t.log.WithField("user", ev.User).Debug("event bucketed as other")
	}
	eventsTracked.WithLabelValues(ev.Type.String()).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Seq == 0 {
		t.seq++
		ev.Seq = t.seq
	}
	t.append(ev)
	t.stats.add(ev)

	user := ev.User
	if user == "" {
		return ev
	}
	t.boards.contributors.add(user, t.weights.Contribution(ev), ev.Timestamp)
	switch p := ev.Payload.(type) {
	case model.Raid:
		t.boards.raiders.add(user, float64(p.ViewerCount), ev.Timestamp)
	case model.Cheer:
		t.boards.cheerers.add(user, float64(p.Bits), ev.Timestamp)
	case model.Subscription:
		t.boards.subscribers.add(user, ev.Value(), ev.Timestamp)
	}
	return ev
}

func (t *Tracker) append(ev model.PlatformEvent) {
	if len(t.entries) < t.cfg.LogSize {
		t.entries = append(t.entries, ev)
		return
	}
	t.entries[t.start] = ev
	t.start = (t.start + 1) % len(t.entries)
	eventLogEvicted.Inc()
}

// StreamStats возвращает счётчики текущей сессии.
func (t *Tracker) StreamStats() model.StreamStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

func (t *Tracker) statsLocked() model.StreamStats {
	out := t.stats.export()
	out.SessionID = t.sessionID
	out.UniqueContributors = t.boards.contributors.size()
	return out
}

// TopContributors возвращает до n пользователей по суммарному вкладу.
// При равенстве раньше идёт тот, чей первый вклад был раньше. n <= 0
// означает размер рейтинга; n больше него ранжирует всех контрибьюторов сессии.
func (t *Tracker) TopContributors(n int) []model.Ranked {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.boards.contributors.rank(n)
}

// TopRaiders возвращает рейтинг по суммарному числу зрителей рейдов.
func (t *Tracker) TopRaiders(n int) []model.Ranked {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.boards.raiders.rank(n)
}

// TopCheerers возвращает рейтинг по сумме bits.
func (t *Tracker) TopCheerers(n int) []model.Ranked {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.boards.cheerers.rank(n)
}

// TopSubscribers возвращает рейтинг по числу подписок, включая подаренные.
func (t *Tracker) TopSubscribers(n int) []model.Ranked {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.boards.subscribers.rank(n)
}

// RecentEvents возвращает до n последних событий, новые первыми.
func (t *Tracker) RecentEvents(n int) []model.PlatformEvent {
	return t.filter(n, func(model.PlatformEvent) bool { return true })
}

// EventsByType возвращает до n последних событий заданного типа, новые первыми.
func (t *Tracker) EventsByType(et model.EventType, n int) []model.PlatformEvent {
	return t.filter(n, func(ev model.PlatformEvent) bool { return ev.Type == et })
}

func (t *Tracker) filter(n int, keep func(model.PlatformEvent) bool) []model.PlatformEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := len(t.entries)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]model.PlatformEvent, 0, n)
	for i := 0; i < size && len(out) < n; i++ {
		ev := t.entries[(t.start+size-1-i)%size]
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Begin помечает начало сессии и очищает счётчики и рейтинги сессии.
// Журнал событий сохраняется.
func (t *Tracker) Begin(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearSessionLocked()
	t.sessionID = sessionID
}

// Reset архивирует итоги сессии и очищает счётчики и рейтинги сессии.
// Журнал событий сохраняется.
func (t *Tracker) Reset(sessionID string) model.StreamStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.statsLocked()
	stats.SessionID = sessionID
	if _, ok := t.archive[sessionID]; !ok {
		t.order = append(t.order, sessionID)
	}
	t.archive[sessionID] = stats
	for len(t.order) > t.cfg.ArchiveSize {
		delete(t.archive, t.order[0])
		t.order = t.order[1:]
	}

	t.clearSessionLocked()

	t.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"events":     stats.TotalEvents,
	}).Info("session events archived")
	return stats
}

func (t *Tracker) clearSessionLocked() {
	t.sessionID = ""
	t.stats = newStreamCounters()
	t.boards = t.newBoards()
}

// Archived возвращает итоги закрытой сессии.
func (t *Tracker) Archived(sessionID string) (model.StreamStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.archive[sessionID]
	return s, ok
}

// board хранит суммы по пользователям и ограниченный top-k поверх них.
type board struct {
	totals map[string]float64
	first  map[string]time.Time
	top    *ranking.TopK
}

func newBoard(k int) *board {
	return &board{
		totals: make(map[string]float64),
		first:  make(map[string]time.Time),
		top:    ranking.New(k),
	}
}

func (b *board) add(user string, delta float64, at time.Time) {
	if delta <= 0 {
		return
	}
	if _, ok := b.first[user]; !ok {
		b.first[user] = at
	}
	b.totals[user] += delta
	b.top.Offer(user, user, b.totals[user], b.first[user])
}

func (b *board) size() int { return len(b.totals) }

// rank отдаёт top-k, пока n в него укладывается; иначе ранжирует все суммы.
func (b *board) rank(n int) []model.Ranked {
	if n <= b.top.Cap() || len(b.totals) <= b.top.Cap() {
		return b.top.Top(n)
	}
	all := make([]model.Ranked, 0, len(b.totals))
	for user, score := range b.totals {
		all = append(all, model.Ranked{UserID: user, Name: user, Score: score, First: b.first[user]})
	}
	ranking.Sort(all)
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// streamCounters хранит изменяемую сторону model.StreamStats.
type streamCounters struct {
	s model.StreamStats
}

func newStreamCounters() *streamCounters {
	return &streamCounters{s: model.StreamStats{Counts: make(map[model.EventType]int64)}}
}

func (c *streamCounters) add(ev model.PlatformEvent) {
	s := &c.s
	s.Counts[ev.Type]++
	s.TotalEvents++

	switch p := ev.Payload.(type) {
	case model.Follow:
		s.Followers++
	case model.Subscription:
		s.NewSubscribers += int64(ev.Value())
	case model.Cheer:
		s.TotalBits += int64(p.Bits)
	case model.Raid:
		s.Raids++
		s.TotalRaidViewers += int64(p.ViewerCount)
	case model.HypeTrain:
		switch ev.Type {
		case model.EventHypeTrainStart:
			s.HypeTrains++
			s.HypeTrainOngoing = true
		case model.EventHypeTrainProgress:
			s.HypeTrainOngoing = true
		case model.EventHypeTrainEnd:
			s.HypeTrainOngoing = false
		}
		if p.Level > 0 {
			s.HypeTrainLevel = p.Level
		}
	case model.Redemption:
		s.Redemptions++
	case model.CharityDonation:
		s.CharityTotal += p.Amount
	case model.Voice:
		if ev.Type == model.EventVoiceJoin {
			s.VoiceParticipants++
		} else if s.VoiceParticipants > 0 {
			s.VoiceParticipants--
		}
	}
}

func (c *streamCounters) export() model.StreamStats {
	out := c.s
	out.Counts = make(map[model.EventType]int64, len(c.s.Counts))
	var best int64
	out.TopEvent = ""
	for _, et := range model.EventTypes {
		n := c.s.Counts[et]
		if n == 0 {
			continue
		}
		out.Counts[et] = n
		if n > best {
			best = n
			out.TopEvent = et.String()
		}
	}
	return out
}
