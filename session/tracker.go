// Package session ведёт окно трансляции: открытие, журнал строк экспорта и
// закрытие с фиксацией итогов агрегатора и трекера событий.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"twitch-chat-analytics/export"
	"twitch-chat-analytics/model"
)

var (
	// ErrSessionAlreadyOpen является мягким предупреждением и возвращается вместе с открытой сессией.
	ErrSessionAlreadyOpen = errors.New("session already open")
	ErrNoOpenSession      = errors.New("no open session")
	ErrUnknownSession     = errors.New("unknown session")
)

// MessageScope описывает сторону агрегатора сообщений, которую видит трекер сессий.
type MessageScope interface {
	Begin(sessionID string)
	Reset(sessionID string) model.AnalyticsSnapshot
}

// EventScope описывает сторону трекера событий.
type EventScope interface {
	Begin(sessionID string)
	Reset(sessionID string) model.StreamStats
}

// Emitter получает закрытую сессию для экспорта и сохранения.
type Emitter interface {
	SessionClosed(rec model.SessionRecord, rows []export.Row) error
}

type Config struct {
	// JournalLimit ограничивает число строк экспорта одной сессии; при
	// переполнении вытесняются самые старые.
	JournalLimit int
	// KeepRecords задаёт, сколько закрытых сессий хранить в памяти.
	KeepRecords int
}

func (c Config) withDefaults() Config {
	if c.JournalLimit <= 0 {
		c.JournalLimit = 100_000
	}
	if c.KeepRecords <= 0 {
		c.KeepRecords = 32
	}
	return c
}

type entry struct {
	record model.SessionRecord
	rows   []export.Row
}

// Tracker — конечный автомат Closed → Open → Closed. Одновременно открыта
// не больше одной сессии.
type Tracker struct {
	log      *logrus.Entry
	cfg      Config
	messages MessageScope
	events   EventScope
	emitter  Emitter
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	current *entry
	records map[string]*entry
	order   []string
}

func NewTracker(cfg Config, messages MessageScope, events EventScope, emitter Emitter, log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		log:      log.WithField("component", "session"),
		cfg:      cfg.withDefaults(),
		messages: messages,
		events:   events,
		emitter:  emitter,
		now:      time.Now,
		newID:    uuid.NewString,
		records:  make(map[string]*entry),
	}
}

// Start открывает сессию. Если сессия уже открыта, возвращает её вместе с
// ErrSessionAlreadyOpen и ничего не меняет.
func (t *Tracker) Start() (model.SessionRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		t.log.WithField("session_id", t.current.record.ID).Warn("session already open")
		return t.current.record, ErrSessionAlreadyOpen
	}

	rec := model.SessionRecord{ID: t.newID(), StartedAt: t.now().UTC()}
	t.current = &entry{record: rec}
	t.messages.Begin(rec.ID)
	t.events.Begin(rec.ID)
	sessionsOpened.Inc()

	t.log.WithField("session_id", rec.ID).Info("session started")
	return rec, nil
}

// Append добавляет строку в журнал открытой сессии. Без открытой сессии
// строка не сохраняется.
func (t *Tracker) Append(row export.Row) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return false
	}
	cur := t.current
	if len(cur.rows) >= t.cfg.JournalLimit {
		cur.rows = cur.rows[1:]
		cur.record.Truncated++
		journalEvicted.Inc()
	}
	cur.rows = append(cur.rows, row)
	return true
}

// End закрывает сессию: фиксирует итоги, сбрасывает счётчики сессии у
// агрегатора и трекера событий и отдаёт запись эмиттеру.
// Вызывающий отвечает за то, чтобы к этому моменту не было необработанных
// сообщений.
func (t *Tracker) End() (model.SessionRecord, error) {
	t.mu.Lock()
	if t.current == nil {
		t.mu.Unlock()
		t.log.Warn("end requested without open session")
		return model.SessionRecord{}, ErrNoOpenSession
	}

	cur := t.current
	t.current = nil
	id := cur.record.ID

	cur.record.Messages = t.messages.Reset(id)
	cur.record.Events = t.events.Reset(id)
	cur.record.EndedAt = t.now().UTC()
	sortRows(cur.rows)
	cur.record.Rows = len(cur.rows)

	t.records[id] = cur
	t.order = append(t.order, id)
	for len(t.order) > t.cfg.KeepRecords {
		delete(t.records, t.order[0])
		t.order = t.order[1:]
	}
	rec := cur.record
	rows := append([]export.Row(nil), cur.rows...)
	t.mu.Unlock()

	sessionsClosed.Inc()
	t.log.WithFields(logrus.Fields{
		"session_id": id,
		"duration":   rec.Duration(rec.EndedAt).String(),
		"rows":       rec.Rows,
		"truncated":  rec.Truncated,
	}).Info("session ended")

	if t.emitter != nil {
		if err := t.emitter.SessionClosed(rec, rows); err != nil {
			t.log.WithError(err).WithField("session_id", id).Error("emit closed session")
		}
	}
	return rec, nil
}

// Current возвращает открытую сессию.
func (t *Tracker) Current() (model.SessionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return model.SessionRecord{}, false
	}
	return t.current.record, true
}

// Record возвращает запись сессии по идентификатору, открытой или закрытой.
func (t *Tracker) Record(id string) (model.SessionRecord, error) {
	e, err := t.lookup(id)
	if err != nil {
		return model.SessionRecord{}, err
	}
	return e.record, nil
}

// Rows возвращает строки экспорта сессии в порядке приёма.
func (t *Tracker) Rows(id string) ([]export.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	rows := append([]export.Row(nil), e.rows...)
	sortRows(rows)
	return rows, nil
}

// Records возвращает все известные сессии по времени начала.
func (t *Tracker) Records() []model.SessionRecord {
	t.mu.Lock()
	out := make([]model.SessionRecord, 0, len(t.records)+1)
	for _, e := range t.records {
		out = append(out, e.record)
	}
	if t.current != nil {
		out = append(out, t.current.record)
	}
	t.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (t *Tracker) lookup(id string) (*entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookupLocked(id)
}

func (t *Tracker) lookupLocked(id string) (*entry, error) {
	if t.current != nil && t.current.record.ID == id {
		cp := *t.current
		cp.record.Rows = len(cp.rows)
		return &cp, nil
	}
	if e, ok := t.records[id]; ok {
		return e, nil
	}
	return nil, ErrUnknownSession
}

// sortRows упорядочивает строки по номеру приёма: воркеры шардов пишут в
// журнал параллельно.
func sortRows(rows []export.Row) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
}
