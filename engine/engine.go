// Package engine связывает модерацию, классификацию и агрегацию в один конвейер.
//
// Сообщения маршрутизируются по шардам по хешу userID: у каждого шарда один
// воркер, поэтому сообщения одного пользователя обрабатываются в порядке
// прихода, а профиль пользователя имеет единственного писателя. События идут
// через отдельную очередь с одним воркером.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spaolacci/murmur3"

	"twitch-chat-analytics/analytics"
	"twitch-chat-analytics/events"
	"twitch-chat-analytics/export"
	"twitch-chat-analytics/model"
	"twitch-chat-analytics/moderation"
	"twitch-chat-analytics/sentiment"
	"twitch-chat-analytics/session"
	"twitch-chat-analytics/tier"
)

// ErrShuttingDown возвращается приёмом после начала остановки.
var ErrShuttingDown = errors.New("engine is shutting down")

// Config задаёт параметры конвейера.
type Config struct {
	Shards        int
	QueueSize     int
	GracePeriod   time.Duration
	SweepInterval time.Duration
	Analytics     analytics.Config
	Events        events.Config
	Session       session.Config
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Sink принимает обработанные сообщения и события для сохранения.
// Вызывается из воркеров и не должен блокироваться.
type Sink interface {
	EnqueueMessage(model.ChatMessage) bool
	EnqueueEvent(model.PlatformEvent) bool
}

// Option настраивает Engine.
type Option func(*Engine)

// WithSink подключает хранилище обработанных сообщений и событий.
func WithSink(s Sink) Option { return func(e *Engine) { e.sink = s } }

// WithEmitter подключает получателя закрытых сессий.
func WithEmitter(em session.Emitter) Option { return func(e *Engine) { e.emitter = em } }

// WithBlocklist задаёт начальный блоклист.
func WithBlocklist(b *moderation.Blocklist) Option { return func(e *Engine) { e.blocklist = b } }

type job struct {
	in      model.InboundMessage
	seq     uint64
	queued  time.Time
	done    chan model.ChatMessage
	barrier chan struct{}
}

type eventJob struct {
	ev      model.PlatformEvent
	barrier chan struct{}
}

type Engine struct {
	log *logrus.Entry
	cfg Config

	rules     *moderation.Store
	blocklist *moderation.Blocklist
	scorer    *moderation.Scorer
	analytics *analytics.Aggregator
	events    *events.Tracker
	sessions  *session.Tracker
	sink      Sink
	emitter   session.Emitter

	seq atomic.Uint64

	// gate: приём держит RLock, StartSession, EndSession и Shutdown берут Lock,
	// чтобы очереди не пополнялись, пока они дренируются или закрываются.
	gate    sync.RWMutex
	closed  bool
	shards  []chan job
	eventQ  chan eventJob
	quit    chan struct{}
	abandon atomic.Bool
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
}

// New собирает Engine. Воркеры запускаются Start.
func New(cfg Config, rules *moderation.Ruleset, log *logrus.Entry, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if rules == nil {
		rules, _ = moderation.DefaultRuleset().Compile()
	}

	e := &Engine{
		log:    log.WithField("component", "engine"),
		cfg:    cfg,
		rules:  moderation.NewStore(rules),
		eventQ: make(chan eventJob, cfg.QueueSize),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.Analytics.HistorySize <= 0 {
		cfg.Analytics.HistorySize = rules.HistorySize
	}
	e.scorer = moderation.NewScorer(e.blocklist)
	e.blocklist = e.scorer.Blocklist()
	e.analytics = analytics.NewAggregator(cfg.Analytics, log)
	e.events = events.NewTracker(cfg.Events, log)
	e.sessions = session.NewTracker(cfg.Session, e.analytics, e.events, e.emitter, log)

	e.shards = make([]chan job, cfg.Shards)
	for i := range e.shards {
		e.shards[i] = make(chan job, cfg.QueueSize)
	}
	return e
}

// Start запускает воркеры шардов, воркер событий и очистку профилей.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		for i, ch := range e.shards {
			e.wg.Add(1)
			go e.runShard(i, ch)
		}
		e.wg.Add(1)
		go e.runEvents()
		go e.runSweeper()

		e.log.WithFields(logrus.Fields{
			"shards":     len(e.shards),
			"queue_size": e.cfg.QueueSize,
		}).Info("engine started")
	})
}

func (e *Engine) shardFor(userID string) int {
	return int(murmur3.Sum32([]byte(userID)) % uint32(len(e.shards)))
}

// SubmitMessage принимает сообщение в обработку. Сообщение без UserID или
// Timestamp отклоняется с model.ErrValidation, состояние не меняется.
func (e *Engine) SubmitMessage(ctx context.Context, in model.InboundMessage) error {
	return e.enqueue(ctx, in, nil)
}

// ProcessMessage принимает сообщение и ждёт результата классификации.
func (e *Engine) ProcessMessage(ctx context.Context, in model.InboundMessage) (model.ChatMessage, error) {
	done := make(chan model.ChatMessage, 1)
	if err := e.enqueue(ctx, in, done); err != nil {
		return model.ChatMessage{}, err
	}
	select {
	case msg, ok := <-done:
		if !ok {
			return model.ChatMessage{}, ErrShuttingDown
		}
		return msg, nil
	case <-ctx.Done():
		return model.ChatMessage{}, ctx.Err()
	}
}

func (e *Engine) enqueue(ctx context.Context, in model.InboundMessage, done chan model.ChatMessage) error {
	if err := in.Validate(); err != nil {
		messagesSubmitted.WithLabelValues("rejected").Inc()
		e.log.WithError(err).WithField("user_id", in.UserID).Debug("message rejected")
		return err
	}

	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.closed {
		return ErrShuttingDown
	}

	// закреплённый профиль не удаляется очисткой, пока сообщение в очереди
	e.analytics.Acquire(in.UserID)
	j := job{in: in, seq: e.seq.Add(1), queued: time.Now(), done: done}
	select {
	case e.shards[e.shardFor(in.UserID)] <- j:
		messagesSubmitted.WithLabelValues("accepted").Inc()
		return nil
	case <-ctx.Done():
		e.analytics.Release(in.UserID)
		return ctx.Err()
	case <-e.quit:
		e.analytics.Release(in.UserID)
		return ErrShuttingDown
	}
}

// SubmitEvent принимает событие. Нулевое время заменяется временем прихода,
// неизвестный тип учитывается как other.
func (e *Engine) SubmitEvent(ctx context.Context, ev model.PlatformEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.closed {
		return ErrShuttingDown
	}

	ev.Seq = e.seq.Add(1)
	select {
	case e.eventQ <- eventJob{ev: ev}:
		eventsSubmitted.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrShuttingDown
	}
}

func (e *Engine) runShard(idx int, ch <-chan job) {
	defer e.wg.Done()
	log := e.log.WithField("shard", idx)

	for j := range ch {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		if e.abandon.Load() {
			e.discard(j.in.UserID, j.done)
			continue
		}

		msg := e.process(j)
		e.analytics.Release(j.in.UserID)
		if j.done != nil {
			j.done <- msg
		}
		processDuration.Observe(time.Since(j.queued).Seconds())
	}
	log.Debug("shard worker stopped")
}

func (e *Engine) discard(userID string, done chan model.ChatMessage) {
	discardedOnShutdown.Inc()
	if userID != "" {
		e.analytics.Release(userID)
	}
	if done != nil {
		close(done)
	}
}

func (e *Engine) process(j job) model.ChatMessage {
	in := j.in
	rules := e.rules.Load()
	userTier := tier.Classify(in.Roles)
	fromBot := e.analytics.IsBot(in.UserID)

	var res moderation.Result
	profile := e.analytics.Acquire(in.UserID)
	profile.WithHistory(func(h *moderation.History) {
		res = e.scorer.Score(moderation.Input{
			UserID:    in.UserID,
			Text:      in.Text,
			Tier:      userTier,
			Timestamp: in.Timestamp,
		}, rules, h)
	})
	e.analytics.Release(in.UserID)

	author := in.DisplayName
	if author == "" {
		author = in.UserID
	}
	msg := model.ChatMessage{
		Seq:             j.seq,
		ID:              in.ID,
		Channel:         in.Channel,
		Author:          author,
		UserID:          in.UserID,
		Content:         in.Text,
		Timestamp:       in.Timestamp,
		Tier:            userTier,
		Sentiment:       sentiment.Classify(in.Text),
		ModerationScore: res.Score,
		Flags:           res.Flags,
		Bits:            in.Roles.Bits,
		FromBot:         fromBot,
	}
	msg.ReplyEligible = !fromBot && rules.ReplyEligible(moderation.ReplyInput{
		Text:        in.Text,
		Highlighted: in.Highlighted,
		Bits:        in.Roles.Bits,
		Blocked:     res.Blocked(),
	})

	e.analytics.Ingest(msg)
	e.sessions.Append(export.FromMessage(msg))
	if e.sink != nil {
		e.sink.EnqueueMessage(msg)
	}

	if msg.Blocked() {
		e.log.WithFields(logrus.Fields{
			"user_id": msg.UserID,
			"score":   msg.ModerationScore,
			"flags":   msg.Flags.String(),
		}).Debug("message blocked")
	}
	return msg
}

func (e *Engine) runEvents() {
	defer e.wg.Done()
	for j := range e.eventQ {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		if e.abandon.Load() {
			e.discard("", nil)
			continue
		}

		ev := e.events.Track(j.ev)
		e.sessions.Append(export.FromEvent(ev))
		if e.sink != nil {
			e.sink.EnqueueEvent(ev)
		}
	}
	e.log.Debug("event worker stopped")
}

func (e *Engine) runSweeper() {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.quit:
			return
		case now := <-ticker.C:
			e.analytics.Sweep(now)
			e.reportQueueDepth()
		}
	}
}

func (e *Engine) reportQueueDepth() {
	total := 0
	for _, ch := range e.shards {
		total += len(ch)
	}
	queueDepth.WithLabelValues("messages").Set(float64(total))
	queueDepth.WithLabelValues("events").Set(float64(len(e.eventQ)))
}

// drain ждёт, пока воркеры обработают всё, что было в очередях на момент
// вызова. Вызывается под gate.Lock. Возвращает false, если не уложились в
// grace period.
func (e *Engine) drain(ctx context.Context) bool {
	timer := time.NewTimer(e.cfg.GracePeriod)
	defer timer.Stop()

	barriers := make([]chan struct{}, 0, len(e.shards)+1)
	for _, ch := range e.shards {
		b := make(chan struct{})
		select {
		case ch <- job{barrier: b}:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
		barriers = append(barriers, b)
	}
	b := make(chan struct{})
	select {
	case e.eventQ <- eventJob{barrier: b}:
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
	barriers = append(barriers, b)

	for _, b := range barriers {
		select {
		case <-b:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Shutdown прекращает приём, даёт воркерам grace period на обработку
// накопленного и отбрасывает остаток. Потеря данных логируется.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() {
		close(e.quit)

		e.gate.Lock()
		e.closed = true
		for _, ch := range e.shards {
			close(ch)
		}
		close(e.eventQ)
		e.gate.Unlock()

		// воркеры дочитывают закрытые очереди; без Start они запускаются здесь
		e.Start()
		pending := e.pending()
		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(e.cfg.GracePeriod)
		defer timer.Stop()
		select {
		case <-done:
			e.log.WithField("drained", pending).Info("engine stopped")
			return
		case <-timer.C:
		case <-ctx.Done():
			e.stopErr = ctx.Err()
		}

		left := e.pending()
		e.abandon.Store(true)
		<-done
		e.log.WithFields(logrus.Fields{
			"drained":   pending - left,
			"discarded": left,
		}).Warn("engine stopped after grace period, in-flight work discarded")
	})
	return e.stopErr
}

func (e *Engine) pending() int {
	n := len(e.eventQ)
	for _, ch := range e.shards {
		n += len(ch)
	}
	return n
}
