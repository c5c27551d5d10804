package storage

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"twitch-chat-analytics/model"
)

// BatchConfig задаёт параметры батчинга для вставки сообщений и событий.
type BatchConfig struct {
	MaxBatch      int
	FlushEvery    time.Duration
	ChanBuffer    int
	StatsLogEvery time.Duration
	FlushTimeout  time.Duration
}

// Batcher асинхронно вставляет обработанные сообщения и события через pgx.Batch.
// Реализует engine.Sink.
type Batcher struct {
	log     *logrus.Entry
	input   chan row
	config  BatchConfig
	sender  batchSender
	dropped atomic.Uint64
	done    chan struct{}
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// row описывает строку, которую батчер умеет поставить в pgx.Batch.
type row interface {
	queue(b *pgx.Batch)
	table() string
}

// NewBatcher создаёт батчер и запускает фоновые флаши. После отмены ctx
// батчер сбрасывает накопленное и закрывает Done.
func NewBatcher(ctx context.Context, pool *pgxpool.Pool, cfg BatchConfig, log *logrus.Entry) *Batcher {
	return newBatcher(ctx, pool, cfg, log)
}

// EnqueueMessage ставит сообщение в очередь; при переполнении возвращает false.
func (b *Batcher) EnqueueMessage(msg model.ChatMessage) bool {
	return b.enqueue(messageRow(msg))
}

// EnqueueEvent ставит событие в очередь; при переполнении возвращает false.
func (b *Batcher) EnqueueEvent(ev model.PlatformEvent) bool {
	return b.enqueue(eventRow(ev))
}

func (b *Batcher) enqueue(r row) bool {
	select {
	case b.input <- r:
		return true
	default:
		rowsDropped.WithLabelValues(r.table()).Inc()
		dropped := b.dropped.Add(1)
		if dropped%100 == 0 {
			b.log.WithField("dropped_total", dropped).Warn("batcher queue is full, rows dropped")
		}
		return false
	}
}

// Dropped возвращает число строк, отброшенных из-за переполнения.
func (b *Batcher) Dropped() uint64 {
	return b.dropped.Load()
}

// Done закрывается после финального флаша.
func (b *Batcher) Done() <-chan struct{} {
	return b.done
}

func (b *Batcher) run(ctx context.Context) {
	defer close(b.done)

	flushTicker := time.NewTicker(b.config.FlushEvery)
	statsTicker := time.NewTicker(b.config.StatsLogEvery)
	defer flushTicker.Stop()
	defer statsTicker.Stop()

	var (
		batch            = &pgx.Batch{}
		pending          = map[string]int{}
		queued           = 0
		totalInserted    uint64
		intervalInserted uint64
	)

	flush := func() {
		if queued == 0 {
			return
		}

		dbCtx, cancel := context.WithTimeout(context.Background(), b.config.FlushTimeout)
		defer cancel()

		start := time.Now()
		br := b.sender.SendBatch(dbCtx, batch)
		if err := br.Close(); err != nil {
			flushErrors.Inc()
			b.log.WithError(err).WithField("rows", queued).Error("batcher flush failed")
		} else {
			for table, n := range pending {
				rowsInserted.WithLabelValues(table).Add(float64(n))
			}
			totalInserted += uint64(queued)
			intervalInserted += uint64(queued)
		}
		flushDuration.Observe(time.Since(start).Seconds())

		batch = &pgx.Batch{}
		pending = map[string]int{}
		queued = 0
	}

	for {
		select {
		case <-ctx.Done():
			// дочитываем то, что уже успело попасть в очередь
			for drained := false; !drained; {
				select {
				case r := <-b.input:
					r.queue(batch)
					pending[r.table()]++
					queued++
				default:
					drained = true
				}
			}
			flush()
			b.log.WithField("inserted_total", totalInserted).Info("batcher stopped")
			return
		case <-flushTicker.C:
			flush()
		case <-statsTicker.C:
			b.log.WithFields(logrus.Fields{
				"inserted": intervalInserted,
				"interval": b.config.StatsLogEvery.String(),
				"total":    totalInserted,
			}).Info("batcher stats")
			intervalInserted = 0
		case r := <-b.input:
			r.queue(batch)
			pending[r.table()]++
			queued++
			if queued >= b.config.MaxBatch {
				flush()
			}
		}
	}
}

type messageRow model.ChatMessage

func (messageRow) table() string { return "chat_messages" }

func (m messageRow) queue(b *pgx.Batch) {
	const q = `
insert into chat_messages (
  seq, message_id, channel, user_id, author, text, tier, sentiment,
  moderation_score, flags, bits, from_bot, reply_eligible, sent_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
on conflict (seq) do nothing;`

	b.Queue(q,
		int64(m.Seq), nullable(m.ID), nullable(m.Channel), m.UserID, m.Author, m.Content,
		m.Tier.String(), m.Sentiment.String(), m.ModerationScore, m.Flags.Names(),
		m.Bits, m.FromBot, m.ReplyEligible, m.Timestamp.UTC(),
	)
}

type eventRow model.PlatformEvent

func (eventRow) table() string { return "platform_events" }

func (e eventRow) queue(b *pgx.Batch) {
	const q = `
insert into platform_events (
  seq, event_type, user_name, value, payload, occurred_at
) values ($1,$2,$3,$4,$5,$6)
on conflict (seq) do nothing;`

	payloadJSON, _ := json.Marshal(e.Payload)
	ev := model.PlatformEvent(e)
	b.Queue(q,
		int64(e.Seq), e.Type.String(), nullable(e.User), ev.Value(), payloadJSON, e.Timestamp.UTC(),
	)
}

// nullable превращает пустую строку в NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newBatcher(ctx context.Context, sender batchSender, cfg BatchConfig, log *logrus.Entry) *Batcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &Batcher{
		log:    log.WithField("component", "batcher"),
		input:  make(chan row, cfg.ChanBuffer),
		config: cfg,
		sender: sender,
		done:   make(chan struct{}),
	}

	go b.run(ctx)

	return b
}
