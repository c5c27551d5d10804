// Package bus доставляет закрытые сессии подписчикам через in-memory pub/sub
// watermill: запись CSV и сохранение итогов в БД не блокируют закрытие сессии.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus"

	"twitch-chat-analytics/export"
	"twitch-chat-analytics/model"
)

// TopicSessionClosed задаёт топик закрытых сессий.
const TopicSessionClosed = "session.closed"

const metaSessionID = "session_id"

// SessionClosed описывает полезную нагрузку топика session.closed.
type SessionClosed struct {
	Record model.SessionRecord `json:"record"`
	Rows   []export.Row        `json:"rows"`
}

// Handler обрабатывает закрытую сессию. Ошибка логируется, повторной доставки нет.
type Handler func(ctx context.Context, ev SessionClosed) error

type Bus struct {
	log    *logrus.Entry
	pubsub *gochannel.GoChannel
	wg     sync.WaitGroup
}

func New(log *logrus.Entry) *Bus {
	log = log.WithField("component", "bus")
	return &Bus{
		log: log,
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 16},
			NewLoggerAdapter(log.WithField("lib", "watermill")),
		),
	}
}

// SessionClosed публикует закрытую сессию. Реализует session.Emitter.
func (b *Bus) SessionClosed(rec model.SessionRecord, rows []export.Row) error {
	payload, err := json.Marshal(SessionClosed{Record: rec, Rows: rows})
	if err != nil {
		return fmt.Errorf("bus: marshal session %s: %w", rec.ID, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metaSessionID, rec.ID)
	if err := b.pubsub.Publish(TopicSessionClosed, msg); err != nil {
		return fmt.Errorf("bus: publish session %s: %w", rec.ID, err)
	}
	sessionsPublished.Inc()
	return nil
}

// Subscribe запускает обработку топика session.closed в отдельной горутине.
// Подписка должна быть создана до публикации: gochannel не хранит сообщения.
func (b *Bus) Subscribe(ctx context.Context, name string, h Handler) error {
	messages, err := b.pubsub.Subscribe(ctx, TopicSessionClosed)
	if err != nil {
		return fmt.Errorf("bus: subscribe %s: %w", name, err)
	}

	log := b.log.WithField("subscriber", name)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range messages {
			b.handle(ctx, log, name, msg, h)
		}
		log.Debug("subscription stopped")
	}()
	return nil
}

func (b *Bus) handle(ctx context.Context, log *logrus.Entry, name string, msg *message.Message, h Handler) {
	// nack в gochannel приводит к бесконечной переотправке, поэтому сообщение
	// подтверждается в любом случае
	defer msg.Ack()

	var ev SessionClosed
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		handlerResults.WithLabelValues(name, "malformed").Inc()
		log.WithError(err).WithField("msg_id", msg.UUID).Error("malformed session payload")
		return
	}

	if err := h(ctx, ev); err != nil {
		handlerResults.WithLabelValues(name, "error").Inc()
		log.WithError(err).WithField("session_id", ev.Record.ID).Error("session handler failed")
		return
	}
	handlerResults.WithLabelValues(name, "ok").Inc()
}

// Close закрывает pub/sub и ждёт завершения обработчиков.
func (b *Bus) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}

// WriteCSV возвращает обработчик, который сохраняет строки сессии в dir.
func WriteCSV(dir string, log *logrus.Entry) Handler {
	return func(_ context.Context, ev SessionClosed) error {
		path, err := export.WriteFile(dir, ev.Record.ID, ev.Rows)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"session_id": ev.Record.ID,
			"rows":       len(ev.Rows),
			"path":       path,
		}).Info("session export written")
		return nil
	}
}
