package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"twitch-chat-analytics/model"
)

//go:embed schema.sql
var schema string

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func EnsureSchema(ctx context.Context, db execer) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}

// SaveSession сохраняет итог закрытой сессии с учётом заданного таймаута.
// Повторное сохранение той же сессии перезаписывает запись.
func SaveSession(ctx context.Context, db execer, rec model.SessionRecord, timeout time.Duration) error {
	dbCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messagesJSON, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("storage: marshal session %s messages: %w", rec.ID, err)
	}
	eventsJSON, err := json.Marshal(rec.Events)
	if err != nil {
		return fmt.Errorf("storage: marshal session %s events: %w", rec.ID, err)
	}

	var endedAt *time.Time
	if !rec.EndedAt.IsZero() {
		t := rec.EndedAt.UTC()
		endedAt = &t
	}

	_, err = db.Exec(dbCtx, `
insert into analytics_sessions (
  id, started_at, ended_at, messages, events, rows, truncated
) values ($1, $2, $3, $4, $5, $6, $7)
on conflict (id) do update set
  ended_at = excluded.ended_at,
  messages = excluded.messages,
  events = excluded.events,
  rows = excluded.rows,
  truncated = excluded.truncated;
`, rec.ID, rec.StartedAt.UTC(), endedAt, messagesJSON, eventsJSON, rec.Rows, rec.Truncated)
	if err != nil {
		return fmt.Errorf("storage: save session %s: %w", rec.ID, err)
	}
	return nil
}
