// Package export превращает сообщения и события сессии в табличные строки
// и сериализует их в CSV с фиксированным порядком колонок.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"twitch-chat-analytics/model"
)

const (
	KindMessage = "message"
	KindEvent   = "event"

	// TypeChatMessage задаёт значение колонки type для сообщений чата.
	TypeChatMessage = "chat_message"
)

// ErrBadHeader возвращается ReadCSV, если заголовок не совпадает с Header.
var ErrBadHeader = errors.New("export: unexpected csv header")

// Header задаёт порядок колонок экспорта.
var Header = []string{
	"seq", "timestamp", "kind", "type", "user", "user_id",
	"tier", "sentiment", "score", "flags", "value", "text",
}

// Row описывает одну строку экспорта сессии.
type Row struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Type      string    `json:"type"`
	User      string    `json:"user"`
	UserID    string    `json:"user_id"`
	Tier      string    `json:"tier,omitempty"`
	Sentiment string    `json:"sentiment,omitempty"`
	Score     float64   `json:"score"`
	Flags     string    `json:"flags,omitempty"`
	Value     float64   `json:"value"`
	Text      string    `json:"text,omitempty"`
}

func FromMessage(m model.ChatMessage) Row {
	user := m.Author
	if user == "" {
		user = m.UserID
	}
	return Row{
		Seq:       m.Seq,
		Timestamp: m.Timestamp,
		Kind:      KindMessage,
		Type:      TypeChatMessage,
		User:      user,
		UserID:    m.UserID,
		Tier:      m.Tier.String(),
		Sentiment: m.Sentiment.String(),
		Score:     m.ModerationScore,
		Flags:     m.Flags.String(),
		Value:     float64(m.Bits),
		Text:      m.Content,
	}
}

func FromEvent(e model.PlatformEvent) Row {
	return Row{
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		Kind:      KindEvent,
		Type:      e.Type.String(),
		User:      e.User,
		UserID:    e.User,
		Value:     e.Value(),
		Text:      e.Detail(),
	}
}

func (r Row) record() []string {
	return []string{
		strconv.FormatUint(r.Seq, 10),
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Kind,
		r.Type,
		r.User,
		r.UserID,
		r.Tier,
		r.Sentiment,
		strconv.FormatFloat(r.Score, 'f', -1, 64),
		r.Flags,
		strconv.FormatFloat(r.Value, 'f', -1, 64),
		r.Text,
	}
}

// WriteCSV пишет заголовок и строки в w.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.record()); err != nil {
			return fmt.Errorf("export: write row %d: %w", r.Seq, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV разбирает вывод WriteCSV.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("export: read header: %w", err)
	}
	for i, name := range Header {
		if header[i] != name {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i, header[i], name)
		}
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("export: read row: %w", err)
		}
		row, err := parseRecord(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

func parseRecord(rec []string) (Row, error) {
	seq, err := strconv.ParseUint(rec[0], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("export: seq %q: %w", rec[0], err)
	}
	ts, err := time.Parse(time.RFC3339Nano, rec[1])
	if err != nil {
		return Row{}, fmt.Errorf("export: timestamp %q: %w", rec[1], err)
	}
	score, err := strconv.ParseFloat(rec[8], 64)
	if err != nil {
		return Row{}, fmt.Errorf("export: score %q: %w", rec[8], err)
	}
	value, err := strconv.ParseFloat(rec[10], 64)
	if err != nil {
		return Row{}, fmt.Errorf("export: value %q: %w", rec[10], err)
	}
	return Row{
		Seq:       seq,
		Timestamp: ts,
		Kind:      rec[2],
		Type:      rec[3],
		User:      rec[4],
		UserID:    rec[5],
		Tier:      rec[6],
		Sentiment: rec[7],
		Score:     score,
		Flags:     rec[9],
		Value:     value,
		Text:      rec[11],
	}, nil
}

// WriteFile сохраняет строки сессии в dir/session-<id>.csv и возвращает путь.
// Файл сначала пишется во временный, затем переименовывается.
func WriteFile(dir, sessionID string, rows []Row) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: create dir: %w", err)
	}
	path := filepath.Join(dir, "session-"+sessionID+".csv")

	tmp, err := os.CreateTemp(dir, ".session-*.csv")
	if err != nil {
		return "", fmt.Errorf("export: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, rows); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("export: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("export: rename: %w", err)
	}
	return path, nil
}
