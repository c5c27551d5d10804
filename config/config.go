package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"twitch-chat-analytics/analytics"
	"twitch-chat-analytics/engine"
	"twitch-chat-analytics/events"
	"twitch-chat-analytics/session"
)

// Config агрегирует значения конфигурации из переменных окружения.
type Config struct {
	Twitch    TwitchConfig
	Postgres  PostgresConfig
	Batch     BatchConfig
	Engine    EngineConfig
	HTTP      HTTPConfig
	Log       LogConfig
	Export    ExportConfig
	RulesPath string
}

// TwitchConfig содержит учётные данные и каналы для Twitch IRC клиента.
// Коннектор включается, только если заданы каналы.
type TwitchConfig struct {
	Username   string
	OAuthToken string
	Channels   []string
}

// Enabled сообщает, нужно ли подключаться к Twitch IRC.
func (t TwitchConfig) Enabled() bool { return len(t.Channels) > 0 }

// Anonymous сообщает, что учётных данных нет и клиент читает чат анонимно.
func (t TwitchConfig) Anonymous() bool { return t.Username == "" && t.OAuthToken == "" }

// PostgresConfig хранит параметры подключения к пулу базы данных.
// Хранилище включается, если задан POSTGRES_HOST.
type PostgresConfig struct {
	Host     string
	Port     string
	DB       string
	User     string
	Password string
}

// Enabled сообщает, настроено ли хранилище.
func (p PostgresConfig) Enabled() bool { return p.Host != "" }

// DSN собирает строку подключения для pgx/pgxpool.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", p.User, p.Password, p.Host, p.Port, p.DB)
}

// BatchConfig задаёт параметры батчинга и флашей при записи сообщений и событий.
type BatchConfig struct {
	MaxBatch      int
	FlushEvery    time.Duration
	ChanBuffer    int
	StatsLogEvery time.Duration
	FlushTimeout  time.Duration
}

// EngineConfig задаёт ёмкости и таймауты конвейера.
type EngineConfig struct {
	Shards          int
	QueueSize       int
	GracePeriod     time.Duration
	Retention       time.Duration
	SweepInterval   time.Duration
	RecentWindow    int
	EventLogSize    int
	LeaderboardSize int
	ArchiveSize     int
	JournalLimit    int
	BotUserIDs      []string
}

// Engine переводит настройки в engine.Config.
func (e EngineConfig) Engine(w events.Weights, historySize int) engine.Config {
	return engine.Config{
		Shards:        e.Shards,
		QueueSize:     e.QueueSize,
		GracePeriod:   e.GracePeriod,
		SweepInterval: e.SweepInterval,
		Analytics: analytics.Config{
			LeaderboardSize: e.LeaderboardSize,
			RecentWindow:    e.RecentWindow,
			ArchiveSize:     e.ArchiveSize,
			Retention:       e.Retention,
			HistorySize:     historySize,
			BotUserIDs:      e.BotUserIDs,
		},
		Events: events.Config{
			LogSize:         e.EventLogSize,
			LeaderboardSize: e.LeaderboardSize,
			ArchiveSize:     e.ArchiveSize,
			Weights:         w,
		},
		Session: session.Config{
			JournalLimit: e.JournalLimit,
			KeepRecords:  e.ArchiveSize,
		},
	}
}

type HTTPConfig struct {
	Addr string
}

type LogConfig struct {
	Level  string
	Format string
}

// ExportConfig задаёт каталог, куда пишутся CSV закрытых сессий. Пустой отключает запись.
type ExportConfig struct {
	Dir string
}

// Load читает .env (если есть) и переменные окружения и возвращает валидированную Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	var p parser
	cfg := Config{
		Twitch: TwitchConfig{
			Username:   strings.TrimSpace(os.Getenv("TWITCH_USERNAME")),
			OAuthToken: strings.TrimSpace(os.Getenv("TWITCH_OAUTH_TOKEN")),
			Channels:   splitAndTrim(os.Getenv("TWITCH_CHANNELS")),
		},
		Postgres: PostgresConfig{
			Host:     strings.TrimSpace(os.Getenv("POSTGRES_HOST")),
			Port:     strings.TrimSpace(os.Getenv("POSTGRES_PORT")),
			DB:       strings.TrimSpace(os.Getenv("POSTGRES_DB")),
			User:     strings.TrimSpace(os.Getenv("POSTGRES_USER")),
			Password: strings.TrimSpace(os.Getenv("POSTGRES_PASSWORD")),
		},
		Batch: BatchConfig{
			MaxBatch:      100,
			FlushEvery:    1500 * time.Millisecond,
			ChanBuffer:    4096,
			StatsLogEvery: 5 * time.Minute,
			FlushTimeout:  5 * time.Second,
		},
		Engine: EngineConfig{
			Shards:          p.int("ENGINE_SHARDS", 4),
			QueueSize:       p.int("ENGINE_QUEUE_SIZE", 1024),
			GracePeriod:     p.duration("ENGINE_GRACE_PERIOD", 5*time.Second),
			Retention:       p.duration("PROFILE_RETENTION", 12*time.Hour),
			SweepInterval:   p.duration("PROFILE_SWEEP_INTERVAL", time.Minute),
			RecentWindow:    p.int("RECENT_WINDOW", 200),
			EventLogSize:    p.int("EVENT_LOG_SIZE", 1000),
			LeaderboardSize: p.int("LEADERBOARD_SIZE", 10),
			ArchiveSize:     p.int("SESSION_ARCHIVE_SIZE", 32),
			JournalLimit:    p.int("SESSION_JOURNAL_LIMIT", 100000),
			BotUserIDs:      splitAndTrim(os.Getenv("BOT_USER_IDS")),
		},
		HTTP: HTTPConfig{
			Addr: envOr("HTTP_ADDR", ":8080"),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "text"),
		},
		Export: ExportConfig{
			Dir: envOr("EXPORT_DIR", "exports"),
		},
		RulesPath: strings.TrimSpace(os.Getenv("RULES_PATH")),
	}
	if p.err != nil {
		return Config{}, p.err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Twitch.Enabled() && !c.Twitch.Anonymous() {
		if c.Twitch.Username == "" {
			return fmt.Errorf("требуется TWITCH_USERNAME")
		}
		if c.Twitch.OAuthToken == "" {
			return fmt.Errorf("требуется TWITCH_OAUTH_TOKEN")
		}
	}

	if c.Postgres.Enabled() {
		if c.Postgres.Port == "" {
			return fmt.Errorf("требуется POSTGRES_PORT")
		}
		if c.Postgres.DB == "" {
			return fmt.Errorf("требуется POSTGRES_DB")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("требуется POSTGRES_USER")
		}
		if c.Postgres.Password == "" {
			return fmt.Errorf("требуется POSTGRES_PASSWORD")
		}
	}

	if c.Batch.MaxBatch <= 0 {
		return fmt.Errorf("Batch.MaxBatch должен быть больше нуля")
	}
	if c.Batch.FlushEvery <= 0 {
		return fmt.Errorf("Batch.FlushEvery должен быть больше нуля")
	}
	if c.Batch.ChanBuffer <= 0 {
		return fmt.Errorf("Batch.ChanBuffer должен быть больше нуля")
	}
	if c.Batch.StatsLogEvery <= 0 {
		return fmt.Errorf("Batch.StatsLogEvery должен быть больше нуля")
	}
	if c.Batch.FlushTimeout <= 0 {
		return fmt.Errorf("Batch.FlushTimeout должен быть больше нуля")
	}

	for name, v := range map[string]int{
		"ENGINE_SHARDS":         c.Engine.Shards,
		"ENGINE_QUEUE_SIZE":     c.Engine.QueueSize,
		"RECENT_WINDOW":         c.Engine.RecentWindow,
		"EVENT_LOG_SIZE":        c.Engine.EventLogSize,
		"LEADERBOARD_SIZE":      c.Engine.LeaderboardSize,
		"SESSION_ARCHIVE_SIZE":  c.Engine.ArchiveSize,
		"SESSION_JOURNAL_LIMIT": c.Engine.JournalLimit,
	} {
		if v <= 0 {
			return fmt.Errorf("%s должен быть больше нуля", name)
		}
	}
	for name, v := range map[string]time.Duration{
		"ENGINE_GRACE_PERIOD":    c.Engine.GracePeriod,
		"PROFILE_RETENTION":      c.Engine.Retention,
		"PROFILE_SWEEP_INTERVAL": c.Engine.SweepInterval,
	} {
		if v <= 0 {
			return fmt.Errorf("%s должен быть больше нуля", name)
		}
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("требуется HTTP_ADDR")
	}

	return nil
}

// parser запоминает первую ошибку разбора, чтобы Load проверил её один раз.
type parser struct {
	err error
}

func (p *parser) int(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
	return v
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "#"))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
