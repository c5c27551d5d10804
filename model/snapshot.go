package model

import "time"

// Ranked описывает элемент рейтинга (чаттеры или контрибьюторы).
type Ranked struct {
	UserID string    `json:"user_id"`
	Name   string    `json:"name"`
	Score  float64   `json:"score"`
	First  time.Time `json:"first"`
}

// MessageCounters хранит счётчики сообщений за один период (сессия или всё время).
type MessageCounters struct {
	Total          int64               `json:"total"`
	Clean          int64               `json:"clean"`
	Blocked        int64               `json:"blocked"`
	Sentiment      map[Sentiment]int64 `json:"sentiment"`
	CleanSentiment map[Sentiment]int64 `json:"clean_sentiment"`
	Tiers          map[Tier]int64      `json:"tiers"`
	Flags          map[string]int64    `json:"flags"`
	LongestMessage int                 `json:"longest_message"`
	HourHistogram  [24]int64           `json:"hour_histogram"`
}

// MostActiveHour возвращает час UTC с наибольшим числом сообщений или -1.
func (c MessageCounters) MostActiveHour() int {
	best, hour := int64(0), -1
	for h, n := range c.HourHistogram {
		if n > best {
			best, hour = n, h
		}
	}
	return hour
}

// AnalyticsSnapshot описывает неизменяемый срез состояния агрегатора.
// AsOf равен моменту последнего изменения состояния, поэтому повторный снимок без
// новых сообщений совпадает с предыдущим.
type AnalyticsSnapshot struct {
	SessionID       string          `json:"session_id,omitempty"`
	AsOf            time.Time       `json:"as_of"`
	Session         MessageCounters `json:"session"`
	Lifetime        MessageCounters `json:"lifetime"`
	TopChatters     []Ranked        `json:"top_chatters"`
	AvgResponseTime time.Duration   `json:"avg_response_time"`
	ResponseSamples int64           `json:"response_samples"`
	KnownUsers      int             `json:"known_users"`
}

// StreamStats хранит счётчики событий текущей сессии и производные итоги.
type StreamStats struct {
	SessionID          string              `json:"session_id,omitempty"`
	Counts             map[EventType]int64 `json:"counts"`
	TotalEvents        int64               `json:"total_events"`
	TotalBits          int64               `json:"total_bits"`
	NewSubscribers     int64               `json:"new_subscribers"`
	TotalRaidViewers   int64               `json:"total_raid_viewers"`
	Raids              int64               `json:"raids"`
	Followers          int64               `json:"followers"`
	HypeTrains         int64               `json:"hype_trains"`
	HypeTrainOngoing   bool                `json:"hype_train_ongoing"`
	HypeTrainLevel     int                 `json:"hype_train_level"`
	Redemptions        int64               `json:"redemptions"`
	CharityTotal       float64             `json:"charity_total"`
	VoiceParticipants  int64               `json:"voice_participants"`
	UniqueContributors int                 `json:"unique_contributors"`
	TopEvent           string              `json:"top_event,omitempty"`
}

// UserStats описывает проекцию профиля пользователя.
type UserStats struct {
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	Tier           Tier      `json:"tier"`
	MessageCount   int64     `json:"message_count"`
	BlockedCount   int64     `json:"blocked_count"`
	LastSeen       time.Time `json:"last_seen"`
	RecentMessages int       `json:"recent_messages"`
}

// SessionRecord — итог сессии; EndedAt нулевой, пока сессия открыта.
type SessionRecord struct {
	ID        string            `json:"id"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at,omitempty"`
	Messages  AnalyticsSnapshot `json:"messages"`
	Events    StreamStats       `json:"events"`
	Rows      int               `json:"rows"`
	Truncated int               `json:"truncated"`
}

// Open сообщает, открыта ли сессия.
func (r SessionRecord) Open() bool { return r.EndedAt.IsZero() }

// Duration возвращает длительность сессии; для открытой считается до now.
func (r SessionRecord) Duration(now time.Time) time.Duration {
	end := r.EndedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(r.StartedAt)
}
