package analytics

import (
	"sync"
	"sync/atomic"
	"time"

	"twitch-chat-analytics/model"
	"twitch-chat-analytics/moderation"
)

// Profile — состояние одного пользователя. Пишет в него только воркер шарда,
// которому принадлежит пользователь; mu нужен для конкурентных читателей.
type Profile struct {
	mu           sync.Mutex
	userID       string
	displayName  string
	tier         model.Tier
	messageCount int64
	blockedCount int64
	firstSeen    time.Time
	lastSeen     time.Time
	history      *moderation.History

	// touched хранит UnixNano последнего обращения; очистка читает его без mu.
	touched atomic.Int64

	// inflight меняется только внутри Compute по ключу профиля.
	inflight int
}

func newProfile(userID string, historySize int) *Profile {
	return &Profile{
		userID:  userID,
		history: moderation.NewHistory(historySize),
	}
}

// UserID возвращает идентификатор владельца профиля.
func (p *Profile) UserID() string { return p.userID }

// WithHistory выполняет fn с историей сообщений пользователя под блокировкой профиля.
func (p *Profile) WithHistory(fn func(h *moderation.History)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.history)
}

// Tier возвращает уровень, закешированный с последнего сообщения.
func (p *Profile) Tier() model.Tier {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tier
}

func (p *Profile) record(msg model.ChatMessage, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.Author != "" {
		p.displayName = msg.Author
	}
	p.tier = msg.Tier
	p.messageCount++
	if msg.Blocked() {
		p.blockedCount++
	}
	if p.firstSeen.IsZero() {
		p.firstSeen = msg.Timestamp
	}
	p.lastSeen = msg.Timestamp
	p.touch(now)
}

func (p *Profile) touch(now time.Time) { p.touched.Store(now.UnixNano()) }

func (p *Profile) idleSince() time.Time { return time.Unix(0, p.touched.Load()) }

func (p *Profile) stats() model.UserStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.UserStats{
		UserID:         p.userID,
		DisplayName:    p.displayName,
		Tier:           p.tier,
		MessageCount:   p.messageCount,
		BlockedCount:   p.blockedCount,
		LastSeen:       p.lastSeen,
		RecentMessages: p.history.Len(),
	}
}
