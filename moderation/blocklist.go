package moderation

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// BlockedUser описывает запись блоклиста.
type BlockedUser struct {
	UserID  string    `json:"user_id"`
	Name    string    `json:"name,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Blocklist — потокобезопасный набор заблокированных пользователей.
type Blocklist struct {
	mu    sync.RWMutex
	users map[string]BlockedUser
}

func NewBlocklist(userIDs ...string) *Blocklist {
	b := &Blocklist{users: make(map[string]BlockedUser, len(userIDs))}
	now := time.Now().UTC()
	for _, id := range userIDs {
		if id = strings.TrimSpace(id); id != "" {
			b.users[id] = BlockedUser{UserID: id, Reason: "config", AddedAt: now}
		}
	}
	return b
}

// Add добавляет или обновляет запись. Пустой UserID игнорируется.
func (b *Blocklist) Add(u BlockedUser) bool {
	u.UserID = strings.TrimSpace(u.UserID)
	if u.UserID == "" {
		return false
	}
	if u.AddedAt.IsZero() {
		u.AddedAt = time.Now().UTC()
	}
	if u.Reason == "" {
		u.Reason = "No reason provided"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[u.UserID] = u
	return true
}

// Remove удаляет пользователя и сообщает, был ли он в списке.
func (b *Blocklist) Remove(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.users[userID]
	delete(b.users, userID)
	return ok
}

func (b *Blocklist) Contains(userID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.users[userID]
	return ok
}

func (b *Blocklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.users)
}

// List возвращает записи, отсортированные по UserID.
func (b *Blocklist) List() []BlockedUser {
	b.mu.RLock()
	out := make([]BlockedUser, 0, len(b.users))
	for _, u := range b.users {
		out = append(out, u)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
