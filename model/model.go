package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrValidation возвращается для входящих сообщений без обязательных полей.
var ErrValidation = errors.New("validation error")

var validate = validator.New(validator.WithRequiredStructEnabled())

// RoleFlags хранит набор ролей/бейджей пользователя, нормализованный коннектором.
type RoleFlags struct {
	Broadcaster    bool `json:"broadcaster"`
	Moderator      bool `json:"moderator"`
	VIP            bool `json:"vip"`
	Verified       bool `json:"verified"`
	Follower       bool `json:"follower"`
	Anonymous      bool `json:"anonymous"`
	SubscriberTier int  `json:"subscriber_tier" validate:"gte=0,lte=3"`
	Bits           int  `json:"bits" validate:"gte=0"`
}

// InboundMessage — сообщение чата в каноническом виде, до классификации.
type InboundMessage struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	UserID      string    `json:"user_id" validate:"required"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	Roles       RoleFlags `json:"roles"`
	Highlighted bool      `json:"highlighted"`
	Timestamp   time.Time `json:"timestamp" validate:"required"`
}

// Validate проверяет обязательные поля. Ошибка всегда оборачивает ErrValidation.
func (m InboundMessage) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace())
		}
		return fmt.Errorf("%w: invalid fields %s", ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// ChatMessage — сообщение после модерации и классификации.
// Неизменяемо после того, как его принял агрегатор.
type ChatMessage struct {
	Seq             uint64    `json:"seq"`
	ID              string    `json:"id"`
	Channel         string    `json:"channel"`
	Author          string    `json:"author"`
	UserID          string    `json:"user_id"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	Tier            Tier      `json:"tier"`
	Sentiment       Sentiment `json:"sentiment"`
	ModerationScore float64   `json:"moderation_score"`
	Flags           Flags     `json:"flags"`
	Bits            int       `json:"bits"`
	FromBot         bool      `json:"from_bot"`
	ReplyEligible   bool      `json:"reply_eligible"`
}

// Blocked сообщает, превысил ли score порог блокировки.
func (m ChatMessage) Blocked() bool {
	return m.Flags.Has(FlagBlocked)
}

// Tier задаёт упорядоченный уровень пользователя; большее значение означает больше привилегий.
type Tier int

const (
	TierAnonymous Tier = iota
	TierViewer
	TierFollower
	TierBitsSupporter
	TierSubscriber1
	TierSubscriber2
	TierSubscriber3
	TierVIP
	TierModerator
	TierStreamer
)

// Tiers перечисляет все уровни по возрастанию.
var Tiers = []Tier{
	TierAnonymous, TierViewer, TierFollower, TierBitsSupporter,
	TierSubscriber1, TierSubscriber2, TierSubscriber3,
	TierVIP, TierModerator, TierStreamer,
}

var tierNames = map[Tier]string{
	TierAnonymous:     "anonymous",
	TierViewer:        "viewer",
	TierFollower:      "follower",
	TierBitsSupporter: "bits_supporter",
	TierSubscriber1:   "tier1_subscriber",
	TierSubscriber2:   "tier2_subscriber",
	TierSubscriber3:   "tier3_subscriber",
	TierVIP:           "vip",
	TierModerator:     "moderator",
	TierStreamer:      "streamer",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTier разбирает имя уровня, как его печатает String.
func ParseTier(s string) (Tier, error) {
	for t, name := range tierNames {
		if name == strings.ToLower(strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return TierAnonymous, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Sentiment описывает тональность сообщения.
type Sentiment int

const (
	SentimentNeutral Sentiment = iota
	SentimentPositive
	SentimentNegative
)

// Sentiments перечисляет все значения в порядке вывода.
var Sentiments = []Sentiment{SentimentPositive, SentimentNeutral, SentimentNegative}

func (s Sentiment) String() string {
	switch s {
	case SentimentPositive:
		return "positive"
	case SentimentNegative:
		return "negative"
	default:
		return "neutral"
	}
}

func (s Sentiment) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Sentiment) UnmarshalText(b []byte) error {
	switch string(b) {
	case "positive":
		*s = SentimentPositive
	case "negative":
		*s = SentimentNegative
	case "neutral", "":
		*s = SentimentNeutral
	default:
		return fmt.Errorf("unknown sentiment %q", b)
	}
	return nil
}

// Flags хранит набор причин модерации.
type Flags uint8

const (
	FlagBlockedWord Flags = 1 << iota
	FlagExcessiveCaps
	FlagRepetition
	FlagBlocklisted
	FlagBlocked
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagBlockedWord, "blocked_word"},
	{FlagExcessiveCaps, "excessive_caps"},
	{FlagRepetition, "repetition"},
	{FlagBlocklisted, "blocklisted"},
	{FlagBlocked, "blocked"},
}

// Has сообщает, установлен ли флаг.
func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Names возвращает имена установленных флагов в фиксированном порядке.
func (f Flags) Names() []string {
	out := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			out = append(out, fn.name)
		}
	}
	return out
}

func (f Flags) String() string { return strings.Join(f.Names(), "|") }

// ParseFlags разбирает вывод String.
func ParseFlags(s string) (Flags, error) {
	var out Flags
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, "|") {
		found := false
		for _, fn := range flagNames {
			if fn.name == part {
				out |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown flag %q", part)
		}
	}
	return out, nil
}

func (f Flags) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Names())
}

func (f *Flags) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	parsed, err := ParseFlags(strings.Join(names, "|"))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
