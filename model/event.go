package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownEventType является мягкой ошибкой: событие всё равно учитывается как EventOther.
var ErrUnknownEventType = errors.New("unknown event type")

// EventType — закрытое перечисление типов платформенных событий.
type EventType int

const (
	EventOther EventType = iota
	EventFollow
	EventSubscription
	EventRaid
	EventCheer
	EventHypeTrainStart
	EventHypeTrainProgress
	EventHypeTrainEnd
	EventChannelPointRedemption
	EventCharityDonation
	EventVoiceJoin
	EventVoiceLeave
	EventMemberJoin
	EventReaction
	EventError
)

// EventTypes перечисляет все типы в порядке вывода.
var EventTypes = []EventType{
	EventFollow, EventSubscription, EventRaid, EventCheer,
	EventHypeTrainStart, EventHypeTrainProgress, EventHypeTrainEnd,
	EventChannelPointRedemption, EventCharityDonation,
	EventVoiceJoin, EventVoiceLeave, EventMemberJoin, EventReaction,
	EventError, EventOther,
}

var eventTypeNames = map[EventType]string{
	EventOther:                  "other",
	EventFollow:                 "follow",
	EventSubscription:           "subscription",
	EventRaid:                   "raid",
	EventCheer:                  "cheer",
	EventHypeTrainStart:         "hype_train_start",
	EventHypeTrainProgress:      "hype_train_progress",
	EventHypeTrainEnd:           "hype_train_end",
	EventChannelPointRedemption: "channel_point_redemption",
	EventCharityDonation:        "charity_donation",
	EventVoiceJoin:              "voice_join",
	EventVoiceLeave:             "voice_leave",
	EventMemberJoin:             "member_join",
	EventReaction:               "reaction",
	EventError:                  "error",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "other"
}

// Valid сообщает, входит ли значение в перечисление.
func (t EventType) Valid() bool {
	_, ok := eventTypeNames[t]
	return ok
}

// ParseEventType возвращает EventOther и ErrUnknownEventType для неизвестных имён.
func ParseEventType(s string) (EventType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range eventTypeNames {
		if name == s {
			return t, nil
		}
	}
	return EventOther, fmt.Errorf("%w: %q", ErrUnknownEventType, s)
}

func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *EventType) UnmarshalText(b []byte) error {
	parsed, _ := ParseEventType(string(b))
	*t = parsed
	return nil
}

// Payload описывает вариант данных события; конкретный тип определяется EventType.
type Payload interface {
	payload()
}

// Follow не несёт дополнительных полей.
type Follow struct{}

// Subscription описывает подписку, продление или подарочные подписки.
type Subscription struct {
	Tier      int    `json:"tier"`
	Months    int    `json:"months,omitempty"`
	Gift      bool   `json:"gift,omitempty"`
	GiftCount int    `json:"gift_count,omitempty"`
	Message   string `json:"message,omitempty"`
}

type Raid struct {
	ViewerCount int    `json:"viewer_count"`
	FromChannel string `json:"from_channel,omitempty"`
}

type Cheer struct {
	Bits    int    `json:"bits"`
	Message string `json:"message,omitempty"`
}

// HypeTrain используется для начала, прогресса и конца hype train.
type HypeTrain struct {
	Level    int `json:"level"`
	Progress int `json:"progress,omitempty"`
	Goal     int `json:"goal,omitempty"`
}

type Redemption struct {
	Reward string `json:"reward"`
	Cost   int    `json:"cost,omitempty"`
	Input  string `json:"input,omitempty"`
}

type CharityDonation struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
	Charity  string  `json:"charity,omitempty"`
}

// Voice используется для voice_join и voice_leave.
type Voice struct {
	Channel string `json:"channel"`
}

type MemberJoin struct {
	Guild string `json:"guild,omitempty"`
}

type Reaction struct {
	Emoji     string `json:"emoji"`
	MessageID string `json:"message_id,omitempty"`
}

// Failure описывает ошибку, о которой сообщил коннектор.
type Failure struct {
	Message string `json:"message"`
}

// Raw хранит поля событий, тип которых не распознан.
type Raw struct {
	Name   string         `json:"name,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (Follow) payload()          {}
func (Subscription) payload()    {}
func (Raid) payload()            {}
func (Cheer) payload()           {}
func (HypeTrain) payload()       {}
func (Redemption) payload()      {}
func (CharityDonation) payload() {}
func (Voice) payload()           {}
func (MemberJoin) payload()      {}
func (Reaction) payload()        {}
func (Failure) payload()         {}
func (Raw) payload()             {}

// PlatformEvent — неизменяемое событие платформы.
type PlatformEvent struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Payload   Payload   `json:"payload"`
}

// Value возвращает основное числовое значение события для экспорта и статистики.
func (e PlatformEvent) Value() float64 {
	switch p := e.Payload.(type) {
	case Cheer:
		return float64(p.Bits)
	case Raid:
		return float64(p.ViewerCount)
	case Subscription:
		if p.GiftCount > 0 {
			return float64(p.GiftCount)
		}
		return 1
	case CharityDonation:
		return p.Amount
	case HypeTrain:
		return float64(p.Level)
	case Redemption:
		return float64(p.Cost)
	}
	return 0
}

// Detail возвращает текстовую часть события.
func (e PlatformEvent) Detail() string {
	switch p := e.Payload.(type) {
	case Cheer:
		return p.Message
	case Subscription:
		return fmt.Sprintf("tier=%d gift=%t", p.Tier, p.Gift)
	case Raid:
		return p.FromChannel
	case Redemption:
		return p.Reward
	case CharityDonation:
		return strings.TrimSpace(p.Currency + " " + p.Charity)
	case Voice:
		return p.Channel
	case MemberJoin:
		return p.Guild
	case Reaction:
		return p.Emoji
	case Failure:
		return p.Message
	case Raw:
		return p.Name
	}
	return ""
}

// NewEvent собирает событие из имени типа и произвольного JSON payload.
// Неизвестный тип даёт событие EventOther вместе с ErrUnknownEventType.
func NewEvent(typeName, user string, ts time.Time, raw json.RawMessage) (PlatformEvent, error) {
	t, typeErr := ParseEventType(typeName)
	payload, err := DecodePayload(t, raw)
	if err != nil {
		return PlatformEvent{}, err
	}
	if r, ok := payload.(Raw); ok && typeErr != nil {
		r.Name = typeName
		payload = r
	}
	return PlatformEvent{Type: t, User: user, Timestamp: ts, Payload: payload}, typeErr
}

// DecodePayload разбирает JSON в вариант, соответствующий типу события.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	var target Payload
	switch t {
	case EventFollow:
		return Follow{}, nil
	case EventSubscription:
		target = &Subscription{}
	case EventRaid:
		target = &Raid{}
	case EventCheer:
		target = &Cheer{}
	case EventHypeTrainStart, EventHypeTrainProgress, EventHypeTrainEnd:
		target = &HypeTrain{}
	case EventChannelPointRedemption:
		target = &Redemption{}
	case EventCharityDonation:
		target = &CharityDonation{}
	case EventVoiceJoin, EventVoiceLeave:
		target = &Voice{}
	case EventMemberJoin:
		target = &MemberJoin{}
	case EventReaction:
		target = &Reaction{}
	case EventError:
		target = &Failure{}
	default:
		var fields map[string]any
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &fields); err != nil {
				return nil, fmt.Errorf("%w: payload: %v", ErrValidation, err)
			}
		}
		return Raw{Fields: fields}, nil
	}

	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("%w: payload for %s: %v", ErrValidation, t, err)
		}
	}

	switch p := target.(type) {
	case *Subscription:
		return *p, nil
	case *Raid:
		return *p, nil
	case *Cheer:
		return *p, nil
	case *HypeTrain:
		return *p, nil
	case *Redemption:
		return *p, nil
	case *CharityDonation:
		return *p, nil
	case *Voice:
		return *p, nil
	case *MemberJoin:
		return *p, nil
	case *Reaction:
		return *p, nil
	case *Failure:
		return *p, nil
	}
	return Raw{}, nil
}
