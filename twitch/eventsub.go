package twitch

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"twitch-chat-analytics/model"
	"twitch-chat-analytics/tier"
)

// ErrNotNotification возвращается для служебных сообщений EventSub
// (session_welcome, keepalive, revocation), в которых нет события.
var ErrNotNotification = errors.New("eventsub: not a notification")

// Notification — результат разбора уведомления EventSub: сообщение чата,
// событие или ничего, если уведомление намеренно пропущено.
type Notification struct {
	Type    string
	Message *model.InboundMessage
	Event   *model.PlatformEvent
}

type eventSubEnvelope struct {
	Metadata *struct {
		MessageType      string    `json:"message_type"`
		MessageTimestamp time.Time `json:"message_timestamp"`
	} `json:"metadata"`
	Payload *eventSubPayload `json:"payload"`

	// вебхуки присылают subscription и event без обёртки
	eventSubPayload
}

type eventSubPayload struct {
	Subscription *struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

type eventSubText struct {
	Text string `json:"text"`
}

type eventSubBadge struct {
	SetID string `json:"set_id"`
	ID    string `json:"id"`
	Info  string `json:"info"`
}

type eventSubEvent struct {
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	UserLogin   string `json:"user_login"`
	IsAnonymous bool   `json:"is_anonymous"`

	ChatterUserID   string          `json:"chatter_user_id"`
	ChatterUserName string          `json:"chatter_user_name"`
	BroadcasterUser string          `json:"broadcaster_user_login"`
	MessageID       string          `json:"message_id"`
	MessageType     string          `json:"message_type"`
	Message         json.RawMessage `json:"message"`
	Badges          []eventSubBadge `json:"badges"`
	Cheer           *struct {
		Bits int `json:"bits"`
	} `json:"cheer"`

	Tier             string `json:"tier"`
	IsGift           bool   `json:"is_gift"`
	Total            int    `json:"total"`
	CumulativeMonths int    `json:"cumulative_months"`

	FromBroadcasterUserName string `json:"from_broadcaster_user_name"`
	Viewers                 int    `json:"viewers"`

	Bits int    `json:"bits"`
	Type string `json:"type"`

	CharityName string `json:"charity_name"`
	Amount      struct {
		Value         int64  `json:"value"`
		DecimalPlaces int    `json:"decimal_places"`
		Currency      string `json:"currency"`
	} `json:"amount"`

	Level    int `json:"level"`
	Progress int `json:"progress"`
	Goal     int `json:"goal"`

	UserInput string `json:"user_input"`
	Reward    struct {
		Title string `json:"title"`
		Type  string `json:"type"`
		Cost  int    `json:"cost"`
	} `json:"reward"`

	FollowedAt time.Time `json:"followed_at"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// text достаёт текст сообщения: EventSub присылает либо объект {text}, либо строку.
func (e eventSubEvent) text() string {
	if len(e.Message) == 0 {
		return ""
	}
	var obj eventSubText
	if err := json.Unmarshal(e.Message, &obj); err == nil {
		return obj.Text
	}
	var s string
	if err := json.Unmarshal(e.Message, &s); err == nil {
		return s
	}
	return ""
}

func (e eventSubEvent) user() string {
	if e.IsAnonymous {
		return "anonymous"
	}
	if e.UserName != "" {
		return e.UserName
	}
	return e.UserLogin
}

// ParseEventSub нормализует уведомление EventSub (websocket или webhook).
// Подпись вебхука проверяет вызывающий.
func ParseEventSub(body []byte) (Notification, error) {
	var env eventSubEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Notification{}, fmt.Errorf("%w: eventsub: %v", model.ErrValidation, err)
	}

	now := time.Now().UTC()
	payload := env.eventSubPayload
	if env.Metadata != nil {
		if env.Metadata.MessageType != "notification" {
			return Notification{}, fmt.Errorf("%w: %s", ErrNotNotification, env.Metadata.MessageType)
		}
		if !env.Metadata.MessageTimestamp.IsZero() {
			now = env.Metadata.MessageTimestamp.UTC()
		}
		if env.Payload != nil {
			payload = *env.Payload
		}
	}
	if payload.Subscription == nil || payload.Subscription.Type == "" {
		return Notification{}, fmt.Errorf("%w: eventsub: subscription type is missing", model.ErrValidation)
	}

	var ev eventSubEvent
	if len(payload.Event) > 0 {
		if err := json.Unmarshal(payload.Event, &ev); err != nil {
			return Notification{}, fmt.Errorf("%w: eventsub %s: %v", model.ErrValidation, payload.Subscription.Type, err)
		}
	}
	return normalize(payload.Subscription.Type, ev, payload.Event, now)
}

func normalize(subType string, ev eventSubEvent, raw json.RawMessage, at time.Time) (Notification, error) {
	n := Notification{Type: subType}
	event := func(t model.EventType, user string, p model.Payload) (Notification, error) {
		n.Event = &model.PlatformEvent{Type: t, Timestamp: at, User: user, Payload: p}
		return n, nil
	}

	switch subType {
	case "channel.chat.message":
		msg := model.InboundMessage{
			ID:          ev.MessageID,
			Channel:     ev.BroadcasterUser,
			UserID:      ev.ChatterUserID,
			DisplayName: ev.ChatterUserName,
			Text:        ev.text(),
			Roles:       rolesFromEventSub(ev.Badges),
			Highlighted: ev.MessageType == "channel_points_highlighted",
			Timestamp:   at,
		}
		if ev.Cheer != nil {
			msg.Roles.Bits = ev.Cheer.Bits
		}
		n.Message = &msg
		return n, nil
	case "channel.follow":
		if !ev.FollowedAt.IsZero() {
			at = ev.FollowedAt.UTC()
		}
		return event(model.EventFollow, ev.user(), model.Follow{})
	case "channel.subscribe":
		// подарочные подписки учитываются событием channel.subscription.gift
		if ev.IsGift {
			return n, nil
		}
		return event(model.EventSubscription, ev.user(), model.Subscription{
			Tier: tier.SubscriberTierFromPlan(ev.Tier),
		})
	case "channel.subscription.gift":
		return event(model.EventSubscription, ev.user(), model.Subscription{
			Tier:      tier.SubscriberTierFromPlan(ev.Tier),
			Gift:      true,
			GiftCount: max(1, ev.Total),
		})
	case "channel.subscription.message":
		return event(model.EventSubscription, ev.user(), model.Subscription{
			Tier:    tier.SubscriberTierFromPlan(ev.Tier),
			Months:  ev.CumulativeMonths,
			Message: ev.text(),
		})
	case "channel.raid":
		return event(model.EventRaid, ev.FromBroadcasterUserName, model.Raid{
			ViewerCount: ev.Viewers,
			FromChannel: ev.FromBroadcasterUserName,
		})
	case "channel.cheer":
		return event(model.EventCheer, ev.user(), model.Cheer{Bits: ev.Bits, Message: ev.text()})
	case "channel.bits.use":
		if ev.Type != "" && ev.Type != "cheer" {
			return event(model.EventOther, ev.user(), model.Raw{Name: subType, Fields: rawFields(raw)})
		}
		return event(model.EventCheer, ev.user(), model.Cheer{Bits: ev.Bits, Message: ev.text()})
	case "channel.charity_campaign.donate":
		amount := float64(ev.Amount.Value) / math.Pow10(ev.Amount.DecimalPlaces)
		return event(model.EventCharityDonation, ev.user(), model.CharityDonation{
			Amount:   amount,
			Currency: ev.Amount.Currency,
			Charity:  ev.CharityName,
		})
	case "channel.hype_train.begin":
		return event(model.EventHypeTrainStart, "", model.HypeTrain{Level: max(1, ev.Level), Progress: ev.Progress, Goal: ev.Goal})
	case "channel.hype_train.progress":
		return event(model.EventHypeTrainProgress, "", model.HypeTrain{Level: ev.Level, Progress: ev.Progress, Goal: ev.Goal})
	case "channel.hype_train.end":
		return event(model.EventHypeTrainEnd, "", model.HypeTrain{Level: ev.Level})
	case "channel.channel_points_custom_reward_redemption.add",
		"channel.channel_points_automatic_reward_redemption.add":
		if !ev.RedeemedAt.IsZero() {
			at = ev.RedeemedAt.UTC()
		}
		reward := ev.Reward.Title
		if reward == "" {
			reward = ev.Reward.Type
		}
		input := ev.UserInput
		if input == "" {
			input = ev.text()
		}
		return event(model.EventChannelPointRedemption, ev.user(), model.Redemption{
			Reward: reward,
			Cost:   ev.Reward.Cost,
			Input:  input,
		})
	}

	n.Event = &model.PlatformEvent{
		Type:      model.EventOther,
		Timestamp: at,
		User:      ev.user(),
		Payload:   model.Raw{Name: subType, Fields: rawFields(raw)},
	}
	return n, fmt.Errorf("%w: %s", model.ErrUnknownEventType, subType)
}

func rolesFromEventSub(badges []eventSubBadge) model.RoleFlags {
	var roles model.RoleFlags
	for _, b := range badges {
		switch strings.ToLower(b.SetID) {
		case "broadcaster":
			roles.Broadcaster = true
		case "moderator":
			roles.Moderator = true
		case "vip":
			roles.VIP = true
		case "partner":
			roles.Verified = true
		case "subscriber", "founder":
			roles.SubscriberTier = tier.SubscriberTierFromBadge(atoi(b.ID))
		}
	}
	return roles
}

func rawFields(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}
