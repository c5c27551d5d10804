package twitch

import (
	"testing"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-analytics/model"
	"twitch-chat-analytics/tier"
)

var sentAt = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

func TestToInboundMessage(t *testing.T) {
	m := twitchirc.PrivateMessage{
		User: twitchirc.User{
			ID:          "123",
			Name:        "viewer",
			DisplayName: "Viewer",
			Badges:      map[string]int{"subscriber": 2012, "vip": 1},
		},
		Tags:    map[string]string{"msg-id": "highlighted-message"},
		Message: "hello chat",
		Channel: "#Streamer",
		ID:      "msg-1",
		Time:    sentAt,
		Bits:    0,
	}

	in := toInboundMessage(m)
	assert.Equal(t, "msg-1", in.ID)
	assert.Equal(t, "Streamer", in.Channel)
	assert.Equal(t, "123", in.UserID)
	assert.Equal(t, "Viewer", in.DisplayName)
	assert.Equal(t, "hello chat", in.Text)
	assert.True(t, in.Highlighted)
	assert.True(t, in.Roles.VIP)
	assert.Equal(t, 2, in.Roles.SubscriberTier)
	assert.Equal(t, sentAt, in.Timestamp)
	require.NoError(t, in.Validate())

	_, ok := cheerEvent(m)
	assert.False(t, ok)
}

func TestCheerFromPrivateMessage(t *testing.T) {
	m := twitchirc.PrivateMessage{
		User:    twitchirc.User{ID: "9", Name: "cheerer", Badges: map[string]int{"moderator": 1}},
		Tags:    map[string]string{},
		Message: "cheer100 nice",
		Time:    sentAt,
		Bits:    100,
	}

	in := toInboundMessage(m)
	assert.Equal(t, "cheerer", in.DisplayName)
	assert.True(t, in.Roles.Moderator)
	assert.Equal(t, 100, in.Roles.Bits)

	ev, ok := cheerEvent(m)
	require.True(t, ok)
	assert.Equal(t, model.EventCheer, ev.Type)
	assert.Equal(t, "cheerer", ev.User)
	assert.Equal(t, model.Cheer{Bits: 100, Message: "cheer100 nice"}, ev.Payload)
}

func TestToPlatformEvents(t *testing.T) {
	user := twitchirc.User{Name: "fan", DisplayName: "Fan"}
	cases := []struct {
		name   string
		msgID  string
		params map[string]string
		want   []model.PlatformEvent
	}{
		{
			name:   "resub",
			msgID:  "resub",
			params: map[string]string{"msg-param-sub-plan": "2000", "msg-param-cumulative-months": "7"},
			want: []model.PlatformEvent{{
				Type: model.EventSubscription, Timestamp: sentAt, User: "Fan",
				Payload: model.Subscription{Tier: 2, Months: 7, Message: "love it"},
			}},
		},
		{
			name:   "mystery gift",
			msgID:  "submysterygift",
			params: map[string]string{"msg-param-sub-plan": "1000", "msg-param-mass-gift-count": "5"},
			want: []model.PlatformEvent{{
				Type: model.EventSubscription, Timestamp: sentAt, User: "Fan",
				Payload: model.Subscription{Tier: 1, Gift: true, GiftCount: 5},
			}},
		},
		{
			name:   "gift inside mystery gift",
			msgID:  "subgift",
			params: map[string]string{"msg-param-sub-plan": "1000", "msg-param-community-gift-id": "42"},
		},
		{
			name:   "single gift",
			msgID:  "subgift",
			params: map[string]string{"msg-param-sub-plan": "3000"},
			want: []model.PlatformEvent{{
				Type: model.EventSubscription, Timestamp: sentAt, User: "Fan",
				Payload: model.Subscription{Tier: 3, Gift: true, GiftCount: 1},
			}},
		},
		{
			name:   "raid",
			msgID:  "raid",
			params: map[string]string{"msg-param-displayName": "Raider", "msg-param-viewerCount": "150"},
			want: []model.PlatformEvent{{
				Type: model.EventRaid, Timestamp: sentAt, User: "Raider",
				Payload: model.Raid{ViewerCount: 150, FromChannel: "Raider"},
			}},
		},
		{
			name:  "announcement",
			msgID: "announcement",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := toPlatformEvents(twitchirc.UserNoticeMessage{
				User:      user,
				Message:   "love it",
				Time:      sentAt,
				MsgID:     tc.msgID,
				MsgParams: tc.params,
			})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSubscriberTierHelpers(t *testing.T) {
	assert.Equal(t, 1, tier.SubscriberTierFromBadge(12))
	assert.Equal(t, 3, tier.SubscriberTierFromBadge(3024))
	assert.Equal(t, 1, tier.SubscriberTierFromPlan("Prime"))
}
