package twitch

import (
	"context"
	"strconv"
	"strings"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"
	"github.com/sirupsen/logrus"

	"twitch-chat-analytics/config"
	"twitch-chat-analytics/model"
	"twitch-chat-analytics/tier"
)

// Handler принимает Twitch-события, преобразованные в доменные модели.
type Handler interface {
	HandleMessage(context.Context, model.InboundMessage)
	HandleEvent(context.Context, model.PlatformEvent)
}

// Client оборачивает go-twitch-irc и настраивает обработчики.
type Client struct {
	log      *logrus.Entry
	client   *twitchirc.Client
	handler  Handler
	channels []string
	baseCtx  context.Context
}

// NewClient инициализирует IRC-клиент и регистрирует колбэки. Без учётных
// данных клиент подключается анонимно и только читает чат.
func NewClient(cfg config.TwitchConfig, handler Handler, log *logrus.Entry) *Client {
	var client *twitchirc.Client
	if cfg.Anonymous() {
		client = twitchirc.NewAnonymousClient()
	} else {
		client = twitchirc.NewClient(cfg.Username, cfg.OAuthToken)
	}

	c := &Client{
		log:      log.WithField("component", "twitch"),
		client:   client,
		handler:  handler,
		channels: cfg.Channels,
	}

	client.OnPrivateMessage(func(m twitchirc.PrivateMessage) {
		ctx := c.context()
		c.handler.HandleMessage(ctx, toInboundMessage(m))
		if ev, ok := cheerEvent(m); ok {
			c.handler.HandleEvent(ctx, ev)
		}
	})

	client.OnUserNoticeMessage(func(m twitchirc.UserNoticeMessage) {
		ctx := c.context()
		for _, ev := range toPlatformEvents(m) {
			c.handler.HandleEvent(ctx, ev)
		}
	})

	client.OnConnect(func() {
		c.log.WithField("channels", cfg.Channels).Info("connected, joining channels")
		for _, ch := range cfg.Channels {
			if ch == "" {
				continue
			}
			client.Join(strings.ToLower(ch))
		}
	})

	client.OnReconnectMessage(func(message twitchirc.ReconnectMessage) {
		c.log.WithField("raw", message.Raw).Warn("server requested RECONNECT")
	})

	client.OnNoticeMessage(func(msg twitchirc.NoticeMessage) {
		c.log.WithFields(logrus.Fields{
			"channel": normalizeChannel(msg.Channel),
			"msg_id":  msg.MsgID,
		}).Info(msg.Message)
	})

	return c
}

// Run подключает клиента и блокируется до отмены контекста или ошибки.
func (c *Client) Run(ctx context.Context) error {
	c.baseCtx = ctx
	errCh := make(chan error, 1)

	go func() {
		errCh <- c.client.Connect()
	}()

	select {
	case <-ctx.Done():
		c.client.Disconnect()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func toInboundMessage(m twitchirc.PrivateMessage) model.InboundMessage {
	sentAt := m.Time
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	return model.InboundMessage{
		ID:          m.ID,
		Channel:     normalizeChannel(m.Channel),
		UserID:      m.User.ID,
		DisplayName: displayName(m.User),
		Text:        m.Message,
		Roles:       rolesFromIRC(m.User.Badges, m.Tags, m.Bits),
		Highlighted: m.Tags["msg-id"] == "highlighted-message",
		Timestamp:   sentAt,
	}
}

func rolesFromIRC(badges map[string]int, tags map[string]string, bits int) model.RoleFlags {
	roles := model.RoleFlags{
		Broadcaster: badges["broadcaster"] > 0,
		Moderator:   badges["moderator"] > 0 || tags["mod"] == "1",
		VIP:         badges["vip"] > 0 || tags["vip"] == "1",
		Verified:    badges["partner"] > 0,
		Bits:        bits,
	}
	if version, ok := badges["subscriber"]; ok {
		roles.SubscriberTier = tier.SubscriberTierFromBadge(version)
	} else if version, ok := badges["founder"]; ok {
		roles.SubscriberTier = tier.SubscriberTierFromBadge(version)
	}
	return roles
}

func cheerEvent(m twitchirc.PrivateMessage) (model.PlatformEvent, bool) {
	if m.Bits <= 0 {
		return model.PlatformEvent{}, false
	}
	return model.PlatformEvent{
		Type:      model.EventCheer,
		Timestamp: eventTime(m.Time),
		User:      displayName(m.User),
		Payload:   model.Cheer{Bits: m.Bits, Message: m.Message},
	}, true
}

// toPlatformEvents переводит USERNOTICE в события. Подарки внутри массового
// подарка пропускаются: их уже учитывает submysterygift.
func toPlatformEvents(m twitchirc.UserNoticeMessage) []model.PlatformEvent {
	at := eventTime(m.Time)
	user := displayName(m.User)
	params := m.MsgParams

	switch m.MsgID {
	case "sub", "resub":
		return []model.PlatformEvent{{
			Type:      model.EventSubscription,
			Timestamp: at,
			User:      user,
			Payload: model.Subscription{
				Tier:    tier.SubscriberTierFromPlan(params["msg-param-sub-plan"]),
				Months:  atoi(params["msg-param-cumulative-months"]),
				Message: m.Message,
			},
		}}
	case "subgift", "anonsubgift":
		if params["msg-param-community-gift-id"] != "" {
			return nil
		}
		return []model.PlatformEvent{{
			Type:      model.EventSubscription,
			Timestamp: at,
			User:      user,
			Payload: model.Subscription{
				Tier:      tier.SubscriberTierFromPlan(params["msg-param-sub-plan"]),
				Gift:      true,
				GiftCount: 1,
			},
		}}
	case "submysterygift", "anonsubmysterygift":
		return []model.PlatformEvent{{
			Type:      model.EventSubscription,
			Timestamp: at,
			User:      user,
			Payload: model.Subscription{
				Tier:      tier.SubscriberTierFromPlan(params["msg-param-sub-plan"]),
				Gift:      true,
				GiftCount: max(1, atoi(params["msg-param-mass-gift-count"])),
			},
		}}
	case "raid":
		from := params["msg-param-displayName"]
		if from == "" {
			from = params["msg-param-login"]
		}
		return []model.PlatformEvent{{
			Type:      model.EventRaid,
			Timestamp: at,
			User:      from,
			Payload: model.Raid{
				ViewerCount: atoi(params["msg-param-viewerCount"]),
				FromChannel: from,
			},
		}}
	}
	return nil
}

func displayName(u twitchirc.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

func eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func normalizeChannel(ch string) string {
	return strings.TrimPrefix(strings.TrimSpace(ch), "#")
}

func (c *Client) context() context.Context {
	if c.baseCtx != nil {
		return c.baseCtx
	}
	return context.Background()
}
