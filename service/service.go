package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"twitch-chat-analytics/config"
	"twitch-chat-analytics/engine"
	"twitch-chat-analytics/events"
	"twitch-chat-analytics/model"
	"twitch-chat-analytics/moderation"
)

// Engine описывает часть движка, которой управляет сервис.
type Engine interface {
	SubmitMessage(ctx context.Context, in model.InboundMessage) error
	SubmitEvent(ctx context.Context, ev model.PlatformEvent) error
	ApplyRules(rules *moderation.Ruleset, weights events.Weights, keepStrictness bool)
	Blocklist() *moderation.Blocklist
	Shutdown(ctx context.Context) error
}

// Runner работает до отмены контекста (Twitch клиент).
type Runner interface {
	Run(ctx context.Context) error
}

// HTTPServer описывает API-сервер с явной остановкой.
type HTTPServer interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// Service управляет жизненным циклом коннекторов, HTTP API, перечитывания
// правил и движка.
type Service struct {
	log       *logrus.Entry
	engine    Engine
	server    HTTPServer
	connector Runner
	addr      string
	rulesPath string
	grace     time.Duration
}

// New собирает Service. connector может быть nil, если коннектор не настроен.
func New(cfg config.Config, eng Engine, server HTTPServer, connector Runner, log *logrus.Entry) *Service {
	return &Service{
		log:       log.WithField("component", "service"),
		engine:    eng,
		server:    server,
		connector: connector,
		addr:      cfg.HTTP.Addr,
		rulesPath: cfg.RulesPath,
		grace:     cfg.Engine.GracePeriod,
	}
}

// Run блокируется до отмены контекста или первой ошибки компонента, затем
// останавливает движок, давая ему grace period на обработку очередей.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.connector != nil {
		g.Go(func() error {
			return s.connector.Run(gctx)
		})
	}

	g.Go(func() error {
		return s.server.Start(s.addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return config.WatchRules(gctx, s.rulesPath, s.log, s.ApplyRules)
	})

	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.grace+time.Second)
	defer cancel()
	if stopErr := s.engine.Shutdown(stopCtx); stopErr != nil {
		s.log.WithError(stopErr).Warn("engine shutdown exceeded its deadline")
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ApplyRules применяет перечитанный файл правил: правила и веса заменяются
// целиком, пользователи из файла добавляются в блоклист.
func (s *Service) ApplyRules(r config.Rules) {
	s.engine.ApplyRules(r.Moderation, r.Weights, false)
	for _, u := range r.BlockedUsers {
		s.engine.Blocklist().Add(u)
	}
	s.log.WithField("blocked_users", len(r.BlockedUsers)).Info("rules file applied")
}

// Handler реализует twitch.Handler и передаёт данные коннектора в движок.
type Handler struct {
	engine Engine
	log    *logrus.Entry
}

// NewHandler собирает Handler, используемый Twitch колбэками.
func NewHandler(eng Engine, log *logrus.Entry) *Handler {
	return &Handler{engine: eng, log: log.WithField("component", "ingest")}
}

// HandleMessage передаёт сообщение чата в движок.
func (h *Handler) HandleMessage(ctx context.Context, msg model.InboundMessage) {
	if err := h.engine.SubmitMessage(ctx, msg); err != nil {
		h.logSubmitError(err, logrus.Fields{"channel": msg.Channel, "user_id": msg.UserID})
	}
}

// HandleEvent передаёт событие платформы в движок.
func (h *Handler) HandleEvent(ctx context.Context, ev model.PlatformEvent) {
	if err := h.engine.SubmitEvent(ctx, ev); err != nil {
		h.logSubmitError(err, logrus.Fields{"event_type": ev.Type.String(), "user": ev.User})
	}
}

func (h *Handler) logSubmitError(err error, fields logrus.Fields) {
	entry := h.log.WithError(err).WithFields(fields)
	switch {
	case errors.Is(err, engine.ErrShuttingDown), errors.Is(err, context.Canceled):
		entry.Debug("dropped during shutdown")
	case engine.IsSoft(err):
		entry.Info("accepted with warning")
	default:
		entry.Warn("rejected by engine")
	}
}
