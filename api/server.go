// Package api — HTTP-фасад движка: приём сообщений и событий, запросы
// статистики, управление сессиями и модерацией.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"twitch-chat-analytics/engine"
	"twitch-chat-analytics/events"
	"twitch-chat-analytics/export"
	"twitch-chat-analytics/model"
	"twitch-chat-analytics/moderation"
	"twitch-chat-analytics/session"
)

// Engine перечисляет операции движка, которые публикует API.
type Engine interface {
	SubmitMessage(ctx context.Context, in model.InboundMessage) error
	ProcessMessage(ctx context.Context, in model.InboundMessage) (model.ChatMessage, error)
	SubmitEvent(ctx context.Context, ev model.PlatformEvent) error

	GetSnapshot() model.AnalyticsSnapshot
	GetStreamStats() model.StreamStats
	GetTopContributors(n int) []model.Ranked
	TopRaiders(n int) []model.Ranked
	TopCheerers(n int) []model.Ranked
	TopSubscribers(n int) []model.Ranked
	RecentEvents(n int) []model.PlatformEvent
	EventsByType(t model.EventType, n int) []model.PlatformEvent
	RecentMessages(n int) []model.ChatMessage
	UserStats(userID string) (model.UserStats, bool)

	StartSession() (string, error)
	EndSession(ctx context.Context) (model.SessionRecord, error)
	CurrentSession() (model.SessionRecord, bool)
	Session(id string) (model.SessionRecord, error)
	Sessions() []model.SessionRecord
	ExportSession(id string) ([]export.Row, error)

	Rules() moderation.Ruleset
	SetStrictness(level moderation.Strictness) error
	ContributorWeights() events.Weights
	Blocklist() *moderation.Blocklist
	Filter(userID, text string, t model.Tier) moderation.Result
}

// Server — echo-сервер поверх движка.
type Server struct {
	log    *logrus.Entry
	echo   *echo.Echo
	engine Engine
}

// NewServer регистрирует маршруты. Слушать порт начинает Start.
func NewServer(eng Engine, log *logrus.Entry) *Server {
	s := &Server{
		log:    log.WithField("component", "api"),
		engine: eng,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(s.observe)

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/api")
	g.POST("/messages", s.handlePostMessage)
	g.POST("/events", s.handlePostEvent)
	g.POST("/twitch/eventsub", s.handleEventSub)

	g.GET("/analytics/messages", s.handleMessageStats)
	g.GET("/analytics/events", s.handleStreamStats)
	g.GET("/analytics/contributors", s.handleContributors)
	g.GET("/analytics/recent-events", s.handleRecentEvents)
	g.GET("/analytics/recent-messages", s.handleRecentMessages)
	g.GET("/analytics/users/:id", s.handleUserStats)

	g.POST("/sessions", s.handleStartSession)
	g.DELETE("/sessions/current", s.handleEndSession)
	g.GET("/sessions", s.handleListSessions)
	g.GET("/sessions/current", s.handleCurrentSession)
	g.GET("/sessions/:id", s.handleGetSession)
	g.GET("/sessions/:id/export", s.handleExportSession)

	g.GET("/moderation/rules", s.handleGetRules)
	g.PUT("/moderation/strictness", s.handleSetStrictness)
	g.POST("/moderation/filter", s.handleFilter)
	g.GET("/moderation/blocklist", s.handleListBlocked)
	g.POST("/moderation/blocklist", s.handleBlockUser)
	g.DELETE("/moderation/blocklist/:user", s.handleUnblockUser)

	s.echo = e
	return s
}

// Handler отдаёт http.Handler сервера; используется в тестах.
func (s *Server) Handler() http.Handler { return s.echo }

// Start слушает addr до Shutdown. После Shutdown возвращает nil.
func (s *Server) Start(addr string) error {
	s.log.WithField("addr", addr).Info("starting HTTP API")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// observe пишет access-лог и гистограмму задержек.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		status := c.Response().Status
		latency := time.Since(start)
		requestDuration.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).
			Observe(latency.Seconds())

		entry := s.log.WithFields(logrus.Fields{
			"method":  c.Request().Method,
			"uri":     c.Request().RequestURI,
			"status":  status,
			"latency": latency.String(),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request failed")
		} else {
			entry.Debug("request served")
		}
		return nil
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleError переводит доменные ошибки в HTTP-статусы.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := err.Error()

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, moderation.ErrInvalidRuleset):
		code = http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownSession):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrNoOpenSession):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrShuttingDown),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}

	if code >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.Path()).Error("HTTP request error")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorResponse{Error: msg})
	}
	if err != nil {
		s.log.WithError(err).Warn("failed to write error response")
	}
}

type healthStatus struct {
	Status  string `json:"status"`
	Session string `json:"session,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	status := healthStatus{Status: "ok"}
	if rec, ok := s.engine.CurrentSession(); ok {
		status.Session = rec.ID
	}
	return c.JSON(http.StatusOK, status)
}

// bindValid разбирает тело запроса и проверяет теги validate.
func bindValid(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return err
	}
	if err := c.Validate(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// queryLimit читает ?limit=N, ограничивая его диапазоном [1, max].
func queryLimit(c echo.Context, def, max int) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}
	return min(n, max), nil
}
