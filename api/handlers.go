package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"twitch-chat-analytics/engine"
	"twitch-chat-analytics/events"
	"twitch-chat-analytics/export"
	"twitch-chat-analytics/model"
	"twitch-chat-analytics/moderation"
	"twitch-chat-analytics/session"
	"twitch-chat-analytics/twitch"
)

// acceptedResponse — ответ на асинхронный приём. Warning заполняется для
// мягких ошибок, при которых данные всё равно приняты.
type acceptedResponse struct {
	Status  string `json:"status"`
	Warning string `json:"warning,omitempty"`
}

func accepted(c echo.Context, warning error) error {
	resp := acceptedResponse{Status: "accepted"}
	if warning != nil {
		resp.Warning = warning.Error()
	}
	return c.JSON(http.StatusAccepted, resp)
}

// handlePostMessage принимает сообщение. С ?wait=true дожидается обработки и
// возвращает классифицированное сообщение.
func (s *Server) handlePostMessage(c echo.Context) error {
	var in model.InboundMessage
	if err := c.Bind(&in); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if c.QueryParam("wait") == "true" {
		msg, err := s.engine.ProcessMessage(ctx, in)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, msg)
	}

	if err := s.engine.SubmitMessage(ctx, in); err != nil {
		return err
	}
	return accepted(c, nil)
}

func (s *Server) handlePostEvent(c echo.Context) error {
	var req eventRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	ev, err := model.NewEvent(req.Type, req.User, req.Timestamp, req.Payload)
	if err != nil && !errors.Is(err, model.ErrUnknownEventType) {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	warning := err

	if err := s.engine.SubmitEvent(c.Request().Context(), ev); err != nil && !engine.IsSoft(err) {
		return err
	}
	return accepted(c, warning)
}

// handleEventSub принимает уведомление EventSub, подпись которого уже проверена
// прокси. Служебные сообщения подтверждаются без обработки.
func (s *Server) handleEventSub(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read body")
	}

	n, err := twitch.ParseEventSub(body)
	var warning error
	switch {
	case errors.Is(err, twitch.ErrNotNotification):
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, model.ErrUnknownEventType):
		warning = err
	case err != nil:
		return err
	}

	ctx := c.Request().Context()
	switch {
	case n.Message != nil:
		err = s.engine.SubmitMessage(ctx, *n.Message)
	case n.Event != nil:
		err = s.engine.SubmitEvent(ctx, *n.Event)
	default:
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil && !engine.IsSoft(err) {
		return err
	}
	return accepted(c, warning)
}

type messageStatsResponse struct {
	model.AnalyticsSnapshot
	MostActiveHour int `json:"most_active_hour"`
}

func (s *Server) handleMessageStats(c echo.Context) error {
	snap := s.engine.GetSnapshot()
	return c.JSON(http.StatusOK, messageStatsResponse{
		AnalyticsSnapshot: snap,
		MostActiveHour:    snap.Session.MostActiveHour(),
	})
}

func (s *Server) handleStreamStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.GetStreamStats())
}

// handleContributors отдаёт общий рейтинг или, с ?by=, рейтинг по одному виду
// поддержки.
func (s *Server) handleContributors(c echo.Context) error {
	limit, err := queryLimit(c, 10, 100)
	if err != nil {
		return err
	}

	var ranked []model.Ranked
	switch c.QueryParam("by") {
	case "":
		ranked = s.engine.GetTopContributors(limit)
	case "raiders":
		ranked = s.engine.TopRaiders(limit)
	case "cheerers":
		ranked = s.engine.TopCheerers(limit)
	case "subscribers":
		ranked = s.engine.TopSubscribers(limit)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "by must be one of raiders, cheerers, subscribers")
	}
	if ranked == nil {
		ranked = []model.Ranked{}
	}
	return c.JSON(http.StatusOK, ranked)
}

func (s *Server) handleRecentEvents(c echo.Context) error {
	limit, err := queryLimit(c, 20, 500)
	if err != nil {
		return err
	}

	var out []model.PlatformEvent
	if name := c.QueryParam("type"); name != "" {
		t, err := model.ParseEventType(name)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		out = s.engine.EventsByType(t, limit)
	} else {
		out = s.engine.RecentEvents(limit)
	}
	if out == nil {
		out = []model.PlatformEvent{}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRecentMessages(c echo.Context) error {
	limit, err := queryLimit(c, 20, 500)
	if err != nil {
		return err
	}
	out := s.engine.RecentMessages(limit)
	if out == nil {
		out = []model.ChatMessage{}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleUserStats(c echo.Context) error {
	stats, ok := s.engine.UserStats(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return c.JSON(http.StatusOK, stats)
}

type sessionResponse struct {
	ID      string `json:"id"`
	Warning string `json:"warning,omitempty"`
}

// handleStartSession открывает сессию. Если сессия уже открыта, возвращает её
// идентификатор с предупреждением и статусом 200.
func (s *Server) handleStartSession(c echo.Context) error {
	id, err := s.engine.StartSession()
	switch {
	case errors.Is(err, session.ErrSessionAlreadyOpen):
		return c.JSON(http.StatusOK, sessionResponse{ID: id, Warning: err.Error()})
	case err != nil:
		return err
	}
	return c.JSON(http.StatusCreated, sessionResponse{ID: id})
}

func (s *Server) handleEndSession(c echo.Context) error {
	rec, err := s.engine.EndSession(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleListSessions(c echo.Context) error {
	out := s.engine.Sessions()
	if out == nil {
		out = []model.SessionRecord{}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleCurrentSession(c echo.Context) error {
	rec, ok := s.engine.CurrentSession()
	if !ok {
		return session.ErrNoOpenSession
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleGetSession(c echo.Context) error {
	rec, err := s.engine.Session(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// handleExportSession отдаёт журнал сессии в CSV в порядке приёма.
func (s *Server) handleExportSession(c echo.Context) error {
	id := c.Param("id")
	rows, err := s.engine.ExportSession(id)
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "session_"+id+".csv"))
	res.WriteHeader(http.StatusOK)
	return export.WriteCSV(res, rows)
}

type rulesResponse struct {
	Rules        moderation.Ruleset `json:"rules"`
	Weights      events.Weights     `json:"contributor_weights"`
	BlockedUsers int                `json:"blocked_users"`
}

func (s *Server) handleGetRules(c echo.Context) error {
	return c.JSON(http.StatusOK, rulesResponse{
		Rules:        s.engine.Rules(),
		Weights:      s.engine.ContributorWeights(),
		BlockedUsers: s.engine.Blocklist().Len(),
	})
}

func (s *Server) handleSetStrictness(c echo.Context) error {
	var req strictnessRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	level, err := moderation.ParseStrictness(req.Level)
	if err != nil {
		return err
	}
	if err := s.engine.SetStrictness(level); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"strictness": level.String()})
}

type filterResponse struct {
	Score       float64  `json:"score"`
	Blocked     bool     `json:"blocked"`
	Flags       []string `json:"flags"`
	BlockedWord float64  `json:"blocked_word"`
	Caps        float64  `json:"caps"`
	Repetition  float64  `json:"repetition"`
}

// handleFilter оценивает текст по активным правилам, не затрагивая статистику.
func (s *Server) handleFilter(c echo.Context) error {
	var req filterRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	t := model.TierViewer
	if req.Tier != "" {
		parsed, err := model.ParseTier(req.Tier)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		t = parsed
	}

	res := s.engine.Filter(req.UserID, req.Text, t)
	flags := res.Flags.Names()
	if flags == nil {
		flags = []string{}
	}
	return c.JSON(http.StatusOK, filterResponse{
		Score:       res.Score,
		Blocked:     res.Blocked(),
		Flags:       flags,
		BlockedWord: res.BlockedWord,
		Caps:        res.Caps,
		Repetition:  res.Repetition,
	})
}

func (s *Server) handleListBlocked(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Blocklist().List())
}

func (s *Server) handleBlockUser(c echo.Context) error {
	var req blockRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	u := moderation.BlockedUser{
		UserID:  req.UserID,
		Name:    req.Name,
		Reason:  req.Reason,
		AddedAt: time.Now().UTC(),
	}
	if !s.engine.Blocklist().Add(u) {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	s.log.WithField("user_id", req.UserID).Info("user blocked")
	return c.JSON(http.StatusCreated, u)
}

func (s *Server) handleUnblockUser(c echo.Context) error {
	userID := c.Param("user")
	if !s.engine.Blocklist().Remove(userID) {
		return echo.NewHTTPError(http.StatusNotFound, "user is not blocked")
	}
	s.log.WithField("user_id", userID).Info("user unblocked")
	return c.NoContent(http.StatusNoContent)
}
