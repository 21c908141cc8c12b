package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/assistant"
	"github.com/fyrsmithlabs/deadlined/internal/extraction"
	"github.com/fyrsmithlabs/deadlined/internal/tracker"
)

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()

	all, err := s.deps.Deadlines.List(ctx)
	if err != nil {
		return apiError(err)
	}

	engine := "stopped"
	if s.deps.Reminders.IsRunning() {
		engine = "running"
	}
	services := map[string]string{"store": "ok", "scheduler": engine}
	for _, a := range s.deps.Extractor.Status(ctx) {
		state := "unavailable"
		if a.Available {
			state = "available"
		}
		services["extractor."+a.Name] = state
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Status:    "ok",
		Version:   s.deps.Version,
		Services:  services,
		Counts:    CountByStatus(all, time.Now()),
		Scheduled: len(s.deps.Reminders.Pending()),
	})
}

func (s *Server) handleListDeadlines(c echo.Context) error {
	all, err := s.deps.Deadlines.List(c.Request().Context())
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, all)
}

func (s *Server) handleCreateDeadline(c echo.Context) error {
	var req tracker.CreateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid create request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Title) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title field is required")
	}
	if req.DueAt.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "due_at field is required")
	}

	d, err := s.deps.Deadlines.Create(c.Request().Context(), req)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (s *Server) handleGetDeadline(c echo.Context) error {
	d, err := s.deps.Deadlines.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleUpdateDeadline(c echo.Context) error {
	var req tracker.UpdateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid update request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	d, err := s.deps.Deadlines.Update(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleDeleteDeadline(c echo.Context) error {
	if err := s.deps.Deadlines.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return apiError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAddRule(c echo.Context) error {
	var spec tracker.RuleSpec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rule, err := s.deps.Deadlines.AddRule(c.Request().Context(), c.Param("id"), spec)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusCreated, rule)
}

func (s *Server) handleSetRuleEnabled(c echo.Context) error {
	var req RuleToggleRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled field is required")
	}

	rule, err := s.deps.Deadlines.SetRuleEnabled(c.Request().Context(), c.Param("id"), c.Param("rule_id"), *req.Enabled)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, rule)
}

func (s *Server) handleExtract(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid extract request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	ctx := c.Request().Context()
	var (
		res extraction.Result
		err error
	)
	if req.Provider != "" {
		res, err = s.deps.Extractor.ExtractWith(ctx, req.Provider, req.Text)
	} else {
		res, err = s.deps.Extractor.Extract(ctx, req.Text)
	}
	if err != nil {
		return apiError(err)
	}
	if res.Candidates == nil {
		res.Candidates = []extraction.Candidate{}
	}
	return c.JSON(http.StatusOK, ExtractResponse{
		Candidates:  res.Candidates,
		Interpreter: res.Interpreter,
		Attempts:    res.Attempts,
	})
}

func (s *Server) handleExtractors(c echo.Context) error {
	return c.JSON(http.StatusOK, ExtractorsResponse{Extractors: s.deps.Extractor.Status(c.Request().Context())})
}

func (s *Server) handleChat(c echo.Context) error {
	if s.deps.Assistant == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "chat is not configured")
	}
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid chat request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}

	ans, err := s.deps.Assistant.Ask(c.Request().Context(), req.Question)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, ans)
}

func (s *Server) handleChatSuggestions(c echo.Context) error {
	return c.JSON(http.StatusOK, SuggestionsResponse{Questions: assistant.Suggestions()})
}

func (s *Server) handleIngestionList(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Ingestion.Statuses())
}

func (s *Server) handleIngestionStart(c echo.Context) error {
	name := c.Param("source")
	if err := s.deps.Ingestion.Start(name); err != nil {
		return apiError(err)
	}
	return s.ingestionStatus(c, http.StatusAccepted, name)
}

func (s *Server) handleIngestionStop(c echo.Context) error {
	name := c.Param("source")
	if err := s.deps.Ingestion.Stop(name); err != nil {
		return apiError(err)
	}
	return s.ingestionStatus(c, http.StatusOK, name)
}

func (s *Server) handleIngestionStatus(c echo.Context) error {
	return s.ingestionStatus(c, http.StatusOK, c.Param("source"))
}

func (s *Server) ingestionStatus(c echo.Context, code int, name string) error {
	st, err := s.deps.Ingestion.Status(name)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(code, st)
}

func (s *Server) handleIngestionPush(c echo.Context) error {
	var req PushRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	texts := req.Messages
	if req.Text != "" {
		texts = append(texts, req.Text)
	}
	if len(texts) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "text or messages field is required")
	}

	n, err := s.deps.Ingestion.Push(c.Param("source"), texts...)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusAccepted, PushResponse{Queued: n})
}

func (s *Server) handleReminders(c echo.Context) error {
	return c.JSON(http.StatusOK, RemindersResponse{
		Running:  s.deps.Reminders.IsRunning(),
		Triggers: s.deps.Reminders.Pending(),
	})
}

func (s *Server) handleNotificationStats(c echo.Context) error {
	if s.deps.Stats == nil {
		return c.JSON(http.StatusOK, map[string]any{})
	}
	return c.JSON(http.StatusOK, s.deps.Stats.Stats())
}
