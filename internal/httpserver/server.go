package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ddoriboo/ourstory/internal/interview"
	"github.com/ddoriboo/ourstory/internal/story"
	"github.com/ddoriboo/ourstory/internal/transcript"
)

// Interview is the orchestrator surface the control API drives.
type Interview interface {
	Snapshot() interview.State
	Catalog() *interview.Catalog
	Store() *transcript.Store
	SelectSession(ctx context.Context, number int) error
	NextQuestion() int
	PreviousQuestion() int
	Reset(ctx context.Context) error
	StartRecording() error
	StopRecording()
}

// StoryMaker turns the transcript into an autobiography draft.
type StoryMaker interface {
	Create(ctx context.Context, title, sessionTitle string, turns []transcript.Turn) (story.Autobiography, error)
}

// Server exposes the local control API for the interview. storyMaker may be
// nil, in which case autobiography generation answers 503.
type Server struct {
	echo      *echo.Echo
	interview Interview
	story     StoryMaker
	log       zerolog.Logger
}

// New constructs the control server with routes registered.
func New(itv Interview, storyMaker StoryMaker, log zerolog.Logger) *Server {
	s := &Server{
		interview: itv,
		story:     storyMaker,
		log:       log.With().Str("component", "http").Logger(),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/state", s.handleState)
	e.GET("/api/sessions", s.handleSessions)
	e.GET("/api/transcript", s.handleTranscript)
	e.POST("/api/record/start", s.handleRecordStart)
	e.POST("/api/record/stop", s.handleRecordStop)
	e.POST("/api/session/select", s.handleSelectSession)
	e.POST("/api/question/next", s.handleNextQuestion)
	e.POST("/api/question/previous", s.handlePreviousQuestion)
	e.POST("/api/reset", s.handleReset)
	e.POST("/api/autobiographies", s.handleCreateStory)

	s.echo = e
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves the control API on addr, blocking until shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("control API listening")
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.interview.Snapshot())
}

func (s *Server) handleSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"sessions": s.interview.Catalog().Sessions(),
	})
}

func (s *Server) handleTranscript(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"turns": s.interview.Store().All(),
	})
}

func (s *Server) handleRecordStart(c echo.Context) error {
	if err := s.interview.StartRecording(); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, s.interview.Snapshot())
}

func (s *Server) handleRecordStop(c echo.Context) error {
	s.interview.StopRecording()
	return c.JSON(http.StatusOK, s.interview.Snapshot())
}

func (s *Server) handleSelectSession(c echo.Context) error {
	var req struct {
		Number int `json:"number"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.interview.SelectSession(c.Request().Context(), req.Number); err != nil {
		if errors.Is(err, interview.ErrSessionOutOfRange) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, s.interview.Snapshot())
}

func (s *Server) handleNextQuestion(c echo.Context) error {
	idx := s.interview.NextQuestion()
	return c.JSON(http.StatusOK, map[string]int{"questionIndex": idx})
}

func (s *Server) handlePreviousQuestion(c echo.Context) error {
	idx := s.interview.PreviousQuestion()
	return c.JSON(http.StatusOK, map[string]int{"questionIndex": idx})
}

func (s *Server) handleReset(c echo.Context) error {
	if err := s.interview.Reset(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, s.interview.Snapshot())
}

func (s *Server) handleCreateStory(c echo.Context) error {
	if s.story == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "story generation not configured")
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap := s.interview.Snapshot()
	doc, err := s.story.Create(c.Request().Context(), req.Title, snap.SessionTitle, s.interview.Store().All())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]any{"autobiography": doc})
}
