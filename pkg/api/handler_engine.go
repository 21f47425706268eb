package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pullquiz/pullquiz/pkg/engine"
	"github.com/pullquiz/pullquiz/pkg/models"
)

// initHandler handles POST /api/v1/sessions/:id/engine/init.
// Acquires the session lease, creates the engine, and starts the game.
func (s *Server) initHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	var req InitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.QuestionIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "questionIds must not be empty")
	}

	eng, err := s.manager.CreateSession(c.Request().Context(), sessionID)
	if err != nil {
		return mapEngineError(err)
	}
	if err := eng.Init(c.Request().Context(), req.TenantID, req.QuestionIDs, req.RulesetID); err != nil {
		return mapEngineError(err)
	}

	return c.JSON(http.StatusCreated, StatusResponse{Status: string(models.PhaseReady)})
}

// liveEngine resolves the engine for a session, rehydrating if needed.
func (s *Server) liveEngine(c *echo.Context) (*engine.Engine, error) {
	eng, err := s.manager.GetOrLoad(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, mapEngineError(err)
	}
	return eng, nil
}

func (s *Server) nextQuestionHandler(c *echo.Context) error {
	eng, err := s.liveEngine(c)
	if err != nil {
		return err
	}
	if err := eng.NextQuestion(c.Request().Context()); err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: string(eng.Phase())})
}

func (s *Server) pauseHandler(c *echo.Context) error {
	eng, err := s.liveEngine(c)
	if err != nil {
		return err
	}
	if err := eng.Pause(c.Request().Context()); err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: string(models.PhasePaused)})
}

func (s *Server) resumeHandler(c *echo.Context) error {
	eng, err := s.liveEngine(c)
	if err != nil {
		return err
	}
	if err := eng.Resume(c.Request().Context()); err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: string(models.PhaseActiveQuestion)})
}

func (s *Server) endHandler(c *echo.Context) error {
	eng, err := s.liveEngine(c)
	if err != nil {
		return err
	}
	identity := identityFrom(c)
	triggeredBy := ""
	if identity != nil {
		triggeredBy = identity.UserID
	}
	if err := eng.EndGame(c.Request().Context(), triggeredBy); err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: string(models.PhaseCompleted)})
}

func (s *Server) adjustHandler(c *echo.Context) error {
	var req AdjustRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	eng, err := s.liveEngine(c)
	if err != nil {
		return err
	}
	identity := identityFrom(c)
	triggeredBy := ""
	if identity != nil {
		triggeredBy = identity.UserID
	}
	if err := eng.Adjust(c.Request().Context(), req.Delta, triggeredBy); err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "adjusted"})
}

func (s *Server) kickHandler(c *echo.Context) error {
	var req KickRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.StudentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "studentId is required")
	}

	eng, err := s.liveEngine(c)
	if err != nil {
		return err
	}
	if err := eng.Kick(c.Request().Context(), req.StudentID, req.Reason); err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "kicked"})
}

// submitAnswerHandler handles POST /api/v1/sessions/:id/engine/answers,
// the fallback for students whose WebSocket dropped mid-question.
func (s *Server) submitAnswerHandler(c *echo.Context) error {
	var req SubmitAnswerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.InstanceID == "" || req.AnswerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "instanceId and answerId are required")
	}

	studentID, teamID := req.StudentID, req.TeamID
	if identity := identityFrom(c); identity != nil && identity.Role == models.RoleStudent {
		studentID = identity.UserID
		teamID = identity.TeamID
	}
	if studentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "studentId is required")
	}

	eng, err := s.liveEngine(c)
	if err != nil {
		return err
	}
	result, err := eng.SubmitAnswer(c.Request().Context(), studentID, teamID, req.InstanceID, req.AnswerID)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// getStateHandler returns the teacher-projected snapshot for dashboards.
func (s *Server) getStateHandler(c *echo.Context) error {
	eng, err := s.liveEngine(c)
	if err != nil {
		return err
	}
	state, err := eng.GetState(models.RoleTeacher)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, state)
}
