package engine

import (
	"context"
	"fmt"

	"github.com/pullquiz/pullquiz/pkg/models"
)

// CommandError is the exported form of a rejected engine command. The
// HTTP layer maps Code onto a status.
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func commandError(perr *protocolError) error {
	if perr == nil {
		return nil
	}
	return &CommandError{Code: perr.Code, Message: perr.Message}
}

// Init sets up the game for this session and moves it to ready.
func (e *Engine) Init(ctx context.Context, tenantID string, questionIDs []string, rulesetID string) error {
	var err error
	werr := e.postWait(func() {
		err = e.initState(ctx, tenantID, questionIDs, rulesetID)
	})
	if werr != nil {
		return werr
	}
	return err
}

// Rehydrate installs previously persisted state. Called by the manager
// before any connection is handed to this engine.
func (e *Engine) Rehydrate(data []byte) error {
	var err error
	werr := e.postWait(func() { err = e.rehydrate(data) })
	if werr != nil {
		return werr
	}
	return err
}

// NextQuestion is the control-plane equivalent of TEACHER_NEXT_QUESTION.
func (e *Engine) NextQuestion(ctx context.Context) error {
	return e.teacherControl(func() *protocolError { return e.advance(ctx) })
}

// Pause freezes the active question.
func (e *Engine) Pause(ctx context.Context) error {
	return e.teacherControl(e.pause)
}

// Resume unfreezes a paused question.
func (e *Engine) Resume(ctx context.Context) error {
	return e.teacherControl(e.resume)
}

// EndGame finishes the session immediately.
func (e *Engine) EndGame(ctx context.Context, triggeredBy string) error {
	return e.teacherControl(func() *protocolError { return e.endGame(ctx, triggeredBy) })
}

// Adjust applies a manual rope adjustment.
func (e *Engine) Adjust(ctx context.Context, delta float64, triggeredBy string) error {
	if delta < -100 || delta > 100 {
		return &CommandError{Code: models.ErrCodeInvalidMessage, Message: "delta must be within [-100, 100]"}
	}
	return e.teacherControl(func() *protocolError { return e.manualAdjust(ctx, delta, triggeredBy) })
}

// Kick removes a student from the session.
func (e *Engine) Kick(ctx context.Context, studentID, reason string) error {
	return e.teacherControl(func() *protocolError { return e.kickStudent(ctx, studentID, reason) })
}

// SubmitAnswer is the HTTP fallback for SUBMIT_ANSWER: the same admission
// path as the WebSocket command, with the result returned to the caller
// instead of a targeted event. TUG_UPDATE still fans out to connected
// clients. The student's current team comes from the roster, so a stale
// caller-supplied team id cannot credit the wrong side.
func (e *Engine) SubmitAnswer(ctx context.Context, studentID, teamID, instanceID, answerID string) (*models.AnswerResultPayload, error) {
	var (
		result *models.AnswerResultPayload
		perr   *protocolError
	)
	werr := e.postWait(func() {
		if e.state == nil {
			perr = protoErr(models.ErrCodeSessionNotFound, "session has no game state")
			return
		}
		if e.failed {
			perr = protoErr(models.ErrCodeInternalError, "session engine is read-only after a storage failure")
			return
		}
		if e.state.KickedStudents[studentID] {
			perr = protoErr(models.ErrCodeKicked, "removed from this session")
			return
		}
		if st := e.state.StudentByID(studentID); st != nil {
			teamID = st.TeamID
		}
		result, perr = e.admitAnswer(ctx, studentID, teamID, instanceID, answerID)
	})
	if werr != nil {
		return nil, werr
	}
	if perr != nil {
		return nil, commandError(perr)
	}
	return result, nil
}

// GetState returns the role-projected snapshot, read on the actor
// goroutine so it is always internally consistent.
func (e *Engine) GetState(role models.Role) (*models.GameState, error) {
	var snapshot *models.GameState
	werr := e.postWait(func() {
		if e.state == nil {
			return
		}
		gs := e.state.Project(role)
		snapshot = &gs
	})
	if werr != nil {
		return nil, werr
	}
	if snapshot == nil {
		return nil, ErrSessionNotFound
	}
	return snapshot, nil
}

// Phase returns the current phase, or empty when uninitialized.
func (e *Engine) Phase() models.Phase {
	var phase models.Phase
	_ = e.postWait(func() {
		if e.state != nil {
			phase = e.state.Phase
		}
	})
	return phase
}

func (e *Engine) teacherControl(fn func() *protocolError) error {
	var perr *protocolError
	werr := e.postWait(func() {
		if e.state == nil {
			perr = protoErr(models.ErrCodeSessionNotFound, "session has no game state")
			return
		}
		if e.failed {
			perr = protoErr(models.ErrCodeInternalError, "session engine is read-only after a storage failure")
			return
		}
		perr = fn()
	})
	if werr != nil {
		return werr
	}
	return commandError(perr)
}
