package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/pullquiz/pullquiz/pkg/game"
	"github.com/pullquiz/pullquiz/pkg/metrics"
	"github.com/pullquiz/pullquiz/pkg/models"
	"github.com/pullquiz/pullquiz/pkg/storage"
)

// initState installs the runtime state for a freshly started game and
// moves the phase machine from lobby to ready. Called once per session
// via the control API.
func (e *Engine) initState(ctx context.Context, tenantID string, questionIDs []string, rulesetID string) error {
	if e.state != nil {
		return ErrAlreadyInitialized
	}
	if len(questionIDs) == 0 {
		return errors.New("question id sequence is empty")
	}

	state := models.NewRuntimeState(e.sessionID, tenantID)
	state.QuestionIDs = questionIDs

	if rulesetID != "" {
		rs, err := e.store.LoadRuleset(ctx, rulesetID)
		if err != nil {
			return err
		}
		state.Ruleset = *rs
	}

	teams, students, err := e.store.LoadRoster(ctx, e.sessionID)
	if err != nil {
		return err
	}
	state.Teams = teams
	state.Students = students
	for _, t := range teams {
		state.Streaks[t.ID] = &models.Streak{}
	}

	next, err := game.Transition(state.Phase, models.PhaseReady)
	if err != nil {
		return err
	}
	state.Phase = next
	now := e.now()
	state.StartedAt = &now

	if err := e.store.UpdateSessionOnStart(ctx, e.sessionID, len(questionIDs), now); err != nil {
		return err
	}

	e.state = state
	e.persist()
	e.log.Info("Session initialized",
		"questions", len(questionIDs), "teams", len(teams), "students", len(students))
	return nil
}

// rehydrate restores state after hibernation and recovers the question
// deadline from the persisted timestamps. An already-due question is
// ended before any further command is processed.
func (e *Engine) rehydrate(data []byte) error {
	state, err := models.DecodeRuntimeState(data)
	if err != nil {
		return err
	}
	e.state = state
	e.failed = false

	if state.Phase == models.PhaseActiveQuestion && state.CurrentQuestion != nil && state.DeadlineAt != nil {
		remaining := state.DeadlineAt.Sub(e.now())
		if remaining <= 0 {
			e.log.Info("Question deadline passed during hibernation, ending question",
				"question_instance_id", state.CurrentQuestion.ID)
			e.endQuestion(context.Background())
			e.persist()
		} else {
			e.scheduleDeadline(state.CurrentQuestion.ID, remaining)
		}
	}
	return nil
}

// startQuestion snapshots the question at index into a fresh instance,
// persists it, arms the deadline, and pushes the role-filtered question
// event to all clients.
func (e *Engine) startQuestion(ctx context.Context, index int) error {
	state := e.state
	q, err := e.store.LoadQuestion(ctx, state.QuestionIDs[index])
	if err != nil {
		return err
	}

	timeLimitMs := q.TimeLimitMs
	if state.Ruleset.TimeLimitMs > 0 {
		timeLimitMs = state.Ruleset.TimeLimitMs
	}
	basePoints := q.Points
	if state.Ruleset.PointsPerCorrect > 0 {
		basePoints = state.Ruleset.PointsPerCorrect
	}

	now := e.now()
	inst := &models.QuestionInstance{
		ID:              uuid.New().String(),
		QuestionID:      q.ID,
		Index:           index,
		Text:            q.Text,
		CorrectAnswerID: q.CorrectAnswerID(),
		Type:            q.Type,
		Difficulty:      q.Difficulty,
		TimeLimitMs:     timeLimitMs,
		BasePoints:      basePoints,
		StartedAt:       now,
	}
	for _, a := range q.Answers {
		inst.Answers = append(inst.Answers, models.AnswerView{ID: a.ID, Text: a.Text})
	}

	if err := e.store.InsertQuestionInstance(ctx, e.sessionID, inst); err != nil {
		return err
	}

	next, err := game.Transition(state.Phase, models.PhaseActiveQuestion)
	if err != nil {
		return err
	}
	state.Phase = next
	state.CurrentQuestionIndex = index
	state.CurrentQuestion = inst
	state.Answers = make(map[string]*models.AttemptRecord)
	state.PausedRemainingMs = nil
	state.PausedTotalMs = 0
	deadline := now.Add(time.Duration(timeLimitMs) * time.Millisecond)
	state.DeadlineAt = &deadline
	state.QuestionSeq++

	e.scheduleDeadline(inst.ID, time.Duration(timeLimitMs)*time.Millisecond)

	e.broadcastByRole(e.questionEvent)

	e.log.Info("Question started",
		"question_instance_id", inst.ID, "index", index, "time_limit_ms", timeLimitMs)
	return nil
}

// questionEvent builds the role-projected QUESTION event for the current
// instance. Used for the start-of-question fan-out and for re-delivery on
// reconnect while the question is live.
func (e *Engine) questionEvent(role models.Role) models.ServerEvent {
	state := e.state
	inst := state.CurrentQuestion
	view := models.QuestionView{
		ID:          inst.ID,
		Text:        inst.Text,
		Answers:     inst.Answers,
		Type:        inst.Type,
		Difficulty:  inst.Difficulty,
		TimeLimitMs: inst.TimeLimitMs,
		Points:      inst.BasePoints,
	}
	if role == models.RoleTeacher {
		view.CorrectAnswerID = inst.CorrectAnswerID
	}
	return models.NewEvent(models.EventQuestion, models.QuestionPayload{
		Question:       view,
		QuestionIndex:  inst.Index,
		TotalQuestions: len(state.QuestionIDs),
		StartsAt:       inst.StartedAt,
		TimeLimitMs:    inst.TimeLimitMs,
	})
}

// admitAnswer applies at-most-one-per-question admission for a student's
// answer, persists the attempt, scores it, and applies tug movement for
// a correct answer. Returns the targeted result payload or a protocol
// error; state is persisted before returning.
func (e *Engine) admitAnswer(ctx context.Context, studentID, teamID, instanceID, choiceID string) (*models.AnswerResultPayload, *protocolError) {
	state := e.state
	now := e.now()

	if state.Phase == models.PhasePaused {
		return nil, errInvalidState(state.Phase, "submit_answer")
	}
	if state.Phase != models.PhaseActiveQuestion || state.CurrentQuestion == nil {
		return nil, protoErr(models.ErrCodeQuestionExpired, "no active question")
	}
	inst := state.CurrentQuestion
	if inst.ID != instanceID {
		return nil, protoErr(models.ErrCodeQuestionExpired, "question instance is no longer active")
	}
	if state.DeadlineAt != nil && now.After(*state.DeadlineAt) {
		// Deadline passed but the timer command has not run yet. The
		// submission is rejected, and the question ends right here so no
		// later submission can sneak in either.
		e.endQuestion(ctx)
		e.persist()
		return nil, protoErr(models.ErrCodeQuestionExpired, "question time limit exceeded")
	}
	if _, answered := state.Answers[studentID]; answered {
		return nil, protoErr(models.ErrCodeAlreadyAnswered, "answer already submitted for this question")
	}

	valid := false
	for _, a := range inst.Answers {
		if a.ID == choiceID {
			valid = true
			break
		}
	}
	if !valid {
		return nil, protoErr(models.ErrCodeInvalidAnswer, "unknown answer option")
	}

	responseTimeMs := int(now.Sub(inst.StartedAt).Milliseconds() - state.PausedTotalMs)
	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	correct := choiceID == inst.CorrectAnswerID

	points := 0
	if correct {
		points = game.ComputePoints(inst.BasePoints, responseTimeMs, inst.TimeLimitMs, state.Ruleset)
	}

	rec := &models.AttemptRecord{
		StudentID:      studentID,
		TeamID:         teamID,
		AnswerID:       choiceID,
		Correct:        correct,
		ResponseTimeMs: responseTimeMs,
		PointsAwarded:  points,
		SubmittedAt:    now,
	}

	// Persist before recording the admission so a storage failure leaves
	// the student free to retry.
	err := e.store.InsertAttempt(ctx, uuid.New().String(), inst.ID, e.sessionID, rec)
	if errors.Is(err, storage.ErrDuplicateAttempt) {
		return nil, protoErr(models.ErrCodeAlreadyAnswered, "answer already submitted for this question")
	}
	if err != nil {
		retryable := storage.IsRetryable(err)
		e.log.Error("Failed to persist attempt",
			"student_id", studentID, "retryable", retryable, "error", err)
		if retryable {
			return nil, protoErr(models.ErrCodeInternalError, "temporary storage failure, submit again")
		}
		return nil, protoErr(models.ErrCodeInternalError, "failed to record answer")
	}
	state.Answers[studentID] = rec
	metrics.AnswersAdmitted.WithLabelValues(strconv.FormatBool(correct)).Inc()

	result := &models.AnswerResultPayload{
		Correct:         correct,
		CorrectAnswerID: inst.CorrectAnswerID,
		NewPosition:     state.Position,
		PointsAwarded:   points,
		ResponseTimeMs:  responseTimeMs,
	}

	if correct {
		if team := state.TeamByID(teamID); team != nil {
			team.Score += points
			streak := game.ApplyStreak(state.Streaks, team.ID)
			delta := game.ComputeDelta(team.Side, points, streak, state.Ruleset)
			effective, err := e.applyTug(ctx, team.ID, delta, models.ReasonCorrectAnswer, studentID)
			if err != nil {
				e.log.Error("Failed to persist strength event", "team_id", team.ID, "error", err)
				return nil, protoErr(models.ErrCodeInternalError, "failed to record answer")
			}
			result.Delta = effective
			result.NewPosition = state.Position
		}
	}

	e.persist()
	return result, nil
}

// applyTug moves the rope, appends a strength event, and broadcasts the
// update in admission order. Returns the effective (clamped) delta.
func (e *Engine) applyTug(ctx context.Context, teamID string, delta float64, reason models.StrengthReason, triggeredBy string) (float64, error) {
	state := e.state
	newPos := game.ClampPosition(state.Position + delta)
	effective := newPos - state.Position

	eventID := state.LastEventID + 1
	err := e.store.InsertStrengthEvent(ctx, uuid.New().String(), e.sessionID, teamID,
		game.ScaleDelta(effective), reason, newPos, triggeredBy, e.now())
	if err != nil {
		return 0, err
	}

	state.Position = newPos
	state.LastEventID = eventID

	e.broadcast(models.NewEvent(models.EventTugUpdate, models.TugUpdatePayload{
		Position:    newPos,
		Delta:       effective,
		Reason:      reason,
		TeamID:      teamID,
		LastEventID: eventID,
	}))
	return effective, nil
}

// manualAdjust applies a teacher's direct rope adjustment, bypassing
// scoring. A zero delta is a no-op.
func (e *Engine) manualAdjust(ctx context.Context, delta float64, triggeredBy string) *protocolError {
	state := e.state
	switch state.Phase {
	case models.PhaseCompleted, models.PhaseLobby:
		return errInvalidState(state.Phase, "manual_adjust")
	}
	if delta == 0 {
		return nil
	}

	side := models.SideRight
	if delta < 0 {
		side = models.SideLeft
	}
	teamID := ""
	if team := state.TeamBySide(side); team != nil {
		teamID = team.ID
	}

	if _, err := e.applyTug(ctx, teamID, delta, models.ReasonManualAdjust, triggeredBy); err != nil {
		e.log.Error("Failed to persist manual adjustment", "error", err)
		return protoErr(models.ErrCodeInternalError, "failed to apply adjustment")
	}
	e.persist()
	return nil
}

// endQuestion closes the current question: sets ended_at, computes the
// reveal stats from the admission map, and transitions to reveal.
// Idempotent — a second call in the same phase is a no-op.
func (e *Engine) endQuestion(ctx context.Context) {
	state := e.state
	if state.Phase != models.PhaseActiveQuestion && state.Phase != models.PhasePaused {
		return
	}
	inst := state.CurrentQuestion
	if inst == nil || inst.EndedAt != nil {
		return
	}

	now := e.now()
	inst.EndedAt = &now
	if err := e.store.EndQuestionInstance(ctx, inst.ID, now); err != nil {
		// The in-memory instance is already closed; the row keeps
		// ended_at null until a later retry path (end_game) touches it.
		e.log.Error("Failed to mark question instance ended", "question_instance_id", inst.ID, "error", err)
	}

	e.cancelDeadline()
	state.DeadlineAt = nil
	state.PausedRemainingMs = nil

	stats := e.questionStats()

	prev := state.Phase
	state.Phase = models.PhaseReveal
	e.broadcast(models.NewEvent(models.EventQuestionReveal, models.QuestionRevealPayload{
		QuestionInstanceID: inst.ID,
		CorrectAnswerID:    inst.CorrectAnswerID,
		Stats:              stats,
	}))
	e.broadcastPhaseChange(prev)
	e.log.Info("Question ended",
		"question_instance_id", inst.ID,
		"attempts", stats.TotalAttempts, "correct", stats.CorrectAttempts)
}

// questionStats aggregates the current admission map.
func (e *Engine) questionStats() models.QuestionStats {
	state := e.state
	stats := models.QuestionStats{}
	perTeam := make(map[string]*models.TeamQuestionStats)
	for _, t := range state.Teams {
		ts := &models.TeamQuestionStats{TeamID: t.ID}
		perTeam[t.ID] = ts
	}
	totalMs := make(map[string]int)
	for _, rec := range state.Answers {
		stats.TotalAttempts++
		if rec.Correct {
			stats.CorrectAttempts++
		}
		if ts, ok := perTeam[rec.TeamID]; ok {
			ts.Attempts++
			if rec.Correct {
				ts.Correct++
			}
			totalMs[rec.TeamID] += rec.ResponseTimeMs
		}
	}
	for _, t := range state.Teams {
		ts := perTeam[t.ID]
		if ts.Attempts > 0 {
			ts.AvgResponseMs = float64(totalMs[t.ID]) / float64(ts.Attempts)
		}
		stats.TeamStats = append(stats.TeamStats, *ts)
	}
	return stats
}

// advance handles teacher_next_question. During an active question it
// ends the question into reveal; from ready or reveal it starts the next
// question, or ends the game when none remain.
func (e *Engine) advance(ctx context.Context) *protocolError {
	state := e.state
	switch state.Phase {
	case models.PhaseActiveQuestion:
		e.endQuestion(ctx)
		e.persist()
		return nil
	case models.PhaseReady, models.PhaseReveal:
		nextIndex := state.CurrentQuestionIndex + 1
		if nextIndex >= len(state.QuestionIDs) {
			return e.endGame(ctx, "")
		}
		prev := state.Phase
		if err := e.startQuestion(ctx, nextIndex); err != nil {
			// A failed load aborts the transition; the phase is unchanged.
			e.log.Error("Failed to start question", "index", nextIndex, "error", err)
			return protoErr(models.ErrCodeInternalError, "failed to start question")
		}
		e.broadcastPhaseChange(prev)
		e.persist()
		return nil
	default:
		return errInvalidState(state.Phase, "next_question")
	}
}

// pause freezes the question deadline, recording the remaining time.
func (e *Engine) pause() *protocolError {
	state := e.state
	next, err := game.Transition(state.Phase, models.PhasePaused)
	if err != nil {
		return errInvalidState(state.Phase, "pause")
	}
	prev := state.Phase
	state.Phase = next
	if state.DeadlineAt != nil {
		remaining := state.DeadlineAt.Sub(e.now()).Milliseconds()
		if remaining < 0 {
			remaining = 0
		}
		state.PausedRemainingMs = &remaining
	}
	e.cancelDeadline()
	e.broadcastPhaseChange(prev)
	e.persist()
	return nil
}

// resume rearms the question deadline with the preserved remaining time.
func (e *Engine) resume() *protocolError {
	state := e.state
	next, err := game.Transition(state.Phase, models.PhaseActiveQuestion)
	if err != nil {
		return errInvalidState(state.Phase, "resume")
	}
	prev := state.Phase
	state.Phase = next
	if state.PausedRemainingMs != nil && state.CurrentQuestion != nil {
		remaining := time.Duration(*state.PausedRemainingMs) * time.Millisecond
		pausedFor := int64(0)
		if state.DeadlineAt != nil {
			// Time the question spent frozen, excluded from response times.
			newDeadline := e.now().Add(remaining)
			pausedFor = newDeadline.Sub(*state.DeadlineAt).Milliseconds()
			state.DeadlineAt = &newDeadline
		} else {
			newDeadline := e.now().Add(remaining)
			state.DeadlineAt = &newDeadline
		}
		state.PausedTotalMs += pausedFor
		state.PausedRemainingMs = nil
		e.scheduleDeadline(state.CurrentQuestion.ID, remaining)
	}
	e.broadcastPhaseChange(prev)
	e.persist()
	return nil
}

// endGame finishes the session: closes any running question, records the
// final position, announces the winner, and closes all connections.
func (e *Engine) endGame(ctx context.Context, triggeredBy string) *protocolError {
	state := e.state
	if state.Phase == models.PhaseCompleted {
		return errInvalidState(state.Phase, "end_game")
	}
	e.endQuestion(ctx)
	prev := state.Phase

	now := e.now()
	if err := e.store.UpdateSessionOnEnd(ctx, e.sessionID, state.Position, now); err != nil {
		e.log.Error("Failed to record session end", "error", err)
		return protoErr(models.ErrCodeInternalError, "failed to end game")
	}

	state.Phase = models.PhaseCompleted
	state.DeadlineAt = nil
	state.PausedRemainingMs = nil
	e.cancelDeadline()

	var winner *models.TeamView
	if side := game.Winner(state.Position); side != "" {
		if team := state.TeamBySide(side); team != nil {
			view := team.View()
			winner = &view
		}
	}

	var durationMs int64
	if state.StartedAt != nil {
		durationMs = now.Sub(*state.StartedAt).Milliseconds()
	}

	e.broadcastPhaseChange(prev)
	e.broadcast(models.NewEvent(models.EventGameEnd, models.GameEndPayload{
		Winner:        winner,
		FinalPosition: state.Position,
		Summary: models.GameSummary{
			DurationMs:     durationMs,
			TotalQuestions: len(state.QuestionIDs),
		},
	}))
	e.persist()

	for _, c := range e.conns {
		c.close(websocket.StatusNormalClosure, "game ended")
	}
	e.log.Info("Game ended", "final_position", state.Position, "triggered_by", triggeredBy)
	return nil
}

// broadcastPhaseChange announces the transition that just happened.
func (e *Engine) broadcastPhaseChange(previous models.Phase) {
	if e.state.Phase == previous {
		return
	}
	e.broadcast(models.NewEvent(models.EventPhaseChange, models.PhaseChangePayload{
		Phase:         e.state.Phase,
		PreviousPhase: previous,
	}))
}
