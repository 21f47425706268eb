package engine

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/pullquiz/pullquiz/pkg/metrics"
	"github.com/pullquiz/pullquiz/pkg/models"
	"github.com/pullquiz/pullquiz/pkg/storage"
)

// HandleConnection owns one WebSocket for its whole life: registers it,
// enforces the HELLO grace window, reads frames, and posts every command
// to the actor goroutine. Blocks until the connection is gone.
func (e *Engine) HandleConnection(ctx context.Context, ws *websocket.Conn) {
	c := newConn(ctx, uuid.New().String(), ws, e.cfg.RateLimitPerSecond)

	ok := e.post(func() {
		e.conns[c.ID] = c
		if e.idleTimer != nil {
			e.idleTimer.Stop()
			e.idleTimer = nil
		}
	})
	if !ok {
		_ = ws.Close(websocket.StatusGoingAway, "session engine stopped")
		return
	}

	go c.writeLoop(e.cfg.WriteTimeout)
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	// Unauthenticated connections get a bounded window to identify
	// themselves before they are dropped.
	helloTimer := time.AfterFunc(e.cfg.HelloTimeout, func() {
		e.post(func() {
			if !c.Authenticated {
				c.sendError(models.ErrCodeInvalidToken, "no HELLO received in time", "")
				c.close(websocket.StatusCode(models.ClosePolicyViolation), "authentication timeout")
			}
		})
	})
	defer helloTimer.Stop()

	e.readLoop(c)

	_ = e.postWait(func() { e.unregister(c) })
}

// readLoop consumes client frames until the connection drops. Parsing
// and rate limiting happen here; everything that touches state is posted
// to the actor goroutine.
func (e *Engine) readLoop(c *Conn) {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.close(websocket.StatusGoingAway, "read failed")
			return
		}

		msg, err := models.ParseClientMessage(data)
		if err != nil {
			c.sendError(models.ErrCodeInvalidMessage, err.Error(), "")
			continue
		}

		if msg.Type == models.MsgPing {
			c.sendEvent(models.NewEvent(models.EventPong, models.AckPayload{ClientMsgID: msg.ClientMsgID}))
			continue
		}

		if !c.allow() {
			metrics.MessagesRateLimited.Inc()
			c.sendError(models.ErrCodeRateLimited, "too many messages", msg.ClientMsgID)
			continue
		}

		m := msg
		if !e.post(func() { e.dispatch(c, m) }) {
			c.close(websocket.StatusGoingAway, "session engine stopped")
			return
		}
	}
}

// dispatch routes one parsed message on the actor goroutine.
func (e *Engine) dispatch(c *Conn, msg *models.ClientMessage) {
	select {
	case <-c.closed:
		return
	default:
	}

	if msg.Type == models.MsgHello {
		e.handleHello(c, msg)
		return
	}
	if !c.Authenticated {
		c.sendError(models.ErrCodeNotAuthorized, "HELLO required first", msg.ClientMsgID)
		return
	}
	if e.state == nil {
		c.sendError(models.ErrCodeSessionNotFound, "session has no game state", msg.ClientMsgID)
		return
	}
	if e.failed {
		c.sendError(models.ErrCodeInternalError, "session engine is read-only after a storage failure", msg.ClientMsgID)
		return
	}

	ctx := context.Background()
	switch msg.Type {
	case models.MsgJoinTeam:
		e.handleJoinTeam(c, msg)
	case models.MsgSubmitAnswer:
		e.handleSubmitAnswer(ctx, c, msg)
	case models.MsgTeacherNextQuestion:
		e.teacherCommand(c, msg, func() *protocolError { return e.advance(ctx) })
	case models.MsgTeacherPause:
		e.teacherCommand(c, msg, e.pause)
	case models.MsgTeacherResume:
		e.teacherCommand(c, msg, e.resume)
	case models.MsgTeacherEndGame:
		e.teacherCommand(c, msg, func() *protocolError { return e.endGame(ctx, c.UserID) })
	case models.MsgTeacherManualAdjust:
		e.teacherCommand(c, msg, func() *protocolError { return e.manualAdjust(ctx, msg.Delta, c.UserID) })
	case models.MsgTeacherKickPlayer:
		e.teacherCommand(c, msg, func() *protocolError { return e.kickStudent(ctx, msg.PlayerID, msg.Reason) })
	default:
		c.sendError(models.ErrCodeInvalidMessage, "unhandled message type", msg.ClientMsgID)
	}
}

// teacherCommand gates a handler behind the teacher role and converts its
// protocol error, or an ACK, into the reply.
func (e *Engine) teacherCommand(c *Conn, msg *models.ClientMessage, fn func() *protocolError) {
	if c.Role != models.RoleTeacher {
		c.sendError(models.ErrCodeNotAuthorized, "teacher role required", msg.ClientMsgID)
		return
	}
	if perr := fn(); perr != nil {
		c.sendError(perr.Code, perr.Message, msg.ClientMsgID)
		return
	}
	c.sendEvent(models.NewEvent(models.EventAck, models.AckPayload{ClientMsgID: msg.ClientMsgID}))
}

// handleHello authenticates the connection against the token stores and
// delivers WELCOME plus a full role-projected snapshot.
func (e *Engine) handleHello(c *Conn, msg *models.ClientMessage) {
	if c.Authenticated {
		c.sendError(models.ErrCodeInvalidMessage, "already authenticated", msg.ClientMsgID)
		return
	}

	identity, err := e.store.LookupToken(context.Background(), msg.Token)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && identity.SessionID != e.sessionID) {
		c.sendError(models.ErrCodeInvalidToken, "token is not valid for this session", msg.ClientMsgID)
		c.close(websocket.StatusCode(models.ClosePolicyViolation), "invalid token")
		return
	}
	if err != nil {
		e.log.Error("Token lookup failed", "error", err)
		c.sendError(models.ErrCodeInternalError, "authentication unavailable", msg.ClientMsgID)
		return
	}

	if e.state == nil {
		c.sendError(models.ErrCodeSessionNotFound, "session has no game state", msg.ClientMsgID)
		c.close(websocket.StatusCode(models.ClosePolicyViolation), "session not started")
		return
	}
	if e.state.Phase == models.PhaseCompleted {
		c.sendError(models.ErrCodeSessionEnded, "the game has ended", msg.ClientMsgID)
		c.close(websocket.StatusCode(models.CloseNormal), "game ended")
		return
	}
	if identity.Role == models.RoleStudent && e.state.KickedStudents[identity.UserID] {
		c.sendError(models.ErrCodeKicked, "removed from this session", msg.ClientMsgID)
		c.close(websocket.StatusCode(models.ClosePolicyViolation), "kicked")
		return
	}

	// Latest connection wins for a given user.
	if prev := e.connByUser(identity.UserID); prev != nil {
		prev.close(websocket.StatusCode(models.ClosePolicyViolation), "superseded by newer connection")
		delete(e.conns, prev.ID)
	}

	c.Authenticated = true
	c.UserID = identity.UserID
	c.Role = identity.Role
	c.TeamID = identity.TeamID
	c.Nickname = identity.Nickname

	joined := false
	if identity.Role == models.RoleStudent {
		if st := e.state.StudentByID(identity.UserID); st != nil {
			joined = st.Status != models.ConnStatusConnected
			st.Status = models.ConnStatusConnected
			c.TeamID = st.TeamID
		}
		if err := e.store.UpdateStudentConnection(context.Background(), identity.UserID, models.ConnStatusConnected, e.now()); err != nil {
			e.log.Warn("Failed to record student connection", "student_id", identity.UserID, "error", err)
		}
	}

	teams := make([]models.TeamView, 0, len(e.state.Teams))
	for _, t := range e.state.Teams {
		teams = append(teams, t.View())
	}
	c.sendEvent(models.NewEvent(models.EventWelcome, models.WelcomePayload{
		SessionID:  e.sessionID,
		Phase:      e.state.Phase,
		Position:   e.state.Position,
		Teams:      teams,
		Students:   e.state.Students,
		Role:       c.Role,
		UserID:     c.UserID,
		TeamID:     c.TeamID,
		ServerTime: e.now(),
	}))
	c.sendEvent(models.NewEvent(models.EventStateSnapshot, models.StateSnapshotPayload{
		State:           e.state.Project(c.Role),
		SnapshotVersion: e.state.SnapshotVersion,
	}))
	// A client arriving mid-question also gets the QUESTION event, so
	// reconnects can render the countdown and answer immediately.
	if e.state.CurrentQuestion != nil &&
		(e.state.Phase == models.PhaseActiveQuestion || e.state.Phase == models.PhasePaused) {
		c.sendEvent(e.questionEvent(c.Role))
	}

	if joined {
		e.persist()
		e.broadcast(models.NewEvent(models.EventPlayerJoined, models.PlayerJoinedPayload{
			ID:       c.UserID,
			Nickname: c.Nickname,
			TeamID:   c.TeamID,
		}))
		e.broadcastRoster()
	}
	e.log.Info("Client authenticated",
		"connection_id", c.ID, "user_id", c.UserID, "role", c.Role, "reconnect", msg.Reconnect)
}

// handleJoinTeam moves a student between teams while the game has not
// started a question yet.
func (e *Engine) handleJoinTeam(c *Conn, msg *models.ClientMessage) {
	if c.Role != models.RoleStudent {
		c.sendError(models.ErrCodeNotAuthorized, "students only", msg.ClientMsgID)
		return
	}
	if e.state.Phase != models.PhaseLobby && e.state.Phase != models.PhaseReady {
		c.sendError(models.ErrCodeInvalidState, "teams are locked once the game starts", msg.ClientMsgID)
		return
	}
	team := e.state.TeamByID(msg.TeamID)
	if team == nil {
		c.sendError(models.ErrCodeInvalidMessage, "unknown team", msg.ClientMsgID)
		return
	}

	if st := e.state.StudentByID(c.UserID); st != nil {
		st.TeamID = team.ID
	}
	c.TeamID = team.ID
	if err := e.store.UpdateStudentTeam(context.Background(), c.UserID, team.ID); err != nil {
		e.log.Warn("Failed to record team change", "student_id", c.UserID, "error", err)
	}

	e.persist()
	c.sendEvent(models.NewEvent(models.EventAck, models.AckPayload{ClientMsgID: msg.ClientMsgID}))
	e.broadcastRoster()
}

// handleSubmitAnswer admits a student's answer and replies with the
// targeted result. The TUG_UPDATE fan-out happens inside admission.
// Teamless students are admitted too; their attempts are recorded and
// scored but move no rope.
func (e *Engine) handleSubmitAnswer(ctx context.Context, c *Conn, msg *models.ClientMessage) {
	if c.Role != models.RoleStudent {
		c.sendError(models.ErrCodeNotAuthorized, "students only", msg.ClientMsgID)
		return
	}

	result, perr := e.admitAnswer(ctx, c.UserID, c.TeamID, msg.InstanceID, msg.ChoiceID)
	if perr != nil {
		c.sendError(perr.Code, perr.Message, msg.ClientMsgID)
		return
	}
	c.sendEvent(models.NewEvent(models.EventAnswerResult, *result))
}

// kickStudent removes a student from the session. Their token stops
// working for the rest of the game.
func (e *Engine) kickStudent(ctx context.Context, studentID, reason string) *protocolError {
	st := e.state.StudentByID(studentID)
	if st == nil {
		return protoErr(models.ErrCodeInvalidMessage, "unknown student %s", studentID)
	}
	if e.state.KickedStudents[studentID] {
		return nil
	}

	e.state.KickedStudents[studentID] = true
	st.Status = models.ConnStatusKicked
	st.TeamID = ""
	if err := e.store.UpdateStudentConnection(ctx, studentID, models.ConnStatusKicked, e.now()); err != nil {
		e.log.Warn("Failed to record kick", "student_id", studentID, "error", err)
	}
	if err := e.store.UpdateStudentTeam(ctx, studentID, ""); err != nil {
		e.log.Warn("Failed to clear team on kick", "student_id", studentID, "error", err)
	}

	e.broadcast(models.NewEvent(models.EventPlayerKicked, models.PlayerKickedPayload{
		StudentID: studentID,
		Reason:    reason,
	}))
	if conn := e.connByUser(studentID); conn != nil {
		conn.sendError(models.ErrCodeKicked, "removed by the teacher", "")
		conn.close(websocket.StatusCode(models.ClosePolicyViolation), "kicked")
		delete(e.conns, conn.ID)
	}
	e.persist()
	e.broadcastRoster()
	e.log.Info("Student kicked", "student_id", studentID, "reason", reason)
	return nil
}

// unregister removes a connection and, for students, downgrades presence.
func (e *Engine) unregister(c *Conn) {
	if _, ok := e.conns[c.ID]; !ok {
		return
	}
	delete(e.conns, c.ID)
	c.close(websocket.StatusGoingAway, "connection closed")

	if c.Authenticated && c.Role == models.RoleStudent && e.state != nil {
		// Only downgrade if no replacement connection took over.
		if e.connByUser(c.UserID) == nil {
			if st := e.state.StudentByID(c.UserID); st != nil && st.Status == models.ConnStatusConnected {
				st.Status = models.ConnStatusDisconnected
				if err := e.store.UpdateStudentConnection(context.Background(), c.UserID, models.ConnStatusDisconnected, e.now()); err != nil {
					e.log.Warn("Failed to record student disconnect", "student_id", c.UserID, "error", err)
				}
				e.persist()
				e.broadcastRoster()
			}
		}
	}
	e.armIdleTimer()
}

// broadcastRoster pushes the current team and presence picture to
// everyone.
func (e *Engine) broadcastRoster() {
	teams := make([]models.TeamView, 0, len(e.state.Teams))
	for _, t := range e.state.Teams {
		teams = append(teams, t.View())
	}
	e.broadcast(models.NewEvent(models.EventRosterUpdate, models.RosterUpdatePayload{
		Teams:        teams,
		Students:     e.state.Students,
		TotalPlayers: len(e.state.Students),
	}))
}
