// Package engine implements the per-session authoritative game actor.
//
// One Engine owns the full truth of a single game: the phase machine,
// the rope position, the current question lifecycle, answer admission,
// scoring and streaks, fan-out to connected clients, and the durable
// event log. All mutation is linearized through a single goroutine fed
// by a command mailbox; connections, timers, and the control API only
// ever post work to that mailbox.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pullquiz/pullquiz/pkg/metrics"
	"github.com/pullquiz/pullquiz/pkg/models"
	"github.com/pullquiz/pullquiz/pkg/storage"
)

// mailboxSize bounds queued commands per session. Posting blocks when
// full, which back-pressures readers instead of dropping commands.
const mailboxSize = 256

// Storage is the subset of the storage adapter the engine drives.
type Storage interface {
	LoadQuestion(ctx context.Context, questionID string) (*storage.Question, error)
	LoadRuleset(ctx context.Context, rulesetID string) (*models.Ruleset, error)
	LoadRoster(ctx context.Context, sessionID string) ([]models.Team, []models.Student, error)
	LookupToken(ctx context.Context, token string) (*storage.TokenIdentity, error)
	InsertQuestionInstance(ctx context.Context, sessionID string, inst *models.QuestionInstance) error
	EndQuestionInstance(ctx context.Context, instanceID string, endedAt time.Time) error
	InsertAttempt(ctx context.Context, attemptID, instanceID, sessionID string, rec *models.AttemptRecord) error
	InsertStrengthEvent(ctx context.Context, eventID, sessionID, teamID string, deltaScaled int, reason models.StrengthReason, newPosition float64, triggeredBy string, at time.Time) error
	UpdateSessionOnEnd(ctx context.Context, sessionID string, finalPosition float64, endedAt time.Time) error
	UpdateSessionOnStart(ctx context.Context, sessionID string, questionCount int, startedAt time.Time) error
	UpdateStudentConnection(ctx context.Context, studentID string, status models.ConnectionStatus, lastSeenAt time.Time) error
	UpdateStudentTeam(ctx context.Context, studentID, teamID string) error
}

// StateStore persists the opaque runtime-state blob across hibernation.
type StateStore interface {
	Get(sessionID string) ([]byte, error)
	Put(sessionID string, state []byte) error
	Delete(sessionID string) error
}

// Config tunes one engine instance.
type Config struct {
	// HelloTimeout is the grace window for the first HELLO frame.
	HelloTimeout time.Duration

	// RateLimitPerSecond is the per-connection message budget.
	RateLimitPerSecond int

	// WriteTimeout bounds a single outbound WebSocket write.
	WriteTimeout time.Duration

	// IdleTimeout unloads the engine after this long with no
	// connections and no active question. 0 disables hibernation.
	IdleTimeout time.Duration
}

// DefaultConfig returns production engine settings.
func DefaultConfig() Config {
	return Config{
		HelloTimeout:       10 * time.Second,
		RateLimitPerSecond: 10,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        5 * time.Minute,
	}
}

// Engine is the single-owner actor for one session.
type Engine struct {
	sessionID string
	cfg       Config
	store     Storage
	states    StateStore
	log       *slog.Logger

	// Everything below is owned by the run goroutine.
	state     *models.RuntimeState
	conns     map[string]*Conn
	deadline  *time.Timer
	idleTimer *time.Timer
	failed    bool // state store write failed; mutations refused until rehydrate

	tasks    chan func()
	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}

	// onIdle is invoked (off the run goroutine) when the engine decides
	// to hibernate. Set by the manager.
	onIdle func(sessionID string)

	now func() time.Time
}

// New creates an engine for a session. The state is nil until Init or
// rehydrate installs it.
func New(sessionID string, cfg Config, store Storage, states StateStore) *Engine {
	e := &Engine{
		sessionID: sessionID,
		cfg:       cfg,
		store:     store,
		states:    states,
		log:       slog.With("session_id", sessionID),
		conns:     make(map[string]*Conn),
		tasks:     make(chan func(), mailboxSize),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
		now:       time.Now,
	}
	go e.run()
	return e
}

// run is the actor loop: commands, timer callbacks, and control requests
// execute here one at a time, in arrival order.
func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.stopCh:
			return
		case fn := <-e.tasks:
			fn()
		}
	}
}

// Stop terminates the run loop after persisting state. Connections are
// closed; queued commands are dropped. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		_ = e.postWait(func() {
			e.persist()
			for _, c := range e.conns {
				c.close(websocket.StatusGoingAway, "server shutting down")
			}
		})
		close(e.stopCh)
	})
	<-e.stopped
}

// post queues fn for the run goroutine. Returns false once stopped.
func (e *Engine) post(fn func()) bool {
	select {
	case e.tasks <- fn:
		return true
	case <-e.stopCh:
		return false
	}
}

// postWait queues fn and blocks until it has run.
func (e *Engine) postWait(fn func()) error {
	done := make(chan struct{})
	ok := e.post(func() {
		defer close(done)
		fn()
	})
	if !ok {
		return ErrEngineStopped
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	}
}

// persist writes the current state blob to the state store, bumping the
// snapshot version first. A write failure is fatal for this incarnation:
// the engine refuses further mutations until rehydrated.
func (e *Engine) persist() {
	if e.state == nil {
		return
	}
	e.state.SnapshotVersion++
	data, err := e.state.Encode()
	if err != nil {
		e.log.Error("Failed to encode runtime state", "error", err)
		e.failed = true
		return
	}
	if err := e.states.Put(e.sessionID, data); err != nil {
		e.log.Error("Failed to persist runtime state", "error", err)
		e.failed = true
	}
}

// broadcast fans one event out to every authenticated connection.
func (e *Engine) broadcast(evt models.ServerEvent) {
	metrics.EventsBroadcast.WithLabelValues(evt.Type).Inc()
	for _, c := range e.conns {
		if c.Authenticated {
			c.sendEvent(evt)
		}
	}
}

// broadcastByRole fans out role-specific payloads, e.g. the question
// event whose teacher projection carries the correct answer id.
func (e *Engine) broadcastByRole(build func(role models.Role) models.ServerEvent) {
	teacherEvt := build(models.RoleTeacher)
	studentEvt := build(models.RoleStudent)
	metrics.EventsBroadcast.WithLabelValues(teacherEvt.Type).Inc()
	for _, c := range e.conns {
		if !c.Authenticated {
			continue
		}
		if c.Role == models.RoleTeacher {
			c.sendEvent(teacherEvt)
		} else {
			c.sendEvent(studentEvt)
		}
	}
}

// connByUser returns the authenticated connection for a user id, or nil.
func (e *Engine) connByUser(userID string) *Conn {
	for _, c := range e.conns {
		if c.Authenticated && c.UserID == userID {
			return c
		}
	}
	return nil
}

// scheduleDeadline (re)arms the question deadline timer to fire after d.
func (e *Engine) scheduleDeadline(instanceID string, d time.Duration) {
	e.cancelDeadline()
	e.deadline = time.AfterFunc(d, func() {
		e.post(func() { e.handleDeadline(instanceID) })
	})
}

// cancelDeadline stops a pending deadline timer.
func (e *Engine) cancelDeadline() {
	if e.deadline != nil {
		e.deadline.Stop()
		e.deadline = nil
	}
}

// handleDeadline ends the current question when its timer expires. A
// stale timer (instance already ended or replaced) is ignored.
func (e *Engine) handleDeadline(instanceID string) {
	if e.state == nil || e.state.Phase != models.PhaseActiveQuestion {
		return
	}
	if e.state.CurrentQuestion == nil || e.state.CurrentQuestion.ID != instanceID {
		return
	}
	e.endQuestion(context.Background())
	e.persist()
	e.armIdleTimer()
}

// armIdleTimer starts hibernation countdown when the session is quiet:
// no connections and no running question.
func (e *Engine) armIdleTimer() {
	if e.cfg.IdleTimeout <= 0 || e.onIdle == nil {
		return
	}
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
	if len(e.conns) > 0 {
		return
	}
	if e.state != nil && e.state.Phase == models.PhaseActiveQuestion {
		return
	}
	sessionID := e.sessionID
	onIdle := e.onIdle
	e.idleTimer = time.AfterFunc(e.cfg.IdleTimeout, func() {
		onIdle(sessionID)
	})
}

// SessionID returns the session this engine owns.
func (e *Engine) SessionID() string {
	return e.sessionID
}
