// Package storage is the session engine's single choke point for
// relational I/O. Every operation is a single statement (or one short
// transaction) so the engine never holds long transactions across
// suspension points.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pullquiz/pullquiz/pkg/models"
)

// Sentinel errors surfaced to the engine.
var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateAttempt is returned when the (question_instance_id,
	// student_id) uniqueness constraint rejects an insert. The engine's
	// admission map normally prevents this; the constraint is the
	// database-level backstop.
	ErrDuplicateAttempt = errors.New("attempt already recorded")

	// ErrLeaseHeld is returned when another engine host owns the session.
	ErrLeaseHeld = errors.New("session lease held by another owner")
)

// Adapter executes the engine's relational operations.
type Adapter struct {
	db *sql.DB
}

// NewAdapter creates a storage adapter over an open connection pool.
func NewAdapter(db *sql.DB) *Adapter {
	return &Adapter{db: db}
}

// Question is a bank question as stored, including correct-answer flags.
type Question struct {
	ID          string
	Text        string
	Answers     []QuestionAnswer
	Type        string
	Difficulty  string
	TimeLimitMs int
	Points      int
}

// QuestionAnswer is one stored answer option.
type QuestionAnswer struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// CorrectAnswerID returns the id of the correct option, or "".
func (q *Question) CorrectAnswerID() string {
	for _, a := range q.Answers {
		if a.IsCorrect {
			return a.ID
		}
	}
	return ""
}

// TokenIdentity is the authenticated identity behind a HELLO token.
type TokenIdentity struct {
	UserID    string
	SessionID string
	TenantID  string
	Role      models.Role
	TeamID    string
	Nickname  string
}

// LoadQuestion reads a bank question by id.
func (a *Adapter) LoadQuestion(ctx context.Context, questionID string) (*Question, error) {
	var (
		q          Question
		answersRaw []byte
		difficulty sql.NullString
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT question_id, text, answers, question_type, difficulty, time_limit_ms, points
		 FROM questions WHERE question_id = $1`,
		questionID,
	).Scan(&q.ID, &q.Text, &answersRaw, &q.Type, &difficulty, &q.TimeLimitMs, &q.Points)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("question %s: %w", questionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load question: %w", err)
	}
	q.Difficulty = difficulty.String
	if err := json.Unmarshal(answersRaw, &q.Answers); err != nil {
		return nil, fmt.Errorf("failed to decode question answers: %w", err)
	}
	return &q, nil
}

// LoadRuleset reads a ruleset by id.
func (a *Adapter) LoadRuleset(ctx context.Context, rulesetID string) (*models.Ruleset, error) {
	var (
		rs          models.Ruleset
		timeLimitMs sql.NullInt64
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT ruleset_id, points_per_correct, points_for_speed, streak_bonus,
		        streak_threshold, streak_multiplier, time_limit_ms
		 FROM rulesets WHERE ruleset_id = $1`,
		rulesetID,
	).Scan(&rs.ID, &rs.PointsPerCorrect, &rs.PointsForSpeed, &rs.StreakBonus,
		&rs.StreakThreshold, &rs.StreakMultiplier, &timeLimitMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ruleset %s: %w", rulesetID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ruleset: %w", err)
	}
	if timeLimitMs.Valid {
		rs.TimeLimitMs = int(timeLimitMs.Int64)
	}
	return &rs, nil
}

// LoadRoster reads the session's teams (in creation order, which fixes
// rope sides: first created = left) with their non-kicked members.
func (a *Adapter) LoadRoster(ctx context.Context, sessionID string) ([]models.Team, []models.Student, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT team_id, name, COALESCE(color, '')
		 FROM teams WHERE session_id = $1 ORDER BY created_at, team_id`,
		sessionID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load teams: %w", err)
	}
	defer rows.Close()

	var teams []models.Team
	sides := []models.Side{models.SideLeft, models.SideRight}
	for rows.Next() {
		var t models.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, nil, fmt.Errorf("failed to scan team: %w", err)
		}
		if len(teams) < len(sides) {
			t.Side = sides[len(teams)]
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate teams: %w", err)
	}

	srows, err := a.db.QueryContext(ctx,
		`SELECT student_id, nickname, COALESCE(team_id, ''), connection_status
		 FROM students
		 WHERE session_id = $1 AND connection_status <> 'kicked'
		 ORDER BY created_at, student_id`,
		sessionID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load students: %w", err)
	}
	defer srows.Close()

	var students []models.Student
	for srows.Next() {
		var s models.Student
		if err := srows.Scan(&s.ID, &s.Nickname, &s.TeamID, &s.Status); err != nil {
			return nil, nil, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, s)
	}
	if err := srows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate students: %w", err)
	}

	return teams, students, nil
}

// LookupToken resolves a HELLO token to an identity. Teacher tokens live
// in session_tokens; student tokens on the students row.
func (a *Adapter) LookupToken(ctx context.Context, token string) (*TokenIdentity, error) {
	var id TokenIdentity
	err := a.db.QueryRowContext(ctx,
		`SELECT user_id, session_id, tenant_id, role
		 FROM session_tokens WHERE token = $1`,
		token,
	).Scan(&id.UserID, &id.SessionID, &id.TenantID, &id.Role)
	if err == nil {
		return &id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	err = a.db.QueryRowContext(ctx,
		`SELECT st.student_id, st.session_id, se.tenant_id, COALESCE(st.team_id, ''), st.nickname
		 FROM students st
		 JOIN sessions se ON se.session_id = st.session_id
		 WHERE st.token = $1 AND st.connection_status <> 'kicked'`,
		token,
	).Scan(&id.UserID, &id.SessionID, &id.TenantID, &id.TeamID, &id.Nickname)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up student token: %w", err)
	}
	id.Role = models.RoleStudent
	return &id, nil
}

// InsertQuestionInstance persists the immutable ask-time snapshot.
func (a *Adapter) InsertQuestionInstance(ctx context.Context, sessionID string, inst *models.QuestionInstance) error {
	answers, err := json.Marshal(inst.Answers)
	if err != nil {
		return fmt.Errorf("failed to encode instance answers: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO question_instances
		 (question_instance_id, session_id, question_id, question_index, text, answers,
		  correct_answer_id, time_limit_ms, base_points, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inst.ID, sessionID, inst.QuestionID, inst.Index, inst.Text, answers,
		inst.CorrectAnswerID, inst.TimeLimitMs, inst.BasePoints, inst.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert question instance: %w", err)
	}
	return nil
}

// EndQuestionInstance sets ended_at on an instance. Idempotent: a second
// call leaves the first timestamp in place.
func (a *Adapter) EndQuestionInstance(ctx context.Context, instanceID string, endedAt time.Time) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE question_instances SET ended_at = $2
		 WHERE question_instance_id = $1 AND ended_at IS NULL`,
		instanceID, endedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to end question instance: %w", err)
	}
	return nil
}

// InsertAttempt persists a student's answer. The unique constraint on
// (question_instance_id, student_id) enforces at-most-one semantics.
func (a *Adapter) InsertAttempt(ctx context.Context, attemptID, instanceID, sessionID string, rec *models.AttemptRecord) error {
	teamID := sql.NullString{String: rec.TeamID, Valid: rec.TeamID != ""}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO attempts
		 (attempt_id, question_instance_id, session_id, student_id, team_id, answer_id,
		  is_correct, response_time_ms, points_awarded, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attemptID, instanceID, sessionID, rec.StudentID, teamID, rec.AnswerID,
		rec.Correct, rec.ResponseTimeMs, rec.PointsAwarded, rec.SubmittedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAttempt
		}
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// InsertStrengthEvent appends one rope-position change to the event log.
// The wire delta is stored scaled ×10 as an integer.
func (a *Adapter) InsertStrengthEvent(ctx context.Context, eventID, sessionID, teamID string, deltaScaled int, reason models.StrengthReason, newPosition float64, triggeredBy string, at time.Time) error {
	team := sql.NullString{String: teamID, Valid: teamID != ""}
	trigger := sql.NullString{String: triggeredBy, Valid: triggeredBy != ""}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO strength_events
		 (strength_event_id, session_id, team_id, delta_scaled, reason, new_position, triggered_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		eventID, sessionID, team, deltaScaled, reason, newPosition, trigger, at,
	)
	if err != nil {
		return fmt.Errorf("failed to insert strength event: %w", err)
	}
	return nil
}

// UpdateSessionOnEnd marks the session completed with its final position.
func (a *Adapter) UpdateSessionOnEnd(ctx context.Context, sessionID string, finalPosition float64, endedAt time.Time) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'completed', final_position = $2, ended_at = $3
		 WHERE session_id = $1`,
		sessionID, finalPosition, endedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session on end: %w", err)
	}
	return nil
}

// UpdateSessionOnStart marks the session ready when the engine initializes.
func (a *Adapter) UpdateSessionOnStart(ctx context.Context, sessionID string, questionCount int, startedAt time.Time) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'ready', question_count = $2, started_at = $3
		 WHERE session_id = $1`,
		sessionID, questionCount, startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session on start: %w", err)
	}
	return nil
}

// UpdateStudentConnection records a student's presence transition.
func (a *Adapter) UpdateStudentConnection(ctx context.Context, studentID string, status models.ConnectionStatus, lastSeenAt time.Time) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE students SET connection_status = $2, last_seen_at = $3
		 WHERE student_id = $1`,
		studentID, status, lastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update student connection: %w", err)
	}
	return nil
}

// UpdateStudentTeam moves a student to a team, or clears membership when
// teamID is empty.
func (a *Adapter) UpdateStudentTeam(ctx context.Context, studentID, teamID string) error {
	team := sql.NullString{String: teamID, Valid: teamID != ""}
	_, err := a.db.ExecContext(ctx,
		`UPDATE students SET team_id = $2 WHERE student_id = $1`,
		studentID, team,
	)
	if err != nil {
		return fmt.Errorf("failed to update student team: %w", err)
	}
	return nil
}

// AcquireLease claims single-owner rights for a session. The lease is a
// conditional update on the sessions row: it succeeds when the slot is
// free or already ours, guaranteeing at most one live engine per session.
func (a *Adapter) AcquireLease(ctx context.Context, sessionID, owner string) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE sessions SET engine_owner = $2
		 WHERE session_id = $1 AND (engine_owner IS NULL OR engine_owner = $2)`,
		sessionID, owner,
	)
	if err != nil {
		return fmt.Errorf("failed to acquire session lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read lease result: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := a.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE session_id = $1)`, sessionID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to verify session: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrLeaseHeld
	}
	return nil
}

// CompletedSessionsEndedBefore lists unowned completed sessions whose
// game ended before the cutoff. Used by the retention sweeper.
func (a *Adapter) CompletedSessionsEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT session_id FROM sessions
		 WHERE status = 'completed' AND engine_owner IS NULL AND ended_at < $1
		 ORDER BY ended_at
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired sessions: %w", err)
	}
	return ids, nil
}

// ReleaseLease gives up ownership on clean shutdown or hibernation.
func (a *Adapter) ReleaseLease(ctx context.Context, sessionID, owner string) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE sessions SET engine_owner = NULL
		 WHERE session_id = $1 AND engine_owner = $2`,
		sessionID, owner,
	)
	if err != nil {
		return fmt.Errorf("failed to release session lease: %w", err)
	}
	return nil
}
