package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Team is a team as loaded from the roster, with its rope side derived
// from creation order (first created = left).
type Team struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Color   string `json:"color,omitempty"`
	Side    Side   `json:"side"`
	Score   int    `json:"score"`
	Members []Student `json:"members,omitempty"`
}

// TeamView is the client-facing projection of a team.
type TeamView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
	Side  Side   `json:"side"`
	Score int    `json:"score"`
}

// View returns the client-facing projection of the team.
func (t Team) View() TeamView {
	return TeamView{ID: t.ID, Name: t.Name, Color: t.Color, Side: t.Side, Score: t.Score}
}

// Student is a session participant on the student side.
type Student struct {
	ID       string           `json:"id"`
	Nickname string           `json:"nickname"`
	TeamID   string           `json:"teamId,omitempty"`
	Status   ConnectionStatus `json:"status"`
}

// Streak tracks consecutive correct answers for one team.
type Streak struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// QuestionInstance is the immutable ask-time snapshot of a question.
// CorrectAnswerID never crosses the student projection while the
// question is active.
type QuestionInstance struct {
	ID              string       `json:"id"`
	QuestionID      string       `json:"questionId"`
	Index           int          `json:"index"`
	Text            string       `json:"text"`
	Answers         []AnswerView `json:"answers"`
	CorrectAnswerID string       `json:"correctAnswerId"`
	Type            string       `json:"type,omitempty"`
	Difficulty      string       `json:"difficulty,omitempty"`
	TimeLimitMs     int          `json:"timeLimitMs"`
	BasePoints      int          `json:"basePoints"`
	StartedAt       time.Time    `json:"startedAt"`
	EndedAt         *time.Time   `json:"endedAt,omitempty"`
}

// AttemptRecord is the in-memory admission record for one student's
// answer to the current question instance.
type AttemptRecord struct {
	StudentID      string    `json:"studentId"`
	TeamID         string    `json:"teamId,omitempty"`
	AnswerID       string    `json:"answerId"`
	Correct        bool      `json:"correct"`
	ResponseTimeMs int       `json:"responseTimeMs"`
	PointsAwarded  int       `json:"pointsAwarded"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// Ruleset parameterizes scoring and tug movement. Zero-value fields fall
// back to the question instance's recorded values.
type Ruleset struct {
	ID               string  `json:"id,omitempty"`
	PointsPerCorrect int     `json:"pointsPerCorrect"`
	PointsForSpeed   bool    `json:"pointsForSpeed"`
	StreakBonus      bool    `json:"streakBonus"`
	StreakThreshold  int     `json:"streakThreshold"`
	StreakMultiplier float64 `json:"streakMultiplier"`
	TimeLimitMs      int     `json:"timeLimitMs,omitempty"`
}

// DefaultRuleset is applied when init passes no ruleset id.
func DefaultRuleset() Ruleset {
	return Ruleset{
		PointsPerCorrect: 10,
		PointsForSpeed:   true,
		StreakBonus:      true,
		StreakThreshold:  3,
		StreakMultiplier: 1.5,
	}
}

// RuntimeState is the authoritative, durable state of one session. It is
// the single blob the state store persists across hibernation.
type RuntimeState struct {
	SessionID            string             `json:"sessionId"`
	TenantID             string             `json:"tenantId"`
	Phase                Phase              `json:"phase"`
	Position             float64            `json:"position"`
	QuestionIDs          []string           `json:"questionIds"`
	CurrentQuestionIndex int                `json:"currentQuestionIndex"`
	CurrentQuestion      *QuestionInstance  `json:"currentQuestion,omitempty"`
	Teams                []Team             `json:"teams"`
	Students             []Student          `json:"students"`
	Streaks              map[string]*Streak `json:"streaks"`
	Ruleset              Ruleset            `json:"ruleset"`
	Answers              map[string]*AttemptRecord `json:"answers,omitempty"`
	KickedStudents       map[string]bool    `json:"kickedStudents,omitempty"`
	StartedAt            *time.Time         `json:"startedAt,omitempty"`
	DeadlineAt           *time.Time         `json:"deadlineAt,omitempty"`
	PausedRemainingMs    *int64             `json:"pausedRemainingMs,omitempty"`
	PausedTotalMs        int64              `json:"pausedTotalMs"`
	LastEventID          int64              `json:"lastEventId"`
	SnapshotVersion      int64              `json:"snapshotVersion"`
	QuestionSeq          int                `json:"questionSeq"`
}

// NewRuntimeState builds the initial lobby state for a session.
func NewRuntimeState(sessionID, tenantID string) *RuntimeState {
	return &RuntimeState{
		SessionID:            sessionID,
		TenantID:             tenantID,
		Phase:                PhaseLobby,
		Position:             50,
		CurrentQuestionIndex: -1,
		Streaks:              make(map[string]*Streak),
		Answers:              make(map[string]*AttemptRecord),
		KickedStudents:       make(map[string]bool),
		Ruleset:              DefaultRuleset(),
	}
}

// Encode serializes the runtime state for the state store.
func (s *RuntimeState) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode runtime state: %w", err)
	}
	return data, nil
}

// DecodeRuntimeState restores a runtime state blob. Map fields are
// re-initialized when absent so rehydrated state upholds the same
// invariants as fresh state.
func DecodeRuntimeState(data []byte) (*RuntimeState, error) {
	var s RuntimeState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode runtime state: %w", err)
	}
	if s.Streaks == nil {
		s.Streaks = make(map[string]*Streak)
	}
	if s.Answers == nil {
		s.Answers = make(map[string]*AttemptRecord)
	}
	if s.KickedStudents == nil {
		s.KickedStudents = make(map[string]bool)
	}
	return &s, nil
}

// TeamByID returns the team with the given id, or nil.
func (s *RuntimeState) TeamByID(id string) *Team {
	for i := range s.Teams {
		if s.Teams[i].ID == id {
			return &s.Teams[i]
		}
	}
	return nil
}

// TeamBySide returns the team anchored at the given rope side, or nil.
func (s *RuntimeState) TeamBySide(side Side) *Team {
	for i := range s.Teams {
		if s.Teams[i].Side == side {
			return &s.Teams[i]
		}
	}
	return nil
}

// StudentByID returns the student with the given id, or nil.
func (s *RuntimeState) StudentByID(id string) *Student {
	for i := range s.Students {
		if s.Students[i].ID == id {
			return &s.Students[i]
		}
	}
	return nil
}

// ConnectedStudents counts students with connected status.
func (s *RuntimeState) ConnectedStudents() int {
	n := 0
	for i := range s.Students {
		if s.Students[i].Status == ConnStatusConnected {
			n++
		}
	}
	return n
}

// GameState is the role-projected snapshot delivered to clients.
type GameState struct {
	SessionID            string             `json:"sessionId"`
	Phase                Phase              `json:"phase"`
	Position             float64            `json:"position"`
	CurrentQuestionIndex int                `json:"currentQuestionIndex"`
	TotalQuestions       int                `json:"totalQuestions"`
	CurrentQuestion      *QuestionView      `json:"currentQuestion,omitempty"`
	Teams                []TeamView         `json:"teams"`
	Students             []Student          `json:"students"`
	Streaks              map[string]Streak  `json:"streaks"`
	StartedAt            *time.Time         `json:"startedAt,omitempty"`
	DeadlineAt           *time.Time         `json:"deadlineAt,omitempty"`
	SnapshotVersion      int64              `json:"snapshotVersion"`
}

// Project builds the snapshot for the given role. The student projection
// strips the correct answer from an active question; once the phase is
// reveal the correct answer is public.
func (s *RuntimeState) Project(role Role) GameState {
	gs := GameState{
		SessionID:            s.SessionID,
		Phase:                s.Phase,
		Position:             s.Position,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		TotalQuestions:       len(s.QuestionIDs),
		Teams:                make([]TeamView, 0, len(s.Teams)),
		Students:             append([]Student(nil), s.Students...),
		Streaks:              make(map[string]Streak, len(s.Streaks)),
		StartedAt:            s.StartedAt,
		DeadlineAt:           s.DeadlineAt,
		SnapshotVersion:      s.SnapshotVersion,
	}
	for _, t := range s.Teams {
		gs.Teams = append(gs.Teams, t.View())
	}
	for id, st := range s.Streaks {
		gs.Streaks[id] = *st
	}
	if q := s.CurrentQuestion; q != nil {
		view := QuestionView{
			ID:          q.ID,
			Text:        q.Text,
			Answers:     append([]AnswerView(nil), q.Answers...),
			Type:        q.Type,
			Difficulty:  q.Difficulty,
			TimeLimitMs: q.TimeLimitMs,
			Points:      q.BasePoints,
		}
		if role == RoleTeacher || s.Phase == PhaseReveal {
			view.CorrectAnswerID = q.CorrectAnswerID
		}
		gs.CurrentQuestion = &view
	}
	return gs
}
