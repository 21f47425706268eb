// Package models defines the wire protocol and state types shared by the
// session engine, the HTTP layer, and tests.
//
// Client → server messages are discriminated by the "type" field. Unknown
// or malformed messages never mutate state; the router answers with an
// ERROR event of code INVALID_MESSAGE.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client message types.
const (
	MsgHello               = "HELLO"
	MsgJoinTeam            = "JOIN_TEAM"
	MsgSubmitAnswer        = "SUBMIT_ANSWER"
	MsgTeacherNextQuestion = "TEACHER_NEXT_QUESTION"
	MsgTeacherPause        = "TEACHER_PAUSE"
	MsgTeacherResume       = "TEACHER_RESUME"
	MsgTeacherEndGame      = "TEACHER_END_GAME"
	MsgTeacherManualAdjust = "TEACHER_MANUAL_ADJUST"
	MsgTeacherKickPlayer   = "TEACHER_KICK_PLAYER"
	MsgPing                = "PING"
)

// Server event types.
const (
	EventWelcome        = "WELCOME"
	EventStateSnapshot  = "STATE_SNAPSHOT"
	EventRosterUpdate   = "ROSTER_UPDATE"
	EventPlayerJoined   = "PLAYER_JOINED"
	EventPlayerKicked   = "PLAYER_KICKED"
	EventQuestion       = "QUESTION"
	EventPhaseChange    = "PHASE_CHANGE"
	EventTugUpdate      = "TUG_UPDATE"
	EventAnswerResult   = "ANSWER_RESULT"
	EventQuestionReveal = "QUESTION_REVEAL"
	EventGameEnd        = "GAME_END"
	EventError          = "ERROR"
	EventAck            = "ACK"
	EventPong           = "PONG"
)

// Error codes carried by ERROR events.
const (
	ErrCodeInvalidToken    = "INVALID_TOKEN"
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrCodeSessionEnded    = "SESSION_ENDED"
	ErrCodeNotAuthorized   = "NOT_AUTHORIZED"
	ErrCodeAlreadyAnswered = "ALREADY_ANSWERED"
	ErrCodeQuestionExpired = "QUESTION_EXPIRED"
	ErrCodeInvalidAnswer   = "INVALID_ANSWER"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInvalidMessage  = "INVALID_MESSAGE"
	ErrCodeKicked          = "KICKED"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// WebSocket close codes.
const (
	CloseNormal          = 1000 // game ended
	ClosePolicyViolation = 1008 // invalid token, not authorized, kicked
	CloseInternalError   = 1011
)

// ClientMessage is the decoded envelope of a client → server frame. Only
// the fields relevant to the discriminated Type are populated.
type ClientMessage struct {
	Type        string  `json:"type"`
	ClientMsgID string  `json:"clientMsgId,omitempty"`
	Token       string  `json:"token,omitempty"`
	Reconnect   bool    `json:"reconnect,omitempty"`
	LastEventID int64   `json:"lastEventId,omitempty"`
	TeamID      string  `json:"teamId,omitempty"`
	InstanceID  string  `json:"instanceId,omitempty"`
	ChoiceID    string  `json:"choiceId,omitempty"`
	QuestionID  string  `json:"questionId,omitempty"`
	Delta       float64 `json:"delta,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	PlayerID    string  `json:"playerId,omitempty"`
}

// ParseClientMessage decodes and shape-validates a client frame.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("missing message type")
	}
	switch msg.Type {
	case MsgHello:
		if msg.Token == "" {
			return nil, fmt.Errorf("HELLO requires token")
		}
	case MsgJoinTeam:
		if msg.TeamID == "" {
			return nil, fmt.Errorf("JOIN_TEAM requires teamId")
		}
	case MsgSubmitAnswer:
		if msg.InstanceID == "" || msg.ChoiceID == "" {
			return nil, fmt.Errorf("SUBMIT_ANSWER requires instanceId and choiceId")
		}
	case MsgTeacherManualAdjust:
		if msg.Delta < -100 || msg.Delta > 100 {
			return nil, fmt.Errorf("delta must be within [-100, 100]")
		}
	case MsgTeacherKickPlayer:
		if msg.PlayerID == "" {
			return nil, fmt.Errorf("TEACHER_KICK_PLAYER requires playerId")
		}
	case MsgTeacherNextQuestion, MsgTeacherPause, MsgTeacherResume, MsgTeacherEndGame, MsgPing:
		// no required fields
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return &msg, nil
}

// ServerEvent is a server → client frame. Payload fields are embedded in
// the top-level object next to the type discriminator.
type ServerEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"-"`
}

// MarshalJSON flattens Payload into the envelope.
func (e ServerEvent) MarshalJSON() ([]byte, error) {
	base := map[string]any{
		"type":      e.Type,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		for k, v := range fields {
			base[k] = v
		}
	}
	return json.Marshal(base)
}

// NewEvent builds a server event stamped with the current time.
func NewEvent(eventType string, payload any) ServerEvent {
	return ServerEvent{Type: eventType, Timestamp: time.Now(), Payload: payload}
}

// WelcomePayload answers a successful HELLO.
type WelcomePayload struct {
	SessionID  string      `json:"sessionId"`
	Phase      Phase       `json:"phase"`
	Position   float64     `json:"position"`
	Teams      []TeamView  `json:"teams,omitempty"`
	Students   []Student   `json:"students,omitempty"`
	Role       Role        `json:"role"`
	UserID     string      `json:"userId"`
	TeamID     string      `json:"teamId,omitempty"`
	ServerTime time.Time   `json:"serverTime"`
}

// StateSnapshotPayload carries a full role-projected game state.
type StateSnapshotPayload struct {
	State           GameState `json:"state"`
	SnapshotVersion int64     `json:"snapshotVersion"`
}

// RosterUpdatePayload announces team membership or presence changes.
type RosterUpdatePayload struct {
	Teams        []TeamView `json:"teams"`
	Students     []Student  `json:"students,omitempty"`
	TotalPlayers int        `json:"totalPlayers"`
}

// PlayerJoinedPayload announces a newly connected student.
type PlayerJoinedPayload struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	TeamID   string `json:"teamId,omitempty"`
}

// PlayerKickedPayload precedes the close of a kicked student's connection.
type PlayerKickedPayload struct {
	StudentID string `json:"studentId"`
	Reason    string `json:"reason,omitempty"`
}

// QuestionView is the projection of a question instance sent to clients.
// The student projection never includes the correct answer id.
type QuestionView struct {
	ID              string       `json:"id"`
	Text            string       `json:"text"`
	Answers         []AnswerView `json:"answers"`
	Type            string       `json:"type,omitempty"`
	Difficulty      string       `json:"difficulty,omitempty"`
	TimeLimitMs     int          `json:"timeLimitMs"`
	Points          int          `json:"points"`
	CorrectAnswerID string       `json:"correctAnswerId,omitempty"` // teacher projection only
}

// AnswerView is a single selectable option.
type AnswerView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionPayload starts a question on the client.
type QuestionPayload struct {
	Question       QuestionView `json:"question"`
	QuestionIndex  int          `json:"questionIndex"`
	TotalQuestions int          `json:"totalQuestions"`
	StartsAt       time.Time    `json:"startsAt"`
	TimeLimitMs    int          `json:"timeLimitMs"`
}

// PhaseChangePayload announces a phase machine transition.
type PhaseChangePayload struct {
	Phase         Phase `json:"phase"`
	PreviousPhase Phase `json:"previousPhase"`
}

// TugUpdatePayload announces a rope-position change.
type TugUpdatePayload struct {
	Position    float64        `json:"position"`
	Delta       float64        `json:"delta"`
	Reason      StrengthReason `json:"reason"`
	TeamID      string         `json:"teamId"`
	LastEventID int64          `json:"lastEventId"`
}

// AnswerResultPayload is sent only to the submitting student.
type AnswerResultPayload struct {
	Correct         bool    `json:"correct"`
	CorrectAnswerID string  `json:"correctAnswerId"`
	Delta           float64 `json:"delta"`
	NewPosition     float64 `json:"newPosition"`
	PointsAwarded   int     `json:"pointsAwarded"`
	ResponseTimeMs  int     `json:"responseTimeMs"`
}

// TeamQuestionStats aggregates one team's performance on a question.
type TeamQuestionStats struct {
	TeamID          string  `json:"teamId"`
	Attempts        int     `json:"attempts"`
	Correct         int     `json:"correct"`
	AvgResponseMs   float64 `json:"avgResponseMs"`
}

// QuestionStats aggregates a finished question.
type QuestionStats struct {
	TotalAttempts   int                 `json:"totalAttempts"`
	CorrectAttempts int                 `json:"correctAttempts"`
	TeamStats       []TeamQuestionStats `json:"teamStats"`
}

// QuestionRevealPayload closes a question with its correct answer and stats.
type QuestionRevealPayload struct {
	QuestionInstanceID string        `json:"questionInstanceId"`
	CorrectAnswerID    string        `json:"correctAnswerId"`
	Explanation        string        `json:"explanation,omitempty"`
	Stats              QuestionStats `json:"stats"`
}

// GameSummary is attached to GAME_END.
type GameSummary struct {
	DurationMs     int64 `json:"duration"`
	TotalQuestions int   `json:"totalQuestions"`
}

// GameEndPayload announces the end of the game.
type GameEndPayload struct {
	Winner        *TeamView   `json:"winner"` // nil when the rope is centered
	FinalPosition float64     `json:"finalPosition"`
	Summary       GameSummary `json:"summary"`
}

// ErrorPayload carries a protocol-level error back to one connection.
type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
}

// AckPayload confirms a client message that has no richer reply.
type AckPayload struct {
	ClientMsgID string `json:"clientMsgId,omitempty"`
}
