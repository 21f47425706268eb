package models

// Phase represents the lifecycle state of a game session.
type Phase string

// Game phases. Values are wire-stable.
const (
	PhaseLobby          Phase = "lobby"
	PhaseReady          Phase = "ready"
	PhaseActiveQuestion Phase = "active_question"
	PhaseReveal         Phase = "reveal"
	PhasePaused         Phase = "paused"
	PhaseCompleted      Phase = "completed"
)

// Side is a team's endpoint of the rope. The first team created in a
// session is left (position 0), the second is right (position 100).
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// StrengthReason classifies a rope-position change.
type StrengthReason string

const (
	ReasonCorrectAnswer StrengthReason = "correct_answer"
	ReasonStreakBonus   StrengthReason = "streak_bonus"
	ReasonManualAdjust  StrengthReason = "manual_adjust"
)

// Role is the authenticated role of a connection.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ConnectionStatus tracks a student's presence in the session.
type ConnectionStatus string

const (
	ConnStatusConnected    ConnectionStatus = "connected"
	ConnStatusDisconnected ConnectionStatus = "disconnected"
	ConnStatusKicked       ConnectionStatus = "kicked"
)

// SessionStatus is the lifecycle status of the session row owned by the
// REST layer. The engine only ever writes the transition to completed.
type SessionStatus string

const (
	SessionStatusCreated   SessionStatus = "created"
	SessionStatusReady     SessionStatus = "ready"
	SessionStatusCompleted SessionStatus = "completed"
)

// ValidPhase reports whether p is a known phase value.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseLobby, PhaseReady, PhaseActiveQuestion, PhaseReveal, PhasePaused, PhaseCompleted:
		return true
	}
	return false
}
