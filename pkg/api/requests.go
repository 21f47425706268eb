package api

// InitRequest starts the game for a session.
type InitRequest struct {
	TenantID    string   `json:"tenantId"`
	QuestionIDs []string `json:"questionIds"`
	RulesetID   string   `json:"rulesetId,omitempty"`
}

// AdjustRequest applies a manual rope adjustment.
type AdjustRequest struct {
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason,omitempty"`
}

// SubmitAnswerRequest is the HTTP fallback for a WebSocket SUBMIT_ANSWER.
// StudentID and TeamID are only honored for teacher tokens, where the
// classroom backend submits on a student's behalf; students always answer
// as themselves.
type SubmitAnswerRequest struct {
	StudentID  string `json:"studentId,omitempty"`
	TeamID     string `json:"teamId,omitempty"`
	InstanceID string `json:"instanceId"`
	AnswerID   string `json:"answerId"`
}

// KickRequest removes a student from the session.
type KickRequest struct {
	StudentID string `json:"studentId"`
	Reason    string `json:"reason,omitempty"`
}
