package game

import (
	"fmt"

	"github.com/pullquiz/pullquiz/pkg/models"
)

// transitions is the phase machine: every permitted edge, nothing else.
// completed is terminal.
var transitions = map[models.Phase][]models.Phase{
	models.PhaseLobby:          {models.PhaseReady},
	models.PhaseReady:          {models.PhaseActiveQuestion, models.PhaseCompleted},
	models.PhaseActiveQuestion: {models.PhaseReveal, models.PhasePaused, models.PhaseCompleted},
	models.PhasePaused:         {models.PhaseActiveQuestion, models.PhaseReveal, models.PhaseCompleted},
	models.PhaseReveal:         {models.PhaseActiveQuestion, models.PhaseCompleted},
	models.PhaseCompleted:      {},
}

// InvalidTransitionError reports a command that is not permitted in the
// current phase. It maps to the INVALID_STATE protocol error.
type InvalidTransitionError struct {
	From models.Phase
	To   models.Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to models.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and returns the target phase, or an
// InvalidTransitionError without any side effect.
func Transition(from, to models.Phase) (models.Phase, error) {
	if !CanTransition(from, to) {
		return from, &InvalidTransitionError{From: from, To: to}
	}
	return to, nil
}
