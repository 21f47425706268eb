// Package game holds the pure scoring, streak, and phase-machine logic of
// the tug-of-war trivia game. Nothing in this package performs I/O; the
// engine drives it and persists the results.
package game

import (
	"math"

	"github.com/pullquiz/pullquiz/pkg/models"
)

// Rope bounds and starting position.
const (
	PositionMin   = 0.0
	PositionMax   = 100.0
	PositionStart = 50.0
)

// ComputePoints returns the points awarded for a correct answer:
// base points plus an optional speed bonus of up to half the base,
// scaled linearly by how much of the time limit was left.
func ComputePoints(base, responseTimeMs, timeLimitMs int, rules models.Ruleset) int {
	if rules.PointsPerCorrect > 0 {
		base = rules.PointsPerCorrect
	}
	if !rules.PointsForSpeed || timeLimitMs <= 0 {
		return base
	}
	remaining := 1 - float64(responseTimeMs)/float64(timeLimitMs)
	if remaining < 0 {
		remaining = 0
	}
	bonus := int(math.Floor(float64(base) * 0.5 * remaining))
	return base + bonus
}

// ComputeDelta returns the signed rope delta for a correct answer by a
// team on the given side. Magnitude is points/10; when the team's current
// streak has reached the ruleset threshold the multiplier is applied to
// the magnitude, after sign assignment.
func ComputeDelta(side models.Side, points, currentStreak int, rules models.Ruleset) float64 {
	magnitude := float64(points) / 10
	if rules.StreakBonus && rules.StreakThreshold > 0 && currentStreak >= rules.StreakThreshold {
		magnitude *= rules.StreakMultiplier
	}
	if side == models.SideLeft {
		return -magnitude
	}
	return magnitude
}

// ClampPosition bounds a rope position to [0, 100].
func ClampPosition(pos float64) float64 {
	if pos < PositionMin {
		return PositionMin
	}
	if pos > PositionMax {
		return PositionMax
	}
	return pos
}

// ApplyStreak records a correct answer for teamID: the answering team's
// current streak is incremented (lifting its max), every other team's
// current streak resets to 0 with max preserved. Returns the answering
// team's new current streak.
func ApplyStreak(streaks map[string]*models.Streak, teamID string) int {
	st, ok := streaks[teamID]
	if !ok {
		st = &models.Streak{}
		streaks[teamID] = st
	}
	st.Current++
	if st.Current > st.Max {
		st.Max = st.Current
	}
	for id, other := range streaks {
		if id != teamID {
			other.Current = 0
		}
	}
	return st.Current
}

// Winner returns the side the rope favors, or "" when centered.
func Winner(position float64) models.Side {
	switch {
	case position < PositionStart:
		return models.SideLeft
	case position > PositionStart:
		return models.SideRight
	default:
		return ""
	}
}

// ScaleDelta converts a wire delta to the ×10 integer stored in
// strength_events rows.
func ScaleDelta(delta float64) int {
	return int(math.Round(delta * 10))
}
