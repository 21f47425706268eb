package game

import (
	"testing"

	"github.com/pullquiz/pullquiz/pkg/models"
	"github.com/stretchr/testify/assert"
)

func classroomRules() models.Ruleset {
	return models.Ruleset{
		PointsPerCorrect: 10,
		PointsForSpeed:   true,
		StreakBonus:      true,
		StreakThreshold:  3,
		StreakMultiplier: 1.5,
	}
}

func TestComputePoints(t *testing.T) {
	rules := classroomRules()

	t.Run("fast answer earns speed bonus", func(t *testing.T) {
		// 3000ms of 30000ms: 10 + floor(10*0.5*0.9) = 14
		assert.Equal(t, 14, ComputePoints(10, 3000, 30000, rules))
	})

	t.Run("half-time answer", func(t *testing.T) {
		assert.Equal(t, 12, ComputePoints(10, 15000, 30000, rules))
	})

	t.Run("instant answer earns full half-base bonus", func(t *testing.T) {
		assert.Equal(t, 15, ComputePoints(10, 0, 30000, rules))
	})

	t.Run("answer at the limit earns no bonus", func(t *testing.T) {
		assert.Equal(t, 10, ComputePoints(10, 30000, 30000, rules))
	})

	t.Run("answer past the limit earns no bonus", func(t *testing.T) {
		assert.Equal(t, 10, ComputePoints(10, 45000, 30000, rules))
	})

	t.Run("speed bonus disabled", func(t *testing.T) {
		noSpeed := rules
		noSpeed.PointsForSpeed = false
		assert.Equal(t, 10, ComputePoints(10, 0, 30000, noSpeed))
	})

	t.Run("ruleset base overrides instance base", func(t *testing.T) {
		override := rules
		override.PointsPerCorrect = 20
		override.PointsForSpeed = false
		assert.Equal(t, 20, ComputePoints(10, 1000, 30000, override))
	})

	t.Run("zero ruleset base falls back to instance base", func(t *testing.T) {
		fallback := rules
		fallback.PointsPerCorrect = 0
		fallback.PointsForSpeed = false
		assert.Equal(t, 25, ComputePoints(25, 1000, 30000, fallback))
	})
}

func TestComputeDelta(t *testing.T) {
	rules := classroomRules()

	t.Run("left team pulls negative", func(t *testing.T) {
		assert.InDelta(t, -1.4, ComputeDelta(models.SideLeft, 14, 1, rules), 1e-9)
	})

	t.Run("right team pulls positive", func(t *testing.T) {
		assert.InDelta(t, 1.2, ComputeDelta(models.SideRight, 12, 2, rules), 1e-9)
	})

	t.Run("streak at threshold multiplies magnitude", func(t *testing.T) {
		assert.InDelta(t, 1.8, ComputeDelta(models.SideRight, 12, 3, rules), 1e-9)
	})

	t.Run("streak above threshold keeps multiplier", func(t *testing.T) {
		assert.InDelta(t, -1.8, ComputeDelta(models.SideLeft, 12, 5, rules), 1e-9)
	})

	t.Run("streak bonus disabled", func(t *testing.T) {
		noBonus := rules
		noBonus.StreakBonus = false
		assert.InDelta(t, 1.2, ComputeDelta(models.SideRight, 12, 7, noBonus), 1e-9)
	})
}

func TestClampPosition(t *testing.T) {
	assert.Equal(t, 0.0, ClampPosition(-3.2))
	assert.Equal(t, 100.0, ClampPosition(104.7))
	assert.Equal(t, 48.6, ClampPosition(48.6))
	assert.Equal(t, 0.0, ClampPosition(0))
	assert.Equal(t, 100.0, ClampPosition(100))
}

func TestApplyStreak(t *testing.T) {
	streaks := map[string]*models.Streak{
		"L": {Current: 2, Max: 4},
		"R": {Current: 1, Max: 1},
	}

	current := ApplyStreak(streaks, "L")
	assert.Equal(t, 3, current)
	assert.Equal(t, 4, streaks["L"].Max)
	assert.Equal(t, 0, streaks["R"].Current, "opponent current resets")
	assert.Equal(t, 1, streaks["R"].Max, "opponent max preserved")

	current = ApplyStreak(streaks, "L")
	current = ApplyStreak(streaks, "L")
	assert.Equal(t, 5, current)
	assert.Equal(t, 5, streaks["L"].Max, "max lifts with current")

	// Unknown team gets a fresh streak entry.
	current = ApplyStreak(streaks, "N")
	assert.Equal(t, 1, current)
	assert.Equal(t, 0, streaks["L"].Current)
}

func TestWinner(t *testing.T) {
	assert.Equal(t, models.SideLeft, Winner(12.5))
	assert.Equal(t, models.SideRight, Winner(87.1))
	assert.Equal(t, models.Side(""), Winner(50))
}

func TestScaleDelta(t *testing.T) {
	assert.Equal(t, -14, ScaleDelta(-1.4))
	assert.Equal(t, 18, ScaleDelta(1.8))
	assert.Equal(t, 0, ScaleDelta(0))
	assert.Equal(t, 50, ScaleDelta(5.0))
}

// The three-in-a-row scenario from the classroom ruleset: two answers at
// +1.2 each, then the third answer trips the streak and moves 1.8.
func TestStreakScenario(t *testing.T) {
	rules := classroomRules()
	streaks := map[string]*models.Streak{}
	position := PositionStart

	for i, want := range []float64{51.2, 52.4, 54.2} {
		points := ComputePoints(10, 15000, 30000, rules)
		assert.Equal(t, 12, points)
		current := ApplyStreak(streaks, "R")
		delta := ComputeDelta(models.SideRight, points, current, rules)
		position = ClampPosition(position + delta)
		assert.InDelta(t, want, position, 1e-9, "answer %d", i+1)
	}
}
