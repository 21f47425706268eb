package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pullquiz/pullquiz/pkg/models"
	"github.com/pullquiz/pullquiz/pkg/storage"
)

// fakeStorage is an in-memory ManagerStorage for engine tests.
type fakeStorage struct {
	mu sync.Mutex

	questions map[string]*storage.Question
	rulesets  map[string]*models.Ruleset
	teams     map[string][]models.Team    // sessionID -> teams
	students  map[string][]models.Student // sessionID -> students
	tokens    map[string]*storage.TokenIdentity

	attempts       map[string]map[string]bool // instanceID -> studentID set
	attemptErr     error                      // returned by InsertAttempt when set
	strengthEvents []fakeStrengthEvent
	leases         map[string]string // sessionID -> owner

	sessionStarted map[string]time.Time
	sessionEnded   map[string]float64
}

type fakeStrengthEvent struct {
	TeamID      string
	DeltaScaled int
	Reason      models.StrengthReason
	NewPosition float64
	TriggeredBy string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		questions:      make(map[string]*storage.Question),
		rulesets:       make(map[string]*models.Ruleset),
		teams:          make(map[string][]models.Team),
		students:       make(map[string][]models.Student),
		tokens:         make(map[string]*storage.TokenIdentity),
		attempts:       make(map[string]map[string]bool),
		leases:         make(map[string]string),
		sessionStarted: make(map[string]time.Time),
		sessionEnded:   make(map[string]float64),
	}
}

func (f *fakeStorage) LoadQuestion(_ context.Context, questionID string) (*storage.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[questionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return q, nil
}

func (f *fakeStorage) LoadRuleset(_ context.Context, rulesetID string) (*models.Ruleset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs, ok := f.rulesets[rulesetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rs, nil
}

func (f *fakeStorage) LoadRoster(_ context.Context, sessionID string) ([]models.Team, []models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	teams := append([]models.Team(nil), f.teams[sessionID]...)
	students := append([]models.Student(nil), f.students[sessionID]...)
	return teams, students, nil
}

func (f *fakeStorage) LookupToken(_ context.Context, token string) (*storage.TokenIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *id
	return &cp, nil
}

func (f *fakeStorage) InsertQuestionInstance(_ context.Context, _ string, inst *models.QuestionInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[inst.ID] = make(map[string]bool)
	return nil
}

func (f *fakeStorage) EndQuestionInstance(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func (f *fakeStorage) InsertAttempt(_ context.Context, _, instanceID, _ string, rec *models.AttemptRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attemptErr != nil {
		return f.attemptErr
	}
	set, ok := f.attempts[instanceID]
	if !ok {
		set = make(map[string]bool)
		f.attempts[instanceID] = set
	}
	if set[rec.StudentID] {
		return storage.ErrDuplicateAttempt
	}
	set[rec.StudentID] = true
	return nil
}

func (f *fakeStorage) InsertStrengthEvent(_ context.Context, _, _, teamID string, deltaScaled int, reason models.StrengthReason, newPosition float64, triggeredBy string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strengthEvents = append(f.strengthEvents, fakeStrengthEvent{
		TeamID:      teamID,
		DeltaScaled: deltaScaled,
		Reason:      reason,
		NewPosition: newPosition,
		TriggeredBy: triggeredBy,
	})
	return nil
}

func (f *fakeStorage) UpdateSessionOnEnd(_ context.Context, sessionID string, finalPosition float64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionEnded[sessionID] = finalPosition
	return nil
}

func (f *fakeStorage) UpdateSessionOnStart(_ context.Context, sessionID string, _ int, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionStarted[sessionID] = startedAt
	return nil
}

func (f *fakeStorage) UpdateStudentConnection(_ context.Context, studentID string, status models.ConnectionStatus, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sessionID, students := range f.students {
		for i := range students {
			if students[i].ID == studentID {
				students[i].Status = status
				f.students[sessionID] = students
			}
		}
	}
	return nil
}

func (f *fakeStorage) UpdateStudentTeam(_ context.Context, studentID, teamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sessionID, students := range f.students {
		for i := range students {
			if students[i].ID == studentID {
				students[i].TeamID = teamID
				f.students[sessionID] = students
			}
		}
	}
	return nil
}

func (f *fakeStorage) AcquireLease(_ context.Context, sessionID, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if held, ok := f.leases[sessionID]; ok && held != owner {
		return storage.ErrLeaseHeld
	}
	f.leases[sessionID] = owner
	return nil
}

func (f *fakeStorage) ReleaseLease(_ context.Context, sessionID, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leases[sessionID] == owner {
		delete(f.leases, sessionID)
	}
	return nil
}

func (f *fakeStorage) strengthEventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.strengthEvents)
}

func (f *fakeStorage) failAttempts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attemptErr = err
}

func (f *fakeStorage) studentTeam(studentID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, students := range f.students {
		for _, st := range students {
			if st.ID == studentID {
				return st.TeamID
			}
		}
	}
	return ""
}
