package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pullquiz/pullquiz/pkg/models"
	"github.com/pullquiz/pullquiz/pkg/statestore"
	"github.com/pullquiz/pullquiz/pkg/storage"
)

const testSessionID = "sess-1"

type testEnv struct {
	t       *testing.T
	store   *fakeStorage
	states  *statestore.Store
	manager *Manager
	engine  *Engine
	server  *httptest.Server
}

// newTestEnv seeds a two-team session with four students (one without a
// team) and three questions, initializes the engine, and exposes it over
// a WebSocket test server. Speed scoring is off so points are
// deterministic.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newFakeStorage()
	store.teams[testSessionID] = []models.Team{
		{ID: "team-left", Name: "Red", Side: models.SideLeft},
		{ID: "team-right", Name: "Blue", Side: models.SideRight},
	}
	store.students[testSessionID] = []models.Student{
		{ID: "stu-1", Nickname: "ada", TeamID: "team-left", Status: models.ConnStatusDisconnected},
		{ID: "stu-2", Nickname: "bob", TeamID: "team-right", Status: models.ConnStatusDisconnected},
		{ID: "stu-3", Nickname: "cyd", TeamID: "team-left", Status: models.ConnStatusDisconnected},
		{ID: "stu-4", Nickname: "dee", Status: models.ConnStatusDisconnected},
	}
	store.tokens["tok-teacher"] = &storage.TokenIdentity{
		UserID: "teacher-1", SessionID: testSessionID, TenantID: "tenant-1", Role: models.RoleTeacher,
	}
	store.tokens["tok-s1"] = &storage.TokenIdentity{
		UserID: "stu-1", SessionID: testSessionID, TenantID: "tenant-1",
		Role: models.RoleStudent, TeamID: "team-left", Nickname: "ada",
	}
	store.tokens["tok-s2"] = &storage.TokenIdentity{
		UserID: "stu-2", SessionID: testSessionID, TenantID: "tenant-1",
		Role: models.RoleStudent, TeamID: "team-right", Nickname: "bob",
	}
	store.tokens["tok-s4"] = &storage.TokenIdentity{
		UserID: "stu-4", SessionID: testSessionID, TenantID: "tenant-1",
		Role: models.RoleStudent, Nickname: "dee",
	}
	for _, q := range []*storage.Question{
		{
			ID: "q-1", Text: "2+2?", TimeLimitMs: 30000, Points: 10,
			Answers: []storage.QuestionAnswer{
				{ID: "a-1", Text: "4", IsCorrect: true},
				{ID: "a-2", Text: "5"},
			},
		},
		{
			ID: "q-2", Text: "3*3?", TimeLimitMs: 30000, Points: 10,
			Answers: []storage.QuestionAnswer{
				{ID: "b-1", Text: "9", IsCorrect: true},
				{ID: "b-2", Text: "6"},
			},
		},
		{
			ID: "q-short", Text: "fast one", TimeLimitMs: 150, Points: 10,
			Answers: []storage.QuestionAnswer{
				{ID: "c-1", Text: "yes", IsCorrect: true},
				{ID: "c-2", Text: "no"},
			},
		},
	} {
		store.questions[q.ID] = q
	}
	store.rulesets["rs-plain"] = &models.Ruleset{
		ID:               "rs-plain",
		PointsPerCorrect: 10,
		PointsForSpeed:   false,
		StreakBonus:      false,
	}

	states, err := statestore.Open(statestore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = states.Close() })

	cfg := DefaultConfig()
	cfg.HelloTimeout = 2 * time.Second
	cfg.RateLimitPerSecond = 100
	cfg.IdleTimeout = 0

	manager := NewManager(cfg, store, states)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	eng, err := manager.CreateSession(context.Background(), testSessionID)
	require.NoError(t, err)
	require.NoError(t, eng.Init(context.Background(), "tenant-1", []string{"q-1", "q-2", "q-short"}, "rs-plain"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		e := manager.Get(testSessionID)
		if e == nil {
			_ = ws.Close(websocket.StatusInternalError, "no engine")
			return
		}
		e.HandleConnection(r.Context(), ws)
	}))
	t.Cleanup(server.Close)

	return &testEnv{t: t, store: store, states: states, manager: manager, engine: eng, server: server}
}

type wsClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (env *testEnv) dial() *wsClient {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http")
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(env.t, err)
	env.t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "test done") })
	return &wsClient{t: env.t, ws: ws}
}

// connect dials and completes the HELLO handshake, consuming WELCOME and
// STATE_SNAPSHOT.
func (env *testEnv) connect(token string) *wsClient {
	env.t.Helper()
	c := env.dial()
	c.send(map[string]any{"type": models.MsgHello, "token": token})
	c.expect(models.EventWelcome)
	c.expect(models.EventStateSnapshot)
	return c
}

func (c *wsClient) send(msg map[string]any) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.ws.Write(ctx, websocket.MessageText, data))
}

// expect reads frames until one of the wanted type arrives, skipping
// unrelated broadcasts.
func (c *wsClient) expect(eventType string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		_, data, err := c.ws.Read(ctx)
		cancel()
		require.NoError(c.t, err, "waiting for %s", eventType)

		var evt map[string]any
		require.NoError(c.t, json.Unmarshal(data, &evt))
		if evt["type"] == eventType {
			return evt
		}
	}
}

// expectClosed asserts the server closes the connection.
func (c *wsClient) expectClosed() {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := c.ws.Read(ctx); err != nil {
			return
		}
	}
}

func TestHelloDeliversWelcomeAndSnapshot(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial()

	c.send(map[string]any{"type": models.MsgHello, "token": "tok-teacher"})

	welcome := c.expect(models.EventWelcome)
	assert.Equal(t, testSessionID, welcome["sessionId"])
	assert.Equal(t, string(models.PhaseReady), welcome["phase"])
	assert.InDelta(t, 50.0, welcome["position"], 0.001)
	assert.Equal(t, string(models.RoleTeacher), welcome["role"])

	snapshot := c.expect(models.EventStateSnapshot)
	state := snapshot["state"].(map[string]any)
	assert.Equal(t, float64(3), state["totalQuestions"])
	assert.Equal(t, float64(-1), state["currentQuestionIndex"])
}

func TestHelloRejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial()

	c.send(map[string]any{"type": models.MsgHello, "token": "bogus"})

	errEvt := c.expect(models.EventError)
	assert.Equal(t, models.ErrCodeInvalidToken, errEvt["code"])
	c.expectClosed()
}

func TestStudentJoinAnnouncedToTeacher(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")

	env.connect("tok-s1")

	joined := teacher.expect(models.EventPlayerJoined)
	assert.Equal(t, "stu-1", joined["id"])
	assert.Equal(t, "ada", joined["nickname"])
	teacher.expect(models.EventRosterUpdate)
}

func TestQuestionProjectionHidesCorrectAnswerFromStudents(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s1")

	teacher.send(map[string]any{"type": models.MsgTeacherNextQuestion})

	teacherQ := teacher.expect(models.EventQuestion)["question"].(map[string]any)
	assert.Equal(t, "a-1", teacherQ["correctAnswerId"])

	studentQ := student.expect(models.EventQuestion)["question"].(map[string]any)
	_, leaked := studentQ["correctAnswerId"]
	assert.False(t, leaked, "student projection must not carry the correct answer")
}

func TestCorrectAnswerMovesRopeTowardTeamSide(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s1") // team-left

	teacher.send(map[string]any{"type": models.MsgTeacherNextQuestion})
	q := student.expect(models.EventQuestion)["question"].(map[string]any)

	student.send(map[string]any{
		"type": models.MsgSubmitAnswer, "instanceId": q["id"], "choiceId": "a-1",
	})

	result := student.expect(models.EventAnswerResult)
	assert.Equal(t, true, result["correct"])
	assert.Equal(t, float64(10), result["pointsAwarded"])
	assert.InDelta(t, -1.0, result["delta"], 0.001)
	assert.InDelta(t, 49.0, result["newPosition"], 0.001)

	tug := teacher.expect(models.EventTugUpdate)
	assert.InDelta(t, 49.0, tug["position"], 0.001)
	assert.Equal(t, "team-left", tug["teamId"])
	assert.Equal(t, string(models.ReasonCorrectAnswer), tug["reason"])
}

func TestWrongAnswerScoresZeroAndLeavesRope(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s2")

	teacher.send(map[string]any{"type": models.MsgTeacherNextQuestion})
	q := student.expect(models.EventQuestion)["question"].(map[string]any)

	student.send(map[string]any{
		"type": models.MsgSubmitAnswer, "instanceId": q["id"], "choiceId": "a-2",
	})

	result := student.expect(models.EventAnswerResult)
	assert.Equal(t, false, result["correct"])
	assert.Equal(t, float64(0), result["pointsAwarded"])
	assert.InDelta(t, 50.0, result["newPosition"], 0.001)
	assert.Equal(t, 0, env.store.strengthEventCount())
}

func TestSecondSubmissionRejected(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s1")

	teacher.send(map[string]any{"type": models.MsgTeacherNextQuestion})
	q := student.expect(models.EventQuestion)["question"].(map[string]any)

	student.send(map[string]any{
		"type": models.MsgSubmitAnswer, "instanceId": q["id"], "choiceId": "a-2", "clientMsgId": "m1",
	})
	student.expect(models.EventAnswerResult)

	student.send(map[string]any{
		"type": models.MsgSubmitAnswer, "instanceId": q["id"], "choiceId": "a-1", "clientMsgId": "m2",
	})
	errEvt := student.expect(models.EventError)
	assert.Equal(t, models.ErrCodeAlreadyAnswered, errEvt["code"])
	assert.Equal(t, "m2", errEvt["clientMsgId"])
}

func TestManualAdjustClampsAtBoundary(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")

	teacher.send(map[string]any{"type": models.MsgTeacherManualAdjust, "delta": 47})
	tug := teacher.expect(models.EventTugUpdate)
	assert.InDelta(t, 97.0, tug["position"], 0.001)

	teacher.send(map[string]any{"type": models.MsgTeacherManualAdjust, "delta": 5})
	tug = teacher.expect(models.EventTugUpdate)
	assert.InDelta(t, 100.0, tug["position"], 0.001)
	assert.InDelta(t, 3.0, tug["delta"], 0.001, "reported delta is the effective movement")
	assert.Equal(t, string(models.ReasonManualAdjust), tug["reason"])
}

func TestManualAdjustRejectedForStudents(t *testing.T) {
	env := newTestEnv(t)
	student := env.connect("tok-s1")

	student.send(map[string]any{"type": models.MsgTeacherManualAdjust, "delta": 10})

	errEvt := student.expect(models.EventError)
	assert.Equal(t, models.ErrCodeNotAuthorized, errEvt["code"])
}

func TestQuestionDeadlineTriggersReveal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Advance past q-1 and q-2 to the 150ms question before anyone
	// connects, so the clients only see the short question.
	for i := 0; i < 4; i++ {
		require.NoError(t, env.engine.NextQuestion(ctx))
	}
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s1")

	teacher.send(map[string]any{"type": models.MsgTeacherNextQuestion})
	q := student.expect(models.EventQuestion)["question"].(map[string]any)

	reveal := teacher.expect(models.EventQuestionReveal)
	assert.Equal(t, q["id"], reveal["questionInstanceId"])
	assert.Equal(t, "c-1", reveal["correctAnswerId"])

	// A submission after expiry is rejected.
	student.expect(models.EventQuestionReveal)
	student.send(map[string]any{
		"type": models.MsgSubmitAnswer, "instanceId": q["id"], "choiceId": "c-1",
	})
	errEvt := student.expect(models.EventError)
	assert.Equal(t, models.ErrCodeQuestionExpired, errEvt["code"])
}

func TestPauseBlocksSubmissionsAndResumeAllows(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s1")

	teacher.send(map[string]any{"type": models.MsgTeacherNextQuestion})
	q := student.expect(models.EventQuestion)["question"].(map[string]any)

	teacher.send(map[string]any{"type": models.MsgTeacherPause})
	phase := student.expect(models.EventPhaseChange)
	assert.Equal(t, string(models.PhasePaused), phase["phase"])

	student.send(map[string]any{
		"type": models.MsgSubmitAnswer, "instanceId": q["id"], "choiceId": "a-1",
	})
	errEvt := student.expect(models.EventError)
	assert.Equal(t, models.ErrCodeInvalidState, errEvt["code"])

	teacher.send(map[string]any{"type": models.MsgTeacherResume})
	phase = student.expect(models.EventPhaseChange)
	assert.Equal(t, string(models.PhaseActiveQuestion), phase["phase"])

	student.send(map[string]any{
		"type": models.MsgSubmitAnswer, "instanceId": q["id"], "choiceId": "a-1",
	})
	result := student.expect(models.EventAnswerResult)
	assert.Equal(t, true, result["correct"])
}

func TestKickedStudentIsClosedAndDenied(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s2")

	teacher.send(map[string]any{"type": models.MsgTeacherKickPlayer, "playerId": "stu-2", "reason": "disruptive"})

	kicked := teacher.expect(models.EventPlayerKicked)
	assert.Equal(t, "stu-2", kicked["studentId"])
	student.expectClosed()

	// The kicked token no longer authenticates.
	again := env.dial()
	again.send(map[string]any{"type": models.MsgHello, "token": "tok-s2"})
	errEvt := again.expect(models.EventError)
	assert.Equal(t, models.ErrCodeKicked, errEvt["code"])
	again.expectClosed()
}

func TestKickClearsTeamMembership(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s2")

	teacher.send(map[string]any{"type": models.MsgTeacherKickPlayer, "playerId": "stu-2"})
	teacher.expect(models.EventPlayerKicked)
	student.expectClosed()

	state, err := env.engine.GetState(models.RoleTeacher)
	require.NoError(t, err)
	var kicked *models.Student
	for i := range state.Students {
		if state.Students[i].ID == "stu-2" {
			kicked = &state.Students[i]
		}
	}
	require.NotNil(t, kicked)
	assert.Empty(t, kicked.TeamID)
	assert.Equal(t, models.ConnStatusKicked, kicked.Status)
	assert.Empty(t, env.store.studentTeam("stu-2"), "team cleared in storage too")
}

func TestTeamlessStudentAnswerAdmittedWithoutTug(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s4")

	teacher.send(map[string]any{"type": models.MsgTeacherNextQuestion})
	q := student.expect(models.EventQuestion)["question"].(map[string]any)

	student.send(map[string]any{
		"type": models.MsgSubmitAnswer, "instanceId": q["id"], "choiceId": "a-1",
	})

	result := student.expect(models.EventAnswerResult)
	assert.Equal(t, true, result["correct"])
	assert.Equal(t, float64(10), result["pointsAwarded"])
	assert.InDelta(t, 50.0, result["newPosition"], 0.001, "no team, no rope movement")
	assert.Equal(t, 0, env.store.strengthEventCount())
}

func TestPresenceChangesArePersisted(t *testing.T) {
	env := newTestEnv(t)
	student := env.connect("tok-s1")

	persistedStatus := func(want models.ConnectionStatus) func() bool {
		return func() bool {
			data, err := env.states.Get(testSessionID)
			if err != nil {
				return false
			}
			state, err := models.DecodeRuntimeState(data)
			if err != nil {
				return false
			}
			st := state.StudentByID("stu-1")
			return st != nil && st.Status == want
		}
	}

	require.Eventually(t, persistedStatus(models.ConnStatusConnected),
		2*time.Second, 20*time.Millisecond, "connect must reach the snapshot")

	_ = student.ws.Close(websocket.StatusNormalClosure, "going away")
	require.Eventually(t, persistedStatus(models.ConnStatusDisconnected),
		2*time.Second, 20*time.Millisecond, "disconnect must reach the snapshot")
}

func TestAttemptStorageFailureLeavesStudentFreeToRetry(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s1")

	teacher.send(map[string]any{"type": models.MsgTeacherNextQuestion})
	q := student.expect(models.EventQuestion)["question"].(map[string]any)

	env.store.failAttempts(errors.New("connection reset by peer"))
	student.send(map[string]any{
		"type": models.MsgSubmitAnswer, "instanceId": q["id"], "choiceId": "a-1", "clientMsgId": "m1",
	})
	errEvt := student.expect(models.EventError)
	assert.Equal(t, models.ErrCodeInternalError, errEvt["code"])
	assert.Contains(t, errEvt["message"], "submit again")

	// The failed attempt was never admitted, so the retry goes through.
	env.store.failAttempts(nil)
	student.send(map[string]any{
		"type": models.MsgSubmitAnswer, "instanceId": q["id"], "choiceId": "a-1", "clientMsgId": "m2",
	})
	result := student.expect(models.EventAnswerResult)
	assert.Equal(t, true, result["correct"])
}

func TestReconnectDeliversFreshSnapshot(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s1")

	teacher.send(map[string]any{"type": models.MsgTeacherNextQuestion})
	firstQ := student.expect(models.EventQuestion)["question"].(map[string]any)
	_ = student.ws.Close(websocket.StatusNormalClosure, "going away")

	c := env.dial()
	c.send(map[string]any{"type": models.MsgHello, "token": "tok-s1", "reconnect": true})
	c.expect(models.EventWelcome)
	snapshot := c.expect(models.EventStateSnapshot)
	state := snapshot["state"].(map[string]any)
	assert.Equal(t, string(models.PhaseActiveQuestion), state["phase"])
	assert.NotNil(t, state["currentQuestion"])

	// The running question is re-delivered after the snapshot, still
	// without the correct answer for a student.
	q := c.expect(models.EventQuestion)["question"].(map[string]any)
	assert.Equal(t, firstQ["id"], q["id"])
	_, leaked := q["correctAnswerId"]
	assert.False(t, leaked)
}

func TestEndGameAnnouncesWinnerAndCloses(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s1")

	teacher.send(map[string]any{"type": models.MsgTeacherManualAdjust, "delta": -20})
	teacher.expect(models.EventTugUpdate)

	teacher.send(map[string]any{"type": models.MsgTeacherEndGame})

	end := student.expect(models.EventGameEnd)
	assert.InDelta(t, 30.0, end["finalPosition"], 0.001)
	winner := end["winner"].(map[string]any)
	assert.Equal(t, "team-left", winner["id"])
	student.expectClosed()
	teacher.expectClosed()

	assert.InDelta(t, 30.0, env.store.sessionEnded[testSessionID], 0.001)
}

func TestCompletedSessionRefusesHello(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.EndGame(context.Background(), "teacher-1"))

	c := env.dial()
	c.send(map[string]any{"type": models.MsgHello, "token": "tok-s1"})
	errEvt := c.expect(models.EventError)
	assert.Equal(t, models.ErrCodeSessionEnded, errEvt["code"])
	c.expectClosed()
}

func TestJoinTeamLockedOnceActive(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")
	student := env.connect("tok-s1")

	student.send(map[string]any{"type": models.MsgJoinTeam, "teamId": "team-right"})
	student.expect(models.EventAck)

	teacher.send(map[string]any{"type": models.MsgTeacherNextQuestion})
	student.expect(models.EventQuestion)

	student.send(map[string]any{"type": models.MsgJoinTeam, "teamId": "team-left"})
	errEvt := student.expect(models.EventError)
	assert.Equal(t, models.ErrCodeInvalidState, errEvt["code"])
}

func TestMalformedMessageAnswersError(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect("tok-s1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.ws.Write(ctx, websocket.MessageText, []byte("{not json")))

	errEvt := c.expect(models.EventError)
	assert.Equal(t, models.ErrCodeInvalidMessage, errEvt["code"])
}

func TestHibernateAndRehydrate(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")

	teacher.send(map[string]any{"type": models.MsgTeacherManualAdjust, "delta": 12})
	teacher.expect(models.EventTugUpdate)
	_ = teacher.ws.Close(websocket.StatusNormalClosure, "done")

	env.manager.Remove(testSessionID)
	require.Nil(t, env.manager.Get(testSessionID))

	eng, err := env.manager.GetOrLoad(context.Background(), testSessionID)
	require.NoError(t, err)

	state, err := eng.GetState(models.RoleTeacher)
	require.NoError(t, err)
	assert.InDelta(t, 62.0, state.Position, 0.001)
	assert.Equal(t, models.PhaseReady, state.Phase)
}

func TestGetOrLoadUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.GetOrLoad(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestControlStateIsRoleProjected(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.connect("tok-teacher")

	teacher.send(map[string]any{"type": models.MsgTeacherNextQuestion})
	teacher.expect(models.EventQuestion)

	teacherState, err := env.engine.GetState(models.RoleTeacher)
	require.NoError(t, err)
	require.NotNil(t, teacherState.CurrentQuestion)
	assert.Equal(t, "a-1", teacherState.CurrentQuestion.CorrectAnswerID)

	studentState, err := env.engine.GetState(models.RoleStudent)
	require.NoError(t, err)
	require.NotNil(t, studentState.CurrentQuestion)
	assert.Empty(t, studentState.CurrentQuestion.CorrectAnswerID)
}
