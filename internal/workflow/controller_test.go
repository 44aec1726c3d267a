package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sgalabs/agentflow/internal/agentcore"
	"github.com/sgalabs/agentflow/internal/pubsub"
)

// mockClock is a controllable clock for ceiling checks.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scheduledTask is one Schedule call recorded by fakeScheduler.
type scheduledTask struct {
	delay     time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

// fakeScheduler records scheduled callbacks and fires them on demand, so
// tests drive the poll loop tick by tick.
type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*scheduledTask
}

func (s *fakeScheduler) Schedule(delay time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &scheduledTask{delay: delay, fn: fn}
	s.tasks = append(s.tasks, task)
	return func() {
		s.mu.Lock()
		task.cancelled = true
		s.mu.Unlock()
	}
}

// fire runs the oldest pending task synchronously. Returns false when no
// task is pending.
func (s *fakeScheduler) fire() bool {
	s.mu.Lock()
	var next *scheduledTask
	for _, task := range s.tasks {
		if !task.fired && !task.cancelled {
			next = task
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return false
	}
	next.fired = true
	fn := next.fn
	s.mu.Unlock()
	fn()
	return true
}

// delays returns every scheduled delay in order, cancelled or not.
func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.tasks))
	for i, task := range s.tasks {
		out[i] = task.delay
	}
	return out
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, task := range s.tasks {
		if !task.fired && !task.cancelled {
			n++
		}
	}
	return n
}

type statusStep struct {
	resp agentcore.StatusResponse
	err  error
}

// fakeInvoker is a scripted remote boundary.
type fakeInvoker struct {
	mu         sync.Mutex
	invokeResp agentcore.InvokeResponse
	invokeErr  error
	statuses   []statusStep

	invokes  []string
	lastArgs map[string]any
	checks   int
}

func (f *fakeInvoker) Invoke(_ context.Context, action string, args map[string]any) (agentcore.InvokeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invokes = append(f.invokes, action)
	f.lastArgs = args
	return f.invokeResp, f.invokeErr
}

func (f *fakeInvoker) CheckStatus(context.Context, string) (agentcore.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if len(f.statuses) == 0 {
		return agentcore.StatusResponse{Status: agentcore.StatusProcessing}, nil
	}
	step := f.statuses[0]
	f.statuses = f.statuses[1:]
	return step.resp, step.err
}

func (f *fakeInvoker) invokeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invokes)
}

func (f *fakeInvoker) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

// fakeRepo is an in-memory Repository for controller tests.
type fakeRepo struct {
	mu      sync.Mutex
	active  map[UnitKey]State
	setting map[UnitKey]Settings
	history map[UnitKey][]HistoryEntry
	nextID  int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		active:  make(map[UnitKey]State),
		setting: make(map[UnitKey]Settings),
		history: make(map[UnitKey][]HistoryEntry),
	}
}

func (r *fakeRepo) SaveActive(unit UnitKey, st State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[unit] = st
	return nil
}

func (r *fakeRepo) LoadActive(unit UnitKey) (State, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.active[unit]
	return st, ok, nil
}

func (r *fakeRepo) ClearActive(unit UnitKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, unit)
	return nil
}

func (r *fakeRepo) SaveSettings(unit UnitKey, s Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setting[unit] = s
	return nil
}

func (r *fakeRepo) LoadSettings(unit UnitKey) (Settings, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.setting[unit]
	return s, ok, nil
}

func (r *fakeRepo) AppendHistory(unit UnitKey, e HistoryEntry, capacity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	entries := append([]HistoryEntry{e}, r.history[unit]...)
	if len(entries) > capacity {
		entries = entries[:capacity]
	}
	r.history[unit] = entries
	return nil
}

func (r *fakeRepo) History(unit UnitKey) ([]HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HistoryEntry(nil), r.history[unit]...), nil
}

func (r *fakeRepo) ClearHistory(unit UnitKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.history, unit)
	return nil
}

func (r *fakeRepo) ActiveUnits() ([]UnitKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	units := make([]UnitKey, 0, len(r.active))
	for unit := range r.active {
		units = append(units, unit)
	}
	return units, nil
}

const videoPrompt = "explain the difference between speed and velocity"

var testUnit = UnitKey{Kind: "video", Course: "phy101", Episode: "ep03"}

type testHarness struct {
	ctrl  *Controller
	inv   *fakeInvoker
	sched *fakeScheduler
	clock *mockClock
	repo  *fakeRepo
	bus   *pubsub.Broker[PhaseEvent]
}

func newTestHarness(t *testing.T, inv *fakeInvoker) *testHarness {
	t.Helper()
	h := &testHarness{
		inv:   inv,
		sched: &fakeScheduler{},
		clock: newMockClock(),
		repo:  newFakeRepo(),
		bus:   pubsub.NewBroker[PhaseEvent](),
	}
	kind, ok := KindByID("video")
	require.True(t, ok)

	ctrl, err := NewController(Config{
		Kind:      kind,
		Unit:      testUnit,
		Invoker:   inv,
		Repo:      h.repo,
		Scheduler: h.sched,
		Clock:     h.clock,
		Bus:       h.bus,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func acceptedInvoke(handle string) agentcore.InvokeResponse {
	return agentcore.InvokeResponse{Accepted: true, Handle: handle}
}

func TestController_Start_PollsUntilCompleted(t *testing.T) {
	inv := &fakeInvoker{
		invokeResp: acceptedInvoke("op-1"),
		statuses: []statusStep{
			{resp: agentcore.StatusResponse{Status: agentcore.StatusProcessing, Progress: 40, Message: "Rendering scenes"}},
			{resp: agentcore.StatusResponse{
				Status: agentcore.StatusCompleted,
				Result: &agentcore.Result{URL: "https://cdn.example.com/videos/42.mp4"},
			}},
		},
	}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))

	st := h.ctrl.State()
	require.Equal(t, PhasePolling, st.Phase)
	require.Equal(t, "op-1", st.Handle)
	require.Equal(t, []string{"video.generate"}, inv.invokes)

	// First check fires after the initial delay.
	require.Equal(t, []time.Duration{10 * time.Second}, h.sched.delays())
	require.True(t, h.sched.fire())

	st = h.ctrl.State()
	require.Equal(t, PhasePolling, st.Phase)
	require.Equal(t, 40, st.Progress.Percent)
	require.Equal(t, "Rendering scenes", st.Progress.Message)
	require.Equal(t, 1, st.PollCount)

	// The next delay steps up the backoff sequence.
	require.Equal(t, []time.Duration{10 * time.Second, 15 * time.Second}, h.sched.delays())
	require.True(t, h.sched.fire())

	st = h.ctrl.State()
	require.Equal(t, PhaseCompleted, st.Phase)
	require.Equal(t, 100, st.Progress.Percent)
	require.Empty(t, st.ErrMsg)
	require.NotNil(t, st.Result)
	require.Equal(t, "https://cdn.example.com/videos/42.mp4", st.Result.URL)
	require.Zero(t, h.sched.pending())

	entries, err := h.ctrl.History()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, st.RunID, entries[0].RunID)
}

func TestController_Start_ShortPromptIsInvalidWithoutRemoteCall(t *testing.T) {
	inv := &fakeInvoker{}
	h := newTestHarness(t, inv)

	err := h.ctrl.Start(context.Background(), "too short")
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	st := h.ctrl.State()
	require.Equal(t, PhaseInvalid, st.Phase)
	require.Contains(t, st.ErrMsg, "20")
	require.Zero(t, inv.invokeCount())
	require.Empty(t, h.sched.delays())
}

func TestController_Start_SynchronousResultCompletes(t *testing.T) {
	inv := &fakeInvoker{
		invokeResp: agentcore.InvokeResponse{
			Accepted: true,
			Result:   &agentcore.Result{Summary: "Deck with 12 slides"},
		},
	}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))

	st := h.ctrl.State()
	require.Equal(t, PhaseCompleted, st.Phase)
	require.Equal(t, 100, st.Progress.Percent)
	require.Empty(t, h.sched.delays())

	entries, err := h.ctrl.History()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestController_Start_BackendRejectionIsInvalid(t *testing.T) {
	inv := &fakeInvoker{
		invokeResp: agentcore.InvokeResponse{Rejected: true, Message: "This topic is outside the course scope."},
	}
	h := newTestHarness(t, inv)

	err := h.ctrl.Start(context.Background(), videoPrompt)
	var rerr *RejectionError
	require.ErrorAs(t, err, &rerr)

	st := h.ctrl.State()
	require.Equal(t, PhaseInvalid, st.Phase)
	require.Equal(t, "This topic is outside the course scope.", st.ErrMsg)
	require.Empty(t, h.sched.delays())
}

func TestController_Start_InvocationErrorIsSanitized(t *testing.T) {
	inv := &fakeInvoker{invokeErr: errors.New("dial tcp 10.0.0.1:443: connection refused")}
	h := newTestHarness(t, inv)

	require.Error(t, h.ctrl.Start(context.Background(), videoPrompt))

	st := h.ctrl.State()
	require.Equal(t, PhaseFailed, st.Phase)
	require.Equal(t, GenericFailureMessage, st.ErrMsg)
}

func TestController_Start_SupersedesPreviousRun(t *testing.T) {
	inv := &fakeInvoker{invokeResp: acceptedInvoke("op-1")}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))
	firstRun := h.ctrl.State().RunID

	inv.mu.Lock()
	inv.invokeResp = acceptedInvoke("op-2")
	inv.mu.Unlock()
	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))

	st := h.ctrl.State()
	require.NotEqual(t, firstRun, st.RunID)
	require.Equal(t, "op-2", st.Handle)

	// The first run's pending tick was cancelled on supersede.
	h.sched.mu.Lock()
	firstTask := h.sched.tasks[0]
	h.sched.mu.Unlock()
	require.True(t, firstTask.cancelled)

	// Even if the old timer had already fired, its tick is a no-op.
	firstTask.fn()
	require.Zero(t, inv.checkCount())
	require.Equal(t, st.RunID, h.ctrl.State().RunID)
}

func TestController_PollTick_StopsAtCeiling(t *testing.T) {
	inv := &fakeInvoker{invokeResp: acceptedInvoke("op-1")}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))
	h.clock.Advance(46 * time.Minute)
	require.True(t, h.sched.fire())

	st := h.ctrl.State()
	require.Equal(t, PhaseTimedOut, st.Phase)
	require.Equal(t, TimeoutMessage, st.ErrMsg)
	require.Nil(t, st.Result)
	// The ceiling check runs before the remote call.
	require.Zero(t, inv.checkCount())
	require.Zero(t, h.sched.pending())
}

func TestController_PollTick_TransientErrorKeepsPolling(t *testing.T) {
	inv := &fakeInvoker{
		invokeResp: acceptedInvoke("op-1"),
		statuses: []statusStep{
			{err: errors.New("context deadline exceeded")},
			{err: errors.New("context deadline exceeded")},
			{err: errors.New("context deadline exceeded")},
			{err: errors.New("context deadline exceeded")},
			{resp: agentcore.StatusResponse{Status: agentcore.StatusCompleted, Result: &agentcore.Result{Ref: "r1"}}},
		},
	}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))

	// Four consecutive failed checks never produce a failed transition.
	for i := 0; i < 4; i++ {
		require.True(t, h.sched.fire())
		st := h.ctrl.State()
		require.Equal(t, PhasePolling, st.Phase)
		require.Empty(t, st.ErrMsg)
	}
	require.Equal(t, []time.Duration{
		10 * time.Second, 15 * time.Second, 20 * time.Second,
		30 * time.Second, 60 * time.Second,
	}, h.sched.delays())

	require.True(t, h.sched.fire())
	require.Equal(t, PhaseCompleted, h.ctrl.State().Phase)
	require.Equal(t, 5, inv.checkCount())
}

func TestController_PollTick_TechnicalFailureIsSanitized(t *testing.T) {
	inv := &fakeInvoker{
		invokeResp: acceptedInvoke("op-1"),
		statuses: []statusStep{
			{resp: agentcore.StatusResponse{
				Status: agentcore.StatusFailed,
				Error:  `{"code":500,"trace":"goroutine 12 [running]"}`,
			}},
		},
	}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))
	require.True(t, h.sched.fire())

	st := h.ctrl.State()
	require.Equal(t, PhaseFailed, st.Phase)
	require.Equal(t, GenericFailureMessage, st.ErrMsg)
	require.Zero(t, h.sched.pending())
}

func TestController_PollTick_UserSafeFailureMessageIsKept(t *testing.T) {
	inv := &fakeInvoker{
		invokeResp: acceptedInvoke("op-1"),
		statuses: []statusStep{
			{resp: agentcore.StatusResponse{
				Status:  agentcore.StatusFailed,
				Message: "The document has no readable tables.",
			}},
		},
	}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))
	require.True(t, h.sched.fire())

	st := h.ctrl.State()
	require.Equal(t, PhaseFailed, st.Phase)
	require.Equal(t, "The document has no readable tables.", st.ErrMsg)
}

func TestController_PollTick_ProgressNeverDecreases(t *testing.T) {
	inv := &fakeInvoker{
		invokeResp: acceptedInvoke("op-1"),
		statuses: []statusStep{
			{resp: agentcore.StatusResponse{Status: agentcore.StatusProcessing, Progress: 50}},
			{resp: agentcore.StatusResponse{Status: agentcore.StatusProcessing, Progress: 30}},
		},
	}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))
	require.True(t, h.sched.fire())
	require.Equal(t, 50, h.ctrl.State().Progress.Percent)

	require.True(t, h.sched.fire())
	require.Equal(t, 50, h.ctrl.State().Progress.Percent)
	require.Equal(t, PhasePolling, h.ctrl.State().Phase)
}

func TestController_PollTick_NeedsReviewKeepsPolling(t *testing.T) {
	inv := &fakeInvoker{
		invokeResp: acceptedInvoke("op-1"),
		statuses: []statusStep{
			{resp: agentcore.StatusResponse{Status: agentcore.StatusNeedsReview}},
		},
	}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))
	require.True(t, h.sched.fire())

	st := h.ctrl.State()
	require.Equal(t, PhasePolling, st.Phase)
	require.Equal(t, "Waiting for review confirmation", st.Progress.Message)
	require.Equal(t, 1, h.sched.pending())
}

func TestController_PollTick_DelaysClampAtLastBackoffValue(t *testing.T) {
	inv := &fakeInvoker{invokeResp: acceptedInvoke("op-1")}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))
	for i := 0; i < 6; i++ {
		require.True(t, h.sched.fire())
	}

	want := []time.Duration{
		10 * time.Second, 15 * time.Second, 20 * time.Second,
		30 * time.Second, 60 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	require.Equal(t, want, h.sched.delays())
}

func TestController_Resume_ContinuesFromSnapshot(t *testing.T) {
	inv := &fakeInvoker{
		statuses: []statusStep{
			{resp: agentcore.StatusResponse{Status: agentcore.StatusCompleted, Result: &agentcore.Result{Ref: "r2"}}},
		},
	}
	h := newTestHarness(t, inv)

	started := h.clock.Now().Add(-5 * time.Minute)
	require.NoError(t, h.repo.SaveActive(testUnit, State{
		RunID:     "run-9",
		Unit:      testUnit,
		Phase:     PhasePolling,
		Handle:    "op-9",
		StartedAt: started,
		UpdatedAt: started,
		PollCount: 2,
	}))

	require.NoError(t, h.ctrl.Resume(context.Background()))

	st := h.ctrl.State()
	require.Equal(t, "run-9", st.RunID)
	require.Equal(t, PhasePolling, st.Phase)
	// The delay picks up where the persisted backoff position left off.
	require.Equal(t, []time.Duration{20 * time.Second}, h.sched.delays())

	require.True(t, h.sched.fire())
	require.Equal(t, PhaseCompleted, h.ctrl.State().Phase)
}

func TestController_Resume_NoSnapshotIsNoOp(t *testing.T) {
	inv := &fakeInvoker{}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Resume(context.Background()))
	require.Equal(t, PhaseIdle, h.ctrl.State().Phase)
	require.Empty(t, h.sched.delays())
}

func TestController_Resume_ExpiredSnapshotTimesOutOnFirstTick(t *testing.T) {
	inv := &fakeInvoker{}
	h := newTestHarness(t, inv)

	started := h.clock.Now().Add(-50 * time.Minute)
	require.NoError(t, h.repo.SaveActive(testUnit, State{
		RunID:     "run-9",
		Unit:      testUnit,
		Phase:     PhasePolling,
		Handle:    "op-9",
		StartedAt: started,
		UpdatedAt: started,
		PollCount: 7,
	}))

	require.NoError(t, h.ctrl.Resume(context.Background()))
	require.True(t, h.sched.fire())

	st := h.ctrl.State()
	require.Equal(t, PhaseTimedOut, st.Phase)
	require.Equal(t, TimeoutMessage, st.ErrMsg)
	require.Zero(t, inv.checkCount())
}

func TestController_Reset_ReturnsToIdle(t *testing.T) {
	inv := &fakeInvoker{invokeResp: acceptedInvoke("op-1")}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))
	h.ctrl.Reset()

	st := h.ctrl.State()
	require.Equal(t, PhaseIdle, st.Phase)
	require.Empty(t, st.RunID)
	require.Zero(t, h.sched.pending())

	_, ok, err := h.repo.LoadActive(testUnit)
	require.NoError(t, err)
	require.False(t, ok)

	// A tick that raced past cancellation must not issue a status check.
	h.sched.mu.Lock()
	staleTick := h.sched.tasks[0].fn
	h.sched.mu.Unlock()
	staleTick()
	require.Zero(t, inv.checkCount())
	require.Equal(t, PhaseIdle, h.ctrl.State().Phase)
}

func TestController_Wait_ReturnsOnceTerminal(t *testing.T) {
	inv := &fakeInvoker{
		invokeResp: acceptedInvoke("op-1"),
		statuses: []statusStep{
			{resp: agentcore.StatusResponse{Status: agentcore.StatusSucceeded, Result: &agentcore.Result{Ref: "r3"}}},
		},
	}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.sched.fire()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := h.ctrl.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, PhaseCompleted, st.Phase)
}

func TestController_State_PersistsEveryTransition(t *testing.T) {
	inv := &fakeInvoker{invokeResp: acceptedInvoke("op-1")}
	h := newTestHarness(t, inv)

	require.NoError(t, h.ctrl.Start(context.Background(), videoPrompt))

	persisted, ok, err := h.repo.LoadActive(testUnit)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, h.ctrl.State(), persisted)
}
