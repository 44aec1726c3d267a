package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sgalabs/agentflow/internal/agentcore"
	"github.com/sgalabs/agentflow/internal/log"
	"github.com/sgalabs/agentflow/internal/pubsub"
)

// DefaultCeiling is the maximum wall-clock duration a poll loop may run,
// measured from the original start of the run.
const DefaultCeiling = 45 * time.Minute

// DefaultHistoryCapacity bounds the per-unit history list.
const DefaultHistoryCapacity = 4

// TimeoutMessage is shown when the ceiling is exceeded. Distinct from a
// backend-reported failure: the result may still arrive out-of-band.
const TimeoutMessage = "This is taking longer than expected. The result may still appear later, but we have stopped waiting."

// Config assembles a Controller's collaborators. Kind, Unit, Invoker, and
// Repo are required; the rest default sensibly.
type Config struct {
	Kind    Kind
	Unit    UnitKey
	Invoker Invoker
	Repo    Repository

	// Scheduler drives poll timers. Defaults to the real timer scheduler.
	Scheduler Scheduler
	// Clock is used for ceiling checks (for testing). Defaults to time.Now.
	Clock Clock
	// Backoff is the poll delay sequence. Defaults to DefaultBackoff.
	Backoff Backoff
	// Ceiling is the maximum wall-clock polling duration. Defaults to
	// DefaultCeiling.
	Ceiling time.Duration
	// HistoryCapacity bounds the unit's history list. Defaults to
	// DefaultHistoryCapacity.
	HistoryCapacity int
	// Bus, when set, receives a PhaseEvent on every transition and progress
	// update.
	Bus *pubsub.Broker[PhaseEvent]
	// Settings are merged into the invocation arguments.
	Settings Settings
}

// Controller drives one unit's workflow runs. All state transitions go
// through it; they are strictly sequential, and a new poll tick is scheduled
// only after the previous one's response is processed.
type Controller struct {
	cfg Config

	mu         sync.Mutex
	state      State
	gen        int // incremented on reset/supersede; guards stale ticks
	cancelTick CancelFunc
	runCancel  context.CancelFunc
	runCtx     context.Context
}

// NewController validates cfg, applies defaults, and returns a Controller in
// the idle phase.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Kind.ID == "" {
		return nil, fmt.Errorf("workflow: kind is required")
	}
	if cfg.Invoker == nil {
		return nil, fmt.Errorf("workflow: invoker is required")
	}
	if cfg.Repo == nil {
		return nil, fmt.Errorf("workflow: repository is required")
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewScheduler()
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClock()
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff()
	}
	if err := cfg.Backoff.Validate(); err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if cfg.Unit.Kind == "" {
		cfg.Unit.Kind = cfg.Kind.ID
	}
	return &Controller{
		cfg:   cfg,
		state: State{Unit: cfg.Unit, Phase: PhaseIdle},
	}, nil
}

// State returns a snapshot of the live state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns the unit's past completed runs, most recent first.
func (c *Controller) History() ([]HistoryEntry, error) {
	return c.cfg.Repo.History(c.cfg.Unit)
}

// Start begins a new run for the unit. Any in-flight run for the same unit
// is superseded. Local validation failures transition directly to
// PhaseInvalid with no remote call; remote errors during the fast phase
// surface as PhaseFailed with a sanitized message. In every case the outcome
// is captured in the state; the returned error mirrors it for callers that
// want an exit code.
func (c *Controller) Start(ctx context.Context, payload string) error {
	c.mu.Lock()
	c.stopLocked()
	now := c.cfg.Clock.Now()

	if err := c.cfg.Kind.Validate(payload); err != nil {
		msg := GenericFailureMessage
		if verr, ok := err.(*ValidationError); ok {
			msg = verr.Reason
		}
		c.state = State{
			RunID:     uuid.NewString(),
			Unit:      c.cfg.Unit,
			Phase:     PhaseInvalid,
			Payload:   payload,
			ErrMsg:    msg,
			StartedAt: now,
			UpdatedAt: now,
		}
		c.persistLocked()
		c.publishLocked()
		c.mu.Unlock()
		return err
	}

	c.state = State{
		RunID:     uuid.NewString(),
		Unit:      c.cfg.Unit,
		Phase:     c.cfg.Kind.FirstPhase,
		Payload:   payload,
		StartedAt: now,
		UpdatedAt: now,
	}
	c.runCtx, c.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := c.runCtx
	gen := c.gen
	c.persistLocked()
	c.publishLocked()
	args := c.cfg.Kind.Args(payload, c.cfg.Unit, c.cfg.Settings)
	c.mu.Unlock()

	log.Info(log.CatWorkflow, "Starting run",
		"unit", c.cfg.Unit.String(), "action", c.cfg.Kind.Action)

	resp, err := c.cfg.Invoker.Invoke(runCtx, c.cfg.Kind.Action, args)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return &SupersededError{Unit: c.cfg.Unit}
	}

	switch {
	case err != nil:
		c.state.Phase = PhaseFailed
		c.state.ErrMsg = Sanitize(err.Error())
		c.touchPersistPublishLocked()
		log.ErrorErr(log.CatWorkflow, "Invocation failed", err, "unit", c.cfg.Unit.String())
		return fmt.Errorf("invoking %s: %w", c.cfg.Kind.Action, err)

	case resp.Rejected:
		c.state.Phase = PhaseInvalid
		c.state.ErrMsg = Sanitize(resp.Message)
		c.touchPersistPublishLocked()
		return &RejectionError{Kind: c.cfg.Kind.ID, Message: c.state.ErrMsg}

	case resp.Result != nil:
		// Synchronous completion.
		c.completeLocked(resp.Result)
		return nil

	case resp.Accepted && resp.Handle != "":
		c.state.Phase = PhaseProcessing
		c.state.Handle = resp.Handle
		c.touchPersistPublishLocked()
		c.state.Phase = PhasePolling
		c.touchPersistPublishLocked()
		c.scheduleTickLocked(c.cfg.Backoff.DelayFor(0))
		return nil

	default:
		c.state.Phase = PhaseFailed
		c.state.ErrMsg = GenericFailureMessage
		c.touchPersistPublishLocked()
		return fmt.Errorf("agentcore returned neither result nor handle for %s", c.cfg.Kind.Action)
	}
}

// Resume restores a persisted polling-phase run and restarts exactly one
// poll loop. It is a no-op when no such snapshot exists or a loop is already
// running. Elapsed-time accounting for the ceiling is preserved: the
// snapshot keeps the original start timestamp.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelTick != nil {
		return nil // a loop is already live
	}

	st, ok, err := c.cfg.Repo.LoadActive(c.cfg.Unit)
	if err != nil {
		return fmt.Errorf("loading persisted state: %w", err)
	}
	if !ok || st.Phase != PhasePolling {
		return nil
	}

	c.state = st
	c.runCtx, c.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	c.publishLocked()
	c.scheduleTickLocked(c.cfg.Backoff.DelayFor(st.PollCount))
	log.Info(log.CatWorkflow, "Resumed polling",
		"unit", c.cfg.Unit.String(), "handle", st.Handle, "polls", st.PollCount)
	return nil
}

// Reset cancels any active poll timer, aborts in-flight calls, and clears
// the live state back to idle. History is left untouched.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.state = State{Unit: c.cfg.Unit, Phase: PhaseIdle}
	if err := c.cfg.Repo.ClearActive(c.cfg.Unit); err != nil {
		log.Warn(log.CatWorkflow, "Failed to clear persisted state", "unit", c.cfg.Unit.String(), "error", err)
	}
	c.publishLocked()
}

// Wait blocks until the run reaches a terminal phase or ctx is cancelled,
// and returns the final state. Requires a Bus in the config.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	if c.cfg.Bus == nil {
		return State{}, fmt.Errorf("workflow: Wait requires an event bus")
	}
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := c.cfg.Bus.Subscribe(subCtx)

	if st := c.State(); st.Phase.Terminal() {
		return st, nil
	}
	for {
		select {
		case <-ctx.Done():
			return c.State(), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return c.State(), ctx.Err()
			}
			if ev.Payload.Phase.Terminal() {
				return c.State(), nil
			}
		}
	}
}

// pollTick is one iteration of the poll loop. gen pins the tick to the run
// that scheduled it; a reset or supersede in between makes it a no-op.
func (c *Controller) pollTick(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.state.Phase != PhasePolling {
		c.mu.Unlock()
		return
	}
	c.cancelTick = nil

	now := c.cfg.Clock.Now()
	if c.state.Elapsed(now) > c.cfg.Ceiling {
		elapsed := c.state.Elapsed(now).Truncate(time.Second)
		c.state.Phase = PhaseTimedOut
		c.state.ErrMsg = TimeoutMessage
		c.touchPersistPublishLocked()
		c.mu.Unlock()
		log.Warn(log.CatWorkflow, "Polling ceiling exceeded",
			"unit", c.cfg.Unit.String(),
			"error", &TimeoutError{Unit: c.cfg.Unit, Elapsed: elapsed.String()})
		return
	}

	handle := c.state.Handle
	runCtx := c.runCtx
	c.mu.Unlock()

	resp, err := c.cfg.Invoker.CheckStatus(runCtx, handle)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state.Phase != PhasePolling {
		return // superseded while the call was in flight
	}
	c.state.PollCount++
	n := c.state.PollCount

	if err != nil {
		// Transient poll failure: the operation may still be progressing
		// server-side, so retry on the existing schedule.
		log.Warn(log.CatWorkflow, "Status check failed; will retry",
			"unit", c.cfg.Unit.String(), "polls", n, "error", err)
		c.touchPersistLocked()
		c.scheduleTickLocked(c.cfg.Backoff.DelayFor(n))
		return
	}

	switch {
	case resp.TerminalSuccess():
		c.completeLocked(resp.Result)

	case resp.TerminalFailure():
		c.state.Phase = PhaseFailed
		c.state.ErrMsg = Sanitize(firstNonEmpty(resp.Error, resp.Message))
		c.touchPersistPublishLocked()

	case resp.DomainRejection():
		c.state.Phase = PhaseInvalid
		c.state.ErrMsg = Sanitize(firstNonEmpty(resp.Message, resp.Error))
		c.touchPersistPublishLocked()

	default:
		// Non-terminal, including needs_review and unknown statuses.
		if resp.Progress > c.state.Progress.Percent {
			c.state.Progress.Percent = resp.Progress
		}
		if resp.Message != "" {
			c.state.Progress.Message = resp.Message
		} else if resp.Status == agentcore.StatusNeedsReview && c.state.Progress.Message == "" {
			c.state.Progress.Message = "Waiting for review confirmation"
		}
		c.touchPersistPublishLocked()
		c.scheduleTickLocked(c.cfg.Backoff.DelayFor(n))
	}
}

// completeLocked finishes the run successfully and records history.
func (c *Controller) completeLocked(result *agentcore.Result) {
	c.state.Phase = PhaseCompleted
	c.state.Result = result
	c.state.ErrMsg = ""
	c.state.Progress.Percent = 100
	c.touchPersistPublishLocked()

	entry := HistoryEntry{
		RunID:     c.state.RunID,
		Result:    result,
		CreatedAt: c.cfg.Clock.Now(),
	}
	if err := c.cfg.Repo.AppendHistory(c.cfg.Unit, entry, c.cfg.HistoryCapacity); err != nil {
		log.Warn(log.CatWorkflow, "Failed to record history", "unit", c.cfg.Unit.String(), "error", err)
	}
	log.Info(log.CatWorkflow, "Run completed", "unit", c.cfg.Unit.String(), "run", c.state.RunID)
}

// stopLocked cancels the timer and any in-flight call, and bumps the
// generation so a tick that already fired becomes a no-op.
func (c *Controller) stopLocked() {
	if c.cancelTick != nil {
		c.cancelTick()
		c.cancelTick = nil
	}
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
	c.gen++
}

func (c *Controller) scheduleTickLocked(delay time.Duration) {
	gen := c.gen
	c.cancelTick = c.cfg.Scheduler.Schedule(delay, func() { c.pollTick(gen) })
}

func (c *Controller) touchPersistLocked() {
	c.state.UpdatedAt = c.cfg.Clock.Now()
	c.persistLocked()
}

func (c *Controller) touchPersistPublishLocked() {
	c.touchPersistLocked()
	c.publishLocked()
}

// persistLocked writes the snapshot through the repository. Storage failures
// degrade to memory-only operation rather than failing the run.
func (c *Controller) persistLocked() {
	if err := c.cfg.Repo.SaveActive(c.cfg.Unit, c.state); err != nil {
		log.Warn(log.CatWorkflow, "Failed to persist state", "unit", c.cfg.Unit.String(), "error", err)
	}
}

func (c *Controller) publishLocked() {
	if c.cfg.Bus == nil {
		return
	}
	c.cfg.Bus.Publish(PhaseEvent{
		Unit:      c.cfg.Unit,
		RunID:     c.state.RunID,
		Phase:     c.state.Phase,
		Progress:  c.state.Progress,
		ErrMsg:    c.state.ErrMsg,
		Result:    c.state.Result,
		Timestamp: c.cfg.Clock.Now(),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
