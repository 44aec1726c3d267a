package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/sgalabs/agentflow/internal/agentcore"
)

// UnitKey identifies the logical unit of work a run belongs to. At most one
// run is live per unit; starting a new run supersedes any in-flight poll for
// the same unit.
type UnitKey struct {
	Kind    string `json:"kind"`
	Course  string `json:"course"`
	Episode string `json:"episode"`
}

// String renders the composite storage key, e.g. "video:mat101:ep03".
func (k UnitKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.Course, k.Episode)
}

// ParseUnitKey parses a "kind:course:episode" composite key.
func ParseUnitKey(s string) (UnitKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return UnitKey{}, fmt.Errorf("malformed unit key %q", s)
	}
	return UnitKey{Kind: parts[0], Course: parts[1], Episode: parts[2]}, nil
}

// Progress is a monotonically non-decreasing percentage plus a human-readable
// status message, updated only while a remote operation is underway.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// State is the live snapshot of one run. It is mutated exclusively by the
// controller and serialized as-is for persistence.
type State struct {
	RunID     string            `json:"run_id"`
	Unit      UnitKey           `json:"unit"`
	Phase     Phase             `json:"phase"`
	Payload   string            `json:"payload,omitempty"` // immutable once started
	Handle    string            `json:"handle,omitempty"`
	Progress  Progress          `json:"progress"`
	Result    *agentcore.Result `json:"result,omitempty"`  // set iff Phase == completed
	ErrMsg    string            `json:"err_msg,omitempty"` // set iff Phase.Failure()
	StartedAt time.Time         `json:"started_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	PollCount int               `json:"poll_count"`
}

// Live reports whether the snapshot represents an active run.
func (s State) Live() bool {
	return s.Phase != "" && s.Phase != PhaseIdle
}

// Elapsed returns the wall-clock time since the run started. The ceiling is
// measured against this, from the original start, so it is robust to the
// process being suspended and resumed.
func (s State) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// HistoryEntry is one past completed run, kept so a prior output can be
// revisited without regenerating it.
type HistoryEntry struct {
	ID        int64             `json:"id"`
	RunID     string            `json:"run_id"`
	Result    *agentcore.Result `json:"result"`
	CreatedAt time.Time         `json:"created_at"`
}
