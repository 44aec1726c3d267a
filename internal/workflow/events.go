package workflow

import (
	"time"

	"github.com/sgalabs/agentflow/internal/agentcore"
)

// PhaseEvent is published on every phase transition or progress update so a
// UI can render controller state without polling it.
type PhaseEvent struct {
	Unit      UnitKey
	RunID     string
	Phase     Phase
	Progress  Progress
	ErrMsg    string
	Result    *agentcore.Result
	Timestamp time.Time
}
