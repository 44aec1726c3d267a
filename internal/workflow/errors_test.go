package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationError_Error_NamesKindAndReason(t *testing.T) {
	err := &ValidationError{Kind: "deck", Reason: "topic must be at least 20 characters"}
	require.Equal(t, "invalid deck input: topic must be at least 20 characters", err.Error())
}

func TestRejectionError_Error_NamesKindAndMessage(t *testing.T) {
	err := &RejectionError{Kind: "video", Message: "doubt unrelated to lesson"}
	require.Equal(t, "video request rejected: doubt unrelated to lesson", err.Error())
}

func TestTimeoutError_Error_ReportsUnitAndElapsed(t *testing.T) {
	unit := UnitKey{Kind: "deck", Course: "adm200", Episode: "ep03"}
	err := &TimeoutError{Unit: unit, Elapsed: "45m2s"}
	require.Equal(t, "operation for deck:adm200:ep03 still running after 45m2s; gave up polling", err.Error())
}

func TestSupersededError_Error_NamesUnit(t *testing.T) {
	unit := UnitKey{Kind: "import", Course: "adm200", Episode: "ep01"}
	err := &SupersededError{Unit: unit}
	require.Equal(t, "run for import:adm200:ep01 superseded by a newer run", err.Error())
}
