package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sgalabs/agentflow/internal/agentcore"
	"github.com/sgalabs/agentflow/internal/pubsub"
	"github.com/sgalabs/agentflow/internal/store"
	"github.com/sgalabs/agentflow/internal/workflow"
)

// syncInvoker completes every invocation synchronously and records the
// filenames it saw, in order.
type syncInvoker struct {
	filenames []string
}

func (s *syncInvoker) Invoke(ctx context.Context, action string, args map[string]any) (agentcore.InvokeResponse, error) {
	if name, ok := args["filename"].(string); ok {
		s.filenames = append(s.filenames, name)
	}
	return agentcore.InvokeResponse{Result: &agentcore.Result{Ref: "imported"}}, nil
}

func (s *syncInvoker) CheckStatus(ctx context.Context, handle string) (agentcore.StatusResponse, error) {
	return agentcore.StatusResponse{}, nil
}

func TestStartImportWorker_SerializesImportsThroughOneController(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "inventory-a.xlsx")
	second := filepath.Join(dir, "inventory-b.xlsx")
	require.NoError(t, os.WriteFile(first, []byte("a"), 0600))
	require.NoError(t, os.WriteFile(second, []byte("b"), 0600))

	kind, ok := workflow.KindByID("import")
	require.True(t, ok)

	unit := workflow.UnitKey{Kind: kind.ID, Course: "adm200", Episode: "ep01"}
	repo := store.NewMemoryRepository()
	inv := &syncInvoker{}
	ctrl, err := workflow.NewController(workflow.Config{
		Kind:    kind,
		Unit:    unit,
		Invoker: inv,
		Repo:    repo,
		Bus:     pubsub.NewBroker[workflow.PhaseEvent](),
	})
	require.NoError(t, err)

	// Two files land near-simultaneously; the worker must run them one at a
	// time through the shared controller rather than racing two runs for the
	// same unit.
	queue := make(chan string, 4)
	queue <- first
	queue <- second
	close(queue)

	done := startImportWorker(context.Background(), ctrl, queue)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("import worker did not drain the queue")
	}

	require.Equal(t, []string{"inventory-a.xlsx", "inventory-b.xlsx"}, inv.filenames)
	require.Equal(t, workflow.PhaseCompleted, ctrl.State().Phase)

	history, err := repo.History(unit)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestStartImportWorker_SkipsInvalidFileAndContinues(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "notes.txt")
	good := filepath.Join(dir, "inventory.xlsx")
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0600))
	require.NoError(t, os.WriteFile(good, []byte("y"), 0600))

	kind, ok := workflow.KindByID("import")
	require.True(t, ok)

	unit := workflow.UnitKey{Kind: kind.ID, Course: "adm200", Episode: "ep01"}
	inv := &syncInvoker{}
	ctrl, err := workflow.NewController(workflow.Config{
		Kind:    kind,
		Unit:    unit,
		Invoker: inv,
		Repo:    store.NewMemoryRepository(),
		Bus:     pubsub.NewBroker[workflow.PhaseEvent](),
	})
	require.NoError(t, err)

	queue := make(chan string, 4)
	queue <- bad
	queue <- good
	close(queue)

	done := startImportWorker(context.Background(), ctrl, queue)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("import worker did not drain the queue")
	}

	// The unsupported file is rejected locally with no remote call; the next
	// file still imports.
	require.Equal(t, []string{"inventory.xlsx"}, inv.filenames)
	require.Equal(t, workflow.PhaseCompleted, ctrl.State().Phase)
}
