package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sgalabs/agentflow/internal/pubsub"
	"github.com/sgalabs/agentflow/internal/store"
	"github.com/sgalabs/agentflow/internal/workflow"
)

var flagResumeAll bool

var resumeCmd = &cobra.Command{
	Use:   "resume [kind]",
	Short: "Resume interrupted runs from persisted state",
	Long: `Restart polling for runs that were interrupted mid-flight.

With --all, every persisted polling-phase run is resumed; otherwise the run
for the given kind, --course, and --episode. Resuming preserves the original
start time, so the polling ceiling is unchanged.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&flagResumeAll, "all", false, "resume every interrupted run")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	opened := store.Open(cfg.Store.DBPath)
	defer func() { _ = opened.Close() }()

	var units []workflow.UnitKey
	if flagResumeAll {
		var err error
		units, err = opened.Repo.ActiveUnits()
		if err != nil {
			return err
		}
	} else {
		if len(args) == 0 {
			return fmt.Errorf("a kind argument or --all is required")
		}
		if err := requireUnitFlags(); err != nil {
			return err
		}
		units = append(units, workflow.UnitKey{Kind: args[0], Course: flagCourse, Episode: flagEpisode})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resumed := 0
	for _, unit := range units {
		kind, ok := workflow.KindByID(unit.Kind)
		if !ok {
			fmt.Printf("skipping %s: unknown kind\n", unit)
			continue
		}
		bus := pubsub.NewBroker[workflow.PhaseEvent]()
		ctrl, err := workflow.NewController(workflow.Config{
			Kind:            kind,
			Unit:            unit,
			Invoker:         newAgentCoreClient(),
			Repo:            opened.Repo,
			Backoff:         workflow.Backoff(cfg.Workflow.Backoff),
			Ceiling:         cfg.Workflow.Ceiling,
			HistoryCapacity: cfg.Workflow.HistoryCapacity,
			Bus:             bus,
		})
		if err != nil {
			return err
		}
		if err := ctrl.Resume(ctx); err != nil {
			return fmt.Errorf("resuming %s: %w", unit, err)
		}
		st := ctrl.State()
		if st.Phase != workflow.PhasePolling {
			continue
		}
		resumed++
		fmt.Printf("Resuming %s (started %s)...\n", unit, st.StartedAt.Local().Format("15:04"))
		final, err := ctrl.Wait(ctx)
		if err != nil {
			fmt.Println("Interrupted; remaining runs stay resumable.")
			return nil
		}
		printFinal(final)
	}

	if resumed == 0 {
		fmt.Println("Nothing to resume.")
	}
	return nil
}
