package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/sgalabs/agentflow/internal/agentcore"
	"github.com/sgalabs/agentflow/internal/pubsub"
	"github.com/sgalabs/agentflow/internal/store"
	"github.com/sgalabs/agentflow/internal/ui/monitor"
	"github.com/sgalabs/agentflow/internal/workflow"
)

var (
	flagMonitor  bool
	flagSettings []string
)

var runCmd = &cobra.Command{
	Use:   "run <kind> [payload]",
	Short: "Start a workflow run and wait for it to finish",
	Long: `Start a workflow run for a course episode and wait for the result.

The payload depends on the kind: a file path for 'import', a topic or doubt
text for 'deck' and 'video'. Interrupting a run with Ctrl+C leaves its state
persisted; 'agentflow resume' continues polling later.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&flagMonitor, "monitor", false, "show a live progress pane")
	runCmd.Flags().StringArrayVar(&flagSettings, "set", nil, "workflow setting as key=value (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := requireUnitFlags(); err != nil {
		return err
	}
	kind, ok := workflow.KindByID(args[0])
	if !ok {
		return fmt.Errorf("unknown kind %q; run 'agentflow kinds' for the list", args[0])
	}
	var payload string
	if len(args) > 1 {
		payload = args[1]
	}

	settings, err := parseSettings(flagSettings)
	if err != nil {
		return err
	}

	opened := store.Open(cfg.Store.DBPath)
	defer func() { _ = opened.Close() }()
	if opened.InMemory {
		fmt.Println("warning: persistent store unavailable; this run will not survive a restart")
	}

	unit := workflow.UnitKey{Kind: kind.ID, Course: flagCourse, Episode: flagEpisode}
	if len(settings) > 0 {
		if err := opened.Repo.SaveSettings(unit, settings); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
	} else if saved, ok, _ := opened.Repo.LoadSettings(unit); ok {
		settings = saved
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
		Settings:        settings,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if startErr := ctrl.Start(ctx, payload); startErr != nil {
		// Validation and rejection outcomes are already captured in the
		// state; report them and exit non-zero without a retry hint storm.
		st := ctrl.State()
		if st.Phase.Terminal() {
			printFinal(st)
			return startErr
		}
		return startErr
	}

	if st := ctrl.State(); st.Phase.Terminal() {
		printFinal(st)
		return nil
	}

	if flagMonitor {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		m := monitor.New(unit, bus.Subscribe(subCtx), ctrl.State())
		if _, err := tea.NewProgram(m, tea.WithContext(ctx)).Run(); err != nil {
			return err
		}
	} else {
		fmt.Printf("Working on %s (checking every %s at first)...\n", unit, cfg.Workflow.Backoff[0])
		if _, err := ctrl.Wait(ctx); err != nil {
			fmt.Println("\nInterrupted; run 'agentflow resume' to continue this run later.")
			return nil
		}
	}

	printFinal(ctrl.State())
	return nil
}

// newAgentCoreClient builds the AgentCore client from config.
func newAgentCoreClient() *agentcore.Client {
	return agentcore.NewClient(cfg.AgentCore.BaseURL,
		agentcore.WithToken(cfg.AgentCore.Token),
		agentcore.WithTimeout(cfg.AgentCore.RequestTimeout),
	)
}

// parseSettings turns repeated key=value flags into a settings map.
func parseSettings(pairs []string) (workflow.Settings, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	s := make(workflow.Settings, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("malformed setting %q; expected key=value", pair)
		}
		s[key] = value
	}
	return s, nil
}

// printFinal reports the terminal state of a run.
func printFinal(st workflow.State) {
	switch st.Phase {
	case workflow.PhaseCompleted:
		fmt.Println("Done.")
		if st.Result != nil {
			if st.Result.URL != "" {
				fmt.Println("  " + st.Result.URL)
			}
			if st.Result.Summary != "" {
				fmt.Println("  " + firstLine(st.Result.Summary))
			}
		}
	case workflow.PhaseInvalid:
		fmt.Println("Not started: " + st.ErrMsg)
	case workflow.PhaseTimedOut:
		fmt.Println(st.ErrMsg)
	case workflow.PhaseFailed:
		fmt.Println("Failed: " + st.ErrMsg)
	default:
		fmt.Printf("Run is %s.\n", st.Phase)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
