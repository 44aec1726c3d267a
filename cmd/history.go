package cmd

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/sgalabs/agentflow/internal/store"
	"github.com/sgalabs/agentflow/internal/workflow"
)

var flagShow int

var historyCmd = &cobra.Command{
	Use:   "history <kind>",
	Short: "List past results for a course episode",
	Long: `List the bounded history of completed runs for a unit, most recent
first. With --show N, renders the Nth entry's result summary.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&flagShow, "show", 0, "render entry N (1 = most recent)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := requireUnitFlags(); err != nil {
		return err
	}
	unit := workflow.UnitKey{Kind: args[0], Course: flagCourse, Episode: flagEpisode}

	opened := store.Open(cfg.Store.DBPath)
	defer func() { _ = opened.Close() }()

	entries, err := opened.Repo.History(unit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("No history for %s.\n", unit)
		return nil
	}

	if flagShow > 0 {
		if flagShow > len(entries) {
			return fmt.Errorf("only %d entries available", len(entries))
		}
		return showEntry(entries[flagShow-1])
	}

	for i, e := range entries {
		url := ""
		if e.Result != nil {
			url = e.Result.URL
		}
		fmt.Printf("%d. %s  %s\n", i+1, e.CreatedAt.Local().Format("2006-01-02 15:04"), url)
	}
	return nil
}

// showEntry renders one history entry, with the markdown summary through
// glamour when present.
func showEntry(e workflow.HistoryEntry) error {
	fmt.Printf("Run %s · %s\n", e.RunID, e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if e.Result == nil {
		return nil
	}
	if e.Result.URL != "" {
		fmt.Println(e.Result.URL)
	}
	if e.Result.Summary != "" {
		renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
		if err != nil {
			fmt.Println(e.Result.Summary)
			return nil
		}
		out, err := renderer.Render(e.Result.Summary)
		if err != nil {
			fmt.Println(e.Result.Summary)
			return nil
		}
		fmt.Print(out)
	}
	return nil
}
