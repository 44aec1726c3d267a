package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sgalabs/agentflow/internal/store"
	"github.com/sgalabs/agentflow/internal/workflow"
)

var flagResetHistory bool

var resetCmd = &cobra.Command{
	Use:   "reset <kind>",
	Short: "Clear the persisted run for a course episode",
	Long: `Clear a unit's persisted run state back to idle. History is kept
unless --history is also given.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&flagResetHistory, "history", false, "also clear the unit's history")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := requireUnitFlags(); err != nil {
		return err
	}
	unit := workflow.UnitKey{Kind: args[0], Course: flagCourse, Episode: flagEpisode}

	opened := store.Open(cfg.Store.DBPath)
	defer func() { _ = opened.Close() }()

	if err := opened.Repo.ClearActive(unit); err != nil {
		return err
	}
	if flagResetHistory {
		if err := opened.Repo.ClearHistory(unit); err != nil {
			return err
		}
	}
	fmt.Printf("Cleared %s.\n", unit)
	return nil
}
