package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sgalabs/agentflow/internal/workflow"
)

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List available workflow kinds",
	Long:  `Display the workflow kinds agentflow can run, with a short description of each.`,
	RunE:  runKinds,
}

func init() {
	rootCmd.AddCommand(kindsCmd)
}

func runKinds(*cobra.Command, []string) error {
	kinds := workflow.Kinds()
	maxLen := 0
	for _, k := range kinds {
		if len(k.ID) > maxLen {
			maxLen = len(k.ID)
		}
	}
	for _, k := range kinds {
		fmt.Printf("  %-*s  %s\n", maxLen, k.ID, k.Description)
	}
	fmt.Println()
	fmt.Println("Start one with: agentflow run <kind> --course <id> --episode <id> [payload]")
	return nil
}
