package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sgalabs/agentflow/internal/store"
	"github.com/sgalabs/agentflow/internal/workflow"
)

var flagOutput string

var statusCmd = &cobra.Command{
	Use:   "status [kind]",
	Short: "Show the persisted state of runs",
	Long: `Show the persisted workflow state. Without arguments, lists every unit
with a live run; with a kind plus --course and --episode, shows that unit's
full snapshot.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, yaml, or json")
	rootCmd.AddCommand(statusCmd)
}

// statusView is the serializable projection of a snapshot.
type statusView struct {
	Unit      string `json:"unit" yaml:"unit"`
	Phase     string `json:"phase" yaml:"phase"`
	Percent   int    `json:"percent" yaml:"percent"`
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	ResultURL string `json:"result_url,omitempty" yaml:"result_url,omitempty"`
	StartedAt string `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Polls     int    `json:"polls" yaml:"polls"`
}

func toView(st workflow.State) statusView {
	v := statusView{
		Unit:    st.Unit.String(),
		Phase:   string(st.Phase),
		Percent: st.Progress.Percent,
		Message: st.Progress.Message,
		Error:   st.ErrMsg,
		Polls:   st.PollCount,
	}
	if !st.StartedAt.IsZero() {
		v.StartedAt = st.StartedAt.Local().Format("2006-01-02 15:04:05")
	}
	if st.Result != nil {
		v.ResultURL = st.Result.URL
	}
	return v
}

func runStatus(cmd *cobra.Command, args []string) error {
	opened := store.Open(cfg.Store.DBPath)
	defer func() { _ = opened.Close() }()

	var views []statusView
	if len(args) == 1 {
		if err := requireUnitFlags(); err != nil {
			return err
		}
		unit := workflow.UnitKey{Kind: args[0], Course: flagCourse, Episode: flagEpisode}
		st, ok, err := opened.Repo.LoadActive(unit)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("No run for %s.\n", unit)
			return nil
		}
		views = append(views, toView(st))
	} else {
		units, err := opened.Repo.ActiveUnits()
		if err != nil {
			return err
		}
		for _, unit := range units {
			st, ok, err := opened.Repo.LoadActive(unit)
			if err != nil {
				return err
			}
			if ok {
				views = append(views, toView(st))
			}
		}
		if len(views) == 0 {
			fmt.Println("No runs.")
			return nil
		}
	}

	switch flagOutput {
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(views)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "text":
		for _, v := range views {
			line := fmt.Sprintf("%-30s %-12s %3d%%", v.Unit, v.Phase, v.Percent)
			if v.Message != "" {
				line += "  " + v.Message
			}
			if v.Error != "" {
				line += "  " + v.Error
			}
			fmt.Println(line)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", flagOutput)
	}
}
