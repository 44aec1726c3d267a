// Package cmd implements the agentflow command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sgalabs/agentflow/internal/config"
	"github.com/sgalabs/agentflow/internal/log"
	"github.com/sgalabs/agentflow/internal/telemetry"
)

var (
	cfgFile string
	cfg     config.Config

	flagCourse  string
	flagEpisode string

	telemetryShutdown telemetry.Shutdown
)

var rootCmd = &cobra.Command{
	Use:   "agentflow",
	Short: "Drive long-running AgentCore workflows from the terminal",
	Long: `agentflow starts, watches, and resumes the long-running AI workflows of
the SGA/Academy product (smart import, slide-deck generation, extra-class
video generation) against the AgentCore backend.

Runs survive process restarts: state is persisted locally after every phase
transition, and 'agentflow resume' picks up where an interrupted run left off.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		if err := log.Init(cfg.Log.File, parseLevel(cfg.Log.Level)); err != nil {
			// Logging is best-effort; a read-only home dir should not stop us.
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
		if err != nil {
			return err
		}
		telemetryShutdown = shutdown
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if telemetryShutdown != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetryShutdown(ctx)
		}
		log.Close()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.agentflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagCourse, "course", "", "course identifier")
	rootCmd.PersistentFlags().StringVar(&flagEpisode, "episode", "", "episode identifier")
}

// loadConfig reads configuration from file and environment into cfg.
// Precedence: flags > env (AGENTFLOW_*) > config file > defaults.
func loadConfig() error {
	cfg = config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".agentflow"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("AGENTFLOW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return cfg.Validate()
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// requireUnitFlags errors unless --course and --episode were given.
func requireUnitFlags() error {
	if flagCourse == "" || flagEpisode == "" {
		return fmt.Errorf("--course and --episode are required")
	}
	return nil
}
