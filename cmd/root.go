// Package cmd wires the league CLI: one binary serves any of the three
// agent roles, runs migrations, and reports its version.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/parityleague/league/internal/config"
	"github.com/parityleague/league/internal/log"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "league",
	Short: "Parity League - multi-agent tournament platform",
	Long: `league runs the agents of a parity-sum tournament: the league manager,
referees, and players. Agents speak JSON-RPC to each other over HTTP (with
an SSE notification stream) or stdio.

Pick a role with one of the serve-* subcommands.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (YAML); LEAGUE_* environment variables override")
}

// loadConfig reads configuration and builds the process logger from it.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})
	return cfg, logger, nil
}
