package cmd

import (
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/routesmith/ribd/core"
	"github.com/routesmith/ribd/state"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the rib engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}
		return core.Start(*cfg, level)
	},
}

func loadConfig() (*state.Config, error) {
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg state.Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}
	if err := state.ConfigValidator(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
}
