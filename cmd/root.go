package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ribd",
	Short: "ribd routing information base engine",
	Long: `ribd maintains per-VRF longest-prefix-match route tables, selects the
best route among the candidates submitted for each destination and
programs only the winner into the forwarding plane.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ribd.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
}
