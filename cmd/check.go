package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/routesmith/ribd/core"
	"github.com/routesmith/ribd/fib"
	"github.com/routesmith/ribd/rib"
	"github.com/routesmith/ribd/state"
)

// checkCmd loads a config, builds the table offline and renders what
// would be programmed. Useful to validate a config before deploying it.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a config and print the resolved route tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		recorder := fib.NewRecorder()
		r, err := core.BuildRIB(cfg, log, recorder)
		if err != nil {
			return err
		}

		vrfs := cfg.Vrfs
		if len(vrfs) == 0 {
			vrfs = []state.VrfCfg{{Name: state.DefaultVrfName}}
		}
		for _, vcfg := range vrfs {
			fmt.Printf("vrf %s:\n", vcfg.Name)
			for _, afi := range []state.Afi{state.AfiIPv4, state.AfiIPv6} {
				for _, safi := range []state.Safi{state.SafiUnicast, state.SafiMulticast} {
					err := r.Walk(vcfg.Name, afi, safi, func(d rib.RouteDetail) bool {
						fmt.Print(d.Render())
						return true
					})
					if err != nil {
						return err
					}
				}
			}
		}
		fmt.Printf("%d routes programmed\n", recorder.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
