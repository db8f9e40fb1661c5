package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/smsq/internal/daemon"
	"github.com/matheus3301/smsq/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	profileFlag string
	debugFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "smsqd",
	Short: "Offline-first SMS queue daemon",
	Long:  "Runs the local store, contact sync and outbound queue for one profile.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := session.Resolve(profileFlag)
		if err := session.ValidateName(profile); err != nil {
			return err
		}

		app := fx.New(
			daemon.Module(daemon.Params{Profile: profile, Debug: debugFlag}),
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func main() {
	rootCmd.Flags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "log at debug level")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
