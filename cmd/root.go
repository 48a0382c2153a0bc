package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmforge",
	Short: "Provision and manage single cloud instances",
	Long: `VMForge provisions a cloud instance from a YAML config, waits for it
to become ready and reachable, runs bootstrap commands over SSH and keeps a
durable record of the machine so it can be inspected and destroyed later.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
