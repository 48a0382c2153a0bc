package cmd

import (
	"context"
	"fmt"
	"time"

	"vmforge/internal/config"
	"vmforge/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var statusOutput string

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded machine state",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Invalid configuration", zap.Error(err))
		}
		showStatus(cfg, statusOutput)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format: text or yaml")
}

func showStatus(cfg *config.Config, output string) {
	ctx := context.Background()
	machine, store, err := loadMachine(ctx, cfg)
	if err != nil {
		logging.Logger().Fatal("Failed to open machine record", zap.Error(err))
	}
	defer store.Close()

	snap := machine.Snapshot()

	if output == "yaml" {
		data, err := yaml.Marshal(snap)
		if err != nil {
			logging.Logger().Fatal("Failed to render machine state", zap.Error(err))
		}
		fmt.Print(string(data))
		return
	}

	fmt.Printf("Machine: %s\n", snap.ID)
	fmt.Printf("Status: %s\n", snap.Status)
	if snap.InstanceID != "" {
		fmt.Printf("Instance ID: %s\n", snap.InstanceID)
	}
	if snap.PublicIP != "" {
		fmt.Printf("Public IP: %s\n", snap.PublicIP)
	}
	if snap.PrivateIP != "" {
		fmt.Printf("Private IP: %s\n", snap.PrivateIP)
	}
	if !snap.CreatedAt.IsZero() {
		fmt.Printf("Created: %s\n", snap.CreatedAt.Format(time.RFC3339))
	}
	if !snap.UpdatedAt.IsZero() {
		fmt.Printf("Updated: %s\n", snap.UpdatedAt.Format(time.RFC3339))
	}
}
