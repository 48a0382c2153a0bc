package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"vmforge/internal/config"
	"vmforge/internal/logging"
	"vmforge/internal/provisioning"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var destroyForce bool

// destroyCmd represents the destroy command
var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy the provisioned instance",
	Long: `Terminate the instance recorded for this machine and mark the record
destroyed. Asks for confirmation unless --force is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Invalid configuration", zap.Error(err))
		}
		destroy(cfg, destroyForce)
	},
}

func init() {
	rootCmd.AddCommand(destroyCmd)

	destroyCmd.Flags().BoolVarP(&destroyForce, "force", "f", false, "Destroy without confirmation")
}

func destroy(cfg *config.Config, force bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	machine, store, err := loadMachine(ctx, cfg)
	if err != nil {
		logging.Logger().Fatal("Failed to open machine record", zap.Error(err))
	}
	defer store.Close()

	instanceID := machine.InstanceID()
	if instanceID == "" {
		fmt.Println("Machine was never created, nothing to destroy.")
		return
	}

	if !force && !confirm(fmt.Sprintf("Destroy instance %s?", instanceID)) {
		fmt.Println("Aborted.")
		return
	}

	cloud, err := provisioning.NewAWSCloud(ctx, cfg.Region, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		logging.Logger().Fatal("Failed to create cloud client", zap.Error(err))
	}

	destroyer := provisioning.NewCloudDestroyer(cloud, machine)
	req := provisioning.TeardownRequest{
		InstanceID:       instanceID,
		SkipConfirmation: true, // already confirmed above
		SkipValidation:   force,
	}
	if err := destroyer.RunDestroy(ctx, req); err != nil {
		logging.Logger().Fatal("Failed to destroy instance", zap.Error(err))
	}
	fmt.Printf("Instance %s destroyed.\n", instanceID)
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
