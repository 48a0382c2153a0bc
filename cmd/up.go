package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vmforge/internal/config"
	"vmforge/internal/control"
	"vmforge/internal/logging"
	"vmforge/internal/pipeline"
	"vmforge/internal/provisioning"
	"vmforge/internal/sshkeys"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// upCmd represents the up command
var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Provision the configured instance",
	Long: `Launch the instance described by the config file, wait until it is
running and reachable, attach storage and run the bootstrap commands. An
interrupt (Ctrl-C) during provisioning destroys whatever was created.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Invalid configuration", zap.Error(err))
		}
		bringUp(cfg)
	},
}

func init() {
	rootCmd.AddCommand(upCmd)
}

func bringUp(cfg *config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	machine, store, err := loadMachine(ctx, cfg)
	if err != nil {
		logging.Logger().Fatal("Failed to open machine record", zap.Error(err))
	}
	defer store.Close()

	if machine.Created() {
		logging.Logger().Fatal("Machine already has an instance, run destroy first",
			zap.String("instance_id", machine.InstanceID()))
	}

	keys, err := sshkeys.GetOrGenerate(cfg.KeyDir)
	if err != nil {
		logging.Logger().Fatal("Failed to prepare SSH keys", zap.Error(err))
	}

	cloud, err := provisioning.NewAWSCloud(ctx, cfg.Region, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		logging.Logger().Fatal("Failed to create cloud client", zap.Error(err))
	}

	destroyer := provisioning.NewCloudDestroyer(cloud, machine)
	launcher := provisioning.NewLauncher(cloud, machine, buildProbe(cfg, machine), destroyer, nil)

	steps := []pipeline.Step{
		&pipeline.ProvisionStep{
			Launcher: launcher,
			Spec:     buildSpec(cfg),
		},
		&pipeline.BootstrapStep{
			Machine: machine,
			Factory: control.NewController,
			Config: control.Config{
				Port:           cfg.SSHPort,
				User:           cfg.SSHUser,
				PrivateKeyPath: keys.PrivateKeyPath,
				SSHTimeout:     cfg.SSHTimeoutDuration(),
				InstanceName:   cfg.MachineName,
			},
			Commands: cfg.SetupCommands,
			Uploads:  cfg.BootstrapFiles,
		},
	}

	if err := pipeline.Execute(ctx, steps); err != nil {
		logging.Logger().Fatal("Provisioning failed", zap.Error(err))
	}

	snap := machine.Snapshot()
	fmt.Printf("Machine: %s\n", snap.ID)
	fmt.Printf("Status: %s\n", snap.Status)
	if snap.InstanceID != "" {
		fmt.Printf("Instance ID: %s\n", snap.InstanceID)
	}
	if snap.PublicIP != "" {
		fmt.Printf("Public IP: %s\n", snap.PublicIP)
	}
	for phase, elapsed := range launcher.Metrics().All() {
		fmt.Printf("%s: %s\n", phase, elapsed)
	}
}
