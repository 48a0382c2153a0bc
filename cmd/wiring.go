package cmd

import (
	"context"
	"strings"

	"vmforge/internal/config"
	"vmforge/internal/control"
	"vmforge/internal/logging"
	"vmforge/internal/provisioning"
	"vmforge/internal/state"

	"go.uber.org/zap"
)

// openStore selects the machine record backend: etcd when endpoints are
// configured, a local file store otherwise.
func openStore(cfg *config.Config) (state.Store, error) {
	if len(cfg.EtcdEndpoints) > 0 {
		logging.Logger().Debug("using etcd state store",
			zap.Strings("endpoints", cfg.EtcdEndpoints))
		return state.NewEtcdStore(cfg.EtcdEndpoints)
	}
	return state.NewFileStore(cfg.StateDir)
}

// loadMachine opens the configured store and loads the machine record
func loadMachine(ctx context.Context, cfg *config.Config) (*state.Machine, state.Store, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	machine, err := state.NewMachine(ctx, store, cfg.MachineName)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return machine, store, nil
}

// buildSpec maps the file configuration onto the provisioning request
func buildSpec(cfg *config.Config) provisioning.InstanceSpec {
	spec := provisioning.InstanceSpec{
		Region:           cfg.Region,
		AvailabilityZone: cfg.AvailabilityZone,
		ImageID:          cfg.ImageID,
		InstanceType:     cfg.InstanceType,
		SSHPort:          cfg.SSHPort,
		KeyName:          cfg.KeyName,
		PrivateIP:        cfg.PrivateIP,
		SecurityGroups:   cfg.SecurityGroups,
		SubnetID:         cfg.SubnetID,
		Tags:             cfg.Tags,
	}
	if cfg.Volume != nil {
		spec.Volume = &provisioning.VolumeAttachment{
			VolumeID: cfg.Volume.VolumeID,
			Device:   cfg.Volume.Device,
		}
	}
	return spec
}

// buildProbe chooses the connectivity check: an HTTP health endpoint when
// configured, an SSH port dial otherwise. Addresses are read lazily from the
// machine record because they are assigned after submission.
func buildProbe(cfg *config.Config, machine *state.Machine) provisioning.Communicator {
	if cfg.HealthURL != "" {
		return control.NewHTTPProbe(func() string {
			host := machine.PublicIP()
			if host == "" {
				return ""
			}
			return strings.ReplaceAll(cfg.HealthURL, "{host}", host)
		})
	}
	return &control.SSHProbe{
		Addr:    machine.PublicIP,
		Port:    cfg.SSHPort,
		Timeout: cfg.SSHTimeoutDuration(),
	}
}
