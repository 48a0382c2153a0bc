package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"vmforge/internal/control"
	"vmforge/internal/logging"
	"vmforge/internal/provisioning"
	"vmforge/internal/state"

	"go.uber.org/zap"
)

// ProvisionStep provisions the instance through the launcher. Its recovery
// hook delegates to the launcher so an unhandled failure compensates by
// tearing down whatever was created.
type ProvisionStep struct {
	Launcher *provisioning.Launcher
	Spec     provisioning.InstanceSpec
}

// Name returns the step name
func (s *ProvisionStep) Name() string {
	return "provision"
}

// Run executes the provisioning state machine
func (s *ProvisionStep) Run(ctx context.Context) error {
	return s.Launcher.Run(ctx, s.Spec)
}

// Recover compensates for an unhandled provisioning failure
func (s *ProvisionStep) Recover(ctx context.Context, err error) {
	s.Launcher.Recover(ctx, err)
}

// BootstrapStep runs setup commands and uploads files over the control
// channel once the instance is reachable. Commands and upload paths are Go
// templates rendered against the machine record.
type BootstrapStep struct {
	Machine  *state.Machine
	Factory  control.Factory
	Config   control.Config // Host is filled in from the machine record
	Commands []string
	Uploads  map[string]string // local path -> remote path
}

// Name returns the step name
func (s *BootstrapStep) Name() string {
	return "bootstrap"
}

// Run connects to the instance and executes the bootstrap actions
func (s *BootstrapStep) Run(ctx context.Context) error {
	if len(s.Commands) == 0 && len(s.Uploads) == 0 {
		logging.Logger().Debug("no bootstrap actions configured, skipping")
		return nil
	}

	host := s.Machine.PublicIP()
	if host == "" {
		return fmt.Errorf("machine record has no address, cannot bootstrap")
	}

	cfg := s.Config
	cfg.Host = host
	ctrl, err := s.Factory(cfg)
	if err != nil {
		return fmt.Errorf("failed to open control channel: %w", err)
	}
	defer safeCloseController(ctrl)

	tctx := s.templateContext()

	for local, remote := range s.Uploads {
		renderedRemote, err := renderTemplate(remote, tctx)
		if err != nil {
			return fmt.Errorf("failed to render upload path template: %w", err)
		}
		if err := ctrl.Upload(local, renderedRemote); err != nil {
			return fmt.Errorf("failed to upload %s: %w", local, err)
		}
	}

	for i, cmdTemplate := range s.Commands {
		rendered, err := renderTemplate(cmdTemplate, tctx)
		if err != nil {
			return fmt.Errorf("failed to render template for command %d: %w", i+1, err)
		}

		logging.Logger().Debug("running bootstrap command",
			zap.Int("index", i+1),
			zap.String("command", logging.Truncate(rendered)))

		if err := ctrl.Run(rendered); err != nil {
			return fmt.Errorf("failed to run bootstrap command %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *BootstrapStep) templateContext() map[string]interface{} {
	snap := s.Machine.Snapshot()
	return map[string]interface{}{
		"Machine": map[string]interface{}{
			"ID":         snap.ID,
			"InstanceID": snap.InstanceID,
			"PublicIP":   snap.PublicIP,
			"PrivateIP":  snap.PrivateIP,
		},
	}
}

// DestroyStep tears down the instance named by the machine record
type DestroyStep struct {
	Destroyer *provisioning.CloudDestroyer
	Machine   *state.Machine
	Request   provisioning.TeardownRequest // InstanceID is filled in from the record
}

// Name returns the step name
func (s *DestroyStep) Name() string {
	return "destroy"
}

// Run destroys the instance
func (s *DestroyStep) Run(ctx context.Context) error {
	req := s.Request
	req.InstanceID = s.Machine.InstanceID()
	if req.InstanceID == "" {
		logging.Logger().Info("machine was never created, nothing to destroy")
		return nil
	}
	return s.Destroyer.RunDestroy(ctx, req)
}

func safeCloseController(ctrl control.Controller) {
	if err := ctrl.Close(); err != nil {
		logging.Logger().Warn("failed to close control channel", zap.Error(err))
	}
}

// renderTemplate renders a Go template with the given context
func renderTemplate(templateStr string, context map[string]interface{}) (string, error) {
	tmpl, err := template.New("command").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
