package provisioning

import (
	"context"
	"fmt"

	"vmforge/internal/logging"

	"go.uber.org/zap"
)

// TeardownRequest is the contract between the launcher's compensation paths
// and the destroy step. Both the interruption path and the recovery hook
// build the same value, so the two call sites cannot drift apart.
type TeardownRequest struct {
	InstanceID string

	// SkipConfirmation disables interactive confirmation prompts
	SkipConfirmation bool

	// SkipValidation disables configuration re-validation before destroying
	SkipValidation bool
}

// Destroyer tears down a provisioned instance. Implementations must
// tolerate an already-destroyed instance, since the interruption path and
// the recovery hook can both fire for the same failure.
type Destroyer interface {
	RunDestroy(ctx context.Context, req TeardownRequest) error
}

// MachineRecord is the durable record of the machine being provisioned.
// SetInstanceID persists the provider-assigned identifier synchronously the
// instant it is known, so a crash after submission still leaves enough
// state for an out-of-process cleanup to find the resource.
type MachineRecord interface {
	SetInstanceID(id string) error
	SetAddress(publicIP, privateIP string) error
	MarkReady() error
	MarkDestroyed() error
	InstanceID() string
	Created() bool
}

// CloudDestroyer destroys instances through the Cloud API and records the
// outcome on the machine record
type CloudDestroyer struct {
	cloud  Cloud
	record MachineRecord
}

// NewCloudDestroyer creates a Destroyer backed by the given cloud client
func NewCloudDestroyer(cloud Cloud, record MachineRecord) *CloudDestroyer {
	return &CloudDestroyer{cloud: cloud, record: record}
}

// RunDestroy terminates the instance named by the request. Destroying an
// instance the provider already reports as gone is a no-op.
func (d *CloudDestroyer) RunDestroy(ctx context.Context, req TeardownRequest) error {
	if req.InstanceID == "" {
		return fmt.Errorf("teardown request has no instance id")
	}

	logging.Logger().Info("destroying instance",
		zap.String("instance_id", req.InstanceID),
		zap.Bool("skip_confirmation", req.SkipConfirmation),
		zap.Bool("skip_validation", req.SkipValidation))

	if err := d.cloud.Terminate(ctx, req.InstanceID); err != nil {
		return fmt.Errorf("failed to destroy instance %s: %w", req.InstanceID, err)
	}

	if d.record != nil {
		if err := d.record.MarkDestroyed(); err != nil {
			logging.Logger().Warn("failed to update machine record after destroy",
				zap.String("instance_id", req.InstanceID),
				zap.Error(err))
		}
	}
	return nil
}
