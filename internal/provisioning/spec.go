package provisioning

import "context"

// VolumeAttachment requests attaching an existing EBS volume to the
// instance once it is running
type VolumeAttachment struct {
	VolumeID string
	Device   string
}

// InstanceSpec describes the desired instance. It is supplied by the
// configuration layer and read-only to the provisioning core.
type InstanceSpec struct {
	Region           string
	AvailabilityZone string
	ImageID          string
	InstanceType     string
	SSHPort          int
	KeyName          string
	PrivateIP        string
	SecurityGroups   []string
	SubnetID         string
	Tags             map[string]string
	Volume           *VolumeAttachment
}

// Instance is the handle returned by the cloud API after submission
type Instance struct {
	ID        string
	PublicIP  string
	PrivateIP string
	State     string
}

// Cloud defines the provisioning API consumed by the launcher
type Cloud interface {
	// Submit sends the provisioning request and returns the instance handle.
	// Submission failures are translated into domain errors.
	Submit(ctx context.Context, spec InstanceSpec) (*Instance, error)

	// WaitReady checks whether the instance has left its transitional boot
	// state. It returns an ErrNotReady-wrapped error while the instance is
	// still settling.
	WaitReady(ctx context.Context, instanceID string) error

	// AttachVolume binds an existing volume to the instance at the given
	// device name
	AttachVolume(ctx context.Context, instanceID, volumeID, device string) error

	// Terminate destroys the instance. Terminating an already-destroyed
	// instance is not an error.
	Terminate(ctx context.Context, instanceID string) error
}
