package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound marks a lookup for a machine the store has no record of.
// Stores return it wrapped; any other Load error is a store failure and
// must not be mistaken for a machine that was never created.
var ErrNotFound = errors.New("machine not found")

// Status is the observed lifecycle state of the machine
type Status string

const (
	StatusNotCreated Status = "not_created"
	StatusCreated    Status = "created"
	StatusReady      Status = "ready"
	StatusDestroyed  Status = "destroyed"
)

// MachineState is the durable record of one provisioned machine. The
// provider-assigned instance id is written here the instant it is known, so
// a crash mid-provisioning still leaves enough information for cleanup.
type MachineState struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	PublicIP   string    `json:"public_ip,omitempty"`
	PrivateIP  string    `json:"private_ip,omitempty"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists machine records
type Store interface {
	Save(ctx context.Context, m *MachineState) error
	Load(ctx context.Context, id string) (*MachineState, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
