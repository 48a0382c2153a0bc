package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Machine is a mutable view over one machine record that persists every
// change through its Store. It is the durable-record collaborator handed to
// the provisioning launcher.
type Machine struct {
	mu    sync.Mutex
	store Store
	state *MachineState
}

// NewMachine loads the record for id from the store, or initializes a fresh
// not_created record when none exists. Store failures propagate: a record
// that cannot be read must not be mistaken for one that never existed.
func NewMachine(ctx context.Context, store Store, id string) (*Machine, error) {
	m, err := store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		m = &MachineState{
			ID:        id,
			Status:    StatusNotCreated,
			CreatedAt: time.Now(),
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load machine record %s: %w", id, err)
	}
	return &Machine{store: store, state: m}, nil
}

// SetInstanceID records the provider-assigned identifier and persists it
// synchronously. Called exactly once per successful submission, before any
// wait is entered.
func (m *Machine) SetInstanceID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Exactly once per machine lifetime; a destroyed record starts a new one
	if m.state.InstanceID != "" && m.state.Status != StatusDestroyed {
		return fmt.Errorf("instance id already set to %s", m.state.InstanceID)
	}
	m.state.InstanceID = id
	m.state.PublicIP = ""
	m.state.PrivateIP = ""
	m.state.Status = StatusCreated
	return m.store.Save(context.Background(), m.state)
}

// SetAddress records the instance addresses
func (m *Machine) SetAddress(publicIP, privateIP string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.PublicIP = publicIP
	m.state.PrivateIP = privateIP
	return m.store.Save(context.Background(), m.state)
}

// MarkReady records that provisioning completed
func (m *Machine) MarkReady() error {
	return m.setStatus(StatusReady)
}

// MarkDestroyed records that the instance was torn down
func (m *Machine) MarkDestroyed() error {
	return m.setStatus(StatusDestroyed)
}

func (m *Machine) setStatus(s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Status = s
	return m.store.Save(context.Background(), m.state)
}

// InstanceID returns the provider-assigned identifier, empty until set
func (m *Machine) InstanceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InstanceID
}

// Created reports whether a cloud resource was actually created
func (m *Machine) Created() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status != StatusNotCreated && m.state.Status != StatusDestroyed
}

// PublicIP returns the recorded public address
func (m *Machine) PublicIP() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.PublicIP
}

// Snapshot returns a copy of the underlying record
func (m *Machine) Snapshot() MachineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.state
}
