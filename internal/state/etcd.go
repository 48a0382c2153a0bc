package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const machinePrefix = "/machines/"

// EtcdStore persists machine records in etcd, for setups where the
// provisioning step runs on ephemeral hosts and the record must outlive
// the local filesystem
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore connects to etcd at the given endpoints
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdStore{client: cli}, nil
}

// Save writes the record. etcd commits the write before responding, which
// satisfies the flush-before-wait requirement.
func (s *EtcdStore) Save(ctx context.Context, m *MachineState) error {
	m.UpdatedAt = time.Now()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal machine state: %w", err)
	}
	if _, err := s.client.Put(ctx, machinePrefix+m.ID, string(data)); err != nil {
		return fmt.Errorf("failed to save machine state to etcd: %w", err)
	}
	return nil
}

// Load reads the record for the given machine id
func (s *EtcdStore) Load(ctx context.Context, id string) (*MachineState, error) {
	resp, err := s.client.Get(ctx, machinePrefix+id)
	if err != nil {
		return nil, fmt.Errorf("failed to get machine state from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("machine %s: %w", id, ErrNotFound)
	}

	var m MachineState
	if err := json.Unmarshal(resp.Kvs[0].Value, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal machine state: %w", err)
	}
	return &m, nil
}

// Delete removes the record for the given machine id
func (s *EtcdStore) Delete(ctx context.Context, id string) error {
	if _, err := s.client.Delete(ctx, machinePrefix+id); err != nil {
		return fmt.Errorf("failed to delete machine state from etcd: %w", err)
	}
	return nil
}

// Close closes the etcd client connection
func (s *EtcdStore) Close() error {
	return s.client.Close()
}
