package e2e_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"vmforge/internal/control"
	"vmforge/internal/pipeline"
	"vmforge/internal/provisioning"
	"vmforge/internal/state"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// MockCloud implements provisioning.Cloud with scripted readiness
type MockCloud struct {
	mu         sync.Mutex
	ReadyAfter int
	waitCalls  int
	Terminated []string

	// CancelOnWait, when set, is invoked on the first readiness check to
	// model an interrupt arriving mid-provisioning
	CancelOnWait func()
}

func (c *MockCloud) Submit(ctx context.Context, spec provisioning.InstanceSpec) (*provisioning.Instance, error) {
	return &provisioning.Instance{ID: "i-e2e", State: "pending"}, nil
}

func (c *MockCloud) WaitReady(ctx context.Context, instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitCalls++
	if c.waitCalls == 1 && c.CancelOnWait != nil {
		c.CancelOnWait()
		return fmt.Errorf("still pending: %w", provisioning.ErrNotReady)
	}
	if c.waitCalls >= c.ReadyAfter {
		return nil
	}
	return fmt.Errorf("still pending: %w", provisioning.ErrNotReady)
}

func (c *MockCloud) DescribeAddress(ctx context.Context, instanceID string) (string, string, error) {
	return "198.51.100.10", "10.0.0.20", nil
}

func (c *MockCloud) AttachVolume(ctx context.Context, instanceID, volumeID, device string) error {
	return nil
}

func (c *MockCloud) Terminate(ctx context.Context, instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Terminated = append(c.Terminated, instanceID)
	return nil
}

// MockController records bootstrap commands and uploads
type MockController struct {
	mu       sync.Mutex
	Name     string
	Commands []string
	Uploads  map[string]string
	Closed   bool
}

func NewMockController(name string) *MockController {
	return &MockController{Name: name, Uploads: make(map[string]string)}
}

func (m *MockController) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockController) Run(command string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = append(m.Commands, command)
	return nil
}

func (m *MockController) Upload(localPath, remotePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Uploads[localPath] = remotePath
	return nil
}

func (m *MockController) InstanceName() string {
	return m.Name
}

// alwaysReachable is a communicator that reports reachable immediately
type alwaysReachable struct{}

func (alwaysReachable) Reachable() bool { return true }

var _ = Describe("Provisioning a machine end to end", func() {
	var (
		ctx      context.Context
		stateDir string
		store    state.Store
		machine  *state.Machine
		cloud    *MockCloud
		launcher *provisioning.Launcher
	)

	BeforeEach(func() {
		ctx = context.Background()
		stateDir = GinkgoT().TempDir()

		var err error
		store, err = state.NewFileStore(stateDir)
		Expect(err).NotTo(HaveOccurred())

		machine, err = state.NewMachine(ctx, store, "e2e-machine")
		Expect(err).NotTo(HaveOccurred())

		cloud = &MockCloud{ReadyAfter: 2}
		destroyer := provisioning.NewCloudDestroyer(cloud, machine)
		launcher = provisioning.NewLauncher(cloud, machine, alwaysReachable{}, destroyer, nil)
		launcher.PollInterval = 0
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Context("Running the full pipeline", func() {
		It("should provision, bootstrap and leave a durable ready record", func() {
			ctrl := NewMockController("e2e-machine")
			factory := func(cfg control.Config) (control.Controller, error) {
				Expect(cfg.Host).To(Equal("198.51.100.10"))
				return ctrl, nil
			}

			steps := []pipeline.Step{
				&pipeline.ProvisionStep{
					Launcher: launcher,
					Spec:     provisioning.InstanceSpec{ImageID: "ami-e2e", InstanceType: "t3.micro"},
				},
				&pipeline.BootstrapStep{
					Machine:  machine,
					Factory:  factory,
					Config:   control.Config{User: "ubuntu", Port: 22},
					Commands: []string{"hostname {{.Machine.ID}}", "apt-get update"},
				},
			}

			Expect(pipeline.Execute(ctx, steps)).To(Succeed())

			By("recording the bootstrap commands with templates rendered")
			Expect(ctrl.Commands).To(Equal([]string{"hostname e2e-machine", "apt-get update"}))
			Expect(ctrl.Closed).To(BeTrue())

			By("persisting the machine record to disk")
			data, err := os.ReadFile(filepath.Join(stateDir, "e2e-machine.json"))
			Expect(err).NotTo(HaveOccurred())

			var record state.MachineState
			Expect(json.Unmarshal(data, &record)).To(Succeed())
			Expect(record.InstanceID).To(Equal("i-e2e"))
			Expect(record.Status).To(Equal(state.StatusReady))
			Expect(record.PublicIP).To(Equal("198.51.100.10"))

			By("recording both wait phase durations")
			Expect(launcher.Metrics().All()).To(HaveKey(provisioning.MetricReadyTime))
			Expect(launcher.Metrics().All()).To(HaveKey(provisioning.MetricSSHTime))

			Expect(cloud.Terminated).To(BeEmpty())
		})

		It("should destroy the instance when the run is interrupted", func() {
			cancelled, cancel := context.WithCancel(ctx)
			defer cancel()
			cloud.CancelOnWait = cancel

			steps := []pipeline.Step{
				&pipeline.ProvisionStep{
					Launcher: launcher,
					Spec:     provisioning.InstanceSpec{ImageID: "ami-e2e", InstanceType: "t3.micro"},
				},
			}

			Expect(pipeline.Execute(cancelled, steps)).To(Succeed())

			By("terminating the submitted instance")
			Expect(cloud.Terminated).To(Equal([]string{"i-e2e"}))

			By("marking the record destroyed on disk")
			data, err := os.ReadFile(filepath.Join(stateDir, "e2e-machine.json"))
			Expect(err).NotTo(HaveOccurred())

			var record state.MachineState
			Expect(json.Unmarshal(data, &record)).To(Succeed())
			Expect(record.Status).To(Equal(state.StatusDestroyed))
		})
	})

	Context("Destroying through the pipeline", func() {
		It("should terminate a previously provisioned instance", func() {
			Expect(machine.SetInstanceID("i-e2e")).To(Succeed())

			steps := []pipeline.Step{
				&pipeline.DestroyStep{
					Destroyer: provisioning.NewCloudDestroyer(cloud, machine),
					Machine:   machine,
					Request:   provisioning.TeardownRequest{SkipConfirmation: true},
				},
			}

			Expect(pipeline.Execute(ctx, steps)).To(Succeed())
			Expect(cloud.Terminated).To(Equal([]string{"i-e2e"}))
			Expect(machine.Created()).To(BeFalse())
		})
	})
})
