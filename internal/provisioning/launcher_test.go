package provisioning

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloud struct {
	submitErr   error
	submitCalls int
	instance    Instance
	readyAfter  int // WaitReady succeeds on this call number
	waitCalls   int
	waitErr     error // terminal error instead of the not-ready sequence
	attachErr   error
	attachment  []string // instanceID, volumeID, device
	terminated  []string
	public      string
	private     string
}

func (c *fakeCloud) Submit(ctx context.Context, spec InstanceSpec) (*Instance, error) {
	c.submitCalls++
	if c.submitErr != nil {
		return nil, c.submitErr
	}
	inst := c.instance
	return &inst, nil
}

func (c *fakeCloud) WaitReady(ctx context.Context, instanceID string) error {
	c.waitCalls++
	if c.waitErr != nil {
		return c.waitErr
	}
	if c.readyAfter > 0 && c.waitCalls >= c.readyAfter {
		return nil
	}
	return fmt.Errorf("instance pending: %w", ErrNotReady)
}

func (c *fakeCloud) DescribeAddress(ctx context.Context, instanceID string) (string, string, error) {
	return c.public, c.private, nil
}

func (c *fakeCloud) AttachVolume(ctx context.Context, instanceID, volumeID, device string) error {
	if c.attachErr != nil {
		return c.attachErr
	}
	c.attachment = []string{instanceID, volumeID, device}
	return nil
}

func (c *fakeCloud) Terminate(ctx context.Context, instanceID string) error {
	c.terminated = append(c.terminated, instanceID)
	return nil
}

type fakeRecord struct {
	instanceID string
	created    bool
	ready      bool
	destroyed  bool
	public     string
	private    string
	setIDErr   error
}

func (r *fakeRecord) SetInstanceID(id string) error {
	if r.setIDErr != nil {
		return r.setIDErr
	}
	if r.instanceID != "" {
		return errors.New("instance id already set")
	}
	r.instanceID = id
	r.created = true
	return nil
}

func (r *fakeRecord) SetAddress(public, private string) error {
	r.public, r.private = public, private
	return nil
}

func (r *fakeRecord) MarkReady() error { r.ready = true; return nil }

func (r *fakeRecord) MarkDestroyed() error { r.destroyed = true; return nil }

func (r *fakeRecord) InstanceID() string { return r.instanceID }

func (r *fakeRecord) Created() bool { return r.created && !r.destroyed }

// fakeComm optionally cancels the run after a number of probes, modeling an
// interrupt arriving mid-wait.
type fakeComm struct {
	reachableAfter int
	calls          int
	cancelAfter    int
	cancel         context.CancelFunc
}

func (c *fakeComm) Reachable() bool {
	c.calls++
	if c.cancelAfter > 0 && c.calls >= c.cancelAfter {
		c.cancel()
		return false
	}
	return c.reachableAfter > 0 && c.calls >= c.reachableAfter
}

type fakeDestroyer struct {
	requests []TeardownRequest
	ctxErrs  []error // ctx.Err() observed on each call
}

func (d *fakeDestroyer) RunDestroy(ctx context.Context, req TeardownRequest) error {
	d.requests = append(d.requests, req)
	d.ctxErrs = append(d.ctxErrs, ctx.Err())
	return nil
}

func newTestLauncher(cloud Cloud, record MachineRecord, comm Communicator, destroyer Destroyer) *Launcher {
	l := NewLauncher(cloud, record, comm, destroyer, nil)
	l.PollInterval = 0
	return l
}

func TestRunHappyPath(t *testing.T) {
	cloud := &fakeCloud{
		instance:   Instance{ID: "i-123"},
		readyAfter: 2,
		public:     "203.0.113.7",
		private:    "10.0.0.5",
	}
	record := &fakeRecord{}
	comm := &fakeComm{reachableAfter: 1}
	destroyer := &fakeDestroyer{}
	l := newTestLauncher(cloud, record, comm, destroyer)

	err := l.Run(context.Background(), InstanceSpec{ImageID: "ami-1", InstanceType: "t3.micro"})
	require.NoError(t, err)

	assert.Equal(t, 2, cloud.waitCalls)
	assert.Equal(t, "i-123", record.instanceID)
	assert.Equal(t, "203.0.113.7", record.public)
	assert.True(t, record.ready)
	assert.Empty(t, destroyer.requests)

	ready, ok := l.Metrics().Get(MetricReadyTime)
	require.True(t, ok)
	assert.GreaterOrEqual(t, ready, time.Duration(0))
	_, ok = l.Metrics().Get(MetricSSHTime)
	assert.True(t, ok)
}

func TestRunAttachesVolume(t *testing.T) {
	cloud := &fakeCloud{instance: Instance{ID: "i-123"}, readyAfter: 1}
	record := &fakeRecord{}
	l := newTestLauncher(cloud, record, &fakeComm{reachableAfter: 1}, &fakeDestroyer{})

	err := l.Run(context.Background(), InstanceSpec{
		ImageID:      "ami-1",
		InstanceType: "t3.micro",
		Volume:       &VolumeAttachment{VolumeID: "vol-9", Device: "/dev/sdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"i-123", "vol-9", "/dev/sdf"}, cloud.attachment)
}

func TestRunAttachFailureSurfacesWithoutRollback(t *testing.T) {
	cloud := &fakeCloud{
		instance:   Instance{ID: "i-123"},
		readyAfter: 1,
		attachErr:  errors.New("volume busy"),
	}
	record := &fakeRecord{}
	destroyer := &fakeDestroyer{}
	l := newTestLauncher(cloud, record, &fakeComm{reachableAfter: 1}, destroyer)

	err := l.Run(context.Background(), InstanceSpec{
		ImageID:      "ami-1",
		InstanceType: "t3.micro",
		Volume:       &VolumeAttachment{VolumeID: "vol-9", Device: "/dev/sdf"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage attach failed")
	assert.Empty(t, destroyer.requests, "attach failure must not tear the instance down")
	assert.False(t, record.ready)
}

func TestRunSubmissionErrorSurfacesWithoutTeardown(t *testing.T) {
	submitErr := &SubnetNotFoundError{SubnetID: "subnet-404"}
	cloud := &fakeCloud{submitErr: submitErr}
	record := &fakeRecord{}
	destroyer := &fakeDestroyer{}
	l := newTestLauncher(cloud, record, &fakeComm{}, destroyer)

	err := l.Run(context.Background(), InstanceSpec{ImageID: "ami-1", InstanceType: "t3.micro"})

	var snf *SubnetNotFoundError
	require.ErrorAs(t, err, &snf)
	assert.Equal(t, "subnet-404", snf.SubnetID)
	assert.Empty(t, destroyer.requests)
	assert.False(t, record.Created())
}

func TestRunReadinessBudgetExhausted(t *testing.T) {
	cloud := &fakeCloud{instance: Instance{ID: "i-123"}} // never ready
	record := &fakeRecord{}
	destroyer := &fakeDestroyer{}
	comm := &fakeComm{}
	l := newTestLauncher(cloud, record, comm, destroyer)

	err := l.Run(context.Background(), InstanceSpec{ImageID: "ami-1", InstanceType: "t3.micro"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "i-123")

	assert.Equal(t, DefaultReadyAttempts, cloud.waitCalls, "the 31st attempt must never happen")
	assert.Zero(t, comm.calls, "connectivity must not be probed after a readiness failure")

	// The pipeline reacts to this error through the recovery hook, which
	// tears the instance down because it was created.
	l.Recover(context.Background(), err)
	require.Len(t, destroyer.requests, 1)
	assert.Equal(t, "i-123", destroyer.requests[0].InstanceID)
}

func TestRunCancelledBeforeFirstPoll(t *testing.T) {
	cloud := &fakeCloud{instance: Instance{ID: "i-123"}, readyAfter: 1}
	record := &fakeRecord{}
	destroyer := &fakeDestroyer{}
	comm := &fakeComm{reachableAfter: 1}
	l := newTestLauncher(cloud, record, comm, destroyer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Run(ctx, InstanceSpec{ImageID: "ami-1", InstanceType: "t3.micro"})
	require.NoError(t, err, "interruption resolves to a clean stop, not a failure")

	assert.Zero(t, cloud.waitCalls, "cancellation observed before the attempt skips the provider check")
	assert.Zero(t, comm.calls)
	require.Len(t, destroyer.requests, 1)
	assert.True(t, destroyer.requests[0].SkipConfirmation)
	assert.True(t, destroyer.requests[0].SkipValidation)
	assert.NoError(t, destroyer.ctxErrs[0], "teardown runs with cancellation stripped")
}

func TestRunCancelledDuringConnectivityWait(t *testing.T) {
	cloud := &fakeCloud{instance: Instance{ID: "i-123"}, readyAfter: 1}
	record := &fakeRecord{}
	destroyer := &fakeDestroyer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	comm := &fakeComm{cancelAfter: 3, cancel: cancel}
	l := newTestLauncher(cloud, record, comm, destroyer)

	err := l.Run(ctx, InstanceSpec{
		ImageID:      "ami-1",
		InstanceType: "t3.micro",
		Volume:       &VolumeAttachment{VolumeID: "vol-9", Device: "/dev/sdf"},
	})
	require.NoError(t, err)

	assert.Nil(t, cloud.attachment, "attach must be skipped after an interrupt")
	assert.False(t, record.ready)
	require.Len(t, destroyer.requests, 1, "exactly one compensating teardown")
	assert.Equal(t, "i-123", destroyer.requests[0].InstanceID)
}

func TestRecoverSkipsDomainErrors(t *testing.T) {
	record := &fakeRecord{}
	require.NoError(t, record.SetInstanceID("i-123"))
	destroyer := &fakeDestroyer{}
	l := newTestLauncher(&fakeCloud{}, record, &fakeComm{}, destroyer)

	l.Recover(context.Background(), &SubnetNotFoundError{SubnetID: "subnet-404"})
	assert.Empty(t, destroyer.requests)

	l.Recover(context.Background(), &ProvisioningError{Message: "instance entered terminated state"})
	assert.Empty(t, destroyer.requests)
}

func TestRecoverSkipsWhenNothingCreated(t *testing.T) {
	destroyer := &fakeDestroyer{}
	l := newTestLauncher(&fakeCloud{}, &fakeRecord{}, &fakeComm{}, destroyer)

	l.Recover(context.Background(), errors.New("boom"))
	assert.Empty(t, destroyer.requests)
}

func TestRecoverDestroysOnUnexpectedError(t *testing.T) {
	record := &fakeRecord{}
	require.NoError(t, record.SetInstanceID("i-123"))
	destroyer := &fakeDestroyer{}
	l := newTestLauncher(&fakeCloud{}, record, &fakeComm{}, destroyer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Recover(ctx, errors.New("boom"))

	require.Len(t, destroyer.requests, 1)
	assert.Equal(t, "i-123", destroyer.requests[0].InstanceID)
	assert.NoError(t, destroyer.ctxErrs[0], "teardown runs with cancellation stripped")
}

func TestRunRefusesSecondProvision(t *testing.T) {
	cloud := &fakeCloud{instance: Instance{ID: "i-NEW"}, readyAfter: 1}
	record := &fakeRecord{}
	require.NoError(t, record.SetInstanceID("i-OLD"))
	destroyer := &fakeDestroyer{}
	l := newTestLauncher(cloud, record, &fakeComm{reachableAfter: 1}, destroyer)

	err := l.Run(context.Background(), InstanceSpec{ImageID: "ami-1", InstanceType: "t3.micro"})

	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "i-OLD")
	assert.Zero(t, cloud.submitCalls, "nothing may be submitted over a live record")

	// The recovery hook sees a domain error and must leave the existing
	// instance alone.
	l.Recover(context.Background(), err)
	assert.Empty(t, destroyer.requests)
	assert.Empty(t, cloud.terminated)
	assert.Equal(t, "i-OLD", record.instanceID)
}

func TestRecoverDestroysUnrecordedSubmission(t *testing.T) {
	cloud := &fakeCloud{instance: Instance{ID: "i-NEW"}, readyAfter: 1}
	// A previously destroyed machine: its old id lingers on the record, and
	// the store refuses the write for the new one.
	record := &fakeRecord{instanceID: "i-OLD", destroyed: true, setIDErr: errors.New("store unavailable")}
	destroyer := &fakeDestroyer{}
	l := newTestLauncher(cloud, record, &fakeComm{reachableAfter: 1}, destroyer)

	err := l.Run(context.Background(), InstanceSpec{ImageID: "ami-1", InstanceType: "t3.micro"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist instance id i-NEW")

	l.Recover(context.Background(), err)

	assert.Equal(t, []string{"i-NEW"}, cloud.terminated, "the unrecorded submission must be torn down")
	assert.Empty(t, destroyer.requests, "the record and its old instance must stay untouched")
	assert.Equal(t, "i-OLD", record.instanceID)
	assert.True(t, record.destroyed)
}

func TestRecoverIdempotentAfterCompensation(t *testing.T) {
	cloud := &fakeCloud{instance: Instance{ID: "i-123"}, readyAfter: 1}
	record := &fakeRecord{}
	destroyer := &destroyingDestroyer{record: record}
	comm := &fakeComm{reachableAfter: 1}
	l := newTestLauncher(cloud, record, comm, destroyer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, l.Run(ctx, InstanceSpec{ImageID: "ami-1", InstanceType: "t3.micro"}))
	require.Equal(t, 1, destroyer.calls)

	// A second invocation through the recovery hook finds the record already
	// destroyed and does nothing.
	l.Recover(ctx, errors.New("late failure"))
	assert.Equal(t, 1, destroyer.calls)
}

// destroyingDestroyer updates the record the way CloudDestroyer does, so the
// idempotence of the two teardown paths can be observed.
type destroyingDestroyer struct {
	record *fakeRecord
	calls  int
}

func (d *destroyingDestroyer) RunDestroy(ctx context.Context, req TeardownRequest) error {
	d.calls++
	return d.record.MarkDestroyed()
}
