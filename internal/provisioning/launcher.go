package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vmforge/internal/logging"
	"vmforge/internal/retry"
	"vmforge/internal/timing"

	"go.uber.org/zap"
)

const (
	// DefaultReadyAttempts bounds the readiness retry budget
	DefaultReadyAttempts = 30

	// DefaultPollInterval is the fixed delay between readiness attempts and
	// between connectivity probes
	DefaultPollInterval = 2 * time.Second
)

// Communicator reports whether a control channel (typically SSH) can be
// established into the instance. A false result is a normal outcome meaning
// "not yet".
type Communicator interface {
	Reachable() bool
}

// AddressDescriber is implemented by clouds that can report the instance
// addresses after boot. Public addresses are assigned asynchronously, so
// the launcher reads them once the instance is ready.
type AddressDescriber interface {
	DescribeAddress(ctx context.Context, instanceID string) (public, private string, err error)
}

// pollResult is the outcome of one readiness wait. Cancellation is modeled
// as its own outcome rather than overloading success, so the state machine
// can fall through promptly without waiting out provider timeouts.
type pollResult int

const (
	pollReady pollResult = iota
	pollNotReady
	pollCancelled
)

// Launcher drives one instance through submission, readiness wait,
// connectivity wait and storage attachment, and compensates by tearing the
// instance down when the run is interrupted. Cancellation arrives through
// the context and is re-checked at every suspension point, so cancellation
// latency is bounded by the poll interval rather than the retry budget.
type Launcher struct {
	cloud     Cloud
	record    MachineRecord
	comm      Communicator
	destroyer Destroyer
	metrics   *Metrics

	// submittedID is the provider-assigned id of the in-flight submission,
	// set before the record persists it. Recover uses it to reach an
	// instance the record never captured.
	submittedID string

	// Attempts and PollInterval default to the production budget and are
	// overridden in tests
	Attempts     int
	PollInterval time.Duration
}

// NewLauncher creates a launcher. A nil metrics record is replaced with a
// fresh one.
func NewLauncher(cloud Cloud, record MachineRecord, comm Communicator, destroyer Destroyer, metrics *Metrics) *Launcher {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Launcher{
		cloud:        cloud,
		record:       record,
		comm:         comm,
		destroyer:    destroyer,
		metrics:      metrics,
		Attempts:     DefaultReadyAttempts,
		PollInterval: DefaultPollInterval,
	}
}

// Metrics returns the metrics record accumulated by Run
func (l *Launcher) Metrics() *Metrics {
	return l.metrics
}

// Run provisions the instance described by spec. It returns a domain error
// when submission is rejected, the readiness error when the retry budget is
// exhausted, and nil both on success and after an interruption resolved by
// compensation (interruption is a cooperative signal, not a failure).
func (l *Launcher) Run(ctx context.Context, spec InstanceSpec) error {
	// Refuse to submit over a live record: compensation must never be able
	// to confuse a fresh submission with an instance provisioned earlier.
	if l.record.Created() {
		return &ProvisioningError{
			Message: fmt.Sprintf("machine already has instance %s, destroy it before provisioning again",
				l.record.InstanceID()),
		}
	}

	l.narrate(spec)

	inst, err := l.cloud.Submit(ctx, spec)
	if err != nil {
		return err
	}
	l.submittedID = inst.ID

	// Persist the identifier before any wait: a crash from here on must
	// still leave enough state for an out-of-process cleanup.
	if err := l.record.SetInstanceID(inst.ID); err != nil {
		return fmt.Errorf("failed to persist instance id %s: %w", inst.ID, err)
	}
	logging.Logger().Info("instance submitted", zap.String("instance_id", inst.ID))

	res, err := l.waitReady(ctx, inst.ID)
	if err != nil {
		return err
	}
	if res == pollCancelled {
		return l.compensate(ctx, inst.ID)
	}

	l.recordAddress(ctx, inst.ID)
	logging.Logger().Info("instance ready, waiting for connectivity",
		zap.String("instance_id", inst.ID))

	l.waitConnectivity(ctx)
	if ctx.Err() != nil {
		return l.compensate(ctx, inst.ID)
	}

	if spec.Volume != nil {
		if err := l.cloud.AttachVolume(ctx, inst.ID, spec.Volume.VolumeID, spec.Volume.Device); err != nil {
			// The instance itself is ready; attach failures surface as-is
			// without rolling it back.
			return fmt.Errorf("storage attach failed: %w", err)
		}
		logging.Logger().Info("volume attached",
			zap.String("instance_id", inst.ID),
			zap.String("volume_id", spec.Volume.VolumeID),
			zap.String("device", spec.Volume.Device))
	}

	if err := l.record.MarkReady(); err != nil {
		logging.Logger().Warn("failed to mark machine ready", zap.Error(err))
	}
	logging.Logger().Info("machine is ready", zap.String("instance_id", inst.ID))
	return nil
}

// Recover is invoked by the pipeline on any unhandled error from this step.
// Recognized domain errors are surfaced by the pipeline itself, so they are
// not compensated here (no double reporting). Anything else destroys the
// instance if one was actually created. Idempotent with the interruption
// path: the destroyer tolerates an already-destroyed instance.
func (l *Launcher) Recover(ctx context.Context, err error) {
	if IsDomainError(err) {
		return
	}

	// A submission the record never captured is torn down directly: the
	// record either is empty or describes a different machine, which must
	// stay untouched.
	if l.submittedID != "" && l.submittedID != l.record.InstanceID() {
		logging.Logger().Warn("destroying unrecorded instance after provisioning failure",
			zap.String("instance_id", l.submittedID),
			zap.Error(err))
		if terr := l.cloud.Terminate(context.WithoutCancel(ctx), l.submittedID); terr != nil {
			logging.Logger().Error("failed to destroy unrecorded instance",
				zap.String("instance_id", l.submittedID),
				zap.Error(terr))
		}
		return
	}

	if !l.record.Created() {
		return
	}
	id := l.record.InstanceID()
	logging.Logger().Warn("recovering from provisioning failure, destroying instance",
		zap.String("instance_id", id),
		zap.Error(err))
	if derr := l.destroyer.RunDestroy(context.WithoutCancel(ctx), l.teardownRequest(id)); derr != nil {
		logging.Logger().Error("compensating teardown failed",
			zap.String("instance_id", id),
			zap.Error(derr))
	}
}

// waitReady polls instance readiness through the bounded retry policy.
// Cancellation observed before an attempt skips the provider check entirely
// so the state machine falls through without waiting out the budget.
func (l *Launcher) waitReady(ctx context.Context, instanceID string) (pollResult, error) {
	res := pollNotReady
	elapsed, err := timing.Measure(func() error {
		return retry.Do(func() error {
			if ctx.Err() != nil {
				res = pollCancelled
				return nil
			}
			if err := l.cloud.WaitReady(ctx, instanceID); err != nil {
				return err
			}
			res = pollReady
			return nil
		}, l.Attempts, l.PollInterval, func(err error) bool {
			return errors.Is(err, ErrNotReady)
		})
	})
	l.metrics.Record(MetricReadyTime, elapsed)
	logging.Logger().Debug("readiness wait finished",
		zap.String("instance_id", instanceID),
		zap.Duration("elapsed", elapsed))

	if err != nil {
		return res, fmt.Errorf("instance %s never became ready: %w", instanceID, err)
	}
	return res, nil
}

// waitConnectivity polls the communicator until it reports reachable or the
// run is cancelled. There is deliberately no attempt bound: connectivity
// establishment time is open-ended, so only cancellation bounds this loop.
func (l *Launcher) waitConnectivity(ctx context.Context) {
	elapsed, _ := timing.Measure(func() error {
		for {
			if ctx.Err() != nil {
				return nil
			}
			if l.comm.Reachable() {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.PollInterval):
			}
		}
	})
	l.metrics.Record(MetricSSHTime, elapsed)
	logging.Logger().Debug("connectivity wait finished", zap.Duration("elapsed", elapsed))
}

// compensate tears down a partially provisioned instance after an
// interruption. The teardown runs on a context with cancellation stripped
// so it completes even though the provisioning call itself was interrupted.
// Interruption is resolved here, never propagated as a failure.
func (l *Launcher) compensate(ctx context.Context, instanceID string) error {
	logging.Logger().Warn("provisioning interrupted, destroying instance",
		zap.String("instance_id", instanceID))
	if err := l.destroyer.RunDestroy(context.WithoutCancel(ctx), l.teardownRequest(instanceID)); err != nil {
		logging.Logger().Error("compensating teardown failed",
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}
	return nil
}

func (l *Launcher) teardownRequest(instanceID string) TeardownRequest {
	return TeardownRequest{
		InstanceID:       instanceID,
		SkipConfirmation: true,
		SkipValidation:   true,
	}
}

func (l *Launcher) recordAddress(ctx context.Context, instanceID string) {
	describer, ok := l.cloud.(AddressDescriber)
	if !ok {
		return
	}
	public, private, err := describer.DescribeAddress(ctx, instanceID)
	if err != nil {
		logging.Logger().Warn("failed to read instance address",
			zap.String("instance_id", instanceID),
			zap.Error(err))
		return
	}
	if err := l.record.SetAddress(public, private); err != nil {
		logging.Logger().Warn("failed to persist instance address", zap.Error(err))
	}
}

// narrate logs the launch parameters and pre-submission advisories
func (l *Launcher) narrate(spec InstanceSpec) {
	fields := []zap.Field{
		zap.String("instance_type", spec.InstanceType),
		zap.String("ami", spec.ImageID),
		zap.String("region", spec.Region),
	}
	if spec.AvailabilityZone != "" {
		fields = append(fields, zap.String("availability_zone", spec.AvailabilityZone))
	}
	if spec.KeyName != "" {
		fields = append(fields, zap.String("keypair", spec.KeyName))
	}
	if spec.SubnetID != "" {
		fields = append(fields, zap.String("subnet_id", spec.SubnetID))
	}
	if len(spec.SecurityGroups) > 0 {
		fields = append(fields, zap.Strings("security_groups",
			logging.TruncateSlice(spec.SecurityGroups, 10)))
	}
	logging.Logger().Info("launching instance", fields...)

	if spec.KeyName == "" {
		logging.Logger().Warn("no keypair specified, you may be unable to reach the instance over SSH")
	}
	if spec.SubnetID != "" {
		logging.Logger().Warn("launching into a subnet, make sure your network allows SSH access",
			zap.String("subnet_id", spec.SubnetID))
	}
}
