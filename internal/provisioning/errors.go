package provisioning

import (
	"errors"
	"fmt"
)

// ErrNotReady marks a readiness poll that found the instance still in its
// transitional boot state. It is the only error kind the readiness retry
// loop consumes; everything else propagates immediately.
var ErrNotReady = errors.New("instance not yet ready")

// SubnetNotFoundError is returned when submission fails because the
// configured subnet does not exist
type SubnetNotFoundError struct {
	SubnetID string
}

func (e *SubnetNotFoundError) Error() string {
	return fmt.Sprintf("subnet %s not found", e.SubnetID)
}

// ProvisioningError is any other provider-side rejection of the submission,
// carrying the provider's message
type ProvisioningError struct {
	Message string
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed: %s", e.Message)
}

// IsDomainError reports whether err is one of the recognized domain errors
// that the pipeline surfaces to the user itself. The recovery hook does not
// compensate for these to avoid double reporting.
func IsDomainError(err error) bool {
	var subnetErr *SubnetNotFoundError
	var provErr *ProvisioningError
	return errors.As(err, &subnetErr) || errors.As(err, &provErr)
}
