package attempt

import "errors"

var (
	// ErrProvisionTimeout indicates the rented instance never reached the
	// running state within the configured ceiling.
	ErrProvisionTimeout = errors.New("instance provisioning timed out")

	// ErrBenchmarkTimeout indicates the agent did not complete within the
	// configured ceiling.
	ErrBenchmarkTimeout = errors.New("benchmark timed out")
)
