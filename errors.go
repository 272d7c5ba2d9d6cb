package callbridge

import "errors"

// Sentinel errors for client operations. These enable reliable error
// classification using errors.Is().

var (
	// ErrNoActiveSession indicates a command was issued while no session
	// exists.
	ErrNoActiveSession = errors.New("no active session")

	// ErrMissingAPIToken indicates the client was configured without a
	// registry API token.
	ErrMissingAPIToken = errors.New("api token cannot be empty")
)
