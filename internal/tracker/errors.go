package tracker

import "errors"

// Sentinel errors shared across subsystems.
var (
	// ErrJobNotFound is returned for status/cancel requests on unknown ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrPageNotFound is returned when a page record does not exist yet.
	ErrPageNotFound = errors.New("page not found")

	// ErrJobTerminal rejects writes against a job already in a terminal
	// status. Late-arriving updates treat it as a no-op.
	ErrJobTerminal = errors.New("job is terminal")

	// ErrTestingFailed signals that every candidate extraction method
	// failed on every sample page, aborting the run before extraction.
	ErrTestingFailed = errors.New("all extraction methods failed testing")

	// ErrValidation marks start/cancel requests rejected outright; the
	// job is never created or left untouched.
	ErrValidation = errors.New("invalid request")
)
