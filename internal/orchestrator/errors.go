package orchestrator

import "errors"

// Run-level errors. Anything not listed here is recorded on the affected section.
var (
	ErrEmptyOutline        = errors.New("empty outline")
	ErrMissingRouting      = errors.New("missing current section id or index")
	ErrSectionNotFound     = errors.New("section not found in outline")
	ErrInconsistentOutline = errors.New("no actionable section but outline is not settled")
	ErrRunCompleted        = errors.New("run already completed")
	ErrRunExists           = errors.New("run already exists")
	// ErrCompile is returned by Step when compilation fails. The checkpoint is
	// still saved and the next Step retries compilation.
	ErrCompile = errors.New("compile failed")
)

// Review channel errors.
var (
	ErrNotAwaitingReview      = errors.New("run is not awaiting review for this section")
	ErrResponseAlreadyPending = errors.New("a review response is already pending")
	ErrInvalidResponse        = errors.New("invalid review response")
)
