package domain

import "errors"

var (
	// ErrRunAlreadyActive is returned when a different prompt is submitted while a run is running.
	ErrRunAlreadyActive = errors.New("run already active")
	// ErrInvalidTransition is returned when a control action is not legal for the current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNoActiveRun is returned when a control action arrives before any run was started.
	ErrNoActiveRun = errors.New("no active run")
	// ErrWorkerFailure marks a run the worker could not finish.
	ErrWorkerFailure = errors.New("worker failure")
	// ErrStaleRun is returned to a writer whose run has been replaced.
	ErrStaleRun = errors.New("stale run")
	// ErrPromptRequired is returned when a run is started without a prompt.
	ErrPromptRequired = errors.New("prompt is required")
	// ErrPromptRejected is returned when the admission policy refuses a prompt.
	ErrPromptRejected = errors.New("prompt rejected by policy")
	// ErrInvalidMessage is returned when an appended message lacks a role or text.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrRunNotFound is returned by archive lookups for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
)
