package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity or request fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidTransition is returned when a task is asked to move between
	// two statuses that the processing lifecycle does not connect.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrRetryBudgetExhausted is returned when a retry is requested for a task
	// whose retry count already equals its retry budget.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)
