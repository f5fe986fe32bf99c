package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidAmount is returned for zero, negative, malformed or
	// over-precise money amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds is returned when a debit would take a balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAccount is returned when an account identifier is empty or malformed.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrTransactionNotFound is returned when a ledger transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAlreadyReversed is returned when a refund targets a debit that has
	// already been refunded.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrNotRefundable is returned when a refund targets a credit or a
	// transaction that never completed.
	ErrNotRefundable = errors.New("transaction is not refundable")

	// ErrInvalidTransition is returned when a task state change is not allowed
	// by the task state machine.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrTaskNotFound is returned when a task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrEmptyPayload is returned when a task is submitted without text.
	ErrEmptyPayload = errors.New("task payload cannot be empty")

	// ErrDispatchFailed is returned when a task could not be handed to the broker.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrTimeout is returned when a worker did not reply before the deadline.
	ErrTimeout = errors.New("timed out waiting for worker reply")

	// ErrWorkerError is returned when the worker replied with an error marker.
	ErrWorkerError = errors.New("worker reported an error")

	// ErrCompensationFailed marks a refund that could not be applied after a
	// failed dispatch. Balance and task state need manual reconciliation.
	ErrCompensationFailed = errors.New("compensation failed")

	// ErrUnauthorized is returned when no account identity accompanies a request.
	ErrUnauthorized = errors.New("unauthorized operation")
)
