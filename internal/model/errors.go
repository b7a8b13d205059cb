package model

import "errors"

var (
	// User related errors
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Project related errors
	ErrProjectNotFound = errors.New("project not found")

	// Trash pipeline errors
	ErrTrashRecordNotFound = errors.New("trash record not found")
	// ErrAlreadyTrashed surfaces a second deletion request for a target that
	// already has a live trash record, so the caller can report "already
	// being deleted" instead of retrying.
	ErrAlreadyTrashed = errors.New("target already has a pending trash record")
	// ErrTrashAlreadyInProgress means another worker owns the record; the
	// caller logs and returns without mutating state.
	ErrTrashAlreadyInProgress = errors.New("trash task already in progress")
	// ErrPurgeTaskInProgress is the retryable sibling guard: an account purge
	// must wait for its projects' purge tasks to finish.
	ErrPurgeTaskInProgress = errors.New("a related purge task is still in progress")
	// ErrLegacyUnavailable marks the legacy store as transiently unreachable.
	ErrLegacyUnavailable = errors.New("legacy store is not responsive")

	// Scheduler errors
	ErrPeriodicTaskNotFound = errors.New("periodic task not found")
	ErrTaskNotRegistered    = errors.New("task is not registered")

	// Permission/Access related errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
