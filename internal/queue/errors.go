package queue

import "errors"

var (
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrEmptyGroup is returned when a group is submitted without tasks.
	ErrEmptyGroup = errors.New("task group has no tasks")
	// ErrTaskNotActive is returned when a finished or unknown task is completed or failed.
	ErrTaskNotActive = errors.New("task is not active")
)
