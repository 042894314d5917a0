// Package repository holds what the job stores share.
package repository

import (
	"errors"

	"doc-convert-service/internal/entity"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// CanTransition is the job state machine: queued -> running -> done|error.
// queued -> error is allowed for jobs that never reached the queue.
func CanTransition(from, to entity.JobStatus) bool {
	switch to {
	case entity.StatusRunning:
		return from == entity.StatusQueued
	case entity.StatusDone:
		return from == entity.StatusRunning
	case entity.StatusError:
		return from == entity.StatusQueued || from == entity.StatusRunning
	}
	return false
}

// AllowedFrom lists the states that may move to `to`.
func AllowedFrom(to entity.JobStatus) []entity.JobStatus {
	var out []entity.JobStatus
	for _, s := range []entity.JobStatus{entity.StatusQueued, entity.StatusRunning, entity.StatusDone, entity.StatusError} {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}
	return out
}
