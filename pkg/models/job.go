// Package models contains shared data models used across the Integration Hub codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state shared by jobs and their executions.
//
//	PENDING → RUNNING → SUCCESS
//	                  ↘ FAILED
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// IsTerminal reports whether no further transition is possible without a new attempt.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

// Job is a request to run a connector against a payload. Its status mirrors
// the status of its highest-attempt Execution.
type Job struct {
	ID            uuid.UUID      `db:"id"             json:"id"`
	ConnectorName string         `db:"connector_name" json:"connector_name"`
	Payload       map[string]any `db:"payload"        json:"payload"`
	Status        Status         `db:"status"         json:"status"`
	CreatedAt     time.Time      `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"     json:"updated_at"`
}

// Execution is one attempt at running a Job. Attempts start at 1 and are
// contiguous within a job.
type Execution struct {
	ID           uuid.UUID      `db:"id"            json:"id"`
	JobID        uuid.UUID      `db:"job_id"        json:"job_id"`
	Attempt      int            `db:"attempt"       json:"attempt"`
	Status       Status         `db:"status"        json:"status"`
	StartedAt    *time.Time     `db:"started_at"    json:"started_at"`
	FinishedAt   *time.Time     `db:"finished_at"   json:"finished_at"`
	Output       map[string]any `db:"output"        json:"output"`
	ErrorMessage *string        `db:"error_message" json:"error_message"`
	CreatedAt    time.Time      `db:"created_at"    json:"created_at"`
}
