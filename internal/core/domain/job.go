package domain

import (
	"fmt"
	"time"
)

// JobState is a state of the ingestion state machine.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no transition leaves the state.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Active reports whether the job holds the data source's ingestion slot.
func (s JobState) Active() bool {
	return s == JobPending || s == JobRunning
}

// SourceStatus maps a job state to the data source status.
func (s JobState) SourceStatus() DataSourceStatus {
	switch s {
	case JobRunning:
		return SourceProcessing
	case JobCompleted:
		return SourceCompleted
	case JobFailed:
		return SourceError
	default:
		return SourcePending
	}
}

// Job is one ingestion run of a data source.
type Job struct {
	ID           string     `json:"id"`
	DataSourceID string     `json:"data_source_id"`
	State        JobState   `json:"state"`
	Progress     int        `json:"progress"`
	Error        string     `json:"error,omitempty"`
	ChunkCount   int        `json:"records_count"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NewJob creates a pending job.
func NewJob(id, dataSourceID string, now time.Time) *Job {
	return &Job{ID: id, DataSourceID: dataSourceID, State: JobPending, CreatedAt: now}
}

// Start moves a pending job to running.
func (j *Job) Start(now time.Time) error {
	if j.State != JobPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, JobRunning)
	}
	j.State = JobRunning
	j.StartedAt = &now
	return nil
}

// Complete moves a running job to completed.
func (j *Job) Complete(chunks int, now time.Time) error {
	if j.State != JobRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, JobCompleted)
	}
	j.State = JobCompleted
	j.Progress = 100
	j.ChunkCount = chunks
	j.FinishedAt = &now
	return nil
}

// Fail moves a running job to failed and records the message.
func (j *Job) Fail(msg string, now time.Time) error {
	if j.State != JobRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, JobFailed)
	}
	j.State = JobFailed
	j.Error = msg
	j.FinishedAt = &now
	return nil
}

// StatusEvent is published on every phase transition of a job.
type StatusEvent struct {
	DataSourceID string           `json:"data_source_id"`
	BusinessID   string           `json:"business_id"`
	JobID        string           `json:"job_id,omitempty"`
	Status       DataSourceStatus `json:"status"`
	Progress     int              `json:"progress"`
	Error        string           `json:"error,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}
