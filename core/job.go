// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobType identifies the pipeline a job runs through.
type JobType string

const (
	// JobTypeInsertion ingests one document into a collection.
	JobTypeInsertion JobType = "INSERTION"
	// JobTypeQuery answers one question against a collection.
	JobTypeQuery JobType = "QUERY"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ParseJobStatus converts a case-insensitive name into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	switch status := JobStatus(strings.ToUpper(strings.TrimSpace(s))); status {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidJobStatus, s)
	}
}

// ParseJobType converts a case-insensitive name into a JobType.
func ParseJobType(s string) (JobType, error) {
	switch jobType := JobType(strings.ToUpper(strings.TrimSpace(s))); jobType {
	case JobTypeInsertion, JobTypeQuery:
		return jobType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidJobType, s)
	}
}

// LogLevel is the severity of a job log entry.
type LogLevel string

const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

// LogEntry is one line of a job's append-only log.
type LogEntry struct {
	Time    time.Time `json:"timestamp"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}

// NewLogEntry stamps a log entry with the current UTC time.
func NewLogEntry(level LogLevel, message string) LogEntry {
	return LogEntry{Time: time.Now().UTC(), Level: level, Message: message}
}

// IngestionInput is the immutable snapshot of an ingestion request.
type IngestionInput struct {
	DocumentID     string `json:"document_id" validate:"required"`
	Filename       string `json:"filename" validate:"required"`
	FilePath       string `json:"file_path" validate:"required"`
	CollectionID   string `json:"collection_id" validate:"required"`
	CollectionName string `json:"collection_name"`
	UserID         string `json:"user_id"`
}

// QueryInput is the immutable snapshot of a query request.
type QueryInput struct {
	Query          string `json:"query" validate:"required"`
	Model          string `json:"model"`
	CollectionID   string `json:"collection_id" validate:"required"`
	CollectionName string `json:"collection_name"`
	TopK           int    `json:"top_k" validate:"gte=0,lte=100"`
}

// JobInput holds exactly one of the typed inputs, matching the job type.
type JobInput struct {
	Ingestion *IngestionInput `json:"ingestion,omitempty"`
	Query     *QueryInput     `json:"query,omitempty"`
}

// Job is a tracked unit of asynchronous work.
type Job struct {
	ID         string
	Type       JobType
	Status     JobStatus
	Progress   Stage
	Log        []LogEntry
	Input      JobInput
	Result     json.RawMessage
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// NewJob builds a queued job with its first log entry.
func NewJob(id string, jobType JobType, input JobInput) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Type:      jobType,
		Status:    JobStatusQueued,
		Progress:  StageQueued,
		Log:       []LogEntry{{Time: now, Level: LogLevelInfo, Message: "job queued"}},
		Input:     input,
		CreatedAt: now,
	}
}

// jobView is the poll contract shape of a Job.
type jobView struct {
	ID         string          `json:"id"`
	Type       JobType         `json:"type"`
	Status     JobStatus       `json:"status"`
	Progress   Stage           `json:"progress"`
	Log        []LogEntry      `json:"log"`
	Input      JobInput        `json:"input"`
	Result     json.RawMessage `json:"result"`
	Error      *string         `json:"error"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at"`
}

// MarshalJSON renders the job in its poll shape, with null result and error
// until the job is terminal.
func (j *Job) MarshalJSON() ([]byte, error) {
	view := jobView{
		ID:         j.ID,
		Type:       j.Type,
		Status:     j.Status,
		Progress:   j.Progress,
		Log:        j.Log,
		Input:      j.Input,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
	if view.Log == nil {
		view.Log = []LogEntry{}
	}
	if len(j.Result) > 0 {
		view.Result = j.Result
	}
	if j.Error != "" {
		msg := j.Error
		view.Error = &msg
	}
	return json.Marshal(view)
}

// UnmarshalJSON reads the poll shape back into a Job.
func (j *Job) UnmarshalJSON(data []byte) error {
	var view jobView
	if err := json.Unmarshal(data, &view); err != nil {
		return err
	}
	*j = Job{
		ID:         view.ID,
		Type:       view.Type,
		Status:     view.Status,
		Progress:   view.Progress,
		Log:        view.Log,
		Input:      view.Input,
		CreatedAt:  view.CreatedAt,
		StartedAt:  view.StartedAt,
		FinishedAt: view.FinishedAt,
	}
	if len(view.Result) > 0 && string(view.Result) != "null" {
		j.Result = view.Result
	}
	if view.Error != nil {
		j.Error = *view.Error
	}
	return nil
}
