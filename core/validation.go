package core

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minCollectionName = 5
	maxCollectionName = 25
)

// CanTransition reports whether a job may move from one status to another.
// The only legal moves are QUEUED -> PROCESSING and PROCESSING -> terminal.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to.IsTerminal()
	default:
		return false
	}
}

// ValidateTransition returns ErrInvalidTransition when CanTransition is false.
func ValidateTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ValidateJob checks the invariants of a job record.
//
// Validation rules:
//   - Type is known and Input carries the matching snapshot
//   - Progress belongs to the type's vocabulary
//   - Result only when COMPLETED, Error only when FAILED
//   - FinishedAt set exactly when the status is terminal
func ValidateJob(job *Job) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidInput)
	}
	switch job.Type {
	case JobTypeInsertion:
		if job.Input.Ingestion == nil || job.Input.Query != nil {
			return fmt.Errorf("%w: insertion job needs an ingestion input", ErrInvalidInput)
		}
	case JobTypeQuery:
		if job.Input.Query == nil || job.Input.Ingestion != nil {
			return fmt.Errorf("%w: query job needs a query input", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidJobType, job.Type)
	}
	if StageIndex(job.Type, job.Progress) < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownStage, job.Progress)
	}
	if len(job.Result) > 0 && job.Status != JobStatusCompleted {
		return fmt.Errorf("%w: result present with status %s", ErrInvalidInput, job.Status)
	}
	if job.Error != "" && job.Status != JobStatusFailed {
		return fmt.Errorf("%w: error present with status %s", ErrInvalidInput, job.Status)
	}
	if (job.FinishedAt != nil) != job.Status.IsTerminal() {
		return fmt.Errorf("%w: finished_at does not match status %s", ErrInvalidInput, job.Status)
	}
	return nil
}

// ValidateCollection validates a Collection.
//
// Validation rules:
//   - Name is 5 to 25 characters
//   - Name has no whitespace
func ValidateCollection(c *Collection) error {
	if c == nil {
		return fmt.Errorf("%w: collection is nil", ErrInvalidCollection)
	}
	n := utf8.RuneCountInString(c.Name)
	if n < minCollectionName || n > maxCollectionName {
		return fmt.Errorf("%w: name must be %d to %d characters", ErrInvalidCollection, minCollectionName, maxCollectionName)
	}
	if strings.IndexFunc(c.Name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: name cannot contain spaces", ErrInvalidCollection)
	}
	return nil
}
