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
	"errors"
	"fmt"
)

// Domain errors
var (
	// ErrJobNotFound indicates the job id is unknown.
	ErrJobNotFound = errors.New("job not found")

	// ErrCollectionNotFound indicates the target collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDocumentNotFound indicates the document id is unknown.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDuplicateContent indicates identical content already exists in the collection.
	ErrDuplicateContent = errors.New("duplicate content")

	// ErrInvalidTransition indicates a status change outside QUEUED -> PROCESSING -> terminal.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrStageRegression indicates progress would move backwards or repeat.
	ErrStageRegression = errors.New("progress cannot move backwards")

	// ErrUnknownStage indicates a progress label outside the job type's vocabulary.
	ErrUnknownStage = errors.New("unknown progress stage")

	// ErrInvalidJobType indicates an unsupported job type.
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrInvalidJobStatus indicates an unsupported job status.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrInvalidInput indicates the job input does not match its type.
	ErrInvalidInput = errors.New("invalid job input")

	// ErrMalformedResponse indicates a collaborator answered outside its contract.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrDocumentParsing indicates the converter could not read the document.
	ErrDocumentParsing = errors.New("document parsing failed")

	// ErrUnsupportedFormat indicates no converter handles the file type.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrInvalidCollection indicates a Collection failed validation.
	ErrInvalidCollection = errors.New("invalid collection")
)

// ErrorKind classifies a pipeline failure by origin.
type ErrorKind int

const (
	// KindUnexpected is anything not anticipated by the pipeline.
	KindUnexpected ErrorKind = iota
	// KindPrecondition covers missing entities, duplicates and malformed responses.
	KindPrecondition
	// KindCollaborator covers failures reported by a converter, vector store or model.
	KindCollaborator
)

func (k ErrorKind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindCollaborator:
		return "collaborator"
	default:
		return "unexpected"
	}
}

// StageError ties a pipeline failure to the stage that produced it.
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Precondition wraps err as a precondition failure of stage.
func Precondition(stage Stage, err error) error {
	return &StageError{Stage: stage, Kind: KindPrecondition, Err: err}
}

// Collaborator wraps err as a collaborator failure of stage.
func Collaborator(stage Stage, err error) error {
	return &StageError{Stage: stage, Kind: KindCollaborator, Err: err}
}
