package core

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	statuses := []JobStatus{JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed}
	allowed := map[[2]JobStatus]bool{
		{JobStatusQueued, JobStatusProcessing}:    true,
		{JobStatusProcessing, JobStatusCompleted}: true,
		{JobStatusProcessing, JobStatusFailed}:    true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]JobStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
			err := ValidateTransition(from, to)
			if want && err != nil {
				t.Errorf("ValidateTransition(%s, %s) unexpected error: %v", from, to, err)
			}
			if !want && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("ValidateTransition(%s, %s) = %v, want ErrInvalidTransition", from, to, err)
			}
		}
	}
}

func TestValidateJob(t *testing.T) {
	finished := time.Now().UTC()
	ingestion := JobInput{Ingestion: &IngestionInput{DocumentID: "d", Filename: "f.pdf", FilePath: "/tmp/f.pdf", CollectionID: "c"}}
	query := JobInput{Query: &QueryInput{Query: "q", CollectionID: "c"}}

	tests := []struct {
		name    string
		job     *Job
		wantErr error
	}{
		{
			name:    "nil job",
			job:     nil,
			wantErr: ErrInvalidInput,
		},
		{
			name: "queued insertion",
			job:  NewJob("1", JobTypeInsertion, ingestion),
		},
		{
			name: "queued query",
			job:  NewJob("1", JobTypeQuery, query),
		},
		{
			name:    "mismatched input",
			job:     NewJob("1", JobTypeQuery, ingestion),
			wantErr: ErrInvalidInput,
		},
		{
			name:    "unknown type",
			job:     &Job{Type: "RESIZE", Progress: StageQueued},
			wantErr: ErrInvalidJobType,
		},
		{
			name: "query stage on insertion job",
			job: &Job{
				Type: JobTypeInsertion, Status: JobStatusProcessing,
				Progress: StageReranking, Input: ingestion,
			},
			wantErr: ErrUnknownStage,
		},
		{
			name: "result before completion",
			job: &Job{
				Type: JobTypeQuery, Status: JobStatusProcessing,
				Progress: StageGeneration, Input: query, Result: []byte(`{}`),
			},
			wantErr: ErrInvalidInput,
		},
		{
			name: "error on completed job",
			job: &Job{
				Type: JobTypeQuery, Status: JobStatusCompleted, Progress: StageDone,
				Input: query, Result: []byte(`{}`), Error: "boom", FinishedAt: &finished,
			},
			wantErr: ErrInvalidInput,
		},
		{
			name: "terminal without finished_at",
			job: &Job{
				Type: JobTypeQuery, Status: JobStatusFailed, Progress: StageRetrieval,
				Input: query, Error: "boom",
			},
			wantErr: ErrInvalidInput,
		},
		{
			name: "failed job",
			job: &Job{
				Type: JobTypeQuery, Status: JobStatusFailed, Progress: StageRetrieval,
				Input: query, Error: "retrieval: boom", FinishedAt: &finished,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJob(tt.job)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateJob() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateJob() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollection(t *testing.T) {
	tests := []struct {
		name    string
		coll    *Collection
		wantErr bool
	}{
		{"valid", &Collection{Name: "docs-2024"}, false},
		{"minimum length", &Collection{Name: "abcde"}, false},
		{"too short", &Collection{Name: "docs"}, true},
		{"too long", &Collection{Name: "abcdefghijklmnopqrstuvwxyz"}, true},
		{"contains space", &Collection{Name: "my docs"}, true},
		{"nil", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollection(tt.coll)
			if tt.wantErr && !errors.Is(err, ErrInvalidCollection) {
				t.Errorf("ValidateCollection() error = %v, want ErrInvalidCollection", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateCollection() unexpected error = %v", err)
			}
		})
	}
}
