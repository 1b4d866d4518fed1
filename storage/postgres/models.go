package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
)

// jobRow stores a job. Log, input and result are jsonb so the log can be
// appended in place with the || operator.
type jobRow struct {
	ID         string     `gorm:"primaryKey"`
	Type       string     `gorm:"not null;index"`
	Status     string     `gorm:"not null;index"`
	Progress   string     `gorm:"not null"`
	Log        string     `gorm:"type:jsonb;not null"`
	Input      string     `gorm:"type:jsonb;not null"`
	Result     *string    `gorm:"type:jsonb"`
	Error      *string
	CreatedAt  time.Time  `gorm:"not null;index"`
	StartedAt  *time.Time
	FinishedAt *time.Time
}

func (jobRow) TableName() string { return "jobs" }

func newJobRow(job *core.Job) (*jobRow, error) {
	log := job.Log
	if log == nil {
		log = []core.LogEntry{}
	}
	logJSON, err := json.Marshal(log)
	if err != nil {
		return nil, err
	}
	inputJSON, err := json.Marshal(job.Input)
	if err != nil {
		return nil, err
	}
	row := &jobRow{
		ID:         job.ID,
		Type:       string(job.Type),
		Status:     string(job.Status),
		Progress:   string(job.Progress),
		Log:        string(logJSON),
		Input:      string(inputJSON),
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
	if len(job.Result) > 0 {
		s := string(job.Result)
		row.Result = &s
	}
	if job.Error != "" {
		row.Error = &job.Error
	}
	return row, nil
}

func (r *jobRow) toJob() (*core.Job, error) {
	job := &core.Job{
		ID:         r.ID,
		Type:       core.JobType(r.Type),
		Status:     core.JobStatus(r.Status),
		Progress:   core.Stage(r.Progress),
		CreatedAt:  r.CreatedAt.UTC(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if err := json.Unmarshal([]byte(r.Log), &job.Log); err != nil {
		return nil, fmt.Errorf("%w: job log: %v", storage.ErrSerializationFailed, err)
	}
	if err := json.Unmarshal([]byte(r.Input), &job.Input); err != nil {
		return nil, fmt.Errorf("%w: job input: %v", storage.ErrSerializationFailed, err)
	}
	if r.Result != nil {
		job.Result = json.RawMessage(*r.Result)
	}
	if r.Error != nil {
		job.Error = *r.Error
	}
	return job, nil
}

type collectionRow struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null;uniqueIndex"`
	Description string
	OwnerID     string
	CreatedAt   time.Time
}

func (collectionRow) TableName() string { return "collections" }

func (r *collectionRow) toCollection() *core.Collection {
	return &core.Collection{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		OwnerID:     r.OwnerID,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type documentRow struct {
	ID           string `gorm:"primaryKey"`
	Filename     string `gorm:"not null"`
	CollectionID string `gorm:"not null;uniqueIndex:idx_document_content"`
	ContentHash  string `gorm:"not null;uniqueIndex:idx_document_content"`
	IsIndexed    bool   `gorm:"not null;default:false"`
	InsertedBy   string
	InsertedAt   time.Time `gorm:"index"`
	RenderedPath string
}

func (documentRow) TableName() string { return "documents" }

func (r *documentRow) toDocument() *core.Document {
	return &core.Document{
		ID:           r.ID,
		Filename:     r.Filename,
		CollectionID: r.CollectionID,
		ContentHash:  r.ContentHash,
		IsIndexed:    r.IsIndexed,
		InsertedBy:   r.InsertedBy,
		InsertedAt:   r.InsertedAt.UTC(),
		RenderedPath: r.RenderedPath,
	}
}

type blacklistRow struct {
	JTI           string    `gorm:"primaryKey"`
	ExpiresAt     time.Time `gorm:"not null;index"`
	BlacklistedAt time.Time `gorm:"not null"`
}

func (blacklistRow) TableName() string { return "token_blacklist" }

// chunkRow stores a chunk with its vector mus-encoded in a bytea column.
type chunkRow struct {
	ID           string `gorm:"primaryKey"`
	DocumentID   string `gorm:"not null;index"`
	CollectionID string `gorm:"not null;index"`
	Filename     string
	Text         string
	SectionPath  string
	Pages        string `gorm:"type:jsonb;not null"`
	Vector       []byte `gorm:"type:bytea;not null"`
}

func (chunkRow) TableName() string { return "chunks" }

func newChunkRow(chunk *core.Chunk) (*chunkRow, error) {
	pages := chunk.Pages
	if pages == nil {
		pages = []int{}
	}
	pagesJSON, err := json.Marshal(pages)
	if err != nil {
		return nil, err
	}
	return &chunkRow{
		ID:           chunk.ID,
		DocumentID:   chunk.DocumentID,
		CollectionID: chunk.CollectionID,
		Filename:     chunk.Filename,
		Text:         chunk.Text,
		SectionPath:  chunk.SectionPath,
		Pages:        string(pagesJSON),
		Vector:       storage.MarshalVector(chunk.Vector),
	}, nil
}

func (r *chunkRow) toChunk() (*core.Chunk, error) {
	chunk := &core.Chunk{
		ID:           r.ID,
		DocumentID:   r.DocumentID,
		CollectionID: r.CollectionID,
		Filename:     r.Filename,
		Text:         r.Text,
		SectionPath:  r.SectionPath,
	}
	if err := json.Unmarshal([]byte(r.Pages), &chunk.Pages); err != nil {
		return nil, fmt.Errorf("%w: chunk pages: %v", storage.ErrSerializationFailed, err)
	}
	if len(chunk.Pages) == 0 {
		chunk.Pages = nil
	}
	vector, err := storage.UnmarshalVector(r.Vector)
	if err != nil {
		return nil, err
	}
	chunk.Vector = vector
	return chunk, nil
}
