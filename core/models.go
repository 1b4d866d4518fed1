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
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// NoDataAnswer is the fixed answer returned when no context supports a reply.
const NoDataAnswer = "No data found to answer the question"

// Collection is a named partition of the knowledge base.
type Collection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document is the metadata row of one ingested file.
type Document struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	CollectionID string    `json:"collection_id"`
	ContentHash  string    `json:"content_hash"`
	IsIndexed    bool      `json:"is_indexed"`
	InsertedBy   string    `json:"inserted_by,omitempty"`
	InsertedAt   time.Time `json:"inserted_at"`
	RenderedPath string    `json:"rendered_path,omitempty"`
}

// Chunk is a retrievable segment of a converted document.
type Chunk struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	CollectionID string    `json:"collection_id"`
	Filename     string    `json:"filename"`
	Text         string    `json:"text"`
	SectionPath  string    `json:"section"`
	Pages        []int     `json:"pages"`
	Vector       []float32 `json:"-"`
}

// SearchHit is one chunk returned by similarity search.
type SearchHit struct {
	Chunk Chunk
	Score float32
}

// Source cites the chunk metadata an answer relies on.
type Source struct {
	Filename string `json:"filename"`
	Section  string `json:"section"`
	Pages    []int  `json:"pages"`
}

// Answer is the structured response of the generation stage.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// NoDataResponse returns the sentinel answer with an empty source list.
func NoDataResponse() Answer {
	return Answer{Answer: NoDataAnswer, Sources: []Source{}}
}

// QueryResult is persisted as the result of a completed query job.
type QueryResult struct {
	Model             string  `json:"model"`
	Query             string  `json:"query"`
	ReformulatedQuery string  `json:"reformulated_query,omitempty"`
	Response          Answer  `json:"response"`
	DoneReason        string  `json:"done_reason"`
	Documents         int     `json:"documents"`
	TotalDuration     float64 `json:"total_duration"`
}

// IngestionResult is persisted as the result of a completed ingestion job.
// Durations are in seconds.
type IngestionResult struct {
	DocumentID     string  `json:"document_id"`
	Chunks         int     `json:"chunks"`
	ConversionTime float64 `json:"conversion_time"`
	EmbeddingTime  float64 `json:"embedding_time"`
	TotalTime      float64 `json:"total_time"`
}

// BlacklistEntry is a revoked auth token kept until it expires.
type BlacklistEntry struct {
	JTI           string    `json:"jti"`
	ExpiresAt     time.Time `json:"expires_at"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
}

// ContentHash returns the hex BLAKE2b-256 digest of r.
// Identical content always produces the same hash, which makes it the
// deduplication key of a document within a collection.
func ContentHash(r io.Reader) (string, error) {
	h, err := blake2b.New(32, nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileContentHash hashes the file at path.
func FileContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return ContentHash(f)
}
