package core

import "fmt"

// Stage is a progress label from the fixed vocabulary of a job type.
type Stage string

const (
	StageQueued         Stage = "queued"
	StageInitialisation Stage = "initialisation"
	StageDone           Stage = "done"

	StageConversion    Stage = "conversion"
	StageDeduplication Stage = "deduplication"
	StageMetadata      Stage = "metadata"
	StageChunking      Stage = "chunking"
	StageEmbeddings    Stage = "embeddings"
	StageCommit        Stage = "commit"

	StageReformulation Stage = "reformulation"
	StageRetrieval     Stage = "retrieval"
	StageReranking     Stage = "reranking"
	StageGeneration    Stage = "generation"
)

var (
	insertionStages = []Stage{
		StageQueued,
		StageInitialisation,
		StageConversion,
		StageDeduplication,
		StageMetadata,
		StageChunking,
		StageEmbeddings,
		StageCommit,
		StageDone,
	}

	queryStages = []Stage{
		StageQueued,
		StageInitialisation,
		StageReformulation,
		StageRetrieval,
		StageReranking,
		StageGeneration,
		StageDone,
	}
)

// Stages returns the ordered progress vocabulary for a job type.
// The returned slice must not be modified.
func Stages(jobType JobType) []Stage {
	switch jobType {
	case JobTypeInsertion:
		return insertionStages
	case JobTypeQuery:
		return queryStages
	default:
		return nil
	}
}

// StageIndex returns the position of stage in the vocabulary of jobType,
// or -1 when the stage does not belong to it.
func StageIndex(jobType JobType, stage Stage) int {
	for i, s := range Stages(jobType) {
		if s == stage {
			return i
		}
	}
	return -1
}

// ValidateProgress checks that moving from one stage to the next keeps
// progress inside the vocabulary and strictly forward.
func ValidateProgress(jobType JobType, from, to Stage) error {
	toIdx := StageIndex(jobType, to)
	if toIdx < 0 {
		return fmt.Errorf("%w: %q for %s job", ErrUnknownStage, to, jobType)
	}
	fromIdx := StageIndex(jobType, from)
	if fromIdx >= toIdx {
		return fmt.Errorf("%w: %q after %q", ErrStageRegression, to, from)
	}
	return nil
}
