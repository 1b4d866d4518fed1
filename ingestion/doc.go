// Package ingestion turns an uploaded file into indexed chunks of a collection.
//
// A Pipeline runs one ingestion job through its stages in order:
//   - conversion of the file into structured blocks and a markdown rendering
//   - deduplication by content hash within the collection
//   - creation of the document metadata row
//   - chunking along heading boundaries
//   - embedding and persistence of every chunk
//   - commit, which marks the document indexed
//
// Each stage is reported through a core.Tracker before it starts. A failure
// is returned as a *core.StageError naming the stage and whether a
// precondition or a collaborator failed; the document row and rendering of a
// failed run are removed so the same file can be submitted again.
package ingestion
