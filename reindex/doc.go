// Package reindex recomputes the vectors of every chunk in a collection.
//
// Operators run it after switching embedding models: stored chunk text is
// re-embedded batch by batch with exponential-backoff retries and the new
// normalized vectors replace the old ones in place. Chunk text, metadata
// and ids are left untouched.
package reindex
