// Package query answers natural-language questions against a collection.
//
// A Pipeline reformulates the question for vector search, retrieves the
// closest chunks, asks the language model to rerank them against the
// original question and finally generates a JSON answer citing the chunks
// it relied on. A search with no hits completes with the fixed no-data
// answer instead of failing.
package query
