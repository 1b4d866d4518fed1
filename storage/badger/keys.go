package badger

// Key prefixes for records stored outside badgerhold.
const (
	chunkPrefix    = "chunk"
	chunkDocPrefix = "chunkdoc"
	docHashPrefix  = "dochash"
)

// makeChunkKey generates a key for a chunk.
// Format: chunk:collectionID:chunkID
func makeChunkKey(collectionID, chunkID string) []byte {
	return []byte(chunkPrefix + ":" + collectionID + ":" + chunkID)
}

// makeChunkCollectionPrefix generates the scan prefix of a collection's chunks.
func makeChunkCollectionPrefix(collectionID string) []byte {
	return []byte(chunkPrefix + ":" + collectionID + ":")
}

// makeChunkDocKey generates the document index entry of a chunk.
// Format: chunkdoc:documentID:chunkID, value is the primary chunk key.
func makeChunkDocKey(documentID, chunkID string) []byte {
	return []byte(chunkDocPrefix + ":" + documentID + ":" + chunkID)
}

// makeChunkDocPrefix generates the scan prefix of a document's chunk index.
func makeChunkDocPrefix(documentID string) []byte {
	return []byte(chunkDocPrefix + ":" + documentID + ":")
}

// makeDocHashKey generates the uniqueness reservation of a document's content.
// Format: dochash:collectionID:hash, value is the document ID.
func makeDocHashKey(collectionID, hash string) []byte {
	return []byte(docHashPrefix + ":" + collectionID + ":" + hash)
}
