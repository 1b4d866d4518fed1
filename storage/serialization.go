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

package storage

import (
	"fmt"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/ragjobs/core"
)

// chunkFormatVersion prefixes every encoded chunk.
const chunkFormatVersion = 1

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	buf := make([]byte, chunkSize(chunk))
	n := varint.Int.Marshal(chunkFormatVersion, buf)
	n += ord.String.Marshal(chunk.ID, buf[n:])
	n += ord.String.Marshal(chunk.DocumentID, buf[n:])
	n += ord.String.Marshal(chunk.CollectionID, buf[n:])
	n += ord.String.Marshal(chunk.Filename, buf[n:])
	n += ord.String.Marshal(chunk.Text, buf[n:])
	n += ord.String.Marshal(chunk.SectionPath, buf[n:])
	n += varint.Int.Marshal(len(chunk.Pages), buf[n:])
	for _, p := range chunk.Pages {
		n += varint.Int.Marshal(p, buf[n:])
	}
	marshalVectorTo(chunk.Vector, buf[n:])
	return buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	version, n, err := varint.Int.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	if version != chunkFormatVersion {
		return nil, fmt.Errorf("%w: unknown chunk format %d", ErrSerializationFailed, version)
	}

	var chunk core.Chunk
	fields := []*string{
		&chunk.ID,
		&chunk.DocumentID,
		&chunk.CollectionID,
		&chunk.Filename,
		&chunk.Text,
		&chunk.SectionPath,
	}
	for _, field := range fields {
		v, m, err := ord.String.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncatedData, err)
		}
		*field = v
		n += m
	}

	count, m, err := varint.Int.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncatedData, err)
	}
	n += m
	if count < 0 || count > len(data)-n {
		return nil, fmt.Errorf("%w: page count %d", ErrSerializationFailed, count)
	}
	if count > 0 {
		chunk.Pages = make([]int, count)
		for i := range chunk.Pages {
			p, m, err := varint.Int.Unmarshal(data[n:])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTruncatedData, err)
			}
			chunk.Pages[i] = p
			n += m
		}
	}

	chunk.Vector, _, err = unmarshalVectorFrom(data[n:])
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// MarshalVector serializes an embedding vector to bytes.
func MarshalVector(v []float32) []byte {
	buf := make([]byte, vectorSize(v))
	marshalVectorTo(v, buf)
	return buf
}

// UnmarshalVector deserializes an embedding vector from bytes.
func UnmarshalVector(data []byte) ([]float32, error) {
	v, _, err := unmarshalVectorFrom(data)
	return v, err
}

func chunkSize(chunk *core.Chunk) int {
	size := varint.Int.Size(chunkFormatVersion)
	for _, s := range []string{chunk.ID, chunk.DocumentID, chunk.CollectionID, chunk.Filename, chunk.Text, chunk.SectionPath} {
		size += ord.String.Size(s)
	}
	size += varint.Int.Size(len(chunk.Pages))
	for _, p := range chunk.Pages {
		size += varint.Int.Size(p)
	}
	return size + vectorSize(chunk.Vector)
}

func vectorSize(v []float32) int {
	size := varint.Int.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return size
}

func marshalVectorTo(v []float32, buf []byte) int {
	n := varint.Int.Marshal(len(v), buf)
	for _, f := range v {
		n += raw.Float32.Marshal(f, buf[n:])
	}
	return n
}

func unmarshalVectorFrom(data []byte) ([]float32, int, error) {
	count, n, err := varint.Int.Unmarshal(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTruncatedData, err)
	}
	if count < 0 || count*4 > len(data)-n {
		return nil, 0, fmt.Errorf("%w: vector length %d", ErrTruncatedData, count)
	}
	if count == 0 {
		return nil, n, nil
	}
	v := make([]float32, count)
	for i := range v {
		f, m, err := raw.Float32.Unmarshal(data[n:])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrTruncatedData, err)
		}
		v[i] = f
		n += m
	}
	return v, n, nil
}
