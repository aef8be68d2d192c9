// Package chunkplan partitions a file's byte range into fixed-size chunks.
package chunkplan

import "errors"

var (
	ErrInvalidSize      = errors.New("chunkplan: total size must be positive")
	ErrInvalidChunkSize = errors.New("chunkplan: chunk size must be positive")
)

// Chunk is a contiguous byte range of the target file, identified by a
// zero-based index. Offset = Index * chunk size; Length is short only on
// the final chunk.
type Chunk struct {
	Index  int
	Offset int64
	Length int64
}

// End returns the exclusive end offset of the chunk.
func (c Chunk) End() int64 {
	return c.Offset + c.Length
}

// Plan partitions [0, totalSize) into chunks of at most chunkSize bytes
// each. The chunks are contiguous and non-overlapping; the final chunk may
// be shorter than chunkSize. Plan performs no I/O.
func Plan(totalSize, chunkSize int64) ([]Chunk, error) {
	if totalSize <= 0 {
		return nil, ErrInvalidSize
	}
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}

	numChunks := (totalSize + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, numChunks)

	for i := int64(0); i < numChunks; i++ {
		offset := i * chunkSize
		length := chunkSize
		if offset+length > totalSize {
			length = totalSize - offset
		}
		chunks[i] = Chunk{
			Index:  int(i),
			Offset: offset,
			Length: length,
		}
	}

	return chunks, nil
}
