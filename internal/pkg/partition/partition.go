// Package partition splits id sets into request-sized batches.
package partition

// Chunk splits ids into consecutive slices of at most size elements.
// The returned slices share ids' backing array. A non-positive size yields a single chunk.
func Chunk[T any](ids []T, size int) [][]T {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 || size >= len(ids) {
		return [][]T{ids}
	}

	chunks := make([][]T, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}
