package utils

// Chunk разбивает срез на батчи размером не более size.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return [][]T{}
	}
	if size <= 0 {
		size = len(items) // Если размер батча некорректен, обрабатываем все как один батч
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}

// Sequence returns 1..n.
func Sequence(n uint64) []uint64 {
	ids := make([]uint64, 0, n)
	for i := uint64(1); i <= n; i++ {
		ids = append(ids, i)
	}
	return ids
}
