package index

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
)

// PointID derives the store ID of chunk index of the file at path.
// Re-indexing a file overwrites its points instead of duplicating them.
func PointID(path string, index int) uint64 {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}

// PointIDs returns the IDs of chunks [from, to) of path.
func PointIDs(path string, from, to int) []uint64 {
	if to <= from {
		return nil
	}
	ids := make([]uint64, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, PointID(path, i))
	}
	return ids
}
