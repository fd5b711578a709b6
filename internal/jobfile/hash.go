package jobfile

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Hash returns a stable content hash of a single spec. Field order and
// formatting don't matter; any semantic change to the record changes the
// hash. Used for change detection between the file and the grid.
func Hash(s Spec) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", hashBytes(b))
}

// HashAll hashes an entire jobs file snapshot (order-sensitive; the file is
// an ordered list and reordering is a change worth reporting).
func HashAll(specs []Spec) uint64 {
	b, err := json.Marshal(specs)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}
