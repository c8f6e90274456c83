package testutil

import (
	"fmt"
	"sync"
)

// FixedIDs returns predetermined recording IDs for tests.
//
// Implements store.IDGenerator. The same test with the same FixedIDs
// produces byte-identical recordings.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDs creates a generator that returns ids in order, then
// "test-id-N" once they run out.
func NewFixedIDs(ids ...string) *FixedIDs {
	return &FixedIDs{ids: ids}
}

// Generate returns the next ID.
func (g *FixedIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.idx++
	if g.idx <= len(g.ids) {
		return g.ids[g.idx-1]
	}
	return fmt.Sprintf("test-id-%d", g.idx)
}
