package eventstore

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const defaultLockStripes = 64

// lockTable serializes writers per dataset. Datasets hash onto a fixed set of
// mutexes, so unrelated datasets rarely contend and memory stays bounded.
type lockTable struct {
	stripes []sync.Mutex
}

func newLockTable(n int) *lockTable {
	if n <= 0 {
		n = defaultLockStripes
	}
	return &lockTable{stripes: make([]sync.Mutex, n)}
}

func (t *lockTable) stripe(datasetID string) *sync.Mutex {
	h := murmur3.Sum32([]byte(datasetID))
	return &t.stripes[h%uint32(len(t.stripes))]
}

// lock acquires the dataset's stripe and returns its release function.
func (t *lockTable) lock(datasetID string) func() {
	mu := t.stripe(datasetID)
	mu.Lock()
	return mu.Unlock
}
