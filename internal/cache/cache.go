package cache

import (
	"slices"
	"sync"

	"github.com/OCAP2/conveyor/pkg/core"
)

// EntityTable is the registry of cans currently on the belt.
// Spawner inserts, the reaper removes; every call is serialized by one mutex.
type EntityTable struct {
	m       sync.Mutex
	entries map[string]core.Entity
	lastSeq uint64
}

func NewEntityTable() *EntityTable {
	return &EntityTable{
		entries: make(map[string]core.Entity),
	}
}

// NextID allocates the next sequence number and its entity name.
// Numbers are never handed out twice, even if the spawn that used one failed.
func (t *EntityTable) NextID() (uint64, string) {
	t.m.Lock()
	defer t.m.Unlock()
	t.lastSeq++
	return t.lastSeq, core.EntityName(t.lastSeq)
}

// Insert adds e keyed by its ID. Callers get IDs from NextID so keys are unique.
func (t *EntityTable) Insert(e core.Entity) {
	t.m.Lock()
	defer t.m.Unlock()
	t.entries[e.ID] = e
}

// Remove drops id from the table. It reports whether the entry existed;
// removing an unknown id does nothing.
func (t *EntityTable) Remove(id string) bool {
	t.m.Lock()
	defer t.m.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

func (t *EntityTable) Get(id string) (core.Entity, bool) {
	t.m.Lock()
	defer t.m.Unlock()
	e, ok := t.entries[id]
	return e, ok
}

func (t *EntityTable) Count() int {
	t.m.Lock()
	defer t.m.Unlock()
	return len(t.entries)
}

// Snapshot returns a copy of all entries ordered by sequence number.
// The copy is safe to iterate while the table keeps changing.
func (t *EntityTable) Snapshot() []core.Entity {
	t.m.Lock()
	out := make([]core.Entity, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.m.Unlock()

	slices.SortFunc(out, func(a, b core.Entity) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Reset empties the table. The sequence counter keeps going so names stay unique
// for the life of the process.
func (t *EntityTable) Reset() {
	t.m.Lock()
	defer t.m.Unlock()
	t.entries = make(map[string]core.Entity)
}
