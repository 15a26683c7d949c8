package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/conveyor/pkg/core"
)

func newEntity(t *EntityTable, spawn time.Time) core.Entity {
	seq, id := t.NextID()
	return core.Entity{ID: id, Seq: seq, SpawnTime: spawn}
}

func TestEntityTable_NewEntityTable(t *testing.T) {
	table := NewEntityTable()

	require.NotNil(t, table)
	assert.Equal(t, 0, table.Count())
	assert.Empty(t, table.Snapshot())
}

func TestEntityTable_NextIDIsMonotonic(t *testing.T) {
	table := NewEntityTable()

	seq1, id1 := table.NextID()
	seq2, id2 := table.NextID()

	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, "can_0001", id1)
	assert.Equal(t, uint64(2), seq2)
	assert.Equal(t, "can_0002", id2)
}

func TestEntityTable_InsertAndGet(t *testing.T) {
	table := NewEntityTable()
	e := newEntity(table, time.Unix(100, 0))
	e.Variant = core.VariantDefective

	table.Insert(e)

	got, ok := table.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, e, got)
	assert.Equal(t, 1, table.Count())
}

func TestEntityTable_Get_NotFound(t *testing.T) {
	table := NewEntityTable()

	_, ok := table.Get("can_9999")
	assert.False(t, ok)
}

func TestEntityTable_RemoveIsIdempotent(t *testing.T) {
	table := NewEntityTable()
	keep := newEntity(table, time.Unix(1, 0))
	drop := newEntity(table, time.Unix(2, 0))
	table.Insert(keep)
	table.Insert(drop)

	assert.True(t, table.Remove(drop.ID))
	before := table.Snapshot()

	assert.False(t, table.Remove(drop.ID))
	assert.False(t, table.Remove("never_existed"))
	assert.Equal(t, before, table.Snapshot())
	assert.Equal(t, 1, table.Count())
}

func TestEntityTable_SnapshotOrderedBySeq(t *testing.T) {
	table := NewEntityTable()
	var entities []core.Entity
	for i := 0; i < 10; i++ {
		entities = append(entities, newEntity(table, time.Unix(int64(i), 0)))
	}
	// insert out of order
	for i := len(entities) - 1; i >= 0; i-- {
		table.Insert(entities[i])
	}

	snap := table.Snapshot()
	require.Len(t, snap, 10)
	for i, e := range snap {
		assert.Equal(t, entities[i].ID, e.ID)
	}
}

func TestEntityTable_SnapshotIsACopy(t *testing.T) {
	table := NewEntityTable()
	e := newEntity(table, time.Unix(1, 0))
	table.Insert(e)

	snap := table.Snapshot()
	table.Remove(e.ID)

	require.Len(t, snap, 1)
	assert.Equal(t, e.ID, snap[0].ID)
	assert.Equal(t, 0, table.Count())
}

func TestEntityTable_ResetKeepsSequence(t *testing.T) {
	table := NewEntityTable()
	table.Insert(newEntity(table, time.Unix(1, 0)))
	table.Insert(newEntity(table, time.Unix(2, 0)))

	table.Reset()
	assert.Equal(t, 0, table.Count())

	seq, id := table.NextID()
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, "can_0003", id)
}

func TestEntityTable_ConcurrentAccess(t *testing.T) {
	table := NewEntityTable()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			table.Insert(newEntity(table, time.Now()))
		}()
		go func() {
			defer wg.Done()
			_ = table.Snapshot()
			_ = table.Count()
		}()
		go func(i int) {
			defer wg.Done()
			table.Remove(fmt.Sprintf("can_%04d", i))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, e := range table.Snapshot() {
		assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
	}
	assert.Equal(t, len(seen), table.Count())
}
