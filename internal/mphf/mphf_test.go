package mphf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyRange(from, n int) []uint16 {
	keys := make([]uint16, n)
	for i := range keys {
		keys[i] = uint16(from + i)
	}
	return keys
}

func TestBuildIsPerfect(t *testing.T) {
	for _, n := range []int{1, 2, 4, 5, 17, 100, 767} {
		keys := keyRange(1, n)
		table, err := Build(keys)
		require.NoError(t, err, "n=%d", n)

		seen := make(map[int]bool, n)
		for _, k := range keys {
			slot, ok := table.Lookup(k)
			require.True(t, ok, "n=%d key=%d", n, k)
			require.False(t, seen[slot], "slot %d assigned twice", slot)
			seen[slot] = true
			assert.Equal(t, k, table.Keys[slot])
		}
		assert.Len(t, seen, n)
		assert.Len(t, table.Displacements, BucketCount(n))
	}
}

func TestLookupMissingKey(t *testing.T) {
	table, err := Build([]uint16{30, 31, 32, 48})
	require.NoError(t, err)

	for _, k := range []uint16{0, 1, 29, 33, 0x2FF} {
		_, ok := table.Lookup(k)
		assert.False(t, ok, "key %d must not be found", k)
	}
}

func TestBuildEmpty(t *testing.T) {
	table, err := Build(nil)
	require.NoError(t, err)

	_, ok := table.Lookup(30)
	assert.False(t, ok)
	assert.Empty(t, table.Keys)
}

func TestBuildDeterministic(t *testing.T) {
	a, err := Build([]uint16{5, 9, 30, 57, 58, 100, 200})
	require.NoError(t, err)
	b, err := Build([]uint16{200, 100, 58, 57, 30, 9, 5})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestBuildRejectsDuplicates(t *testing.T) {
	_, err := Build([]uint16{30, 31, 30})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKey))
}

func TestSlotMatchesTable(t *testing.T) {
	keys := keyRange(100, 40)
	table, err := Build(keys)
	require.NoError(t, err)

	for _, k := range keys {
		b := Bucket(table.Seed, len(table.Displacements), k)
		s := Slot(table.Seed, table.Displacements[b], len(table.Keys), k)
		slot, _ := table.Lookup(k)
		assert.Equal(t, slot, s)
	}
}

func TestLookupDoesNotAllocate(t *testing.T) {
	table, err := Build(keyRange(1, 120))
	require.NoError(t, err)

	allocs := testing.AllocsPerRun(1000, func() {
		table.Lookup(57)
	})
	assert.Zero(t, allocs)
}

func BenchmarkLookup(b *testing.B) {
	table, err := Build(keyRange(1, 120))
	require.NoError(b, err)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		table.Lookup(uint16(i%120) + 1)
	}
}
