// Package mphf implements a minimal perfect hash over 16-bit key codes using
// the CHD (compress, hash, displace) construction.
//
// Keys are split into buckets by a first hash. Buckets are placed largest
// first; each bucket searches for a 16-bit displacement under which all its
// keys land in free, distinct slots of a table of exactly len(keys) entries.
// Evaluation is two xxhash calls and one table read, with no probing.
//
// # Package Structure
//
//   - Build: construction (this file), amortized at profile compile time
//   - Bucket, Slot, Table.Lookup: allocation-free evaluation used by the
//     key index on every event
//
// The on-disk form (seed, displacements, keys in slot order) is written by
// the profile package; evaluation over a mapped profile uses Bucket and Slot
// directly so no Table needs to be materialized.
package mphf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// MaxKeys is the largest key set a single table can index.
const MaxKeys = 1<<16 - 1

// maxSeeds bounds how many global seeds Build tries before giving up.
const maxSeeds = 256

// slotSeedMix decorrelates the slot hash from the bucket hash.
const slotSeedMix = 0x9E3779B9

// ErrDuplicateKey is returned by Build when the key set contains duplicates.
var ErrDuplicateKey = errors.New("duplicate key")

// Table is a built perfect hash.
//
// Keys holds the indexed keys in slot order, so Keys[Lookup(k)] == k for every
// indexed k. Callers store per-key payloads in parallel arrays.
type Table struct {
	Seed          uint32
	Displacements []uint16
	Keys          []uint16
}

// BucketCount returns the number of buckets used for n keys.
func BucketCount(n int) int {
	if n <= 4 {
		return 1
	}
	return (n + 3) / 4
}

// hash mixes seed, key and salt into one 64-bit value.
func hash(seed uint32, key uint16, salt uint16) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], seed)
	binary.LittleEndian.PutUint16(buf[4:6], key)
	binary.LittleEndian.PutUint16(buf[6:8], salt)
	return xxhash.Sum64(buf[:])
}

// fastRange maps h uniformly onto [0, n) without a division.
func fastRange(h uint64, n int) int {
	hi, _ := bits.Mul64(h, uint64(n))
	return int(hi)
}

// Bucket returns the bucket of key for a table with the given seed.
func Bucket(seed uint32, buckets int, key uint16) int {
	return fastRange(hash(seed, key, 0), buckets)
}

// Slot returns the slot of key given its bucket's displacement.
func Slot(seed uint32, disp uint16, n int, key uint16) int {
	return fastRange(hash(seed^slotSeedMix, key, disp), n)
}

// Lookup returns the slot of key and whether key is indexed.
func (t *Table) Lookup(key uint16) (int, bool) {
	n := len(t.Keys)
	if n == 0 {
		return 0, false
	}
	b := Bucket(t.Seed, len(t.Displacements), key)
	s := Slot(t.Seed, t.Displacements[b], n, key)
	return s, t.Keys[s] == key
}

// Build constructs a perfect hash over keys.
//
// Construction is deterministic: the same key set always yields the same
// table, regardless of input order.
func Build(keys []uint16) (*Table, error) {
	n := len(keys)
	if n > MaxKeys {
		return nil, fmt.Errorf("mphf: %d keys exceeds maximum %d", n, MaxKeys)
	}

	sorted := make([]uint16, n)
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i := 1; i < n; i++ {
		if sorted[i] == sorted[i-1] {
			return nil, fmt.Errorf("mphf: %w: %d", ErrDuplicateKey, sorted[i])
		}
	}

	r := BucketCount(n)
	if n == 0 {
		return &Table{Displacements: make([]uint16, r)}, nil
	}

	for seed := uint32(0); seed < maxSeeds; seed++ {
		if t, ok := tryBuild(seed, r, sorted); ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("mphf: no displacement found for %d keys after %d seeds", n, maxSeeds)
}

// tryBuild attempts placement under one global seed.
func tryBuild(seed uint32, r int, keys []uint16) (*Table, bool) {
	n := len(keys)
	buckets := make([][]uint16, r)
	for _, k := range keys {
		b := Bucket(seed, r, k)
		buckets[b] = append(buckets[b], k)
	}

	order := make([]int, r)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return len(buckets[order[i]]) > len(buckets[order[j]])
	})

	t := &Table{
		Seed:          seed,
		Displacements: make([]uint16, r),
		Keys:          make([]uint16, n),
	}
	occupied := make([]bool, n)
	slots := make([]int, 0, 8)

	for _, b := range order {
		members := buckets[b]
		if len(members) == 0 {
			break
		}
		placed := false
		for d := 0; d <= 0xFFFF; d++ {
			slots = slots[:0]
			if !fits(seed, uint16(d), n, members, occupied, &slots) {
				continue
			}
			for i, s := range slots {
				occupied[s] = true
				t.Keys[s] = members[i]
			}
			t.Displacements[b] = uint16(d)
			placed = true
			break
		}
		if !placed {
			return nil, false
		}
	}
	return t, true
}

// fits reports whether every member lands in a free, distinct slot under d.
func fits(seed uint32, d uint16, n int, members []uint16, occupied []bool, slots *[]int) bool {
	for _, k := range members {
		s := Slot(seed, d, n, k)
		if occupied[s] {
			return false
		}
		for _, prev := range *slots {
			if prev == s {
				return false
			}
		}
		*slots = append(*slots, s)
	}
	return true
}
