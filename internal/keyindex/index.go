// Package keyindex resolves (layer, device, key) to a mapping in O(1).
//
// An Index is built once per loaded profile. Each layer table carries its own
// minimal perfect hash (see package mphf), so a lookup is a fixed number of
// hash evaluations and array reads with no probing and no allocation.
//
// Device-scoped layers override the global layer with the same ID for the
// devices whose name matches their pattern. A device's overrides are resolved
// once, when the device is bound, into a Scope.
package keyindex

import (
	"fmt"
	"log/slog"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/profile"
)

// Result classifies a lookup.
type Result uint8

const (
	// Unmapped means the layer has no mapping for the key; the caller falls
	// through to the next layer down the stack.
	Unmapped Result = iota
	// Found means the returned mapping is valid.
	Found
	// Malformed means the key is mapped but its record failed to decode.
	// The caller passes the key through.
	Malformed
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case Unmapped:
		return "unmapped"
	case Found:
		return "found"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

const noLayer = -1

// Index is the lookup structure over a loaded profile.
//
// Lookups mutate only the malformed-record bookkeeping, so an Index must be
// used from one goroutine at a time, like the processor that owns it.
type Index struct {
	store   *profile.Store
	views   []profile.LayerView
	global  [256]int16
	devices []int

	// bad[v] has one bit per slot of view v: set once the record in that
	// slot has been found malformed and reported.
	bad    [][]uint64
	logger *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used to report malformed records.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// Build indexes every layer table of st.
func Build(st *profile.Store, opts ...Option) (*Index, error) {
	ix := &Index{
		store:  st,
		views:  make([]profile.LayerView, st.LayerCount()),
		bad:    make([][]uint64, st.LayerCount()),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	for i := range ix.global {
		ix.global[i] = noLayer
	}

	for i := 0; i < st.LayerCount(); i++ {
		lv := st.Layer(i)
		ix.views[i] = lv
		ix.bad[i] = make([]uint64, (lv.KeyCount()+63)/64)
		if lv.Global() {
			if ix.global[lv.ID] != noLayer {
				return nil, fmt.Errorf("keyindex: duplicate global layer %d", lv.ID)
			}
			ix.global[lv.ID] = int16(i)
			continue
		}
		ix.devices = append(ix.devices, i)
	}
	return ix, nil
}

// Store returns the profile the index was built from.
func (ix *Index) Store() *profile.Store { return ix.store }

// HasLayer reports whether the profile defines layer id, globally or for any device.
func (ix *Index) HasLayer(id ir.LayerID) bool {
	if ix.global[id] != noLayer {
		return true
	}
	for _, v := range ix.devices {
		if ix.views[v].ID == id {
			return true
		}
	}
	return false
}

// Scope holds the device-scoped overrides that apply to one device.
// A nil *Scope means global layers only.
type Scope struct {
	Device   string
	override [256]int16
}

// Overrides reports how many layers the device overrides.
func (s *Scope) Overrides() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, v := range s.override {
		if v != noLayer {
			n++
		}
	}
	return n
}

// BindDevice resolves the overrides for a device name. For each layer ID the
// first matching device-scoped table in profile order wins.
func (ix *Index) BindDevice(name string) *Scope {
	s := &Scope{Device: name}
	for i := range s.override {
		s.override[i] = noLayer
	}
	normalized := NormalizeDeviceName(name)
	for _, v := range ix.devices {
		lv := ix.views[v]
		if s.override[lv.ID] != noLayer {
			continue
		}
		if MatchDevicePattern(NormalizeDeviceName(lv.Device), normalized) {
			s.override[lv.ID] = int16(v)
		}
	}
	return s
}

// Lookup resolves key in layer for the given scope.
//
// The device override for the layer is consulted first; if it does not map
// the key, the global table for the same layer is consulted.
func (ix *Index) Lookup(scope *Scope, layer ir.LayerID, key ir.KeyCode) (ir.Mapping, Result) {
	if scope != nil {
		if v := scope.override[layer]; v != noLayer {
			if m, r := ix.lookupView(int(v), key); r != Unmapped {
				return m, r
			}
		}
	}
	if v := ix.global[layer]; v != noLayer {
		return ix.lookupView(int(v), key)
	}
	return ir.Mapping{}, Unmapped
}

func (ix *Index) lookupView(v int, key ir.KeyCode) (ir.Mapping, Result) {
	lv := ix.views[v]
	slot, ok := lv.SlotOf(key)
	if !ok {
		return ir.Mapping{}, Unmapped
	}
	bad := ix.bad[v]
	word, bit := slot/64, uint64(1)<<(slot%64)
	if bad[word]&bit != 0 {
		return ir.Mapping{}, Malformed
	}

	_, off := lv.Slot(slot)
	m, err := ix.store.Record(off)
	if err != nil {
		bad[word] |= bit
		ix.logger.Warn("malformed mapping record, passing key through",
			"layer", lv.ID,
			"device", lv.Device,
			"key", key,
			"error", err,
		)
		return ir.Mapping{}, Malformed
	}
	return m, Found
}
