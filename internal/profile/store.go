package profile

import (
	"bytes"
	"fmt"
	"os"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/mphf"
)

// Store is a loaded, validated profile.
//
// A Store is immutable after Load. Views returned by its accessors alias the
// underlying buffer; the caller must not modify the buffer afterwards.
type Store struct {
	data    []byte
	payload []byte
	header  Header
	layers  []LayerView
	macros  []byte
	nMacros int
}

// LayerView is a zero-copy view of one layer table.
type LayerView struct {
	// ID is the layer ID.
	ID ir.LayerID

	// Device is the device name pattern for device-scoped layers, or ""
	// for global layers.
	Device string

	seed    uint32
	buckets int
	n       int
	disp    []byte
	keys    []byte
	offs    []byte
}

// MacroView is a zero-copy view of one macro sequence.
type MacroView struct {
	Seq   uint16
	steps []byte
}

// Load validates data and returns a Store over it.
//
// Errors are *Error with code ErrCodeCorrupt or ErrCodeVersionMismatch.
// Load never retains data on failure.
func Load(data []byte) (*Store, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(h.Magic[:], Magic[:]) {
		return nil, corrupt(0, "bad magic %q", h.Magic[:])
	}
	if err := checkVersion(h.Version); err != nil {
		return nil, err
	}

	payload := data[HeaderSize:]
	if int(h.PayloadLen) != len(payload) {
		return nil, corrupt(12, "payload length %d does not match buffer (%d bytes)", h.PayloadLen, len(payload))
	}
	if sum := ir.ProfileChecksum(payload); sum != h.Checksum {
		return nil, corrupt(16, "checksum mismatch: header %s, payload %s", ir.ChecksumHex(h.Checksum), ir.ChecksumHex(sum))
	}

	s := &Store{data: data, payload: payload, header: h}
	if err := s.parseDirectories(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile reads and loads a profile from disk.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return Load(data)
}

// span returns payload[off:off+n] or false when out of bounds.
func (s *Store) span(off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(s.payload) || n > len(s.payload)-off {
		return nil, false
	}
	return s.payload[off : off+n], true
}

func (s *Store) parseDirectories() error {
	head, ok := s.span(0, payloadHeaderSize)
	if !ok {
		return corrupt(HeaderSize, "payload too short for counts")
	}
	nLayers := int(le.Uint16(head[0:2]))
	nMacros := int(le.Uint16(head[2:4]))

	layerDir, ok := s.span(payloadHeaderSize, nLayers*layerEntrySize)
	if !ok {
		return corrupt(HeaderSize+payloadHeaderSize, "layer directory (%d entries) out of bounds", nLayers)
	}
	macroOff := payloadHeaderSize + nLayers*layerEntrySize
	macroDir, ok := s.span(macroOff, nMacros*macroEntrySize)
	if !ok {
		return corrupt(HeaderSize+macroOff, "macro directory (%d entries) out of bounds", nMacros)
	}

	s.layers = make([]LayerView, 0, nLayers)
	for i := 0; i < nLayers; i++ {
		entry := layerDir[i*layerEntrySize : (i+1)*layerEntrySize]
		lv, err := s.parseLayer(entry, payloadHeaderSize+i*layerEntrySize)
		if err != nil {
			return err
		}
		for _, prev := range s.layers {
			if prev.ID == lv.ID && prev.Device == lv.Device {
				return corrupt(HeaderSize+payloadHeaderSize+i*layerEntrySize, "duplicate layer %d (device %q)", lv.ID, lv.Device)
			}
		}
		s.layers = append(s.layers, lv)
	}

	prev := -1
	for i := 0; i < nMacros; i++ {
		entry := macroDir[i*macroEntrySize : (i+1)*macroEntrySize]
		seq := int(le.Uint16(entry[0:2]))
		count := int(le.Uint16(entry[2:4]))
		off := int(le.Uint32(entry[4:8]))
		if seq <= prev {
			return corrupt(HeaderSize+macroOff+i*macroEntrySize, "macro directory not sorted at seq %d", seq)
		}
		steps, ok := s.span(off, count*macroStepSize)
		if !ok {
			return corrupt(HeaderSize+macroOff+i*macroEntrySize, "macro %d steps out of bounds", seq)
		}
		for j := 0; j < count; j++ {
			st := steps[j*macroStepSize:]
			if ir.Edge(st[2]) > ir.Release || ir.KeyCode(le.Uint16(st[0:2])) > ir.MaxKeyCode {
				return corrupt(HeaderSize+off+j*macroStepSize, "macro %d step %d invalid", seq, j)
			}
		}
		prev = seq
	}
	s.macros = macroDir
	s.nMacros = nMacros
	return nil
}

func (s *Store) parseLayer(entry []byte, entryOff int) (LayerView, error) {
	lv := LayerView{ID: ir.LayerID(entry[0])}
	scope := entry[1]
	keyCount := int(le.Uint16(entry[2:4]))
	deviceOff := int(le.Uint32(entry[4:8]))
	tableOff := int(le.Uint32(entry[8:12]))
	at := HeaderSize + entryOff

	switch scope {
	case scopeGlobal:
	case scopeDevice:
		lenBuf, ok := s.span(deviceOff, 2)
		if !ok {
			return lv, corrupt(at, "layer %d device pattern out of bounds", lv.ID)
		}
		name, ok := s.span(deviceOff+2, int(le.Uint16(lenBuf)))
		if !ok || len(name) == 0 {
			return lv, corrupt(at, "layer %d device pattern out of bounds", lv.ID)
		}
		lv.Device = string(name)
	default:
		return lv, corrupt(at, "layer %d has unknown scope %d", lv.ID, scope)
	}

	th, ok := s.span(tableOff, tableHeaderSize)
	if !ok {
		return lv, corrupt(at, "layer %d table out of bounds", lv.ID)
	}
	lv.seed = le.Uint32(th[0:4])
	lv.buckets = int(le.Uint16(th[4:6]))
	lv.n = int(le.Uint16(th[6:8]))
	if lv.n != keyCount {
		return lv, corrupt(at, "layer %d key count %d disagrees with table (%d)", lv.ID, keyCount, lv.n)
	}
	if lv.buckets == 0 {
		return lv, corrupt(at, "layer %d table has no buckets", lv.ID)
	}

	off := tableOff + tableHeaderSize
	if lv.disp, ok = s.span(off, lv.buckets*2); !ok {
		return lv, corrupt(at, "layer %d displacements out of bounds", lv.ID)
	}
	off += lv.buckets * 2
	if lv.keys, ok = s.span(off, lv.n*2); !ok {
		return lv, corrupt(at, "layer %d keys out of bounds", lv.ID)
	}
	off += lv.n * 2
	if lv.offs, ok = s.span(off, lv.n*4); !ok {
		return lv, corrupt(at, "layer %d record offsets out of bounds", lv.ID)
	}
	return lv, nil
}

// Header returns the profile header.
func (s *Store) Header() Header { return s.header }

// Bytes returns the buffer the store was loaded from.
func (s *Store) Bytes() []byte { return s.data }

// LayerCount returns the number of layer tables, including device overrides.
func (s *Store) LayerCount() int { return len(s.layers) }

// Layer returns the i-th layer table in directory order.
func (s *Store) Layer(i int) LayerView { return s.layers[i] }

// MacroCount returns the number of macro sequences.
func (s *Store) MacroCount() int { return s.nMacros }

// Macro returns the macro with the given sequence ID.
func (s *Store) Macro(seq uint16) (MacroView, bool) {
	lo, hi := 0, s.nMacros
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		entry := s.macros[mid*macroEntrySize:]
		got := le.Uint16(entry[0:2])
		switch {
		case got == seq:
			count := int(le.Uint16(entry[2:4]))
			off := int(le.Uint32(entry[4:8]))
			return MacroView{Seq: seq, steps: s.payload[off : off+count*macroStepSize]}, true
		case got < seq:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return MacroView{}, false
}

// Record decodes the mapping record at payload offset off.
//
// Errors are *Error with code ErrCodeMalformedRecord; they affect only the
// key that references the record.
func (s *Store) Record(off uint32) (ir.Mapping, error) {
	head, ok := s.span(int(off), recordSize)
	if !ok {
		return ir.Mapping{}, malformed(int(off), "record out of bounds")
	}
	if ir.Kind(head[0]) != ir.KindTapHold {
		a, err := decodeAction(head, int(off))
		if err != nil {
			return ir.Mapping{}, err
		}
		return ir.Mapping{Action: a}, nil
	}

	rec, ok := s.span(int(off), tapHoldRecordSize)
	if !ok {
		return ir.Mapping{}, malformed(int(off), "tap-hold record truncated")
	}
	policy := ir.Policy(rec[1])
	if policy != ir.TimeoutOnly && policy != ir.ResolveOnInterrupt {
		return ir.Mapping{}, malformed(int(off), "unknown tap-hold policy %d", rec[1])
	}
	m := ir.Mapping{
		Action:    ir.Action{Kind: ir.KindTapHold},
		TimeoutMs: le.Uint16(rec[2:4]),
		Policy:    policy,
	}
	var err error
	if m.Tap, err = s.branch(le.Uint32(rec[4:8])); err != nil {
		return ir.Mapping{}, err
	}
	if m.Hold, err = s.branch(le.Uint32(rec[8:12])); err != nil {
		return ir.Mapping{}, err
	}
	return m, nil
}

func (s *Store) branch(off uint32) (ir.Action, error) {
	rec, ok := s.span(int(off), recordSize)
	if !ok {
		return ir.Action{}, malformed(int(off), "tap-hold branch out of bounds")
	}
	if ir.Kind(rec[0]) == ir.KindTapHold {
		return ir.Action{}, malformed(int(off), "nested tap-hold")
	}
	return decodeAction(rec, int(off))
}

func decodeAction(rec []byte, off int) (ir.Action, error) {
	a := ir.Action{Kind: ir.Kind(rec[0])}
	b := le.Uint16(rec[2:4])
	switch a.Kind {
	case ir.KindSimple:
		a.Key = ir.KeyCode(b)
	case ir.KindModifier, ir.KindLock:
		a.ID = rec[1]
	case ir.KindLayerSwitch:
		a.ID = rec[1]
		a.Mode = ir.LayerMode(b)
	case ir.KindMacro:
		a.Seq = b
	default:
		return ir.Action{}, malformed(off, "unknown mapping tag %d", rec[0])
	}
	if !a.Valid() {
		return ir.Action{}, malformed(off, "invalid %s record", a.Kind)
	}
	return a, nil
}

// KeyCount returns the number of keys mapped in the layer.
func (l LayerView) KeyCount() int { return l.n }

// Global reports whether the layer applies to every device.
func (l LayerView) Global() bool { return l.Device == "" }

// Lookup returns the record offset for key, or false when key is not mapped
// in this layer.
func (l LayerView) Lookup(key ir.KeyCode) (uint32, bool) {
	slot, ok := l.SlotOf(key)
	if !ok {
		return 0, false
	}
	return le.Uint32(l.offs[slot*4:]), true
}

// SlotOf returns the slot holding key, or false when key is not mapped.
// Slots are dense in [0, KeyCount()).
func (l LayerView) SlotOf(key ir.KeyCode) (int, bool) {
	if l.n == 0 {
		return 0, false
	}
	k := uint16(key)
	b := mphf.Bucket(l.seed, l.buckets, k)
	d := le.Uint16(l.disp[b*2:])
	slot := mphf.Slot(l.seed, d, l.n, k)
	return slot, le.Uint16(l.keys[slot*2:]) == k
}

// Slot returns the key and record offset stored in slot i, for iteration.
func (l LayerView) Slot(i int) (ir.KeyCode, uint32) {
	return ir.KeyCode(le.Uint16(l.keys[i*2:])), le.Uint32(l.offs[i*4:])
}

// Len returns the number of steps.
func (m MacroView) Len() int { return len(m.steps) / macroStepSize }

// Step returns step i.
func (m MacroView) Step(i int) ir.MacroStep {
	st := m.steps[i*macroStepSize : (i+1)*macroStepSize]
	return ir.MacroStep{
		Key:     ir.KeyCode(le.Uint16(st[0:2])),
		Edge:    ir.Edge(st[2]),
		DelayMs: le.Uint32(st[4:8]),
	}
}
