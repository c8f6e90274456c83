package profile

import (
	"fmt"
	"sort"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/mphf"
)

// Source is the resolved input to Encode.
type Source struct {
	Layers []SourceLayer
	Macros []SourceMacro
}

// SourceLayer is one layer table to encode.
type SourceLayer struct {
	ID      ir.LayerID
	Device  string
	Entries []Entry
}

// Entry binds a physical key to a mapping.
type Entry struct {
	Key     ir.KeyCode
	Mapping ir.Mapping
}

// SourceMacro is one macro sequence to encode.
type SourceMacro struct {
	Seq   uint16
	Steps []ir.MacroStep
}

// Encode writes src in the profile binary format.
//
// Encode checks only what the format itself requires (unique keys per layer,
// unique layers and macros, sizes that fit their fields). Semantic checks
// such as dangling layer references belong to the compiler. Mappings are
// written as given, so a caller can produce records the loader will report
// as malformed.
func Encode(src *Source) ([]byte, error) {
	layers := make([]SourceLayer, len(src.Layers))
	copy(layers, src.Layers)
	sort.SliceStable(layers, func(i, j int) bool {
		if layers[i].ID != layers[j].ID {
			return layers[i].ID < layers[j].ID
		}
		return layers[i].Device < layers[j].Device
	})
	macros := make([]SourceMacro, len(src.Macros))
	copy(macros, src.Macros)
	sort.SliceStable(macros, func(i, j int) bool { return macros[i].Seq < macros[j].Seq })

	if len(layers) > 0xFFFF || len(macros) > 0xFFFF {
		return nil, fmt.Errorf("profile: too many layers (%d) or macros (%d)", len(layers), len(macros))
	}
	for i := 1; i < len(layers); i++ {
		if layers[i].ID == layers[i-1].ID && layers[i].Device == layers[i-1].Device {
			return nil, fmt.Errorf("profile: duplicate layer %d (device %q)", layers[i].ID, layers[i].Device)
		}
	}
	for i := 1; i < len(macros); i++ {
		if macros[i].Seq == macros[i-1].Seq {
			return nil, fmt.Errorf("profile: duplicate macro %d", macros[i].Seq)
		}
	}

	w := &writer{buf: make([]byte, HeaderSize, 4096)}
	w.u16(uint16(len(layers)))
	w.u16(uint16(len(macros)))
	w.u32(0)
	layerDir := w.reserve(len(layers) * layerEntrySize)
	macroDir := w.reserve(len(macros) * macroEntrySize)

	for i, l := range layers {
		entry := layerDir + i*layerEntrySize
		if err := w.layer(entry, l); err != nil {
			return nil, err
		}
	}

	for i, m := range macros {
		if len(m.Steps) > 0xFFFF {
			return nil, fmt.Errorf("profile: macro %d has too many steps (%d)", m.Seq, len(m.Steps))
		}
		stepsOff := w.off()
		for _, st := range m.Steps {
			w.u16(uint16(st.Key))
			w.u8(uint8(st.Edge))
			w.u8(0)
			w.u32(st.DelayMs)
		}
		entry := w.at(macroDir + i*macroEntrySize)
		le.PutUint16(entry[0:2], m.Seq)
		le.PutUint16(entry[2:4], uint16(len(m.Steps)))
		le.PutUint32(entry[4:8], uint32(stepsOff))
	}

	putHeader(w.buf[:HeaderSize], Header{Magic: Magic, Version: ir.CurrentFormatVersion})
	if err := Seal(w.buf); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// writer appends to a buffer whose payload starts at HeaderSize.
type writer struct {
	buf []byte
}

// off returns the current payload offset.
func (w *writer) off() int { return len(w.buf) - HeaderSize }

// at returns the payload bytes starting at payload offset off.
func (w *writer) at(off int) []byte { return w.buf[HeaderSize+off:] }

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u16(v uint16) { w.buf = le.AppendUint16(w.buf, v) }

func (w *writer) u32(v uint32) { w.buf = le.AppendUint32(w.buf, v) }

// reserve appends n zero bytes and returns their payload offset.
func (w *writer) reserve(n int) int {
	off := w.off()
	w.buf = append(w.buf, make([]byte, n)...)
	return off
}

func (w *writer) layer(entryOff int, l SourceLayer) error {
	keys := make([]uint16, len(l.Entries))
	byKey := make(map[uint16]ir.Mapping, len(l.Entries))
	for i, e := range l.Entries {
		keys[i] = uint16(e.Key)
		byKey[uint16(e.Key)] = e.Mapping
	}
	table, err := mphf.Build(keys)
	if err != nil {
		return fmt.Errorf("profile: layer %d (device %q): %w", l.ID, l.Device, err)
	}

	var deviceOff int
	scope := uint8(scopeGlobal)
	if l.Device != "" {
		if len(l.Device) > 0xFFFF {
			return fmt.Errorf("profile: layer %d device pattern too long", l.ID)
		}
		scope = scopeDevice
		deviceOff = w.off()
		w.u16(uint16(len(l.Device)))
		w.buf = append(w.buf, l.Device...)
	}

	// Records first so the table can reference their offsets.
	recOffs := make([]uint32, len(table.Keys))
	for slot, k := range table.Keys {
		recOffs[slot] = uint32(w.record(byKey[k]))
	}

	tableOff := w.off()
	w.u32(table.Seed)
	w.u16(uint16(len(table.Displacements)))
	w.u16(uint16(len(table.Keys)))
	for _, d := range table.Displacements {
		w.u16(d)
	}
	for _, k := range table.Keys {
		w.u16(k)
	}
	for _, off := range recOffs {
		w.u32(off)
	}

	entry := w.at(entryOff)
	entry[0] = uint8(l.ID)
	entry[1] = scope
	le.PutUint16(entry[2:4], uint16(len(table.Keys)))
	le.PutUint32(entry[4:8], uint32(deviceOff))
	le.PutUint32(entry[8:12], uint32(tableOff))
	return nil
}

// record writes m and returns its payload offset.
func (w *writer) record(m ir.Mapping) int {
	if m.Kind != ir.KindTapHold {
		return w.action(m.Action)
	}
	tap := w.action(m.Tap)
	hold := w.action(m.Hold)
	off := w.off()
	w.u8(uint8(ir.KindTapHold))
	w.u8(uint8(m.Policy))
	w.u16(m.TimeoutMs)
	w.u32(uint32(tap))
	w.u32(uint32(hold))
	return off
}

func (w *writer) action(a ir.Action) int {
	off := w.off()
	w.u8(uint8(a.Kind))
	switch a.Kind {
	case ir.KindSimple:
		w.u8(0)
		w.u16(uint16(a.Key))
	case ir.KindLayerSwitch:
		w.u8(a.ID)
		w.u16(uint16(a.Mode))
	case ir.KindMacro:
		w.u8(0)
		w.u16(a.Seq)
	default:
		w.u8(a.ID)
		w.u16(0)
	}
	return off
}
