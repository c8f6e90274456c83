package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keyrx/internal/ir"
)

const (
	keyA     ir.KeyCode = 30
	keyB     ir.KeyCode = 48
	keyF     ir.KeyCode = 33
	keyJ     ir.KeyCode = 36
	keySpace ir.KeyCode = 57
	keyCaps  ir.KeyCode = 58
	keyLeft  ir.KeyCode = 105
)

func testSource() *Source {
	return &Source{
		Layers: []SourceLayer{
			{
				ID: 1,
				Entries: []Entry{
					{Key: keyJ, Mapping: ir.Simple(keyLeft)},
				},
			},
			{
				ID: 0,
				Entries: []Entry{
					{Key: keyA, Mapping: ir.Simple(keyB)},
					{Key: keyCaps, Mapping: ir.Modifier(3)},
					{Key: keySpace, Mapping: ir.LayerSwitch(1, ir.Momentary)},
					{Key: keyF, Mapping: ir.TapHold(
						ir.Action{Kind: ir.KindSimple, Key: keyF},
						ir.Action{Kind: ir.KindModifier, ID: 1},
						200, ir.ResolveOnInterrupt)},
					{Key: 59, Mapping: ir.Macro(7)},
					{Key: 70, Mapping: ir.Lock(2)},
				},
			},
			{
				ID:     0,
				Device: "*Keychron*",
				Entries: []Entry{
					{Key: keyA, Mapping: ir.Simple(keyF)},
				},
			},
		},
		Macros: []SourceMacro{
			{Seq: 9, Steps: []ir.MacroStep{{Key: keyA, Edge: ir.Press}}},
			{Seq: 7, Steps: []ir.MacroStep{
				{Key: keyA, Edge: ir.Press},
				{Key: keyA, Edge: ir.Release, DelayMs: 5},
			}},
		},
	}
}

func encodeTest(t *testing.T) []byte {
	t.Helper()
	data, err := Encode(testSource())
	require.NoError(t, err)
	return data
}

func findLayer(t *testing.T, s *Store, id ir.LayerID, device string) LayerView {
	t.Helper()
	for i := 0; i < s.LayerCount(); i++ {
		l := s.Layer(i)
		if l.ID == id && l.Device == device {
			return l
		}
	}
	t.Fatalf("layer %d (device %q) not found", id, device)
	return LayerView{}
}

func TestEncodeLoadRoundTrip(t *testing.T) {
	s, err := Load(encodeTest(t))
	require.NoError(t, err)

	h := s.Header()
	assert.Equal(t, Magic, h.Magic)
	assert.Equal(t, "1.0", h.VersionString())
	assert.Equal(t, 3, s.LayerCount())
	assert.Equal(t, 2, s.MacroCount())

	base := findLayer(t, s, 0, "")
	assert.True(t, base.Global())
	assert.Equal(t, 6, base.KeyCount())

	tests := []struct {
		key  ir.KeyCode
		want ir.Mapping
	}{
		{keyA, ir.Simple(keyB)},
		{keyCaps, ir.Modifier(3)},
		{keySpace, ir.LayerSwitch(1, ir.Momentary)},
		{keyF, ir.TapHold(ir.Action{Kind: ir.KindSimple, Key: keyF}, ir.Action{Kind: ir.KindModifier, ID: 1}, 200, ir.ResolveOnInterrupt)},
		{59, ir.Macro(7)},
		{70, ir.Lock(2)},
	}
	for _, tt := range tests {
		off, ok := base.Lookup(tt.key)
		require.True(t, ok, "key %d", tt.key)
		m, err := s.Record(off)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m, "key %d", tt.key)
	}

	_, ok := base.Lookup(keyJ)
	assert.False(t, ok, "unmapped key must miss")

	override := findLayer(t, s, 0, "*Keychron*")
	assert.False(t, override.Global())
	off, ok := override.Lookup(keyA)
	require.True(t, ok)
	m, err := s.Record(off)
	require.NoError(t, err)
	assert.Equal(t, ir.Simple(keyF), m)
}

func TestMacroLookup(t *testing.T) {
	s, err := Load(encodeTest(t))
	require.NoError(t, err)

	mv, ok := s.Macro(7)
	require.True(t, ok)
	require.Equal(t, 2, mv.Len())
	assert.Equal(t, ir.MacroStep{Key: keyA, Edge: ir.Press}, mv.Step(0))
	assert.Equal(t, ir.MacroStep{Key: keyA, Edge: ir.Release, DelayMs: 5}, mv.Step(1))

	_, ok = s.Macro(9)
	assert.True(t, ok)
	_, ok = s.Macro(8)
	assert.False(t, ok)
}

func TestLoadRejectsCorruptProfiles(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"empty", func(b []byte) []byte { return nil }},
		{"short header", func(b []byte) []byte { return b[:HeaderSize-1] }},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"checksum mismatch", func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b }},
		{"trailing bytes", func(b []byte) []byte { return append(b, 0) }},
		{"truncated payload", func(b []byte) []byte { return b[:len(b)-3] }},
		{"layer directory out of bounds", func(b []byte) []byte {
			le.PutUint16(b[HeaderSize:], 0xFFFF)
			require.NoError(t, Seal(b))
			return b
		}},
		{"unknown layer scope", func(b []byte) []byte {
			b[HeaderSize+payloadHeaderSize+1] = 9
			require.NoError(t, Seal(b))
			return b
		}},
		{"table offset out of bounds", func(b []byte) []byte {
			le.PutUint32(b[HeaderSize+payloadHeaderSize+8:], 0xFFFFFF)
			require.NoError(t, Seal(b))
			return b
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.mutate(encodeTest(t)))
			require.Error(t, err)
			assert.True(t, IsCorrupt(err), "got %v", err)
			assert.False(t, IsVersionMismatch(err))
		})
	}
}

func TestLoadVersionCheck(t *testing.T) {
	tests := []struct {
		name    string
		version uint32
		ok      bool
	}{
		{"current", ir.CurrentFormatVersion, true},
		{"newer minor", ir.FormatVersion(1, 5), true},
		{"next major", ir.FormatVersion(2, 0), false},
		{"zero", ir.FormatVersion(0, 9), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encodeTest(t)
			le.PutUint32(data[4:8], tt.version)

			_, err := Load(data)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsVersionMismatch(err), "got %v", err)
		})
	}
}

func TestRecordMalformed(t *testing.T) {
	data := encodeTest(t)
	s, err := Load(data)
	require.NoError(t, err)
	base := findLayer(t, s, 0, "")

	off, ok := base.Lookup(keyA)
	require.True(t, ok)
	data[HeaderSize+int(off)] = 0xEE
	require.NoError(t, Seal(data))

	s, err = Load(data)
	require.NoError(t, err, "a bad record must not fail the whole profile")
	base = findLayer(t, s, 0, "")

	_, err = s.Record(off)
	require.Error(t, err)
	assert.True(t, IsMalformedRecord(err))

	// Other keys still decode.
	capsOff, ok := base.Lookup(keyCaps)
	require.True(t, ok)
	m, err := s.Record(capsOff)
	require.NoError(t, err)
	assert.Equal(t, ir.Modifier(3), m)

	_, err = s.Record(uint32(len(data)))
	assert.True(t, IsMalformedRecord(err), "out-of-bounds offset")
}

func TestRecordRejectsNestedTapHold(t *testing.T) {
	src := &Source{Layers: []SourceLayer{{
		ID: 0,
		Entries: []Entry{{Key: keyA, Mapping: ir.TapHold(
			ir.Action{Kind: ir.KindTapHold},
			ir.Action{Kind: ir.KindModifier, ID: 1},
			200, ir.TimeoutOnly)}},
	}}}
	data, err := Encode(src)
	require.NoError(t, err)
	s, err := Load(data)
	require.NoError(t, err)

	off, ok := s.Layer(0).Lookup(keyA)
	require.True(t, ok)
	_, err = s.Record(off)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested tap-hold")
}

func TestRecordRejectsReservedModifierID(t *testing.T) {
	src := &Source{Layers: []SourceLayer{{
		ID:      0,
		Entries: []Entry{{Key: keyA, Mapping: ir.Modifier(255)}},
	}}}
	data, err := Encode(src)
	require.NoError(t, err)
	s, err := Load(data)
	require.NoError(t, err)

	off, ok := s.Layer(0).Lookup(keyA)
	require.True(t, ok)
	_, err = s.Record(off)
	assert.True(t, IsMalformedRecord(err))
}

func TestEncodeRejectsDuplicates(t *testing.T) {
	_, err := Encode(&Source{Layers: []SourceLayer{{
		ID: 0,
		Entries: []Entry{
			{Key: keyA, Mapping: ir.Simple(keyB)},
			{Key: keyA, Mapping: ir.Simple(keyF)},
		},
	}}})
	assert.Error(t, err)

	_, err = Encode(&Source{Layers: []SourceLayer{{ID: 2}, {ID: 2}}})
	assert.Error(t, err)

	_, err = Encode(&Source{Macros: []SourceMacro{{Seq: 1}, {Seq: 1}}})
	assert.Error(t, err)
}

func TestEncodeDeterministic(t *testing.T) {
	a := encodeTest(t)
	b := encodeTest(t)
	assert.Equal(t, a, b)
}

func TestEmptyLayer(t *testing.T) {
	data, err := Encode(&Source{Layers: []SourceLayer{{ID: 0}}})
	require.NoError(t, err)
	s, err := Load(data)
	require.NoError(t, err)

	_, ok := s.Layer(0).Lookup(keyA)
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.krx")
	require.NoError(t, os.WriteFile(path, encodeTest(t), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, s.LayerCount())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.krx"))
	assert.Error(t, err)
}

func TestLookupDoesNotAllocate(t *testing.T) {
	s, err := Load(encodeTest(t))
	require.NoError(t, err)
	base := findLayer(t, s, 0, "")

	allocs := testing.AllocsPerRun(1000, func() {
		off, _ := base.Lookup(keyA)
		_, _ = s.Record(off)
	})
	assert.Zero(t, allocs)
}
