package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keyindex"
	"github.com/roach88/keyrx/internal/profile"
)

// Layer is shorthand for a global layer source with the given entries.
func Layer(id ir.LayerID, entries ...profile.Entry) profile.SourceLayer {
	return profile.SourceLayer{ID: id, Entries: entries}
}

// DeviceLayer is shorthand for a device-scoped layer source.
func DeviceLayer(id ir.LayerID, pattern string, entries ...profile.Entry) profile.SourceLayer {
	return profile.SourceLayer{ID: id, Device: pattern, Entries: entries}
}

// Map is shorthand for a profile entry.
func Map(key ir.KeyCode, m ir.Mapping) profile.Entry {
	return profile.Entry{Key: key, Mapping: m}
}

// Encode encodes src, failing the test on error.
func Encode(t testing.TB, src *profile.Source) []byte {
	t.Helper()
	data, err := profile.Encode(src)
	require.NoError(t, err)
	return data
}

// Index encodes, loads and indexes src, failing the test on error.
func Index(t testing.TB, src *profile.Source, opts ...keyindex.Option) *keyindex.Index {
	t.Helper()
	st, err := profile.Load(Encode(t, src))
	require.NoError(t, err)
	idx, err := keyindex.Build(st, opts...)
	require.NoError(t, err)
	return idx
}
