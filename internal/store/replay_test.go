package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keyrx/internal/keys"
)

func TestReplay_SameProfileMatches(t *testing.T) {
	s := createTestStore(t)
	data := homeRowProfile(t)
	rec, _ := recordRun(t, s, "rec-1", data)

	res, err := s.Replay(context.Background(), "rec-1", processorFor(t, data))
	require.NoError(t, err)

	assert.True(t, res.Match)
	assert.False(t, res.ProfileMismatch)
	assert.Empty(t, res.Divergences)
	assert.Equal(t, rec.Digest, res.Digest)
	assert.Equal(t, rec.Steps, res.Steps)
	assert.Equal(t, rec.Outputs, res.Outputs)
}

func TestReplay_RestoresDeviceBindings(t *testing.T) {
	s := createTestStore(t)
	data := homeRowProfile(t)
	recordRun(t, s, "rec-1", data)

	p := processorFor(t, data)
	_, err := s.Replay(context.Background(), "rec-1", p)
	require.NoError(t, err)

	name, ok := p.DeviceName(0)
	require.True(t, ok)
	assert.Equal(t, "Keychron K2", name)
}

func TestReplay_DifferentProfileReportsDivergence(t *testing.T) {
	s := createTestStore(t)
	recordRun(t, s, "rec-1", homeRowProfile(t))

	res, err := s.Replay(context.Background(), "rec-1", processorFor(t, altProfile(t)))
	require.NoError(t, err)

	assert.False(t, res.Match)
	assert.True(t, res.ProfileMismatch)
	require.NotEmpty(t, res.Divergences)

	first := res.Divergences[0]
	assert.Equal(t, 0, first.Step)
	require.NotNil(t, first.Want)
	require.NotNil(t, first.Got)
	assert.Equal(t, keys.B, first.Want.Key)
	assert.Equal(t, keys.C, first.Got.Key)
	assert.Contains(t, first.String(), "step 0 #0")
}

func TestReplay_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Replay(context.Background(), "missing", processorFor(t, homeRowProfile(t)))
	assert.ErrorIs(t, err, ErrNotFound)
}
