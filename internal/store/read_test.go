package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/ir"
)

func TestReadRecording_RoundTripsMetadata(t *testing.T) {
	s := createTestStore(t)
	data := homeRowProfile(t)
	written, _ := recordRun(t, s, "rec-1", data)

	got, err := s.ReadRecording(context.Background(), "rec-1")
	require.NoError(t, err)

	assert.Equal(t, written, got)
	assert.Equal(t, data, got.Profile)
	assert.Equal(t, map[ir.DeviceID]string{0: "Keychron K2"}, got.Devices)
}

func TestReadRecording_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadRecording(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRecordings_WriteOrder(t *testing.T) {
	s := createTestStore(t)
	data := homeRowProfile(t)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		recordRun(t, s, id, data)
	}

	recs, err := s.ListRecordings(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, ids)
}

func TestListRecordings_Empty(t *testing.T) {
	s := createTestStore(t)

	recs, err := s.ListRecordings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReadSteps_PreservesKindsAndOrder(t *testing.T) {
	s := createTestStore(t)
	recordRun(t, s, "rec-1", homeRowProfile(t))

	steps, err := s.ReadSteps(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, testSteps(), steps)
}

func TestReadOutputs_TaggedWithStep(t *testing.T) {
	s := createTestStore(t)
	_, frames := recordRun(t, s, "rec-1", homeRowProfile(t))

	outs, err := s.ReadOutputs(context.Background(), "rec-1")
	require.NoError(t, err)

	var events []ir.OutputEvent
	for _, o := range outs {
		require.Less(t, o.Step, len(frames))
		assert.Contains(t, frames[o.Step].Output, o.Event)
		events = append(events, o.Event)
	}
	assert.Equal(t, engine.Outputs(frames), events)
}
