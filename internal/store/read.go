package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/ir"
)

// RecordedOutput is one stored output event and the step that produced it.
type RecordedOutput struct {
	Step  int
	Event ir.OutputEvent
}

const recordingColumns = `
	r.id, r.seq, r.name, r.profile, r.profile_checksum, r.format_version,
	r.engine_version, r.interrupt_on_release, r.devices, r.digest,
	(SELECT COUNT(*) FROM input_steps s WHERE s.recording_id = r.id),
	(SELECT COUNT(*) FROM output_events o WHERE o.recording_id = r.id)
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (Recording, error) {
	var (
		rec     Recording
		ior     int
		devices string
	)
	if err := row.Scan(&rec.ID, &rec.Seq, &rec.Name, &rec.Profile, &rec.ProfileChecksum,
		&rec.FormatVersion, &rec.EngineVersion, &ior, &devices, &rec.Digest,
		&rec.Steps, &rec.Outputs); err != nil {
		return Recording{}, err
	}
	rec.InterruptOnRelease = ior != 0
	d, err := unmarshalDevices(devices)
	if err != nil {
		return Recording{}, fmt.Errorf("recording %s: %w", rec.ID, err)
	}
	rec.Devices = d
	return rec, nil
}

// ReadRecording returns the recording with the given ID.
// Returns an error wrapping ErrNotFound if it does not exist.
func (s *Store) ReadRecording(ctx context.Context, id string) (Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings r WHERE r.id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Recording{}, fmt.Errorf("read recording %s: %w", id, err)
	}
	return rec, nil
}

// ListRecordings returns the recordings matching every predicate in where,
// in write order. With no predicates every recording is returned.
// Profile bytes are included; recordings are small enough that this is fine
// for listing.
func (s *Store) ListRecordings(ctx context.Context, where ...Predicate) ([]Recording, error) {
	query, params, err := compileListQuery(where)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var recs []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings: %w", err)
	}
	return recs, nil
}

// ReadSteps returns the input steps of a recording in order.
func (s *Store) ReadSteps(ctx context.Context, id string) ([]engine.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, device, key_code, edge, time_us
		FROM input_steps
		WHERE recording_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("read steps %s: %w", id, err)
	}
	defer rows.Close()

	var steps []engine.Step
	for rows.Next() {
		var (
			kind, device, key, edge int
			t                       int64
		)
		if err := rows.Scan(&kind, &device, &key, &edge, &t); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if engine.StepKind(kind) == engine.StepTick {
			steps = append(steps, engine.TickStep(ir.Timestamp(t)))
			continue
		}
		steps = append(steps, engine.EventStep(ir.RawEvent{
			Device: ir.DeviceID(device),
			Key:    ir.KeyCode(key),
			Edge:   ir.Edge(edge),
			Time:   ir.Timestamp(t),
		}))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// ReadOutputs returns the recorded output events in emission order.
func (s *Store) ReadOutputs(ctx context.Context, id string) ([]RecordedOutput, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_seq, kind, device, key_code, state_id, edge, time_us
		FROM output_events
		WHERE recording_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("read outputs %s: %w", id, err)
	}
	defer rows.Close()

	var outs []RecordedOutput
	for rows.Next() {
		var (
			step, kind, device, key, stateID, edge int
			t                                      int64
		)
		if err := rows.Scan(&step, &kind, &device, &key, &stateID, &edge, &t); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		outs = append(outs, RecordedOutput{
			Step: step,
			Event: ir.OutputEvent{
				Kind:   ir.OutputKind(kind),
				Device: ir.DeviceID(device),
				Key:    ir.KeyCode(key),
				ID:     uint8(stateID),
				Edge:   ir.Edge(edge),
				Time:   ir.Timestamp(t),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}
	return outs, nil
}
