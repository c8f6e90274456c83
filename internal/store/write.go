package store

import (
	"context"
	"fmt"

	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/ir"
)

// Recording is the metadata of one recorded run.
type Recording struct {
	ID                 string
	Seq                int64
	Name               string
	Profile            []byte
	ProfileChecksum    string
	FormatVersion      string
	EngineVersion      string
	InterruptOnRelease bool
	Devices            map[ir.DeviceID]string
	Digest             string
	Steps              int
	Outputs            int
}

// WriteRecording stores rec together with the steps and outputs of frames.
//
// rec.ID must be set by the caller (see IDGenerator). Seq, Digest, Steps and
// Outputs are computed here and returned in the stored copy. Everything is
// written in one transaction: either the whole recording is stored or
// nothing is.
func (s *Store) WriteRecording(ctx context.Context, rec Recording, frames []engine.Frame) (Recording, error) {
	if rec.ID == "" {
		return Recording{}, fmt.Errorf("recording ID is required")
	}
	if len(rec.Profile) == 0 {
		return Recording{}, fmt.Errorf("recording %s: profile is required", rec.ID)
	}
	if rec.EngineVersion == "" {
		rec.EngineVersion = ir.EngineVersion
	}

	outputs := engine.Outputs(frames)
	rec.Digest = Digest(outputs)
	rec.Steps = len(frames)
	rec.Outputs = len(outputs)

	devices, err := marshalDevices(rec.Devices)
	if err != nil {
		return Recording{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Recording{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM recordings`,
	).Scan(&rec.Seq); err != nil {
		return Recording{}, fmt.Errorf("next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recordings (id, seq, name, profile, profile_checksum,
			format_version, engine_version, interrupt_on_release, devices, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Seq, rec.Name, rec.Profile, rec.ProfileChecksum,
		rec.FormatVersion, rec.EngineVersion, boolToInt(rec.InterruptOnRelease),
		devices, rec.Digest)
	if err != nil {
		return Recording{}, fmt.Errorf("insert recording %s: %w", rec.ID, err)
	}

	stepStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO input_steps (recording_id, seq, kind, device, key_code, edge, time_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return Recording{}, fmt.Errorf("prepare step insert: %w", err)
	}
	defer stepStmt.Close()

	outStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO output_events (recording_id, seq, step_seq, kind, device, key_code, state_id, edge, time_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return Recording{}, fmt.Errorf("prepare output insert: %w", err)
	}
	defer outStmt.Close()

	outSeq := 0
	for i, f := range frames {
		st := f.Step
		if _, err := stepStmt.ExecContext(ctx, rec.ID, i,
			int(st.Kind), int(st.Event.Device), int(st.Event.Key), int(st.Event.Edge), int64(st.Time),
		); err != nil {
			return Recording{}, fmt.Errorf("insert step %d: %w", i, err)
		}
		for _, o := range f.Output {
			if _, err := outStmt.ExecContext(ctx, rec.ID, outSeq, i,
				int(o.Kind), int(o.Device), int(o.Key), int(o.ID), int(o.Edge), int64(o.Time),
			); err != nil {
				return Recording{}, fmt.Errorf("insert output %d: %w", outSeq, err)
			}
			outSeq++
		}
	}

	if err := tx.Commit(); err != nil {
		return Recording{}, fmt.Errorf("commit recording %s: %w", rec.ID, err)
	}
	return rec, nil
}

// DeleteRecording removes a recording and everything recorded with it.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete recording %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete recording %s: %w", id, ErrNotFound)
	}
	return nil
}
