package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keys"
)

// InputError reports a malformed line of an event script.
type InputError struct {
	Line    int
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// inputLine is one parsed command of an event script.
type inputLine struct {
	tick  bool
	event ir.RawEvent
}

// ParseScript reads an event script, one command per line:
//
//	<time> press <key> [dev=N]
//	<time> release <key> [dev=N]
//	<time> tick
//
// Times are milliseconds unless suffixed with "us" (or "ms"). They must not
// decrease. Blank lines and lines starting with '#' are skipped.
func ParseScript(r io.Reader) ([]engine.Step, error) {
	var (
		steps []engine.Step
		last  ir.Timestamp
		n     int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		n++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		t, err := parseTime(fields[0])
		if err != nil {
			return nil, &InputError{Line: n, Message: err.Error()}
		}
		if t < last {
			return nil, &InputError{Line: n, Message: fmt.Sprintf("time %s is before %s", fields[0], formatMicros(last))}
		}
		last = t

		in, err := parseCommand(fields[1:])
		if err != nil {
			return nil, &InputError{Line: n, Message: err.Error()}
		}
		if in.tick {
			steps = append(steps, engine.TickStep(t))
			continue
		}
		in.event.Time = t
		steps = append(steps, engine.EventStep(in.event))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return steps, nil
}

// parseCommand parses the part of a line after the time:
// "tick", or "press|release <key> [dev=N]".
func parseCommand(fields []string) (inputLine, error) {
	if len(fields) == 0 {
		return inputLine{}, fmt.Errorf("missing command")
	}
	var in inputLine
	switch strings.ToLower(fields[0]) {
	case "tick":
		if len(fields) != 1 {
			return inputLine{}, fmt.Errorf("tick takes no arguments")
		}
		in.tick = true
		return in, nil
	case "press", "down":
		in.event.Edge = ir.Press
	case "release", "up":
		in.event.Edge = ir.Release
	default:
		return inputLine{}, fmt.Errorf("unknown command %q (want press, release or tick)", fields[0])
	}

	if len(fields) < 2 || len(fields) > 3 {
		return inputLine{}, fmt.Errorf("usage: %s <key> [dev=N]", fields[0])
	}
	key, err := keys.Parse(fields[1])
	if err != nil {
		return inputLine{}, err
	}
	in.event.Key = key
	if len(fields) == 3 {
		dev, err := parseDeviceField(fields[2])
		if err != nil {
			return inputLine{}, err
		}
		in.event.Device = dev
	}
	return in, nil
}

func parseDeviceField(s string) (ir.DeviceID, error) {
	v, ok := strings.CutPrefix(s, "dev=")
	if !ok {
		return 0, fmt.Errorf("unexpected %q (want dev=N)", s)
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid device %q", v)
	}
	return ir.DeviceID(n), nil
}

// parseTime parses "120", "120ms" or "120500us" into microseconds.
func parseTime(s string) (ir.Timestamp, error) {
	unit := uint64(1000)
	num := s
	if v, ok := strings.CutSuffix(s, "us"); ok {
		num, unit = v, 1
	} else if v, ok := strings.CutSuffix(s, "ms"); ok {
		num = v
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return ir.Timestamp(n * unit), nil
}

func formatMicros(t ir.Timestamp) string {
	return fmt.Sprintf("%dus", uint64(t))
}

// parseDeviceBindings parses --device values of the form "id=name".
func parseDeviceBindings(values []string) (map[ir.DeviceID]string, error) {
	out := make(map[ir.DeviceID]string, len(values))
	for _, v := range values {
		id, name, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid device binding %q (want id=name)", v)
		}
		n, err := strconv.ParseUint(id, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid device id %q", id)
		}
		out[ir.DeviceID(n)] = name
	}
	return out, nil
}
