package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/roach88/keyrx/internal/ir"
)

// outputRecordSize is the encoded size of one output event:
// kind u8, device u16, key u16, id u8, edge u8, time u64.
const outputRecordSize = 15

// EncodeOutputs encodes events in the fixed little-endian layout the
// recording digest is computed over. The layout never changes within a
// digest domain version.
func EncodeOutputs(events []ir.OutputEvent) []byte {
	buf := make([]byte, 0, len(events)*outputRecordSize)
	for _, e := range events {
		buf = append(buf, uint8(e.Kind))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(e.Device))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(e.Key))
		buf = append(buf, e.ID, uint8(e.Edge))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Time))
	}
	return buf
}

// Digest returns the recording digest of an output stream.
func Digest(events []ir.OutputEvent) string {
	return ir.RecordingDigest(EncodeOutputs(events))
}

// marshalDevices encodes device bindings as a JSON object keyed by device ID.
// encoding/json sorts map keys, so the text is deterministic.
func marshalDevices(devices map[ir.DeviceID]string) (string, error) {
	if len(devices) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(devices)
	if err != nil {
		return "", fmt.Errorf("marshal devices: %w", err)
	}
	return string(data), nil
}

func unmarshalDevices(text string) (map[ir.DeviceID]string, error) {
	devices := make(map[ir.DeviceID]string)
	if text == "" {
		return devices, nil
	}
	if err := json.Unmarshal([]byte(text), &devices); err != nil {
		return nil, fmt.Errorf("unmarshal devices: %w", err)
	}
	return devices, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
