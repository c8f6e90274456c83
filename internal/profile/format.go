package profile

import (
	"encoding/binary"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/roach88/keyrx/internal/ir"
)

// Magic identifies a keyrx profile.
var Magic = [4]byte{'K', 'R', 'X', '\n'}

// Fixed sizes of the format's building blocks.
const (
	HeaderSize        = 48
	payloadHeaderSize = 8
	layerEntrySize    = 16
	macroEntrySize    = 8
	tableHeaderSize   = 8
	macroStepSize     = 8
	recordSize        = 4
	tapHoldRecordSize = 12
)

// Layer scopes.
const (
	scopeGlobal = 0
	scopeDevice = 1
)

var le = binary.LittleEndian

var supported = func() *semver.Constraints {
	c, err := semver.NewConstraint(ir.SupportedFormats)
	if err != nil {
		panic(fmt.Sprintf("profile: bad supported format constraint: %v", err))
	}
	return c
}()

// Header is the fixed-size profile header.
type Header struct {
	Magic      [4]byte
	Version    uint32
	Flags      uint32
	PayloadLen uint32
	Checksum   [32]byte
}

// Major returns the format major version.
func (h Header) Major() uint16 { return uint16(h.Version >> 16) }

// Minor returns the format minor version.
func (h Header) Minor() uint16 { return uint16(h.Version) }

// VersionString renders the format version as "major.minor".
func (h Header) VersionString() string {
	return fmt.Sprintf("%d.%d", h.Major(), h.Minor())
}

func parseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, corrupt(0, "buffer too short for header: %d < %d bytes", len(data), HeaderSize)
	}
	copy(h.Magic[:], data[0:4])
	h.Version = le.Uint32(data[4:8])
	h.Flags = le.Uint32(data[8:12])
	h.PayloadLen = le.Uint32(data[12:16])
	copy(h.Checksum[:], data[16:48])
	return h, nil
}

func putHeader(dst []byte, h Header) {
	copy(dst[0:4], h.Magic[:])
	le.PutUint32(dst[4:8], h.Version)
	le.PutUint32(dst[8:12], h.Flags)
	le.PutUint32(dst[12:16], h.PayloadLen)
	copy(dst[16:48], h.Checksum[:])
}

// checkVersion reports whether this build can read format version v.
func checkVersion(v uint32) error {
	sv := semver.New(uint64(v>>16), uint64(v&0xFFFF), 0, "", "")
	if !supported.Check(sv) {
		return &Error{
			Code:    ErrCodeVersionMismatch,
			Message: fmt.Sprintf("format version %d.%d not in supported range %s", v>>16, v&0xFFFF, ir.SupportedFormats),
			Offset:  4,
		}
	}
	return nil
}

// Seal rewrites the payload length and checksum of an encoded profile in
// place. Encode calls it last; tools that patch payload bytes use it to
// produce a profile that passes the integrity checks.
func Seal(data []byte) error {
	if len(data) < HeaderSize {
		return corrupt(0, "buffer too short for header: %d < %d bytes", len(data), HeaderSize)
	}
	payload := data[HeaderSize:]
	le.PutUint32(data[12:16], uint32(len(payload)))
	sum := ir.ProfileChecksum(payload)
	copy(data[16:48], sum[:])
	return nil
}
