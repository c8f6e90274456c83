package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainProfile   = "keyrx/profile/v1"
	DomainRecording = "keyrx/recording/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var sum [32]byte
	h.Sum(sum[:0])
	return sum
}

// ProfileChecksum computes the checksum stored in a profile header.
// It covers the payload only; the header itself is validated field by field.
func ProfileChecksum(payload []byte) [32]byte {
	return hashWithDomain(DomainProfile, payload)
}

// RecordingDigest hashes an encoded output stream so recordings can be
// compared across replays without storing every event twice.
func RecordingDigest(data []byte) string {
	sum := hashWithDomain(DomainRecording, data)
	return hex.EncodeToString(sum[:])
}

// ChecksumHex renders a checksum for display.
func ChecksumHex(sum [32]byte) string {
	return hex.EncodeToString(sum[:])
}
