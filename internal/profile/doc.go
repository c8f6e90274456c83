// Package profile implements the compiled profile binary format: loading,
// validation, zero-copy access, and encoding.
//
// # Layout
//
// All integers are little endian. Offsets inside the payload are relative to
// the first payload byte.
//
//	header (48 bytes)
//	  magic        [4]byte  "KRX\n"
//	  version      u32      major<<16 | minor
//	  flags        u32
//	  payload_len  u32
//	  checksum     [32]byte SHA-256("keyrx/profile/v1" 0x00 payload)
//	payload
//	  layer_count  u16
//	  macro_count  u16
//	  reserved     u32
//	  layer dir    16 bytes each: id u8, scope u8, key_count u16,
//	               device_off u32, table_off u32, reserved u32
//	  macro dir    8 bytes each, sorted by seq: seq u16, step_count u16, steps_off u32
//	  data         device strings (u16 len + bytes), layer tables, macro steps, records
//
// A layer table is {seed u32, bucket_count u16, key_count u16} followed by
// bucket_count u16 displacements, key_count u16 keys in slot order, and
// key_count u32 record offsets in slot order (see package mphf).
//
// Mapping records are 4 bytes {tag u8, a u8, b u16} for every kind except
// tap/hold, which is 12 bytes {tag u8, policy u8, timeout_ms u16,
// tap_off u32, hold_off u32}; the branch offsets point at 4-byte records.
//
// # Validation
//
// Load checks everything structural: magic, version, length, checksum, and
// that every directory, device string, layer table and macro step array lies
// inside the payload. Individual mapping records are decoded lazily by
// Record, which reports malformed records without failing the whole profile.
package profile
