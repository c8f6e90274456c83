package ir

// Version constants for the profile format and engine.
const (
	// FormatMajor and FormatMinor identify the profile binary layout written
	// by this build. Readers accept any profile with the same major version.
	FormatMajor = 1
	FormatMinor = 0

	// SupportedFormats is the semver constraint a profile's format version must satisfy.
	SupportedFormats = "^1.0"

	// EngineVersion is the keyrx engine version.
	EngineVersion = "0.1.0"
)

// FormatVersion packs a major/minor pair the way the profile header stores it.
func FormatVersion(major, minor uint16) uint32 {
	return uint32(major)<<16 | uint32(minor)
}

// CurrentFormatVersion is the packed format version written by this build.
var CurrentFormatVersion = FormatVersion(FormatMajor, FormatMinor)
