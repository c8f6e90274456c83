// Package ir provides the shared data model for keyrx.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the data model the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Timestamps are monotonic microseconds (Timestamp), never wall-clock values
//   - Mapping is a closed tagged union; dispatch sites switch over Kind and
//     treat unknown kinds as malformed
//   - TapHold never nests: its tap and hold branches are plain Actions
//   - Modifier and lock IDs are 0-254; 255 is reserved
//   - All YAML/JSON tags use snake_case
package ir
