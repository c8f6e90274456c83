// Package harness provides conformance testing for keyrx profiles.
//
// The harness compiles a profile, feeds a scripted sequence of key events
// and clock advances through a fresh processor, and checks the emitted
// output and the final state against assertions.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	profile: ../profiles/home-row.yaml
//	interrupt_on_release: false
//	devices:
//	  - id: 1
//	    name: "Keychron K2"
//	steps:
//	  - press: f
//	  - wait: 250
//	    expect: ["press modifier:1"]
//	  - tap: j
//	    at: 300
//	    hold: 20
//	  - release: f
//	assertions:
//	  - type: output_order
//	    outputs: ["press modifier:1", "press j", "release modifier:1"]
//	  - type: final_state
//	    modifiers: []
//
// The profile path is resolved relative to the scenario file. Descriptions
// (.yaml, .json, .cue) are compiled on load; .krx files are loaded as is.
//
// # Steps
//
//   - press / release: one key edge at the current time
//   - tap: a press at the current time and a release hold ms later
//   - wait: advance the clock by N ms and tick the processor
//   - at: move the clock to an absolute time (ms) before the step; a step
//     with only at ticks the processor at that time
//
// Times never go backwards: an at earlier than the current time is ignored.
//
// # Output Notation
//
// Outputs are written as "<edge> <target>", where target is a key name or
// modifier:N, lock:N or layer:N. A device other than 0 and the time follow:
// "press leftctrl dev=1 @120ms". An expected output without a device or time
// matches any.
//
// # Assertion Types
//
//   - output_contains: an output matching Output was emitted
//   - output_order: Outputs were emitted in this order (gaps allowed)
//   - output_count: Output was emitted exactly Count times
//   - output_exact: the complete output equals Outputs
//   - final_state: the final layer stack, modifiers, locks and pending count
//
// # Deterministic Testing
//
// Every scenario runs against a virtual clock and a fresh processor, so the
// same scenario always produces the same trace. Traces are compared against
// golden files with RunWithGolden.
package harness
