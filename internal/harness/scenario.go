package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keys"
)

// Scenario defines a conformance test scenario.
// Scenarios validate remapping behavior by feeding a scripted key sequence
// and asserting on the resulting output and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Profile is the path to a profile description or compiled .krx file.
	// Relative paths are resolved against the scenario file's directory.
	Profile string `yaml:"profile"`

	// InterruptOnRelease configures the processor option of the same name.
	InterruptOnRelease bool `yaml:"interrupt_on_release,omitempty"`

	// Devices are bound before the first step.
	Devices []DeviceBinding `yaml:"devices,omitempty"`

	// Steps is the scripted input.
	Steps []Step `yaml:"steps"`

	// Assertions validate the output and final state.
	// Supported types: output_contains, output_order, output_count,
	// output_exact, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// DeviceBinding binds a device ID to a device name.
type DeviceBinding struct {
	ID   ir.DeviceID `yaml:"id"`
	Name string      `yaml:"name"`
}

// Step is one scripted input. Exactly one of Press, Release, Tap or Wait is
// set, or none of them with At set.
type Step struct {
	// Press is the name of a key to press.
	Press string `yaml:"press,omitempty"`

	// Release is the name of a key to release.
	Release string `yaml:"release,omitempty"`

	// Tap presses a key and releases it Hold ms later.
	Tap string `yaml:"tap,omitempty"`

	// Hold is the tap duration in ms (used by tap).
	Hold uint64 `yaml:"hold,omitempty"`

	// Wait advances the clock by N ms and ticks the processor.
	Wait uint64 `yaml:"wait,omitempty"`

	// At moves the clock to an absolute time in ms before the step.
	At *uint64 `yaml:"at,omitempty"`

	// Device is the input device of key steps.
	Device ir.DeviceID `yaml:"device,omitempty"`

	// Expect lists the exact outputs this step must produce, in order.
	// An empty list asserts that the step produces nothing; omit the field
	// to skip the check.
	Expect *[]string `yaml:"expect,omitempty"`
}

// kinds returns how many of the mutually exclusive step fields are set.
func (s *Step) kinds() int {
	n := 0
	for _, set := range []bool{s.Press != "", s.Release != "", s.Tap != "", s.Wait != 0} {
		if set {
			n++
		}
	}
	return n
}

// Assertion validates output or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "output_contains": Output was emitted at least once
	// - "output_order": Outputs were emitted in order
	// - "output_count": Output was emitted exactly Count times
	// - "output_exact": the full output equals Outputs
	// - "final_state": the final state matches the set fields
	Type string `yaml:"type"`

	// Output is the expected output (used by output_contains, output_count).
	Output string `yaml:"output,omitempty"`

	// Outputs is the expected output list (used by output_order, output_exact).
	Outputs []string `yaml:"outputs,omitempty"`

	// Count is the expected number of occurrences (used by output_count).
	Count int `yaml:"count,omitempty"`

	// Layers is the expected layer stack, bottom first (used by final_state).
	Layers []int `yaml:"layers,omitempty"`

	// Modifiers are the expected active modifier IDs (used by final_state).
	Modifiers []int `yaml:"modifiers,omitempty"`

	// Locks are the expected active lock IDs (used by final_state).
	Locks []int `yaml:"locks,omitempty"`

	// Pending is the expected number of tap/hold keys not yet resolved to
	// Tap or Hold (used by final_state).
	Pending *int `yaml:"pending,omitempty"`
}

// Assertion type constants.
const (
	AssertOutputContains = "output_contains"
	AssertOutputOrder    = "output_order"
	AssertOutputCount    = "output_count"
	AssertOutputExact    = "output_exact"
	AssertFinalState     = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// The profile path is resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the profile path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Profile != "" && !filepath.IsAbs(scenario.Profile) && basePath != "" {
		scenario.Profile = filepath.Join(basePath, scenario.Profile)
	}
	if _, err := os.Stat(scenario.Profile); err != nil {
		return nil, fmt.Errorf("invalid scenario: profile not found: %s", scenario.Profile)
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// Output patterns are rewritten to canonical key names in place.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Profile == "" {
		return fmt.Errorf("profile is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, d := range s.Devices {
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: name is required", i)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, st *Step) error {
	switch n := st.kinds(); {
	case n > 1:
		return fmt.Errorf("steps[%d]: only one of press, release, tap, wait may be set", index)
	case n == 0 && st.At == nil:
		return fmt.Errorf("steps[%d]: one of press, release, tap, wait or at is required", index)
	}
	if st.Hold != 0 && st.Tap == "" {
		return fmt.Errorf("steps[%d]: hold is only valid with tap", index)
	}
	for _, name := range []string{st.Press, st.Release, st.Tap} {
		if name == "" {
			continue
		}
		if _, err := keys.Parse(name); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	}
	if st.Expect != nil {
		expect := *st.Expect
		for j, pattern := range expect {
			canonical, err := CanonicalOutput(pattern)
			if err != nil {
				return fmt.Errorf("steps[%d].expect[%d]: %w", index, j, err)
			}
			expect[j] = canonical
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertOutputContains:
		if a.Output == "" {
			return fmt.Errorf("assertions[%d]: output is required for output_contains", index)
		}
	case AssertOutputOrder:
		if len(a.Outputs) == 0 {
			return fmt.Errorf("assertions[%d]: outputs list is required for output_order", index)
		}
	case AssertOutputCount:
		if a.Output == "" {
			return fmt.Errorf("assertions[%d]: output is required for output_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for output_count", index)
		}
	case AssertOutputExact:
		// An empty list asserts no output at all.
	case AssertFinalState:
		if a.Layers == nil && a.Modifiers == nil && a.Locks == nil && a.Pending == nil {
			return fmt.Errorf("assertions[%d]: final_state needs at least one of layers, modifiers, locks, pending", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Output != "" {
		canonical, err := CanonicalOutput(a.Output)
		if err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		a.Output = canonical
	}
	for j, pattern := range a.Outputs {
		canonical, err := CanonicalOutput(pattern)
		if err != nil {
			return fmt.Errorf("assertions[%d].outputs[%d]: %w", index, j, err)
		}
		a.Outputs[j] = canonical
	}
	return nil
}

// CanonicalOutput validates an output pattern and rewrites its key name to
// the canonical form, so "press left_shift" becomes "press leftshift".
func CanonicalOutput(pattern string) (string, error) {
	fields := strings.Fields(pattern)
	if len(fields) < 2 {
		return "", fmt.Errorf("output %q: want \"<press|release> <target>\"", pattern)
	}
	if fields[0] != ir.Press.String() && fields[0] != ir.Release.String() {
		return "", fmt.Errorf("output %q: unknown edge %q", pattern, fields[0])
	}

	if kind, id, ok := strings.Cut(fields[1], ":"); ok {
		switch kind {
		case ir.ModifierChange.String(), ir.LockToggle.String(), ir.LayerChange.String():
		default:
			return "", fmt.Errorf("output %q: unknown target kind %q", pattern, kind)
		}
		if _, err := strconv.ParseUint(id, 10, 8); err != nil {
			return "", fmt.Errorf("output %q: invalid id %q", pattern, id)
		}
	} else {
		code, err := keys.Parse(fields[1])
		if err != nil {
			return "", fmt.Errorf("output %q: %w", pattern, err)
		}
		fields[1] = keys.Name(code)
	}

	for _, f := range fields[2:] {
		if !strings.HasPrefix(f, "dev=") && !strings.HasPrefix(f, "@") {
			return "", fmt.Errorf("output %q: unexpected field %q", pattern, f)
		}
	}
	return strings.Join(fields, " "), nil
}
