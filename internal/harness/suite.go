package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when a requested scenario file doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario file %q does not exist", e.Path)
}

// DiscoverScenarios expands paths into scenario files. Directories are
// searched recursively for .yaml and .yml files; files are taken as is.
// The result is sorted so suites run in a stable order.
func DiscoverScenarios(paths ...string) ([]string, error) {
	var found []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			return nil, &ScenarioNotFoundError{Path: p}
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			found = append(found, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			ext := strings.ToLower(filepath.Ext(path))
			if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("discover scenarios in %s: %w", p, err)
		}
	}
	sort.Strings(found)
	return found, nil
}

// SuiteResult summarizes a batch of scenario runs.
type SuiteResult struct {
	TotalScenarios int                `json:"total_scenarios"`
	Passed         int                `json:"passed"`
	Failed         int                `json:"failed"`
	Failures       []ScenarioFailure  `json:"failures,omitempty"`
	Results        map[string]*Result `json:"-"`
}

// ScenarioFailure represents a scenario that failed to load, run or pass.
type ScenarioFailure struct {
	Scenario     string `json:"scenario,omitempty"`
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// RunSuite loads and runs every scenario file in paths.
//
// For each scenario:
//  1. Load it, resolving the profile relative to the file
//  2. Run it via Run
//  3. Collect pass/fail
//
// A scenario that fails to load or run counts as failed; the suite keeps
// going. Only context cancellation stops it early.
func RunSuite(ctx context.Context, paths []string, opts ...Option) (*SuiteResult, error) {
	result := &SuiteResult{Results: make(map[string]*Result)}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.TotalScenarios++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.fail(ScenarioFailure{
				ScenarioPath: path,
				Error:        fmt.Sprintf("failed to load scenario: %v", err),
			})
			continue
		}

		runResult, err := Run(ctx, scenario, opts...)
		if err != nil {
			result.fail(ScenarioFailure{
				Scenario:     scenario.Name,
				ScenarioPath: path,
				Error:        fmt.Sprintf("scenario execution failed: %v", err),
			})
			continue
		}
		result.Results[path] = runResult

		if !runResult.Pass {
			result.fail(ScenarioFailure{
				Scenario:     scenario.Name,
				ScenarioPath: path,
				Error:        fmt.Sprintf("scenario assertions failed: %v", runResult.Errors),
			})
			continue
		}

		result.Passed++
	}

	return result, nil
}

func (r *SuiteResult) fail(f ScenarioFailure) {
	r.Failed++
	r.Failures = append(r.Failures, f)
}
