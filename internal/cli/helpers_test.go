package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testProfile = "testdata/profile.yaml"
	altProfile  = "testdata/alt.yaml"
	badProfile  = "testdata/invalid.yaml"
	holdScript  = "testdata/hold.txt"
)

// execute runs the root command with args and returns stdout.
// HOME and KEYRX_* are isolated so no user config leaks in.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// executeWithStderr is execute that also returns what was written to stderr.
func executeWithStderr(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// decodeResponse parses a JSON CLIResponse and decodes its payload
// (data, or error details) into v.
func decodeResponse(t *testing.T, out string, v any) CLIResponse {
	t.Helper()

	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), "output: %s", out)

	resp := CLIResponse{Status: raw.Status}
	payload := raw.Data
	if raw.Error != nil {
		resp.Error = &CLIError{Code: raw.Error.Code, Message: raw.Error.Message}
		payload = raw.Error.Details
	}
	if v != nil && len(payload) > 0 {
		require.NoError(t, json.Unmarshal(payload, v))
	}
	return resp
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "keyrx.db")
}
