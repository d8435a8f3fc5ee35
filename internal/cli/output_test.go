package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/screentime/internal/domain"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]string{"result": "success"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_ResultUsesTextRenderer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Result(42, func(w io.Writer) {
		fmt.Fprintln(w, "forty-two")
	})
	require.NoError(t, err)
	assert.Equal(t, "forty-two\n", buf.String())
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("CONFLICT", "already assigned", map[string]string{"existing": "learning"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
	assert.Equal(t, "already assigned", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("NOT_FOUND", "no such item", map[string]string{"id": "x"}))
	assert.Contains(t, buf.String(), "Error [NOT_FOUND]: no such item")
	assert.NotContains(t, buf.String(), "Details:")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("NOT_FOUND", "no such item", map[string]string{"id": "x"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_FailReportsDomainCode(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := domain.NewConflictError("item-1", "Books", domain.CategoryLearning, domain.CategoryReward)
	err := formatter.Fail(engineExitError("commit failed", cause))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "Books")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantExit int
		wantCode string
	}{
		{"domain error", engineExitError("x", domain.NewNotFoundError("item-1")), ExitFailure, "NOT_FOUND"},
		{"plain engine error", engineExitError("x", errors.New("disk full")), ExitCommandError, "E_COMMAND"},
		{"command error", NewExitError(ExitCommandError, "bad flag"), ExitCommandError, "E_COMMAND"},
		{"failure", NewExitError(ExitFailure, "2 scenario(s) failed"), ExitFailure, "E_FAILED"},
		{"unclassified", errors.New("boom"), ExitFailure, "E_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantExit, GetExitCode(tt.err))
			assert.Equal(t, tt.wantCode, errorCode(tt.err))
		})
	}
}

func TestExitError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := WrapExitError(ExitCommandError, "failed to open database", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to open database: underlying", err.Error())
	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			diag := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: diag,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("pending: %d item(s)", 2)

			assert.Empty(t, out.String(), "diagnostics never reach the JSON stream")
			if tt.wantLog {
				assert.Contains(t, diag.String(), "pending: 2 item(s)")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}
