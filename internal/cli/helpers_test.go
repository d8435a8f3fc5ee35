package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// cliEnv is a config file, database and shared directory in a temp dir.
type cliEnv struct {
	t         *testing.T
	dir       string
	db        string
	sharedDir string
	config    string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	e := &cliEnv{
		t:         t,
		dir:       dir,
		db:        filepath.Join(dir, "screentime.db"),
		sharedDir: filepath.Join(dir, "shared"),
		config:    filepath.Join(dir, "screentime.cue"),
	}
	cfg := fmt.Sprintf("database: %q\nshared_dir: %q\npicker_timeout: \"5s\"\n", e.db, e.sharedDir)
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0644))
	return e
}

// execute runs the root command with --config set and returns stdout.
func (e *cliEnv) execute(args ...string) (string, error) {
	e.t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) writeFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// response is CLIResponse with a typed payload.
type response[T any] struct {
	Status string    `json:"status"`
	Data   T         `json:"data"`
	Error  *CLIError `json:"error"`
}

func decodeResponse[T any](t *testing.T, out string) response[T] {
	t.Helper()
	var r response[T]
	require.NoError(t, json.Unmarshal([]byte(out), &r), "output: %s", out)
	return r
}

const twoHandles = `
- external_id: com.example.docs
  label: Docs
- external_id: com.example.books
  label: Books
`
