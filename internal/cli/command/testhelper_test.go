package command

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type harness struct {
	t       *testing.T
	dir     string
	cfgPath string
}

// newHarness writes a config that keeps every tier inside a temp dir and
// silences logs below error.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := `storage:
  data_dir: ` + filepath.Join(dir, "data") + `
  durable:
    sync_writes: false
    gc_interval: 0s
  session:
    base_dir: ` + filepath.Join(dir, "session") + `
maintenance:
  rewrites_per_second: 0
metrics:
  addr: "off"
log:
  level: error
`
	path := filepath.Join(dir, "keepstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return &harness{t: t, dir: dir, cfgPath: path}
}

// run executes the CLI with the harness config prepended.
func (h *harness) run(args ...string) (stdout, stderr string, err error) {
	h.t.Helper()
	return h.runContext(context.Background(), args...)
}

func (h *harness) runContext(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}

	err = app.RunContext(ctx, append([]string{"keepstore-cli", "--config", h.cfgPath}, args...))
	return out.String(), errOut.String(), err
}

// mustRun fails the test on error and returns stdout.
func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, errOut, err := h.run(args...)
	require.NoError(h.t, err, "stderr: %s", errOut)
	return out
}

// runJSON runs with -o json and decodes stdout into dst.
func (h *harness) runJSON(dst any, args ...string) {
	h.t.Helper()
	out := h.mustRun(append([]string{"-o", "json"}, args...)...)
	require.NoError(h.t, json.Unmarshal([]byte(out), dst), "stdout: %s", out)
}

// writeFile writes data under the harness dir and returns its path.
func (h *harness) writeFile(name, data string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(path, []byte(data), 0o600))
	return path
}
