package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/draftkeep/internal/integrity"
	"github.com/roach88/draftkeep/internal/store"
)

// workspace is a temporary config, database and channel directory.
type workspace struct {
	dir    string
	config string
	db     string
	chdir  string
}

func newWorkspace(t *testing.T, extra string) *workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &workspace{
		dir:    dir,
		config: filepath.Join(dir, "draftkeep.yaml"),
		db:     filepath.Join(dir, "test.db"),
		chdir:  filepath.Join(dir, "channel"),
	}
	content := fmt.Sprintf("database: %s\nchannel_dir: %s\n%s", ws.db, ws.chdir, extra)
	require.NoError(t, os.WriteFile(ws.config, []byte(content), 0644))
	return ws
}

// file writes content to name inside the workspace and returns its path.
func (ws *workspace) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(ws.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run executes the root command with --config pointing at the workspace.
func (ws *workspace) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	return execute(t, stdin, append([]string{"--config", ws.config}, args...)...)
}

// store opens the workspace database directly.
func (ws *workspace) store(t *testing.T) *integrity.Store {
	t.Helper()
	backend, err := store.Open(ws.db)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return integrity.New(backend)
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())

	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// syncBuffer is a bytes.Buffer safe for concurrent writes and reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
