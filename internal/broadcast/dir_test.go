package broadcast

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/draftkeep/internal/testutil"
)

func openTestDir(t *testing.T, dir string, opts ...DirOption) *DirChannel {
	t.Helper()
	c, err := OpenDir(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDirChannel_DeliversAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := openTestDir(t, dir)
	b := openTestDir(t, dir)

	var ra, rb recorder
	a.Subscribe(ra.handle)
	b.Subscribe(rb.handle)

	msg := Message{Type: TypeSaved, ID: "1", Origin: "tab-a", SentAt: 1767225600000}
	require.NoError(t, a.Publish(ctx, msg))

	require.Eventually(t, func() bool { return len(rb.got()) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, msg, rb.got()[0])

	// Give a's own watcher the same chance to (wrongly) deliver.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ra.got(), "own messages are not delivered")
}

func TestDirChannel_MessageFileName(t *testing.T) {
	dir := t.TempDir()
	clk := testutil.NewManualClock(testutil.Epoch)
	c := openTestDir(t, dir, WithInstance("inst"), WithDirClock(clk))

	require.NoError(t, c.Publish(context.Background(), Message{Type: TypeOpened, ID: "1"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "01767225600000000000-inst.msg.json", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"OPENED","id":"1","origin":"","sent_at":0}`, string(data))
}

func TestDirChannel_PrunesExpiredFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clk := testutil.NewManualClock(testutil.Epoch)
	c := openTestDir(t, dir, WithInstance("inst"), WithDirClock(clk), WithTTL(time.Minute))

	require.NoError(t, c.Publish(ctx, Message{Type: TypeOpened, ID: "1"}))
	clk.Advance(30 * time.Second)
	require.NoError(t, c.Publish(ctx, Message{Type: TypeSaved, ID: "1"}))
	clk.Advance(45 * time.Second)
	require.NoError(t, c.Publish(ctx, Message{Type: TypeSaved, ID: "1"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{
		"01767225630000000000-inst.msg.json",
		"01767225675000000000-inst.msg.json",
	}, names)
}

func TestDirChannel_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	c := openTestDir(t, dir)

	var rc recorder
	c.Subscribe(rc.handle)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1-other.msg.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2-other.msg.json"), []byte(`{"type":"NOPE","id":"1"}`), 0o644))

	peer := openTestDir(t, dir)
	require.NoError(t, peer.Publish(context.Background(), Message{Type: TypeSaved, ID: "ok"}))

	require.Eventually(t, func() bool { return len(rc.got()) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ok"}, rc.ids())
}

func TestDirChannel_Close(t *testing.T) {
	c, err := OpenDir(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err = c.Publish(context.Background(), Message{Type: TypeSaved, ID: "1"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenDir_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "channel")
	c := openTestDir(t, dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, c.Dir())
	assert.NotEmpty(t, c.Instance())
}

func TestParseMessageName(t *testing.T) {
	tests := []struct {
		name     string
		nanos    int64
		instance string
		ok       bool
	}{
		{"00000000000000000042-0190d1e2-7c3a-7abc-8def-0123456789ab.msg.json", 42, "0190d1e2-7c3a-7abc-8def-0123456789ab", true},
		{"42-inst.msg.json", 42, "inst", true},
		{"42-.msg.json", 0, "", false},
		{"abc-inst.msg.json", 0, "", false},
		{".msg-123.tmp", 0, "", false},
		{"42-inst.json", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nanos, instance, ok := parseMessageName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.nanos, nanos)
			assert.Equal(t, tt.instance, instance)
		})
	}
}
