package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/draftkeep/internal/clock"
)

// DefaultTTL is how long message files stay in the shared directory.
const DefaultTTL = time.Minute

// messageSuffix marks complete message files. Temp files never carry it, so
// a watcher only ever reads fully written messages.
const messageSuffix = ".msg.json"

// DirChannel is a Channel shared between processes through a directory.
//
// Publish writes one file per message, named <nanos>-<instance>.msg.json,
// by writing a temp file and renaming it into place. Every DirChannel
// watches the directory with fsnotify and delivers files written by other
// instances. Files older than the TTL are pruned on publish.
//
// Thread-safety: All methods are safe for concurrent use.
type DirChannel struct {
	dir      string
	instance string
	ttl      time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	handlers handlerSet
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ Channel = (*DirChannel)(nil)

// DirOption configures a DirChannel.
type DirOption func(*DirChannel)

// WithTTL sets how long message files are kept before pruning.
//
// Default: 1 minute (DefaultTTL)
func WithTTL(d time.Duration) DirOption {
	return func(c *DirChannel) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithDirClock sets the clock used to name and prune message files.
func WithDirClock(clk clock.Clock) DirOption {
	return func(c *DirChannel) {
		c.clock = clock.Or(clk)
	}
}

// WithDirLogger sets the logger. Defaults to slog.Default().
func WithDirLogger(l *slog.Logger) DirOption {
	return func(c *DirChannel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithInstance fixes the instance id embedded in file names.
// Defaults to a fresh UUIDv7.
func WithInstance(id string) DirOption {
	return func(c *DirChannel) {
		if id != "" {
			c.instance = id
		}
	}
}

// OpenDir opens a channel over dir, creating the directory if needed.
// The caller must Close it to stop the watcher.
func OpenDir(dir string, opts ...DirOption) (*DirChannel, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create channel dir: %w", err)
	}

	c := &DirChannel{
		dir:      dir,
		instance: NewOrigin(),
		ttl:      DefaultTTL,
		clock:    clock.Real{},
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if strings.ContainsAny(c.instance, `/\`) {
		return nil, fmt.Errorf("invalid instance id %q", c.instance)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	c.watcher = w

	go c.run()
	c.logger.Debug("channel opened", "dir", dir, "instance", c.instance)
	return c, nil
}

// Dir returns the shared directory.
func (c *DirChannel) Dir() string {
	return c.dir
}

// Instance returns the id this channel embeds in the files it writes.
func (c *DirChannel) Instance() string {
	return c.instance
}

// Publish writes m into the shared directory.
func (c *DirChannel) Publish(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	now := c.clock.Now()
	name := fmt.Sprintf("%020d-%s%s", now.UnixNano(), c.instance, messageSuffix)
	if err := writeFileAtomic(c.dir, name, data); err != nil {
		return err
	}

	c.prune(now)
	return nil
}

// Subscribe registers f for messages written by other instances.
func (c *DirChannel) Subscribe(f func(Message)) (cancel func()) {
	return c.handlers.add(f)
}

// Close stops the watcher and waits for the delivery goroutine to exit.
// Safe to call more than once.
func (c *DirChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.handlers.reset()
	err := c.watcher.Close()
	<-c.done
	return err
}

// run delivers message files as they appear.
func (c *DirChannel) run() {
	defer close(c.done)

	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			// The rename that publishes a message shows up as Create.
			if !ev.Has(fsnotify.Create) {
				continue
			}
			c.handleFile(ev.Name)

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("channel watcher error", "dir", c.dir, "error", err)
		}
	}
}

func (c *DirChannel) handleFile(path string) {
	name := filepath.Base(path)
	_, instance, ok := parseMessageName(name)
	if !ok || instance == c.instance {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Pruned or renamed away before we got to it.
		c.logger.Debug("message file vanished", "file", name, "error", err)
		return
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		c.logger.Warn("skipping malformed message", "file", name, "error", err)
		return
	}
	if err := m.Validate(); err != nil {
		c.logger.Warn("skipping invalid message", "file", name, "error", err)
		return
	}
	c.handlers.deliver(m)
}

// prune removes message files older than the TTL. Failures are logged only;
// another instance may be pruning the same files.
func (c *DirChannel) prune(now time.Time) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("list channel dir", "dir", c.dir, "error", err)
		return
	}

	cutoff := now.Add(-c.ttl).UnixNano()
	for _, e := range entries {
		nanos, _, ok := parseMessageName(e.Name())
		if !ok || nanos >= cutoff {
			continue
		}
		err := os.Remove(filepath.Join(c.dir, e.Name()))
		if err != nil && !os.IsNotExist(err) {
			c.logger.Debug("prune message file", "file", e.Name(), "error", err)
		}
	}
}

// parseMessageName splits <nanos>-<instance>.msg.json.
func parseMessageName(name string) (nanos int64, instance string, ok bool) {
	base, found := strings.CutSuffix(name, messageSuffix)
	if !found {
		return 0, "", false
	}
	prefix, instance, found := strings.Cut(base, "-")
	if !found || instance == "" {
		return 0, "", false
	}
	nanos, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return nanos, instance, true
}

// writeFileAtomic writes data to dir/name through a temp file and rename.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".msg-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp message: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write message: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close message: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}
