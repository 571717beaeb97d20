package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collector is a thread-safe Ingester that records ingested paths.
type collector struct {
	mu    sync.Mutex
	paths []string
	errs  map[string]error
}

func (c *collector) ingest(_ context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.errs[filepath.Base(path)]; ok {
		return err
	}
	c.paths = append(c.paths, path)
	return nil
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWatcher_IngestsSettledFiles(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}

	w, err := New(dir, "mmrepquota-*.txt", c.ingest, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	path := filepath.Join(dir, "mmrepquota-j.txt")
	require.NoError(t, os.WriteFile(path, []byte("snapshot\n"), 0644))

	waitFor(t, 5*time.Second, func() bool { return len(c.snapshot()) == 1 })
	assert.Equal(t, path, c.snapshot()[0])

	stats := w.Stats()
	assert.Equal(t, 1, stats.Ingested)
	assert.Zero(t, stats.Errors)
}

func TestWatcher_IgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}

	w, err := New(dir, "mmrepquota-*.txt", c.ingest, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mmrepquota-j.txt"), []byte("y"), 0644))

	waitFor(t, 5*time.Second, func() bool { return len(c.snapshot()) == 1 })
	// Give the ignored file a chance to be (wrongly) picked up.
	time.Sleep(700 * time.Millisecond)
	require.Len(t, c.snapshot(), 1)
	assert.Equal(t, "mmrepquota-j.txt", filepath.Base(c.snapshot()[0]))
}

func TestWatcher_CountsIngestErrors(t *testing.T) {
	dir := t.TempDir()
	c := &collector{errs: map[string]error{"mmrepquota-bad.txt": os.ErrInvalid}}

	w, err := New(dir, "mmrepquota-*.txt", c.ingest, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "mmrepquota-bad.txt"), []byte("x"), 0644))

	waitFor(t, 5*time.Second, func() bool { return w.Stats().Errors == 1 })
	assert.Zero(t, w.Stats().Ingested)
}

func TestWatcher_StartMissingDir(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "absent"), "", func(context.Context, string) error { return nil }, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.Error(t, w.Start(context.Background()))
}

func TestWatcher_ConcurrentStart(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, "", func(context.Context, string) error { return nil }, zap.NewNop())
	require.NoError(t, err)

	// Racing Start calls must spawn exactly one event loop, or Stop
	// panics closing doneCh twice.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Start(context.Background()))
		}()
	}
	wg.Wait()

	w.Stop()
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, "", func(context.Context, string) error { return nil }, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
}
