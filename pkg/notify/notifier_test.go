package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNotifier(t *testing.T) *Notifier {
	t.Helper()
	n, err := New(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func waitToken(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no wake-up received")
	}
}

func TestNotifier_WakesOnWrite(t *testing.T) {
	n := newNotifier(t)
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	a, cancelA, err := n.Subscribe(path)
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := n.Subscribe(path)
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
	waitToken(t, a)
	waitToken(t, b)

	delivered, _ := n.Stats()
	assert.GreaterOrEqual(t, delivered, uint64(2))
}

func TestNotifier_PublishCoalesces(t *testing.T) {
	n := newNotifier(t)
	path := filepath.Join(t.TempDir(), "app.log")

	ch, cancel, err := n.Subscribe(path)
	require.NoError(t, err)
	defer cancel()

	n.Publish(path)
	n.Publish(path)
	n.Publish(path)

	waitToken(t, ch)
	select {
	case <-ch:
		t.Fatal("expected tokens to coalesce")
	default:
	}
	_, coalesced := n.Stats()
	assert.GreaterOrEqual(t, coalesced, uint64(2))
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := newNotifier(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	ch, cancel, err := n.Subscribe(path)
	require.NoError(t, err)
	cancel()
	cancel()

	n.Publish(path)
	select {
	case <-ch:
		t.Fatal("unsubscribed channel received a token")
	default:
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	assert.Empty(t, n.subs)
	assert.Empty(t, n.dirs)
}

func TestNotifier_Closed(t *testing.T) {
	n, err := New(zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	_, _, err = n.Subscribe(filepath.Join(t.TempDir(), "x.log"))
	assert.ErrorIs(t, err, ErrClosed)
}
