// Package notify fans filesystem change events out to tail readers so they
// can skip the rest of a poll wait. It only ever shortens waits; readers keep
// polling on their own.
package notify

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("notifier closed")

// Notifier watches the parent directories of subscribed paths with a single
// process-wide fsnotify watcher.
type Notifier struct {
	watcher *fsnotify.Watcher
	log     zerolog.Logger

	mu     sync.RWMutex
	subs   map[string]map[uint64]chan struct{}
	dirs   map[string]int
	nextID uint64
	closed bool

	deliveredCount, coalescedCount atomic.Uint64
	done                           chan struct{}
}

// New starts a notifier. Callers should fall back to plain polling when it
// fails (e.g. inotify limits reached).
func New(log zerolog.Logger) (*Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	n := &Notifier{
		watcher: w,
		log:     log.With().Str("component", "notify").Logger(),
		subs:    make(map[string]map[uint64]chan struct{}),
		dirs:    make(map[string]int),
		done:    make(chan struct{}),
	}
	go n.run()
	return n, nil
}

// Subscribe returns a channel that receives a token whenever path changes,
// plus a function that ends the subscription.
func (n *Notifier) Subscribe(path string) (<-chan struct{}, func(), error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, err
	}
	dir := filepath.Dir(abs)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, nil, ErrClosed
	}

	if n.dirs[dir] == 0 {
		if err := n.watcher.Add(dir); err != nil {
			return nil, nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	n.dirs[dir]++

	// Buffer of one: a pending token already means "look again".
	ch := make(chan struct{}, 1)
	id := n.nextID
	n.nextID++
	if n.subs[abs] == nil {
		n.subs[abs] = make(map[uint64]chan struct{})
	}
	n.subs[abs][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() { n.unsubscribe(abs, dir, id) })
	}
	return ch, cancel, nil
}

func (n *Notifier) unsubscribe(abs, dir string, id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.subs[abs], id)
	if len(n.subs[abs]) == 0 {
		delete(n.subs, abs)
	}
	n.dirs[dir]--
	if n.dirs[dir] > 0 {
		return
	}
	delete(n.dirs, dir)
	if !n.closed {
		if err := n.watcher.Remove(dir); err != nil {
			n.log.Debug().Err(err).Str("dir", dir).Msg("unwatch directory")
		}
	}
}

// Publish wakes every subscriber of path without blocking.
func (n *Notifier) Publish(path string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subs[path] {
		select {
		case ch <- struct{}{}:
			n.deliveredCount.Add(1)
		default:
			n.coalescedCount.Add(1)
		}
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for {
		select {
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				n.Publish(filepath.Clean(event.Name))
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// Stats returns how many wake-ups were delivered and how many were folded
// into an already pending one.
func (n *Notifier) Stats() (delivered, coalesced uint64) {
	return n.deliveredCount.Load(), n.coalescedCount.Load()
}

// Close stops the watcher. Outstanding subscriptions stop receiving tokens.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	err := n.watcher.Close()
	<-n.done
	return err
}
