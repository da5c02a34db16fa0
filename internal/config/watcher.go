package config

import (
	"sync"
	"time"
)

// Watcher polls a config source at an interval and notifies subscribers of
// safe-to-reload changes. It never re-applies the critical subset — a
// changed port or region in the underlying file is loaded into Current() but
// callers that only look at Diff will not see it flagged.
type Watcher struct {
	reload   func() (*Config, error)
	interval time.Duration

	mu      sync.Mutex
	current *Config
	subs    []func(old, new *Config, diff Diff)

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a Watcher around reload, which must return a freshly
// loaded and validated Config each call (typically Load bound to a path).
// The initial config is loaded synchronously so NewWatcher fails fast on a
// bad config file.
func NewWatcher(reload func() (*Config, error), interval time.Duration) (*Watcher, error) {
	cfg, err := reload()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	w := &Watcher{
		reload:   reload,
		interval: interval,
		current:  cfg,
		done:     make(chan struct{}),
	}
	go w.poll()
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Subscribe registers fn to be called whenever a safe-reload field changes.
// fn is invoked from the watcher's polling goroutine; it must not block.
func (w *Watcher) Subscribe(fn func(old, new *Config, diff Diff)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

// Stop halts the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	next, err := w.reload()
	if err != nil {
		// A broken reload never displaces a known-good config.
		return
	}

	w.mu.Lock()
	old := w.current
	diff := DiffSafe(old, next)
	w.current = next
	subs := append([]func(old, new *Config, diff Diff){}, w.subs...)
	w.mu.Unlock()

	if !diff.Changed() {
		return
	}
	for _, fn := range subs {
		fn(old, next, diff)
	}
}
