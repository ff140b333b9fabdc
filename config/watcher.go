package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback receives the previous and the newly applied
// configuration after an accepted reload.
type ChangeCallback func(prev, next *Config)

// Watcher reloads a configuration file when it changes on disk.
// Reloads that fail to parse or validate, or that modify structural
// settings (app identity, runtime shape, pool layout), are rejected:
// the served configuration stays as it was and the error callbacks
// fire. Only logging and monitor settings may change across a reload.
type Watcher struct {
	file     string
	loader   *Loader
	log      *slog.Logger
	debounce time.Duration

	mu  sync.RWMutex
	cfg *Config

	cbMu     sync.RWMutex
	onChange []ChangeCallback
	onError  []func(error)

	fs     *fsnotify.Watcher
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher builds a watcher over the given file. The file is loaded
// eagerly, so a file that does not load is an error here rather than
// on the first change.
func NewWatcher(file string, loader *Loader) (*Watcher, error) {
	if _, err := formatForFile(file); err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	cfg, err := loader.Load(file)
	if err != nil {
		fs.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		file:     filepath.Clean(file),
		loader:   loader,
		log:      slog.Default(),
		debounce: 500 * time.Millisecond,
		cfg:      cfg,
		fs:       fs,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetLogger replaces the watcher's logger. Call before Start.
func (w *Watcher) SetLogger(log *slog.Logger) *Watcher {
	w.log = log
	return w
}

// SetDebounce replaces the delay between a file event and the reload.
// Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Start begins watching the file's directory. Watching the directory
// rather than the file survives editors that replace the file on save.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.file)
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop cancels the watch and waits for the loop to exit.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

// Config returns the currently served configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// OnChange registers a callback for accepted reloads. Callbacks run on
// the watch goroutine and should not block.
func (w *Watcher) OnChange(cb ChangeCallback) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.onChange = append(w.onChange, cb)
}

// OnError registers a callback for rejected reloads.
func (w *Watcher) OnError(cb func(error)) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.onError = append(w.onError, cb)
}

// Reload reloads the file immediately, applying the same structural
// checks as a watched reload.
func (w *Watcher) Reload() error {
	return w.reload()
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	// Editors emit bursts of writes; reload once per burst.
	var debounce *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.file {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create):
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(w.debounce, func() {
					if err := w.reload(); err != nil {
						w.fireError(err)
					}
				})
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				w.log.Warn("configuration file removed", "file", w.file)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error("configuration watch error", "error", err)
		}
	}
}

// reload loads the file and swaps the served configuration if the
// change is acceptable.
func (w *Watcher) reload() error {
	next, err := w.loader.Load(w.file)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	w.mu.Lock()
	prev := w.cfg
	if err := structuralDiff(prev, next); err != nil {
		w.mu.Unlock()
		return err
	}
	w.cfg = next
	w.mu.Unlock()

	w.log.Info("configuration reloaded", "file", w.file)
	w.fireChange(prev, next)
	return nil
}

// structuralDiff reports which startup-only section changed between
// two configurations.
func structuralDiff(prev, next *Config) error {
	switch {
	case prev.App != next.App:
		return fmt.Errorf("%w: app", ErrStructuralChange)
	case prev.Runtime != next.Runtime:
		return fmt.Errorf("%w: runtime", ErrStructuralChange)
	case !slices.Equal(prev.Pools, next.Pools):
		return fmt.Errorf("%w: pools", ErrStructuralChange)
	}
	return nil
}

func (w *Watcher) fireChange(prev, next *Config) {
	w.cbMu.RLock()
	cbs := slices.Clone(w.onChange)
	w.cbMu.RUnlock()
	for _, cb := range cbs {
		w.safely(func() { cb(prev, next) })
	}
}

func (w *Watcher) fireError(err error) {
	w.log.Warn("configuration reload rejected", "file", w.file, "error", err)
	w.cbMu.RLock()
	cbs := slices.Clone(w.onError)
	w.cbMu.RUnlock()
	for _, cb := range cbs {
		w.safely(func() { cb(err) })
	}
}

// safely keeps a panicking callback from killing the watch loop.
func (w *Watcher) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("configuration callback panicked", "panic", r)
		}
	}()
	fn()
}
