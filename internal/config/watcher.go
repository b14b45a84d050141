package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"meshgate/internal/core"
)

// DefaultReloadDebounce collapses an editor's burst of writes into one reload
const DefaultReloadDebounce = 500 * time.Millisecond

// RouteWatcherOptions configures a RouteWatcher
type RouteWatcherOptions struct {
	Debounce time.Duration
	// Apply receives the routes of every reload that loads and validates
	Apply func(routes []core.Route)
}

// ReloadStatus reports what the watcher has done so far
type ReloadStatus struct {
	Applied  int
	Rejected int
	// LastErr is the error of the latest rejected reload, nil once a
	// later reload applies
	LastErr error
}

// RouteWatcher reloads the route table from the config file whenever the
// file changes. A reload that fails to load or validate is rejected and
// the running routes stay in place. Sections other than router need a
// restart; changes to them are logged and otherwise ignored.
type RouteWatcher struct {
	path     string
	debounce time.Duration
	apply    func([]core.Route)
	logger   *slog.Logger
	fs       *fsnotify.Watcher

	// current is only touched by the watch loop
	current *Config

	mu     sync.Mutex
	status ReloadStatus

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRouteWatcher watches path, whose contents are running as boot. The
// parent directory is watched so that editors replacing the file by
// rename are seen.
func NewRouteWatcher(path string, boot *Config, opts RouteWatcherOptions, logger *slog.Logger) (*RouteWatcher, error) {
	if opts.Apply == nil {
		return nil, fmt.Errorf("route watcher needs an Apply func")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultReloadDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	return &RouteWatcher{
		path:     abs,
		debounce: opts.Debounce,
		apply:    opts.Apply,
		logger:   logger.With("component", "route-watcher", "file", abs),
		fs:       fs,
		current:  boot,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the watch loop until Stop
func (w *RouteWatcher) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run()
	w.logger.Info("Watching routes")
}

// Stop ends the watch loop, dropping a pending reload. Safe to call twice.
func (w *RouteWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		err = w.fs.Close()
	})
	if w.started.Load() {
		<-w.done
	}
	return err
}

// Status returns the reload counters
func (w *RouteWatcher) Status() ReloadStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *RouteWatcher) run() {
	defer close(w.done)

	pending := time.NewTimer(w.debounce)
	pending.Stop()
	defer pending.Stop()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending.Reset(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err)
		case <-pending.C:
			w.reload()
		case <-w.stop:
			return
		}
	}
}

func (w *RouteWatcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.reject(err)
		return
	}

	if ignored := restartOnly(w.current, next); len(ignored) > 0 {
		w.logger.Warn("Config sections changed that need a restart", "sections", ignored)
	}
	w.current = next
	w.apply(next.Gateway.Router.ToRoutes())

	w.mu.Lock()
	w.status.Applied++
	w.status.LastErr = nil
	w.mu.Unlock()
}

func (w *RouteWatcher) reject(err error) {
	w.logger.Error("Route reload rejected, keeping current routes", "error", err)
	w.mu.Lock()
	w.status.Rejected++
	w.status.LastErr = err
	w.mu.Unlock()
}

// restartOnly names the top-level sections other than router that differ
func restartOnly(old, next *Config) []string {
	if old == nil {
		return nil
	}
	var changed []string
	a := reflect.ValueOf(old.Gateway)
	b := reflect.ValueOf(next.Gateway)
	t := a.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Name == "Router" {
			continue
		}
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if !reflect.DeepEqual(a.Field(i).Interface(), b.Field(i).Interface()) {
			changed = append(changed, name)
		}
	}
	return changed
}
