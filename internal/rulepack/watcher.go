package rulepack

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/plan"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/preprocessor"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// ErrWatcherClosed is returned by Start after Close.
var ErrWatcherClosed = errors.New("watcher is closed")

// WatchOptions configures a Watcher.
type WatchOptions struct {
	Compile  preprocessor.Options
	Debounce time.Duration
	// OnReload is called after a new plan has been swapped in.
	OnReload func(*plan.Plan)
	// OnError is called when a reload fails. The previous plan stays
	// current.
	OnError func(error)
	Logger  *zerolog.Logger
}

// Watcher recompiles a rule set when its files change.
type Watcher struct {
	paths   []string
	opts    WatchOptions
	logger  zerolog.Logger
	fsw     *fsnotify.Watcher
	current atomic.Pointer[plan.Plan]

	// files and dirs hold the cleaned paths given to NewWatcher.
	files map[string]bool
	dirs  map[string]bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWatcher loads the rule set once and prepares to watch it. The initial
// load must succeed.
func NewWatcher(ctx context.Context, paths []string, opts WatchOptions) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	w := &Watcher{
		paths:  paths,
		opts:   opts,
		logger: zerolog.Nop(),
		files:  make(map[string]bool),
		dirs:   make(map[string]bool),
		done:   make(chan struct{}),
	}
	if opts.Logger != nil {
		w.logger = *opts.Logger
	}

	p, err := Load(ctx, paths, opts.Compile)
	if err != nil {
		return nil, err
	}
	w.current.Store(p)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.fsw = fsw
	added := make(map[string]bool)
	for _, path := range paths {
		path = filepath.Clean(path)
		dir := filepath.Dir(path)
		if isDir(path) {
			w.dirs[path] = true
			dir = path
		} else {
			w.files[path] = true
		}
		if added[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
		added[dir] = true
	}
	return w, nil
}

// Current returns the most recently compiled plan.
func (w *Watcher) Current() *plan.Plan {
	return w.current.Load()
}

// Reload recompiles immediately. On failure the current plan is kept.
func (w *Watcher) Reload(ctx context.Context) error {
	p, err := Load(ctx, w.paths, w.opts.Compile)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Rule reload failed, keeping previous plan")
		if w.opts.OnError != nil {
			w.opts.OnError(err)
		}
		return err
	}
	w.current.Store(p)
	w.logger.Info().Int("rules", p.NumRules()).Int("layers", len(p.Layers)).Msg("Rules reloaded")
	if w.opts.OnReload != nil {
		w.opts.OnReload(p)
	}
	return nil
}

// Start watches for changes until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	select {
	case <-w.done:
		return ErrWatcherClosed
	default:
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Close stops watching and waits for the loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	w.wg.Wait()
	return err
}

func (w *Watcher) relevant(name string) bool {
	name = filepath.Clean(name)
	if w.files[name] {
		return true
	}
	return w.dirs[filepath.Dir(name)] && IsRuleFile(name)
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Rule file changed")
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
			if w.opts.OnError != nil {
				w.opts.OnError(err)
			}
		case <-timerC:
			timer, timerC = nil, nil
			_ = w.Reload(ctx)
		}
	}
}
