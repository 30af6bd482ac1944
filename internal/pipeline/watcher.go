package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"vlog/internal/models"
)

// Segment is a stable, unqueued candidate file observed by the watcher.
type Segment struct {
	Path    string
	Quality models.Quality
	Name    string
	Size    int64
}

// watcher polls Dir at PollInterval (with an fsnotify feed as a low-latency
// nudge, not a dependency — NFS and some container bind mounts don't emit
// reliable events) and emits a Segment once a candidate file's size has been
// unchanged across StableCount consecutive observations.
type watcher struct {
	dir        string
	quality    models.Quality
	pollEvery  time.Duration
	stableGoal int
	log        zerolog.Logger

	mu      sync.Mutex
	stable  map[string]stableEntry
	emitted map[string]struct{}

	crashed atomic.Bool
}

type stableEntry struct {
	size  int64
	count int
}

func newWatcher(cfg Config) *watcher {
	return &watcher{
		dir:        cfg.Dir,
		quality:    cfg.Quality,
		pollEvery:  cfg.PollInterval,
		stableGoal: cfg.StableCount,
		log:        cfg.Logger,
		stable:     make(map[string]stableEntry),
		emitted:    make(map[string]struct{}),
	}
}

// notifyCrash marks the watcher so it refuses to emit further segments, per
// the "encoder crashed" signal the executor raises.
func (w *watcher) notifyCrash() { w.crashed.Store(true) }

// run polls the directory until ctx is cancelled, pushing stable segments
// onto out. A put that doesn't complete within one poll interval is treated
// as backpressure: the file is left unmarked and re-evaluated next poll.
func (w *watcher) run(ctx context.Context, out chan<- Segment) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	notify, cleanup := w.startFsnotify()
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
			w.scan(ctx, out)
		case <-ticker.C:
			w.scan(ctx, out)
		}
	}
}

// startFsnotify best-effort watches dir for write events as a latency nudge.
// Its channel is never required for correctness: the poll ticker alone
// guarantees progress, matching spec's stat-based algorithm.
func (w *watcher) startFsnotify() (<-chan struct{}, func()) {
	nudge := make(chan struct{}, 1)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Debug().Err(err).Msg("fsnotify unavailable, falling back to polling only")
		return nudge, func() {}
	}
	if err := fw.Add(w.dir); err != nil {
		w.log.Debug().Err(err).Str("dir", w.dir).Msg("fsnotify add failed, falling back to polling only")
		_ = fw.Close()
		return nudge, func() {}
	}
	go func() {
		for range fw.Events {
			select {
			case nudge <- struct{}{}:
			default:
			}
		}
	}()
	return nudge, func() { _ = fw.Close() }
}

// flushRemaining emits any non-empty, unqueued file with relaxed stability
// (a single observation suffices) once the encoder has exited cleanly.
func (w *watcher) flushRemaining(out chan<- Segment) {
	if w.crashed.Load() {
		return
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, name := range sortedSegmentNames(entries) {
		if _, done := w.emitted[name]; done {
			continue
		}
		info, err := os.Stat(filepath.Join(w.dir, name))
		if err != nil || info.Size() == 0 {
			continue
		}
		seg := Segment{Path: filepath.Join(w.dir, name), Quality: w.quality, Name: name, Size: info.Size()}
		select {
		case out <- seg:
			w.emitted[name] = struct{}{}
		default:
			// Queue still full on final flush: caller (Run) drains it
			// fully before calling flushRemaining, so this should not
			// happen in practice; skip rather than block shutdown.
		}
	}
}

func (w *watcher) scan(ctx context.Context, out chan<- Segment) {
	if w.crashed.Load() {
		return
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn().Err(err).Str("dir", w.dir).Msg("segment watcher: read dir failed")
		return
	}

	names := sortedSegmentNames(entries)
	seen := make(map[string]struct{}, len(names))
	w.mu.Lock()
	for _, name := range names {
		seen[name] = struct{}{}
		if _, done := w.emitted[name]; done {
			continue
		}
		info, err := os.Stat(filepath.Join(w.dir, name))
		if err != nil {
			delete(w.stable, name)
			continue
		}
		size := info.Size()
		if size == 0 {
			continue
		}
		prev, ok := w.stable[name]
		if ok && prev.size == size {
			prev.count++
		} else {
			prev = stableEntry{size: size, count: 1}
		}
		w.stable[name] = prev
	}
	// Forget files removed from the directory (already uploaded and deleted).
	for name := range w.stable {
		if _, ok := seen[name]; !ok {
			delete(w.stable, name)
		}
	}
	ready := make([]Segment, 0)
	for name, entry := range w.stable {
		if entry.count >= w.stableGoal {
			ready = append(ready, Segment{Path: filepath.Join(w.dir, name), Quality: w.quality, Name: name, Size: entry.size})
		}
	}
	w.mu.Unlock()

	sort.Slice(ready, func(i, j int) bool { return ready[i].Name < ready[j].Name })
	for _, seg := range ready {
		select {
		case out <- seg:
			w.mu.Lock()
			w.emitted[seg.Name] = struct{}{}
			delete(w.stable, seg.Name)
			w.mu.Unlock()
		case <-ctx.Done():
			return
		default:
			// Backpressure: queue is full this poll. Leave the file
			// unmarked so it's retried next poll instead of blocking
			// the watcher (and indirectly the encoder's disk writes).
		}
	}
}

func sortedSegmentNames(entries []os.DirEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		// Playlists and manifests are rewritten until the encoder exits;
		// Pipeline.finalize uploads them once at the end.
		if ext := filepath.Ext(e.Name()); ext == ".m3u8" || ext == ".mpd" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
