package scheduler

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"catalogsync/internal/clock"
	"catalogsync/internal/ingest"
	apperrors "catalogsync/pkg/errors"
)

const DefaultInterval = 5 * time.Minute

type State string

const (
	StateDisabled State = "disabled"
	StateEnabled  State = "enabled"
)

// Tick results, also used as metric labels.
const (
	ResultIngested = "ingested"
	ResultUpToDate = "up_to_date"
	ResultMissing  = "missing"
	ResultBusy     = "busy"
	ResultFailed   = "failed"
)

// Ingestor runs a reconciliation pass over a source file.
type Ingestor interface {
	IngestFile(ctx context.Context, path string, opts ingest.Options) (*ingest.Result, error)
}

// LatestUpdater reports the newest updated_at in the store.
type LatestUpdater interface {
	LatestUpdate(ctx context.Context) (time.Time, error)
}

type TickRecorder interface {
	AutoSyncTick(result string)
}

type Run struct {
	At      time.Time      `json:"at"`
	Trigger string         `json:"trigger"`
	Result  string         `json:"result"`
	Ingest  *ingest.Result `json:"ingest,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type Status struct {
	State    State         `json:"state"`
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
	Source   string        `json:"source"`
	Watching bool          `json:"watching"`
	Since    *time.Time    `json:"since,omitempty"`
	LastRun  *Run          `json:"last_run,omitempty"`
}

type Config struct {
	Source   string
	Interval time.Duration
	// Watch also wakes the scheduler when the source file is written.
	Watch bool
}

// Scheduler periodically runs a create-only ingest when the source file is
// newer than the newest stored record. Enable and Disable are the only state
// transitions; tick failures are logged and counted, never returned.
type Scheduler struct {
	ingestor Ingestor
	store    LatestUpdater
	clock    clock.Clock
	logger   *zap.Logger
	recorder TickRecorder
	source   string
	watch    bool

	mu       sync.Mutex
	state    State
	interval time.Duration
	since    time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	watching bool
	lastRun  *Run
}

func New(ingestor Ingestor, store LatestUpdater, cfg Config, clk clock.Clock, logger *zap.Logger, recorder TickRecorder) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		ingestor: ingestor,
		store:    store,
		clock:    clk,
		logger:   logger,
		recorder: recorder,
		source:   cfg.Source,
		watch:    cfg.Watch,
		state:    StateDisabled,
		interval: cfg.Interval,
	}
}

// Enable starts the ticker. Calling it while enabled changes nothing; a zero
// interval keeps the configured one.
func (s *Scheduler) Enable(interval time.Duration) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnabled {
		return s.statusLocked()
	}
	if interval > 0 {
		s.interval = interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.state = StateEnabled
	s.since = s.clock.Now()

	var events <-chan fsnotify.Event
	var watcher *fsnotify.Watcher
	if s.watch {
		w, err := s.newWatcher()
		if err != nil {
			s.logger.Warn("file watch unavailable, falling back to polling", zap.String("source", s.source), zap.Error(err))
		} else {
			watcher = w
			events = w.Events
		}
	}
	s.watching = watcher != nil

	go s.loop(ctx, done, s.interval, watcher, events)

	s.logger.Info("auto sync enabled", zap.Duration("interval", s.interval), zap.Bool("watching", s.watching))
	return s.statusLocked()
}

// Disable stops the ticker and waits for an in-flight tick to return.
func (s *Scheduler) Disable() Status {
	s.mu.Lock()
	if s.state == StateDisabled {
		defer s.mu.Unlock()
		return s.statusLocked()
	}
	cancel, done := s.cancel, s.done
	s.state = StateDisabled
	s.cancel = nil
	s.done = nil
	s.watching = false
	s.since = time.Time{}
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("auto sync disabled")
	return s.Status()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Scheduler) statusLocked() Status {
	st := Status{
		State:    s.state,
		Enabled:  s.state == StateEnabled,
		Interval: s.interval,
		Source:   s.source,
		Watching: s.watching,
	}
	if !s.since.IsZero() {
		since := s.since
		st.Since = &since
	}
	if s.lastRun != nil {
		run := *s.lastRun
		st.LastRun = &run
	}
	return st
}

func (s *Scheduler) newWatcher() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// The directory is watched so that atomic replaces of the file are seen.
	if err := w.Add(filepath.Dir(s.source)); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}, interval time.Duration, watcher *fsnotify.Watcher, events <-chan fsnotify.Event) {
	defer close(done)
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var watchErrors <-chan error
	if watcher != nil {
		watchErrors = watcher.Errors
	}
	target := filepath.Clean(s.source)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, "timer")
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			s.Tick(ctx, "watch")
		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			s.logger.Warn("file watch error", zap.Error(err))
		}
	}
}

// Tick checks the source once and ingests it when it is newer than the store.
// It returns the result label; failures are only logged and counted.
func (s *Scheduler) Tick(ctx context.Context, trigger string) string {
	run := &Run{At: s.clock.Now(), Trigger: trigger}
	run.Result = s.tick(ctx, run)

	s.mu.Lock()
	s.lastRun = run
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.AutoSyncTick(run.Result)
	}
	return run.Result
}

func (s *Scheduler) tick(ctx context.Context, run *Run) string {
	info, err := os.Stat(s.source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("auto sync source missing", zap.String("source", s.source))
			return ResultMissing
		}
		run.Error = err.Error()
		s.logger.Error("auto sync stat failed", zap.String("source", s.source), zap.Error(err))
		return ResultFailed
	}

	latest, err := s.store.LatestUpdate(ctx)
	if err != nil {
		run.Error = err.Error()
		s.logger.Error("auto sync store check failed", zap.Error(err))
		return ResultFailed
	}
	if !info.ModTime().After(latest) {
		return ResultUpToDate
	}

	s.logger.Info("auto sync source changed, ingesting",
		zap.String("source", s.source),
		zap.Time("modified", info.ModTime()),
		zap.Time("latest_update", latest),
	)
	res, err := s.ingestor.IngestFile(ctx, s.source, ingest.Options{CreateOnly: true})
	run.Ingest = res
	if err != nil {
		run.Error = err.Error()
		if apperrors.IsConflict(err) {
			s.logger.Info("auto sync skipped, ingest already running", zap.String("source", s.source))
			return ResultBusy
		}
		s.logger.Error("auto sync ingest failed", zap.String("source", s.source), zap.Error(err))
		return ResultFailed
	}
	return ResultIngested
}
