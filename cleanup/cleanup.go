// Package cleanup runs periodic pruning of expired records.
//
// Every task must be idempotent: runs may overlap with concurrent issuance
// and with runs on other instances sharing the store.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Defaults.
const (
	DefaultInterval = time.Hour
	DefaultTimeout  = 5 * time.Minute
)

// Func deletes expired items and returns how many.
type Func func(ctx context.Context) (int64, error)

// Task is a named cleanup step.
type Task struct {
	Name string
	Run  Func
}

// Config holds cleanup worker configuration.
type Config struct {
	// Tasks run in order on every tick.
	Tasks []Task

	// Interval is how often to run. Defaults to DefaultInterval.
	Interval time.Duration

	// Timeout bounds a single run. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Logger receives run results. Defaults to slog.Default.
	Logger *slog.Logger

	// OnRun is called after every run with its joined error.
	OnRun func(err error)
}

// Stats are cumulative worker statistics.
type Stats struct {
	Runs    int64
	LastRun time.Time
	Deleted map[string]int64
	Errors  int64
}

// Worker performs periodic cleanup.
type Worker struct {
	cfg  Config
	done chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	mu    sync.Mutex
	stats Stats
}

// NewWorker creates a cleanup worker.
func NewWorker(cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		cfg:   cfg,
		done:  make(chan struct{}),
		stats: Stats{Deleted: make(map[string]int64)},
	}
}

// Start launches the background loop. It runs once immediately and then
// every Interval.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.run()
	})
}

// Stop ends the loop and waits for an in-flight run.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()

	w.tick()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Worker) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()
	_, _ = w.RunNow(ctx)
}

// RunNow runs every task once and returns the per-task deletion counts.
// A failing task does not stop the others; their errors are joined.
func (w *Worker) RunNow(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(w.cfg.Tasks))
	var errs []error
	for _, t := range w.cfg.Tasks {
		n, err := t.Run(ctx)
		if err != nil {
			w.cfg.Logger.Error("cleanup task failed", "task", t.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		counts[t.Name] = n
		if n > 0 {
			w.cfg.Logger.Info("cleanup removed expired records", "task", t.Name, "count", n)
		}
	}
	err := errors.Join(errs...)

	w.mu.Lock()
	w.stats.Runs++
	w.stats.LastRun = time.Now()
	w.stats.Errors += int64(len(errs))
	for name, n := range counts {
		w.stats.Deleted[name] += n
	}
	w.mu.Unlock()

	if w.cfg.OnRun != nil {
		w.cfg.OnRun(err)
	}
	return counts, err
}

// Stats returns a snapshot of the worker statistics.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Deleted = make(map[string]int64, len(w.stats.Deleted))
	for k, v := range w.stats.Deleted {
		s.Deleted[k] = v
	}
	return s
}
