package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/metrics"
	"quill/internal/miner"
	"quill/internal/pipeline"
	"quill/internal/store"
)

// Runner executes one generation cycle.
type Runner interface {
	Run(ctx context.Context) (pipeline.Result, error)
}

// Miner executes one topic discovery cycle.
type Miner interface {
	Mine(ctx context.Context) (miner.Result, error)
}

// Store is the persistence the daemon reads for status and the public API.
type Store interface {
	ListPublished(ctx context.Context, limit int) ([]store.Article, error)
	IncrementViews(ctx context.Context, slug string) error
	TopicCounts(ctx context.Context) (map[store.Status]int, error)
	ArticleCount(ctx context.Context) (int, error)
}

// Deps are the collaborators of a Daemon. Metrics may be nil.
type Deps struct {
	Runner  Runner
	Miner   Miner
	Store   Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Daemon serves the trigger and feed API, runs scheduled jobs, and holds the
// single-instance lock of its data directory.
type Daemon struct {
	cfg  *config.Config
	deps Deps

	lockPath string
	lock     *flock.Flock
	cron     *cron.Cron
	jobs     map[string]cron.EntryID
	api      *apiServer

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"database_path"`
	LockPath     string         `json:"lock_path"`
	Topics       map[string]int `json:"topics"`
	Articles     int            `json:"articles"`
	NextGenerate *time.Time     `json:"next_generate,omitempty"`
	NextMine     *time.Time     `json:"next_mine,omitempty"`
}

const (
	jobGenerate = "generate"
	jobMine     = "mine"
)

// New constructs a daemon.
func New(cfg *config.Config, deps Deps) (*Daemon, error) {
	if cfg == nil || deps.Runner == nil || deps.Miner == nil || deps.Store == nil {
		return nil, errors.New("daemon requires config, runner, miner, and store")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		deps:     deps,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		jobs:     make(map[string]cron.EntryID),
	}
	d.api = newAPIServer(cfg, d, logging.NewComponentLogger(deps.Logger, "api-server"))
	return d, nil
}

// Start acquires the lock, schedules the jobs and starts the API listener.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another quill serve instance holds %s", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.cfg.Schedule.Enabled {
		if err := d.schedule(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.stopCron()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.deps.Logger.Info("quill daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("schedule", d.cfg.Schedule.Enabled),
	)
	return nil
}

// Stop cancels in-flight jobs, stops the scheduler and the API, and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopCron()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.deps.Logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.deps.Logger.Info("quill daemon stopped")
}

// Addr is the bound API address, useful when the configured port is 0.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

func (d *Daemon) schedule(ctx context.Context) error {
	loc, err := time.LoadLocation(d.cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("load schedule timezone %q: %w", d.cfg.Schedule.Timezone, err)
	}
	logger := logging.NewComponentLogger(d.deps.Logger, "scheduler")
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{logger: logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
	)

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{jobGenerate, d.cfg.Schedule.Generate, func(ctx context.Context) error { _, err := d.Generate(ctx); return err }},
		{jobMine, d.cfg.Schedule.Mine, func(ctx context.Context) error { _, err := d.Mine(ctx); return err }},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		job := job
		id, err := c.AddFunc(job.spec, func() {
			if err := job.run(ctx); err != nil {
				logger.Debug("scheduled job finished with error", logging.String("job", job.name), logging.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
		d.jobs[job.name] = id
		logger.Info("job scheduled",
			logging.String("job", job.name),
			logging.String("cron", job.spec),
			logging.String("timezone", loc.String()),
		)
	}
	c.Start()
	d.cron = c
	return nil
}

func (d *Daemon) stopCron() {
	if d.cron == nil {
		return
	}
	<-d.cron.Stop().Done()
	d.cron = nil
	d.jobs = make(map[string]cron.EntryID)
}

// Generate runs one pipeline cycle under the configured run deadline.
func (d *Daemon) Generate(ctx context.Context) (pipeline.Result, error) {
	ctx, cancel := d.runContext(ctx)
	defer cancel()
	return d.deps.Runner.Run(ctx)
}

// Mine runs one topic discovery cycle under the configured run deadline.
func (d *Daemon) Mine(ctx context.Context) (miner.Result, error) {
	ctx, cancel := d.runContext(ctx)
	defer cancel()
	return d.deps.Miner.Mine(ctx)
}

func (d *Daemon) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if seconds := d.cfg.Pipeline.RunTimeoutSeconds; seconds > 0 {
		return context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
	}
	return context.WithCancel(ctx)
}

// Status returns the current daemon status. Store failures leave the counts empty.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockPath:     d.lockPath,
		Topics:       map[string]int{},
	}
	if counts, err := d.deps.Store.TopicCounts(ctx); err == nil {
		for s, n := range counts {
			status.Topics[string(s)] = n
		}
	} else {
		d.deps.Logger.Debug("topic counts unavailable", logging.Error(err))
	}
	if n, err := d.deps.Store.ArticleCount(ctx); err == nil {
		status.Articles = n
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		if id, ok := d.jobs[jobGenerate]; ok {
			next := d.cron.Entry(id).Next
			status.NextGenerate = &next
		}
		if id, ok := d.jobs[jobMine]; ok {
			next := d.cron.Entry(id).Next
			status.NextMine = &next
		}
	}
	return status
}

// cronLogger adapts slog to the scheduler's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, logging.Error(err))...)
}
