package daemon_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"quill/internal/config"
	"quill/internal/daemon"
	"quill/internal/miner"
	"quill/internal/pipeline"
	"quill/internal/testsupport"
)

type stubRunner struct {
	calls       atomic.Int32
	hadDeadline atomic.Bool
}

func (r *stubRunner) Run(ctx context.Context) (pipeline.Result, error) {
	r.calls.Add(1)
	_, ok := ctx.Deadline()
	r.hadDeadline.Store(ok)
	return pipeline.Result{RunID: "run", Outcome: pipeline.OutcomeNoWork}, nil
}

type stubMiner struct{}

func (stubMiner) Mine(context.Context) (miner.Result, error) {
	return miner.Result{}, nil
}

func newDaemon(t *testing.T, cfg *config.Config, runner *stubRunner) *daemon.Daemon {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, daemon.Deps{Runner: runner, Miner: stubMiner{}, Store: st})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func withoutSchedule(cfg *config.Config) {
	cfg.Schedule.Enabled = false
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(withoutSchedule))
	d := newDaemon(t, cfg, &stubRunner{})
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.NextGenerate != nil || status.NextMine != nil {
		t.Fatalf("unexpected schedule without cron: %+v", status)
	}
	if d.Addr() == "" {
		t.Fatal("expected bound api address")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockExcludesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(withoutSchedule))
	first := newDaemon(t, cfg, &stubRunner{})
	second := newDaemon(t, cfg, &stubRunner{})
	ctx := context.Background()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	err := second.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "quill.lock") {
		t.Fatalf("second Start err = %v, want lock conflict", err)
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
}

func TestDaemonSchedulesJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Schedule.Enabled = true
		cfg.Schedule.Timezone = "UTC"
		cfg.Schedule.Generate = "0 9 * * *"
		cfg.Schedule.Mine = ""
	}))
	d := newDaemon(t, cfg, &stubRunner{})
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := d.Status(ctx)
	if status.NextGenerate == nil {
		t.Fatal("expected next generate time")
	}
	if status.NextGenerate.UTC().Hour() != 9 || !status.NextGenerate.After(time.Now()) {
		t.Fatalf("next generate = %v", status.NextGenerate)
	}
	if status.NextMine != nil {
		t.Fatalf("mine job scheduled without spec: %v", status.NextMine)
	}
}

func TestDaemonRejectsInvalidSchedule(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Schedule.Enabled = true
		cfg.Schedule.Timezone = "UTC"
		cfg.Schedule.Generate = "every morning"
	}))
	d := newDaemon(t, cfg, &stubRunner{})

	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected invalid cron spec to fail start")
	}
	if d.Status(context.Background()).Running {
		t.Fatal("daemon must not run after failed start")
	}
	// The lock is released, so a fixed config can start.
	cfg.Schedule.Generate = "0 9 * * *"
	retry := newDaemon(t, cfg, &stubRunner{})
	if err := retry.Start(context.Background()); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
}

func TestGenerateAppliesRunTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Schedule.Enabled = false
		cfg.Pipeline.RunTimeoutSeconds = 60
	}))
	runner := &stubRunner{}
	d := newDaemon(t, cfg, runner)

	result, err := d.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Outcome != pipeline.OutcomeNoWork {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if runner.calls.Load() != 1 || !runner.hadDeadline.Load() {
		t.Fatalf("calls=%d deadline=%v", runner.calls.Load(), runner.hadDeadline.Load())
	}
}

func TestStatusCountsTopicsAndArticles(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(withoutSchedule))
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedTopic(t, st, "Первая тема", 8)
	testsupport.SeedTopic(t, st, "Вторая тема", 7)
	d, err := daemon.New(cfg, daemon.Deps{Runner: &stubRunner{}, Miner: stubMiner{}, Store: st})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	status := d.Status(context.Background())
	if status.Topics["pending"] != 2 || status.Articles != 0 {
		t.Fatalf("status = %+v", status)
	}
	if status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("database path = %q", status.DatabasePath)
	}
}
