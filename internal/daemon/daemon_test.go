package daemon_test

import (
	"context"
	"testing"

	"bandaid/internal/daemon"
	"bandaid/internal/logging"
	"bandaid/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""

	d, err := daemon.New(ctx, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.LockFilePath != cfg.LockFilePath() {
		t.Fatalf("status = %+v", status)
	}

	d.Stop()
	status, err = d.Status(ctx)
	if err != nil {
		t.Fatalf("status after stop: %v", err)
	}
	if status.Running {
		t.Fatal("daemon still reports running after stop")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""

	first, err := daemon.New(ctx, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	defer first.Close()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer first.Stop()

	second, err := daemon.New(ctx, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new second daemon: %v", err)
	}
	defer second.Close()
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("second instance must fail to acquire the lock")
	}
}

func TestDaemonRestartResumesEngine(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""

	d, err := daemon.New(ctx, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	d.Stop()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	d.Stop()
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
