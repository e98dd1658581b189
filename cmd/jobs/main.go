// Command jobs is the worker process manager: run a worker in the
// foreground (work, workoff), fork a pool of detached worker processes
// (start), signal them to drain (stop), or purge the queue (clear).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/outpostlabs/jobengine/config"
	"github.com/outpostlabs/jobengine/internal/bootstrap"
	"github.com/outpostlabs/jobengine/internal/health"
	"github.com/outpostlabs/jobengine/internal/jobregistry"
	"github.com/outpostlabs/jobengine/internal/metrics"
	"github.com/outpostlabs/jobengine/internal/notify"
	"github.com/outpostlabs/jobengine/internal/worker"

	_ "github.com/outpostlabs/jobengine/jobs"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := bootstrap.NewLogger(cfg.Env, cfg.SlogLevel())

	var cmdErr error
	switch os.Args[1] {
	case "work":
		cmdErr = runWork(cfg, logger, os.Args[2:], false)
	case "workoff":
		cmdErr = runWork(cfg, logger, os.Args[2:], true)
	case "start":
		cmdErr = runStart(cfg, logger, os.Args[2:])
	case "stop":
		cmdErr = runStop(cfg, logger, os.Args[2:])
	case "clear":
		cmdErr = runClear(cfg, logger)
	default:
		usage()
		os.Exit(1)
	}

	if cmdErr != nil {
		logger.Error("command failed", "command", os.Args[1], "error", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: jobs <work|workoff|start|stop|clear> [flags]")
}

func runWork(cfg *config.Config, logger *slog.Logger, args []string, workoff bool) error {
	fs := pflag.NewFlagSet("work", pflag.ExitOnError)
	queue := fs.StringP("queue", "q", cfg.Queue, "restrict this worker to one queue")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics.Register()
	checker := health.NewChecker(cfg.StoreDriver, store.Pinger, logger, prometheus.DefaultRegisterer)
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	id := worker.DefaultID(*queue)
	opts := worker.Options{
		Queue:           *queue,
		MaxAttempts:     cfg.MaxAttempts,
		MaxRuntime:      time.Duration(cfg.MaxRuntimeSec) * time.Second,
		WaitTime:        time.Duration(cfg.WaitTimeMs) * time.Millisecond,
		MaxClaimRetries: cfg.MaxClaimRetries,
	}
	w := worker.New(id, store.Adapter, jobregistry.Default, logger, opts, workoff)
	w.SetNotifier(notify.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, cfg.ResendTo, logger))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Info("interrupt received, draining")
		w.Stop()
	}()

	err = w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return err
}

func runClear(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()
	store, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Adapter.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	logger.Info("queue cleared")
	return nil
}

func runStart(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := pflag.NewFlagSet("start", pflag.ExitOnError)
	n := fs.StringP("n", "n", "", "worker count: an integer, or comma-separated queue:count pairs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	specs, err := parseSpec(*n)
	if err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	for _, spec := range specs {
		for i := 0; i < spec.count; i++ {
			childArgs := []string{"work"}
			if spec.queue != "" {
				childArgs = append(childArgs, "--queue="+spec.queue)
			}
			cmd := exec.Command(self, childArgs...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
			if err := cmd.Start(); err != nil {
				return fmt.Errorf("fork worker: %w", err)
			}
			if err := writePidFile(cfg.RunDir, spec.queue, cmd.Process.Pid); err != nil {
				return fmt.Errorf("write pidfile: %w", err)
			}
			logger.Info("worker started", "queue", spec.queue, "pid", cmd.Process.Pid)
		}
	}
	return nil
}

func runStop(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := pflag.NewFlagSet("stop", pflag.ExitOnError)
	n := fs.StringP("n", "n", "", "queue spec to target, e.g. default:2,email:1; empty targets every worker")
	if err := fs.Parse(args); err != nil {
		return err
	}

	specs, err := parseSpec(*n)
	if err != nil {
		return err
	}

	stopped := 0
	for _, spec := range specs {
		pidFiles, err := listPidFiles(cfg.RunDir, spec.queue)
		if err != nil {
			return err
		}
		for _, pf := range pidFiles {
			if err := syscall.Kill(pf.pid, syscall.SIGINT); err != nil {
				logger.Warn("signal worker", "pid", pf.pid, "error", err)
				continue
			}
			_ = os.Remove(pf.path)
			stopped++
		}
	}
	logger.Info("stop signaled", "workers", stopped)
	return nil
}
