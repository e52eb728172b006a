package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/captured/cmd"
	"github.com/smazurov/captured/internal/config"
	"github.com/smazurov/captured/internal/fleet"
	"github.com/smazurov/captured/internal/health"
	"github.com/smazurov/captured/internal/logging"
	"github.com/smazurov/captured/internal/server"
	"github.com/smazurov/captured/internal/storage"
	"github.com/smazurov/captured/internal/systemdnotify"
	"github.com/smazurov/captured/internal/transcode"
)

// stopGracePeriod bounds how long the fleet and HTTP server stages of the
// shutdown cascade wait before moving on.
const stopGracePeriod = 10 * time.Second

// reencodeShutdownWait bounds how long shutdown waits for the re-encoder's
// Run loop to return. The shared context is cancelled before this wait
// begins, so a re-encode in flight is interrupted (its temp deleted, no
// swap) rather than allowed to finish.
const reencodeShutdownWait = 30 * time.Second

func main() {
	root := cmd.Root()
	root.Short = "Capture/storage/re-encode daemon, or a control command against one already running"
	root.RunE = func(c *cobra.Command, args []string) error {
		return runDaemon(cmd.ConfigPath())
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(configPath string) error {
	if configPath == "" {
		configPath = "config.toml"
	}
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return err
	}
	logging.Initialize(cfg.Logging)
	logger := logging.GetLogger("main")

	shuttingDown := &atomic.Bool{}

	f := fleet.New(cfg, "ffmpeg", func(module string) logging.Logger { return logging.GetLogger(module) })
	sm := storage.New(cfg.RecordingsBaseDirectory, func(id string) string {
		if src, ok := cfg.Sources[id]; ok {
			return src.Dir
		}
		return fmt.Sprintf("%s/%s", cfg.RecordingsBaseDirectory, id)
	})

	var engine *transcode.Engine
	if cfg.Transcoder.Enabled {
		stats, statsErr := transcode.LoadStats(cfg.RecordingsBaseDirectory)
		if statsErr != nil {
			return statsErr
		}
		engine = transcode.New(&cfg.Transcoder, cfg.RecordingsBaseDirectory, "ffmpeg", "ffprobe", logging.GetLogger("transcode"), shuttingDown, stats)
	}

	monitor := health.New(&cfg.Storage, f, sm, engine, logging.GetLogger("health"))
	srv := server.NewServer(cfg, f, sm, engine, logging.GetLogger("server"))

	watcher := config.NewConfigWatcher(configPath, func(path string) (*config.Config, error) {
		return config.Load(path, nil)
	}, logging.GetLogger("config"))
	watcher.OnReload(func(newCfg *config.Config) {
		logging.Initialize(newCfg.Logging)
		logger.Info("configuration file changed, log level and format reapplied")
	})
	if watchErr := watcher.Start(); watchErr != nil {
		logger.Warn("failed to start config file watcher, edits to the config file will require a restart", "error", watchErr)
	} else {
		defer watcher.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range f.IDs() {
		if src, ok := cfg.Sources[id]; ok && src.Enabled {
			if startErr := f.Start(id); startErr != nil {
				logger.Error("failed to start source", "id", id, "error", startErr)
			}
		}
	}

	go monitor.Run(ctx)

	var engineDone chan struct{}
	if engine != nil {
		engineDone = make(chan struct{})
		go func() {
			defer close(engineDone)
			engine.Run(ctx)
		}()
	}

	serverErrors := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		if startErr := srv.Start(addr); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
			serverErrors <- startErr
		}
	}()

	notifier := systemdnotify.New()
	notifier.Ready()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case startErr := <-serverErrors:
		logger.Error("http server failed", "error", startErr)
	}

	notifier.Stopping()
	shuttingDown.Store(true)
	cancel()

	if engineDone != nil {
		select {
		case <-engineDone:
		case <-time.After(reencodeShutdownWait):
			logger.Warn("re-encoder did not settle within the shutdown window, continuing")
		}
	}

	f.Shutdown(stopGracePeriod)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopGracePeriod)
	defer stopCancel()
	if stopErr := srv.Stop(stopCtx); stopErr != nil {
		logger.Error("error stopping http server", "error", stopErr)
	}

	return nil
}
