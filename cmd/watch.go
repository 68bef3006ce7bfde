package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artigo/echolens/internal/audio"
	"github.com/artigo/echolens/internal/metrics"
	"github.com/artigo/echolens/internal/server"
	"github.com/artigo/echolens/internal/service"
	"github.com/artigo/echolens/internal/session"
	"github.com/artigo/echolens/internal/transcribe"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the audio graph and record microphones while they are in use",
	Long: `Watch the PipeWire graph and start a recording whenever an application
links to a microphone. The recording is saved when the last application
disconnects. Press Ctrl+C to stop; open recordings are finalized first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return watch(ctx)
	},
}

func init() {
	addWatchFlags(watchCmd)
}

func watch(ctx context.Context) error {
	if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	backend, err := audio.NewBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialise capture backend: %w", err)
	}
	defer backend.Close()

	collector := metrics.NewCollector()
	observers := []session.Observer{collector}

	var worker *transcribe.Worker
	if cfg.Transcribe.Enabled {
		// recordings finalized at shutdown are still transcribed
		worker = transcribe.NewWorker(context.WithoutCancel(ctx), logger, transcribe.New(logger, cfg.Transcribe))
		observers = append(observers, worker)
	}

	svc := service.New(cfg, logger, service.Options{
		Events:    audio.NewMonitor(logger),
		Sources:   audio.NewPipeWire(),
		Factory:   backend,
		Observers: observers,
		Backend:   string(backend.Type()),
	})

	serverDone := make(chan struct{})
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if cfg.Server.Listen != "" {
		srv := server.New(svc, collector, logger, cfg.Server.Listen)
		go func() {
			defer close(serverDone)
			if err := srv.Start(serverCtx); err != nil {
				logger.Errorw("Status server failed", "error", err)
			}
		}()
	} else {
		close(serverDone)
	}

	logger.Infow("Watching for microphone use",
		"backend", backend.Type(),
		"output", cfg.Output.Directory,
		"max_sessions", cfg.Limits.MaxSessions)

	runErr := svc.Run(ctx)

	stopServer()
	<-serverDone

	if worker != nil {
		logger.Info("Waiting for pending transcriptions")
		worker.Close()
	}

	if runErr != nil {
		return fmt.Errorf("recorder stopped: %w", runErr)
	}

	logger.Info("Recorder stopped")
	return nil
}
