package transcribe

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/session"
)

const queueSize = 16

// Worker transcribes saved recordings one at a time in the background. It
// implements session.Observer so it can be attached to the session manager.
type Worker struct {
	logger      *zap.SugaredLogger
	transcriber *Transcriber

	jobs      chan string
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWorker starts a background worker. Pending jobs are abandoned when ctx is
// cancelled; Close waits for the worker to exit.
func NewWorker(ctx context.Context, logger *zap.SugaredLogger, t *Transcriber) *Worker {
	w := &Worker{
		logger:      logger.Named("transcribe-worker"),
		transcriber: t,
		jobs:        make(chan string, queueSize),
	}

	w.wg.Add(1)
	go w.loop(ctx)

	return w
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case path, ok := <-w.jobs:
			if !ok {
				return
			}
			if _, err := w.transcriber.Transcribe(ctx, path, ""); err != nil {
				w.logger.Errorw("Transcription failed", "file", path, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Enqueue schedules path for transcription. It reports false when the queue is full.
func (w *Worker) Enqueue(path string) bool {
	select {
	case w.jobs <- path:
		return true
	default:
		w.logger.Warnw("Transcription queue full, skipping", "file", path)
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.jobs) })
	w.wg.Wait()
}

func (w *Worker) RecordingSaved(_ session.Info, path string, _ int64) {
	w.Enqueue(path)
}

func (w *Worker) RecordingStarted(session.Info)      {}
func (w *Worker) RecordingStopped(session.Info)      {}
func (w *Worker) RecordingFailed(session.Info, error) {}
