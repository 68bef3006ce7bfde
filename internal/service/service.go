package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/audio"
	"github.com/artigo/echolens/internal/config"
	"github.com/artigo/echolens/internal/graph"
	"github.com/artigo/echolens/internal/session"
	"github.com/artigo/echolens/internal/topology"
)

// ErrNotRunning is returned by queries made while the dispatch loop is not running
var ErrNotRunning = errors.New("recorder is not running")

// Service represents the core echolens service interface
type Service interface {
	// Run watches the graph until ctx is cancelled
	Run(ctx context.Context) error

	// Information operations
	GetStatus(ctx context.Context) (*Status, error)
	ListSources(ctx context.Context) ([]audio.Source, error)
	ListRecordings() ([]RecordingFile, error)
	RecordingPath(name string) (string, error)
	GetConfig() *config.Config
	GetLastError() string
}

// EventSource feeds graph notifications to a listener until ctx is cancelled
type EventSource interface {
	Run(ctx context.Context, l topology.Listener) error
}

// SourceLister lists capture-capable nodes
type SourceLister interface {
	ListSources(ctx context.Context) ([]audio.Source, error)
}

// State is the coarse recorder state reported to clients
type State string

const (
	StateStopped   State = "STOPPED"
	StateWatching  State = "WATCHING"
	StateRecording State = "RECORDING"
)

// Microphone is a source node with the number of links consuming it
type Microphone struct {
	graph.DeviceNode
	Links int `json:"links"`
}

// Status is a snapshot of the recorder taken on the dispatch goroutine
type Status struct {
	State           State          `json:"state"`
	Backend         string         `json:"backend,omitempty"`
	OutputDirectory string         `json:"output_directory"`
	Nodes           int            `json:"nodes"`
	Links           int            `json:"links"`
	RecordingLinks  int            `json:"recording_links"`
	Microphones     []Microphone   `json:"microphones"`
	Sessions        []session.Info `json:"sessions"`
	LastError       string         `json:"last_error,omitempty"`
}

// RecordingFile describes a saved recording in the output directory
type RecordingFile struct {
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	Size          int64     `json:"size"`
	SizeHuman     string    `json:"size_human"`
	ModTime       time.Time `json:"mod_time"`
	ModTimeHuman  string    `json:"mod_time_human"`
	DownloadURL   string    `json:"download_url"`
	Transcript    string    `json:"transcript,omitempty"`
	TranscriptURL string    `json:"transcript_url,omitempty"`
}

// Options wires the recorder to its collaborators
type Options struct {
	Events    EventSource
	Sources   SourceLister
	Factory   session.StreamFactory
	Observers []session.Observer
	Backend   string
}

// Recorder is the main service implementation. Graph tables and sessions are only
// touched from the goroutine running Run.
type Recorder struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	events  EventSource
	sources SourceLister
	backend string

	handler  *topology.Handler
	dispatch chan func()

	runMutex sync.Mutex
	running  bool
	stopped  chan struct{}

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new recorder service instance
func New(cfg *config.Config, logger *zap.SugaredLogger, opts Options) *Recorder {
	logger = logger.Named("recorder")

	tables := graph.NewTables(cfg.Limits.MaxNodes, cfg.Limits.MaxLinks)
	sessions := session.NewManager(logger, session.Options{
		Factory:         opts.Factory,
		Format:          wavFormat(cfg),
		OutputDirectory: cfg.Output.Directory,
		MaxSessions:     cfg.Limits.MaxSessions,
		Observers:       opts.Observers,
	})

	r := &Recorder{
		cfg:      cfg,
		logger:   logger,
		events:   opts.Events,
		sources:  opts.Sources,
		backend:  opts.Backend,
		handler:  topology.NewHandler(logger, tables, sessions, cfg.Recorder.AppName),
		dispatch: make(chan func()),
		stopped:  make(chan struct{}),
	}
	sessions.AddObserver(r)

	return r
}

// Run starts the event source and processes its notifications and queued
// queries on the calling goroutine. On return every open session has been
// finalized. Run may be called once.
func (s *Recorder) Run(ctx context.Context) error {
	s.runMutex.Lock()
	if s.running {
		s.runMutex.Unlock()
		return errors.New("recorder already started")
	}
	s.running = true
	s.runMutex.Unlock()
	defer close(s.stopped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sourceDone := make(chan error, 1)
	go func() {
		sourceDone <- s.events.Run(ctx, &dispatchListener{ctx: ctx, dispatch: s.dispatch, target: s.handler})
	}()

	s.logger.Infow("Recorder started", "output", s.cfg.Output.Directory, "self", s.cfg.Recorder.AppName)

	for {
		select {
		case fn := <-s.dispatch:
			fn()

		case err := <-sourceDone:
			s.shutdown()
			if err != nil {
				s.setLastError(fmt.Sprintf("Graph monitor stopped: %v", err))
				return fmt.Errorf("graph monitor: %w", err)
			}
			return nil

		case <-ctx.Done():
			s.drain(sourceDone)
			s.shutdown()
			return nil
		}
	}
}

// drain keeps serving queued work until the event source has returned
func (s *Recorder) drain(sourceDone <-chan error) {
	for {
		select {
		case fn := <-s.dispatch:
			fn()
		case <-sourceDone:
			return
		}
	}
}

func (s *Recorder) shutdown() {
	sessions := s.handler.Sessions()
	if n := sessions.Len(); n > 0 {
		s.logger.Infow("Finalizing open recordings", "count", n)
	}
	if err := sessions.CloseAll(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to save recordings on shutdown: %v", err))
	}
	s.logger.Info("Recorder stopped")
}

// Do runs fn on the dispatch goroutine and waits for it to complete
func (s *Recorder) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.dispatch <- func() {
		defer close(done)
		fn()
	}:
	case <-s.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// GetStatus returns a consistent snapshot of the graph and active sessions
func (s *Recorder) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{
		State:           StateStopped,
		Backend:         s.backend,
		OutputDirectory: s.cfg.Output.Directory,
		LastError:       s.GetLastError(),
	}

	err := s.Do(ctx, func() {
		tables := s.handler.Graph()
		status.Nodes = len(tables.Nodes())
		status.Links = len(tables.Links())
		status.RecordingLinks = s.handler.CountedLinks()
		for _, mic := range tables.Microphones() {
			status.Microphones = append(status.Microphones, Microphone{
				DeviceNode: mic,
				Links:      tables.CountLinksFrom(mic.ID),
			})
		}
		status.Sessions = s.handler.Sessions().Sessions()

		status.State = StateWatching
		if len(status.Sessions) > 0 {
			status.State = StateRecording
		}
	})
	if errors.Is(err, ErrNotRunning) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}
	return status, nil
}

// ListSources lists the microphones currently present
func (s *Recorder) ListSources(ctx context.Context) ([]audio.Source, error) {
	if s.sources == nil {
		return nil, errors.New("source listing not available")
	}
	return s.sources.ListSources(ctx)
}

// ListRecordings returns the WAV files in the output directory, newest first
func (s *Recorder) ListRecordings() ([]RecordingFile, error) {
	return ListRecordings(s.cfg.Output.Directory)
}

// RecordingPath resolves a file name inside the output directory
func (s *Recorder) RecordingPath(name string) (string, error) {
	return RecordingPath(s.cfg.Output.Directory, name)
}

// GetConfig returns the current configuration
func (s *Recorder) GetConfig() *config.Config {
	return s.cfg
}

// GetLastError returns the last error message (thread-safe)
func (s *Recorder) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *Recorder) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	s.logger.Errorw("Service error occurred", "error_message", err)
}

// RecordingFailed records save failures as the last error
func (s *Recorder) RecordingFailed(info session.Info, err error) {
	s.setLastError(fmt.Sprintf("Failed to save recording of %s: %v", info.MicName, err))
}

func (s *Recorder) RecordingStarted(session.Info)              {}
func (s *Recorder) RecordingStopped(session.Info)              {}
func (s *Recorder) RecordingSaved(session.Info, string, int64) {}

// ListRecordings returns the WAV files in dir, newest first
func ListRecordings(dir string) ([]RecordingFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []RecordingFile{}, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	recordings := []RecordingFile{}
	for _, file := range files {
		if file.IsDir() || strings.ToLower(filepath.Ext(file.Name())) != ".wav" {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		rec := RecordingFile{
			Name:         file.Name(),
			Path:         filepath.Join(dir, file.Name()),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			DownloadURL:  downloadURL(file.Name()),
		}

		transcript := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name())) + ".txt"
		if _, err := os.Stat(filepath.Join(dir, transcript)); err == nil {
			rec.Transcript = transcript
			rec.TranscriptURL = downloadURL(transcript)
		}

		recordings = append(recordings, rec)
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})

	return recordings, nil
}

func downloadURL(name string) string {
	return "/api/files/download/" + url.PathEscape(name)
}

// RecordingPath joins dir and name after checking that name is a plain .wav or
// .txt file name
func RecordingPath(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid file name: %q", name)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".txt":
	default:
		return "", fmt.Errorf("unsupported file type: %q", name)
	}

	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("recording not found: %s: %w", name, err)
	}
	return path, nil
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
