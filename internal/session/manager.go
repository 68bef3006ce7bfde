package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/capture"
	"github.com/artigo/echolens/internal/graph"
	"github.com/artigo/echolens/internal/wav"
)

// DefaultMaxSessions bounds the number of concurrent recordings
const DefaultMaxSessions = 10

const maxNameAttempts = 1000

// ErrSessionExists is returned by Create when the microphone is already being recorded
var ErrSessionExists = errors.New("session already exists")

// Observer is notified about session lifecycle transitions
type Observer interface {
	RecordingStarted(info Info)
	RecordingStopped(info Info)
	RecordingSaved(info Info, path string, size int64)
	RecordingFailed(info Info, err error)
}

// Options configures a Manager
type Options struct {
	Factory         StreamFactory
	Format          wav.Format
	OutputDirectory string
	MaxSessions     int
	Observers       []Observer
	Clock           func() time.Time
	BufferOptions   []capture.Option
}

// Manager creates, ref-counts and finalizes recording sessions.
// It is not safe for concurrent use; all calls are expected from one dispatch goroutine.
type Manager struct {
	logger    *zap.SugaredLogger
	factory   StreamFactory
	format    wav.Format
	outputDir string
	max       int
	observers []Observer
	now       func() time.Time
	bufOpts   []capture.Option

	sessions []*Session
}

// NewManager creates a session manager
func NewManager(logger *zap.SugaredLogger, opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Format == (wav.Format{}) {
		opts.Format = wav.DefaultFormat
	}
	if opts.OutputDirectory == "" {
		opts.OutputDirectory = "."
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Manager{
		logger:    logger.Named("session"),
		factory:   opts.Factory,
		format:    opts.Format,
		outputDir: opts.OutputDirectory,
		max:       opts.MaxSessions,
		observers: opts.Observers,
		now:       opts.Clock,
		bufOpts:   opts.BufferOptions,
		sessions:  make([]*Session, 0, opts.MaxSessions),
	}
}

// AddObserver registers an additional lifecycle observer
func (m *Manager) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Find returns the active session for a microphone
func (m *Manager) Find(micID uint32) (*Session, bool) {
	for _, s := range m.sessions {
		if s.MicID == micID {
			return s, true
		}
	}
	return nil, false
}

// Create starts a new recording session for micID with a reference count of one.
// A stream that fails to open leaves the session tracked without audio so that the
// reference count keeps matching the graph.
func (m *Manager) Create(micID uint32, micName, triggerApp string) (*Session, error) {
	if _, exists := m.Find(micID); exists {
		return nil, fmt.Errorf("create session for mic %d: %w", micID, ErrSessionExists)
	}
	if len(m.sessions) >= m.max {
		return nil, fmt.Errorf("create session for mic %d: %w (max %d)", micID, graph.ErrCapacityExceeded, m.max)
	}

	id := uuid.NewString()
	s := &Session{
		ID:         id,
		MicID:      micID,
		MicName:    micName,
		TriggerApp: triggerApp,
		RefCount:   1,
		StartedAt:  m.now(),
		logger:     m.logger.With("session", id, "mic", micName),
		buffer:     capture.NewBuffer(m.bufOpts...),
		format:     m.format,
	}
	m.sessions = append(m.sessions, s)

	m.logger.Infow("Starting recording", "mic", micName, "mic_id", micID, "triggered_by", triggerApp, "session", id)

	if m.factory != nil {
		stream, err := m.factory.OpenStream(Target{ID: micID, Name: micName}, m.format, s)
		if err != nil {
			m.logger.Errorw("Failed to open capture stream", "mic", micName, "error", err)
		} else {
			s.stream = stream
		}
	}

	info := s.Info()
	for _, o := range m.observers {
		o.RecordingStarted(info)
	}

	return s, nil
}

// IncrementRef registers one more consumer for s
func (m *Manager) IncrementRef(s *Session) {
	s.RefCount++
	m.logger.Debugw("Incremented ref count", "mic", s.MicName, "ref_count", s.RefCount)
}

// DecrementAndMaybeClose drops one consumer from s and finalizes the session when
// none remain. It reports whether the session was closed; a non-nil error means the
// recording could not be saved.
func (m *Manager) DecrementAndMaybeClose(s *Session) (bool, error) {
	s.RefCount--
	m.logger.Debugw("Decremented ref count", "mic", s.MicName, "ref_count", s.RefCount)

	if s.RefCount > 0 {
		return false, nil
	}
	return true, m.finalize(s)
}

// CloseAll finalizes every active session regardless of its ref count
func (m *Manager) CloseAll() error {
	var errs []error
	for len(m.sessions) > 0 {
		if err := m.finalize(m.sessions[0]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sessions returns snapshots of all active sessions
func (m *Manager) Sessions() []Info {
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	return out
}

// Len returns the number of active sessions
func (m *Manager) Len() int {
	return len(m.sessions)
}

// finalize stops the stream, writes the WAV file, then releases the buffer and
// forgets the session. The file is fully written before the buffer is released.
func (m *Manager) finalize(s *Session) error {
	m.logger.Infow("Stopping recording, saving file", "mic", s.MicName, "session", s.ID)

	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			m.logger.Warnw("Failed to close capture stream", "mic", s.MicName, "error", err)
		}
		s.stream = nil
	}

	// no callbacks arrive after Close, so this snapshot is final
	info := s.Info()
	for _, o := range m.observers {
		o.RecordingStopped(info)
	}

	name := FileName(m.now(), s.MicName, s.TriggerApp)
	format := s.Format()

	var (
		path string
		size int64
	)
	err := s.buffer.View(func(pcm []byte) error {
		if len(pcm) == 0 {
			return nil
		}
		if err := os.MkdirAll(m.outputDir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		var err error
		path, size, err = m.writeUnique(name, pcm, format)
		return err
	})

	s.buffer.Release()
	m.remove(s)

	if err != nil {
		m.logger.Errorw("Failed to save recording", "name", name, "error", err)
		for _, o := range m.observers {
			o.RecordingFailed(info, err)
		}
		return fmt.Errorf("save recording for %s: %w", s.MicName, err)
	}

	if size == 0 {
		m.logger.Infow("No audio captured, nothing saved", "mic", s.MicName)
		return nil
	}

	m.logger.Infow("Recording saved", "path", path, "bytes", size)
	for _, o := range m.observers {
		o.RecordingSaved(info, path, size)
	}
	return nil
}

// writeUnique writes pcm to name in the output directory. When a file of that
// name already exists it tries name-1.wav, name-2.wav and so on.
func (m *Manager) writeUnique(name string, pcm []byte, format wav.Format) (string, int64, error) {
	for n := 0; n <= maxNameAttempts; n++ {
		path := filepath.Join(m.outputDir, NumberedFileName(name, n))
		size, err := wav.WriteFile(path, pcm, format)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return path, size, err
	}
	return "", 0, fmt.Errorf("no free file name for %s after %d attempts: %w", name, maxNameAttempts, os.ErrExist)
}

func (m *Manager) remove(s *Session) {
	for i, candidate := range m.sessions {
		if candidate == s {
			m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
			return
		}
	}
}
