package audio

import (
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/config"
	"github.com/artigo/echolens/internal/session"
)

// BackendType represents the type of capture backend
type BackendType string

const (
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypePulse    BackendType = "pulse"
	BackendTypeAuto     BackendType = "auto"
)

// Backend opens capture streams for recording sessions
type Backend interface {
	session.StreamFactory

	// Type returns the backend type
	Type() BackendType

	// Close releases backend resources. Streams must be closed first.
	Close() error
}

// NewBackend creates the capture backend selected by configuration
func NewBackend(cfg *config.Config, logger *zap.SugaredLogger) (Backend, error) {
	backendType := determineBackend(cfg, exec.LookPath)

	switch backendType {
	case BackendTypePulse:
		rec, err := NewPulseRecorder(logger, cfg.Recorder.AppName)
		if err != nil {
			return nil, err
		}
		logger.Debugw("Using capture backend", "backend", backendType)
		return &PulseBackend{PulseRecorder: rec}, nil
	default:
		logger.Debugw("Using capture backend", "backend", BackendTypePipeWire)
		return &PipeWireBackend{PipeWireRecorder: NewPipeWireRecorder(logger, cfg.Recorder.AppName)}, nil
	}
}

// determineBackend resolves "auto" to pipewire when pw-record is installed and to
// pulse otherwise
func determineBackend(cfg *config.Config, lookPath func(string) (string, error)) BackendType {
	switch strings.ToLower(cfg.Audio.Backend) {
	case string(BackendTypePipeWire):
		return BackendTypePipeWire
	case string(BackendTypePulse):
		return BackendTypePulse
	}

	if _, err := lookPath("pw-record"); err == nil {
		return BackendTypePipeWire
	}
	return BackendTypePulse
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{}

	if _, err := exec.LookPath("pw-record"); err == nil {
		backends = append(backends, BackendTypePipeWire)
	}
	// pulse is reachable whenever a server answers; probed lazily on use
	backends = append(backends, BackendTypePulse)

	return backends
}
