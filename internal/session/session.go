package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/capture"
	"github.com/artigo/echolens/internal/wav"
)

// Target identifies the microphone a capture stream binds to
type Target struct {
	ID   uint32
	Name string
}

// Sink receives stream-level callbacks for one recording
type Sink interface {
	OnFormatNegotiated(f wav.Format)
	OnDataAvailable(data []byte)
}

// Stream is an open capture stream. Close stops delivery; once it returns, the
// sink receives no further callbacks.
type Stream interface {
	Close() error
}

// StreamFactory opens capture streams for microphones
type StreamFactory interface {
	OpenStream(target Target, requested wav.Format, sink Sink) (Stream, error)
}

// Session is an active or closing capture of one microphone
type Session struct {
	ID         string
	MicID      uint32
	MicName    string
	TriggerApp string
	RefCount   int
	StartedAt  time.Time

	logger *zap.SugaredLogger
	stream Stream
	buffer *capture.Buffer

	mu            sync.Mutex
	format        wav.Format
	droppedChunks int
}

// Info is a read-only snapshot of a session
type Info struct {
	ID            string     `json:"id"`
	MicID         uint32     `json:"mic_id"`
	MicName       string     `json:"mic_name"`
	TriggerApp    string     `json:"trigger_app"`
	RefCount      int        `json:"ref_count"`
	StartedAt     time.Time  `json:"started_at"`
	Format        wav.Format `json:"format"`
	BufferedBytes int        `json:"buffered_bytes"`
	DroppedChunks int        `json:"dropped_chunks"`
}

// OnFormatNegotiated records the format the stream settled on
func (s *Session) OnFormatNegotiated(f wav.Format) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.BitsPerSample == 0 {
		f.BitsPerSample = s.format.BitsPerSample
	}
	if f.Validate() != nil {
		s.logger.Warnw("Ignoring invalid negotiated format", "format", f)
		return
	}

	s.format = f
	s.logger.Debugw("Capture format negotiated", "channels", f.Channels, "rate", f.SampleRate)
}

// OnDataAvailable appends a chunk of raw audio to the session buffer
func (s *Session) OnDataAvailable(data []byte) {
	if err := s.buffer.Append(data); err != nil {
		s.mu.Lock()
		s.droppedChunks++
		s.mu.Unlock()
		s.logger.Warnw("Dropped audio chunk", "size", len(data), "error", err)
	}
}

// Format returns the current capture format
func (s *Session) Format() wav.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.Lock()
	format, dropped := s.format, s.droppedChunks
	s.mu.Unlock()

	return Info{
		ID:            s.ID,
		MicID:         s.MicID,
		MicName:       s.MicName,
		TriggerApp:    s.TriggerApp,
		RefCount:      s.RefCount,
		StartedAt:     s.StartedAt,
		Format:        format,
		BufferedBytes: s.buffer.Len(),
		DroppedChunks: dropped,
	}
}
