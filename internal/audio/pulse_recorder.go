package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/session"
	"github.com/artigo/echolens/internal/wav"
)

// PulseRecorder opens capture streams through the PulseAudio protocol, which
// PipeWire serves through pipewire-pulse. Sources are matched by node name.
type PulseRecorder struct {
	logger *zap.SugaredLogger
	client *pulse.Client
}

// NewPulseRecorder connects to the PulseAudio server as appName
func NewPulseRecorder(logger *zap.SugaredLogger, appName string) (*PulseRecorder, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName(appName))
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	return &PulseRecorder{
		logger: logger.Named("pulse"),
		client: client,
	}, nil
}

// pulseFormat clamps the requested format to what a pulse record stream delivers
func pulseFormat(requested wav.Format) wav.Format {
	f := wav.Format{Channels: 2, SampleRate: requested.SampleRate, BitsPerSample: 16}
	if requested.Channels == 1 {
		f.Channels = 1
	}
	return f
}

// OpenStream starts a record stream on the source named target.Name
func (r *PulseRecorder) OpenStream(target session.Target, requested wav.Format, sink session.Sink) (session.Stream, error) {
	source, err := r.client.SourceByID(target.Name)
	if err != nil {
		return nil, fmt.Errorf("find source %s: %w", target.Name, err)
	}

	format := pulseFormat(requested)

	opts := []pulse.RecordOption{
		pulse.RecordSource(source),
		pulse.RecordSampleRate(format.SampleRate),
	}
	if format.Channels == 1 {
		opts = append(opts, pulse.RecordMono)
	} else {
		opts = append(opts, pulse.RecordStereo)
	}

	var scratch []byte
	writer := pulse.Int16Writer(func(samples []int16) (int, error) {
		scratch = encodeInt16LE(scratch, samples)
		sink.OnDataAvailable(scratch)
		return len(samples), nil
	})

	stream, err := r.client.NewRecord(writer, opts...)
	if err != nil {
		return nil, fmt.Errorf("create record stream for %s: %w", target.Name, err)
	}

	sink.OnFormatNegotiated(format)
	stream.Start()

	r.logger.Debugw("Record stream started", "source", target.Name, "channels", format.Channels, "rate", format.SampleRate)

	return &pulseStream{stream: stream}, nil
}

// Close disconnects from the server
func (r *PulseRecorder) Close() error {
	r.client.Close()
	return nil
}

// encodeInt16LE writes samples into dst as little-endian bytes, reusing its storage
func encodeInt16LE(dst []byte, samples []int16) []byte {
	n := len(samples) * 2
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
	return dst
}

type pulseStream struct {
	stream *pulse.RecordStream
	once   sync.Once
}

func (s *pulseStream) Close() error {
	s.once.Do(func() {
		s.stream.Stop()
		s.stream.Close()
	})
	return nil
}
