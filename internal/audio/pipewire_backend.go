package audio

// PipeWireBackend captures through pw-record subprocesses
type PipeWireBackend struct {
	*PipeWireRecorder
}

// Type returns the backend type
func (p *PipeWireBackend) Type() BackendType {
	return BackendTypePipeWire
}

// Close is a no-op; each stream owns its process
func (p *PipeWireBackend) Close() error {
	return nil
}

// PulseBackend captures through a PulseAudio protocol client
type PulseBackend struct {
	*PulseRecorder
}

// Type returns the backend type
func (p *PulseBackend) Type() BackendType {
	return BackendTypePulse
}
