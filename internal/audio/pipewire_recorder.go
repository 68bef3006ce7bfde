package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/session"
	"github.com/artigo/echolens/internal/wav"
)

const (
	readChunkSize = 16 * 1024
	stopTimeout   = 3 * time.Second
)

// PipeWireRecorder opens capture streams by running pw-record against a node and
// reading raw s16 PCM from its stdout.
type PipeWireRecorder struct {
	logger  *zap.SugaredLogger
	appName string

	// newCommand builds the capture process; replaced in tests
	newCommand func(args []string) *exec.Cmd
}

// NewPipeWireRecorder creates a stream factory whose streams carry appName as
// their application name
func NewPipeWireRecorder(logger *zap.SugaredLogger, appName string) *PipeWireRecorder {
	return &PipeWireRecorder{
		logger:  logger.Named("pw-record"),
		appName: appName,
		newCommand: func(args []string) *exec.Cmd {
			return exec.Command("pw-record", args...)
		},
	}
}

// recordArgs builds the pw-record argument list for target
func (r *PipeWireRecorder) recordArgs(target session.Target, f wav.Format) []string {
	return []string{
		"--target", strconv.FormatUint(uint64(target.ID), 10),
		"--rate", strconv.Itoa(f.SampleRate),
		"--channels", strconv.Itoa(f.Channels),
		"--format", "s16",
		"--raw",
		"-P", fmt.Sprintf(`{ application.name = "%s" }`, r.appName),
		"-",
	}
}

// OpenStream starts capturing target. The negotiated format is the requested one
// with 16-bit samples, since pw-record converts to what it is asked for.
func (r *PipeWireRecorder) OpenStream(target session.Target, requested wav.Format, sink session.Sink) (session.Stream, error) {
	format := requested
	format.BitsPerSample = 16

	args := r.recordArgs(target, format)
	cmd := r.newCommand(args)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start capture for %s: %w", target.Name, err)
	}

	r.logger.Debugw("Capture process started", "target", target.ID, "name", target.Name, "args", strings.Join(args, " "))

	sink.OnFormatNegotiated(format)

	s := &pipeWireStream{
		logger: r.logger.With("target", target.Name),
		cmd:    cmd,
		done:   make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.readPCM(stdout, sink)
	}()
	go func() {
		defer readers.Done()
		s.readOutput(stderr)
	}()
	go func() {
		readers.Wait()
		close(s.done)
	}()

	return s, nil
}

type pipeWireStream struct {
	logger *zap.SugaredLogger
	cmd    *exec.Cmd
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// readPCM copies stdout into the sink chunk by chunk until EOF
func (s *pipeWireStream) readPCM(pipe io.Reader, sink session.Sink) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			sink.OnDataAvailable(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Debugw("Capture read ended", "error", err)
			}
			return
		}
	}
}

// readOutput logs the diagnostics the capture process writes
func (s *pipeWireStream) readOutput(pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		s.logger.Debugw("pw-record output", "line", scanner.Text())
	}
}

// Close interrupts the capture process and waits until all captured data has been
// delivered. It escalates to SIGKILL when the process does not exit in time.
func (s *pipeWireStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stop()
	})
	return s.closeErr
}

func (s *pipeWireStream) stop() error {
	if s.cmd.Process != nil {
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Debugw("Failed to interrupt capture process, killing", "error", err)
			_ = s.cmd.Process.Kill()
		}
	}

	select {
	case <-s.done:
	case <-time.After(stopTimeout):
		s.logger.Warn("Capture process did not exit within timeout, force killing")
		_ = s.cmd.Process.Kill()
		<-s.done
	}

	err := s.cmd.Wait()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status := exitErr.ProcessState.String(); status == "signal: interrupt" || status == "signal: killed" {
			return nil
		}
		// pw-record exits with 1 after an interrupt on some versions
		if exitErr.ExitCode() == 1 || exitErr.ExitCode() == 255 {
			return nil
		}
	}
	return fmt.Errorf("capture process failed: %w", err)
}
