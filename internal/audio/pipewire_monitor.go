package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/topology"
)

// ErrMonitorExited is returned when the graph monitor stops on its own
var ErrMonitorExited = errors.New("graph monitor exited")

// Monitor follows the PipeWire graph through `pw-dump --monitor` and reports node
// and link changes to a listener. Each id is announced once; a later entry with a
// null info for an announced id is reported as a removal.
type Monitor struct {
	logger  *zap.SugaredLogger
	pw      *PipeWire
	command string

	known map[uint32]struct{}
}

// NewMonitor creates a graph monitor
func NewMonitor(logger *zap.SugaredLogger) *Monitor {
	pw := NewPipeWire()
	return &Monitor{
		logger:  logger.Named("monitor"),
		pw:      pw,
		command: pw.command,
		known:   make(map[uint32]struct{}),
	}
}

// Run starts the monitor process and feeds l until ctx is cancelled or the process
// exits. It returns nil after cancellation.
func (m *Monitor) Run(ctx context.Context, l topology.Listener) error {
	args := []string{"--monitor", "--no-colors"}
	cmd := exec.CommandContext(ctx, m.command, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", m.command, err)
	}

	m.logger.Infow("Watching PipeWire graph", "command", m.command+" "+strings.Join(args, " "), "pid", cmd.Process.Pid)

	consumeErr := m.consume(stdout, l)
	if consumeErr != nil {
		// unblock the writer so Wait can return
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		m.logger.Debug("Graph monitor stopped")
		return nil
	}
	if consumeErr != nil {
		return consumeErr
	}
	if waitErr != nil {
		return fmt.Errorf("%w: %v (stderr: %s)", ErrMonitorExited, waitErr, strings.TrimSpace(stderr.String()))
	}
	return ErrMonitorExited
}

// consume decodes the stream of JSON arrays pw-dump writes, one per update
func (m *Monitor) consume(r io.Reader, l topology.Listener) error {
	dec := json.NewDecoder(r)
	for {
		var batch []dumpObject
		if err := dec.Decode(&batch); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode graph update: %w", err)
		}
		m.apply(batch, l)
	}
}

func (m *Monitor) apply(batch []dumpObject, l topology.Listener) {
	for _, obj := range batch {
		_, known := m.known[obj.ID]

		if obj.removed() {
			if known {
				delete(m.known, obj.ID)
				l.OnObjectRemoved(obj.ID)
			}
			continue
		}

		if known || (obj.Type != interfaceNode && obj.Type != interfaceLink) {
			continue
		}

		ev, err := m.pw.toEvent(obj)
		if err != nil {
			m.logger.Debugw("Skipping malformed graph object", "id", obj.ID, "error", err)
			continue
		}
		if ev.Type == topology.ObjectLink && ev.Endpoints == nil {
			// announced again once the endpoints are known
			m.logger.Debugw("Link without endpoints yet", "id", obj.ID)
			continue
		}

		m.known[obj.ID] = struct{}{}
		l.OnObjectAdded(ev)
	}
}
