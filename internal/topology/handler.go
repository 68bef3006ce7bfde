// Package topology maps graph add/remove notifications onto the graph tables and
// drives recording sessions from them.
package topology

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/graph"
	"github.com/artigo/echolens/internal/session"
)

const (
	// DefaultSelfAppName is the application name the recorder's own capture streams carry
	DefaultSelfAppName = "PipeWire-Auto-Recorder-Internal"

	// UnknownApp names the trigger when the consuming node is not tracked
	UnknownApp = "UnknownApp"

	sourceMediaClass = "Audio/Source"
)

// Handler is the topology state machine. It owns the graph tables and session
// manager it is given and must be driven from a single goroutine.
type Handler struct {
	logger   *zap.SugaredLogger
	graph    *graph.Tables
	sessions *session.Manager
	selfApp  string

	// links currently holding a reference on a session
	counted map[uint32]struct{}
}

// NewHandler creates a handler. An empty selfApp falls back to DefaultSelfAppName.
func NewHandler(logger *zap.SugaredLogger, tables *graph.Tables, sessions *session.Manager, selfApp string) *Handler {
	if selfApp == "" {
		selfApp = DefaultSelfAppName
	}

	return &Handler{
		logger:   logger.Named("topology"),
		graph:    tables,
		sessions: sessions,
		selfApp:  selfApp,
		counted:  make(map[uint32]struct{}),
	}
}

// Graph returns the tables the handler mutates
func (h *Handler) Graph() *graph.Tables {
	return h.graph
}

// Sessions returns the session manager the handler drives
func (h *Handler) Sessions() *session.Manager {
	return h.sessions
}

// OnObjectAdded handles a graph-object-added notification
func (h *Handler) OnObjectAdded(ev ObjectAdded) {
	switch ev.Type {
	case ObjectNode:
		h.addNode(ev)
	case ObjectLink:
		h.addLink(ev)
	}
}

func (h *Handler) addNode(ev ObjectAdded) {
	isSource := strings.Contains(ev.MediaClass, sourceMediaClass)

	if err := h.graph.AddNode(ev.ID, ev.Name, ev.OwnerApp, isSource); err != nil {
		h.logger.Warnw("Node not tracked", "id", ev.ID, "name", ev.Name, "error", err)
		return
	}

	h.logger.Debugw("Node added", "id", ev.ID, "name", ev.Name, "app", ev.OwnerApp, "source", isSource)
}

func (h *Handler) addLink(ev ObjectAdded) {
	if ev.Endpoints == nil {
		h.logger.Debugw("Ignoring link without endpoints", "id", ev.ID)
		return
	}
	if _, tracked := h.graph.FindLink(ev.ID); tracked {
		h.logger.Debugw("Ignoring repeated link announcement", "id", ev.ID)
		return
	}

	out, in := ev.Endpoints.OutputNodeID, ev.Endpoints.InputNodeID
	if err := h.graph.AddLink(ev.ID, out, in); err != nil {
		h.logger.Warnw("Link not tracked", "id", ev.ID, "error", err)
		return
	}

	if out == in {
		return
	}

	mic, micFound := h.node(out)
	app, appFound := h.node(in)

	if !micFound || !mic.IsSource {
		return
	}

	if appFound && app.OwnerApp == h.selfApp {
		h.logger.Debugw("Ignoring own capture link", "id", ev.ID, "mic", mic.Name)
		return
	}

	trigger := UnknownApp
	if appFound {
		trigger = app.Name
	}

	h.logger.Infow("Mic in use", "mic", mic.Name, "by", trigger, "link", ev.ID)

	if s, ok := h.sessions.Find(mic.ID); ok {
		h.sessions.IncrementRef(s)
		h.counted[ev.ID] = struct{}{}
		return
	}

	if _, err := h.sessions.Create(mic.ID, mic.Name, trigger); err != nil {
		if errors.Is(err, graph.ErrCapacityExceeded) {
			h.logger.Warnw("Recording not started", "mic", mic.Name, "error", err)
		} else {
			h.logger.Errorw("Recording not started", "mic", mic.Name, "error", err)
		}
		return
	}
	h.counted[ev.ID] = struct{}{}
}

// OnObjectRemoved handles a graph-object-removed notification. Links are looked
// up before nodes.
func (h *Handler) OnObjectRemoved(id uint32) {
	link, ok := h.graph.FindLink(id)
	if !ok {
		if h.graph.RemoveNode(id) {
			h.logger.Debugw("Node removed", "id", id)
		}
		return
	}
	l := *link

	if l.IsSelfLoop() {
		h.graph.RemoveLink(id)
		return
	}

	mic, micFound := h.node(l.SourceNodeID)
	app, appFound := h.node(l.SinkNodeID)

	if _, counted := h.counted[id]; counted {
		delete(h.counted, id)

		appName := UnknownApp
		if appFound {
			appName = app.Name
		}
		h.logger.Infow("Mic released", "mic_id", l.SourceNodeID, "by", appName, "link", id)

		if s, ok := h.sessions.Find(l.SourceNodeID); ok {
			if _, err := h.sessions.DecrementAndMaybeClose(s); err != nil {
				h.logger.Errorw("Recording lost", "mic", s.MicName, "error", err)
			}
		}
		h.graph.RemoveLink(id)
		return
	}

	if micFound && mic.IsSource {
		if appFound && app.OwnerApp == h.selfApp {
			h.logger.Debugw("Own capture link removed", "id", id, "mic", mic.Name)
		}
		h.graph.RemoveLink(id)
		return
	}

	h.graph.RemoveLink(id)
	h.graph.RemoveNode(id)
}

// node returns a copy so callers are not affected by later table mutation
func (h *Handler) node(id uint32) (graph.DeviceNode, bool) {
	n, ok := h.graph.FindNode(id)
	if !ok {
		return graph.DeviceNode{}, false
	}
	return *n, true
}

// CountedLinks returns how many live links currently hold a session reference
func (h *Handler) CountedLinks() int {
	return len(h.counted)
}
