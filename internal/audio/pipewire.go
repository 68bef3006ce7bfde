package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	ps "github.com/mitchellh/go-ps"

	"github.com/artigo/echolens/internal/topology"
)

const (
	interfaceNode = "PipeWire:Interface:Node"
	interfaceLink = "PipeWire:Interface:Link"

	sourceMediaClass = "Audio/Source"
)

// Source is a capture-capable node currently present in the graph
type Source struct {
	ID          uint32 `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	MediaClass  string `json:"media_class" yaml:"media_class"`
}

// dumpObject is one entry of pw-dump output. Info is null when the object was removed.
type dumpObject struct {
	ID   uint32          `json:"id"`
	Type string          `json:"type"`
	Info json.RawMessage `json:"info"`
}

type dumpInfo struct {
	OutputNodeID *uint32        `json:"output-node-id"`
	InputNodeID  *uint32        `json:"input-node-id"`
	Props        map[string]any `json:"props"`
}

func (o dumpObject) removed() bool {
	return len(o.Info) == 0 || string(o.Info) == "null"
}

func (o dumpObject) info() (dumpInfo, error) {
	var info dumpInfo
	if o.removed() {
		return info, nil
	}
	if err := json.Unmarshal(o.Info, &info); err != nil {
		return info, fmt.Errorf("decode info of object %d: %w", o.ID, err)
	}
	return info, nil
}

// ProcessLookup resolves a process id to an executable name
type ProcessLookup func(pid int) string

// lookupProcess resolves pid through the process table
func lookupProcess(pid int) string {
	p, err := ps.FindProcess(pid)
	if err != nil || p == nil {
		return ""
	}
	return p.Executable()
}

// PipeWire reads graph state through the pw-dump tool
type PipeWire struct {
	command string
	lookup  ProcessLookup
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{command: "pw-dump", lookup: lookupProcess}
}

// Dump runs a one-shot pw-dump and returns the decoded objects
func (pw *PipeWire) Dump(ctx context.Context) ([]topology.ObjectAdded, error) {
	cmd := exec.CommandContext(ctx, pw.command, "--no-colors")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", pw.command, err)
	}

	var objects []dumpObject
	if err := json.NewDecoder(bytes.NewReader(output)).Decode(&objects); err != nil {
		return nil, fmt.Errorf("failed to parse %s output: %w", pw.command, err)
	}

	events := make([]topology.ObjectAdded, 0, len(objects))
	for _, obj := range objects {
		if obj.removed() {
			continue
		}
		ev, err := pw.toEvent(obj)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// ListSources returns every node whose media class marks it as an audio source
func (pw *PipeWire) ListSources(ctx context.Context) ([]Source, error) {
	events, err := pw.Dump(ctx)
	if err != nil {
		return nil, err
	}
	return sourcesFrom(events), nil
}

func sourcesFrom(events []topology.ObjectAdded) []Source {
	var sources []Source
	for _, ev := range events {
		if ev.Type != topology.ObjectNode || !strings.Contains(ev.MediaClass, sourceMediaClass) {
			continue
		}
		sources = append(sources, Source{
			ID:          ev.ID,
			Name:        ev.Name,
			Description: ev.Description,
			MediaClass:  ev.MediaClass,
		})
	}
	return sources
}

// toEvent converts a pw-dump object into an added notification
func (pw *PipeWire) toEvent(obj dumpObject) (topology.ObjectAdded, error) {
	info, err := obj.info()
	if err != nil {
		return topology.ObjectAdded{}, err
	}

	ev := topology.ObjectAdded{ID: obj.ID}

	switch obj.Type {
	case interfaceNode:
		ev.Type = topology.ObjectNode
		ev.Name = propString(info.Props, "node.name")
		ev.Description = propString(info.Props, "node.description")
		if ev.Name == "" {
			ev.Name = ev.Description
		}
		ev.MediaClass = propString(info.Props, "media.class")
		ev.OwnerApp = propString(info.Props, "application.name")
		if ev.OwnerApp == "" && pw.lookup != nil {
			if pid, ok := propUint(info.Props, "application.process.id"); ok {
				ev.OwnerApp = pw.lookup(int(pid))
			}
		}

	case interfaceLink:
		ev.Type = topology.ObjectLink
		ev.Endpoints = linkEndpoints(info)

	default:
		ev.Type = topology.ObjectOther
	}

	return ev, nil
}

// linkEndpoints prefers the link.*.node props and falls back to the info ids
func linkEndpoints(info dumpInfo) *topology.Endpoints {
	out, outOK := propUint(info.Props, "link.output.node")
	in, inOK := propUint(info.Props, "link.input.node")

	if !outOK && info.OutputNodeID != nil {
		out, outOK = *info.OutputNodeID, true
	}
	if !inOK && info.InputNodeID != nil {
		in, inOK = *info.InputNodeID, true
	}

	if !outOK || !inOK {
		return nil
	}
	return &topology.Endpoints{OutputNodeID: out, InputNodeID: in}
}

func propString(props map[string]any, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func propUint(props map[string]any, key string) (uint32, bool) {
	switch v := props[key].(type) {
	case float64:
		if v < 0 || v > float64(^uint32(0)) {
			return 0, false
		}
		return uint32(v), true
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return 0, false
		}
		return uint32(n), true
	default:
		return 0, false
	}
}
