package graph

import (
	"errors"
	"fmt"
)

// ErrCapacityExceeded is returned when a table is already holding its maximum number of entries
var ErrCapacityExceeded = errors.New("capacity exceeded")

const (
	DefaultMaxNodes = 100
	DefaultMaxLinks = 100
)

// DeviceNode is one audio graph endpoint (device or application port)
type DeviceNode struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	IsSource bool   `json:"is_source"`
	OwnerApp string `json:"owner_app,omitempty"`
}

// Link is a directed connection from a source (output) node to a sink (input) node
type Link struct {
	ID           uint32 `json:"id"`
	SourceNodeID uint32 `json:"source_node_id"`
	SinkNodeID   uint32 `json:"sink_node_id"`
}

// IsSelfLoop reports whether both ends of the link are the same node
func (l Link) IsSelfLoop() bool {
	return l.SourceNodeID == l.SinkNodeID
}

// Tables holds the bounded registries of tracked nodes and links.
// Entries keep their insertion order; removal shifts the remaining ones down.
type Tables struct {
	maxNodes int
	maxLinks int

	nodes []DeviceNode
	links []Link
}

// NewTables creates empty tables. Non-positive capacities fall back to the defaults.
func NewTables(maxNodes, maxLinks int) *Tables {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}

	return &Tables{
		maxNodes: maxNodes,
		maxLinks: maxLinks,
		nodes:    make([]DeviceNode, 0, maxNodes),
		links:    make([]Link, 0, maxLinks),
	}
}

// FindNode looks up a node by id
func (t *Tables) FindNode(id uint32) (*DeviceNode, bool) {
	for i := range t.nodes {
		if t.nodes[i].ID == id {
			return &t.nodes[i], true
		}
	}
	return nil, false
}

// AddNode registers a node. An id that is already tracked gets its attributes replaced.
func (t *Tables) AddNode(id uint32, name, ownerApp string, isSource bool) error {
	if node, ok := t.FindNode(id); ok {
		node.Name = name
		node.OwnerApp = ownerApp
		node.IsSource = isSource
		return nil
	}

	if len(t.nodes) >= t.maxNodes {
		return fmt.Errorf("add node %d: %w (max %d)", id, ErrCapacityExceeded, t.maxNodes)
	}

	t.nodes = append(t.nodes, DeviceNode{
		ID:       id,
		Name:     name,
		IsSource: isSource,
		OwnerApp: ownerApp,
	})
	return nil
}

// RemoveNode removes the node with the given id and reports whether it was tracked
func (t *Tables) RemoveNode(id uint32) bool {
	for i := range t.nodes {
		if t.nodes[i].ID == id {
			t.nodes = append(t.nodes[:i], t.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// FindLink looks up a link by id
func (t *Tables) FindLink(id uint32) (*Link, bool) {
	for i := range t.links {
		if t.links[i].ID == id {
			return &t.links[i], true
		}
	}
	return nil, false
}

// AddLink registers a link. An id that is already tracked gets its endpoints replaced.
func (t *Tables) AddLink(id, sourceNodeID, sinkNodeID uint32) error {
	if link, ok := t.FindLink(id); ok {
		link.SourceNodeID = sourceNodeID
		link.SinkNodeID = sinkNodeID
		return nil
	}

	if len(t.links) >= t.maxLinks {
		return fmt.Errorf("add link %d: %w (max %d)", id, ErrCapacityExceeded, t.maxLinks)
	}

	t.links = append(t.links, Link{
		ID:           id,
		SourceNodeID: sourceNodeID,
		SinkNodeID:   sinkNodeID,
	})
	return nil
}

// RemoveLink removes the link with the given id and reports whether it was tracked
func (t *Tables) RemoveLink(id uint32) bool {
	for i := range t.links {
		if t.links[i].ID == id {
			t.links = append(t.links[:i], t.links[i+1:]...)
			return true
		}
	}
	return false
}

// Nodes returns a copy of the tracked nodes in insertion order
func (t *Tables) Nodes() []DeviceNode {
	out := make([]DeviceNode, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Links returns a copy of the tracked links in insertion order
func (t *Tables) Links() []Link {
	out := make([]Link, len(t.links))
	copy(out, t.links)
	return out
}

// Microphones returns the tracked nodes classified as audio sources
func (t *Tables) Microphones() []DeviceNode {
	var mics []DeviceNode
	for _, n := range t.nodes {
		if n.IsSource {
			mics = append(mics, n)
		}
	}
	return mics
}

// CountLinksFrom returns how many tracked links leave the given node, self-loops excluded
func (t *Tables) CountLinksFrom(nodeID uint32) int {
	count := 0
	for _, l := range t.links {
		if l.SourceNodeID == nodeID && !l.IsSelfLoop() {
			count++
		}
	}
	return count
}
