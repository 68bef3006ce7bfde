package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTables_AddFindRemoveNode(t *testing.T) {
	tables := NewTables(4, 4)

	require.NoError(t, tables.AddNode(10, "alsa_input.usb-mic", "", true))
	require.NoError(t, tables.AddNode(20, "Firefox", "Firefox", false))

	node, ok := tables.FindNode(10)
	require.True(t, ok)
	assert.Equal(t, "alsa_input.usb-mic", node.Name)
	assert.True(t, node.IsSource)
	assert.Empty(t, node.OwnerApp)

	_, ok = tables.FindNode(99)
	assert.False(t, ok)

	assert.True(t, tables.RemoveNode(10))
	assert.False(t, tables.RemoveNode(10))
	_, ok = tables.FindNode(10)
	assert.False(t, ok)
}

func TestTables_RemovePreservesOrder(t *testing.T) {
	tables := NewTables(10, 10)
	for _, id := range []uint32{1, 2, 3, 4} {
		require.NoError(t, tables.AddNode(id, "n", "", false))
		require.NoError(t, tables.AddLink(100+id, id, id+1))
	}

	tables.RemoveNode(2)
	tables.RemoveLink(103)

	var nodeIDs []uint32
	for _, n := range tables.Nodes() {
		nodeIDs = append(nodeIDs, n.ID)
	}
	assert.Equal(t, []uint32{1, 3, 4}, nodeIDs)

	var linkIDs []uint32
	for _, l := range tables.Links() {
		linkIDs = append(linkIDs, l.ID)
	}
	assert.Equal(t, []uint32{101, 102, 104}, linkIDs)
}

func TestTables_CapacityExceeded(t *testing.T) {
	tables := NewTables(2, 1)

	require.NoError(t, tables.AddNode(1, "a", "", false))
	require.NoError(t, tables.AddNode(2, "b", "", false))
	err := tables.AddNode(3, "c", "", false)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	_, ok := tables.FindNode(3)
	assert.False(t, ok, "node beyond capacity must not be inserted")

	require.NoError(t, tables.AddLink(50, 1, 2))
	err = tables.AddLink(51, 2, 1)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Len(t, tables.Links(), 1)
}

func TestTables_ReAddReplacesInPlace(t *testing.T) {
	tables := NewTables(1, 1)

	require.NoError(t, tables.AddNode(1, "old", "", false))
	require.NoError(t, tables.AddNode(1, "new", "App", true), "re-announcing a tracked id must not hit capacity")

	node, ok := tables.FindNode(1)
	require.True(t, ok)
	assert.Equal(t, "new", node.Name)
	assert.Equal(t, "App", node.OwnerApp)
	assert.True(t, node.IsSource)
	assert.Len(t, tables.Nodes(), 1)

	require.NoError(t, tables.AddLink(7, 1, 2))
	require.NoError(t, tables.AddLink(7, 1, 3))
	link, ok := tables.FindLink(7)
	require.True(t, ok)
	assert.Equal(t, uint32(3), link.SinkNodeID)
}

func TestTables_RemoveUnknownIsNoop(t *testing.T) {
	tables := NewTables(0, 0)
	assert.False(t, tables.RemoveNode(42))
	assert.False(t, tables.RemoveLink(42))
	assert.Empty(t, tables.Nodes())
	assert.Empty(t, tables.Links())
}

func TestTables_MicrophonesAndLinkCount(t *testing.T) {
	tables := NewTables(10, 10)
	require.NoError(t, tables.AddNode(1, "mic", "", true))
	require.NoError(t, tables.AddNode(2, "speaker", "", false))
	require.NoError(t, tables.AddLink(10, 1, 3))
	require.NoError(t, tables.AddLink(11, 1, 4))
	require.NoError(t, tables.AddLink(12, 1, 1))

	mics := tables.Microphones()
	require.Len(t, mics, 1)
	assert.Equal(t, uint32(1), mics[0].ID)
	assert.Equal(t, 2, tables.CountLinksFrom(1))
	assert.True(t, Link{SourceNodeID: 5, SinkNodeID: 5}.IsSelfLoop())
}
