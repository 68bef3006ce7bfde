package audio

import (
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/config"
	"github.com/artigo/echolens/internal/session"
	"github.com/artigo/echolens/internal/topology"
	"github.com/artigo/echolens/internal/wav"
)

const dumpSnapshot = `[
  {
    "id": 31,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "alsa_input.pci-0000_00_1f.3.analog-stereo",
        "node.description": "Built-in Audio Analog Stereo",
        "media.class": "Audio/Source"
      }
    }
  },
  {
    "id": 52,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "Firefox",
        "media.class": "Stream/Input/Audio",
        "application.process.id": 4242
      }
    }
  },
  {
    "id": 60,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.description": "Chat",
        "media.class": "Stream/Input/Audio",
        "application.name": "Discord"
      }
    }
  },
  {
    "id": 70,
    "type": "PipeWire:Interface:Link",
    "info": {
      "output-node-id": 31,
      "input-node-id": 52,
      "props": { "link.output.node": 31, "link.input.node": 52 }
    }
  },
  {
    "id": 71,
    "type": "PipeWire:Interface:Link",
    "info": { "output-node-id": 31, "input-node-id": 60, "props": {} }
  },
  {
    "id": 3,
    "type": "PipeWire:Interface:Module",
    "info": { "props": { "module.name": "libpipewire-module-rt" } }
  }
]`

type recordedEvent struct {
	added   *topology.ObjectAdded
	removed uint32
}

type recordingListener struct {
	events []recordedEvent
}

func (l *recordingListener) OnObjectAdded(ev topology.ObjectAdded) {
	l.events = append(l.events, recordedEvent{added: &ev})
}

func (l *recordingListener) OnObjectRemoved(id uint32) {
	l.events = append(l.events, recordedEvent{removed: id})
}

func newTestMonitor() *Monitor {
	m := NewMonitor(zap.NewNop().Sugar())
	m.pw.lookup = func(pid int) string {
		if pid == 4242 {
			return "firefox-bin"
		}
		return ""
	}
	return m
}

func TestMonitor_InitialSnapshot(t *testing.T) {
	m := newTestMonitor()
	l := &recordingListener{}

	require.NoError(t, m.consume(strings.NewReader(dumpSnapshot), l))
	require.Len(t, l.events, 5, "module objects are not reported")

	mic := l.events[0].added
	require.NotNil(t, mic)
	assert.Equal(t, topology.ObjectNode, mic.Type)
	assert.Equal(t, uint32(31), mic.ID)
	assert.Equal(t, "alsa_input.pci-0000_00_1f.3.analog-stereo", mic.Name)
	assert.Equal(t, "Built-in Audio Analog Stereo", mic.Description)
	assert.Equal(t, "Audio/Source", mic.MediaClass)

	browser := l.events[1].added
	assert.Equal(t, "firefox-bin", browser.OwnerApp, "owner resolved from process id")

	chat := l.events[2].added
	assert.Equal(t, "Chat", chat.Name, "description used when node.name is missing")
	assert.Equal(t, "Discord", chat.OwnerApp)

	link := l.events[3].added
	assert.Equal(t, topology.ObjectLink, link.Type)
	assert.Equal(t, &topology.Endpoints{OutputNodeID: 31, InputNodeID: 52}, link.Endpoints)

	fromInfo := l.events[4].added
	assert.Equal(t, &topology.Endpoints{OutputNodeID: 31, InputNodeID: 60}, fromInfo.Endpoints)
}

func TestMonitor_UpdatesAndRemovals(t *testing.T) {
	m := newTestMonitor()
	l := &recordingListener{}

	stream := dumpSnapshot + `
[ { "id": 70, "type": "PipeWire:Interface:Link", "info": { "state": "active" } } ]
[ { "id": 70, "info": null }, { "id": 999, "info": null } ]
[ { "id": 70, "type": "PipeWire:Interface:Link", "info": { "props": { "link.output.node": "31", "link.input.node": "60" } } } ]
`
	require.NoError(t, m.consume(strings.NewReader(stream), l))
	require.Len(t, l.events, 7)

	assert.Equal(t, uint32(70), l.events[5].removed, "known id with null info is removed")
	readded := l.events[6].added
	require.NotNil(t, readded, "a reused id is announced again")
	assert.Equal(t, &topology.Endpoints{OutputNodeID: 31, InputNodeID: 60}, readded.Endpoints)
}

func TestMonitor_LinkWithoutEndpointsWaitsForUpdate(t *testing.T) {
	m := newTestMonitor()
	l := &recordingListener{}

	stream := `[ { "id": 80, "type": "PipeWire:Interface:Link", "info": { "props": {} } } ]
[ { "id": 80, "type": "PipeWire:Interface:Link", "info": { "output-node-id": 1, "input-node-id": 2 } } ]`

	require.NoError(t, m.consume(strings.NewReader(stream), l))
	require.Len(t, l.events, 1)
	assert.Equal(t, &topology.Endpoints{OutputNodeID: 1, InputNodeID: 2}, l.events[0].added.Endpoints)
}

func TestMonitor_MalformedStream(t *testing.T) {
	m := newTestMonitor()
	err := m.consume(strings.NewReader(`[ { "id": 1, `), &recordingListener{})
	assert.Error(t, err)
}

func TestSourcesFrom(t *testing.T) {
	var objects []dumpObject
	require.NoError(t, json.Unmarshal([]byte(dumpSnapshot), &objects))

	pw := &PipeWire{}
	var events []topology.ObjectAdded
	for _, obj := range objects {
		ev, err := pw.toEvent(obj)
		require.NoError(t, err)
		events = append(events, ev)
	}

	sources := sourcesFrom(events)
	require.Len(t, sources, 1)
	assert.Equal(t, Source{
		ID:          31,
		Name:        "alsa_input.pci-0000_00_1f.3.analog-stereo",
		Description: "Built-in Audio Analog Stereo",
		MediaClass:  "Audio/Source",
	}, sources[0])
}

func TestPropUint(t *testing.T) {
	props := map[string]any{
		"num":      float64(12),
		"str":      " 34 ",
		"negative": float64(-1),
		"garbage":  "x1",
		"bool":     true,
	}

	v, ok := propUint(props, "num")
	assert.True(t, ok)
	assert.Equal(t, uint32(12), v)

	v, ok = propUint(props, "str")
	assert.True(t, ok)
	assert.Equal(t, uint32(34), v)

	for _, key := range []string{"negative", "garbage", "bool", "missing"} {
		_, ok := propUint(props, key)
		assert.False(t, ok, key)
	}
}

func TestRecordArgs(t *testing.T) {
	r := NewPipeWireRecorder(zap.NewNop().Sugar(), "PipeWire-Auto-Recorder-Internal")
	args := r.recordArgs(session.Target{ID: 31, Name: "mic"}, wav.Format{Channels: 2, SampleRate: 48000, BitsPerSample: 16})

	assert.Equal(t, []string{
		"--target", "31",
		"--rate", "48000",
		"--channels", "2",
		"--format", "s16",
		"--raw",
		"-P", `{ application.name = "PipeWire-Auto-Recorder-Internal" }`,
		"-",
	}, args)
}

type collectingSink struct {
	mu     sync.Mutex
	format wav.Format
	data   []byte
}

func (s *collectingSink) OnFormatNegotiated(f wav.Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = f
}

func (s *collectingSink) OnDataAvailable(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, chunk...)
}

func TestPipeWireRecorder_DeliversProcessOutput(t *testing.T) {
	printf, err := exec.LookPath("printf")
	if err != nil {
		t.Skip("printf not available")
	}

	r := NewPipeWireRecorder(zap.NewNop().Sugar(), "self")
	r.newCommand = func([]string) *exec.Cmd {
		return exec.Command(printf, "abcd")
	}

	sink := &collectingSink{}
	stream, err := r.OpenStream(session.Target{ID: 1, Name: "mic"}, wav.Format{Channels: 1, SampleRate: 16000}, sink)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.data) == 4
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close(), "close is idempotent")

	assert.Equal(t, []byte("abcd"), sink.data)
	assert.Equal(t, wav.Format{Channels: 1, SampleRate: 16000, BitsPerSample: 16}, sink.format)
}

func TestPipeWireRecorder_StartFailure(t *testing.T) {
	r := NewPipeWireRecorder(zap.NewNop().Sugar(), "self")
	r.newCommand = func([]string) *exec.Cmd {
		return exec.Command("/nonexistent/pw-record")
	}

	_, err := r.OpenStream(session.Target{ID: 1, Name: "mic"}, wav.DefaultFormat, &collectingSink{})
	assert.Error(t, err)
}

func TestDetermineBackend(t *testing.T) {
	found := func(string) (string, error) { return "/usr/bin/pw-record", nil }
	missing := func(string) (string, error) { return "", errors.New("not found") }

	cfg := config.Default()
	assert.Equal(t, BackendTypePipeWire, determineBackend(&cfg, found))
	assert.Equal(t, BackendTypePulse, determineBackend(&cfg, missing))

	cfg.Audio.Backend = "Pulse"
	assert.Equal(t, BackendTypePulse, determineBackend(&cfg, found))

	cfg.Audio.Backend = "pipewire"
	assert.Equal(t, BackendTypePipeWire, determineBackend(&cfg, missing))
}

func TestEncodeInt16LE(t *testing.T) {
	out := encodeInt16LE(nil, []int16{1, -2, 0x1234})
	assert.Equal(t, []byte{0x01, 0x00, 0xfe, 0xff, 0x34, 0x12}, out)

	reused := encodeInt16LE(out, []int16{7})
	assert.Equal(t, []byte{0x07, 0x00}, reused)
}

func TestPulseFormat(t *testing.T) {
	assert.Equal(t, wav.Format{Channels: 1, SampleRate: 44100, BitsPerSample: 16},
		pulseFormat(wav.Format{Channels: 1, SampleRate: 44100, BitsPerSample: 16}))
	assert.Equal(t, wav.Format{Channels: 2, SampleRate: 48000, BitsPerSample: 16},
		pulseFormat(wav.Format{Channels: 6, SampleRate: 48000, BitsPerSample: 16}))
}
