package capture

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AppendPreservesArrivalOrder(t *testing.T) {
	buf := NewBuffer()

	chunks := [][]byte{
		[]byte("first-"),
		{},
		[]byte("second-"),
		bytes.Repeat([]byte{0xAB}, 4096),
		[]byte("third"),
	}

	var expected []byte
	for _, c := range chunks {
		require.NoError(t, buf.Append(c))
		expected = append(expected, c...)
	}

	assert.Equal(t, len(expected), buf.Len())
	assert.Equal(t, expected, buf.Bytes())
}

func TestBuffer_AppendCopiesChunk(t *testing.T) {
	buf := NewBuffer()
	chunk := []byte{1, 2, 3}
	require.NoError(t, buf.Append(chunk))

	chunk[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, buf.Bytes())
}

func TestBuffer_GrowFailureDropsChunkAndKeepsData(t *testing.T) {
	fail := false
	buf := NewBuffer(WithAllocator(func(capacity int) ([]byte, error) {
		if fail {
			return nil, errors.New("out of memory")
		}
		return make([]byte, 0, capacity), nil
	}))

	require.NoError(t, buf.Append([]byte("keep")))
	before := buf.Bytes()

	fail = true
	err := buf.Append(bytes.Repeat([]byte{0xFF}, 1024))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGrowFailed))
	assert.Equal(t, before, buf.Bytes(), "existing data must be unchanged after a failed grow")

	fail = false
	require.NoError(t, buf.Append([]byte("-more")))
	assert.Equal(t, []byte("keep-more"), buf.Bytes())
}

func TestBuffer_ShortAllocationIsRejected(t *testing.T) {
	buf := NewBuffer(WithAllocator(func(int) ([]byte, error) {
		return make([]byte, 0, 1), nil
	}))

	err := buf.Append([]byte("too long"))
	assert.ErrorIs(t, err, ErrGrowFailed)
	assert.Zero(t, buf.Len())
}

func TestMakeSlice_RecoversFromRuntimePanic(t *testing.T) {
	buf, err := makeSlice(-1)
	assert.Error(t, err)
	assert.Nil(t, buf)
}

func TestBuffer_ViewAndRelease(t *testing.T) {
	buf := NewBuffer()
	require.NoError(t, buf.Append([]byte("pcm")))

	var out bytes.Buffer
	require.NoError(t, buf.View(func(data []byte) error {
		_, err := out.Write(data)
		return err
	}))
	assert.Equal(t, "pcm", out.String())

	buf.Release()
	assert.Zero(t, buf.Len())
}

func TestBuffer_ConcurrentAppend(t *testing.T) {
	buf := NewBuffer()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = buf.Append([]byte{1, 2, 3, 4})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8*100*4, buf.Len())
}
