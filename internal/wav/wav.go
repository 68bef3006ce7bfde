// Package wav writes raw PCM as canonical 44-byte-header RIFF/WAVE files.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	HeaderSize = 44

	formatPCM = 1
)

// Format describes the PCM layout of the data being written
type Format struct {
	Channels      int `json:"channels" yaml:"channels"`
	SampleRate    int `json:"sample_rate" yaml:"sample_rate"`
	BitsPerSample int `json:"bits_per_sample" yaml:"bits_per_sample"`
}

// DefaultFormat is stereo, 48 kHz, 16-bit signed
var DefaultFormat = Format{Channels: 2, SampleRate: 48000, BitsPerSample: 16}

// ByteRate returns sampleRate * channels * bitsPerSample/8
func (f Format) ByteRate() uint32 {
	return uint32(f.SampleRate) * uint32(f.Channels) * uint32(f.BitsPerSample) / 8
}

// BlockAlign returns channels * bitsPerSample/8
func (f Format) BlockAlign() uint16 {
	return uint16(f.Channels * f.BitsPerSample / 8)
}

// Validate checks that the format can be expressed in a PCM header
func (f Format) Validate() error {
	if f.Channels <= 0 || f.Channels > math.MaxUint16 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("invalid bits per sample: %d", f.BitsPerSample)
	}
	return nil
}

type header struct {
	RiffID        [4]byte
	RiffSize      uint32
	WaveID        [4]byte
	FmtID         [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataID        [4]byte
	DataSize      uint32
}

// Encode writes the header followed by pcm to w
func Encode(w io.Writer, pcm []byte, f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if uint64(len(pcm)) > math.MaxUint32-36 {
		return errors.New("pcm data too large for a WAV file")
	}

	h := header{
		RiffID:        [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:      36 + uint32(len(pcm)),
		WaveID:        [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   formatPCM,
		Channels:      uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      f.ByteRate(),
		BlockAlign:    f.BlockAlign(),
		BitsPerSample: uint16(f.BitsPerSample),
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// WriteFile creates path and writes pcm into it as a WAV file. It never
// replaces an existing file: if path exists the returned error wraps
// os.ErrExist. On failure no partial file is left behind.
// An empty pcm slice writes nothing and returns 0 with no error.
func WriteFile(path string, pcm []byte, f Format) (int64, error) {
	if len(pcm) == 0 {
		return 0, nil
	}
	if err := f.Validate(); err != nil {
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}

	if err := Encode(file, pcm, f); err != nil {
		file.Close()
		os.Remove(path)
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}

	if err := file.Close(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("close %s: %w", path, err)
	}

	return int64(HeaderSize + len(pcm)), nil
}
