package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// AudioDecoder yields interleaved integer samples from an encoded file.
type AudioDecoder interface {
	// PCMBuffer fills buf.Data and returns the number of samples, not frames, stored.
	PCMBuffer(buf *audio.IntBuffer) (n int, err error)
	Duration() (time.Duration, error)
	NumChans() uint16
	SampleRate() uint32
	BitDepth() uint16
	IsFloat() bool
}

// openDecoder picks a decoder from the file extension.
func openDecoder(path string, r io.ReadSeeker) (AudioDecoder, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		return newWavDecoder(r)
	case ".mp3":
		return newMp3Decoder(r)
	default:
		return nil, fmt.Errorf("unknown file type %q", ext)
	}
}

type wavDecoder struct {
	*wav.Decoder
}

func newWavDecoder(r io.ReadSeeker) (AudioDecoder, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	return &wavDecoder{Decoder: d}, nil
}

func (w *wavDecoder) SampleRate() uint32 { return w.Decoder.SampleRate }
func (w *wavDecoder) NumChans() uint16   { return w.Decoder.NumChans }
func (w *wavDecoder) BitDepth() uint16   { return uint16(w.Decoder.BitDepth) }
func (w *wavDecoder) IsFloat() bool      { return w.Decoder.WavAudioFormat == 3 }

// mp3Decoder always produces 16-bit stereo.
type mp3Decoder struct {
	d      *mp3.Decoder
	length int64 // Decoded bytes.
	raw    []byte
}

func newMp3Decoder(r io.Reader) (AudioDecoder, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	return &mp3Decoder{d: d, length: d.Length()}, nil
}

func (m *mp3Decoder) PCMBuffer(buf *audio.IntBuffer) (int, error) {
	if need := 2 * len(buf.Data); cap(m.raw) < need {
		m.raw = make([]byte, need)
	}
	raw := m.raw[:2*len(buf.Data)]

	n, err := io.ReadFull(m.d, raw)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}

	samples := n / 2
	for i := 0; i < samples; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(raw[2*i:])))
	}

	return samples, err
}

func (m *mp3Decoder) Duration() (time.Duration, error) {
	if m.length < 0 {
		return 0, errors.New("unknown length")
	}
	frames := m.length / 4

	return time.Duration(frames) * time.Second / time.Duration(m.d.SampleRate()), nil
}

func (m *mp3Decoder) SampleRate() uint32 { return uint32(m.d.SampleRate()) }
func (m *mp3Decoder) NumChans() uint16   { return 2 }
func (m *mp3Decoder) BitDepth() uint16   { return 16 }
func (m *mp3Decoder) IsFloat() bool      { return false }
