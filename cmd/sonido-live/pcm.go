package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const bytesPerSample = 4

// pcmReader decodes raw little-endian float32 interleaved PCM into planar
// blocks
type pcmReader struct {
	r        *bufio.Reader
	channels int
	raw      []byte
	eof      bool
}

func newPCMReader(r io.Reader, channels int) (*pcmReader, error) {
	if channels < 1 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	return &pcmReader{r: bufio.NewReaderSize(r, 1<<16), channels: channels}, nil
}

// ReadFrames fills planar[c][:n] with up to len(planar[0]) frames and
// returns n. A trailing partial frame is discarded. Returns io.EOF once the
// input is exhausted.
func (p *pcmReader) ReadFrames(planar [][]float32) (int, error) {
	if p.eof {
		return 0, io.EOF
	}
	if len(planar) != p.channels {
		return 0, fmt.Errorf("expected %d planar channels, got %d", p.channels, len(planar))
	}

	frameBytes := p.channels * bytesPerSample
	want := len(planar[0]) * frameBytes
	if cap(p.raw) < want {
		p.raw = make([]byte, want)
	}
	raw := p.raw[:want]

	got, err := io.ReadFull(p.r, raw)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		p.eof = true
	case err != nil:
		return 0, fmt.Errorf("failed to read pcm: %w", err)
	}

	frames := got / frameBytes
	for i := range frames {
		for c := range p.channels {
			off := (i*p.channels + c) * bytesPerSample
			planar[c][i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		}
	}
	if frames == 0 && p.eof {
		return 0, io.EOF
	}
	return frames, nil
}

// readMono decodes the whole input and downmixes it to mono with gain
func readMono(r io.Reader, channels int, gain float32) ([]float32, error) {
	pr, err := newPCMReader(r, channels)
	if err != nil {
		return nil, err
	}

	const block = 4096
	planar := make([][]float32, channels)
	for c := range planar {
		planar[c] = make([]float32, block)
	}

	var mono []float32
	scale := gain / float32(channels)
	for {
		n, err := pr.ReadFrames(planar)
		if errors.Is(err, io.EOF) {
			return mono, nil
		}
		if err != nil {
			return nil, err
		}
		for i := range n {
			var s float32
			for c := range planar {
				s += planar[c][i]
			}
			mono = append(mono, s*scale)
		}
	}
}
