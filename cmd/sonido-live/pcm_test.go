package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func encodePCM(t *testing.T, samples ...float32) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, samples); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &buf
}

func TestPCMReaderDeinterleaves(t *testing.T) {
	// Three stereo frames and a dangling left sample
	pr, err := newPCMReader(encodePCM(t, 1, -1, 2, -2, 3, -3, 4), 2)
	if err != nil {
		t.Fatalf("newPCMReader: %v", err)
	}

	planar := [][]float32{make([]float32, 2), make([]float32, 2)}
	n, err := pr.ReadFrames(planar)
	if err != nil || n != 2 {
		t.Fatalf("first read = (%d, %v), want 2 frames", n, err)
	}
	if planar[0][1] != 2 || planar[1][1] != -2 {
		t.Errorf("frame 1 = (%v, %v), want (2, -2)", planar[0][1], planar[1][1])
	}

	n, err = pr.ReadFrames(planar)
	if err != nil || n != 1 || planar[0][0] != 3 || planar[1][0] != -3 {
		t.Fatalf("second read = (%d, %v) %v", n, err, planar)
	}
	if _, err := pr.ReadFrames(planar); !errors.Is(err, io.EOF) {
		t.Errorf("third read err = %v, want io.EOF", err)
	}
}

func TestReadMonoDownmixesWithGain(t *testing.T) {
	mono, err := readMono(encodePCM(t, 1, 0, 0.5, 0.5, -1, 1), 2, 2)
	if err != nil {
		t.Fatalf("readMono: %v", err)
	}
	want := []float32{1, 1, 0}
	if len(mono) != len(want) {
		t.Fatalf("len = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("mono[%d] = %v, want %v", i, mono[i], want[i])
		}
	}
}

func TestPCMReaderRejectsBadChannels(t *testing.T) {
	if _, err := newPCMReader(&bytes.Buffer{}, 0); err == nil {
		t.Error("accepted zero channels")
	}
	pr, _ := newPCMReader(encodePCM(t, 1, 2), 2)
	if _, err := pr.ReadFrames([][]float32{make([]float32, 1)}); err == nil {
		t.Error("accepted a mismatched planar layout")
	}
}
