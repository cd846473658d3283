package common

import (
	"sync"
	"testing"
)

func TestNewRingBufferRoundsCapacity(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{0, 256},
		{100, 256},
		{256, 256},
		{257, 512},
		{1 << 16, 1 << 16},
		{(1 << 16) + 1, 1 << 17},
	}
	for _, tt := range tests {
		rb := NewRingBuffer(tt.requested)
		if rb.Capacity() != tt.want {
			t.Errorf("NewRingBuffer(%d).Capacity() = %d, want %d", tt.requested, rb.Capacity(), tt.want)
		}
		if rb.FreeSpace() != tt.want-1 {
			t.Errorf("FreeSpace() = %d, want %d", rb.FreeSpace(), tt.want-1)
		}
	}
}

func TestRingBufferFIFOAcrossWrap(t *testing.T) {
	rb := NewRingBuffer(256)
	next := float32(0)
	expect := float32(0)
	out := make([]float32, 100)

	// Interleave pushes and pops so the cursors wrap many times while the
	// queued amount never exceeds capacity-1.
	for round := range 50 {
		block := make([]float32, 37+round%60)
		for i := range block {
			block[i] = next
			next++
		}
		if n := rb.Push(block); n != len(block) {
			t.Fatalf("round %d: pushed %d of %d", round, n, len(block))
		}
		for rb.Size() > 0 {
			n := rb.Pop(out[:1+round%len(out)])
			for i := range n {
				if out[i] != expect {
					t.Fatalf("round %d: got %v, want %v", round, out[i], expect)
				}
				expect++
			}
		}
	}

	if expect != next {
		t.Errorf("popped %v samples, pushed %v", expect, next)
	}
	if rb.DroppedSamples() != 0 {
		t.Errorf("DroppedSamples() = %d, want 0", rb.DroppedSamples())
	}
}

func TestRingBufferOverflowDrops(t *testing.T) {
	rb := NewRingBuffer(256)
	block := make([]float32, 200)

	if n := rb.Push(block); n != 200 {
		t.Fatalf("first push wrote %d, want 200", n)
	}
	free := rb.FreeSpace()
	if free != 55 {
		t.Fatalf("FreeSpace() = %d, want 55", free)
	}

	n := rb.Push(block)
	if n != free {
		t.Errorf("second push wrote %d, want %d", n, free)
	}
	if got, want := rb.DroppedSamples(), uint64(len(block)-free); got != want {
		t.Errorf("DroppedSamples() = %d, want %d", got, want)
	}

	// The counter is cumulative
	rb.Push(block)
	if got, want := rb.DroppedSamples(), uint64(len(block)-free+len(block)); got != want {
		t.Errorf("DroppedSamples() = %d, want %d", got, want)
	}
	if rb.Size() != rb.Capacity()-1 {
		t.Errorf("Size() = %d, want %d", rb.Size(), rb.Capacity()-1)
	}
}

func TestRingBufferPushPlanarDownmix(t *testing.T) {
	rb := NewRingBuffer(256)
	left := []float32{1, 2, 3, 4}
	right := []float32{3, 2, 1, 0}

	n := rb.PushPlanar([][]float32{left, right}, 4, 0.5)
	if n != 4 {
		t.Fatalf("PushPlanar wrote %d, want 4", n)
	}

	out := make([]float32, 8)
	got := rb.Pop(out)
	if got != 4 {
		t.Fatalf("Pop returned %d, want 4", got)
	}
	want := []float32{1, 1, 1, 1}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestRingBufferDegenerateInputs(t *testing.T) {
	rb := NewRingBuffer(256)

	if n := rb.PushPlanar(nil, 10, 1); n != 0 {
		t.Errorf("PushPlanar(nil) = %d, want 0", n)
	}
	if n := rb.PushPlanar([][]float32{{1, 2}}, 0, 1); n != 0 {
		t.Errorf("PushPlanar with zero samples = %d, want 0", n)
	}
	if n := rb.Push(nil); n != 0 {
		t.Errorf("Push(nil) = %d, want 0", n)
	}
	if n := rb.Pop(nil); n != 0 {
		t.Errorf("Pop(nil) = %d, want 0", n)
	}
	if n := rb.Pop(make([]float32, 4)); n != 0 {
		t.Errorf("Pop on empty = %d, want 0", n)
	}
	// A short channel limits the block instead of panicking
	if n := rb.PushPlanar([][]float32{{1, 2, 3}, {1}}, 3, 1); n != 1 {
		t.Errorf("PushPlanar with short channel = %d, want 1", n)
	}
	if rb.DroppedSamples() != 0 {
		t.Errorf("degenerate input counted as dropped: %d", rb.DroppedSamples())
	}
}

func TestRingBufferClear(t *testing.T) {
	rb := NewRingBuffer(256)
	rb.Push(make([]float32, 100))
	rb.Clear()

	if rb.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", rb.Size())
	}
	if rb.Pop(make([]float32, 10)) != 0 {
		t.Error("Pop after Clear returned data")
	}
}

func TestRingBufferConcurrentTransfer(t *testing.T) {
	rb := NewRingBuffer(1024)
	const total = 200000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		block := make([]float32, 64)
		sent := 0
		for sent < total {
			n := min(len(block), total-sent)
			for i := range n {
				block[i] = float32(sent + i)
			}
			// Only push what fits so nothing is dropped
			n = min(n, rb.FreeSpace())
			if n == 0 {
				continue
			}
			sent += rb.Push(block[:n])
		}
	}()

	out := make([]float32, 97)
	received := 0
	for received < total {
		n := rb.Pop(out)
		for i := range n {
			if out[i] != float32(received) {
				t.Fatalf("sample %d = %v", received, out[i])
			}
			received++
		}
	}
	wg.Wait()

	if rb.DroppedSamples() != 0 {
		t.Errorf("DroppedSamples() = %d, want 0", rb.DroppedSamples())
	}
}

func TestRingBufferSizeSeenFromObserver(t *testing.T) {
	rb := NewRingBuffer(256)
	const total = 500000

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		block := make([]float32, 32)
		for sent := 0; sent < total; {
			n := min(len(block), total-sent, rb.FreeSpace())
			sent += rb.Push(block[:n])
		}
	}()
	go func() {
		defer wg.Done()
		out := make([]float32, 48)
		for received := 0; received < total; {
			received += rb.Pop(out)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		if size := rb.Size(); size < 0 {
			t.Fatalf("observer saw Size() = %d", size)
		}
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	tests := map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 1000: 1024, 4096: 4096}
	for in, want := range tests {
		if got := NextPowerOfTwo(in); got != want {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", in, got, want)
		}
	}
}
