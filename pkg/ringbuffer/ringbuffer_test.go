package ringbuffer

import (
	"bytes"
	"testing"
	"time"
)

func TestRingBuffer_HappyPathEcho(t *testing.T) {
	rb := New(100)
	rb.Write([]byte{1, 2, 3, 4, 5})

	out := make([]byte, 10)
	n := rb.Read(out, 100*time.Millisecond)
	if n != 5 {
		t.Fatalf("expected 5 bytes read, got %d", n)
	}
	if !bytes.Equal(out[:5], []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("unexpected data: %v", out[:5])
	}
	if rb.Available() != 0 {
		t.Fatalf("expected available 0, got %d", rb.Available())
	}
}

func TestRingBuffer_Overrun(t *testing.T) {
	rb := New(10)
	rb.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8}) // A
	rb.Write([]byte{9, 10, 11, 12, 13})      // B

	stats := rb.Stats()
	if stats.OverrunCount != 1 {
		t.Fatalf("expected overrun count 1, got %d", stats.OverrunCount)
	}
	if stats.Available != 10 {
		t.Fatalf("expected available 10, got %d", stats.Available)
	}

	out := make([]byte, 10)
	n := rb.Read(out, 0)
	if n != 10 {
		t.Fatalf("expected 10 bytes, got %d", n)
	}
	want := []byte{4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	if !bytes.Equal(out, want) {
		t.Fatalf("expected %v, got %v", want, out)
	}
}

func TestRingBuffer_ReadZeroTimeoutOnEmpty(t *testing.T) {
	rb := New(16)
	out := make([]byte, 4)
	n := rb.Read(out, 0)
	if n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
}

func TestRingBuffer_UnderrunTimeout(t *testing.T) {
	rb := New(16)
	out := make([]byte, 4)
	start := time.Now()
	n := rb.Read(out, 30*time.Millisecond)
	elapsed := time.Since(start)
	if n != 0 {
		t.Fatalf("expected 0 on underrun, got %d", n)
	}
	if elapsed < 25*time.Millisecond {
		t.Fatalf("expected to wait out the timeout, elapsed %v", elapsed)
	}
	if rb.Stats().UnderrunCount != 1 {
		t.Fatalf("expected underrun count 1, got %d", rb.Stats().UnderrunCount)
	}
}

func TestRingBuffer_PartialReadIsDeliberate(t *testing.T) {
	rb := New(100)
	rb.Write([]byte{1, 2, 3})
	out := make([]byte, 10)
	n := rb.Read(out, 50*time.Millisecond)
	if n != 3 {
		t.Fatalf("expected partial read of 3, got %d", n)
	}
}

func TestRingBuffer_CloseUnblocksRead(t *testing.T) {
	rb := New(16)
	done := make(chan int, 1)
	go func() {
		out := make([]byte, 4)
		done <- rb.Read(out, 2*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	rb.Close()

	select {
	case n := <-done:
		if n != Cancelled {
			t.Fatalf("expected Cancelled sentinel, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}

func TestRingBuffer_FIFOUnderConcurrentWriteRead(t *testing.T) {
	rb := New(64)
	input := make([]byte, 1000)
	for i := range input {
		input[i] = byte(i)
	}

	var output []byte
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 8)
		for len(output) < len(input) {
			n := rb.Read(buf, 200*time.Millisecond)
			if n == Cancelled {
				break
			}
			output = append(output, buf[:n]...)
		}
		close(done)
	}()

	for i := 0; i < len(input); i += 5 {
		end := i + 5
		if end > len(input) {
			end = len(input)
		}
		rb.Write(input[i:end])
		time.Sleep(time.Millisecond)
	}

	<-done
	if !bytes.Equal(output, input) {
		t.Fatalf("FIFO violated: output did not match input")
	}
}
