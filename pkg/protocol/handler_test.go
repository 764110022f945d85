package protocol

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestHandler_SendReceiveRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ch := NewHandler(client)
	sh := NewHandler(server)

	done := make(chan error, 1)
	go func() {
		done <- ch.Send(&Packet{Type: TypeAudioRX, Payload: []byte{1, 2, 3}})
	}()

	pkt, err := sh.Receive(time.Second)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if pkt == nil {
		t.Fatal("expected a packet, got nil")
	}
	if pkt.Type != TypeAudioRX || string(pkt.Payload) != string([]byte{1, 2, 3}) {
		t.Fatalf("unexpected packet: %+v", pkt)
	}
	if err := <-done; err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if sh.Stats().PacketsReceived != 1 {
		t.Fatalf("expected 1 packet received, got %d", sh.Stats().PacketsReceived)
	}
	if ch.Stats().PacketsSent != 1 {
		t.Fatalf("expected 1 packet sent, got %d", ch.Stats().PacketsSent)
	}
}

func TestHandler_ReceiveTimeoutReturnsNilNil(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sh := NewHandler(server)
	pkt, err := sh.Receive(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("expected no error on timeout, got %v", err)
	}
	if pkt != nil {
		t.Fatalf("expected nil packet on timeout, got %+v", pkt)
	}
}

func TestHandler_SequenceIncrements(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ch := NewHandler(client)
	sh := NewHandler(server)

	go func() {
		_ = ch.SendHeartbeat()
		_ = ch.SendHeartbeat()
	}()

	p1, err := sh.Receive(time.Second)
	if err != nil || p1 == nil {
		t.Fatalf("receive 1 failed: %v", err)
	}
	p2, err := sh.Receive(time.Second)
	if err != nil || p2 == nil {
		t.Fatalf("receive 2 failed: %v", err)
	}
	if p2.Sequence != p1.Sequence+1 {
		t.Fatalf("expected sequence to increment, got %d then %d", p1.Sequence, p2.Sequence)
	}
}

func TestHandler_CloseIsIdempotentAndRejectsFurtherSend(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	ch := NewHandler(client)
	if err := ch.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if err := ch.Send(&Packet{Type: TypeHeartbeat}); !errors.Is(err, ErrHandlerClosed) {
		t.Fatalf("expected ErrHandlerClosed after close, got %v", err)
	}
}

func TestHandler_ConsecutiveCRCErrorsEscalate(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sh := NewHandler(server)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for i := 0; i < MaxConsecutiveFrameErrors; i++ {
			p := &Packet{Type: TypeHeartbeat, Sequence: uint32(i)}
			data := Encode(p)
			data[len(data)-1] ^= 0xFF // corrupt CRC
			if _, err := client.Write(data); err != nil {
				return
			}
		}
	}()

	var lastErr error
	for i := 0; i < MaxConsecutiveFrameErrors; i++ {
		_, err := sh.Receive(time.Second)
		if err != nil {
			lastErr = err
			break
		}
	}
	<-writeDone

	if !errors.Is(lastErr, ErrTooManyFrameErrors) {
		t.Fatalf("expected escalation to ErrTooManyFrameErrors, got %v", lastErr)
	}
}

func TestHandler_SuccessfulReceiveResetsConsecutiveErrors(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sh := NewHandler(server)

	go func() {
		bad := Encode(&Packet{Type: TypeHeartbeat, Sequence: 0})
		bad[len(bad)-1] ^= 0xFF
		client.Write(bad)

		good := Encode(&Packet{Type: TypeHeartbeat, Sequence: 1})
		client.Write(good)

		for i := 0; i < MaxConsecutiveFrameErrors; i++ {
			b := Encode(&Packet{Type: TypeHeartbeat, Sequence: uint32(2 + i)})
			b[len(b)-1] ^= 0xFF
			client.Write(b)
		}
	}()

	if _, err := sh.Receive(time.Second); err != nil {
		t.Fatalf("first (corrupt) receive should not error yet, got %v", err)
	}
	pkt, err := sh.Receive(time.Second)
	if err != nil {
		t.Fatalf("good packet receive failed: %v", err)
	}
	if pkt == nil || pkt.Sequence != 1 {
		t.Fatalf("expected sequence 1 packet, got %+v", pkt)
	}

	var lastErr error
	for i := 0; i < MaxConsecutiveFrameErrors; i++ {
		_, err := sh.Receive(time.Second)
		if err != nil {
			lastErr = err
			break
		}
	}
	if !errors.Is(lastErr, ErrTooManyFrameErrors) {
		t.Fatalf("expected fresh run of errors to still escalate, got %v", lastErr)
	}
}

func TestHandler_HeartbeatAndTimeoutQueries(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ch := NewHandler(client)
	if ch.ShouldSendHeartbeat() {
		t.Fatal("should not need a heartbeat immediately after creation")
	}
	if ch.IsConnectionTimedOut() {
		t.Fatal("should not be timed out immediately after creation")
	}
}
