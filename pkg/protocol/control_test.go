package protocol

import "testing"

func roundTrip(t *testing.T, m ControlMessage) ControlMessage {
	t.Helper()
	encoded := EncodeControl(m)
	pkt := &Packet{Type: TypeControl, Sequence: 1, Payload: encoded}
	wire := Encode(pkt)
	decodedPkt, ok := Decode(wire)
	if !ok {
		t.Fatalf("packet decode failed for tag %v", m.Tag)
	}
	return DecodeControl(decodedPkt.Payload)
}

func TestControl_ConnectRequestRoundTrip(t *testing.T) {
	info := ClientInfo{Callsign: "KJ5HST", Name: "Terrell", Location: "TX"}
	policy := Policy{TargetMs: 80, MinMs: 30, MaxMs: 240}
	m := ConnectRequest("client-1", 1, &policy, &info)

	got := roundTrip(t, m)
	if got.ClientName != "client-1" || got.ProtocolVersion != 1 {
		t.Fatalf("unexpected basic fields: %+v", got)
	}
	if !got.HasPolicy || got.TargetMs != 80 || got.MinMs != 30 || got.MaxMs != 240 {
		t.Fatalf("unexpected policy: %+v", got)
	}
	if !got.HasClientInfo || got.Info != info {
		t.Fatalf("unexpected client info: %+v", got.Info)
	}
}

func TestControl_ConnectRequestTruncatedTolerated(t *testing.T) {
	m := ConnectRequest("c1", 1, nil, nil)
	encoded := EncodeControl(m)
	// Truncate right after the name, before has_policy byte.
	truncated := encoded[:1+1+1+len("c1")]

	got := DecodeControl(truncated)
	if got.ClientName != "c1" {
		t.Fatalf("expected name to parse before truncation, got %q", got.ClientName)
	}
	if got.HasPolicy {
		t.Fatal("expected HasPolicy to default false when truncated")
	}
}

func TestControl_AudioConfig8ByteForm(t *testing.T) {
	// 8-byte form: sample_rate(4) + bits(1) + channels(1) + frame_ms(2), no policy.
	body := []byte{byte(TagAudioConfig)}
	encoded := EncodeControl(AudioConfig(48000, 16, 1, 20, Policy{}))
	body = append(body, encoded[1:9]...)

	got := DecodeControl(body)
	if got.SampleRate != 48000 || got.Bits != 16 || got.Channels != 1 || got.FrameMs != 20 {
		t.Fatalf("unexpected parsed audio config: %+v", got)
	}
	if got.HasPolicy {
		t.Fatal("expected HasPolicy false for 8-byte form")
	}
}

func TestControl_AudioConfig14ByteForm(t *testing.T) {
	m := AudioConfig(48000, 16, 1, 20, Policy{TargetMs: 80, MinMs: 30, MaxMs: 240})
	got := roundTrip(t, m)
	if !got.HasPolicy || got.TargetMs != 80 || got.MinMs != 30 || got.MaxMs != 240 {
		t.Fatalf("expected extended policy to round trip, got %+v", got)
	}
}

func TestControl_ClientsUpdateRoundTrip(t *testing.T) {
	clients := []RosterEntry{
		{ID: "sess-1", Info: ClientInfo{Callsign: "W1AW"}},
		{ID: "sess-2", Info: ClientInfo{Name: "Bob"}},
	}
	m := ClientsUpdateMessage(2, 10, "sess-1", clients)

	got := roundTrip(t, m)
	if got.Clients.Count != 2 || got.Clients.Max != 10 || got.Clients.TxOwner != "sess-1" {
		t.Fatalf("unexpected header fields: %+v", got.Clients)
	}
	if len(got.Clients.Clients) != 2 {
		t.Fatalf("expected 2 roster entries, got %d", len(got.Clients.Clients))
	}
	if got.Clients.Clients[0].ID != "sess-1" || got.Clients.Clients[0].Info.Callsign != "W1AW" {
		t.Fatalf("unexpected entry 0: %+v", got.Clients.Clients[0])
	}
	if got.Clients.Clients[1].ID != "sess-2" || got.Clients.Clients[1].Info.Name != "Bob" {
		t.Fatalf("unexpected entry 1: %+v", got.Clients.Clients[1])
	}
}

func TestControl_LatencyProbeRoundTrip(t *testing.T) {
	m := LatencyProbe(1234567890123)
	got := roundTrip(t, m)
	if got.ProbeTimestamp != 1234567890123 {
		t.Fatalf("expected timestamp to round trip, got %d", got.ProbeTimestamp)
	}
}

func TestControl_TxPreemptedRoundTrip(t *testing.T) {
	m := TxPreempted("sess-new")
	got := roundTrip(t, m)
	if got.ClientID != "sess-new" {
		t.Fatalf("expected preempting id to round trip, got %q", got.ClientID)
	}
}

func TestControl_EmptyBodyMessagesRoundTrip(t *testing.T) {
	for _, m := range []ControlMessage{Heartbeat(), HeartbeatAck(), Disconnect(), TxGranted(), TxReleased(), ConnectAccept()} {
		got := roundTrip(t, m)
		if got.Tag != m.Tag {
			t.Fatalf("expected tag %v to round trip, got %v", m.Tag, got.Tag)
		}
	}
}
