package protocol

import "encoding/binary"

// ControlTag identifies the kind of control message carried in a CONTROL
// packet's payload as [tag:u8][body].
type ControlTag uint8

const (
	TagConnectRequest ControlTag = 0x01
	TagConnectAccept  ControlTag = 0x02
	TagConnectReject  ControlTag = 0x03
	TagAudioConfig    ControlTag = 0x04

	TagStreamStart  ControlTag = 0x10
	TagStreamStop   ControlTag = 0x11
	TagStreamPause  ControlTag = 0x12
	TagStreamResume ControlTag = 0x13

	TagHeartbeat       ControlTag = 0x20
	TagHeartbeatAck    ControlTag = 0x21
	TagLatencyProbe    ControlTag = 0x22
	TagLatencyResponse ControlTag = 0x23

	TagStatsUpdate ControlTag = 0x30

	TagTxGranted     ControlTag = 0x40
	TagTxDenied      ControlTag = 0x41
	TagTxPreempted   ControlTag = 0x42
	TagTxReleased    ControlTag = 0x43
	TagClientsUpdate ControlTag = 0x44

	TagError      ControlTag = 0xFE
	TagDisconnect ControlTag = 0xFF
)

// RejectReason enumerates why a CONNECT_REQUEST was refused.
type RejectReason uint8

const (
	RejectBusy               RejectReason = 0x01
	RejectVersionMismatch    RejectReason = 0x02
	RejectFormatNotSupported RejectReason = 0x03
	RejectAuthFailed         RejectReason = 0x04
	RejectReason_Generic     RejectReason = 0xFF
)

// ClientInfo is a free-text, length-prefixed descriptor of the human
// operating a client: callsign, display name, and location.
type ClientInfo struct {
	Callsign string
	Name     string
	Location string
}

// DisplayString renders a short human-readable summary.
func (c ClientInfo) DisplayString() string {
	if c.Callsign != "" {
		return c.Callsign
	}
	if c.Name != "" {
		return c.Name
	}
	return "unknown"
}

// ControlMessage is the parsed, tag-dispatched form of a CONTROL packet's
// payload. Only the fields relevant to Tag are populated by the decoder.
type ControlMessage struct {
	Tag ControlTag

	// CONNECT_REQUEST / response fields
	ProtocolVersion uint8
	ClientName      string
	HasPolicy       bool
	TargetMs        uint16
	MinMs           uint16
	MaxMs           uint16
	HasClientInfo   bool
	Info            ClientInfo

	// CONNECT_REJECT
	RejectReason RejectReason
	Text         string

	// AUDIO_CONFIG
	SampleRate uint32
	Bits       uint8
	Channels   uint8
	FrameMs    uint16

	// LATENCY_PROBE / LATENCY_RESPONSE
	ProbeTimestamp uint64

	// TX_DENIED / TX_PREEMPTED
	ClientID string

	// CLIENTS_UPDATE
	Clients ClientsUpdate

	// ERROR
	ErrorText string
}

// ClientsUpdate is the parsed roster snapshot carried by CLIENTS_UPDATE.
type ClientsUpdate struct {
	Count   uint8
	Max     uint8
	TxOwner string
	Clients []RosterEntry
}

// RosterEntry pairs a session id with its advertised ClientInfo.
type RosterEntry struct {
	ID   string
	Info ClientInfo
}

func truncatedString(s string) (string, []byte) {
	b := []byte(s)
	if len(b) > 255 {
		b = b[:255]
	}
	return string(b), b
}

func appendLenPrefixed(buf []byte, s string) []byte {
	_, b := truncatedString(s)
	buf = append(buf, byte(len(b)))
	buf = append(buf, b...)
	return buf
}

func appendClientInfo(buf []byte, info ClientInfo) []byte {
	inner := []byte{}
	inner = appendLenPrefixed(inner, info.Callsign)
	inner = appendLenPrefixed(inner, info.Name)
	inner = appendLenPrefixed(inner, info.Location)
	if len(inner) > 255 {
		inner = inner[:255]
	}
	buf = append(buf, byte(len(inner)))
	buf = append(buf, inner...)
	return buf
}

// readLenPrefixed reads a u8-length-prefixed string starting at off. It
// tolerates running out of buffer by returning ok=false without panicking,
// so truncated payloads from older senders parse their available prefix.
func readLenPrefixed(data []byte, off int) (s string, next int, ok bool) {
	if off >= len(data) {
		return "", off, false
	}
	n := int(data[off])
	off++
	if off+n > len(data) {
		return "", off, false
	}
	return string(data[off : off+n]), off + n, true
}

func parseClientInfo(data []byte, off int) (ClientInfo, int, bool) {
	if off >= len(data) {
		return ClientInfo{}, off, false
	}
	infoLen := int(data[off])
	start := off + 1
	end := start + infoLen
	if end > len(data) {
		end = len(data)
	}
	body := data[start:end]

	var info ClientInfo
	bo := 0
	if v, n, ok := readLenPrefixed(body, bo); ok {
		info.Callsign = v
		bo = n
	}
	if v, n, ok := readLenPrefixed(body, bo); ok {
		info.Name = v
		bo = n
	}
	if v, n, ok := readLenPrefixed(body, bo); ok {
		info.Location = v
		bo = n
	}
	return info, end, true
}

// EncodeControl serializes a ControlMessage's tag and body. Unsupported
// fields for a given Tag are simply ignored.
func EncodeControl(m ControlMessage) []byte {
	buf := []byte{byte(m.Tag)}

	switch m.Tag {
	case TagConnectRequest:
		buf = append(buf, m.ProtocolVersion)
		buf = appendLenPrefixed(buf, m.ClientName)
		if m.HasPolicy {
			buf = append(buf, 1)
			buf = binary.BigEndian.AppendUint16(buf, m.TargetMs)
			buf = binary.BigEndian.AppendUint16(buf, m.MinMs)
			buf = binary.BigEndian.AppendUint16(buf, m.MaxMs)
		} else {
			buf = append(buf, 0)
		}
		if m.HasClientInfo {
			buf = appendClientInfo(buf, m.Info)
		} else {
			buf = append(buf, 0)
		}

	case TagConnectReject:
		buf = append(buf, byte(m.RejectReason))
		buf = appendLenPrefixed(buf, m.Text)

	case TagAudioConfig:
		buf = binary.BigEndian.AppendUint32(buf, m.SampleRate)
		buf = append(buf, m.Bits, m.Channels)
		buf = binary.BigEndian.AppendUint16(buf, m.FrameMs)
		buf = binary.BigEndian.AppendUint16(buf, m.TargetMs)
		buf = binary.BigEndian.AppendUint16(buf, m.MinMs)
		buf = binary.BigEndian.AppendUint16(buf, m.MaxMs)

	case TagLatencyProbe, TagLatencyResponse:
		buf = binary.BigEndian.AppendUint64(buf, m.ProbeTimestamp)

	case TagTxDenied, TagTxPreempted:
		buf = appendLenPrefixed(buf, m.ClientID)

	case TagClientsUpdate:
		buf = append(buf, m.Clients.Count, m.Clients.Max)
		buf = appendLenPrefixed(buf, m.Clients.TxOwner)
		buf = append(buf, byte(len(m.Clients.Clients)))
		for _, c := range m.Clients.Clients {
			buf = appendLenPrefixed(buf, c.ID)
			buf = appendClientInfo(buf, c.Info)
		}

	case TagError:
		buf = appendLenPrefixed(buf, m.ErrorText)

	case TagConnectAccept, TagStreamStart, TagStreamStop, TagStreamPause,
		TagStreamResume, TagHeartbeat, TagHeartbeatAck, TagStatsUpdate,
		TagTxGranted, TagTxReleased, TagDisconnect:
		// Empty body.
	}

	return buf
}

// DecodeControl parses a control payload (as produced by EncodeControl,
// or a shorter/older variant of it). Truncated payloads are tolerated per
// field: fields beyond the available bytes are left at their zero value.
func DecodeControl(payload []byte) ControlMessage {
	if len(payload) == 0 {
		return ControlMessage{}
	}
	m := ControlMessage{Tag: ControlTag(payload[0])}
	body := payload[1:]

	switch m.Tag {
	case TagConnectRequest:
		off := 0
		if off < len(body) {
			m.ProtocolVersion = body[off]
			off++
		}
		if v, n, ok := readLenPrefixed(body, off); ok {
			m.ClientName = v
			off = n
		} else {
			return m
		}
		if off < len(body) {
			m.HasPolicy = body[off] != 0
			off++
			if m.HasPolicy && off+6 <= len(body) {
				m.TargetMs = binary.BigEndian.Uint16(body[off : off+2])
				m.MinMs = binary.BigEndian.Uint16(body[off+2 : off+4])
				m.MaxMs = binary.BigEndian.Uint16(body[off+4 : off+6])
				off += 6
			}
		} else {
			return m
		}
		if off < len(body) && body[off] > 0 {
			if info, n, ok := parseClientInfo(body, off); ok {
				m.HasClientInfo = true
				m.Info = info
				off = n
			}
		}

	case TagConnectReject:
		if len(body) >= 1 {
			m.RejectReason = RejectReason(body[0])
		}
		if v, _, ok := readLenPrefixed(body, 1); ok {
			m.Text = v
		}

	case TagAudioConfig:
		if len(body) >= 8 {
			m.SampleRate = binary.BigEndian.Uint32(body[0:4])
			m.Bits = body[4]
			m.Channels = body[5]
			m.FrameMs = binary.BigEndian.Uint16(body[6:8])
		}
		if len(body) >= 14 {
			m.HasPolicy = true
			m.TargetMs = binary.BigEndian.Uint16(body[8:10])
			m.MinMs = binary.BigEndian.Uint16(body[10:12])
			m.MaxMs = binary.BigEndian.Uint16(body[12:14])
		}

	case TagLatencyProbe, TagLatencyResponse:
		if len(body) >= 8 {
			m.ProbeTimestamp = binary.BigEndian.Uint64(body[0:8])
		}

	case TagTxDenied, TagTxPreempted:
		if v, _, ok := readLenPrefixed(body, 0); ok {
			m.ClientID = v
		}

	case TagClientsUpdate:
		off := 0
		if off+2 > len(body) {
			return m
		}
		m.Clients.Count = body[off]
		m.Clients.Max = body[off+1]
		off += 2
		if v, n, ok := readLenPrefixed(body, off); ok {
			m.Clients.TxOwner = v
			off = n
		} else {
			return m
		}
		if off >= len(body) {
			return m
		}
		count := int(body[off])
		off++
		for i := 0; i < count; i++ {
			id, n, ok := readLenPrefixed(body, off)
			if !ok {
				break
			}
			off = n
			info, n2, ok := parseClientInfo(body, off)
			if !ok {
				break
			}
			off = n2
			m.Clients.Clients = append(m.Clients.Clients, RosterEntry{ID: id, Info: info})
		}

	case TagError:
		if v, _, ok := readLenPrefixed(body, 0); ok {
			m.ErrorText = v
		}
	}

	return m
}

// Convenience factories, mirroring the original Java call sites.

func ConnectRequest(name string, version uint8, policy *Policy, info *ClientInfo) ControlMessage {
	m := ControlMessage{Tag: TagConnectRequest, ProtocolVersion: version, ClientName: name}
	if policy != nil {
		m.HasPolicy = true
		m.TargetMs, m.MinMs, m.MaxMs = policy.TargetMs, policy.MinMs, policy.MaxMs
	}
	if info != nil {
		m.HasClientInfo = true
		m.Info = *info
	}
	return m
}

// Policy is the wire-level mirror of audio.Policy, kept independent of the
// audio package so the protocol package does not import it.
type Policy struct {
	TargetMs, MinMs, MaxMs uint16
}

func ConnectAccept() ControlMessage { return ControlMessage{Tag: TagConnectAccept} }

func ConnectReject(reason RejectReason, text string) ControlMessage {
	return ControlMessage{Tag: TagConnectReject, RejectReason: reason, Text: text}
}

func AudioConfig(sampleRate uint32, bits, channels uint8, frameMs uint16, policy Policy) ControlMessage {
	return ControlMessage{
		Tag: TagAudioConfig, SampleRate: sampleRate, Bits: bits, Channels: channels,
		FrameMs: frameMs, TargetMs: policy.TargetMs, MinMs: policy.MinMs, MaxMs: policy.MaxMs,
	}
}

func Heartbeat() ControlMessage    { return ControlMessage{Tag: TagHeartbeat} }
func HeartbeatAck() ControlMessage { return ControlMessage{Tag: TagHeartbeatAck} }
func Disconnect() ControlMessage   { return ControlMessage{Tag: TagDisconnect} }

func LatencyProbe(timestampNs uint64) ControlMessage {
	return ControlMessage{Tag: TagLatencyProbe, ProbeTimestamp: timestampNs}
}

func LatencyResponse(timestampNs uint64) ControlMessage {
	return ControlMessage{Tag: TagLatencyResponse, ProbeTimestamp: timestampNs}
}

func ErrorMessage(text string) ControlMessage {
	return ControlMessage{Tag: TagError, ErrorText: text}
}

func TxGranted() ControlMessage  { return ControlMessage{Tag: TagTxGranted} }
func TxReleased() ControlMessage { return ControlMessage{Tag: TagTxReleased} }

func TxDenied(holdingClientID string) ControlMessage {
	return ControlMessage{Tag: TagTxDenied, ClientID: holdingClientID}
}

func TxPreempted(preemptingClientID string) ControlMessage {
	return ControlMessage{Tag: TagTxPreempted, ClientID: preemptingClientID}
}

func ClientsUpdateMessage(count, max uint8, txOwner string, clients []RosterEntry) ControlMessage {
	return ControlMessage{Tag: TagClientsUpdate, Clients: ClientsUpdate{
		Count: count, Max: max, TxOwner: txOwner, Clients: clients,
	}}
}
