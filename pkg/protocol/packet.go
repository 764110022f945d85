// Package protocol implements the framed binary packet protocol that
// carries audio and control traffic over a single TCP byte stream, and the
// ProtocolHandler that enforces framing, heartbeat timing, and CRC
// resynchronization on top of it.
package protocol

import (
	"encoding/binary"
	"hash/crc32"
)

// Magic identifies the start of a packet frame.
const Magic uint16 = 0xAF01

// Version is the only wire version this implementation speaks.
const Version uint8 = 1

// HeaderSize is the fixed-size portion of every frame, before the payload.
const HeaderSize = 19

// CRCSize is the trailing CRC32 field size.
const CRCSize = 4

// MaxPayload bounds payload_len; larger values are rejected.
const MaxPayload = 8192

// Type identifies what a packet carries.
type Type uint8

const (
	TypeAudioRX   Type = 0x00
	TypeAudioTX   Type = 0x01
	TypeControl   Type = 0x02
	TypeHeartbeat Type = 0x03
)

func (t Type) String() string {
	switch t {
	case TypeAudioRX:
		return "AUDIO_RX"
	case TypeAudioTX:
		return "AUDIO_TX"
	case TypeControl:
		return "CONTROL"
	case TypeHeartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// Flags is a bitmask carried verbatim through encode/decode.
type Flags uint8

const (
	FlagCompressed   Flags = 0x01
	FlagLowBandwidth Flags = 0x02
)

// Packet is the on-wire frame: a fixed header, a payload, and a trailing
// CRC32 computed over header+payload.
type Packet struct {
	Type      Type
	Flags     Flags
	Sequence  uint32
	Timestamp uint64 // nanoseconds, sender-local monotonic
	Payload   []byte
}

// isKnownType reports whether t is one of the four defined packet types.
func isKnownType(t Type) bool {
	switch t {
	case TypeAudioRX, TypeAudioTX, TypeControl, TypeHeartbeat:
		return true
	default:
		return false
	}
}

// Encode serializes p into a new byte slice: HEADER(19) + payload + CRC(4).
// It never mutates p.
func Encode(p *Packet) []byte {
	n := len(p.Payload)
	buf := make([]byte, HeaderSize+n+CRCSize)

	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = byte(p.Type)
	buf[4] = byte(p.Flags)
	binary.BigEndian.PutUint32(buf[5:9], p.Sequence)
	binary.BigEndian.PutUint64(buf[9:17], p.Timestamp)
	binary.BigEndian.PutUint16(buf[17:19], uint16(n))
	copy(buf[HeaderSize:HeaderSize+n], p.Payload)

	sum := crc32.ChecksumIEEE(buf[:HeaderSize+n])
	binary.BigEndian.PutUint32(buf[HeaderSize+n:], sum)

	return buf
}

// Decode parses a Packet out of data. It requires at least
// HeaderSize+CRCSize bytes and rejects wrong magic, unknown type,
// oversized payload, or a CRC mismatch by returning (nil, false). Decode
// never mutates data.
func Decode(data []byte) (*Packet, bool) {
	if len(data) < HeaderSize+CRCSize {
		return nil, false
	}

	magic := binary.BigEndian.Uint16(data[0:2])
	if magic != Magic {
		return nil, false
	}

	typ := Type(data[3])
	if !isKnownType(typ) {
		return nil, false
	}

	payloadLen := int(binary.BigEndian.Uint16(data[17:19]))
	if payloadLen > MaxPayload {
		return nil, false
	}
	total := HeaderSize + payloadLen + CRCSize
	if len(data) < total {
		return nil, false
	}

	wantCRC := binary.BigEndian.Uint32(data[HeaderSize+payloadLen : total])
	gotCRC := crc32.ChecksumIEEE(data[:HeaderSize+payloadLen])
	if wantCRC != gotCRC {
		return nil, false
	}

	payload := make([]byte, payloadLen)
	copy(payload, data[HeaderSize:HeaderSize+payloadLen])

	return &Packet{
		Type:      typ,
		Flags:     Flags(data[4]),
		Sequence:  binary.BigEndian.Uint32(data[5:9]),
		Timestamp: binary.BigEndian.Uint64(data[9:17]),
		Payload:   payload,
	}, true
}
