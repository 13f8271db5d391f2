// Package wire implements the network transport's byte-level framing
// described in spec.md section 4.5: a little-endian message header
// carrying a MessageType and PartitionKey, followed by a type-specific
// payload. Grounded on protocol/frame_codec.go's
// encode/decode-with-incomplete-detection pattern (Decode returns
// (nil, 0, nil) for an incomplete buffer rather than an error),
// generalized from WebSocket framing to the data-plane message
// set this spec defines.
package wire

import (
	"encoding/binary"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/nebulaerrors"
)

// MessageType identifies the wire message's payload shape.
type MessageType uint8

const (
	TypeAnnounce              MessageType = 1
	TypeData                  MessageType = 2
	TypeEvent                 MessageType = 3
	TypeEndOfStream           MessageType = 4
	TypeReconfigurationMarker MessageType = 5
)

// TerminationKind tags an EndOfStream message's reason.
type TerminationKind uint8

const (
	TerminationGraceful        TerminationKind = 0
	TerminationHard            TerminationKind = 1
	TerminationFailure         TerminationKind = 2
	TerminationReconfiguration TerminationKind = 3
)

// headerSize is MessageType (1) + PartitionKey (4 x u64 = 32).
const headerSize = 1 + 32

// Message is a decoded wire message: the common header plus whichever
// type-specific fields MessageType selects.
type Message struct {
	Type MessageType
	Key  api.PartitionKey

	// Data fields.
	SequenceNumber  api.SequenceNumber
	OriginID        api.OriginID
	Watermark       uint64
	TupleCount      uint32
	TupleSize       uint32
	ChildRegionSize uint32
	Payload         []byte
	ChildRegion     []byte

	// Announce fields.
	ProducerVersion   uint64
	ExpectedProducers uint32

	// EndOfStream fields.
	Termination        TerminationKind
	LastSequenceNumber api.SequenceNumber

	// Event fields (the opcode is carried in EventPayload[0], see
	// network/event.go).
	EventPayload []byte
}

func putPartitionKey(dst []byte, k api.PartitionKey) {
	binary.LittleEndian.PutUint64(dst[0:8], uint64(k.SharedQueryID))
	binary.LittleEndian.PutUint64(dst[8:16], uint64(k.DecomposedQueryID))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(k.OperatorID))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(k.SubpartitionIndex))
}

func getPartitionKey(src []byte) api.PartitionKey {
	return api.PartitionKey{
		SharedQueryID:     api.PartitionID(binary.LittleEndian.Uint64(src[0:8])),
		DecomposedQueryID: api.PartitionID(binary.LittleEndian.Uint64(src[8:16])),
		OperatorID:        api.PartitionID(binary.LittleEndian.Uint64(src[16:24])),
		SubpartitionIndex: api.PartitionID(binary.LittleEndian.Uint64(src[24:32])),
	}
}

// Encode serializes m into a freshly allocated byte slice.
func Encode(m *Message) ([]byte, error) {
	header := make([]byte, headerSize)
	header[0] = byte(m.Type)
	putPartitionKey(header[1:], m.Key)

	switch m.Type {
	case TypeData:
		body := make([]byte, 8+8+8+4+4+4)
		binary.LittleEndian.PutUint64(body[0:8], uint64(m.SequenceNumber))
		binary.LittleEndian.PutUint64(body[8:16], uint64(m.OriginID))
		binary.LittleEndian.PutUint64(body[16:24], m.Watermark)
		binary.LittleEndian.PutUint32(body[24:28], m.TupleCount)
		binary.LittleEndian.PutUint32(body[28:32], m.TupleSize)
		binary.LittleEndian.PutUint32(body[32:36], uint32(len(m.ChildRegion)))
		out := append(header, body...)
		out = append(out, m.Payload...)
		out = append(out, m.ChildRegion...)
		return out, nil

	case TypeAnnounce:
		body := make([]byte, 8+4)
		binary.LittleEndian.PutUint64(body[0:8], m.ProducerVersion)
		binary.LittleEndian.PutUint32(body[8:12], m.ExpectedProducers)
		return append(header, body...), nil

	case TypeEndOfStream:
		body := make([]byte, 1+8)
		body[0] = byte(m.Termination)
		binary.LittleEndian.PutUint64(body[1:9], uint64(m.LastSequenceNumber))
		return append(header, body...), nil

	case TypeEvent:
		return append(header, m.EventPayload...), nil

	case TypeReconfigurationMarker:
		return append(header, m.EventPayload...), nil

	default:
		return nil, nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"unknown message type")
	}
}

// Decode parses one message out of the front of raw. If raw does not
// yet contain a complete message, it returns (nil, 0, nil) so the
// caller can wait for more bytes, mirroring frame_codec.go's
// incomplete-frame convention.
func Decode(raw []byte) (*Message, int, error) {
	if len(raw) < headerSize {
		return nil, 0, nil
	}
	m := &Message{Type: MessageType(raw[0]), Key: getPartitionKey(raw[1:])}
	offset := headerSize

	switch m.Type {
	case TypeData:
		const fixed = 8 + 8 + 8 + 4 + 4 + 4
		if len(raw) < offset+fixed {
			return nil, 0, nil
		}
		body := raw[offset : offset+fixed]
		m.SequenceNumber = api.SequenceNumber(binary.LittleEndian.Uint64(body[0:8]))
		m.OriginID = api.OriginID(binary.LittleEndian.Uint64(body[8:16]))
		m.Watermark = binary.LittleEndian.Uint64(body[16:24])
		m.TupleCount = binary.LittleEndian.Uint32(body[24:28])
		m.TupleSize = binary.LittleEndian.Uint32(body[28:32])
		m.ChildRegionSize = binary.LittleEndian.Uint32(body[32:36])
		offset += fixed

		payloadLen := int(m.TupleCount) * int(m.TupleSize)
		total := offset + payloadLen + int(m.ChildRegionSize)
		if len(raw) < total {
			return nil, 0, nil
		}
		m.Payload = append([]byte(nil), raw[offset:offset+payloadLen]...)
		m.ChildRegion = append([]byte(nil), raw[offset+payloadLen:total]...)
		return m, total, nil

	case TypeAnnounce:
		const fixed = 8 + 4
		if len(raw) < offset+fixed {
			return nil, 0, nil
		}
		body := raw[offset : offset+fixed]
		m.ProducerVersion = binary.LittleEndian.Uint64(body[0:8])
		m.ExpectedProducers = binary.LittleEndian.Uint32(body[8:12])
		return m, offset + fixed, nil

	case TypeEndOfStream:
		const fixed = 1 + 8
		if len(raw) < offset+fixed {
			return nil, 0, nil
		}
		body := raw[offset : offset+fixed]
		m.Termination = TerminationKind(body[0])
		m.LastSequenceNumber = api.SequenceNumber(binary.LittleEndian.Uint64(body[1:9]))
		return m, offset + fixed, nil

	case TypeEvent, TypeReconfigurationMarker:
		// Event/marker payloads carry no length field: the whole
		// remaining slice is treated as the payload and reported as
		// consumed, so an Event or marker decodes correctly only when
		// it is the last message in raw.
		m.EventPayload = append([]byte(nil), raw[offset:]...)
		return m, len(raw), nil

	default:
		return nil, 0, nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"unknown message type").WithContext("type", int(m.Type))
	}
}
