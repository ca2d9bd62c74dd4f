package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers. The inner message lives in a field selected by the
// type value, mirroring the extension layout of the MediaRemote schema.
const (
	fieldType       protowire.Number = 1
	fieldIdentifier protowire.Number = 2
	fieldPriority   protowire.Number = 3
)

var innerField = map[Type]protowire.Number{
	TypeSendHIDEvent:         10,
	TypeDeviceInfo:           11,
	TypeCryptoPairing:        12,
	TypeSetConnectionState:   13,
	TypeClientUpdatesConfig:  14,
	TypePlaybackQueueRequest: 15,
	TypeSetState:             16,
}

// Message is a decoded protocol envelope.
type Message struct {
	// Type selects the inner message.
	Type Type
	// Identifier correlates a response with its request; empty when the
	// message is unsolicited.
	Identifier string
	// Priority is forwarded verbatim; the transport does not reorder.
	Priority int32
	// Payload is the decoded inner message, nil for unknown types.
	Payload Payload
}

// NewMessage wraps a typed payload in an envelope.
func NewMessage(payload Payload) *Message {
	return &Message{Type: payload.Type(), Payload: payload}
}

// Marshal serializes the envelope to protobuf bytes.
func (m *Message) Marshal() ([]byte, error) {
	if m.Type == TypeUnknown {
		return nil, ErrMissingType
	}

	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	b = appendString(b, fieldIdentifier, m.Identifier)
	b = appendInt32(b, fieldPriority, m.Priority)

	if m.Payload != nil {
		num, ok := innerField[m.Type]
		if !ok {
			return nil, ErrMissingType
		}
		inner, err := m.Payload.marshal()
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, num, inner)
	}
	return b, nil
}

// Unmarshal decodes an envelope. Unknown inner types decode without error and
// leave Payload nil so the message can still be surfaced to listeners.
func Unmarshal(b []byte) (*Message, error) {
	m := &Message{}
	inner := make(map[protowire.Number][]byte)

	err := scanFields(b, func(f field) error {
		switch f.num {
		case fieldType:
			m.Type = Type(f.varint)
		case fieldIdentifier:
			m.Identifier = string(f.bytes)
		case fieldPriority:
			m.Priority = int32(f.varint)
		default:
			// The type may arrive after the inner field, so candidates
			// are kept by number and selected once the type is known.
			if f.typ == protowire.BytesType {
				inner[f.num] = f.bytes
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.Type == TypeUnknown {
		return nil, ErrMissingType
	}

	if want, ok := innerField[m.Type]; ok {
		if raw, ok := inner[want]; ok {
			payload, err := unmarshalPayload(m.Type, raw)
			if err != nil {
				return nil, err
			}
			m.Payload = payload
		}
	}
	return m, nil
}
