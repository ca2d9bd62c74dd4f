package protocol

import (
	"bytes"
	"reflect"
	"testing"

	"mediaremote/models"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payloads := []Payload{
		&DeviceInfoMessage{
			UniqueIdentifier:            "client-1",
			Name:                        "livingroom",
			LocalizedModelName:          "iPhone",
			SystemBuildVersion:          "14G60",
			ApplicationBundleIdentifier: "com.apple.TVRemote",
			ProtocolVersion:             1,
			SupportsSystemPairing:       true,
			AllowsPairing:               true,
			SupportsACL:                 true,
			SupportsSharedQueue:         true,
			SupportsExtendedMotion:      true,
			SharedQueueVersion:          2,
		},
		&CryptoPairingMessage{PairingData: []byte{0x06, 0x01, 0x01}, Status: 0},
		&SendHIDEventMessage{HIDEventData: bytes.Repeat([]byte{0xAB}, 44)},
		&SetConnectionStateMessage{State: ConnectionStateConnected},
		&ClientUpdatesConfigMessage{ArtworkUpdates: true, NowPlayingUpdates: true, VolumeUpdates: true, KeyboardUpdates: true},
		&PlaybackQueueRequestMessage{Length: 100, ArtworkWidth: -1, ArtworkHeight: 368, RequestID: "req-7"},
		&SetStateMessage{
			NowPlaying: &models.NowPlayingInfo{
				Title:        "Song",
				Artist:       "Artist",
				Album:        "Album",
				Duration:     180.5,
				ElapsedTime:  12.25,
				PlaybackRate: 1,
				Timestamp:    1234.5,
			},
			SupportedCommands: []models.SupportedCommand{
				{Command: 1, Enabled: true, CanScrub: true},
				{Command: 2},
			},
			PlaybackState: 1,
		},
	}

	for _, payload := range payloads {
		msg := NewMessage(payload)
		msg.Identifier = "id-" + payload.Type().String()

		raw, err := msg.Marshal()
		if err != nil {
			t.Fatalf("%v: Marshal failed: %v", payload.Type(), err)
		}
		decoded, err := Unmarshal(raw)
		if err != nil {
			t.Fatalf("%v: Unmarshal failed: %v", payload.Type(), err)
		}
		if decoded.Type != payload.Type() {
			t.Fatalf("%v: type mismatch: got %v", payload.Type(), decoded.Type)
		}
		if decoded.Identifier != msg.Identifier {
			t.Fatalf("%v: identifier mismatch: %q", payload.Type(), decoded.Identifier)
		}
		if !reflect.DeepEqual(decoded.Payload, payload) {
			t.Fatalf("%v: payload mismatch\n got %#v\nwant %#v", payload.Type(), decoded.Payload, payload)
		}
	}
}

func TestUnmarshalUnknownTypeKeepsEnvelope(t *testing.T) {
	var raw []byte
	raw = protowire.AppendTag(raw, fieldType, protowire.VarintType)
	raw = protowire.AppendVarint(raw, 999)
	raw = protowire.AppendTag(raw, fieldIdentifier, protowire.BytesType)
	raw = protowire.AppendString(raw, "abc")
	raw = protowire.AppendTag(raw, 50, protowire.BytesType)
	raw = protowire.AppendBytes(raw, []byte{0x08, 0x01})

	msg, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed on unknown type: %v", err)
	}
	if msg.Type != Type(999) {
		t.Fatalf("type = %v, want 999", msg.Type)
	}
	if msg.Identifier != "abc" {
		t.Fatalf("identifier = %q", msg.Identifier)
	}
	if msg.Payload != nil {
		t.Fatalf("expected nil payload for unknown type")
	}
}

func TestUnmarshalKeepsPayloadPastUnknownFields(t *testing.T) {
	msg := NewMessage(&SetConnectionStateMessage{State: ConnectionStateConnected})
	raw, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// A richer envelope schema may append bytes fields this client does not
	// know. They must not displace the typed inner message.
	raw = protowire.AppendTag(raw, 99, protowire.BytesType)
	raw = protowire.AppendBytes(raw, []byte{0xDE, 0xAD})

	decoded, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	state, ok := decoded.Payload.(*SetConnectionStateMessage)
	if !ok {
		t.Fatalf("payload dropped: %#v", decoded.Payload)
	}
	if state.State != ConnectionStateConnected {
		t.Fatalf("state = %d", state.State)
	}
}

func TestUnmarshalRejectsMissingType(t *testing.T) {
	raw := protowire.AppendTag(nil, fieldIdentifier, protowire.BytesType)
	raw = protowire.AppendString(raw, "abc")

	if _, err := Unmarshal(raw); err != ErrMissingType {
		t.Fatalf("err = %v, want ErrMissingType", err)
	}
}

func TestUnmarshalRejectsTruncatedInput(t *testing.T) {
	msg := NewMessage(&CryptoPairingMessage{PairingData: []byte{1, 2, 3, 4}})
	raw, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if _, err := Unmarshal(raw[:len(raw)-2]); err == nil {
		t.Fatalf("expected error on truncated envelope")
	}
}

func TestAppendInt32SignExtendsNegatives(t *testing.T) {
	got := appendInt32(nil, 3, -1)

	want := protowire.AppendTag(nil, 3, protowire.VarintType)
	negOne := int32(-1)
	want = protowire.AppendVarint(want, uint64(int64(negOne)))
	if !bytes.Equal(got, want) {
		t.Fatalf("encoding = %x, want %x", got, want)
	}

	var num protowire.Number
	var decoded int32
	err := scanFields(got, func(f field) error {
		num = f.num
		decoded = int32(f.varint)
		return nil
	})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if num != 3 || decoded != -1 {
		t.Fatalf("decoded field %d = %d", num, decoded)
	}
}

func TestMarshalRejectsMissingType(t *testing.T) {
	if _, err := (&Message{}).Marshal(); err != ErrMissingType {
		t.Fatalf("err = %v, want ErrMissingType", err)
	}
}
