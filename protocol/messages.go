package protocol

import (
	"fmt"
	"math"

	"mediaremote/models"

	"google.golang.org/protobuf/encoding/protowire"
)

// Type identifies the inner message carried by an envelope. Values are fixed
// by the MediaRemote schema.
type Type int32

const (
	TypeUnknown              Type = 0
	TypeSendHIDEvent         Type = 8
	TypeDeviceInfo           Type = 15
	TypeCryptoPairing        Type = 20
	TypeSetConnectionState   Type = 28
	TypeClientUpdatesConfig  Type = 30
	TypePlaybackQueueRequest Type = 34
	TypeSetState             Type = 42
)

func (t Type) String() string {
	switch t {
	case TypeSendHIDEvent:
		return "SEND_HID_EVENT_MESSAGE"
	case TypeDeviceInfo:
		return "DEVICE_INFO_MESSAGE"
	case TypeCryptoPairing:
		return "CRYPTO_PAIRING_MESSAGE"
	case TypeSetConnectionState:
		return "SET_CONNECTION_STATE_MESSAGE"
	case TypeClientUpdatesConfig:
		return "CLIENT_UPDATES_CONFIG_MESSAGE"
	case TypePlaybackQueueRequest:
		return "PLAYBACK_QUEUE_REQUEST_MESSAGE"
	case TypeSetState:
		return "SET_STATE_MESSAGE"
	default:
		return fmt.Sprintf("UNKNOWN_MESSAGE(%d)", int32(t))
	}
}

// ConnectionState values for SetConnectionStateMessage.
const (
	ConnectionStateNone      int32 = 1
	ConnectionStateConnected int32 = 2
)

// Payload is a typed inner message.
type Payload interface {
	Type() Type
	marshal() ([]byte, error)
}

// DeviceInfoMessage is the plaintext introduction exchanged on connect. Its
// outbound field set is part of the compatibility contract with the device.
type DeviceInfoMessage struct {
	UniqueIdentifier            string
	Name                        string
	LocalizedModelName          string
	SystemBuildVersion          string
	ApplicationBundleIdentifier string
	ProtocolVersion             int32
	SupportsSystemPairing       bool
	AllowsPairing               bool
	SupportsACL                 bool
	SupportsSharedQueue         bool
	SupportsExtendedMotion      bool
	SharedQueueVersion          int32
}

func (*DeviceInfoMessage) Type() Type { return TypeDeviceInfo }

func (m *DeviceInfoMessage) marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.UniqueIdentifier)
	b = appendString(b, 2, m.Name)
	b = appendString(b, 3, m.LocalizedModelName)
	b = appendString(b, 4, m.SystemBuildVersion)
	b = appendString(b, 5, m.ApplicationBundleIdentifier)
	b = appendInt32(b, 6, m.ProtocolVersion)
	b = appendBool(b, 7, m.SupportsSystemPairing)
	b = appendBool(b, 8, m.AllowsPairing)
	b = appendBool(b, 9, m.SupportsACL)
	b = appendBool(b, 10, m.SupportsSharedQueue)
	b = appendBool(b, 11, m.SupportsExtendedMotion)
	b = appendInt32(b, 12, m.SharedQueueVersion)
	return b, nil
}

func unmarshalDeviceInfo(b []byte) (*DeviceInfoMessage, error) {
	m := &DeviceInfoMessage{}
	err := scanFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.UniqueIdentifier = string(f.bytes)
		case 2:
			m.Name = string(f.bytes)
		case 3:
			m.LocalizedModelName = string(f.bytes)
		case 4:
			m.SystemBuildVersion = string(f.bytes)
		case 5:
			m.ApplicationBundleIdentifier = string(f.bytes)
		case 6:
			m.ProtocolVersion = int32(f.varint)
		case 7:
			m.SupportsSystemPairing = f.varint != 0
		case 8:
			m.AllowsPairing = f.varint != 0
		case 9:
			m.SupportsACL = f.varint != 0
		case 10:
			m.SupportsSharedQueue = f.varint != 0
		case 11:
			m.SupportsExtendedMotion = f.varint != 0
		case 12:
			m.SharedQueueVersion = int32(f.varint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CryptoPairingMessage carries one pairingData TLV blob of the pair-setup or
// pair-verify sub-protocols.
type CryptoPairingMessage struct {
	PairingData []byte
	Status      int32
}

func (*CryptoPairingMessage) Type() Type { return TypeCryptoPairing }

func (m *CryptoPairingMessage) marshal() ([]byte, error) {
	var b []byte
	b = appendBytes(b, 1, m.PairingData)
	b = appendInt32(b, 2, m.Status)
	return b, nil
}

func unmarshalCryptoPairing(b []byte) (*CryptoPairingMessage, error) {
	m := &CryptoPairingMessage{}
	err := scanFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.PairingData = append([]byte(nil), f.bytes...)
		case 2:
			m.Status = int32(f.varint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SendHIDEventMessage injects one HID key event.
type SendHIDEventMessage struct {
	HIDEventData []byte
}

func (*SendHIDEventMessage) Type() Type { return TypeSendHIDEvent }

func (m *SendHIDEventMessage) marshal() ([]byte, error) {
	var b []byte
	b = appendBytes(b, 1, m.HIDEventData)
	return b, nil
}

func unmarshalSendHIDEvent(b []byte) (*SendHIDEventMessage, error) {
	m := &SendHIDEventMessage{}
	err := scanFields(b, func(f field) error {
		if f.num == 1 {
			m.HIDEventData = append([]byte(nil), f.bytes...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SetConnectionStateMessage announces the client's connection state.
type SetConnectionStateMessage struct {
	State int32
}

func (*SetConnectionStateMessage) Type() Type { return TypeSetConnectionState }

func (m *SetConnectionStateMessage) marshal() ([]byte, error) {
	var b []byte
	b = appendInt32(b, 1, m.State)
	return b, nil
}

func unmarshalSetConnectionState(b []byte) (*SetConnectionStateMessage, error) {
	m := &SetConnectionStateMessage{}
	err := scanFields(b, func(f field) error {
		if f.num == 1 {
			m.State = int32(f.varint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ClientUpdatesConfigMessage subscribes the client to unsolicited updates.
type ClientUpdatesConfigMessage struct {
	ArtworkUpdates    bool
	NowPlayingUpdates bool
	VolumeUpdates     bool
	KeyboardUpdates   bool
}

func (*ClientUpdatesConfigMessage) Type() Type { return TypeClientUpdatesConfig }

func (m *ClientUpdatesConfigMessage) marshal() ([]byte, error) {
	var b []byte
	b = appendBool(b, 1, m.ArtworkUpdates)
	b = appendBool(b, 2, m.NowPlayingUpdates)
	b = appendBool(b, 3, m.VolumeUpdates)
	b = appendBool(b, 4, m.KeyboardUpdates)
	return b, nil
}

func unmarshalClientUpdatesConfig(b []byte) (*ClientUpdatesConfigMessage, error) {
	m := &ClientUpdatesConfigMessage{}
	err := scanFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.ArtworkUpdates = f.varint != 0
		case 2:
			m.NowPlayingUpdates = f.varint != 0
		case 3:
			m.VolumeUpdates = f.varint != 0
		case 4:
			m.KeyboardUpdates = f.varint != 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// PlaybackQueueRequestMessage polls the device for playback queue state.
type PlaybackQueueRequestMessage struct {
	Location      int32
	Length        int32
	ArtworkWidth  int32
	ArtworkHeight int32
	RequestID     string
}

func (*PlaybackQueueRequestMessage) Type() Type { return TypePlaybackQueueRequest }

func (m *PlaybackQueueRequestMessage) marshal() ([]byte, error) {
	var b []byte
	b = appendInt32(b, 1, m.Location)
	b = appendInt32(b, 2, m.Length)
	b = appendInt32(b, 3, m.ArtworkWidth)
	b = appendInt32(b, 4, m.ArtworkHeight)
	b = appendString(b, 5, m.RequestID)
	return b, nil
}

func unmarshalPlaybackQueueRequest(b []byte) (*PlaybackQueueRequestMessage, error) {
	m := &PlaybackQueueRequestMessage{}
	err := scanFields(b, func(f field) error {
		switch f.num {
		case 1:
			m.Location = int32(f.varint)
		case 2:
			m.Length = int32(f.varint)
		case 3:
			m.ArtworkWidth = int32(f.varint)
		case 4:
			m.ArtworkHeight = int32(f.varint)
		case 5:
			m.RequestID = string(f.bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SetStateMessage is the unsolicited playback state update. Sub-fields are
// optional; which ones are present decides the events a device emits.
type SetStateMessage struct {
	NowPlaying        *models.NowPlayingInfo
	SupportedCommands []models.SupportedCommand
	PlaybackQueue     []byte
	PlaybackState     int32
}

func (*SetStateMessage) Type() Type { return TypeSetState }

func (m *SetStateMessage) marshal() ([]byte, error) {
	var b []byte
	if m.NowPlaying != nil {
		b = appendBytes(b, 1, marshalNowPlaying(m.NowPlaying))
	}
	if m.SupportedCommands != nil {
		b = appendBytes(b, 2, marshalSupportedCommands(m.SupportedCommands))
	}
	if m.PlaybackQueue != nil {
		b = appendBytes(b, 3, m.PlaybackQueue)
	}
	b = appendInt32(b, 4, m.PlaybackState)
	return b, nil
}

func unmarshalSetState(b []byte) (*SetStateMessage, error) {
	m := &SetStateMessage{}
	err := scanFields(b, func(f field) error {
		switch f.num {
		case 1:
			info, err := unmarshalNowPlaying(f.bytes)
			if err != nil {
				return err
			}
			m.NowPlaying = info
		case 2:
			commands, err := unmarshalSupportedCommands(f.bytes)
			if err != nil {
				return err
			}
			m.SupportedCommands = commands
		case 3:
			m.PlaybackQueue = append([]byte(nil), f.bytes...)
		case 4:
			m.PlaybackState = int32(f.varint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func marshalNowPlaying(info *models.NowPlayingInfo) []byte {
	var b []byte
	b = appendString(b, 1, info.Title)
	b = appendString(b, 2, info.Artist)
	b = appendString(b, 3, info.Album)
	b = appendDouble(b, 4, info.Duration)
	b = appendDouble(b, 5, info.ElapsedTime)
	b = appendFloat(b, 6, info.PlaybackRate)
	b = appendDouble(b, 7, info.Timestamp)
	return b
}

func unmarshalNowPlaying(b []byte) (*models.NowPlayingInfo, error) {
	info := &models.NowPlayingInfo{}
	err := scanFields(b, func(f field) error {
		switch f.num {
		case 1:
			info.Title = string(f.bytes)
		case 2:
			info.Artist = string(f.bytes)
		case 3:
			info.Album = string(f.bytes)
		case 4:
			info.Duration = math.Float64frombits(f.fixed64)
		case 5:
			info.ElapsedTime = math.Float64frombits(f.fixed64)
		case 6:
			info.PlaybackRate = math.Float32frombits(f.fixed32)
		case 7:
			info.Timestamp = math.Float64frombits(f.fixed64)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func marshalSupportedCommands(commands []models.SupportedCommand) []byte {
	var b []byte
	for _, cmd := range commands {
		var item []byte
		item = appendInt32(item, 1, cmd.Command)
		item = appendBool(item, 2, cmd.Enabled)
		item = appendBool(item, 3, cmd.CanScrub)
		b = appendBytes(b, 1, item)
	}
	return b
}

func unmarshalSupportedCommands(b []byte) ([]models.SupportedCommand, error) {
	commands := []models.SupportedCommand{}
	err := scanFields(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		var cmd models.SupportedCommand
		err := scanFields(f.bytes, func(inner field) error {
			switch inner.num {
			case 1:
				cmd.Command = int32(inner.varint)
			case 2:
				cmd.Enabled = inner.varint != 0
			case 3:
				cmd.CanScrub = inner.varint != 0
			}
			return nil
		})
		if err != nil {
			return err
		}
		commands = append(commands, cmd)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commands, nil
}

func unmarshalPayload(t Type, b []byte) (Payload, error) {
	switch t {
	case TypeSendHIDEvent:
		return unmarshalSendHIDEvent(b)
	case TypeDeviceInfo:
		return unmarshalDeviceInfo(b)
	case TypeCryptoPairing:
		return unmarshalCryptoPairing(b)
	case TypeSetConnectionState:
		return unmarshalSetConnectionState(b)
	case TypeClientUpdatesConfig:
		return unmarshalClientUpdatesConfig(b)
	case TypePlaybackQueueRequest:
		return unmarshalPlaybackQueueRequest(b)
	case TypeSetState:
		return unmarshalSetState(b)
	default:
		return nil, nil
	}
}

// field is one scanned protowire field. Exactly one of varint, fixed32,
// fixed64, or bytes is meaningful depending on the wire type.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	fixed64 uint64
	bytes   []byte
}

func scanFields(b []byte, visit func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ErrTruncated
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return ErrTruncated
			}
			f.varint = v
			b = b[m:]
		case protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return ErrTruncated
			}
			f.fixed32 = v
			b = b[m:]
		case protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return ErrTruncated
			}
			f.fixed64 = v
			b = b[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return ErrTruncated
			}
			f.bytes = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return ErrTruncated
			}
			b = b[m:]
			continue
		}

		if err := visit(f); err != nil {
			return err
		}
	}
	return nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	// Negative int32 values sign-extend to 64 bits on the wire.
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}
