package device

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key is a symbolic remote-control key.
type Key int

const (
	KeyUp Key = iota + 1
	KeyDown
	KeyLeft
	KeyRight
	KeyMenu
	KeySelect
	KeySuspend
	KeyWakeUp
	KeyPlay
	KeyPause
	KeyNext
	KeyPrevious
	KeyTopmenu
	KeyHome
	KeyHomeHold
	KeyVolumeUp
	KeyVolumeDown
)

// keyUsage maps a key to its HID (usage page, usage ID) pair. hold inserts a
// one second delay between press and release.
type keyUsage struct {
	page  uint16
	usage uint16
	hold  bool
}

var keyUsages = map[Key]keyUsage{
	KeyUp:         {page: 1, usage: 0x8C},
	KeyDown:       {page: 1, usage: 0x8D},
	KeyLeft:       {page: 1, usage: 0x8B},
	KeyRight:      {page: 1, usage: 0x8A},
	KeyMenu:       {page: 1, usage: 0x86},
	KeySelect:     {page: 1, usage: 0x89},
	KeySuspend:    {page: 1, usage: 0x82},
	KeyWakeUp:     {page: 1, usage: 0x83},
	KeyPlay:       {page: 12, usage: 0xB0},
	KeyPause:      {page: 12, usage: 0xB1},
	KeyNext:       {page: 12, usage: 0xB5},
	KeyPrevious:   {page: 12, usage: 0xB6},
	KeyTopmenu:    {page: 12, usage: 0x60},
	KeyHome:       {page: 12, usage: 0x40},
	KeyHomeHold:   {page: 12, usage: 0x40, hold: true},
	KeyVolumeUp:   {page: 12, usage: 0xE9},
	KeyVolumeDown: {page: 12, usage: 0xEA},
}

var keyNames = map[Key]string{
	KeyUp:         "Up",
	KeyDown:       "Down",
	KeyLeft:       "Left",
	KeyRight:      "Right",
	KeyMenu:       "Menu",
	KeySelect:     "Select",
	KeySuspend:    "Suspend",
	KeyWakeUp:     "WakeUp",
	KeyPlay:       "Play",
	KeyPause:      "Pause",
	KeyNext:       "Next",
	KeyPrevious:   "Previous",
	KeyTopmenu:    "Topmenu",
	KeyHome:       "Home",
	KeyHomeHold:   "HomeHold",
	KeyVolumeUp:   "VolumeUp",
	KeyVolumeDown: "VolumeDown",
}

func (k Key) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Key(%d)", int(k))
}

// ParseKey resolves a key by its symbolic name, case-insensitively.
func ParseKey(name string) (Key, error) {
	for key, keyName := range keyNames {
		if strings.EqualFold(keyName, name) {
			return key, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// The HID event scaffold is a fixed 44-byte blob verified against live
// captures: an 8-byte timestamp stub, 22 constant bytes, the
// (page, usage, down) triple as three little-endian uint16 at [30..36),
// and an 8-byte constant tail.
const hidEventScaffoldHex = "438922cf08020000" + // timestamp stub
	"00000000000000000000000000000000000000000000" + // 22 constant bytes
	"000000000000" + // (page, usage, down) placeholder
	"0000000000000001" // tail

var hidEventScaffold = mustDecodeHex(hidEventScaffoldHex)

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// hidEventData splices one key event into a copy of the scaffold.
func hidEventData(page, usage uint16, down bool) []byte {
	data := append([]byte(nil), hidEventScaffold...)
	binary.LittleEndian.PutUint16(data[30:], page)
	binary.LittleEndian.PutUint16(data[32:], usage)
	if down {
		binary.LittleEndian.PutUint16(data[34:], 1)
	}
	return data
}
