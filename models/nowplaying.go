package models

// NowPlayingInfo is the device's current playback metadata, decoded from a
// set-state message. A nil *NowPlayingInfo means nothing is playing.
type NowPlayingInfo struct {
	Title        string
	Artist       string
	Album        string
	Duration     float64
	ElapsedTime  float64
	PlaybackRate float32
	Timestamp    float64
}

// SupportedCommand describes one remote command the device currently accepts.
type SupportedCommand struct {
	Command  int32
	Enabled  bool
	CanScrub bool
}
