package mixer

import "fmt"

// Channel 混音通道
type Channel string

const (
	Background Channel = "background"
	Main       Channel = "main"
	Microphone Channel = "microphone"
	Voice      Channel = "voice"
)

// Channels lists every channel in routing order.
var Channels = []Channel{Background, Main, Microphone, Voice}

// DefaultGains are applied when the graph is built.
var DefaultGains = map[Channel]float64{
	Background: 0.6,
	Main:       0.8,
	Microphone: 1.0,
	Voice:      1.0,
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case Background, Main, Microphone, Voice:
		return true
	}
	return false
}

// ParseChannel accepts the channel names, plus "bed" and "mic".
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "bed":
		return Background, nil
	case "mic":
		return Microphone, nil
	}
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
	return c, nil
}

// Transport 播放状态
type Transport string

const (
	Stopped Transport = "stopped"
	Loading Transport = "loading"
	Playing Transport = "playing"
	Paused  Transport = "paused"
)

// ChannelState is a snapshot of one channel.
type ChannelState struct {
	Channel   Channel   `json:"channel"`
	Gain      float64   `json:"gain"`
	Level     float64   `json:"level"`
	URL       string    `json:"url,omitempty"`
	Transport Transport `json:"transport"`
	Elapsed   float64   `json:"elapsed"`
	Duration  float64   `json:"duration"`
}

// Playing reports whether the channel is audibly playing.
func (s ChannelState) Playing() bool { return s.Transport == Playing }
