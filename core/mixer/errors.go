package mixer

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPlatform no audio runtime available
	ErrUnsupportedPlatform = errors.New("audio runtime unavailable")
	// ErrPlaybackBlocked playback was rejected by the runtime
	ErrPlaybackBlocked = errors.New("playback blocked")
	// ErrDeviceUnavailable capture device denied or missing
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrInvalidGain gain outside [0,1]
	ErrInvalidGain = errors.New("gain must be within [0,1]")
	// ErrUnknownChannel channel is not one of the four mixer channels
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrNoSource play or toggle with nothing attached
	ErrNoSource = errors.New("no source attached")
)

// ChannelError adds the operation and channel to a mixer error.
type ChannelError struct {
	Op      string
	Channel Channel
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("mixer %s %s: %v", e.Op, e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

func chErr(op string, ch Channel, err error) error {
	if err == nil {
		return nil
	}
	return &ChannelError{Op: op, Channel: ch, Err: err}
}
