package autodj

import (
	"context"
	"errors"
	"fmt"

	"RadioRoyal/core/tts"
)

// ErrNoVoice narration requested without a synthesizer
var ErrNoVoice = errors.New("autodj: no voice configured")

// Speaker says a line and returns when it has finished playing.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// OneShotPlayer plays a single clip on the voice channel.
type OneShotPlayer interface {
	PlayOneShot(ctx context.Context, url string, gain float64) error
}

// Narrator speaks through a TTS synthesizer and the voice channel.
type Narrator struct {
	synth  tts.Synthesizer
	player OneShotPlayer
	gain   float64
}

// NewNarrator creates a Narrator; gain applies to the voice channel.
func NewNarrator(synth tts.Synthesizer, player OneShotPlayer, gain float64) *Narrator {
	return &Narrator{synth: synth, player: player, gain: gain}
}

func (n *Narrator) Speak(ctx context.Context, text string) error {
	if n == nil || n.synth == nil {
		return ErrNoVoice
	}
	url, err := n.synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if err := n.player.PlayOneShot(ctx, url, n.gain); err != nil {
		return fmt.Errorf("play narration: %w", err)
	}
	return nil
}
