package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"RadioRoyal/logger"
)

// FFmpegProcessor wraps the ffmpeg calls the runtime needs for
// sources beep cannot decode natively.
type FFmpegProcessor struct {
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// Path returns the ffmpeg binary path.
func (p *FFmpegProcessor) Path() string { return p.ffmpegPath }

// TranscodeToWAV decodes any ffmpeg-readable input into 16-bit PCM WAV at
// the given rate so beep can play it.
func (p *FFmpegProcessor) TranscodeToWAV(ctx context.Context, inputFile, outputFile string, sampleRate, channels int) error {
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inputFile,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-f", "wav",
		outputFile,
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("transcoding source to wav", logger.String("input", inputFile), logger.String("output", outputFile))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg execution failed for %s: %w\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}
	return nil
}
