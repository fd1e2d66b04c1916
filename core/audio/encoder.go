package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"RadioRoyal/core/mixer"
	"RadioRoyal/logger"
)

// CaptureMimeType is what the capture encoder produces.
const CaptureMimeType = "audio/webm;codecs=opus"

// CaptureEncoder turns the master bus PCM into a live webm/opus stream.
type CaptureEncoder struct {
	ffmpegPath string
	bitrate    string
}

// NewCaptureEncoder creates an encoder; bitrate is an ffmpeg value like "128k".
func NewCaptureEncoder(ffmpegPath, bitrate string) *CaptureEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if bitrate == "" {
		bitrate = "128k"
	}
	return &CaptureEncoder{ffmpegPath: ffmpegPath, bitrate: bitrate}
}

// EncoderArgs builds the ffmpeg command line for a PCM input format.
func EncoderArgs(f mixer.StreamFormat, bitrate string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s" + strconv.Itoa(f.BitDepth) + "le",
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
		"-i", "pipe:0",
		"-c:a", "libopus",
		"-b:a", bitrate,
		"-f", "webm",
		"pipe:1",
	}
}

// EncodedStream is a running capture encoder. Read returns webm bytes.
type EncodedStream struct {
	cmd    *exec.Cmd
	stdout *io.PipeReader
	pcm    io.ReadCloser
	stderr bytes.Buffer

	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// Start subscribes to stream and launches ffmpeg.
func (e *CaptureEncoder) Start(ctx context.Context, stream mixer.MediaStream) (*EncodedStream, error) {
	args := EncoderArgs(stream.Format(), e.bitrate)
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	es := &EncodedStream{cmd: cmd, done: make(chan struct{})}
	cmd.Stderr = &es.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	es.stdout = pr
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("start capture encoder: %w", err)
	}

	es.pcm = stream.Subscribe()
	go func() {
		defer stdin.Close()
		if _, err := io.Copy(stdin, es.pcm); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Debug("capture encoder input ended", logger.ErrorField(err))
		}
	}()
	go func() {
		defer close(es.done)
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			es.err = fmt.Errorf("capture encoder exited: %w: %s", err, bytes.TrimSpace(es.stderr.Bytes()))
		}
		pw.CloseWithError(es.err)
	}()

	logger.Info("capture encoder started", logger.Int("pid", cmd.Process.Pid), logger.String("mimeType", CaptureMimeType))
	return es, nil
}

// MimeType returns the container/codec of the stream.
func (s *EncodedStream) MimeType() string { return CaptureMimeType }

func (s *EncodedStream) Read(p []byte) (int, error) { return s.stdout.Read(p) }

// Done is closed when ffmpeg exits.
func (s *EncodedStream) Done() <-chan struct{} { return s.done }

// Err is the exit error once Done is closed.
func (s *EncodedStream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops feeding PCM so ffmpeg flushes and exits.
func (s *EncodedStream) Close() error {
	s.closeOnce.Do(func() {
		s.pcm.Close()
		go io.Copy(io.Discard, s.stdout)
		select {
		case <-s.done:
		case <-time.After(3 * time.Second):
			s.cmd.Process.Kill()
			<-s.done
		}
	})
	return s.Err()
}
