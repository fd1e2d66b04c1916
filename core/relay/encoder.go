package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"RadioRoyal/config"
	"RadioRoyal/logger"
)

// EncoderSettings are the ffmpeg parameters for the RTMP output.
type EncoderSettings struct {
	FFmpegPath      string
	VideoResolution string
	FrameRate       int
	Color           string
	Codec           string
	Preset          string
	Tune            string
	VideoBitrate    string
	Maxrate         string
	Bufsize         string
	GOP             int
	AudioBitrate    string
	SampleRate      int
	Channels        int
}

// SettingsFromConfig copies encoder settings out of the app config.
func SettingsFromConfig(cfg *config.Config) EncoderSettings {
	return EncoderSettings{
		FFmpegPath:      cfg.FFmpegPath,
		VideoResolution: cfg.VideoResolution,
		FrameRate:       cfg.VideoFrameRate,
		Color:           cfg.VideoColor,
		Codec:           cfg.VideoCodec,
		Preset:          cfg.VideoPreset,
		Tune:            cfg.VideoTune,
		VideoBitrate:    cfg.VideoBitrate,
		Maxrate:         cfg.VideoMaxrate,
		Bufsize:         cfg.VideoBufsize,
		GOP:             cfg.VideoGOP,
		AudioBitrate:    cfg.AudioBitrate,
		SampleRate:      cfg.AudioSampleRate,
		Channels:        cfg.AudioChannels,
	}
}

// BuildArgs 音频来自 stdin，视频是合成的纯色画面
func BuildArgs(s EncoderSettings, inputFormat, target string) []string {
	color := fmt.Sprintf("color=c=%s:s=%s:r=%d", s.Color, s.VideoResolution, s.FrameRate)
	return []string{
		"-loglevel", "info",
		"-re",
		"-f", inputFormat,
		"-i", "pipe:0",
		"-f", "lavfi",
		"-i", color,
		"-shortest",
		"-map", "1:v:0",
		"-map", "0:a:0",
		"-c:v", s.Codec,
		"-preset", s.Preset,
		"-tune", s.Tune,
		"-pix_fmt", "yuv420p",
		"-b:v", s.VideoBitrate,
		"-maxrate", s.Maxrate,
		"-bufsize", s.Bufsize,
		"-g", strconv.Itoa(s.GOP),
		"-c:a", "aac",
		"-b:a", s.AudioBitrate,
		"-ar", strconv.Itoa(s.SampleRate),
		"-ac", strconv.Itoa(s.Channels),
		"-f", "flv",
		target,
	}
}

// Process is a running encoder.
type Process interface {
	Write(p []byte) (int, error)
	// Stop closes the input and interrupts the process without waiting.
	Stop() error
	// Lines yields diagnostic output and is closed when the process exits.
	Lines() <-chan string
	Done() <-chan struct{}
	// Err is the exit error; valid after Done is closed.
	Err() error
	PID() int
}

// Launcher starts encoder processes.
type Launcher interface {
	Launch(ctx context.Context, inputFormat, target string) (Process, error)
}

// FFmpegLauncher spawns ffmpeg with BuildArgs.
type FFmpegLauncher struct {
	settings EncoderSettings
}

// NewFFmpegLauncher creates a launcher.
func NewFFmpegLauncher(settings EncoderSettings) *FFmpegLauncher {
	return &FFmpegLauncher{settings: settings}
}

// Launch starts ffmpeg. The process is not bound to ctx; it lives until Stop.
func (l *FFmpegLauncher) Launch(ctx context.Context, inputFormat, target string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := BuildArgs(l.settings, inputFormat, target)
	cmd := exec.Command(l.settings.FFmpegPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe error: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stderr pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}

	p := &ffmpegProcess{
		cmd:     cmd,
		stdin:   stdin,
		lines:   make(chan string, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.wait(stderr)
	logger.Info("ffmpeg iniciado", logger.Int("pid", cmd.Process.Pid), logger.String("format", inputFormat))
	return p, nil
}

type ffmpegProcess struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	lines    chan string
	done     chan struct{}
	err      error
	stopped  chan struct{}
	stopOnce sync.Once
}

func (p *ffmpegProcess) wait(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 16*1024), 1024*1024)
	scanner.Split(scanLinesCR)
	for scanner.Scan() {
		if line := string(bytes.TrimSpace(scanner.Bytes())); line != "" {
			select {
			case p.lines <- line:
			case <-p.stopped:
				// 已停止且无人读取，丢弃
			}
		}
	}
	close(p.lines)
	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *ffmpegProcess) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *ffmpegProcess) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopped)
		p.stdin.Close()
		if p.cmd.Process != nil {
			err = p.cmd.Process.Signal(os.Interrupt)
			if errors.Is(err, os.ErrProcessDone) {
				err = nil
			}
		}
	})
	return err
}

func (p *ffmpegProcess) Lines() <-chan string  { return p.lines }
func (p *ffmpegProcess) Done() <-chan struct{} { return p.done }
func (p *ffmpegProcess) Err() error            { return p.err }
func (p *ffmpegProcess) PID() int              { return p.cmd.Process.Pid }

// scanLinesCR splits on \n or \r; ffmpeg rewrites progress lines with \r.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// ExitMessage formats an unexpected exit for the error frame.
func ExitMessage(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return fmt.Sprintf("FFmpeg encerrou com código %d (signal %s)", code, ws.Signal())
		}
		return fmt.Sprintf("FFmpeg encerrou com código %d", code)
	}
	return fmt.Sprintf("FFmpeg encerrou com erro: %v", err)
}
