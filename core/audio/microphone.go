package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/faiface/beep"

	"RadioRoyal/core/mixer"
	"RadioRoyal/logger"
)

// deviceStartGrace is how long ffmpeg must survive to count as opened.
const deviceStartGrace = 300 * time.Millisecond

// ffmpegDevice captures an input device through ffmpeg as s16le PCM.
type ffmpegDevice struct {
	label  string
	cmd    *exec.Cmd
	format beep.Format
	stderr bytes.Buffer

	mu     sync.Mutex
	buf    []byte
	maxBuf int

	done     chan struct{}
	stopOnce sync.Once
}

// MicrophoneArgs builds the ffmpeg capture command line.
func MicrophoneArgs(inputFormat, device string, sampleRate, channels int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", inputFormat,
		"-i", device,
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"pipe:1",
	}
}

// OpenCaptureDevice starts ffmpeg on the configured input device.
func (r *Runtime) OpenCaptureDevice(ctx context.Context) (mixer.CaptureDevice, error) {
	if r.opts.MicDevice == "" {
		return nil, fmt.Errorf("%w: no input device configured", mixer.ErrDeviceUnavailable)
	}

	args := MicrophoneArgs(r.opts.MicFormat, r.opts.MicDevice, int(r.format.SampleRate), r.format.NumChannels)
	d := &ffmpegDevice{
		label:  r.opts.MicFormat + ":" + r.opts.MicDevice,
		cmd:    exec.Command(r.ffmpeg.Path(), args...),
		format: r.format,
		maxBuf: int(r.format.SampleRate) * r.format.Width(),
		done:   make(chan struct{}),
	}
	d.cmd.Stderr = &d.stderr
	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := d.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start microphone capture: %w", err)
	}
	go d.readLoop(stdout)

	select {
	case <-d.done:
		return nil, fmt.Errorf("microphone capture exited: %s", bytes.TrimSpace(d.stderr.Bytes()))
	case <-ctx.Done():
		d.Stop()
		return nil, ctx.Err()
	case <-time.After(deviceStartGrace):
	}

	r.mu.Lock()
	r.devices = append(r.devices, d)
	r.mu.Unlock()
	logger.Info("microphone capture started", logger.String("device", d.label), logger.Int("pid", d.cmd.Process.Pid))
	return d, nil
}

func (d *ffmpegDevice) Label() string { return d.label }

func (d *ffmpegDevice) readLoop(stdout io.Reader) {
	defer close(d.done)
	chunk := make([]byte, 4096)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			d.mu.Lock()
			d.buf = append(d.buf, chunk[:n]...)
			if over := len(d.buf) - d.maxBuf; over > 0 {
				// keep whole frames
				over += (d.format.Width() - over%d.format.Width()) % d.format.Width()
				d.buf = d.buf[over:]
			}
			d.mu.Unlock()
		}
		if err != nil {
			break
		}
	}
	if err := d.cmd.Wait(); err != nil {
		logger.Debug("microphone capture ended", logger.String("device", d.label), logger.ErrorField(err))
	}
}

// read fills dst with buffered microphone audio; missing frames stay silent.
func (d *ffmpegDevice) read(dst [][2]float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := decodePCM(d.format, d.buf, dst)
	d.buf = d.buf[n*d.format.Width():]
}

// Stop interrupts ffmpeg and waits for it to exit.
func (d *ffmpegDevice) Stop() error {
	d.stopOnce.Do(func() {
		if d.cmd.Process != nil {
			d.cmd.Process.Signal(os.Interrupt)
		}
		select {
		case <-d.done:
		case <-time.After(2 * time.Second):
			d.cmd.Process.Kill()
			<-d.done
		}
	})
	return nil
}
