package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
)

// MimeWebM is the container the microphone capture emits before server-side
// normalization.
const MimeWebM = "audio/webm"

// FFmpegCapture buffers one utterance from the default microphone as
// webm/opus via an ffmpeg child process. The process is the device handle:
// Stop kills it on every path.
type FFmpegCapture struct {
	path string

	mu     sync.Mutex
	cmd    *exec.Cmd
	buf    bytes.Buffer
	copied chan struct{}
}

func NewFFmpegCapture(path string) *FFmpegCapture {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegCapture{path: path}
}

func captureArgs(goos string) ([]string, error) {
	common := []string{
		"-hide_banner", "-loglevel", "error",
		"-ac", "1", "-ar", "48000",
		"-c:a", "libopus", "-f", "webm", "-",
	}
	switch goos {
	case "darwin":
		return append([]string{"-f", "avfoundation", "-i", ":0"}, common...), nil
	case "linux":
		return append([]string{"-f", "pulse", "-i", "default"}, common...), nil
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s", goos)
	}
}

func (c *FFmpegCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return errors.New("capture already running")
	}
	if _, err := exec.LookPath(c.path); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}

	args, err := captureArgs(runtime.GOOS)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, c.path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg capture: %w", err)
	}

	c.buf.Reset()
	c.copied = make(chan struct{})
	c.cmd = cmd

	go func(done chan struct{}) {
		_, _ = io.Copy(&c.buf, stdout)
		close(done)
	}(c.copied)

	return nil
}

func (c *FFmpegCapture) Stop() ([]byte, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return nil, MimeWebM, nil
	}
	cmd := c.cmd
	c.cmd = nil

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
	<-c.copied

	payload := make([]byte, c.buf.Len())
	copy(payload, c.buf.Bytes())
	c.buf.Reset()
	return payload, MimeWebM, nil
}

// FFplayPlayer plays one clip per invocation through ffplay, blocking until
// the clip ends. -autoexit makes natural completion observable as process
// exit, which is what keeps the queue strictly sequential.
type FFplayPlayer struct {
	path string
}

func NewFFplayPlayer(path string) *FFplayPlayer {
	if path == "" {
		path = "ffplay"
	}
	return &FFplayPlayer{path: path}
}

func (p *FFplayPlayer) Play(ctx context.Context, payload []byte, mimeType string) error {
	if len(payload) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, p.path,
		"-hide_banner", "-loglevel", "error", "-nostats",
		"-nodisp", "-autoexit",
		"-i", "-",
	)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = io.Discard
	cmd.Stdout = io.Discard

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffplay: %w", err)
	}
	return nil
}
