// Package transcode normalizes relay audio into a single canonical encoding.
// Conversion is strictly best-effort: when anything in the pipeline fails the
// original clip is passed through unchanged.
package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/observability"
	"github.com/callscribe/callscribe/internal/utils"
)

// MimeMP3 is the canonical encoding every clip leaves the pipeline in.
const MimeMP3 = "audio/mpeg"

const defaultTimeout = 30 * time.Second

// Runner executes the external converter. Abstracted so tests can stand in
// for the ffmpeg binary.
type Runner func(ctx context.Context, bin string, args ...string) error

func execRunner(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", bin, err, out)
	}
	return nil
}

// Pipeline converts relay clips to MP3 through an ffmpeg subprocess using
// two short-lived temp files. Both files are removed on every exit path.
type Pipeline struct {
	bin      string
	disabled bool
	run      Runner
	timeout  time.Duration
	log      *logrus.Logger
}

type Option func(*Pipeline)

// WithRunner replaces the subprocess runner, for tests.
func WithRunner(run Runner) Option {
	return func(p *Pipeline) { p.run = run }
}

// WithTimeout bounds a single conversion.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// NewPipeline configures the converter from the environment. FFMPEG_PATH
// overrides the binary lookup and TRANSCODE_DISABLED=true turns the whole
// stage into a passthrough.
func NewPipeline(log *logrus.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logrus.New()
	}
	bin := os.Getenv("FFMPEG_PATH")
	if bin == "" {
		bin = "ffmpeg"
	}
	p := &Pipeline{
		bin:      bin,
		disabled: os.Getenv("TRANSCODE_DISABLED") == "true",
		run:      execRunner,
		timeout:  defaultTimeout,
		log:      log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Normalize converts msg to MP3. The returned message is either the
// converted clip or, on any failure, the input unchanged.
func (p *Pipeline) Normalize(ctx context.Context, msg models.AudioMessage) models.AudioMessage {
	if p.disabled || msg.MimeType == MimeMP3 || len(msg.Payload) == 0 {
		return msg
	}

	in, err := os.CreateTemp("", "relay-in-*"+extFor(msg.MimeType))
	if err != nil {
		p.warn(msg, "temp input", err)
		return msg
	}
	inPath := in.Name()
	defer os.Remove(inPath)

	if _, err := in.Write(msg.Payload); err != nil {
		in.Close()
		p.warn(msg, "write input", err)
		return msg
	}
	if err := in.Close(); err != nil {
		p.warn(msg, "close input", err)
		return msg
	}

	outFile, err := os.CreateTemp("", "relay-out-*.mp3")
	if err != nil {
		p.warn(msg, "temp output", err)
		return msg
	}
	outPath := outFile.Name()
	outFile.Close()
	defer os.Remove(outPath)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.run(ctx, p.bin, "-y", "-i", inPath, "-codec:a", "libmp3lame", "-q:a", "4", outPath); err != nil {
		p.warn(msg, "convert", err)
		return msg
	}

	converted, err := os.ReadFile(outPath)
	if err != nil || len(converted) == 0 {
		p.warn(msg, "read output", err)
		return msg
	}

	out := msg
	out.MimeType = MimeMP3
	out.Payload = converted
	return out
}

func (p *Pipeline) warn(msg models.AudioMessage, stage string, err error) {
	observability.TranscodeFailures.Inc()
	p.log.WithFields(logrus.Fields{
		"call_id": msg.CallID,
		"speaker": msg.Speaker,
		"stage":   stage,
		"code":    utils.CodeTranscode,
	}).WithError(err).Warn("transcode failed, passing clip through unchanged")
}

func extFor(mimeType string) string {
	switch mimeType {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".bin"
	}
}
