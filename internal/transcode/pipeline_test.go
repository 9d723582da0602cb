package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/callscribe/callscribe/internal/models"
)

func clip() models.AudioMessage {
	return models.AudioMessage{
		CallID:   "call-1",
		Speaker:  models.SpeakerCaller,
		MimeType: "audio/webm",
		Payload:  []byte("webm bytes"),
	}
}

func TestNormalize_ConvertsToMP3(t *testing.T) {
	var inPath, outPath string
	run := func(ctx context.Context, bin string, args ...string) error {
		// ffmpeg ... -i <in> ... <out>
		for i, a := range args {
			if a == "-i" {
				inPath = args[i+1]
			}
		}
		outPath = args[len(args)-1]

		got, err := os.ReadFile(inPath)
		if err != nil {
			t.Fatalf("input file not written: %v", err)
		}
		if string(got) != "webm bytes" {
			t.Errorf("input file holds %q", got)
		}
		return os.WriteFile(outPath, []byte("mp3 bytes"), 0o600)
	}

	p := NewPipeline(nil, WithRunner(run))
	out := p.Normalize(context.Background(), clip())

	if out.MimeType != MimeMP3 {
		t.Errorf("mime = %q, want %q", out.MimeType, MimeMP3)
	}
	if string(out.Payload) != "mp3 bytes" {
		t.Errorf("payload = %q", out.Payload)
	}
	if out.CallID != "call-1" || out.Speaker != models.SpeakerCaller {
		t.Error("routing fields not preserved")
	}

	for _, path := range []string{inPath, outPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("temp file %s not cleaned up", path)
		}
	}
}

func TestNormalize_ConverterFailurePassesThrough(t *testing.T) {
	var inPath string
	run := func(ctx context.Context, bin string, args ...string) error {
		for i, a := range args {
			if a == "-i" {
				inPath = args[i+1]
			}
		}
		return errors.New("unsupported codec")
	}

	p := NewPipeline(nil, WithRunner(run))
	in := clip()
	out := p.Normalize(context.Background(), in)

	if out.MimeType != in.MimeType || string(out.Payload) != string(in.Payload) {
		t.Errorf("failed conversion altered the clip: %+v", out)
	}
	if _, err := os.Stat(inPath); !os.IsNotExist(err) {
		t.Errorf("temp input %s not cleaned up after failure", inPath)
	}
}

func TestNormalize_EmptyOutputPassesThrough(t *testing.T) {
	run := func(ctx context.Context, bin string, args ...string) error {
		// Converter "succeeds" but never writes the output file.
		return nil
	}

	p := NewPipeline(nil, WithRunner(run))
	in := clip()
	out := p.Normalize(context.Background(), in)

	if out.MimeType != in.MimeType || string(out.Payload) != string(in.Payload) {
		t.Errorf("missing output altered the clip: %+v", out)
	}
}

func TestNormalize_ConcurrentConversionsGetDistinctOutputs(t *testing.T) {
	// Each invocation echoes its own input into its output file; a shared
	// output path would cross the payloads.
	run := func(ctx context.Context, bin string, args ...string) error {
		var inPath string
		for i, a := range args {
			if a == "-i" {
				inPath = args[i+1]
			}
		}
		got, err := os.ReadFile(inPath)
		if err != nil {
			return err
		}
		return os.WriteFile(args[len(args)-1], append([]byte("mp3:"), got...), 0o600)
	}

	p := NewPipeline(nil, WithRunner(run))

	const n = 8
	results := make([]models.AudioMessage, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := clip()
			in.Payload = []byte(fmt.Sprintf("chunk-%d", i))
			results[i] = p.Normalize(context.Background(), in)
		}(i)
	}
	wg.Wait()

	for i, out := range results {
		want := fmt.Sprintf("mp3:chunk-%d", i)
		if string(out.Payload) != want {
			t.Errorf("clip %d payload = %q, want %q", i, out.Payload, want)
		}
	}
}

func TestNormalize_AlreadyCanonicalSkipsConverter(t *testing.T) {
	run := func(ctx context.Context, bin string, args ...string) error {
		t.Fatal("converter invoked for canonical input")
		return nil
	}

	p := NewPipeline(nil, WithRunner(run))
	in := clip()
	in.MimeType = MimeMP3
	out := p.Normalize(context.Background(), in)

	if string(out.Payload) != string(in.Payload) {
		t.Error("canonical clip altered")
	}
}

func TestNormalize_DisabledByEnv(t *testing.T) {
	t.Setenv("TRANSCODE_DISABLED", "true")
	run := func(ctx context.Context, bin string, args ...string) error {
		t.Fatal("converter invoked while disabled")
		return nil
	}

	p := NewPipeline(nil, WithRunner(run))
	in := clip()
	out := p.Normalize(context.Background(), in)

	if out.MimeType != in.MimeType {
		t.Error("disabled pipeline altered the clip")
	}
}

func TestNormalize_BinaryFromEnv(t *testing.T) {
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	var gotBin string
	run := func(ctx context.Context, bin string, args ...string) error {
		gotBin = bin
		return errors.New("stop here")
	}

	p := NewPipeline(nil, WithRunner(run))
	p.Normalize(context.Background(), clip())

	if gotBin != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("bin = %q", gotBin)
	}
}
