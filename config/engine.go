package config

import (
	"os"
	"strconv"
	"time"
)

// Engine knobs. Everything has a working default; env vars override.

// PartialThrottle is the minimum interval between partial-transcript
// broadcasts per speaker. PARTIAL_THROTTLE_MS overrides.
func PartialThrottle() time.Duration {
	if ms, err := strconv.Atoi(os.Getenv("PARTIAL_THROTTLE_MS")); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 150 * time.Millisecond
}

// FFmpegPath names the converter/capture binary. Empty means $PATH lookup.
func FFmpegPath() string {
	return os.Getenv("FFMPEG_PATH")
}

// FFplayPath names the playback binary for the caller client.
func FFplayPath() string {
	return os.Getenv("FFPLAY_PATH")
}

// SpeechLanguage is the BCP-47 code handed to the streaming recognizer.
// SPEECH_LANGUAGE overrides.
func SpeechLanguage() string {
	if lang := os.Getenv("SPEECH_LANGUAGE"); lang != "" {
		return lang
	}
	return "en-US"
}

// RelayWorkers is the consumer-group size for the audio relay stream.
func RelayWorkers() int {
	if n, err := strconv.Atoi(os.Getenv("RELAY_WORKERS")); err == nil && n > 0 {
		return n
	}
	return 4
}
