package tts

import (
	"bytes"
	"fmt"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/loqalabs/dyslu/internal/capture"
)

// Duration decodes the playback length of an MP3 or WAV clip. Other
// containers return an error and the caller falls back to a fixed timeout.
func Duration(data []byte, mime string) (time.Duration, error) {
	switch mime {
	case "audio/wav":
		return capture.WAVDuration(data)
	case "audio/mpeg", "audio/mp3":
		dec, err := mp3.NewDecoder(bytes.NewReader(data))
		if err != nil {
			return 0, fmt.Errorf("decode mp3: %w", err)
		}
		// go-mp3 always yields 16-bit stereo.
		bytesPerSecond := int64(dec.SampleRate()) * 4
		if bytesPerSecond == 0 || dec.Length() < 0 {
			return 0, fmt.Errorf("mp3 length unknown")
		}
		return time.Duration(dec.Length()) * time.Second / time.Duration(bytesPerSecond), nil
	default:
		return 0, fmt.Errorf("duration unsupported for %q", mime)
	}
}
