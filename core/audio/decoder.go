package audio

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// ErrUnsupportedFormat the container cannot be decoded natively
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// NativeFormats returns the extensions beep decodes without ffmpeg.
func NativeFormats() []string {
	return []string{".mp3", ".wav", ".flac"}
}

// IsNative checks if an extension is decoded natively.
func IsNative(ext string) bool {
	ext = strings.ToLower(ext)
	for _, format := range NativeFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// decodeFile opens path and decodes it according to ext.
func decodeFile(path, ext string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(ext) {
	case ".mp3":
		s, format, err = mp3.Decode(f)
	case ".wav":
		s, format, err = wav.Decode(f)
	case ".flac":
		s, format, err = flac.Decode(f)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, err
	}
	return s, format, nil
}

var contentTypeExt = map[string]string{
	"audio/mpeg":   ".mp3",
	"audio/mp3":    ".mp3",
	"audio/wav":    ".wav",
	"audio/x-wav":  ".wav",
	"audio/wave":   ".wav",
	"audio/flac":   ".flac",
	"audio/x-flac": ".flac",
	"audio/mp4":    ".m4a",
	"audio/aac":    ".aac",
	"audio/ogg":    ".ogg",
	"audio/webm":   ".webm",
	"audio/opus":   ".opus",
}

// extFor picks a file extension from the URL path, falling back to the
// response content type.
func extFor(urlPath, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(urlPath)); ext != "" && len(ext) <= 6 {
		return ext
	}
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return contentTypeExt[mt]
}
