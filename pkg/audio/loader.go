package audio

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

// supported formats; anything non-WAV goes through ffmpeg.
var convertedFormats = map[string]bool{
	".mp3":  true,
	".flac": true,
	".aiff": true,
	".aif":  true,
	".ogg":  true,
	".m4a":  true,
}

// Load decodes path and runs the option pipeline.
func Load(path string, opts Options) (*Buffer, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		raw *Buffer
		err error
	)
	switch {
	case ext == ".wav":
		raw, err = decodeWAV(path)
	case convertedFormats[ext]:
		raw, err = decodeViaFFmpeg(path, opts.TargetRate)
	default:
		return nil, smerrors.Newf(smerrors.KindInvalidInput, "audio", "unsupported format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return prepare(raw, opts), nil
}

// decodeViaFFmpeg converts the file to a temporary 16-bit PCM WAV and
// decodes that.
func decodeViaFFmpeg(path string, targetRate int) (*Buffer, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, smerrors.New(smerrors.KindUpstream, "audio", "ffmpeg not found in PATH")
	}
	if targetRate <= 0 {
		targetRate = 44100
	}

	tmp, err := os.CreateTemp("", "samplemind-*.wav")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	cmd := exec.Command("ffmpeg", "-y", "-i", path,
		"-c", "pcm_s16le",
		"-ar", fmt.Sprint(targetRate),
		"-ac", "1",
		tmpPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, smerrors.Newf(smerrors.KindUpstream, "audio",
			"ffmpeg conversion of %s failed: %v: %s", filepath.Base(path), err, tail(string(output), 200))
	}

	return decodeWAV(tmpPath)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
