// Package ffmpeg drives the external FFmpeg and FFprobe binaries for media
// analysis, segmentation, selective re-encoding, and subtitle extraction.
package ffmpeg

import (
	"os/exec"

	"github.com/hlsvault/hlsvault/internal/config"
	"github.com/hlsvault/hlsvault/internal/models"
)

// Binaries holds resolved paths to the external tools.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// ResolveBinaries locates the ffmpeg and ffprobe executables, preferring
// explicitly configured paths over PATH lookup.
func ResolveBinaries(cfg config.FFmpegConfig) (Binaries, error) {
	b := Binaries{FFmpeg: cfg.BinaryPath, FFprobe: cfg.ProbePath}

	if b.FFmpeg == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return Binaries{}, models.Wrap(models.KindConfigInvalid, err, "ffmpeg not found in PATH")
		}
		b.FFmpeg = path
	}
	if b.FFprobe == "" {
		path, err := exec.LookPath("ffprobe")
		if err != nil {
			return Binaries{}, models.Wrap(models.KindConfigInvalid, err, "ffprobe not found in PATH")
		}
		b.FFprobe = path
	}
	return b, nil
}
