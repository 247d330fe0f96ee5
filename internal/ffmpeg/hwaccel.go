package ffmpeg

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/hlsvault/hlsvault/internal/models"
)

// Encoder is the H.264 encoder selection used for re-encode passes.
type Encoder struct {
	Name string
	// Args are encoder-specific quality flags inserted after -c:v.
	Args []string
}

// Hardware encoders probed in preference order under "auto".
var hwEncoderPreference = []string{
	"h264_nvenc",
	"h264_qsv",
	"h264_vaapi",
	"h264_videotoolbox",
}

var softwareEncoder = Encoder{
	Name: "libx264",
	Args: []string{"-preset", "medium", "-crf", "22"},
}

// SelectEncoder resolves the hardware_accel setting to a concrete encoder.
// "none" forces software, "auto" probes the ffmpeg build for a known
// hardware encoder, anything else names an encoder directly.
func SelectEncoder(ctx context.Context, bin Binaries, mode string, log *slog.Logger) (Encoder, error) {
	if log == nil {
		log = slog.Default()
	}

	switch mode {
	case "", "none":
		return softwareEncoder, nil
	case "auto":
		out, err := exec.CommandContext(ctx, bin.FFmpeg, "-hide_banner", "-encoders").Output()
		if err != nil {
			log.Warn("encoder probe failed, using software encoder", slog.String("error", err.Error()))
			return softwareEncoder, nil
		}
		if name, ok := pickHardwareEncoder(string(out)); ok {
			log.Info("hardware encoder selected", slog.String("encoder", name))
			return hardwareEncoder(name), nil
		}
		return softwareEncoder, nil
	default:
		out, err := exec.CommandContext(ctx, bin.FFmpeg, "-hide_banner", "-encoders").Output()
		if err == nil && !encoderListed(string(out), mode) {
			return Encoder{}, models.E(models.KindConfigInvalid,
				"encoder %q not available in this ffmpeg build", mode)
		}
		return hardwareEncoder(mode), nil
	}
}

// pickHardwareEncoder returns the first preferred hardware encoder present
// in an `ffmpeg -encoders` listing.
func pickHardwareEncoder(listing string) (string, bool) {
	for _, name := range hwEncoderPreference {
		if encoderListed(listing, name) {
			return name, true
		}
	}
	return "", false
}

func encoderListed(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		// Listing rows look like " V....D h264_nvenc   NVIDIA NVENC ...".
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

func hardwareEncoder(name string) Encoder {
	if name == "libx264" {
		return softwareEncoder
	}
	// Hardware encoders ignore CRF; rate control comes from -maxrate.
	return Encoder{Name: name}
}
