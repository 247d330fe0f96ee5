package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const encoderListing = ` V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D libx264rgb           libx264 H.264 / AVC (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 V....D hevc_vaapi           H.265/HEVC (VAAPI) (codec hevc)`

func TestEncoderListed(t *testing.T) {
	assert.True(t, encoderListed(encoderListing, "libx264"))
	assert.True(t, encoderListed(encoderListing, "h264_vaapi"))
	assert.False(t, encoderListed(encoderListing, "h264_nvenc"))
	// Substrings of longer names must not match.
	assert.False(t, encoderListed(encoderListing, "libx26"))
}

func TestPickHardwareEncoder(t *testing.T) {
	name, ok := pickHardwareEncoder(encoderListing)
	assert.True(t, ok)
	assert.Equal(t, "h264_vaapi", name)

	_, ok = pickHardwareEncoder(" V....D libx264  software only")
	assert.False(t, ok)

	// nvenc outranks vaapi when both are present.
	both := encoderListing + "\n V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)"
	name, ok = pickHardwareEncoder(both)
	assert.True(t, ok)
	assert.Equal(t, "h264_nvenc", name)
}

func TestHardwareEncoderArgs(t *testing.T) {
	assert.Equal(t, softwareEncoder, hardwareEncoder("libx264"))
	enc := hardwareEncoder("h264_nvenc")
	assert.Equal(t, "h264_nvenc", enc.Name)
	assert.Empty(t, enc.Args)
}
