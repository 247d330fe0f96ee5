package hls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsvault/hlsvault/internal/models"
)

func testVideo() *models.Video {
	return &models.Video{
		ID:         "big_buck_bunny",
		Filename:   "big_buck_bunny.mp4",
		Container:  "mp4",
		VideoCodec: "h264",
		AudioCodec: "aac",
		Duration:   30,
		ByteSize:   30 << 20,
		Status:     models.VideoStatusActive,
	}
}

func testSegments() []*models.Segment {
	return []*models.Segment{
		{VideoID: "big_buck_bunny", Ordinal: 0, Filename: "segment_00000.ts", Duration: 10.01},
		{VideoID: "big_buck_bunny", Ordinal: 1, Filename: "segment_00001.ts", Duration: 12.5},
		{VideoID: "big_buck_bunny", Ordinal: 2, Filename: "segment_00002.ts", Duration: 7.49},
	}
}

func TestMediaPlaylist(t *testing.T) {
	out := Media(testSegments(), "")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-VERSION:3", lines[1])
	// ceil(12.5) = 13
	assert.Equal(t, "#EXT-X-TARGETDURATION:13", lines[2])
	assert.Equal(t, "#EXT-X-MEDIA-SEQUENCE:0", lines[3])
	assert.Equal(t, "#EXTINF:10.010000,", lines[4])
	assert.Equal(t, "segment_00000.ts", lines[5])
	assert.Equal(t, "#EXT-X-ENDLIST", lines[len(lines)-1])
}

func TestMediaPlaylistAbsolute(t *testing.T) {
	out := Media(testSegments(), "https://vault.example.com/hls/big_buck_bunny/v0")
	assert.Contains(t, out, "https://vault.example.com/hls/big_buck_bunny/v0/segment_00001.ts\n")
	assert.NotContains(t, out, "\nsegment_00001.ts\n")
}

func TestMediaPlaylistByteStable(t *testing.T) {
	first := Media(testSegments(), "")
	second := Media(testSegments(), "")
	assert.Equal(t, first, second)
}

func TestMasterPlaylist(t *testing.T) {
	out := Master(testVideo(), nil, "")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	require.Len(t, lines, 4)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-VERSION:3", lines[1])
	// 30 MiB over 30s = 8388608 bps
	assert.Equal(t, `#EXT-X-STREAM-INF:BANDWIDTH=8388608,CODECS="avc1.640028,mp4a.40.2"`, lines[2])
	assert.Equal(t, "v0/playlist.m3u8", lines[3])
}

func TestMasterPlaylistWithSubtitles(t *testing.T) {
	subtitles := []*models.SubtitleTrack{
		{VideoID: "big_buck_bunny", TrackIndex: 0, Language: "en", Title: "English", IsDefault: true},
		{VideoID: "big_buck_bunny", TrackIndex: 1, Language: "de", IsForced: true},
	}

	out := Master(testVideo(), subtitles, "https://vault.example.com/hls/big_buck_bunny")

	assert.Contains(t, out,
		`#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="https://vault.example.com/hls/big_buck_bunny/subtitles/en"`)
	// Untitled track falls back to its language code; forced flag emitted.
	assert.Contains(t, out,
		`#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="de",LANGUAGE="de",DEFAULT=NO,AUTOSELECT=YES,FORCED=YES,URI="https://vault.example.com/hls/big_buck_bunny/subtitles/de"`)
	assert.Contains(t, out, `SUBTITLES="subs"`)
	assert.Contains(t, out, "https://vault.example.com/hls/big_buck_bunny/v0/playlist.m3u8\n")
}

func TestEstimateBandwidthFallback(t *testing.T) {
	v := testVideo()
	v.ByteSize = 0
	assert.Equal(t, int64(2_000_000), estimateBandwidth(v))
}

func TestTargetDurationEmpty(t *testing.T) {
	assert.Equal(t, 0, targetDuration(nil))
}
