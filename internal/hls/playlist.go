// Package hls renders master and media playlists from metadata rows. All
// functions are pure: the same rows and base URL always produce identical
// bytes.
package hls

import (
	"fmt"
	"math"
	"strings"

	"github.com/hlsvault/hlsvault/internal/models"
)

// TrackName is the path component of the single video variant.
const TrackName = "v0"

// SubtitleGroup is the EXT-X-MEDIA group id shared by all subtitle entries.
const SubtitleGroup = "subs"

// Master renders the master playlist for an active video. baseURL prefixes
// every URI; pass "" for the relative flavor. Subtitle tracks become one
// EXT-X-MEDIA entry each.
func Master(video *models.Video, subtitles []*models.SubtitleTrack, baseURL string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, track := range subtitles {
		writeSubtitleMedia(&b, track, baseURL)
	}

	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d", estimateBandwidth(video))
	if video.VideoCodec != "" {
		fmt.Fprintf(&b, ",CODECS=%q", rfcCodecs(video))
	}
	if len(subtitles) > 0 {
		fmt.Fprintf(&b, ",SUBTITLES=%q", SubtitleGroup)
	}
	b.WriteString("\n")
	b.WriteString(joinURI(baseURL, TrackName+"/playlist.m3u8"))
	b.WriteString("\n")
	return b.String()
}

// Media renders the segment playlist for one video in ordinal order.
func Media(segments []*models.Segment, baseURL string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(segments))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	for _, seg := range segments {
		fmt.Fprintf(&b, "#EXTINF:%.6f,\n", seg.Duration)
		b.WriteString(joinURI(baseURL, seg.Filename))
		b.WriteString("\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func writeSubtitleMedia(b *strings.Builder, track *models.SubtitleTrack, baseURL string) {
	name := track.Title
	if name == "" {
		name = track.Language
	}
	uri := joinURI(baseURL, "subtitles/"+track.Language)

	fmt.Fprintf(b, "#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=%q,NAME=%q,LANGUAGE=%q,DEFAULT=%s,AUTOSELECT=YES",
		SubtitleGroup, name, track.Language, yesNo(track.IsDefault))
	if track.IsForced {
		b.WriteString(",FORCED=YES")
	}
	fmt.Fprintf(b, ",URI=%q\n", uri)
}

// targetDuration is the ceiling of the longest segment duration.
func targetDuration(segments []*models.Segment) int {
	var longest float64
	for _, seg := range segments {
		if seg.Duration > longest {
			longest = seg.Duration
		}
	}
	return int(math.Ceil(longest))
}

// estimateBandwidth derives the variant's BANDWIDTH attribute from stored
// totals. Falls back to a nominal figure for zero-length metadata.
func estimateBandwidth(video *models.Video) int64 {
	if video.Duration <= 0 || video.ByteSize <= 0 {
		return 2_000_000
	}
	return int64(float64(video.ByteSize) * 8 / video.Duration)
}

// rfcCodecs maps stored codec names to RFC 6381 strings players expect.
func rfcCodecs(video *models.Video) string {
	var parts []string
	switch video.VideoCodec {
	case "h264":
		parts = append(parts, "avc1.640028")
	case "hevc":
		parts = append(parts, "hvc1.1.6.L120.90")
	default:
		parts = append(parts, video.VideoCodec)
	}
	switch video.AudioCodec {
	case "aac":
		parts = append(parts, "mp4a.40.2")
	case "mp3":
		parts = append(parts, "mp4a.40.34")
	case "ac3":
		parts = append(parts, "ac-3")
	case "":
	default:
		parts = append(parts, video.AudioCodec)
	}
	return strings.Join(parts, ",")
}

func joinURI(baseURL, path string) string {
	if baseURL == "" {
		return path
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + path
}

func yesNo(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}
