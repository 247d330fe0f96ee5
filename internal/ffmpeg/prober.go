package ffmpeg

import (
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hlsvault/hlsvault/internal/models"
)

// MediaInfo is the analyzed shape of an input file.
type MediaInfo struct {
	Container string
	Duration  float64
	Bitrate   int64
	ByteSize  int64

	Video     []VideoTrack
	Audio     []AudioTrack
	Subtitles []SubtitleStream
}

// VideoTrack describes one video stream.
type VideoTrack struct {
	Index  int
	Codec  string
	Width  int
	Height int
	FPS    float64
}

// AudioTrack describes one audio stream.
type AudioTrack struct {
	Index    int
	Codec    string
	Channels int
	Language string
}

// SubtitleStream describes one embedded subtitle stream. TypeIndex is the
// position among subtitle streams only, as used by ffmpeg's 0:s:N mapping.
type SubtitleStream struct {
	Index           int
	TypeIndex       int
	Codec           string
	Language        string
	Title           string
	Default         bool
	Forced          bool
	HearingImpaired bool
}

// Prober analyzes media files with ffprobe.
type Prober struct {
	bin    Binaries
	logger *slog.Logger
}

// NewProber creates a Prober.
func NewProber(bin Binaries, log *slog.Logger) *Prober {
	if log == nil {
		log = slog.Default()
	}
	return &Prober{bin: bin, logger: log.With(slog.String("component", "prober"))}
}

// Probe runs ffprobe and parses its JSON report.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, p.bin.FFprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, models.Wrap(models.KindProbeFailed, err, "probing %s", path)
	}

	info, err := ParseProbeOutput(out)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("probed input",
		slog.String("path", path),
		slog.String("container", info.Container),
		slog.Float64("duration", info.Duration),
		slog.Int("video_tracks", len(info.Video)),
		slog.Int("audio_tracks", len(info.Audio)),
		slog.Int("subtitle_tracks", len(info.Subtitles)))
	return info, nil
}

type probeReport struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
		Size       string `json:"size"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	Index        int    `json:"index"`
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Channels     int    `json:"channels"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Tags         struct {
		Language string `json:"language"`
		Title    string `json:"title"`
	} `json:"tags"`
	Disposition struct {
		Default int `json:"default"`
		Forced  int `json:"forced"`
	} `json:"disposition"`
}

// ParseProbeOutput converts a raw ffprobe JSON report into MediaInfo.
func ParseProbeOutput(data []byte) (*MediaInfo, error) {
	var report probeReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, models.Wrap(models.KindProbeFailed, err, "decoding ffprobe output")
	}

	info := &MediaInfo{
		Container: firstFormatName(report.Format.FormatName),
		Duration:  parseFloat(report.Format.Duration),
		Bitrate:   parseInt(report.Format.BitRate),
		ByteSize:  parseInt(report.Format.Size),
	}

	subtitleIdx := 0
	for _, s := range report.Streams {
		switch s.CodecType {
		case "video":
			info.Video = append(info.Video, VideoTrack{
				Index:  s.Index,
				Codec:  s.CodecName,
				Width:  s.Width,
				Height: s.Height,
				FPS:    parseFrameRate(s.AvgFrameRate),
			})
		case "audio":
			info.Audio = append(info.Audio, AudioTrack{
				Index:    s.Index,
				Codec:    s.CodecName,
				Channels: s.Channels,
				Language: defaultLanguage(s.Tags.Language),
			})
		case "subtitle":
			if s.CodecName == "none" || s.CodecName == "attachment" {
				continue
			}
			title := s.Tags.Title
			info.Subtitles = append(info.Subtitles, SubtitleStream{
				Index:           s.Index,
				TypeIndex:       subtitleIdx,
				Codec:           s.CodecName,
				Language:        defaultLanguage(s.Tags.Language),
				Title:           title,
				Default:         s.Disposition.Default != 0,
				Forced:          s.Disposition.Forced != 0,
				HearingImpaired: looksHearingImpaired(title),
			})
			subtitleIdx++
		}
	}

	if info.Duration <= 0 {
		return nil, models.E(models.KindProbeFailed, "input has no readable duration")
	}
	if len(info.Video) == 0 {
		return nil, models.E(models.KindProbeFailed, "input has no video stream")
	}
	return info, nil
}

// PrimaryVideo returns the first video track.
func (m *MediaInfo) PrimaryVideo() VideoTrack {
	return m.Video[0]
}

// PrimaryAudioCodec returns the first audio track's codec, or "" for silent
// inputs.
func (m *MediaInfo) PrimaryAudioCodec() string {
	if len(m.Audio) == 0 {
		return ""
	}
	return m.Audio[0].Codec
}

func firstFormatName(name string) string {
	// ffprobe reports muxer aliases like "mov,mp4,m4a,3gp,3g2,mj2".
	if idx := strings.IndexByte(name, ','); idx >= 0 {
		return name[:idx]
	}
	return name
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func defaultLanguage(lang string) string {
	if lang == "" {
		return "und"
	}
	return lang
}

func looksHearingImpaired(title string) bool {
	upper := strings.ToUpper(title)
	return strings.Contains(upper, "SDH") || strings.Contains(upper, "HEARING IMPAIRED")
}
