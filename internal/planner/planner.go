// Package planner picks a nominal segment duration and produces the final
// on-disk segment list, guaranteeing every piece fits the per-segment byte
// cap.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/hlsvault/hlsvault/internal/config"
	"github.com/hlsvault/hlsvault/internal/ffmpeg"
	"github.com/hlsvault/hlsvault/internal/models"
)

// Driver is the slice of the transcoder the planner needs. Implemented by
// *ffmpeg.Segmenter.
type Driver interface {
	Segment(ctx context.Context, input, outDir, prefix string, duration float64) ([]ffmpeg.SegmentFile, error)
	SegmentTranscode(ctx context.Context, input, outDir, prefix string, duration float64, maxBitrate int64) ([]ffmpeg.SegmentFile, error)
	Reencode(ctx context.Context, input, output string, start, duration float64, maxBitrate int64) error
}

// PlannedSegment is one final piece ready for upload. Ordinals are dense
// from zero; paths point into the job's scratch directory.
type PlannedSegment struct {
	Ordinal   int
	Path      string
	Duration  float64
	ByteSize  int64
	Reencoded bool
}

// Plan is the planner's output for one input file.
type Plan struct {
	// NominalDuration is the chosen target segment duration in seconds.
	NominalDuration float64
	// FullTranscode reports that the source could not be stream-copied.
	FullTranscode bool
	Segments      []PlannedSegment
}

// TotalBytes sums all planned segment sizes.
func (p *Plan) TotalBytes() int64 {
	var total int64
	for _, s := range p.Segments {
		total += s.ByteSize
	}
	return total
}

// Candidate durations tried from longest to shortest; longer segments mean
// fewer uploads, so the first candidate with no oversize pieces wins.
var candidateDurations = []float64{30, 25, 20, 15, 10, 8, 6, 5, 4, 3, 2}

const (
	// Re-encode targets 90% of the cap to absorb muxer overhead.
	bitrateSafety = 0.9

	minReencodeBitrate = 500_000
	maxReencodeBitrate = 30_000_000

	// Search abandons a candidate direction once results degrade.
	worseningFactor = 1.5

	fullTranscodeDuration = 10.0
)

// Codecs that an MPEG-TS segment can carry by stream copy.
var (
	copyableVideo = map[string]bool{"h264": true, "hevc": true}
	copyableAudio = map[string]bool{"aac": true, "mp3": true, "ac3": true}
)

// Planner runs the optimal-duration search and overflow re-encoding.
type Planner struct {
	driver   Driver
	maxBytes int64
	minDur   float64
	maxDur   float64
	budget   time.Duration
	logger   *slog.Logger
}

// New creates a Planner from segment configuration.
func New(driver Driver, cfg config.SegmentConfig, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{
		driver:   driver,
		maxBytes: cfg.MaxBytes.Bytes(),
		minDur:   cfg.MinDuration.Seconds(),
		maxDur:   cfg.MaxDuration.Seconds(),
		budget:   cfg.PlanBudget,
		logger:   log.With(slog.String("component", "planner")),
	}
}

// CopyCompatible reports whether the probed input can be sliced by stream
// copy into MPEG-TS segments.
func CopyCompatible(info *ffmpeg.MediaInfo) bool {
	if !copyableVideo[info.PrimaryVideo().Codec] {
		return false
	}
	audio := info.PrimaryAudioCodec()
	return audio == "" || copyableAudio[audio]
}

// Plan analyzes the input and produces the final segment files under
// scratchDir. The same input, configuration, and scratch layout always
// yields the same plan.
func (p *Planner) Plan(ctx context.Context, input string, info *ffmpeg.MediaInfo, scratchDir string) (*Plan, error) {
	if !CopyCompatible(info) {
		return p.planFullTranscode(ctx, input, info, scratchDir)
	}

	duration, err := p.searchDuration(ctx, input, scratchDir)
	if err != nil {
		return nil, err
	}

	files, err := p.driver.Segment(ctx, input, scratchDir, "segment", duration)
	if err != nil {
		return nil, err
	}

	segments, err := p.resolveOversize(ctx, input, scratchDir, files)
	if err != nil {
		return nil, err
	}
	return &Plan{NominalDuration: duration, Segments: segments}, nil
}

// searchDuration runs copy-only trial segmentations over the candidate
// schedule and returns the best duration. Early termination rules never
// change the winner for a given input, only how much work finding it takes.
func (p *Planner) searchDuration(ctx context.Context, input, scratchDir string) (float64, error) {
	candidates := scheduleFor(p.minDur, p.maxDur)

	best := candidates[0]
	bestOversize := math.MaxInt
	trials := 0
	start := time.Now()

	for _, d := range candidates {
		if trials > 0 && p.budget > 0 && time.Since(start) > p.budget {
			p.logger.Warn("duration search budget exhausted",
				slog.Int("trials", trials),
				slog.Float64("best", best))
			break
		}

		trialDir := filepath.Join(scratchDir, fmt.Sprintf("trial_%g", d))
		if err := os.MkdirAll(trialDir, 0o755); err != nil {
			return 0, fmt.Errorf("creating trial dir: %w", err)
		}

		files, err := p.driver.Segment(ctx, input, trialDir, "trial", d)
		os.RemoveAll(trialDir)
		if err != nil {
			if ctx.Err() != nil {
				return 0, err
			}
			p.logger.Warn("trial segmentation failed",
				slog.Float64("duration", d),
				slog.String("error", err.Error()))
			continue
		}
		trials++

		oversize := p.countOversize(files)
		p.logger.Debug("trial result",
			slog.Float64("duration", d),
			slog.Int("segments", len(files)),
			slog.Int("oversize", oversize))

		if oversize < bestOversize {
			best, bestOversize = d, oversize
		}
		if oversize == 0 {
			break
		}
		// Shrinking further once counts degrade only wastes the budget.
		if trials >= 3 && float64(oversize) > float64(bestOversize)*worseningFactor {
			break
		}
	}

	if trials == 0 {
		return 0, models.E(models.KindTranscodeFailed, "all trial segmentations failed")
	}
	return best, nil
}

func (p *Planner) countOversize(files []ffmpeg.SegmentFile) int {
	n := 0
	for _, f := range files {
		if f.ByteSize > p.maxBytes {
			n++
		}
	}
	return n
}

// resolveOversize re-encodes every oversize piece in place, splitting a
// piece in two once if a re-encode alone cannot fit it under the cap.
func (p *Planner) resolveOversize(ctx context.Context, input, scratchDir string, files []ffmpeg.SegmentFile) ([]PlannedSegment, error) {
	segments := make([]PlannedSegment, 0, len(files))
	elapsed := 0.0

	for _, f := range files {
		start := elapsed
		elapsed += f.Duration

		if f.ByteSize <= p.maxBytes {
			segments = append(segments, PlannedSegment{
				Path:     f.Path,
				Duration: f.Duration,
				ByteSize: f.ByteSize,
			})
			continue
		}

		resolved, err := p.shrinkSegment(ctx, input, scratchDir, f, start)
		if err != nil {
			return nil, err
		}
		segments = append(segments, resolved...)
	}

	for i := range segments {
		segments[i].Ordinal = i
	}
	return segments, nil
}

// shrinkSegment re-encodes one oversize window, then falls back to a single
// split-in-two before giving up with PLAN_OVERSIZE.
func (p *Planner) shrinkSegment(ctx context.Context, input, scratchDir string, f ffmpeg.SegmentFile, start float64) ([]PlannedSegment, error) {
	size, err := p.reencodeWindow(ctx, input, f.Path, start, f.Duration)
	if err != nil {
		return nil, err
	}
	if size <= p.maxBytes {
		return []PlannedSegment{{Path: f.Path, Duration: f.Duration, ByteSize: size, Reencoded: true}}, nil
	}

	p.logger.Warn("re-encoded segment still oversize, splitting",
		slog.Int("ordinal", f.Ordinal),
		slog.Int64("bytes", size))

	half := f.Duration / 2
	firstPath := splitPath(scratchDir, f.Ordinal, "a")
	secondPath := splitPath(scratchDir, f.Ordinal, "b")

	firstSize, err := p.reencodeWindow(ctx, input, firstPath, start, half)
	if err != nil {
		return nil, err
	}
	secondSize, err := p.reencodeWindow(ctx, input, secondPath, start+half, f.Duration-half)
	if err != nil {
		return nil, err
	}
	if firstSize > p.maxBytes || secondSize > p.maxBytes {
		return nil, models.E(models.KindPlanOversize,
			"segment at %.1fs cannot fit %d bytes even after split", start, p.maxBytes)
	}

	os.Remove(f.Path)
	return []PlannedSegment{
		{Path: firstPath, Duration: half, ByteSize: firstSize, Reencoded: true},
		{Path: secondPath, Duration: f.Duration - half, ByteSize: secondSize, Reencoded: true},
	}, nil
}

// reencodeWindow renders one source window into path at the cap-derived
// bitrate and returns the resulting size.
func (p *Planner) reencodeWindow(ctx context.Context, input, path string, start, duration float64) (int64, error) {
	tmp := path + ".reencode.ts"
	if err := p.driver.Reencode(ctx, input, tmp, start, duration, p.targetBitrate(duration)); err != nil {
		return 0, err
	}
	st, err := os.Stat(tmp)
	if err != nil {
		return 0, models.Wrap(models.KindTranscodeFailed, err, "re-encoded segment missing")
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("replacing segment: %w", err)
	}
	return st.Size(), nil
}

// targetBitrate derives the rate cap for a window of the given duration.
func (p *Planner) targetBitrate(duration float64) int64 {
	b := int64(float64(p.maxBytes) * 8 * bitrateSafety / duration)
	if b < minReencodeBitrate {
		b = minReencodeBitrate
	}
	if b > maxReencodeBitrate {
		b = maxReencodeBitrate
	}
	return b
}

// planFullTranscode handles sources whose codecs cannot ride MPEG-TS by
// stream copy. The encoder's rate cap keeps pieces under the byte cap; any
// stragglers go through the same overflow path as copy mode.
func (p *Planner) planFullTranscode(ctx context.Context, input string, info *ffmpeg.MediaInfo, scratchDir string) (*Plan, error) {
	d := clamp(fullTranscodeDuration, p.minDur, p.maxDur)
	p.logger.Info("source not copy-compatible, full transcode",
		slog.String("video_codec", info.PrimaryVideo().Codec),
		slog.String("audio_codec", info.PrimaryAudioCodec()),
		slog.Float64("duration", d))

	files, err := p.driver.SegmentTranscode(ctx, input, scratchDir, "segment", d, p.targetBitrate(d))
	if err != nil {
		return nil, err
	}

	segments, err := p.resolveOversize(ctx, input, scratchDir, files)
	if err != nil {
		return nil, err
	}
	return &Plan{NominalDuration: d, FullTranscode: true, Segments: segments}, nil
}

// scheduleFor filters the candidate schedule to the configured range.
func scheduleFor(minDur, maxDur float64) []float64 {
	var out []float64
	for _, d := range candidateDurations {
		if d >= minDur && d <= maxDur {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		out = []float64{clamp(maxDur, minDur, maxDur)}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func splitPath(scratchDir string, ordinal int, half string) string {
	return filepath.Join(scratchDir, fmt.Sprintf("segment_split_%05d_%s.ts", ordinal, half))
}
