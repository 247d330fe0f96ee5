package coordinator

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/hlsvault/hlsvault/internal/planner"
)

// planFileName marks a scratch directory as a valid, resumable ingest.
const planFileName = "plan.json"

// planFile is the persisted form of a plan plus the ingest inputs needed to
// resume distribution after a crash.
type planFile struct {
	VideoID         string                   `json:"video_id"`
	SourceFilename  string                   `json:"source_filename"`
	NominalDuration float64                  `json:"nominal_duration"`
	FullTranscode   bool                     `json:"full_transcode"`
	Segments        []planner.PlannedSegment `json:"segments"`
	Subtitles       []plannedSubtitle        `json:"subtitles"`
}

// plannedSubtitle is one extracted subtitle file awaiting upload.
type plannedSubtitle struct {
	TrackIndex      int    `json:"track_index"`
	Language        string `json:"language"`
	Title           string `json:"title"`
	Codec           string `json:"codec"`
	IsDefault       bool   `json:"is_default"`
	IsForced        bool   `json:"is_forced"`
	HearingImpaired bool   `json:"is_hearing_impaired"`
	Path            string `json:"path"`
}

func writePlanFile(scratchDir string, pf *planFile) error {
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(scratchDir, planFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(scratchDir, planFileName))
}

// readPlanFile loads a scratch plan and verifies every referenced segment
// file still exists. A missing file invalidates the whole scratch dir.
func readPlanFile(scratchDir string) (*planFile, bool) {
	data, err := os.ReadFile(filepath.Join(scratchDir, planFileName))
	if err != nil {
		return nil, false
	}
	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, false
	}
	if len(pf.Segments) == 0 {
		return nil, false
	}
	for _, seg := range pf.Segments {
		if _, err := os.Stat(seg.Path); err != nil {
			return nil, false
		}
	}
	return &pf, true
}
