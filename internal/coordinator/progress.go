package coordinator

import (
	"sync"
	"time"
)

// Phase is an ingest job's lifecycle stage.
type Phase string

const (
	PhaseReceiving  Phase = "receiving"
	PhaseProbing    Phase = "probing"
	PhasePlanning   Phase = "planning"
	PhaseUploading  Phase = "uploading"
	PhaseCommitting Phase = "committing"
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

// Progress is a point-in-time snapshot of one ingest job.
type Progress struct {
	JobID        string    `json:"job_id"`
	VideoID      string    `json:"video_id"`
	Phase        Phase     `json:"phase"`
	Percent      float64   `json:"percent"`
	CurrentBytes int64     `json:"current_bytes"`
	TotalBytes   int64     `json:"total_bytes"`
	RateBPS      float64   `json:"rate_bps"`
	ETASeconds   float64   `json:"eta_s"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// progressTracker keeps live job snapshots for the progress endpoint.
// Finished jobs linger so a client polling after completion still sees the
// terminal phase.
type progressTracker struct {
	mu   sync.RWMutex
	jobs map[string]*jobState
}

type jobState struct {
	snapshot Progress

	// rate window
	windowStart time.Time
	windowBytes int64
	baselined   bool
}

func newProgressTracker() *progressTracker {
	return &progressTracker{jobs: map[string]*jobState{}}
}

func (t *progressTracker) start(jobID, videoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[jobID] = &jobState{
		snapshot: Progress{
			JobID:     jobID,
			VideoID:   videoID,
			Phase:     PhaseReceiving,
			UpdatedAt: time.Now(),
		},
		windowStart: time.Now(),
	}
}

func (t *progressTracker) setVideo(jobID, videoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.jobs[jobID]; ok {
		st.snapshot.VideoID = videoID
		st.snapshot.UpdatedAt = time.Now()
	}
}

func (t *progressTracker) setPhase(jobID string, phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok {
		return
	}
	st.snapshot.Phase = phase
	st.snapshot.Percent = 0
	st.snapshot.CurrentBytes = 0
	st.snapshot.TotalBytes = 0
	st.snapshot.RateBPS = 0
	st.snapshot.ETASeconds = 0
	st.snapshot.UpdatedAt = time.Now()
	st.windowStart = time.Now()
	st.windowBytes = 0
	st.baselined = false
	if phase == PhaseDone {
		st.snapshot.Percent = 100
	}
}

// update records byte progress within the current phase and derives rate
// and ETA from the bytes moved since the phase began. The first update of
// a phase only sets the baseline, so a resumed ingest's pre-committed
// prefix never counts as bytes moved.
func (t *progressTracker) update(jobID string, current, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok {
		return
	}

	st.snapshot.CurrentBytes = current
	st.snapshot.TotalBytes = total
	if total > 0 {
		st.snapshot.Percent = 100 * float64(current) / float64(total)
	}

	if !st.baselined {
		st.baselined = true
		st.windowStart = time.Now()
		st.windowBytes = current
		st.snapshot.UpdatedAt = time.Now()
		return
	}

	elapsed := time.Since(st.windowStart).Seconds()
	moved := current - st.windowBytes
	if elapsed > 0 && moved > 0 {
		st.snapshot.RateBPS = float64(moved) / elapsed
		if st.snapshot.RateBPS > 0 && total > current {
			st.snapshot.ETASeconds = float64(total-current) / st.snapshot.RateBPS
		}
	}
	st.snapshot.UpdatedAt = time.Now()
}

func (t *progressTracker) fail(jobID string, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok {
		return
	}
	st.snapshot.Phase = PhaseError
	st.snapshot.Error = reason
	st.snapshot.UpdatedAt = time.Now()
}

func (t *progressTracker) get(jobID string) (Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.jobs[jobID]
	if !ok {
		return Progress{}, false
	}
	return st.snapshot, true
}

// prune drops terminal jobs older than the retention window.
func (t *progressTracker) prune(retention time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, st := range t.jobs {
		terminal := st.snapshot.Phase == PhaseDone || st.snapshot.Phase == PhaseError
		if terminal && time.Since(st.snapshot.UpdatedAt) > retention {
			delete(t.jobs, id)
		}
	}
}
