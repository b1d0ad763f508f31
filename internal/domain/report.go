package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the result of processing one tile for one index.
type Status string

// Tile outcomes.
const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome records what happened to one (index, tile) unit of work.
type Outcome struct {
	Index   Index
	Tile    string
	Stage   string // step that produced a skip or failure, e.g. "read_pre", "difference"
	Status  Status
	Patches int
	Err     string
}

// Report collects the outcomes of a pipeline run.
type Report struct {
	RunID      string
	Stage      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
}

// NewReport starts a report for the named stage with a fresh run ID.
func NewReport(stage string) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Stage:     stage,
		StartedAt: clock.Now().UTC(),
	}
}

// Add appends an outcome.
func (r *Report) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Finish stamps the end time.
func (r *Report) Finish() {
	r.FinishedAt = clock.Now().UTC()
}

// Duration is the wall time between start and finish.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Count returns the number of outcomes with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Patches returns the total number of patches across all outcomes.
func (r *Report) Patches() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.Patches
	}
	return n
}

// Failures returns the outcomes that were skipped or failed.
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status != StatusOK {
			out = append(out, o)
		}
	}
	return out
}

// Summary renders a one-line summary for logs.
func (r *Report) Summary() string {
	return fmt.Sprintf("%s: %d ok, %d skipped, %d failed, %d patches",
		r.Stage, r.Count(StatusOK), r.Count(StatusSkipped), r.Count(StatusFailed), r.Patches())
}

// Progress is a point-in-time view of a running stage.
type Progress struct {
	RunID   string `json:"run_id"`
	Stage   string `json:"stage"`
	Index   Index  `json:"index,omitempty"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	OK      int    `json:"ok"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}
