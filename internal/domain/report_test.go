package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestReport(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, time.March, 28, 6, 20, 0, 0, time.UTC))
	SetClock(fc)
	defer SetClock(nil)

	r := NewReport("indices")
	r.Add(Outcome{Index: NDVI, Tile: "T47QKV", Status: StatusOK, Patches: 12})
	r.Add(Outcome{Index: NDVI, Tile: "T46QHM", Status: StatusSkipped, Stage: "difference", Err: "CRS mismatch"})
	r.Add(Outcome{Index: NDBI, Tile: "T47QKV", Status: StatusFailed, Stage: "read_pre", Err: "open failed"})
	fc.Advance(90 * time.Second)
	r.Finish()

	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, 90*time.Second, r.Duration())
	assert.Equal(t, 1, r.Count(StatusOK))
	assert.Equal(t, 12, r.Patches())
	assert.Len(t, r.Failures(), 2)
	assert.Equal(t, "indices: 1 ok, 1 skipped, 1 failed, 12 patches", r.Summary())
}

func TestReport_UnfinishedDurationIsZero(t *testing.T) {
	r := NewReport("patches")
	assert.Zero(t, r.Duration())
	assert.NotEqual(t, r.RunID, NewReport("patches").RunID)
}
