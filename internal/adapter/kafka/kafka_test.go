package kafka

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-change-etl/internal/config"
	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2025, time.March, 30, 4, 5, 0, 0, time.UTC)
	patch := domain.Patch{
		Tile:     "T47QKV_diff",
		Row:      128,
		Col:      256,
		MeanDiff: -0.125,
		Bounds:   domain.Bounds{MinX: 96.0256, MinY: 21.9744, MaxX: 96.0384, MaxY: 21.9872},
	}

	msg, err := serializeToMessage("run-1", domain.NDVI, patch, now)
	require.NoError(t, err)

	assert.Equal(t, []byte("ndvi/T47QKV_diff"), msg.Key)

	var decoded PatchMessage
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Equal(t, domain.NDVI, decoded.Index)
	assert.Equal(t, 128, decoded.Row)
	assert.Equal(t, 256, decoded.Col)
	assert.Equal(t, -0.125, decoded.MeanDiff)
	assert.Equal(t, patch.Bounds, decoded.Bounds)
	assert.True(t, now.Equal(decoded.PublishedAt))
	assert.Contains(t, string(msg.Value), `"mean_diff":-0.125`)

	require.Len(t, msg.Headers, 4)
	assert.Equal(t, "index", msg.Headers[0].Key)
	assert.Equal(t, []byte("ndvi"), msg.Headers[0].Value)
	assert.Equal(t, []byte("128,256"), msg.Headers[2].Value)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[3].Value)
}

func TestSerializeToMessage_NonFiniteMean(t *testing.T) {
	_, err := serializeToMessage("run-1", domain.NDVI, domain.Patch{Tile: "T", MeanDiff: math.NaN()}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serialize patch")
}

func TestNewWriter_UsesPatchTopic(t *testing.T) {
	w := NewWriter(&config.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaPatchTopic: "patches"}, nil)
	defer w.Close()

	assert.Equal(t, "patches", w.writer.Topic)
}

func TestPublishPatches_EmptyIsNoop(t *testing.T) {
	w := NewWriter(&config.Config{KafkaBrokers: []string{"localhost:1"}, KafkaPatchTopic: "patches"}, nil)
	defer w.Close()

	require.NoError(t, w.PublishPatches(t.Context(), "run-1", domain.NDVI, nil))
}
