package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-change-etl/internal/config"
	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// PatchMessage is the JSON value of a published patch record.
type PatchMessage struct {
	RunID       string        `json:"run_id"`
	Index       domain.Index  `json:"index"`
	Tile        string        `json:"tile"`
	Row         int           `json:"row"`
	Col         int           `json:"col"`
	MeanDiff    float64       `json:"mean_diff"`
	Bounds      domain.Bounds `json:"bounds"`
	PublishedAt time.Time     `json:"published_at"`
}

// Writer publishes patch records to a Kafka topic.
// It implements pipeline.PatchPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured patch topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaPatchTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishPatches writes one message per patch in a single WriteMessages call.
// Messages are keyed by tile so a tile's patches land on one partition.
func (w *Writer) PublishPatches(ctx context.Context, runID string, index domain.Index, patches []domain.Patch) error {
	if len(patches) == 0 {
		return nil
	}
	now := domain.Now().UTC()
	msgs := make([]kafkago.Message, len(patches))
	for i := range patches {
		msg, err := serializeToMessage(runID, index, patches[i], now)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d patches: %w", len(msgs), err)
	}
	w.logger.Debug("patches published", "index", index, "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func serializeToMessage(runID string, index domain.Index, p domain.Patch, now time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(PatchMessage{
		RunID:       runID,
		Index:       index,
		Tile:        p.Tile,
		Row:         p.Row,
		Col:         p.Col,
		MeanDiff:    p.MeanDiff,
		Bounds:      p.Bounds,
		PublishedAt: now,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize patch %s/%d/%d: %w", p.Tile, p.Row, p.Col, err)
	}
	return kafkago.Message{
		Key:   []byte(string(index) + "/" + p.Tile),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "index", Value: []byte(index)},
			{Key: "run_id", Value: []byte(runID)},
			{Key: "origin", Value: []byte(strconv.Itoa(p.Row) + "," + strconv.Itoa(p.Col))},
			{Key: "published_at", Value: []byte(now.Format(time.RFC3339))},
		},
	}, nil
}
