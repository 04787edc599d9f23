// Package ingest consumes object-store upload notifications and submits the
// uploaded poster images for ingestion.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"bandaid/internal/blobstore"
	"bandaid/internal/config"
	"bandaid/internal/logging"
	"bandaid/internal/services"
)

// actionPutObject is the notification action that signals a new upload.
const actionPutObject = "PutObject"

// Event is one upload notification message.
type Event struct {
	Action string `json:"action"`
	Object struct {
		Key string `json:"key"`
	} `json:"object"`
}

// MessageReader is the slice of kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Submitter accepts a poster image reference for ingestion.
type Submitter interface {
	SubmitPoster(ctx context.Context, imageRef string) (string, error)
}

// Consumer drains upload notifications and turns PutObject events into
// poster submissions.
type Consumer struct {
	reader    MessageReader
	submitter Submitter
	logger    *slog.Logger
}

// NewReader builds a kafka reader from the ingest config section.
func NewReader(cfg config.Ingest) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: 0,
		MaxWait:        time.Second,
	})
}

// NewConsumer constructs the upload event consumer.
func NewConsumer(reader MessageReader, submitter Submitter, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:    reader,
		submitter: submitter,
		logger:    logging.NewComponentLogger(logger, "ingest"),
	}
}

// Run drains the notification topic until ctx is cancelled. Every message is
// committed except when shutdown interrupts processing: a poster that fails
// to submit is logged and skipped rather than redelivered forever, and
// replays of an already ingested upload surface as conflicts, which are
// equally safe to commit.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		c.handleMessage(ctx, msg.Value)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.Warn("unparseable upload event", logging.Error(err))
		return
	}
	if event.Action != actionPutObject || event.Object.Key == "" {
		return
	}

	ref := blobstore.StoredRef(event.Object.Key)
	slug, err := c.submitter.SubmitPoster(ctx, ref)
	if err != nil {
		switch {
		case services.IsConflict(err):
			c.logger.Warn("upload already ingested", logging.String("key", event.Object.Key), logging.Error(err))
		case services.IsNotFound(err):
			c.logger.Warn("upload skipped, no usable metadata", logging.String("key", event.Object.Key))
		default:
			c.logger.Error("poster submission failed", logging.String("key", event.Object.Key), logging.Error(err))
		}
		return
	}
	c.logger.Info("poster ingested from upload",
		logging.String("key", event.Object.Key),
		logging.String(logging.FieldSlug, slug))
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
