package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"catalogsync/internal/config"
	"catalogsync/internal/events"
	apperrors "catalogsync/pkg/errors"
)

// Processor handles one decoded command event.
type Processor interface {
	Process(ctx context.Context, event events.Event) error
}

// MessageReader is the consumer-group side of *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Worker struct {
	logger    *zap.Logger
	reader    MessageReader
	processor Processor
}

func NewReader(cfg *config.Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        strings.Split(cfg.KafkaBrokers, ","),
		GroupID:        cfg.KafkaGroupID,
		Topic:          cfg.KafkaCommandsTopic,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})
}

func New(reader MessageReader, processor Processor, logger *zap.Logger) *Worker {
	return &Worker{
		logger:    logger,
		reader:    reader,
		processor: processor,
	}
}

// Start consumes commands until ctx is canceled. A message is committed once
// handled, whether or not handling succeeded; commands are not retried.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker started, listening for commands")

	for {
		message, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			w.logger.Error("failed to read message", zap.Error(err))
			if err := sleep(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}

		w.handle(ctx, message)

		if err := w.reader.CommitMessages(ctx, message); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("failed to commit message", zap.Int64("offset", message.Offset), zap.Error(err))
		}
	}
}

func (w *Worker) handle(ctx context.Context, message kafka.Message) {
	event, err := events.Decode(message.Value)
	if err != nil {
		w.logger.Error("failed to parse event", zap.Int64("offset", message.Offset), zap.Error(err))
		return
	}

	start := time.Now()
	if err := w.processor.Process(ctx, event); err != nil {
		w.logger.Error("failed to process event",
			zap.String("type", event.Type),
			zap.String("kind", apperrors.KindOf(err)),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("event processed", zap.String("type", event.Type), zap.Duration("elapsed", time.Since(start)))
}

func (w *Worker) Stop() error {
	w.logger.Info("stopping worker")
	return w.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
