// Package events publishes ingestion run reports to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yourorg/market-data-platform/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// RunCompletedEvent is the event type header of a published run report
const RunCompletedEvent = "ingestion.run.completed"

// messageWriter is the subset of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes run reports to one Kafka topic
type Producer struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewProducer creates a producer writing to topic on the given brokers
func NewProducer(brokers []string, topic, clientID string, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Transport: &kafka.Transport{
			ClientID: clientID,
		},
	}
	return newProducer(writer, topic, logger)
}

func newProducer(writer messageWriter, topic string, logger *zap.Logger) *Producer {
	return &Producer{
		writer: writer,
		topic:  topic,
		logger: logger,
	}
}

// PublishRunReport sends the report as JSON, keyed by interval
func (p *Producer) PublishRunReport(ctx context.Context, report *model.RunReport) error {
	value, err := json.Marshal(report)
	if err != nil {
		p.logger.Error("Failed to marshal run report",
			zap.String("topic", p.topic),
			zap.Error(err))
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(report.Interval),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(RunCompletedEvent)},
		},
		Time: report.FinishedAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish run report",
			zap.String("topic", p.topic),
			zap.String("key", report.Interval),
			zap.Error(err))
		return fmt.Errorf("failed to publish run report: %w", err)
	}

	p.logger.Debug("Run report published",
		zap.String("topic", p.topic),
		zap.String("key", report.Interval))

	return nil
}

// Close flushes and closes the Kafka writer
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Failed to close Kafka writer",
			zap.String("topic", p.topic),
			zap.Error(err))
		return err
	}
	return nil
}
