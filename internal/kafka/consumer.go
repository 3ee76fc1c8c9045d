package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer receives snapshots published by the other check-in devices of
// the venue.
type Consumer struct {
	reader   MessageReader
	deviceID string
	logger   *logger.Logger
}

// NewConsumer creates a consumer with one group per device, so every device
// sees every update.
func NewConsumer(brokers []string, topic, deviceID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "checkin-" + deviceID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, deviceID: deviceID, logger: log}
}

// Start consumes until ctx is done. Messages published by this device and
// messages that do not decode are skipped.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, snapshot models.GuestSnapshot) error) {
	c.logger.LogKafka("CONSUMER_STARTED", "", fmt.Sprintf("device %s", c.deviceID))

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.LogKafka("CONSUMER_STOPPED", "", "context done")
				return
			}
			c.logger.LogKafka("READ_FAILED", msg.Topic, err.Error())
			continue
		}

		snapshot, own, err := DecodeSnapshot(msg, c.deviceID)
		if err != nil {
			c.logger.LogKafka("DECODE_FAILED", msg.Topic, err.Error())
			continue
		}
		if own {
			continue
		}

		if err := handler(ctx, snapshot); err != nil {
			c.logger.LogKafka("APPLY_FAILED", msg.Topic, fmt.Sprintf("%s: %v", snapshot.QRCode, err))
			continue
		}
		c.logger.LogKafka("APPLIED", msg.Topic, fmt.Sprintf("%s used %d/%d", snapshot.QRCode, snapshot.UsedEntries, snapshot.TotalEntries))
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeSnapshot parses a message and reports whether deviceID published it.
func DecodeSnapshot(msg kafka.Message, deviceID string) (models.GuestSnapshot, bool, error) {
	var snapshot models.GuestSnapshot
	if err := json.Unmarshal(msg.Value, &snapshot); err != nil {
		return snapshot, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.EventID == "" || snapshot.QRCode == "" {
		return snapshot, false, errors.New("snapshot without event or qr code")
	}
	for _, h := range msg.Headers {
		if h.Key == DeviceHeader && string(h.Value) == deviceID {
			return snapshot, true, nil
		}
	}
	return snapshot, false, nil
}
