package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"

	"github.com/segmentio/kafka-go"
)

// DeviceHeader carries the id of the device that committed the check-in, so
// a device can skip its own updates when consuming.
const DeviceHeader = "device_id"

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer   MessageWriter
	Topic    string
	DeviceID string
	Logger   *logger.Logger
}

// NewProducer returns a producer whose writes never block the caller. Delivery
// failures are reported through the logger once the writer gives up.
func NewProducer(brokers []string, topic, deviceID string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.LogKafka("DELIVERY_FAILED", topic, fmt.Sprintf("%d messages: %v", len(messages), err))
			}
		},
	}
	return &Producer{Writer: writer, Topic: topic, DeviceID: deviceID, Logger: log}
}

// Broadcast streams a guest snapshot to the check-in topic, keyed by QR code
// so updates of one guest stay ordered.
func (p *Producer) Broadcast(ctx context.Context, snapshot models.GuestSnapshot) error {
	msg, err := EncodeSnapshot(snapshot, p.DeviceID)
	if err != nil {
		return err
	}

	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		p.Logger.LogKafka("PUBLISH_FAILED", p.Topic, fmt.Sprintf("%s: %v", snapshot.QRCode, err))
		return fmt.Errorf("publish check-in update: %w", err)
	}
	p.Logger.LogKafka("QUEUED", p.Topic, fmt.Sprintf("%s used %d/%d", snapshot.QRCode, snapshot.UsedEntries, snapshot.TotalEntries))
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// EncodeSnapshot builds the message published for a snapshot.
func EncodeSnapshot(snapshot models.GuestSnapshot, deviceID string) (kafka.Message, error) {
	value, err := json.Marshal(snapshot)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	return kafka.Message{
		Key:   []byte(snapshot.EventID + ":" + snapshot.QRCode),
		Value: value,
		Headers: []kafka.Header{
			{Key: DeviceHeader, Value: []byte(deviceID)},
		},
	}, nil
}
