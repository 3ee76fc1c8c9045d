package kafka

import (
	"context"
	"errors"
	"io"
	"testing"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs []kafka.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) Close() error { return nil }

func snapshot(qr string, used int) models.GuestSnapshot {
	return models.GuestSnapshot{EventID: "event-a", QRCode: qr, GuestName: "Guest", TotalEntries: 3, UsedEntries: used}
}

func TestProducer_Broadcast(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w, Topic: "checkin.guest.updated", DeviceID: "door-1", Logger: logger.NewWriterLogger(io.Discard)}

	require.NoError(t, p.Broadcast(context.Background(), snapshot("QR-1", 2)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "event-a:QR-1", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"event_id":"event-a","guest_name":"Guest","qr_code":"QR-1","total_entries":3,"used_entries":2,"facilities":null,"guest_uuid":""}`, string(w.msgs[0].Value))

	w.err = errors.New("broker down")
	assert.Error(t, p.Broadcast(context.Background(), snapshot("QR-1", 3)))
}

func TestNewProducer_WritesAsynchronously(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "checkin.guest.updated", "door-1", logger.NewWriterLogger(io.Discard))
	defer p.Close()

	w, ok := p.Writer.(*kafka.Writer)
	require.True(t, ok)
	assert.True(t, w.Async, "a commit must not wait for the brokers")
	require.NotNil(t, w.Completion)
	w.Completion([]kafka.Message{{Key: []byte("k")}}, errors.New("broker down"))
}

func TestDecodeSnapshot(t *testing.T) {
	msg, err := EncodeSnapshot(snapshot("QR-1", 1), "door-1")
	require.NoError(t, err)

	s, own, err := DecodeSnapshot(msg, "door-1")
	require.NoError(t, err)
	assert.True(t, own)
	assert.Equal(t, 1, s.UsedEntries)

	_, own, err = DecodeSnapshot(msg, "door-2")
	require.NoError(t, err)
	assert.False(t, own)

	_, _, err = DecodeSnapshot(kafka.Message{Value: []byte(`{"qr_code":"x"}`)}, "door-2")
	assert.Error(t, err)
	_, _, err = DecodeSnapshot(kafka.Message{Value: []byte(`not json`)}, "door-2")
	assert.Error(t, err)
}

func TestConsumer_SkipsOwnAndBadMessages(t *testing.T) {
	own, _ := EncodeSnapshot(snapshot("OWN", 1), "door-1")
	peer, _ := EncodeSnapshot(snapshot("PEER", 2), "door-2")
	r := &fakeReader{msgs: []kafka.Message{own, {Value: []byte("garbage")}, peer}}
	c := &Consumer{reader: r, deviceID: "door-1", logger: logger.NewWriterLogger(io.Discard)}

	ctx, cancel := context.WithCancel(context.Background())
	var applied []string
	done := make(chan struct{})
	go func() {
		c.Start(ctx, func(_ context.Context, s models.GuestSnapshot) error {
			applied = append(applied, s.QRCode)
			cancel()
			return nil
		})
		close(done)
	}()
	<-done

	assert.Equal(t, []string{"PEER"}, applied)
}
