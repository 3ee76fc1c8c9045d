package relay_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"ms-checkin/internal/models"
	"ms-checkin/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, handler relay.Handler) (*relay.Server, *relay.Hub, string) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hub := relay.NewHub(time.Second, nil)
	server := relay.NewServer(handler, hub, relay.ServerConfig{ReadTimeout: 5 * time.Second, WriteTimeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("relay server did not stop")
		}
	})
	return server, hub, ln.Addr().String()
}

func dialClient(t *testing.T, addr string, onUpdate func(models.GuestSnapshot)) *relay.Client {
	info, err := relay.ParsePeerInfo(addr)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	client, err := relay.Dial(ctx, info, onUpdate, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func echoHandler() relay.Handler {
	return relay.HandlerFunc(func(ctx context.Context, req relay.Request) relay.Reply {
		if req.QRCode == "bad" {
			return relay.Reply{Status: relay.StatusError, Message: "Invalid QR code", Action: relay.ActionRejected, Code: "invalid_qr"}
		}
		action := relay.ActionSelect
		used := 0
		if !req.IsVerify() {
			action = relay.ActionCheckedIn
			used = req.Quantity
		}
		return relay.Reply{
			Status:  relay.StatusSuccess,
			Message: "ok",
			Action:  action,
			Data:    &models.GuestSnapshot{EventID: req.EventID, QRCode: req.QRCode, TotalEntries: 3, UsedEntries: used},
		}
	})
}

func TestServerClientRoundTrip(t *testing.T) {
	_, _, addr := startServer(t, echoHandler())
	client := dialClient(t, addr, nil)
	ctx := context.Background()

	reply, err := client.Forward(ctx, relay.Request{QRCode: "QR-1", EventID: "42"})
	require.NoError(t, err)
	assert.True(t, reply.IsSuccess())
	assert.Equal(t, relay.ActionSelect, reply.Action)
	assert.Equal(t, "QR-1", reply.Data.QRCode)

	reply, err = client.Forward(ctx, relay.Request{QRCode: "QR-1", EventID: "42", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, relay.ActionCheckedIn, reply.Action)
	assert.Equal(t, 2, reply.Data.UsedEntries)

	reply, err = client.Forward(ctx, relay.Request{QRCode: "bad", EventID: "42"})
	require.NoError(t, err)
	assert.False(t, reply.IsSuccess())
	assert.Equal(t, "invalid_qr", reply.Code)
}

func TestServerRejectsMalformedLine(t *testing.T) {
	_, _, addr := startServer(t, echoHandler())
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("garbage\n"))
	require.NoError(t, err)

	buf := make([]byte, 512)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	reply, err := relay.DecodeReply(buf[:n-1])
	require.NoError(t, err)
	assert.Equal(t, relay.StatusError, reply.Status)
	assert.Equal(t, "malformed_request", reply.Code)
}

func TestHubBroadcastReachesClients(t *testing.T) {
	_, hub, addr := startServer(t, echoHandler())

	updates := make(chan models.GuestSnapshot, 2)
	client := dialClient(t, addr, func(s models.GuestSnapshot) { updates <- s })

	// The first round trip guarantees the connection is registered.
	_, err := client.Forward(context.Background(), relay.Request{QRCode: "QR-1", EventID: "42"})
	require.NoError(t, err)
	require.Equal(t, 1, hub.Count())

	require.NoError(t, hub.Broadcast(context.Background(), models.GuestSnapshot{QRCode: "QR-9", UsedEntries: 1}))

	select {
	case s := <-updates:
		assert.Equal(t, "QR-9", s.QRCode)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}

	// Updates do not disturb request/reply pairing.
	reply, err := client.Forward(context.Background(), relay.Request{QRCode: "QR-2", EventID: "42"})
	require.NoError(t, err)
	assert.Equal(t, "QR-2", reply.Data.QRCode)
}

func TestClientForwardTimeoutClosesConnection(t *testing.T) {
	var calls atomic.Int32
	block := make(chan struct{})
	_, _, addr := startServer(t, relay.HandlerFunc(func(ctx context.Context, req relay.Request) relay.Reply {
		calls.Add(1)
		<-block
		return relay.Reply{Status: relay.StatusSuccess}
	}))
	// Unblock the handler before the server is stopped.
	t.Cleanup(func() { close(block) })
	client := dialClient(t, addr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Forward(ctx, relay.Request{QRCode: "QR-1", EventID: "42"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("client not closed after timeout")
	}
	_, err = client.Forward(context.Background(), relay.Request{QRCode: "QR-1", EventID: "42"})
	assert.ErrorIs(t, err, relay.ErrClientClosed)
	assert.Equal(t, int32(1), calls.Load())
}
