package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

var ErrClientClosed = errors.New("relay connection closed")

// Client is the client side of the relay: a scanning device that forwards
// codes to a host. One request is outstanding at a time.
type Client struct {
	conn     net.Conn
	onUpdate func(models.GuestSnapshot)
	logger   *logger.Logger

	reqMu   sync.Mutex
	replies chan Reply
	done    chan struct{}
	once    sync.Once
	err     error
}

// Dial connects to the host described by info.
func Dial(ctx context.Context, info PeerInfo, onUpdate func(models.GuestSnapshot), log *logger.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", info.Address())
	if err != nil {
		return nil, fmt.Errorf("relay dial %s: %w", info.Address(), err)
	}
	log.LogRelay("DIAL", info.Address(), "connected to host")
	return NewClient(conn, onUpdate, log), nil
}

// NewClient wraps an established connection and starts its read loop.
func NewClient(conn net.Conn, onUpdate func(models.GuestSnapshot), log *logger.Logger) *Client {
	c := &Client{
		conn:     conn,
		onUpdate: onUpdate,
		logger:   log,
		replies:  make(chan Reply, 1),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		reply, err := DecodeReply(scanner.Bytes())
		if err != nil {
			c.logger.Warn("RELAY", fmt.Sprintf("Dropping unreadable host line: %v", err))
			continue
		}
		if reply.Status == StatusUpdate {
			if reply.Data != nil && c.onUpdate != nil {
				c.onUpdate(*reply.Data)
			}
			continue
		}
		select {
		case c.replies <- reply:
		case <-c.done:
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = ErrClientClosed
	}
	c.shutdown(err)
}

func (c *Client) shutdown(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		c.conn.Close()
	})
}

// Forward sends req and waits for the host's reply. If ctx ends first the
// connection is closed, since a late reply would otherwise be read as the
// answer to the next request.
func (c *Client) Forward(ctx context.Context, req Request) (*Reply, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	select {
	case <-c.done:
		return nil, c.closedErr()
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if _, err := c.conn.Write([]byte(req.Encode())); err != nil {
		c.shutdown(err)
		return nil, fmt.Errorf("relay write: %w", err)
	}

	select {
	case reply := <-c.replies:
		return &reply, nil
	case <-c.done:
		return nil, c.closedErr()
	case <-ctx.Done():
		c.shutdown(ctx.Err())
		return nil, ctx.Err()
	}
}

func (c *Client) closedErr() error {
	if c.err == nil || errors.Is(c.err, ErrClientClosed) {
		return ErrClientClosed
	}
	return fmt.Errorf("%w: %v", ErrClientClosed, c.err)
}

// Done is closed when the connection to the host is lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.shutdown(ErrClientClosed)
	return nil
}
