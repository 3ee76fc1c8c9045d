package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

// VerifiedMessage is the message the backend returns for a valid code.
const VerifiedMessage = "QR code verified"

var (
	ErrUnreachable     = errors.New("remote service unreachable")
	ErrNotVerified     = errors.New("qr code not verified")
	ErrCheckInRejected = errors.New("check-in not accepted")
	ErrSyncRejected    = errors.New("offline check-ins not acknowledged")
)

// StatusError is a non-2xx reply from the backend.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s returned status %d", e.Op, e.StatusCode)
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// IsNetworkError reports whether err means the backend could not be reached
// or answered with a transient failure.
func IsNetworkError(err error) bool {
	if errors.Is(err, ErrUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Temporary()
}

// IsUnauthorized reports whether the backend refused the operator token.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden)
}

// Client talks to the organizer REST API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
	token   string
}

func NewClient(baseURL, token string, client *http.Client, log *logger.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  log,
		token:   token,
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if token := c.token; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("REMOTE", fmt.Sprintf("%s %s failed: %v", method, path, err))
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, op, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("REMOTE", fmt.Sprintf("Failed to close %s response body: %v", op, err))
		}
	}(resp.Body)

	c.logger.LogAPI(method, path, fmt.Sprintf("%d", resp.StatusCode), time.Since(start).String())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: reading body: %v", ErrUnreachable, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: messageOf(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Error("REMOTE", fmt.Sprintf("Failed to decode %s response: %v", op, err))
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func messageOf(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		return body.Error
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func eventPath(eventID string, rest ...string) string {
	parts := []string{"/events", url.PathEscape(eventID)}
	for _, r := range rest {
		parts = append(parts, url.PathEscape(r))
	}
	return strings.Join(parts, "/")
}

// VerifyQRCode asks the backend whether qrCode is a valid ticket of eventID.
// A code the backend does not recognize returns ErrNotVerified.
func (c *Client) VerifyQRCode(ctx context.Context, eventID, qrCode string) (*Verification, error) {
	var resp verifyResponse
	err := c.do(ctx, "verify-qr", http.MethodPost, eventPath(eventID, "verify-qr"), map[string]string{"qr_code": qrCode}, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() && !IsUnauthorized(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotVerified, se.Message)
		}
		return nil, err
	}

	if resp.Message != VerifiedMessage || len(resp.GuestData) == 0 {
		c.logger.LogScan("REMOTE_REJECT", qrCode, resp.Message)
		return nil, fmt.Errorf("%w: %s", ErrNotVerified, resp.Message)
	}

	g := resp.GuestData[0]
	v := &Verification{
		GuestID:    g.guestID(),
		EventID:    g.EventID.String(),
		TicketID:   g.TicketID.String(),
		GuestName:  g.Name,
		GuestUUID:  g.UUID,
		Facilities: normalizeFacilities(resp.FacilityAvailabilityStatus),
	}
	if v.GuestName == "" {
		v.GuestName = g.GuestName
	}
	if v.GuestUUID == "" {
		v.GuestUUID = g.GuestUUID
	}
	if v.GuestID == "" {
		return nil, fmt.Errorf("%w: verify-qr reply has no guest id", ErrNotVerified)
	}
	return v, nil
}

// GetGuestDetails fetches the authoritative counters of a guest.
func (c *Client) GetGuestDetails(ctx context.Context, eventID, guestID string) (*Guest, error) {
	var resp guestDetailsResponse
	if err := c.do(ctx, "guest-details", http.MethodGet, eventPath(eventID, "guests", guestID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.normalize(guestID), nil
}

// CheckInGuest records a check-in on the backend. The backend's reply shape
// varies; any of id, check_in_time, success or status counts as acceptance
// unless it is an explicit false.
func (c *Client) CheckInGuest(ctx context.Context, eventID string, req CheckInRequest) error {
	if req.EventID == "" {
		req.EventID = eventID
	}
	var resp map[string]json.RawMessage
	if err := c.do(ctx, "check-in", http.MethodPost, eventPath(eventID, "check-in"), req, &resp); err != nil {
		return err
	}
	for _, field := range []string{"id", "check_in_time", "success", "status"} {
		v, ok := resp[field]
		if !ok {
			continue
		}
		switch strings.TrimSpace(string(v)) {
		case "null", "false", `""`:
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: guest %s", ErrCheckInRejected, req.GuestID)
}

// SyncOfflineCheckins submits queued check-ins as one batch. Only an explicit
// success acknowledges the batch.
func (c *Client) SyncOfflineCheckins(ctx context.Context, entries []models.CheckinQueueEntry) error {
	var resp map[string]json.RawMessage
	if err := c.do(ctx, "sync", http.MethodPost, "/check-ins/sync", entries, &resp); err != nil {
		return err
	}
	for _, field := range []string{"success", "status"} {
		if acknowledged(resp[field]) {
			return nil
		}
	}
	return fmt.Errorf("%w: %d entries", ErrSyncRejected, len(entries))
}

func acknowledged(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch strings.ToLower(s) {
		case "success", "ok", "true":
			return true
		}
	}
	return false
}

// DownloadOfflineData fetches every ticket of an event for offline scanning.
func (c *Client) DownloadOfflineData(ctx context.Context, eventID string) ([]models.Ticket, error) {
	var resp offlineDataResponse
	if err := c.do(ctx, "offline-data", http.MethodGet, eventPath(eventID, "offline-data"), nil, &resp); err != nil {
		return nil, err
	}
	tickets := make([]models.Ticket, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.QRCode == "" {
			continue
		}
		tickets = append(tickets, r.ticket())
	}
	return tickets, nil
}

// Ping checks that the backend answers at all. Client errors still count as
// reachable.
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, "health", http.MethodGet, "/health", nil, nil)
	var se *StatusError
	if errors.As(err, &se) && !se.Temporary() {
		return nil
	}
	return err
}
