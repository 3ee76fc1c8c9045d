package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ms-checkin/internal/models"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
	// StatusUpdate marks an unsolicited broadcast line.
	StatusUpdate = "update"

	ActionCheckedIn = "checked_in"
	ActionSelect    = "select"
	ActionRejected  = "rejected"
)

var ErrMalformedRequest = errors.New("malformed relay request")

// Request is one client line: <qr_code>,<event_id>,<quantity>,<facility_id>.
// Quantity 0 with facility 0 asks for verification only.
type Request struct {
	QRCode     string
	EventID    string
	Quantity   int
	FacilityID string
}

// IsVerify reports whether the request only asks for a decision.
func (r Request) IsVerify() bool {
	return r.Quantity == 0 && r.FacilityID == ""
}

// ParseRequest decodes a request line. The qr code may itself contain commas;
// the last three fields are always event, quantity and facility.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, ",")
	if len(parts) < 4 {
		return Request{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedRequest, len(parts))
	}
	n := len(parts)
	req := Request{
		QRCode:  strings.Join(parts[:n-3], ","),
		EventID: strings.TrimSpace(parts[n-3]),
	}
	if req.QRCode == "" || req.EventID == "" {
		return Request{}, fmt.Errorf("%w: empty qr code or event", ErrMalformedRequest)
	}

	qty, err := strconv.Atoi(strings.TrimSpace(parts[n-2]))
	if err != nil || qty < 0 {
		return Request{}, fmt.Errorf("%w: bad quantity %q", ErrMalformedRequest, parts[n-2])
	}
	req.Quantity = qty

	if facility := strings.TrimSpace(parts[n-1]); facility != "0" {
		req.FacilityID = facility
	}
	return req, nil
}

// Encode renders the request line including the trailing newline.
func (r Request) Encode() string {
	facility := r.FacilityID
	if facility == "" {
		facility = "0"
	}
	return fmt.Sprintf("%s,%s,%d,%s\n", r.QRCode, r.EventID, r.Quantity, facility)
}

// Reply is one host line.
type Reply struct {
	Status  string                `json:"status"`
	Message string                `json:"message"`
	Action  string                `json:"action,omitempty"`
	Code    string                `json:"code,omitempty"`
	Data    *models.GuestSnapshot `json:"data,omitempty"`
}

func (r Reply) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// Encode renders the reply as one JSON line.
func (r Reply) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// DecodeReply parses a host line.
func DecodeReply(line []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(line, &r); err != nil {
		return Reply{}, fmt.Errorf("invalid relay reply: %w", err)
	}
	if r.Status == "" {
		return Reply{}, errors.New("invalid relay reply: missing status")
	}
	return r, nil
}

// UpdateReply wraps a broadcast snapshot.
func UpdateReply(snapshot models.GuestSnapshot) Reply {
	return Reply{Status: StatusUpdate, Message: "guest updated", Data: &snapshot}
}
