package remote

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"ms-checkin/internal/models"
)

// FlexString accepts a JSON string or number. The backend sends ids both ways.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

func (s FlexString) String() string { return string(s) }

// FlexInt accepts a JSON number or a numeric string. Unparseable strings decode
// as zero.
type FlexInt int

func (i *FlexInt) UnmarshalJSON(b []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	str := strings.TrimSpace(string(s))
	if str == "" {
		*i = 0
		return nil
	}
	if n, err := strconv.Atoi(str); err == nil {
		*i = FlexInt(n)
		return nil
	}
	if f, err := strconv.ParseFloat(str, 64); err == nil {
		*i = FlexInt(int(f))
		return nil
	}
	*i = 0
	return nil
}

// RawFacility is a facility as the backend reports it, with every historical
// field alias. Normalize it before it leaves this package.
type RawFacility struct {
	ID              FlexString `json:"id"`
	FacilityID      FlexString `json:"facility_id"`
	GuestFacilityID FlexString `json:"guest_facility_id"`
	Name            string     `json:"name"`
	FacilityName    string     `json:"facility_name"`

	Quantity       *FlexInt `json:"quantity"`
	TotalScans     *FlexInt `json:"total_scans"`
	AvailableScans *FlexInt `json:"availableScans"`

	ScannedCount *FlexInt `json:"scanned_count"`
	CheckIn      *FlexInt `json:"checkIn"`
	UsedScans    *FlexInt `json:"used_scans"`
}

func firstInt(values ...*FlexInt) int {
	for _, v := range values {
		if v != nil {
			return int(*v)
		}
	}
	return 0
}

// Normalize maps the aliases onto one facility quota. Available is
// quantity, then total_scans, then availableScans; used is scanned_count,
// then checkIn, then used_scans.
func (f RawFacility) Normalize() models.Facility {
	id := f.GuestFacilityID
	if id == "" {
		id = f.FacilityID
	}
	if id == "" {
		id = f.ID
	}
	name := f.Name
	if name == "" {
		name = f.FacilityName
	}

	available := firstInt(f.Quantity, f.TotalScans, f.AvailableScans)
	used := firstInt(f.ScannedCount, f.CheckIn, f.UsedScans)
	if available < 0 {
		available = 0
	}
	if used < 0 {
		used = 0
	}
	if used > available {
		used = available
	}
	return models.Facility{
		FacilityID:     id.String(),
		Name:           name,
		AvailableScans: available,
		UsedScans:      used,
	}
}

func normalizeFacilities(raw []RawFacility) []models.Facility {
	out := make([]models.Facility, 0, len(raw))
	for _, f := range raw {
		n := f.Normalize()
		if n.FacilityID == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}

type guestData struct {
	ID            FlexString `json:"id"`
	GuestID       FlexString `json:"guest_id"`
	EventID       FlexString `json:"event_id"`
	TicketID      FlexString `json:"ticket_id"`
	Name          string     `json:"name"`
	GuestName     string     `json:"guest_name"`
	QRCode        string     `json:"qr_code"`
	UUID          string     `json:"uuid"`
	GuestUUID     string     `json:"guest_uuid"`
	TicketsBought *FlexInt   `json:"tickets_bought"`
}

func (g guestData) guestID() string {
	if g.GuestID != "" {
		return g.GuestID.String()
	}
	return g.ID.String()
}

type checkInData struct {
	GuestID      FlexString `json:"guest_id"`
	CheckInCount *FlexInt   `json:"check_in_count"`
}

type verifyResponse struct {
	Message                    string        `json:"message"`
	GuestData                  []guestData   `json:"guest_data"`
	CheckInData                []checkInData `json:"check_in_data"`
	FacilityAvailabilityStatus []RawFacility `json:"facility_availability_status"`
}

// Verification is the outcome of a successful verify-qr call.
type Verification struct {
	GuestID    string
	EventID    string
	TicketID   string
	GuestName  string
	GuestUUID  string
	Facilities []models.Facility
}

type ticketData struct {
	ID       FlexString `json:"id"`
	TicketID FlexString `json:"ticket_id"`
	Name     string     `json:"name"`
}

type guestDetails struct {
	ID             FlexString    `json:"id"`
	EventID        FlexString    `json:"event_id"`
	Name           string        `json:"name"`
	GuestName      string        `json:"guest_name"`
	QRCode         string        `json:"qr_code"`
	UUID           string        `json:"uuid"`
	TicketsBought  *FlexInt      `json:"tickets_bought"`
	CheckedInCount *FlexInt      `json:"checked_in_count"`
	UsedEntries    *FlexInt      `json:"used_entries"`
	Facilities     []RawFacility `json:"facilities"`
	TicketData     *ticketData   `json:"ticket_data"`
}

type guestDetailsResponse struct {
	Data guestDetails `json:"data"`
}

// Guest is the authoritative guest/ticket state reported by the backend,
// already normalized.
type Guest struct {
	GuestID      string
	EventID      string
	TicketID     string
	GuestName    string
	GuestUUID    string
	QRCode       string
	TotalEntries int
	UsedEntries  int
	Facilities   []models.Facility
}

func (d guestDetails) normalize(guestID string) *Guest {
	total := firstInt(d.TicketsBought)
	if total < 1 {
		total = 1
	}
	used := firstInt(d.CheckedInCount)
	if u := firstInt(d.UsedEntries); u > used {
		used = u
	}
	if used > total {
		used = total
	}
	if used < 0 {
		used = 0
	}

	g := &Guest{
		GuestID:      guestID,
		EventID:      d.EventID.String(),
		GuestName:    d.Name,
		GuestUUID:    d.UUID,
		QRCode:       d.QRCode,
		TotalEntries: total,
		UsedEntries:  used,
		Facilities:   normalizeFacilities(d.Facilities),
	}
	if g.GuestName == "" {
		g.GuestName = d.GuestName
	}
	if d.ID != "" {
		g.GuestID = d.ID.String()
	}
	if d.TicketData != nil {
		g.TicketID = d.TicketData.ID.String()
		if g.TicketID == "" {
			g.TicketID = d.TicketData.TicketID.String()
		}
	}
	return g
}

// Ticket converts the guest into a local store row for eventID and qrCode.
func (g *Guest) Ticket(eventID, qrCode string) *models.Ticket {
	t := &models.Ticket{
		EventID:      eventID,
		QRCode:       qrCode,
		GuestID:      g.GuestID,
		GuestUUID:    g.GuestUUID,
		TicketID:     g.TicketID,
		GuestName:    g.GuestName,
		TotalEntries: g.TotalEntries,
		UsedEntries:  g.UsedEntries,
		Facilities:   g.Facilities,
	}
	if t.Facilities == nil {
		t.Facilities = []models.Facility{}
	}
	if t.UsedEntries > 0 {
		t.Status = models.TicketStatusCheckedIn
	} else {
		t.Status = models.TicketStatusPending
	}
	return t
}

// CheckInRequest is the body of the check-in call. GuestFacilityID is set for
// facility redemptions, CheckInCount for main entries.
type CheckInRequest struct {
	EventID                   string `json:"event_id"`
	GuestID                   string `json:"guest_id"`
	TicketID                  string `json:"ticket_id"`
	CheckInCount              int    `json:"check_in_count"`
	CategoryCheckInCount      int    `json:"category_check_in_count"`
	OtherCategoryCheckInCount int    `json:"other_category_check_in_count"`
	GuestFacilityID           string `json:"guest_facility_id,omitempty"`
}

type offlineRecord struct {
	EventID       FlexString    `json:"event_id"`
	QRCode        string        `json:"qr_code"`
	GuestID       FlexString    `json:"guest_id"`
	GuestUUID     string        `json:"guest_uuid"`
	TicketID      FlexString    `json:"ticket_id"`
	GuestName     string        `json:"guest_name"`
	Name          string        `json:"name"`
	TotalEntries  *FlexInt      `json:"total_entries"`
	TicketsBought *FlexInt      `json:"tickets_bought"`
	UsedEntries   *FlexInt      `json:"used_entries"`
	Facilities    []RawFacility `json:"facilities"`
}

type offlineDataResponse struct {
	Data []offlineRecord `json:"data"`
}

func (r offlineRecord) ticket() models.Ticket {
	name := r.GuestName
	if name == "" {
		name = r.Name
	}
	return models.Ticket{
		EventID:      r.EventID.String(),
		QRCode:       r.QRCode,
		GuestID:      r.GuestID.String(),
		GuestUUID:    r.GuestUUID,
		TicketID:     r.TicketID.String(),
		GuestName:    name,
		TotalEntries: firstInt(r.TotalEntries, r.TicketsBought),
		UsedEntries:  firstInt(r.UsedEntries),
		Facilities:   normalizeFacilities(r.Facilities),
	}
}
