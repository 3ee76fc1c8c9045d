package models

// FacilityState is the wire shape of a facility inside a GuestSnapshot.
type FacilityState struct {
	FacilityID     string `json:"facility_id"`
	Name           string `json:"name"`
	AvailableScans int    `json:"available_scans"`
	UsedScans      int    `json:"used_scans"`
}

// GuestSnapshot is the guest/ticket state published to peer devices after a
// commit and returned to relay clients.
type GuestSnapshot struct {
	EventID      string          `json:"event_id,omitempty"`
	GuestID      string          `json:"guest_id,omitempty"`
	TicketID     string          `json:"ticket_id,omitempty"`
	GuestName    string          `json:"guest_name"`
	QRCode       string          `json:"qr_code"`
	TotalEntries int             `json:"total_entries"`
	UsedEntries  int             `json:"used_entries"`
	Facilities   []FacilityState `json:"facilities"`
	GuestUUID    string          `json:"guest_uuid"`
}

// Snapshot converts a stored ticket into its published form.
func (t *Ticket) Snapshot() GuestSnapshot {
	facilities := make([]FacilityState, 0, len(t.Facilities))
	for _, f := range t.Facilities {
		facilities = append(facilities, FacilityState{
			FacilityID:     f.FacilityID,
			Name:           f.Name,
			AvailableScans: f.AvailableScans,
			UsedScans:      f.UsedScans,
		})
	}
	return GuestSnapshot{
		EventID:      t.EventID,
		GuestID:      t.GuestID,
		TicketID:     t.TicketID,
		GuestName:    t.GuestName,
		QRCode:       t.QRCode,
		TotalEntries: t.TotalEntries,
		UsedEntries:  t.UsedEntries,
		Facilities:   facilities,
		GuestUUID:    t.GuestUUID,
	}
}

// Ticket rebuilds a ticket view from a snapshot. Used on relay clients, which
// never hold the authoritative row.
func (s GuestSnapshot) Ticket() *Ticket {
	t := &Ticket{
		EventID:      s.EventID,
		QRCode:       s.QRCode,
		GuestID:      s.GuestID,
		GuestUUID:    s.GuestUUID,
		TicketID:     s.TicketID,
		GuestName:    s.GuestName,
		TotalEntries: s.TotalEntries,
		UsedEntries:  s.UsedEntries,
	}
	for _, f := range s.Facilities {
		t.Facilities = append(t.Facilities, Facility{
			FacilityID:     f.FacilityID,
			Name:           f.Name,
			AvailableScans: f.AvailableScans,
			UsedScans:      f.UsedScans,
		})
	}
	return t
}
