package checkin

import (
	"sync"

	"ms-checkin/internal/models"
)

// HighWater remembers the highest used counts this device has itself caused
// during the session. Backend reads can lag a check-in this device just made,
// so online verification never trusts a count below these marks.
type HighWater struct {
	mu         sync.RWMutex
	main       map[string]int
	facilities map[string]int
}

func NewHighWater() *HighWater {
	return &HighWater{
		main:       make(map[string]int),
		facilities: make(map[string]int),
	}
}

func facilityMarkKey(key models.TicketKey, facilityID string) string {
	return key.GuestKey() + "#" + facilityID
}

// Record raises the mark of target to used. Lower values are ignored.
func (h *HighWater) Record(key models.TicketKey, target Target, used int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if target.IsMain() {
		if used > h.main[key.GuestKey()] {
			h.main[key.GuestKey()] = used
		}
		return
	}
	k := facilityMarkKey(key, target.FacilityID)
	if used > h.facilities[k] {
		h.facilities[k] = used
	}
}

func (h *HighWater) Main(key models.TicketKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.main[key.GuestKey()]
}

func (h *HighWater) Facility(key models.TicketKey, facilityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.facilities[facilityMarkKey(key, facilityID)]
}

// Apply raises the counters of ticket to the recorded marks, clamped at the
// ticket's own ceilings.
func (h *HighWater) Apply(ticket *models.Ticket) {
	key := ticket.Key()
	if mark := h.Main(key); mark > ticket.UsedEntries {
		ticket.UsedEntries = mark
	}
	if ticket.UsedEntries > ticket.TotalEntries {
		ticket.UsedEntries = ticket.TotalEntries
	}
	for i := range ticket.Facilities {
		f := &ticket.Facilities[i]
		if mark := h.Facility(key, f.FacilityID); mark > f.UsedScans {
			f.UsedScans = mark
		}
		if f.UsedScans > f.AvailableScans {
			f.UsedScans = f.AvailableScans
		}
	}
	if ticket.UsedEntries > 0 {
		ticket.Status = models.TicketStatusCheckedIn
	}
}

// Reset forgets every mark, for a new scanning session.
func (h *HighWater) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.main = make(map[string]int)
	h.facilities = make(map[string]int)
}
