package checkin

import (
	"fmt"

	"ms-checkin/internal/models"
	"ms-checkin/internal/relay"
)

type Kind string

const (
	KindAutoCommit     Kind = "auto-commit"
	KindNeedsSelection Kind = "needs-selection"
	KindReject         Kind = "reject"
	KindPeerConnect    Kind = "peer-connect"
	// KindCommitted is a relay reply for a scan the host already admitted.
	KindCommitted Kind = "committed"
)

// Target selects what a commit redeems: the main ticket when FacilityID is
// empty, otherwise that facility.
type Target struct {
	FacilityID string
}

var MainTarget = Target{}

func FacilityTarget(id string) Target {
	return Target{FacilityID: id}
}

func (t Target) IsMain() bool {
	return t.FacilityID == ""
}

func (t Target) String() string {
	if t.IsMain() {
		return "main"
	}
	return "facility:" + t.FacilityID
}

// Option is one choice of the selection sheet.
type Option struct {
	Target    Target
	Label     string
	Remaining int
	Enabled   bool
}

// Decision is the result of verifying one scan.
type Decision struct {
	Kind   Kind
	Ticket *models.Ticket

	// Reason is set for KindReject.
	Reason error

	// Quantity is what an auto-commit admits.
	Quantity int
	// MaxQuantity bounds the main-entry stepper; zero disables main.
	MaxQuantity int
	Options     []Option

	Peer    *relay.PeerInfo
	Message string
}

func reject(ticket *models.Ticket, err error) *Decision {
	return &Decision{Kind: KindReject, Ticket: ticket, Reason: err, Message: StatusMessage(err)}
}

// Classify decides what a verified ticket allows. The ticket's counters must
// already be the best known values.
func Classify(ticket *models.Ticket) *Decision {
	remaining := ticket.Remaining()

	facilityLeft := false
	for _, f := range ticket.Facilities {
		if f.HasRemaining() {
			facilityLeft = true
			break
		}
	}

	if remaining == 0 && !facilityLeft {
		if len(ticket.Facilities) == 0 {
			return reject(ticket, ErrAlreadyScanned)
		}
		return reject(ticket, ErrAlreadyFullyRedeemed)
	}

	if ticket.TotalEntries == 1 && len(ticket.Facilities) == 0 {
		return &Decision{
			Kind:        KindAutoCommit,
			Ticket:      ticket,
			Quantity:    1,
			MaxQuantity: 1,
			Options:     []Option{{Target: MainTarget, Label: "Main check-in", Remaining: 1, Enabled: true}},
		}
	}

	d := &Decision{
		Kind:        KindNeedsSelection,
		Ticket:      ticket,
		MaxQuantity: remaining,
	}
	d.Options = append(d.Options, Option{
		Target:    MainTarget,
		Label:     "Main check-in",
		Remaining: remaining,
		Enabled:   remaining > 0,
	})
	// Facilities open only after the guest has been admitted once.
	admitted := ticket.UsedEntries >= 1
	for _, f := range ticket.Facilities {
		d.Options = append(d.Options, Option{
			Target:    FacilityTarget(f.FacilityID),
			Label:     f.Name,
			Remaining: f.AvailableScans - f.UsedScans,
			Enabled:   admitted && f.HasRemaining(),
		})
	}
	return d
}

// DefaultTarget is the preselected radio choice of the sheet.
func (d *Decision) DefaultTarget() (Target, bool) {
	for _, o := range d.Options {
		if o.Enabled {
			return o.Target, true
		}
	}
	return Target{}, false
}

// Option returns the option for target.
func (d *Decision) Option(target Target) (Option, bool) {
	for _, o := range d.Options {
		if o.Target == target {
			return o, true
		}
	}
	return Option{}, false
}

// Validate checks a selection against the sheet. Passing does not reserve
// anything; the commit re-checks the quota.
func (d *Decision) Validate(target Target, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	o, ok := d.Option(target)
	if !ok {
		return fmt.Errorf("%w: no %s on this ticket", ErrInvalidQR, target)
	}
	if !target.IsMain() {
		if quantity != 1 {
			return fmt.Errorf("%w: facilities are redeemed one at a time", ErrInvalidQuantity)
		}
		if d.Ticket != nil && d.Ticket.UsedEntries < 1 {
			return ErrFacilityLocked
		}
	}
	if !o.Enabled || quantity > o.Remaining {
		return ErrQuotaExceeded
	}
	return nil
}
