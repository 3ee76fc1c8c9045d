package checkin_api

import (
	"ms-checkin/internal/checkin"
	"ms-checkin/internal/models"
)

type optionView struct {
	FacilityID string `json:"facility_id,omitempty"`
	Label      string `json:"label"`
	Remaining  int    `json:"remaining"`
	Enabled    bool   `json:"enabled"`
}

type sessionView struct {
	ID          string                `json:"id"`
	Code        string                `json:"code"`
	EventID     string                `json:"event_id"`
	Mode        string                `json:"mode"`
	Kind        string                `json:"kind,omitempty"`
	Message     string                `json:"message,omitempty"`
	Guest       *models.GuestSnapshot `json:"guest,omitempty"`
	Options     []optionView          `json:"options,omitempty"`
	MaxQuantity int                   `json:"max_quantity"`
	Selection   string                `json:"selection,omitempty"`
	Quantity    int                   `json:"quantity"`
	Open        bool                  `json:"open"`
	Committing  bool                  `json:"committing"`
}

type resultView struct {
	NewUsed    int                  `json:"new_used"`
	Status     string               `json:"status"`
	Synced     bool                 `json:"synced"`
	CloseSheet bool                 `json:"close_sheet"`
	Guest      models.GuestSnapshot `json:"guest"`
}

type scanResponse struct {
	Session *sessionView `json:"session,omitempty"`
	Result  *resultView  `json:"result,omitempty"`
}

func toSessionView(s *checkin.ScanSession) *sessionView {
	if s == nil {
		return nil
	}
	v := &sessionView{
		ID:         s.ID,
		Code:       s.Code,
		EventID:    s.EventID,
		Mode:       string(s.Mode),
		Selection:  s.Selection.String(),
		Quantity:   s.Quantity,
		Open:       s.Open,
		Committing: s.Committing,
	}
	if d := s.Decision; d != nil {
		v.Kind = string(d.Kind)
		v.Message = d.Message
		v.MaxQuantity = d.MaxQuantity
		if d.Ticket != nil {
			snapshot := d.Ticket.Snapshot()
			v.Guest = &snapshot
		}
		for _, o := range d.Options {
			v.Options = append(v.Options, optionView{
				FacilityID: o.Target.FacilityID,
				Label:      o.Label,
				Remaining:  o.Remaining,
				Enabled:    o.Enabled,
			})
		}
	}
	return v
}

func toResultView(r *checkin.CommitResult) *resultView {
	if r == nil {
		return nil
	}
	return &resultView{
		NewUsed:    r.NewUsed,
		Status:     r.Status,
		Synced:     r.Synced,
		CloseSheet: r.CloseSheet,
		Guest:      r.Snapshot,
	}
}
