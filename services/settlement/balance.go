package settlement

import (
	"sort"
	"time"

	"ticketing-settlement/pkg/currency"

	"go.uber.org/zap"
)

type Phase string

const (
	PhaseActive      Phase = "active"
	PhaseEndedUnpaid Phase = "ended_unpaid"
	PhaseEndedPaid   Phase = "ended_paid"
)

// Classify places an event in the advance ledger. A paid event is settled
// and counts for nothing, whatever its end date says.
func Classify(now time.Time, e *Event) Phase {
	switch {
	case e.Paid():
		return PhaseEndedPaid
	case !e.Ended(now):
		return PhaseActive
	default:
		return PhaseEndedUnpaid
	}
}

// Entitlement pairs an event with its computed settlement.
type Entitlement struct {
	Event      *Event
	Settlement *Settlement
}

type BalanceLine struct {
	Currency          string `json:"currency"`
	ActivePending     int64  `json:"active_pending"`
	EndedUnpaid       int64  `json:"ended_unpaid"`
	AdvancesPaid      int64  `json:"advances_paid"`
	Available         int64  `json:"available"`
	ActiveEvents      int    `json:"active_events"`
	EndedUnpaidEvents int    `json:"ended_unpaid_events"`
}

type AdvanceBalance struct {
	OrganizerID string                 `json:"organizer_id"`
	ComputedAt  time.Time              `json:"computed_at"`
	Lines       map[string]BalanceLine `json:"lines"`
}

// Available returns the advanceable amount in one currency.
func (b *AdvanceBalance) Available(code string) int64 {
	return b.Lines[currency.Normalize(code)].Available
}

// Currencies returns the currency codes present, sorted.
func (b *AdvanceBalance) Currencies() []string {
	out := make([]string, 0, len(b.Lines))
	for code := range b.Lines {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// ComputeAvailableForAdvance sums pending entitlements per currency and
// subtracts paid advances in that currency. Currencies are never mixed.
// A negative result means upstream data is inconsistent; it is logged and
// clamped to zero.
func ComputeAvailableForAdvance(now time.Time, organizerID string, entitlements []Entitlement, advances []*AdvancePayment) *AdvanceBalance {
	b := &AdvanceBalance{
		OrganizerID: organizerID,
		ComputedAt:  now,
		Lines:       make(map[string]BalanceLine),
	}

	for _, ent := range entitlements {
		if ent.Event == nil || ent.Settlement == nil || ent.Event.OrganizerID != organizerID {
			continue
		}

		code := currency.Normalize(ent.Event.Currency)
		line := b.Lines[code]
		line.Currency = code

		switch Classify(now, ent.Event) {
		case PhaseActive:
			line.ActivePending += ent.Settlement.OrganizerNet
			line.ActiveEvents++
		case PhaseEndedUnpaid:
			line.EndedUnpaid += ent.Settlement.OrganizerNet
			line.EndedUnpaidEvents++
		default:
			continue
		}
		b.Lines[code] = line
	}

	for _, adv := range advances {
		if adv.OrganizerID != organizerID || adv.Status != AdvancePaid {
			continue
		}
		code := currency.Normalize(adv.Currency)
		line := b.Lines[code]
		line.Currency = code
		line.AdvancesPaid += adv.AdvanceAmount
		b.Lines[code] = line
	}

	for code, line := range b.Lines {
		raw := line.ActivePending + line.EndedUnpaid - line.AdvancesPaid
		if raw < 0 {
			zap.L().Warn("advance balance below zero, clamping",
				zap.String("organizer_id", organizerID),
				zap.String("currency", code),
				zap.Int64("pending", line.ActivePending+line.EndedUnpaid),
				zap.Int64("advances_paid", line.AdvancesPaid),
			)
			raw = 0
		}
		line.Available = raw
		b.Lines[code] = line
	}

	return b
}
