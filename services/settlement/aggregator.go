package settlement

import (
	"fmt"
	"sort"

	"ticketing-settlement/pkg/errutil"
)

type PromoterCommission struct {
	PromoterID string   `json:"promoter_id"`
	Amount     int64    `json:"amount"`
	SaleIDs    []string `json:"sale_ids"`
	Paid       bool     `json:"paid"`
}

type Settlement struct {
	EventID             string               `json:"event_id"`
	Currency            string               `json:"currency"`
	CompletedOrders     int                  `json:"completed_orders"`
	TotalSales          int64                `json:"total_sales"`
	PlatformFees        int64                `json:"platform_fees"`
	CommissionTotal     int64                `json:"commission_total"`
	PromoterCommissions []PromoterCommission `json:"promoter_commissions"`
	OrganizerNet        int64                `json:"organizer_net"`
}

// Payable reports whether there is anything to pay the organizer.
func (s *Settlement) Payable() bool {
	return s.CompletedOrders > 0 && s.OrganizerNet > 0
}

// ComputeEventSettlement derives the organizer's net entitlement for one
// event. Only completed orders count. Commissions are grouped per promoter
// and a group is paid only when every sale in it is paid.
//
// An event without completed orders has OrganizerNet 0 and is not an
// error. Negative amounts, or fees plus commissions above gross sales, are
// rejected since they can only come from inconsistent upstream data.
func ComputeEventSettlement(event *Event, orders []*Order, sales []*PromoterSale) (*Settlement, error) {
	s := &Settlement{
		EventID:             event.ID,
		Currency:            event.Currency,
		PromoterCommissions: []PromoterCommission{},
	}

	for _, o := range orders {
		if o.EventID != event.ID || o.Status != OrderCompleted {
			continue
		}
		if o.TotalAmount < 0 || o.PlatformFee < 0 {
			return nil, inconsistent(event.ID, fmt.Sprintf("order %s has a negative amount", o.ID))
		}
		s.CompletedOrders++
		s.TotalSales += o.TotalAmount
		s.PlatformFees += o.PlatformFee
	}

	groups := make(map[string]*PromoterCommission)
	for _, sale := range sales {
		if sale.EventID != event.ID {
			continue
		}
		if sale.CommissionAmount < 0 {
			return nil, inconsistent(event.ID, fmt.Sprintf("promoter sale %s has a negative commission", sale.ID))
		}

		g, ok := groups[sale.PromoterID]
		if !ok {
			g = &PromoterCommission{PromoterID: sale.PromoterID, Paid: true}
			groups[sale.PromoterID] = g
		}
		g.Amount += sale.CommissionAmount
		g.SaleIDs = append(g.SaleIDs, sale.ID)
		if sale.Status != PromoterSalePaid {
			g.Paid = false
		}
		s.CommissionTotal += sale.CommissionAmount
	}

	for _, g := range groups {
		sort.Strings(g.SaleIDs)
		s.PromoterCommissions = append(s.PromoterCommissions, *g)
	}
	sort.Slice(s.PromoterCommissions, func(i, j int) bool {
		return s.PromoterCommissions[i].PromoterID < s.PromoterCommissions[j].PromoterID
	})

	if s.CompletedOrders == 0 {
		s.OrganizerNet = 0
		return s, nil
	}

	if s.PlatformFees+s.CommissionTotal > s.TotalSales {
		return nil, inconsistent(event.ID, fmt.Sprintf("fees %d and commissions %d exceed sales %d",
			s.PlatformFees, s.CommissionTotal, s.TotalSales))
	}

	s.OrganizerNet = s.TotalSales - s.PlatformFees - s.CommissionTotal
	return s, nil
}

func inconsistent(eventID, msg string) error {
	return ReasonInconsistent.Error("settlement figures are inconsistent: "+msg,
		errutil.WithDetails(errutil.Detail{Field: "event_id", Message: eventID}))
}
