package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ticketing-settlement/pkg/errutil"
	"ticketing-settlement/services/reauth"

	"github.com/stretchr/testify/require"
)

func TestSettleEventPayoutOnce(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", false)
	f.seedEndedEvent("evt_1", "org_1")
	ctx := context.Background()

	payout, err := f.svc.SettleEventPayout(ctx, SettleEventPayoutInput{
		EventID:        "evt_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettlePayout, "evt_1"),
	})
	require.NoError(t, err)
	require.Equal(t, PayoutCompleted, payout.Status)
	require.EqualValues(t, 15000, payout.Amount)
	require.EqualValues(t, 750, payout.PlatformFeeDeducted)
	require.EqualValues(t, 1000, payout.CommissionDeducted)
	require.EqualValues(t, 13250, payout.NetAmount)
	require.Equal(t, "bank_org_1", payout.BankAccountID)
	require.Equal(t, RecipientOrganizer, payout.RecipientType)

	event := f.event("evt_1")
	require.Equal(t, EventPayoutPaid, event.PayoutStatus)
	require.NotNil(t, event.PaidAt)

	rows := f.payouts()
	require.Len(t, rows, 1)
	require.Equal(t, PayoutCompleted, rows[0].Status)
	require.NotNil(t, rows[0].CompletedKey)
	require.Equal(t, OrganizerPayoutKey("evt_1"), *rows[0].CompletedKey)

	_, err = f.svc.SettleEventPayout(ctx, SettleEventPayoutInput{
		EventID:        "evt_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettlePayout, "evt_1"),
	})
	require.Error(t, err)
	require.Equal(t, ReasonAlreadyPaid, ReasonOf(err))
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
	require.Len(t, f.payouts(), 1)
}

func TestSettleEventPayoutRequiresElevation(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", false)
	f.seedEndedEvent("evt_1", "org_1")
	ctx := context.Background()

	_, err := f.svc.SettleEventPayout(ctx, SettleEventPayoutInput{EventID: "evt_1", OperatorID: "op_1"})
	require.Equal(t, ReasonReauthRequired, ReasonOf(err))

	// a token for another event does not carry over
	_, err = f.svc.SettleEventPayout(ctx, SettleEventPayoutInput{
		EventID:        "evt_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettlePayout, "evt_2"),
	})
	require.Equal(t, ReasonReauthRequired, ReasonOf(err))

	// and a token is single use even when the gate denies
	token := f.token(reauth.ActionSettlePayout, "evt_1")
	_, err = f.svc.SettleEventPayout(ctx, SettleEventPayoutInput{EventID: "evt_1", OperatorID: "op_1", ElevationToken: token, BankAccountID: "missing"})
	require.Equal(t, ReasonNoBankAccount, ReasonOf(err))

	_, err = f.svc.SettleEventPayout(ctx, SettleEventPayoutInput{EventID: "evt_1", OperatorID: "op_1", ElevationToken: token})
	require.Equal(t, ReasonReauthRequired, ReasonOf(err))

	require.Empty(t, f.payouts())
	require.Equal(t, EventPayoutPending, f.event("evt_1").PayoutStatus)
}

func TestSettleEventPayoutNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SettleEventPayout(context.Background(), SettleEventPayoutInput{EventID: "nope", OperatorID: "op_1"})
	require.Equal(t, ReasonEventNotFound, ReasonOf(err))
}

func TestSettleEventPayoutBelowThreshold(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", false)
	f.create(
		&Event{ID: "evt_small", OrganizerID: "org_1", Currency: "NGN", StartDate: f.now.Add(-72 * time.Hour), EndDate: f.now.Add(-48 * time.Hour), PayoutStatus: EventPayoutPending},
		&Order{ID: "o1", EventID: "evt_small", TotalAmount: 5000, PlatformFee: 100, Status: OrderCompleted},
	)

	_, err := f.svc.SettleEventPayout(context.Background(), SettleEventPayoutInput{
		EventID:        "evt_small",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettlePayout, "evt_small"),
	})
	require.Equal(t, ReasonBelowThreshold, ReasonOf(err))
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
}

func settleConcurrently(t *testing.T, f *fixture) []error {
	tokens := []string{
		f.token(reauth.ActionSettlePayout, "evt_1"),
		f.token(reauth.ActionSettlePayout, "evt_1"),
	}

	errs := make([]error, len(tokens))
	var wg sync.WaitGroup
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			_, errs[i] = f.svc.SettleEventPayout(context.Background(), SettleEventPayoutInput{
				EventID:        "evt_1",
				OperatorID:     "op_1",
				ElevationToken: tok,
			})
		}(i, tok)
	}
	wg.Wait()
	return errs
}

func requireOneWinner(t *testing.T, f *fixture, errs []error) {
	var ok, alreadyPaid int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case ReasonOf(err) == ReasonAlreadyPaid:
			alreadyPaid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, alreadyPaid)

	var completed int64
	require.NoError(t, f.db.Model(&Payout{}).Where("event_id = ? AND status = ?", "evt_1", PayoutCompleted).Count(&completed).Error)
	require.EqualValues(t, 1, completed)
}

func TestSettleEventPayoutConcurrent(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", false)
	f.seedEndedEvent("evt_1", "org_1")

	requireOneWinner(t, f, settleConcurrently(t, f))
}

func TestSettleEventPayoutConcurrentWithoutLock(t *testing.T) {
	f := newFixture(t, withLocker(noopLocker{}))
	f.seedOrganizer("org_1", false)
	f.seedEndedEvent("evt_1", "org_1")

	requireOneWinner(t, f, settleConcurrently(t, f))
}

func TestSettleEventPayoutDecrementsTrackedBalance(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", false)
	f.seedEndedEvent("evt_1", "org_1")
	require.NoError(t, f.db.Model(&Organizer{}).Where("id = ?", "org_1").Update("available_balance", 5000).Error)

	_, err := f.svc.SettleEventPayout(context.Background(), SettleEventPayoutInput{
		EventID:        "evt_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettlePayout, "evt_1"),
	})
	require.NoError(t, err)

	org := f.organizer("org_1")
	require.NotNil(t, org.AvailableBalance)
	require.Zero(t, *org.AvailableBalance)
}

// failingStore fails selected writes, and keeps failing them inside
// transactions.
type failingStore struct {
	Store
	markEventPaid error
	deletePayout  error
}

func (s *failingStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.Store.Transaction(ctx, func(tx Store) error {
		return fn(&failingStore{Store: tx, markEventPaid: s.markEventPaid, deletePayout: s.deletePayout})
	})
}

func (s *failingStore) MarkEventPaid(ctx context.Context, eventID string, at time.Time) error {
	if s.markEventPaid != nil {
		return s.markEventPaid
	}
	return s.Store.MarkEventPaid(ctx, eventID, at)
}

func (s *failingStore) DeletePayout(ctx context.Context, id string) error {
	if s.deletePayout != nil {
		return s.deletePayout
	}
	return s.Store.DeletePayout(ctx, id)
}

func TestSettleEventPayoutRollsBack(t *testing.T) {
	modes := map[string][]fixtureOption{
		"atomic": nil,
		"saga":   {withSagaMode()},
	}

	for name, opts := range modes {
		t.Run(name, func(t *testing.T) {
			opts := append(opts, withStore(func(s Store) Store {
				return &failingStore{Store: s, markEventPaid: errors.New("connection reset")}
			}))
			f := newFixture(t, opts...)
			f.seedOrganizer("org_1", false)
			f.seedEndedEvent("evt_1", "org_1")

			_, err := f.svc.SettleEventPayout(context.Background(), SettleEventPayoutInput{
				EventID:        "evt_1",
				OperatorID:     "op_1",
				ElevationToken: f.token(reauth.ActionSettlePayout, "evt_1"),
			})
			require.Error(t, err)
			require.Equal(t, ReasonWriteFailed, ReasonOf(err))
			require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))

			require.Equal(t, EventPayoutPending, f.event("evt_1").PayoutStatus)
			require.Empty(t, f.payouts())
		})
	}
}

func TestSettleEventPayoutRollbackFailure(t *testing.T) {
	f := newFixture(t, withSagaMode(), withStore(func(s Store) Store {
		return &failingStore{
			Store:         s,
			markEventPaid: errors.New("connection reset"),
			deletePayout:  errors.New("connection reset"),
		}
	}))
	f.seedOrganizer("org_1", false)
	f.seedEndedEvent("evt_1", "org_1")

	_, err := f.svc.SettleEventPayout(context.Background(), SettleEventPayoutInput{
		EventID:        "evt_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettlePayout, "evt_1"),
	})
	require.Equal(t, ReasonRollbackFailed, ReasonOf(err))
	require.Equal(t, KindFatal, ReasonOf(err).Kind())

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Contains(t, be.Details, errutil.Detail{Field: "stage", Message: "mark_event_paid"})
	require.Contains(t, be.Details, errutil.Detail{Field: "event_id", Message: "evt_1"})

	// the orphaned payout stays in processing for reconciliation
	rows := f.payouts()
	require.Len(t, rows, 1)
	require.Equal(t, PayoutProcessing, rows[0].Status)
}

func TestSettleEventPayoutReference(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", false)
	f.seedEndedEvent("evt_1", "org_1")
	f.seedEndedEvent("evt_2", "org_1")
	ctx := context.Background()

	first, err := f.svc.SettleEventPayout(ctx, SettleEventPayoutInput{
		EventID:        "evt_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettlePayout, "evt_1"),
		Reference:      "ref-1",
	})
	require.NoError(t, err)

	again, err := f.svc.SettleEventPayout(ctx, SettleEventPayoutInput{
		EventID:    "evt_1",
		OperatorID: "op_1",
		Reference:  "ref-1",
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	_, err = f.svc.SettleEventPayout(ctx, SettleEventPayoutInput{
		EventID:        "evt_2",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettlePayout, "evt_2"),
		Reference:      "ref-1",
	})
	require.Equal(t, ReasonReferenceConflict, ReasonOf(err))
	require.Len(t, f.payouts(), 1)
}

func TestSettleAllForEvent(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", false)
	f.seedEndedEvent("evt_1", "org_1")
	f.create(
		&PromoterSale{ID: "evt_1_s2", EventID: "evt_1", PromoterID: "prm_2", CommissionAmount: 400, Status: PromoterSalePending},
		&BankAccount{ID: "bank_prm_1", OwnerID: "prm_1", OwnerType: RecipientPromoter, IsDefault: true},
	)
	ctx := context.Background()

	out, err := f.svc.SettleAllForEvent(ctx, SettleEventPayoutInput{
		EventID:        "evt_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAll, "evt_1"),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Organizer)
	require.EqualValues(t, 12850, out.Organizer.NetAmount)
	require.Empty(t, out.OrganizerReason)
	require.Len(t, out.Promoters, 2)

	p1, p2 := out.Promoters[0], out.Promoters[1]
	require.Equal(t, "prm_1", p1.PromoterID)
	require.NotNil(t, p1.Payout)
	require.Equal(t, PayoutCompleted, p1.Payout.Status)
	require.EqualValues(t, 1000, p1.Payout.NetAmount)
	require.Empty(t, p1.Reason)

	require.Equal(t, "prm_2", p2.PromoterID)
	require.Nil(t, p2.Payout)
	require.Equal(t, ReasonNoBankAccount, p2.Reason)

	var sale PromoterSale
	require.NoError(t, f.db.First(&sale, "id = ?", "evt_1_s1").Error)
	require.Equal(t, PromoterSalePaid, sale.Status)
	require.NoError(t, f.db.First(&sale, "id = ?", "evt_1_s2").Error)
	require.Equal(t, PromoterSalePending, sale.Status)

	// a second run pays nobody twice
	out, err = f.svc.SettleAllForEvent(ctx, SettleEventPayoutInput{
		EventID:        "evt_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAll, "evt_1"),
	})
	require.NoError(t, err)
	require.Equal(t, ReasonAlreadyPaid, out.OrganizerReason)
	require.Equal(t, ReasonAlreadyPaid, out.Promoters[0].Reason)
	require.Equal(t, ReasonNoBankAccount, out.Promoters[1].Reason)
	require.Len(t, f.payouts(), 2)
}

func TestSettleAllForEventAbortsOnOrganizerDenial(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", false)
	f.seedEndedEvent("evt_1", "org_1")
	require.NoError(t, f.db.Model(&Organizer{}).Where("id = ?", "org_1").Update("kyc_status", "pending").Error)

	_, err := f.svc.SettleAllForEvent(context.Background(), SettleEventPayoutInput{
		EventID:        "evt_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAll, "evt_1"),
	})
	require.Equal(t, ReasonKYCNotVerified, ReasonOf(err))
	require.Empty(t, f.payouts())
}

// seedActiveEvent creates an event still running with an organizer net of
// 9000 NGN.
func (f *fixture) seedActiveEvent(eventID, organizerID string) {
	f.t.Helper()
	f.create(
		&Event{ID: eventID, OrganizerID: organizerID, Currency: "NGN", StartDate: f.now.Add(-time.Hour), EndDate: f.now.Add(72 * time.Hour), PayoutStatus: EventPayoutPending},
		&Order{ID: eventID + "_o1", EventID: eventID, TotalAmount: 10000, PlatformFee: 1000, Status: OrderCompleted},
	)
}

func TestSettleAdvanceBounds(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", true)
	f.seedActiveEvent("evt_live", "org_1")
	ctx := context.Background()

	balance, err := f.svc.GetAdvanceBalance(ctx, "org_1")
	require.NoError(t, err)
	available := balance.Available("NGN")
	require.EqualValues(t, 9000, available)

	_, err = f.svc.SettleAdvance(ctx, SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         available + 1,
	})
	require.Equal(t, ReasonExceedsAvailable, ReasonOf(err))
	require.Empty(t, f.advances())

	adv, err := f.svc.SettleAdvance(ctx, SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         available,
	})
	require.NoError(t, err)
	require.Equal(t, AdvancePaid, adv.Status)
	require.Equal(t, "NGN", adv.Currency)
	require.Equal(t, "op_1", adv.ApprovedBy)
	require.Equal(t, "op_1", adv.PaidBy)
	require.EqualValues(t, available, adv.AvailableBalance)
	require.Len(t, f.advances(), 1)

	balance, err = f.svc.GetAdvanceBalance(ctx, "org_1")
	require.NoError(t, err)
	require.Zero(t, balance.Available("NGN"))
}

func advanceConcurrently(t *testing.T, f *fixture, amount int64) []error {
	tokens := []string{
		f.token(reauth.ActionSettleAdvance, "org_1"),
		f.token(reauth.ActionSettleAdvance, "org_1"),
	}

	errs := make([]error, len(tokens))
	var wg sync.WaitGroup
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			_, errs[i] = f.svc.SettleAdvance(context.Background(), SettleAdvanceInput{
				OrganizerID:    "org_1",
				OperatorID:     "op_1",
				ElevationToken: tok,
				Amount:         amount,
			})
		}(i, tok)
	}
	wg.Wait()
	return errs
}

func requireAdvancedAtMost(t *testing.T, f *fixture, limit int64) {
	var total int64
	for _, adv := range f.advances() {
		total += adv.AdvanceAmount
	}
	require.LessOrEqual(t, total, limit)
}

func TestSettleAdvanceConcurrentWithoutLock(t *testing.T) {
	f := newFixture(t, withLocker(noopLocker{}))
	f.seedOrganizer("org_1", true)
	f.seedActiveEvent("evt_live", "org_1")

	var ok, exceeded int
	for _, err := range advanceConcurrently(t, f, 9000) {
		switch {
		case err == nil:
			ok++
		case ReasonOf(err) == ReasonExceedsAvailable:
			exceeded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, exceeded)
	require.Len(t, f.advances(), 1)
	requireAdvancedAtMost(t, f, 9000)

	balance, err := f.svc.GetAdvanceBalance(context.Background(), "org_1")
	require.NoError(t, err)
	require.Zero(t, balance.Available("NGN"))
}

func TestSettleAdvanceConcurrentSagaWithoutLock(t *testing.T) {
	f := newFixture(t, withSagaMode(), withLocker(noopLocker{}))
	f.seedOrganizer("org_1", true)
	f.seedActiveEvent("evt_live", "org_1")

	var ok int
	for _, err := range advanceConcurrently(t, f, 6000) {
		if err == nil {
			ok++
			continue
		}
		require.Equal(t, ReasonExceedsAvailable, ReasonOf(err))
	}
	require.LessOrEqual(t, ok, 1)
	require.Len(t, f.advances(), ok)
	requireAdvancedAtMost(t, f, 9000)
}

func TestSettleAdvanceReferenceMismatch(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", true)
	f.seedActiveEvent("evt_live", "org_1")
	ctx := context.Background()

	adv, err := f.svc.SettleAdvance(ctx, SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         1000,
		Reference:      "r",
	})
	require.NoError(t, err)

	_, err = f.svc.SettleAdvance(ctx, SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         5000,
		Reference:      "r",
	})
	require.Equal(t, ReasonReferenceConflict, ReasonOf(err))
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	_, err = f.svc.SettleAdvance(ctx, SettleAdvanceInput{
		OrganizerID: "org_1",
		OperatorID:  "op_1",
		Amount:      1000,
		Currency:    "USD",
		Reference:   "r",
	})
	require.Equal(t, ReasonReferenceConflict, ReasonOf(err))

	replay, err := f.svc.SettleAdvance(ctx, SettleAdvanceInput{
		OrganizerID: "org_1",
		OperatorID:  "op_1",
		Amount:      1000,
		Currency:    "ngn",
		Reference:   "r",
	})
	require.NoError(t, err)
	require.Equal(t, adv.ID, replay.ID)
	require.Len(t, f.advances(), 1)
}

func TestSettleEventPayoutBeforeEventEnds(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", false)
	f.seedActiveEvent("evt_1", "org_1")

	_, err := f.svc.SettleEventPayout(context.Background(), SettleEventPayoutInput{
		EventID:        "evt_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettlePayout, "evt_1"),
	})
	require.Equal(t, ReasonEventNotEnded, ReasonOf(err))
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))
	require.Empty(t, f.payouts())
	require.Equal(t, EventPayoutPending, f.event("evt_1").PayoutStatus)
}

func TestAdvanceBalanceSkipsPaidRunningEvent(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", true)
	f.create(
		&Event{ID: "evt_paid", OrganizerID: "org_1", Currency: "NGN", StartDate: f.now.Add(-time.Hour), EndDate: f.now.Add(72 * time.Hour), PayoutStatus: EventPayoutPaid},
		&Order{ID: "paid_o1", EventID: "evt_paid", TotalAmount: 50000, PlatformFee: 1000, Status: OrderCompleted},
	)

	balance, err := f.svc.GetAdvanceBalance(context.Background(), "org_1")
	require.NoError(t, err)
	require.Zero(t, balance.Available("NGN"))

	_, err = f.svc.SettleAdvance(context.Background(), SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         1000,
		Currency:       "NGN",
	})
	require.Error(t, err)
	require.Empty(t, f.advances())
}

func TestSettleAdvanceUntrusted(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", false)
	f.seedActiveEvent("evt_live", "org_1")

	_, err := f.svc.SettleAdvance(context.Background(), SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         1000,
	})
	require.Equal(t, ReasonNotTrusted, ReasonOf(err))
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))
	require.Empty(t, f.advances())
}

func TestSettleAdvanceKillSwitch(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", true)
	f.seedActiveEvent("evt_live", "org_1")
	f.flags["settlement_advances"] = false

	_, err := f.svc.SettleAdvance(context.Background(), SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         1000,
	})
	require.Equal(t, ReasonAdvancesDisabled, ReasonOf(err))
}

func TestSettleAdvanceCurrencySelection(t *testing.T) {
	f := newFixture(t)
	f.seedOrganizer("org_1", true)
	f.seedActiveEvent("evt_live", "org_1")
	f.create(
		&Event{ID: "evt_usd", OrganizerID: "org_1", Currency: "USD", StartDate: f.now, EndDate: f.now.Add(24 * time.Hour), PayoutStatus: EventPayoutPending},
		&Order{ID: "usd_o1", EventID: "evt_usd", TotalAmount: 300, PlatformFee: 10, Status: OrderCompleted},
	)
	ctx := context.Background()

	_, err := f.svc.SettleAdvance(ctx, SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         100,
	})
	require.Equal(t, ReasonInvalidCurrency, ReasonOf(err))

	// a USD advance is bounded by the USD line only
	_, err = f.svc.SettleAdvance(ctx, SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         1000,
		Currency:       "usd",
	})
	require.Equal(t, ReasonExceedsAvailable, ReasonOf(err))

	adv, err := f.svc.SettleAdvance(ctx, SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         290,
		Currency:       "usd",
		Reference:      "adv-1",
	})
	require.NoError(t, err)
	require.Equal(t, "USD", adv.Currency)

	replay, err := f.svc.SettleAdvance(ctx, SettleAdvanceInput{OrganizerID: "org_1", OperatorID: "op_1", Reference: "adv-1"})
	require.NoError(t, err)
	require.Equal(t, adv.ID, replay.ID)
	require.Len(t, f.advances(), 1)
}

func TestSetOrganizerTrust(t *testing.T) {
	f := newFixture(t, withTrustReview(30*24*time.Hour))
	f.seedOrganizer("org_1", false)
	f.seedActiveEvent("evt_live", "org_1")
	ctx := context.Background()

	_, err := f.svc.SetOrganizerTrust(ctx, SetTrustInput{OrganizerID: "org_1", OperatorID: "op_1", Trusted: true})
	require.Equal(t, ReasonReauthRequired, ReasonOf(err))

	org, err := f.svc.SetOrganizerTrust(ctx, SetTrustInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSetTrust, "org_1"),
		Trusted:        true,
	})
	require.NoError(t, err)
	require.True(t, org.IsTrusted)
	require.NotNil(t, org.TrustedAt)
	require.Equal(t, "op_1", org.TrustedBy)

	_, err = f.svc.SettleAdvance(ctx, SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         1000,
	})
	require.NoError(t, err)

	// trust lapses after the review period until it is confirmed again
	f.now = f.now.Add(31 * 24 * time.Hour)
	f.seedActiveEvent("evt_later", "org_1")
	_, err = f.svc.SettleAdvance(ctx, SettleAdvanceInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSettleAdvance, "org_1"),
		Amount:         1000,
	})
	require.Equal(t, ReasonNotTrusted, ReasonOf(err))

	org, err = f.svc.SetOrganizerTrust(ctx, SetTrustInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSetTrust, "org_1"),
		Trusted:        true,
	})
	require.NoError(t, err)
	require.WithinDuration(t, f.now, *org.TrustedAt, time.Second)

	org, err = f.svc.SetOrganizerTrust(ctx, SetTrustInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSetTrust, "org_1"),
		Trusted:        false,
	})
	require.NoError(t, err)
	require.False(t, org.IsTrusted)
	require.Nil(t, org.TrustedAt)

	// revoking again is a no-op
	org, err = f.svc.SetOrganizerTrust(ctx, SetTrustInput{
		OrganizerID:    "org_1",
		OperatorID:     "op_1",
		ElevationToken: f.token(reauth.ActionSetTrust, "org_1"),
		Trusted:        false,
	})
	require.NoError(t, err)
	require.False(t, org.IsTrusted)
}

func TestMarshalMeta(t *testing.T) {
	require.JSONEq(t, `{"stage":"mark_paid"}`, string(marshalMeta(map[string]any{"stage": "mark_paid"})))
	require.Nil(t, marshalMeta(map[string]any{"ch": make(chan int)}))
}
