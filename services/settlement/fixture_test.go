package settlement

import (
	"context"
	"testing"
	"time"

	"ticketing-settlement/pkg/config"
	"ticketing-settlement/pkg/currency"
	"ticketing-settlement/pkg/featureflags"
	"ticketing-settlement/pkg/lock"
	"ticketing-settlement/pkg/sequence"
	"ticketing-settlement/services/reauth"
	"ticketing-settlement/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type acceptAll struct{}

func (acceptAll) Verify(ctx context.Context, operatorID, credential string) (bool, error) {
	return credential == "secret", nil
}

// noopLocker never blocks, leaving the conditional writes as the only guard.
type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, key string) (lock.Release, error) {
	return func() {}, nil
}

type fixture struct {
	t      *testing.T
	db     *gorm.DB
	store  *GormStore
	reauth *reauth.Service
	svc    *Service
	now    time.Time
	flags  featureflags.Static
}

type fixtureOption func(*fixture, *Deps, *GateConfig)

func withSagaMode() fixtureOption {
	return func(_ *fixture, d *Deps, _ *GateConfig) { d.Options.AtomicTransactions = false }
}

func withStore(wrap func(Store) Store) fixtureOption {
	return func(_ *fixture, d *Deps, _ *GateConfig) { d.Store = wrap(d.Store) }
}

func withLocker(l lock.Locker) fixtureOption {
	return func(_ *fixture, d *Deps, _ *GateConfig) { d.Locker = l }
}

func withTrustReview(period time.Duration) fixtureOption {
	return func(_ *fixture, _ *Deps, g *GateConfig) { g.TrustReviewPeriod = period }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		t:      t,
		db:     db,
		store:  NewGormStore(db),
		reauth: reauth.New(acceptAll{}, reauth.NewMemoryStore(), nil, time.Minute),
		now:    time.Now().UTC().Truncate(time.Second),
		flags:  featureflags.Static{"settlement_advances": true},
	}
	clock := func() time.Time { return f.now }

	gc := GateConfig{
		Elevation:    f.reauth,
		Flags:        f.flags,
		Thresholds:   currency.New(100000, config.Currency{Code: "NGN", Symbol: "₦", MinimumPayout: 10000}),
		AdvancesFlag: "settlement_advances",
		Now:          clock,
	}
	deps := Deps{
		Store:    f.store,
		Locker:   lock.NewLocalLocker(lock.Options{Wait: 5 * time.Second}),
		Sequence: sequence.NewLocalGenerator(node),
		Node:     node,
		Options:  Options{AtomicTransactions: true, OperationTimeout: 10 * time.Second, StalledAfter: 15 * time.Minute},
		Now:      clock,
	}
	for _, opt := range opts {
		opt(f, &deps, &gc)
	}
	deps.Gate = NewGate(gc)

	f.svc = New(deps)
	return f
}

func (f *fixture) token(action, subject string) string {
	f.t.Helper()
	g, err := f.reauth.Elevate(context.Background(), "op_1", "secret", reauth.Scope{Action: action, SubjectID: subject})
	require.NoError(f.t, err)
	return g.Token
}

func (f *fixture) create(rows ...any) {
	f.t.Helper()
	for _, r := range rows {
		require.NoError(f.t, f.db.Create(r).Error)
	}
}

func (f *fixture) seedOrganizer(id string, trusted bool) *Organizer {
	f.t.Helper()
	org := &Organizer{ID: id, Name: "Organizer " + id, IsTrusted: trusted, KYCStatus: "verified", CreatedAt: f.now}
	if trusted {
		at := f.now.Add(-time.Hour)
		org.TrustedAt = &at
	}
	f.create(org, &BankAccount{
		ID:        "bank_" + id,
		OwnerID:   id,
		OwnerType: RecipientOrganizer,
		BankName:  "Test Bank",
		IsDefault: true,
		CreatedAt: f.now,
	})
	return org
}

// seedEndedEvent creates an ended NGN event whose organizer net is 13250.
func (f *fixture) seedEndedEvent(eventID, organizerID string) *Event {
	f.t.Helper()
	event := &Event{
		ID:           eventID,
		OrganizerID:  organizerID,
		Title:        "Launch Party",
		Currency:     "NGN",
		StartDate:    f.now.Add(-72 * time.Hour),
		EndDate:      f.now.Add(-48 * time.Hour),
		PayoutStatus: EventPayoutPending,
		CreatedAt:    f.now,
	}
	f.create(event,
		&Order{ID: eventID + "_o1", EventID: eventID, TotalAmount: 10000, PlatformFee: 500, Status: OrderCompleted, CreatedAt: f.now},
		&Order{ID: eventID + "_o2", EventID: eventID, TotalAmount: 5000, PlatformFee: 250, Status: OrderCompleted, CreatedAt: f.now},
		&PromoterSale{ID: eventID + "_s1", EventID: eventID, PromoterID: "prm_1", OrderID: eventID + "_o1", CommissionAmount: 1000, Status: PromoterSalePending, CreatedAt: f.now},
	)
	return event
}

func (f *fixture) event(id string) *Event {
	f.t.Helper()
	var e Event
	require.NoError(f.t, f.db.First(&e, "id = ?", id).Error)
	return &e
}

func (f *fixture) organizer(id string) *Organizer {
	f.t.Helper()
	var o Organizer
	require.NoError(f.t, f.db.First(&o, "id = ?", id).Error)
	return &o
}

func (f *fixture) payouts() []Payout {
	f.t.Helper()
	var rows []Payout
	require.NoError(f.t, f.db.Order("created_at").Find(&rows).Error)
	return rows
}

func (f *fixture) advances() []AdvancePayment {
	f.t.Helper()
	var rows []AdvancePayment
	require.NoError(f.t, f.db.Find(&rows).Error)
	return rows
}
