package reauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticketing-settlement/pkg/errutil"
	"ticketing-settlement/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type verifierFunc func(ctx context.Context, operatorID, credential string) (bool, error)

func (f verifierFunc) Verify(ctx context.Context, operatorID, credential string) (bool, error) {
	return f(ctx, operatorID, credential)
}

func acceptSecret(ctx context.Context, operatorID, credential string) (bool, error) {
	return credential == "secret", nil
}

var payoutScope = Scope{Action: ActionSettlePayout, SubjectID: "evt_1"}

func TestElevateAndConsumeOnce(t *testing.T) {
	svc := New(verifierFunc(acceptSecret), NewMemoryStore(), nil, time.Minute)
	ctx := context.Background()

	grant, err := svc.Elevate(ctx, "op_1", "secret", payoutScope)
	require.NoError(t, err)
	require.NotEmpty(t, grant.Token)

	got, err := svc.Consume(ctx, grant.Token, "op_1", payoutScope)
	require.NoError(t, err)
	require.Equal(t, "op_1", got.OperatorID)

	_, err = svc.Consume(ctx, grant.Token, "op_1", payoutScope)
	require.Error(t, err)
	require.Equal(t, ReasonRequired, errutil.ReasonOf(err))
}

func TestElevateRejectsBadCredential(t *testing.T) {
	svc := New(verifierFunc(acceptSecret), NewMemoryStore(), nil, time.Minute)

	_, err := svc.Elevate(context.Background(), "op_1", "wrong", payoutScope)
	require.Error(t, err)
	require.Equal(t, errutil.StatusUnauthorized, errutil.StatusOf(err))
	require.Equal(t, ReasonInvalidCredential, errutil.ReasonOf(err))
}

func TestElevateVerifierError(t *testing.T) {
	svc := New(verifierFunc(func(context.Context, string, string) (bool, error) {
		return false, errors.New("db down")
	}), NewMemoryStore(), nil, time.Minute)

	_, err := svc.Elevate(context.Background(), "op_1", "secret", payoutScope)
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))
}

func TestElevateRequiresScope(t *testing.T) {
	svc := New(verifierFunc(acceptSecret), NewMemoryStore(), nil, time.Minute)

	_, err := svc.Elevate(context.Background(), "op_1", "secret", Scope{Action: ActionSettlePayout})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestConsumeScopeMismatchBurnsToken(t *testing.T) {
	svc := New(verifierFunc(acceptSecret), NewMemoryStore(), nil, time.Minute)
	ctx := context.Background()

	grant, err := svc.Elevate(ctx, "op_1", "secret", payoutScope)
	require.NoError(t, err)

	_, err = svc.Consume(ctx, grant.Token, "op_1", Scope{Action: ActionSettleAdvance, SubjectID: "org_1"})
	require.Equal(t, ReasonRequired, errutil.ReasonOf(err))

	_, err = svc.Consume(ctx, grant.Token, "op_1", payoutScope)
	require.Equal(t, ReasonRequired, errutil.ReasonOf(err))
}

func TestConsumeOtherOperator(t *testing.T) {
	svc := New(verifierFunc(acceptSecret), NewMemoryStore(), nil, time.Minute)
	ctx := context.Background()

	grant, err := svc.Elevate(ctx, "op_1", "secret", payoutScope)
	require.NoError(t, err)

	_, err = svc.Consume(ctx, grant.Token, "op_2", payoutScope)
	require.Equal(t, ReasonRequired, errutil.ReasonOf(err))
}

func TestConsumeExpired(t *testing.T) {
	store := NewMemoryStore()
	svc := New(verifierFunc(acceptSecret), store, nil, time.Minute)
	ctx := context.Background()

	grant, err := svc.Elevate(ctx, "op_1", "secret", payoutScope)
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Minute)
	store.now = func() time.Time { return later }
	svc.now = store.now

	_, err = svc.Consume(ctx, grant.Token, "op_1", payoutScope)
	require.Equal(t, ReasonRequired, errutil.ReasonOf(err))
}

func TestConsumeMissingToken(t *testing.T) {
	svc := New(verifierFunc(acceptSecret), NewMemoryStore(), nil, time.Minute)

	_, err := svc.Consume(context.Background(), "", "op_1", payoutScope)
	require.Equal(t, ReasonRequired, errutil.ReasonOf(err))
}

func TestConsumeConcurrentSingleUse(t *testing.T) {
	svc := New(verifierFunc(acceptSecret), NewMemoryStore(), nil, time.Minute)
	ctx := context.Background()

	grant, err := svc.Elevate(ctx, "op_1", "secret", payoutScope)
	require.NoError(t, err)

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Consume(ctx, grant.Token, "op_1", payoutScope); err == nil {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), ok)
}

func TestCredentialVerifier(t *testing.T) {
	db := testutil.NewTestDB(t, &OperatorCredential{})

	hash, err := HashCredential("correct horse")
	require.NoError(t, err)
	require.NoError(t, db.Create(&OperatorCredential{OperatorID: "op_1", PasswordHash: hash}).Error)

	v := NewCredentialVerifier(db)
	ctx := context.Background()

	ok, err := v.Verify(ctx, "op_1", "correct horse")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.Verify(ctx, "op_1", "battery staple")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = v.Verify(ctx, "op_unknown", "correct horse")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = v.Verify(ctx, "op_1", "")
	require.NoError(t, err)
	require.False(t, ok)
}
