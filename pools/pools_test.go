package pools_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tronwatch/delegation-aggregator/aggregator"
	"github.com/tronwatch/delegation-aggregator/pools"
)

func TestResolvePool(t *testing.T) {
	t.Parallel()

	t.Run("it uses the registered membership when one exists", func(t *testing.T) {
		t.Parallel()

		membership := &pools.Membership{
			Account:      "TAccount",
			PermissionID: 2,
			Pool:         "TPool",
			SelfSigned:   true,
		}

		pool, selfSigned := pools.ResolvePool(membership, "TAccount")

		assert.Equal(t, "TPool", pool)
		assert.True(t, selfSigned)
	})

	t.Run("it falls back to the sender when no membership exists", func(t *testing.T) {
		t.Parallel()

		pool, selfSigned := pools.ResolvePool(nil, "TAccount")

		assert.Equal(t, "TAccount", pool)
		assert.False(t, selfSigned)
	})
}

func TestPoolAggregation(t *testing.T) {
	t.Parallel()

	asOf := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("it anchors the lookback to the ledger's latest indexed timestamp", func(t *testing.T) {
		t.Parallel()

		// Arrange
		source := &fakeSource{latest: asOf}
		agg := newAggregator(source, noMemberships(), noNames(), pools.WithLookback(6*time.Hour))

		// Act
		snapshot, err := agg.Aggregate(t.Context())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, asOf, snapshot.AsOf)
		assert.Equal(t, asOf.Add(-6*time.Hour), source.requestedFrom)
		assert.Equal(t, asOf, source.requestedTo)
	})

	t.Run("it groups by resolved pool and sums magnitudes exactly", func(t *testing.T) {
		t.Parallel()

		// Arrange: three delegators routed to the same pool
		source := &fakeSource{latest: asOf, txs: []aggregator.DelegationTransaction{
			poolTx("TAlice", "TRecip1", 2, 5_000_000),
			poolTx("TBob", "TRecip1", 2, -3_000_000),
			poolTx("TCarol", "TRecip2", 2, 4_000_000),
		}}
		memberships := &fakeMemberships{memberships: map[pools.MembershipKey]pools.Membership{
			{Account: "TAlice", PermissionID: 2}: {Account: "TAlice", PermissionID: 2, Pool: "TPool", SelfSigned: true},
			{Account: "TBob", PermissionID: 2}:   {Account: "TBob", PermissionID: 2, Pool: "TPool", SelfSigned: true},
			{Account: "TCarol", PermissionID: 2}: {Account: "TCarol", PermissionID: 2, Pool: "TPool", SelfSigned: true},
		}}
		agg := newAggregator(source, memberships, noNames())

		// Act
		snapshot, err := agg.Aggregate(t.Context())

		// Assert
		require.NoError(t, err)
		require.Len(t, snapshot.Pools, 1)

		pool := snapshot.Pools[0]
		assert.Equal(t, "TPool", pool.PoolAddress)
		assert.True(t, pool.TotalAmountTRX.Equal(decimal.RequireFromString("12")),
			"total should be sum(abs(amountSun)) / 1_000_000, got %s", pool.TotalAmountTRX)
		assert.Equal(t, 3, pool.DelegationCount)
		assert.Equal(t, 3, pool.DelegatorCount)
		assert.Equal(t, 2, pool.RecipientCount)
		assert.True(t, pool.SelfSigned)
	})

	t.Run("it treats unregistered senders as their own pool", func(t *testing.T) {
		t.Parallel()

		// Arrange
		source := &fakeSource{latest: asOf, txs: []aggregator.DelegationTransaction{
			poolTx("TLoner", "TRecip1", 0, 2_000_000),
			poolTx("TLoner", "TRecip2", 0, 1_000_000),
		}}
		agg := newAggregator(source, noMemberships(), noNames())

		// Act
		snapshot, err := agg.Aggregate(t.Context())

		// Assert
		require.NoError(t, err)
		require.Len(t, snapshot.Pools, 1)
		assert.Equal(t, "TLoner", snapshot.Pools[0].PoolAddress)
		assert.False(t, snapshot.Pools[0].SelfSigned)
		assert.Equal(t, 1, snapshot.Pools[0].DelegatorCount)
		assert.Equal(t, 2, snapshot.Pools[0].RecipientCount)
	})

	t.Run("it sorts descending by amount and caps the ranking", func(t *testing.T) {
		t.Parallel()

		// Arrange: three pools of descending weight, capped to two
		source := &fakeSource{latest: asOf, txs: []aggregator.DelegationTransaction{
			poolTx("TSmall", "TRecip", 0, 1_000_000),
			poolTx("TLarge", "TRecip", 0, 9_000_000),
			poolTx("TMedium", "TRecip", 0, 5_000_000),
		}}
		agg := newAggregator(source, noMemberships(), noNames(), pools.WithLimit(2))

		// Act
		snapshot, err := agg.Aggregate(t.Context())

		// Assert
		require.NoError(t, err)
		require.Len(t, snapshot.Pools, 2)
		assert.Equal(t, "TLarge", snapshot.Pools[0].PoolAddress)
		assert.Equal(t, "TMedium", snapshot.Pools[1].PoolAddress)
	})

	t.Run("it enriches only the capped result with names", func(t *testing.T) {
		t.Parallel()

		// Arrange
		source := &fakeSource{latest: asOf, txs: []aggregator.DelegationTransaction{
			poolTx("TSmall", "TRecip", 0, 1_000_000),
			poolTx("TLarge", "TRecip", 0, 9_000_000),
		}}
		names := &fakeNames{names: map[string]string{"TLarge": "Big Energy Pool"}}
		agg := newAggregator(source, noMemberships(), names, pools.WithLimit(1))

		// Act
		snapshot, err := agg.Aggregate(t.Context())

		// Assert
		require.NoError(t, err)
		require.Len(t, snapshot.Pools, 1)
		assert.Equal(t, "Big Energy Pool", snapshot.Pools[0].PoolName)
		assert.Equal(t, []string{"TLarge"}, names.requested,
			"only addresses surviving the cap should be looked up")
	})

	t.Run("it returns an empty snapshot when nothing is indexed yet", func(t *testing.T) {
		t.Parallel()

		// Arrange
		now := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
		agg := newAggregator(&fakeSource{}, noMemberships(), noNames(), pools.WithClock(fixedClock{now: now}))

		// Act
		snapshot, err := agg.Aggregate(t.Context())

		// Assert
		require.NoError(t, err)
		assert.Empty(t, snapshot.Pools)
		assert.Equal(t, now, snapshot.AsOf)
	})

	t.Run("it propagates source failures to the caller", func(t *testing.T) {
		t.Parallel()

		// Arrange
		source := &fakeSource{latest: asOf, findErr: errors.New("connection reset")}
		agg := newAggregator(source, noMemberships(), noNames())

		// Act
		_, err := agg.Aggregate(t.Context())

		// Assert
		require.ErrorIs(t, err, pools.ErrSourceQueryFailed)
	})

	t.Run("it rejects a non-positive lookback", func(t *testing.T) {
		t.Parallel()

		agg := newAggregator(&fakeSource{latest: asOf}, noMemberships(), noNames(), pools.WithLookback(0))

		_, err := agg.Aggregate(t.Context())

		require.ErrorIs(t, err, pools.ErrInvalidLookbackWindow)
	})
}

// Test doubles and builders
// -------------------------

func newAggregator(source pools.TransactionSource, memberships pools.MembershipRegistry, names pools.NameRegistry, opts ...pools.Option) *pools.Aggregator {
	return pools.NewAggregator(source, memberships, names, opts...)
}

func noMemberships() *fakeMemberships {
	return &fakeMemberships{memberships: map[pools.MembershipKey]pools.Membership{}}
}

func noNames() *fakeNames {
	return &fakeNames{names: map[string]string{}}
}

func poolTx(from, to string, permissionID int32, amountSun int64) aggregator.DelegationTransaction {
	return aggregator.DelegationTransaction{
		TxID:         fmt.Sprintf("pool-tx-%s-%s-%d", from, to, amountSun),
		BlockNumber:  10_000,
		Timestamp:    time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC),
		FromAddress:  from,
		ToAddress:    to,
		Resource:     aggregator.ResourceEnergy,
		AmountSun:    amountSun,
		PermissionID: permissionID,
	}
}

type fakeSource struct {
	latest        time.Time
	txs           []aggregator.DelegationTransaction
	findErr       error
	requestedFrom time.Time
	requestedTo   time.Time
}

func (f *fakeSource) LatestTimestamp(context.Context) (time.Time, bool, error) {
	return f.latest, !f.latest.IsZero(), nil
}

func (f *fakeSource) FindEnergyBetween(_ context.Context, from, to time.Time) ([]aggregator.DelegationTransaction, error) {
	f.requestedFrom, f.requestedTo = from, to
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.txs, nil
}

type fakeMemberships struct {
	memberships map[pools.MembershipKey]pools.Membership
}

func (f *fakeMemberships) FindMemberships(_ context.Context, keys []pools.MembershipKey) (map[pools.MembershipKey]pools.Membership, error) {
	resolved := make(map[pools.MembershipKey]pools.Membership)
	for _, key := range keys {
		if m, found := f.memberships[key]; found {
			resolved[key] = m
		}
	}
	return resolved, nil
}

type fakeNames struct {
	names     map[string]string
	requested []string
}

func (f *fakeNames) FindNames(_ context.Context, addresses []string) (map[string]string, error) {
	f.requested = append(f.requested, addresses...)
	found := make(map[string]string)
	for _, address := range addresses {
		if name, exists := f.names[address]; exists {
			found[address] = name
		}
	}
	return found, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func (c fixedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}
