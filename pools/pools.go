// Package pools ranks current delegation concentration by controlling pool.
// Unlike the windowed aggregation it is stateless: every call recomputes the
// full ranking from recent ENERGY transactions and touches no cursor.
package pools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tronwatch/delegation-aggregator/aggregator"
	"github.com/tronwatch/delegation-aggregator/pkg/clock"
)

// Sentinel errors for failure cases
var (
	ErrSourceQueryFailed     = errors.New("transaction source query failed")
	ErrMembershipLookup      = errors.New("pool membership lookup failed")
	ErrNameLookup            = errors.New("address name lookup failed")
	ErrInvalidLookbackWindow = errors.New("invalid lookback window")
)

// Default configuration values
const (
	// DefaultLookback is how far behind the ledger's latest indexed timestamp
	// the ranking window reaches.
	DefaultLookback = 24 * time.Hour
	// DefaultLimit caps the ranking to keep response size and rendering cost
	// constant regardless of network activity.
	DefaultLimit = 50
)

// MembershipKey identifies a delegating account under a specific permission set.
type MembershipKey struct {
	Account      string
	PermissionID int32
}

// Membership maps an account-under-a-permission to the address that
// effectively controls it, or flags it as individually self-managed.
type Membership struct {
	Account      string
	PermissionID int32
	Pool         string
	SelfSigned   bool
}

// Aggregate is one pool's computed ranking entry. Recomputed fully on every
// call; never persisted.
type Aggregate struct {
	PoolAddress     string          `json:"poolAddress"`
	TotalAmountTRX  decimal.Decimal `json:"totalAmountTrx"`
	DelegationCount int             `json:"delegationCount"`
	DelegatorCount  int             `json:"delegatorCount"`
	RecipientCount  int             `json:"recipientCount"`
	PoolName        string          `json:"poolName,omitempty"`
	SelfSigned      bool            `json:"selfSigned"`
}

// Snapshot is the full ranking as of the ledger's own latest indexed moment.
type Snapshot struct {
	Pools []Aggregate `json:"pools"`
	AsOf  time.Time   `json:"asOf"`
}

// TransactionSource provides the recent-transaction queries the ranking needs
// ---------------------------------------------------------------------------
type TransactionSource interface {
	// LatestTimestamp returns the ledger's latest indexed transaction
	// timestamp. ok is false when nothing has been indexed yet.
	LatestTimestamp(ctx context.Context) (latest time.Time, ok bool, err error)
	// FindEnergyBetween returns all ENERGY transactions with timestamps in
	// [from, to], in any order.
	FindEnergyBetween(ctx context.Context, from, to time.Time) ([]aggregator.DelegationTransaction, error)
}

// MembershipRegistry resolves accounts-under-permissions to controlling pools
type MembershipRegistry interface {
	// FindMemberships bulk-resolves the given keys. Keys with no registered
	// membership are simply absent from the result.
	FindMemberships(ctx context.Context, keys []MembershipKey) (map[MembershipKey]Membership, error)
}

// NameRegistry decorates pool addresses with human-readable names
type NameRegistry interface {
	// FindNames returns names for the given addresses. Unknown addresses are
	// absent from the result.
	FindNames(ctx context.Context, addresses []string) (map[string]string, error)
}

// ResolvePool resolves a transaction's controlling pool: a registered
// membership wins; otherwise the sender itself is treated as the pool and the
// delegation is not considered self-signed. Pure.
func ResolvePool(membership *Membership, fromAddress string) (pool string, selfSigned bool) {
	if membership != nil {
		return membership.Pool, membership.SelfSigned
	}
	return fromAddress, false
}

// Option configures the Aggregator
// ------------------------------------------------
type Option func(*Aggregator)

// WithClock injects a custom Clock (e.g., for testing)
func WithClock(c aggregator.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

// WithLookback sets how far behind the ledger head the ranking window reaches
func WithLookback(d time.Duration) Option {
	return func(a *Aggregator) { a.lookback = d }
}

// WithLimit caps the number of ranked pools returned
func WithLimit(n int) Option {
	return func(a *Aggregator) { a.limit = n }
}

// Aggregator computes the live pool ranking. It has no mutable state and is
// safe to run concurrently with itself or with the windowed aggregation.
// -----------------------------------------------------------------
type Aggregator struct {
	source      TransactionSource
	memberships MembershipRegistry
	names       NameRegistry
	clock       aggregator.Clock
	lookback    time.Duration
	limit       int
}

// NewAggregator constructs an Aggregator with required dependencies and options.
// By default it ranks the top 50 pools over a 24h lookback.
func NewAggregator(source TransactionSource, memberships MembershipRegistry, names NameRegistry, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:      source,
		memberships: memberships,
		names:       names,
		clock:       clock.SystemClock{},
		lookback:    DefaultLookback,
		limit:       DefaultLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate computes the current ranking.
//
// The lookback window is anchored to the ledger's own latest indexed
// timestamp, not wall-clock time: if ingestion lags, wall-clock anchoring
// would silently exclude recently-finalized data that has not been indexed
// yet. Errors propagate directly to the caller; there is no retry logic here.
func (a *Aggregator) Aggregate(ctx context.Context) (Snapshot, error) {
	if a.lookback <= 0 {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrInvalidLookbackWindow, a.lookback)
	}

	asOf, ok, err := a.source.LatestTimestamp(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrSourceQueryFailed, err)
	}
	if !ok {
		// Nothing indexed yet: an empty ranking as of now.
		return Snapshot{AsOf: a.clock.Now()}, nil
	}

	transactions, err := a.source.FindEnergyBetween(ctx, asOf.Add(-a.lookback), asOf)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrSourceQueryFailed, err)
	}

	memberships, err := a.memberships.FindMemberships(ctx, membershipKeys(transactions))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrMembershipLookup, err)
	}

	ranked := rankPools(transactions, memberships, a.limit)

	if err := a.enrichNames(ctx, ranked); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{Pools: ranked, AsOf: asOf}, nil
}

// membershipKeys collects the distinct (sender, permission) pairs to resolve.
func membershipKeys(transactions []aggregator.DelegationTransaction) []MembershipKey {
	seen := make(map[MembershipKey]struct{}, len(transactions))
	keys := make([]MembershipKey, 0, len(transactions))
	for _, tx := range transactions {
		key := MembershipKey{Account: tx.FromAddress, PermissionID: tx.PermissionID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// poolGroup accumulates one pool's totals during grouping.
type poolGroup struct {
	totalSun    int64
	delegations int
	delegators  map[string]struct{}
	recipients  map[string]struct{}
	selfSigned  bool
}

// rankPools groups transactions by resolved pool, sorts by summed magnitude
// descending, and caps the result.
func rankPools(transactions []aggregator.DelegationTransaction, memberships map[MembershipKey]Membership, limit int) []Aggregate {
	groups := make(map[string]*poolGroup)
	order := make([]string, 0)

	for _, tx := range transactions {
		key := MembershipKey{Account: tx.FromAddress, PermissionID: tx.PermissionID}
		var membership *Membership
		if m, found := memberships[key]; found {
			membership = &m
		}
		pool, selfSigned := ResolvePool(membership, tx.FromAddress)

		group, exists := groups[pool]
		if !exists {
			group = &poolGroup{
				delegators: make(map[string]struct{}),
				recipients: make(map[string]struct{}),
				selfSigned: selfSigned, // first observed flag for the group
			}
			groups[pool] = group
			order = append(order, pool)
		}
		group.totalSun += tx.AbsAmountSun()
		group.delegations++
		group.delegators[tx.FromAddress] = struct{}{}
		group.recipients[tx.ToAddress] = struct{}{}
	}

	ranked := make([]Aggregate, 0, len(order))
	for _, pool := range order {
		group := groups[pool]
		ranked = append(ranked, Aggregate{
			PoolAddress:     pool,
			TotalAmountTRX:  decimal.NewFromInt(group.totalSun).Div(decimal.NewFromInt(aggregator.SunPerTRX)),
			DelegationCount: group.delegations,
			DelegatorCount:  len(group.delegators),
			RecipientCount:  len(group.recipients),
			SelfSigned:      group.selfSigned,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalAmountTRX.GreaterThan(ranked[j].TotalAmountTRX)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// enrichNames decorates only the capped result with human-readable names, so
// the lookup cost stays independent of registry size.
func (a *Aggregator) enrichNames(ctx context.Context, ranked []Aggregate) error {
	if len(ranked) == 0 {
		return nil
	}

	addresses := make([]string, len(ranked))
	for i, pool := range ranked {
		addresses[i] = pool.PoolAddress
	}

	names, err := a.names.FindNames(ctx, addresses)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNameLookup, err)
	}
	for i := range ranked {
		ranked[i].PoolName = names[ranked[i].PoolAddress]
	}
	return nil
}
