package aggregator

import (
	"context"
	"fmt"

	"github.com/tronwatch/delegation-aggregator/pkg/clock"
)

// Option configures the Service
// ------------------------------------------------
type Option func(*Service)

// WithClock injects a custom Clock (e.g., for testing)
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithMaxTranches bounds how many windows one invocation may close
func WithMaxTranches(n int) Option {
	return func(s *Service) { s.maxTranches = n }
}

// WithTopic sets the broadcast topic for completed windows
func WithTopic(topic string) Option {
	return func(s *Service) { s.topic = topic }
}

// WithInitialCursorBlock seeds the cursor at the given block instead of
// (lowest indexed block - 1) when no cursor exists yet. Lets operators skip
// deep history. Ignored once a cursor row is present.
func WithInitialCursorBlock(block int64) Option {
	return func(s *Service) {
		s.initialBlock = block
		s.hasInitialBlock = true
	}
}

// Service is the Catch-Up Driver: it turns the delegation transaction log
// into the gap-free series of window summation records, bounded to at most
// maxTranches windows per invocation.
//
// One Run call is one invocation: it loads (or bootstraps) the cursor, then
// repeatedly computes the next window, gates it on the log's high-water mark,
// aggregates, records, advances the cursor, and broadcasts. The Service does
// not enforce single-flight execution across overlapping Run calls; the
// trigger must.
// -----------------------------------------------------------------
type Service struct {
	log             TransactionLog
	cursors         CursorStore
	summations      SummationStore
	config          ConfigSource
	broadcaster     Broadcaster
	clock           Clock
	maxTranches     int
	topic           string
	initialBlock    int64
	hasInitialBlock bool
	events          chan Event
}

// NewService constructs a Service with required dependencies and options.
// By default, it uses a real clock, 3 tranches per invocation, and the
// "delegation.windows" topic.
func NewService(
	log TransactionLog,
	cursors CursorStore,
	summations SummationStore,
	config ConfigSource,
	broadcaster Broadcaster,
	opts ...Option,
) *Service {
	s := &Service{
		log:         log,
		cursors:     cursors,
		summations:  summations,
		config:      config,
		broadcaster: broadcaster,
		clock:       clock.SystemClock{},
		maxTranches: DefaultMaxTranches,
		topic:       DefaultTopic,
		events:      make(chan Event, 32),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the engine lifecycle event stream. Attach a Subscriber
// before the first Run so emission never blocks, and call Close once no more
// invocations will happen:
//
//	closer := aggregator.NewSubscriber(svc.Events(), ...)
//	defer closer()
//	defer svc.Close()
func (s *Service) Events() <-chan Event {
	return s.events
}

// Close closes the event stream. Run must not be called afterwards.
func (s *Service) Close() {
	close(s.events)
}

// Run performs one bounded catch-up invocation.
//
// Deferred conditions (empty log, missing configuration, incomplete window)
// end the invocation cleanly with a nil error; the next invocation retries
// from the same state. Any store failure aborts the invocation immediately,
// but tranches already committed in the same invocation stay committed: the
// cursor only ever reflects the last successfully recorded window.
func (s *Service) Run(ctx context.Context) error {
	start := s.clock.Now()

	windowSize, ok, err := s.config.WindowSize(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigRetrieval, err)
	}
	if !ok {
		s.events <- ConfigMissing{}
		return nil
	}

	_, ok, err = s.cursors.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCursorRetrieval, err)
	}
	if !ok {
		return s.bootstrap(ctx)
	}

	processed := 0
	for processed < s.maxTranches {
		// Reload the cursor so this tranche observes the previous one's advance.
		cursor, ok, err := s.cursors.Cursor(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCursorRetrieval, err)
		}
		if !ok {
			return fmt.Errorf("%w: cursor disappeared mid-invocation", ErrCursorRetrieval)
		}

		window := NextWindow(cursor, windowSize)

		highest, hasBlocks, err := s.log.HighestBlock(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLogQuery, err)
		}
		if !hasBlocks || !IsWindowComplete(window, highest) {
			// Backpressure, not an error: the log hasn't indexed past the
			// window yet. Already-committed tranches stay committed.
			s.events <- WindowDeferred{Window: window, HighestBlock: highest}
			break
		}

		if err := s.processWindow(ctx, window); err != nil {
			return err
		}
		processed++
	}

	s.events <- InvocationDone{
		Windows:  processed,
		Duration: s.clock.Now().Sub(start),
	}
	return nil
}

// bootstrap seeds the cursor so the first real window starts at the earliest
// indexed transaction (or at the configured override). The first aggregation
// happens on the next invocation.
func (s *Service) bootstrap(ctx context.Context) error {
	seedBlock := s.initialBlock
	if !s.hasInitialBlock {
		lowest, ok, err := s.log.LowestBlock(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLogQuery, err)
		}
		if !ok {
			// The log is simply empty so far; retry on the next invocation.
			s.events <- BootstrapDeferred{}
			return nil
		}
		seedBlock = lowest - 1
	}

	cursor := Cursor{
		LastProcessedBlock:  seedBlock,
		LastAggregationTime: s.clock.Now(),
	}
	if err := s.cursors.SetCursor(ctx, cursor); err != nil {
		return fmt.Errorf("%w: %w", ErrCursorAdvance, err)
	}

	s.events <- BootstrapCompleted{SeededBlock: seedBlock}
	return nil
}

// processWindow aggregates one verified-complete window: write the record,
// advance the cursor, then broadcast best-effort.
func (s *Service) processWindow(ctx context.Context, window Window) error {
	transactions, err := s.log.FindRange(ctx, window.StartBlock, window.EndBlock)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLogQuery, err)
	}
	if len(transactions) == 0 {
		// Valid but suspicious: steady-state chains have continuous delegation
		// activity. A zero record is still written so the series has no gaps.
		s.events <- EmptyWindow{Window: window}
	}

	counters := Aggregate(transactions)
	record := NewSummationRecord(window, transactions, counters, s.clock.Now())

	if err := s.summations.InsertSummation(ctx, record); err != nil {
		return fmt.Errorf("%w: %w", ErrRecordInsert, err)
	}

	cursor := Cursor{
		LastProcessedBlock:  window.EndBlock,
		LastAggregationTime: s.clock.Now(),
	}
	if err := s.cursors.SetCursor(ctx, cursor); err != nil {
		return fmt.Errorf("%w: %w", ErrCursorAdvance, err)
	}

	if err := s.broadcaster.Publish(ctx, s.topic, DefaultEventName, NewWindowPayload(window, counters)); err != nil {
		// Best-effort: never escalated, never mistaken for an aggregation failure.
		s.events <- BroadcastFailed{Window: window, Err: err}
	}

	s.events <- WindowAggregated{
		Window:       window,
		Counters:     counters,
		Transactions: len(transactions),
	}
	return nil
}
