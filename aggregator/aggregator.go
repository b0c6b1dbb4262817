package aggregator

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for failure cases
var (
	ErrConfigRetrieval = errors.New("aggregation config retrieval failed")
	ErrCursorRetrieval = errors.New("cursor retrieval failed")
	ErrCursorAdvance   = errors.New("cursor advance failed")
	ErrLogQuery        = errors.New("transaction log query failed")
	ErrRecordInsert    = errors.New("summation record insert failed")
)

// Default configuration values
const (
	// DefaultMaxTranches bounds how many windows one invocation may close.
	DefaultMaxTranches = 3
	// DefaultTopic is the broadcast topic for completed windows.
	DefaultTopic = "delegation.windows"
	// DefaultEventName names the completed-window broadcast event.
	DefaultEventName = "window.completed"
)

// TransactionLog provides read-only access to the delegation transaction log
// ---------------------------------------------------------------------------
type TransactionLog interface {
	// FindRange returns all transactions with block numbers in [startBlock, endBlock],
	// ordered by block number then transaction ID.
	FindRange(ctx context.Context, startBlock, endBlock int64) ([]DelegationTransaction, error)
	// LowestBlock returns the lowest indexed block number. ok is false when the log is empty.
	LowestBlock(ctx context.Context) (block int64, ok bool, err error)
	// HighestBlock returns the highest indexed block number. ok is false when the log is empty.
	HighestBlock(ctx context.Context) (block int64, ok bool, err error)
}

// CursorStore persists the singleton aggregation cursor
type CursorStore interface {
	// Cursor returns the current cursor. ok is false when no cursor has been seeded yet.
	Cursor(ctx context.Context) (cursor Cursor, ok bool, err error)
	// SetCursor persists the cursor, creating or replacing the singleton row.
	SetCursor(ctx context.Context, cursor Cursor) error
}

// SummationStore appends completed window records
type SummationStore interface {
	// InsertSummation writes one record. Inserting an already-recorded block range
	// must be a no-op so that a crash between record insert and cursor advance
	// heals idempotently on the next invocation.
	InsertSummation(ctx context.Context, record SummationRecord) error
}

// ConfigSource supplies the runtime aggregation settings
type ConfigSource interface {
	// WindowSize returns the configured blocks-per-window. ok is false when the
	// setting has not been provisioned yet, which defers aggregation.
	WindowSize(ctx context.Context) (size int64, ok bool, err error)
}

// Broadcaster publishes completed windows to subscribers, best-effort
type Broadcaster interface {
	Publish(ctx context.Context, topic, event string, payload any) error
}

// Clock abstracts time for production and testing
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

// Event represents an engine lifecycle event
// ------------------------------------------
type Event any

// BootstrapDeferred is emitted when no cursor exists and the log is still empty.
type BootstrapDeferred struct{}

// BootstrapCompleted is emitted after the cursor has been seeded; no window is
// aggregated in the same invocation.
type BootstrapCompleted struct {
	SeededBlock int64
}

// ConfigMissing is emitted when the window size has not been provisioned yet.
type ConfigMissing struct{}

// WindowDeferred is emitted when the log has not indexed past the target window.
type WindowDeferred struct {
	Window       Window
	HighestBlock int64
}

// EmptyWindow is emitted for a verified-complete window with zero transactions.
// A zero-valued record is still written; this is a data-quality warning.
type EmptyWindow struct {
	Window Window
}

// WindowAggregated is emitted after a window's record is committed and the
// cursor advanced.
type WindowAggregated struct {
	Window       Window
	Counters     Counters
	Transactions int
}

// BroadcastFailed is emitted when publishing a completed window fails. The
// tranche it belongs to remains committed.
type BroadcastFailed struct {
	Window Window
	Err    error
}

// InvocationDone is emitted at the end of every successful invocation.
type InvocationDone struct {
	Windows  int
	Duration time.Duration
}
