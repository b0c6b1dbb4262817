package aggregator

import "time"

// Cursor is the durable single-record aggregation state. LastProcessedBlock
// only ever advances in exact multiples of the window size from its bootstrap
// value, and only after a window's record has been committed.
type Cursor struct {
	LastProcessedBlock  int64
	LastAggregationTime time.Time
}

// Window is a fixed-size, contiguous range of blocks treated as one
// aggregation unit. Both bounds are inclusive.
type Window struct {
	StartBlock int64
	EndBlock   int64
}

// Size returns the number of blocks the window covers.
func (w Window) Size() int64 {
	return w.EndBlock - w.StartBlock + 1
}

// NextWindow computes the window immediately following the cursor. Pure.
func NextWindow(cursor Cursor, windowSize int64) Window {
	start := cursor.LastProcessedBlock + 1
	return Window{
		StartBlock: start,
		EndBlock:   start + windowSize - 1,
	}
}

// IsWindowComplete reports whether a window's data is final given the log's
// high-water mark. The ingestion pipeline writes blocks monotonically and
// never skips, so the presence of block endBlock+1 proves every transaction
// belonging to blocks <= endBlock has been durably written.
func IsWindowComplete(window Window, highestIndexed int64) bool {
	return highestIndexed >= window.EndBlock+1
}
