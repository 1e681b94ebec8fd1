package kawasaki

import "time"

// DefaultProgressInterval is the byte spacing between progress reports.
const DefaultProgressInterval int64 = 10 * 1024

// ProgressTracker turns the running byte count of the decoded backup file
// into interval-boundary progress events. Each boundary is reported exactly
// once and in increasing order; a boundary is never reported before that
// many bytes have been written.
//
// A tracker is owned by the streaming loop and is not safe for concurrent
// use.
type ProgressTracker struct {
	interval int64
	written  int64
	reported int64

	startTime time.Time
	callback  func(bytesWritten int64)
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker(callback func(int64), interval int64) *ProgressTracker {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	return &ProgressTracker{
		interval:  interval,
		startTime: time.Now(),
		callback:  callback,
	}
}

// Add records n more bytes written to the backup file and invokes the
// callback once for every interval boundary the new total crosses.
func (pt *ProgressTracker) Add(n int64) {
	pt.written += n

	for pt.written >= pt.reported+pt.interval {
		pt.reported += pt.interval
		if pt.callback != nil {
			pt.callback(pt.reported)
		}
	}
}

// Total returns the bytes written so far.
func (pt *ProgressTracker) Total() int64 {
	return pt.written
}

// Complete marks the transfer as finished and returns its duration.
func (pt *ProgressTracker) Complete() time.Duration {
	return time.Since(pt.startTime)
}
