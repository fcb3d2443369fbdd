package realtime

import "time"

// maxBackoffShift keeps the doubling from overflowing time.Duration.
const maxBackoffShift = 30

// reconnectDelay returns base * 2^(attempt-1) for attempt >= 1.
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return base * time.Duration(1<<uint(shift))
}

// stopper is satisfied by *time.Timer.
type stopper interface {
	Stop() bool
}

// timerFunc schedules f after d. Replaced in tests.
type timerFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}
