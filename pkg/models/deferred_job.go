package models

import (
	"time"
)

// DeferredJob is a scheduled re-evaluation of an order whose execution was deferred
type DeferredJob struct {
	OrderID     string
	Attempt     int
	NextAttempt time.Time
	Reason      string
}
