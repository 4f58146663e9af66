package effect

import (
	"log"
	"time"
)

// Scheduler runs the deferred auto-stop for timed effects. There is no
// cancellation: an explicit Stop and a timer fire both converge on the same
// idempotent StopNow path, so whichever runs second observes an inactive
// effect and does nothing.
type Scheduler struct {
	arbiter *Arbiter
	log     *log.Logger
}

func NewScheduler(arbiter *Arbiter, logger *log.Logger) *Scheduler {
	return &Scheduler{arbiter: arbiter, log: logger}
}

// ScheduleStop arranges for StopNow(e) after delay. The timer is owned by
// the scheduler, not the connection that started the effect; a disconnect
// does not cancel it.
func (s *Scheduler) ScheduleStop(e *Effect, delay time.Duration) {
	time.AfterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Printf("effect %s: deferred stop panicked: %v", e.Code(), r)
			}
		}()
		s.StopNow(e)
	})
}

// StopNow performs the real stop transition if the effect is active and
// releases its mutexes exactly once. The release is keyed off the
// transition itself, not a pre-read of the activity flag, so a stale timer
// racing an explicit stop-and-restart still pairs every stop with its
// release. Safe to call any number of times from any goroutine.
func (s *Scheduler) StopNow(e *Effect) bool {
	ok, transitioned := e.tryStopTransition()
	if transitioned {
		s.arbiter.ReleaseAll(e)
	}
	return ok
}
