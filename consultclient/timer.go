package consultclient

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/zakiachsan27/CallExpert-sub000/consult"
	"github.com/zakiachsan27/CallExpert-sub000/models"
)

// Clock abstracts wall time so the countdown can be tested without sleeping.
type Clock interface {
	Now() time.Time
	// Tick returns a channel firing every d, plus a stop function.
	Tick(d time.Duration) (<-chan time.Time, func())
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Tick(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// remainingLocked derives the remaining seconds from server-recorded join
// timestamps. It is a pure function of the session snapshot and the clock:
// the countdown is never decremented, so missed ticks (backgrounding, device
// sleep) cannot make the two parties' displays drift apart.
func (f *Facade) remainingLocked() int {
	total := int(f.durationMin) * 60
	if f.localEnded {
		return 0
	}
	if f.session == nil {
		return total
	}
	switch f.session.Status {
	case models.StatusEnded:
		return 0
	case models.StatusActive:
		started := f.session.StartedAt()
		if started == nil {
			return total
		}
		remaining := total - int(f.clock.Now().Sub(*started)/time.Second)
		if remaining < 0 {
			return 0
		}
		return remaining
	default:
		// waiting_* / not_started: the countdown has not begun
		return total
	}
}

// startTimerLocked spawns the tick loop once. Caller holds f.mu.
func (f *Facade) startTimerLocked() {
	if f.timerStop != nil {
		return
	}
	stop := make(chan struct{})
	f.timerStop = stop
	go f.runTimer(stop)
}

// stopTimerLocked halts the tick loop. Caller holds f.mu.
func (f *Facade) stopTimerLocked() {
	if f.timerStop != nil {
		close(f.timerStop)
		f.timerStop = nil
	}
}

func (f *Facade) runTimer(stop chan struct{}) {
	tick, cancel := f.clock.Tick(time.Second)
	defer cancel()
	for {
		select {
		case <-stop:
			return
		case <-f.done:
			return
		case <-tick:
			f.mu.Lock()
			expired := f.session != nil && f.session.Status == models.StatusActive && f.remainingLocked() <= 0
			f.mu.Unlock()
			if expired {
				f.expire()
				return
			}
		}
	}
}

// expire issues the timeout end exactly once, retrying a single time on
// failure. Whatever the server outcome, the local view ends: the countdown
// pins at zero and chat is disabled, so the user is never stuck mid-expiry.
func (f *Facade) expire() {
	f.endOnce.Do(func() {
		f.mu.Lock()
		bookingID := f.bookingID
		f.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		session, err := f.lifecycle.End(ctx, bookingID, models.EndedByTimeout, f.caller)
		if err != nil && !errors.Is(err, consult.ErrAlreadyEnded) {
			log.Printf("[ConsultClient] timeout end for booking %d failed, retrying: %v", bookingID, err)
			session, err = f.lifecycle.End(ctx, bookingID, models.EndedByTimeout, f.caller)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		f.stopTimerLocked()
		if err != nil && !errors.Is(err, consult.ErrAlreadyEnded) {
			log.Printf("[ConsultClient] timeout end for booking %d gave up: %v", bookingID, err)
			f.localEnded = true
			return
		}
		if session != nil {
			f.session = session
		}
	})
}
