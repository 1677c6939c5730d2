package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/zakiachsan27/CallExpert-sub000/utils"
)

// SendLimiter is an in-memory sliding-window limiter keyed by the
// authenticated party, used on the message-send route so one participant
// cannot flood a session. Intentionally memory-efficient; can be moved to
// Redis later.
type SendLimiter struct {
	max    int
	window time.Duration

	mu    sync.Mutex
	state map[string][]int64 // key -> unix nanos of recent sends
}

func NewSendLimiter(max int, window time.Duration) *SendLimiter {
	l := &SendLimiter{
		max:    max,
		window: window,
		state:  make(map[string][]int64),
	}
	go l.cleanupLoop()
	return l
}

// Allow records one send for the key and reports whether it fits the window.
func (l *SendLimiter) Allow(key string) bool {
	now := time.Now().UnixNano()
	cutoff := now - l.window.Nanoseconds()

	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.state[key]
	kept := ts[:0]
	for _, t := range ts {
		if t > cutoff {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.max {
		l.state[key] = kept
		return false
	}
	l.state[key] = append(kept, now)
	return true
}

func (l *SendLimiter) cleanupLoop() {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for range tick.C {
		cutoff := time.Now().UnixNano() - l.window.Nanoseconds()
		l.mu.Lock()
		for key, ts := range l.state {
			kept := ts[:0]
			for _, t := range ts {
				if t > cutoff {
					kept = append(kept, t)
				}
			}
			if len(kept) == 0 {
				delete(l.state, key)
			} else {
				l.state[key] = kept
			}
		}
		l.mu.Unlock()
	}
}

// Middleware applies the limit per authenticated party, falling back to the
// remote address when the route is somehow reached unauthenticated.
func (l *SendLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if id, role, ok := utils.GetParty(r); ok {
			key = string(role) + ":" + strconv.FormatUint(uint64(id), 10)
		}
		if !l.Allow(key) {
			utils.WriteJSON(w, http.StatusTooManyRequests, utils.APIResponse{
				Success: false,
				Message: "Too many messages, slow down",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
