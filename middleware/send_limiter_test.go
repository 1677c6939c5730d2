package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zakiachsan27/CallExpert-sub000/models"
	"github.com/zakiachsan27/CallExpert-sub000/utils"
)

func TestSendLimiterAllowWithinWindow(t *testing.T) {
	l := NewSendLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.Allow("user:101") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("user:101") {
		t.Fatal("request over the limit should be rejected")
	}
}

func TestSendLimiterKeysAreIndependent(t *testing.T) {
	l := NewSendLimiter(1, time.Minute)

	if !l.Allow("user:101") {
		t.Fatal("first key should be allowed")
	}
	if !l.Allow("expert:202") {
		t.Fatal("second key must not share the first key's budget")
	}
	if l.Allow("user:101") {
		t.Fatal("first key should now be exhausted")
	}
}

func TestSendLimiterWindowSlides(t *testing.T) {
	l := NewSendLimiter(2, 50*time.Millisecond)

	l.Allow("user:101")
	l.Allow("user:101")
	if l.Allow("user:101") {
		t.Fatal("limit should be hit")
	}

	time.Sleep(70 * time.Millisecond)
	if !l.Allow("user:101") {
		t.Fatal("expired entries should free the window")
	}
}

func TestSendLimiterMiddlewareReturns429(t *testing.T) {
	l := NewSendLimiter(1, time.Minute)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/consult/42/messages", nil)
	ctx := context.WithValue(req.Context(), utils.PartyIDKey, uint(101))
	ctx = context.WithValue(ctx, utils.PartyRoleKey, models.PartyUser)
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429", rec.Code)
	}
}

func TestSendLimiterMiddlewareSeparatesParties(t *testing.T) {
	l := NewSendLimiter(1, time.Minute)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(id uint, role models.PartyType) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/consult/42/messages", nil)
		ctx := context.WithValue(req.Context(), utils.PartyIDKey, id)
		ctx = context.WithValue(ctx, utils.PartyRoleKey, role)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))
		return rec.Code
	}

	if got := send(101, models.PartyUser); got != http.StatusOK {
		t.Fatalf("user first send: got %d, want 200", got)
	}
	if got := send(202, models.PartyExpert); got != http.StatusOK {
		t.Fatalf("expert first send: got %d, want 200", got)
	}
	if got := send(101, models.PartyUser); got != http.StatusTooManyRequests {
		t.Fatalf("user second send: got %d, want 429", got)
	}
}

func TestSendLimiterConcurrentAccess(t *testing.T) {
	l := NewSendLimiter(100, time.Minute)
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				l.Allow(fmt.Sprintf("user:%d", g))
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	if !l.Allow("user:0") {
		t.Fatal("50 sends should leave room under a limit of 100")
	}
}
