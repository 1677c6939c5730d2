package consult

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zakiachsan27/CallExpert-sub000/models"
	"github.com/zakiachsan27/CallExpert-sub000/realtime"
)

const (
	testUserID   = uint(101)
	testExpertID = uint(202)
)

var (
	asUser   = Party{ID: testUserID, Type: models.PartyUser}
	asExpert = Party{ID: testExpertID, Type: models.PartyExpert}
)

func setupController(t *testing.T) (*Controller, *realtime.Hub, uint) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.Booking{}, &models.ConsultSession{}, &models.ConsultMessage{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	booking := models.Booking{
		UserID:              testUserID,
		ExpertID:            testExpertID,
		SessionTypeDuration: 30,
	}
	if err := db.Create(&booking).Error; err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	hub := realtime.NewHub()
	return NewController(db, hub, NewGormDirectory(db)), hub, booking.ID
}

func TestStartOrJoinFirstPartyWaits(t *testing.T) {
	ctrl, _, bookingID := setupController(t)

	session, err := ctrl.StartOrJoin(context.Background(), bookingID, asUser)
	if err != nil {
		t.Fatalf("StartOrJoin: %v", err)
	}
	if session.Status != models.StatusWaitingExpert {
		t.Fatalf("expected waiting_expert, got %s", session.Status)
	}
	if session.UserJoinedAt == nil {
		t.Fatal("user join timestamp not recorded")
	}
	if session.ExpertJoinedAt != nil {
		t.Fatal("expert join timestamp should be empty")
	}
}

func TestStartOrJoinSymmetricWaiting(t *testing.T) {
	ctrl, _, bookingID := setupController(t)

	session, err := ctrl.StartOrJoin(context.Background(), bookingID, asExpert)
	if err != nil {
		t.Fatalf("StartOrJoin: %v", err)
	}
	if session.Status != models.StatusWaitingUser {
		t.Fatalf("expected waiting_user when expert joins first, got %s", session.Status)
	}
}

func TestStartOrJoinBothPartiesActivate(t *testing.T) {
	ctrl, _, bookingID := setupController(t)
	ctx := context.Background()

	if _, err := ctrl.StartOrJoin(ctx, bookingID, asUser); err != nil {
		t.Fatalf("user join: %v", err)
	}
	session, err := ctrl.StartOrJoin(ctx, bookingID, asExpert)
	if err != nil {
		t.Fatalf("expert join: %v", err)
	}
	if session.Status != models.StatusActive {
		t.Fatalf("expected active, got %s", session.Status)
	}
	started := session.StartedAt()
	if started == nil {
		t.Fatal("active session must have a start timestamp")
	}
	if !started.Equal(*session.ExpertJoinedAt) {
		t.Fatalf("start must be the later join (expert), got %v", started)
	}
}

func TestStartOrJoinIdempotentTimestamp(t *testing.T) {
	ctrl, _, bookingID := setupController(t)
	ctx := context.Background()

	first, err := ctrl.StartOrJoin(ctx, bookingID, asUser)
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	second, err := ctrl.StartOrJoin(ctx, bookingID, asUser)
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if !first.UserJoinedAt.Equal(*second.UserJoinedAt) {
		t.Fatalf("re-join overwrote the join timestamp: %v vs %v", first.UserJoinedAt, second.UserJoinedAt)
	}
}

func TestStartOrJoinRejectsStranger(t *testing.T) {
	ctrl, _, bookingID := setupController(t)

	stranger := Party{ID: 999, Type: models.PartyUser}
	if _, err := ctrl.StartOrJoin(context.Background(), bookingID, stranger); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestStartOrJoinUnknownBooking(t *testing.T) {
	ctrl, _, _ := setupController(t)

	if _, err := ctrl.StartOrJoin(context.Background(), 9999, asUser); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("expected ErrBookingNotFound, got %v", err)
	}
}

func TestEndRecordsReason(t *testing.T) {
	ctrl, _, bookingID := setupController(t)
	ctx := context.Background()

	if _, err := ctrl.StartOrJoin(ctx, bookingID, asUser); err != nil {
		t.Fatalf("join: %v", err)
	}
	session, err := ctrl.End(ctx, bookingID, models.EndedByExpert, asExpert)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if session.Status != models.StatusEnded {
		t.Fatalf("expected ended, got %s", session.Status)
	}
	if session.EndedAt == nil || session.EndedBy != models.EndedByExpert {
		t.Fatalf("end metadata wrong: endedAt=%v endedBy=%s", session.EndedAt, session.EndedBy)
	}
}

func TestEndIdempotent(t *testing.T) {
	ctrl, _, bookingID := setupController(t)
	ctx := context.Background()

	if _, err := ctrl.StartOrJoin(ctx, bookingID, asUser); err != nil {
		t.Fatalf("join: %v", err)
	}
	first, err := ctrl.End(ctx, bookingID, models.EndedByTimeout, asUser)
	if err != nil {
		t.Fatalf("first end: %v", err)
	}

	second, err := ctrl.End(ctx, bookingID, models.EndedByExpert, asExpert)
	if !errors.Is(err, ErrAlreadyEnded) {
		t.Fatalf("expected ErrAlreadyEnded, got %v", err)
	}
	if second.EndedBy != models.EndedByTimeout {
		t.Fatalf("redundant end overwrote ended_by: %s", second.EndedBy)
	}
	if !second.EndedAt.Equal(*first.EndedAt) {
		t.Fatalf("redundant end overwrote ended_at: %v vs %v", second.EndedAt, first.EndedAt)
	}
}

func TestEndWithoutSession(t *testing.T) {
	ctrl, _, bookingID := setupController(t)

	if _, err := ctrl.End(context.Background(), bookingID, models.EndedByUser, asUser); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	ctrl, _, bookingID := setupController(t)
	ctx := context.Background()

	if _, err := ctrl.StartOrJoin(ctx, bookingID, asUser); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := ctrl.End(ctx, bookingID, models.EndedByUser, asUser); err != nil {
		t.Fatalf("end: %v", err)
	}

	// A join after the end must not revive the session.
	session, err := ctrl.StartOrJoin(ctx, bookingID, asExpert)
	if err != nil {
		t.Fatalf("join after end: %v", err)
	}
	if session.Status != models.StatusEnded {
		t.Fatalf("ended session re-entered %s", session.Status)
	}
}

func TestStatusTransitionsBroadcast(t *testing.T) {
	ctrl, hub, bookingID := setupController(t)
	ctx := context.Background()

	sub := hub.Subscribe(bookingID)
	defer sub.Unsubscribe()

	if _, err := ctrl.StartOrJoin(ctx, bookingID, asUser); err != nil {
		t.Fatalf("user join: %v", err)
	}
	if _, err := ctrl.StartOrJoin(ctx, bookingID, asExpert); err != nil {
		t.Fatalf("expert join: %v", err)
	}
	if _, err := ctrl.End(ctx, bookingID, models.EndedByUser, asUser); err != nil {
		t.Fatalf("end: %v", err)
	}

	want := []models.SessionStatus{models.StatusWaitingExpert, models.StatusActive, models.StatusEnded}
	for _, expected := range want {
		select {
		case ev := <-sub.C:
			if ev.Type != realtime.EventStatus || ev.Session == nil {
				t.Fatalf("expected status event, got %+v", ev)
			}
			if ev.Session.Status != expected {
				t.Fatalf("expected %s push, got %s", expected, ev.Session.Status)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s push received", expected)
		}
	}
}
