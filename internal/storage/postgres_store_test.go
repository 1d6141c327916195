package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreWithDB(db), mock
}

func TestPostgresCreateBooking(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO bookings`)).
		WithArgs("rider-1", "pickup st", 1.0, 2.0, "dest st", 3.0, 4.0, "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("bk-1", now, now))

	b, err := booking.New("rider-1", models.Place{Address: "pickup st", Coord: models.Coord{Lat: 1, Lng: 2}},
		models.Place{Address: "dest st", Coord: models.Coord{Lat: 3, Lng: 4}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := store.CreateBooking(context.Background(), b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.ID != "bk-1" {
		t.Fatalf("expected id from insert, got %q", b.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGetBookingNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.GetBooking(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresGuardedAccept(t *testing.T) {
	store, mock := newMockStore(t)
	driver := "driver-1"

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings SET status=$1, updated_at=$2, driver_id=$3 WHERE id=$4 AND status=$5 AND driver_id IS NULL`)).
		WithArgs("accepted", sqlmock.AnyArg(), "driver-1", "bk-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows, err := store.GuardedTransition(context.Background(), "bk-1", booking.StatusPending, Update{
		NewStatus:         booking.StatusAccepted,
		AssignDriver:      &driver,
		RequireUnassigned: true,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected 1 row, got %d", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGuardedTransitionLostRace(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4 AND driver_id=$5`)).
		WithArgs("en_route", sqlmock.AnyArg(), "bk-1", "accepted", "driver-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows, err := store.GuardedTransition(context.Background(), "bk-1", booking.StatusAccepted, Update{
		NewStatus:     booking.StatusEnRoute,
		RequireDriver: "driver-1",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if rows != 0 {
		t.Fatalf("lost race must report zero rows, got %d", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresListPending(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	cols := []string{"id", "requester_id", "driver_id", "pickup_address", "pickup_lat", "pickup_lng",
		"dest_address", "dest_lat", "dest_lng", "status", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("bk-2", "rider-2", nil, "p2", 1.0, 2.0, "d2", 3.0, 4.0, "pending", now, now).
			AddRow("bk-1", "rider-1", nil, "p1", 1.0, 2.0, "d1", 3.0, 4.0, "pending", now.Add(-time.Minute), now))

	out, err := store.ListPending(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 || out[0].ID != "bk-2" {
		t.Fatalf("unexpected result: %+v", out)
	}
	if out[0].DriverID != nil {
		t.Fatal("pending row must not carry a driver id")
	}
}
