package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ambulance-dispatch/internal/booking"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing handle; used by tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const bookingColumns = `id, requester_id, driver_id, pickup_address, pickup_lat, pickup_lng,
	dest_address, dest_lat, dest_lng, status, created_at, updated_at`

func (p *PostgresStore) CreateBooking(ctx context.Context, b *booking.Booking) error {
	return p.db.QueryRowContext(ctx, `INSERT INTO bookings(requester_id, pickup_address, pickup_lat, pickup_lng, dest_address, dest_lat, dest_lng, status)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		b.RequesterID, b.Pickup.Address, b.Pickup.Coord.Lat, b.Pickup.Coord.Lng,
		b.Destination.Address, b.Destination.Coord.Lat, b.Destination.Coord.Lng,
		b.Status.String()).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*booking.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (p *PostgresStore) ListPending(ctx context.Context) ([]*booking.Booking, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status='pending' AND driver_id IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GuardedTransition is a single conditional UPDATE; the WHERE clause carries
// the status guard and, when requested, the driver guard. Zero rows affected
// means the precondition no longer held at write time.
func (p *PostgresStore) GuardedTransition(ctx context.Context, id string, expected booking.Status, upd Update) (int64, error) {
	set := []string{"status=$1", "updated_at=$2"}
	args := []any{upd.NewStatus.String(), time.Now().UTC()}
	if upd.AssignDriver != nil {
		args = append(args, *upd.AssignDriver)
		set = append(set, "driver_id=$"+strconv.Itoa(len(args)))
	}

	args = append(args, id)
	where := []string{"id=$" + strconv.Itoa(len(args))}
	args = append(args, expected.String())
	where = append(where, "status=$"+strconv.Itoa(len(args)))
	if upd.RequireUnassigned {
		where = append(where, "driver_id IS NULL")
	}
	if upd.RequireDriver != "" {
		args = append(args, upd.RequireDriver)
		where = append(where, "driver_id=$"+strconv.Itoa(len(args)))
	}

	res, err := p.db.ExecContext(ctx,
		"UPDATE bookings SET "+strings.Join(set, ", ")+" WHERE "+strings.Join(where, " AND "),
		args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(r rowScanner) (*booking.Booking, error) {
	var b booking.Booking
	var driverID sql.NullString
	var status string
	if err := r.Scan(&b.ID, &b.RequesterID, &driverID,
		&b.Pickup.Address, &b.Pickup.Coord.Lat, &b.Pickup.Coord.Lng,
		&b.Destination.Address, &b.Destination.Coord.Lat, &b.Destination.Coord.Lng,
		&status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if driverID.Valid {
		b.DriverID = &driverID.String
	}
	b.Status = booking.Status(status)
	return &b, nil
}
