package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"laptopRent/internal/rental/availability"
	"laptopRent/internal/rental/fsm"
	"laptopRent/internal/rental/lifecycle"
)

type bookingRow struct {
	ID                int64          `db:"id"`
	RenterID          int64          `db:"renter_id"`
	LaptopID          int64          `db:"laptop_id"`
	StaffID           sql.NullInt64  `db:"staff_id"`
	StartAt           time.Time      `db:"start_at"`
	EndAt             time.Time      `db:"end_at"`
	ReturnDueAt       sql.NullTime   `db:"return_due_at"`
	TotalPrice        int64          `db:"total_price"`
	Status            string         `db:"status"`
	IDDocumentURL     sql.NullString `db:"id_document_url"`
	AffiliationDocURL sql.NullString `db:"affiliation_doc_url"`
	RejectionReason   sql.NullString `db:"rejection_reason"`
	Version           int64          `db:"version"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r bookingRow) toBooking() lifecycle.Booking {
	b := lifecycle.Booking{
		ID:                r.ID,
		RenterID:          r.RenterID,
		LaptopID:          r.LaptopID,
		StartAt:           r.StartAt,
		EndAt:             r.EndAt,
		TotalPrice:        r.TotalPrice,
		Status:            r.Status,
		IDDocumentURL:     r.IDDocumentURL.String,
		AffiliationDocURL: r.AffiliationDocURL.String,
		RejectionReason:   r.RejectionReason.String,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.StaffID.Valid {
		id := r.StaffID.Int64
		b.StaffID = &id
	}
	if r.ReturnDueAt.Valid {
		due := r.ReturnDueAt.Time
		b.ReturnDueAt = &due
	}
	return b
}

const bookingSelect = `SELECT b.id, b.renter_id, b.laptop_id, b.staff_id, b.start_at, b.end_at, b.return_due_at,
	b.total_price, s.name AS status, b.id_document_url, b.affiliation_doc_url, b.rejection_reason,
	b.version, b.created_at, b.updated_at
	FROM bookings b JOIN booking_statuses s ON s.id = b.status_id`

// BookingsRepo persists bookings and their status history.
type BookingsRepo struct {
	db       *sqlx.DB
	statuses *StatusCatalog
}

// NewBookingsRepo constructs a BookingsRepo.
func NewBookingsRepo(db *sqlx.DB, statuses *StatusCatalog) *BookingsRepo {
	return &BookingsRepo{db: db, statuses: statuses}
}

// Get loads a booking by id.
func (r *BookingsRepo) Get(ctx context.Context, id int64) (lifecycle.Booking, error) {
	var row bookingRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(bookingSelect+` WHERE b.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Booking{}, ErrNotFound
	}
	if err != nil {
		return lifecycle.Booking{}, err
	}
	return row.toBooking(), nil
}

// Exists reports whether a booking with id exists.
func (r *BookingsRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM bookings WHERE id = ?`), id); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByStatus returns bookings in status, oldest first.
func (r *BookingsRepo) ListByStatus(ctx context.Context, status string, limit, offset int) ([]lifecycle.Booking, error) {
	var rows []bookingRow
	query := bookingSelect + ` WHERE s.name = ? ORDER BY b.updated_at ASC, b.id ASC LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), status, limit, offset); err != nil {
		return nil, err
	}
	out := make([]lifecycle.Booking, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toBooking())
	}
	return out, nil
}

// LaptopCommitted reports an active booking on the laptop ending today or later.
func (r *BookingsRepo) LaptopCommitted(ctx context.Context, laptopID int64, today time.Time) (bool, error) {
	return laptopCommitted(ctx, r.db, laptopID, today)
}

// RenterHasOpenRental reports an active booking of the renter ending today or later.
func (r *BookingsRepo) RenterHasOpenRental(ctx context.Context, renterID int64, today time.Time) (bool, error) {
	return renterHasOpenRental(ctx, r.db, renterID, today)
}

// HasPendingRequest reports a pending request by the renter for the laptop.
func (r *BookingsRepo) HasPendingRequest(ctx context.Context, renterID, laptopID int64) (bool, error) {
	return hasPendingRequest(ctx, r.db, renterID, laptopID)
}

// CreateGuarded inserts a pending booking after repeating the availability
// checks under row locks on the renter and the laptop. A refusal returns the
// decision together with ErrSlotTaken.
func (r *BookingsRepo) CreateGuarded(ctx context.Context, b lifecycle.Booking, today time.Time) (id int64, decision availability.Decision, err error) {
	pendingID, err := r.statuses.GetStatusID(ctx, fsm.StatusPending)
	if err != nil {
		return 0, availability.Decision{}, err
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, availability.Decision{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockRenter(ctx, tx, b.RenterID, b.CreatedAt); err != nil {
		return 0, availability.Decision{}, err
	}
	window := lifecycle.Window{Start: b.StartAt, End: b.EndAt}
	locked := lockedReader{q: tx, window: window}
	decision, err = availability.Evaluate(ctx, locked, locked, b.RenterID, b.LaptopID, today)
	if err != nil {
		return 0, availability.Decision{}, err
	}
	if !decision.Allowed {
		err = ErrSlotTaken
		return 0, decision, err
	}

	id, err = insertReturningID(ctx, tx, `INSERT INTO bookings (renter_id, laptop_id, start_at, end_at, total_price, status_id, version, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		b.RenterID, b.LaptopID, b.StartAt, b.EndAt, b.TotalPrice, pendingID, 0, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			err = ErrSlotTaken
			return 0, availability.Decision{Reason: availability.ReasonDuplicatePending}, err
		}
		return 0, availability.Decision{}, err
	}
	if err = insertEvents(ctx, tx, id, b.Events()); err != nil {
		return 0, availability.Decision{}, err
	}
	if err = tx.Commit(); err != nil {
		return 0, availability.Decision{}, err
	}
	return id, decision, nil
}

// Save writes the booking if its row still carries expectedVersion. The
// status, price and audit fields change in one compare-and-swap.
func (r *BookingsRepo) Save(ctx context.Context, b *lifecycle.Booking, expectedVersion int64) (err error) {
	statusID, err := r.statuses.GetStatusID(ctx, b.Status)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE bookings SET status_id = ?, staff_id = ?, return_due_at = ?, total_price = ?,
		id_document_url = ?, affiliation_doc_url = ?, rejection_reason = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`),
		statusID, nullInt64(b.StaffID), nullTime(b.ReturnDueAt), b.TotalPrice,
		nullString(b.IDDocumentURL), nullString(b.AffiliationDocURL), nullString(b.RejectionReason), b.UpdatedAt,
		b.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err = sqlx.GetContext(ctx, tx, &exists, tx.Rebind(`SELECT COUNT(*) FROM bookings WHERE id = ?`), b.ID); err != nil {
			return err
		}
		if exists == 0 {
			err = ErrNotFound
		} else {
			err = ErrConflict
		}
		return err
	}
	if err = insertEvents(ctx, tx, b.ID, b.Events()); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	b.Version = expectedVersion + 1
	b.ClearEvents()
	return nil
}

// lockedReader answers availability questions inside a transaction. On top
// of the plain checks it treats a pending request overlapping the window as
// committing the laptop, so two concurrent requests cannot both land.
type lockedReader struct {
	q      sqlx.ExtContext
	window lifecycle.Window
}

func (l lockedReader) IsBookable(ctx context.Context, laptopID int64) (bool, error) {
	return laptopBookable(ctx, l.q, laptopID, true)
}

func (l lockedReader) LaptopCommitted(ctx context.Context, laptopID int64, today time.Time) (bool, error) {
	committed, err := laptopCommitted(ctx, l.q, laptopID, today)
	if err != nil || committed {
		return committed, err
	}
	return pendingOverlap(ctx, l.q, laptopID, l.window)
}

func (l lockedReader) RenterHasOpenRental(ctx context.Context, renterID int64, today time.Time) (bool, error) {
	return renterHasOpenRental(ctx, l.q, renterID, today)
}

func (l lockedReader) HasPendingRequest(ctx context.Context, renterID, laptopID int64) (bool, error) {
	return hasPendingRequest(ctx, l.q, renterID, laptopID)
}

// lockRenter takes the renter's row in renter_locks, creating it on first
// use. The upsert holds an exclusive row lock until the transaction ends on
// both drivers, so concurrent requests by one renter queue here.
func lockRenter(ctx context.Context, q sqlx.ExtContext, renterID int64, at time.Time) error {
	query := `INSERT INTO renter_locks (renter_id, locked_at) VALUES (?, ?) ON DUPLICATE KEY UPDATE locked_at = VALUES(locked_at)`
	if q.DriverName() == "pgx" {
		query = `INSERT INTO renter_locks (renter_id, locked_at) VALUES (?, ?) ON CONFLICT (renter_id) DO UPDATE SET locked_at = EXCLUDED.locked_at`
	}
	if _, err := q.ExecContext(ctx, q.Rebind(query), renterID, at); err != nil {
		return fmt.Errorf("lock renter %d: %w", renterID, err)
	}
	return nil
}

func countIn(ctx context.Context, q sqlx.ExtContext, query string, args ...interface{}) (bool, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return false, err
	}
	var n int
	if err := sqlx.GetContext(ctx, q, &n, q.Rebind(query), args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

func laptopCommitted(ctx context.Context, q sqlx.ExtContext, laptopID int64, today time.Time) (bool, error) {
	return countIn(ctx, q, `SELECT COUNT(*) FROM bookings b JOIN booking_statuses s ON s.id = b.status_id
		WHERE b.laptop_id = ? AND s.name IN (?) AND COALESCE(b.return_due_at, b.end_at) >= ?`,
		laptopID, fsm.ActiveStatuses(), today)
}

func renterHasOpenRental(ctx context.Context, q sqlx.ExtContext, renterID int64, today time.Time) (bool, error) {
	return countIn(ctx, q, `SELECT COUNT(*) FROM bookings b JOIN booking_statuses s ON s.id = b.status_id
		WHERE b.renter_id = ? AND s.name IN (?) AND COALESCE(b.return_due_at, b.end_at) >= ?`,
		renterID, fsm.ActiveStatuses(), today)
}

func hasPendingRequest(ctx context.Context, q sqlx.ExtContext, renterID, laptopID int64) (bool, error) {
	return countIn(ctx, q, `SELECT COUNT(*) FROM bookings b JOIN booking_statuses s ON s.id = b.status_id
		WHERE b.renter_id = ? AND b.laptop_id = ? AND s.name = ?`,
		renterID, laptopID, fsm.StatusPending)
}

func pendingOverlap(ctx context.Context, q sqlx.ExtContext, laptopID int64, w lifecycle.Window) (bool, error) {
	return countIn(ctx, q, `SELECT COUNT(*) FROM bookings b JOIN booking_statuses s ON s.id = b.status_id
		WHERE b.laptop_id = ? AND s.name = ? AND b.start_at < ? AND b.end_at > ?`,
		laptopID, fsm.StatusPending, w.End, w.Start)
}

func insertEvents(ctx context.Context, q sqlx.ExtContext, bookingID int64, events []lifecycle.StatusEvent) error {
	for _, e := range events {
		if _, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO booking_status_events (booking_id, status, actor_id, note, created_at) VALUES (?,?,?,?,?)`),
			bookingID, e.Status, nullInt64(e.ActorID), e.Note, e.At); err != nil {
			return err
		}
	}
	return nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
