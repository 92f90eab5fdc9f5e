package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Laptop listing states this module reads or writes. Listings are managed
// by the catalogue service; handover and return flip rented/available.
const (
	LaptopAvailable = "available"
	LaptopRented    = "rented"
)

// Laptop represents the laptops table.
type Laptop struct {
	ID        int64  `db:"id"`
	OwnerID   int64  `db:"owner_id"`
	Title     string `db:"title"`
	DailyRate int64  `db:"daily_rate"`
	Status    string `db:"status"`
}

// LaptopsRepo provides access to laptop listings.
type LaptopsRepo struct {
	db *sqlx.DB
}

// NewLaptopsRepo constructs a LaptopsRepo.
func NewLaptopsRepo(db *sqlx.DB) *LaptopsRepo {
	return &LaptopsRepo{db: db}
}

// Get loads a laptop by id.
func (r *LaptopsRepo) Get(ctx context.Context, id int64) (Laptop, error) {
	var l Laptop
	err := r.db.GetContext(ctx, &l, r.db.Rebind(`SELECT id, owner_id, title, daily_rate, status FROM laptops WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Laptop{}, ErrNotFound
	}
	return l, err
}

// IsBookable reports whether the listing is open for requests. Unknown
// laptops are simply not bookable.
func (r *LaptopsRepo) IsBookable(ctx context.Context, id int64) (bool, error) {
	return laptopBookable(ctx, r.db, id, false)
}

// DailyRate returns the listing price per day.
func (r *LaptopsRepo) DailyRate(ctx context.Context, id int64) (int64, error) {
	l, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return l.DailyRate, nil
}

// SetStatus updates the listing state.
func (r *LaptopsRepo) SetStatus(ctx context.Context, id int64, status string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE laptops SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func laptopBookable(ctx context.Context, q sqlx.ExtContext, id int64, lock bool) (bool, error) {
	query := `SELECT status FROM laptops WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	var status string
	err := sqlx.GetContext(ctx, q, &status, q.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == LaptopAvailable, nil
}
