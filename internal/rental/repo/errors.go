package repo

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates missing entities in the rental repositories.
	ErrNotFound = errors.New("rental: not found")
	// ErrConflict is returned when a row changed since it was read.
	ErrConflict = errors.New("rental: concurrent modification")
	// ErrSlotTaken is returned when a locked re-check refuses a new booking.
	ErrSlotTaken = errors.New("rental: slot taken")
)

const (
	mysqlDuplicateEntry = 1062
	pgUniqueViolation   = "23505"
)

func isUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == pgUniqueViolation
	}
	return false
}
