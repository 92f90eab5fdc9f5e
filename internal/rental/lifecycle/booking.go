package lifecycle

import (
	"time"

	"laptopRent/internal/rental/fsm"
)

// StatusEvent records a single status change on the booking timeline.
type StatusEvent struct {
	Status  string
	At      time.Time
	ActorID *int64
	Note    string
}

// Booking is one rental agreement between a renter and a laptop.
type Booking struct {
	ID       int64
	RenterID int64
	LaptopID int64
	StaffID  *int64
	StartAt  time.Time
	EndAt    time.Time
	// ReturnDueAt extends the rental past EndAt when staff agree to it.
	ReturnDueAt       *time.Time
	TotalPrice        int64
	Status            string
	IDDocumentURL     string
	AffiliationDocURL string
	RejectionReason   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	// Version is the optimistic-lock counter read with the row.
	Version int64

	events []StatusEvent
}

// NewBooking builds a pending booking for the requested window.
func NewBooking(renterID, laptopID int64, window Window, dailyRate int64, now time.Time) (Booking, error) {
	if dailyRate < 0 {
		return Booking{}, ErrNegativePrice
	}
	b := Booking{
		RenterID:   renterID,
		LaptopID:   laptopID,
		StartAt:    window.Start,
		EndAt:      window.End,
		TotalPrice: dailyRate * int64(window.Days()),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	b.appendStatus(fsm.StatusPending, now, nil, "booking requested")
	return b, nil
}

// Events returns the status changes made since the booking was loaded.
func (b *Booking) Events() []StatusEvent {
	return b.events
}

// ClearEvents drops recorded events once they have been persisted.
func (b *Booking) ClearEvents() {
	b.events = nil
}

// HasDocuments reports whether both supporting documents are attached.
func (b *Booking) HasDocuments() bool {
	return b.IDDocumentURL != "" && b.AffiliationDocURL != ""
}

// DueAt returns the effective return deadline.
func (b *Booking) DueAt() time.Time {
	if b.ReturnDueAt != nil {
		return *b.ReturnDueAt
	}
	return b.EndAt
}

// AdoptPaidAmount stores a confirmed payment amount when no price was set.
// A non-zero price is never replaced.
func (b *Booking) AdoptPaidAmount(amount int64) bool {
	if b.TotalPrice != 0 || amount <= 0 {
		return false
	}
	b.TotalPrice = amount
	return true
}

func (b *Booking) appendStatus(status string, at time.Time, actor *int64, note string) {
	b.Status = status
	b.UpdatedAt = at
	b.events = append(b.events, StatusEvent{Status: status, At: at, ActorID: actor, Note: note})
}

// Window is the requested rental period.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the billable day count, rounded up and never below one.
func (w Window) Days() int {
	d := w.End.Sub(w.Start)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}

// Validate checks the window against the first bookable day.
func (w Window) Validate(today time.Time) error {
	if w.Start.IsZero() || w.End.IsZero() {
		return ErrInvalidWindow
	}
	if !w.End.After(w.Start) {
		return ErrInvalidWindow
	}
	if w.Start.Before(today) {
		return ErrInvalidWindow
	}
	return nil
}
