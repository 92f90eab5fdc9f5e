package lifecycle

import (
	"strings"
	"time"

	"laptopRent/internal/rental/fsm"
)

// Service encapsulates the business operations of the booking lifecycle.
// It mutates the aggregate only; persistence is the caller's job.
type Service struct {
	cfg Config
}

// NewService constructs a Service instance.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// Config returns a copy of the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// ValidateWindow applies window rules for a new booking.
func (s *Service) ValidateWindow(w Window, today time.Time) error {
	if err := w.Validate(today); err != nil {
		return err
	}
	if s.cfg.MaxRentalDays > 0 && w.Days() > s.cfg.MaxRentalDays {
		return ErrWindowTooLong
	}
	return nil
}

// Approve handles staff approval of a pending request.
func (s *Service) Approve(b *Booking, staffID int64, now time.Time) error {
	if b.Status == fsm.StatusApproved {
		return nil
	}
	if err := fsm.Check(b.Status, fsm.StatusApproved); err != nil {
		return err
	}
	b.StaffID = &staffID
	b.appendStatus(fsm.StatusApproved, now, &staffID, "approved by staff")
	return nil
}

// Reject records a staff rejection. Paid, rented and closed bookings cannot
// be rejected.
func (s *Service) Reject(b *Booking, staffID int64, reason string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}
	if err := fsm.Check(b.Status, fsm.StatusRejected); err != nil {
		return err
	}
	b.StaffID = &staffID
	b.RejectionReason = reason
	b.appendStatus(fsm.StatusRejected, now, &staffID, reason)
	return nil
}

// AttachDocuments stores the supporting document references.
func (s *Service) AttachDocuments(b *Booking, idDocumentURL, affiliationDocURL string, now time.Time) error {
	if b.Status != fsm.StatusPending && b.Status != fsm.StatusApproved {
		return ErrDocumentsReadOnly
	}
	if v := strings.TrimSpace(idDocumentURL); v != "" {
		b.IDDocumentURL = v
	}
	if v := strings.TrimSpace(affiliationDocURL); v != "" {
		b.AffiliationDocURL = v
	}
	b.UpdatedAt = now
	return nil
}

// CanRequestPayment reports whether a checkout may be built for the booking.
func (s *Service) CanRequestPayment(b *Booking) error {
	if b.Status != fsm.StatusPending && b.Status != fsm.StatusApproved {
		return ErrNotPayable
	}
	if s.cfg.RequireDocuments && !b.HasDocuments() {
		return ErrDocumentsMissing
	}
	return nil
}

// ConfirmPayment moves the booking to paid_pending_handover. Calling it on a
// booking that is already paid or further along is a successful no-op and
// reports applied=false.
func (s *Service) ConfirmPayment(b *Booking, now time.Time, note string) (bool, error) {
	if fsm.PaidOrLater(b.Status) {
		return false, nil
	}
	if err := fsm.Check(b.Status, fsm.StatusPaidPendingHandover); err != nil {
		return false, err
	}
	if note == "" {
		note = "payment confirmed"
	}
	b.appendStatus(fsm.StatusPaidPendingHandover, now, nil, note)
	return true, nil
}

// ConfirmHandover marks the laptop as handed to the renter.
func (s *Service) ConfirmHandover(b *Booking, staffID int64, now time.Time) error {
	if b.Status == fsm.StatusRented || b.Status == fsm.StatusClosed {
		// already progressed, idempotent
		return nil
	}
	if err := fsm.Check(b.Status, fsm.StatusRented); err != nil {
		return err
	}
	b.StaffID = &staffID
	b.appendStatus(fsm.StatusRented, now, &staffID, "laptop handed over")
	return nil
}

// ConfirmReturn closes the rental once the laptop is back.
func (s *Service) ConfirmReturn(b *Booking, staffID int64, now time.Time) error {
	if b.Status == fsm.StatusClosed {
		return nil
	}
	if err := fsm.Check(b.Status, fsm.StatusClosed); err != nil {
		return err
	}
	b.StaffID = &staffID
	b.appendStatus(fsm.StatusClosed, now, &staffID, "laptop returned")
	return nil
}

// ExtendReturnDue sets the return deadline of a rented booking.
func (s *Service) ExtendReturnDue(b *Booking, due time.Time, now time.Time) error {
	if b.Status != fsm.StatusRented && b.Status != fsm.StatusPaidPendingHandover {
		return ErrNotRented
	}
	if due.Before(b.EndAt) || !due.After(now) {
		return ErrInvalidReturnDue
	}
	if s.cfg.MaxReturnExtension > 0 && due.Sub(b.EndAt) > s.cfg.MaxReturnExtension {
		return ErrInvalidReturnDue
	}
	b.ReturnDueAt = &due
	b.UpdatedAt = now
	return nil
}
