package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"laptopRent/internal/rental/availability"
	"laptopRent/internal/rental/cache"
	"laptopRent/internal/rental/fsm"
	"laptopRent/internal/rental/identity"
	"laptopRent/internal/rental/lifecycle"
	"laptopRent/internal/rental/pay"
	"laptopRent/internal/rental/repo"
	"laptopRent/internal/rental/timeutil"
)

const maxSaveAttempts = 3

var (
	ErrForbidden       = errors.New("booking: forbidden")
	ErrUnknownProvider = errors.New("booking: unknown payment provider")
	ErrUnknownStatus   = errors.New("booking: unknown status")
)

// RefusedError carries the availability reason a request was turned down for.
type RefusedError struct {
	Reason string
}

func (e *RefusedError) Error() string { return e.Reason }

// Store is the booking persistence used by the manager.
type Store interface {
	Get(ctx context.Context, id int64) (lifecycle.Booking, error)
	Save(ctx context.Context, b *lifecycle.Booking, expectedVersion int64) error
	CreateGuarded(ctx context.Context, b lifecycle.Booking, today time.Time) (int64, availability.Decision, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]lifecycle.Booking, error)
}

// Laptops is the slice of the listing catalogue the manager touches.
type Laptops interface {
	DailyRate(ctx context.Context, id int64) (int64, error)
	SetStatus(ctx context.Context, id int64, status string) error
}

// Checker is the availability pre-check.
type Checker interface {
	CanCreateBooking(ctx context.Context, renterID, laptopID int64, window lifecycle.Window) (availability.Decision, error)
}

// Manager runs booking use cases on top of the lifecycle rules.
type Manager struct {
	store    Store
	laptops  Laptops
	guard    Checker
	cache    cache.Availability
	svc      *lifecycle.Service
	adapters map[string]pay.Adapter
	clock    timeutil.Clock
	logger   *slog.Logger
}

// NewManager constructs a Manager. cache may be nil.
func NewManager(store Store, laptops Laptops, guard Checker, c cache.Availability, svc *lifecycle.Service, adapters []pay.Adapter, clock timeutil.Clock, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]pay.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Manager{
		store:    store,
		laptops:  laptops,
		guard:    guard,
		cache:    c,
		svc:      svc,
		adapters: byName,
		clock:    clock,
		logger:   logger,
	}
}

// Create files a pending request for the renter.
func (m *Manager) Create(ctx context.Context, renterID, laptopID int64, window lifecycle.Window) (lifecycle.Booking, error) {
	logger := m.logger.With("op", "Create", "renter_id", renterID, "laptop_id", laptopID)
	now := m.clock.Now()
	today := timeutil.StartOfDay(now)
	if err := m.svc.ValidateWindow(window, today); err != nil {
		return lifecycle.Booking{}, err
	}

	decision, err := m.guard.CanCreateBooking(ctx, renterID, laptopID, window)
	if err != nil {
		return lifecycle.Booking{}, err
	}
	if !decision.Allowed {
		logger.Info("booking refused", "reason", decision.Reason)
		return lifecycle.Booking{}, &RefusedError{Reason: decision.Reason}
	}

	rate, err := m.laptops.DailyRate(ctx, laptopID)
	if errors.Is(err, repo.ErrNotFound) {
		return lifecycle.Booking{}, &RefusedError{Reason: availability.ReasonLaptopUnavailable}
	}
	if err != nil {
		return lifecycle.Booking{}, err
	}
	b, err := lifecycle.NewBooking(renterID, laptopID, window, rate, now)
	if err != nil {
		return lifecycle.Booking{}, err
	}

	id, decision, err := m.store.CreateGuarded(ctx, b, today)
	if errors.Is(err, repo.ErrSlotTaken) {
		logger.Info("booking refused under lock", "reason", decision.Reason)
		return lifecycle.Booking{}, &RefusedError{Reason: decision.Reason}
	}
	if err != nil {
		return lifecycle.Booking{}, err
	}
	b.ID = id
	b.ClearEvents()
	logger.Info("booking created", "booking_id", id, "total_price", b.TotalPrice)
	return b, nil
}

// Get returns a booking visible to who.
func (m *Manager) Get(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return lifecycle.Booking{}, err
	}
	if !who.IsStaff() && b.RenterID != who.UserID {
		return lifecycle.Booking{}, ErrForbidden
	}
	return b, nil
}

// ListByStatus is the staff polling view, e.g. bookings awaiting handover.
func (m *Manager) ListByStatus(ctx context.Context, who identity.Identity, status string, limit, offset int) ([]lifecycle.Booking, error) {
	if !who.IsStaff() {
		return nil, ErrForbidden
	}
	if !fsm.Known(status) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStatus, status)
	}
	return m.store.ListByStatus(ctx, status, limit, offset)
}

// Approve accepts a pending request.
func (m *Manager) Approve(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error) {
	if !who.IsStaff() {
		return lifecycle.Booking{}, ErrForbidden
	}
	b, _, err := m.update(ctx, id, func(b *lifecycle.Booking, now time.Time) error {
		return m.svc.Approve(b, who.UserID, now)
	})
	return b, err
}

// Reject turns down a pending or approved request.
func (m *Manager) Reject(ctx context.Context, who identity.Identity, id int64, reason string) (lifecycle.Booking, error) {
	if !who.IsStaff() {
		return lifecycle.Booking{}, ErrForbidden
	}
	b, _, err := m.update(ctx, id, func(b *lifecycle.Booking, now time.Time) error {
		return m.svc.Reject(b, who.UserID, reason, now)
	})
	return b, err
}

// AttachDocuments stores the renter's document references.
func (m *Manager) AttachDocuments(ctx context.Context, who identity.Identity, id int64, idDocumentURL, affiliationDocURL string) (lifecycle.Booking, error) {
	b, _, err := m.update(ctx, id, func(b *lifecycle.Booking, now time.Time) error {
		if !who.IsStaff() && b.RenterID != who.UserID {
			return ErrForbidden
		}
		return m.svc.AttachDocuments(b, idDocumentURL, affiliationDocURL, now)
	})
	if errors.Is(err, ErrForbidden) {
		return lifecycle.Booking{}, err
	}
	return b, err
}

// ExtendReturnDue moves the return deadline of an ongoing rental.
func (m *Manager) ExtendReturnDue(ctx context.Context, who identity.Identity, id int64, due time.Time) (lifecycle.Booking, error) {
	if !who.IsStaff() {
		return lifecycle.Booking{}, ErrForbidden
	}
	b, _, err := m.update(ctx, id, func(b *lifecycle.Booking, now time.Time) error {
		return m.svc.ExtendReturnDue(b, due, now)
	})
	return b, err
}

// Handover records that staff gave the laptop to the renter.
func (m *Manager) Handover(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error) {
	if !who.IsStaff() {
		return lifecycle.Booking{}, ErrForbidden
	}
	b, changed, err := m.update(ctx, id, func(b *lifecycle.Booking, now time.Time) error {
		return m.svc.ConfirmHandover(b, who.UserID, now)
	})
	if err != nil {
		return b, err
	}
	if changed {
		m.setLaptopStatus(ctx, b.LaptopID, repo.LaptopRented)
	}
	return b, nil
}

// Return closes the rental once the laptop is back.
func (m *Manager) Return(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error) {
	if !who.IsStaff() {
		return lifecycle.Booking{}, ErrForbidden
	}
	b, changed, err := m.update(ctx, id, func(b *lifecycle.Booking, now time.Time) error {
		return m.svc.ConfirmReturn(b, who.UserID, now)
	})
	if err != nil {
		return b, err
	}
	if changed {
		m.setLaptopStatus(ctx, b.LaptopID, repo.LaptopAvailable)
	}
	return b, nil
}

// Checkout builds a payment link for the booking with the named provider.
func (m *Manager) Checkout(ctx context.Context, who identity.Identity, id int64, provider, clientIP string) (pay.Checkout, error) {
	adapter, ok := m.adapters[provider]
	if !ok {
		return pay.Checkout{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	b, err := m.Get(ctx, who, id)
	if err != nil {
		return pay.Checkout{}, err
	}
	if err := m.svc.CanRequestPayment(&b); err != nil {
		return pay.Checkout{}, err
	}
	if b.TotalPrice <= 0 {
		return pay.Checkout{}, lifecycle.ErrNotPayable
	}
	co, err := adapter.BuildCheckout(ctx, pay.CheckoutRequest{
		BookingID:   b.ID,
		Amount:      b.TotalPrice,
		Description: fmt.Sprintf("%d THUE LAPTOP", b.ID),
		ClientIP:    clientIP,
	})
	if err != nil {
		return pay.Checkout{}, err
	}
	m.logger.Info("checkout created", "op", "Checkout", "booking_id", b.ID, "provider", provider, "order_code", co.OrderCode)
	return co, nil
}

// update runs fn against a fresh copy of the booking and saves it with a
// version check, re-reading on conflict. Unchanged bookings are not written
// and report changed=false.
func (m *Manager) update(ctx context.Context, id int64, fn func(b *lifecycle.Booking, now time.Time) error) (b lifecycle.Booking, changed bool, err error) {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		b, err = m.store.Get(ctx, id)
		if err != nil {
			return lifecycle.Booking{}, false, err
		}
		expected := b.Version
		before := b.UpdatedAt
		if err = fn(&b, m.clock.Now()); err != nil {
			return b, false, err
		}
		if b.UpdatedAt.Equal(before) && len(b.Events()) == 0 {
			return b, false, nil
		}
		err = m.store.Save(ctx, &b, expected)
		if err == nil {
			return b, true, nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return lifecycle.Booking{}, false, err
		}
		m.logger.Debug("version conflict, retrying", "booking_id", id, "attempt", attempt+1)
	}
	return lifecycle.Booking{}, false, err
}

func (m *Manager) setLaptopStatus(ctx context.Context, laptopID int64, status string) {
	if err := m.laptops.SetStatus(ctx, laptopID, status); err != nil {
		m.logger.Error("laptop status update failed", "laptop_id", laptopID, "status", status, "err", err)
	}
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, laptopID); err != nil {
		m.logger.Warn("availability cache invalidate failed", "laptop_id", laptopID, "err", err)
	}
}
