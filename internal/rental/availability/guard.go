package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"laptopRent/internal/rental/cache"
	"laptopRent/internal/rental/lifecycle"
	"laptopRent/internal/rental/timeutil"
)

// Refusal reasons reported to the renter.
const (
	ReasonLaptopUnavailable = "asset not available for booking"
	ReasonAssetCommitted    = "asset currently committed"
	ReasonRenterOpenRental  = "renter already has an open rental"
	ReasonDuplicatePending  = "duplicate pending request"
	ReasonInvalidWindow     = "invalid rental window"
)

// Decision is the outcome of an availability check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

func refuse(reason string) Decision {
	return Decision{Reason: reason}
}

// BookingReader answers the booking-side questions of the check.
// "Active" means approved, paid_pending_handover or rented.
type BookingReader interface {
	LaptopCommitted(ctx context.Context, laptopID int64, today time.Time) (bool, error)
	RenterHasOpenRental(ctx context.Context, renterID int64, today time.Time) (bool, error)
	HasPendingRequest(ctx context.Context, renterID, laptopID int64) (bool, error)
}

// LaptopDirectory reports the lifecycle state of a laptop listing.
type LaptopDirectory interface {
	IsBookable(ctx context.Context, laptopID int64) (bool, error)
}

// Evaluate runs the checks in order and stops at the first refusal. The
// repository reuses it inside its locked transaction.
func Evaluate(ctx context.Context, laptops LaptopDirectory, bookings BookingReader, renterID, laptopID int64, today time.Time) (Decision, error) {
	ok, err := laptops.IsBookable(ctx, laptopID)
	if err != nil {
		return Decision{}, fmt.Errorf("laptop state: %w", err)
	}
	if !ok {
		return refuse(ReasonLaptopUnavailable), nil
	}

	committed, err := bookings.LaptopCommitted(ctx, laptopID, today)
	if err != nil {
		return Decision{}, fmt.Errorf("laptop bookings: %w", err)
	}
	if committed {
		return refuse(ReasonAssetCommitted), nil
	}

	open, err := bookings.RenterHasOpenRental(ctx, renterID, today)
	if err != nil {
		return Decision{}, fmt.Errorf("renter bookings: %w", err)
	}
	if open {
		return refuse(ReasonRenterOpenRental), nil
	}

	pending, err := bookings.HasPendingRequest(ctx, renterID, laptopID)
	if err != nil {
		return Decision{}, fmt.Errorf("pending requests: %w", err)
	}
	if pending {
		return refuse(ReasonDuplicatePending), nil
	}
	return Allow, nil
}

// Guard is the read-only pre-check run before a booking is created.
type Guard struct {
	bookings BookingReader
	laptops  LaptopDirectory
	cache    cache.Availability
	clock    timeutil.Clock
	logger   *slog.Logger
}

// NewGuard constructs a Guard. cache may be nil.
func NewGuard(bookings BookingReader, laptops LaptopDirectory, c cache.Availability, clock timeutil.Clock, logger *slog.Logger) *Guard {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{bookings: bookings, laptops: laptops, cache: c, clock: clock, logger: logger}
}

// CanCreateBooking decides whether renterID may request laptopID for window.
func (g *Guard) CanCreateBooking(ctx context.Context, renterID, laptopID int64, window lifecycle.Window) (Decision, error) {
	today := timeutil.StartOfDay(g.clock.Now())
	if err := window.Validate(today); err != nil {
		return refuse(ReasonInvalidWindow), nil
	}
	return Evaluate(ctx, cachedDirectory{g}, g.bookings, renterID, laptopID, today)
}

// cachedDirectory reads laptop state through the availability cache.
type cachedDirectory struct{ g *Guard }

func (d cachedDirectory) IsBookable(ctx context.Context, laptopID int64) (bool, error) {
	g := d.g
	if g.cache != nil {
		bookable, found, err := g.cache.Get(ctx, laptopID)
		if err != nil {
			g.logger.Warn("availability cache read failed", "laptop_id", laptopID, "err", err)
		} else if found {
			return bookable, nil
		}
	}
	bookable, err := g.laptops.IsBookable(ctx, laptopID)
	if err != nil {
		return false, err
	}
	if g.cache != nil {
		if err := g.cache.Set(ctx, laptopID, bookable); err != nil {
			g.logger.Warn("availability cache write failed", "laptop_id", laptopID, "err", err)
		}
	}
	return bookable, nil
}
