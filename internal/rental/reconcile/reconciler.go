package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"laptopRent/internal/rental/lifecycle"
	"laptopRent/internal/rental/pay"
	"laptopRent/internal/rental/repo"
	"laptopRent/internal/rental/timeutil"
)

// Call states.
const (
	StateReceived       = "received"
	StateAuthenticated  = "authenticated"
	StateCorrelated     = "correlated"
	StateAmountVerified = "amount_verified"
	StateApplied        = "applied"
)

// Outcome reasons. AlreadyApplied and Ignored are not failures.
const (
	ReasonBadSignature       = "bad_signature"
	ReasonUnresolvable       = "unresolvable"
	ReasonAmountMismatch     = "amount_mismatch"
	ReasonAlreadyApplied     = "already_applied"
	ReasonIgnored            = "ignored"
	ReasonInvalidTransition  = "invalid_transition"
	ReasonRepositoryConflict = "repository_conflict"
	ReasonStoreError         = "store_error"
)

var (
	ErrBadSignature   = errors.New("reconcile: bad signature")
	ErrAmountMismatch = errors.New("reconcile: amount mismatch")
)

// Store is the booking persistence the reconciler needs.
type Store interface {
	BookingLookup
	Get(ctx context.Context, id int64) (lifecycle.Booking, error)
	Save(ctx context.Context, b *lifecycle.Booking, expectedVersion int64) error
}

// AuditLog stores every processed callback.
type AuditLog interface {
	SaveWebhook(ctx context.Context, rec repo.WebhookRecord) error
}

// Config controls reconciliation.
type Config struct {
	// AmountTolerance is the absolute difference accepted between the paid
	// amount and the stored price.
	AmountTolerance int64
	// MaxRetries bounds re-runs after an optimistic lock conflict.
	MaxRetries int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{AmountTolerance: 1000, MaxRetries: 3}
}

// Outcome describes how far a notification got.
type Outcome struct {
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	BookingID int64  `json:"booking_id,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	// Applied is true only for the call that performed the transition.
	Applied bool `json:"applied"`
}

// Reconciler matches verified payment notifications to bookings and applies
// them exactly once.
type Reconciler struct {
	cfg        Config
	store      Store
	audit      AuditLog
	correlator *Correlator
	lifecycle  *lifecycle.Service
	clock      timeutil.Clock
	logger     *slog.Logger
}

// NewReconciler wires a reconciler. audit may be nil.
func NewReconciler(cfg Config, store Store, audit AuditLog, svc *lifecycle.Service, clock timeutil.Clock, logger *slog.Logger) *Reconciler {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.AmountTolerance < 0 {
		cfg.AmountTolerance = 0
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cfg:        cfg,
		store:      store,
		audit:      audit,
		correlator: NewCorrelator(store),
		lifecycle:  svc,
		clock:      clock,
		logger:     logger,
	}
}

// Reconcile runs one notification through authentication, correlation,
// the amount check and the idempotent transition. The returned error is
// non-nil for every failure reason; callers translate it for the provider.
func (r *Reconciler) Reconcile(ctx context.Context, n pay.Notification) (Outcome, error) {
	out, err := r.reconcile(ctx, n)
	r.record(ctx, n, out)

	logger := r.logger.With("op", "Reconcile", "provider", n.Provider, "order_code", n.OrderCode,
		"booking_id", out.BookingID, "strategy", out.Strategy, "state", out.State, "reason", out.Reason)
	switch {
	case err != nil:
		logger.Warn("payment notification not applied", "err", err)
	case out.Applied:
		logger.Info("payment applied", "amount", n.Amount)
	default:
		logger.Info("payment notification settled")
	}
	return out, err
}

func (r *Reconciler) reconcile(ctx context.Context, n pay.Notification) (Outcome, error) {
	out := Outcome{State: StateReceived}
	if !n.Verified {
		out.Reason = ReasonBadSignature
		return out, ErrBadSignature
	}
	out.State = StateAuthenticated
	if !n.Credit() || !n.Success {
		out.Reason = ReasonIgnored
		return out, nil
	}

	res, err := r.correlator.Resolve(ctx, n)
	if err != nil {
		if errors.Is(err, ErrUnresolvable) {
			out.Reason = ReasonUnresolvable
		} else {
			out.Reason = ReasonStoreError
		}
		return out, err
	}
	out.State = StateCorrelated
	out.BookingID = res.BookingID
	out.Strategy = res.Strategy

	for attempt := 0; ; attempt++ {
		out, err = r.apply(ctx, n, out)
		if !errors.Is(err, repo.ErrConflict) {
			return out, err
		}
		if attempt >= r.cfg.MaxRetries {
			out.Reason = ReasonRepositoryConflict
			return out, err
		}
		r.logger.Debug("version conflict, retrying", "booking_id", out.BookingID, "attempt", attempt+1)
	}
}

// apply is one read-check-write pass over the booking row.
func (r *Reconciler) apply(ctx context.Context, n pay.Notification, out Outcome) (Outcome, error) {
	out.State = StateCorrelated
	out.Reason = ""

	b, err := r.store.Get(ctx, out.BookingID)
	if errors.Is(err, repo.ErrNotFound) {
		out.Reason = ReasonUnresolvable
		return out, fmt.Errorf("%w: booking %d vanished", ErrUnresolvable, out.BookingID)
	}
	if err != nil {
		out.Reason = ReasonStoreError
		return out, err
	}
	expected := b.Version

	if n.Amount <= 0 {
		out.Reason = ReasonAmountMismatch
		return out, fmt.Errorf("%w: paid %d", ErrAmountMismatch, n.Amount)
	}
	if b.TotalPrice == 0 {
		b.AdoptPaidAmount(n.Amount)
	} else if !WithinTolerance(n.Amount, b.TotalPrice, r.cfg.AmountTolerance) {
		out.Reason = ReasonAmountMismatch
		return out, fmt.Errorf("%w: paid %d, price %d", ErrAmountMismatch, n.Amount, b.TotalPrice)
	}
	out.State = StateAmountVerified

	applied, err := r.lifecycle.ConfirmPayment(&b, r.clock.Now(), fmt.Sprintf("paid via %s (%s)", n.Provider, out.Strategy))
	if err != nil {
		out.Reason = ReasonInvalidTransition
		return out, err
	}
	if !applied {
		out.State = StateApplied
		out.Reason = ReasonAlreadyApplied
		return out, nil
	}
	if err := r.store.Save(ctx, &b, expected); err != nil {
		if !errors.Is(err, repo.ErrConflict) {
			out.Reason = ReasonStoreError
		}
		return out, err
	}
	out.State = StateApplied
	out.Applied = true
	return out, nil
}

func (r *Reconciler) record(ctx context.Context, n pay.Notification, out Outcome) {
	if r.audit == nil {
		return
	}
	code := n.OrderCode
	if code == "" {
		code = n.Reference
	}
	rec := repo.WebhookRecord{
		Provider:   n.Provider,
		OrderCode:  code,
		Strategy:   out.Strategy,
		Outcome:    out.State,
		Reason:     out.Reason,
		Signature:  n.Signature,
		Payload:    n.Raw,
		ReceivedAt: r.clock.Now(),
	}
	if out.BookingID > 0 {
		id := out.BookingID
		rec.BookingID = &id
	}
	if err := r.audit.SaveWebhook(ctx, rec); err != nil {
		r.logger.Error("save webhook failed", "provider", n.Provider, "err", err)
	}
}

// WithinTolerance reports whether paid is within tolerance of price.
func WithinTolerance(paid, price, tolerance int64) bool {
	d := paid - price
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
