package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"laptopRent/internal/rental/identity"
	"laptopRent/internal/rental/lifecycle"
	"laptopRent/internal/rental/pay"
	"laptopRent/internal/rental/reconcile"
)

// Config is the subset of runtime configuration required by the HTTP handlers.
type Config struct {
	// FrontendResultURL receives the renter after the VNPay redirect.
	FrontendResultURL string
	RequestTimeout    time.Duration
}

// BookingService is implemented by booking.Manager.
type BookingService interface {
	Create(ctx context.Context, renterID, laptopID int64, window lifecycle.Window) (lifecycle.Booking, error)
	Get(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error)
	ListByStatus(ctx context.Context, who identity.Identity, status string, limit, offset int) ([]lifecycle.Booking, error)
	Approve(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error)
	Reject(ctx context.Context, who identity.Identity, id int64, reason string) (lifecycle.Booking, error)
	AttachDocuments(ctx context.Context, who identity.Identity, id int64, idDocumentURL, affiliationDocURL string) (lifecycle.Booking, error)
	ExtendReturnDue(ctx context.Context, who identity.Identity, id int64, due time.Time) (lifecycle.Booking, error)
	Handover(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error)
	Return(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error)
	Checkout(ctx context.Context, who identity.Identity, id int64, provider, clientIP string) (pay.Checkout, error)
}

// Reconciler is implemented by reconcile.Reconciler.
type Reconciler interface {
	Reconcile(ctx context.Context, n pay.Notification) (reconcile.Outcome, error)
}

// Pinger reports store health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server provides HTTP handlers for the rental domain.
type Server struct {
	cfg        Config
	bookings   BookingService
	reconciler Reconciler
	adapters   map[string]pay.Adapter
	db         Pinger
	logger     *slog.Logger
}

// NewServer constructs a Server instance. db may be nil.
func NewServer(cfg Config, bookings BookingService, reconciler Reconciler, adapters []pay.Adapter, db Pinger, logger *slog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]pay.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Server{cfg: cfg, bookings: bookings, reconciler: reconciler, adapters: byName, db: db, logger: logger}
}

// Register mounts rental routes. Booking routes run behind auth, which must
// put an identity.Identity into the request context. Payment callbacks are
// authenticated by the providers' own signatures and run behind public.
func (s *Server) Register(mux *pat.PatternServeMux, public, auth alice.Chain) {
	mux.Get("/healthz", public.ThenFunc(s.handleHealth))

	mux.Post("/api/v1/bookings", auth.ThenFunc(s.handleCreateBooking))
	mux.Get("/api/v1/bookings", auth.ThenFunc(s.handleListBookings))
	mux.Get("/api/v1/bookings/:id", auth.ThenFunc(s.handleGetBooking))
	mux.Post("/api/v1/bookings/:id/approve", auth.ThenFunc(s.handleApprove))
	mux.Post("/api/v1/bookings/:id/reject", auth.ThenFunc(s.handleReject))
	mux.Post("/api/v1/bookings/:id/handover", auth.ThenFunc(s.handleHandover))
	mux.Post("/api/v1/bookings/:id/return", auth.ThenFunc(s.handleReturn))
	mux.Put("/api/v1/bookings/:id/documents", auth.ThenFunc(s.handleDocuments))
	mux.Put("/api/v1/bookings/:id/return-due", auth.ThenFunc(s.handleReturnDue))
	mux.Post("/api/v1/bookings/:id/checkout/:provider", auth.ThenFunc(s.handleCheckout))

	if _, ok := s.adapters[pay.ProviderVNPay]; ok {
		mux.Get("/api/v1/payments/vnpay/return", public.ThenFunc(s.handleVNPayReturn))
		mux.Get("/api/v1/payments/vnpay/ipn", public.ThenFunc(s.handleVNPayIPN))
	}
	if _, ok := s.adapters[pay.ProviderPayOS]; ok {
		mux.Post("/api/v1/payments/payos/webhook", public.ThenFunc(s.handlePayOSWebhook))
	}
	if _, ok := s.adapters[pay.ProviderSePay]; ok {
		mux.Post("/api/v1/payments/sepay/webhook", public.ThenFunc(s.handleSePayWebhook))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Error("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// terminal reports reconciliation failures a provider retry cannot fix.
func terminal(err error) bool {
	return errors.Is(err, reconcile.ErrBadSignature) ||
		errors.Is(err, reconcile.ErrUnresolvable) ||
		errors.Is(err, reconcile.ErrAmountMismatch) ||
		isInvalidTransition(err)
}
