package rental

import (
	"fmt"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"laptopRent/internal/rental/availability"
	"laptopRent/internal/rental/booking"
	"laptopRent/internal/rental/cache"
	rentalhttp "laptopRent/internal/rental/http"
	"laptopRent/internal/rental/lifecycle"
	"laptopRent/internal/rental/pay"
	"laptopRent/internal/rental/reconcile"
	"laptopRent/internal/rental/repo"
	"laptopRent/internal/rental/timeutil"
)

// RegisterRentalRoutes wires the HTTP handlers into the provided mux. auth
// must place an identity.Identity on the request context.
func RegisterRentalRoutes(mux *pat.PatternServeMux, deps *Deps, public, auth alice.Chain) error {
	if err := deps.Validate(); err != nil {
		return err
	}
	cfg := deps.Config
	logger := deps.Logger.With("module", "rental")
	clock := timeutil.SystemClock{}

	statuses := repo.NewStatusCatalog(deps.DB)
	bookingsRepo := repo.NewBookingsRepo(deps.DB, statuses)
	laptopsRepo := repo.NewLaptopsRepo(deps.DB)
	paymentsRepo := repo.NewPaymentsRepo(deps.DB)

	var availCache cache.Availability
	if cfg.CacheBackend == CacheMemory {
		availCache = cache.NewMemory(cfg.AvailabilityTTL)
	} else {
		availCache = cache.NewRedisAvailability(deps.RDB, cfg.AvailabilityTTL)
	}

	adapters, err := buildAdapters(deps)
	if err != nil {
		return err
	}
	if len(adapters) == 0 {
		logger.Warn("no payment provider configured; checkout is disabled")
	}

	svc := lifecycle.NewService(lifecycle.Config{
		RequireDocuments:   cfg.RequireDocuments,
		MaxRentalDays:      cfg.MaxRentalDays,
		MaxReturnExtension: cfg.MaxReturnExtension,
	})
	guard := availability.NewGuard(bookingsRepo, laptopsRepo, availCache, clock, logger)
	manager := booking.NewManager(bookingsRepo, laptopsRepo, guard, availCache, svc, adapters, clock, logger)
	reconciler := reconcile.NewReconciler(reconcile.Config{
		AmountTolerance: cfg.AmountTolerance,
		MaxRetries:      cfg.ReconcileRetries,
	}, bookingsRepo, paymentsRepo, svc, clock, logger)

	server := rentalhttp.NewServer(rentalhttp.Config{
		FrontendResultURL: cfg.FrontendResultURL,
		RequestTimeout:    cfg.RequestTimeout,
	}, manager, reconciler, adapters, deps.DB, logger)
	server.Register(mux, public, auth)
	return nil
}

// buildAdapters constructs the gateways that have configuration present.
func buildAdapters(deps *Deps) ([]pay.Adapter, error) {
	cfg := deps.Config
	var adapters []pay.Adapter
	if cfg.VNPay.Enabled() {
		v, err := pay.NewVNPay(pay.VNPayConfig{
			TmnCode:     cfg.VNPay.TmnCode,
			HashSecret:  cfg.VNPay.HashSecret,
			PayURL:      cfg.VNPay.PayURL,
			ReturnURL:   cfg.VNPay.ReturnURL,
			Locale:      cfg.VNPay.Locale,
			ExpireAfter: cfg.VNPay.ExpireAfter,
			Now:         timeutil.Now,
			Logger:      deps.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init vnpay: %w", err)
		}
		adapters = append(adapters, v)
	}
	if cfg.PayOS.Enabled() {
		p, err := pay.NewPayOS(pay.PayOSConfig{
			ClientID:    cfg.PayOS.ClientID,
			APIKey:      cfg.PayOS.APIKey,
			ChecksumKey: cfg.PayOS.ChecksumKey,
			BaseURL:     cfg.PayOS.BaseURL,
			ReturnURL:   cfg.PayOS.ReturnURL,
			CancelURL:   cfg.PayOS.CancelURL,
			Client:      deps.HTTPClient,
			Logger:      deps.Logger,
			Now:         timeutil.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("init payos: %w", err)
		}
		adapters = append(adapters, p)
	}
	if cfg.SePay.Enabled() {
		s, err := pay.NewSePay(pay.SePayConfig{
			APIKey:        cfg.SePay.APIKey,
			Keyword:       cfg.SePay.Keyword,
			AccountNumber: cfg.SePay.AccountNumber,
			BankCode:      cfg.SePay.BankCode,
			QRURL:         cfg.SePay.QRURL,
			Logger:        deps.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init sepay: %w", err)
		}
		adapters = append(adapters, s)
	}
	return adapters, nil
}
