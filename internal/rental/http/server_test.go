package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"laptopRent/internal/rental/availability"
	"laptopRent/internal/rental/booking"
	"laptopRent/internal/rental/fsm"
	"laptopRent/internal/rental/identity"
	"laptopRent/internal/rental/lifecycle"
	"laptopRent/internal/rental/pay"
	"laptopRent/internal/rental/reconcile"
	"laptopRent/internal/rental/repo"
)

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) Create(ctx context.Context, renterID, laptopID int64, window lifecycle.Window) (lifecycle.Booking, error) {
	args := m.Called(renterID, laptopID, window)
	return args.Get(0).(lifecycle.Booking), args.Error(1)
}

func (m *mockBookings) Get(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error) {
	args := m.Called(who, id)
	return args.Get(0).(lifecycle.Booking), args.Error(1)
}

func (m *mockBookings) ListByStatus(ctx context.Context, who identity.Identity, status string, limit, offset int) ([]lifecycle.Booking, error) {
	args := m.Called(who, status, limit, offset)
	return args.Get(0).([]lifecycle.Booking), args.Error(1)
}

func (m *mockBookings) Approve(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error) {
	args := m.Called(who, id)
	return args.Get(0).(lifecycle.Booking), args.Error(1)
}

func (m *mockBookings) Reject(ctx context.Context, who identity.Identity, id int64, reason string) (lifecycle.Booking, error) {
	args := m.Called(who, id, reason)
	return args.Get(0).(lifecycle.Booking), args.Error(1)
}

func (m *mockBookings) AttachDocuments(ctx context.Context, who identity.Identity, id int64, idDocumentURL, affiliationDocURL string) (lifecycle.Booking, error) {
	args := m.Called(who, id, idDocumentURL, affiliationDocURL)
	return args.Get(0).(lifecycle.Booking), args.Error(1)
}

func (m *mockBookings) ExtendReturnDue(ctx context.Context, who identity.Identity, id int64, due time.Time) (lifecycle.Booking, error) {
	args := m.Called(who, id, due)
	return args.Get(0).(lifecycle.Booking), args.Error(1)
}

func (m *mockBookings) Handover(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error) {
	args := m.Called(who, id)
	return args.Get(0).(lifecycle.Booking), args.Error(1)
}

func (m *mockBookings) Return(ctx context.Context, who identity.Identity, id int64) (lifecycle.Booking, error) {
	args := m.Called(who, id)
	return args.Get(0).(lifecycle.Booking), args.Error(1)
}

func (m *mockBookings) Checkout(ctx context.Context, who identity.Identity, id int64, provider, clientIP string) (pay.Checkout, error) {
	args := m.Called(who, id, provider, clientIP)
	return args.Get(0).(pay.Checkout), args.Error(1)
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context, n pay.Notification) (reconcile.Outcome, error) {
	args := m.Called(n)
	return args.Get(0).(reconcile.Outcome), args.Error(1)
}

type stubAdapter struct {
	name string
	n    pay.Notification
	err  error
}

func (a stubAdapter) Name() string { return a.name }

func (a stubAdapter) BuildCheckout(ctx context.Context, req pay.CheckoutRequest) (pay.Checkout, error) {
	return pay.Checkout{}, nil
}

func (a stubAdapter) ParseInbound(r *http.Request) (pay.Notification, error) {
	return a.n, a.err
}

type failingPinger struct{ err error }

func (p failingPinger) PingContext(ctx context.Context) error { return p.err }

var (
	renter = identity.Identity{UserID: 7, Role: identity.RoleRenter}
	staff  = identity.Identity{UserID: 3, Role: identity.RoleStaff}
)

// asCaller stands in for the JWT middleware.
func asCaller(who *identity.Identity) alice.Chain {
	return alice.New(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if who != nil {
				r = r.WithContext(identity.WithIdentity(r.Context(), *who))
			}
			next.ServeHTTP(w, r)
		})
	})
}

func newMux(s *Server, who *identity.Identity) http.Handler {
	mux := pat.New()
	s.Register(mux, alice.New(), asCaller(who))
	return mux
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleBooking(status string) lifecycle.Booking {
	start := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	return lifecycle.Booking{ID: 26, RenterID: 7, LaptopID: 9, StartAt: start, EndAt: start.AddDate(0, 0, 2), TotalPrice: 500000, Status: status}
}

func TestCreateBooking(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("Create", int64(7), int64(9), mock.AnythingOfType("lifecycle.Window")).Return(sampleBooking(fsm.StatusPending), nil).Once()
	h := newMux(NewServer(Config{}, bookings, nil, nil, nil, nil), &renter)

	rec := do(h, http.MethodPost, "/api/v1/bookings", `{"laptop_id":9,"start_at":"2024-03-11","end_at":"2024-03-13"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var got bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, int64(26), got.ID)
	require.Equal(t, fsm.StatusPending, got.Status)
	bookings.AssertExpectations(t)
}

func TestCreateBookingRefused(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("Create", int64(7), int64(9), mock.Anything).
		Return(lifecycle.Booking{}, &booking.RefusedError{Reason: availability.ReasonRenterOpenRental})
	h := newMux(NewServer(Config{}, bookings, nil, nil, nil, nil), &renter)

	rec := do(h, http.MethodPost, "/api/v1/bookings", `{"laptop_id":9,"start_at":"2024-03-11","end_at":"2024-03-13"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), availability.ReasonRenterOpenRental)
}

func TestCreateBookingValidation(t *testing.T) {
	h := newMux(NewServer(Config{}, &mockBookings{}, nil, nil, nil, nil), &renter)
	require.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/v1/bookings", `{`).Code)
	require.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/v1/bookings", `{"start_at":"2024-03-11","end_at":"2024-03-13"}`).Code)
	require.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/v1/bookings", `{"laptop_id":9,"start_at":"soon","end_at":"2024-03-13"}`).Code)

	anon := newMux(NewServer(Config{}, &mockBookings{}, nil, nil, nil, nil), nil)
	require.Equal(t, http.StatusUnauthorized, do(anon, http.MethodPost, "/api/v1/bookings", `{}`).Code)
}

func TestStaffActionsMapErrors(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("Approve", staff, int64(26)).Return(sampleBooking(fsm.StatusApproved), nil)
	bookings.On("Approve", staff, int64(404)).Return(lifecycle.Booking{}, repo.ErrNotFound)
	bookings.On("Handover", staff, int64(26)).Return(lifecycle.Booking{}, &fsm.InvalidTransitionError{From: fsm.StatusPending, To: fsm.StatusRented})
	bookings.On("Reject", staff, int64(26), "").Return(lifecycle.Booking{}, lifecycle.ErrReasonRequired)
	bookings.On("Return", staff, int64(26)).Return(lifecycle.Booking{}, errors.New("db down"))
	h := newMux(NewServer(Config{}, bookings, nil, nil, nil, nil), &staff)

	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/v1/bookings/26/approve", "").Code)
	require.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/v1/bookings/404/approve", "").Code)
	require.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/v1/bookings/26/handover", "").Code)
	require.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/v1/bookings/26/reject", `{"reason":""}`).Code)
	require.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/v1/bookings/abc/approve", "").Code)

	rec := do(h, http.MethodPost, "/api/v1/bookings/26/return", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "db down")
}

func TestListDefaultsToAwaitingHandover(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("ListByStatus", staff, fsm.StatusPaidPendingHandover, 50, 0).Return([]lifecycle.Booking{sampleBooking(fsm.StatusPaidPendingHandover)}, nil).Once()
	bookings.On("ListByStatus", renter, fsm.StatusPending, 10, 5).Return([]lifecycle.Booking(nil), booking.ErrForbidden).Once()

	rec := do(newMux(NewServer(Config{}, bookings, nil, nil, nil, nil), &staff), http.MethodGet, "/api/v1/bookings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"paid_pending_handover"`)

	rec = do(newMux(NewServer(Config{}, bookings, nil, nil, nil, nil), &renter), http.MethodGet, "/api/v1/bookings?status=pending&limit=10&offset=5", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	bookings.AssertExpectations(t)
}

func TestDocumentsAndReturnDue(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("AttachDocuments", renter, int64(26), "https://s3/id.jpg", "").Return(sampleBooking(fsm.StatusPending), nil).Once()
	h := newMux(NewServer(Config{}, bookings, nil, nil, nil, nil), &renter)
	require.Equal(t, http.StatusOK, do(h, http.MethodPut, "/api/v1/bookings/26/documents", `{"id_document_url":"https://s3/id.jpg"}`).Code)
	require.Equal(t, http.StatusBadRequest, do(h, http.MethodPut, "/api/v1/bookings/26/documents", `{}`).Code)

	due := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)
	bookings.On("ExtendReturnDue", staff, int64(26), mock.MatchedBy(func(t time.Time) bool { return t.Equal(due) })).
		Return(lifecycle.Booking{}, lifecycle.ErrNotRented).Once()
	hs := newMux(NewServer(Config{}, bookings, nil, nil, nil, nil), &staff)
	require.Equal(t, http.StatusConflict, do(hs, http.MethodPut, "/api/v1/bookings/26/return-due", `{"return_due_at":"2024-03-20T10:00:00Z"}`).Code)
	bookings.AssertExpectations(t)
}

func TestCheckout(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("Checkout", renter, int64(26), pay.ProviderPayOS, "192.0.2.1").
		Return(pay.Checkout{Provider: pay.ProviderPayOS, URL: "https://pay.payos.vn/web/abc", OrderCode: "26482913"}, nil).Once()
	bookings.On("Checkout", renter, int64(26), pay.ProviderVNPay, "192.0.2.1").
		Return(pay.Checkout{}, lifecycle.ErrDocumentsMissing).Once()
	bookings.On("Checkout", renter, int64(26), pay.ProviderSePay, "192.0.2.1").
		Return(pay.Checkout{}, &pay.GatewayError{Provider: pay.ProviderSePay, StatusCode: 502}).Once()
	h := newMux(NewServer(Config{}, bookings, nil, nil, nil, nil), &renter)

	rec := do(h, http.MethodPost, "/api/v1/bookings/26/checkout/PayOS", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"checkout_url":"https://pay.payos.vn/web/abc"`)
	require.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/v1/bookings/26/checkout/vnpay", "").Code)
	require.Equal(t, http.StatusBadGateway, do(h, http.MethodPost, "/api/v1/bookings/26/checkout/sepay", "").Code)
	bookings.AssertExpectations(t)
}

func paymentServer(rec *mockReconciler, adapters ...pay.Adapter) http.Handler {
	s := NewServer(Config{FrontendResultURL: "https://rent.example.vn/payment/result"}, &mockBookings{}, rec, adapters, nil, nil)
	return newMux(s, nil)
}

func TestPayOSWebhookAlwaysAcknowledgesTerminalFailures(t *testing.T) {
	n := pay.Notification{Provider: pay.ProviderPayOS, OrderCode: "26482913", Amount: 500000}
	cases := []struct {
		err  error
		code int
	}{
		{reconcile.ErrBadSignature, http.StatusOK},
		{reconcile.ErrUnresolvable, http.StatusOK},
		{reconcile.ErrAmountMismatch, http.StatusOK},
		{nil, http.StatusOK},
		{repo.ErrConflict, http.StatusInternalServerError},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := &mockReconciler{}
		rec.On("Reconcile", n).Return(reconcile.Outcome{State: reconcile.StateReceived}, tc.err).Once()
		h := paymentServer(rec, stubAdapter{name: pay.ProviderPayOS, n: n})
		resp := do(h, http.MethodPost, "/api/v1/payments/payos/webhook", `{}`)
		require.Equal(t, tc.code, resp.Code, "%v", tc.err)
		require.NotContains(t, resp.Body.String(), "db down")
		rec.AssertExpectations(t)
	}

	h := paymentServer(&mockReconciler{}, stubAdapter{name: pay.ProviderPayOS, err: pay.ErrMalformed})
	require.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/v1/payments/payos/webhook", `{`).Code)
}

func TestVNPayIPNResponseCodes(t *testing.T) {
	cases := []struct {
		out  reconcile.Outcome
		err  error
		code string
	}{
		{reconcile.Outcome{State: reconcile.StateApplied, Applied: true}, nil, "00"},
		{reconcile.Outcome{State: reconcile.StateApplied, Reason: reconcile.ReasonAlreadyApplied}, nil, "02"},
		{reconcile.Outcome{Reason: reconcile.ReasonIgnored}, nil, "00"},
		{reconcile.Outcome{}, reconcile.ErrBadSignature, "97"},
		{reconcile.Outcome{}, reconcile.ErrUnresolvable, "01"},
		{reconcile.Outcome{}, reconcile.ErrAmountMismatch, "04"},
		{reconcile.Outcome{}, repo.ErrConflict, "99"},
	}
	n := pay.Notification{Provider: pay.ProviderVNPay, OrderCode: "26_a1b2c3d4e5f6"}
	for _, tc := range cases {
		rec := &mockReconciler{}
		rec.On("Reconcile", n).Return(tc.out, tc.err).Once()
		h := paymentServer(rec, stubAdapter{name: pay.ProviderVNPay, n: n})
		resp := do(h, http.MethodGet, "/api/v1/payments/vnpay/ipn?vnp_TxnRef=26_a1b2c3d4e5f6", "")
		require.Equal(t, http.StatusOK, resp.Code)
		var body pay.VNPayIPNResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Equal(t, tc.code, body.RspCode, "%v", tc.err)
	}
}

func TestVNPayReturnRedirectsToFrontend(t *testing.T) {
	n := pay.Notification{Provider: pay.ProviderVNPay, OrderCode: "26_a1b2c3d4e5f6"}
	rec := &mockReconciler{}
	rec.On("Reconcile", n).Return(reconcile.Outcome{State: reconcile.StateApplied, BookingID: 26, Applied: true}, nil).Once()
	h := paymentServer(rec, stubAdapter{name: pay.ProviderVNPay, n: n})

	resp := do(h, http.MethodGet, "/api/v1/payments/vnpay/return?vnp_TxnRef=26_a1b2c3d4e5f6", "")
	require.Equal(t, http.StatusFound, resp.Code)
	loc := resp.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "https://rent.example.vn/payment/result?"))
	require.Contains(t, loc, "status=success")
	require.Contains(t, loc, "booking_id=26")
}

func TestSePayWebhook(t *testing.T) {
	n := pay.Notification{Provider: pay.ProviderSePay, Amount: 500000}
	cases := []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{reconcile.ErrBadSignature, http.StatusUnauthorized},
		{reconcile.ErrUnresolvable, http.StatusOK},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := &mockReconciler{}
		rec.On("Reconcile", n).Return(reconcile.Outcome{}, tc.err).Once()
		h := paymentServer(rec, stubAdapter{name: pay.ProviderSePay, n: n})
		require.Equal(t, tc.code, do(h, http.MethodPost, "/api/v1/payments/sepay/webhook", `{}`).Code, "%v", tc.err)
	}
}

func TestUnconfiguredProviderHasNoRoute(t *testing.T) {
	h := paymentServer(&mockReconciler{})
	require.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/v1/payments/payos/webhook", `{}`).Code)
}

func TestHealth(t *testing.T) {
	h := newMux(NewServer(Config{}, &mockBookings{}, nil, nil, nil, nil), nil)
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)

	h = newMux(NewServer(Config{}, &mockBookings{}, nil, nil, failingPinger{errors.New("down")}, nil), nil)
	require.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/healthz", "").Code)
}
