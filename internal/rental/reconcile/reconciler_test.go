package reconcile

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"laptopRent/internal/rental/fsm"
	"laptopRent/internal/rental/lifecycle"
	"laptopRent/internal/rental/pay"
	"laptopRent/internal/rental/repo"
	"laptopRent/internal/rental/timeutil"
)

// memStore is a version-checked in-memory booking table.
type memStore struct {
	mu        sync.Mutex
	rows      map[int64]lifecycle.Booking
	saves     int
	conflicts int
	getErr    error
}

func newMemStore(bookings ...lifecycle.Booking) *memStore {
	s := &memStore{rows: map[int64]lifecycle.Booking{}}
	for _, b := range bookings {
		s.rows[b.ID] = b
	}
	return s
}

func (s *memStore) Exists(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[id]
	return ok, nil
}

func (s *memStore) Get(ctx context.Context, id int64) (lifecycle.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return lifecycle.Booking{}, s.getErr
	}
	b, ok := s.rows[id]
	if !ok {
		return lifecycle.Booking{}, repo.ErrNotFound
	}
	return b, nil
}

func (s *memStore) Save(ctx context.Context, b *lifecycle.Booking, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return repo.ErrConflict
	}
	cur, ok := s.rows[b.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return repo.ErrConflict
	}
	b.Version = expectedVersion + 1
	b.ClearEvents()
	s.rows[b.ID] = *b
	s.saves++
	return nil
}

func (s *memStore) booking(id int64) lifecycle.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

type memAudit struct {
	mu      sync.Mutex
	records []repo.WebhookRecord
}

func (a *memAudit) SaveWebhook(ctx context.Context, rec repo.WebhookRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

var reconcileNow = time.Date(2024, 3, 15, 9, 15, 13, 0, timeutil.Location())

func approvedBooking(id, price int64) lifecycle.Booking {
	return lifecycle.Booking{
		ID:         id,
		RenterID:   7,
		LaptopID:   9,
		StartAt:    reconcileNow.Add(24 * time.Hour),
		EndAt:      reconcileNow.Add(72 * time.Hour),
		TotalPrice: price,
		Status:     fsm.StatusApproved,
		Version:    3,
	}
}

func newTestReconciler(store *memStore, audit *memAudit, cfg Config) *Reconciler {
	var log AuditLog
	if audit != nil {
		log = audit
	}
	return NewReconciler(cfg, store, log, lifecycle.NewService(lifecycle.DefaultConfig()), timeutil.FixedClock(reconcileNow), nil)
}

func verifiedCredit(orderCode string, amount int64) pay.Notification {
	return pay.Notification{
		Provider:    pay.ProviderPayOS,
		OrderCode:   orderCode,
		Amount:      amount,
		Description: "CSQYTC1Q THUE LAPTOP",
		Verified:    true,
		Success:     true,
		Direction:   pay.DirectionCredit,
	}
}

func TestReconcilePayOSWebhookEndToEnd(t *testing.T) {
	const checksum = "payos-checksum-key"
	adapter, err := pay.NewPayOS(pay.PayOSConfig{
		ClientID: "c", APIKey: "k", ChecksumKey: checksum,
		ReturnURL: "https://rent.example.vn/ok", CancelURL: "https://rent.example.vn/cancel",
	})
	require.NoError(t, err)

	data := `{"amount":500000,"code":"00","description":"CSQYTC1Q THUE LAPTOP","orderCode":26482913,"reference":"FT1"}`
	sig := pay.SignHMAC(pay.SHA256, "amount=500000&code=00&description=CSQYTC1Q THUE LAPTOP&orderCode=26482913&reference=FT1", checksum)
	body := []byte(`{"code":"00","desc":"success","success":true,"data":` + data + `,"signature":"` + sig + `"}`)

	store := newMemStore(approvedBooking(26, 500000), approvedBooking(2, 100000))
	audit := &memAudit{}
	r := newTestReconciler(store, audit, DefaultConfig())

	n, err := adapter.ParseInbound(httptest.NewRequest("POST", "/api/v1/payments/payos/webhook", bytes.NewReader(body)))
	require.NoError(t, err)
	require.True(t, n.Verified)

	out, err := r.Reconcile(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, Outcome{State: StateApplied, BookingID: 26, Strategy: StrategyOrderCode, Applied: true}, out)
	first := store.booking(26)
	require.Equal(t, fsm.StatusPaidPendingHandover, first.Status)
	require.Equal(t, int64(500000), first.TotalPrice)
	require.Equal(t, fsm.StatusApproved, store.booking(2).Status)

	n, err = adapter.ParseInbound(httptest.NewRequest("POST", "/api/v1/payments/payos/webhook", bytes.NewReader(body)))
	require.NoError(t, err)
	out, err = r.Reconcile(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, StateApplied, out.State)
	require.Equal(t, ReasonAlreadyApplied, out.Reason)
	require.False(t, out.Applied)
	require.Equal(t, first, store.booking(26))
	require.Equal(t, 1, store.saves)

	require.Len(t, audit.records, 2)
	require.Equal(t, int64(26), *audit.records[0].BookingID)
	require.Equal(t, StrategyOrderCode, audit.records[0].Strategy)
	require.Equal(t, ReasonAlreadyApplied, audit.records[1].Reason)
}

func TestReconcileIsIdempotentUnderConcurrency(t *testing.T) {
	store := newMemStore(approvedBooking(26, 500000))
	r := newTestReconciler(store, nil, DefaultConfig())

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan Outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.Reconcile(context.Background(), verifiedCredit("26482913", 500000))
			if err == nil {
				results <- out
			}
		}()
	}
	wg.Wait()
	close(results)

	applied, total := 0, 0
	for out := range results {
		total++
		if out.Applied {
			applied++
		}
	}
	require.Equal(t, workers, total)
	require.Equal(t, 1, applied)
	require.Equal(t, 1, store.saves)
	require.Equal(t, int64(4), store.booking(26).Version)
}

func TestReconcileAmountTolerance(t *testing.T) {
	cases := []struct {
		amount  int64
		applied bool
	}{
		{501000, true},
		{499000, true},
		{501001, false},
		{498999, false},
	}
	for _, tc := range cases {
		store := newMemStore(approvedBooking(26, 500000))
		r := newTestReconciler(store, nil, Config{AmountTolerance: 1000})
		out, err := r.Reconcile(context.Background(), verifiedCredit("26482913", tc.amount))
		if tc.applied {
			require.NoError(t, err, tc.amount)
			require.True(t, out.Applied)
			require.Equal(t, fsm.StatusPaidPendingHandover, store.booking(26).Status)
			continue
		}
		require.ErrorIs(t, err, ErrAmountMismatch, tc.amount)
		require.Equal(t, ReasonAmountMismatch, out.Reason)
		require.Equal(t, fsm.StatusApproved, store.booking(26).Status)
		require.Equal(t, int64(500000), store.booking(26).TotalPrice)
	}
}

func TestReconcileAdoptsAmountWhenPriceUnset(t *testing.T) {
	store := newMemStore(approvedBooking(26, 0))
	r := newTestReconciler(store, nil, DefaultConfig())

	out, err := r.Reconcile(context.Background(), verifiedCredit("26482913", 750000))
	require.NoError(t, err)
	require.True(t, out.Applied)
	require.Equal(t, int64(750000), store.booking(26).TotalPrice)

	out, err = r.Reconcile(context.Background(), verifiedCredit("26482913", 750000))
	require.NoError(t, err)
	require.Equal(t, ReasonAlreadyApplied, out.Reason)
	require.Equal(t, int64(750000), store.booking(26).TotalPrice)
}

func TestReconcileBadSignature(t *testing.T) {
	store := newMemStore(approvedBooking(26, 500000))
	audit := &memAudit{}
	r := newTestReconciler(store, audit, DefaultConfig())

	n := verifiedCredit("26482913", 500000)
	n.Verified = false
	out, err := r.Reconcile(context.Background(), n)
	require.ErrorIs(t, err, ErrBadSignature)
	require.Equal(t, Outcome{State: StateReceived, Reason: ReasonBadSignature}, out)
	require.Equal(t, fsm.StatusApproved, store.booking(26).Status)
	require.Len(t, audit.records, 1)
	require.Nil(t, audit.records[0].BookingID)
}

func TestReconcileIgnoresDebitsAndFailures(t *testing.T) {
	store := newMemStore(approvedBooking(26, 500000))
	r := newTestReconciler(store, nil, DefaultConfig())

	debit := verifiedCredit("26482913", 500000)
	debit.Direction = pay.DirectionDebit
	out, err := r.Reconcile(context.Background(), debit)
	require.NoError(t, err)
	require.Equal(t, ReasonIgnored, out.Reason)

	failed := verifiedCredit("26482913", 500000)
	failed.Success = false
	out, err = r.Reconcile(context.Background(), failed)
	require.NoError(t, err)
	require.Equal(t, ReasonIgnored, out.Reason)
	require.Equal(t, fsm.StatusApproved, store.booking(26).Status)
}

func TestReconcileUnresolvable(t *testing.T) {
	store := newMemStore(approvedBooking(26, 500000))
	r := newTestReconciler(store, nil, DefaultConfig())
	out, err := r.Reconcile(context.Background(), verifiedCredit("77482913", 500000))
	require.ErrorIs(t, err, ErrUnresolvable)
	require.Equal(t, ReasonUnresolvable, out.Reason)
}

func TestReconcileSePayNeedsKeywordInMemo(t *testing.T) {
	adapter, err := pay.NewSePay(pay.SePayConfig{APIKey: "sepay-key", Keyword: "RENT", AccountNumber: "0071000888888", BankCode: "Vietcombank"})
	require.NoError(t, err)
	store := newMemStore(approvedBooking(3, 500000))
	audit := &memAudit{}
	r := newTestReconciler(store, audit, DefaultConfig())

	deliver := func(content string) (Outcome, error) {
		body := `{"id":5,"content":"` + content + `","transferType":"in","transferAmount":500000,"referenceCode":"FT24075123456"}`
		req := httptest.NewRequest("POST", "/api/v1/payments/sepay/webhook", bytes.NewBufferString(body))
		req.Header.Set("Authorization", "Apikey sepay-key")
		n, err := adapter.ParseInbound(req)
		require.NoError(t, err)
		return r.Reconcile(context.Background(), n)
	}

	out, err := deliver("chuyen tien 3 thang nha")
	require.ErrorIs(t, err, ErrUnresolvable)
	require.Equal(t, ReasonUnresolvable, out.Reason)
	require.Equal(t, fsm.StatusApproved, store.booking(3).Status)
	require.Equal(t, "FT24075123456", audit.records[0].OrderCode)

	out, err = deliver("RENT3 chuyen tien")
	require.NoError(t, err)
	require.Equal(t, Outcome{State: StateApplied, BookingID: 3, Strategy: StrategyExplicit, Applied: true}, out)
	require.Equal(t, fsm.StatusPaidPendingHandover, store.booking(3).Status)
}

func TestReconcileRejectsNonPositiveAmount(t *testing.T) {
	for _, price := range []int64{0, 500000} {
		store := newMemStore(approvedBooking(26, price))
		r := newTestReconciler(store, nil, Config{AmountTolerance: 500000})
		out, err := r.Reconcile(context.Background(), verifiedCredit("26482913", 0))
		require.ErrorIs(t, err, ErrAmountMismatch, price)
		require.Equal(t, ReasonAmountMismatch, out.Reason)
		require.Equal(t, fsm.StatusApproved, store.booking(26).Status)
		require.Equal(t, price, store.booking(26).TotalPrice)
		require.Zero(t, store.saves)
	}
}

func TestReconcileRejectedBookingIsInvalidTransition(t *testing.T) {
	b := approvedBooking(26, 500000)
	b.Status = fsm.StatusRejected
	store := newMemStore(b)
	r := newTestReconciler(store, nil, DefaultConfig())

	out, err := r.Reconcile(context.Background(), verifiedCredit("26482913", 500000))
	var invalid *fsm.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, ReasonInvalidTransition, out.Reason)
	require.Equal(t, fsm.StatusRejected, store.booking(26).Status)
}

func TestReconcileRetriesVersionConflicts(t *testing.T) {
	store := newMemStore(approvedBooking(26, 500000))
	store.conflicts = 2
	r := newTestReconciler(store, nil, Config{AmountTolerance: 1000, MaxRetries: 3})
	out, err := r.Reconcile(context.Background(), verifiedCredit("26482913", 500000))
	require.NoError(t, err)
	require.True(t, out.Applied)

	store = newMemStore(approvedBooking(26, 500000))
	store.conflicts = 10
	r = newTestReconciler(store, nil, Config{AmountTolerance: 1000, MaxRetries: 3})
	out, err = r.Reconcile(context.Background(), verifiedCredit("26482913", 500000))
	require.ErrorIs(t, err, repo.ErrConflict)
	require.Equal(t, ReasonRepositoryConflict, out.Reason)
	require.Equal(t, fsm.StatusApproved, store.booking(26).Status)
	require.Equal(t, 6, store.conflicts)
}

func TestReconcileStoreFailureSurfaces(t *testing.T) {
	store := newMemStore(approvedBooking(26, 500000))
	store.getErr = errors.New("db down")
	r := newTestReconciler(store, nil, DefaultConfig())
	id := int64(26)
	n := verifiedCredit("", 500000)
	n.BookingID = &id
	out, err := r.Reconcile(context.Background(), n)
	require.Error(t, err)
	require.Equal(t, ReasonStoreError, out.Reason)
}
