package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"laptopRent/internal/rental/booking"
	"laptopRent/internal/rental/fsm"
	"laptopRent/internal/rental/identity"
	"laptopRent/internal/rental/lifecycle"
	"laptopRent/internal/rental/pay"
	"laptopRent/internal/rental/repo"
)

type bookingResponse struct {
	ID                int64      `json:"id"`
	RenterID          int64      `json:"renter_id"`
	LaptopID          int64      `json:"laptop_id"`
	StaffID           *int64     `json:"staff_id,omitempty"`
	StartAt           time.Time  `json:"start_at"`
	EndAt             time.Time  `json:"end_at"`
	ReturnDueAt       *time.Time `json:"return_due_at,omitempty"`
	TotalPrice        int64      `json:"total_price"`
	Status            string     `json:"status"`
	IDDocumentURL     string     `json:"id_document_url,omitempty"`
	AffiliationDocURL string     `json:"affiliation_doc_url,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func newBookingResponse(b lifecycle.Booking) bookingResponse {
	return bookingResponse{
		ID:                b.ID,
		RenterID:          b.RenterID,
		LaptopID:          b.LaptopID,
		StaffID:           b.StaffID,
		StartAt:           b.StartAt,
		EndAt:             b.EndAt,
		ReturnDueAt:       b.ReturnDueAt,
		TotalPrice:        b.TotalPrice,
		Status:            b.Status,
		IDDocumentURL:     b.IDDocumentURL,
		AffiliationDocURL: b.AffiliationDocURL,
		RejectionReason:   b.RejectionReason,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

type createBookingPayload struct {
	LaptopID int64  `json:"laptop_id"`
	StartAt  string `json:"start_at"`
	EndAt    string `json:"end_at"`
}

func (p createBookingPayload) window() (lifecycle.Window, string) {
	if p.LaptopID <= 0 {
		return lifecycle.Window{}, "laptop_id is required"
	}
	start, err := parseTime(p.StartAt)
	if err != nil {
		return lifecycle.Window{}, "invalid start_at"
	}
	end, err := parseTime(p.EndAt)
	if err != nil {
		return lifecycle.Window{}, "invalid end_at"
	}
	return lifecycle.Window{Start: start, End: end}, ""
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	who, ok := identity.FromContext(r.Context())
	if !ok || who.UserID <= 0 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return identity.Identity{}, false
	}
	return who, true
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	who, ok := s.caller(w, r)
	if !ok {
		return
	}
	var payload createBookingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	window, msg := payload.window()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ctx, cancel := s.contextWithTimeout(r)
	defer cancel()
	b, err := s.bookings.Create(ctx, who.UserID, payload.LaptopID, window)
	if err != nil {
		s.writeBookingError(w, "create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, newBookingResponse(b))
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	s.withBooking(w, r, "get booking", func(who identity.Identity, id int64, r *http.Request) (lifecycle.Booking, error) {
		return s.bookings.Get(r.Context(), who, id)
	})
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	who, ok := s.caller(w, r)
	if !ok {
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status == "" {
		status = fsm.StatusPaidPendingHandover
	}
	limit, offset, err := parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.contextWithTimeout(r)
	defer cancel()
	list, err := s.bookings.ListByStatus(ctx, who, status, limit, offset)
	if err != nil {
		s.writeBookingError(w, "list bookings", err)
		return
	}
	out := make([]bookingResponse, 0, len(list))
	for _, b := range list {
		out = append(out, newBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": out, "limit": limit, "offset": offset})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.withBooking(w, r, "approve", func(who identity.Identity, id int64, r *http.Request) (lifecycle.Booking, error) {
		return s.bookings.Approve(r.Context(), who, id)
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s.withBooking(w, r, "reject", func(who identity.Identity, id int64, r *http.Request) (lifecycle.Booking, error) {
		return s.bookings.Reject(r.Context(), who, id, payload.Reason)
	})
}

func (s *Server) handleHandover(w http.ResponseWriter, r *http.Request) {
	s.withBooking(w, r, "handover", func(who identity.Identity, id int64, r *http.Request) (lifecycle.Booking, error) {
		return s.bookings.Handover(r.Context(), who, id)
	})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	s.withBooking(w, r, "return", func(who identity.Identity, id int64, r *http.Request) (lifecycle.Booking, error) {
		return s.bookings.Return(r.Context(), who, id)
	})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IDDocumentURL     string `json:"id_document_url"`
		AffiliationDocURL string `json:"affiliation_doc_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(payload.IDDocumentURL) == "" && strings.TrimSpace(payload.AffiliationDocURL) == "" {
		writeError(w, http.StatusBadRequest, "at least one document url is required")
		return
	}
	s.withBooking(w, r, "attach documents", func(who identity.Identity, id int64, r *http.Request) (lifecycle.Booking, error) {
		return s.bookings.AttachDocuments(r.Context(), who, id, payload.IDDocumentURL, payload.AffiliationDocURL)
	})
}

func (s *Server) handleReturnDue(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ReturnDueAt string `json:"return_due_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	due, err := parseTime(payload.ReturnDueAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid return_due_at")
		return
	}
	s.withBooking(w, r, "extend return due", func(who identity.Identity, id int64, r *http.Request) (lifecycle.Booking, error) {
		return s.bookings.ExtendReturnDue(r.Context(), who, id, due)
	})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	who, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	provider := strings.ToLower(r.URL.Query().Get(":provider"))

	ctx, cancel := s.contextWithTimeout(r)
	defer cancel()
	co, err := s.bookings.Checkout(ctx, who, id, provider, clientIP(r))
	if err != nil {
		s.writeBookingError(w, "checkout", err)
		return
	}
	writeJSON(w, http.StatusOK, co)
}

// withBooking runs a single-booking operation for the caller and writes the result.
func (s *Server) withBooking(w http.ResponseWriter, r *http.Request, op string, fn func(who identity.Identity, id int64, r *http.Request) (lifecycle.Booking, error)) {
	who, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := s.contextWithTimeout(r)
	defer cancel()
	b, err := fn(who, id, r.WithContext(ctx))
	if err != nil {
		s.writeBookingError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (s *Server) writeBookingError(w http.ResponseWriter, op string, err error) {
	var refused *booking.RefusedError
	var gateway *pay.GatewayError
	switch {
	case errors.As(err, &refused):
		writeError(w, http.StatusConflict, refused.Reason)
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, booking.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, "unknown payment provider")
	case errors.Is(err, booking.ErrUnknownStatus),
		errors.Is(err, lifecycle.ErrInvalidWindow),
		errors.Is(err, lifecycle.ErrWindowTooLong),
		errors.Is(err, lifecycle.ErrReasonRequired),
		errors.Is(err, lifecycle.ErrInvalidReturnDue):
		writeError(w, http.StatusBadRequest, err.Error())
	case isInvalidTransition(err),
		errors.Is(err, lifecycle.ErrDocumentsMissing),
		errors.Is(err, lifecycle.ErrNotPayable),
		errors.Is(err, lifecycle.ErrDocumentsReadOnly),
		errors.Is(err, lifecycle.ErrNotRented),
		errors.Is(err, repo.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &gateway):
		s.logger.Error(op+" failed", "err", err)
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		s.logger.Error(op+" failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isInvalidTransition(err error) bool {
	var invalid *fsm.InvalidTransitionError
	return errors.As(err, &invalid)
}
