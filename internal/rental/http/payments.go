package http

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"laptopRent/internal/rental/pay"
	"laptopRent/internal/rental/reconcile"
)

// VNPay IPN responses.
var (
	vnpayConfirmed        = pay.VNPayIPNResponse{RspCode: pay.VNPayRspConfirmed, Message: "Confirm Success"}
	vnpayOrderNotFound    = pay.VNPayIPNResponse{RspCode: pay.VNPayRspOrderNotFound, Message: "Order not found"}
	vnpayAlreadyConfirmed = pay.VNPayIPNResponse{RspCode: pay.VNPayRspAlreadyConfirmed, Message: "Order already confirmed"}
	vnpayInvalidAmount    = pay.VNPayIPNResponse{RspCode: pay.VNPayRspInvalidAmount, Message: "Invalid amount"}
	vnpayInvalidChecksum  = pay.VNPayIPNResponse{RspCode: pay.VNPayRspInvalidChecksum, Message: "Invalid Checksum"}
	vnpayUnknownError     = pay.VNPayIPNResponse{RspCode: pay.VNPayRspUnknown, Message: "Unknown error"}
)

// inbound is a parsed callback together with its reconciliation result.
type inbound struct {
	n   pay.Notification
	out reconcile.Outcome
	err error
}

// reconcileInbound parses and reconciles a provider call. ok is false when
// the call could not be parsed at all.
func (s *Server) reconcileInbound(r *http.Request, provider string) (in inbound, ok bool) {
	n, err := s.adapters[provider].ParseInbound(r)
	if err != nil {
		s.logger.Warn("unreadable payment callback", "provider", provider, "err", err)
		return inbound{}, false
	}
	ctx, cancel := s.contextWithTimeout(r)
	defer cancel()
	out, err := s.reconciler.Reconcile(ctx, n)
	return inbound{n: n, out: out, err: err}, true
}

// handleVNPayIPN answers the server-to-server notification. VNPay retries
// until it receives RspCode 00 or 02.
func (s *Server) handleVNPayIPN(w http.ResponseWriter, r *http.Request) {
	in, parsed := s.reconcileInbound(r, pay.ProviderVNPay)
	if !parsed {
		writeJSON(w, http.StatusOK, vnpayUnknownError)
		return
	}
	writeJSON(w, http.StatusOK, vnpayIPNResponse(in.out, in.err))
}

func vnpayIPNResponse(out reconcile.Outcome, err error) pay.VNPayIPNResponse {
	switch {
	case errors.Is(err, reconcile.ErrBadSignature):
		return vnpayInvalidChecksum
	case errors.Is(err, reconcile.ErrUnresolvable):
		return vnpayOrderNotFound
	case errors.Is(err, reconcile.ErrAmountMismatch):
		return vnpayInvalidAmount
	case isInvalidTransition(err):
		return vnpayAlreadyConfirmed
	case err != nil:
		return vnpayUnknownError
	case out.Reason == reconcile.ReasonAlreadyApplied:
		return vnpayAlreadyConfirmed
	}
	return vnpayConfirmed
}

// handleVNPayReturn finishes the browser redirect and forwards the renter
// to the frontend result page.
func (s *Server) handleVNPayReturn(w http.ResponseWriter, r *http.Request) {
	in, parsed := s.reconcileInbound(r, pay.ProviderVNPay)
	result := "failed"
	if parsed && in.err == nil && in.out.State == reconcile.StateApplied {
		result = "success"
	}
	if s.cfg.FrontendResultURL == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": result, "booking_id": in.out.BookingID})
		return
	}
	target, perr := url.Parse(s.cfg.FrontendResultURL)
	if perr != nil {
		s.logger.Error("invalid frontend result url", "err", perr)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	q := target.Query()
	q.Set("status", result)
	q.Set("provider", pay.ProviderVNPay)
	if in.out.BookingID > 0 {
		q.Set("booking_id", strconv.FormatInt(in.out.BookingID, 10))
	}
	if in.n.OrderCode != "" {
		q.Set("order_code", in.n.OrderCode)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handlePayOSWebhook always acknowledges terminal failures with 200 so PayOS
// stops retrying. Only store failures ask for a retry.
func (s *Server) handlePayOSWebhook(w http.ResponseWriter, r *http.Request) {
	in, parsed := s.reconcileInbound(r, pay.ProviderPayOS)
	if !parsed {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if in.err != nil && !terminal(in.err) {
		writeError(w, http.StatusInternalServerError, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": in.err == nil, "state": in.out.State})
}

func (s *Server) handleSePayWebhook(w http.ResponseWriter, r *http.Request) {
	in, parsed := s.reconcileInbound(r, pay.ProviderSePay)
	switch {
	case !parsed:
		writeError(w, http.StatusBadRequest, "invalid payload")
	case errors.Is(in.err, reconcile.ErrBadSignature):
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"success": false})
	case in.err != nil && !terminal(in.err):
		writeError(w, http.StatusInternalServerError, "temporarily unavailable")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
