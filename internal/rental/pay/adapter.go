package pay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Provider names.
const (
	ProviderVNPay = "vnpay"
	ProviderPayOS = "payos"
	ProviderSePay = "sepay"
)

// Transfer directions reported by bank feeds.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// ErrMalformed is returned when an inbound call cannot be parsed at all.
var ErrMalformed = errors.New("pay: malformed notification")

// Notification is the provider-neutral shape of an inbound payment call.
type Notification struct {
	Provider  string
	OrderCode string
	// BookingID is set only when the provider carried it explicitly.
	BookingID *int64
	// ExplicitOnly forbids recovering the booking from Description or
	// OrderCode when BookingID is absent.
	ExplicitOnly bool
	// Reference is the provider's own transaction reference, kept for the
	// audit log only.
	Reference     string
	Amount        int64
	Description   string
	Verified      bool
	Signature     string
	Direction     string
	Success       bool
	TransactionID string
	Raw           []byte
}

// Credit reports whether the notification moves money towards us.
func (n Notification) Credit() bool {
	return n.Direction == "" || n.Direction == DirectionCredit
}

// CheckoutRequest describes the payment to start for a booking.
type CheckoutRequest struct {
	BookingID   int64
	Amount      int64
	Description string
	ClientIP    string
}

// Checkout is what the renter is sent to.
type Checkout struct {
	Provider  string `json:"provider"`
	URL       string `json:"checkout_url"`
	OrderCode string `json:"order_code"`
	QRCode    string `json:"qr_code,omitempty"`
}

// Adapter normalises one payment provider.
type Adapter interface {
	Name() string
	BuildCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	// ParseInbound reads a provider call. A bad signature is reported through
	// Notification.Verified, not as an error.
	ParseInbound(r *http.Request) (Notification, error)
}

// GatewayError captures a non-successful provider API response.
type GatewayError struct {
	Provider   string
	StatusCode int
	Code       string
	Body       string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: code %s: %s", e.Provider, e.Code, trim(e.Body, 512))
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, trim(e.Body, 512))
}

func trim(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
