package pay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	sepayDefaultQRURL = "https://qr.sepay.vn/img"
	sepayAuthScheme   = "Apikey "
	sepayTransferIn   = "in"
	sepayMaxBodySize  = 1 << 20
)

// SePayConfig configures the bank transfer feed.
type SePayConfig struct {
	APIKey string
	// Keyword prefixes the booking id in the transfer memo, e.g. RENT26.
	Keyword       string
	AccountNumber string
	BankCode      string
	QRURL         string
	Logger        *slog.Logger
}

// SePay handles bank transfer notifications. One endpoint receives both
// incoming and outgoing transfers.
type SePay struct {
	cfg     SePayConfig
	memoRef *regexp.Regexp
	logger  *slog.Logger
}

// NewSePay validates cfg and builds the adapter.
func NewSePay(cfg SePayConfig) (*SePay, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.Keyword) == "" {
		return nil, fmt.Errorf("sepay: api_key/keyword are required")
	}
	if strings.TrimSpace(cfg.AccountNumber) == "" || strings.TrimSpace(cfg.BankCode) == "" {
		return nil, fmt.Errorf("sepay: account_number/bank_code are required")
	}
	if cfg.QRURL == "" {
		cfg.QRURL = sepayDefaultQRURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SePay{
		cfg:     cfg,
		memoRef: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(cfg.Keyword) + `\s*(\d+)`),
		logger:  logger.With("provider", ProviderSePay),
	}, nil
}

func (s *SePay) Name() string { return ProviderSePay }

// Memo returns the transfer content the renter must use.
func (s *SePay) Memo(bookingID int64) string {
	return strings.ToUpper(s.cfg.Keyword) + strconv.FormatInt(bookingID, 10)
}

// BuildCheckout returns a VietQR image with the amount and memo prefilled.
func (s *SePay) BuildCheckout(_ context.Context, req CheckoutRequest) (Checkout, error) {
	if req.BookingID <= 0 || req.Amount <= 0 {
		return Checkout{}, fmt.Errorf("sepay: booking id and amount must be positive")
	}
	memo := s.Memo(req.BookingID)
	q := url.Values{}
	q.Set("acc", s.cfg.AccountNumber)
	q.Set("bank", s.cfg.BankCode)
	q.Set("amount", strconv.FormatInt(req.Amount, 10))
	q.Set("des", memo)
	link := s.cfg.QRURL + "?" + q.Encode()
	return Checkout{Provider: ProviderSePay, URL: link, OrderCode: memo, QRCode: link}, nil
}

type sepayWebhook struct {
	ID              int64   `json:"id"`
	Gateway         string  `json:"gateway"`
	TransactionDate string  `json:"transactionDate"`
	AccountNumber   string  `json:"accountNumber"`
	Code            *string `json:"code"`
	Content         string  `json:"content"`
	TransferType    string  `json:"transferType"`
	TransferAmount  int64   `json:"transferAmount"`
	ReferenceCode   string  `json:"referenceCode"`
	Description     string  `json:"description"`
}

// ParseInbound authenticates the API key header and extracts the booking
// id from the memo by keyword pattern. A memo without the pattern leaves
// the notification unresolvable.
func (s *SePay) ParseInbound(r *http.Request) (Notification, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, sepayMaxBodySize))
	if err != nil {
		return Notification{}, fmt.Errorf("%w: read body: %v", ErrMalformed, err)
	}
	var hook sepayWebhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	auth := r.Header.Get("Authorization")
	n := Notification{
		Provider:      ProviderSePay,
		Reference:     hook.ReferenceCode,
		ExplicitOnly:  true,
		Amount:        hook.TransferAmount,
		Description:   hook.Content,
		Verified:      s.authorized(auth),
		Signature:     maskKey(auth),
		Direction:     DirectionDebit,
		Success:       true,
		TransactionID: strconv.FormatInt(hook.ID, 10),
		Raw:           raw,
	}
	if strings.EqualFold(hook.TransferType, sepayTransferIn) {
		n.Direction = DirectionCredit
	}
	if id, ok := s.bookingFromMemo(hook.Content); ok {
		n.BookingID = &id
	} else if hook.Code != nil {
		if id, ok := s.bookingFromMemo(*hook.Code); ok {
			n.BookingID = &id
		}
	}
	if !n.Verified {
		s.logger.Warn("api key mismatch", "transaction_id", n.TransactionID)
	}
	return n, nil
}

func (s *SePay) authorized(header string) bool {
	if len(header) < len(sepayAuthScheme) || !strings.EqualFold(header[:len(sepayAuthScheme)], sepayAuthScheme) {
		return false
	}
	key := strings.TrimSpace(header[len(sepayAuthScheme):])
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) == 1
}

func (s *SePay) bookingFromMemo(memo string) (int64, bool) {
	m := s.memoRef.FindStringSubmatch(memo)
	if len(m) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func maskKey(header string) string {
	if header == "" {
		return ""
	}
	if len(header) <= 12 {
		return "***"
	}
	return header[:10] + "***"
}
