package pay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	vnpayDefaultPayURL = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"
	vnpayVersion       = "2.1.0"
	vnpayAmountFactor  = 100
	vnpayTimeLayout    = "20060102150405"
	vnpaySuccessCode   = "00"
)

// VNPayConfig configures the redirect-style gateway.
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	// PayURL is the hosted payment page. Defaults to the sandbox.
	PayURL string
	// ReturnURL is where the browser lands after paying (our return handler).
	ReturnURL string
	Locale    string
	// ExpireAfter bounds how long the payment page stays valid.
	ExpireAfter time.Duration

	Now    func() time.Time
	Nonce  func() string
	Logger *slog.Logger
}

// VNPay signs redirect URLs and verifies the signed query it gets back on
// the return URL and the IPN call.
type VNPay struct {
	cfg    VNPayConfig
	logger *slog.Logger
}

// NewVNPay validates cfg and builds the adapter.
func NewVNPay(cfg VNPayConfig) (*VNPay, error) {
	if strings.TrimSpace(cfg.TmnCode) == "" || strings.TrimSpace(cfg.HashSecret) == "" || strings.TrimSpace(cfg.ReturnURL) == "" {
		return nil, fmt.Errorf("vnpay: tmn_code/hash_secret/return_url are required")
	}
	if cfg.PayURL == "" {
		cfg.PayURL = vnpayDefaultPayURL
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Nonce == nil {
		cfg.Nonce = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VNPay{cfg: cfg, logger: logger.With("provider", ProviderVNPay)}, nil
}

func (v *VNPay) Name() string { return ProviderVNPay }

// BuildCheckout returns the signed payment page URL. The transaction
// reference is "<bookingID>_<nonce>".
func (v *VNPay) BuildCheckout(_ context.Context, req CheckoutRequest) (Checkout, error) {
	if req.BookingID <= 0 || req.Amount <= 0 {
		return Checkout{}, fmt.Errorf("vnpay: booking id and amount must be positive")
	}
	loc := time.FixedZone("GMT+7", 7*60*60)
	now := v.cfg.Now().In(loc)
	txnRef := fmt.Sprintf("%d_%s", req.BookingID, v.cfg.Nonce())
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	info := req.Description
	if info == "" {
		info = fmt.Sprintf("Thanh toan don thue %d", req.BookingID)
	}

	params := url.Values{}
	params.Set("vnp_Version", vnpayVersion)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", v.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*vnpayAmountFactor, 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_OrderInfo", info)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", v.cfg.Locale)
	params.Set("vnp_ReturnUrl", v.cfg.ReturnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", now.Format(vnpayTimeLayout))
	params.Set("vnp_ExpireDate", now.Add(v.cfg.ExpireAfter).Format(vnpayTimeLayout))

	// Encode sorts by key; the signature covers exactly the encoded query.
	query := params.Encode()
	hash := SignHMAC(SHA512, query, v.cfg.HashSecret)
	return Checkout{
		Provider:  ProviderVNPay,
		URL:       v.cfg.PayURL + "?" + query + "&vnp_SecureHash=" + hash,
		OrderCode: txnRef,
	}, nil
}

// ParseInbound verifies the signed query of a return or IPN call.
func (v *VNPay) ParseInbound(r *http.Request) (Notification, error) {
	raw := r.URL.RawQuery
	signData, signature := vnpaySigningInput(raw)
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if values.Get("vnp_TxnRef") == "" || values.Get("vnp_Amount") == "" {
		return Notification{}, fmt.Errorf("%w: missing vnp_TxnRef or vnp_Amount", ErrMalformed)
	}

	n := Notification{
		Provider:      ProviderVNPay,
		OrderCode:     values.Get("vnp_TxnRef"),
		Description:   values.Get("vnp_OrderInfo"),
		Signature:     signature,
		Direction:     DirectionCredit,
		TransactionID: values.Get("vnp_TransactionNo"),
		Raw:           []byte(raw),
	}
	n.Verified = signature != "" && VerifyHMAC(SHA512, signData, strings.ToLower(signature), v.cfg.HashSecret)

	scaled, err := strconv.ParseInt(values.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return n, fmt.Errorf("%w: vnp_Amount: %v", ErrMalformed, err)
	}
	n.Amount = scaled / vnpayAmountFactor

	if id, ok := splitTxnRef(n.OrderCode); ok {
		n.BookingID = &id
	}
	n.Success = values.Get("vnp_ResponseCode") == vnpaySuccessCode && values.Get("vnp_TransactionStatus") == vnpaySuccessCode
	if !n.Verified {
		v.logger.Warn("signature mismatch", "txn_ref", n.OrderCode)
	}
	return n, nil
}

// vnpaySigningInput rebuilds the signed string from the raw query: every
// vnp_ pair except the hash fields, sorted by key, values kept exactly as
// received.
func vnpaySigningInput(rawQuery string) (string, string) {
	type pair struct{ key, value string }
	var (
		pairs     []pair
		signature string
	)
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "vnp_SecureHash":
			signature = value
			continue
		case "vnp_SecureHashType":
			continue
		}
		if !strings.HasPrefix(key, "vnp_") {
			continue
		}
		pairs = append(pairs, pair{key, value})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(p.value)
	}
	return b.String(), signature
}

// splitTxnRef extracts the booking id from "<bookingID>_<nonce>".
func splitTxnRef(ref string) (int64, bool) {
	head, _, found := strings.Cut(ref, "_")
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// VNPay IPN response codes.
const (
	VNPayRspConfirmed        = "00"
	VNPayRspOrderNotFound    = "01"
	VNPayRspAlreadyConfirmed = "02"
	VNPayRspInvalidAmount    = "04"
	VNPayRspInvalidChecksum  = "97"
	VNPayRspUnknown          = "99"
)

// VNPayIPNResponse is the JSON body VNPay expects from the IPN endpoint.
type VNPayIPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}
