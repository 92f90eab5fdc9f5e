package pay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OrderCodeSuffixLen is the number of trailing timestamp digits appended to
// the booking id to keep order codes unique.
const OrderCodeSuffixLen = 6

const (
	payosDefaultBaseURL = "https://api-merchant.payos.vn"
	payosSuccessCode    = "00"
	orderCodeModulus    = 1_000_000
	payosMaxDescLen     = 25
	payosMaxBodySize    = 1 << 20
)

// PayOSConfig configures the webhook-style gateway.
type PayOSConfig struct {
	ClientID    string
	APIKey      string
	ChecksumKey string
	// BaseURL of the merchant API. Defaults to production.
	BaseURL   string
	ReturnURL string
	CancelURL string

	Client *http.Client
	Logger *slog.Logger
	Now    func() time.Time
}

// PayOS creates payment links and verifies webhook checksums.
type PayOS struct {
	clientID    string
	apiKey      string
	checksumKey string
	baseURL     *url.URL
	returnURL   string
	cancelURL   string

	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewPayOS validates cfg and builds the adapter.
func NewPayOS(cfg PayOSConfig) (*PayOS, error) {
	if strings.TrimSpace(cfg.ClientID) == "" ||
		strings.TrimSpace(cfg.APIKey) == "" ||
		strings.TrimSpace(cfg.ChecksumKey) == "" {
		return nil, fmt.Errorf("payos: client_id/api_key/checksum_key are required")
	}
	if strings.TrimSpace(cfg.ReturnURL) == "" || strings.TrimSpace(cfg.CancelURL) == "" {
		return nil, fmt.Errorf("payos: return_url/cancel_url are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = payosDefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &PayOS{
		clientID:    cfg.ClientID,
		apiKey:      cfg.APIKey,
		checksumKey: cfg.ChecksumKey,
		baseURL:     u,
		returnURL:   cfg.ReturnURL,
		cancelURL:   cfg.CancelURL,
		httpClient:  client,
		logger:      logger.With("provider", ProviderPayOS),
		now:         now,
	}, nil
}

func (p *PayOS) Name() string { return ProviderPayOS }

// OrderCode appends a six digit timestamp fragment to the booking id.
func OrderCode(bookingID int64, at time.Time) int64 {
	return bookingID*orderCodeModulus + at.Unix()%orderCodeModulus
}

type payosCreateRequest struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	CancelURL   string `json:"cancelUrl"`
	ReturnURL   string `json:"returnUrl"`
	Signature   string `json:"signature"`
}

type payosCreateResponse struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
	Data *struct {
		CheckoutURL   string `json:"checkoutUrl"`
		QRCode        string `json:"qrCode"`
		PaymentLinkID string `json:"paymentLinkId"`
	} `json:"data"`
}

// BuildCheckout creates a payment link. The description starts with the
// booking id so the webhook can be correlated from its first token.
func (p *PayOS) BuildCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	logger := p.logger.With("op", "BuildCheckout", "booking_id", req.BookingID)
	if req.BookingID <= 0 || req.Amount <= 0 {
		return Checkout{}, fmt.Errorf("payos: booking id and amount must be positive")
	}
	body := payosCreateRequest{
		OrderCode:   OrderCode(req.BookingID, p.now()),
		Amount:      req.Amount,
		Description: payosDescription(req.BookingID),
		CancelURL:   p.cancelURL,
		ReturnURL:   p.returnURL,
	}
	body.Signature = SignHMAC(SHA256, payosCheckoutSigningInput(body), p.checksumKey)

	payload, err := json.Marshal(body)
	if err != nil {
		return Checkout{}, err
	}
	endpoint := *p.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/v2/payment-requests")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return Checkout{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-client-id", p.clientID)
	httpReq.Header.Set("x-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		logger.Error("request failed", "err", err)
		return Checkout{}, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, payosMaxBodySize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error("unexpected status", "status", resp.StatusCode)
		return Checkout{}, &GatewayError{Provider: ProviderPayOS, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	var parsed payosCreateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Checkout{}, fmt.Errorf("payos: decode response: %w", err)
	}
	if parsed.Code != payosSuccessCode || parsed.Data == nil || parsed.Data.CheckoutURL == "" {
		logger.Error("payment link rejected", "code", parsed.Code, "desc", parsed.Desc)
		return Checkout{}, &GatewayError{Provider: ProviderPayOS, StatusCode: resp.StatusCode, Code: parsed.Code, Body: parsed.Desc}
	}
	logger.Info("payment link created", "order_code", body.OrderCode)
	return Checkout{
		Provider:  ProviderPayOS,
		URL:       parsed.Data.CheckoutURL,
		OrderCode: strconv.FormatInt(body.OrderCode, 10),
		QRCode:    parsed.Data.QRCode,
	}, nil
}

func payosDescription(bookingID int64) string {
	d := fmt.Sprintf("%d THUE LAPTOP", bookingID)
	if len(d) > payosMaxDescLen {
		d = d[:payosMaxDescLen]
	}
	return d
}

func payosCheckoutSigningInput(r payosCreateRequest) string {
	return fmt.Sprintf("amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		r.Amount, r.CancelURL, r.Description, r.OrderCode, r.ReturnURL)
}

type payosWebhook struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

type payosWebhookData struct {
	OrderCode     json.Number `json:"orderCode"`
	Amount        json.Number `json:"amount"`
	Description   string      `json:"description"`
	Reference     string      `json:"reference"`
	Code          string      `json:"code"`
	PaymentLinkID string      `json:"paymentLinkId"`
}

// ParseInbound reads a webhook body and verifies its checksum.
func (p *PayOS) ParseInbound(r *http.Request) (Notification, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, payosMaxBodySize))
	if err != nil {
		return Notification{}, fmt.Errorf("%w: read body: %v", ErrMalformed, err)
	}
	var hook payosWebhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(hook.Data) == 0 || string(hook.Data) == "null" {
		return Notification{}, fmt.Errorf("%w: missing data", ErrMalformed)
	}

	n := Notification{
		Provider:  ProviderPayOS,
		Signature: hook.Signature,
		Direction: DirectionCredit,
		Raw:       raw,
	}
	signData, err := payosDataSigningInput(hook.Data)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n.Verified = hook.Signature != "" && VerifyHMAC(SHA256, signData, hook.Signature, p.checksumKey)

	dec := json.NewDecoder(bytes.NewReader(hook.Data))
	dec.UseNumber()
	var data payosWebhookData
	if err := dec.Decode(&data); err != nil {
		return n, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	n.OrderCode = data.OrderCode.String()
	n.Description = data.Description
	n.TransactionID = data.Reference
	if amount, err := data.Amount.Int64(); err == nil {
		n.Amount = amount
	}
	n.Success = hook.Code == payosSuccessCode && data.Code == payosSuccessCode
	if !n.Verified {
		p.logger.Warn("signature mismatch", "order_code", n.OrderCode)
	}
	return n, nil
}

// payosDataSigningInput renders the data object as "k=v&..." with keys in
// alphabetical order. Nulls become empty strings, nested values stay JSON.
func payosDataSigningInput(data json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return "", err
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch val := obj[k].(type) {
		case nil:
			v = ""
		case string:
			v = val
		case json.Number:
			v = val.String()
		case bool:
			v = strconv.FormatBool(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return "", err
			}
			v = string(b)
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, "&"), nil
}
