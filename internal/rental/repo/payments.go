package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// WebhookRecord is one audited payment callback.
type WebhookRecord struct {
	Provider   string
	OrderCode  string
	BookingID  *int64
	Strategy   string
	Outcome    string
	Reason     string
	Signature  string
	Payload    []byte
	ReceivedAt time.Time
}

// PaymentsRepo handles the payment_webhooks audit table.
type PaymentsRepo struct {
	db *sqlx.DB
}

// NewPaymentsRepo creates repo.
func NewPaymentsRepo(db *sqlx.DB) *PaymentsRepo { return &PaymentsRepo{db: db} }

// SaveWebhook stores a callback together with how it was resolved.
func (r *PaymentsRepo) SaveWebhook(ctx context.Context, rec WebhookRecord) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO payment_webhooks (provider, order_code, booking_id, strategy, outcome, reason, signature, body_json, received_at) VALUES (?,?,?,?,?,?,?,?,?)`),
		rec.Provider, rec.OrderCode, nullInt64(rec.BookingID), nullString(rec.Strategy), rec.Outcome, nullString(rec.Reason), nullString(rec.Signature), rec.Payload, rec.ReceivedAt)
	return err
}
