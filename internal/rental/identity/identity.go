// Package identity carries the authenticated caller through request contexts.
// Tokens are issued elsewhere; this service only reads them.
package identity

import "context"

// Roles understood by the rental module.
const (
	RoleRenter = "renter"
	RoleStaff  = "staff"
	RoleAdmin  = "admin"
)

// Identity is the caller extracted from a verified token.
type Identity struct {
	UserID int64
	Role   string
}

// IsStaff reports whether the caller may act on other users' bookings.
func (i Identity) IsStaff() bool {
	return i.Role == RoleStaff || i.Role == RoleAdmin
}

type ctxKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the caller stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
