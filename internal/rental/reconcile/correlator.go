package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"laptopRent/internal/rental/pay"
)

// Resolution strategies, recorded on every resolved notification.
const (
	StrategyExplicit    = "explicit"
	StrategyDescription = "description"
	StrategyOrderCode   = "order_code"
)

// ErrUnresolvable means no strategy produced an existing booking.
var ErrUnresolvable = errors.New("reconcile: booking unresolvable")

// BookingLookup answers existence checks for candidate ids.
type BookingLookup interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// Resolution is a booking id together with the strategy that found it.
type Resolution struct {
	BookingID int64
	Strategy  string
}

// Correlator recovers the booking a notification belongs to.
type Correlator struct {
	lookup    BookingLookup
	suffixLen int
}

// NewCorrelator builds a correlator for order codes carrying a
// pay.OrderCodeSuffixLen digit suffix.
func NewCorrelator(lookup BookingLookup) *Correlator {
	return &Correlator{lookup: lookup, suffixLen: pay.OrderCodeSuffixLen}
}

// Resolve applies the strategies in priority order and the first success
// wins: explicit id, first numeric description token, then order code
// prefixes longest first. An explicit id that does not exist is not
// second-guessed, and explicit-only notifications never fall through.
func (c *Correlator) Resolve(ctx context.Context, n pay.Notification) (Resolution, error) {
	if n.BookingID != nil {
		ok, err := c.exists(ctx, *n.BookingID)
		if err != nil {
			return Resolution{}, err
		}
		if !ok {
			return Resolution{}, fmt.Errorf("%w: booking %d not found", ErrUnresolvable, *n.BookingID)
		}
		return Resolution{BookingID: *n.BookingID, Strategy: StrategyExplicit}, nil
	}
	if n.ExplicitOnly {
		return Resolution{}, fmt.Errorf("%w: no booking reference", ErrUnresolvable)
	}

	id, err := c.fromDescription(ctx, n.Description)
	if err != nil {
		return Resolution{}, err
	}
	if id > 0 {
		return Resolution{BookingID: id, Strategy: StrategyDescription}, nil
	}
	id, err = c.fromOrderCode(ctx, n.OrderCode)
	if err != nil {
		return Resolution{}, err
	}
	if id > 0 {
		return Resolution{BookingID: id, Strategy: StrategyOrderCode}, nil
	}
	return Resolution{}, ErrUnresolvable
}

func (c *Correlator) fromDescription(ctx context.Context, desc string) (int64, error) {
	for _, tok := range strings.Fields(desc) {
		id, ok := parseID(tok)
		if !ok {
			continue
		}
		found, err := c.exists(ctx, id)
		if err != nil {
			return 0, err
		}
		if found {
			return id, nil
		}
	}
	return 0, nil
}

func (c *Correlator) fromOrderCode(ctx context.Context, code string) (int64, error) {
	for _, prefix := range OrderCodeCandidates(code, c.suffixLen) {
		found, err := c.exists(ctx, prefix)
		if err != nil {
			return 0, err
		}
		if found {
			return prefix, nil
		}
	}
	return 0, nil
}

func (c *Correlator) exists(ctx context.Context, id int64) (bool, error) {
	ok, err := c.lookup.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("lookup booking %d: %w", id, err)
	}
	return ok, nil
}

// OrderCodeCandidates lists the booking ids an order code may start with,
// longest first, leaving at least suffixLen trailing digits.
func OrderCodeCandidates(code string, suffixLen int) []int64 {
	code = strings.TrimSpace(code)
	if len(code) <= suffixLen || !allDigits(code) || code[0] == '0' {
		return nil
	}
	out := make([]int64, 0, len(code)-suffixLen)
	for n := len(code) - suffixLen; n >= 1; n-- {
		if id, ok := parseID(code[:n]); ok {
			out = append(out, id)
		}
	}
	return out
}

func parseID(s string) (int64, bool) {
	if s == "" || s[0] == '0' || !allDigits(s) {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
