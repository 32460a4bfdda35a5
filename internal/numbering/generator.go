// Package numbering issues period-scoped sequential document numbers such as
// PO-202501-0001.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// Document prefixes.
const (
	PrefixPurchaseRequest = "PR"
	PrefixPurchaseOrder   = "PO"
	PrefixGoodsReceipt    = "GR"
	PrefixPutAway         = "PA"
	PrefixPickingOrder    = "PK"
	PrefixSupplierInvoice = "SI"
	PrefixPayment         = "PAY"
)

var (
	// ErrInvalidPrefix is returned for prefixes outside [A-Z]{2,5}.
	ErrInvalidPrefix = errors.New("numbering: invalid prefix")
	// ErrMalformedNumber is returned by Parse.
	ErrMalformedNumber = errors.New("numbering: malformed document number")

	prefixPattern = regexp.MustCompile(`^[A-Z]{2,5}$`)
)

// Store hands out the next counter value for a scope. Implementations must hold
// an exclusive lock on the scope for the rest of the caller's transaction.
type Store interface {
	Next(ctx context.Context, scope string) (int64, error)
}

// Generator formats counter values into document numbers.
type Generator struct {
	store Store
	clock shared.Clock
}

// NewGenerator constructs a Generator.
func NewGenerator(store Store, clock shared.Clock) *Generator {
	return &Generator{store: store, clock: shared.ClockOrSystem(clock)}
}

// Generate returns the next number for prefix in the current period. It must
// run inside the transaction that persists the document, so a rollback also
// releases the number.
func (g *Generator) Generate(ctx context.Context, prefix string) (string, error) {
	if !prefixPattern.MatchString(prefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	period := g.clock.Now().Format("200601")
	scope := prefix + "-" + period
	seq, err := g.store.Next(ctx, scope)
	if err != nil {
		return "", fmt.Errorf("numbering: next %s: %w", scope, err)
	}
	return Format(prefix, period, seq), nil
}

// Format renders prefix, period and sequence. Sequences past 9999 widen.
func Format(prefix, period string, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, period, seq)
}

// Number is a parsed document number.
type Number struct {
	Prefix   string
	Period   string
	Sequence int64
}

// Parse splits a document number produced by Format.
func Parse(number string) (Number, error) {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || !prefixPattern.MatchString(parts[0]) || len(parts[1]) != 6 || len(parts[2]) < 4 {
		return Number{}, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	if _, err := strconv.Atoi(parts[1]); err != nil {
		return Number{}, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq <= 0 {
		return Number{}, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	return Number{Prefix: parts[0], Period: parts[1], Sequence: seq}, nil
}
