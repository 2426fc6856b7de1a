// Package admission meters the storage one record insertion consumes and
// refuses mutations whose attached payment does not cover it.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neardns/neardns/pkg/record"
)

const (
	// ProbeKeyLen is the longest owner identity the probe accounts for.
	ProbeKeyLen = 64
	// ProbeValueLen is the longest record value the probe accounts for.
	ProbeValueLen = 64
)

// ErrInsufficientPayment matches every *InsufficientPaymentError via errors.Is.
var ErrInsufficientPayment = errors.New("insufficient payment")

// InsufficientPaymentError is returned when the attached payment is below
// the cost of one insertion.
type InsufficientPaymentError struct {
	Attached record.Amount
	Required record.Amount
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("attached deposit '%d' < cost_of_insertion '%d'", e.Attached, e.Required)
}

func (e *InsufficientPaymentError) Is(target error) bool {
	return target == ErrInsufficientPayment
}

// IsInsufficientPayment unwraps err looking for an InsufficientPaymentError.
func IsInsufficientPayment(err error) (*InsufficientPaymentError, bool) {
	var e *InsufficientPaymentError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Prober is the part of a backend Measure needs.
type Prober interface {
	Get(ctx context.Context, ns, key string) (string, bool, error)
	Insert(ctx context.Context, ns, key, value string) (bool, error)
	Remove(ctx context.Context, ns, key string) (bool, error)
	Usage(ctx context.Context) (uint64, error)
}

// Measure inserts a maximal probe entry into ns, returns the usage it added
// and removes it again. The backend is left exactly as it was found.
func Measure(ctx context.Context, p Prober, ns string) (record.Amount, error) {
	key := strings.Repeat("a", ProbeKeyLen)
	value := strings.Repeat("a", ProbeValueLen)

	if _, exists, err := p.Get(ctx, ns, key); err != nil {
		return 0, fmt.Errorf("probe lookup: %w", err)
	} else if exists {
		return 0, fmt.Errorf("probe key already present in namespace %q", ns)
	}

	before, err := p.Usage(ctx)
	if err != nil {
		return 0, fmt.Errorf("usage before probe: %w", err)
	}
	if _, err := p.Insert(ctx, ns, key, value); err != nil {
		return 0, fmt.Errorf("insert probe: %w", err)
	}
	after, err := p.Usage(ctx)
	if err != nil {
		_, _ = p.Remove(ctx, ns, key)
		return 0, fmt.Errorf("usage after probe: %w", err)
	}
	if _, err := p.Remove(ctx, ns, key); err != nil {
		return 0, fmt.Errorf("remove probe: %w", err)
	}
	restored, err := p.Usage(ctx)
	if err != nil {
		return 0, fmt.Errorf("usage after removal: %w", err)
	}

	if after <= before {
		return 0, fmt.Errorf("probe did not consume storage (before %d, after %d)", before, after)
	}
	if restored != before {
		return 0, fmt.Errorf("probe removal left usage at %d, want %d", restored, before)
	}
	return record.Amount(after - before), nil
}

// Gate holds the measured cost. It is immutable and safe for concurrent use.
type Gate struct {
	cost record.Amount
}

func NewGate(cost record.Amount) *Gate {
	return &Gate{cost: cost}
}

// Cost returns cost_of_insertion.
func (g *Gate) Cost() record.Amount {
	return g.cost
}

// Check returns nil when attached covers the cost.
func (g *Gate) Check(attached record.Amount) error {
	if attached < g.cost {
		return &InsufficientPaymentError{Attached: attached, Required: g.cost}
	}
	return nil
}
