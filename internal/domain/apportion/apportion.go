// Package apportion divides a currency amount among weighted constituents so
// that the parts sum exactly to the whole.
//
// Shares are computed with the largest-remainder method over integer
// minimal units: every constituent first receives the floor of its exact
// proportional share, then the leftover units go one each to the
// constituents with the largest fractional remainders. Ties are broken by
// constituent order, which keeps the result deterministic.
package apportion

import (
	"math/big"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bundle-pricing/internal/domain/money"
)

// ZeroWeightPolicy decides how a positive amount is divided when every
// weight is zero.
type ZeroWeightPolicy int

const (
	// SpreadEvenly treats all-zero weights as equal weights.
	SpreadEvenly ZeroWeightPolicy = iota
	// Reject fails with ErrZeroWeights.
	Reject
)

// ParseZeroWeightPolicy parses "spread" or "reject".
func ParseZeroWeightPolicy(s string) (ZeroWeightPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "spread":
		return SpreadEvenly, nil
	case "reject":
		return Reject, nil
	default:
		return 0, errors.Errorf("unknown zero weight policy %q", s)
	}
}

func (p ZeroWeightPolicy) String() string {
	switch p {
	case SpreadEvenly:
		return "spread"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

var (
	// ErrNoWeights is returned when there is nothing to apportion to.
	ErrNoWeights = errors.New("no weights to apportion to")
	// ErrNegativeAmount is returned for a negative total.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrNegativeWeight is returned when any weight is negative.
	ErrNegativeWeight = errors.New("weight must not be negative")
	// ErrZeroWeights is returned under the Reject policy when a positive
	// total meets all-zero weights.
	ErrZeroWeights = errors.New("cannot apportion a positive amount across zero weights")
)

// Calculator apportions amounts of a single currency.
type Calculator struct {
	currency money.Currency
	policy   ZeroWeightPolicy
}

// NewCalculator returns a Calculator for the given currency and zero-weight
// policy.
func NewCalculator(currency money.Currency, policy ZeroWeightPolicy) *Calculator {
	return &Calculator{currency: currency, policy: policy}
}

// Currency returns the currency the calculator works in.
func (c *Calculator) Currency() money.Currency {
	return c.currency
}

// Apportion splits total across weights. The result has the same length as
// weights and sums exactly to total. Weights may carry any decimal
// precision; total must be a whole number of minimal units.
func (c *Calculator) Apportion(total decimal.Decimal, weights []decimal.Decimal) ([]decimal.Decimal, error) {
	if len(weights) == 0 {
		return nil, ErrNoWeights
	}
	if err := money.CheckRange(total); err != nil {
		return nil, errors.Wrap(err, "total")
	}
	if total.IsNegative() {
		return nil, errors.Wrapf(ErrNegativeAmount, "total %s", total)
	}

	units, err := c.currency.ToUnits(total)
	if err != nil {
		return nil, errors.Wrap(err, "total")
	}

	w, err := weightUnits(weights)
	if err != nil {
		return nil, err
	}

	shares, err := Units(units, w, c.policy)
	if err != nil {
		return nil, err
	}

	out := make([]decimal.Decimal, len(shares))
	for i, s := range shares {
		out[i] = c.currency.FromUnits(s)
	}
	return out, nil
}

// weightUnits brings every weight to the smallest exponent among them so
// they compare as integers without changing their ratios.
func weightUnits(weights []decimal.Decimal) ([]*big.Int, error) {
	exp := int32(0)
	for i, w := range weights {
		if err := money.CheckRange(w); err != nil {
			return nil, errors.Wrapf(err, "weight %d", i)
		}
		if w.IsNegative() {
			return nil, errors.Wrapf(ErrNegativeWeight, "weight %d is %s", i, w)
		}
		if w.Exponent() < exp {
			exp = w.Exponent()
		}
	}

	out := make([]*big.Int, len(weights))
	for i, w := range weights {
		out[i] = w.Shift(-exp).BigInt()
	}
	return out, nil
}

// Units apportions total minimal units across integer weights.
func Units(total *big.Int, weights []*big.Int, policy ZeroWeightPolicy) ([]*big.Int, error) {
	if len(weights) == 0 {
		return nil, ErrNoWeights
	}
	if total.Sign() < 0 {
		return nil, errors.Wrapf(ErrNegativeAmount, "total %s units", total)
	}

	sum := new(big.Int)
	for i, w := range weights {
		if w.Sign() < 0 {
			return nil, errors.Wrapf(ErrNegativeWeight, "weight %d is %s", i, w)
		}
		sum.Add(sum, w)
	}

	if sum.Sign() == 0 {
		if total.Sign() == 0 {
			return zeros(len(weights)), nil
		}
		if policy == Reject {
			return nil, ErrZeroWeights
		}
		weights = equalWeights(len(weights))
		sum.SetInt64(int64(len(weights)))
	}

	shares := make([]*big.Int, len(weights))
	remainders := make([]*big.Int, len(weights))
	leftover := new(big.Int).Set(total)
	for i, w := range weights {
		num := new(big.Int).Mul(total, w)
		q, r := new(big.Int).QuoRem(num, sum, new(big.Int))
		shares[i] = q
		remainders[i] = r
		leftover.Sub(leftover, q)
	}

	// The sum of the dropped fractions is an integer below len(weights).
	n := int(leftover.Int64())
	if n == 0 {
		return shares, nil
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return remainders[b].Cmp(remainders[a])
	})

	one := big.NewInt(1)
	for _, i := range order[:n] {
		shares[i].Add(shares[i], one)
	}
	return shares, nil
}

func zeros(n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = new(big.Int)
	}
	return out
}

func equalWeights(n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = big.NewInt(1)
	}
	return out
}
