package orderline

import (
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/xenking/bundle-pricing/internal/domain/apportion"
	"github.com/xenking/bundle-pricing/internal/domain/money"
)

// DefaultMaxDepth bounds bundle nesting when no WithMaxDepth option is given.
const DefaultMaxDepth = 32

// LineFactory builds the OrderLine for one materialized item. The
// materializer fills BundleItems on bundle lines after the factory returns.
type LineFactory func(sku string, quantity int64, unitAmount decimal.Decimal) OrderLine

// NewLine is the default LineFactory.
func NewLine(sku string, quantity int64, unitAmount decimal.Decimal) OrderLine {
	return OrderLine{SKU: sku, Quantity: quantity, UnitAmount: unitAmount}
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithLineFactory replaces the function used to build each line.
func WithLineFactory(f LineFactory) Option {
	return func(m *Materializer) {
		if f != nil {
			m.newLine = f
		}
	}
}

// WithMaxDepth sets the bundle nesting limit.
func WithMaxDepth(n int) Option {
	return func(m *Materializer) {
		if n > 0 {
			m.maxDepth = n
		}
	}
}

// WithZeroWeightPolicy sets how a bundle whose constituents all weigh zero
// is apportioned.
func WithZeroWeightPolicy(p apportion.ZeroWeightPolicy) Option {
	return func(m *Materializer) {
		m.policy = p
	}
}

// Materializer prices the constituents of priced trees for one currency.
// It holds no mutable state and is safe for concurrent use.
type Materializer struct {
	currency money.Currency
	policy   apportion.ZeroWeightPolicy
	newLine  LineFactory
	maxDepth int
	calc     *apportion.Calculator
}

// NewMaterializer creates a Materializer for the given currency.
func NewMaterializer(currency money.Currency, opts ...Option) *Materializer {
	m := &Materializer{
		currency: currency,
		policy:   apportion.SpreadEvenly,
		newLine:  NewLine,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.calc = apportion.NewCalculator(currency, m.policy)
	return m
}

// Currency returns the currency lines are priced in.
func (m *Materializer) Currency() money.Currency {
	return m.currency
}

// Materialize prices node with the given allocated amount. A bundle yields
// one line holding its constituents; a leaf yields one line, or two lines of
// the same SKU one minimal unit apart when the amount does not divide
// evenly by the quantity. Nothing is returned unless the whole tree is valid.
func (m *Materializer) Materialize(node PricedNode, allocated decimal.Decimal) ([]OrderLine, error) {
	if err := m.check(node, allocated, ""); err != nil {
		return nil, err
	}
	return m.materialize(node, allocated, "")
}

// MaterializeRoot prices a top-level cart item at its own extended amount.
func (m *Materializer) MaterializeRoot(node PricedNode) ([]OrderLine, error) {
	return m.Materialize(node, node.ExtendedAmount)
}

// MaterializeCart prices every root at its extended amount and returns one
// slice of lines per root, in input order. All roots are validated before
// any is priced.
func (m *Materializer) MaterializeCart(roots []PricedNode) ([][]OrderLine, error) {
	for i, root := range roots {
		if err := m.check(root, root.ExtendedAmount, strconv.Itoa(i)); err != nil {
			return nil, err
		}
	}

	out := make([][]OrderLine, len(roots))
	for i, root := range roots {
		lines, err := m.materialize(root, root.ExtendedAmount, strconv.Itoa(i))
		if err != nil {
			return nil, err
		}
		out[i] = lines
	}
	return out, nil
}

// Check validates node and its allocation without pricing anything.
func (m *Materializer) Check(node PricedNode, allocated decimal.Decimal) error {
	return m.check(node, allocated, "")
}

func (m *Materializer) check(node PricedNode, allocated decimal.Decimal, path string) error {
	if err := validate(node, path, 1, m.maxDepth); err != nil {
		return err
	}
	if allocated.IsNegative() {
		return &InvalidNodeError{Path: path, SKU: node.SKU, Err: ErrNegativeAmount}
	}
	if err := money.CheckRange(allocated); err != nil {
		return &InvalidNodeError{Path: path, SKU: node.SKU, Err: err}
	}
	if !m.currency.Representable(allocated) {
		return &InvalidNodeError{
			Path: path,
			SKU:  node.SKU,
			Err:  &money.PrecisionError{Amount: allocated, Currency: m.currency.Code},
		}
	}
	return nil
}

func (m *Materializer) materialize(node PricedNode, allocated decimal.Decimal, path string) ([]OrderLine, error) {
	if !node.Bundle {
		return m.splitLeaf(node, allocated, path)
	}

	weights := make([]decimal.Decimal, len(node.Children))
	for i, child := range node.Children {
		weights[i] = child.ExtendedAmount
	}

	shares, err := m.calc.Apportion(allocated, weights)
	if err != nil {
		return nil, &InvalidNodeError{Path: path, SKU: node.SKU, Err: err}
	}

	var items []OrderLine
	for i, child := range node.Children {
		lines, err := m.materialize(child, shares[i], childPath(path, i))
		if err != nil {
			return nil, err
		}
		items = append(items, lines...)
	}

	unit := allocated.DivRound(decimal.NewFromInt(node.Quantity), m.currency.Scale)
	line := m.newLine(node.SKU, node.Quantity, unit)
	line.BundleItems = items
	return []OrderLine{line}, nil
}

// splitLeaf divides allocated by the leaf quantity. When the division
// leaves r minimal units over, r units are priced one minimal unit higher
// than the rest, so two price tiers always cover the remainder.
func (m *Materializer) splitLeaf(node PricedNode, allocated decimal.Decimal, path string) ([]OrderLine, error) {
	units, err := m.currency.ToUnits(allocated)
	if err != nil {
		return nil, &InvalidNodeError{Path: path, SKU: node.SKU, Err: err}
	}

	unitFloor, rem := new(big.Int).QuoRem(units, big.NewInt(node.Quantity), new(big.Int))
	base := m.currency.FromUnits(unitFloor)
	if rem.Sign() == 0 {
		return []OrderLine{m.newLine(node.SKU, node.Quantity, base)}, nil
	}

	bumped := rem.Int64()
	return []OrderLine{
		m.newLine(node.SKU, node.Quantity-bumped, base),
		m.newLine(node.SKU, bumped, base.Add(m.currency.MinimalUnit())),
	}, nil
}
