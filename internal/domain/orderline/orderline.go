// Package orderline turns priced cart items, including nested product
// bundles, into order lines whose unit prices add up exactly to the price
// the customer was quoted.
package orderline

import (
	"github.com/shopspring/decimal"
)

// PricedNode is one already-priced cart item. For a bundle, ExtendedAmount
// is the total to divide among Children, and each child's own
// ExtendedAmount serves only as its relative weight.
type PricedNode struct {
	SKU            string
	Quantity       int64
	ExtendedAmount decimal.Decimal
	Bundle         bool
	Children       []PricedNode
}

// Leaf builds a non-bundle node.
func Leaf(sku string, quantity int64, amount decimal.Decimal) PricedNode {
	return PricedNode{SKU: sku, Quantity: quantity, ExtendedAmount: amount}
}

// NewBundle builds a bundle node over the given constituents.
func NewBundle(sku string, quantity int64, amount decimal.Decimal, children ...PricedNode) PricedNode {
	return PricedNode{
		SKU:            sku,
		Quantity:       quantity,
		ExtendedAmount: amount,
		Bundle:         true,
		Children:       children,
	}
}

// OrderLine is a materialized line. Leaves carry an exact UnitAmount;
// on bundle lines UnitAmount is the bundle amount per unit, rounded, and
// is informational only.
type OrderLine struct {
	SKU         string
	Quantity    int64
	UnitAmount  decimal.Decimal
	BundleItems []OrderLine
}

// IsBundle reports whether the line has constituent lines.
func (l OrderLine) IsBundle() bool {
	return len(l.BundleItems) > 0
}

// Amount returns the exact money carried by the line: quantity times unit
// amount for a leaf, the sum of its constituents for a bundle.
func (l OrderLine) Amount() decimal.Decimal {
	if !l.IsBundle() {
		return l.UnitAmount.Mul(decimal.NewFromInt(l.Quantity))
	}
	return Total(l.BundleItems)
}

// Total sums Amount over lines.
func Total(lines []OrderLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount())
	}
	return sum
}

// Leaves flattens lines to their non-bundle lines, depth first.
func Leaves(lines []OrderLine) []OrderLine {
	var out []OrderLine
	for _, l := range lines {
		if l.IsBundle() {
			out = append(out, Leaves(l.BundleItems)...)
			continue
		}
		out = append(out, l)
	}
	return out
}
