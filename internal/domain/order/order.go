package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bundle-pricing/internal/domain/money"
	"github.com/xenking/bundle-pricing/internal/domain/orderline"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is a cart whose items have been materialized into priced order lines.
type Order struct {
	ID        string
	Currency  money.Currency
	Items     []Item
	Total     decimal.Decimal
	CreatedAt time.Time
}

// Item is one top-level cart item and the lines it materialized into.
// A non-bundle item may hold two lines of the same SKU at adjacent prices.
type Item struct {
	SKU      string
	Quantity int64
	Amount   decimal.Decimal
	Lines    []orderline.OrderLine
}

// LineCount returns the number of leaf lines across all items.
func (o *Order) LineCount() int {
	n := 0
	for _, it := range o.Items {
		n += len(orderline.Leaves(it.Lines))
	}
	return n
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
}
