package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/bundle-pricing/internal/domain/money"
	"github.com/xenking/bundle-pricing/internal/domain/order"
	"github.com/xenking/bundle-pricing/internal/domain/orderline"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, currency, scale, total, created_at)
	VALUES ($1, $2, $3, $4, $5)`
	insertItemSQL = `INSERT INTO order_items (order_id, position, sku, quantity, amount)
	VALUES ($1, $2, $3, $4, $5)`
	insertLineSQL = `INSERT INTO order_lines (id, order_id, item_position, parent_id, position, sku, quantity, unit_amount)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	selectOrderSQL = `SELECT currency, scale, total, created_at FROM orders WHERE id = $1`
	selectItemsSQL = `SELECT sku, quantity, amount FROM order_items
	WHERE order_id = $1 ORDER BY position`
	selectLinesSQL = `SELECT id, item_position, parent_id, position, sku, quantity, unit_amount FROM order_lines
	WHERE order_id = $1 ORDER BY item_position, position`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists an order, its items and every materialized line in one
// transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	lines := flattenLines(o.Items, uuid.NewString)

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.Currency.Code, o.Currency.Scale, o.Total, o.CreatedAt,
		); err != nil {
			return errors.Wrap(err, "insert order")
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(insertItemSQL, o.ID, i, it.SKU, it.Quantity, it.Amount)
		}
		for _, l := range lines {
			batch.Queue(insertLineSQL,
				l.ID, o.ID, l.ItemPosition, l.ParentID, l.Position, l.SKU, l.Quantity, l.UnitAmount,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "insert lines")
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}

	return nil
}

// Get loads an order and rebuilds its line trees.
// Returns order.ErrNotFound when no order has the given ID.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var (
		code      string
		scale     int32
		total     decimal.Decimal
		createdAt time.Time
	)
	err := r.pool.QueryRow(ctx, selectOrderSQL, id).Scan(&code, &scale, &total, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "select order %q", id)
	}

	cur, err := money.Lookup(code)
	if err != nil {
		if cur, err = money.New(code, scale); err != nil {
			return nil, errors.Wrapf(err, "order %q currency", id)
		}
	}

	rows, err := r.pool.Query(ctx, selectItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "select items of order %q", id)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.SKU, &it.Quantity, &it.Amount)
		return it, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan items of order %q", id)
	}

	rows, err = r.pool.Query(ctx, selectLinesSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "select lines of order %q", id)
	}
	lines, err := pgx.CollectRows(rows, pgx.RowToStructByPos[lineRow])
	if err != nil {
		return nil, errors.Wrapf(err, "scan lines of order %q", id)
	}

	trees, err := buildLines(lines, len(items))
	if err != nil {
		return nil, errors.Wrapf(err, "rebuild lines of order %q", id)
	}
	for i := range items {
		items[i].Lines = trees[i]
	}

	return &order.Order{
		ID:        id,
		Currency:  cur,
		Items:     items,
		Total:     total,
		CreatedAt: createdAt,
	}, nil
}

// lineRow mirrors an order_lines row, columns in select order.
type lineRow struct {
	ID           string
	ItemPosition int
	ParentID     *string
	Position     int
	SKU          string
	Quantity     int64
	UnitAmount   decimal.Decimal
}

// flattenLines lays out the line trees of items depth first, parents before
// their constituents.
func flattenLines(items []order.Item, newID func() string) []lineRow {
	var rows []lineRow
	for i, it := range items {
		pos := 0
		var walk func(lines []orderline.OrderLine, parent *string)
		walk = func(lines []orderline.OrderLine, parent *string) {
			for _, l := range lines {
				id := newID()
				rows = append(rows, lineRow{
					ID:           id,
					ItemPosition: i,
					ParentID:     parent,
					Position:     pos,
					SKU:          l.SKU,
					Quantity:     l.Quantity,
					UnitAmount:   l.UnitAmount,
				})
				pos++
				walk(l.BundleItems, &id)
			}
		}
		walk(it.Lines, nil)
	}
	return rows
}

// buildLines reverses flattenLines. Rows must be ordered by item and
// position.
func buildLines(rows []lineRow, items int) ([][]orderline.OrderLine, error) {
	type node struct {
		line     orderline.OrderLine
		children []*node
	}

	byID := make(map[string]*node, len(rows))
	roots := make([][]*node, items)
	for _, r := range rows {
		if r.ItemPosition < 0 || r.ItemPosition >= items {
			return nil, errors.Errorf("line %s: item position %d out of range", r.ID, r.ItemPosition)
		}

		n := &node{line: orderline.OrderLine{SKU: r.SKU, Quantity: r.Quantity, UnitAmount: r.UnitAmount}}
		byID[r.ID] = n

		if r.ParentID == nil {
			roots[r.ItemPosition] = append(roots[r.ItemPosition], n)
			continue
		}
		parent, ok := byID[*r.ParentID]
		if !ok {
			return nil, errors.Errorf("line %s: parent %s precedes no row", r.ID, *r.ParentID)
		}
		parent.children = append(parent.children, n)
	}

	var convert func(ns []*node) []orderline.OrderLine
	convert = func(ns []*node) []orderline.OrderLine {
		if len(ns) == 0 {
			return nil
		}
		out := make([]orderline.OrderLine, len(ns))
		for i, n := range ns {
			out[i] = n.line
			out[i].BundleItems = convert(n.children)
		}
		return out
	}

	out := make([][]orderline.OrderLine, items)
	for i := range roots {
		out[i] = convert(roots[i])
	}
	return out, nil
}
