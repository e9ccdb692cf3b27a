package order

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bundle-pricing/internal/domain/money"
	"github.com/xenking/bundle-pricing/internal/domain/orderline"
)

const instrumentationName = "github.com/xenking/bundle-pricing/internal/domain/order"

// idempotencyTimeout bounds idempotency bookkeeping that runs after the
// request context may already be canceled.
const idempotencyTimeout = 5 * time.Second

// Sentinel errors for order validation.
var (
	ErrEmptyItems = errors.New("items required")
	ErrInvalidID  = errors.New("invalid order id")
	// ErrRequestInProgress is returned while an earlier request with the same
	// idempotency key is still being placed.
	ErrRequestInProgress = errors.New("request with this idempotency key is in progress")
	// ErrIdempotencyKeyReused is returned when an idempotency key comes back
	// with a different cart than the one it was first used for.
	ErrIdempotencyKeyReused = errors.New("idempotency key was already used for a different cart")
)

// InvalidItemError indicates a cart item that cannot be materialized.
type InvalidItemError struct {
	Index int
	Err   error
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *InvalidItemError) Unwrap() error {
	return e.Err
}

// ConservationError indicates materialized lines that do not add up to the
// item they came from.
type ConservationError struct {
	Index int
	Want  decimal.Decimal
	Got   decimal.Decimal
}

func (e *ConservationError) Error() string {
	return fmt.Sprintf("item %d: lines total %s, want %s", e.Index, e.Got, e.Want)
}

// QuoteRequest holds the input for materializing a cart.
type QuoteRequest struct {
	// Currency is an ISO 4217 code. Empty selects the service default.
	Currency string
	Items    []orderline.PricedNode
	// IdempotencyKey makes PlaceOrder return the order an earlier request
	// with the same key produced. Ignored by Quote.
	IdempotencyKey string
}

// PlaceOrderResult is the outcome of PlaceOrder.
type PlaceOrderResult struct {
	Order *Order
	// Replayed reports that Order was placed by an earlier request with the
	// same idempotency key.
	Replayed bool
}

// IdempotencyRecord is what an IdempotencyStore keeps for a key.
type IdempotencyRecord struct {
	// Fingerprint identifies the cart of the request that claimed the key.
	Fingerprint string
	// OrderID is empty until the claiming request has placed its order.
	OrderID string
}

// IdempotencyStore remembers which order an idempotency key produced.
type IdempotencyStore interface {
	// Claim reserves key for a cart with the given fingerprint. When the key
	// is already taken it returns claimed=false and the existing record.
	Claim(ctx context.Context, key, fingerprint string) (rec IdempotencyRecord, claimed bool, err error)
	// Complete records the order placed under a claimed key.
	Complete(ctx context.Context, key string, rec IdempotencyRecord) error
	// Release drops a claimed key so the request can be retried.
	Release(ctx context.Context, key string) error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDefaultCurrency sets the currency used when a request names none.
func WithDefaultCurrency(c money.Currency) ServiceOption {
	return func(s *Service) {
		s.currency = c
	}
}

// WithMaterializerOptions passes options to every Materializer the service
// builds.
func WithMaterializerOptions(opts ...orderline.Option) ServiceOption {
	return func(s *Service) {
		s.lineOpts = append(s.lineOpts, opts...)
	}
}

// WithIdempotencyStore enables idempotency keys on PlaceOrder.
func WithIdempotencyStore(store IdempotencyStore) ServiceOption {
	return func(s *Service) {
		s.idem = store
	}
}

// WithTracerProvider sets the tracer provider. Defaults to a no-op provider.
func WithTracerProvider(tp trace.TracerProvider) ServiceOption {
	return func(s *Service) {
		s.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider. Defaults to a no-op provider.
func WithMeterProvider(mp metric.MeterProvider) ServiceOption {
	return func(s *Service) {
		s.meterProvider = mp
	}
}

// Service encapsulates cart materialization and order placement.
type Service struct {
	orders   Repository
	idem     IdempotencyStore
	currency money.Currency
	lineOpts []orderline.Option
	now      func() time.Time

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	quoted         metric.Int64Counter
	lines          metric.Int64Counter
}

// NewService creates an order Service backed by the given repository.
func NewService(orders Repository, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		orders:         orders,
		currency:       money.USD,
		now:            time.Now,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.quoted, err = meter.Int64Counter("orders.materialized",
		metric.WithDescription("Carts materialized into order lines"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.materialized counter")
	}
	if s.lines, err = meter.Int64Counter("orders.lines",
		metric.WithDescription("Leaf order lines produced"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.lines counter")
	}

	return s, nil
}

// Quote validates every item, materializes the items concurrently and
// returns the unsaved order. Items keep their input order.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Quote",
		trace.WithAttributes(attribute.Int("order.items", len(req.Items))),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	cur := s.currency
	if req.Currency != "" {
		c, err := money.Lookup(req.Currency)
		if err != nil {
			return nil, err
		}
		cur = c
	}
	span.SetAttributes(attribute.String("order.currency", cur.Code))

	m := orderline.NewMaterializer(cur, s.lineOpts...)

	// Reject the whole cart before pricing any of it.
	for i, item := range req.Items {
		if err := m.Check(item, item.ExtendedAmount); err != nil {
			return nil, &InvalidItemError{Index: i, Err: err}
		}
	}

	items := make([]Item, len(req.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, root := range req.Items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lines, err := m.MaterializeRoot(root)
			if err != nil {
				return &InvalidItemError{Index: i, Err: err}
			}
			if got := orderline.Total(lines); !got.Equal(root.ExtendedAmount) {
				return &ConservationError{Index: i, Want: root.ExtendedAmount, Got: got}
			}
			items[i] = Item{
				SKU:      root.SKU,
				Quantity: root.Quantity,
				Amount:   root.ExtendedAmount,
				Lines:    lines,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}

	o := &Order{
		Currency: cur,
		Items:    items,
		Total:    total,
	}

	lineCount := o.LineCount()
	attrs := metric.WithAttributes(attribute.String("currency", cur.Code))
	s.quoted.Add(ctx, 1, attrs)
	s.lines.Add(ctx, int64(lineCount), attrs)

	zctx.From(ctx).Debug("Materialized cart",
		zap.Int("items", len(items)),
		zap.Int("lines", lineCount),
		zap.String("total", cur.Format(total)),
	)

	return o, nil
}

// PlaceOrder quotes the cart, assigns an ID and persists the order.
//
// With an idempotency store configured and a non-empty
// req.IdempotencyKey, a repeated request for the same cart returns the
// order the first one placed instead of creating another. Reusing a key for
// a different cart fails with ErrIdempotencyKeyReused.
func (s *Service) PlaceOrder(ctx context.Context, req QuoteRequest) (*PlaceOrderResult, error) {
	o, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.idem == nil || req.IdempotencyKey == "" {
		if err := s.persist(ctx, o); err != nil {
			return nil, err
		}
		return &PlaceOrderResult{Order: o}, nil
	}

	lg := zctx.From(ctx)
	fp := fingerprint(o.Currency, req.Items)
	rec, claimed, err := s.idem.Claim(ctx, req.IdempotencyKey, fp)
	if err != nil {
		return nil, errors.Wrap(err, "claim idempotency key")
	}
	if !claimed {
		switch {
		case rec.Fingerprint != fp:
			return nil, ErrIdempotencyKeyReused
		case rec.OrderID == "":
			return nil, ErrRequestInProgress
		}
		prev, err := s.GetOrder(ctx, rec.OrderID)
		if err != nil {
			return nil, errors.Wrap(err, "replay order")
		}
		lg.Info("Order replayed", zap.String("order_id", prev.ID))
		return &PlaceOrderResult{Order: prev, Replayed: true}, nil
	}

	err = s.persist(ctx, o)

	// A client that disconnects mid-placement retries with the same key, so
	// the key is settled even when ctx is already canceled.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyTimeout)
	defer cancel()

	if err != nil {
		if rerr := s.idem.Release(bctx, req.IdempotencyKey); rerr != nil {
			lg.Warn("Failed to release idempotency key", zap.Error(rerr))
		}
		return nil, err
	}
	// The order is saved; a lost key only disables replay for it.
	if err := s.idem.Complete(bctx, req.IdempotencyKey, IdempotencyRecord{Fingerprint: fp, OrderID: o.ID}); err != nil {
		lg.Warn("Failed to record idempotency key",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
	return &PlaceOrderResult{Order: o}, nil
}

// persist assigns an ID and creation time to a quoted order and saves it.
func (s *Service) persist(ctx context.Context, o *Order) error {
	o.ID = uuid.New().String()
	o.CreatedAt = s.now().UTC()

	if err := s.orders.Create(ctx, o); err != nil {
		return errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.Int("items", len(o.Items)),
		zap.String("total", o.Currency.Format(o.Total)),
	)
	return nil
}

// GetOrder loads a persisted order.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}
