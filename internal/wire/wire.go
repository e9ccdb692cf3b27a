// Package wire reads carts from and writes materialized orders to JSON.
// Amounts never pass through float64.
package wire

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bundle-pricing/internal/domain/money"
	"github.com/xenking/bundle-pricing/internal/domain/order"
	"github.com/xenking/bundle-pricing/internal/domain/orderline"
)

// MaxNesting bounds how deep items may nest in a request document.
const MaxNesting = 64

var (
	// ErrMissingField is returned when a required item field is absent.
	ErrMissingField = errors.New("missing field")
	// ErrTooDeep is returned when items nest deeper than MaxNesting.
	ErrTooDeep = errors.New("items nested too deep")
	// ErrTrailingData is returned when a document continues past its end.
	ErrTrailingData = errors.New("unexpected data after document")
)

// DecodeError reports a request document that could not be decoded.
// Field is a JSONPath-like location such as "items[0].children[2].amount",
// empty for errors that concern the whole document.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode cart: %v", e.Err)
	}
	return fmt.Sprintf("decode cart: %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeQuoteRequest parses a cart document:
//
//	{"currency":"USD","items":[{"sku":"KIT","quantity":1,"amount":"38.81",
//	  "children":[{"sku":"A","quantity":1,"amount":20.00}]}]}
//
// Amounts may be JSON numbers or strings. "bundle" defaults to whether the
// item has children. Unknown fields are ignored.
func DecodeQuoteRequest(data []byte) (order.QuoteRequest, error) {
	var req order.QuoteRequest

	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "currency":
			v, err := d.Str()
			if err != nil {
				return &DecodeError{Field: "currency", Err: err}
			}
			req.Currency = v
			return nil
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				n, err := decodeNode(d, fmt.Sprintf("items[%d]", len(req.Items)), 1)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, n)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err == nil && d.Next() != jx.Invalid {
		err = ErrTrailingData
	}
	if err != nil {
		return order.QuoteRequest{}, asDecodeError(err)
	}

	return req, nil
}

// asDecodeError strips the decoder's callback wrapping so the innermost
// field location is reported.
func asDecodeError(err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return de
	}
	return &DecodeError{Err: err}
}

func decodeNode(d *jx.Decoder, field string, depth int) (orderline.PricedNode, error) {
	if depth > MaxNesting {
		return orderline.PricedNode{}, &DecodeError{Field: field, Err: ErrTooDeep}
	}

	var (
		n         orderline.PricedNode
		bundle    *bool
		hasAmount bool
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "sku":
			n.SKU, err = d.Str()
		case "quantity":
			n.Quantity, err = d.Int64()
		case "amount":
			n.ExtendedAmount, err = decodeAmount(d)
			hasAmount = true
		case "bundle":
			var b bool
			b, err = d.Bool()
			bundle = &b
		case "children":
			return d.Arr(func(d *jx.Decoder) error {
				child, err := decodeNode(d, fmt.Sprintf("%s.children[%d]", field, len(n.Children)), depth+1)
				if err != nil {
					return err
				}
				n.Children = append(n.Children, child)
				return nil
			})
		default:
			return d.Skip()
		}
		if err != nil {
			return &DecodeError{Field: field + "." + key, Err: err}
		}
		return nil
	})
	if err != nil {
		return orderline.PricedNode{}, asDecodeError(err)
	}
	if !hasAmount {
		return orderline.PricedNode{}, &DecodeError{Field: field + ".amount", Err: ErrMissingField}
	}

	if bundle != nil {
		n.Bundle = *bundle
	} else {
		n.Bundle = len(n.Children) > 0
	}

	return n, nil
}

// maxAmountLen fits MaxDigits digits with sign, point and exponent.
const maxAmountLen = 64

func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch tt := d.Next(); tt {
	case jx.Number:
		num, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = num.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = strings.TrimSpace(s)
	default:
		return decimal.Decimal{}, errors.Errorf("expected number or string, got %s", tt)
	}

	if len(raw) > maxAmountLen {
		return decimal.Decimal{}, errors.Wrapf(money.ErrOutOfRange, "%d characters, limit %d", len(raw), maxAmountLen)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if err := money.CheckRange(v); err != nil {
		return decimal.Decimal{}, err
	}
	return v, nil
}

// EncodeOrder writes an order. ID and creation time are omitted for an
// unsaved quote; amounts are written at the currency scale.
func EncodeOrder(e *jx.Encoder, o *order.Order) {
	scale := o.Currency.Scale

	e.ObjStart()
	if o.ID != "" {
		e.FieldStart("id")
		e.Str(o.ID)
	}
	e.FieldStart("currency")
	e.Str(o.Currency.Code)
	e.FieldStart("total")
	encodeAmount(e, o.Total, scale)
	if !o.CreatedAt.IsZero() {
		e.FieldStart("createdAt")
		e.Str(o.CreatedAt.Format(time.RFC3339Nano))
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("sku")
		e.Str(it.SKU)
		e.FieldStart("quantity")
		e.Int64(it.Quantity)
		e.FieldStart("amount")
		encodeAmount(e, it.Amount, scale)
		e.FieldStart("lines")
		encodeLines(e, it.Lines, scale)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// MarshalOrder returns the JSON encoding of o.
func MarshalOrder(o *order.Order) []byte {
	var e jx.Encoder
	EncodeOrder(&e, o)
	return e.Bytes()
}

// EncodeError writes an error body: {"code":422,"message":"..."}.
func EncodeError(e *jx.Encoder, code int, message string) {
	e.ObjStart()
	e.FieldStart("code")
	e.Int(code)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
}

func encodeLines(e *jx.Encoder, lines []orderline.OrderLine, scale int32) {
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("sku")
		e.Str(l.SKU)
		e.FieldStart("quantity")
		e.Int64(l.Quantity)
		e.FieldStart("unitAmount")
		encodeAmount(e, l.UnitAmount, scale)
		if l.IsBundle() {
			e.FieldStart("bundleItems")
			encodeLines(e, l.BundleItems, scale)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeAmount(e *jx.Encoder, v decimal.Decimal, scale int32) {
	e.Num(jx.Num(v.StringFixed(scale)))
}
