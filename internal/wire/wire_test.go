package wire

import (
	"strings"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bundle-pricing/internal/domain/money"
	"github.com/xenking/bundle-pricing/internal/domain/order"
	"github.com/xenking/bundle-pricing/internal/domain/orderline"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestDecodeQuoteRequest(t *testing.T) {
	req, err := DecodeQuoteRequest([]byte(`{
		"currency": "USD",
		"note": {"ignored": [1, 2, 3]},
		"items": [
			{"sku": "SOCK", "quantity": 7, "amount": 7.45},
			{"sku": "KIT", "quantity": 1, "amount": "38.81", "children": [
				{"sku": "A", "quantity": 1, "amount": 20.00},
				{"sku": "B", "quantity": 1, "amount": "9.95"},
				{"sku": "C", "quantity": 1, "amount": 2101e-2}
			]}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "USD", req.Currency)
	require.Len(t, req.Items, 2)

	sock := req.Items[0]
	assert.Equal(t, "SOCK", sock.SKU)
	assert.Equal(t, int64(7), sock.Quantity)
	assert.True(t, d("7.45").Equal(sock.ExtendedAmount))
	assert.False(t, sock.Bundle)
	assert.Empty(t, sock.Children)

	kit := req.Items[1]
	assert.True(t, kit.Bundle)
	assert.True(t, d("38.81").Equal(kit.ExtendedAmount))
	require.Len(t, kit.Children, 3)
	assert.Equal(t, "B", kit.Children[1].SKU)
	assert.True(t, d("9.95").Equal(kit.Children[1].ExtendedAmount))
	assert.True(t, d("21.01").Equal(kit.Children[2].ExtendedAmount))
}

func TestDecodeQuoteRequest_ExactAmounts(t *testing.T) {
	// 0.1 and 0.2 have no exact binary representation.
	req, err := DecodeQuoteRequest([]byte(`{"items":[
		{"sku":"A","quantity":1,"amount":0.1},
		{"sku":"B","quantity":1,"amount":" 0.2 "}
	]}`))
	require.NoError(t, err)

	sum := req.Items[0].ExtendedAmount.Add(req.Items[1].ExtendedAmount)
	assert.Equal(t, "0.3", sum.String())
	assert.Empty(t, req.Currency)
}

func TestDecodeQuoteRequest_ExplicitBundleFlag(t *testing.T) {
	req, err := DecodeQuoteRequest([]byte(`{"items":[
		{"sku":"EMPTY","quantity":1,"amount":"5.00","bundle":true},
		{"sku":"ODD","quantity":1,"amount":"5.00","bundle":false,
		 "children":[{"sku":"A","quantity":1,"amount":"1.00"}]}
	]}`))
	require.NoError(t, err)

	// Structural errors are left to the materializer.
	assert.True(t, req.Items[0].Bundle)
	assert.Empty(t, req.Items[0].Children)
	assert.False(t, req.Items[1].Bundle)
	assert.Len(t, req.Items[1].Children, 1)
	assert.ErrorIs(t, orderline.Validate(req.Items[0], orderline.DefaultMaxDepth), orderline.ErrEmptyBundle)
	assert.ErrorIs(t, orderline.Validate(req.Items[1], orderline.DefaultMaxDepth), orderline.ErrLeafChildren)
}

func TestDecodeQuoteRequest_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantField string
		wantErr   error
	}{
		{
			name:  "not json",
			input: `items`,
		},
		{
			name:  "not an object",
			input: `[1, 2]`,
		},
		{
			name:      "currency not a string",
			input:     `{"currency": 840}`,
			wantField: "currency",
		},
		{
			name:      "fractional quantity",
			input:     `{"items":[{"sku":"A","quantity":1.5,"amount":"1.00"}]}`,
			wantField: "items[0].quantity",
		},
		{
			name:      "amount not a number",
			input:     `{"items":[{"sku":"A","quantity":1,"amount":"ten"}]}`,
			wantField: "items[0].amount",
		},
		{
			name:      "amount is bool",
			input:     `{"items":[{"sku":"A","quantity":1,"amount":true}]}`,
			wantField: "items[0].amount",
		},
		{
			name: "nested amount missing",
			input: `{"items":[{"sku":"A","quantity":1,"amount":"1"},
				{"sku":"K","quantity":1,"amount":"2","children":[
					{"sku":"X","quantity":1,"amount":"1"},
					{"sku":"Y","quantity":1}
				]}]}`,
			wantField: "items[1].children[1].amount",
			wantErr:   ErrMissingField,
		},
		{
			name:      "amount exponent too large",
			input:     `{"items":[{"sku":"X","quantity":1,"amount":1e40000000}]}`,
			wantField: "items[0].amount",
			wantErr:   money.ErrOutOfRange,
		},
		{
			name: "constituent weight too precise",
			input: `{"items":[{"sku":"K","quantity":1,"amount":"2.00","children":[
				{"sku":"A","quantity":1,"amount":"1"},
				{"sku":"B","quantity":1,"amount":"1e-5000000"}
			]}]}`,
			wantField: "items[0].children[1].amount",
			wantErr:   money.ErrOutOfRange,
		},
		{
			name:      "amount with too many digits",
			input:     `{"items":[{"sku":"X","quantity":1,"amount":` + strings.Repeat("9", 39) + `}]}`,
			wantField: "items[0].amount",
			wantErr:   money.ErrOutOfRange,
		},
		{
			name:      "amount string too long",
			input:     `{"items":[{"sku":"X","quantity":1,"amount":"` + strings.Repeat("0", 100) + `1"}]}`,
			wantField: "items[0].amount",
			wantErr:   money.ErrOutOfRange,
		},
		{
			name:    "trailing data",
			input:   `{"items":[]} {}`,
			wantErr: ErrTrailingData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeQuoteRequest([]byte(tt.input))
			require.Error(t, err)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.wantField, de.Field)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeQuoteRequest_TooDeep(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"items":[`)
	for range MaxNesting + 1 {
		b.WriteString(`{"sku":"N","quantity":1,"amount":"1","children":[`)
	}
	b.WriteString(`]}`)
	for range MaxNesting {
		b.WriteString(`]}`)
	}
	b.WriteString(`]}`)

	_, err := DecodeQuoteRequest([]byte(b.String()))
	require.ErrorIs(t, err, ErrTooDeep)
}

func TestMarshalOrder_Quote(t *testing.T) {
	o := &order.Order{
		Currency: money.USD,
		Total:    d("7.45"),
		Items: []order.Item{{
			SKU: "SOCK", Quantity: 7, Amount: d("7.45"),
			Lines: []orderline.OrderLine{
				{SKU: "SOCK", Quantity: 4, UnitAmount: d("1.06")},
				{SKU: "SOCK", Quantity: 3, UnitAmount: d("1.07")},
			},
		}},
	}

	assert.Equal(t,
		`{"currency":"USD","total":7.45,"items":[{"sku":"SOCK","quantity":7,"amount":7.45,"lines":[`+
			`{"sku":"SOCK","quantity":4,"unitAmount":1.06},{"sku":"SOCK","quantity":3,"unitAmount":1.07}]}]}`,
		string(MarshalOrder(o)),
	)
}

func TestMarshalOrder_FixedScale(t *testing.T) {
	created := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	o := &order.Order{
		ID:        "0b0e7f5c-1f7e-4a55-9a49-1b5e38a4c2d1",
		Currency:  money.USD,
		Total:     d("38.81"),
		CreatedAt: created,
		Items: []order.Item{{
			SKU: "KIT", Quantity: 1, Amount: d("38.81"),
			Lines: []orderline.OrderLine{{
				SKU: "KIT", Quantity: 1, UnitAmount: d("38.81"),
				BundleItems: []orderline.OrderLine{
					{SKU: "A", Quantity: 1, UnitAmount: d("15.23")},
					{SKU: "B", Quantity: 1, UnitAmount: d("7.58")},
					{SKU: "C", Quantity: 1, UnitAmount: d("16")},
				},
			}},
		}},
	}

	out := string(MarshalOrder(o))
	assert.Contains(t, out, `"id":"0b0e7f5c-1f7e-4a55-9a49-1b5e38a4c2d1"`)
	assert.Contains(t, out, `"createdAt":"2025-06-15T12:00:00Z"`)
	assert.Contains(t, out, `{"sku":"C","quantity":1,"unitAmount":16.00}`)
	assert.Contains(t, out, `"bundleItems":[`)

	// Output is valid JSON.
	require.NoError(t, jx.DecodeBytes([]byte(out)).Validate())
}

func TestMarshalOrder_ZeroScale(t *testing.T) {
	o := &order.Order{
		Currency: money.JPY,
		Total:    d("500"),
		Items: []order.Item{{
			SKU: "POT", Quantity: 1, Amount: d("500"),
			Lines: []orderline.OrderLine{{SKU: "POT", Quantity: 1, UnitAmount: d("500")}},
		}},
	}

	assert.Contains(t, string(MarshalOrder(o)), `"unitAmount":500}`)
}

func TestEncodeError(t *testing.T) {
	var e jx.Encoder
	EncodeError(&e, 422, `item "A": quantity must be positive`)

	assert.Equal(t, `{"code":422,"message":"item \"A\": quantity must be positive"}`, e.String())
}
