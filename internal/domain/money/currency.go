// Package money describes currencies by their minor-unit scale and converts
// between scaled decimal amounts and exact integer counts of minimal units.
package money

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MaxScale is the largest supported minor-unit scale.
const MaxScale = 8

// Bounds on amounts accepted for pricing. Amounts are held as a
// coefficient and a base-10 exponent; both are capped so converting to
// minimal units stays cheap.
const (
	MaxDigits   = 38
	MinExponent = -(MaxScale + 10)
	MaxExponent = 18
)

var (
	// ErrSubunitAmount is returned when an amount has precision finer than
	// the currency's minimal unit.
	ErrSubunitAmount = errors.New("amount is finer than the currency minimal unit")
	// ErrInvalidScale is returned for a negative or oversized minor-unit scale.
	ErrInvalidScale = errors.New("invalid currency scale")
	// ErrOutOfRange is returned for amounts with too many digits or an
	// exponent outside [MinExponent, MaxExponent].
	ErrOutOfRange = errors.New("amount out of range")
)

// CheckRange reports amounts too large or too precise to price. The error
// never formats the amount itself, which may expand to millions of digits.
func CheckRange(amount decimal.Decimal) error {
	if exp := amount.Exponent(); exp < MinExponent || exp > MaxExponent {
		return errors.Wrapf(ErrOutOfRange, "exponent %d outside [%d, %d]", exp, MinExponent, MaxExponent)
	}
	if n := amount.NumDigits(); n > MaxDigits {
		return errors.Wrapf(ErrOutOfRange, "%d significant digits, limit %d", n, MaxDigits)
	}
	return nil
}

// UnknownCurrencyError indicates a currency code missing from the registry.
type UnknownCurrencyError struct {
	Code string
}

func (e *UnknownCurrencyError) Error() string {
	return fmt.Sprintf("unknown currency %q", e.Code)
}

// PrecisionError reports an amount that cannot be expressed in whole
// minimal units of the currency.
type PrecisionError struct {
	Amount   decimal.Decimal
	Currency string
}

func (e *PrecisionError) Error() string {
	return fmt.Sprintf("amount %s is finer than the %s minimal unit", e.Amount, e.Currency)
}

func (e *PrecisionError) Unwrap() error {
	return ErrSubunitAmount
}

// Currency is a currency code paired with the number of decimal digits of
// its minimal unit (2 for cents, 0 for yen).
type Currency struct {
	Code  string
	Scale int32
}

// Common currencies.
var (
	USD = Currency{Code: "USD", Scale: 2}
	EUR = Currency{Code: "EUR", Scale: 2}
	GBP = Currency{Code: "GBP", Scale: 2}
	JPY = Currency{Code: "JPY", Scale: 0}
	KRW = Currency{Code: "KRW", Scale: 0}
	KWD = Currency{Code: "KWD", Scale: 3}
	BHD = Currency{Code: "BHD", Scale: 3}
)

var registry = map[string]Currency{
	"USD": USD,
	"EUR": EUR,
	"GBP": GBP,
	"CAD": {Code: "CAD", Scale: 2},
	"AUD": {Code: "AUD", Scale: 2},
	"CHF": {Code: "CHF", Scale: 2},
	"INR": {Code: "INR", Scale: 2},
	"IDR": {Code: "IDR", Scale: 2},
	"JPY": JPY,
	"KRW": KRW,
	"CLP": {Code: "CLP", Scale: 0},
	"VND": {Code: "VND", Scale: 0},
	"KWD": KWD,
	"BHD": BHD,
	"OMR": {Code: "OMR", Scale: 3},
	"TND": {Code: "TND", Scale: 3},
}

// Lookup returns the registered currency for an ISO 4217 code. The code is
// matched case-insensitively.
func Lookup(code string) (Currency, error) {
	c, ok := registry[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Currency{}, &UnknownCurrencyError{Code: code}
	}
	return c, nil
}

// New builds a currency that is not in the registry.
func New(code string, scale int32) (Currency, error) {
	if scale < 0 || scale > MaxScale {
		return Currency{}, errors.Wrapf(ErrInvalidScale, "scale %d", scale)
	}
	return Currency{Code: strings.ToUpper(code), Scale: scale}, nil
}

// MinimalUnit returns the smallest representable increment, e.g. 0.01.
func (c Currency) MinimalUnit() decimal.Decimal {
	return decimal.New(1, -c.Scale)
}

// Representable reports whether amount is a whole number of minimal units.
func (c Currency) Representable(amount decimal.Decimal) bool {
	if amount.Exponent() >= -c.Scale {
		return true
	}
	return amount.Shift(c.Scale).IsInteger()
}

// ToUnits converts amount to an exact count of minimal units.
func (c Currency) ToUnits(amount decimal.Decimal) (*big.Int, error) {
	if err := CheckRange(amount); err != nil {
		return nil, err
	}
	shifted := amount.Shift(c.Scale)
	if !shifted.IsInteger() {
		return nil, &PrecisionError{Amount: amount, Currency: c.Code}
	}
	return shifted.BigInt(), nil
}

// FromUnits converts a count of minimal units back to a decimal amount at
// the currency scale.
func (c Currency) FromUnits(units *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(units, -c.Scale)
}

// Round rounds amount half-up to the currency scale.
func (c Currency) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(c.Scale)
}

// Format renders amount at the currency scale followed by the code,
// e.g. "38.81 USD".
func (c Currency) Format(amount decimal.Decimal) string {
	return amount.StringFixed(c.Scale) + " " + c.Code
}

func (c Currency) String() string {
	return c.Code
}
