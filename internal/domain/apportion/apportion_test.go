package apportion

import (
	"math/big"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bundle-pricing/internal/domain/money"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func ds(vs ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = d(v)
	}
	return out
}

func requireAmounts(t *testing.T, want []string, got []decimal.Decimal) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, d(want[i]).Equal(got[i]), "share %d: expected %s, got %s", i, want[i], got[i])
	}
}

func TestCalculator_Apportion(t *testing.T) {
	tests := []struct {
		name     string
		currency money.Currency
		policy   ZeroWeightPolicy
		total    string
		weights  []string
		want     []string
	}{
		{
			name:     "three constituents",
			currency: money.USD,
			total:    "38.81",
			weights:  []string{"20.00", "9.95", "21.01"},
			want:     []string{"15.23", "7.58", "16.00"},
		},
		{
			name:     "free constituent gets nothing",
			currency: money.USD,
			total:    "38.81",
			weights:  []string{"0.00", "20.00", "9.95"},
			want:     []string{"0.00", "25.92", "12.89"},
		},
		{
			name:     "equal halves tie broken by order",
			currency: money.USD,
			total:    "58.81",
			weights:  []string{"38.81", "38.81"},
			want:     []string{"29.41", "29.40"},
		},
		{
			name:     "single constituent takes everything",
			currency: money.USD,
			total:    "12.34",
			weights:  []string{"99.99"},
			want:     []string{"12.34"},
		},
		{
			name:     "weights with mixed precision",
			currency: money.USD,
			total:    "10.00",
			weights:  []string{"1", "0.5", "0.25"},
			want:     []string{"5.71", "2.86", "1.43"},
		},
		{
			name:     "zero total",
			currency: money.USD,
			total:    "0",
			weights:  []string{"1", "2"},
			want:     []string{"0", "0"},
		},
		{
			name:     "zero total and zero weights",
			currency: money.USD,
			policy:   Reject,
			total:    "0.00",
			weights:  []string{"0", "0"},
			want:     []string{"0", "0"},
		},
		{
			name:     "zero weights spread evenly",
			currency: money.USD,
			total:    "10.00",
			weights:  []string{"0", "0", "0"},
			want:     []string{"3.34", "3.33", "3.33"},
		},
		{
			name:     "zero-decimal currency",
			currency: money.JPY,
			total:    "1000",
			weights:  []string{"1", "1", "1"},
			want:     []string{"334", "333", "333"},
		},
		{
			name:     "three-decimal currency",
			currency: money.KWD,
			total:    "10.000",
			weights:  []string{"1", "2"},
			want:     []string{"3.333", "6.667"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCalculator(tt.currency, tt.policy)

			got, err := c.Apportion(d(tt.total), ds(tt.weights...))
			require.NoError(t, err)
			requireAmounts(t, tt.want, got)
			assert.True(t, d(tt.total).Equal(decimal.Sum(decimal.Zero, got...)))
		})
	}
}

func TestCalculator_Apportion_Errors(t *testing.T) {
	tests := []struct {
		name    string
		policy  ZeroWeightPolicy
		total   string
		weights []decimal.Decimal
		wantErr error
	}{
		{name: "no weights", total: "1.00", weights: nil, wantErr: ErrNoWeights},
		{name: "negative total", total: "-1.00", weights: ds("1"), wantErr: ErrNegativeAmount},
		{name: "negative weight", total: "1.00", weights: ds("1", "-2"), wantErr: ErrNegativeWeight},
		{name: "sub-cent total", total: "1.005", weights: ds("1"), wantErr: money.ErrSubunitAmount},
		{name: "total out of range", total: "1e40000000", weights: ds("1"), wantErr: money.ErrOutOfRange},
		{name: "weight out of range", total: "1.00", weights: ds("1", "1e-5000000"), wantErr: money.ErrOutOfRange},
		{name: "zero weights rejected", policy: Reject, total: "1.00", weights: ds("0", "0"), wantErr: ErrZeroWeights},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCalculator(money.USD, tt.policy)

			got, err := c.Apportion(d(tt.total), tt.weights)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
		})
	}
}

func TestUnits_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for range 2000 {
		n := 1 + rng.IntN(8)
		total := big.NewInt(rng.Int64N(1_000_000))
		weights := make([]*big.Int, n)
		sum := new(big.Int)
		for i := range weights {
			w := int64(0)
			if rng.IntN(4) > 0 {
				w = rng.Int64N(100_000)
			}
			weights[i] = big.NewInt(w)
			sum.Add(sum, weights[i])
		}
		if sum.Sign() == 0 {
			continue
		}

		shares, err := Units(total, weights, Reject)
		require.NoError(t, err)

		got := new(big.Int)
		for i, s := range shares {
			got.Add(got, s)

			// |share*sum - total*weight| < sum: off by less than one unit.
			exact := new(big.Int).Mul(total, weights[i])
			diff := new(big.Int).Sub(new(big.Int).Mul(s, sum), exact)
			require.Negative(t, diff.CmpAbs(sum), "share %d drifted by a full unit", i)

			if weights[i].Sign() == 0 {
				require.Zero(t, s.Sign(), "zero weight received %s", s)
			}
		}
		require.Zero(t, got.Cmp(total), "shares sum to %s, want %s", got, total)
	}
}

func TestUnits_Deterministic(t *testing.T) {
	weights := []*big.Int{big.NewInt(3), big.NewInt(3), big.NewInt(3), big.NewInt(1)}

	first, err := Units(big.NewInt(1001), weights, SpreadEvenly)
	require.NoError(t, err)

	for range 10 {
		again, err := Units(big.NewInt(1001), weights, SpreadEvenly)
		require.NoError(t, err)
		for i := range first {
			assert.Zero(t, first[i].Cmp(again[i]))
		}
	}
}

func TestParseZeroWeightPolicy(t *testing.T) {
	p, err := ParseZeroWeightPolicy("")
	require.NoError(t, err)
	assert.Equal(t, SpreadEvenly, p)

	p, err = ParseZeroWeightPolicy("Reject")
	require.NoError(t, err)
	assert.Equal(t, Reject, p)
	assert.Equal(t, "reject", p.String())

	_, err = ParseZeroWeightPolicy("first")
	require.Error(t, err)
}
