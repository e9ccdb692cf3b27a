package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bundle-pricing/internal/domain/apportion"
	"github.com/xenking/bundle-pricing/internal/domain/money"
)

const cart = `{"currency":"JPY","items":[{"sku":"SET","quantity":1,"amount":1000,"children":[
	{"sku":"CUP","quantity":3,"amount":300},
	{"sku":"POT","quantity":1,"amount":300}
]}]}`

func writeGzip(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = io.WriteString(gz, content)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func readGzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := pgzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	return string(data)
}

func TestRun_Plain(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cart.json")
	out := filepath.Join(dir, "order.json")
	require.NoError(t, os.WriteFile(in, []byte(cart), 0o600))

	err := run(context.Background(), options{
		cart: in, out: out, currency: "USD", zeroWeights: "spread", maxDepth: 8,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t,
		`{"currency":"JPY","total":1000,"items":[{"sku":"SET","quantity":1,"amount":1000,"lines":[`+
			`{"sku":"SET","quantity":1,"unitAmount":1000,"bundleItems":[`+
			`{"sku":"CUP","quantity":1,"unitAmount":166},{"sku":"CUP","quantity":2,"unitAmount":167},`+
			`{"sku":"POT","quantity":1,"unitAmount":500}]}]}]}`+"\n",
		string(data),
	)
}

func TestRun_Gzip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cart.json.gz")
	out := filepath.Join(dir, "order.json.gz")
	writeGzip(t, in, cart)

	err := run(context.Background(), options{
		cart: in, out: out, currency: "USD", zeroWeights: "spread", maxDepth: 8,
	})
	require.NoError(t, err)
	assert.Contains(t, readGzip(t, out), `"unitAmount":500`)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cart.json")
	require.NoError(t, os.WriteFile(in, []byte(`{"items":[{"sku":"A","quantity":1,"amount":"1.00"}]}`), 0o600))

	tests := []struct {
		name  string
		opts  options
		check func(t *testing.T, err error)
	}{
		{
			name: "unknown currency",
			opts: options{cart: in, out: "-", currency: "ZZZ", zeroWeights: "spread", maxDepth: 8},
			check: func(t *testing.T, err error) {
				var ucErr *money.UnknownCurrencyError
				assert.ErrorAs(t, err, &ucErr)
			},
		},
		{
			name: "bad policy",
			opts: options{cart: in, out: "-", currency: "USD", zeroWeights: "ignore", maxDepth: 8},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "zero weight policy")
			},
		},
		{
			name: "missing cart",
			opts: options{cart: filepath.Join(dir, "nope.json"), out: "-", currency: "USD", zeroWeights: "spread", maxDepth: 8},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, os.ErrNotExist)
			},
		},
		{
			name: "cart is not gzip",
			opts: options{cart: copyAs(t, in, filepath.Join(dir, "plain.gz")), out: "-", currency: "USD", zeroWeights: "spread", maxDepth: 8},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "gzip")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.opts)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestRun_ZeroWeightsReject(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cart.json")
	require.NoError(t, os.WriteFile(in, []byte(`{"items":[{"sku":"GIFT","quantity":1,"amount":"5.00","children":[
		{"sku":"A","quantity":1,"amount":0},{"sku":"B","quantity":1,"amount":0}]}]}`), 0o600))

	err := run(context.Background(), options{
		cart: in, out: filepath.Join(dir, "out.json"), currency: "USD", zeroWeights: "reject", maxDepth: 8,
	})
	require.ErrorIs(t, err, apportion.ErrZeroWeights)
}

func copyAs(t *testing.T, src, dst string) string {
	t.Helper()
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0o600))
	return dst
}
