// Command materialize prices a cart file into order lines and prints the
// resulting order as JSON. With a database URL the order is also saved.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/bundle-pricing/internal/domain/apportion"
	"github.com/xenking/bundle-pricing/internal/domain/money"
	"github.com/xenking/bundle-pricing/internal/domain/order"
	"github.com/xenking/bundle-pricing/internal/domain/orderline"
	"github.com/xenking/bundle-pricing/internal/storage/postgres"
	"github.com/xenking/bundle-pricing/internal/wire"
)

type options struct {
	cart        string
	out         string
	currency    string
	zeroWeights string
	maxDepth    int
	databaseURL string
}

func main() {
	var opts options

	flag.StringVar(&opts.cart, "cart", "-", "cart JSON file, .gz for gzip, - for stdin")
	flag.StringVar(&opts.out, "out", "-", "output file, .gz for gzip, - for stdout")
	flag.StringVar(&opts.currency, "currency", "USD", "currency for carts that name none")
	flag.StringVar(&opts.zeroWeights, "zero-weights", "spread", "all-zero constituent weights: spread or reject")
	flag.IntVar(&opts.maxDepth, "max-depth", orderline.DefaultMaxDepth, "maximum bundle nesting depth")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL; when set the order is saved")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("materialize failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	currency, err := money.Lookup(opts.currency)
	if err != nil {
		return err
	}
	policy, err := apportion.ParseZeroWeightPolicy(opts.zeroWeights)
	if err != nil {
		return err
	}

	data, err := readInput(opts.cart)
	if err != nil {
		return err
	}
	req, err := wire.DecodeQuoteRequest(data)
	if err != nil {
		return err
	}

	svcOpts := []order.ServiceOption{
		order.WithDefaultCurrency(currency),
		order.WithMaterializerOptions(
			orderline.WithZeroWeightPolicy(policy),
			orderline.WithMaxDepth(opts.maxDepth),
		),
	}

	var o *order.Order
	if opts.databaseURL == "" {
		svc, err := order.NewService(nil, svcOpts...)
		if err != nil {
			return err
		}
		if o, err = svc.Quote(ctx, req); err != nil {
			return err
		}
	} else {
		pool, err := postgres.NewPool(ctx, opts.databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return err
		}

		svc, err := order.NewService(postgres.NewOrderRepository(pool), svcOpts...)
		if err != nil {
			return err
		}
		res, err := svc.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}
		o = res.Order
		slog.Info("order saved", slog.String("id", o.ID))
	}

	slog.Info("cart materialized",
		slog.Int("items", len(o.Items)),
		slog.Int("lines", o.LineCount()),
		slog.String("total", o.Currency.Format(o.Total)),
	)

	return writeOutput(opts.out, append(wire.MarshalOrder(o), '\n'))
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return data, errors.Wrap(err, "read stdin")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open cart")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return data, nil
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return errors.Wrap(err, "write stdout")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	defer func() { _ = f.Close() }()

	if strings.HasSuffix(path, ".gz") {
		gz := pgzip.NewWriter(f)
		if _, err := gz.Write(data); err != nil {
			return errors.Wrapf(err, "write %s", path)
		}
		if err := gz.Close(); err != nil {
			return errors.Wrapf(err, "flush %s", path)
		}
	} else if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}

	return errors.Wrapf(f.Close(), "close %s", path)
}
