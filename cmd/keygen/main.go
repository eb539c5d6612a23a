// Command keygen issues serial keys from the command line and prints bcrypt
// hashes for the admin password setting.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	_ "github.com/joho/godotenv/autoload"

	"obsidian/internal/auth"
	"obsidian/internal/config"
	"obsidian/internal/exporter"
	"obsidian/internal/infrastructure"
	"obsidian/internal/ledger"
	"obsidian/internal/services"
	"obsidian/internal/storage"
)

// KeyGenerator issues serial keys
type KeyGenerator interface {
	Generate(ctx context.Context, req services.GenerateRequest, source string) ([]storage.SerialKey, error)
}

type options struct {
	amount       int
	orderID      string
	minutes      int
	format       string
	hashPassword string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.IntVar(&opts.amount, "amount", 1, "number of serials to generate")
	fs.StringVar(&opts.orderID, "order", "", "order id recorded on every serial")
	fs.IntVar(&opts.minutes, "minutes", 0, "key duration in minutes (0 = lifetime)")
	fs.StringVar(&opts.format, "format", "text", "text | csv")
	fs.StringVar(&opts.hashPassword, "hash-password", "", "print a bcrypt hash of this password and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if opts.minutes < 0 {
		return opts, errors.New("-minutes must not be negative")
	}
	switch opts.format {
	case "text", "csv":
	default:
		return opts, fmt.Errorf("unknown -format %q", opts.format)
	}
	return opts, nil
}

func (o options) request() services.GenerateRequest {
	req := services.GenerateRequest{
		OrderID: strings.TrimSpace(o.orderID),
		Amount:  o.amount,
	}
	if o.minutes > 0 {
		minutes := o.minutes
		req.DurationMinutes = &minutes
	}
	return req
}

// run generates the keys and writes them to out
func run(ctx context.Context, opts options, keys KeyGenerator, out io.Writer) error {
	generated, err := keys.Generate(ctx, opts.request(), services.SourceCLI)
	if err != nil {
		return err
	}

	if opts.format == "csv" {
		return exporter.WriteCSV(out, exporter.WriteOptions{
			Headers: exporter.KeyHeaders,
			Records: exporter.KeyRecords(generated),
		})
	}

	for _, k := range generated {
		if _, err := fmt.Fprintln(out, k.Serial); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if opts.hashPassword != "" {
		hash, err := auth.HashPassword(opts.hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Serials go to stdout, so logs always go to stderr.
	logger := infrastructure.NewLogger(os.Stderr, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := storage.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("Failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var keyLedger services.KeyLedger
	if cfg.Ledger.Enabled() {
		l, err := ledger.New(ctx, cfg.Ledger, logger)
		if err != nil {
			logger.Warn("Key ledger unavailable", slog.String("error", err.Error()))
		} else {
			keyLedger = l
		}
	}

	keys := services.NewKeyService(storage.NewKeyRepository(db), keyLedger, nil, nil, logger)
	if err := run(ctx, opts, keys, os.Stdout); err != nil {
		logger.Error("Failed to generate keys",
			slog.Int("amount", opts.amount),
			slog.String("order_id", opts.orderID),
			slog.String("error", err.Error()))
		os.Exit(1)
	}
}
