package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/requestnet/internal/ledger"
	"github.com/mattjoyce/requestnet/internal/storage"
)

func runDeliveriesNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: requestnet deliveries <list|show> [flags]")
		if len(args) > 0 {
			return 0
		}
		return 1
	}

	switch args[0] {
	case "list":
		return runDeliveriesList(args[1:])
	case "show":
		return runDeliveriesShow(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown deliveries action: %s\n", args[0])
		return 1
	}
}

// openLedger opens the ledger at dbPath, or at state.path from the config.
func openLedger(ctx context.Context, configPath, dbPath string) (*ledger.Ledger, func(), error) {
	if dbPath == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, nil, err
		}
		dbPath = cfg.State.Path
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, nil, fmt.Errorf("ledger not found at %s: %w", dbPath, err)
	}
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		return nil, nil, err
	}
	return ledger.New(db), func() { _ = db.Close() }, nil
}

func runDeliveriesList(args []string) int {
	fs := flag.NewFlagSet("deliveries list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	dbPath := fs.String("db", "", "Path to the delivery ledger (overrides config)")
	event := fs.String("event", "", "Only show this event")
	limit := fs.Int("limit", 20, "Maximum deliveries to show")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()
	led, closeFn, err := openLedger(ctx, *configPath, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer closeFn()

	deliveries, err := led.Recent(ctx, ledger.Filter{Event: *event, Limit: *limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list deliveries: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(deliveries)
	}
	if len(deliveries) == 0 {
		fmt.Println("No deliveries recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVENT\tREQUEST\tVERIFIED\tRECEIVED")
	for _, d := range deliveries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
			d.ID, d.Event, dashIfEmpty(d.RequestID), d.Verified, d.ReceivedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
	return 0
}

func runDeliveriesShow(args []string) int {
	fs := flag.NewFlagSet("deliveries show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	dbPath := fs.String("db", "", "Path to the delivery ledger (overrides config)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: requestnet deliveries show <id> [--db <path>]")
		return 1
	}

	ctx := context.Background()
	led, closeFn, err := openLedger(ctx, *configPath, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer closeFn()

	d, err := led.Get(ctx, fs.Arg(0))
	if errors.Is(err, ledger.ErrDeliveryNotFound) {
		fmt.Fprintf(os.Stderr, "Delivery %s not found\n", fs.Arg(0))
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load delivery: %v\n", err)
		return 1
	}
	return printJSON(d)
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
