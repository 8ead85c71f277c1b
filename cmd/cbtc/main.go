// Command cbtc drives CBTC mint, burn and transfer workflows against a
// Canton participant.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainsafe/canton-cbtc/pkg/cbtc/client"
	"github.com/chainsafe/canton-cbtc/pkg/config"

	"github.com/jessevdk/go-flags"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type globalOptions struct {
	Config  string `short:"c" long:"config" default:"config.yaml" description:"Path to configuration file"`
	Party   string `short:"p" long:"party" description:"Acting party, overrides the config file"`
	Verbose bool   `short:"v" long:"verbose" description:"Log at debug level"`
}

var opts globalOptions

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	addCommands(parser)

	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func addCommands(parser *flags.Parser) {
	commands := []struct {
		name, short string
		data        any
	}{
		{"mint", "Open or reuse a deposit account and print its BTC address", &mintCommand{}},
		{"redeem", "Burn CBTC and request a BTC withdrawal", &redeemCommand{}},
		{"send", "Offer CBTC to another party", &sendCommand{}},
		{"accept", "Accept pending transfer offers", &acceptCommand{}},
		{"distribute", "Send CBTC to the recipients listed in a YAML file", &distributeCommand{}},
		{"consolidate", "Merge small holdings into one", &consolidateCommand{}},
		{"balance", "Print the CBTC balance of the party", &balanceCommand{}},
		{"watch", "Follow deposits or a withdrawal, serving health and metrics", &watchCommand{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, "", c.data); err != nil {
			panic(err)
		}
	}
}

// runtime holds what every command needs after the config is loaded.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	client *client.Client
	party  string
}

func setup() (*runtime, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	party := opts.Party
	if party == "" {
		party = cfg.Party
	}
	if party == "" {
		return nil, errors.New("no party: set party in the config file or pass --party")
	}

	c, err := client.New(client.FromConfig(cfg), client.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SDK: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger.With(zap.String("party", party)), client: c, party: party}, nil
}

func (r *runtime) close() {
	_ = r.logger.Sync()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// amountFlag is a positive CBTC amount given on the command line.
type amountFlag struct {
	decimal.Decimal
}

func (a *amountFlag) UnmarshalFlag(value string) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("invalid amount %q", value)
	}
	if !d.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", value)
	}
	a.Decimal = d
	return nil
}

func (a amountFlag) MarshalFlag() (string, error) {
	return a.String(), nil
}
