package main

import (
	"context"
	"fmt"
	"os"

	"github.com/chainsafe/canton-cbtc/pkg/cbtc/batch"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/transfer"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// recipientsFile is the YAML document read by the distribute command.
type recipientsFile struct {
	ReferenceBase string `yaml:"reference_base"`
	Reason        string `yaml:"reason"`
	Recipients    []struct {
		Party     string `yaml:"party"`
		Amount    string `yaml:"amount"`
		Reference string `yaml:"reference"`
	} `yaml:"recipients"`
}

func parseRecipients(data []byte, sender string) (*batch.Request, error) {
	var f recipientsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse recipients: %w", err)
	}
	if len(f.Recipients) == 0 {
		return nil, fmt.Errorf("no recipients")
	}

	req := &batch.Request{
		Sender:        sender,
		ReferenceBase: f.ReferenceBase,
		Reason:        f.Reason,
		Items:         make([]batch.Item, 0, len(f.Recipients)),
	}
	for i, r := range f.Recipients {
		if r.Party == "" {
			return nil, fmt.Errorf("recipient %d: missing party", i)
		}
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: invalid amount %q", i, r.Amount)
		}
		req.Items = append(req.Items, batch.Item{Receiver: r.Party, Amount: amount, Reference: r.Reference})
	}
	return req, nil
}

type distributeCommand struct {
	File          string `short:"f" long:"file" required:"true" description:"YAML file listing recipients"`
	Chain         bool   `long:"chain" description:"Fund each transfer from the change of the previous one"`
	ReferenceBase string `long:"reference-base" description:"Overrides reference_base from the file"`
}

func (c *distributeCommand) Execute([]string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()
	ctx, cancel := signalContext()
	defer cancel()

	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read recipients: %w", err)
	}
	req, err := parseRecipients(data, rt.party)
	if err != nil {
		return err
	}
	if c.ReferenceBase != "" {
		req.ReferenceBase = c.ReferenceBase
	}
	req.ChainChange = c.Chain

	engine, err := rt.client.Batches()
	if err != nil {
		return err
	}
	report, err := engine.Run(ctx, req, progress(rt.logger))
	if report != nil {
		if perr := printJSON(report); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func progress(logger *zap.Logger) batch.Callback {
	return func(_ context.Context, res *transfer.Result) error {
		if res.Success {
			logger.Info("Transfer sent",
				zap.Int("index", res.Index),
				zap.String("receiver", res.Receiver),
				zap.String("amount", res.Amount.String()))
			return nil
		}
		logger.Warn("Transfer failed",
			zap.Int("index", res.Index),
			zap.String("receiver", res.Receiver),
			zap.Stringp("error", res.Error))
		return nil
	}
}
