package main

import (
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/mint"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/redeem"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/transfer"

	"go.uber.org/zap"
)

type mintCommand struct {
	Account   string `long:"account" description:"Reuse an existing deposit account contract"`
	CommandID string `long:"command-id" description:"Idempotency key for the account creation"`
	Wait      bool   `long:"wait" description:"Wait until the attestors record a deposit"`
}

func (c *mintCommand) Execute([]string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()
	ctx, cancel := signalContext()
	defer cancel()

	res, err := rt.client.Mint.Run(ctx, &mint.Request{
		Party:             rt.party,
		ExistingAccountID: c.Account,
		CommandID:         c.CommandID,
	})
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if !c.Wait {
		return nil
	}

	rt.logger.Info("Waiting for deposit", zap.String("address", res.BitcoinAddress))
	deposits, err := rt.client.Mint.WatchDeposits(ctx, rt.party, res.Account.AccountID()).Wait()
	if err != nil {
		return err
	}
	return printJSON(deposits)
}

type redeemCommand struct {
	Amount      amountFlag `long:"amount" required:"true" description:"CBTC amount to burn"`
	Destination string     `long:"to" required:"true" description:"BTC address receiving the withdrawal"`
	Account     string     `long:"account" description:"Reuse an existing withdraw account contract"`
	Wait        bool       `long:"wait" description:"Wait until the attestors broadcast the BTC transaction"`
}

func (c *redeemCommand) Execute([]string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()
	ctx, cancel := signalContext()
	defer cancel()

	res, err := rt.client.Redeem.Run(ctx, &redeem.Request{
		Party:                 rt.party,
		Amount:                c.Amount.Decimal,
		DestinationBtcAddress: c.Destination,
		ExistingAccountID:     c.Account,
		WaitForCompletion:     c.Wait,
	})
	if res != nil {
		if perr := printJSON(res); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

type sendCommand struct {
	To        string     `long:"to" required:"true" description:"Receiving party"`
	Amount    amountFlag `long:"amount" required:"true" description:"CBTC amount"`
	Reference string     `long:"reference" description:"Reference stored in the transfer metadata"`
	Reason    string     `long:"reason" description:"Free-form reason"`
	CommandID string     `long:"command-id" description:"Idempotency key"`
}

func (c *sendCommand) Execute([]string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()
	ctx, cancel := signalContext()
	defer cancel()

	tc, err := rt.client.Transfers()
	if err != nil {
		return err
	}
	res, err := tc.Send(ctx, &transfer.SendRequest{
		Sender:    rt.party,
		Receiver:  c.To,
		Amount:    c.Amount.Decimal,
		Reference: c.Reference,
		Reason:    c.Reason,
		CommandID: c.CommandID,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

type acceptCommand struct {
	Offer string `long:"offer" description:"Accept a single offer; all pending offers when empty"`
}

func (c *acceptCommand) Execute([]string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()
	ctx, cancel := signalContext()
	defer cancel()

	tc, err := rt.client.Transfers()
	if err != nil {
		return err
	}
	if c.Offer != "" {
		res, err := tc.Accept(ctx, rt.party, c.Offer)
		if err != nil {
			return err
		}
		return printJSON(res)
	}

	res, err := tc.AcceptAll(ctx, rt.party)
	if err != nil {
		return err
	}
	rt.logger.Info("Offers accepted",
		zap.Int("successful", res.SuccessfulCount),
		zap.Int("failed", res.FailedCount))
	return printJSON(res)
}

type consolidateCommand struct {
	Threshold int `long:"threshold" default:"10" description:"Merge once the party holds at least this many holdings"`
}

func (c *consolidateCommand) Execute([]string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()
	ctx, cancel := signalContext()
	defer cancel()

	tc, err := rt.client.Transfers()
	if err != nil {
		return err
	}
	res, err := tc.Consolidate(ctx, rt.party, c.Threshold)
	if err != nil {
		return err
	}
	return printJSON(res)
}

type balanceCommand struct{}

func (c *balanceCommand) Execute([]string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()
	ctx, cancel := signalContext()
	defer cancel()

	bal, err := rt.client.Holdings.Balance(ctx, rt.party, rt.cfg.Holding.InstrumentID)
	if err != nil {
		return err
	}
	return printJSON(bal)
}
