package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/chainsafe/canton-cbtc/pkg/app/httpserver"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/mint"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/watch"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type watchCommand struct {
	Account  string `long:"account" description:"Report deposit requests for this deposit account id"`
	Withdraw string `long:"withdraw" description:"Wait for this withdraw request contract to complete"`
}

func (c *watchCommand) Execute([]string) error {
	if (c.Account == "") == (c.Withdraw == "") {
		return errors.New("exactly one of --account or --withdraw is required")
	}
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()
	ctx, cancel := signalContext()
	defer cancel()

	var ready atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stop := context.WithCancel(gctx)
	defer stop()

	if rt.cfg.Metrics.Enabled {
		srv := httpserver.New(rt.cfg.Metrics.Addr, httpserver.NewRouter(ready.Load, true))
		g.Go(func() error {
			return httpserver.ServeAndWait(watchCtx, rt.logger, srv, 0)
		})
	}
	g.Go(func() error {
		defer stop()
		if c.Withdraw != "" {
			return c.watchWithdraw(watchCtx, rt, &ready)
		}
		return c.watchDeposits(watchCtx, rt, &ready)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchDeposits prints every deposit request of the account as it appears,
// until interrupted.
func (c *watchCommand) watchDeposits(ctx context.Context, rt *runtime, ready *atomic.Bool) error {
	seen := make(map[string]bool)
	check := func(ctx context.Context) (struct{}, bool, error) {
		reqs, err := rt.client.Mint.ListDepositRequests(ctx, rt.party)
		if err != nil {
			return struct{}{}, false, err
		}
		ready.Store(true)

		var fresh []*mint.DepositRequest
		for _, r := range reqs {
			if r.DepositAccountID != c.Account || seen[r.ContractID] {
				continue
			}
			seen[r.ContractID] = true
			fresh = append(fresh, r)
		}
		for _, r := range fresh {
			rt.logger.Info("Deposit recorded",
				zap.String("contract_id", r.ContractID),
				zap.String("amount", r.Amount.String()),
				zap.String("btc_tx_id", r.BtcTxID))
			if err := printJSON(r); err != nil {
				return struct{}{}, false, err
			}
		}
		return struct{}{}, false, nil
	}

	cfg := rt.cfg.WatchConfig("deposit-monitor")
	cfg.Timeout = 0
	_, err := watch.Start(ctx, cfg, check, rt.logger).Wait()
	return err
}

func (c *watchCommand) watchWithdraw(ctx context.Context, rt *runtime, ready *atomic.Bool) error {
	reqs, err := rt.client.Redeem.ListWithdrawRequests(ctx, rt.party)
	if err != nil {
		return err
	}
	ready.Store(true)

	for _, r := range reqs {
		if r.ContractID != c.Withdraw {
			continue
		}
		done, err := rt.client.Redeem.WatchCompletion(ctx, rt.party, r).Wait()
		if err != nil {
			return err
		}
		return printJSON(done)
	}
	return fmt.Errorf("withdraw request %s not found", c.Withdraw)
}
