// Package btcaddr validates Bitcoin addresses for the network a Canton chain
// is paired with.
package btcaddr

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Network names accepted in configuration.
const (
	Mainnet = "mainnet"
	Testnet = "testnet"
	Signet  = "signet"
	Regtest = "regtest"
)

// Params returns the chain parameters for a network name.
func Params(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case Mainnet, "main", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case Testnet, "testnet3", "test":
		return &chaincfg.TestNet3Params, nil
	case Signet:
		return &chaincfg.SigNetParams, nil
	case Regtest, "regression":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", network)
	}
}

// NetworkForChain picks the Bitcoin network a Canton chain settles against:
// canton-mainnet uses mainnet, every other chain uses testnet.
func NetworkForChain(chain string) string {
	if strings.Contains(strings.ToLower(chain), "mainnet") {
		return Mainnet
	}
	return Testnet
}

// Validate checks that addr is a well-formed address for params.
func Validate(addr string, params *chaincfg.Params) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("empty bitcoin address")
	}
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return fmt.Errorf("decode bitcoin address %q: %w", addr, err)
	}
	if !decoded.IsForNet(params) {
		return fmt.Errorf("bitcoin address %q is not valid on %s", addr, params.Name)
	}
	return nil
}
