// Package oracle keeps PaymentSettings current by periodically reading
// balance, nonce, gas price and network id from a randomly-selected full
// node, and derives the pay/close thresholds from gas price (spec §4.1).
package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/althea-mesh/rita/chain"
	"github.com/althea-mesh/rita/settings"
	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

var log = slog.Disabled

// UseLogger registers the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// ZeroWindow is the 300s interval during which a full-node-reported zero
// balance is trusted, opened whenever the local code initiates a
// withdraw-all (spec §4.1 step 2, glossary "Zero window").
const ZeroWindow = 300 * time.Second

// Timeout bounds each full-node RPC issued during a tick (spec §5
// "cancellation"): it must be <= the tick period.
const Timeout = 5 * time.Second

// Oracle owns the zero-balance trust window and drives one Tick of chain
// reads into a PaymentSettings.
type Oracle struct {
	settings *settings.PaymentSettings
	pool     *chain.Pool
	ourAddr  common.Address

	mu          sync.Mutex
	zeroWindowAt *time.Time
}

// New builds an Oracle over the given settings and node pool.
func New(ps *settings.PaymentSettings, pool *chain.Pool, ourAddr common.Address) *Oracle {
	return &Oracle{settings: ps, pool: pool, ourAddr: ourAddr}
}

// OpenZeroWindow starts the 300s window during which a zero balance read
// is trusted. Call this immediately after locally initiating a
// withdraw-all.
func (o *Oracle) OpenZeroWindow(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.zeroWindowAt = &now
}

func (o *Oracle) zeroWindowOpen(now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.zeroWindowAt == nil {
		return false
	}
	return now.Sub(*o.zeroWindowAt) <= ZeroWindow
}

// Tick issues the four full-node queries concurrently, awaits them
// jointly, and applies the results. Any single failure aborts the whole
// tick's write — balance is not zeroed, nonce is not lowered (spec §4.1
// step 1).
func (o *Oracle) Tick(ctx context.Context) error {
	if o.pool.Empty() {
		return nil // configuration error surfaced at startup, not here.
	}

	client, node, err := o.pool.Pick()
	if err != nil {
		log.Warnf("oracle: could not select a full node: %v", err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	var (
		balance    *big.Int
		nonce      uint64
		netVersion *big.Int
		gasPrice   *big.Int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balance, err = client.BalanceAt(gctx, o.ourAddr, nil)
		return err
	})
	g.Go(func() error {
		var err error
		nonce, err = client.NonceAt(gctx, o.ourAddr, nil)
		return err
	})
	g.Go(func() error {
		var err error
		netVersion, err = client.NetworkID(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		gasPrice, err = client.SuggestGasPrice(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		log.Warnf("oracle: tick against %s failed, keeping prior state: %v", node, err)
		return err
	}

	now := time.Now()
	o.settings.UpdateBalance(balance, o.zeroWindowOpen(now))
	o.settings.UpdateNonce(nonce)
	if !o.settings.LatchNetVersion(netVersion.Uint64()) {
		log.Errorf("oracle: node %s reported net_version %s, disagreeing with the latched value; "+
			"IT IS CRITICAL THAT YOU REVIEW YOUR NODE LIST FOR HOSTILE/MISCONFIGURED NODES", node, netVersion)
	}
	o.settings.UpdateGasAndThresholds(gasPrice)

	log.Debugf("oracle: tick against %s ok: balance=%s nonce=%d gas=%s", node, balance, nonce, gasPrice)
	return nil
}
