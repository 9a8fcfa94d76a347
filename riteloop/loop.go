// Package riteloop drives the fixed-period tick that sequences every
// other component (spec §4.7). Each step may fail independently; a
// failure is logged and the tick continues rather than aborting.
package riteloop

import (
	"context"
	"math/big"
	"net/netip"
	"time"

	"github.com/althea-mesh/rita/debt"
	"github.com/althea-mesh/rita/exitswitcher"
	"github.com/althea-mesh/rita/identity"
	"github.com/althea-mesh/rita/operatorfee"
	"github.com/althea-mesh/rita/oracle"
	"github.com/althea-mesh/rita/payment"
	"github.com/althea-mesh/rita/traffic"
	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

var log = slog.Disabled

// UseLogger registers the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// NeighborSource supplies the current neighbor set, as discovered by the
// peer discovery collaborator (out of scope for this module).
type NeighborSource interface {
	Neighbors() ([]identity.Identity, error)
}

// GatewayRefresher refreshes whatever gateway-reachability state the
// platform tracks; out of scope in detail, consumed only as a pass/fail
// step (spec §4.7 step a).
type GatewayRefresher interface {
	RefreshGatewayStatus() error
}

// TunnelEnforcer applies DebtKeeper's per-neighbor classification to the
// actual tunnel shaper.
type TunnelEnforcer interface {
	Suspend(id identity.Identity) error
	Normal(id identity.Identity) error
	PayFloat(id identity.Identity, amount *big.Int) error
}

// RouteSource supplies the routing daemon's current route table, used by
// ExitSwitcher. Only present on client routers.
type RouteSource interface {
	Routes() ([]exitswitcher.Route, error)
}

// OperatorConfig is the operator-fee parameters read fresh each tick,
// since they may change via the operator check-in dialogue (out of
// scope here).
type OperatorConfig struct {
	Address      common.Address
	FeePerSecond *big.Int
	PayThreshold *big.Int
}

// Loop owns every per-tick collaborator and the tick counter used for GC
// and persistence bookkeeping.
type Loop struct {
	Keeper     *debt.Keeper
	Watcher    *traffic.Watcher
	Controller *payment.Controller
	Oracle     *oracle.Oracle
	Fee        *operatorfee.Accrual

	// Switcher is nil on exit routers: ExitSwitcher is client-only.
	Switcher     *exitswitcher.Switcher
	Subnet       netip.Prefix
	SelectedExit *exitswitcher.SelectedExit

	Neighbors NeighborSource
	Gateway   GatewayRefresher
	Tunnels   TunnelEnforcer
	Bytes     traffic.ByteReader
	Prices    traffic.PriceSource
	Routes    RouteSource

	GCTicks uint64

	tick uint64
}

// Tick runs one full round in the fixed order from spec §4.7. now is
// injected for OperatorFeeAccrual's high-water mark so the whole step is
// deterministically testable.
func (l *Loop) Tick(ctx context.Context, now time.Time, operator OperatorConfig, ourID identity.Identity) {
	l.tick++

	if l.Gateway != nil {
		if err := l.Gateway.RefreshGatewayStatus(); err != nil {
			log.Warnf("riteloop: refreshing gateway status failed: %v", err)
		}
	}

	ids, err := l.Neighbors.Neighbors()
	if err != nil {
		log.Warnf("riteloop: fetching neighbors failed: %v", err)
		ids = nil
	}

	l.Watcher.Tick(ids, l.Bytes, l.Prices, l.Keeper)

	for _, id := range ids {
		l.Keeper.Observe(id, l.tick)
		l.applyClassification(ctx, id)
	}

	retired := l.Keeper.GC(l.tick, l.GCTicks)
	for _, key := range retired {
		l.Watcher.Forget(key)
	}

	l.Fee.Tick(ctx, now, operator.Address, operator.FeePerSecond, operator.PayThreshold, l.Controller)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := l.Oracle.Tick(gctx); err != nil {
			log.Warnf("riteloop: oracle tick failed: %v", err)
		}
		return nil
	})
	if l.Switcher != nil && l.Routes != nil {
		g.Go(func() error {
			l.runExitSwitcher()
			return nil
		})
	}
	// Errors from either branch are already logged and swallowed inside;
	// Wait only propagates ctx cancellation, which callers may act on.
	_ = g.Wait()
}

func (l *Loop) applyClassification(ctx context.Context, id identity.Identity) {
	action, amount, flight := l.Keeper.Classify(id)
	switch action {
	case debt.ActionMakePayment:
		event := l.Controller.Send(ctx, payment.Intent{To: id, Amount: amount, Flight: flight})
		if err := l.Keeper.SettlePayment(id, flight, amount, event.Success); err != nil {
			log.Errorf("riteloop: settling payment for %s: %v", id.Nickname, err)
		}
	case debt.ActionSuspendTunnel:
		if err := l.Tunnels.Suspend(id); err != nil {
			log.Warnf("riteloop: suspending tunnel for %s: %v", id.Nickname, err)
		}
	case debt.ActionNormal:
		if err := l.Tunnels.Normal(id); err != nil {
			log.Warnf("riteloop: un-suspending tunnel for %s: %v", id.Nickname, err)
		}
	case debt.ActionPayFloat:
		if err := l.Tunnels.PayFloat(id, amount); err != nil {
			log.Warnf("riteloop: releasing pay-float credit for %s: %v", id.Nickname, err)
		}
	}
}

func (l *Loop) runExitSwitcher() {
	routes, err := l.Routes.Routes()
	if err != nil {
		log.Warnf("riteloop: fetching routes for exit switcher failed: %v", err)
		return
	}
	if _, err := l.Switcher.Tick(l.Subnet, routes, l.SelectedExit); err != nil {
		log.Warnf("riteloop: exit switcher tick failed: %v", err)
	}
}
