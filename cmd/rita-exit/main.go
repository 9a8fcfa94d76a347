// Command rita-exit runs the tick loop for an exit router: it settles
// payments with its mesh neighbors and the fleet operator the same way a
// client router does, but never runs ExitSwitcher, since an exit does not
// select an exit for itself.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/althea-mesh/rita"
	"github.com/althea-mesh/rita/babel"
	"github.com/althea-mesh/rita/daemon"
	"github.com/althea-mesh/rita/identity"
	"github.com/althea-mesh/rita/traffic"
	flags "github.com/jessevdk/go-flags"
)

func main() {
	opts, err := daemon.ParseOptions()
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "rita-exit: %v\n", err)
		os.Exit(1)
	}

	root, err := daemon.InitLogging(opts, rita.SetupLoggers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rita-exit: %v\n", err)
		os.Exit(1)
	}
	defer root.Close()

	boot, err := daemon.Load(opts, true, time.Now(), "rita-exit")
	if err != nil {
		fmt.Fprintf(os.Stderr, "rita-exit: %v\n", err)
		os.Exit(1)
	}

	gcTicks := daemon.GCTicksFor(opts.TickPeriod, boot.Settings.Network.TunnelTimeoutSeconds)
	loop := daemon.BuildLoop(boot, gcTicks)
	loop.Neighbors = noopNeighbors{}
	loop.Gateway = noopGateway{}
	loop.Tunnels = noopTunnels{}
	loop.Bytes = noopBytes{}
	loop.Prices = noopPrices{}
	if boot.Babel != nil {
		loop.Prices = babel.PriceSource{Client: boot.Babel}
	}

	metrics := daemon.ServeMetrics(opts.MetricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(opts.TickPeriod)
	defer ticker.Stop()

	operator := daemon.OperatorConfig(boot)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			start := time.Now()
			loop.Tick(ctx, now, operator, boot.OurID)
			metrics.ObserveTick(time.Since(start))
		}
	}
}

// noopNeighbors, noopGateway, noopTunnels, noopBytes and noopPrices stand
// in for the platform integration this core does not implement (packet
// routing, tunnel shaping, traffic accounting): spec Non-goals.
type noopNeighbors struct{}

func (noopNeighbors) Neighbors() ([]identity.Identity, error) { return nil, nil }

type noopGateway struct{}

func (noopGateway) RefreshGatewayStatus() error { return nil }

type noopTunnels struct{}

func (noopTunnels) Suspend(identity.Identity) error            { return nil }
func (noopTunnels) Normal(identity.Identity) error             { return nil }
func (noopTunnels) PayFloat(identity.Identity, *big.Int) error { return nil }

type noopBytes struct{}

func (noopBytes) ReadCounters(identity.Identity) (traffic.Counters, error) {
	return traffic.Counters{}, nil
}

type noopPrices struct{}

func (noopPrices) PricesFor(identity.Identity) (traffic.Prices, error) {
	return traffic.Prices{PriceTheyOweUs: big.NewInt(0), PriceWeOweThem: big.NewInt(0)}, nil
}
