package riteloop

import (
	"context"
	"math/big"
	"net/netip"
	"testing"
	"time"

	"github.com/althea-mesh/rita/chain"
	"github.com/althea-mesh/rita/debt"
	"github.com/althea-mesh/rita/exitswitcher"
	"github.com/althea-mesh/rita/identity"
	"github.com/althea-mesh/rita/operatorfee"
	"github.com/althea-mesh/rita/oracle"
	"github.com/althea-mesh/rita/payment"
	"github.com/althea-mesh/rita/settings"
	"github.com/althea-mesh/rita/traffic"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeNeighbors struct {
	ids []identity.Identity
	err error
}

func (f *fakeNeighbors) Neighbors() ([]identity.Identity, error) { return f.ids, f.err }

type fakeGateway struct{ called int }

func (f *fakeGateway) RefreshGatewayStatus() error { f.called++; return nil }

type fakeTunnels struct {
	suspended, normaled []identity.Identity
	floated             []identity.Identity
}

func (f *fakeTunnels) Suspend(id identity.Identity) error {
	f.suspended = append(f.suspended, id)
	return nil
}
func (f *fakeTunnels) Normal(id identity.Identity) error {
	f.normaled = append(f.normaled, id)
	return nil
}
func (f *fakeTunnels) PayFloat(id identity.Identity, amount *big.Int) error {
	f.floated = append(f.floated, id)
	return nil
}

type fakeBytes struct{}

func (fakeBytes) ReadCounters(id identity.Identity) (traffic.Counters, error) {
	return traffic.Counters{}, nil
}

type fakePrices struct{}

func (fakePrices) PricesFor(id identity.Identity) (traffic.Prices, error) {
	return traffic.Prices{PriceTheyOweUs: big.NewInt(1), PriceWeOweThem: big.NewInt(1)}, nil
}

type fakeChainClient struct{}

func (fakeChainClient) BalanceAt(ctx context.Context, a common.Address, b *big.Int) (*big.Int, error) {
	return big.NewInt(500), nil
}
func (fakeChainClient) NonceAt(ctx context.Context, a common.Address, b *big.Int) (uint64, error) {
	return 3, nil
}
func (fakeChainClient) NetworkID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (fakeChainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (fakeChainClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return nil
}

func testNeighbor(n byte) identity.Identity {
	return identity.Identity{
		MeshIP:      netip.MustParseAddr("fd00::2"),
		EthAddress:  common.BytesToAddress([]byte{n}),
		WgPublicKey: identity.WgPublicKey{n},
		Nickname:    "neighbor",
	}
}

func TestTickRunsEveryStepAndSwallowsNeighborFetchError(t *testing.T) {
	n := testNeighbor(1)
	keeper := debt.NewKeeper(nil)
	keeper.SetThresholds(debt.Thresholds{Pay: big.NewInt(1_000_000), Close: big.NewInt(-1_000_000)})

	ps := settings.NewPaymentSettings("addr", []string{"node-a"}, big.NewInt(1_000), 5,
		big.NewInt(1), big.NewInt(1_000_000), big.NewInt(1), nil, "", "")
	ps.LatchNetVersion(1)
	pool := chain.NewPool([]string{"node-a"}, func(string) (chain.Client, error) { return fakeChainClient{}, nil }, nil)
	ourID := identity.Identity{EthAddress: common.HexToAddress("0x1111111111111111111111111111111111111111")}

	loop := &Loop{
		Keeper:     keeper,
		Watcher:    traffic.New(),
		Controller: payment.New(ps, pool, ourID),
		Oracle:     oracle.New(ps, pool, ourID.EthAddress),
		Fee:        operatorfee.New(time.Unix(0, 0)),
		Neighbors:  &fakeNeighbors{ids: []identity.Identity{n}},
		Gateway:    &fakeGateway{},
		Tunnels:    &fakeTunnels{},
		Bytes:      fakeBytes{},
		Prices:     fakePrices{},
		GCTicks:    100,
	}

	loop.Tick(context.Background(), time.Unix(0, 0), OperatorConfig{}, ourID)
	require.Equal(t, uint64(1), loop.tick)

	// A neighbor-fetch failure on a later tick must not crash the loop or
	// wipe the ledger; the tick simply treats no neighbors as present.
	loop.Neighbors = &fakeNeighbors{err: context.DeadlineExceeded}
	loop.Tick(context.Background(), time.Unix(5, 0), OperatorConfig{}, ourID)
	require.Equal(t, uint64(2), loop.tick)
}

func TestTickClassifiesSuspendForDeepDebt(t *testing.T) {
	n := testNeighbor(1)
	keeper := debt.NewKeeper(nil)
	keeper.SetThresholds(debt.Thresholds{Pay: big.NewInt(1_000_000), Close: big.NewInt(-10)})
	keeper.Observe(n, 1)
	keeper.ApplyTrafficDelta(n, big.NewInt(-1_000))

	ps := settings.NewPaymentSettings("addr", []string{"node-a"}, big.NewInt(1_000), 5,
		big.NewInt(1), big.NewInt(1_000_000), big.NewInt(1), nil, "", "")
	ps.LatchNetVersion(1)
	pool := chain.NewPool([]string{"node-a"}, func(string) (chain.Client, error) { return fakeChainClient{}, nil }, nil)
	ourID := identity.Identity{EthAddress: common.HexToAddress("0x1111111111111111111111111111111111111111")}

	tunnels := &fakeTunnels{}
	loop := &Loop{
		Keeper:     keeper,
		Watcher:    traffic.New(),
		Controller: payment.New(ps, pool, ourID),
		Oracle:     oracle.New(ps, pool, ourID.EthAddress),
		Fee:        operatorfee.New(time.Unix(0, 0)),
		Neighbors:  &fakeNeighbors{ids: []identity.Identity{n}},
		Tunnels:    tunnels,
		Bytes:      fakeBytes{},
		Prices:     fakePrices{},
		GCTicks:    100,
	}

	loop.Tick(context.Background(), time.Unix(0, 0), OperatorConfig{}, ourID)
	require.Len(t, tunnels.suspended, 1)
	require.Equal(t, n.AsKey(), tunnels.suspended[0].AsKey())
}

func TestExitSwitcherRunsOnClientRouters(t *testing.T) {
	keeper := debt.NewKeeper(nil)
	keeper.SetThresholds(debt.Thresholds{Pay: big.NewInt(1_000_000), Close: big.NewInt(-1_000_000)})
	ps := settings.NewPaymentSettings("addr", []string{"node-a"}, big.NewInt(1_000), 5,
		big.NewInt(1), big.NewInt(1_000_000), big.NewInt(1), nil, "", "")
	ps.LatchNetVersion(1)
	pool := chain.NewPool([]string{"node-a"}, func(string) (chain.Client, error) { return fakeChainClient{}, nil }, nil)
	ourID := identity.Identity{EthAddress: common.HexToAddress("0x1111111111111111111111111111111111111111")}

	routes := &fakeRoutes{routes: []exitswitcher.Route{{Dest: netip.MustParseAddr("10.0.0.5"), Metric: 100}}}
	selected := &exitswitcher.SelectedExit{}
	loop := &Loop{
		Keeper:       keeper,
		Watcher:      traffic.New(),
		Controller:   payment.New(ps, pool, ourID),
		Oracle:       oracle.New(ps, pool, ourID.EthAddress),
		Fee:          operatorfee.New(time.Unix(0, 0)),
		Neighbors:    &fakeNeighbors{},
		Tunnels:      &fakeTunnels{},
		Bytes:        fakeBytes{},
		Prices:       fakePrices{},
		GCTicks:      100,
		Switcher:     exitswitcher.New(3),
		Subnet:       netip.MustParsePrefix("10.0.0.0/24"),
		SelectedExit: selected,
		Routes:       routes,
	}

	loop.Tick(context.Background(), time.Unix(0, 0), OperatorConfig{}, ourID)
	require.True(t, selected.SelectedID.IsValid(), "exit switcher must run and select an exit on a client router")
}

type fakeRoutes struct{ routes []exitswitcher.Route }

func (f *fakeRoutes) Routes() ([]exitswitcher.Route, error) { return f.routes, nil }
