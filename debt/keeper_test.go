package debt

import (
	"math/big"
	"net/netip"
	"testing"

	"github.com/althea-mesh/rita/identity"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func testNeighbor(n byte) identity.Identity {
	return identity.Identity{
		MeshIP:      netip.MustParseAddr("fd00::1"),
		EthAddress:  common.BytesToAddress([]byte{n}),
		WgPublicKey: identity.WgPublicKey{n},
		Nickname:    "neighbor",
	}
}

// Scenario 1 — pay-threshold trip (spec §8).
func TestPayThresholdTrip(t *testing.T) {
	k := NewKeeper(nil)
	k.SetThresholds(Thresholds{Pay: big.NewInt(10_000), Close: big.NewInt(-40_000)})
	neighbor := testNeighbor(1)

	// Tick 1: 5MB at 3 wei/byte = 15,000,000.
	k.ApplyTrafficDelta(neighbor, big.NewInt(15_000_000))

	action, amount, flight := k.Classify(neighbor)
	require.Equal(t, ActionMakePayment, action)
	require.Equal(t, big.NewInt(15_000_000), amount)

	// Tick 2: no RPC reply yet, in-flight still set, no new intent.
	action2, _, _ := k.Classify(neighbor)
	require.NotEqual(t, ActionMakePayment, action2, "no second payment while one is in flight")

	// Tick 3: success callback settles the ledger.
	require.NoError(t, k.SettlePayment(neighbor, flight, amount, true))

	snap := k.Snapshot()
	require.Zero(t, snap[neighbor.AsKey()].Debt.Sign())
	require.Nil(t, snap[neighbor.AsKey()].PaymentInFlight)
}

// Scenario 2 — close-threshold suspension and idempotent incoming payment.
func TestCloseThresholdSuspensionAndReplay(t *testing.T) {
	k := NewKeeper(nil)
	k.SetThresholds(Thresholds{Pay: big.NewInt(100_000), Close: big.NewInt(-10_000)})
	neighbor := testNeighbor(2)

	k.ApplyTrafficDelta(neighbor, big.NewInt(-10_001))
	action, _, _ := k.Classify(neighbor)
	require.Equal(t, ActionSuspendTunnel, action)

	txid := common.HexToHash("0xdeadbeef")
	applied := k.ApplyIncomingPayment(neighbor, txid, big.NewInt(20_000))
	require.True(t, applied)

	snap := k.Snapshot()
	require.Equal(t, big.NewInt(9_999), snap[neighbor.AsKey()].Debt)

	action2, _, _ := k.Classify(neighbor)
	require.Equal(t, ActionNormal, action2)

	// Replay of the same txid is a no-op.
	applied2 := k.ApplyIncomingPayment(neighbor, txid, big.NewInt(20_000))
	require.False(t, applied2)
	snap2 := k.Snapshot()
	require.Equal(t, big.NewInt(9_999), snap2[neighbor.AsKey()].Debt)
}

// P2 — at most one payment in flight per neighbor.
func TestAtMostOnePaymentInFlight(t *testing.T) {
	k := NewKeeper(nil)
	k.SetThresholds(Thresholds{Pay: big.NewInt(100), Close: big.NewInt(-100)})
	neighbor := testNeighbor(3)
	k.ApplyTrafficDelta(neighbor, big.NewInt(1_000))

	action1, _, flight1 := k.Classify(neighbor)
	require.Equal(t, ActionMakePayment, action1)

	for i := 0; i < 5; i++ {
		action, _, _ := k.Classify(neighbor)
		require.NotEqual(t, ActionMakePayment, action)
	}

	require.NoError(t, k.SettlePayment(neighbor, flight1, big.NewInt(1_000), false))
	action2, _, flight2 := k.Classify(neighbor)
	require.Equal(t, ActionMakePayment, action2)
	require.NotEqual(t, flight1, flight2)
}

// P3 — ledger monotonicity vs bytes+payments: threshold recomputation never
// mutates debt.
func TestThresholdRecomputationDoesNotMutateDebt(t *testing.T) {
	k := NewKeeper(nil)
	neighbor := testNeighbor(4)
	k.ApplyTrafficDelta(neighbor, big.NewInt(42))

	k.SetThresholds(Thresholds{Pay: big.NewInt(1_000_000), Close: big.NewInt(-1_000_000)})
	k.Classify(neighbor)
	k.SetThresholds(Thresholds{Pay: big.NewInt(7), Close: big.NewInt(-7)})
	k.Classify(neighbor)

	require.Equal(t, big.NewInt(42), k.Snapshot()[neighbor.AsKey()].Debt)
}

func TestPayFloatBand(t *testing.T) {
	k := NewKeeper(nil)
	k.SetThresholds(Thresholds{Pay: big.NewInt(10_000), Close: big.NewInt(-40_000)})
	neighbor := testNeighbor(5)

	// Comfortably ahead of schedule: below -(pay/20) but above close.
	k.ApplyTrafficDelta(neighbor, big.NewInt(-600))
	action, _, _ := k.Classify(neighbor)
	require.Equal(t, ActionPayFloat, action)
}

func TestGCRetiresIdleNeighbors(t *testing.T) {
	k := NewKeeper(nil)
	neighbor := testNeighbor(6)
	k.Observe(neighbor, 10)

	removed := k.GC(15, 10)
	require.Empty(t, removed)

	removed = k.GC(25, 10)
	require.Len(t, removed, 1)
	require.Equal(t, neighbor.AsKey(), removed[0])
}
