package payment

import (
	"context"
	"errors"
	"math/big"
	"net/netip"
	"testing"

	"github.com/althea-mesh/rita/chain"
	"github.com/althea-mesh/rita/debt"
	"github.com/althea-mesh/rita/identity"
	"github.com/althea-mesh/rita/settings"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	sendErr error
	sent    []*types.Transaction
}

func (f *fakeClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeClient) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return 0, nil
}
func (f *fakeClient) NetworkID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func testNeighbor() identity.Identity {
	return identity.Identity{
		MeshIP:      netip.MustParseAddr("fd00::2"),
		EthAddress:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		WgPublicKey: identity.WgPublicKey{9},
	}
}

func newTestController(t *testing.T, client chain.Client, withKey bool) (*Controller, *settings.PaymentSettings) {
	t.Helper()
	ps := settings.NewPaymentSettings("addr", []string{"node-a"}, big.NewInt(1_000), 5,
		big.NewInt(1), big.NewInt(1_000_000), big.NewInt(1), nil, "", "")
	ps.LatchNetVersion(1)

	if withKey {
		priv, err := crypto.GenerateKey()
		require.NoError(t, err)
		ps = settings.NewPaymentSettings("addr", []string{"node-a"}, big.NewInt(1_000), 5,
			big.NewInt(1), big.NewInt(1_000_000), big.NewInt(1), priv, "", "")
		ps.LatchNetVersion(1)
	}

	pool := chain.NewPool([]string{"node-a"}, func(string) (chain.Client, error) { return client, nil }, nil)
	ourID := identity.Identity{EthAddress: common.HexToAddress("0x1111111111111111111111111111111111111111")}
	return New(ps, pool, ourID), ps
}

func TestSendRefusesWithoutPrivateKey(t *testing.T) {
	c, _ := newTestController(t, &fakeClient{}, false)
	event := c.Send(context.Background(), Intent{To: testNeighbor(), Amount: big.NewInt(100), Flight: debt.FlightID(1)})
	require.False(t, event.Success)
	require.Error(t, event.Err)
}

func TestSendBroadcastsAndIncrementsNonce(t *testing.T) {
	client := &fakeClient{}
	c, ps := newTestController(t, client, true)

	event := c.Send(context.Background(), Intent{To: testNeighbor(), Amount: big.NewInt(500), Flight: debt.FlightID(7)})
	require.True(t, event.Success)
	require.NotNil(t, event.TxID)
	require.Equal(t, debt.FlightID(7), event.Flight)
	require.Len(t, client.sent, 1)
	require.Equal(t, uint64(6), ps.Snapshot().Nonce, "nonce incremented locally before confirmation")

	pending := c.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, big.NewInt(500), pending[0].Amount)
}

// Broadcast failure must not roll back the nonce (spec §4.4 step 4) and
// must surface as a failed settlement.
func TestSendBroadcastFailureReportsFailure(t *testing.T) {
	client := &fakeClient{sendErr: errors.New("connection reset")}
	c, ps := newTestController(t, client, true)

	event := c.Send(context.Background(), Intent{To: testNeighbor(), Amount: big.NewInt(1), Flight: debt.FlightID(1)})
	require.False(t, event.Success)
	require.Equal(t, uint64(6), ps.Snapshot().Nonce, "nonce is not rolled back on broadcast failure")
}
