package settings

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPaymentSettings() *PaymentSettings {
	return NewPaymentSettings(
		"0x1111111111111111111111111111111111111111",
		[]string{"https://node-a", "https://node-b"},
		big.NewInt(1_000),
		5,
		big.NewInt(1),
		big.NewInt(1_000_000),
		big.NewInt(1),
		nil,
		"1", "1",
	)
}

// P5 — zero-balance safety window.
func TestUpdateBalanceZeroWindow(t *testing.T) {
	p := newTestPaymentSettings()

	p.UpdateBalance(big.NewInt(0), false)
	require.Equal(t, big.NewInt(1_000), p.Snapshot().Balance, "zero rejected without an open window")

	p.UpdateBalance(big.NewInt(0), true)
	require.Zero(t, p.Snapshot().Balance.Sign(), "zero accepted while window is open")
}

func TestUpdateBalanceNonZeroAlwaysApplies(t *testing.T) {
	p := newTestPaymentSettings()
	p.UpdateBalance(big.NewInt(42), false)
	require.Equal(t, big.NewInt(42), p.Snapshot().Balance)
}

// Net version latches once; a later disagreement is rejected.
func TestLatchNetVersion(t *testing.T) {
	p := newTestPaymentSettings()

	require.True(t, p.LatchNetVersion(1))
	require.Equal(t, uint64(1), *p.Snapshot().NetVersion)

	accepted := p.LatchNetVersion(3)
	require.False(t, accepted)
	require.Equal(t, uint64(1), *p.Snapshot().NetVersion, "hostile disagreement must not overwrite the latched value")
}

// P4 — nonce monotonicity across local sends.
func TestNonceIncrementsLocallyBeforeOverwrite(t *testing.T) {
	p := newTestPaymentSettings()
	require.Equal(t, uint64(5), p.IncrementNonce())
	require.Equal(t, uint64(6), p.IncrementNonce())
	require.Equal(t, uint64(7), p.Snapshot().Nonce)

	p.UpdateNonce(100)
	require.Equal(t, uint64(100), p.Snapshot().Nonce)
}

// P9 — threshold sign convention across the configured gas range.
func TestThresholdSignConvention(t *testing.T) {
	p := newTestPaymentSettings()
	for _, gas := range []int64{1, 500, 1_000_000, 5_000_000} {
		p.UpdateGasAndThresholds(big.NewInt(gas))
		snap := p.Snapshot()
		require.True(t, snap.PayThreshold.Sign() > 0, "pay threshold must be positive for gas=%d", gas)
		require.True(t, snap.CloseThreshold.Sign() < 0, "close threshold must be negative for gas=%d", gas)
		require.Equal(t, new(big.Int).Mul(snap.PayThreshold, big.NewInt(-4)), snap.CloseThreshold)
	}
}

func TestUpdateGasClampsToRange(t *testing.T) {
	p := NewPaymentSettings("addr", nil, big.NewInt(0), 0,
		big.NewInt(100), big.NewInt(200), big.NewInt(1), nil, "1", "1")

	p.UpdateGasAndThresholds(big.NewInt(1))
	require.Equal(t, big.NewInt(100), p.Snapshot().GasPrice, "below min clamps to min")

	p.UpdateGasAndThresholds(big.NewInt(1_000_000))
	require.Equal(t, big.NewInt(200), p.Snapshot().GasPrice, "above max clamps to max")
}

func TestFileSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rita.toml")

	fs := &FileSettings{
		Network: NetworkSettings{
			MeshIP:               "fd00::1",
			BabelPort:            6872,
			TunnelTimeoutSeconds: 600,
		},
		Payment: PaymentFileSettings{
			EthAddress:           "0x1111111111111111111111111111111111111111",
			NodeList:             []string{"https://node-a"},
			Balance:              "1000",
			Nonce:                5,
			MinGas:               "1",
			MaxGas:               "1000000",
			DynamicFeeMultiplier: "1",
			SystemChain:          "1",
			WithdrawChain:        "1",
		},
		Operator: OperatorSettings{
			OperatorAddress: "0x2222222222222222222222222222222222222222",
			OperatorFee:     "1000",
		},
		ExitClient: ExitClientSettings{
			Exits: []string{"10.0.0.0/24"},
		},
	}

	require.NoError(t, Save(path, fs))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, fs.Network, loaded.Network)
	require.Equal(t, fs.Payment, loaded.Payment)
	require.Equal(t, fs.Operator, loaded.Operator)
	require.Equal(t, fs.ExitClient, loaded.ExitClient)
}

func TestBuildPaymentSettingsRejectsBadPrivateKey(t *testing.T) {
	_, err := BuildPaymentSettings(PaymentFileSettings{
		EthPrivateKey: "not-hex",
	})
	require.Error(t, err)
}
