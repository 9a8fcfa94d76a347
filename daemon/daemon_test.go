package daemon

import (
	"encoding/base64"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/althea-mesh/rita/debt"
	"github.com/althea-mesh/rita/settings"
	"github.com/stretchr/testify/require"
)

func TestOurIdentityDerivesWgPublicKeyFromPrivateKey(t *testing.T) {
	priv := make([]byte, 32)
	for i := range priv {
		priv[i] = byte(i + 1)
	}
	ns := settings.NetworkSettings{
		MeshIP:       "fd00::1",
		WgPrivateKey: base64.StdEncoding.EncodeToString(priv),
	}

	id, err := OurIdentity(ns, "0x1111111111111111111111111111111111111111", "test-router")
	require.NoError(t, err)
	require.Equal(t, "test-router", id.Nickname)
	require.True(t, id.MeshIP.IsValid())

	var zero [32]byte
	require.NotEqual(t, zero, [32]byte(id.WgPublicKey))
}

func TestOurIdentityRejectsInvalidMeshIP(t *testing.T) {
	ns := settings.NetworkSettings{
		MeshIP:       "not-an-ip",
		WgPrivateKey: base64.StdEncoding.EncodeToString(make([]byte, 32)),
	}
	_, err := OurIdentity(ns, "0x0", "nick")
	require.Error(t, err)
}

func TestOurIdentityRejectsShortPrivateKey(t *testing.T) {
	ns := settings.NetworkSettings{
		MeshIP:       "fd00::1",
		WgPrivateKey: base64.StdEncoding.EncodeToString(make([]byte, 16)),
	}
	_, err := OurIdentity(ns, "0x0", "nick")
	require.Error(t, err)
}

func TestGCTicksForDerivesFromTunnelTimeout(t *testing.T) {
	require.Equal(t, uint64(120), GCTicksFor(5*time.Second, 600))
}

func TestGCTicksForFallsBackWhenTimeoutUnset(t *testing.T) {
	require.Equal(t, uint64(180), GCTicksFor(5*time.Second, 0))
}

func TestGCTicksForFallsBackWhenPeriodUnset(t *testing.T) {
	require.Equal(t, uint64(180), GCTicksFor(0, 0))
}

func TestLoadSelectedExitStartsUnselectedWithoutCurrentExit(t *testing.T) {
	se := loadSelectedExit(settings.ExitClientSettings{})
	require.False(t, se.SelectedID.IsValid())
	require.Nil(t, se.SelectedMetric)
}

func TestLoadSelectedExitRestoresPersistedCurrentExit(t *testing.T) {
	se := loadSelectedExit(settings.ExitClientSettings{CurrentExit: "10.0.0.5"})
	require.Equal(t, netip.MustParseAddr("10.0.0.5"), se.SelectedID)
	require.Equal(t, netip.MustParseAddr("10.0.0.5"), se.TrackingExit)
}

func TestLoadSelectedExitIgnoresMalformedCurrentExit(t *testing.T) {
	se := loadSelectedExit(settings.ExitClientSettings{CurrentExit: "not-an-ip"})
	require.False(t, se.SelectedID.IsValid())
}

func TestResolveLedgerEntryRejectsMalformedFields(t *testing.T) {
	_, ok := resolveLedgerEntry(debt.LoadedEntry{MeshIP: "not-an-ip"})
	require.False(t, ok)

	_, ok = resolveLedgerEntry(debt.LoadedEntry{MeshIP: "fd00::1", WgPublicKey: "not-hex"})
	require.False(t, ok)
}

func TestResolveLedgerEntryReconstructsIdentity(t *testing.T) {
	id, ok := resolveLedgerEntry(debt.LoadedEntry{
		MeshIP:      "fd00::1",
		EthAddress:  "0x1111111111111111111111111111111111111111",
		WgPublicKey: strings.Repeat("01", 32),
	})
	require.True(t, ok)
	require.Equal(t, netip.MustParseAddr("fd00::1"), id.MeshIP)
}
