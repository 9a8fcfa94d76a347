package identity

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func testIdentity(nickname string) Identity {
	return Identity{
		MeshIP:      netip.MustParseAddr("fd00::1"),
		EthAddress:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		WgPublicKey: WgPublicKey{1, 2, 3, 4},
		Nickname:    nickname,
	}
}

// P1 — identity equality and hashing ignore nickname.
func TestEqualIgnoresNickname(t *testing.T) {
	a := testIdentity("alice")
	b := testIdentity("bob")

	require.True(t, a.Equal(b))
	require.Equal(t, a.Hash64(), b.Hash64())
	require.Equal(t, a.AsKey(), b.AsKey())
}

func TestEqualDiffersOnTriple(t *testing.T) {
	a := testIdentity("alice")
	b := testIdentity("alice")
	b.EthAddress = common.HexToAddress("0x2222222222222222222222222222222222222222")

	require.False(t, a.Equal(b))
	require.NotEqual(t, a.Hash64(), b.Hash64())
}

// R1 — JSON round trip preserves nickname and equality.
func TestJSONRoundTrip(t *testing.T) {
	a := testIdentity("alice")

	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var out Identity
	require.NoError(t, json.Unmarshal(raw, &out))

	require.Equal(t, a, out)
	require.Equal(t, a.Nickname, out.Nickname)
}
