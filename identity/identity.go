// Package identity defines the stable identity of a mesh router and the
// equality/hash rules used to key every structure that tracks a neighbor.
package identity

import (
	"encoding/hex"
	"fmt"
	"net/netip"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
)

// WgPublicKey is a wireguard curve25519 public key.
type WgPublicKey [32]byte

// String renders the key as hex, matching the teacher's convention of
// human-printable fixed-size keys.
func (k WgPublicKey) String() string {
	return fmt.Sprintf("%x", [32]byte(k))
}

// ParseWgPublicKey parses the hex encoding produced by String, the
// inverse needed to reconstruct an Identity from a persisted snapshot.
func ParseWgPublicKey(s string) (WgPublicKey, error) {
	var k WgPublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("identity: invalid wireguard public key %q: %w", s, err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("identity: wireguard public key %q has wrong length", s)
	}
	copy(k[:], b)
	return k, nil
}

// Identity is the triple that uniquely names a mesh router:
// (mesh_ip, eth_address, wg_public_key). Nickname is carried for display
// only and never participates in Equal or Hash64.
type Identity struct {
	MeshIP      netip.Addr
	EthAddress  common.Address
	WgPublicKey WgPublicKey
	Nickname    string
}

// Equal reports whether two identities share the same triple, ignoring
// Nickname.
func (id Identity) Equal(other Identity) bool {
	return id.MeshIP == other.MeshIP &&
		id.EthAddress == other.EthAddress &&
		id.WgPublicKey == other.WgPublicKey
}

// Hash64 returns a stable 64-bit hash of the identity triple, suitable for
// use as a map key's digest or a quick equality pre-check. Nickname does
// not affect the result, so renaming a neighbor never invalidates a
// structure keyed by this hash.
func (id Identity) Hash64() uint64 {
	var buf [16 + common.AddressLength + len(id.WgPublicKey)]byte
	off := 0
	meshBytes := id.MeshIP.As16()
	off += copy(buf[off:], meshBytes[:])
	off += copy(buf[off:], id.EthAddress[:])
	copy(buf[off:], id.WgPublicKey[:])

	h := xxhash.New()
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// Key returns a comparable value suitable for use as a Go map key (the
// triple only, no Nickname), since netip.Addr, common.Address and
// WgPublicKey are all themselves comparable.
type Key struct {
	meshIP      netip.Addr
	ethAddress  common.Address
	wgPublicKey WgPublicKey
}

// AsKey projects the identity onto its comparable, nickname-free Key.
func (id Identity) AsKey() Key {
	return Key{
		meshIP:      id.MeshIP,
		ethAddress:  id.EthAddress,
		wgPublicKey: id.WgPublicKey,
	}
}
