package debt

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/althea-mesh/rita/identity"
)

// snapshotEntry is the on-disk representation of one neighbor's ledger.
// Only the fields needed to recover balances across a reboot are kept;
// PaymentInFlight is deliberately not persisted — an in-flight payment
// that was interrupted by a reboot is safest retried from scratch next
// tick rather than resurrected with stale bookkeeping.
type snapshotEntry struct {
	MeshIP           string `json:"mesh_ip"`
	EthAddress       string `json:"eth_address"`
	WgPublicKey      string `json:"wg_public_key"`
	Debt             string `json:"debt"`
	IncomingPayments uint64 `json:"incoming_payments"`
	LastSeenTick     uint64 `json:"last_seen_tick"`
}

// Store persists the Keeper's ledger map to a single JSON snapshot file,
// using a write-to-temp-then-rename so a crash mid-write never corrupts
// the previous snapshot (the same durability idiom go-ethereum's
// accounts/keystore uses for its key files).
type Store struct {
	path string
}

// NewStore returns a Store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Flush writes the full ledger map, keyed by identity, to disk. The caller
// supplies the identities alongside their ledgers since Keeper's internal
// map is keyed by the nickname-free identity.Key and cannot reconstruct a
// full Identity (in particular, MeshIP/EthAddress/WgPublicKey) on its own;
// callers pass the map returned by Keeper.Entries.
func (s *Store) Flush(entries map[identity.Identity]*NeighborLedger) error {
	out := make([]snapshotEntry, 0, len(entries))
	for id, l := range entries {
		out = append(out, snapshotEntry{
			MeshIP:           id.MeshIP.String(),
			EthAddress:       id.EthAddress.Hex(),
			WgPublicKey:      id.WgPublicKey.String(),
			Debt:             l.Debt.String(),
			IncomingPayments: l.IncomingPayments,
			LastSeenTick:     l.LastSeenTick,
		})
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("debt: marshal snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("debt: create snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		return fmt.Errorf("debt: write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("debt: rename snapshot into place: %w", err)
	}
	return nil
}

// LoadedEntry is one reloaded neighbor balance, keyed loosely (by address
// strings) so the caller can resolve it back against a live Identity from
// peer discovery.
type LoadedEntry struct {
	MeshIP           string
	EthAddress       string
	WgPublicKey      string
	Debt             *big.Int
	IncomingPayments uint64
	LastSeenTick     uint64
}

// Load reads back a previously-flushed snapshot. A missing file is not an
// error — it means this is a fresh install with no prior balances.
func (s *Store) Load() ([]LoadedEntry, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("debt: read snapshot: %w", err)
	}

	var entries []snapshotEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("debt: unmarshal snapshot: %w", err)
	}

	out := make([]LoadedEntry, 0, len(entries))
	for _, e := range entries {
		debt, ok := new(big.Int).SetString(e.Debt, 10)
		if !ok {
			return nil, fmt.Errorf("debt: snapshot entry for %s has invalid debt %q", e.EthAddress, e.Debt)
		}
		out = append(out, LoadedEntry{
			MeshIP:           e.MeshIP,
			EthAddress:       e.EthAddress,
			WgPublicKey:      e.WgPublicKey,
			Debt:             debt,
			IncomingPayments: e.IncomingPayments,
			LastSeenTick:     e.LastSeenTick,
		})
	}
	return out, nil
}

// Restore applies loaded entries onto a fresh Keeper, given a resolver
// that turns the loose on-disk identifiers back into live Identities (the
// peer discovery collaborator owns that mapping; debt only owns balances).
func Restore(k *Keeper, entries []LoadedEntry, resolve func(LoadedEntry) (identity.Identity, bool)) {
	for _, e := range entries {
		id, ok := resolve(e)
		if !ok {
			log.Warnf("debt: could not resolve snapshot entry for %s, dropping", e.EthAddress)
			continue
		}
		k.mu.Lock()
		l := k.ensureLedger(id)
		l.Debt.Set(e.Debt)
		l.IncomingPayments = e.IncomingPayments
		l.LastSeenTick = e.LastSeenTick
		k.mu.Unlock()
	}
}
