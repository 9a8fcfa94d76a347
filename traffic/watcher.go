// Package traffic converts per-tunnel byte counters and routing-daemon
// prices into debt deltas fed to the debt ledger (spec §4.2). It samples
// byte counters before applying any price change, and a sampling failure
// for one neighbor never skips the rest.
package traffic

import (
	"math/big"

	"github.com/althea-mesh/rita/debt"
	"github.com/althea-mesh/rita/identity"
	"github.com/decred/slog"
)

var log = slog.Disabled

// UseLogger registers the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Counters is a single tunnel's byte totals, as reported by the kernel or
// wireguard interface, at one point in time. They are monotonically
// increasing until a counter reset (interface recreation, reboot).
type Counters struct {
	RxBytes uint64
	TxBytes uint64
}

// Prices is the pricing context needed to value one neighbor's traffic for
// one tick.
type Prices struct {
	// PriceTheyOweUs is local_price plus the sum of downstream prices on
	// the installed route for traffic this neighbor sends through us.
	PriceTheyOweUs *big.Int
	// PriceWeOweThem is the symmetric quantity derived from the route
	// this neighbor advertises toward our destinations.
	PriceWeOweThem *big.Int
}

// ByteReader samples the current counters for one neighbor's tunnel. It
// returns an error if the tunnel cannot be read (e.g. interface gone); the
// Watcher treats that as a skip for this neighbor this tick, not a fatal
// error.
type ByteReader interface {
	ReadCounters(id identity.Identity) (Counters, error)
}

// PriceSource supplies the current price context for one neighbor, derived
// from the routing daemon's installed routes. Like ByteReader, a failure
// here is scoped to the one neighbor.
type PriceSource interface {
	PricesFor(id identity.Identity) (Prices, error)
}

// Watcher tracks the last-sampled counters per neighbor and turns
// successive samples into ledger deltas.
type Watcher struct {
	last map[identity.Key]Counters
	keep map[identity.Key]identity.Identity
}

// New returns an empty Watcher.
func New() *Watcher {
	return &Watcher{
		last: make(map[identity.Key]Counters),
		keep: make(map[identity.Key]identity.Identity),
	}
}

// Tick samples counters and prices for every neighbor in ids, in that
// order (bytes first, so a mid-tick price change is never billed
// retroactively to bytes sampled before it), and applies the resulting
// delta to keeper. A sampling or pricing failure for one neighbor is
// logged and skipped; it does not prevent other neighbors from being
// processed.
func (w *Watcher) Tick(ids []identity.Identity, bytes ByteReader, prices PriceSource, keeper *debt.Keeper) {
	for _, id := range ids {
		key := id.AsKey()

		counters, err := bytes.ReadCounters(id)
		if err != nil {
			log.Warnf("traffic: could not read tunnel counters for %s: %v", id.Nickname, err)
			continue
		}

		prev, seen := w.last[key]
		w.last[key] = counters
		w.keep[key] = id
		if !seen {
			// First sighting: no prior sample to diff against.
			continue
		}

		deltaRx := clampedDelta(prev.RxBytes, counters.RxBytes)
		deltaTx := clampedDelta(prev.TxBytes, counters.TxBytes)
		if deltaRx == 0 && deltaTx == 0 {
			continue
		}

		p, err := prices.PricesFor(id)
		if err != nil {
			log.Warnf("traffic: could not read route prices for %s: %v", id.Nickname, err)
			continue
		}

		delta := new(big.Int)
		owedToUs := new(big.Int).Mul(new(big.Int).SetUint64(deltaRx), nonNil(p.PriceTheyOweUs))
		owedByUs := new(big.Int).Mul(new(big.Int).SetUint64(deltaTx), nonNil(p.PriceWeOweThem))
		delta.Sub(owedToUs, owedByUs)

		keeper.ApplyTrafficDelta(id, delta)
	}
}

// Forget drops the tracked sample for a neighbor that has been retired
// (routing daemon reports it absent past the GC interval), so a future
// re-sighting starts fresh rather than billing a spurious multi-tick jump.
func (w *Watcher) Forget(key identity.Key) {
	delete(w.last, key)
	delete(w.keep, key)
}

// clampedDelta computes cur-prev, treating a decrease (counter reset) as
// zero rather than a negative delta.
func clampedDelta(prev, cur uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
