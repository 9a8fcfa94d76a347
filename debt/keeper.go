package debt

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/althea-mesh/rita/identity"
	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
)

var log = slog.Disabled

// UseLogger registers the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// payFloatBandDivisor controls how far below zero debt must fall, as a
// fraction of the pay threshold, before PayFloat fires. A neighbor that has
// paid ahead by more than 1/20th of a full payment cycle is comfortably
// ahead of schedule.
const payFloatBandDivisor = 20

// Thresholds are the derived pay/close cutoffs the Oracle recomputes every
// tick from gas price. Both are denominated in the same unit as Debt.
type Thresholds struct {
	Pay   *big.Int
	Close *big.Int
}

// Keeper is the single-writer, multi-reader per-neighbor ledger. All
// mutation methods are safe for concurrent use; the tick orchestrator is
// the only writer in practice, per the single-writer design in spec §5.
type Keeper struct {
	mu         sync.Mutex
	ledgers    map[neighborKey]*NeighborLedger
	thresholds Thresholds
	nextFlight FlightID
	onChange   func()
}

// NewKeeper constructs an empty Keeper. onChange, if non-nil, is invoked
// synchronously after every mutation that should trigger a persistence
// flush (spec §4.3: "flushed ... on every action change").
func NewKeeper(onChange func()) *Keeper {
	return &Keeper{
		ledgers: make(map[neighborKey]*NeighborLedger),
		thresholds: Thresholds{
			Pay:   big.NewInt(0),
			Close: big.NewInt(0),
		},
		onChange: onChange,
	}
}

// SetThresholds installs the Oracle-derived pay/close thresholds for the
// next round of classification. Threshold recomputation never mutates
// Debt (spec §3 invariant).
func (k *Keeper) SetThresholds(t Thresholds) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.thresholds = t
}

// ensureLedger returns the ledger for id, creating it on first sighting.
// Identity is refreshed on every call so a nickname change is reflected
// without disturbing the nickname-free map key it was found under.
func (k *Keeper) ensureLedger(id identity.Identity) *NeighborLedger {
	key := id.AsKey()
	l, ok := k.ledgers[key]
	if !ok {
		l = newNeighborLedger()
		k.ledgers[key] = l
	}
	l.Identity = id
	return l
}

// Observe registers a neighbor sighting, creating its ledger if this is the
// first time we've seen it and updating LastSeenTick either way.
func (k *Keeper) Observe(id identity.Identity, tick uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.ensureLedger(id)
	l.LastSeenTick = tick
}

// GC retires neighbors the routing daemon has reported absent for more
// than gcTicks ticks relative to currentTick.
func (k *Keeper) GC(currentTick, gcTicks uint64) []identity.Key {
	k.mu.Lock()
	defer k.mu.Unlock()
	var removed []identity.Key
	for key, l := range k.ledgers {
		if currentTick-l.LastSeenTick > gcTicks {
			delete(k.ledgers, key)
			removed = append(removed, key)
		}
	}
	if len(removed) > 0 {
		k.notify()
	}
	return removed
}

// ApplyTrafficDelta adds a signed delta to a neighbor's debt, per the
// TrafficWatcher's per-tick billing (spec §4.2). It never changes the
// action state on its own; Classify decides that from the new total.
func (k *Keeper) ApplyTrafficDelta(id identity.Identity, delta *big.Int) {
	if delta.Sign() == 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.ensureLedger(id)
	l.Debt.Add(l.Debt, delta)
}

// ApplyIncomingPayment credits a confirmed inbound payment to the
// neighbor's debt, deduplicating by txid so a replayed confirmation is a
// no-op (spec §4.3, scenario 2).
func (k *Keeper) ApplyIncomingPayment(id identity.Identity, txid common.Hash, amount *big.Int) (applied bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.ensureLedger(id)
	if _, seen := l.appliedIncomingTx[txid]; seen {
		log.Debugf("duplicate incoming payment txid %s from %s ignored", txid, id.EthAddress)
		return false
	}
	l.appliedIncomingTx[txid] = struct{}{}
	l.Debt.Add(l.Debt, amount)
	l.IncomingPayments++
	k.notify()
	return true
}

// Classify reports the action due for a neighbor this tick, along with the
// payment amount when the action is ActionMakePayment. When the action is
// ActionMakePayment, the neighbor's PaymentInFlight is already set
// atomically as part of this call — at most one payment is ever in flight
// per neighbor (spec P2).
func (k *Keeper) Classify(id identity.Identity) (Action, *big.Int, FlightID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.ensureLedger(id)

	if l.Debt.Cmp(k.thresholds.Pay) >= 0 && l.PaymentInFlight == nil {
		flight := k.nextFlight
		k.nextFlight++
		l.PaymentInFlight = &flight
		amount := new(big.Int).Set(l.Debt)
		k.notify()
		return ActionMakePayment, amount, flight
	}

	if l.Debt.Cmp(k.thresholds.Close) <= 0 {
		return ActionSuspendTunnel, nil, 0
	}

	band := payFloatBand(k.thresholds.Pay)
	if band.Sign() > 0 {
		negBand := new(big.Int).Neg(band)
		if l.Debt.Cmp(negBand) < 0 {
			return ActionPayFloat, nil, 0
		}
	}

	return ActionNormal, nil, 0
}

func payFloatBand(payThreshold *big.Int) *big.Int {
	if payThreshold.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Div(payThreshold, big.NewInt(payFloatBandDivisor))
}

// SettlePayment clears the in-flight marker for a neighbor and, only on
// success, decrements the ledger by the settled amount. A failed or timed
// out payment leaves debt untouched so the next tick may retry (spec
// §4.3/§4.4 at-most-once guarantee).
func (k *Keeper) SettlePayment(id identity.Identity, flight FlightID, amount *big.Int, success bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.ensureLedger(id)
	if l.PaymentInFlight == nil || *l.PaymentInFlight != flight {
		return fmt.Errorf("debt: settle for unknown flight %d (neighbor %s)", flight, id.EthAddress)
	}
	l.PaymentInFlight = nil
	if success {
		l.Debt.Sub(l.Debt, amount)
	}
	k.notify()
	return nil
}

// Snapshot returns a deep copy of the current ledger map for readers
// (metrics, dashboard) that must not observe a partially-mutated ledger.
func (k *Keeper) Snapshot() map[identity.Key]*NeighborLedger {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[identity.Key]*NeighborLedger, len(k.ledgers))
	for key, l := range k.ledgers {
		out[key] = l.Clone()
	}
	return out
}

// Entries returns a deep copy of the ledger map keyed by each neighbor's
// full Identity rather than the nickname-free Key, the shape Store.Flush
// needs to reconstruct a resolvable snapshot on disk.
func (k *Keeper) Entries() map[identity.Identity]*NeighborLedger {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[identity.Identity]*NeighborLedger, len(k.ledgers))
	for _, l := range k.ledgers {
		out[l.Identity] = l.Clone()
	}
	return out
}

func (k *Keeper) notify() {
	if k.onChange != nil {
		k.onChange()
	}
}
