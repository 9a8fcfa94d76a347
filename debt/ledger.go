// Package debt implements the per-neighbor signed balance ledger and the
// threshold-driven decisions (pay, suspend, or do nothing) that drive the
// payment and tunnel-enforcement collaborators.
package debt

import (
	"math/big"
	"time"

	"github.com/althea-mesh/rita/identity"
	"github.com/ethereum/go-ethereum/common"
)

// Action is the decision DebtKeeper reaches for a neighbor on a given tick.
type Action int

const (
	// ActionNormal means the tunnel should be un-enforced and no payment
	// is due.
	ActionNormal Action = iota
	// ActionMakePayment means debt has crossed the pay threshold and a
	// payment intent should be emitted.
	ActionMakePayment
	// ActionSuspendTunnel means debt has crossed the close threshold and
	// the tunnel collaborator should enforce (throttle/suspend) it.
	ActionSuspendTunnel
	// ActionPayFloat means we are carrying a comfortable credit with this
	// neighbor and can opportunistically relax the shaper.
	ActionPayFloat
)

// String renders the Action for logging.
func (a Action) String() string {
	switch a {
	case ActionNormal:
		return "Normal"
	case ActionMakePayment:
		return "MakePayment"
	case ActionSuspendTunnel:
		return "SuspendTunnel"
	case ActionPayFloat:
		return "PayFloat"
	default:
		return "Unknown"
	}
}

// FlightID identifies one outstanding MakePayment intent for a neighbor.
// It is assigned by DebtKeeper when the payment is emitted and echoed back
// by the PaymentController when the payment settles.
type FlightID uint64

// ShaperState tracks the locally-enforced tunnel speed for a neighbor.
type ShaperState struct {
	Speed      uint64
	LastAdjust time.Time
}

// NeighborLedger is the per-neighbor signed balance and its in-flight
// payment bookkeeping. Positive Debt means the neighbor owes us; negative
// means we owe the neighbor.
type NeighborLedger struct {
	// Identity is the full (mesh_ip, eth_address, wg_public_key, nickname)
	// tuple Keeper last observed this neighbor under. It is carried here,
	// rather than only in the nickname-free map key, because a ledger
	// snapshot must be able to reconstruct the full Identity on reload
	// (spec §4.3 "Persistence").
	Identity          identity.Identity
	Debt              *big.Int
	PaymentInFlight   *FlightID
	IncomingPayments  uint64
	LastSeenTick      uint64
	Shaper            ShaperState
	appliedIncomingTx map[common.Hash]struct{}
}

func newNeighborLedger() *NeighborLedger {
	return &NeighborLedger{
		Debt:              big.NewInt(0),
		appliedIncomingTx: make(map[common.Hash]struct{}),
	}
}

// Clone returns a deep copy suitable for handing to a reader (metrics,
// dashboard) without sharing the big.Int or map backing storage.
func (l *NeighborLedger) Clone() *NeighborLedger {
	out := &NeighborLedger{
		Identity:          l.Identity,
		Debt:              new(big.Int).Set(l.Debt),
		IncomingPayments:  l.IncomingPayments,
		LastSeenTick:      l.LastSeenTick,
		Shaper:            l.Shaper,
		appliedIncomingTx: make(map[common.Hash]struct{}, len(l.appliedIncomingTx)),
	}
	if l.PaymentInFlight != nil {
		id := *l.PaymentInFlight
		out.PaymentInFlight = &id
	}
	for k := range l.appliedIncomingTx {
		out.appliedIncomingTx[k] = struct{}{}
	}
	return out
}

// neighborKey is the map key type, the nickname-free identity projection.
type neighborKey = identity.Key
