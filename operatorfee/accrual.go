// Package operatorfee pro-rates a time-proportional fee owed to a
// configurable fleet operator and routes it through the payment controller
// (spec §4.5). It bypasses the neighbor-ledger invariants of the debt
// package entirely: the payee is not a mesh neighbor, and the component
// tracks its own last_payment_time high-water mark instead of a per-peer
// debt.
package operatorfee

import (
	"context"
	"math/big"
	"net/netip"
	"time"

	"github.com/althea-mesh/rita/debt"
	"github.com/althea-mesh/rita/identity"
	"github.com/althea-mesh/rita/payment"
	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
)

var log = slog.Disabled

// UseLogger registers the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Sender is the subset of payment.Controller used here, narrowed for
// testability.
type Sender interface {
	Send(ctx context.Context, intent payment.Intent) payment.SettledEvent
}

// wgPlaceholder is the placeholder wg_public_key recorded on the
// synthetic operator identity. It carries no cryptographic meaning; it
// exists only because PaymentTx indexes by full Identity.
var wgPlaceholder = identity.WgPublicKey{0x01}

// Accrual tracks the fee owed to the fleet operator and pays it down
// opportunistically once it clears the pay threshold.
type Accrual struct {
	lastPayment time.Time
}

// New returns an Accrual whose high-water mark starts at now, so the first
// tick does not immediately attempt to pay a fee for unaccounted past
// time.
func New(now time.Time) *Accrual {
	return &Accrual{lastPayment: now}
}

// Tick evaluates whether enough fee has accrued since the last payment to
// clear payThreshold, and if so sends it via sender. operatorAddress being
// the zero address or feePerSecond being nil/zero makes this tick inert,
// per spec §4.5.
func (a *Accrual) Tick(ctx context.Context, now time.Time, operatorAddress common.Address, feePerSecond *big.Int, payThreshold *big.Int, sender Sender) {
	if operatorAddress == (common.Address{}) || feePerSecond == nil || feePerSecond.Sign() == 0 {
		return
	}
	if payThreshold == nil || payThreshold.Sign() <= 0 {
		return
	}

	elapsed := big.NewInt(int64(now.Sub(a.lastPayment).Seconds()))
	owed := new(big.Int).Mul(elapsed, feePerSecond)
	if owed.Cmp(payThreshold) <= 0 {
		return
	}

	operatorID := identity.Identity{
		MeshIP:      netip.IPv6Loopback(),
		EthAddress:  operatorAddress,
		WgPublicKey: wgPlaceholder,
		Nickname:    "subnet-operator",
	}

	log.Infof("operatorfee: paying subnet operator %s amount %s", operatorAddress, owed)
	event := sender.Send(ctx, payment.Intent{To: operatorID, Amount: owed, Flight: debt.FlightID(0)})
	if !event.Success {
		log.Warnf("operatorfee: payment to operator %s failed: %v", operatorAddress, event.Err)
		return
	}
	a.lastPayment = now
}
