// Package payment turns DebtKeeper's MakePayment intents into signed,
// broadcast EVM transfers and reports back whether they succeeded (spec
// §4.4). It never calls back into DebtKeeper directly — per the
// back-reference redesign in spec §9, it returns a SettledEvent value that
// the tick orchestrator applies to the ledger as soon as Send returns,
// breaking what was a payment-controller → debt-keeper → tunnel-manager
// cycle in the original actor design.
package payment

import (
	"math/big"

	"github.com/althea-mesh/rita/debt"
	"github.com/althea-mesh/rita/identity"
	"github.com/ethereum/go-ethereum/common"
)

// Tx is a payment that has been constructed and, once TxID is non-nil,
// broadcast and acknowledged by some full node.
type Tx struct {
	To     identity.Identity
	From   identity.Identity
	Amount *big.Int
	TxID   *common.Hash
}

// Intent is a MakePayment request from DebtKeeper.
type Intent struct {
	To     identity.Identity
	Amount *big.Int
	Flight debt.FlightID
}

// SettledEvent reports the outcome of one Intent back to the caller, which
// applies it to DebtKeeper.
type SettledEvent struct {
	To      identity.Identity
	Flight  debt.FlightID
	Amount  *big.Int
	Success bool
	TxID    *common.Hash
	Err     error
}
