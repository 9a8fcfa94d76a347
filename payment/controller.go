package payment

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/althea-mesh/rita/chain"
	"github.com/althea-mesh/rita/identity"
	"github.com/althea-mesh/rita/ringbuf"
	"github.com/althea-mesh/rita/settings"
	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var log = slog.Disabled

// UseLogger registers the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// gasLimit is fixed for a plain value transfer (spec §4.4 step 2).
const gasLimit = 21000

// SubmissionTimeout bounds each broadcast attempt (spec §4.4 "Timeout").
// A timed-out broadcast is treated as a failure.
const SubmissionTimeout = 2 * time.Minute

// PendingConfirmations is the ring buffer capacity used to retain recently
// broadcast transactions for the UsageTracker collaborator (spec §4.4
// step 5).
const PendingConfirmations = 256

// Controller accepts MakePayment intents, signs and broadcasts the
// resulting transaction, and reports the outcome.
type Controller struct {
	settings *settings.PaymentSettings
	pool     *chain.Pool
	ourID    identity.Identity
	pending  *ringbuf.Ring[Tx]
	timeout  time.Duration
}

// New builds a Controller. ourID supplies the From identity recorded on
// each Tx.
func New(ps *settings.PaymentSettings, pool *chain.Pool, ourID identity.Identity) *Controller {
	return &Controller{
		settings: ps,
		pool:     pool,
		ourID:    ourID,
		pending:  ringbuf.New[Tx](PendingConfirmations),
		timeout:  SubmissionTimeout,
	}
}

// Pending returns the current snapshot of recently broadcast
// transactions, for the UsageTracker collaborator.
func (c *Controller) Pending() []Tx {
	return c.pending.Snapshot()
}

// Send constructs, signs, and broadcasts a payment for intent, returning
// the settlement event to be applied to DebtKeeper by the caller.
func (c *Controller) Send(ctx context.Context, intent Intent) SettledEvent {
	view := c.settings.Snapshot()

	if view.PrivateKey == nil {
		// Configuration error, not a runtime error (spec §4.4 step 1 / §7).
		err := fmt.Errorf("payment: no eth_private_key configured, refusing to pay %s", intent.To.EthAddress)
		log.Errorf("%v", err)
		return SettledEvent{To: intent.To, Flight: intent.Flight, Amount: intent.Amount, Success: false, Err: err}
	}

	to := intent.To.EthAddress
	nonce := view.Nonce
	gasPrice := view.GasPrice
	chainID := new(big.Int)
	if view.NetVersion != nil {
		chainID.SetUint64(*view.NetVersion)
	}

	tx := types.NewTransaction(nonce, to, intent.Amount, gasLimit, gasPrice, nil)
	signer := types.NewEIP155Signer(chainID)
	signedTx, err := types.SignTx(tx, signer, view.PrivateKey)
	if err != nil {
		log.Errorf("payment: signing failed for %s: %v", to, err)
		return SettledEvent{To: intent.To, Flight: intent.Flight, Amount: intent.Amount, Success: false, Err: err}
	}

	// The local nonce is incremented immediately, before the broadcast is
	// even attempted, so concurrent sends never collide (spec §4.4 step
	// 4). If the broadcast fails the nonce is not rolled back; the next
	// Oracle tick overwrites it from chain state.
	c.settings.IncrementNonce()

	client, node, err := c.pool.Pick()
	if err != nil {
		log.Warnf("payment: no full node available to broadcast to %s: %v", to, err)
		return SettledEvent{To: intent.To, Flight: intent.Flight, Amount: intent.Amount, Success: false, Err: err}
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := client.SendTransaction(sendCtx, signedTx); err != nil {
		log.Warnf("payment: broadcast to %s via %s failed: %v", to, node, err)
		return SettledEvent{To: intent.To, Flight: intent.Flight, Amount: intent.Amount, Success: false, Err: err}
	}

	txid := signedTx.Hash()
	c.pending.Push(Tx{To: intent.To, From: c.ourID, Amount: intent.Amount, TxID: &txid})

	log.Infof("payment: sent %s to %s via %s, txid=%s", intent.Amount, to, node, txid)
	return SettledEvent{To: intent.To, Flight: intent.Flight, Amount: intent.Amount, Success: true, TxID: &txid}
}
