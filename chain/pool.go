// Package chain provides the full-node selection and thin JSON-RPC client
// interface shared by the Oracle and PaymentController. A configured list
// of full nodes is chosen from uniformly at random each call — cheap load
// balancing and, per spec §4.1, automatic blacklisting-by-avoidance of a
// node that starts misbehaving.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of an Ethereum-family JSON-RPC client the core
// needs. *ethclient.Client satisfies it directly; tests substitute a fake.
type Client interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	NetworkID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Dialer connects to a full node URL. Pool calls it lazily and caches the
// resulting client, the way the `tx-manager.go` example caches a single
// *ethclient.Client per backend rather than redialing every call.
type Dialer func(url string) (Client, error)

// DialEthClient is the default Dialer, backed by go-ethereum's ethclient.
func DialEthClient(url string) (Client, error) {
	c, err := ethclient.DialContext(context.Background(), url)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", url, err)
	}
	return c, nil
}

// Pool holds a configured node list and hands out a uniformly-random
// client connection per call.
type Pool struct {
	mu      sync.Mutex
	nodes   []string
	dial    Dialer
	clients map[string]Client
	rng     *rand.Rand
}

// NewPool builds a Pool over the given node URLs. An empty node list is a
// configuration error (spec §7); callers should check Empty() at startup.
func NewPool(nodes []string, dial Dialer, rng *rand.Rand) *Pool {
	if dial == nil {
		dial = DialEthClient
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Pool{
		nodes:   append([]string(nil), nodes...),
		dial:    dial,
		clients: make(map[string]Client),
		rng:     rng,
	}
}

// Empty reports whether no full nodes are configured.
func (p *Pool) Empty() bool {
	return len(p.nodes) == 0
}

// Pick selects one configured node uniformly at random and returns a
// (possibly cached) client for it along with the node URL, for logging.
func (p *Pool) Pick() (Client, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.nodes) == 0 {
		return nil, "", fmt.Errorf("chain: no full nodes configured")
	}
	node := p.nodes[p.rng.Intn(len(p.nodes))]

	if c, ok := p.clients[node]; ok {
		return c, node, nil
	}
	c, err := p.dial(node)
	if err != nil {
		return nil, node, err
	}
	p.clients[node] = c
	return c, node, nil
}
