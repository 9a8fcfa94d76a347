// Package settings holds the process-wide, TOML-backed configuration
// described in spec §6 and §9. PaymentSettings is the one section that is
// mutated continuously at runtime (by the Oracle and the PaymentController);
// it is guarded by a short critical section that copies state out before
// any suspend point, per the redesign note in spec §9 — callers must never
// hold a PaymentSettings lock across I/O.
package settings

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
)

// NetworkSettings is the TOML [network] section.
type NetworkSettings struct {
	MeshIP               string `toml:"mesh_ip"`
	BabelPort            uint16 `toml:"babel_port"`
	WgPrivateKey         string `toml:"wg_private_key"`
	ExternalNIC          string `toml:"external_nic"`
	TunnelTimeoutSeconds uint64 `toml:"tunnel_timeout_seconds"`
	UserBandwidthLimit   uint64 `toml:"user_bandwidth_limit"`
}

// OperatorSettings is the TOML [operator] section.
type OperatorSettings struct {
	OperatorAddress      string `toml:"operator_address"`
	OperatorFee          string `toml:"operator_fee"`
	ForceUseOperatorPrice bool  `toml:"force_use_operator_price"`
}

// ExitClientSettings is the TOML [exit_client] section (client routers
// only). Subnet and CurrentExit together are the on-disk shape of spec
// §3's ExitServer type ({subnet, selected_exit}); CurrentExit is read at
// startup as ExitSwitcher's initial selected_id and tracking exit. No
// metric is stored with it, so the first tick treats it as down and picks
// the best exit afresh, and later selections are not written back to it.
type ExitClientSettings struct {
	Exits         []string `toml:"exits"`
	Subnet        string   `toml:"subnet"`
	CurrentExit   string   `toml:"current_exit"`
	WgListenPort  uint16   `toml:"wg_listen_port"`
	ContactInfo   string   `toml:"contact_info"`
	LanNics       []string `toml:"lan_nics"`
}

// PaymentSettingsView is an immutable copy of PaymentSettings' fields,
// safe to read after the lock that produced it has been released.
type PaymentSettingsView struct {
	EthAddress            string
	NodeList              []string
	Balance               *big.Int
	Nonce                 uint64
	GasPrice              *big.Int
	NetVersion            *uint64
	PayThreshold          *big.Int
	CloseThreshold        *big.Int
	MinGas                *big.Int
	MaxGas                *big.Int
	DynamicFeeMultiplier  *big.Int
	PrivateKey            *ecdsa.PrivateKey
	SystemChain           string
	WithdrawChain         string
}

// PaymentSettings is the mutable, concurrency-guarded [payment] section.
// Every field is read through Snapshot and written through one of the
// narrow mutator methods below; none of them block on I/O while holding
// the lock.
type PaymentSettings struct {
	mu sync.Mutex

	ethAddress   string
	nodeList     []string
	balance      *big.Int
	nonce        uint64
	gasPrice     *big.Int
	netVersion   *uint64 // write-once: latched on first successful read.
	payThreshold *big.Int
	closeThreshold *big.Int
	minGas       *big.Int
	maxGas       *big.Int
	dynamicFeeMultiplier *big.Int
	privateKey   *ecdsa.PrivateKey
	systemChain  string
	withdrawChain string
}

// NewPaymentSettings builds a PaymentSettings from the loaded TOML values.
func NewPaymentSettings(ethAddress string, nodeList []string, balance *big.Int, nonce uint64,
	minGas, maxGas, dynamicFeeMultiplier *big.Int, privateKey *ecdsa.PrivateKey,
	systemChain, withdrawChain string) *PaymentSettings {

	return &PaymentSettings{
		ethAddress:           ethAddress,
		nodeList:             nodeList,
		balance:              balance,
		nonce:                nonce,
		gasPrice:             big.NewInt(0),
		payThreshold:         big.NewInt(0),
		closeThreshold:       big.NewInt(0),
		minGas:               minGas,
		maxGas:               maxGas,
		dynamicFeeMultiplier: dynamicFeeMultiplier,
		privateKey:           privateKey,
		systemChain:          systemChain,
		withdrawChain:        withdrawChain,
	}
}

// Snapshot copies out every field under a single short critical section.
// Callers must not hold the returned view across a suspend point expecting
// it to stay fresh — it is a point-in-time copy.
func (p *PaymentSettings) Snapshot() PaymentSettingsView {
	p.mu.Lock()
	defer p.mu.Unlock()
	var netVersion *uint64
	if p.netVersion != nil {
		v := *p.netVersion
		netVersion = &v
	}
	return PaymentSettingsView{
		EthAddress:           p.ethAddress,
		NodeList:             append([]string(nil), p.nodeList...),
		Balance:              new(big.Int).Set(p.balance),
		Nonce:                p.nonce,
		GasPrice:             new(big.Int).Set(p.gasPrice),
		NetVersion:           netVersion,
		PayThreshold:         new(big.Int).Set(p.payThreshold),
		CloseThreshold:       new(big.Int).Set(p.closeThreshold),
		MinGas:               new(big.Int).Set(p.minGas),
		MaxGas:               new(big.Int).Set(p.maxGas),
		DynamicFeeMultiplier: new(big.Int).Set(p.dynamicFeeMultiplier),
		PrivateKey:           p.privateKey,
		SystemChain:          p.systemChain,
		WithdrawChain:        p.withdrawChain,
	}
}

// HasPrivateKey reports whether a signing key is configured. Its absence
// is a configuration error for the PaymentController (spec §4.4 step 1),
// not a runtime error.
func (p *PaymentSettings) HasPrivateKey() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.privateKey != nil
}

// UpdateBalance applies the Oracle's balance read, respecting the
// zero-balance safety window (spec §4.1 step 2, P5).
func (p *PaymentSettings) UpdateBalance(newBalance *big.Int, zeroWindowOpen bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	zeroed := p.balance.Sign() != 0 && newBalance.Sign() == 0
	if !zeroed || zeroWindowOpen {
		p.balance = new(big.Int).Set(newBalance)
	}
}

// UpdateNonce overwrites the cached nonce from a chain read (spec §4.1
// step 3; the open question on nonce policy is resolved as pure
// overwrite, per spec §9).
func (p *PaymentSettings) UpdateNonce(newNonce uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonce = newNonce
}

// IncrementNonce bumps the local nonce as soon as a transaction has been
// signed, before it is broadcast, so concurrent sends never collide (spec
// §4.4 step 4). It returns the nonce value held before the increment.
func (p *PaymentSettings) IncrementNonce() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	reserved := p.nonce
	p.nonce++
	return reserved
}

// LatchNetVersion applies a net_version read. The first successful read
// wins permanently; any later disagreement is a chain-inconsistency event
// the caller should log at ERROR and otherwise ignore (spec §4.1 step 4).
// It returns false when the new value disagreed with an already-latched
// one.
func (p *PaymentSettings) LatchNetVersion(newVersion uint64) (accepted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.netVersion == nil {
		p.netVersion = &newVersion
		return true
	}
	return *p.netVersion == newVersion
}

// UpdateGasAndThresholds computes the adjusted gas price and the
// pay/close thresholds derived from it (spec §4.1 step 5, P9).
func (p *PaymentSettings) UpdateGasAndThresholds(rawGasPrice *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	adjusted := new(big.Int).Mul(rawGasPrice, big.NewInt(21))
	adjusted.Div(adjusted, big.NewInt(20))

	if adjusted.Cmp(p.minGas) < 0 {
		adjusted = new(big.Int).Set(p.minGas)
	} else if adjusted.Cmp(p.maxGas) > 0 {
		adjusted = new(big.Int).Set(p.maxGas)
	}
	p.gasPrice = adjusted

	payThreshold := new(big.Int).Mul(big.NewInt(21000), adjusted)
	payThreshold.Mul(payThreshold, p.dynamicFeeMultiplier)
	p.payThreshold = payThreshold

	closeThreshold := new(big.Int).Mul(payThreshold, big.NewInt(-4))
	p.closeThreshold = closeThreshold
}

// String satisfies fmt.Stringer for logging without leaking the private
// key material.
func (p *PaymentSettingsView) String() string {
	return fmt.Sprintf("PaymentSettings{address=%s balance=%s nonce=%d gas=%s pay=%s close=%s}",
		p.EthAddress, p.Balance, p.Nonce, p.GasPrice, p.PayThreshold, p.CloseThreshold)
}
