package settings

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/crypto"
)

// FileSettings is the on-disk TOML shape (spec §6 "Persisted state").
// PaymentSettings is a plain snapshot here, not the guarded runtime type —
// File is only ever read at startup and written back as a whole by Save.
type FileSettings struct {
	Network     NetworkSettings     `toml:"network"`
	Payment     PaymentFileSettings `toml:"payment"`
	Operator    OperatorSettings    `toml:"operator"`
	ExitClient  ExitClientSettings  `toml:"exit_client"`
}

// PaymentFileSettings is the TOML [payment] section's disk shape. Unlike
// the runtime PaymentSettings, this is a dumb value struct used only for
// marshaling.
type PaymentFileSettings struct {
	EthAddress           string   `toml:"eth_address"`
	EthPrivateKey        string   `toml:"eth_private_key"`
	NodeList             []string `toml:"node_list"`
	PayThreshold         string   `toml:"pay_threshold"`
	CloseThreshold       string   `toml:"close_threshold"`
	MinGas               string   `toml:"min_gas"`
	MaxGas               string   `toml:"max_gas"`
	DynamicFeeMultiplier string   `toml:"dynamic_fee_multiplier"`
	Balance              string   `toml:"balance"`
	Nonce                uint64   `toml:"nonce"`
	NetVersion           *uint64  `toml:"net_version"`
	GasPrice             string   `toml:"gas_price"`
	SystemChain          string   `toml:"system_chain"`
	WithdrawChain        string   `toml:"withdraw_chain"`
}

// Load reads and parses a TOML settings file from path.
func Load(path string) (*FileSettings, error) {
	var fs FileSettings
	if _, err := toml.DecodeFile(path, &fs); err != nil {
		return nil, fmt.Errorf("settings: decode %s: %w", path, err)
	}
	return &fs, nil
}

// Save writes fs back to path using a write-to-temp-then-rename so a crash
// mid-write never corrupts the previous file (spec §6: "writes are
// serialized to avoid partial-file corruption").
func Save(path string, fs *FileSettings) error {
	buf, err := encodeTOML(fs)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("settings: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o640); err != nil {
		return fmt.Errorf("settings: write temp file: %w", err)
	}
	return os.Rename(tmp, path)
}

func encodeTOML(fs *FileSettings) ([]byte, error) {
	f, err := os.CreateTemp("", "rita-settings-*.toml")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(fs); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return os.ReadFile(f.Name())
}

// BuildPaymentSettings constructs the runtime, lock-guarded
// PaymentSettings from the on-disk value struct, parsing big integers and
// the hex-encoded private key.
func BuildPaymentSettings(p PaymentFileSettings) (*PaymentSettings, error) {
	balance, ok := new(big.Int).SetString(defaultZero(p.Balance), 10)
	if !ok {
		return nil, fmt.Errorf("settings: invalid balance %q", p.Balance)
	}
	minGas, ok := new(big.Int).SetString(defaultZero(p.MinGas), 10)
	if !ok {
		return nil, fmt.Errorf("settings: invalid min_gas %q", p.MinGas)
	}
	maxGas, ok := new(big.Int).SetString(defaultZero(p.MaxGas), 10)
	if !ok {
		return nil, fmt.Errorf("settings: invalid max_gas %q", p.MaxGas)
	}
	dynFee, ok := new(big.Int).SetString(defaultZero(p.DynamicFeeMultiplier), 10)
	if !ok {
		return nil, fmt.Errorf("settings: invalid dynamic_fee_multiplier %q", p.DynamicFeeMultiplier)
	}

	var key *ecdsa.PrivateKey
	if p.EthPrivateKey != "" {
		var err error
		key, err = crypto.HexToECDSA(p.EthPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("settings: invalid eth_private_key: %w", err)
		}
	}

	ps := NewPaymentSettings(p.EthAddress, p.NodeList, balance, p.Nonce, minGas, maxGas, dynFee, key, p.SystemChain, p.WithdrawChain)
	if p.NetVersion != nil {
		ps.LatchNetVersion(*p.NetVersion)
	}
	return ps, nil
}

func defaultZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
