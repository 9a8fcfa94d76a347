// Package daemon is the shared bootstrap for the two CLI entrypoints
// (cmd/rita-client and cmd/rita-exit): flag parsing, settings loading, log
// rotator setup, and collaborator wiring for the tick loop. It is ambient
// infrastructure, not a named spec component.
package daemon

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"math/rand"
	"net/http"
	"net/netip"
	"path/filepath"
	"time"

	"github.com/althea-mesh/rita/babel"
	"github.com/althea-mesh/rita/build"
	"github.com/althea-mesh/rita/chain"
	"github.com/althea-mesh/rita/debt"
	"github.com/althea-mesh/rita/exitswitcher"
	"github.com/althea-mesh/rita/identity"
	"github.com/althea-mesh/rita/monitoring"
	"github.com/althea-mesh/rita/operatorfee"
	"github.com/althea-mesh/rita/oracle"
	"github.com/althea-mesh/rita/payment"
	"github.com/althea-mesh/rita/riteloop"
	"github.com/althea-mesh/rita/settings"
	"github.com/althea-mesh/rita/traffic"
	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/curve25519"
)

var log = slog.Disabled

// UseLogger registers the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Options are the flags common to both rita-client and rita-exit.
type Options struct {
	ConfigFile  string        `short:"C" long:"configfile" description:"Path to the TOML settings file" default:"rita.toml"`
	LogDir      string        `long:"logdir" description:"Directory for the rotating log file" default:"."`
	LogLevel    string        `long:"debuglevel" description:"Logging level for all subsystems" default:"info"`
	Platform    string        `long:"platform" description:"Target platform (linux, openwrt)" default:"linux"`
	Future      bool          `long:"future" description:"Opt into not-yet-stabilized wire behavior"`
	BabelPort   uint16        `long:"babelport" description:"Port the routing daemon's monitoring socket listens on" default:"33123"`
	TickPeriod  time.Duration `long:"tickperiod" description:"Interval between tick loop iterations" default:"5s"`
	MetricsAddr string        `long:"metricsaddr" description:"Address to serve Prometheus metrics on" default:"127.0.0.1:9977"`
}

// ParseOptions parses os.Args into Options.
func ParseOptions() (*Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// InitLogging creates the rotating log writer, attaches it to logdir, and
// wires every subsystem logger at the requested level.
func InitLogging(opts *Options, setup func(*build.RotatingLogWriter)) (*build.RotatingLogWriter, error) {
	root := build.NewRotatingLogWriter()
	logFile := filepath.Join(opts.LogDir, "rita.log")
	if err := root.InitLogRotator(logFile, 10, 3); err != nil {
		return nil, fmt.Errorf("daemon: initializing log rotator: %w", err)
	}
	setup(root)
	root.SetLogLevels(opts.LogLevel)
	return root, nil
}

// Bootstrap is everything both binaries need built from settings: the
// chain pool, debt keeper, payment controller, oracle, traffic watcher,
// and operator fee accrual. isExit controls whether an ExitSwitcher is
// constructed, since exit routers never switch exits themselves.
type Bootstrap struct {
	Settings   *settings.FileSettings
	Payment    *settings.PaymentSettings
	Pool       *chain.Pool
	Keeper     *debt.Keeper
	Controller *payment.Controller
	Oracle     *oracle.Oracle
	Watcher    *traffic.Watcher
	Fee        *operatorfee.Accrual
	Switcher   *exitswitcher.Switcher
	Babel      *babel.Client
	OurID      identity.Identity

	// Subnet and SelectedExit are the ExitSwitcher collaborators; both are
	// zero-valued when isExit is true, since an exit router never runs
	// ExitSwitcher on itself.
	Subnet       netip.Prefix
	SelectedExit *exitswitcher.SelectedExit
}

// OurIdentity derives this router's stable identity from its settings: the
// mesh IP and Ethereum address are read directly, and the wireguard public
// key is the curve25519 base-point scalar multiplication of the configured
// private key, exactly as wireguard itself derives it.
func OurIdentity(ns settings.NetworkSettings, ethAddressHex, nickname string) (identity.Identity, error) {
	meshIP, err := netip.ParseAddr(ns.MeshIP)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("daemon: invalid mesh_ip %q: %w", ns.MeshIP, err)
	}

	decoded, err := base64.StdEncoding.DecodeString(ns.WgPrivateKey)
	if err != nil || len(decoded) != 32 {
		return identity.Identity{}, fmt.Errorf("daemon: wg_private_key must be a base64-encoded 32-byte wireguard key")
	}
	var priv [32]byte
	copy(priv[:], decoded)

	var pub identity.WgPublicKey
	curve25519.ScalarBaseMult((*[32]byte)(&pub), &priv)

	return identity.Identity{
		MeshIP:      meshIP,
		EthAddress:  common.HexToAddress(ethAddressHex),
		WgPublicKey: pub,
		Nickname:    nickname,
	}, nil
}

// ledgerFileName is the debt ledger snapshot's name alongside the TOML
// settings file. The snapshot is flushed from the Keeper's onChange
// callback and reloaded at startup; there is no separate flush at
// shutdown.
const ledgerFileName = "rita-ledger.json"

// Load reads settings from opts.ConfigFile and wires every collaborator.
func Load(opts *Options, isExit bool, now time.Time, nickname string) (*Bootstrap, error) {
	fs, err := settings.Load(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("daemon: loading settings: %w", err)
	}

	ps, err := settings.BuildPaymentSettings(fs.Payment)
	if err != nil {
		return nil, fmt.Errorf("daemon: building payment settings: %w", err)
	}
	view := ps.Snapshot()

	ourID, err := OurIdentity(fs.Network, view.EthAddress, nickname)
	if err != nil {
		return nil, err
	}

	pool := chain.NewPool(view.NodeList, nil, rand.New(rand.NewSource(now.UnixNano())))

	store := debt.NewStore(filepath.Join(filepath.Dir(opts.ConfigFile), ledgerFileName))
	var keeper *debt.Keeper
	keeper = debt.NewKeeper(func() {
		if err := store.Flush(keeper.Entries()); err != nil {
			log.Warnf("daemon: flushing ledger snapshot: %v", err)
		}
		if err := settings.Save(opts.ConfigFile, fs); err != nil {
			log.Warnf("daemon: persisting settings after ledger change: %v", err)
		}
	})

	loadedLedger, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("daemon: loading ledger snapshot: %w", err)
	}
	debt.Restore(keeper, loadedLedger, resolveLedgerEntry)

	controller := payment.New(ps, pool, ourID)
	orc := oracle.New(ps, pool, ourID.EthAddress)
	watcher := traffic.New()
	fee := operatorfee.New(now)

	var switcher *exitswitcher.Switcher
	var subnet netip.Prefix
	var selectedExit *exitswitcher.SelectedExit
	if !isExit {
		switcher = exitswitcher.New(exitswitcher.WindowTicks)
		subnet, err = netip.ParsePrefix(fs.ExitClient.Subnet)
		if err != nil {
			return nil, fmt.Errorf("daemon: invalid exit_client.subnet %q: %w", fs.ExitClient.Subnet, err)
		}
		selectedExit = loadSelectedExit(fs.ExitClient)
	}

	babelClient, err := babel.Dial(opts.BabelPort, 5*time.Second)
	if err != nil {
		log.Warnf("daemon: connecting to routing daemon: %v", err)
	}

	return &Bootstrap{
		Settings:     fs,
		Payment:      ps,
		Pool:         pool,
		Keeper:       keeper,
		Controller:   controller,
		Oracle:       orc,
		Watcher:      watcher,
		Fee:          fee,
		Switcher:     switcher,
		Babel:        babelClient,
		OurID:        ourID,
		Subnet:       subnet,
		SelectedExit: selectedExit,
	}, nil
}

// resolveLedgerEntry reconstructs the full Identity a loaded ledger entry
// belonged to. The on-disk triple (mesh_ip, eth_address, wg_public_key) is
// everything Identity.Equal compares on, so no live peer-discovery lookup
// is needed to restore balances at startup.
func resolveLedgerEntry(e debt.LoadedEntry) (identity.Identity, bool) {
	meshIP, err := netip.ParseAddr(e.MeshIP)
	if err != nil {
		return identity.Identity{}, false
	}
	pub, err := identity.ParseWgPublicKey(e.WgPublicKey)
	if err != nil {
		return identity.Identity{}, false
	}
	return identity.Identity{
		MeshIP:      meshIP,
		EthAddress:  common.HexToAddress(e.EthAddress),
		WgPublicKey: pub,
	}, true
}

// loadSelectedExit builds ExitSwitcher's persisted selection from the
// on-disk current_exit. A fresh install with no current_exit yet starts
// from a zero-value SelectedExit, which Switcher.Tick treats as
// InitialExitSetup.
func loadSelectedExit(ec settings.ExitClientSettings) *exitswitcher.SelectedExit {
	se := &exitswitcher.SelectedExit{}
	if ec.CurrentExit == "" {
		return se
	}
	addr, err := netip.ParseAddr(ec.CurrentExit)
	if err != nil {
		log.Warnf("daemon: invalid exit_client.current_exit %q, starting unselected: %v", ec.CurrentExit, err)
		return se
	}
	se.SelectedID = addr
	se.TrackingExit = addr
	return se
}

// OperatorConfig reads the fee-accrual parameters fresh from settings,
// since the operator check-in dialogue may update them between ticks.
func OperatorConfig(b *Bootstrap) riteloop.OperatorConfig {
	op := b.Settings.Operator
	fee, ok := new(big.Int).SetString(op.OperatorFee, 10)
	if !ok {
		fee = big.NewInt(0)
	}
	return riteloop.OperatorConfig{
		Address:      common.HexToAddress(op.OperatorAddress),
		FeePerSecond: fee,
		PayThreshold: b.Payment.Snapshot().PayThreshold,
	}
}

// ServeMetrics registers a fresh Metrics set against its own registry and
// serves it over HTTP at addr in a background goroutine. A bind failure is
// logged, not fatal: metrics are observability, not correctness.
func ServeMetrics(addr string) *monitoring.Metrics {
	reg := prometheus.NewRegistry()
	m := monitoring.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warnf("daemon: metrics server stopped: %v", err)
		}
	}()
	return m
}

// BuildLoop assembles a riteloop.Loop from an already-wired Bootstrap.
// Neighbors, Routes, Gateway, Bytes, Prices and Tunnels are left for the
// caller since they depend on the platform integration the core does not
// implement (spec Non-goals: packet routing, tunnel protocol, metric
// computation).
func BuildLoop(b *Bootstrap, gcTicks uint64) *riteloop.Loop {
	return &riteloop.Loop{
		Keeper:       b.Keeper,
		Watcher:      b.Watcher,
		Controller:   b.Controller,
		Oracle:       b.Oracle,
		Fee:          b.Fee,
		Switcher:     b.Switcher,
		Subnet:       b.Subnet,
		SelectedExit: b.SelectedExit,
		GCTicks:      gcTicks,
	}
}

// GCTicksFor derives the GC window, in tick counts, from the configured
// tunnel idle timeout (spec §4.7 step (e): "GC idle tunnels after
// tunnel_timeout_seconds of inactivity"). A zero or missing timeout falls
// back to 15 minutes, matching the fixed window WindowTicks assumes
// elsewhere for a default 5s tick.
func GCTicksFor(period time.Duration, tunnelTimeoutSeconds uint64) uint64 {
	if period <= 0 {
		period = 5 * time.Second
	}
	timeout := time.Duration(tunnelTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return uint64(timeout / period)
}
