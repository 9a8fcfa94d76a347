// Package babel implements a minimal client for the mesh routing daemon's
// line-oriented monitoring protocol (spec §6 "Routing daemon"). Reading and
// writing the wire format itself is bufio/net, since the protocol is an ad
// hoc, daemon-specific text format with no existing Go client in this
// repository's dependency set. Malformed-line validation failures carry a
// stack trace via go-errors/errors, the same convention the routing stack
// used for rejecting malformed gossip fields.
package babel

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/althea-mesh/rita/exitswitcher"
	"github.com/althea-mesh/rita/identity"
	"github.com/althea-mesh/rita/traffic"
	"github.com/decred/slog"
	goerrors "github.com/go-errors/errors"
)

var log = slog.Disabled

// UseLogger registers the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Neighbour is one parsed "add neighbour" line: a mesh peer reachable over
// one interface, with babel's link-quality costs toward it.
type Neighbour struct {
	ID       string
	Address  netip.Addr
	Iface    string
	Reach    uint16
	RxCost   uint16
	TxCost   uint16
	RTT      float32
	RTTCost  uint16
	Cost     uint16
}

// Route is one parsed "add route" line: a destination prefix with babel's
// advertised metric and this node's configured price for it.
type Route struct {
	ID         string
	Prefix     netip.Prefix
	From       netip.Prefix
	Installed  bool
	RouteID    string
	Metric     uint16
	Price      uint32
	RefMetric  uint16
	Via        netip.Addr
	Iface      string
}

// Xroute is an externally injected route redistributed into babel.
type Xroute struct {
	Prefix netip.Prefix
	Metric uint16
}

// Dump is the fully parsed reply to a "dump" command.
type Dump struct {
	Neighbours []Neighbour
	Routes     []Route
	Xroutes    []Xroute
	LocalPrice uint32
}

// bannerMajor is the only babel protocol major version this client
// understands; a banner advertising any other major is rejected.
const bannerMajor = "1"

// Client holds an open connection to the routing daemon's monitoring
// socket and validates its protocol banner on connect.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the routing daemon on the local host at port and
// validates the protocol banner, per spec §6.
func Dial(port uint16, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("[::1]:%d", port), timeout)
	if err != nil {
		return nil, fmt.Errorf("babel: dial: %w", err)
	}
	c := &Client{conn: conn, r: bufio.NewReader(conn)}
	if err := c.validateBanner(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) validateBanner() error {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("babel: reading banner: %w", err)
	}
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "BABEL" {
		return goerrors.Errorf("babel: unexpected banner %q", line)
	}
	version := strings.SplitN(fields[1], ".", 2)
	if len(version) == 0 || version[0] != bannerMajor {
		return goerrors.Errorf("babel: incompatible protocol major in banner %q", line)
	}
	return nil
}

// Dump issues "dump\n" and parses every line of the reply up to the
// terminal "ok"/"no"/"bad" status line.
func (c *Client) Dump(deadline time.Duration) (Dump, error) {
	c.conn.SetDeadline(time.Now().Add(deadline))
	if _, err := c.conn.Write([]byte("dump\n")); err != nil {
		return Dump{}, fmt.Errorf("babel: writing dump command: %w", err)
	}
	return parseDump(c.r)
}

// dumpDeadline bounds every Routes() call issued on behalf of the tick
// loop, which has no per-call deadline of its own to pass through.
const dumpDeadline = 5 * time.Second

// Routes dumps the routing daemon's table and returns the installed routes
// in the shape ExitSwitcher consumes. It implements riteloop.RouteSource
// without this package needing to import riteloop.
func (c *Client) Routes() ([]exitswitcher.Route, error) {
	dump, err := c.Dump(dumpDeadline)
	if err != nil {
		return nil, err
	}

	routes := make([]exitswitcher.Route, 0, len(dump.Routes))
	for _, r := range dump.Routes {
		if !r.Installed {
			continue
		}
		routes = append(routes, exitswitcher.Route{
			Dest:   r.Prefix.Addr(),
			Metric: r.Metric,
		})
	}
	return routes, nil
}

// PriceSource adapts a Client into traffic.PriceSource (spec §4.2): the
// price charged to a neighbor for traffic it sends through us is the
// local price plus the summed price of every installed route (the
// downstream cost of carrying that traffic onward); the price we owe a
// neighbor is the price of the specific installed route whose next hop is
// that neighbor, i.e. the route it advertises back toward our
// destinations.
type PriceSource struct {
	Client *Client
}

// PricesFor implements traffic.PriceSource directly from a fresh dump, so
// callers don't need to parse Route/Dump fields themselves.
func (p PriceSource) PricesFor(id identity.Identity) (traffic.Prices, error) {
	dump, err := p.Client.Dump(dumpDeadline)
	if err != nil {
		return traffic.Prices{}, err
	}

	oweUs := new(big.Int).SetUint64(uint64(dump.LocalPrice))
	oweThem := big.NewInt(0)
	for _, r := range dump.Routes {
		if !r.Installed {
			continue
		}
		price := new(big.Int).SetUint64(uint64(r.Price))
		oweUs.Add(oweUs, price)
		if r.Via == id.MeshIP {
			oweThem.Add(oweThem, price)
		}
	}

	return traffic.Prices{PriceTheyOweUs: oweUs, PriceWeOweThem: oweThem}, nil
}

// parseDump reads lines until a terminal status, building up a Dump. It
// is split out from Client.Dump so a captured transcript can be parsed
// directly in tests without a live connection (spec §8 R2).
func parseDump(r *bufio.Reader) (Dump, error) {
	var d Dump
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) == "" {
				return d, goerrors.New("babel: connection closed before a terminal status line")
			}
			if err != io.EOF {
				return d, fmt.Errorf("babel: reading dump reply: %w", err)
			}
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if err == io.EOF {
				return d, goerrors.New("babel: connection closed before a terminal status line")
			}
			continue
		}

		switch {
		case line == "ok":
			return d, nil
		case line == "no" || line == "bad":
			return d, goerrors.Errorf("babel: daemon returned status %q", line)
		case strings.HasPrefix(line, "add neighbour"):
			n, perr := parseNeighbour(line)
			if perr != nil {
				return d, perr
			}
			d.Neighbours = append(d.Neighbours, n)
		case strings.HasPrefix(line, "add route"):
			rt, perr := parseRoute(line)
			if perr != nil {
				return d, perr
			}
			d.Routes = append(d.Routes, rt)
		case strings.HasPrefix(line, "add xroute"):
			x, perr := parseXroute(line)
			if perr != nil {
				return d, perr
			}
			d.Xroutes = append(d.Xroutes, x)
		case strings.HasPrefix(line, "local price"):
			p, perr := parseLocalPrice(line)
			if perr != nil {
				return d, perr
			}
			d.LocalPrice = p
		case strings.HasPrefix(line, "add interface"):
			// Interface topology is not consumed by any component; the
			// line is accepted and discarded.
		default:
			// Unknown line kinds are tolerated rather than fatal, so a
			// protocol addition in the daemon doesn't break the client.
		}
	}
}

// tokenize pairs up alternating key/value fields, e.g. ["reach", "ffff",
// "rxcost", "96"] -> {"reach": "ffff", "rxcost": "96"}.
func tokenize(fields []string) map[string]string {
	out := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		out[fields[i]] = fields[i+1]
	}
	return out
}

func parseNeighbour(line string) (Neighbour, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Neighbour{}, goerrors.Errorf("babel: malformed neighbour line %q", line)
	}
	id := fields[2]
	tok := tokenize(fields[3:])

	addr, err := netip.ParseAddr(tok["address"])
	if err != nil {
		return Neighbour{}, fmt.Errorf("babel: neighbour %s: bad address: %w", id, err)
	}
	reach, err := strconv.ParseUint(tok["reach"], 16, 16)
	if err != nil {
		return Neighbour{}, fmt.Errorf("babel: neighbour %s: bad reach: %w", id, err)
	}
	rxcost, err := parseU16(tok["rxcost"])
	if err != nil {
		return Neighbour{}, fmt.Errorf("babel: neighbour %s: bad rxcost: %w", id, err)
	}
	txcost, err := parseU16(tok["txcost"])
	if err != nil {
		return Neighbour{}, fmt.Errorf("babel: neighbour %s: bad txcost: %w", id, err)
	}
	rtt, err := strconv.ParseFloat(tok["rtt"], 32)
	if err != nil {
		return Neighbour{}, fmt.Errorf("babel: neighbour %s: bad rtt: %w", id, err)
	}
	rttcost, err := parseU16(tok["rttcost"])
	if err != nil {
		return Neighbour{}, fmt.Errorf("babel: neighbour %s: bad rttcost: %w", id, err)
	}
	cost, err := parseU16(tok["cost"])
	if err != nil {
		return Neighbour{}, fmt.Errorf("babel: neighbour %s: bad cost: %w", id, err)
	}

	return Neighbour{
		ID:      id,
		Address: addr,
		Iface:   tok["if"],
		Reach:   uint16(reach),
		RxCost:  rxcost,
		TxCost:  txcost,
		RTT:     float32(rtt),
		RTTCost: rttcost,
		Cost:    cost,
	}, nil
}

func parseRoute(line string) (Route, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Route{}, goerrors.Errorf("babel: malformed route line %q", line)
	}
	id := fields[2]
	tok := tokenize(fields[3:])

	prefix, err := netip.ParsePrefix(tok["prefix"])
	if err != nil {
		return Route{}, fmt.Errorf("babel: route %s: bad prefix: %w", id, err)
	}
	var from netip.Prefix
	if f, ok := tok["from"]; ok && f != "" {
		from, err = netip.ParsePrefix(f)
		if err != nil {
			return Route{}, fmt.Errorf("babel: route %s: bad from: %w", id, err)
		}
	}
	metric, err := parseU16(tok["metric"])
	if err != nil {
		return Route{}, fmt.Errorf("babel: route %s: bad metric: %w", id, err)
	}
	price, err := strconv.ParseUint(tok["price"], 10, 32)
	if err != nil {
		return Route{}, fmt.Errorf("babel: route %s: bad price: %w", id, err)
	}
	refmetric, err := parseU16(tok["refmetric"])
	if err != nil {
		return Route{}, fmt.Errorf("babel: route %s: bad refmetric: %w", id, err)
	}
	via, err := netip.ParseAddr(tok["via"])
	if err != nil {
		return Route{}, fmt.Errorf("babel: route %s: bad via: %w", id, err)
	}

	return Route{
		ID:        id,
		Prefix:    prefix,
		From:      from,
		Installed: tok["installed"] == "yes",
		RouteID:   tok["id"],
		Metric:    metric,
		Price:     uint32(price),
		RefMetric: refmetric,
		Via:       via,
		Iface:     tok["if"],
	}, nil
}

func parseXroute(line string) (Xroute, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Xroute{}, goerrors.Errorf("babel: malformed xroute line %q", line)
	}
	tok := tokenize(fields[2:])
	prefix, err := netip.ParsePrefix(tok["prefix"])
	if err != nil {
		return Xroute{}, fmt.Errorf("babel: xroute: bad prefix: %w", err)
	}
	metric, err := parseU16(tok["metric"])
	if err != nil {
		return Xroute{}, fmt.Errorf("babel: xroute: bad metric: %w", err)
	}
	return Xroute{Prefix: prefix, Metric: metric}, nil
}

func parseLocalPrice(line string) (uint32, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return 0, goerrors.Errorf("babel: malformed local price line %q", line)
	}
	price, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("babel: bad local price: %w", err)
	}
	return uint32(price), nil
}

func parseU16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	return uint16(v), err
}
