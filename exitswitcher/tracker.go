// Package exitswitcher implements the client-only exit selection state
// machine (spec §4.6): it holds one exit out of a subnet stable against
// transient route-metric noise and fails over when the active exit dies.
package exitswitcher

import "net/netip"

// metricInf is babel's "unreachable" sentinel metric.
const metricInf = ^uint16(0)

// Tracker accumulates the running average of the best babel metric
// observed toward one candidate exit IP across the observation window.
// Because babel advertises several routes toward the same exit, only the
// best (lowest) metric seen per tick is folded into the average; EndTick
// forgets the per-tick bookkeeping without losing the accumulated total,
// and Reset wipes the total as well.
type Tracker struct {
	lastAddedMetric uint16
	runningTotal    uint64
	tickerLen       uint16
}

// Observe folds one per-tick best-metric observation for this exit into
// the running total. It keeps only the best (lowest) metric seen for this
// exit within a single tick, matching the per-tick dedup in the original
// observer.
func (t *Tracker) Observe(metric uint16) {
	if t.lastAddedMetric == 0 {
		t.runningTotal += uint64(metric)
		t.lastAddedMetric = metric
		t.tickerLen++
		return
	}
	if metric < t.lastAddedMetric {
		t.runningTotal -= uint64(t.lastAddedMetric)
		t.runningTotal += uint64(metric)
		t.lastAddedMetric = metric
	}
}

// EndTick clears the per-tick dedup marker so the next tick's first
// Observe call is not mistaken for a continuation of this tick.
func (t *Tracker) EndTick() {
	t.lastAddedMetric = 0
}

// Reset wipes the accumulated average, used whenever the observation
// window closes and a new one begins.
func (t *Tracker) Reset() {
	t.lastAddedMetric = 0
	t.runningTotal = 0
	t.tickerLen = 0
}

// Average returns the running average metric, or false if nothing has
// been observed yet.
func (t *Tracker) Average() (uint16, bool) {
	if t.tickerLen == 0 {
		return 0, false
	}
	return uint16(t.runningTotal / uint64(t.tickerLen)), true
}

// trackerTable is the per-candidate-exit collection of Trackers, keyed by
// exit IP.
type trackerTable map[netip.Addr]*Tracker

func (tt trackerTable) observe(ip netip.Addr, metric uint16) {
	tr, ok := tt[ip]
	if !ok {
		tr = &Tracker{}
		tt[ip] = tr
	}
	tr.Observe(metric)
}

func (tt trackerTable) endTick() {
	for _, tr := range tt {
		tr.EndTick()
	}
}

func (tt trackerTable) resetAll() {
	for _, tr := range tt {
		tr.Reset()
	}
}

// calculateAverage is the plain average of a u16 slice, widened through
// u64 to avoid overflow while summing.
func calculateAverage(vals []uint16) uint16 {
	var sum uint64
	for _, v := range vals {
		sum += uint64(v)
	}
	return uint16(sum / uint64(len(vals)))
}
