package exitswitcher

import (
	"fmt"
	"net/netip"

	"github.com/decred/slog"
)

var log = slog.Disabled

// UseLogger registers the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// WindowTicks is the number of tick-sized metric samples that must agree
// on a single exit before the Switcher will commit to it: 15 minutes of
// observation at the default 5s fast-loop tick.
const WindowTicks = (15 * 60) / 5

// Route is one babel-advertised route relevant to exit selection: an
// advertised /128 destination and babel's current metric toward it.
// metricInf means unreachable.
type Route struct {
	Dest   netip.Addr
	Metric uint16
}

// SelectedExit is the client's persisted view of which exit it has chosen
// (spec §3). A zero-value (invalid) Addr represents "none selected yet".
type SelectedExit struct {
	SelectedID          netip.Addr
	SelectedMetric      *uint16
	SelectedDegradation *uint16
	TrackingExit        netip.Addr
}

// Code classifies the situation the Switcher found itself in this tick,
// driving which branch of exit-state update applies.
type Code int

const (
	// InitialExitSetup: no exit selected yet and the window is empty.
	InitialExitSetup Code = iota
	// ContinueCurrentReset: current, tracking, and best exit all agree
	// and the window just filled — recommit to the same exit and reset
	// the window.
	ContinueCurrentReset
	// ContinueCurrent: same agreement, window not yet full.
	ContinueCurrent
	// SwitchExit: tracking/best agree but differ from current, and the
	// window is full — switch to the tracked exit.
	SwitchExit
	// ContinueTracking: tracking/best agree but differ from current,
	// window not yet full — keep accumulating.
	ContinueTracking
	// ResetTracking: best exit changed to something other than what is
	// being tracked — start tracking the new candidate.
	ResetTracking
)

func (c Code) String() string {
	switch c {
	case InitialExitSetup:
		return "InitialExitSetup"
	case ContinueCurrentReset:
		return "ContinueCurrentReset"
	case ContinueCurrent:
		return "ContinueCurrent"
	case SwitchExit:
		return "SwitchExit"
	case ContinueTracking:
		return "ContinueTracking"
	case ResetTracking:
		return "ResetTracking"
	default:
		return "Unknown"
	}
}

// metrics is the per-tick snapshot of the three exits of interest: the one
// currently connected, the one being tracked toward a possible switch, and
// the one with the best metric this tick.
type metrics struct {
	exitDown       bool
	curExit        netip.Addr
	curExitMetric  uint16
	trackingExit   netip.Addr
	trackingMetric uint16
	bestExit       netip.Addr
	bestMetric     uint16
}

// Switcher holds the in-memory state needed to pick a stable exit: the
// rolling window of agreeing metric samples and the per-candidate running
// averages.
type Switcher struct {
	windowSize int
	window     []uint16
	exitMap    trackerTable
}

// New returns a Switcher that requires windowSize consecutive agreeing
// samples before switching. Pass WindowTicks for the default 15 minute
// window.
func New(windowSize int) *Switcher {
	if windowSize <= 0 {
		windowSize = WindowTicks
	}
	return &Switcher{
		windowSize: windowSize,
		window:     make([]uint16, 0, windowSize),
		exitMap:    make(trackerTable),
	}
}

// Tick runs one round of exit evaluation: it scans routes for the subnet
// of candidate exits, updates selected in place, and returns the exit IP
// that should be in use after this tick. An error means no usable route
// toward any candidate exit exists this tick (routing table still
// converging, or every exit down); selected is left untouched in that
// case.
func (s *Switcher) Tick(subnet netip.Prefix, routes []Route, selected *SelectedExit) (netip.Addr, error) {
	currentMetric := uint16(metricInf)
	if selected.SelectedMetric != nil {
		currentMetric = *selected.SelectedMetric
	}

	m := s.observe(routes, subnet, selected.SelectedID, selected.TrackingExit, selected.SelectedID, currentMetric)

	if !m.bestExit.IsValid() {
		return netip.Addr{}, fmt.Errorf("exitswitcher: no route toward any exit in %s this tick", subnet)
	}

	code := s.updateMetricValue(m)
	log.Debugf("exitswitcher: code=%s window_len=%d selected_metric=%v cur_metric=%d",
		code, len(s.window), selected.SelectedMetric, m.curExitMetric)

	if m.exitDown {
		best := m.bestMetric
		selected.SelectedID = m.bestExit
		selected.SelectedMetric = &best
		selected.SelectedDegradation = nil
		selected.TrackingExit = m.bestExit
		s.window = s.window[:0]
		s.exitMap.resetAll()
		return m.bestExit, nil
	}

	return s.applyCode(selected, code, m)
}

// applyCode mutates selected according to code, the non-down branch of the
// original set_exit_state.
func (s *Switcher) applyCode(selected *SelectedExit, code Code, m metrics) (netip.Addr, error) {
	switch code {
	case InitialExitSetup:
		return netip.Addr{}, fmt.Errorf("exitswitcher: InitialExitSetup reached with an exit already down-checked; this is a logic error")

	case ContinueCurrentReset:
		if selected.SelectedMetric == nil {
			return netip.Addr{}, fmt.Errorf("exitswitcher: no selected metric to degrade against")
		}
		degradation := subClamped(m.curExitMetric, *selected.SelectedMetric)
		selected.SelectedDegradation = &degradation
		return m.curExit, nil

	case ContinueCurrent:
		if selected.SelectedDegradation == nil {
			if selected.SelectedMetric == nil {
				return netip.Addr{}, fmt.Errorf("exitswitcher: no selected metric to degrade against")
			}
			avg := calculateAverage(s.window)
			degradation := subClamped(avg, *selected.SelectedMetric)
			selected.SelectedDegradation = &degradation
		} else {
			adjusted := subClamped(m.curExitMetric, *selected.SelectedDegradation)
			selected.SelectedMetric = &adjusted
		}
		return m.curExit, nil

	case SwitchExit:
		best := m.bestMetric
		selected.SelectedID = m.bestExit
		selected.SelectedMetric = &best
		selected.SelectedDegradation = nil
		selected.TrackingExit = m.bestExit
		return m.bestExit, nil

	case ContinueTracking:
		return m.curExit, nil

	case ResetTracking:
		selected.TrackingExit = m.bestExit
		return m.curExit, nil

	default:
		return netip.Addr{}, fmt.Errorf("exitswitcher: unknown code %v", code)
	}
}

// updateMetricValue decides which Code this tick falls into and advances
// the window/exitMap bookkeeping accordingly. It mirrors the original's
// one level of recursion when the best exit disagrees with the tracked
// exit but isn't yet worth switching tracking to.
func (s *Switcher) updateMetricValue(m metrics) Code {
	isFull := len(s.window) == s.windowSize

	if !m.curExit.IsValid() {
		return InitialExitSetup
	}

	tracking := m.trackingExit
	if !tracking.IsValid() {
		tracking = m.bestExit
	}

	if m.bestExit == tracking {
		if m.curExit == tracking {
			if isFull {
				s.window = s.window[:0]
				s.exitMap.resetAll()
				s.window = append(s.window, m.bestMetric)
				return ContinueCurrentReset
			}
			s.window = append(s.window, m.bestMetric)
			return ContinueCurrent
		}
		if isFull {
			s.window = s.window[:0]
			s.exitMap.resetAll()
			s.window = append(s.window, m.bestMetric)
			return SwitchExit
		}
		s.window = append(s.window, m.bestMetric)
		return ContinueTracking
	}

	if s.worthSwitchingTrackingExit(m.bestExit) {
		s.window = s.window[:0]
		s.exitMap.resetAll()
		s.window = append(s.window, m.bestMetric)
		return ResetTracking
	}

	return s.updateMetricValue(metrics{
		exitDown:       m.exitDown,
		curExit:        m.curExit,
		curExitMetric:  m.curExitMetric,
		trackingExit:   tracking,
		trackingMetric: m.trackingMetric,
		bestExit:       tracking,
		bestMetric:     m.trackingMetric,
	})
}

// worthSwitchingTrackingExit only abandons the window in progress for a
// new candidate once the candidate's running average beats the tracked
// exit's by more than 10%, to avoid discarding 15 minutes of progress
// chasing two exits that flip back and forth on which is "best".
func (s *Switcher) worthSwitchingTrackingExit(bestIP netip.Addr) bool {
	if len(s.window) == 0 {
		return false
	}
	avgTracking := calculateAverage(s.window)

	tr, ok := s.exitMap[bestIP]
	if !ok {
		return false
	}
	avgBest, ok := tr.Average()
	if !ok {
		return false
	}

	if avgTracking < avgBest || avgBest == 0 {
		return false
	}
	return float64(avgTracking-avgBest)/float64(avgTracking) > 0.1
}

// observe scans routes for ones inside subnet, tracking the best metric
// toward each, and folding every observation into the running averages
// before reporting the three exits of interest for this tick.
func (s *Switcher) observe(routes []Route, subnet netip.Prefix, currentExit, trackingExit, initialBestExit netip.Addr, initialBestMetric uint16) metrics {
	var bestExit netip.Addr
	bestMetric := uint16(metricInf)
	currentDown := true
	curMetric := uint16(metricInf)
	trackMetric := uint16(metricInf)

	for _, r := range routes {
		if !subnet.Contains(r.Dest) {
			continue
		}

		if currentExit.IsValid() && r.Dest == currentExit && r.Metric != metricInf {
			if initialBestMetric != metricInf {
				currentDown = false
				if r.Metric < curMetric {
					curMetric = r.Metric
				}
			}
		}
		if trackingExit.IsValid() && r.Dest == trackingExit && r.Metric != metricInf {
			if r.Metric < trackMetric {
				trackMetric = r.Metric
			}
		}

		s.exitMap.observe(r.Dest, r.Metric)

		if r.Metric < bestMetric {
			bestMetric = r.Metric
			bestExit = r.Dest
		}
	}

	if !currentDown && initialBestMetric < bestMetric {
		bestMetric = initialBestMetric
		bestExit = initialBestExit
	}

	s.exitMap.endTick()

	return metrics{
		exitDown:       currentDown,
		curExit:        currentExit,
		curExitMetric:  curMetric,
		trackingExit:   trackingExit,
		trackingMetric: trackMetric,
		bestExit:       bestExit,
		bestMetric:     bestMetric,
	}
}

// subClamped returns a-b, or 0 if that would underflow (a RelU), matching
// the degradation calculation's checked_sub-to-None-then-error handling
// collapsed to a safe floor since debt-style negative metrics make no
// sense here.
func subClamped(a, b uint16) uint16 {
	if a < b {
		return 0
	}
	return a - b
}
