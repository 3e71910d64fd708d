// Package metrics provides lightweight counters for the redaction service.
//
// Counters use sync/atomic so the per-page hot path never takes a lock.
// Latency statistics use one mutex per dimension and are updated once per
// document or detector call.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// knownLabels pre-populates the per-label map so Snapshot can iterate a
// fixed set without racing on map writes.
var knownLabels = []string{
	"PERSON", "ORG", "GPE", "EMAIL", "PHONE", "ADDRESS",
	"CARD", "DATE", "IBAN", "SSN", "AGE", "POSTAL_CODE",
}

// knownDetectors are the detector names the registry can build.
var knownDetectors = []string{"regex", "ner", "ocr-classifier"}

// Metrics holds all runtime counters for a running service.
// The zero value is NOT valid for the per-label and per-detector maps; use New().
type Metrics struct {
	// Document counters
	DocumentsTotal    atomic.Int64
	DocumentsRedacted atomic.Int64
	DocumentsFailed   atomic.Int64
	DocumentsClean    atomic.Int64 // processed with an empty plan
	PagesProcessed    atomic.Int64
	LabelRequests     atomic.Int64

	// Resolver and planner volume
	EntitiesAccepted atomic.Int64
	EntitiesRejected atomic.Int64
	RegionsPlanned   atomic.Int64
	OtherLabels      atomic.Int64 // accepted entities outside the canonical set

	// Maps are written only in New(); concurrent reads are safe without a lock.
	byLabel           map[string]*atomic.Int64
	detectorFailures  map[string]*atomic.Int64
	detectorTimeouts  map[string]*atomic.Int64
	OtherDetectorErrs atomic.Int64

	detectMu   sync.Mutex
	detectStat latencyStats

	applyMu   sync.Mutex
	applyStat latencyStats

	requestMu   sync.Mutex
	requestStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded.
func New() *Metrics {
	m := &Metrics{
		startTime:        time.Now(),
		byLabel:          make(map[string]*atomic.Int64, len(knownLabels)),
		detectorFailures: make(map[string]*atomic.Int64, len(knownDetectors)),
		detectorTimeouts: make(map[string]*atomic.Int64, len(knownDetectors)),
	}
	for _, l := range knownLabels {
		m.byLabel[l] = new(atomic.Int64)
	}
	for _, d := range knownDetectors {
		m.detectorFailures[d] = new(atomic.Int64)
		m.detectorTimeouts[d] = new(atomic.Int64)
	}
	return m
}

// RecordAccepted counts one accepted entity of the given label.
func (m *Metrics) RecordAccepted(label string) {
	m.EntitiesAccepted.Add(1)
	if c, ok := m.byLabel[label]; ok {
		c.Add(1)
		return
	}
	m.OtherLabels.Add(1)
}

// RecordDetectorFailure counts a failed detector call; timeout marks a
// call that ran past its deadline.
func (m *Metrics) RecordDetectorFailure(detector string, timeout bool) {
	counters := m.detectorFailures
	if timeout {
		counters = m.detectorTimeouts
	}
	if c, ok := counters[detector]; ok {
		c.Add(1)
		return
	}
	m.OtherDetectorErrs.Add(1)
}

// RecordDetectLatency records detection time for one page.
func (m *Metrics) RecordDetectLatency(d time.Duration) {
	m.detectMu.Lock()
	m.detectStat.record(ms(d))
	m.detectMu.Unlock()
}

// RecordApplyLatency records the time spent applying and saving a plan.
func (m *Metrics) RecordApplyLatency(d time.Duration) {
	m.applyMu.Lock()
	m.applyStat.record(ms(d))
	m.applyMu.Unlock()
}

// RecordRequestLatency records the end-to-end time of one document.
func (m *Metrics) RecordRequestLatency(d time.Duration) {
	m.requestMu.Lock()
	m.requestStat.record(ms(d))
	m.requestMu.Unlock()
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.detectMu.Lock()
	detect := m.detectStat.snapshot()
	m.detectMu.Unlock()

	m.applyMu.Lock()
	apply := m.applyStat.snapshot()
	m.applyMu.Unlock()

	m.requestMu.Lock()
	request := m.requestStat.snapshot()
	m.requestMu.Unlock()

	return Snapshot{
		Documents: DocumentSnapshot{
			Total:    m.DocumentsTotal.Load(),
			Redacted: m.DocumentsRedacted.Load(),
			Clean:    m.DocumentsClean.Load(),
			Failed:   m.DocumentsFailed.Load(),
			Pages:    m.PagesProcessed.Load(),
			Labels:   m.LabelRequests.Load(),
		},
		Entities: EntitySnapshot{
			Accepted:    m.EntitiesAccepted.Load(),
			Rejected:    m.EntitiesRejected.Load(),
			Regions:     m.RegionsPlanned.Load(),
			ByLabel:     nonZero(m.byLabel),
			OtherLabels: m.OtherLabels.Load(),
		},
		Detectors: DetectorSnapshot{
			Failures: nonZero(m.detectorFailures),
			Timeouts: nonZero(m.detectorTimeouts),
			Other:    m.OtherDetectorErrs.Load(),
		},
		Latency: LatencyGroup{
			DetectMs:  detect,
			ApplyMs:   apply,
			RequestMs: request,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

func nonZero(counters map[string]*atomic.Int64) map[string]int64 {
	out := make(map[string]int64, len(counters))
	for k, c := range counters {
		if n := c.Load(); n > 0 {
			out[k] = n
		}
	}
	return out
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Documents  DocumentSnapshot `json:"documents"`
	Entities   EntitySnapshot   `json:"entities"`
	Detectors  DetectorSnapshot `json:"detectors"`
	Latency    LatencyGroup     `json:"latency"`
	UptimeSecs float64          `json:"uptimeSecs"`
}

// DocumentSnapshot holds document-level counters.
type DocumentSnapshot struct {
	Total    int64 `json:"total"`
	Redacted int64 `json:"redacted"`
	Clean    int64 `json:"clean"`
	Failed   int64 `json:"failed"`
	Pages    int64 `json:"pages"`
	Labels   int64 `json:"labelRequests"`
}

// EntitySnapshot holds resolver and planner volume.
type EntitySnapshot struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Regions  int64 `json:"regions"`

	// Per-label accepted counts (only labels with non-zero counts appear).
	ByLabel     map[string]int64 `json:"byLabel,omitempty"`
	OtherLabels int64            `json:"otherLabels"`
}

// DetectorSnapshot holds per-detector failure counters.
type DetectorSnapshot struct {
	Failures map[string]int64 `json:"failures,omitempty"`
	Timeouts map[string]int64 `json:"timeouts,omitempty"`
	Other    int64            `json:"other"`
}

// LatencyGroup groups the latency dimensions.
type LatencyGroup struct {
	DetectMs  LatencySnapshot `json:"detectMs"`
	ApplyMs   LatencySnapshot `json:"applyMs"`
	RequestMs LatencySnapshot `json:"requestMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
