package core

import (
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// pkgLogger is silent by default; callers opt in with SetLogger. Log
// fields are restricted to enums, counts, and finger ids — never
// minutiae, templates, key shares, or master keys.
var pkgLogger = &log.Logger{
	Out:       io.Discard,
	Formatter: new(log.JSONFormatter),
	Level:     log.InfoLevel,
}

// SetLogger overrides the package-wide logger. Pass nil to restore the
// default (silent) logger.
func SetLogger(l *log.Logger) {
	if l == nil {
		pkgLogger = &log.Logger{Out: io.Discard, Formatter: new(log.JSONFormatter), Level: log.InfoLevel}
		return
	}
	pkgLogger = l
}

// Event is one non-secret entry in a BiometricMetadata transcript,
// recording an enrollment, rotation, or revocation.
type Event struct {
	ID       uuid.UUID      `json:"id"`
	Kind     TransitionKind `json:"kind"`
	FingerID *FingerId      `json:"finger_id,omitempty"`
	At       time.Time      `json:"at"`
	// OldDIDHash/NewDIDHash are the raw id hashes (blake2b_256 of the
	// master key, the value the DID encodes) before and after the
	// transition, letting a verifier confirm a
	// revocation or rotation actually changed identity without
	// exposing either master key.
	OldDIDHash []byte `json:"old_did_hash,omitempty"`
	NewDIDHash []byte `json:"new_did_hash,omitempty"`
}

// Transcript is an append-only, caller-owned list of Events. The core
// never persists it; callers embed it in BiometricMetadata.
type Transcript struct {
	mu     sync.Mutex
	events []Event
}

// Append records a new event and returns it, assigning a fresh ID if
// ev.ID is unset; the timestamp is taken from ev.At as supplied.
func (t *Transcript) Append(ev Event) Event {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
	return ev
}

// Events returns a copy of the recorded events in append order.
func (t *Transcript) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// QualityAnomalyDetector tracks streaming mean/variance of per-finger
// capture quality using Welford's algorithm, for callers deciding
// whether to force a recapture. It never feeds the core's own
// accept/reject thresholds, which stay fixed and documented.
type QualityAnomalyDetector struct {
	mu    sync.RWMutex
	mean  float64
	m2    float64
	count int
}

// NewQualityAnomalyDetector returns an empty detector.
func NewQualityAnomalyDetector() *QualityAnomalyDetector {
	return &QualityAnomalyDetector{}
}

// Update folds a new quality observation into the running statistics.
func (d *QualityAnomalyDetector) Update(quality uint8) {
	v := float64(quality)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	delta := v - d.mean
	d.mean += delta / float64(d.count)
	d.m2 += delta * (v - d.mean)
}

// Score returns the absolute z-score of quality against the
// distribution observed so far, or zero if fewer than two
// observations have been recorded.
func (d *QualityAnomalyDetector) Score(quality uint8) float64 {
	v := float64(quality)
	d.mu.RLock()
	mean, m2, n := d.mean, d.m2, d.count
	d.mu.RUnlock()
	if n < 2 {
		return 0
	}
	variance := m2 / float64(n-1)
	if variance == 0 {
		if v == mean {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs((v - mean) / math.Sqrt(variance))
}
