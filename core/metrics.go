package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional set of Prometheus collectors for enroll/verify
// call counts. A nil *Metrics is valid everywhere in this package and
// every method becomes a no-op, so the core never forces a metrics
// registry on a caller that doesn't want one (spec.md §5: no hidden
// global state).
type Metrics struct {
	enrolled     prometheus.Counter
	enrollFailed *prometheus.CounterVec
	verified     *prometheus.CounterVec
	verifyFailed *prometheus.CounterVec
	rotated      prometheus.Counter
	revoked      prometheus.Counter
	revokeFailed prometheus.Counter
	correction   prometheus.Counter
	integrity    prometheus.Counter
	internal     prometheus.Counter
}

// NewMetrics registers a full set of collectors under reg and returns
// a *Metrics wired to them. Passing nil as reg uses the default
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		enrolled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biocore_enrolled_total",
			Help: "Successful enrollments.",
		}),
		enrollFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biocore_enroll_failed_total",
			Help: "Failed enrollments by error kind.",
		}, []string{"kind"}),
		verified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biocore_verified_total",
			Help: "Completed verifications by match outcome.",
		}, []string{"matched"}),
		verifyFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biocore_verify_failed_total",
			Help: "Failed verifications by error kind.",
		}, []string{"kind"}),
		rotated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biocore_rotated_total",
			Help: "Successful finger rotations.",
		}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biocore_revoked_total",
			Help: "Successful finger revocations.",
		}),
		revokeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biocore_revoke_failed_total",
			Help: "Rejected revocations (finger not enrolled, or minimum-fingers floor).",
		}),
		correction: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biocore_bch_correction_failed_total",
			Help: "Rep calls in which a BCH block exceeded correction capacity.",
		}),
		integrity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biocore_integrity_failed_total",
			Help: "Helper data HMAC tag mismatches during Rep.",
		}),
		internal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biocore_internal_crypto_errors_total",
			Help: "RNG or primitive failures, always fatal.",
		}),
	}
	reg.MustRegister(m.enrolled, m.enrollFailed, m.verified, m.verifyFailed,
		m.rotated, m.revoked, m.revokeFailed, m.correction, m.integrity, m.internal)
	return m
}

func (m *Metrics) incEnrolled() {
	if m == nil {
		return
	}
	m.enrolled.Inc()
}

func (m *Metrics) incEnrollFailed(err error) {
	if m == nil {
		return
	}
	kind, _ := KindOf(err)
	m.enrollFailed.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) incVerified(matched bool) {
	if m == nil {
		return
	}
	label := "false"
	if matched {
		label = "true"
	}
	m.verified.WithLabelValues(label).Inc()
}

func (m *Metrics) incVerifyFailed(err error) {
	if m == nil {
		return
	}
	kind, _ := KindOf(err)
	m.verifyFailed.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) incRotated() {
	if m == nil {
		return
	}
	m.rotated.Inc()
}

func (m *Metrics) incRevoked() {
	if m == nil {
		return
	}
	m.revoked.Inc()
}

func (m *Metrics) incRevokeFailed() {
	if m == nil {
		return
	}
	m.revokeFailed.Inc()
}

func (m *Metrics) incCorrectionFailed() {
	if m == nil {
		return
	}
	m.correction.Inc()
}

func (m *Metrics) incIntegrityFailed() {
	if m == nil {
		return
	}
	m.integrity.Inc()
}

func (m *Metrics) incInternalCrypto() {
	if m == nil {
		return
	}
	m.internal.Inc()
}
