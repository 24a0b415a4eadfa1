package core

import (
	"math/rand/v2"

	"github.com/prometheus/client_golang/prometheus"
)

// prometheusTestRegistry returns a fresh registry isolated from the
// global default, so repeated test runs in one process don't collide
// on duplicate collector registration.
func prometheusTestRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// genCapture deterministically synthesizes a Capture with n minutiae
// spread across the coordinate space, seeded so the same (seed1,
// seed2, fid, quality, n) always yields byte-identical minutiae —
// tests never rely on crypto/rand or wall-clock entropy.
func genCapture(seed1, seed2 uint64, fid FingerId, quality uint8, n int) Capture {
	r := rand.New(rand.NewPCG(seed1, seed2))
	minutiae := make([]Minutia, n)
	for i := range minutiae {
		minutiae[i] = Minutia{
			X:     uint16(r.IntN(MaxCoordinate)),
			Y:     uint16(r.IntN(MaxCoordinate)),
			Theta: uint16(r.IntN(360)),
		}
	}
	return Capture{FingerID: fid, Quality: quality, Minutiae: minutiae}
}

// genTemplate quantizes a genCapture output under the default
// parameters, for tests that only need a template and not a Capture.
func genTemplate(t testingT, seed1, seed2 uint64, fid FingerId) Template {
	cap := genCapture(seed1, seed2, fid, 90, 24)
	tmpl, err := quantize(cap, DefaultQuantizerParams())
	if err != nil {
		t.Fatalf("quantize failed building test fixture: %v", err)
	}
	return tmpl
}

// testingT is the minimal subset of *testing.T genTemplate needs,
// avoiding an import of "testing" in a file that other _test.go files
// already import it in.
type testingT interface {
	Fatalf(format string, args ...interface{})
}

// flipBits returns a copy of tmpl with the given bit positions toggled.
func flipBits(tmpl Template, positions ...int) Template {
	out := tmpl
	for _, p := range positions {
		out.SetBit(p, 1-out.Bit(p))
	}
	return out
}
