package core

import (
	"math"
	"sort"
)

// QuantizerParams configures the minutiae-to-template mapping of
// spec.md §4.1. Zero value is invalid; use DefaultQuantizerParams.
type QuantizerParams struct {
	// QualityFloor rejects a whole capture whose scalar quality falls
	// below it. The wire format (spec.md §6) carries one quality value
	// per capture, not per minutia, so "filter minutiae below a
	// per-point quality floor" (spec.md §4.1) degenerates to an
	// all-or-nothing capture-level filter here.
	QualityFloor uint8
	// MinSurvivors is the minimum minutiae count required after the
	// quality filter; fewer than this is QualityTooLow.
	MinSurvivors int
	// Grid is the coarse spatial bucket size in micrometres, G in the
	// spec; one of 25, 50, 100.
	Grid uint16
	// OrientationBins is B, the number of angle buckets; one of
	// 16, 32, 64.
	OrientationBins uint16
	// LaneCapacity bounds how many fine-grained triples a single coarse
	// lane may encode before spill-over discards the rest.
	LaneCapacity int
}

// DefaultQuantizerParams matches spec.md §4.1's defaults: 50 µm grid,
// 32 orientation bins, minimum 10 surviving minutiae.
func DefaultQuantizerParams() QuantizerParams {
	return QuantizerParams{
		QualityFloor:    1,
		MinSurvivors:    10,
		Grid:            50,
		OrientationBins: 32,
		LaneCapacity:    8,
	}
}

// templateLanes is the number of contiguous 8-bit lanes in the 512-bit
// template. Every (xi/4, yi/4) coarse cell is mapped onto one of these
// 64 lanes by a stable hash (coarseLane), so distinct coarse cells can
// share a lane.
const templateLanes = TemplateBits / 8 // 64

type quantizedMinutia struct {
	xi, yi, thetai int
	quality        uint8
}

// quantize implements Q: it returns a Template, or a QualityTooLow or
// NormalizationAmbiguous error. The capture's FingerID is not used at
// all: the template depends solely on the captured geometry.
func quantize(cap Capture, p QuantizerParams) (Template, error) {
	if len(cap.Minutiae) < p.MinSurvivors {
		return Template{}, errQualityTooLow("too few minutiae in capture")
	}

	survivors := filterByQuality(cap, p)
	if len(survivors) < p.MinSurvivors {
		return Template{}, errQualityTooLow("too few minutiae survive quality filter")
	}

	cx, cy := centroid(survivors)
	rotation, err := dominantOrientation(survivors, p.OrientationBins)
	if err != nil {
		return Template{}, err
	}

	quantized := make([]quantizedMinutia, 0, len(survivors))
	for _, m := range survivors {
		dx := float64(int(m.X)) - cx
		dy := float64(int(m.Y)) - cy
		rx, ry := rotatePoint(dx, dy, rotation)
		xi := int(math.Floor(rx / float64(p.Grid)))
		yi := int(math.Floor(ry / float64(p.Grid)))
		theta := (int(m.Theta)*int(p.OrientationBins))/360 - int(rotation)
		theta = ((theta % int(p.OrientationBins)) + int(p.OrientationBins)) % int(p.OrientationBins)
		quantized = append(quantized, quantizedMinutia{xi: xi, yi: yi, thetai: theta, quality: cap.Quality})
	}

	return encodeTemplate(quantized, p), nil
}

func filterByQuality(cap Capture, p QuantizerParams) []Minutia {
	if cap.Quality < p.QualityFloor {
		return nil
	}
	out := make([]Minutia, len(cap.Minutiae))
	copy(out, cap.Minutiae)
	return out
}

func centroid(ms []Minutia) (float64, float64) {
	var sx, sy float64
	for _, m := range ms {
		sx += float64(m.X)
		sy += float64(m.Y)
	}
	n := float64(len(ms))
	return sx / n, sy / n
}

// dominantOrientation bins minutia angles into B buckets and returns
// the bucket index (as degrees, 0..359 scaled) with the most entries.
// Ties break toward the smaller bin index. A flat histogram (every
// bin equally populated) is reported as NormalizationAmbiguous.
func dominantOrientation(ms []Minutia, bins uint16) (int, error) {
	hist := make([]int, bins)
	for _, m := range ms {
		b := (int(m.Theta) * int(bins)) / 360
		if b >= int(bins) {
			b = int(bins) - 1
		}
		hist[b]++
	}
	best, bestCount := 0, -1
	flat := true
	for i, c := range hist {
		if c != hist[0] {
			flat = false
		}
		if c > bestCount {
			best, bestCount = i, c
		}
	}
	if flat && len(ms) > 1 {
		return 0, errNormalizationAmbiguous("orientation histogram is flat")
	}
	return (best * 360) / int(bins), nil
}

func rotatePoint(x, y float64, degrees int) (float64, float64) {
	theta := -float64(degrees) * math.Pi / 180.0
	sin, cos := math.Sin(theta), math.Cos(theta)
	return x*cos - y*sin, x*sin + y*cos
}

// encodeTemplate maps quantized minutiae into the fixed 512-bit
// template. Each minutia's coarse cell (xi/4, yi/4) is hashed into one
// of the 64 lanes; within that lane, the minutia sets one of the 8
// bits, chosen by a hash of (xi, yi, thetai) (fineHash), so a change
// to one minutia's fine triple moves only that minutia's bit. When more than LaneCapacity
// minutiae would occupy one lane, the highest-quality ones are kept,
// breaking ties by (xi, yi, thetai) for determinism.
func encodeTemplate(qs []quantizedMinutia, p QuantizerParams) Template {
	buckets := make(map[int][]quantizedMinutia, len(qs))
	for _, q := range qs {
		lane := coarseLane(q.xi, q.yi)
		buckets[lane] = append(buckets[lane], q)
	}

	var t Template
	for lane, entries := range buckets {
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].quality != entries[j].quality {
				return entries[i].quality > entries[j].quality
			}
			if entries[i].xi != entries[j].xi {
				return entries[i].xi < entries[j].xi
			}
			if entries[i].yi != entries[j].yi {
				return entries[i].yi < entries[j].yi
			}
			return entries[i].thetai < entries[j].thetai
		})
		if len(entries) > p.LaneCapacity {
			entries = entries[:p.LaneCapacity]
		}
		base := lane * 8
		for _, e := range entries {
			bitInLane := (fineHash(e.xi, e.yi, e.thetai)) % 8
			t.SetBit(base+bitInLane, 1)
		}
	}
	return t
}

func coarseLane(xi, yi int) int {
	cx := floorDiv(xi, 4)
	cy := floorDiv(yi, 4)
	h := (cx*73856093 ^ cy*19349663) & 0x7fffffff
	return h % templateLanes
}

func fineHash(xi, yi, thetai int) int {
	h := (xi*83492791 ^ yi*2654435761 ^ thetai*40503) & 0x7fffffff
	return h % 8
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
