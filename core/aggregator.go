package core

import (
	"sort"

	"golang.org/x/crypto/blake2b"
)

// FallbackPolicy configures the Fallback(k-of-n) subset search of
// spec.md §4.3. With QualityFloor and StrongFloor both zero every
// finger passes the quality gate; aggregate does not reject such a
// policy. DefaultFallbackPolicy returns the standard floors.
type FallbackPolicy struct {
	// MinFingers is the hard floor below which no subset may be
	// selected, regardless of quality (spec.md: "minimum 2 fingers
	// always enforced").
	MinFingers int
	// QualityFloor is the minimum per-finger quality required of every
	// finger kept in the full set or an (n-1)-of-n subset.
	QualityFloor uint8
	// StrongFloor is the minimum per-finger quality required when only
	// n-2 of the enrolled fingers are used.
	StrongFloor uint8
}

// DefaultFallbackPolicy matches spec.md §4.3's defaults.
func DefaultFallbackPolicy() FallbackPolicy {
	return FallbackPolicy{MinFingers: 2, QualityFloor: 70, StrongFloor: 85}
}

// SelectionMode chooses between requiring every enrolled finger
// (Strict) and allowing a quality-gated subset (Fallback).
type SelectionMode int

const (
	Strict SelectionMode = iota
	Fallback
)

// FingerShare is one finger's recovered key share plus the quality it
// was captured at, the input to aggregate's subset search.
type FingerShare struct {
	FingerID FingerId
	Key      FingerKey
	Quality  uint8
}

func fingerDomainTag(fid FingerId) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("dec-did|A|"))
	h.Write([]byte{byte(fid)})
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func contribution(fid FingerId, key FingerKey) MasterKey {
	tag := fingerDomainTag(fid)
	var out MasterKey
	for i := range out {
		out[i] = key[i] ^ tag[i]
	}
	return out
}

func xorInto(dst *MasterKey, src MasterKey) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// aggregate implements A.aggregate. Strict requires all of enrolled
// (the full enrolled finger set); Fallback searches for the
// quality-maximizing subset of enrolled satisfying the policy,
// breaking ties toward the lexicographically smallest FingerId set.
// The search is deterministic and exhaustive over the (small,
// n<=10) enrolled set — not a catch-and-retry over Strict then
// Fallback — so timing does not depend on which subset succeeds.
func aggregate(enrolled []FingerShare, mode SelectionMode, policy FallbackPolicy) (AggregationResult, error) {
	sorted := make([]FingerShare, len(enrolled))
	copy(sorted, enrolled)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FingerID < sorted[j].FingerID })

	switch mode {
	case Strict:
		return aggregateStrict(sorted)
	case Fallback:
		return aggregateFallback(sorted, policy)
	default:
		return AggregationResult{}, errInputValidation("unknown selection mode")
	}
}

func aggregateStrict(enrolled []FingerShare) (AggregationResult, error) {
	if len(enrolled) < 2 {
		return AggregationResult{}, errInsufficientFingers("fewer than 2 fingers supplied")
	}
	return combine(enrolled, AggregationMode{Strict: true})
}

// aggregateFallback performs the deterministic subset search of
// spec.md §4.3: consider, in order, the full set, every (n-1) subset,
// then every (n-2) subset, each gated by the matching quality floor;
// among subsets of equal size, pick the one with the highest quality
// sum, tie-broken lexicographically by FingerId.
func aggregateFallback(enrolled []FingerShare, policy FallbackPolicy) (AggregationResult, error) {
	n := len(enrolled)
	if n < policy.MinFingers {
		return AggregationResult{}, errInsufficientFingers("fewer fingers than the minimum")
	}

	type candidate struct {
		idx     []int
		quality int
	}

	tryDrop := func(drop int) []candidate {
		var floor uint8
		switch drop {
		case 0, 1:
			floor = policy.QualityFloor
		case 2:
			floor = policy.StrongFloor
		default:
			return nil
		}
		k := n - drop
		if k < policy.MinFingers {
			return nil
		}
		var out []candidate
		forEachSubset(n, k, func(idx []int) {
			q := 0
			ok := true
			for _, i := range idx {
				if enrolled[i].Quality < floor {
					ok = false
					break
				}
				q += int(enrolled[i].Quality)
			}
			if ok {
				cp := make([]int, len(idx))
				copy(cp, idx)
				out = append(out, candidate{idx: cp, quality: q})
			}
		})
		return out
	}

	var levels [3][]candidate
	for drop := 0; drop <= 2; drop++ {
		levels[drop] = tryDrop(drop)
	}
	for drop := 0; drop <= 2; drop++ {
		cands := levels[drop]
		if len(cands) == 0 {
			continue
		}
		best := cands[0]
		for _, c := range cands[1:] {
			if c.quality > best.quality || (c.quality == best.quality && lexLess(c.idx, best.idx, enrolled)) {
				best = c
			}
		}
		subset := make([]FingerShare, 0, len(best.idx))
		for _, i := range best.idx {
			subset = append(subset, enrolled[i])
		}
		return combine(subset, AggregationMode{Strict: false, K: len(subset), N: n})
	}

	return AggregationResult{}, errQualityTooLow("no qualifying fallback subset")
}

func lexLess(a, b []int, enrolled []FingerShare) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		fa, fb := enrolled[a[i]].FingerID, enrolled[b[i]].FingerID
		if fa != fb {
			return fa < fb
		}
	}
	return len(a) < len(b)
}

// forEachSubset enumerates all k-element index subsets of [0,n) in
// lexicographic order.
func forEachSubset(n, k int, fn func(idx []int)) {
	if k <= 0 || k > n {
		return
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		fn(idx)
		i := k - 1
		for i >= 0 && idx[i] == i+n-k {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

func combine(shares []FingerShare, mode AggregationMode) (AggregationResult, error) {
	var master MasterKey
	fingers := make([]FingerId, 0, len(shares))
	for _, s := range shares {
		xorInto(&master, contribution(s.FingerID, s.Key))
		fingers = append(fingers, s.FingerID)
	}
	sort.Slice(fingers, func(i, j int) bool { return fingers[i] < fingers[j] })
	return AggregationResult{MasterKey: master, FingersUsed: fingers, Mode: mode}, nil
}

// rotate replaces one finger's contribution with a freshly-enrolled
// one, producing a new master key in O(1) by XORing the old
// contribution out and the new one in. oldShare must be the
// FingerKey used to build current's master key for fingerID.
func rotate(current AggregationResult, fingerID FingerId, oldShare, newShare FingerKey) AggregationResult {
	next := current.MasterKey
	xorInto(&next, contribution(fingerID, oldShare))
	xorInto(&next, contribution(fingerID, newShare))

	fingers := make([]FingerId, len(current.FingersUsed))
	copy(fingers, current.FingersUsed)

	return AggregationResult{MasterKey: next, FingersUsed: fingers, Mode: current.Mode}
}

// revoke removes one finger's contribution entirely, requiring at
// least two fingers to remain.
func revoke(current AggregationResult, fingerID FingerId, share FingerKey) (AggregationResult, error) {
	remaining := make([]FingerId, 0, len(current.FingersUsed))
	found := false
	for _, f := range current.FingersUsed {
		if f == fingerID {
			found = true
			continue
		}
		remaining = append(remaining, f)
	}
	if !found {
		return AggregationResult{}, errInputValidation("finger not present in current aggregation")
	}
	if len(remaining) < 2 {
		return AggregationResult{}, errBelowMinimum("revocation would leave fewer than 2 fingers")
	}

	next := current.MasterKey
	xorInto(&next, contribution(fingerID, share))

	return AggregationResult{MasterKey: next, FingersUsed: remaining, Mode: current.Mode}, nil
}
