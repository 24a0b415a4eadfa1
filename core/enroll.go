package core

import (
	"fmt"
	"time"
)

// EnrollRequest bundles everything Enroll needs: one capture per
// finger being enrolled, the selection policy for aggregation, and the
// context used to assemble a publishable BiometricMetadata record.
type EnrollRequest struct {
	Captures    []Capture
	DomainTag   []byte
	Network     Network
	Controllers []string
	Mode        SelectionMode
	Policy      FallbackPolicy
	EnrolledAt  time.Time
	// Seal and ExternalURI are only consulted if inline metadata would
	// exceed MetadataSizeCeiling; both may be zero/nil when the caller
	// knows the helper set is small enough to stay inline.
	Seal        HelperSeal
	ExternalURI func(FingerId) string
}

// EnrollResult is everything the caller needs to persist an enrollment
// and to support future Verify/rotate/revoke calls. Shares must be
// retained by the caller (outside this core) to support rotate/revoke
// without a full re-enrollment; the core itself keeps no state.
type EnrollResult struct {
	Metadata    BiometricMetadata
	Aggregation AggregationResult
	Shares      map[FingerId]FingerShare
}

// Enroll implements the full Q -> F.Gen -> A.aggregate -> D pipeline
// (spec.md §4): quantize each capture, extract a per-finger key share
// and helper data, aggregate the shares into a master key under mode,
// derive the resulting DID, and assemble a verifiable metadata record.
func Enroll(req EnrollRequest, qp QuantizerParams, m *Metrics) (EnrollResult, error) {
	if len(req.Captures) == 0 {
		return EnrollResult{}, errInputValidation("no captures supplied")
	}
	seen := make(map[FingerId]bool, len(req.Captures))
	for _, c := range req.Captures {
		if !c.FingerID.Valid() {
			return EnrollResult{}, errInputValidation(fmt.Sprintf("unknown finger id %d", c.FingerID))
		}
		if seen[c.FingerID] {
			return EnrollResult{}, errInputValidation(fmt.Sprintf("duplicate finger id %s", c.FingerID))
		}
		seen[c.FingerID] = true
	}

	shares := make(map[FingerId]FingerShare, len(req.Captures))
	helperBytes := make(map[FingerId][]byte, len(req.Captures))
	fingerShares := make([]FingerShare, 0, len(req.Captures))

	for _, c := range req.Captures {
		tmpl, err := quantize(c, qp)
		if err != nil {
			return EnrollResult{}, err
		}
		key, helper, err := gen(tmpl, FingerContext{FingerID: c.FingerID, DomainTag: req.DomainTag})
		if err != nil {
			m.incInternalCrypto()
			return EnrollResult{}, err
		}
		fs := FingerShare{FingerID: c.FingerID, Key: key, Quality: c.Quality}
		shares[c.FingerID] = fs
		fingerShares = append(fingerShares, fs)
		helperBytes[c.FingerID] = helper.Bytes()
	}

	agg, err := aggregate(fingerShares, req.Mode, req.Policy)
	if err != nil {
		m.incEnrollFailed(err)
		return EnrollResult{}, err
	}

	did, err := DeriveDID(agg.MasterKey, req.Network)
	if err != nil {
		return EnrollResult{}, err
	}

	md, err := BuildMetadata(did, agg.MasterKey, req.Controllers, helperBytes, req.EnrolledAt, req.Seal, req.ExternalURI)
	if err != nil {
		m.incEnrollFailed(err)
		return EnrollResult{}, err
	}

	newHash := IDHash(agg.MasterKey)
	transcript := &Transcript{}
	transcript.Append(Event{Kind: TransitionEnrolled, At: req.EnrolledAt, NewDIDHash: newHash[:]})
	md.Transcript = transcript.Events()

	m.incEnrolled()
	pkgLogger.WithField("fingers", len(req.Captures)).WithField("mode", agg.Mode.String()).Info("enrolled")

	return EnrollResult{Metadata: md, Aggregation: agg, Shares: shares}, nil
}

// VerifyRequest bundles a fresh set of captures and the previously
// published per-finger helper data needed to recover each finger's
// key share.
type VerifyRequest struct {
	Captures    []Capture
	DomainTag   []byte
	Network     Network
	Helpers     map[FingerId]HelperData
	ExpectedDID CardanoDID
	Mode        SelectionMode
	Policy      FallbackPolicy
}

// VerifyResult carries the outcome plus the recovered aggregation, so
// a caller that accepts a Fallback verification can inspect which
// fingers actually contributed.
type VerifyResult struct {
	Matched     bool
	Aggregation AggregationResult
	DID         CardanoDID
}

// Verify implements Q -> F.Rep -> A.aggregate -> D and compares the
// resulting DID against the claimed one in constant time. A
// CorrectionFailed or IntegrityFailed on any single finger only drops
// that finger from the Fallback subset search; under Strict mode any
// such failure fails the whole verification.
func Verify(req VerifyRequest, qp QuantizerParams, m *Metrics) (VerifyResult, error) {
	if len(req.Captures) == 0 {
		return VerifyResult{}, errInputValidation("no captures supplied")
	}

	var fingerShares []FingerShare
	var firstErr error
	for _, c := range req.Captures {
		helper, ok := req.Helpers[c.FingerID]
		if !ok {
			if firstErr == nil {
				firstErr = errInputValidation(fmt.Sprintf("no helper data for finger %s", c.FingerID))
			}
			continue
		}
		tmpl, err := quantize(c, qp)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		key, err := rep(tmpl, helper, FingerContext{FingerID: c.FingerID, DomainTag: req.DomainTag})
		if err != nil {
			if Is(err, KindCorrectionFailed) {
				m.incCorrectionFailed()
			} else if Is(err, KindIntegrityFailed) {
				m.incIntegrityFailed()
			}
			if req.Mode == Strict && firstErr == nil {
				firstErr = err
			}
			continue
		}
		fingerShares = append(fingerShares, FingerShare{FingerID: c.FingerID, Key: key, Quality: c.Quality})
	}

	if req.Mode == Strict && firstErr != nil {
		m.incVerifyFailed(firstErr)
		return VerifyResult{}, firstErr
	}

	agg, err := aggregate(fingerShares, req.Mode, req.Policy)
	if err != nil {
		m.incVerifyFailed(err)
		return VerifyResult{}, err
	}

	did, err := DeriveDID(agg.MasterKey, req.Network)
	if err != nil {
		return VerifyResult{}, err
	}

	matched := ConstantTimeDIDEqual(did, req.ExpectedDID)
	m.incVerified(matched)
	pkgLogger.WithField("matched", matched).WithField("mode", agg.Mode.String()).Info("verified")

	return VerifyResult{Matched: matched, Aggregation: agg, DID: did}, nil
}

// RotateFinger replaces one enrolled finger's contribution with a
// freshly-captured one, producing a new master key, DID, and helper
// data without touching any other finger's share (spec.md §4.3
// rotation: O(1) in the number of enrolled fingers).
func RotateFinger(
	current AggregationResult,
	fingerID FingerId,
	oldShare FingerKey,
	newCapture Capture,
	domainTag []byte,
	qp QuantizerParams,
	network Network,
	transcript *Transcript,
	at time.Time,
	m *Metrics,
) (AggregationResult, CardanoDID, HelperData, error) {
	if newCapture.FingerID != fingerID {
		return AggregationResult{}, "", HelperData{}, errInputValidation("capture finger id does not match rotation target")
	}
	tmpl, err := quantize(newCapture, qp)
	if err != nil {
		return AggregationResult{}, "", HelperData{}, err
	}
	newShare, helper, err := gen(tmpl, FingerContext{FingerID: fingerID, DomainTag: domainTag})
	if err != nil {
		m.incInternalCrypto()
		return AggregationResult{}, "", HelperData{}, err
	}

	oldHash := IDHash(current.MasterKey)
	next := rotate(current, fingerID, oldShare, newShare)
	did, err := DeriveDID(next.MasterKey, network)
	if err != nil {
		return AggregationResult{}, "", HelperData{}, err
	}
	newHash := IDHash(next.MasterKey)

	if transcript != nil {
		fid := fingerID
		transcript.Append(Event{Kind: TransitionRotated, FingerID: &fid, At: at, OldDIDHash: oldHash[:], NewDIDHash: newHash[:]})
	}
	m.incRotated()

	return next, did, helper, nil
}

// RevokeFinger removes one finger's contribution, requiring at least
// two fingers to remain enrolled afterward.
func RevokeFinger(
	current AggregationResult,
	fingerID FingerId,
	share FingerKey,
	network Network,
	transcript *Transcript,
	at time.Time,
	m *Metrics,
) (AggregationResult, CardanoDID, error) {
	oldHash := IDHash(current.MasterKey)
	next, err := revoke(current, fingerID, share)
	if err != nil {
		m.incRevokeFailed()
		return AggregationResult{}, "", err
	}
	did, err := DeriveDID(next.MasterKey, network)
	if err != nil {
		return AggregationResult{}, "", err
	}
	newHash := IDHash(next.MasterKey)

	if transcript != nil {
		fid := fingerID
		transcript.Append(Event{Kind: TransitionRevoked, FingerID: &fid, At: at, OldDIDHash: oldHash[:], NewDIDHash: newHash[:]})
	}
	m.incRevoked()

	return next, did, nil
}
