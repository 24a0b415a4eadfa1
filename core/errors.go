package core

import (
	"errors"
	"fmt"
)

// ErrKind is the closed taxonomy of error kinds a core operation can
// fail with. Callers branch on Kind, never on message text.
type ErrKind uint8

const (
	// KindInputValidation covers structural problems caught before any
	// crypto runs: out-of-range coordinates, unknown finger id,
	// duplicate finger id.
	KindInputValidation ErrKind = iota
	// KindQualityTooLow means the quantizer rejected a capture (too few
	// minutiae, or too few surviving the quality filter), or the
	// aggregator could not assemble a qualifying subset.
	KindQualityTooLow
	// KindNormalizationAmbiguous means the orientation histogram was
	// too flat to normalize; the caller should ask for a recapture.
	KindNormalizationAmbiguous
	// KindCorrectionFailed means BCH decoding exceeded its correction
	// radius for at least one block during Rep.
	KindCorrectionFailed
	// KindIntegrityFailed means the HMAC tag on a HelperData record did
	// not match; the helper was tampered with or paired with the wrong
	// template. This is fatal for the affected finger.
	KindIntegrityFailed
	// KindInsufficientFingers means a Strict aggregation was missing a
	// required finger.
	KindInsufficientFingers
	// KindBelowMinimum means an operation would leave fewer than the
	// minimum required fingers enrolled.
	KindBelowMinimum
	// KindMetadataOversize means inline metadata assembly would exceed
	// the 16 KiB ceiling.
	KindMetadataOversize
	// KindInternalCrypto means an RNG or primitive failure occurred;
	// always fatal, never retried inside the core.
	KindInternalCrypto
)

func (k ErrKind) String() string {
	switch k {
	case KindInputValidation:
		return "input_validation"
	case KindQualityTooLow:
		return "quality_too_low"
	case KindNormalizationAmbiguous:
		return "normalization_ambiguous"
	case KindCorrectionFailed:
		return "correction_failed"
	case KindIntegrityFailed:
		return "integrity_failed"
	case KindInsufficientFingers:
		return "insufficient_fingers"
	case KindBelowMinimum:
		return "below_minimum"
	case KindMetadataOversize:
		return "metadata_oversize"
	case KindInternalCrypto:
		return "internal_crypto"
	default:
		return "unknown"
	}
}

// CoreError is the error type returned by every exported operation.
// Messages are structural only: they never carry minutiae
// coordinates, key shares, templates, or master keys.
type CoreError struct {
	Kind    ErrKind
	Context string // e.g. finger id, field path — never secret material
	Err     error  // optional wrapped cause
}

func (e *CoreError) Error() string {
	if e.Context == "" {
		return e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *CoreError) Unwrap() error { return e.Err }

func newErr(kind ErrKind, context string, cause error) *CoreError {
	return &CoreError{Kind: kind, Context: context, Err: cause}
}

// KindOf returns the ErrKind carried by err, and false if err is nil
// or not a *CoreError.
func KindOf(err error) (ErrKind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// Is reports whether err is a *CoreError of the given kind.
func Is(err error, kind ErrKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func errInputValidation(context string) error {
	return newErr(KindInputValidation, context, nil)
}

func errQualityTooLow(context string) error {
	return newErr(KindQualityTooLow, context, nil)
}

func errNormalizationAmbiguous(context string) error {
	return newErr(KindNormalizationAmbiguous, context, nil)
}

func errCorrectionFailed(context string) error {
	return newErr(KindCorrectionFailed, context, nil)
}

func errIntegrityFailed(context string) error {
	return newErr(KindIntegrityFailed, context, nil)
}

func errInsufficientFingers(context string) error {
	return newErr(KindInsufficientFingers, context, nil)
}

func errBelowMinimum(context string) error {
	return newErr(KindBelowMinimum, context, nil)
}

func errMetadataOversize(context string) error {
	return newErr(KindMetadataOversize, context, nil)
}

func errInternalCrypto(context string, cause error) error {
	return newErr(KindInternalCrypto, context, cause)
}
