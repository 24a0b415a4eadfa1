package core

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// MetadataSizeCeiling is the Cardano on-chain metadata limit (spec.md
// §4.4): inline assembly beyond this must switch to external refs.
const MetadataSizeCeiling = 16 * 1024

// IDHash returns blake2b_256(master_key), the value embedded in both
// the DID and BiometricMetadata.IDHash.
func IDHash(mk MasterKey) [32]byte {
	return blake2b.Sum256(mk[:])
}

// DeriveDID implements D: master_key -> did:cardano:<network>:<base58>.
// No other input participates — not wallet address, not timestamp,
// not helper data, not finger count.
func DeriveDID(mk MasterKey, network Network) (CardanoDID, error) {
	if !network.Valid() {
		return "", errInputValidation("unsupported network")
	}
	h := IDHash(mk)
	return CardanoDID(fmt.Sprintf("did:cardano:%s:%s", network, base58.Encode(h[:]))), nil
}

// ConstantTimeDIDEqual compares two DIDs without leaking timing
// information about where they first differ, as spec.md §5 requires
// for any compare used as an authentication decision.
func ConstantTimeDIDEqual(a, b CardanoDID) bool {
	ab, bb := []byte(a), []byte(b)
	if len(ab) != len(bb) {
		// no byte comparison is made; this branch depends only on the
		// two wire lengths, which the verifier already knows, not on
		// secret content.
		return false
	}
	return subtle.ConstantTimeCompare(ab, bb) == 1
}

// HelperSeal is the symmetric key+nonce scheme used to protect
// HelperData bytes that a caller has decided to store externally
// (content-addressed storage is an external collaborator; the core
// only seals/opens bytes the caller already chose to move out of
// inline metadata).
type HelperSeal struct {
	Key [chacha20poly1305.KeySize]byte
}

// SealHelper encrypts a HelperData record for external storage,
// returning nonce||ciphertext.
func (s HelperSeal) SealHelper(h HelperData) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.Key[:])
	if err != nil {
		return nil, errInternalCrypto("chacha20poly1305 setup", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errInternalCrypto("rng unavailable for nonce", err)
	}
	ct := aead.Seal(nil, nonce, h.Bytes(), nil)
	return append(nonce, ct...), nil
}

// OpenHelper reverses SealHelper.
func (s HelperSeal) OpenHelper(blob []byte) (HelperData, error) {
	aead, err := chacha20poly1305.NewX(s.Key[:])
	if err != nil {
		return HelperData{}, errInternalCrypto("chacha20poly1305 setup", err)
	}
	minLen := chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minLen {
		return HelperData{}, errInputValidation("sealed helper blob too short")
	}
	nonce, ct := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return HelperData{}, errIntegrityFailed("sealed helper failed to open")
	}
	return HelperDataFromBytes(pt)
}

// BiometricMetadata is the verifiable record produced by metadata
// assembly (spec.md §4.4).
type BiometricMetadata struct {
	Version        string                 `json:"version"`
	DID            CardanoDID             `json:"did"`
	IDHash         []byte                 `json:"id_hash"`
	Controllers    []string               `json:"controllers"`
	Helpers        map[FingerId]HelperRef `json:"helpers"`
	EnrolledAt     time.Time              `json:"enrolled_at"`
	RevokedFingers []FingerId             `json:"revoked_fingers,omitempty"`
	RevokedAt      *time.Time             `json:"revoked_at,omitempty"`
	Transcript     []Event                `json:"transcript,omitempty"`
}

// BuildMetadata assembles a BiometricMetadata record for an
// AggregationResult, switching to external HelperRefs if inline
// assembly would exceed MetadataSizeCeiling. seal is used only on the
// oversize path; it may be the zero value when helpers are known to
// fit inline.
func BuildMetadata(
	did CardanoDID,
	mk MasterKey,
	controllers []string,
	helperBytes map[FingerId][]byte,
	enrolledAt time.Time,
	seal HelperSeal,
	externalURI func(FingerId) string,
) (BiometricMetadata, error) {
	id := IDHash(mk)
	md := BiometricMetadata{
		Version:     BiometricMetadataVersion,
		DID:         did,
		IDHash:      id[:],
		Controllers: append([]string(nil), controllers...),
		Helpers:     make(map[FingerId]HelperRef, len(helperBytes)),
		EnrolledAt:  enrolledAt,
	}
	for fid, b := range helperBytes {
		md.Helpers[fid] = HelperRef{Inline: b}
	}

	raw, err := CanonicalJSON(md)
	if err != nil {
		return BiometricMetadata{}, errInternalCrypto("canonical json encode", err)
	}
	if len(raw) <= MetadataSizeCeiling {
		return md, nil
	}

	if externalURI == nil {
		return BiometricMetadata{}, errMetadataOversize("no external storage configured")
	}
	for fid, b := range helperBytes {
		var h HelperData
		h, err = HelperDataFromBytes(b)
		if err != nil {
			return BiometricMetadata{}, errInputValidation("malformed helper bytes")
		}
		sealed, err := seal.SealHelper(h)
		if err != nil {
			return BiometricMetadata{}, err
		}
		digest := sha256.Sum256(sealed)
		md.Helpers[fid] = HelperRef{URI: externalURI(fid), SHA256: digest[:]}
	}

	raw, err = CanonicalJSON(md)
	if err != nil {
		return BiometricMetadata{}, errInternalCrypto("canonical json encode", err)
	}
	if len(raw) > MetadataSizeCeiling {
		return BiometricMetadata{}, errMetadataOversize("exceeds ceiling even with external refs")
	}
	return md, nil
}

// CanonicalJSON serializes v with sorted object keys, no insignificant
// whitespace, and no floating-point values, for stable
// content-addressing (spec.md §4.4).
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		s := val.String()
		if strings.ContainsAny(s, ".eE") {
			return fmt.Errorf("canonical json: floats are not permitted (got %s)", s)
		}
		buf.WriteString(s)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// ContentDigest returns the SHA-256 digest of the canonical JSON
// encoding of v, stable for content-addressed storage.
func ContentDigest(v interface{}) ([32]byte, error) {
	raw, err := CanonicalJSON(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(raw), nil
}
