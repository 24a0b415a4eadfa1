package core

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

const fuzzyBlocks = 5 // ceil(512/127) blocks per template, last zero-padded

// FingerContext carries the non-secret, deterministic values mixed
// into a finger's KDF personalization: the finger slot and an
// enrollment-scoped domain tag (e.g. a DID method version) so helper
// data from one deployment cannot be replayed against another.
type FingerContext struct {
	FingerID FingerId
	DomainTag []byte
}

func (c FingerContext) personalization() [persLen]byte {
	h, _ := blake2b.New(persLen, nil)
	h.Write([]byte("dec-did|F|pers"))
	h.Write([]byte{byte(c.FingerID)})
	h.Write(c.DomainTag)
	sum := h.Sum(nil)
	var out [persLen]byte
	copy(out[:], sum)
	return out
}

// templateBlocks splits a 512-bit Template into 5 127-bit blocks for
// the BCH(127,64,10) code, zero-padding the final (partial) block.
func templateBlocks(t *Template) [fuzzyBlocks]poly128 {
	var blocks [fuzzyBlocks]poly128
	for b := 0; b < fuzzyBlocks; b++ {
		var p poly128
		for i := 0; i < bchN; i++ {
			bitIdx := b*bchN + i
			if bitIdx >= TemplateBits {
				break
			}
			if t.Bit(bitIdx) != 0 {
				if i < 64 {
					p.lo |= 1 << uint(i)
				} else {
					p.hi |= 1 << uint(i-64)
				}
			}
		}
		blocks[b] = p
	}
	return blocks
}

func blocksToTemplate(blocks [fuzzyBlocks]poly128) Template {
	var t Template
	for b := 0; b < fuzzyBlocks; b++ {
		for i := 0; i < bchN; i++ {
			bitIdx := b*bchN + i
			if bitIdx >= TemplateBits {
				break
			}
			if blocks[b].bit(i) != 0 {
				t.SetBit(bitIdx, 1)
			}
		}
	}
	return t
}

// packSketch packs five 63-bit block syndromes into the 41-byte
// HelperData.Sketch field, MSB-first within each 63-bit group.
func packSketch(synds [fuzzyBlocks]uint64) [sketchLen]byte {
	var out [sketchLen]byte
	bitPos := 0
	for _, s := range synds {
		for i := bchR - 1; i >= 0; i-- {
			if (s>>uint(i))&1 != 0 {
				out[bitPos/8] |= 1 << uint(7-bitPos%8)
			}
			bitPos++
		}
	}
	return out
}

func unpackSketch(b [sketchLen]byte) [fuzzyBlocks]uint64 {
	var synds [fuzzyBlocks]uint64
	bitPos := 0
	for block := 0; block < fuzzyBlocks; block++ {
		var s uint64
		for i := 0; i < bchR; i++ {
			bit := (b[bitPos/8] >> uint(7-bitPos%8)) & 1
			s = (s << 1) | uint64(bit)
			bitPos++
		}
		synds[block] = s
	}
	return synds
}

// kdf derives 32 bytes from template||salt||personalization, BLAKE2b-512
// keyed by salt and domain-separated by a literal tag plus
// personalization, truncated to FingerKeyLen.
func kdf(template *Template, salt [saltLen]byte, pers [persLen]byte) FingerKey {
	h, err := blake2b.New512(salt[:])
	if err != nil {
		// salt is always 16 bytes, a valid blake2b key length; this
		// can only fail on a corrupted build.
		panic("bch: blake2b keyed hash rejected a 16-byte key")
	}
	h.Write([]byte("dec-did|F|kdf"))
	h.Write(pers[:])
	h.Write(template[:])
	sum := h.Sum(nil)
	var out FingerKey
	copy(out[:], sum[:FingerKeyLen])
	return out
}

// kdf2 derives a MAC subkey from a key share, domain-separated from kdf.
func kdf2(share FingerKey, label string) []byte {
	h, _ := blake2b.New512(share[:])
	h.Write([]byte("dec-did|F|kdf2|"))
	h.Write([]byte(label))
	return h.Sum(nil)
}

func macTag(hmacKey []byte, salt [saltLen]byte, pers [persLen]byte, sketch [sketchLen]byte) [tagLen]byte {
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(salt[:])
	mac.Write(pers[:])
	mac.Write(sketch[:])
	var out [tagLen]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// gen implements F.Gen: randomized; produces a fresh key share and
// publishable helper data for one finger's template.
func gen(template Template, ctx FingerContext) (FingerKey, HelperData, error) {
	var salt [saltLen]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return FingerKey{}, HelperData{}, errInternalCrypto("rng unavailable for salt", err)
	}

	pers := ctx.personalization()

	blocks := templateBlocks(&template)
	var synds [fuzzyBlocks]uint64
	for i, b := range blocks {
		synds[i] = bchSyndromeOf(b)
	}
	sketch := packSketch(synds)

	share := kdf(&template, salt, pers)
	hmacKey := kdf2(share, "mac")
	tag := macTag(hmacKey, salt, pers, sketch)

	return share, HelperData{Salt: salt, Personalization: pers, Sketch: sketch, Tag: tag}, nil
}

// rep implements F.Rep: deterministic; recovers the key share from a
// noisy recapture's template plus the published helper data, or
// reports CorrectionFailed / IntegrityFailed.
//
// Block decoding always runs independently of the others and the loop
// below never short-circuits on a per-block outcome until all blocks
// have been attempted, keeping wall time independent of which block
// (if any) fails (spec.md §4.2/§5).
func rep(noisyTemplate Template, helper HelperData, ctx FingerContext) (FingerKey, error) {
	wantPers := ctx.personalization()
	if subtle.ConstantTimeCompare(wantPers[:], helper.Personalization[:]) != 1 {
		return FingerKey{}, errIntegrityFailed("personalization mismatch")
	}

	synds := unpackSketch(helper.Sketch)
	blocks := templateBlocks(&noisyTemplate)

	var corrected [fuzzyBlocks]poly128
	allOK := true
	for i := range blocks {
		cb, ok := bchCorrect(blocks[i], synds[i])
		corrected[i] = cb
		if !ok {
			allOK = false
		}
	}
	if !allOK {
		return FingerKey{}, errCorrectionFailed("block exceeded BCH correction capacity")
	}

	correctedTemplate := blocksToTemplate(corrected)
	candidate := kdf(&correctedTemplate, helper.Salt, helper.Personalization)

	hmacKey := kdf2(candidate, "mac")
	wantTag := macTag(hmacKey, helper.Salt, helper.Personalization, helper.Sketch)
	if subtle.ConstantTimeCompare(wantTag[:], helper.Tag[:]) != 1 {
		return FingerKey{}, errIntegrityFailed("hmac tag mismatch")
	}

	return candidate, nil
}
