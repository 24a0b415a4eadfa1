package core

import (
	"strings"
	"testing"
	"time"
)

func testMasterKey(seed byte) MasterKey {
	var mk MasterKey
	for i := range mk {
		mk[i] = seed + byte(i)
	}
	return mk
}

func TestDeriveDIDIsDeterministic(t *testing.T) {
	mk := testMasterKey(7)
	d1, err := DeriveDID(mk, NetworkMainnet)
	if err != nil {
		t.Fatalf("DeriveDID failed: %v", err)
	}
	d2, err := DeriveDID(mk, NetworkMainnet)
	if err != nil {
		t.Fatalf("DeriveDID (second call) failed: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("DeriveDID is not deterministic: %q != %q", d1, d2)
	}
	if !strings.HasPrefix(string(d1), "did:cardano:mainnet:") {
		t.Fatalf("DID %q missing expected prefix", d1)
	}
}

func TestDeriveDIDDependsOnNetwork(t *testing.T) {
	mk := testMasterKey(7)
	main, err := DeriveDID(mk, NetworkMainnet)
	if err != nil {
		t.Fatalf("DeriveDID(mainnet) failed: %v", err)
	}
	test, err := DeriveDID(mk, NetworkTestnet)
	if err != nil {
		t.Fatalf("DeriveDID(testnet) failed: %v", err)
	}
	if main == test {
		t.Fatalf("mainnet and testnet DIDs collided for the same master key")
	}
}

func TestDeriveDIDRejectsUnknownNetwork(t *testing.T) {
	if _, err := DeriveDID(testMasterKey(1), Network("devnet")); !Is(err, KindInputValidation) {
		t.Fatalf("DeriveDID(devnet): err = %v, want KindInputValidation", err)
	}
}

func TestDeriveDIDDoesNotDependOnHelperOrFingerCount(t *testing.T) {
	// Two different master keys always yield different DIDs, and the
	// function signature itself (mk, network) -> DID means no other
	// input (wallet address, timestamp, finger count) can participate.
	a, _ := DeriveDID(testMasterKey(1), NetworkMainnet)
	b, _ := DeriveDID(testMasterKey(2), NetworkMainnet)
	if a == b {
		t.Fatalf("distinct master keys produced the same DID")
	}
}

func TestConstantTimeDIDEqual(t *testing.T) {
	a := CardanoDID("did:cardano:mainnet:abc123")
	b := CardanoDID("did:cardano:mainnet:abc123")
	c := CardanoDID("did:cardano:mainnet:different")
	if !ConstantTimeDIDEqual(a, b) {
		t.Fatalf("identical DIDs reported unequal")
	}
	if ConstantTimeDIDEqual(a, c) {
		t.Fatalf("different DIDs reported equal")
	}
	if ConstantTimeDIDEqual(a, CardanoDID("short")) {
		t.Fatalf("different-length DIDs reported equal")
	}
}

func TestSealOpenHelperRoundTrip(t *testing.T) {
	var seal HelperSeal
	for i := range seal.Key {
		seal.Key[i] = byte(i)
	}
	h := HelperData{}
	for i := range h.Salt {
		h.Salt[i] = byte(i)
	}
	for i := range h.Tag {
		h.Tag[i] = byte(255 - i)
	}

	blob, err := seal.SealHelper(h)
	if err != nil {
		t.Fatalf("SealHelper failed: %v", err)
	}
	got, err := seal.OpenHelper(blob)
	if err != nil {
		t.Fatalf("OpenHelper failed: %v", err)
	}
	if got != h {
		t.Fatalf("sealed helper did not round trip")
	}

	blob[len(blob)-1] ^= 0xFF
	if _, err := seal.OpenHelper(blob); !Is(err, KindIntegrityFailed) {
		t.Fatalf("OpenHelper(tampered): err = %v, want KindIntegrityFailed", err)
	}
}

func TestCanonicalJSONSortsKeysAndRejectsFloats(t *testing.T) {
	obj := map[string]interface{}{"b": 2, "a": 1}
	raw, err := CanonicalJSON(obj)
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	if got, want := string(raw), `{"a":1,"b":2}`; got != want {
		t.Fatalf("CanonicalJSON = %q, want %q", got, want)
	}

	withFloat := map[string]interface{}{"x": 1.5}
	if _, err := CanonicalJSON(withFloat); err == nil {
		t.Fatalf("CanonicalJSON accepted a true floating-point value")
	}
}

func TestCanonicalJSONEncodesFingerIdsAsNames(t *testing.T) {
	md := BiometricMetadata{
		Version:        BiometricMetadataVersion,
		DID:            "did:cardano:mainnet:abc",
		RevokedFingers: []FingerId{LeftThumb, RightIndex},
	}
	raw, err := CanonicalJSON(md)
	if err != nil {
		t.Fatalf("CanonicalJSON rejected legitimate integer fields: %v", err)
	}
	if !strings.Contains(string(raw), `"revoked_fingers":["left_thumb","right_index"]`) {
		t.Fatalf("CanonicalJSON output missing expected finger id array: %s", raw)
	}
}

func TestContentDigestIsStableUnderKeyOrder(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1}
	b := map[string]interface{}{"a": 1, "b": 2}
	da, err := ContentDigest(a)
	if err != nil {
		t.Fatalf("ContentDigest(a) failed: %v", err)
	}
	db, err := ContentDigest(b)
	if err != nil {
		t.Fatalf("ContentDigest(b) failed: %v", err)
	}
	if da != db {
		t.Fatalf("ContentDigest depends on map iteration order")
	}
}

func TestBuildMetadataInline(t *testing.T) {
	mk := testMasterKey(3)
	did, err := DeriveDID(mk, NetworkMainnet)
	if err != nil {
		t.Fatalf("DeriveDID failed: %v", err)
	}
	helperBytes := map[FingerId][]byte{
		LeftThumb: HelperData{}.Bytes(),
		LeftIndex: HelperData{}.Bytes(),
	}
	md, err := BuildMetadata(did, mk, []string{"controller-1"}, helperBytes, time.Unix(0, 0).UTC(), HelperSeal{}, nil)
	if err != nil {
		t.Fatalf("BuildMetadata failed: %v", err)
	}
	if md.DID != did {
		t.Fatalf("BuildMetadata.DID = %q, want %q", md.DID, did)
	}
	if len(md.Helpers) != 2 {
		t.Fatalf("BuildMetadata.Helpers has %d entries, want 2", len(md.Helpers))
	}
	for fid, ref := range md.Helpers {
		if ref.IsExternal() {
			t.Fatalf("finger %s unexpectedly stored externally for a small helper set", fid)
		}
	}
}

// growControllersUntilOversize grows a controller list one entry at a
// time until inline assembly (no external storage configured) first
// exceeds MetadataSizeCeiling, returning the controllers at that point.
// It measures the real assembly path rather than a hand-computed byte
// count, since base64-encoded inline helper bytes make the exact
// overhead awkward to predict by hand.
func growControllersUntilOversize(t *testing.T, did CardanoDID, mk MasterKey, helperBytes map[FingerId][]byte) []string {
	t.Helper()
	var controllers []string
	for i := 0; i < 100000; i++ {
		controllers = append(controllers, "did:cardano:mainnet:controller-padding-entry")
		_, err := BuildMetadata(did, mk, controllers, helperBytes, time.Unix(0, 0).UTC(), HelperSeal{}, nil)
		if err != nil {
			if !Is(err, KindMetadataOversize) {
				t.Fatalf("BuildMetadata failed with an unexpected error: %v", err)
			}
			return controllers
		}
	}
	t.Fatalf("inline assembly never exceeded the ceiling after 100000 controllers")
	return nil
}

func TestBuildMetadataOversizeWithoutExternalStorageFails(t *testing.T) {
	mk := testMasterKey(5)
	did, err := DeriveDID(mk, NetworkMainnet)
	if err != nil {
		t.Fatalf("DeriveDID failed: %v", err)
	}
	helperBytes := make(map[FingerId][]byte, 10)
	for f := LeftThumb; f < fingerIdCount; f++ {
		helperBytes[f] = HelperData{}.Bytes()
	}
	// growControllersUntilOversize already asserts KindMetadataOversize
	// is what stopped the growth; reaching here confirms it.
	growControllersUntilOversize(t, did, mk, helperBytes)
}

func TestBuildMetadataSwitchesToExternalWhenOversize(t *testing.T) {
	mk := testMasterKey(4)
	did, err := DeriveDID(mk, NetworkMainnet)
	if err != nil {
		t.Fatalf("DeriveDID failed: %v", err)
	}
	helperBytes := make(map[FingerId][]byte, 10)
	for f := LeftThumb; f < fingerIdCount; f++ {
		helperBytes[f] = HelperData{}.Bytes()
	}
	controllers := growControllersUntilOversize(t, did, mk, helperBytes)

	var seal HelperSeal
	md, err := BuildMetadata(did, mk, controllers, helperBytes, time.Unix(0, 0).UTC(), seal, func(f FingerId) string {
		return "https://example.invalid/helpers/" + f.String()
	})
	if err != nil {
		t.Fatalf("BuildMetadata with external storage still failed: %v", err)
	}
	for fid, ref := range md.Helpers {
		if !ref.IsExternal() {
			t.Fatalf("finger %s not moved to external storage despite oversize metadata", fid)
		}
	}
}
