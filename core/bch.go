package core

// BCH(127,64,10): a binary, cyclic error-correcting code with
// codeword length 127, message length 64, correcting up to 10 bit
// errors per block (designed distance 21). This is the "sketch"
// primitive spec.md §4.2 builds the fuzzy extractor's Gen/Rep on: the
// stored helper value for a block is its syndrome under this code
// (127-bit block mod the generator polynomial), and recovery runs
// classical syndrome decoding (Berlekamp-Massey + Chien search) on the
// XOR of the stored and recomputed syndromes to find the error
// pattern between an original and a noisy recapture.
//
// Timing: decode always runs the full fixed-iteration
// Berlekamp-Massey and a full 127-position Chien search regardless of
// how many errors are actually present, so wall time does not depend
// on the error pattern (spec.md §5).

const (
	bchN = 127 // codeword length
	bchK = 64  // message length
	bchT = 10  // correction capacity (bit errors per block)
	bchR = bchN - bchK // 63: parity/syndrome bits per block
)

// poly128 represents a GF(2) polynomial of degree up to 127, bit i of
// (lo,hi) holding the coefficient of x^i. Used only for raw 127-bit
// blocks before reduction.
type poly128 struct {
	lo, hi uint64
}

func (p poly128) bit(i int) uint64 {
	if i < 64 {
		return (p.lo >> uint(i)) & 1
	}
	return (p.hi >> uint(i-64)) & 1
}

func (p poly128) xor(q poly128) poly128 {
	return poly128{p.lo ^ q.lo, p.hi ^ q.hi}
}

func (p poly128) degree() int {
	if p.hi != 0 {
		return 63 + bitsLen(p.hi)
	}
	if p.lo != 0 {
		return bitsLen(p.lo) - 1
	}
	return -1
}

func bitsLen(x uint64) int {
	n := 0
	for x != 0 {
		n++
		x >>= 1
	}
	return n
}

// shl shifts the polynomial left by n bits (n in [0,63]) staying within 128 bits.
func (p poly128) shl(n int) poly128 {
	if n == 0 {
		return p
	}
	hi := (p.hi << uint(n)) | (p.lo >> uint(64-n))
	if n == 64 {
		hi = p.lo
	}
	lo := p.lo << uint(n)
	return poly128{lo, hi}
}

// gf2Generator is the BCH(127,64,10) generator polynomial, degree 63,
// computed once at package init from the minimal polynomials of the
// roots alpha^1..alpha^20 in GF(2^7).
var gf2Generator = buildBCHGenerator()

func buildBCHGenerator() uint64 {
	covered := make(map[int]bool)
	var leaders []int
	for i := 1; i <= 2*bchT; i++ {
		if covered[i] {
			continue
		}
		leaders = append(leaders, i)
		c := i
		for {
			covered[c] = true
			c = (c * 2) % bchN
			if c == i {
				break
			}
		}
	}

	g := uint64(1) // polynomial "1"
	for _, c := range leaders {
		mp := minimalPolynomial(c)
		g = gf2MulSmall(g, mp)
	}
	if bitsLen(g)-1 != bchR {
		panic("bch: generator polynomial degree mismatch — BCH(127,64,10) table corrupted")
	}
	return g
}

// minimalPolynomial returns, as a GF(2) polynomial packed into a
// uint64, the minimal polynomial of alpha^c over GF(2), where alpha is
// the GF(2^7) element of log-index 1 (i.e. exp[1]).
func minimalPolynomial(c int) uint64 {
	root := gf7Pow(gf7.exp[1], c)
	// conjugates root, root^2, root^4, ... (7 of them, since the field
	// has degree 7 over GF(2)) give the coefficients of
	// prod_j (x + root^(2^j)) ; char 2 so "+" is XOR/addition.
	coeffs := []byte{1} // poly "1", index 0 = constant term, ascending degree
	r := root
	seen := map[byte]bool{}
	for i := 0; i < gf7Bits; i++ {
		if seen[r] {
			break
		}
		seen[r] = true
		coeffs = mulLinearFactor(coeffs, r)
		r = gf7Mul(r, r) // Frobenius: square to get next conjugate
	}
	var out uint64
	for i, c := range coeffs {
		if c == 0 {
			continue
		}
		if c != 1 {
			panic("bch: minimal polynomial has non-binary coefficient — field table corrupted")
		}
		out |= 1 << uint(i)
	}
	return out
}

// mulLinearFactor multiplies poly (ascending-degree GF(2^7) coefficient
// slice) by (x + r).
func mulLinearFactor(poly []byte, r byte) []byte {
	out := make([]byte, len(poly)+1)
	for i, c := range poly {
		out[i] ^= gf7Mul(c, r)
		out[i+1] ^= c
	}
	return out
}

// gf2MulSmall carryless-multiplies two GF(2) polynomials packed in
// uint64s, assuming the product's degree fits in 64 bits (true for
// every product formed while building gf2Generator).
func gf2MulSmall(a, b uint64) uint64 {
	var out uint64
	for i := 0; i < 64; i++ {
		if (b>>uint(i))&1 != 0 {
			out ^= a << uint(i)
		}
	}
	return out
}

// bchSyndromeOf reduces a 127-bit block modulo the generator
// polynomial, returning the 63-bit syndrome/sketch value for that
// block.
func bchSyndromeOf(block poly128) uint64 {
	rem := block
	g128 := poly128{lo: gf2Generator, hi: 0}
	for deg := rem.degree(); deg >= bchR; deg = rem.degree() {
		shift := deg - bchR
		rem = rem.xor(g128.shl(shift))
	}
	return rem.lo
}

// bchCorrect attempts to recover the error pattern between an original
// 127-bit block (whose syndrome is storedSyndrome) and a noisy
// received 127-bit block, returning the corrected block. ok is false
// if the error weight exceeds the code's correction capacity.
func bchCorrect(received poly128, storedSyndrome uint64) (corrected poly128, ok bool) {
	recvSyndrome := bchSyndromeOf(received)
	errSyndromePoly := storedSyndrome ^ recvSyndrome // = syndrome(error pattern)

	syn := make([]byte, 2*bchT+1) // 1-indexed; syn[0] unused
	for i := 1; i <= 2*bchT; i++ {
		syn[i] = evalGF2PolyAt(errSyndromePoly, gf7Pow(gf7.exp[1], i))
	}

	sigma, l, decodeOK := berlekampMassey(syn)
	positions := chienSearch(sigma)

	if errSyndromePoly == 0 {
		return received, true
	}
	if !decodeOK || l > bchT || l == 0 || len(positions) != l {
		return poly128{}, false
	}

	corrected = received
	for _, pos := range positions {
		if pos < 0 || pos >= bchN {
			return poly128{}, false
		}
		flipBit(&corrected, pos)
	}
	return corrected, true
}

func flipBit(p *poly128, i int) {
	if i < 64 {
		p.lo ^= 1 << uint(i)
	} else {
		p.hi ^= 1 << uint(i-64)
	}
}

// evalGF2PolyAt evaluates a GF(2)-coefficient polynomial (packed in a
// uint64, degree < 64) at a GF(2^7) field element x via Horner's rule.
func evalGF2PolyAt(p uint64, x byte) byte {
	var acc byte
	for i := 63; i >= 0; i-- {
		acc = gf7Mul(acc, x)
		if (p>>uint(i))&1 != 0 {
			acc ^= 1
		}
	}
	return acc
}

// berlekampMassey runs the standard iterative algorithm over GF(2^7)
// to find the error-locator polynomial from syndromes syn[1..2t].
// Returns the locator coefficients (ascending degree, sigma[0]==1),
// its degree L, and whether the recurrence stayed well-formed.
func berlekampMassey(syn []byte) (sigma []byte, l int, ok bool) {
	n := len(syn) - 1 // = 2t
	c := make([]byte, n+1)
	b := make([]byte, n+1)
	c[0], b[0] = 1, 1
	lVal := 0
	m := 1
	bCoef := byte(1)

	for nIdx := 0; nIdx < n; nIdx++ {
		delta := syn[nIdx+1]
		for i := 1; i <= lVal; i++ {
			delta ^= gf7Mul(c[i], syn[nIdx+1-i])
		}
		if delta == 0 {
			m++
			continue
		}
		t := make([]byte, len(c))
		copy(t, c)

		coef := gf7Div(delta, bCoef)
		for i := 0; i+m < len(c); i++ {
			c[i+m] ^= gf7Mul(coef, b[i])
		}

		if 2*lVal <= nIdx {
			lVal = nIdx + 1 - lVal
			b = t
			bCoef = delta
			m = 1
		} else {
			m++
		}
	}

	// trim trailing zero coefficients above degree lVal
	deg := 0
	for i, v := range c {
		if v != 0 {
			deg = i
		}
	}
	if deg > bchT {
		return nil, deg, false
	}
	return c[:deg+1], lVal, true
}

// chienSearch finds the roots of sigma (error locator) among
// alpha^0..alpha^126 and returns the corresponding error bit
// positions in the codeword.
func chienSearch(sigma []byte) []int {
	var positions []int
	for i := 0; i < bchN; i++ {
		// evaluate sigma at alpha^(-i) == alpha^(126*1 - i) (since
		// alpha has order 127, alpha^-i = alpha^(127-i) for i>0, and
		// alpha^0 for i==0).
		exp := (bchN - i) % bchN
		x := gf7Pow(gf7.exp[1], exp)
		var acc byte
		xp := byte(1)
		for _, coef := range sigma {
			acc ^= gf7Mul(coef, xp)
			xp = gf7Mul(xp, x)
		}
		if acc == 0 {
			positions = append(positions, i)
		}
	}
	return positions
}
