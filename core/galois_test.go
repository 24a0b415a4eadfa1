package core

import "testing"

func TestGF7MulIdentityAndZero(t *testing.T) {
	for a := 1; a < gf7Size; a++ {
		if got := gf7Mul(byte(a), 1); got != byte(a) {
			t.Fatalf("gf7Mul(%d,1) = %d, want %d", a, got, a)
		}
		if got := gf7Mul(byte(a), 0); got != 0 {
			t.Fatalf("gf7Mul(%d,0) = %d, want 0", a, got)
		}
	}
}

func TestGF7MulCommutative(t *testing.T) {
	for a := 0; a < gf7Size; a++ {
		for b := 0; b < gf7Size; b++ {
			if gf7Mul(byte(a), byte(b)) != gf7Mul(byte(b), byte(a)) {
				t.Fatalf("gf7Mul(%d,%d) != gf7Mul(%d,%d)", a, b, b, a)
			}
		}
	}
}

func TestGF7Inverse(t *testing.T) {
	for a := 1; a < gf7Size; a++ {
		inv := gf7Inv(byte(a))
		if got := gf7Mul(byte(a), inv); got != 1 {
			t.Fatalf("gf7Mul(%d, inv(%d)=%d) = %d, want 1", a, a, inv, got)
		}
	}
}

func TestGF7DivRecoversOperand(t *testing.T) {
	for a := 0; a < gf7Size; a++ {
		for b := 1; b < gf7Size; b++ {
			q := gf7Div(byte(a), byte(b))
			if got := gf7Mul(q, byte(b)); got != byte(a) {
				t.Fatalf("gf7Div(%d,%d)=%d but gf7Mul(%d,%d) = %d, want %d", a, b, q, q, b, got, a)
			}
		}
	}
}

func TestGF7PowMatchesRepeatedMul(t *testing.T) {
	base := gf7.exp[1]
	acc := byte(1)
	for e := 0; e < 30; e++ {
		if got := gf7Pow(base, e); got != acc {
			t.Fatalf("gf7Pow(base,%d) = %d, want %d", e, got, acc)
		}
		acc = gf7Mul(acc, base)
	}
}

func TestGF7ExpLogAreInverses(t *testing.T) {
	for e := 0; e < gf7Size-1; e++ {
		v := gf7.exp[e]
		if v == 0 {
			t.Fatalf("exp[%d] = 0, field table corrupted", e)
		}
		if got := gf7.log[v]; got != e%(gf7Size-1) {
			t.Fatalf("log[exp[%d]=%d] = %d, want %d", e, v, got, e%(gf7Size-1))
		}
	}
}
