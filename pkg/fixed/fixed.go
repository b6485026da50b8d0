// Package fixed implements 10^9 fixed-point arithmetic on uint64 values.
//
// Every price, quantity, balance and fee rate in the engine is a uint64
// scaled by Scaling. Intermediate products use 128-bit math; results
// that do not fit a uint64 saturate rather than panic, and operands
// kept within MaxOperand never saturate at all.
package fixed

import "math/bits"

// Scaling is the fixed-point denominator: 1.0 == 10^9.
const Scaling uint64 = 1_000_000_000

// MaxOperand bounds one factor of Mul when the other factor is also
// bounded by it: MaxOperand^2 < 2^64 * Scaling, so the quotient always
// fits a uint64. Callers that validate inputs against MaxOperand get
// exact arithmetic; anything beyond it saturates.
const MaxOperand uint64 = 1<<46 - 1

// Mul returns floor(a * b / Scaling), saturating at the maximum uint64
// when the quotient does not fit.
func Mul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= Scaling {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, Scaling)
	return q
}

// MulUp returns ceil(a * b / Scaling), saturating like Mul.
func MulUp(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= Scaling {
		return ^uint64(0)
	}
	q, r := bits.Div64(hi, lo, Scaling)
	if r > 0 {
		q++
	}
	return q
}

// Div returns floor(a * Scaling / b), saturating at the maximum uint64
// when the quotient does not fit. b must be non-zero.
func Div(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, Scaling)
	if hi >= b {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, b)
	return q
}

// DivUp returns ceil(a * Scaling / b), saturating like Div. b must be
// non-zero.
func DivUp(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, Scaling)
	if hi >= b {
		return ^uint64(0)
	}
	q, r := bits.Div64(hi, lo, b)
	if r > 0 {
		q++
	}
	return q
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Sqrt returns floor(sqrt(n)) in raw (unscaled) units.
func Sqrt(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	x := uint64(1) << ((bits.Len64(n) + 1) / 2)
	for {
		y := (x + n/x) / 2
		if y >= x {
			return x
		}
		x = y
	}
}
