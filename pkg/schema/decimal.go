package schema

import (
	"math/big"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

var bigTen = big.NewInt(10)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(bigTen, big.NewInt(int64(n)), nil)
}

// DecimalUnscaled returns r*10^scale rounded half away from zero, which is
// the integer most formats store a decimal as
func DecimalUnscaled(r *big.Rat, scale int) *big.Int {
	num := new(big.Int).Mul(r.Num(), pow10(scale))
	den := r.Denom()
	q, m := new(big.Int).QuoRem(num, den, new(big.Int))
	// round half away from zero
	if m.Sign() != 0 {
		m.Abs(m).Lsh(m, 1)
		if m.Cmp(den) >= 0 {
			if num.Sign() < 0 {
				q.Sub(q, big.NewInt(1))
			} else {
				q.Add(q, big.NewInt(1))
			}
		}
	}
	return q
}

// DecimalFromUnscaled returns unscaled/10^scale
func DecimalFromUnscaled(unscaled *big.Int, scale int) *big.Rat {
	return new(big.Rat).SetFrac(unscaled, pow10(scale))
}

// FormatDecimal renders r with exactly scale fractional digits
func FormatDecimal(r *big.Rat, scale int) string {
	return r.FloatString(scale)
}

// FitDecimal rounds r to scale and checks the result has at most precision
// digits
func FitDecimal(r *big.Rat, precision, scale int) (*big.Rat, error) {
	unscaled := DecimalUnscaled(r, scale)
	limit := pow10(precision)
	if new(big.Int).Abs(unscaled).Cmp(limit) >= 0 {
		return nil, errors.Newf(errors.ErrorTypeConversion,
			"decimal %s exceeds precision %d at scale %d", r.FloatString(scale), precision, scale)
	}
	return DecimalFromUnscaled(unscaled, scale), nil
}
