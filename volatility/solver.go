package volatility

import (
	"errors"
	"fmt"
	"math"
)

const (
	MinVolatility  = 1e-6
	MaxVolatility  = 5.0
	PriceTolerance = 1e-6
	MaxIterations  = 100

	// smallest bracket width, in volatility units, Brent is allowed to shrink to
	volTolerance = 1e-12
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNoConvergence = errors.New("implied volatility did not converge")
)

// ImpliedVolatility finds sigma such that Price(S, K, T, r, sigma, t) equals
// observed within PriceTolerance, searching [MinVolatility, MaxVolatility]
// with Brent's method.
//
// Non-positive or non-finite observed, S, K or T yield ErrInvalidInput without
// evaluating the model. A bracket whose ends do not straddle the observed
// price, or an exhausted iteration budget, yields an error wrapping
// ErrNoConvergence.
func ImpliedVolatility(observed, S, K, T, r float64, t OptionType) (float64, error) {
	if !positive(observed) || !positive(S) || !positive(K) || !positive(T) {
		return 0, ErrInvalidInput
	}
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("%w: risk free rate %v", ErrInvalidInput, r)
	}
	if t != Call && t != Put {
		return 0, fmt.Errorf("%w: option type %q", ErrInvalidInput, t)
	}

	objective := func(sigma float64) float64 {
		return Price(S, K, T, r, sigma, t) - observed
	}
	return brent(objective, MinVolatility, MaxVolatility, PriceTolerance, MaxIterations)
}

// StatusOf maps a solver error onto the result taxonomy.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInvalidInput):
		return StatusInvalidInput
	default:
		return StatusNoConvergence
	}
}

func positive(x float64) bool {
	return x > 0 && !math.IsInf(x, 1)
}

// brent returns x in [a, b] with |f(x)| <= ftol. f(a) and f(b) must have
// opposite signs.
func brent(f func(float64) float64, a, b, ftol float64, maxIter int) (float64, error) {
	fa, fb := f(a), f(b)
	if math.IsNaN(fa) || math.IsNaN(fb) {
		return 0, fmt.Errorf("%w: model undefined at bracket ends", ErrNoConvergence)
	}
	if math.Abs(fa) <= ftol {
		return a, nil
	}
	if math.Abs(fb) <= ftol {
		return b, nil
	}
	if (fa > 0) == (fb > 0) {
		return 0, fmt.Errorf("%w: price outside model range for sigma in [%g, %g]", ErrNoConvergence, a, b)
	}

	c, fc := b, fb
	var d, e float64
	for i := 0; i < maxIter; i++ {
		if (fb > 0) == (fc > 0) {
			c, fc = a, fa
			d = b - a
			e = d
		}
		if math.Abs(fc) < math.Abs(fb) {
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}

		xtol := 2*epsilon*math.Abs(b) + 0.5*volTolerance
		m := 0.5 * (c - b)
		if math.Abs(fb) <= ftol {
			return b, nil
		}
		if math.Abs(m) <= xtol {
			// bracket collapsed but the price is still off
			return 0, fmt.Errorf("%w: bracket collapsed at sigma=%g with price error %g", ErrNoConvergence, b, fb)
		}

		if math.Abs(e) >= xtol && math.Abs(fa) > math.Abs(fb) {
			s := fb / fa
			var p, q float64
			if a == c {
				// secant
				p = 2 * m * s
				q = 1 - s
			} else {
				// inverse quadratic interpolation
				qa := fa / fc
				rb := fb / fc
				p = s * (2*m*qa*(qa-rb) - (b-a)*(rb-1))
				q = (qa - 1) * (rb - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			} else {
				p = -p
			}
			if 2*p < math.Min(3*m*q-math.Abs(xtol*q), math.Abs(e*q)) {
				e = d
				d = p / q
			} else {
				d = m
				e = d
			}
		} else {
			d = m
			e = d
		}

		a, fa = b, fb
		if math.Abs(d) > xtol {
			b += d
		} else {
			b += math.Copysign(xtol, m)
		}
		fb = f(b)
	}
	return 0, fmt.Errorf("%w: %d iterations", ErrNoConvergence, maxIter)
}

const epsilon = 2.220446049250313e-16
