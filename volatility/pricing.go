package volatility

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// normCDF is the cumulative distribution function of the standard normal.
func normCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// normPDF is the density of the standard normal.
func normPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

func d1d2(S, K, T, r, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

// Price values an option written on a futures price.
//
//	call = S*N(d1) - K*exp(-rT)*N(d2)
//	put  = K*exp(-rT)*N(-d2) - S*N(-d1)
//
// sigma and T must be strictly positive; callers are responsible for that.
func Price(S, K, T, r, sigma float64, t OptionType) float64 {
	d1, d2 := d1d2(S, K, T, r, sigma)
	discK := K * math.Exp(-r*T)
	if t.IsCall() {
		return S*normCDF(d1) - discK*normCDF(d2)
	}
	return discK*normCDF(-d2) - S*normCDF(-d1)
}

// Vega = S * N'(d1) * sqrt(T), per unit of volatility (not per 1%).
func Vega(S, K, T, r, sigma float64) float64 {
	d1, _ := d1d2(S, K, T, r, sigma)
	return S * normPDF(d1) * math.Sqrt(T)
}

type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

// Sensitivities returns the greeks of the pricing formula at sigma.
// Theta is per year; divide by 365 for daily decay.
func Sensitivities(S, K, T, r, sigma float64, t OptionType) Greeks {
	d1, d2 := d1d2(S, K, T, r, sigma)
	sqrtT := math.Sqrt(T)
	discK := K * math.Exp(-r*T)
	pdf := normPDF(d1)

	g := Greeks{
		Gamma: pdf / (S * sigma * sqrtT),
		Vega:  Vega(S, K, T, r, sigma),
	}
	decay := -(S * pdf * sigma) / (2 * sqrtT)
	if t.IsCall() {
		g.Delta = normCDF(d1)
		g.Theta = decay - r*discK*normCDF(d2)
		g.Rho = K * T * math.Exp(-r*T) * normCDF(d2)
		return g
	}
	g.Delta = normCDF(d1) - 1
	g.Theta = decay + r*discK*normCDF(-d2)
	g.Rho = -K * T * math.Exp(-r*T) * normCDF(-d2)
	return g
}

// GreeksOf evaluates the sensitivities of a solved result. ok is false when
// the result carries no volatility.
func GreeksOf(res IVResult) (Greeks, bool) {
	if !res.OK() {
		return Greeks{}, false
	}
	q := res.Quote
	return Sensitivities(q.UnderlyingPrice, q.Strike, q.TimeToExpiry, q.RiskFreeRate, *res.ImpliedVolatility, q.Type), true
}
