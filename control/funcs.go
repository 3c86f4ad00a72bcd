package control

import "math"

// constrain clamps x to [lo, hi].
func constrain(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// radians converts degrees to radians.
func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// expo is the cubic exponential stick shaping: (1-e)*x + e*x^3.
// x in [-1, 1], e in [0, 1].
func expo(x, e float64) float64 {
	x = constrain(x, -1, 1)
	e = constrain(e, 0, 1)
	return (1-e)*x + e*x*x*x
}

// superexpo combines expo with a super-exponential shaping term g in
// [0, 1): the response flattens near center and steepens toward full
// deflection while preserving the endpoints x = ±1.
func superexpo(x, e, g float64) float64 {
	x = constrain(x, -1, 1)
	g = constrain(g, 0, 0.99)
	return expo(x, e) * (1 - g) / (1 - math.Abs(x)*g)
}
