package control

import (
	"math"

	"github.com/golang/geo/r3"
)

// LowPassFilter is a second-order Butterworth low-pass applied to the
// corrected rate vector before the derivative path of the rate law. Filter
// state persists across cycles; Reset is called whenever the cutoff is
// retuned so the filter restarts from the current rate.
type LowPassFilter struct {
	cutoff     float64
	sampleFreq float64

	b0, b1, b2 float64
	a1, a2     float64

	d1, d2 r3.Vector // delay elements
}

// SetCutoff configures the filter for the given sample frequency and
// cutoff, both in Hz. A cutoff <= 0 disables filtering (pass-through).
func (f *LowPassFilter) SetCutoff(sampleFreq, cutoff float64) {
	f.sampleFreq = sampleFreq
	f.cutoff = cutoff
	if cutoff <= 0 {
		return
	}

	fr := sampleFreq / cutoff
	ohm := math.Tan(math.Pi / fr)
	c := 1 + 2*math.Cos(math.Pi/4)*ohm + ohm*ohm

	f.b0 = ohm * ohm / c
	f.b1 = 2 * f.b0
	f.b2 = f.b0
	f.a1 = 2 * (ohm*ohm - 1) / c
	f.a2 = (1 - 2*math.Cos(math.Pi/4)*ohm + ohm*ohm) / c
}

// Cutoff returns the configured cutoff frequency in Hz.
func (f *LowPassFilter) Cutoff() float64 { return f.cutoff }

// Apply runs one sample through the filter and returns the filtered value.
func (f *LowPassFilter) Apply(sample r3.Vector) r3.Vector {
	if f.cutoff <= 0 {
		return sample
	}

	d0 := sample.Sub(f.d1.Mul(f.a1)).Sub(f.d2.Mul(f.a2))
	out := d0.Mul(f.b0).Add(f.d1.Mul(f.b1)).Add(f.d2.Mul(f.b2))

	f.d2 = f.d1
	f.d1 = d0
	return out
}

// Reset seeds the delay line so the filter output starts at sample.
func (f *LowPassFilter) Reset(sample r3.Vector) {
	if f.cutoff <= 0 {
		return
	}
	dval := sample.Mul(1 / (f.b0 + f.b1 + f.b2))
	f.d1 = dval
	f.d2 = dval
}
