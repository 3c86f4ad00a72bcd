package control

import (
	"github.com/golang/geo/r3"
	matrix "github.com/skelterjohn/go.matrix"
)

// correctRates applies the per-instrument offset/scale calibration for the
// selected instrument, rotates the result from sensor frame into body frame
// and subtracts the in-run bias estimate.
//
// An instrument index outside the known range falls back to the raw,
// uncorrected sample. This is a silent degrade, not an error: the loop must
// still produce an output this cycle.
func correctRates(raw r3.Vector, instrument int, sc SensorCorrection, bias SensorBias, board *matrix.DenseMatrix) r3.Vector {
	rates := raw
	if instrument >= 0 && instrument < MaxGyroCount {
		off := sc.GyroOffset[instrument]
		scale := sc.GyroScale[instrument]
		rates = r3.Vector{
			X: (raw.X - off.X) * scale.X,
			Y: (raw.Y - off.Y) * scale.Y,
			Z: (raw.Z - off.Z) * scale.Z,
		}
	}

	rates = mulVec(board, rates)

	return rates.Sub(bias.GyroBias)
}
