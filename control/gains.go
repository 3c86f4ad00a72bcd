package control

import (
	"github.com/golang/geo/r3"
	matrix "github.com/skelterjohn/go.matrix"

	"github.com/andrelim435/bicopter/config"
)

// GainSet is the fixed LQR gain block: one 3x3 matrix per (rotor group,
// error source). Row is the output axis of the group's virtual force,
// column is the error axis. The set is immutable within a cycle and
// replaced wholesale on parameter reload.
type GainSet struct {
	att  [2]*matrix.DenseMatrix
	rate [2]*matrix.DenseMatrix
}

func newGainSet(p config.Params) GainSet {
	return GainSet{
		att:  [2]*matrix.DenseMatrix{denseFromBlock(p.AttGain0), denseFromBlock(p.AttGain1)},
		rate: [2]*matrix.DenseMatrix{denseFromBlock(p.RateGain0), denseFromBlock(p.RateGain1)},
	}
}

func denseFromBlock(b [3][3]float64) *matrix.DenseMatrix {
	return matrix.MakeDenseMatrix([]float64{
		b[0][0], b[0][1], b[0][2],
		b[1][0], b[1][1], b[1][2],
		b[2][0], b[2][1], b[2][2],
	}, 3, 3)
}

// applyAtt maps an attitude error vector through rotor group i's block.
func (g GainSet) applyAtt(i int, e r3.Vector) r3.Vector {
	return mulVec(g.att[i], e)
}

// applyRate maps a rate error vector through rotor group i's block.
func (g GainSet) applyRate(i int, e r3.Vector) r3.Vector {
	return mulVec(g.rate[i], e)
}

func mulVec(m *matrix.DenseMatrix, v r3.Vector) r3.Vector {
	col := matrix.MakeDenseMatrix([]float64{v.X, v.Y, v.Z}, 3, 1)
	out := matrix.Product(m, col)
	return r3.Vector{X: out.Get(0, 0), Y: out.Get(1, 0), Z: out.Get(2, 0)}
}

// rotationMatrix builds the ZYX rotation matrix for the given roll, pitch,
// yaw angles in degrees, rotating sensor-frame vectors into body frame.
func rotationMatrix(angles [3]float64) *matrix.DenseMatrix {
	q := toQuaternion(radians(angles[0]), radians(angles[1]), radians(angles[2]))
	return matrix.MakeDenseMatrix([]float64{
		q.W*q.W + q.X*q.X - q.Y*q.Y - q.Z*q.Z, 2 * (q.X*q.Y - q.W*q.Z), 2 * (q.W*q.Y + q.X*q.Z),
		2 * (q.X*q.Y + q.W*q.Z), q.W*q.W - q.X*q.X + q.Y*q.Y - q.Z*q.Z, 2 * (q.Y*q.Z - q.W*q.X),
		2 * (q.X*q.Z - q.W*q.Y), 2 * (q.W*q.X + q.Y*q.Z), q.W*q.W - q.X*q.X - q.Y*q.Y + q.Z*q.Z,
	}, 3, 3)
}

// boardRotation composes the coarse mount rotation with the fine-tune
// offset rotation, both configuration-derived.
func boardRotation(p config.Params) *matrix.DenseMatrix {
	return matrix.Product(rotationMatrix(p.BoardOffset), rotationMatrix(p.BoardRotation))
}
