package control

import (
	"fmt"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/westphae/quaternion"
)

const qTolerance = 1e-9

func anglesClose(a, b float64) bool {
	d := wrapPi(a - b)
	return math.Abs(d) < qTolerance
}

func TestEulerRoundTrip(t *testing.T) {
	rolls := []float64{0, 0.1, 0.5, 1, 2, 3, -3, -2, -1, -0.5, -0.1, 0.2, 1.5, 0}
	pitches := []float64{0, 0.1, 0.5, 1, 1.5, -1.5, -1, -0.5, -0.1, 0.3, 0.7, -0.7, 0, 1.2}
	yaws := []float64{0, 0.5, 1, 2, 3, -3, -2, -1, -0.5, 2.5, -2.5, 1.7, 0.9, -0.9}

	for i := range rolls {
		q := toQuaternion(rolls[i], pitches[i], yaws[i])
		r, p, y := fromQuaternion(q)
		if !anglesClose(r, rolls[i]) || !anglesClose(p, pitches[i]) || !anglesClose(y, yaws[i]) {
			fmt.Printf("in (%1.4f, %1.4f, %1.4f) out (%1.4f, %1.4f, %1.4f)\n",
				rolls[i], pitches[i], yaws[i], r, p, y)
			t.Fail()
		}
		if yy := yawFromQuaternion(q); !anglesClose(yy, y) {
			t.Errorf("yawFromQuaternion %1.4f != %1.4f", yy, y)
		}
	}
}

func TestWrapPi(t *testing.T) {
	ins := []float64{0, math.Pi, -math.Pi, 3 * math.Pi, -3 * math.Pi, math.Pi + 0.1, -math.Pi - 0.1, 7, -7}
	outs := []float64{0, math.Pi, math.Pi, math.Pi, math.Pi, -math.Pi + 0.1, math.Pi - 0.1, 7 - 2*math.Pi, 2*math.Pi - 7}

	for i := range ins {
		if got := wrapPi(ins[i]); math.Abs(got-outs[i]) > qTolerance {
			t.Errorf("wrapPi(%1.4f) = %1.4f, want %1.4f", ins[i], got, outs[i])
		}
	}
}

func TestNormalized(t *testing.T) {
	q := quaternion.Quaternion{W: 2, X: 0, Y: 0, Z: 2}
	n := normalized(q)
	mag := math.Sqrt(n.W*n.W + n.X*n.X + n.Y*n.Y + n.Z*n.Z)
	if math.Abs(mag-1) > qTolerance {
		t.Errorf("magnitude %1.6f after normalization", mag)
	}
	if math.Abs(n.W-math.Sqrt2/2) > qTolerance || math.Abs(n.Z-math.Sqrt2/2) > qTolerance {
		t.Errorf("direction changed: %+v", n)
	}

	z := normalized(quaternion.Quaternion{})
	if z.W != 1 || z.X != 0 || z.Y != 0 || z.Z != 0 {
		t.Errorf("zero quaternion normalized to %+v, want identity", z)
	}
}

func TestFromAxisAngle(t *testing.T) {
	r, p, y := fromQuaternion(fromAxisAngle(r3.Vector{X: 0.5}))
	if !anglesClose(r, 0.5) || !anglesClose(p, 0) || !anglesClose(y, 0) {
		t.Errorf("x-axis rotation gave (%1.4f, %1.4f, %1.4f)", r, p, y)
	}

	id := fromAxisAngle(r3.Vector{})
	if id.W != 1 {
		t.Errorf("zero axis-angle gave %+v, want identity", id)
	}
}

func TestRotate(t *testing.T) {
	// 90 degrees about x takes z to -y
	v := rotate(toQuaternion(math.Pi/2, 0, 0), r3.Vector{Z: 1})
	if math.Abs(v.X) > qTolerance || math.Abs(v.Y+1) > qTolerance || math.Abs(v.Z) > qTolerance {
		t.Errorf("roll rotation gave %+v", v)
	}

	// 90 degrees about z takes x to y
	v = rotate(toQuaternion(0, 0, math.Pi/2), r3.Vector{X: 1})
	if math.Abs(v.X) > qTolerance || math.Abs(v.Y-1) > qTolerance || math.Abs(v.Z) > qTolerance {
		t.Errorf("yaw rotation gave %+v", v)
	}
}

func TestRotationMatrixMatchesQuaternion(t *testing.T) {
	angles := [][3]float64{
		{0, 0, 0}, {90, 0, 0}, {0, 90, 0}, {0, 0, 90},
		{30, -20, 110}, {-45, 10, -160}, {12.5, 33, 7},
	}
	vecs := []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}, {X: 0.3, Y: -0.7, Z: 1.1}}

	for _, a := range angles {
		m := rotationMatrix(a)
		q := toQuaternion(radians(a[0]), radians(a[1]), radians(a[2]))
		for _, v := range vecs {
			mv := mulVec(m, v)
			qv := rotate(q, v)
			if mv.Sub(qv).Norm() > 1e-9 {
				fmt.Printf("angles %v vec %+v: matrix %+v quaternion %+v\n", a, v, mv, qv)
				t.Fail()
			}
		}
	}
}
