package control

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/westphae/quaternion"
)

// wrapPi wraps an angle to (-Pi, Pi].
func wrapPi(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// normalized returns q scaled to unit magnitude. Inputs arriving from the
// bus may carry small drift, and the inverse-trigonometric steps downstream
// produce NaN for magnitudes even slightly above one. A degenerate
// zero quaternion normalizes to identity.
func normalized(q quaternion.Quaternion) quaternion.Quaternion {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if n < 1e-12 {
		return quaternion.Quaternion{W: 1}
	}
	return quaternion.Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// toQuaternion builds the rotation quaternion for the ZYX Tait-Bryan
// angles roll, pitch, yaw.
func toQuaternion(roll, pitch, yaw float64) quaternion.Quaternion {
	cr := math.Cos(roll / 2)
	sr := math.Sin(roll / 2)
	cp := math.Cos(pitch / 2)
	sp := math.Sin(pitch / 2)
	cy := math.Cos(yaw / 2)
	sy := math.Sin(yaw / 2)

	return quaternion.Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// fromQuaternion extracts the ZYX Tait-Bryan angles from q. q must be
// normalized; the asin argument is clamped against rounding past the poles.
func fromQuaternion(q quaternion.Quaternion) (roll, pitch, yaw float64) {
	roll = math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	s := 2 * (q.W*q.Y - q.Z*q.X)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	pitch = math.Asin(s)
	yaw = math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
	return
}

// yawFromQuaternion extracts only the heading angle from q.
func yawFromQuaternion(q quaternion.Quaternion) float64 {
	return math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
}

// EulerAngles returns the roll, pitch, yaw angles of q in radians. q need
// not be normalized.
func EulerAngles(q quaternion.Quaternion) (roll, pitch, yaw float64) {
	return fromQuaternion(normalized(q))
}

// fromAxisAngle builds the quaternion for a rotation of |v| radians about
// the axis v. A near-zero v yields identity.
func fromAxisAngle(v r3.Vector) quaternion.Quaternion {
	angle := v.Norm()
	if angle < 1e-12 {
		return quaternion.Quaternion{W: 1}
	}
	s := math.Sin(angle/2) / angle
	return quaternion.Quaternion{
		W: math.Cos(angle / 2),
		X: v.X * s,
		Y: v.Y * s,
		Z: v.Z * s,
	}
}

// rotate applies the rotation q to the vector v: q * v * conj(q).
func rotate(q quaternion.Quaternion, v r3.Vector) r3.Vector {
	p := quaternion.Prod(q, quaternion.Quaternion{X: v.X, Y: v.Y, Z: v.Z}, q.Conj())
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}
