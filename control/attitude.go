package control

import (
	"github.com/golang/geo/r3"
	"github.com/westphae/quaternion"
)

// controlAttitude runs the quaternion attitude-error law.
// Input: the latest attitude setpoint (polled at entry).
// Output: the two partial virtual-control vectors feeding the rate law,
// and the updated thrust setpoint.
//
// Yaw is not closed-loop controlled here: the yaw component of the error
// vector is zeroed before the gain block.
func (l *Loop) controlAttitude() {
	if v, ok := l.subAttSp.Poll(); ok {
		l.attSp = v.(AttitudeSetpoint)
	}

	// reinitialize the setpoint while not armed so no value from the last
	// mode or flight is still kept
	if !l.mode.Armed {
		l.attSp.Q = quaternion.Quaternion{W: 1}
		l.attSp.ThrustBody = r3.Vector{}
	}

	// physical thrust axis is the negative of body z axis
	l.thrustSp = -l.attSp.ThrustBody.Z

	q := normalized(l.att.Q)
	qd := normalized(l.attSp.Q)

	// error quaternion, the rotation from q to qd
	qe := quaternion.Prod(q.Conj(), qd)

	var eq r3.Vector
	eq.X, eq.Y, _ = fromQuaternion(qe)
	eq.Z = 0

	grav := r3.Vector{Z: l.p.GravityComp}
	l.pControlAtt[0] = l.gains.applyAtt(0, eq).Add(grav)
	l.pControlAtt[1] = l.gains.applyAtt(1, eq).Add(grav)
}
