package rigid

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/exp/constraints"
)

// isValid reports whether x is a usable number (not NaN, not infinite).
func isValid(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func isValidVec3(v mgl64.Vec3) bool {
	return isValid(v[0]) && isValid(v[1]) && isValid(v[2])
}

func clamp[T constraints.Ordered](x, lo, hi T) T {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// sign returns 1.0 for x >= 0 and -1.0 otherwise.
func sign(x float64) float64 {
	if x < 0 {
		return -1.0
	}
	return 1.0
}

// quatMat3 expands a unit quaternion into a 3x3 rotation matrix.
func quatMat3(q mgl64.Quat) mgl64.Mat3 {
	cx := q.Rotate(mgl64.Vec3{1, 0, 0})
	cy := q.Rotate(mgl64.Vec3{0, 1, 0})
	cz := q.Rotate(mgl64.Vec3{0, 0, 1})
	return mgl64.Mat3{
		cx[0], cx[1], cx[2],
		cy[0], cy[1], cy[2],
		cz[0], cz[1], cz[2],
	}
}

// tangentBasis builds a right-handed orthonormal frame (t1, t2) around a
// unit normal. The axis selection depends only on the component magnitudes
// of n, so the basis is a continuous function of n away from the switch
// thresholds and is deterministic for identical input.
func tangentBasis(n mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	var ref mgl64.Vec3
	if math.Abs(n[0]) < math.Abs(n[1]) && math.Abs(n[0]) < math.Abs(n[2]) {
		ref = mgl64.Vec3{1, 0, 0}
	} else if math.Abs(n[1]) < math.Abs(n[2]) {
		ref = mgl64.Vec3{0, 1, 0}
	} else {
		ref = mgl64.Vec3{0, 0, 1}
	}
	t1 := n.Cross(ref).Normalize()
	t2 := n.Cross(t1)
	return t1, t2
}

// quatIntegrate advances a unit quaternion by a world-frame angular
// velocity over h seconds and re-normalizes the result.
func quatIntegrate(q mgl64.Quat, omega mgl64.Vec3, h float64) mgl64.Quat {
	angle := omega.Len() * h
	if angle < 1e-12 {
		return q.Normalize()
	}
	axis := omega.Normalize()
	dq := mgl64.QuatRotate(angle, axis)
	return dq.Mul(q).Normalize()
}

func quatFromSlice(q []float64) mgl64.Quat {
	return mgl64.Quat{W: q[0], V: mgl64.Vec3{q[1], q[2], q[3]}}
}

func vec3FromSlice(v []float64) mgl64.Vec3 {
	return mgl64.Vec3{v[0], v[1], v[2]}
}

// mixFriction combines per-geom friction coefficients with a geometric
// mean, so that one frictionless surface kills friction entirely.
func mixFriction(f1, f2 float64) float64 {
	return math.Sqrt(f1 * f2)
}

// mixRestitution combines restitution by taking the bouncier surface.
func mixRestitution(r1, r2 float64) float64 {
	return math.Max(r1, r2)
}
