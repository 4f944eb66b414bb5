package rigid

import (
	"github.com/go-gl/mathgl/mgl64"
)

// forwardKinematics computes world body and geom poses from Qpos, walking
// the precomputed root-to-leaf order, and refreshes the per-dof world
// motion axes used by the mass matrix and every constraint Jacobian.
//
// Per-dof axis convention: the velocity a dof contributes to a world point
// x on any body below it is
//
//	qvel[d] * (dofLin[d] + dofAng[d] x (x - dofAnchor[d]))
func forwardKinematics(m *Model, s *State) {
	for _, i := range m.order {
		b := &m.Bodies[i]

		// Pose of the body frame before its own joint acts.
		var basePos mgl64.Vec3
		baseQuat := mgl64.QuatIdent()
		if b.Parent != WorldBody {
			basePos = s.xpos[b.Parent].Add(s.xquat[b.Parent].Rotate(b.Pos))
			baseQuat = s.xquat[b.Parent].Mul(b.Quat)
		} else {
			basePos = b.Pos
			baseQuat = b.Quat
		}

		pos, quat := basePos, baseQuat
		if b.Joint >= 0 {
			jnt := &m.Joints[b.Joint]
			q := s.Qpos[jnt.QposAdr:]
			switch jnt.Type {
			case JointFree:
				pos = mgl64.Vec3{q[0], q[1], q[2]}
				quat = mgl64.Quat{W: q[3], V: mgl64.Vec3{q[4], q[5], q[6]}}.Normalize()
			case JointBall:
				jq := mgl64.Quat{W: q[0], V: mgl64.Vec3{q[1], q[2], q[3]}}.Normalize()
				quat = baseQuat.Mul(jq)
				// Rotation about the world anchor keeps it fixed.
				anchorW := basePos.Add(baseQuat.Rotate(jnt.Anchor))
				pos = anchorW.Sub(quat.Rotate(jnt.Anchor))
			case JointHinge:
				jq := mgl64.QuatRotate(q[0], jnt.Axis)
				quat = baseQuat.Mul(jq)
				anchorW := basePos.Add(baseQuat.Rotate(jnt.Anchor))
				pos = anchorW.Sub(quat.Rotate(jnt.Anchor))
			case JointSlide:
				pos = basePos.Add(baseQuat.Rotate(jnt.Axis).Mul(q[0]))
			}
		}

		s.xpos[i] = pos
		s.xquat[i] = quat.Normalize()
		s.xmat[i] = quatMat3(s.xquat[i])

		// Dof axes for this body's joint.
		if b.Joint >= 0 {
			jnt := &m.Joints[b.Joint]
			d := jnt.DofAdr
			switch jnt.Type {
			case JointFree:
				// Three world translations, then three world rotations
				// about the body origin.
				s.dofAng[d+0], s.dofLin[d+0] = mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}
				s.dofAng[d+1], s.dofLin[d+1] = mgl64.Vec3{}, mgl64.Vec3{0, 1, 0}
				s.dofAng[d+2], s.dofLin[d+2] = mgl64.Vec3{}, mgl64.Vec3{0, 0, 1}
				for k := 0; k < 3; k++ {
					var ax mgl64.Vec3
					ax[k] = 1
					s.dofAng[d+3+k] = ax
					s.dofLin[d+3+k] = mgl64.Vec3{}
					s.dofAnchor[d+3+k] = pos
				}
				s.dofAnchor[d+0] = pos
				s.dofAnchor[d+1] = pos
				s.dofAnchor[d+2] = pos
			case JointBall:
				anchorW := pos.Add(quat.Rotate(jnt.Anchor))
				for k := 0; k < 3; k++ {
					var ax mgl64.Vec3
					ax[k] = 1
					// World-frame angular velocity parameterization.
					s.dofAng[d+k] = ax
					s.dofLin[d+k] = mgl64.Vec3{}
					s.dofAnchor[d+k] = anchorW
				}
			case JointHinge:
				s.dofAng[d] = baseQuat.Rotate(jnt.Axis)
				s.dofLin[d] = mgl64.Vec3{}
				s.dofAnchor[d] = basePos.Add(baseQuat.Rotate(jnt.Anchor))
			case JointSlide:
				s.dofAng[d] = mgl64.Vec3{}
				s.dofLin[d] = baseQuat.Rotate(jnt.Axis)
				s.dofAnchor[d] = pos
			}
		}
	}

	// Geom poses.
	for g := range m.Geoms {
		geom := &m.Geoms[g]
		s.gpos[g] = s.xpos[geom.Body].Add(s.xquat[geom.Body].Rotate(geom.Pos))
		s.gmat[g] = quatMat3(s.xquat[geom.Body].Mul(geom.Quat))
	}
}

// comVelocities accumulates each body's world-frame spatial velocity from
// Qvel over the dof ancestry, in ascending dof order.
func comVelocities(m *Model, s *State) {
	for _, i := range m.order {
		var lin, ang mgl64.Vec3
		for _, d := range m.bodyDofs[i] {
			qd := s.Qvel[d]
			ang = ang.Add(s.dofAng[d].Mul(qd))
			lin = lin.Add(s.dofLin[d].Mul(qd))
			lin = lin.Add(s.dofAng[d].Cross(s.xpos[i].Sub(s.dofAnchor[d])).Mul(qd))
		}
		s.bodyVel[i] = lin
		s.bodyAng[i] = ang
	}
}

// dofJacobianAt returns the world-point Jacobian contribution of dof d at
// point x: the linear velocity x gains per unit of qvel[d].
func (s *State) dofJacobianAt(d int, x mgl64.Vec3) mgl64.Vec3 {
	return s.dofLin[d].Add(s.dofAng[d].Cross(x.Sub(s.dofAnchor[d])))
}

// pointVelocity returns the world velocity of a point rigidly attached to
// body i.
func (s *State) pointVelocity(i int, x mgl64.Vec3) mgl64.Vec3 {
	return s.bodyVel[i].Add(s.bodyAng[i].Cross(x.Sub(s.xpos[i])))
}

// UpdateKinematics recomputes world poses from Qpos without stepping.
// Useful for callers that edit Qpos directly and want BodyPos/BodyQuat to
// reflect it.
func (s *State) UpdateKinematics(m *Model) {
	forwardKinematics(m, s)
}
