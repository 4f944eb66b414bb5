package rigid

// integratePositions advances Qpos from the post-solve Qvel over h
// seconds, semi-implicitly: velocities were updated first, positions
// follow from the new velocities. Quaternion coordinates integrate by
// the exponential map of their world-frame angular velocity and are
// re-normalized every step. Joint-limited coordinates are never clamped
// here; limit handling is entirely the constraint solver's bias
// correction.
func integratePositions(m *Model, s *State, h float64) {
	for ji := range m.Joints {
		jnt := &m.Joints[ji]
		q := s.Qpos[jnt.QposAdr:]
		v := s.Qvel[jnt.DofAdr:]
		switch jnt.Type {
		case JointFree:
			q[0] += h * v[0]
			q[1] += h * v[1]
			q[2] += h * v[2]
			integrateQuatInPlace(q[3:7], v[3:6], h)
		case JointBall:
			integrateBallQuat(s, jnt, q[0:4], v[0:3], h)
		case JointHinge, JointSlide:
			q[0] += h * v[0]
		}
	}
}

// integrateBallQuat advances a ball joint's local quaternion from its
// world-frame angular velocity. The stored coordinate is joint-local
// while Qvel and the dof axes are world-frame, so the world increment is
// conjugated through the body's current orientation: with world pose
// Q = base*jq, the update jq' = jq * Q^-1 * exp(omega h) * Q yields
// base*jq' = exp(omega h) * Q, a rotation about the world axes the
// Jacobians assume. Uses the body orientation from the step-start
// forward kinematics pass, consistent with the axes the solver used.
func integrateBallQuat(s *State, jnt *Joint, q []float64, omega []float64, h float64) {
	jq := quatFromSlice(q).Normalize()
	world := s.xquat[jnt.Body]
	next := jq.Mul(world.Inverse()).Mul(quatIntegrate(world, vec3FromSlice(omega), h)).Normalize()
	q[0] = next.W
	q[1] = next.V[0]
	q[2] = next.V[1]
	q[3] = next.V[2]
}

// integrateQuatInPlace rotates the quaternion stored as (w,x,y,z) by the
// world-frame angular velocity omega over h and re-normalizes.
func integrateQuatInPlace(q []float64, omega []float64, h float64) {
	quat := quatFromSlice(q)
	w := vec3FromSlice(omega)
	quat = quatIntegrate(quat, w, h)
	q[0] = quat.W
	q[1] = quat.V[0]
	q[2] = quat.V[1]
	q[3] = quat.V[2]
}
