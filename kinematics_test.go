package rigid

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestForwardKinematicsHinge(t *testing.T) {
	// Body at (1, 0, 0) hinging about world Z through the origin: a 90
	// degree angle carries the body to (0, 1, 0).
	def := MakeModelDef()
	bd := dynamicBody(mgl64.Vec3{1, 0, 0})
	b := def.AddBody(bd)
	jd := MakeJointDef(b, JointHinge)
	jd.Axis = mgl64.Vec3{0, 0, 1}
	jd.Anchor = mgl64.Vec3{-1, 0, 0}
	def.AddJoint(jd)
	m, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	s := MakeState(m)
	s.Qpos[0] = math.Pi / 2
	s.UpdateKinematics(m)

	if s.BodyPos(0).Sub(mgl64.Vec3{0, 1, 0}).Len() > 1e-12 {
		t.Errorf("body at %v, want (0, 1, 0)", s.BodyPos(0))
	}
	// The anchor stays at the pivot.
	anchor := s.BodyPos(0).Add(s.BodyQuat(0).Rotate(mgl64.Vec3{-1, 0, 0}))
	if anchor.Len() > 1e-12 {
		t.Errorf("anchor drifted to %v", anchor)
	}
}

func TestForwardKinematicsSlide(t *testing.T) {
	def := MakeModelDef()
	bd := dynamicBody(mgl64.Vec3{0, 0, 1})
	b := def.AddBody(bd)
	jd := MakeJointDef(b, JointSlide)
	jd.Axis = mgl64.Vec3{1, 0, 0}
	def.AddJoint(jd)
	m, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	s := MakeState(m)
	s.Qpos[0] = 2.5
	s.UpdateKinematics(m)
	if s.BodyPos(0).Sub(mgl64.Vec3{2.5, 0, 1}).Len() > 1e-12 {
		t.Errorf("body at %v, want (2.5, 0, 1)", s.BodyPos(0))
	}
}

func TestForwardKinematicsChain(t *testing.T) {
	// Free root carrying a hinged child: the child pose composes the root
	// pose with the joint rotation about its own anchor.
	def := MakeModelDef()
	root := def.AddBody(dynamicBody(mgl64.Vec3{0, 0, 2}))
	def.AddJoint(MakeJointDef(root, JointFree))

	cd := dynamicBody(mgl64.Vec3{0, 0, -1})
	cd.Parent = root
	child := def.AddBody(cd)
	jd := MakeJointDef(child, JointHinge)
	jd.Axis = mgl64.Vec3{0, 1, 0}
	jd.Anchor = mgl64.Vec3{0, 0, 0.5}
	def.AddJoint(jd)

	m, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	s := MakeState(m)
	s.UpdateKinematics(m)
	if s.BodyPos(child).Sub(mgl64.Vec3{0, 0, 1}).Len() > 1e-12 {
		t.Fatalf("child rest pose %v, want (0, 0, 1)", s.BodyPos(child))
	}

	// Translate the root: the whole chain follows.
	s.Qpos[0], s.Qpos[1] = 3, -1
	s.UpdateKinematics(m)
	if s.BodyPos(child).Sub(mgl64.Vec3{3, -1, 1}).Len() > 1e-12 {
		t.Errorf("child after root move: %v, want (3, -1, 1)", s.BodyPos(child))
	}

	// Swing the child 90 degrees about its anchor at world (3, -1, 1.5).
	hinge := m.Bodies[child].Joint
	s.Qpos[m.Joints[hinge].QposAdr] = math.Pi / 2
	s.UpdateKinematics(m)
	// R_y(90) maps the (0,0,-0.5) anchor-to-body offset onto (-0.5,0,0).
	want := mgl64.Vec3{2.5, -1, 1.5}
	if s.BodyPos(child).Sub(want).Len() > 1e-12 {
		t.Errorf("swung child at %v, want %v", s.BodyPos(child), want)
	}
}

func TestPointVelocityMatchesFiniteDifference(t *testing.T) {
	// The analytic point velocity must agree with a numeric derivative of
	// forward kinematics.
	def := MakeModelDef()
	root := def.AddBody(dynamicBody(mgl64.Vec3{0.3, -0.2, 1}))
	def.AddJoint(MakeJointDef(root, JointFree))

	cd := dynamicBody(mgl64.Vec3{0, 0, -0.8})
	cd.Parent = root
	child := def.AddBody(cd)
	jd := MakeJointDef(child, JointHinge)
	jd.Axis = mgl64.Vec3{0, 1, 0}
	jd.Anchor = mgl64.Vec3{0, 0, 0.4}
	def.AddJoint(jd)

	m, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	s := MakeState(m)
	s.Qvel = []float64{0.4, -0.3, 0.2, 0.7, -0.5, 0.3, 1.1}
	s.Qpos[m.Joints[1].QposAdr] = 0.3
	s.UpdateKinematics(m)
	comVelocities(m, s)

	sample := s.BodyPos(child).Add(mgl64.Vec3{0.1, 0.05, -0.2})
	analytic := s.pointVelocity(child, sample)

	// Advance positions by a small step along Qvel and difference the
	// sample point (rigidly attached to the child).
	local := s.xquat[child].Inverse().Rotate(sample.Sub(s.xpos[child]))
	h := 1e-7
	integratePositions(m, s, h)
	s.UpdateKinematics(m)
	after := s.xpos[child].Add(s.xquat[child].Rotate(local))
	numeric := after.Sub(sample).Mul(1 / h)

	if analytic.Sub(numeric).Len() > 1e-5 {
		t.Errorf("point velocity %v, finite difference %v", analytic, numeric)
	}
}

func TestBallJointVelocityMatchesFiniteDifference(t *testing.T) {
	// Ball joint dofs are world-frame angular velocities, so position
	// integration must rotate the body about the world axes even when
	// the joint's base frame is rotated, both by the compiled body
	// orientation and by a moving parent.
	def := MakeModelDef()
	root := def.AddBody(dynamicBody(mgl64.Vec3{0.3, -0.2, 1}))
	def.AddJoint(MakeJointDef(root, JointFree))

	cd := dynamicBody(mgl64.Vec3{0, 0, -0.8})
	cd.Parent = root
	cd.Quat = mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})
	child := def.AddBody(cd)
	jd := MakeJointDef(child, JointBall)
	jd.Anchor = mgl64.Vec3{0, 0, 0.4}
	def.AddJoint(jd)

	m, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	s := MakeState(m)
	s.Qvel = []float64{0.4, -0.3, 0.2, 0.7, -0.5, 0.3, 1, 0.4, -0.3}
	jq := mgl64.QuatRotate(0.6, mgl64.Vec3{1, 2, -1}.Normalize())
	adr := m.Joints[1].QposAdr
	s.Qpos[adr] = jq.W
	s.Qpos[adr+1] = jq.V[0]
	s.Qpos[adr+2] = jq.V[1]
	s.Qpos[adr+3] = jq.V[2]
	s.UpdateKinematics(m)
	comVelocities(m, s)

	sample := s.BodyPos(child).Add(mgl64.Vec3{0.1, 0.05, -0.2})
	analytic := s.pointVelocity(child, sample)

	local := s.xquat[child].Inverse().Rotate(sample.Sub(s.xpos[child]))
	h := 1e-7
	integratePositions(m, s, h)
	s.UpdateKinematics(m)
	after := s.xpos[child].Add(s.xquat[child].Rotate(local))
	numeric := after.Sub(sample).Mul(1 / h)

	if analytic.Sub(numeric).Len() > 1e-5 {
		t.Errorf("point velocity %v, finite difference %v", analytic, numeric)
	}
}
