package rigid

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func dynamicBody(pos mgl64.Vec3) BodyDef {
	bd := MakeBodyDef()
	bd.Pos = pos
	bd.Mass = 1
	bd.Inertia = mgl64.Vec3{0.1, 0.1, 0.1}
	return bd
}

func TestCompileRejectsBadTopology(t *testing.T) {
	cases := []struct {
		name  string
		build func(def *ModelDef)
	}{
		{"dangling parent", func(def *ModelDef) {
			bd := dynamicBody(mgl64.Vec3{})
			bd.Parent = 7
			def.AddBody(bd)
		}},
		{"self parent", func(def *ModelDef) {
			bd := dynamicBody(mgl64.Vec3{})
			bd.Parent = 0
			def.AddBody(bd)
		}},
		{"parent cycle", func(def *ModelDef) {
			a := dynamicBody(mgl64.Vec3{})
			a.Parent = 1
			b := dynamicBody(mgl64.Vec3{})
			b.Parent = 0
			def.AddBody(a)
			def.AddBody(b)
		}},
		{"negative mass", func(def *ModelDef) {
			bd := MakeBodyDef()
			bd.Mass = -1
			def.AddBody(bd)
		}},
		{"massless jointed body", func(def *ModelDef) {
			b := def.AddBody(MakeBodyDef())
			def.AddJoint(MakeJointDef(b, JointHinge))
		}},
		{"two joints on one body", func(def *ModelDef) {
			b := def.AddBody(dynamicBody(mgl64.Vec3{}))
			def.AddJoint(MakeJointDef(b, JointHinge))
			def.AddJoint(MakeJointDef(b, JointSlide))
		}},
		{"free joint below root", func(def *ModelDef) {
			p := def.AddBody(dynamicBody(mgl64.Vec3{}))
			def.AddJoint(MakeJointDef(p, JointFree))
			bd := dynamicBody(mgl64.Vec3{0, 0, 1})
			bd.Parent = p
			c := def.AddBody(bd)
			def.AddJoint(MakeJointDef(c, JointFree))
		}},
		{"degenerate hinge axis", func(def *ModelDef) {
			b := def.AddBody(dynamicBody(mgl64.Vec3{}))
			jd := MakeJointDef(b, JointHinge)
			jd.Axis = mgl64.Vec3{}
			def.AddJoint(jd)
		}},
		{"inverted limits", func(def *ModelDef) {
			b := def.AddBody(dynamicBody(mgl64.Vec3{}))
			jd := MakeJointDef(b, JointHinge)
			jd.Limited = true
			jd.Lower = 1
			jd.Upper = -1
			def.AddJoint(jd)
		}},
		{"zero radius sphere", func(def *ModelDef) {
			b := def.AddBody(MakeBodyDef())
			def.AddGeom(MakeGeomDef(b, MakeSphere(0)))
		}},
		{"geom on missing body", func(def *ModelDef) {
			def.AddBody(MakeBodyDef())
			def.AddGeom(MakeGeomDef(3, MakeSphere(1)))
		}},
		{"exclude out of range", func(def *ModelDef) {
			b := def.AddBody(MakeBodyDef())
			def.AddGeom(MakeGeomDef(b, MakeSphere(1)))
			def.Excludes = append(def.Excludes, [2]int{0, 5})
		}},
		{"joint coupling on ball joint", func(def *ModelDef) {
			b1 := def.AddBody(dynamicBody(mgl64.Vec3{}))
			def.AddJoint(MakeJointDef(b1, JointBall))
			b2 := def.AddBody(dynamicBody(mgl64.Vec3{1, 0, 0}))
			def.AddJoint(MakeJointDef(b2, JointHinge))
			def.AddEquality(EqualityDef{Type: EqJoint, Joint1: 0, Joint2: 1, Coef: 1})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := MakeModelDef()
			tc.build(&def)
			if _, err := def.Compile(); err == nil {
				t.Fatal("compile accepted malformed topology")
			}
		})
	}
}

func TestCompileDofLayout(t *testing.T) {
	def := MakeModelDef()
	b1 := def.AddBody(dynamicBody(mgl64.Vec3{0, 0, 1}))
	def.AddJoint(MakeJointDef(b1, JointFree))

	bd := dynamicBody(mgl64.Vec3{0, 0, -0.5})
	bd.Parent = b1
	b2 := def.AddBody(bd)
	jd := MakeJointDef(b2, JointHinge)
	jd.Axis = mgl64.Vec3{0, 1, 0}
	def.AddJoint(jd)

	bd = dynamicBody(mgl64.Vec3{0, 0, -0.5})
	bd.Parent = b2
	b3 := def.AddBody(bd)
	def.AddJoint(MakeJointDef(b3, JointBall))

	m, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if m.NQ != 7+1+4 || m.NV != 6+1+3 {
		t.Fatalf("NQ=%d NV=%d, want 12 and 10", m.NQ, m.NV)
	}
	if m.Joints[1].QposAdr != 7 || m.Joints[1].DofAdr != 6 {
		t.Errorf("hinge addresses (%d, %d), want (7, 6)", m.Joints[1].QposAdr, m.Joints[1].DofAdr)
	}
	if m.Joints[2].QposAdr != 8 || m.Joints[2].DofAdr != 7 {
		t.Errorf("ball addresses (%d, %d), want (8, 7)", m.Joints[2].QposAdr, m.Joints[2].DofAdr)
	}

	// Leaf body moves with every ancestor dof, ascending.
	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if len(m.bodyDofs[b3]) != len(want) {
		t.Fatalf("leaf dofs = %v, want %v", m.bodyDofs[b3], want)
	}
	for i, d := range m.bodyDofs[b3] {
		if d != want[i] {
			t.Fatalf("leaf dofs = %v, want %v", m.bodyDofs[b3], want)
		}
	}
}

func TestDefaultQpos(t *testing.T) {
	def := MakeModelDef()
	bd := dynamicBody(mgl64.Vec3{1, 2, 3})
	bd.Quat = mgl64.QuatRotate(0.5, mgl64.Vec3{0, 0, 1})
	b1 := def.AddBody(bd)
	def.AddJoint(MakeJointDef(b1, JointFree))

	cd := dynamicBody(mgl64.Vec3{0, 0, -1})
	cd.Parent = b1
	b2 := def.AddBody(cd)
	def.AddJoint(MakeJointDef(b2, JointBall))

	m, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	qpos := m.DefaultQpos()
	if qpos[0] != 1 || qpos[1] != 2 || qpos[2] != 3 {
		t.Errorf("free position = %v", qpos[:3])
	}
	q := quatFromSlice(qpos[3:7])
	want := mgl64.QuatRotate(0.5, mgl64.Vec3{0, 0, 1})
	if math.Abs(q.W-want.W) > 1e-12 || q.V.Sub(want.V).Len() > 1e-12 {
		t.Errorf("free quat = %v, want %v", q, want)
	}
	if qpos[7] != 1 || qpos[8] != 0 || qpos[9] != 0 || qpos[10] != 0 {
		t.Errorf("ball quat = %v, want identity", qpos[7:11])
	}
}

func TestCompileAutoExclusions(t *testing.T) {
	def := MakeModelDef()
	parent := def.AddBody(dynamicBody(mgl64.Vec3{}))
	def.AddJoint(MakeJointDef(parent, JointFree))
	def.AddGeom(MakeGeomDef(parent, MakeSphere(1)))

	bd := dynamicBody(mgl64.Vec3{0.5, 0, 0})
	bd.Parent = parent
	child := def.AddBody(bd)
	def.AddJoint(MakeJointDef(child, JointHinge))
	def.AddGeom(MakeGeomDef(child, MakeSphere(1)))

	m, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if m.collisionAllowed(0, 1) {
		t.Error("parent-child geom pair not excluded")
	}
}

func TestRestPoseChainsFrames(t *testing.T) {
	def := MakeModelDef()
	bd := dynamicBody(mgl64.Vec3{1, 0, 0})
	bd.Quat = mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})
	b1 := def.AddBody(bd)
	def.AddJoint(MakeJointDef(b1, JointFree))

	cd := dynamicBody(mgl64.Vec3{1, 0, 0})
	cd.Parent = b1
	b2 := def.AddBody(cd)
	def.AddJoint(MakeJointDef(b2, JointHinge))

	m, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	pos, _ := m.restPose(b2)
	// Parent rotates the child offset (1,0,0) onto (0,1,0).
	if pos.Sub(mgl64.Vec3{1, 1, 0}).Len() > 1e-12 {
		t.Errorf("child rest position = %v, want (1, 1, 0)", pos)
	}
}
