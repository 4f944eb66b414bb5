package rigid

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

// staticPairModel compiles two static bodies carrying one geom each and
// returns the contacts of a full broad+narrow pass.
func staticPairModel(t *testing.T, sh1 Shape, pos1 mgl64.Vec3, q1 mgl64.Quat,
	sh2 Shape, pos2 mgl64.Vec3, q2 mgl64.Quat) []Contact {
	t.Helper()
	def := MakeModelDef()

	b1 := MakeBodyDef()
	b1.Pos = pos1
	b1.Quat = q1
	i1 := def.AddBody(b1)
	def.AddGeom(MakeGeomDef(i1, sh1))

	b2 := MakeBodyDef()
	b2.Pos = pos2
	b2.Quat = q2
	i2 := def.AddBody(b2)
	def.AddGeom(MakeGeomDef(i2, sh2))

	m, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	s := MakeState(m)
	s.UpdateKinematics(m)
	cfg := DefaultConfig()
	narrowphase(m, s, broadphase(m, s, &cfg), &cfg)
	return s.Contacts
}

func ident() mgl64.Quat { return mgl64.QuatIdent() }

func TestCollidePlaneSphere(t *testing.T) {
	con := staticPairModel(t,
		MakePlane(), mgl64.Vec3{}, ident(),
		MakeSphere(0.5), mgl64.Vec3{0, 0, 0.4}, ident())
	if len(con) != 1 {
		t.Fatalf("got %d contacts, want 1", len(con))
	}
	c := con[0]
	if math.Abs(c.Depth-0.1) > 1e-9 {
		t.Errorf("depth = %v, want 0.1", c.Depth)
	}
	// Geom1 is the plane; the normal points from the sphere toward it.
	if c.Normal.Sub(mgl64.Vec3{0, 0, -1}).Len() > 1e-9 {
		t.Errorf("normal = %v, want (0,0,-1)", c.Normal)
	}
	if math.Abs(c.Pos[2]+0.05) > 1e-9 {
		t.Errorf("contact z = %v, want -0.05 (midway into overlap)", c.Pos[2])
	}
}

func TestCollidePlaneSphereSeparated(t *testing.T) {
	con := staticPairModel(t,
		MakePlane(), mgl64.Vec3{}, ident(),
		MakeSphere(0.5), mgl64.Vec3{0, 0, 2}, ident())
	if len(con) != 0 {
		t.Fatalf("got %d contacts for a separated pair, want 0", len(con))
	}
}

func TestCollidePlaneSphereMargin(t *testing.T) {
	// Separation inside the contact margin: admitted with zero depth.
	con := staticPairModel(t,
		MakePlane(), mgl64.Vec3{}, ident(),
		MakeSphere(0.5), mgl64.Vec3{0, 0, 0.503}, ident())
	if len(con) != 1 {
		t.Fatalf("got %d contacts, want 1 near-contact", len(con))
	}
	if con[0].Depth != 0 {
		t.Errorf("near-contact depth = %v, want 0", con[0].Depth)
	}
}

func TestCollideSphereSphere(t *testing.T) {
	con := staticPairModel(t,
		MakeSphere(0.5), mgl64.Vec3{}, ident(),
		MakeSphere(0.5), mgl64.Vec3{0.9, 0, 0}, ident())
	if len(con) != 1 {
		t.Fatalf("got %d contacts, want 1", len(con))
	}
	c := con[0]
	if math.Abs(c.Depth-0.1) > 1e-9 {
		t.Errorf("depth = %v, want 0.1", c.Depth)
	}
	if c.Normal.Sub(mgl64.Vec3{-1, 0, 0}).Len() > 1e-9 {
		t.Errorf("normal = %v, want (-1,0,0)", c.Normal)
	}
	if c.Pos.Sub(mgl64.Vec3{0.45, 0, 0}).Len() > 1e-9 {
		t.Errorf("pos = %v, want midpoint (0.45,0,0)", c.Pos)
	}
}

func TestCollideOverlappingAABBDisjointShapes(t *testing.T) {
	// Diagonal offset: the boxes of two spheres overlap while the spheres
	// stay apart. Narrow phase must emit nothing.
	con := staticPairModel(t,
		MakeSphere(0.5), mgl64.Vec3{}, ident(),
		MakeSphere(0.5), mgl64.Vec3{0.8, 0.8, 0}, ident())
	if len(con) != 0 {
		t.Fatalf("got %d contacts for disjoint spheres, want 0", len(con))
	}
}

func TestCollidePlaneBoxResting(t *testing.T) {
	con := staticPairModel(t,
		MakePlane(), mgl64.Vec3{}, ident(),
		MakeBox(0.5, 0.5, 0.5), mgl64.Vec3{0, 0, 0.45}, ident())
	if len(con) != 4 {
		t.Fatalf("got %d contacts, want the 4 bottom corners", len(con))
	}
	for i, c := range con {
		if math.Abs(c.Depth-0.05) > 1e-9 {
			t.Errorf("contact %d depth = %v, want 0.05", i, c.Depth)
		}
		if c.Normal.Sub(mgl64.Vec3{0, 0, -1}).Len() > 1e-9 {
			t.Errorf("contact %d normal = %v, want (0,0,-1)", i, c.Normal)
		}
	}
}

func TestCollidePlaneCylinderFlat(t *testing.T) {
	con := staticPairModel(t,
		MakePlane(), mgl64.Vec3{}, ident(),
		MakeCylinder(0.5, 0.3), mgl64.Vec3{0, 0, 0.25}, ident())
	if len(con) != 4 {
		t.Fatalf("got %d contacts, want 4 rim points for a flat cylinder", len(con))
	}
	for i, c := range con {
		if math.Abs(c.Depth-0.05) > 1e-9 {
			t.Errorf("contact %d depth = %v, want 0.05", i, c.Depth)
		}
	}
}

func TestCollideCapsuleCapsule(t *testing.T) {
	// Crossed capsules, one along Z and one along X, centers 0.7 apart in Y.
	qx := mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 1, 0})
	con := staticPairModel(t,
		MakeCapsule(0.4, 1), mgl64.Vec3{}, ident(),
		MakeCapsule(0.4, 1), mgl64.Vec3{0, 0.7, 0}, qx)
	if len(con) != 1 {
		t.Fatalf("got %d contacts, want 1", len(con))
	}
	c := con[0]
	if math.Abs(c.Depth-0.1) > 1e-9 {
		t.Errorf("depth = %v, want 0.1", c.Depth)
	}
	if c.Normal.Sub(mgl64.Vec3{0, -1, 0}).Len() > 1e-9 {
		t.Errorf("normal = %v, want (0,-1,0)", c.Normal)
	}
}

func TestCollideBoxBox(t *testing.T) {
	con := staticPairModel(t,
		MakeBox(0.5, 0.5, 0.5), mgl64.Vec3{}, ident(),
		MakeBox(0.5, 0.5, 0.5), mgl64.Vec3{0.9, 0, 0}, ident())
	if len(con) == 0 {
		t.Fatal("no contacts for overlapping boxes")
	}
	for i, c := range con {
		// Face-face overlap along x: normal must be -x (toward geom 1)
		// and the depth close to the 0.1 overlap.
		if math.Abs(c.Normal[0]+1) > 1e-6 {
			t.Errorf("contact %d normal = %v, want (-1,0,0)", i, c.Normal)
		}
		if c.Depth < 0.05 || c.Depth > 0.15 {
			t.Errorf("contact %d depth = %v, want about 0.1", i, c.Depth)
		}
	}
}

func TestCollideSphereBoxFace(t *testing.T) {
	con := staticPairModel(t,
		MakeSphere(0.5), mgl64.Vec3{0, 0, 0.9}, ident(),
		MakeBox(1, 1, 0.5), mgl64.Vec3{}, ident())
	if len(con) != 1 {
		t.Fatalf("got %d contacts, want 1", len(con))
	}
	c := con[0]
	if math.Abs(c.Depth-0.1) > 1e-9 {
		t.Errorf("depth = %v, want 0.1", c.Depth)
	}
	// Canonical order puts the sphere first; normal points from the box
	// up toward it.
	if c.Normal.Sub(mgl64.Vec3{0, 0, 1}).Len() > 1e-9 {
		t.Errorf("normal = %v, want (0,0,1)", c.Normal)
	}
}

func TestCollideHFieldSphere(t *testing.T) {
	// Flat grid at z=0; sphere dipped into it.
	hf := MakeHField(4, 4, make([]float64, 16), 2, 2, -1)
	con := staticPairModel(t,
		MakeHFieldShape(hf), mgl64.Vec3{}, ident(),
		MakeSphere(0.5), mgl64.Vec3{0.3, -0.2, 0.4}, ident())
	if len(con) == 0 {
		t.Fatal("no contacts for a sphere dipped into flat terrain")
	}
	deepest := 0.0
	for _, c := range con {
		deepest = math.Max(deepest, c.Depth)
		if c.Normal[2] > -0.5 {
			t.Errorf("normal = %v, want pointing down toward the terrain", c.Normal)
		}
	}
	if math.Abs(deepest-0.1) > 0.02 {
		t.Errorf("deepest contact = %v, want about 0.1", deepest)
	}
}

func TestCollideConvexMesh(t *testing.T) {
	// Octahedron dipped into the ground plane, then into a box.
	octa := MakeConvex([]mgl64.Vec3{
		{0.5, 0, 0}, {-0.5, 0, 0},
		{0, 0.5, 0}, {0, -0.5, 0},
		{0, 0, 0.5}, {0, 0, -0.5},
	})

	t.Run("vs plane", func(t *testing.T) {
		con := staticPairModel(t,
			MakePlane(), mgl64.Vec3{}, ident(),
			octa, mgl64.Vec3{0, 0, 0.4}, ident())
		if len(con) != 1 {
			t.Fatalf("got %d contacts, want the bottom apex", len(con))
		}
		if math.Abs(con[0].Depth-0.1) > 1e-9 {
			t.Errorf("depth = %v, want 0.1", con[0].Depth)
		}
	})

	t.Run("vs box", func(t *testing.T) {
		con := staticPairModel(t,
			MakeBox(1, 1, 0.5), mgl64.Vec3{}, ident(),
			octa, mgl64.Vec3{0, 0, 0.9}, ident())
		if len(con) == 0 {
			t.Fatal("no contacts for an octahedron resting on a box")
		}
		c := con[0]
		if c.Depth < 0.05 || c.Depth > 0.15 {
			t.Errorf("depth = %v, want about 0.1", c.Depth)
		}
		// Box is geom 1 (lower type), so the normal points down toward it.
		if c.Normal.Sub(mgl64.Vec3{0, 0, -1}).Len() > 1e-6 {
			t.Errorf("normal = %v, want (0,0,-1)", c.Normal)
		}
	})

	t.Run("separated", func(t *testing.T) {
		con := staticPairModel(t,
			octa, mgl64.Vec3{}, ident(),
			octa, mgl64.Vec3{2, 0, 0}, ident())
		if len(con) != 0 {
			t.Fatalf("got %d contacts for separated hulls", len(con))
		}
	})
}

func TestContactMaterialMixing(t *testing.T) {
	def := MakeModelDef()
	b1 := def.AddBody(MakeBodyDef())
	g1 := MakeGeomDef(b1, MakePlane())
	g1.Friction = 0.25
	g1.Restitution = 0.2
	def.AddGeom(g1)

	bd := MakeBodyDef()
	bd.Pos = mgl64.Vec3{0, 0, 0.4}
	b2 := def.AddBody(bd)
	g2 := MakeGeomDef(b2, MakeSphere(0.5))
	g2.Friction = 1.0
	g2.Restitution = 0.7
	def.AddGeom(g2)

	m, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	s := MakeState(m)
	s.UpdateKinematics(m)
	cfg := DefaultConfig()
	narrowphase(m, s, broadphase(m, s, &cfg), &cfg)
	if len(s.Contacts) != 1 {
		t.Fatalf("got %d contacts, want 1", len(s.Contacts))
	}
	c := s.Contacts[0]
	if math.Abs(c.Friction-0.5) > 1e-12 {
		t.Errorf("friction = %v, want geometric mean 0.5", c.Friction)
	}
	if c.Restitution != 0.7 {
		t.Errorf("restitution = %v, want max 0.7", c.Restitution)
	}
}

func TestClosestSegmentSegment(t *testing.T) {
	p1, p2 := closestSegmentSegment(
		mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{1, 0, 0},
		mgl64.Vec3{0, 1, -2}, mgl64.Vec3{0, 1, 2})
	if p1.Sub(mgl64.Vec3{0, 0, 0}).Len() > 1e-9 || p2.Sub(mgl64.Vec3{0, 1, 0}).Len() > 1e-9 {
		t.Errorf("closest points %v %v, want (0,0,0) (0,1,0)", p1, p2)
	}

	// Parallel segments.
	p1, p2 = closestSegmentSegment(
		mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 0, 0},
		mgl64.Vec3{2, 1, 0}, mgl64.Vec3{3, 1, 0})
	if p1.Sub(mgl64.Vec3{1, 0, 0}).Len() > 1e-9 || p2.Sub(mgl64.Vec3{2, 1, 0}).Len() > 1e-9 {
		t.Errorf("parallel closest points %v %v", p1, p2)
	}
}
