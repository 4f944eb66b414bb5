package rigid

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// JointType enumerates the supported joint kinds.
type JointType int

const (
	// JointFree gives a body 6 degrees of freedom. Its qpos stores the
	// world position (3) and world orientation quaternion (w,x,y,z).
	// Free joints are only allowed on bodies whose parent is the world.
	JointFree JointType = iota
	// JointBall is a 3-dof rotation about a local anchor point. qpos is a
	// unit quaternion; qvel is the world-frame angular velocity.
	JointBall
	// JointHinge is a 1-dof rotation about a local axis through a local
	// anchor point.
	JointHinge
	// JointSlide is a 1-dof translation along a local axis.
	JointSlide
)

func (t JointType) String() string {
	switch t {
	case JointFree:
		return "free"
	case JointBall:
		return "ball"
	case JointHinge:
		return "hinge"
	case JointSlide:
		return "slide"
	}
	return "unknown"
}

// nq and nv per joint type.
func (t JointType) numPos() int {
	switch t {
	case JointFree:
		return 7
	case JointBall:
		return 4
	default:
		return 1
	}
}

func (t JointType) numVel() int {
	switch t {
	case JointFree:
		return 6
	case JointBall:
		return 3
	default:
		return 1
	}
}

// EqualityType enumerates equality constraint kinds.
type EqualityType int

const (
	// EqConnect pins a point of one body to a point of another body
	// (or to the world), producing three constraint rows.
	EqConnect EqualityType = iota
	// EqJoint couples two scalar joints linearly: q1 = Coef*q2 + Offset,
	// producing one constraint row.
	EqJoint
)

// WorldBody is the parent index of bodies attached directly to the world.
const WorldBody = -1

///////////////////////////////////////////////////////////////////////////////
// Builder definitions
///////////////////////////////////////////////////////////////////////////////

// BodyDef describes one rigid body. The body frame is the inertial frame:
// its origin is the center of mass and Inertia is the diagonal rotational
// inertia in that frame. Pos/Quat place the frame relative to the parent
// body frame (or the world for roots). A body with zero mass and no joint
// is static.
type BodyDef struct {
	Name    string
	Parent  int
	Pos     mgl64.Vec3
	Quat    mgl64.Quat
	Mass    float64
	Inertia mgl64.Vec3
}

// MakeBodyDef returns a static world-attached body definition.
func MakeBodyDef() BodyDef {
	return BodyDef{Parent: WorldBody, Quat: mgl64.QuatIdent()}
}

// JointDef attaches one joint to a body, between the body and its parent.
// Axis and Anchor are in the body's local frame. At most one joint per
// body is allowed.
type JointDef struct {
	Body    int
	Type    JointType
	Axis    mgl64.Vec3
	Anchor  mgl64.Vec3
	Limited bool
	Lower   float64
	Upper   float64
	Damping float64
}

func MakeJointDef(body int, typ JointType) JointDef {
	return JointDef{Body: body, Type: typ, Axis: mgl64.Vec3{0, 0, 1}}
}

// GeomDef attaches a collision geometry to a body. Category/Mask follow
// the usual bitmask filter: two geoms may collide when each one's Mask
// covers the other's Category.
type GeomDef struct {
	Body        int
	Shape       Shape
	Pos         mgl64.Vec3
	Quat        mgl64.Quat
	Friction    float64
	Restitution float64
	Category    uint16
	Mask        uint16
}

func MakeGeomDef(body int, shape Shape) GeomDef {
	return GeomDef{
		Body:     body,
		Shape:    shape,
		Quat:     mgl64.QuatIdent(),
		Friction: 1.0,
		Category: 1,
		Mask:     0xFFFF,
	}
}

// EqualityDef declares one equality constraint.
type EqualityDef struct {
	Type EqualityType

	// EqConnect: Body1, Body2 (WorldBody allowed for Body2), Anchor in
	// Body1's local frame. With a real Body2 the same local offset names
	// the pin point in Body2's frame; with WorldBody the pin is fixed at
	// the anchor's world location in the model's rest pose.
	Body1  int
	Body2  int
	Anchor mgl64.Vec3

	// EqJoint: scalar joint indices and the linear relation
	// q[Joint1] = Coef*q[Joint2] + Offset.
	Joint1 int
	Joint2 int
	Coef   float64
	Offset float64
}

// ModelDef is the builder: populate it and call Compile.
type ModelDef struct {
	Gravity    mgl64.Vec3
	Bodies     []BodyDef
	Joints     []JointDef
	Geoms      []GeomDef
	Equalities []EqualityDef

	// Excludes lists geom pairs that must never collide, in addition to
	// the implicit same-body and parent-child exclusions.
	Excludes [][2]int
}

func MakeModelDef() ModelDef {
	return ModelDef{Gravity: mgl64.Vec3{0, 0, -9.81}}
}

func (def *ModelDef) AddBody(b BodyDef) int {
	def.Bodies = append(def.Bodies, b)
	return len(def.Bodies) - 1
}

func (def *ModelDef) AddJoint(j JointDef) int {
	def.Joints = append(def.Joints, j)
	return len(def.Joints) - 1
}

func (def *ModelDef) AddGeom(g GeomDef) int {
	def.Geoms = append(def.Geoms, g)
	return len(def.Geoms) - 1
}

func (def *ModelDef) AddEquality(e EqualityDef) int {
	def.Equalities = append(def.Equalities, e)
	return len(def.Equalities) - 1
}

///////////////////////////////////////////////////////////////////////////////
// Compiled model
///////////////////////////////////////////////////////////////////////////////

// Body is a compiled rigid body.
type Body struct {
	Name    string
	Parent  int
	Pos     mgl64.Vec3
	Quat    mgl64.Quat
	Mass    float64
	InvMass float64
	Inertia mgl64.Vec3
	Joint   int // joint index, -1 if welded to parent
	Geoms   []int
}

// Joint is a compiled joint.
type Joint struct {
	Body    int
	Type    JointType
	Axis    mgl64.Vec3
	Anchor  mgl64.Vec3
	QposAdr int
	DofAdr  int
	Limited bool
	Lower   float64
	Upper   float64
	Damping float64
}

// Geom is a compiled collision geometry.
type Geom struct {
	Body        int
	Shape       Shape
	Pos         mgl64.Vec3
	Quat        mgl64.Quat
	Friction    float64
	Restitution float64
	Category    uint16
	Mask        uint16
}

// Equality is a compiled equality constraint.
type Equality struct {
	Type   EqualityType
	Body1  int
	Body2  int
	Anchor mgl64.Vec3
	Joint1 int
	Joint2 int
	Coef   float64
	Offset float64

	// pin is the fixed world pin point of a world-attached connect,
	// resolved from the rest pose at compile time.
	pin mgl64.Vec3
}

// Model is the immutable compiled scene topology. One Model is shared
// read-only by every instance and every worker; nothing in this package
// mutates it after Compile returns.
type Model struct {
	Gravity    mgl64.Vec3
	Bodies     []Body
	Joints     []Joint
	Geoms      []Geom
	Equalities []Equality

	NQ int // length of the generalized position vector
	NV int // length of the generalized velocity vector

	// order is the root-to-leaf body traversal, fixed at compile time.
	order []int
	// bodyDofs[i] lists the dof indices that move body i (its own joint's
	// dofs plus every ancestor's), ascending.
	bodyDofs [][]int
	// dofDamping[d] is the joint damping applied to dof d.
	dofDamping []float64
	// exclude holds packed geom pairs that never collide.
	exclude map[uint32]struct{}
}

var (
	errBodyCycle = errors.New("rigid: body tree contains a cycle")
	errBadRef    = errors.New("rigid: dangling reference")
)

func pairKey(g1, g2 int) uint32 {
	if g1 > g2 {
		g1, g2 = g2, g1
	}
	return uint32(g1)<<16 | uint32(g2)
}

// Compile validates the definition and produces an immutable Model.
// Malformed topology (cycles, dangling references, non-positive mass on a
// jointed body, degenerate shapes) is fatal and reported here, before any
// step runs.
func (def *ModelDef) Compile() (*Model, error) {
	nb := len(def.Bodies)
	m := &Model{
		Gravity:    def.Gravity,
		Bodies:     make([]Body, nb),
		Joints:     make([]Joint, len(def.Joints)),
		Geoms:      make([]Geom, len(def.Geoms)),
		Equalities: make([]Equality, len(def.Equalities)),
		exclude:    make(map[uint32]struct{}),
	}

	for i, bd := range def.Bodies {
		if bd.Parent != WorldBody && (bd.Parent < 0 || bd.Parent >= nb) {
			return nil, fmt.Errorf("body %d: parent %d: %w", i, bd.Parent, errBadRef)
		}
		if bd.Parent == i {
			return nil, fmt.Errorf("body %d is its own parent: %w", i, errBodyCycle)
		}
		if bd.Mass < 0 || !isValid(bd.Mass) {
			return nil, fmt.Errorf("body %d: invalid mass %v", i, bd.Mass)
		}
		quat := bd.Quat
		if quat.Len() < 1e-12 {
			quat = mgl64.QuatIdent()
		}
		invMass := 0.0
		if bd.Mass > 0 {
			invMass = 1.0 / bd.Mass
		}
		m.Bodies[i] = Body{
			Name:    bd.Name,
			Parent:  bd.Parent,
			Pos:     bd.Pos,
			Quat:    quat.Normalize(),
			Mass:    bd.Mass,
			InvMass: invMass,
			Inertia: bd.Inertia,
			Joint:   -1,
		}
	}

	// Cycle detection: walk each body's ancestry with a step budget.
	for i := 0; i < nb; i++ {
		p := m.Bodies[i].Parent
		for steps := 0; p != WorldBody; steps++ {
			if steps > nb {
				return nil, fmt.Errorf("body %d: %w", i, errBodyCycle)
			}
			p = m.Bodies[p].Parent
		}
	}

	// Root-to-leaf traversal order: repeatedly emit bodies whose parent
	// has been emitted. This is deterministic (ascending index within a
	// generation) and reused every step.
	emitted := make([]bool, nb)
	for len(m.order) < nb {
		progress := false
		for i := 0; i < nb; i++ {
			if emitted[i] {
				continue
			}
			p := m.Bodies[i].Parent
			if p == WorldBody || emitted[p] {
				m.order = append(m.order, i)
				emitted[i] = true
				progress = true
			}
		}
		if !progress {
			return nil, errBodyCycle
		}
	}

	// Joints: dof layout in joint order.
	for j, jd := range def.Joints {
		if jd.Body < 0 || jd.Body >= nb {
			return nil, fmt.Errorf("joint %d: body %d: %w", j, jd.Body, errBadRef)
		}
		body := &m.Bodies[jd.Body]
		if body.Joint >= 0 {
			return nil, fmt.Errorf("joint %d: body %d already has joint %d", j, jd.Body, body.Joint)
		}
		if jd.Type == JointFree && body.Parent != WorldBody {
			return nil, fmt.Errorf("joint %d: free joint on non-root body %d", j, jd.Body)
		}
		if body.Mass <= 0 {
			return nil, fmt.Errorf("joint %d: jointed body %d must have positive mass", j, jd.Body)
		}
		if body.Inertia[0] <= 0 || body.Inertia[1] <= 0 || body.Inertia[2] <= 0 {
			if jd.Type != JointSlide {
				return nil, fmt.Errorf("joint %d: rotating body %d needs positive inertia", j, jd.Body)
			}
		}
		axis := jd.Axis
		if (jd.Type == JointHinge || jd.Type == JointSlide) && axis.Len() < 1e-12 {
			return nil, fmt.Errorf("joint %d: degenerate axis", j)
		}
		if axis.Len() > 0 {
			axis = axis.Normalize()
		}
		if jd.Limited && jd.Lower > jd.Upper {
			return nil, fmt.Errorf("joint %d: limit range [%v, %v] inverted", j, jd.Lower, jd.Upper)
		}
		m.Joints[j] = Joint{
			Body:    jd.Body,
			Type:    jd.Type,
			Axis:    axis,
			Anchor:  jd.Anchor,
			QposAdr: m.NQ,
			DofAdr:  m.NV,
			Limited: jd.Limited,
			Lower:   jd.Lower,
			Upper:   jd.Upper,
			Damping: jd.Damping,
		}
		body.Joint = j
		m.NQ += jd.Type.numPos()
		m.NV += jd.Type.numVel()
	}

	m.dofDamping = make([]float64, m.NV)
	for _, jnt := range m.Joints {
		for k := 0; k < jnt.Type.numVel(); k++ {
			m.dofDamping[jnt.DofAdr+k] = jnt.Damping
		}
	}

	// Per-body dof ancestry (ascending since dof addresses grow with
	// joint order and ancestors are visited first in m.order; sort is
	// still enforced by construction below).
	m.bodyDofs = make([][]int, nb)
	for _, i := range m.order {
		var dofs []int
		if p := m.Bodies[i].Parent; p != WorldBody {
			dofs = append(dofs, m.bodyDofs[p]...)
		}
		if j := m.Bodies[i].Joint; j >= 0 {
			jnt := m.Joints[j]
			for k := 0; k < jnt.Type.numVel(); k++ {
				dofs = append(dofs, jnt.DofAdr+k)
			}
		}
		m.bodyDofs[i] = dofs
	}

	// Geoms.
	for g, gd := range def.Geoms {
		if gd.Body < 0 || gd.Body >= nb {
			return nil, fmt.Errorf("geom %d: body %d: %w", g, gd.Body, errBadRef)
		}
		if err := validateShape(&gd.Shape); err != nil {
			return nil, fmt.Errorf("geom %d: %w", g, err)
		}
		quat := gd.Quat
		if quat.Len() < 1e-12 {
			quat = mgl64.QuatIdent()
		}
		m.Geoms[g] = Geom{
			Body:        gd.Body,
			Shape:       gd.Shape,
			Pos:         gd.Pos,
			Quat:        quat.Normalize(),
			Friction:    gd.Friction,
			Restitution: gd.Restitution,
			Category:    gd.Category,
			Mask:        gd.Mask,
		}
		m.Bodies[gd.Body].Geoms = append(m.Bodies[gd.Body].Geoms, g)
	}

	// Static pair exclusion: same body, parent-child bodies, explicit.
	ng := len(m.Geoms)
	for g1 := 0; g1 < ng; g1++ {
		for g2 := g1 + 1; g2 < ng; g2++ {
			b1, b2 := m.Geoms[g1].Body, m.Geoms[g2].Body
			if b1 == b2 ||
				m.Bodies[b1].Parent == b2 || m.Bodies[b2].Parent == b1 {
				m.exclude[pairKey(g1, g2)] = struct{}{}
			}
		}
	}
	for _, ex := range def.Excludes {
		if ex[0] < 0 || ex[0] >= ng || ex[1] < 0 || ex[1] >= ng {
			return nil, fmt.Errorf("exclude %v: %w", ex, errBadRef)
		}
		m.exclude[pairKey(ex[0], ex[1])] = struct{}{}
	}

	// Equality constraints.
	for e, ed := range def.Equalities {
		switch ed.Type {
		case EqConnect:
			if ed.Body1 < 0 || ed.Body1 >= nb {
				return nil, fmt.Errorf("equality %d: body1 %d: %w", e, ed.Body1, errBadRef)
			}
			if ed.Body2 != WorldBody && (ed.Body2 < 0 || ed.Body2 >= nb) {
				return nil, fmt.Errorf("equality %d: body2 %d: %w", e, ed.Body2, errBadRef)
			}
		case EqJoint:
			nj := len(m.Joints)
			if ed.Joint1 < 0 || ed.Joint1 >= nj || ed.Joint2 < 0 || ed.Joint2 >= nj {
				return nil, fmt.Errorf("equality %d: joint refs (%d, %d): %w", e, ed.Joint1, ed.Joint2, errBadRef)
			}
			t1, t2 := m.Joints[ed.Joint1].Type, m.Joints[ed.Joint2].Type
			if t1.numVel() != 1 || t2.numVel() != 1 {
				return nil, fmt.Errorf("equality %d: joint coupling needs scalar joints", e)
			}
		default:
			return nil, fmt.Errorf("equality %d: unknown type %d", e, ed.Type)
		}
		eq := Equality{
			Type:   ed.Type,
			Body1:  ed.Body1,
			Body2:  ed.Body2,
			Anchor: ed.Anchor,
			Joint1: ed.Joint1,
			Joint2: ed.Joint2,
			Coef:   ed.Coef,
			Offset: ed.Offset,
		}
		if ed.Type == EqConnect && ed.Body2 == WorldBody {
			pos, quat := m.restPose(ed.Body1)
			eq.pin = pos.Add(quat.Rotate(ed.Anchor))
		}
		m.Equalities[e] = eq
	}

	return m, nil
}

func validateShape(s *Shape) error {
	switch s.Type {
	case ShapePlane:
		return nil
	case ShapeSphere:
		if s.Radius <= 0 {
			return fmt.Errorf("sphere with non-positive radius %v", s.Radius)
		}
	case ShapeCapsule, ShapeCylinder:
		if s.Radius <= 0 || s.HalfLength < 0 {
			return fmt.Errorf("%v with degenerate size (r=%v, h=%v)", s.Type, s.Radius, s.HalfLength)
		}
	case ShapeBox:
		if s.HalfExtents[0] <= 0 || s.HalfExtents[1] <= 0 || s.HalfExtents[2] <= 0 {
			return fmt.Errorf("box with non-positive extent %v", s.HalfExtents)
		}
	case ShapeConvex:
		if len(s.Verts) < 4 {
			return fmt.Errorf("convex hull needs at least 4 vertices, got %d", len(s.Verts))
		}
	case ShapeHField:
		if s.HField == nil || !s.HField.valid() {
			return errors.New("invalid heightfield grid")
		}
	default:
		return fmt.Errorf("unknown shape type %d", s.Type)
	}
	return nil
}

// restPose returns the world pose of a body in the rest configuration,
// chaining the compile-time frame offsets up to the world.
func (m *Model) restPose(i int) (mgl64.Vec3, mgl64.Quat) {
	if i == WorldBody {
		return mgl64.Vec3{}, mgl64.QuatIdent()
	}
	b := &m.Bodies[i]
	pp, pq := m.restPose(b.Parent)
	return pp.Add(pq.Rotate(b.Pos)), pq.Mul(b.Quat)
}

// DefaultQpos returns the generalized position of the model's rest
// configuration: zeros for scalar joints, identity quaternions for ball
// joints, and the compile-time world pose for free joints.
func (m *Model) DefaultQpos() []float64 {
	qpos := make([]float64, m.NQ)
	for _, jnt := range m.Joints {
		switch jnt.Type {
		case JointFree:
			// World pose of the body chain above the free joint is just
			// the body's own offset (free joints are root-only).
			b := m.Bodies[jnt.Body]
			qpos[jnt.QposAdr+0] = b.Pos[0]
			qpos[jnt.QposAdr+1] = b.Pos[1]
			qpos[jnt.QposAdr+2] = b.Pos[2]
			qpos[jnt.QposAdr+3] = b.Quat.W
			qpos[jnt.QposAdr+4] = b.Quat.V[0]
			qpos[jnt.QposAdr+5] = b.Quat.V[1]
			qpos[jnt.QposAdr+6] = b.Quat.V[2]
		case JointBall:
			qpos[jnt.QposAdr] = 1 // identity quaternion (w,x,y,z)
		}
	}
	return qpos
}

// collisionAllowed applies the static exclusion set and the bitmask
// filter.
func (m *Model) collisionAllowed(g1, g2 int) bool {
	if _, ok := m.exclude[pairKey(g1, g2)]; ok {
		return false
	}
	a, b := &m.Geoms[g1], &m.Geoms[g2]
	return a.Mask&b.Category != 0 && b.Mask&a.Category != 0
}

// worldInertia returns the world-frame rotational inertia of body i given
// its world rotation matrix.
func worldInertia(b *Body, mat mgl64.Mat3) mgl64.Mat3 {
	d := mgl64.Diag3(b.Inertia)
	return mat.Mul3(d).Mul3(mat.Transpose())
}

