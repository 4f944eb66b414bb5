package rigid

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Wrench is a Cartesian force/torque pair applied at a body's center of
// mass, in world coordinates.
type Wrench struct {
	Force  mgl64.Vec3
	Torque mgl64.Vec3
}

// Contact is one narrow-phase contact, rebuilt from scratch every step.
// Normal points from Geom2 toward Geom1 and Depth is non-negative (near
// contacts inside the margin are admitted with zero depth). The solver
// writes back the impulses it applied, for diagnostics and tests.
type Contact struct {
	Geom1, Geom2 int
	Pos          mgl64.Vec3
	Normal       mgl64.Vec3
	Tangent1     mgl64.Vec3
	Tangent2     mgl64.Vec3
	Depth        float64
	Friction     float64
	Restitution  float64

	NormalImpulse   float64
	TangentImpulse1 float64
	TangentImpulse2 float64
}

// Diagnostics reports per-step solver observability. It never affects the
// stepped state.
type Diagnostics struct {
	// Iterations actually used by the constraint solver.
	Iterations int
	// Residual is the largest impulse change of the final sweep.
	Residual float64
	// Contacts is the number of active contacts this step.
	Contacts int
	// Rows is the number of assembled constraint rows.
	Rows int
	// Recovered is set when a non-finite value was scrubbed from the
	// state (the pre-step state is restored) or a batch worker recovered
	// a panic for this instance.
	Recovered bool
}

// State is the mutable per-instance simulation state. Exactly one
// instance owns a State; a State is never shared across instances or
// concurrent Step calls. The scratch buffers below the public fields are
// reused across steps of the same instance but carry no information from
// one step to the next.
type State struct {
	// Qpos is the generalized position vector (length Model.NQ).
	Qpos []float64
	// Qvel is the generalized velocity vector (length Model.NV).
	Qvel []float64
	// QfrcApplied is the external generalized force buffer, added to the
	// smooth force balance each step and left untouched.
	QfrcApplied []float64
	// BodyWrench is an optional per-body external Cartesian wrench.
	BodyWrench []Wrench

	// Contacts holds this step's active contacts, valid until the next
	// Step call on this State.
	Contacts []Contact

	// World kinematics, recomputed every step.
	xpos  []mgl64.Vec3
	xquat []mgl64.Quat
	xmat  []mgl64.Mat3
	gpos  []mgl64.Vec3
	gmat  []mgl64.Mat3

	// Per-body spatial velocity (world frame, at the body origin).
	bodyVel []mgl64.Vec3
	bodyAng []mgl64.Vec3

	// Per-dof world motion axes.
	dofAng    []mgl64.Vec3
	dofLin    []mgl64.Vec3
	dofAnchor []mgl64.Vec3

	// Dense joint-space mass matrix and its Cholesky factor.
	massMat []float64
	cholFac []float64

	// Force/acceleration scratch.
	qfrcSmooth []float64
	qaccSmooth []float64

	// Step-rollback copies for the finite-state guarantee.
	qposPrev []float64
	qvelPrev []float64

	// Collision scratch.
	aabbs  []AABB
	pairs  []geomPair
	sorted []int
	rows   []constraintRow
}

// geomPair is one broad-phase candidate, with Geom1 < Geom2.
type geomPair struct {
	Geom1, Geom2 int
}

// MakeState allocates the per-instance state for a model, at the model's
// rest configuration.
func MakeState(m *Model) *State {
	nb := len(m.Bodies)
	ng := len(m.Geoms)
	s := &State{
		Qpos:        m.DefaultQpos(),
		Qvel:        make([]float64, m.NV),
		QfrcApplied: make([]float64, m.NV),
		BodyWrench:  make([]Wrench, nb),

		xpos:  make([]mgl64.Vec3, nb),
		xquat: make([]mgl64.Quat, nb),
		xmat:  make([]mgl64.Mat3, nb),
		gpos:  make([]mgl64.Vec3, ng),
		gmat:  make([]mgl64.Mat3, ng),

		bodyVel: make([]mgl64.Vec3, nb),
		bodyAng: make([]mgl64.Vec3, nb),

		dofAng:    make([]mgl64.Vec3, m.NV),
		dofLin:    make([]mgl64.Vec3, m.NV),
		dofAnchor: make([]mgl64.Vec3, m.NV),

		massMat: make([]float64, m.NV*m.NV),
		cholFac: make([]float64, m.NV*m.NV),

		qfrcSmooth: make([]float64, m.NV),
		qaccSmooth: make([]float64, m.NV),

		qposPrev: make([]float64, m.NQ),
		qvelPrev: make([]float64, m.NV),

		aabbs:  make([]AABB, ng),
		sorted: make([]int, ng),
	}
	forwardKinematics(m, s)
	return s
}

// Reset returns the state to the model's rest configuration and clears
// velocities and applied forces.
func (s *State) Reset(m *Model) {
	copy(s.Qpos, m.DefaultQpos())
	for i := range s.Qvel {
		s.Qvel[i] = 0
		s.QfrcApplied[i] = 0
	}
	for i := range s.BodyWrench {
		s.BodyWrench[i] = Wrench{}
	}
	s.Contacts = s.Contacts[:0]
	forwardKinematics(m, s)
}

// CopyTo clones the public state of s into dst (same model).
func (s *State) CopyTo(dst *State) {
	copy(dst.Qpos, s.Qpos)
	copy(dst.Qvel, s.Qvel)
	copy(dst.QfrcApplied, s.QfrcApplied)
	copy(dst.BodyWrench, s.BodyWrench)
}

// BodyPos returns the world position of a body frame as of the last Step
// (or compile pose before the first Step).
func (s *State) BodyPos(i int) mgl64.Vec3 { return s.xpos[i] }

// BodyQuat returns the world orientation of a body frame as of the last
// Step.
func (s *State) BodyQuat(i int) mgl64.Quat { return s.xquat[i] }
