package rigid

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// rowKind classifies a constraint row by its multiplier bound.
type rowKind int

const (
	// rowEquality multipliers are unbounded.
	rowEquality rowKind = iota
	// rowLower multipliers are non-negative (joint limits, contact
	// normals).
	rowLower
	// rowFriction multipliers are bounded by mu times the coupled normal
	// row's multiplier. This coupling is resolved inside the solver,
	// never at assembly time.
	rowFriction
)

// constraintRow is one scalar equation of the step's constraint system:
// a dense Jacobian over the generalized velocity, a bias velocity, and
// the multiplier bound. Rows are rebuilt from scratch every step in a
// fixed order (equality, then joint limits in joint order, then per
// contact: normal, tangent1, tangent2 in contact order).
type constraintRow struct {
	jac  []float64
	bias float64
	kind rowKind

	// rowFriction only.
	frictionOf int // index of the coupled normal row
	mu         float64

	// Contact bookkeeping for impulse write-back (-1 otherwise).
	contact     int
	contactAxis int // 0 normal, 1 tangent1, 2 tangent2

	// Solver scratch.
	invMJT []float64
	diag   float64
	lambda float64
}

// getRow hands out a zeroed row backed by the state's reusable arena.
func getRow(m *Model, s *State, n int) *constraintRow {
	if n < len(s.rows) {
		r := &s.rows[n]
		for i := range r.jac {
			r.jac[i] = 0
		}
		r.bias, r.lambda, r.diag = 0, 0, 0
		r.frictionOf, r.contact, r.contactAxis = -1, -1, 0
		r.mu = 0
		return r
	}
	s.rows = append(s.rows, constraintRow{
		jac:        make([]float64, m.NV),
		invMJT:     make([]float64, m.NV),
		frictionOf: -1,
		contact:    -1,
	})
	return &s.rows[n]
}

// addPointJacobian accumulates the Jacobian of a world point attached to
// a body, projected on dir, with the given sign. Dofs are visited
// ascending.
func addPointJacobian(m *Model, s *State, jac []float64, body int, point, dir mgl64.Vec3, scale float64) {
	if body == WorldBody {
		return
	}
	for _, d := range m.bodyDofs[body] {
		jac[d] += scale * dir.Dot(s.dofJacobianAt(d, point))
	}
}

// assembleRows builds the full constraint row set for the step from the
// topology, the current kinematics and the current contacts. Bias terms
// carry Baumgarte stabilization clamped to MaxStabilizeVel, and contact
// normals additionally carry restitution when the approach speed exceeds
// the bounce threshold. Friction row bounds reference the as-yet-unknown
// normal multiplier; only the coupling index and coefficient are fixed
// here.
func assembleRows(m *Model, s *State, h float64, cfg *Config) int {
	n := 0
	maxStab := cfg.MaxStabilizeVel

	stabilize := func(err float64) float64 {
		// err > 0 means violation; produce a bias that drives the
		// constraint velocity to correct it, capped for deep errors.
		return clamp(-cfg.Baumgarte*err/h, -maxStab, maxStab)
	}

	// Equality constraints.
	for ei := range m.Equalities {
		eq := &m.Equalities[ei]
		switch eq.Type {
		case EqConnect:
			p1 := s.xpos[eq.Body1].Add(s.xquat[eq.Body1].Rotate(eq.Anchor))
			p2 := eq.pin
			if eq.Body2 != WorldBody {
				p2 = s.xpos[eq.Body2].Add(s.xquat[eq.Body2].Rotate(eq.Anchor))
			}
			errVec := p1.Sub(p2)
			for k := 0; k < 3; k++ {
				var axis mgl64.Vec3
				axis[k] = 1
				row := getRow(m, s, n)
				n++
				row.kind = rowEquality
				addPointJacobian(m, s, row.jac, eq.Body1, p1, axis, 1)
				if eq.Body2 != WorldBody {
					addPointJacobian(m, s, row.jac, eq.Body2, p2, axis, -1)
				}
				row.bias = -stabilize(errVec[k])
			}
		case EqJoint:
			j1, j2 := &m.Joints[eq.Joint1], &m.Joints[eq.Joint2]
			row := getRow(m, s, n)
			n++
			row.kind = rowEquality
			row.jac[j1.DofAdr] = 1
			row.jac[j2.DofAdr] = -eq.Coef
			err := s.Qpos[j1.QposAdr] - eq.Coef*s.Qpos[j2.QposAdr] - eq.Offset
			row.bias = -stabilize(err)
		}
	}

	// Joint limits, in joint order, lower bound before upper.
	for ji := range m.Joints {
		jnt := &m.Joints[ji]
		if !jnt.Limited || jnt.Type.numVel() != 1 {
			continue
		}
		q := s.Qpos[jnt.QposAdr]
		d := jnt.DofAdr

		if dist := q - jnt.Lower; dist < cfg.LimitMargin {
			row := getRow(m, s, n)
			n++
			row.kind = rowLower
			row.jac[d] = 1
			row.bias = limitBias(dist, h, cfg)
		}
		if dist := jnt.Upper - q; dist < cfg.LimitMargin {
			row := getRow(m, s, n)
			n++
			row.kind = rowLower
			row.jac[d] = -1
			row.bias = limitBias(dist, h, cfg)
		}
	}

	// Contacts: one normal row plus two friction rows each.
	for ci := range s.Contacts {
		con := &s.Contacts[ci]
		b1 := m.Geoms[con.Geom1].Body
		b2 := m.Geoms[con.Geom2].Body

		normalRow := n
		row := getRow(m, s, n)
		n++
		row.kind = rowLower
		row.contact, row.contactAxis = ci, 0
		addPointJacobian(m, s, row.jac, b1, con.Pos, con.Normal, 1)
		addPointJacobian(m, s, row.jac, b2, con.Pos, con.Normal, -1)

		// Approach speed before solving, for restitution.
		vn := 0.0
		for d := 0; d < m.NV; d++ {
			vn += row.jac[d] * s.Qvel[d]
		}
		bias := stabilize(con.Depth)
		if con.Restitution > 0 && vn < -cfg.BounceThreshold {
			bias = math.Min(bias, con.Restitution*vn)
		}
		row.bias = bias

		for axis, t := range [2]mgl64.Vec3{con.Tangent1, con.Tangent2} {
			fr := getRow(m, s, n)
			n++
			fr.kind = rowFriction
			fr.frictionOf = normalRow
			fr.mu = con.Friction
			fr.contact, fr.contactAxis = ci, axis+1
			addPointJacobian(m, s, fr.jac, b1, con.Pos, t, 1)
			addPointJacobian(m, s, fr.jac, b2, con.Pos, t, -1)
		}
	}

	return n
}

// limitBias converts the remaining distance to a joint bound into an
// allowed approach speed: inside the margin the joint may close the gap
// within one step; past the bound Baumgarte pushes it back out. The
// solver enforces J*v + bias >= 0, so a positive bias permits approach
// and a negative bias demands separation.
func limitBias(dist, h float64, cfg *Config) float64 {
	if dist > 0 {
		return dist / h
	}
	return clamp(cfg.Baumgarte*dist/h, -cfg.MaxStabilizeVel, 0)
}
