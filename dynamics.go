package rigid

import (
	"math"
)

// crbMassMatrix assembles the dense joint-space mass matrix
//
//	M[d1][d2] = sum over bodies b moved by both dofs of
//	            m_b * Jlin_d1(com_b) . Jlin_d2(com_b)
//	          + Jang_d1 . (I_b^world Jang_d2)
//
// accumulating bodies in traversal order and dof pairs ascending, which
// fixes the floating-point reduction order. The result is symmetric; both
// triangles are filled.
func crbMassMatrix(m *Model, s *State) {
	nv := m.NV
	for i := range s.massMat {
		s.massMat[i] = 0
	}
	for _, bi := range m.order {
		b := &m.Bodies[bi]
		dofs := m.bodyDofs[bi]
		if len(dofs) == 0 {
			continue
		}
		iw := worldInertia(b, s.xmat[bi])
		com := s.xpos[bi]
		for a1 := 0; a1 < len(dofs); a1++ {
			d1 := dofs[a1]
			j1 := s.dofJacobianAt(d1, com)
			w1 := s.dofAng[d1]
			iw1 := iw.Mul3x1(w1)
			for a2 := a1; a2 < len(dofs); a2++ {
				d2 := dofs[a2]
				j2 := s.dofJacobianAt(d2, com)
				w2 := s.dofAng[d2]
				v := b.Mass*j1.Dot(j2) + iw1.Dot(w2)
				s.massMat[d1*nv+d2] += v
				if d1 != d2 {
					s.massMat[d2*nv+d1] += v
				}
			}
		}
	}
}

// factorMass computes the Cholesky factor of massMat + reg*I (plus an
// optional extra diagonal, used to fold h*damping in implicitly) into
// cholFac. If a pivot goes non-positive the regularization is inflated
// tenfold and the factorization restarts, up to a fixed number of tries;
// ill-conditioned systems are damped, never allowed to diverge.
func factorMass(m *Model, s *State, reg float64, extraDiag []float64) {
	nv := m.NV
	if reg <= 0 {
		reg = 1e-12
	}
	for try := 0; try < 6; try++ {
		ok := true
		copy(s.cholFac, s.massMat)
		for i := 0; i < nv; i++ {
			s.cholFac[i*nv+i] += reg
			if extraDiag != nil {
				s.cholFac[i*nv+i] += extraDiag[i]
			}
		}
		for j := 0; j < nv && ok; j++ {
			d := s.cholFac[j*nv+j]
			for k := 0; k < j; k++ {
				d -= s.cholFac[j*nv+k] * s.cholFac[j*nv+k]
			}
			if d <= 0 || !isValid(d) {
				ok = false
				break
			}
			d = math.Sqrt(d)
			s.cholFac[j*nv+j] = d
			for i := j + 1; i < nv; i++ {
				v := s.cholFac[i*nv+j]
				for k := 0; k < j; k++ {
					v -= s.cholFac[i*nv+k] * s.cholFac[j*nv+k]
				}
				s.cholFac[i*nv+j] = v / d
			}
		}
		if ok {
			return
		}
		reg *= 10
	}
	// Last resort: diagonal-only factor so the step stays finite.
	for i := range s.cholFac {
		s.cholFac[i] = 0
	}
	for i := 0; i < nv; i++ {
		d := math.Abs(s.massMat[i*nv+i]) + reg
		s.cholFac[i*nv+i] = math.Sqrt(d)
	}
}

// cholSolveInto solves (L L^T) x = rhs using the factored mass matrix.
// rhs and x may alias.
func cholSolveInto(m *Model, s *State, x, rhs []float64) {
	nv := m.NV
	// Forward substitution L y = rhs.
	for i := 0; i < nv; i++ {
		v := rhs[i]
		for k := 0; k < i; k++ {
			v -= s.cholFac[i*nv+k] * x[k]
		}
		x[i] = v / s.cholFac[i*nv+i]
	}
	// Back substitution L^T x = y.
	for i := nv - 1; i >= 0; i-- {
		v := x[i]
		for k := i + 1; k < nv; k++ {
			v -= s.cholFac[k*nv+i] * x[k]
		}
		x[i] = v / s.cholFac[i*nv+i]
	}
}

// smoothForces fills qfrcSmooth with every non-constraint generalized
// force: gravity, gyroscopic torque, applied generalized forces, per-body
// Cartesian wrenches, and joint damping evaluated at the current velocity
// (the implicit integrator additionally moves h*D onto the factored
// matrix diagonal, which is exactly the implicit-Euler damping update).
// The velocity-product terms of the Jacobian derivative are deliberately
// dropped; see DESIGN.md.
func smoothForces(m *Model, s *State) {
	nv := m.NV
	for d := 0; d < nv; d++ {
		s.qfrcSmooth[d] = s.QfrcApplied[d]
	}

	for _, bi := range m.order {
		b := &m.Bodies[bi]
		dofs := m.bodyDofs[bi]
		if len(dofs) == 0 {
			continue
		}
		com := s.xpos[bi]

		// Gravity on the body mass.
		fg := m.Gravity.Mul(b.Mass)

		// Gyroscopic torque -w x (I w).
		iw := worldInertia(b, s.xmat[bi])
		tg := s.bodyAng[bi].Cross(iw.Mul3x1(s.bodyAng[bi])).Mul(-1)

		// External wrench.
		fx := s.BodyWrench[bi].Force
		tx := s.BodyWrench[bi].Torque

		f := fg.Add(fx)
		t := tg.Add(tx)
		for _, d := range dofs {
			s.qfrcSmooth[d] += f.Dot(s.dofJacobianAt(d, com)) + t.Dot(s.dofAng[d])
		}
	}

	for d := 0; d < nv; d++ {
		s.qfrcSmooth[d] -= m.dofDamping[d] * s.Qvel[d]
	}
}

// smoothVelocity advances Qvel by h under the smooth forces alone. With
// IntegratorImplicitDamp the factored matrix already contains h*D on its
// diagonal, making the damping update implicit.
func smoothVelocity(m *Model, s *State, h float64) {
	cholSolveInto(m, s, s.qaccSmooth, s.qfrcSmooth)
	for d := 0; d < m.NV; d++ {
		s.Qvel[d] += h * s.qaccSmooth[d]
	}
}
