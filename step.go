package rigid

// Step advances one instance by one time step of h seconds and returns
// the step's diagnostics. It reads the shared immutable Model and
// mutates only s. The pipeline is: forward kinematics, smooth dynamics
// (mass matrix, gravity, gyroscopic and applied forces), broad-phase,
// narrow-phase, constraint assembly, projected Gauss-Seidel solve, and
// position integration, all synchronous over in-memory buffers.
//
// Step always leaves s finite: if any coordinate turns non-finite the
// pre-step state is restored and Diagnostics.Recovered is set.
func Step(m *Model, s *State, h float64, cfg *Config) Diagnostics {
	var diag Diagnostics
	if h <= 0 || m.NV == 0 {
		forwardKinematics(m, s)
		return diag
	}

	copy(s.qposPrev, s.Qpos)
	copy(s.qvelPrev, s.Qvel)

	// Position-dependent quantities.
	forwardKinematics(m, s)
	comVelocities(m, s)

	// Smooth dynamics: M, its factor, and the unconstrained velocity.
	crbMassMatrix(m, s)
	var extraDiag []float64
	if cfg.Integrator == IntegratorImplicitDamp {
		extraDiag = s.qaccSmooth[:m.NV] // reused as scratch before the solve
		for d := 0; d < m.NV; d++ {
			extraDiag[d] = h * m.dofDamping[d]
		}
	}
	factorMass(m, s, cfg.Regularization, extraDiag)
	smoothForces(m, s)
	smoothVelocity(m, s, h)

	// Collision.
	pairs := broadphase(m, s, cfg)
	narrowphase(m, s, pairs, cfg)
	diag.Contacts = len(s.Contacts)

	// Constraints.
	nrows := assembleRows(m, s, h, cfg)
	diag.Rows = nrows
	diag.Iterations, diag.Residual = solveRows(m, s, nrows, cfg)

	integratePositions(m, s, h)

	// Finite-state guarantee: quality may degrade under stress, but the
	// returned state never carries NaN or Inf.
	for _, q := range s.Qpos {
		if !isValid(q) {
			diag.Recovered = true
			break
		}
	}
	if !diag.Recovered {
		for _, v := range s.Qvel {
			if !isValid(v) {
				diag.Recovered = true
				break
			}
		}
	}
	if diag.Recovered {
		copy(s.Qpos, s.qposPrev)
		copy(s.Qvel, s.qvelPrev)
		forwardKinematics(m, s)
	}

	return diag
}
