package rigid

import (
	"math"
)

// solveRows runs projected Gauss-Seidel over the assembled rows at the
// velocity level.
//
// Reduction order contract: rows are swept first to last in assembly
// order, each row's impulse is applied to the velocity in full before the
// next row is visited, and every dot product runs over dof indices
// ascending. Given identical inputs and iteration count the result is
// bit-reproducible.
//
// Projections: equality rows are unclamped; limit and contact-normal rows
// keep lambda >= 0; friction rows are bounded by mu times their normal
// row's current lambda, either independently (pyramidal cone) or jointly
// scaled onto the friction disc (elliptic cone). Non-finite impulse
// deltas are clamped to zero rather than propagated, and after the sweep
// loop a final pass re-clamps friction against the settled normal
// impulses so the cone bound holds exactly.
//
// The returned residual is the largest absolute impulse change of the
// last completed sweep.
func solveRows(m *Model, s *State, nrows int, cfg *Config) (int, float64) {
	nv := m.NV
	rows := s.rows[:nrows]

	// Effective masses: invMJT = M^-1 J^T per row, diag = J M^-1 J^T
	// plus regularization.
	active := 0
	for i := range rows {
		row := &rows[i]
		cholSolveInto(m, s, row.invMJT, row.jac)
		d := 0.0
		for k := 0; k < nv; k++ {
			d += row.jac[k] * row.invMJT[k]
		}
		// Test the raw effective mass before regularization; a
		// zero-Jacobian row (all-static pair) must be disabled, not
		// propped up to the regularization floor and divided by.
		if !isValid(d) || d < 1e-15 {
			row.diag = 0
			continue
		}
		row.diag = d + cfg.Regularization
		active++
	}
	if active == 0 {
		return 0, 0
	}

	iters := 0
	residual := 0.0
	for it := 0; it < cfg.Iterations; it++ {
		iters = it + 1
		maxDelta := 0.0
		for i := range rows {
			row := &rows[i]
			if row.diag == 0 {
				continue
			}

			res := row.bias
			for k := 0; k < nv; k++ {
				res += row.jac[k] * s.Qvel[k]
			}
			target := row.lambda - res/row.diag

			switch row.kind {
			case rowEquality:
				// Unbounded.
			case rowLower:
				target = math.Max(0, target)
			case rowFriction:
				bound := row.mu * rows[row.frictionOf].lambda
				if cfg.FrictionCone == ConeElliptic {
					target = projectElliptic(rows, row, i, target, bound)
				} else {
					target = clamp(target, -bound, bound)
				}
			}

			applied := target - row.lambda
			if !isValid(applied) {
				applied = 0
				target = row.lambda
			}
			if applied != 0 {
				for k := 0; k < nv; k++ {
					s.Qvel[k] += row.invMJT[k] * applied
				}
			}
			row.lambda = target
			maxDelta = math.Max(maxDelta, math.Abs(applied))
		}
		residual = maxDelta
		if maxDelta < cfg.Tolerance {
			break
		}
	}

	// Exact cone enforcement against the settled normal impulses.
	applyDelta := func(row *constraintRow, target float64) {
		if applied := target - row.lambda; applied != 0 && isValid(applied) {
			for k := 0; k < nv; k++ {
				s.Qvel[k] += row.invMJT[k] * applied
			}
			row.lambda = target
		}
	}
	for i := 0; i < len(rows); i++ {
		row := &rows[i]
		if row.kind != rowFriction || row.diag == 0 {
			continue
		}
		bound := row.mu * rows[row.frictionOf].lambda
		pair := i+1 < len(rows) && rows[i+1].kind == rowFriction && rows[i+1].frictionOf == row.frictionOf
		if cfg.FrictionCone == ConeElliptic && pair {
			other := &rows[i+1]
			norm := math.Hypot(row.lambda, other.lambda)
			if norm > bound {
				scale := 0.0
				if bound > 0 && norm > 1e-18 {
					scale = bound / norm
				}
				applyDelta(row, row.lambda*scale)
				applyDelta(other, other.lambda*scale)
			}
			i++
			continue
		}
		applyDelta(row, clamp(row.lambda, -bound, bound))
		if pair {
			other := &rows[i+1]
			applyDelta(other, clamp(other.lambda, -bound, bound))
			i++
		}
	}

	// Write impulses back to the contacts for diagnostics and tests.
	for i := range rows {
		row := &rows[i]
		if row.contact < 0 {
			continue
		}
		con := &s.Contacts[row.contact]
		switch row.contactAxis {
		case 0:
			con.NormalImpulse = row.lambda
		case 1:
			con.TangentImpulse1 = row.lambda
		case 2:
			con.TangentImpulse2 = row.lambda
		}
	}

	return iters, residual
}

// projectElliptic clamps a tangent impulse so the pair of friction rows
// of one contact stays on the disc of radius bound. The partner row is
// the other tangent of the same contact; its impulse is scaled through
// the shared ratio when the pair leaves the disc.
func projectElliptic(rows []constraintRow, row *constraintRow, i int, target, bound float64) float64 {
	// Find the partner tangent row: same normal row, other axis.
	partner := -1
	if i > 0 && rows[i-1].kind == rowFriction && rows[i-1].frictionOf == row.frictionOf {
		partner = i - 1
	} else if i+1 < len(rows) && rows[i+1].kind == rowFriction && rows[i+1].frictionOf == row.frictionOf {
		partner = i + 1
	}
	if partner < 0 {
		return clamp(target, -bound, bound)
	}
	other := rows[partner].lambda
	norm := math.Hypot(target, other)
	if norm <= bound || norm < 1e-18 {
		return target
	}
	if bound <= 0 {
		return 0
	}
	return target * bound / norm
}
