package rigid

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// sweepDir is the fixed sweep-and-prune projection direction (normalized
// in init). A skewed direction avoids pathological grids aligned with a
// world axis.
var sweepDir = mgl64.Vec3{0.5935, 0.7790, 0.1235}

func init() {
	sweepDir = sweepDir.Normalize()
}

// broadphase produces the deduplicated candidate pair list for one
// instance: world AABBs (expanded by the contact margin) are projected on
// sweepDir, sorted by lower bound, and swept; survivors are filtered by
// full AABB overlap and the static exclusion set. Pairs come out as
// (lower geom, higher geom) and the list is sorted, so candidate order is
// stable for identical input state.
func broadphase(m *Model, s *State, cfg *Config) []geomPair {
	ng := len(m.Geoms)
	s.pairs = s.pairs[:0]
	if ng < 2 {
		return s.pairs
	}

	lower := make([]float64, ng)
	upper := make([]float64, ng)
	for g := 0; g < ng; g++ {
		geom := &m.Geoms[g]
		s.aabbs[g] = geom.Shape.WorldAABB(s.gpos[g], s.gmat[g]).Expand(cfg.ContactMargin)
		if geom.Shape.BoundingRadius() == 0 {
			// Unbounded geom (plane): always survives the sweep.
			lower[g] = -aabbInf
			upper[g] = aabbInf
			continue
		}
		lo, hi := s.aabbs[g].Lo, s.aabbs[g].Hi
		// Exact support projection of the box onto the sweep axis.
		center := lo.Add(hi).Mul(0.5).Dot(sweepDir)
		radius := 0.0
		for k := 0; k < 3; k++ {
			radius += (hi[k] - lo[k]) / 2 * math.Abs(sweepDir[k])
		}
		lower[g] = center - radius
		upper[g] = center + radius
	}

	order := s.sorted[:ng]
	for g := range order {
		order[g] = g
	}
	sort.SliceStable(order, func(i, j int) bool {
		if lower[order[i]] != lower[order[j]] {
			return lower[order[i]] < lower[order[j]]
		}
		return order[i] < order[j]
	})

	for i := 0; i < ng; i++ {
		gi := order[i]
		for j := i + 1; j < ng; j++ {
			gj := order[j]
			if lower[gj] > upper[gi] {
				break
			}
			if !m.collisionAllowed(min(gi, gj), max(gi, gj)) {
				continue
			}
			if !s.aabbs[gi].Overlaps(s.aabbs[gj]) {
				continue
			}
			s.pairs = append(s.pairs, geomPair{Geom1: min(gi, gj), Geom2: max(gi, gj)})
		}
	}

	sort.Slice(s.pairs, func(i, j int) bool {
		if s.pairs[i].Geom1 != s.pairs[j].Geom1 {
			return s.pairs[i].Geom1 < s.pairs[j].Geom1
		}
		return s.pairs[i].Geom2 < s.pairs[j].Geom2
	})
	return s.pairs
}

