package rigid

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Support-based collision for arbitrary convex shape pairs: a GJK overlap
// test followed by EPA penetration recovery. Both shapes are inflated by
// half the contact margin during the support queries, so pairs within the
// margin of touching are still detected; the reported depth has the
// inflation removed and may be slightly negative (a near contact).

const (
	gjkMaxIterations = 48
	epaMaxIterations = 48
	epaTolerance     = 1e-9
)

type gjkResult struct {
	pos    mgl64.Vec3
	normal mgl64.Vec3 // unit, pointing from shape B toward shape A
	depth  float64    // penetration after margin removal
}

// supportPoint is one vertex of the Minkowski difference A-B, with the
// witness points on both shapes.
type supportPoint struct {
	p mgl64.Vec3
	a mgl64.Vec3
	b mgl64.Vec3
}

type supportCtx struct {
	shA, shB     *Shape
	posA, posB   mgl64.Vec3
	matA, matB   mgl64.Mat3
	matAT, matBT mgl64.Mat3
	inflate      float64
}

func (ctx *supportCtx) supportA(dir mgl64.Vec3) mgl64.Vec3 {
	p := ctx.posA.Add(ctx.matA.Mul3x1(ctx.shA.Support(ctx.matAT.Mul3x1(dir))))
	if ctx.inflate > 0 && dir.LenSqr() > 1e-24 {
		p = p.Add(dir.Normalize().Mul(ctx.inflate))
	}
	return p
}

func (ctx *supportCtx) supportB(dir mgl64.Vec3) mgl64.Vec3 {
	p := ctx.posB.Add(ctx.matB.Mul3x1(ctx.shB.Support(ctx.matBT.Mul3x1(dir))))
	if ctx.inflate > 0 && dir.LenSqr() > 1e-24 {
		p = p.Add(dir.Normalize().Mul(ctx.inflate))
	}
	return p
}

func (ctx *supportCtx) minkowski(dir mgl64.Vec3) supportPoint {
	a := ctx.supportA(dir)
	b := ctx.supportB(dir.Mul(-1))
	return supportPoint{p: a.Sub(b), a: a, b: b}
}

// gjkEPA tests two posed convex shapes for overlap (within margin) and,
// on overlap, recovers the contact point, normal and depth.
func gjkEPA(shA *Shape, posA mgl64.Vec3, matA mgl64.Mat3, shB *Shape, posB mgl64.Vec3, matB mgl64.Mat3, margin float64) (gjkResult, bool) {
	ctx := supportCtx{
		shA: shA, shB: shB,
		posA: posA, posB: posB,
		matA: matA, matB: matB,
		matAT: matA.Transpose(), matBT: matB.Transpose(),
		inflate: margin / 2,
	}

	var simplex [4]supportPoint
	count, hit := gjk(&ctx, &simplex)
	if !hit {
		return gjkResult{}, false
	}
	if count < 4 {
		// Touching configuration with a degenerate simplex: synthesize a
		// shallow contact along the center line rather than guessing a
		// polytope.
		d := posA.Sub(posB)
		if d.LenSqr() < 1e-18 {
			return gjkResult{}, false
		}
		mid := simplex[0].a.Add(simplex[0].b).Mul(0.5)
		return gjkResult{pos: mid, normal: d.Normalize(), depth: 0}, true
	}
	return epa(&ctx, simplex, margin)
}

// gjk builds a simplex around the origin of the Minkowski difference.
// Returns the simplex size and whether the origin is contained.
func gjk(ctx *supportCtx, simplex *[4]supportPoint) (int, bool) {
	dir := ctx.posB.Sub(ctx.posA)
	if dir.LenSqr() < 1e-18 {
		dir = mgl64.Vec3{1, 0, 0}
	}
	simplex[0] = ctx.minkowski(dir)
	count := 1
	dir = simplex[0].p.Mul(-1)
	if dir.LenSqr() < 1e-24 {
		return count, true
	}

	for it := 0; it < gjkMaxIterations; it++ {
		w := ctx.minkowski(dir)
		if w.p.Dot(dir) <= 0 {
			return count, false
		}
		simplex[count] = w
		count++

		var contained bool
		count, contained = refineSimplex(simplex, count, &dir)
		if contained {
			return count, true
		}
		if dir.LenSqr() < 1e-24 {
			return count, true
		}
	}
	return count, false
}

// refineSimplex reduces the simplex to the feature closest to the origin
// and points dir at the origin from that feature. Returns the new size
// and whether the origin is contained.
func refineSimplex(sx *[4]supportPoint, count int, dir *mgl64.Vec3) (int, bool) {
	switch count {
	case 2:
		return gjkLine(sx, dir)
	case 3:
		return gjkTriangle(sx, dir)
	case 4:
		return gjkTetrahedron(sx, dir)
	}
	return count, false
}

func gjkLine(sx *[4]supportPoint, dir *mgl64.Vec3) (int, bool) {
	a, b := sx[1], sx[0]
	ab := b.p.Sub(a.p)
	ao := a.p.Mul(-1)

	if ab.LenSqr() < 1e-18 {
		sx[0] = a
		*dir = ao
		return 1, ao.LenSqr() < 1e-18
	}
	if ab.Dot(ao) <= 0 {
		sx[0] = a
		*dir = ao
		return 1, false
	}
	perp := ab.Cross(ao).Cross(ab)
	if perp.LenSqr() < 1e-18 {
		// Origin on the segment.
		return 2, true
	}
	*dir = perp
	return 2, false
}

func gjkTriangle(sx *[4]supportPoint, dir *mgl64.Vec3) (int, bool) {
	a, b, c := sx[2], sx[1], sx[0]
	ab := b.p.Sub(a.p)
	ac := c.p.Sub(a.p)
	ao := a.p.Mul(-1)
	abc := ab.Cross(ac)

	if abc.LenSqr() < 1e-20 {
		sx[0], sx[1] = b, a
		return gjkLine(sx, dir)
	}
	if ab.Cross(abc).Dot(ao) > 0 {
		sx[0], sx[1] = b, a
		*dir = ab.Cross(ao).Cross(ab)
		return 2, false
	}
	if abc.Cross(ac).Dot(ao) > 0 {
		sx[0], sx[1] = c, a
		*dir = ac.Cross(ao).Cross(ac)
		return 2, false
	}
	if abc.Dot(ao) > 0 {
		*dir = abc
		return 3, false
	}
	// Below the triangle: flip winding.
	sx[0], sx[1], sx[2] = a, c, b
	*dir = abc.Mul(-1)
	return 3, false
}

func gjkTetrahedron(sx *[4]supportPoint, dir *mgl64.Vec3) (int, bool) {
	a, b, c, d := sx[3], sx[2], sx[1], sx[0]
	ab := b.p.Sub(a.p)
	ac := c.p.Sub(a.p)
	ad := d.p.Sub(a.p)
	ao := a.p.Mul(-1)

	abc := ab.Cross(ac)
	if abc.Dot(ad) > 0 {
		abc = abc.Mul(-1)
	}
	acd := ac.Cross(ad)
	if acd.Dot(ab) > 0 {
		acd = acd.Mul(-1)
	}
	adb := ad.Cross(ab)
	if adb.Dot(ac) > 0 {
		adb = adb.Mul(-1)
	}

	if abc.LenSqr() < 1e-20 || acd.LenSqr() < 1e-20 || adb.LenSqr() < 1e-20 {
		sx[0], sx[1], sx[2] = c, b, a
		return gjkTriangle(sx, dir)
	}
	if abc.Dot(ao) > 0 {
		sx[0], sx[1], sx[2] = c, b, a
		return gjkTriangle(sx, dir)
	}
	if acd.Dot(ao) > 0 {
		sx[0], sx[1], sx[2] = d, c, a
		return gjkTriangle(sx, dir)
	}
	if adb.Dot(ao) > 0 {
		sx[0], sx[1], sx[2] = b, d, a
		return gjkTriangle(sx, dir)
	}
	return 4, true
}

///////////////////////////////////////////////////////////////////////////////
// EPA
///////////////////////////////////////////////////////////////////////////////

type epaFace struct {
	v      [3]int
	normal mgl64.Vec3 // outward unit normal
	dist   float64    // plane distance from the origin
}

func makeEpaFace(verts []supportPoint, i0, i1, i2 int) (epaFace, bool) {
	p0 := verts[i0].p
	n := verts[i1].p.Sub(p0).Cross(verts[i2].p.Sub(p0))
	l2 := n.LenSqr()
	if l2 < 1e-20 {
		return epaFace{}, false
	}
	n = n.Mul(1 / math.Sqrt(l2))
	d := n.Dot(p0)
	if d < 0 {
		// Flip so the normal points away from the origin.
		return epaFace{v: [3]int{i0, i2, i1}, normal: n.Mul(-1), dist: -d}, true
	}
	return epaFace{v: [3]int{i0, i1, i2}, normal: n, dist: d}, true
}

// epa expands the GJK tetrahedron toward the origin until the closest
// Minkowski boundary face is found, then reads the contact off that face.
func epa(ctx *supportCtx, simplex [4]supportPoint, margin float64) (gjkResult, bool) {
	verts := make([]supportPoint, 4, 16)
	copy(verts, simplex[:])

	faces := make([]epaFace, 0, 32)
	for _, idx := range [4][3]int{{0, 1, 2}, {0, 1, 3}, {0, 2, 3}, {1, 2, 3}} {
		if f, ok := makeEpaFace(verts, idx[0], idx[1], idx[2]); ok {
			faces = append(faces, f)
		}
	}
	if len(faces) < 4 {
		return gjkResult{}, false
	}

	for it := 0; it < epaMaxIterations; it++ {
		// Closest face to the origin.
		best := 0
		for i := 1; i < len(faces); i++ {
			if faces[i].dist < faces[best].dist {
				best = i
			}
		}
		face := faces[best]

		w := ctx.minkowski(face.normal)
		growth := w.p.Dot(face.normal) - face.dist
		if growth < epaTolerance || it == epaMaxIterations-1 || len(verts) > 60 {
			return contactFromFace(verts, face, margin)
		}

		// Remove every face visible from w and collect the horizon.
		type edge struct{ a, b int }
		var horizon []edge
		addEdge := func(a, b int) {
			for i, e := range horizon {
				if e.a == b && e.b == a {
					horizon = append(horizon[:i], horizon[i+1:]...)
					return
				}
			}
			horizon = append(horizon, edge{a, b})
		}
		next := faces[:0]
		for _, f := range faces {
			if f.normal.Dot(w.p.Sub(verts[f.v[0]].p)) > 0 {
				addEdge(f.v[0], f.v[1])
				addEdge(f.v[1], f.v[2])
				addEdge(f.v[2], f.v[0])
			} else {
				next = append(next, f)
			}
		}
		faces = next

		verts = append(verts, w)
		wi := len(verts) - 1
		for _, e := range horizon {
			if f, ok := makeEpaFace(verts, e.a, e.b, wi); ok {
				faces = append(faces, f)
			}
		}
		if len(faces) == 0 {
			return contactFromFace(verts, face, margin)
		}
	}
	return gjkResult{}, false
}

// contactFromFace projects the origin onto the face, reads the witness
// points through the barycentric coordinates of the projection, and
// removes the support inflation from the depth.
func contactFromFace(verts []supportPoint, face epaFace, margin float64) (gjkResult, bool) {
	v0, v1, v2 := verts[face.v[0]], verts[face.v[1]], verts[face.v[2]]
	proj := face.normal.Mul(face.dist)
	u, v, w := barycentric(v0.p, v1.p, v2.p, proj)

	pa := v0.a.Mul(u).Add(v1.a.Mul(v)).Add(v2.a.Mul(w))
	pb := v0.b.Mul(u).Add(v1.b.Mul(v)).Add(v2.b.Mul(w))
	pos := pa.Add(pb).Mul(0.5)

	// Minkowski difference is A-B, so the face normal pushes A out of B:
	// it points from B toward A.
	res := gjkResult{
		pos:    pos,
		normal: face.normal,
		depth:  face.dist - margin,
	}
	if !isValidVec3(res.normal) || !isValid(res.depth) || !isValidVec3(res.pos) {
		return gjkResult{}, false
	}
	return res, true
}

// barycentric returns clamped barycentric coordinates of point p in
// triangle (a, b, c).
func barycentric(a, b, c, p mgl64.Vec3) (float64, float64, float64) {
	v0 := b.Sub(a)
	v1 := c.Sub(a)
	v2 := p.Sub(a)
	d00 := v0.Dot(v0)
	d01 := v0.Dot(v1)
	d11 := v1.Dot(v1)
	d20 := v2.Dot(v0)
	d21 := v2.Dot(v1)
	denom := d00*d11 - d01*d01
	if math.Abs(denom) < 1e-20 {
		return 1, 0, 0
	}
	v := clamp((d11*d20-d01*d21)/denom, 0, 1)
	w := clamp((d00*d21-d01*d20)/denom, 0, 1-v)
	return 1 - v - w, v, w
}
