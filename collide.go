package rigid

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// collideFunc generates contacts for one candidate pair. The dispatcher
// guarantees Type(g1) <= Type(g2); emitted contacts carry Geom1=g1,
// Geom2=g2 with the normal pointing from g2 toward g1.
type collideFunc func(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact

var collideTable [shapeTypeCount][shapeTypeCount]collideFunc

func init() {
	reg := func(t1, t2 ShapeType, fn collideFunc) {
		collideTable[t1][t2] = fn
	}
	reg(ShapePlane, ShapeSphere, collidePlaneSphere)
	reg(ShapePlane, ShapeCapsule, collidePlaneCapsule)
	reg(ShapePlane, ShapeBox, collidePlaneBox)
	reg(ShapePlane, ShapeCylinder, collidePlaneCylinder)
	reg(ShapePlane, ShapeConvex, collidePlaneConvex)
	reg(ShapeSphere, ShapeSphere, collideSphereSphere)
	reg(ShapeSphere, ShapeCapsule, collideSphereCapsule)
	reg(ShapeSphere, ShapeBox, collideSphereBox)
	reg(ShapeCapsule, ShapeCapsule, collideCapsuleCapsule)

	for _, t := range []ShapeType{ShapeSphere, ShapeCapsule, ShapeBox, ShapeCylinder, ShapeConvex} {
		reg(ShapeHField, t, collideHFieldConvex)
	}
	convex := []ShapeType{ShapeSphere, ShapeCapsule, ShapeBox, ShapeCylinder, ShapeConvex}
	for i, t1 := range convex {
		for _, t2 := range convex[i:] {
			if collideTable[t1][t2] == nil {
				reg(t1, t2, collideConvexPair)
			}
		}
	}
}

// narrowphase runs the per-pair colliders over the broad-phase candidates
// in order, appending to s.Contacts. Pairs of disjoint shapes (however
// close their AABBs) emit nothing.
func narrowphase(m *Model, s *State, pairs []geomPair, cfg *Config) {
	s.Contacts = s.Contacts[:0]
	for _, p := range pairs {
		g1, g2 := p.Geom1, p.Geom2
		if m.Geoms[g1].Shape.Type > m.Geoms[g2].Shape.Type {
			g1, g2 = g2, g1
		}
		fn := collideTable[m.Geoms[g1].Shape.Type][m.Geoms[g2].Shape.Type]
		if fn == nil {
			continue
		}
		start := len(s.Contacts)
		s.Contacts = fn(m, s, g1, g2, cfg, s.Contacts)
		if n := len(s.Contacts) - start; n > cfg.MaxContactsPerPair {
			keep := s.Contacts[start:]
			sort.SliceStable(keep, func(i, j int) bool { return keep[i].Depth > keep[j].Depth })
			s.Contacts = s.Contacts[:start+cfg.MaxContactsPerPair]
		}
	}
}

// addContact validates and appends one contact. Degenerate results
// (non-finite values, near-zero normals) are discarded here so no
// NaN-bearing row can reach assembly; near contacts inside the margin are
// kept with depth clamped to zero.
func addContact(m *Model, out []Contact, g1, g2 int, pos, normal mgl64.Vec3, depth, margin float64) []Contact {
	if !isValidVec3(pos) || !isValidVec3(normal) || !isValid(depth) {
		return out
	}
	if depth < -margin {
		return out
	}
	n2 := normal.LenSqr()
	if n2 < 1e-12 {
		return out
	}
	normal = normal.Mul(1 / math.Sqrt(n2))
	t1, t2 := tangentBasis(normal)
	a, b := &m.Geoms[g1], &m.Geoms[g2]
	out = append(out, Contact{
		Geom1:       g1,
		Geom2:       g2,
		Pos:         pos,
		Normal:      normal,
		Tangent1:    t1,
		Tangent2:    t2,
		Depth:       math.Max(0, depth),
		Friction:    mixFriction(a.Friction, b.Friction),
		Restitution: mixRestitution(a.Restitution, b.Restitution),
	})
	return out
}

// geomSupport is the world-frame support point of a geom.
func geomSupport(s *State, geom *Geom, g int, dir mgl64.Vec3) mgl64.Vec3 {
	local := s.gmat[g].Transpose().Mul3x1(dir)
	return s.gpos[g].Add(s.gmat[g].Mul3x1(geom.Shape.Support(local)))
}

///////////////////////////////////////////////////////////////////////////////
// Plane colliders. The plane's outward normal is its local +Z axis; the
// contact normal (geom2 toward geom1, geom1 being the plane) is the
// opposite of that.
///////////////////////////////////////////////////////////////////////////////

func planeFrame(s *State, g int) (mgl64.Vec3, mgl64.Vec3) {
	up := s.gmat[g].Mul3x1(mgl64.Vec3{0, 0, 1})
	return s.gpos[g], up
}

func collidePlaneSphere(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact {
	p0, up := planeFrame(s, g1)
	c := s.gpos[g2]
	r := m.Geoms[g2].Shape.Radius
	depth := r - up.Dot(c.Sub(p0))
	pos := c.Sub(up.Mul(r - depth/2))
	return addContact(m, out, g1, g2, pos, up.Mul(-1), depth, cfg.ContactMargin)
}

func collidePlaneCapsule(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact {
	p0, up := planeFrame(s, g1)
	sh := &m.Geoms[g2].Shape
	axis := s.gmat[g2].Mul3x1(mgl64.Vec3{0, 0, sh.HalfLength})
	for _, end := range [2]mgl64.Vec3{s.gpos[g2].Add(axis), s.gpos[g2].Sub(axis)} {
		depth := sh.Radius - up.Dot(end.Sub(p0))
		pos := end.Sub(up.Mul(sh.Radius - depth/2))
		out = addContact(m, out, g1, g2, pos, up.Mul(-1), depth, cfg.ContactMargin)
	}
	return out
}

func collidePlaneBox(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact {
	p0, up := planeFrame(s, g1)
	he := m.Geoms[g2].Shape.HalfExtents
	type corner struct {
		pos   mgl64.Vec3
		depth float64
	}
	var below []corner
	for ix := -1; ix <= 1; ix += 2 {
		for iy := -1; iy <= 1; iy += 2 {
			for iz := -1; iz <= 1; iz += 2 {
				local := mgl64.Vec3{float64(ix) * he[0], float64(iy) * he[1], float64(iz) * he[2]}
				w := s.gpos[g2].Add(s.gmat[g2].Mul3x1(local))
				depth := -up.Dot(w.Sub(p0))
				if depth >= -cfg.ContactMargin {
					below = append(below, corner{w, depth})
				}
			}
		}
	}
	sort.SliceStable(below, func(i, j int) bool { return below[i].depth > below[j].depth })
	if len(below) > 4 {
		below = below[:4]
	}
	for _, c := range below {
		out = addContact(m, out, g1, g2, c.pos.Add(up.Mul(c.depth/2)), up.Mul(-1), c.depth, cfg.ContactMargin)
	}
	return out
}

func collidePlaneConvex(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact {
	p0, up := planeFrame(s, g1)
	type vert struct {
		pos   mgl64.Vec3
		depth float64
	}
	var below []vert
	for _, v := range m.Geoms[g2].Shape.Verts {
		w := s.gpos[g2].Add(s.gmat[g2].Mul3x1(v))
		depth := -up.Dot(w.Sub(p0))
		if depth >= -cfg.ContactMargin {
			below = append(below, vert{w, depth})
		}
	}
	sort.SliceStable(below, func(i, j int) bool { return below[i].depth > below[j].depth })
	if len(below) > 4 {
		below = below[:4]
	}
	for _, v := range below {
		out = addContact(m, out, g1, g2, v.pos.Add(up.Mul(v.depth/2)), up.Mul(-1), v.depth, cfg.ContactMargin)
	}
	return out
}

func collidePlaneCylinder(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact {
	p0, up := planeFrame(s, g1)
	sh := &m.Geoms[g2].Shape
	axis := s.gmat[g2].Mul3x1(mgl64.Vec3{0, 0, 1})
	a := axis.Dot(up)

	emit := func(p mgl64.Vec3) []Contact {
		depth := -up.Dot(p.Sub(p0))
		return addContact(m, out, g1, g2, p.Add(up.Mul(depth/2)), up.Mul(-1), depth, cfg.ContactMargin)
	}

	switch {
	case math.Abs(a) > 0.99999:
		// Cap resting flat: four rim points for rotational stability.
		center := s.gpos[g2].Sub(axis.Mul(sign(a) * sh.HalfLength))
		t1, t2 := tangentBasis(up)
		for _, d := range [4]mgl64.Vec3{t1, t1.Mul(-1), t2, t2.Mul(-1)} {
			out = emit(center.Add(d.Mul(sh.Radius)))
		}
	case math.Abs(a) < 1e-5:
		// Side resting: the contact line under the axis.
		radial := up.Mul(-1).Sub(axis.Mul(axis.Dot(up.Mul(-1))))
		if radial.LenSqr() < 1e-18 {
			return out
		}
		radial = radial.Normalize().Mul(sh.Radius)
		for _, t := range [2]float64{-sh.HalfLength, sh.HalfLength} {
			out = emit(s.gpos[g2].Add(axis.Mul(t)).Add(radial))
		}
	default:
		// Tilted: single deepest rim point.
		out = emit(geomSupport(s, &m.Geoms[g2], g2, up.Mul(-1)))
	}
	return out
}

///////////////////////////////////////////////////////////////////////////////
// Sphere and capsule analytic colliders.
///////////////////////////////////////////////////////////////////////////////

// sphereSphereAt emits a contact between two world spheres, normal from
// the second toward the first.
func sphereSphereAt(m *Model, out []Contact, g1, g2 int, c1, c2 mgl64.Vec3, r1, r2, margin float64) []Contact {
	d := c1.Sub(c2)
	dist := d.Len()
	if dist < 1e-12 {
		// Concentric: degenerate normal, discard rather than guess.
		return out
	}
	n := d.Mul(1 / dist)
	depth := r1 + r2 - dist
	pos := c2.Add(n.Mul(r2 + (dist-r1-r2)/2))
	return addContact(m, out, g1, g2, pos, n, depth, margin)
}

func collideSphereSphere(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact {
	return sphereSphereAt(m, out, g1, g2, s.gpos[g1], s.gpos[g2],
		m.Geoms[g1].Shape.Radius, m.Geoms[g2].Shape.Radius, cfg.ContactMargin)
}

func collideSphereCapsule(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact {
	sh2 := &m.Geoms[g2].Shape
	axis := s.gmat[g2].Mul3x1(mgl64.Vec3{0, 0, sh2.HalfLength})
	seg0, seg1 := s.gpos[g2].Sub(axis), s.gpos[g2].Add(axis)
	p := closestOnSegment(seg0, seg1, s.gpos[g1])
	return sphereSphereAt(m, out, g1, g2, s.gpos[g1], p,
		m.Geoms[g1].Shape.Radius, sh2.Radius, cfg.ContactMargin)
}

func collideSphereBox(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact {
	r := m.Geoms[g1].Shape.Radius
	he := m.Geoms[g2].Shape.HalfExtents
	// Sphere center in box-local coordinates.
	local := s.gmat[g2].Transpose().Mul3x1(s.gpos[g1].Sub(s.gpos[g2]))
	clamped := mgl64.Vec3{
		clamp(local[0], -he[0], he[0]),
		clamp(local[1], -he[1], he[1]),
		clamp(local[2], -he[2], he[2]),
	}
	if clamped != local {
		// Center outside the box: surface point vs sphere.
		p := s.gpos[g2].Add(s.gmat[g2].Mul3x1(clamped))
		return sphereSphereAt(m, out, g1, g2, s.gpos[g1], p, r, 0, cfg.ContactMargin)
	}
	// Center inside: push out through the nearest face.
	bestAxis, bestDist, bestSign := 0, math.Inf(1), 1.0
	for k := 0; k < 3; k++ {
		if d := he[k] - local[k]; d < bestDist {
			bestAxis, bestDist, bestSign = k, d, 1.0
		}
		if d := local[k] + he[k]; d < bestDist {
			bestAxis, bestDist, bestSign = k, d, -1.0
		}
	}
	var nLocal mgl64.Vec3
	nLocal[bestAxis] = bestSign
	n := s.gmat[g2].Mul3x1(nLocal)
	depth := bestDist + r
	pos := s.gpos[g1].Sub(n.Mul(depth / 2))
	return addContact(m, out, g1, g2, pos, n, depth, cfg.ContactMargin)
}

func collideCapsuleCapsule(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact {
	sh1, sh2 := &m.Geoms[g1].Shape, &m.Geoms[g2].Shape
	a1 := s.gmat[g1].Mul3x1(mgl64.Vec3{0, 0, sh1.HalfLength})
	a2 := s.gmat[g2].Mul3x1(mgl64.Vec3{0, 0, sh2.HalfLength})
	p1, p2 := closestSegmentSegment(
		s.gpos[g1].Sub(a1), s.gpos[g1].Add(a1),
		s.gpos[g2].Sub(a2), s.gpos[g2].Add(a2))
	return sphereSphereAt(m, out, g1, g2, p1, p2, sh1.Radius, sh2.Radius, cfg.ContactMargin)
}

// closestOnSegment returns the point of segment [a, b] closest to p.
func closestOnSegment(a, b, p mgl64.Vec3) mgl64.Vec3 {
	ab := b.Sub(a)
	denom := ab.LenSqr()
	if denom < 1e-18 {
		return a
	}
	t := clamp(p.Sub(a).Dot(ab)/denom, 0, 1)
	return a.Add(ab.Mul(t))
}

// closestSegmentSegment returns the closest points between two segments
// (Ericson, Real-Time Collision Detection, 5.1.9).
func closestSegmentSegment(p1, q1, p2, q2 mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	d1 := q1.Sub(p1)
	d2 := q2.Sub(p2)
	r := p1.Sub(p2)
	a := d1.LenSqr()
	e := d2.LenSqr()
	f := d2.Dot(r)

	var ss, tt float64
	switch {
	case a < 1e-18 && e < 1e-18:
		return p1, p2
	case a < 1e-18:
		tt = clamp(f/e, 0, 1)
	case e < 1e-18:
		ss = clamp(-d1.Dot(r)/a, 0, 1)
	default:
		c := d1.Dot(r)
		b := d1.Dot(d2)
		denom := a*e - b*b
		if denom > 1e-18 {
			ss = clamp((b*f-c*e)/denom, 0, 1)
		}
		tt = b*ss + f
		if tt < 0 {
			tt = 0
			ss = clamp(-c/a, 0, 1)
		} else if tt > e {
			tt = 1
			ss = clamp((b-c)/a, 0, 1)
		} else {
			tt /= e
		}
	}
	return p1.Add(d1.Mul(ss)), p2.Add(d2.Mul(tt))
}

///////////////////////////////////////////////////////////////////////////////
// Heightfield mid-phase: collide the other geom against the triangle
// prisms of only the overlapped cells.
///////////////////////////////////////////////////////////////////////////////

func collideHFieldConvex(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact {
	hf := m.Geoms[g1].Shape.HField

	// Pose of the other geom in the heightfield's local frame.
	hm := s.gmat[g1]
	hmT := hm.Transpose()
	localPos := hmT.Mul3x1(s.gpos[g2].Sub(s.gpos[g1]))
	localMat := hmT.Mul3(s.gmat[g2])

	other := &m.Geoms[g2]
	localAABB := other.Shape.WorldAABB(localPos, localMat).Expand(cfg.ContactMargin)
	rowLo, rowHi, colLo, colHi := hf.CellRange(localAABB.Lo, localAABB.Hi)
	if localAABB.Lo[2] > hf.maxZ+cfg.ContactMargin {
		return out
	}

	prism := Shape{Type: ShapeConvex, Verts: make([]mgl64.Vec3, 6)}
	for row := rowLo; row < rowHi; row++ {
		for col := colLo; col < colHi; col++ {
			for which := 0; which < 2; which++ {
				tri := hf.Triangle(row, col, which)
				for k := 0; k < 3; k++ {
					prism.Verts[k] = tri[k]
					prism.Verts[k+3] = mgl64.Vec3{tri[k][0], tri[k][1], hf.MinZ}
				}
				res, hit := gjkEPA(
					&prism, mgl64.Vec3{}, mgl64.Ident3(),
					&other.Shape, localPos, localMat,
					cfg.ContactMargin)
				if !hit {
					continue
				}
				// Back to world coordinates.
				pos := s.gpos[g1].Add(hm.Mul3x1(res.pos))
				n := hm.Mul3x1(res.normal)
				out = addContact(m, out, g1, g2, pos, n, res.depth, cfg.ContactMargin)
			}
		}
	}
	return out
}

///////////////////////////////////////////////////////////////////////////////
// Generic convex pair: GJK overlap test plus EPA penetration recovery,
// with a clipped multi-point manifold for box-box.
///////////////////////////////////////////////////////////////////////////////

func collideConvexPair(m *Model, s *State, g1, g2 int, cfg *Config, out []Contact) []Contact {
	a, b := &m.Geoms[g1], &m.Geoms[g2]
	res, hit := gjkEPA(&a.Shape, s.gpos[g1], s.gmat[g1], &b.Shape, s.gpos[g2], s.gmat[g2], cfg.ContactMargin)
	if !hit {
		return out
	}
	if a.Shape.Type == ShapeBox && b.Shape.Type == ShapeBox {
		pts := boxBoxManifold(s, g1, g2, a, b, res.normal, cfg.ContactMargin)
		if len(pts) > 0 {
			for _, p := range pts {
				out = addContact(m, out, g1, g2, p.pos, res.normal, p.depth, cfg.ContactMargin)
			}
			return out
		}
	}
	return addContact(m, out, g1, g2, res.pos, res.normal, res.depth, cfg.ContactMargin)
}

type manifoldPoint struct {
	pos   mgl64.Vec3
	depth float64
}

// boxBoxManifold clips the incident face of box2 against the side planes
// of box1's reference face, producing up to four stable contact points
// for flat-on-flat configurations. An empty result (edge-edge contact)
// lets the caller fall back to the EPA point.
func boxBoxManifold(s *State, g1, g2 int, a, b *Geom, normal mgl64.Vec3, margin float64) []manifoldPoint {
	// Reference face on box1: outward normal closest to -normal (the
	// direction from box1 toward box2).
	refN, refC, refU, refV, refHU, refHV := boxFace(s, g1, &a.Shape, normal.Mul(-1))
	// Incident face on box2: outward normal closest to +normal.
	incident := boxFaceCorners(s, g2, &b.Shape, normal)

	// Clip incident corners against the four side planes of the
	// reference face.
	poly := incident[:]
	clipped := make([]mgl64.Vec3, 0, 8)
	clipped = append(clipped, poly...)
	for k := 0; k < 4; k++ {
		var pn mgl64.Vec3
		var pd float64
		switch k {
		case 0:
			pn, pd = refU, refC.Dot(refU)+refHU
		case 1:
			pn, pd = refU.Mul(-1), -refC.Dot(refU)+refHU
		case 2:
			pn, pd = refV, refC.Dot(refV)+refHV
		case 3:
			pn, pd = refV.Mul(-1), -refC.Dot(refV)+refHV
		}
		clipped = clipPolygon(clipped, pn, pd)
		if len(clipped) == 0 {
			return nil
		}
	}

	var pts []manifoldPoint
	for _, p := range clipped {
		depth := refN.Dot(refC.Sub(p))
		if depth >= -margin {
			pts = append(pts, manifoldPoint{pos: p.Add(refN.Mul(depth / 2)), depth: depth})
		}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].depth > pts[j].depth })
	if len(pts) > 4 {
		pts = pts[:4]
	}
	return pts
}

// boxFace returns the face of a box whose outward normal best matches
// dir: the world normal, face center, the two in-face axes and their
// half-extents.
func boxFace(s *State, g int, sh *Shape, dir mgl64.Vec3) (n, c, u, v mgl64.Vec3, hu, hv float64) {
	local := s.gmat[g].Transpose().Mul3x1(dir)
	axis := 0
	for k := 1; k < 3; k++ {
		if math.Abs(local[k]) > math.Abs(local[axis]) {
			axis = k
		}
	}
	sgn := sign(local[axis])
	var ln, lu, lv mgl64.Vec3
	ln[axis] = sgn
	lu[(axis+1)%3] = 1
	lv[(axis+2)%3] = 1
	n = s.gmat[g].Mul3x1(ln)
	u = s.gmat[g].Mul3x1(lu)
	v = s.gmat[g].Mul3x1(lv)
	c = s.gpos[g].Add(n.Mul(sh.HalfExtents[axis]))
	hu = sh.HalfExtents[(axis+1)%3]
	hv = sh.HalfExtents[(axis+2)%3]
	return
}

// boxFaceCorners returns the four world corners of the box face whose
// outward normal best matches dir.
func boxFaceCorners(s *State, g int, sh *Shape, dir mgl64.Vec3) [4]mgl64.Vec3 {
	_, c, u, v, hu, hv := boxFace(s, g, sh, dir)
	return [4]mgl64.Vec3{
		c.Add(u.Mul(hu)).Add(v.Mul(hv)),
		c.Add(u.Mul(hu)).Sub(v.Mul(hv)),
		c.Sub(u.Mul(hu)).Sub(v.Mul(hv)),
		c.Sub(u.Mul(hu)).Add(v.Mul(hv)),
	}
}

// clipPolygon keeps the part of a convex polygon with pn.x <= pd
// (Sutherland-Hodgman, one plane).
func clipPolygon(poly []mgl64.Vec3, pn mgl64.Vec3, pd float64) []mgl64.Vec3 {
	var outPoly []mgl64.Vec3
	for i := 0; i < len(poly); i++ {
		cur := poly[i]
		next := poly[(i+1)%len(poly)]
		dc := pn.Dot(cur) - pd
		dn := pn.Dot(next) - pd
		if dc <= 0 {
			outPoly = append(outPoly, cur)
		}
		if (dc < 0 && dn > 0) || (dc > 0 && dn < 0) {
			t := dc / (dc - dn)
			outPoly = append(outPoly, cur.Add(next.Sub(cur).Mul(t)))
		}
	}
	return outPoly
}
