package rigid

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ShapeType enumerates the supported collision primitives. The numeric
// order is meaningful: narrow-phase dispatch canonicalizes every pair so
// the lower-typed shape comes first.
type ShapeType int

const (
	ShapePlane ShapeType = iota
	ShapeHField
	ShapeSphere
	ShapeCapsule
	ShapeBox
	ShapeCylinder
	ShapeConvex

	shapeTypeCount
)

func (t ShapeType) String() string {
	switch t {
	case ShapePlane:
		return "plane"
	case ShapeHField:
		return "hfield"
	case ShapeSphere:
		return "sphere"
	case ShapeCapsule:
		return "capsule"
	case ShapeBox:
		return "box"
	case ShapeCylinder:
		return "cylinder"
	case ShapeConvex:
		return "convex"
	}
	return "unknown"
}

// Shape is a tagged variant over all primitive types. Only the fields
// relevant to Type are meaningful. Shapes are immutable after compile;
// every geometric query goes through the fixed capability set below
// (support mapping, world AABB, bounding radius) so no other component
// needs to special-case shape internals.
type Shape struct {
	Type ShapeType

	// Sphere, capsule, cylinder.
	Radius float64

	// Capsule, cylinder: half-length along the local Z axis.
	HalfLength float64

	// Box: half-extents along the local axes.
	HalfExtents mgl64.Vec3

	// Convex: hull vertex buffer in the local frame.
	Verts []mgl64.Vec3

	// Heightfield grid. See hfield.go.
	HField *HField
}

// MakePlane returns the infinite plane Z=0 in the local frame, with the
// local +Z axis as outward normal.
func MakePlane() Shape {
	return Shape{Type: ShapePlane}
}

func MakeSphere(radius float64) Shape {
	return Shape{Type: ShapeSphere, Radius: radius}
}

// MakeCapsule returns a capsule along the local Z axis: a segment of
// half-length halfLength inflated by radius.
func MakeCapsule(radius, halfLength float64) Shape {
	return Shape{Type: ShapeCapsule, Radius: radius, HalfLength: halfLength}
}

func MakeBox(hx, hy, hz float64) Shape {
	return Shape{Type: ShapeBox, HalfExtents: mgl64.Vec3{hx, hy, hz}}
}

// MakeCylinder returns a cylinder along the local Z axis.
func MakeCylinder(radius, halfLength float64) Shape {
	return Shape{Type: ShapeCylinder, Radius: radius, HalfLength: halfLength}
}

// MakeConvex wraps a convex hull vertex buffer. The caller is responsible
// for the hull property; the support mapping simply scans the vertices.
func MakeConvex(verts []mgl64.Vec3) Shape {
	return Shape{Type: ShapeConvex, Verts: verts}
}

// MakeHFieldShape wraps a compiled heightfield grid.
func MakeHFieldShape(hf *HField) Shape {
	return Shape{Type: ShapeHField, HField: hf}
}

///////////////////////////////////////////////////////////////////////////////
// AABB
///////////////////////////////////////////////////////////////////////////////

// AABB is an axis-aligned bounding box in world space.
type AABB struct {
	Lo, Hi mgl64.Vec3
}

func (a AABB) Overlaps(b AABB) bool {
	return a.Lo[0] <= b.Hi[0] && b.Lo[0] <= a.Hi[0] &&
		a.Lo[1] <= b.Hi[1] && b.Lo[1] <= a.Hi[1] &&
		a.Lo[2] <= b.Hi[2] && b.Lo[2] <= a.Hi[2]
}

func (a AABB) Expand(margin float64) AABB {
	m := mgl64.Vec3{margin, margin, margin}
	return AABB{Lo: a.Lo.Sub(m), Hi: a.Hi.Add(m)}
}

const aabbInf = 1e30

///////////////////////////////////////////////////////////////////////////////
// Capability dispatch tables
///////////////////////////////////////////////////////////////////////////////

// supportFunc returns the farthest point of the shape in the given local
// direction (need not be normalized), in the local frame.
type supportFunc func(s *Shape, dir mgl64.Vec3) mgl64.Vec3

// aabbFunc returns a world AABB for the shape posed at pos with rotation mat.
type aabbFunc func(s *Shape, pos mgl64.Vec3, mat mgl64.Mat3) AABB

var supportTable [shapeTypeCount]supportFunc
var aabbTable [shapeTypeCount]aabbFunc

func init() {
	supportTable = [shapeTypeCount]supportFunc{
		ShapePlane:    supportPlane,
		ShapeHField:   supportHField,
		ShapeSphere:   supportSphere,
		ShapeCapsule:  supportCapsule,
		ShapeBox:      supportBox,
		ShapeCylinder: supportCylinder,
		ShapeConvex:   supportConvex,
	}
	aabbTable = [shapeTypeCount]aabbFunc{
		ShapePlane:    aabbPlane,
		ShapeHField:   aabbHField,
		ShapeSphere:   aabbSphere,
		ShapeCapsule:  aabbCapsule,
		ShapeBox:      aabbBox,
		ShapeCylinder: aabbCylinder,
		ShapeConvex:   aabbConvex,
	}
}

// Support returns the local-frame support point in the local direction dir.
func (s *Shape) Support(dir mgl64.Vec3) mgl64.Vec3 {
	return supportTable[s.Type](s, dir)
}

// WorldAABB returns the world-space bounding box of the shape under the
// given pose.
func (s *Shape) WorldAABB(pos mgl64.Vec3, mat mgl64.Mat3) AABB {
	return aabbTable[s.Type](s, pos, mat)
}

// BoundingRadius returns the radius of the bounding sphere around the local
// origin. Planes report zero, which broad-phase treats as unbounded.
func (s *Shape) BoundingRadius() float64 {
	switch s.Type {
	case ShapePlane:
		return 0
	case ShapeSphere:
		return s.Radius
	case ShapeCapsule:
		return s.Radius + s.HalfLength
	case ShapeBox:
		return s.HalfExtents.Len()
	case ShapeCylinder:
		return math.Hypot(s.Radius, s.HalfLength)
	case ShapeConvex:
		r := 0.0
		for _, v := range s.Verts {
			r = math.Max(r, v.Len())
		}
		return r
	case ShapeHField:
		return s.HField.boundingRadius()
	}
	return 0
}

///////////////////////////////////////////////////////////////////////////////
// Support mappings (local frame)
///////////////////////////////////////////////////////////////////////////////

func supportPlane(s *Shape, dir mgl64.Vec3) mgl64.Vec3 {
	// Planes never reach the support-based colliders; they are handled
	// analytically. Treat as a degenerate half-space cap for safety.
	return mgl64.Vec3{
		sign(dir[0]) * aabbInf,
		sign(dir[1]) * aabbInf,
		math.Min(0, sign(dir[2])*aabbInf),
	}
}

func supportHField(s *Shape, dir mgl64.Vec3) mgl64.Vec3 {
	// Heightfields collide through the per-triangle mid-phase, never as a
	// whole. Fall back to the grid's local bounding box.
	hf := s.HField
	ext := mgl64.Vec3{hf.SizeX, hf.SizeY, math.Max(math.Abs(hf.MinZ), math.Abs(hf.maxZ))}
	return mgl64.Vec3{sign(dir[0]) * ext[0], sign(dir[1]) * ext[1], sign(dir[2]) * ext[2]}
}

func supportSphere(s *Shape, dir mgl64.Vec3) mgl64.Vec3 {
	if dir.LenSqr() < 1e-24 {
		return mgl64.Vec3{s.Radius, 0, 0}
	}
	return dir.Normalize().Mul(s.Radius)
}

func supportCapsule(s *Shape, dir mgl64.Vec3) mgl64.Vec3 {
	p := mgl64.Vec3{0, 0, sign(dir[2]) * s.HalfLength}
	if dir.LenSqr() < 1e-24 {
		return p.Add(mgl64.Vec3{s.Radius, 0, 0})
	}
	return p.Add(dir.Normalize().Mul(s.Radius))
}

func supportBox(s *Shape, dir mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{
		sign(dir[0]) * s.HalfExtents[0],
		sign(dir[1]) * s.HalfExtents[1],
		sign(dir[2]) * s.HalfExtents[2],
	}
}

func supportCylinder(s *Shape, dir mgl64.Vec3) mgl64.Vec3 {
	p := mgl64.Vec3{0, 0, sign(dir[2]) * s.HalfLength}
	radial := mgl64.Vec3{dir[0], dir[1], 0}
	if radial.LenSqr() > 1e-24 {
		p = p.Add(radial.Normalize().Mul(s.Radius))
	}
	return p
}

func supportConvex(s *Shape, dir mgl64.Vec3) mgl64.Vec3 {
	best := 0
	bestDot := math.Inf(-1)
	for i, v := range s.Verts {
		d := v.Dot(dir)
		if d > bestDot {
			bestDot = d
			best = i
		}
	}
	if len(s.Verts) == 0 {
		return mgl64.Vec3{}
	}
	return s.Verts[best]
}

///////////////////////////////////////////////////////////////////////////////
// World AABBs
///////////////////////////////////////////////////////////////////////////////

func aabbPlane(s *Shape, pos mgl64.Vec3, mat mgl64.Mat3) AABB {
	return AABB{
		Lo: mgl64.Vec3{-aabbInf, -aabbInf, -aabbInf},
		Hi: mgl64.Vec3{aabbInf, aabbInf, aabbInf},
	}
}

func aabbSphere(s *Shape, pos mgl64.Vec3, mat mgl64.Mat3) AABB {
	r := mgl64.Vec3{s.Radius, s.Radius, s.Radius}
	return AABB{Lo: pos.Sub(r), Hi: pos.Add(r)}
}

func aabbCapsule(s *Shape, pos mgl64.Vec3, mat mgl64.Mat3) AABB {
	axis := mat.Mul3x1(mgl64.Vec3{0, 0, s.HalfLength})
	r := mgl64.Vec3{s.Radius, s.Radius, s.Radius}
	a := pos.Add(axis)
	b := pos.Sub(axis)
	lo := mgl64.Vec3{math.Min(a[0], b[0]), math.Min(a[1], b[1]), math.Min(a[2], b[2])}
	hi := mgl64.Vec3{math.Max(a[0], b[0]), math.Max(a[1], b[1]), math.Max(a[2], b[2])}
	return AABB{Lo: lo.Sub(r), Hi: hi.Add(r)}
}

func aabbBox(s *Shape, pos mgl64.Vec3, mat mgl64.Mat3) AABB {
	var ext mgl64.Vec3
	for i := 0; i < 3; i++ {
		ext[i] = math.Abs(mat.At(i, 0))*s.HalfExtents[0] +
			math.Abs(mat.At(i, 1))*s.HalfExtents[1] +
			math.Abs(mat.At(i, 2))*s.HalfExtents[2]
	}
	return AABB{Lo: pos.Sub(ext), Hi: pos.Add(ext)}
}

func aabbCylinder(s *Shape, pos mgl64.Vec3, mat mgl64.Mat3) AABB {
	axis := mat.Mul3x1(mgl64.Vec3{0, 0, 1})
	var ext mgl64.Vec3
	for i := 0; i < 3; i++ {
		// Exact extent of an oriented cylinder along a world axis.
		ext[i] = s.HalfLength*math.Abs(axis[i]) +
			s.Radius*math.Sqrt(math.Max(0, 1-axis[i]*axis[i]))
	}
	return AABB{Lo: pos.Sub(ext), Hi: pos.Add(ext)}
}

func aabbConvex(s *Shape, pos mgl64.Vec3, mat mgl64.Mat3) AABB {
	lo := mgl64.Vec3{aabbInf, aabbInf, aabbInf}
	hi := mgl64.Vec3{-aabbInf, -aabbInf, -aabbInf}
	for _, v := range s.Verts {
		w := pos.Add(mat.Mul3x1(v))
		for i := 0; i < 3; i++ {
			lo[i] = math.Min(lo[i], w[i])
			hi[i] = math.Max(hi[i], w[i])
		}
	}
	if len(s.Verts) == 0 {
		return AABB{Lo: pos, Hi: pos}
	}
	return AABB{Lo: lo, Hi: hi}
}

func aabbHField(s *Shape, pos mgl64.Vec3, mat mgl64.Mat3) AABB {
	hf := s.HField
	he := mgl64.Vec3{hf.SizeX, hf.SizeY, (hf.maxZ - hf.MinZ) / 2}
	center := mgl64.Vec3{0, 0, (hf.maxZ + hf.MinZ) / 2}
	var ext mgl64.Vec3
	for i := 0; i < 3; i++ {
		ext[i] = math.Abs(mat.At(i, 0))*he[0] +
			math.Abs(mat.At(i, 1))*he[1] +
			math.Abs(mat.At(i, 2))*he[2]
	}
	c := pos.Add(mat.Mul3x1(center))
	return AABB{Lo: c.Sub(ext), Hi: c.Add(ext)}
}
