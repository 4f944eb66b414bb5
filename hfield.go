package rigid

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// HField is a rectangular elevation grid in the shape's local frame. Rows
// run along local Y, columns along local X. The grid covers
// [-SizeX, SizeX] x [-SizeY, SizeY]; Data holds world-unit elevations in
// row-major order; the solid extends down to MinZ so thin terrain still
// has volume for penetration recovery.
//
// Each cell splits into two triangles:
//
//	01 -- 11        triangle 0: (00, 10, 11)
//	 |  /  |        triangle 1: (00, 11, 01)
//	00 -- 10
//
// All queries are localized: callers name the cells they need and the
// grid is never scanned whole during a step.
type HField struct {
	NRow, NCol int
	Data       []float64
	SizeX      float64
	SizeY      float64
	MinZ       float64

	maxZ float64
}

// MakeHField compiles an elevation grid. Data is row-major with NRow*NCol
// entries and is not copied.
func MakeHField(nrow, ncol int, data []float64, sizeX, sizeY, minZ float64) *HField {
	hf := &HField{
		NRow:  nrow,
		NCol:  ncol,
		Data:  data,
		SizeX: sizeX,
		SizeY: sizeY,
		MinZ:  minZ,
		maxZ:  minZ,
	}
	for _, z := range data {
		hf.maxZ = math.Max(hf.maxZ, z)
	}
	return hf
}

func (hf *HField) valid() bool {
	return hf.NRow >= 2 && hf.NCol >= 2 &&
		len(hf.Data) == hf.NRow*hf.NCol &&
		hf.SizeX > 0 && hf.SizeY > 0
}

func (hf *HField) cellDX() float64 { return 2 * hf.SizeX / float64(hf.NCol-1) }
func (hf *HField) cellDY() float64 { return 2 * hf.SizeY / float64(hf.NRow-1) }

func (hf *HField) boundingRadius() float64 {
	z := math.Max(math.Abs(hf.MinZ), math.Abs(hf.maxZ))
	return math.Sqrt(hf.SizeX*hf.SizeX + hf.SizeY*hf.SizeY + z*z)
}

// vertex returns the local-frame position of grid node (row, col).
func (hf *HField) vertex(row, col int) mgl64.Vec3 {
	return mgl64.Vec3{
		-hf.SizeX + float64(col)*hf.cellDX(),
		-hf.SizeY + float64(row)*hf.cellDY(),
		hf.Data[row*hf.NCol+col],
	}
}

// Triangle returns the local-frame corners of one of the two triangles of
// cell (row, col). which is 0 or 1. Winding is counter-clockwise seen
// from above, so the face normal has a positive Z component for any
// non-vertical cell.
func (hf *HField) Triangle(row, col, which int) [3]mgl64.Vec3 {
	v00 := hf.vertex(row, col)
	v10 := hf.vertex(row, col+1)
	v01 := hf.vertex(row+1, col)
	v11 := hf.vertex(row+1, col+1)
	if which == 0 {
		return [3]mgl64.Vec3{v00, v10, v11}
	}
	return [3]mgl64.Vec3{v00, v11, v01}
}

// CellRange returns the half-open cell index range [rowLo,rowHi) x
// [colLo,colHi) overlapped by a local-frame AABB, clamped to the grid.
// Only these cells need narrow-phase attention; the rest of the grid is
// never touched.
func (hf *HField) CellRange(lo, hi mgl64.Vec3) (rowLo, rowHi, colLo, colHi int) {
	dx, dy := hf.cellDX(), hf.cellDY()
	colLo = clamp(int(math.Floor((lo[0]+hf.SizeX)/dx)), 0, hf.NCol-2)
	colHi = clamp(int(math.Floor((hi[0]+hf.SizeX)/dx))+1, 1, hf.NCol-1)
	rowLo = clamp(int(math.Floor((lo[1]+hf.SizeY)/dy)), 0, hf.NRow-2)
	rowHi = clamp(int(math.Floor((hi[1]+hf.SizeY)/dy))+1, 1, hf.NRow-1)
	return
}

// HeightAt returns the exact surface elevation at local (x, y), resolved
// on the triangle containing the point. Points outside the grid clamp to
// the border.
func (hf *HField) HeightAt(x, y float64) float64 {
	p, _ := hf.surfaceAt(x, y)
	return p
}

// NormalAt returns the unit surface normal at local (x, y).
func (hf *HField) NormalAt(x, y float64) mgl64.Vec3 {
	_, n := hf.surfaceAt(x, y)
	return n
}

func (hf *HField) surfaceAt(x, y float64) (float64, mgl64.Vec3) {
	dx, dy := hf.cellDX(), hf.cellDY()
	fx := clamp((x+hf.SizeX)/dx, 0, float64(hf.NCol-1))
	fy := clamp((y+hf.SizeY)/dy, 0, float64(hf.NRow-1))
	col := clamp(int(fx), 0, hf.NCol-2)
	row := clamp(int(fy), 0, hf.NRow-2)
	u := fx - float64(col)
	v := fy - float64(row)

	// Upper-left triangle when the point is above the cell diagonal.
	which := 0
	if v > u {
		which = 1
	}
	tri := hf.Triangle(row, col, which)
	n := tri[1].Sub(tri[0]).Cross(tri[2].Sub(tri[0]))
	if n.LenSqr() < 1e-24 {
		return tri[0][2], mgl64.Vec3{0, 0, 1}
	}
	n = n.Normalize()
	if math.Abs(n[2]) < 1e-12 {
		return tri[0][2], n
	}
	// Plane equation through tri[0].
	px := -hf.SizeX + fx*dx
	py := -hf.SizeY + fy*dy
	z := tri[0][2] - (n[0]*(px-tri[0][0])+n[1]*(py-tri[0][1]))/n[2]
	return z, n
}
