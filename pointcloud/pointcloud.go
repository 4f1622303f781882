// Package pointcloud defines the captured terrain point sets and their calibration transforms.
package pointcloud

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// PointSet is a timestamped, unordered set of 3D points.
type PointSet struct {
	Points   []r3.Vector
	Captured time.Time
}

// New returns an empty point set captured at the given time.
func New(captured time.Time) *PointSet {
	return &PointSet{Captured: captured}
}

// NewWithPrealloc returns an empty point set with room for size points.
func NewWithPrealloc(captured time.Time, size int) *PointSet {
	return &PointSet{Points: make([]r3.Vector, 0, size), Captured: captured}
}

// Size returns the number of points.
func (ps *PointSet) Size() int {
	return len(ps.Points)
}

// Add appends a point.
func (ps *PointSet) Add(p r3.Vector) {
	ps.Points = append(ps.Points, p)
}

// Scale multiplies every coordinate by factor.
func (ps *PointSet) Scale(factor float64) *PointSet {
	for i, p := range ps.Points {
		ps.Points[i] = p.Mul(factor)
	}
	return ps
}

// RotationMatrix returns the rotation applied by Rotate. Angles are radians; yaw is about X, pitch
// about Y and roll about Z.
func RotationMatrix(yaw, pitch, roll float64) *mat.Dense {
	sy, cy := math.Sincos(yaw)
	sp, cp := math.Sincos(pitch)
	sr, cr := math.Sincos(roll)
	return mat.NewDense(3, 3, []float64{
		cr * cp, -(sr*cy + cr*sp*sy), sr*sy + cr*sp*cy,
		sr * cp, cr*cy + sr*sp*sy, -cr*sy + sr*sp*cy,
		-sp, cp * sy, cp * cy,
	})
}

// Rotate rotates every point about the origin.
func (ps *PointSet) Rotate(yaw, pitch, roll float64) *PointSet {
	if len(ps.Points) == 0 {
		return ps
	}
	data := make([]float64, 0, 3*len(ps.Points))
	for _, p := range ps.Points {
		data = append(data, p.X, p.Y, p.Z)
	}
	points := mat.NewDense(len(ps.Points), 3, data)

	var rotated mat.Dense
	rotated.Mul(points, RotationMatrix(yaw, pitch, roll).T())
	for i := range ps.Points {
		ps.Points[i] = r3.Vector{X: rotated.At(i, 0), Y: rotated.At(i, 1), Z: rotated.At(i, 2)}
	}
	return ps
}

// Translate offsets every point.
func (ps *PointSet) Translate(x, y, z float64) *PointSet {
	offset := r3.Vector{X: x, Y: y, Z: z}
	for i, p := range ps.Points {
		ps.Points[i] = p.Add(offset)
	}
	return ps
}

// PassbandFilter keeps only the points inside the box. Bounds are inclusive.
func (ps *PointSet) PassbandFilter(minX, maxX, minY, maxY, minZ, maxZ float64) *PointSet {
	kept := ps.Points[:0]
	for _, p := range ps.Points {
		if p.X < minX || p.X > maxX || p.Y < minY || p.Y > maxY || p.Z < minZ || p.Z > maxZ {
			continue
		}
		kept = append(kept, p)
	}
	ps.Points = kept
	return ps
}

// Bounds returns the minimum and maximum corner of the set.
func (ps *PointSet) Bounds() (r3.Vector, r3.Vector) {
	if len(ps.Points) == 0 {
		return r3.Vector{}, r3.Vector{}
	}
	lo, hi := ps.Points[0], ps.Points[0]
	for _, p := range ps.Points[1:] {
		lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	return lo, hi
}
