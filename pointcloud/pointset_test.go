package pointcloud

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func newTestSet() *PointSet {
	ps := New(time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC))
	ps.Add(r3.Vector{X: 1, Y: 2, Z: 3})
	ps.Add(r3.Vector{X: -1, Y: 0.5, Z: 10})
	ps.Add(r3.Vector{X: 4, Y: -2, Z: 0})
	return ps
}

func TestScaleTranslate(t *testing.T) {
	ps := newTestSet().Scale(2).Translate(1, 1, 1)
	test.That(t, ps.Points[0], test.ShouldResemble, r3.Vector{X: 3, Y: 5, Z: 7})
	test.That(t, ps.Points[2], test.ShouldResemble, r3.Vector{X: 9, Y: -3, Z: 1})
}

func TestRotate(t *testing.T) {
	ps := New(time.Now())
	ps.Add(r3.Vector{X: 1, Y: 0, Z: 0})

	// A quarter turn of roll takes x onto y.
	ps.Rotate(0, 0, math.Pi/2)
	test.That(t, ps.Points[0].X, test.ShouldAlmostEqual, 0)
	test.That(t, ps.Points[0].Y, test.ShouldAlmostEqual, 1)
	test.That(t, ps.Points[0].Z, test.ShouldAlmostEqual, 0)

	// A zero rotation is the identity.
	ps = newTestSet()
	original := append([]r3.Vector(nil), ps.Points...)
	ps.Rotate(0, 0, 0)
	for i, p := range ps.Points {
		test.That(t, p.X, test.ShouldAlmostEqual, original[i].X)
		test.That(t, p.Y, test.ShouldAlmostEqual, original[i].Y)
		test.That(t, p.Z, test.ShouldAlmostEqual, original[i].Z)
	}

	// Rotation preserves length.
	ps = newTestSet().Rotate(0.785, math.Pi, 0)
	for i, p := range ps.Points {
		test.That(t, p.Norm(), test.ShouldAlmostEqual, original[i].Norm())
	}

	test.That(t, New(time.Now()).Rotate(1, 2, 3).Size(), test.ShouldEqual, 0)
}

func TestPassbandFilter(t *testing.T) {
	ps := newTestSet().PassbandFilter(-1, 1, 0.5, 2, 3, 10)
	test.That(t, ps.Size(), test.ShouldEqual, 2)
	test.That(t, ps.Points[0], test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, ps.Points[1], test.ShouldResemble, r3.Vector{X: -1, Y: 0.5, Z: 10})

	lo, hi := ps.Bounds()
	test.That(t, lo, test.ShouldResemble, r3.Vector{X: -1, Y: 0.5, Z: 3})
	test.That(t, hi, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 10})
}

func TestPCDRoundTrip(t *testing.T) {
	for _, pcdType := range []PCDType{PCDAscii, PCDBinary} {
		ps := newTestSet()
		var buf bytes.Buffer
		test.That(t, ToPCD(ps, &buf, pcdType), test.ShouldBeNil)

		read, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, read.Captured.Equal(ps.Captured), test.ShouldBeTrue)
		test.That(t, read.Size(), test.ShouldEqual, ps.Size())
		for i, p := range read.Points {
			test.That(t, p.X, test.ShouldAlmostEqual, ps.Points[i].X)
			test.That(t, p.Y, test.ShouldAlmostEqual, ps.Points[i].Y)
			test.That(t, p.Z, test.ShouldAlmostEqual, ps.Points[i].Z)
		}
	}
}

func TestPCDHeader(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, ToPCD(newTestSet(), &buf, PCDAscii), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring,
		"VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 3\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 3\nDATA ascii\n")
	test.That(t, buf.String(), test.ShouldContainSubstring, "1.000000 2.000000 3.000000\n")

	_, err := ReadPCD(bytes.NewBufferString("VERSION .6\n"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSaveToFile(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "pcl_trial_START")
	path, err := newTestSet().SaveToFile(prefix)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path, test.ShouldEqual, prefix+".pcd")

	read, err := ReadFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Size(), test.ShouldEqual, 3)

	_, err = newTestSet().SaveToFile(filepath.Join(t.TempDir(), "missing", "dir", "pcl"))
	test.That(t, err, test.ShouldNotBeNil)
}
