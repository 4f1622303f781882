package trajectory

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestPresets(t *testing.T) {
	lib := NewLibrary(DefaultPresets(DefaultZ))
	test.That(t, lib.Names(), test.ShouldResemble, []string{"circle", "dline", "line", "slidedown", "wiggle"})

	line, err := lib.Generate("LINE")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, line, test.ShouldResemble, []Waypoint{{X: 400, Y: 1600, Z: 161}, {X: 400, Y: 2200, Z: 161}})

	dline, err := lib.Generate("dline")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dline, test.ShouldHaveLength, 1001)
	test.That(t, dline[0], test.ShouldResemble, Waypoint{X: 400, Y: 1800, Z: 161})
	test.That(t, dline[500].Y, test.ShouldAlmostEqual, 2200)
	test.That(t, dline[1000], test.ShouldResemble, Waypoint{X: 400, Y: 2600, Z: 161})

	circle, err := lib.Generate("circle")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, circle, test.ShouldHaveLength, 359)
	for _, wp := range circle {
		test.That(t, math.Hypot(wp.X-200, wp.Y-2160), test.ShouldAlmostEqual, 350)
	}
	test.That(t, circle[89].X, test.ShouldAlmostEqual, 550)
	test.That(t, circle[89].Y, test.ShouldAlmostEqual, 2160)

	slide, err := lib.Generate("slidedown")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, slide[1], test.ShouldResemble, Waypoint{X: 262, Y: 2100, Z: 111})

	wiggle, err := lib.Generate("wiggle")
	test.That(t, err, test.ShouldBeNil)
	// i in [1,300): 149 evens, 99 multiples of 3, 74 of 4, 59 of 5, 49 of 6.
	test.That(t, wiggle, test.ShouldHaveLength, 149+99+74+59+49)
	test.That(t, wiggle[0], test.ShouldResemble, Waypoint{X: 200.25, Y: 2160, Z: 161})

	_, err = lib.Generate("spiral")
	test.That(t, errors.Is(err, ErrUnknownTrajectory), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "circle, dline")
}

func TestPresetsAtCustomHeight(t *testing.T) {
	lib := NewLibrary(DefaultPresets(120))
	line, err := lib.Generate("line")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, line[0].Z, test.ShouldEqual, 120)
}

func TestValidate(t *testing.T) {
	test.That(t, errors.Is(Validate(nil), ErrTooFewWaypoints), test.ShouldBeTrue)
	test.That(t, errors.Is(Validate([]Waypoint{{}}), ErrTooFewWaypoints), test.ShouldBeTrue)
	test.That(t, Validate([]Waypoint{{}, {X: 1}}), test.ShouldBeNil)
}

func TestRelative(t *testing.T) {
	rel := Relative([]Waypoint{{X: 400, Y: 1600, Z: 161}, {X: 400, Y: 1700, Z: 161}, {X: 390, Y: 1700, Z: 150}})
	test.That(t, rel, test.ShouldResemble, []Waypoint{
		{X: 400, Y: 1600, Z: 161},
		{X: 0, Y: 100, Z: 0},
		{X: -10, Y: 0, Z: -11},
	})
	test.That(t, Relative(nil), test.ShouldBeNil)
	test.That(t, Relative([]Waypoint{{X: 1}}), test.ShouldResemble, []Waypoint{{X: 1}})
}

func TestXYTiming(t *testing.T) {
	timings := XYTiming([]Waypoint{
		{X: 0, Y: 0},
		{X: 0, Y: 100},
		{X: -50, Y: 100},
		{X: -20, Y: 60},
	}, 10)
	test.That(t, timings, test.ShouldHaveLength, 3)
	test.That(t, timings[0], test.ShouldResemble, Timing{Seconds: 10, XSpeed: 0, YSpeed: 10})
	test.That(t, timings[1], test.ShouldResemble, Timing{Seconds: 5, XSpeed: -10, YSpeed: 0})

	// A 3-4-5 segment.
	test.That(t, timings[2].Seconds, test.ShouldAlmostEqual, 5)
	test.That(t, timings[2].XSpeed, test.ShouldAlmostEqual, 6)
	test.That(t, timings[2].YSpeed, test.ShouldAlmostEqual, -8)

	test.That(t, XYTiming([]Waypoint{{}}, 10), test.ShouldBeNil)
}

func TestCustomLoader(t *testing.T) {
	dir := t.TempDir()
	content := "# furrow drawn on the bench\n(100 200),(110.5 220),,(120 240)\n"
	test.That(t, os.WriteFile(filepath.Join(dir, "Furrow.traj"), []byte(content), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "broken.traj"), []byte("(1 2 3)"), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("(1 2)"), 0o600), test.ShouldBeNil)

	lib := NewLibrary(nil)
	names, err := NewCustomLoader(dir).Register(lib)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names, test.ShouldResemble, []string{"custom/furrow", "custom/broken"})

	wps, err := lib.Generate("custom/furrow")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, wps, test.ShouldResemble, []Waypoint{
		r3.Vector{X: 100, Y: 200, Z: 125},
		r3.Vector{X: 110.5, Y: 220, Z: 125},
		r3.Vector{X: 120, Y: 240, Z: 125},
	})

	_, err = lib.Generate("custom/broken")
	test.That(t, err, test.ShouldNotBeNil)

	names, err = NewCustomLoader(filepath.Join(dir, "nope")).Register(lib)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names, test.ShouldBeEmpty)
}
