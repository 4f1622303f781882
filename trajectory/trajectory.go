// Package trajectory provides the named waypoint generators the executor runs.
package trajectory

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrTooFewWaypoints is returned for a trajectory that cannot describe a motion.
var ErrTooFewWaypoints = errors.New("trajectory needs at least 2 waypoints")

// ErrUnknownTrajectory is returned when no generator is registered under a name.
var ErrUnknownTrajectory = errors.New("unknown trajectory")

// Waypoint is a tool position in millimetres.
type Waypoint = r3.Vector

// Generator produces an ordered list of waypoints.
type Generator func() ([]Waypoint, error)

// Library maps trajectory names to generators. Names are case-insensitive.
type Library struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewLibrary returns a library holding gens.
func NewLibrary(gens map[string]Generator) *Library {
	l := &Library{generators: map[string]Generator{}}
	for name, gen := range gens {
		l.Register(name, gen)
	}
	return l
}

// Register adds or replaces a generator.
func (l *Library) Register(name string, gen Generator) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generators[strings.ToLower(name)] = gen
}

// Generate runs the generator registered under name.
func (l *Library) Generate(name string) ([]Waypoint, error) {
	l.mu.RLock()
	gen, ok := l.generators[strings.ToLower(name)]
	l.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTrajectory, "%q, available: %s", name, strings.Join(l.Names(), ", "))
	}
	return gen()
}

// Names returns the registered names, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := lo.Keys(l.generators)
	sort.Strings(names)
	return names
}

// Validate rejects trajectories with fewer than two waypoints.
func Validate(wps []Waypoint) error {
	if len(wps) < 2 {
		return errors.Wrapf(ErrTooFewWaypoints, "got %d", len(wps))
	}
	return nil
}

// Relative returns the start waypoint followed by the delta from each waypoint to the next.
func Relative(wps []Waypoint) []Waypoint {
	if len(wps) == 0 {
		return nil
	}
	deltas := lo.Map(wps[1:], func(wp Waypoint, i int) Waypoint {
		return wp.Sub(wps[i])
	})
	return append([]Waypoint{wps[0]}, deltas...)
}

// Timing is how long to move at a given lateral velocity to reach the next waypoint.
type Timing struct {
	Seconds float64
	XSpeed  float64
	YSpeed  float64
}

// XYTiming splits a lateral speed into x and y components for every segment of wps.
func XYTiming(wps []Waypoint, lateralSpeed float64) []Timing {
	if len(wps) < 2 || lateralSpeed == 0 {
		return nil
	}
	timings := make([]Timing, 0, len(wps)-1)
	last := wps[0]
	for _, wp := range wps[1:] {
		dx, dy := wp.X-last.X, wp.Y-last.Y
		var xSpeed, ySpeed float64
		switch {
		case dx == 0:
			ySpeed = lateralSpeed
		case dy == 0:
			xSpeed = lateralSpeed
		default:
			ratio := math.Abs(dx / dy)
			ySpeed = math.Sqrt(lateralSpeed * lateralSpeed / (ratio*ratio + 1))
			xSpeed = ratio * ySpeed
		}
		if wp.X < last.X {
			xSpeed = -xSpeed
		}
		if wp.Y < last.Y {
			ySpeed = -ySpeed
		}
		timings = append(timings, Timing{
			Seconds: math.Hypot(dx, dy) / lateralSpeed,
			XSpeed:  xSpeed,
			YSpeed:  ySpeed,
		})
		last = wp
	}
	return timings
}
