package trajectory

import (
	"math"

	"github.com/golang/geo/r3"
)

// DefaultZ is the working height of the built-in presets.
const DefaultZ = 161.0

const wiggleMove = 0.25

// DefaultPresets returns the built-in trajectories at working height z.
func DefaultPresets(z float64) map[string]Generator {
	return map[string]Generator{
		"line": func() ([]Waypoint, error) {
			return []Waypoint{{X: 400, Y: 1600, Z: z}, {X: 400, Y: 2200, Z: z}}, nil
		},
		"dline": func() ([]Waypoint, error) {
			return discretisedLine(r3.Vector{X: 400, Y: 1800, Z: z}, r3.Vector{X: 400, Y: 2600, Z: z}, 1000), nil
		},
		"circle": func() ([]Waypoint, error) {
			return circle(r3.Vector{X: 200, Y: 2160, Z: z}, 350, 1), nil
		},
		"slidedown": func() ([]Waypoint, error) {
			return []Waypoint{{X: 262, Y: 1650, Z: z}, {X: 262, Y: 2100, Z: z - 50}}, nil
		},
		"wiggle": func() ([]Waypoint, error) {
			return wiggle(r3.Vector{X: 200, Y: 2160, Z: z}, 300), nil
		},
	}
}

// discretisedLine returns points+1 waypoints evenly spaced in y from start to end.
func discretisedLine(start, end r3.Vector, points int) []Waypoint {
	step := (end.Y - start.Y) / float64(points)
	wps := make([]Waypoint, 0, points+1)
	wps = append(wps, start)
	for i := 1; i < points; i++ {
		wps = append(wps, Waypoint{X: start.X, Y: start.Y + float64(i)*step, Z: start.Z})
	}
	return append(wps, end)
}

// circle walks the circle one degree at a time, starting at 1 degree and stopping short of a
// full turn per loop.
func circle(centre r3.Vector, radius float64, loops int) []Waypoint {
	wps := make([]Waypoint, 0, 360*loops)
	for i := 1; i < 360*loops; i++ {
		sin, cos := math.Sincos(float64(i) * math.Pi / 180)
		wps = append(wps, Waypoint{X: centre.X + sin*radius, Y: centre.Y + cos*radius, Z: centre.Z})
	}
	return wps
}

func wiggle(start r3.Vector, iterations int) []Waypoint {
	var wps []Waypoint
	for i := 1; i < iterations; i++ {
		if i%2 == 0 {
			wps = append(wps, Waypoint{X: start.X + wiggleMove, Y: start.Y, Z: start.Z})
		}
		if i%3 == 0 {
			wps = append(wps, start)
		}
		if i%4 == 0 {
			wps = append(wps, Waypoint{X: start.X - wiggleMove, Y: start.Y, Z: start.Z})
		}
		if i%5 == 0 {
			wps = append(wps, Waypoint{X: start.X, Y: start.Y + wiggleMove, Z: start.Z})
		}
		if i%6 == 0 {
			wps = append(wps, Waypoint{X: start.X, Y: start.Y - wiggleMove, Z: start.Z})
		}
	}
	return wps
}
