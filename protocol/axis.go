package protocol

import (
	"strings"

	"github.com/pkg/errors"
)

// Axis is a force-control axis.
type Axis int

// The force-control axes. Only Z is implemented by the controller.
const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	}
	return "?"
}

// Index returns the position of the axis' force component in a 6-axis wrench reading.
func (a Axis) Index() int {
	return int(a)
}

// Implemented reports whether the device supports force control along the axis.
func (a Axis) Implemented() bool {
	return a == AxisZ
}

// ParseAxis parses "x", "y" or "z", ignoring case.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "X":
		return AxisX, nil
	case "Y":
		return AxisY, nil
	case "Z":
		return AxisZ, nil
	}
	return 0, errors.Errorf("unknown axis %q", s)
}
