// Package protocol defines the closed command vocabulary spoken to the robot controller and the
// helpers used to serialize requests and parse responses.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

var (
	// ErrArity is returned when a response does not carry the expected number of values.
	ErrArity = errors.New("unexpected number of values in response")
	// ErrEchoMismatch is returned when a safety-critical command is not echoed back exactly.
	ErrEchoMismatch = errors.New("response does not echo command")
)

// Code is a device command mnemonic.
type Code int

// The supported command codes.
const (
	Echo Code = iota
	ModelName
	GetPosition
	GetOrientation
	GetJointAngles
	GetForce
	GetMoveState
	GetTrajectoryDone
	MoveTo
	MoveTool
	MoveRelative
	SetJoints
	QueueAddTranslation
	QueueAddRotation
	QueueGo
	QueueStop
	SetSpeed
	SetOrientation
	ForceMode
	ForceConfig
)

var codeMnemonics = map[Code]string{
	Echo:                "ECHO",
	ModelName:           "RMDL",
	GetPosition:         "GTPS",
	GetOrientation:      "GTOR",
	GetJointAngles:      "GTJA",
	GetForce:            "GTFC",
	GetMoveState:        "MVST",
	GetTrajectoryDone:   "TJDN",
	MoveTo:              "MVTO",
	MoveTool:            "MVTL",
	MoveRelative:        "MVRL",
	SetJoints:           "STJT",
	QueueAddTranslation: "TQAD",
	QueueAddRotation:    "RQAD",
	QueueGo:             "TJGO",
	QueueStop:           "TJST",
	SetSpeed:            "STSP",
	SetOrientation:      "STOR",
	ForceMode:           "FCMD",
	ForceConfig:         "FCCF",
}

func (c Code) String() string {
	if s, ok := codeMnemonics[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// ParseCode returns the Code for a 4-letter mnemonic.
func ParseCode(mnemonic string) (Code, error) {
	for code, s := range codeMnemonics {
		if strings.EqualFold(s, mnemonic) {
			return code, nil
		}
	}
	return 0, errors.Errorf("unknown command code %q", mnemonic)
}

// SafetyCritical reports whether a response to this code must echo the payload exactly.
func (c Code) SafetyCritical() bool {
	switch c {
	case MoveRelative, ForceMode, ForceConfig:
		return true
	case Echo, ModelName, GetPosition, GetOrientation, GetJointAngles, GetForce, GetMoveState,
		GetTrajectoryDone, MoveTo, MoveTool, SetJoints, QueueAddTranslation, QueueAddRotation,
		QueueGo, QueueStop, SetSpeed, SetOrientation:
		return false
	}
	return false
}

// Command is a single request to the device.
type Command struct {
	Code    Code
	Payload string
}

// Wire serializes the command as "CODE:payload".
func (c Command) Wire() string {
	return c.Code.String() + ":" + c.Payload
}

func (c Command) String() string {
	return c.Wire()
}

// ParseCommand parses a wire string of the form "CODE:payload".
func ParseCommand(wire string) (Command, error) {
	mnemonic, payload, found := strings.Cut(wire, ":")
	if !found {
		return Command{}, errors.Errorf("malformed command %q", wire)
	}
	code, err := ParseCode(mnemonic)
	if err != nil {
		return Command{}, err
	}
	return Command{Code: code, Payload: payload}, nil
}

// Query returns a state query command with its conventional payload.
func Query(code Code) Command {
	if code == GetTrajectoryDone {
		return Command{Code: code, Payload: "?"}
	}
	return Command{Code: code, Payload: "0"}
}

// VerifyEcho checks that resp is exactly the command's payload, ignoring case.
func VerifyEcho(cmd Command, resp string) error {
	if !strings.EqualFold(resp, cmd.Payload) {
		return errors.Wrapf(ErrEchoMismatch, "%s: sent %q, got %q", cmd.Code, cmd.Payload, resp)
	}
	return nil
}

// FormatFloat formats a value the way the controller expects to read it.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatVector formats a vector payload as "[x,y,z]".
func FormatVector(v r3.Vector) string {
	return FormatValues(v.X, v.Y, v.Z)
}

// FormatValues formats values as a bracketed, comma separated list.
func FormatValues(values ...float64) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, FormatFloat(v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// FormatQuaternion formats an orientation as "[w, x, y, z]".
func FormatQuaternion(q quat.Number) string {
	return fmt.Sprintf("[%s, %s, %s, %s]",
		FormatFloat(q.Real), FormatFloat(q.Imag), FormatFloat(q.Jmag), FormatFloat(q.Kmag))
}

// FormatJoints formats absolute joint targets followed by the unused external axes.
func FormatJoints(joints [6]float64) string {
	return "[" + FormatValues(joints[:]...) + ", [9E9,9E9,9E9,9E9,9E9,9E9]]"
}

// ParseVector strips the enclosing brackets of a response, splits it on commas and parses each
// element. The number of values must equal arity.
func ParseVector(resp string, arity int) ([]float64, error) {
	if len(resp) < 2 {
		return nil, errors.Wrapf(ErrArity, "expected %d values, got %q", arity, resp)
	}
	parts := strings.Split(resp[1:len(resp)-1], ",")
	if len(parts) != arity {
		return nil, errors.Wrapf(ErrArity, "expected %d values, got %d in %q", arity, len(parts), resp)
	}
	values := make([]float64, 0, arity)
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %q", resp)
		}
		values = append(values, v)
	}
	return values, nil
}
