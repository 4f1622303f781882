// Package arm holds the live view of a connected robot and the commands that move it.
package arm

import (
	"context"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/soilbed/armctl/logging"
	"github.com/soilbed/armctl/protocol"
	"github.com/soilbed/armctl/transport"
	"github.com/soilbed/armctl/utils"
)

// ErrDisconnected is returned for every request made after the connection was lost.
var ErrDisconnected = errors.New("robot disconnected")

// UnknownModel is reported when the robot does not answer a model query.
const UnknownModel = "[WRN - Unable to identify model]"

// Requester sends one command and returns its response.
type Requester interface {
	Request(ctx context.Context, cmd string) (string, error)
}

// State is a snapshot of everything known about the robot. Numeric fields are NaN when their
// validity flag is false.
type State struct {
	Position         r3.Vector
	PositionValid    bool
	Orientation      r3.Vector
	OrientationValid bool
	Joints           [6]float64
	JointsValid      bool
	Force            [6]float64
	ForceValid       bool

	Moving         bool
	TrajectoryDone bool
	// Disconnected is sticky; once set no further requests are sent.
	Disconnected bool

	ForceMode   bool
	ForceAxis   protocol.Axis
	ForceTarget float64
}

// AxisForce returns the force measured along axis and whether it is valid.
func (s State) AxisForce(axis protocol.Axis) (float64, bool) {
	if !s.ForceValid {
		return math.NaN(), false
	}
	return s.Force[axis.Index()], true
}

// HomeConfig is the pose the robot returns to before and after every run.
type HomeConfig struct {
	Position    r3.Vector
	Orientation quat.Number
	FastSpeed   float64
	SlowSpeed   float64
}

// DefaultHomeConfig is the home pose of the soil bed rig.
func DefaultHomeConfig() HomeConfig {
	return HomeConfig{
		Position:    r3.Vector{X: 177.77, Y: 1777.27, Z: 350},
		Orientation: quat.Number{Real: 0.02607, Imag: -0.76666, Jmag: 0.64128, Kmag: 0.01799},
		FastSpeed:   500,
		SlowSpeed:   50,
	}
}

// Session owns the connection to one robot. It must only be used from one goroutine.
type Session struct {
	req    Requester
	logger logging.Logger
	state  State
	closed bool
}

// Connect dials the robot at address.
func Connect(ctx context.Context, address string, logger logging.Logger, opts ...transport.Option) (*Session, error) {
	opts = append([]transport.Option{transport.WithLogger(logger.Sublogger("transport"))}, opts...)
	client, err := transport.Dial(ctx, address, opts...)
	if err != nil {
		return nil, err
	}
	return NewSession(client, logger), nil
}

// NewSession wraps an existing requester.
func NewSession(req Requester, logger logging.Logger) *Session {
	s := &Session{req: req, logger: logger}
	s.state.ForceAxis = protocol.AxisZ
	s.invalidatePosition()
	s.invalidateOrientation()
	s.invalidateJoints()
	s.invalidateForce()
	return s
}

// State returns a copy of the current state.
func (s *Session) State() State {
	return s.state
}

// Disconnected reports whether the connection has been lost.
func (s *Session) Disconnected() bool {
	return s.state.Disconnected
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return utils.TryClose(s.req)
}

func (s *Session) request(ctx context.Context, cmd protocol.Command) (string, error) {
	if s.state.Disconnected {
		return "", ErrDisconnected
	}
	resp, err := s.req.Request(ctx, cmd.Wire())
	if err != nil {
		// A cancelled context says nothing about the connection.
		if ctx.Err() != nil && !errors.Is(err, transport.ErrLost) {
			return "", err
		}
		s.state.Disconnected = true
		s.logger.CWarnw(ctx, "robot disconnected", "command", cmd.Code, "error", err)
		return "", errors.Wrap(ErrDisconnected, err.Error())
	}
	return resp, nil
}

// Ping sends an echo request and returns the reply.
func (s *Session) Ping(ctx context.Context) (string, error) {
	return s.request(ctx, protocol.Command{Code: protocol.Echo, Payload: "PING"})
}

// Model returns the robot's model name, or UnknownModel.
func (s *Session) Model(ctx context.Context) string {
	model, err := s.request(ctx, protocol.Query(protocol.ModelName))
	if err != nil {
		return UnknownModel
	}
	return model
}

func (s *Session) queryVector(ctx context.Context, code protocol.Code, arity int) ([]float64, error) {
	resp, err := s.request(ctx, protocol.Query(code))
	if err != nil {
		return nil, err
	}
	values, err := protocol.ParseVector(resp, arity)
	if err != nil {
		s.logger.CWarnw(ctx, "read error, resetting field", "command", code, "response", resp, "error", err)
		return nil, nil
	}
	return values, nil
}

// ReadPosition refreshes the tool position. A malformed reply invalidates the field and is not
// an error.
func (s *Session) ReadPosition(ctx context.Context) error {
	values, err := s.queryVector(ctx, protocol.GetPosition, 3)
	if err != nil {
		return err
	}
	if values == nil {
		s.invalidatePosition()
		return nil
	}
	s.state.Position = r3.Vector{X: values[0], Y: values[1], Z: values[2]}
	s.state.PositionValid = true
	return nil
}

// ReadOrientation refreshes the tool orientation.
func (s *Session) ReadOrientation(ctx context.Context) error {
	values, err := s.queryVector(ctx, protocol.GetOrientation, 3)
	if err != nil {
		return err
	}
	if values == nil {
		s.invalidateOrientation()
		return nil
	}
	s.state.Orientation = r3.Vector{X: values[0], Y: values[1], Z: values[2]}
	s.state.OrientationValid = true
	return nil
}

// ReadJointAngles refreshes the joint angles.
func (s *Session) ReadJointAngles(ctx context.Context) error {
	values, err := s.queryVector(ctx, protocol.GetJointAngles, 6)
	if err != nil {
		return err
	}
	if values == nil {
		s.invalidateJoints()
		return nil
	}
	copy(s.state.Joints[:], values)
	s.state.JointsValid = true
	return nil
}

// ReadForce refreshes the 6-axis force/torque reading.
func (s *Session) ReadForce(ctx context.Context) error {
	values, err := s.queryVector(ctx, protocol.GetForce, 6)
	if err != nil {
		return err
	}
	if values == nil {
		s.invalidateForce()
		return nil
	}
	copy(s.state.Force[:], values)
	s.state.ForceValid = true
	return nil
}

// ReadMoveState refreshes the motion flag. "0" means moving and "1" stationary.
func (s *Session) ReadMoveState(ctx context.Context) error {
	resp, err := s.request(ctx, protocol.Query(protocol.GetMoveState))
	if err != nil {
		return err
	}
	switch strings.TrimSpace(resp) {
	case "0":
		s.state.Moving = true
	case "1":
		s.state.Moving = false
	default:
		s.logger.CWarnw(ctx, "invalid move state response", "response", resp)
	}
	return nil
}

// ReadTrajectoryDone refreshes the trajectory done flag.
func (s *Session) ReadTrajectoryDone(ctx context.Context) error {
	resp, err := s.request(ctx, protocol.Query(protocol.GetTrajectoryDone))
	if err != nil {
		return err
	}
	switch strings.ToUpper(strings.TrimSpace(resp)) {
	case "TRUE":
		s.state.TrajectoryDone = true
	case "FALSE":
		s.state.TrajectoryDone = false
	default:
		s.logger.CWarnw(ctx, "invalid trajectory done response", "response", resp)
	}
	return nil
}

// UpdateDeviceInfo runs one poll cycle. It stops at the first query that finds the robot
// disconnected.
func (s *Session) UpdateDeviceInfo(ctx context.Context) error {
	for _, read := range []func(context.Context) error{
		s.ReadPosition,
		s.ReadOrientation,
		s.ReadForce,
		s.ReadMoveState,
		s.ReadTrajectoryDone,
	} {
		if err := read(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) invalidatePosition() {
	s.state.Position = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
	s.state.PositionValid = false
}

func (s *Session) invalidateOrientation() {
	s.state.Orientation = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
	s.state.OrientationValid = false
}

func (s *Session) invalidateJoints() {
	for i := range s.state.Joints {
		s.state.Joints[i] = math.NaN()
	}
	s.state.JointsValid = false
}

func (s *Session) invalidateForce() {
	for i := range s.state.Force {
		s.state.Force[i] = math.NaN()
	}
	s.state.ForceValid = false
}
