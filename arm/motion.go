package arm

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/soilbed/armctl/protocol"
)

// motion sends a command whose reply carries no information. A failure means the robot may not
// have moved; it is logged and returned for callers that care.
func (s *Session) motion(ctx context.Context, cmd protocol.Command) error {
	if _, err := s.request(ctx, cmd); err != nil {
		s.logger.CWarnw(ctx, "no response, robot may not have moved", "command", cmd.Wire(), "error", err)
		return err
	}
	return nil
}

// motionAndRefresh is motion followed by a poll cycle.
func (s *Session) motionAndRefresh(ctx context.Context, cmd protocol.Command) error {
	if err := s.motion(ctx, cmd); err != nil {
		return err
	}
	return s.UpdateDeviceInfo(ctx)
}

// MoveTo moves the tool to an absolute position.
func (s *Session) MoveTo(ctx context.Context, pos r3.Vector) error {
	return s.motionAndRefresh(ctx, protocol.Command{Code: protocol.MoveTo, Payload: protocol.FormatVector(pos)})
}

// MoveTool moves the tool along its own axes.
func (s *Session) MoveTool(ctx context.Context, offset r3.Vector) error {
	return s.motionAndRefresh(ctx, protocol.Command{Code: protocol.MoveTool, Payload: protocol.FormatVector(offset)})
}

// SetJoints moves to absolute joint angles in degrees.
func (s *Session) SetJoints(ctx context.Context, joints [6]float64) error {
	return s.motionAndRefresh(ctx, protocol.Command{Code: protocol.SetJoints, Payload: protocol.FormatJoints(joints)})
}

// SetOrientation reorients the tool.
func (s *Session) SetOrientation(ctx context.Context, q quat.Number) error {
	return s.motionAndRefresh(ctx, protocol.Command{Code: protocol.SetOrientation, Payload: protocol.FormatQuaternion(q)})
}

// SetSpeed sets the tool speed in mm/s.
func (s *Session) SetSpeed(ctx context.Context, speed float64) error {
	if err := s.motion(ctx, protocol.Command{Code: protocol.SetSpeed, Payload: protocol.FormatFloat(speed)}); err != nil {
		s.logger.CWarnw(ctx, "robot speed is unknown", "requested", speed)
		return err
	}
	return nil
}

// QueueAddTranslation appends an absolute position to the robot's motion queue.
func (s *Session) QueueAddTranslation(ctx context.Context, pos r3.Vector) error {
	return s.motion(ctx, protocol.Command{Code: protocol.QueueAddTranslation, Payload: protocol.FormatVector(pos)})
}

// QueueAddRotation appends an orientation to the robot's motion queue.
func (s *Session) QueueAddRotation(ctx context.Context, q quat.Number) error {
	return s.motion(ctx, protocol.Command{Code: protocol.QueueAddRotation, Payload: protocol.FormatQuaternion(q)})
}

// QueueGo starts executing the motion queue.
func (s *Session) QueueGo(ctx context.Context) error {
	return s.motion(ctx, protocol.Query(protocol.QueueGo))
}

// QueueStop halts the motion queue.
func (s *Session) QueueStop(ctx context.Context) error {
	return s.motion(ctx, protocol.Query(protocol.QueueStop))
}

// Home returns the robot to cfg at fast speed then drops to slow speed. Each step is allowed to
// fail; only a lost connection is reported.
func (s *Session) Home(ctx context.Context, cfg HomeConfig) error {
	//nolint:errcheck
	s.SetSpeed(ctx, cfg.FastSpeed)
	//nolint:errcheck
	s.MoveTo(ctx, cfg.Position)
	//nolint:errcheck
	s.SetOrientation(ctx, cfg.Orientation)
	//nolint:errcheck
	s.SetSpeed(ctx, cfg.SlowSpeed)
	if s.state.Disconnected {
		return ErrDisconnected
	}
	s.logger.CDebugw(ctx, "homed", "position", cfg.Position)
	return nil
}

// safetyCritical sends cmd and requires the reply to echo its payload. Any other outcome is a
// hard error.
func (s *Session) safetyCritical(ctx context.Context, cmd protocol.Command) error {
	resp, err := s.request(ctx, cmd)
	if err != nil {
		return errors.Wrapf(err, "%s not confirmed", cmd.Wire())
	}
	if err := protocol.VerifyEcho(cmd, resp); err != nil {
		s.logger.CErrorw(ctx, "safety critical command not confirmed", "command", cmd.Wire(), "response", resp)
		return err
	}
	return nil
}

// EnableForceMode switches the robot to force control.
func (s *Session) EnableForceMode(ctx context.Context) error {
	if err := s.safetyCritical(ctx, protocol.Command{Code: protocol.ForceMode, Payload: "ON"}); err != nil {
		return err
	}
	s.state.ForceMode = true
	return nil
}

// DisableForceMode switches the robot back to position control.
func (s *Session) DisableForceMode(ctx context.Context) error {
	if err := s.safetyCritical(ctx, protocol.Command{Code: protocol.ForceMode, Payload: "OFF"}); err != nil {
		return err
	}
	s.state.ForceMode = false
	return nil
}

// SetForceConfig sets the force control axis and target.
func (s *Session) SetForceConfig(ctx context.Context, axis protocol.Axis, target float64) error {
	if !axis.Implemented() {
		return errors.Errorf("force control along %s is not implemented", axis)
	}
	cmd := protocol.Command{Code: protocol.ForceConfig, Payload: axis.String() + "," + protocol.FormatFloat(target)}
	if err := s.safetyCritical(ctx, cmd); err != nil {
		return err
	}
	s.state.ForceAxis = axis
	s.state.ForceTarget = target
	return nil
}

// MoveRelative moves the tool by delta. The robot must echo the delta.
func (s *Session) MoveRelative(ctx context.Context, delta r3.Vector) error {
	return s.safetyCritical(ctx, protocol.Command{Code: protocol.MoveRelative, Payload: protocol.FormatVector(delta)})
}
