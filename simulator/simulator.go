// Package simulator implements an in-process robot controller that speaks the armctl wire
// protocol. It backs tests and bench runs without hardware.
package simulator

import (
	"context"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"github.com/soilbed/armctl/logging"
	"github.com/soilbed/armctl/protocol"
	"github.com/soilbed/armctl/utils"
)

// Config describes the simulated robot.
type Config struct {
	Model string
	Start r3.Vector
	// SurfaceZ is the height of the soil surface. Below it the tool reads a reaction force of
	// Stiffness newtons per millimetre of penetration along +Z.
	SurfaceZ  float64
	Stiffness float64
	// Overrides replaces the reply to every command with the given code.
	Overrides map[protocol.Code]string
	// DropAfter closes the connection instead of answering request number DropAfter+1. Zero
	// never drops.
	DropAfter int64
}

// DefaultConfig is an IRB-like robot over a soil bed whose surface sits at z=160.
func DefaultConfig() Config {
	return Config{
		Model:     "SIM-6AX",
		Start:     r3.Vector{X: 177.77, Y: 1777.27, Z: 350},
		SurfaceZ:  160,
		Stiffness: 2,
	}
}

type queuedMove struct {
	target   r3.Vector
	relative bool
}

// Server is a simulated robot controller.
type Server struct {
	cfg    Config
	logger logging.Logger

	mu          sync.Mutex
	pos         r3.Vector
	orientation quat.Number
	joints      [6]float64
	speed       float64
	queue       []queuedMove
	started     bool
	forceMode   bool
	forceAxis   protocol.Axis
	forceTarget float64
	history     []string

	requests atomic.Int64

	listener net.Listener
	workers  *utils.StoppableWorkers
	connsMu  sync.Mutex
	conns    map[net.Conn]struct{}
}

// NewServer returns a simulator in its start pose.
func NewServer(cfg Config, logger logging.Logger) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger,
		pos:         cfg.Start,
		orientation: quat.Number{Real: 1},
		forceAxis:   protocol.AxisZ,
		conns:       map[net.Conn]struct{}{},
	}
}

// Start listens on address, e.g. "127.0.0.1:0", and serves connections until Close.
func (s *Server) Start(ctx context.Context, address string) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", address)
	}
	s.listener = listener
	s.workers = utils.NewStoppableWorkers(context.Background(), s.acceptLoop)
	s.logger.Infow("simulator listening", "address", listener.Addr().String())
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting, drops every connection and waits for handlers to exit.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.connsMu.Lock()
	for conn := range s.conns {
		err = multierr.Combine(err, conn.Close())
	}
	s.connsMu.Unlock()
	s.workers.Stop()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warnw("accept failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			//nolint:errcheck
			conn.Close()
			return
		}
		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()
		s.workers.AddWorkers(func(ctx context.Context) {
			s.serve(ctx, conn)
		})
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		//nolint:errcheck
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		resp, drop := s.Handle(string(buf[:n]))
		if drop {
			s.logger.Infow("dropping connection", "after_requests", s.cfg.DropAfter)
			return
		}
		if _, err := conn.Write([]byte(resp + "!")); err != nil {
			return
		}
	}
}

// Requests returns the number of requests received.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// History returns every request received, in order.
func (s *Server) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// Position returns the simulated tool position.
func (s *Server) Position() r3.Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Speed returns the last speed set.
func (s *Server) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// ForceMode returns whether force control is enabled and its axis and target.
func (s *Server) ForceMode() (bool, protocol.Axis, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceMode, s.forceAxis, s.forceTarget
}

// Handle answers one wire request. drop is true when the connection should be closed instead.
func (s *Server) Handle(wire string) (resp string, drop bool) {
	n := s.requests.Inc()
	if s.cfg.DropAfter > 0 && n > s.cfg.DropAfter {
		return "", true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, wire)

	cmd, err := protocol.ParseCommand(wire)
	if err != nil {
		s.logger.Warnw("unknown request", "request", wire, "error", err)
		return "ERR", false
	}
	resp = s.apply(cmd)
	if override, ok := s.cfg.Overrides[cmd.Code]; ok {
		resp = override
	}
	return resp, false
}

func (s *Server) running() bool {
	return s.started && len(s.queue) > 0
}

func (s *Server) enqueue(move queuedMove) {
	if s.started && len(s.queue) == 0 {
		s.started = false
	}
	s.queue = append(s.queue, move)
}

func (s *Server) apply(cmd protocol.Command) string {
	switch cmd.Code {
	case protocol.Echo:
		return cmd.Payload
	case protocol.ModelName:
		return s.cfg.Model
	case protocol.GetPosition:
		return protocol.FormatVector(s.pos)
	case protocol.GetOrientation:
		return protocol.FormatVector(eulerDegrees(s.orientation))
	case protocol.GetJointAngles:
		return protocol.FormatValues(s.joints[:]...)
	case protocol.GetForce:
		force := [6]float64{}
		force[protocol.AxisZ.Index()] = s.contactForce()
		return protocol.FormatValues(force[:]...)
	case protocol.GetMoveState:
		if s.running() {
			return "0"
		}
		return "1"
	case protocol.GetTrajectoryDone:
		if !s.started {
			return "FALSE"
		}
		if len(s.queue) == 0 {
			return "TRUE"
		}
		move := s.queue[0]
		s.queue = s.queue[1:]
		if move.relative {
			s.pos = s.pos.Add(move.target)
		} else {
			s.pos = move.target
		}
		return "FALSE"
	case protocol.MoveTo, protocol.MoveTool:
		v, ok := parseVector(cmd.Payload)
		if !ok {
			return "ERR"
		}
		if cmd.Code == protocol.MoveTool {
			v = s.pos.Add(v)
		}
		s.pos = v
		// a direct move after a finished trajectory starts a new one
		if len(s.queue) == 0 {
			s.started = false
		}
	case protocol.MoveRelative:
		v, ok := parseVector(cmd.Payload)
		if !ok {
			return "ERR"
		}
		// Corrections issued once the queue has been started move the tool directly.
		if s.started {
			s.pos = s.pos.Add(v)
		} else {
			s.enqueue(queuedMove{target: v, relative: true})
		}
	case protocol.QueueAddTranslation:
		v, ok := parseVector(cmd.Payload)
		if !ok {
			return "ERR"
		}
		s.enqueue(queuedMove{target: v})
	case protocol.QueueAddRotation, protocol.SetOrientation:
		values, err := protocol.ParseVector(cmd.Payload, 4)
		if err != nil {
			return "ERR"
		}
		if cmd.Code == protocol.SetOrientation {
			s.orientation = quat.Number{Real: values[0], Imag: values[1], Jmag: values[2], Kmag: values[3]}
		}
	case protocol.QueueGo:
		s.started = true
	case protocol.QueueStop:
		s.queue = nil
		s.started = false
	case protocol.SetSpeed:
		speed, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil {
			return "ERR"
		}
		s.speed = speed
	case protocol.SetJoints:
		inner := strings.TrimPrefix(cmd.Payload, "[")
		joints, _, _ := strings.Cut(inner, "]")
		values, err := protocol.ParseVector(joints+"]", 6)
		if err != nil {
			return "ERR"
		}
		copy(s.joints[:], values)
	case protocol.ForceMode:
		switch strings.ToUpper(cmd.Payload) {
		case "ON":
			s.forceMode = true
		case "OFF":
			s.forceMode = false
		default:
			return "ERR"
		}
	case protocol.ForceConfig:
		axisStr, targetStr, found := strings.Cut(cmd.Payload, ",")
		axis, err := protocol.ParseAxis(axisStr)
		if !found || err != nil {
			return "ERR"
		}
		target, err := strconv.ParseFloat(targetStr, 64)
		if err != nil {
			return "ERR"
		}
		s.forceAxis, s.forceTarget = axis, target
	}
	return cmd.Payload
}

// contactForce is the reaction of the soil along +Z.
func (s *Server) contactForce() float64 {
	penetration := utils.Clamp(s.cfg.SurfaceZ-s.pos.Z, 0, math.Inf(1))
	return s.cfg.Stiffness * penetration
}

func parseVector(payload string) (r3.Vector, bool) {
	values, err := protocol.ParseVector(payload, 3)
	if err != nil {
		return r3.Vector{}, false
	}
	return r3.Vector{X: values[0], Y: values[1], Z: values[2]}, true
}

// eulerDegrees returns roll, pitch and yaw of q in degrees.
func eulerDegrees(q quat.Number) r3.Vector {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	roll := math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	pitch := math.Asin(utils.Clamp(2*(w*y-z*x), -1, 1))
	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return r3.Vector{X: utils.RadToDeg(roll), Y: utils.RadToDeg(pitch), Z: utils.RadToDeg(yaw)}
}
