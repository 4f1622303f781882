// Package transport implements the framed request/response channel to the robot controller.
//
// A request is written as raw ASCII with no length prefix. The controller answers with ASCII text
// terminated by a single '!' byte, which is stripped before the response is returned.
package transport

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/soilbed/armctl/logging"
)

// Terminator ends every response from the controller.
const Terminator = '!'

// DefaultReadTimeout bounds how long a single response may take to arrive.
const DefaultReadTimeout = 30 * time.Second

var (
	// ErrUnreachable is returned when the controller cannot be dialed.
	ErrUnreachable = errors.New("controller unreachable")
	// ErrLost is returned when a request could not be written or its response could not be read.
	// A client that returned ErrLost is dead.
	ErrLost = errors.New("connection lost")
)

type options struct {
	readTimeout time.Duration
	logger      logging.Logger
}

// Option configures a Client.
type Option func(*options)

// WithReadTimeout sets the per-response read timeout.
func WithReadTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.readTimeout = timeout
		}
	}
}

// WithLogger sets the logger used for wire level debugging.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Client is a connection to one controller. It is not safe for concurrent use; one outstanding
// request at a time is enforced by the goroutine that owns it.
type Client struct {
	conn        net.Conn
	reader      *bufio.Reader
	readTimeout time.Duration
	logger      logging.Logger
	lost        bool
	closed      bool
}

// Dial connects to the controller at address.
func Dial(ctx context.Context, address string, opts ...Option) (*Client, error) {
	o := options{readTimeout: DefaultReadTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewBlankLogger("transport")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(ErrUnreachable, "dialing %s: %v", address, err)
	}
	o.logger.CDebugw(ctx, "connected", "address", address, "read_timeout", o.readTimeout)
	return NewClient(conn, opts...), nil
}

// NewClient wraps an already established connection.
func NewClient(conn net.Conn, opts ...Option) *Client {
	o := options{readTimeout: DefaultReadTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewBlankLogger("transport")
	}
	return &Client{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		readTimeout: o.readTimeout,
		logger:      o.logger,
	}
}

// Request writes cmd and returns the response with its terminator removed. A request interrupted
// by ctx leaves the stream out of step with the controller, so the client is lost afterwards.
func (c *Client) Request(ctx context.Context, cmd string) (string, error) {
	if c.lost || c.closed {
		return "", ErrLost
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.readTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", c.fail(errors.Wrap(err, "setting deadline"))
	}
	// A cancel without a deadline still has to unblock the read.
	stop := context.AfterFunc(ctx, func() {
		//nolint:errcheck
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return "", c.fail(errors.Wrapf(err, "writing %q", cmd))
	}

	resp, err := c.reader.ReadString(Terminator)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return "", c.fail(errors.Wrapf(err, "reading response to %q", cmd))
	}
	resp = resp[:len(resp)-1]
	c.logger.CDebugw(ctx, "exchange", "request", cmd, "response", resp)
	return resp, nil
}

func (c *Client) fail(err error) error {
	c.lost = true
	c.logger.Debugw("connection lost", "error", err)
	return errors.Wrap(ErrLost, err.Error())
}

// Lost reports whether a previous request failed.
func (c *Client) Lost() bool {
	return c.lost
}

// Close shuts down both directions of the stream and releases it. Closing a dead or closed client
// is a no-op.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if tcp, ok := c.conn.(*net.TCPConn); ok && !c.lost {
		err = multierr.Combine(ignoreClosed(tcp.CloseWrite()), ignoreClosed(tcp.CloseRead()))
	}
	return multierr.Combine(err, ignoreClosed(c.conn.Close()))
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		// The peer may already have torn the stream down.
		return nil
	}
	return err
}
