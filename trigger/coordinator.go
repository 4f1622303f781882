package trigger

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/soilbed/armctl/logging"
)

// Coordinator runs a Sampler on its own goroutine and forwards triggers to it. The sender never
// waits on the sampler.
type Coordinator struct {
	queue   *Queue
	sampler *Sampler
	logger  logging.Logger

	done   chan struct{}
	errMu  sync.Mutex
	runErr error
}

// Start launches sampler. The sampler exits on Stop, on a save error, or when ctx is done.
func Start(ctx context.Context, sampler *Sampler, logger logging.Logger) *Coordinator {
	c := &Coordinator{
		queue:   NewQueue(),
		sampler: sampler,
		logger:  logger,
		done:    make(chan struct{}),
	}
	goutils.PanicCapturingGo(func() {
		defer close(c.done)
		err := sampler.Run(ctx, c.queue)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("sampler exited, no further captures will be saved", "error", err)
		}
		c.errMu.Lock()
		c.runErr = err
		c.errMu.Unlock()
	})
	return c
}

// Send forwards code to the sampler. A sampler that has exited is logged and reported, never
// waited on.
func (c *Coordinator) Send(code Code) error {
	err := c.queue.Send(code)
	if err != nil {
		c.logger.Warnw("trigger not delivered", "code", code, "error", err)
	}
	return err
}

// Done is closed once the sampler goroutine has exited.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the error the sampler exited with, if it has exited.
func (c *Coordinator) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.runErr
}

// Wait blocks until the sampler exits or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.Err()
	}
}

// Saved returns the files saved by the sampler. It is empty until the sampler has exited.
func (c *Coordinator) Saved() []string {
	select {
	case <-c.done:
		return c.sampler.Saved()
	default:
		return nil
	}
}
