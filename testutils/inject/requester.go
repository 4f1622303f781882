// Package inject provides test doubles whose behavior can be replaced per test.
package inject

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/soilbed/armctl/utils"
)

// BaseRequester is the interface an injected Requester wraps.
type BaseRequester interface {
	Request(ctx context.Context, cmd string) (string, error)
}

// Requester is an injected device requester that records every command it is handed.
type Requester struct {
	BaseRequester
	RequestFunc func(ctx context.Context, cmd string) (string, error)
	CloseFunc   func() error

	mu       sync.Mutex
	commands []string
}

// Request calls the injected Request or the real version.
func (r *Requester) Request(ctx context.Context, cmd string) (string, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if r.RequestFunc == nil {
		if r.BaseRequester == nil {
			return "", errors.Errorf("no response injected for %q", cmd)
		}
		return r.BaseRequester.Request(ctx, cmd)
	}
	return r.RequestFunc(ctx, cmd)
}

// Close calls the injected Close or the real version.
func (r *Requester) Close() error {
	if r.CloseFunc == nil {
		return utils.TryClose(r.BaseRequester)
	}
	return r.CloseFunc()
}

// Commands returns every command handed to Request, in order.
func (r *Requester) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// CallCount returns how many times Request was called.
func (r *Requester) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}
