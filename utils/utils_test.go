package utils

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"
)

func TestMath(t *testing.T) {
	test.That(t, DegToRad(180), test.ShouldEqual, math.Pi)
	test.That(t, RadToDeg(math.Pi/2), test.ShouldEqual, 90)
	test.That(t, Float64AlmostEqual(1, 1.05, 0.1), test.ShouldBeTrue)
	test.That(t, Float64AlmostEqual(1, 1.2, 0.1), test.ShouldBeFalse)
	test.That(t, AlmostZero(1e-12), test.ShouldBeTrue)
	test.That(t, Clamp(5, 0, 2), test.ShouldEqual, 2)
	test.That(t, Clamp(-5, 0, 2), test.ShouldEqual, 0)
	test.That(t, Clamp(1.5, 0, 2), test.ShouldEqual, 1.5)
}

func TestStoppableWorkers(t *testing.T) {
	var started atomic.Int32
	worker := func(ctx context.Context) {
		started.Inc()
		<-ctx.Done()
	}
	sw := NewStoppableWorkers(context.Background(), worker, worker)
	sw.AddWorkers(worker)
	sw.Stop()
	test.That(t, started.Load(), test.ShouldEqual, 3)
	test.That(t, sw.Context().Err(), test.ShouldNotBeNil)

	// Workers added after Stop never run.
	sw.AddWorkers(worker)
	sw.Stop()
	test.That(t, started.Load(), test.ShouldEqual, 3)
}

type closeCounter struct {
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return errors.New("already closed")
}

func TestTryClose(t *testing.T) {
	c := &closeCounter{}
	test.That(t, TryClose(c), test.ShouldBeError, errors.New("already closed"))
	test.That(t, c.closed, test.ShouldEqual, 1)

	test.That(t, TryClose("not a closer"), test.ShouldBeNil)
	test.That(t, TryClose(nil), test.ShouldBeNil)
}
