package protocol

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestWire(t *testing.T) {
	test.That(t, Query(GetPosition).Wire(), test.ShouldEqual, "GTPS:0")
	test.That(t, Query(GetTrajectoryDone).Wire(), test.ShouldEqual, "TJDN:?")
	test.That(t, Command{MoveTo, FormatVector(r3.Vector{X: 400, Y: 1600.5, Z: 161})}.Wire(),
		test.ShouldEqual, "MVTO:[400,1600.5,161]")
	test.That(t, Command{SetOrientation, FormatQuaternion(quat.Number{Real: 1, Imag: 0, Jmag: -0.5, Kmag: 0})}.Wire(),
		test.ShouldEqual, "STOR:[1, 0, -0.5, 0]")
	test.That(t, Command{SetJoints, FormatJoints([6]float64{1, 2, 3, 4, 5, 6})}.Wire(),
		test.ShouldEqual, "STJT:[[1,2,3,4,5,6], [9E9,9E9,9E9,9E9,9E9,9E9]]")

	for code := range codeMnemonics {
		parsed, err := ParseCommand(Command{code, "x"}.Wire())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed.Code, test.ShouldEqual, code)
		test.That(t, parsed.Payload, test.ShouldEqual, "x")
	}

	_, err := ParseCommand("NOPE")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ParseCommand("ABCD:0")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSafetyCritical(t *testing.T) {
	test.That(t, MoveRelative.SafetyCritical(), test.ShouldBeTrue)
	test.That(t, ForceMode.SafetyCritical(), test.ShouldBeTrue)
	test.That(t, ForceConfig.SafetyCritical(), test.ShouldBeTrue)
	test.That(t, MoveTo.SafetyCritical(), test.ShouldBeFalse)
	test.That(t, GetForce.SafetyCritical(), test.ShouldBeFalse)
}

func TestParseVector(t *testing.T) {
	values, err := ParseVector("[1.5,-2,3e2]", 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, values, test.ShouldResemble, []float64{1.5, -2, 300})

	values, err = ParseVector("[1, 2, 3, 4, 5, 6]", 6)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, values, test.ShouldHaveLength, 6)

	_, err = ParseVector("[1,2]", 3)
	test.That(t, errors.Is(err, ErrArity), test.ShouldBeTrue)

	_, err = ParseVector("", 3)
	test.That(t, errors.Is(err, ErrArity), test.ShouldBeTrue)

	_, err = ParseVector("[1,b,3]", 3)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestVerifyEcho(t *testing.T) {
	cmd := Command{ForceConfig, "Z,-12.5"}
	test.That(t, VerifyEcho(cmd, "Z,-12.5"), test.ShouldBeNil)
	test.That(t, VerifyEcho(cmd, "z,-12.5"), test.ShouldBeNil)

	err := VerifyEcho(cmd, "X,-12.5")
	test.That(t, errors.Is(err, ErrEchoMismatch), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "X,-12.5")

	test.That(t, errors.Is(VerifyEcho(Command{ForceMode, "ON"}, ""), ErrEchoMismatch), test.ShouldBeTrue)
}

func TestAxis(t *testing.T) {
	axis, err := ParseAxis("z")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, axis, test.ShouldEqual, AxisZ)
	test.That(t, axis.Index(), test.ShouldEqual, 2)
	test.That(t, axis.Implemented(), test.ShouldBeTrue)
	test.That(t, AxisX.Implemented(), test.ShouldBeFalse)

	_, err = ParseAxis("w")
	test.That(t, err, test.ShouldNotBeNil)
}
