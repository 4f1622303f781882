// Package control implements the force-feedback laws that turn a scalar force error into a
// corrective displacement.
package control

import (
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// ErrNonMonotonicTime is returned when a stateful controller is stepped with a timestamp that is
// not after the previous one.
var ErrNonMonotonicTime = errors.New("controller timestamps must strictly increase")

// Controller maps an error (target minus measured) to a correction. Implementations are not safe
// for concurrent use; each force-mode run owns its own instance.
type Controller interface {
	// Step consumes one error sample taken at now and returns the correction.
	Step(err float64, now time.Time) (float64, error)
	// Reset clears any history accumulated by previous steps.
	Reset()
}

// Displacement maps a controller output to a move along the force axis. A positive force error
// asks for more contact, which is a negative move. PolarityStep, Proportional and PD already
// return the move; PID and PHPID return a value that grows with the error and are negated.
func Displacement(c Controller, out float64) float64 {
	switch c.(type) {
	case *PID, *PHPID:
		return -out
	default:
		return out
	}
}

// Type names a controller implementation.
type Type string

// The supported controller types.
const (
	TypePolarity     Type = "polarity"
	TypeProportional Type = "proportional"
	TypePD           Type = "pd"
	TypePID          Type = "pid"
	TypePHPID        Type = "phpid"
)

// Config describes a controller and its gains.
type Config struct {
	Type       Type                   `json:"type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Gains is a proportional, integral, derivative gain triple.
type Gains struct {
	Kp float64 `mapstructure:"kp" json:"kp"`
	Ki float64 `mapstructure:"ki" json:"ki"`
	Kd float64 `mapstructure:"kd" json:"kd"`
}

// New creates the controller described by cfg.
func New(cfg Config) (Controller, error) {
	switch Type(strings.ToLower(string(cfg.Type))) {
	case TypePolarity, "":
		attrs := struct {
			Magnitude *float64 `mapstructure:"magnitude"`
		}{}
		if err := decodeAttributes(cfg, &attrs); err != nil {
			return nil, err
		}
		if attrs.Magnitude == nil {
			return &PolarityStep{Magnitude: DefaultPolarityMagnitude}, nil
		}
		if *attrs.Magnitude < 0 {
			return nil, errors.Errorf("%s controller magnitude must be positive, got %v", TypePolarity, *attrs.Magnitude)
		}
		return &PolarityStep{Magnitude: *attrs.Magnitude}, nil
	case TypeProportional:
		attrs := struct {
			Kp *float64 `mapstructure:"kp"`
		}{}
		if err := decodeAttributes(cfg, &attrs); err != nil {
			return nil, err
		}
		if attrs.Kp == nil {
			return nil, errors.Errorf("%s controller should have a kp field", TypeProportional)
		}
		return &Proportional{Kp: *attrs.Kp}, nil
	case TypePD:
		attrs := struct {
			Kp *float64 `mapstructure:"kp"`
			Kd *float64 `mapstructure:"kd"`
		}{}
		if err := decodeAttributes(cfg, &attrs); err != nil {
			return nil, err
		}
		if attrs.Kp == nil && attrs.Kd == nil {
			return nil, errors.Errorf("%s controller should have at least one kp or kd field", TypePD)
		}
		return NewPD(valueOr(attrs.Kp), valueOr(attrs.Kd)), nil
	case TypePID:
		attrs := struct {
			Kp *float64 `mapstructure:"kp"`
			Ki *float64 `mapstructure:"ki"`
			Kd *float64 `mapstructure:"kd"`
		}{}
		if err := decodeAttributes(cfg, &attrs); err != nil {
			return nil, err
		}
		if attrs.Kp == nil && attrs.Ki == nil && attrs.Kd == nil {
			return nil, errors.Errorf("%s controller should have at least one kp, ki or kd field", TypePID)
		}
		return NewPID(Gains{Kp: valueOr(attrs.Kp), Ki: valueOr(attrs.Ki), Kd: valueOr(attrs.Kd)}), nil
	case TypePHPID:
		attrs := struct {
			Threshold *float64 `mapstructure:"threshold"`
			Hi        *Gains   `mapstructure:"hi"`
			Lo        *Gains   `mapstructure:"lo"`
		}{}
		if err := decodeAttributes(cfg, &attrs); err != nil {
			return nil, err
		}
		if attrs.Threshold == nil {
			return nil, errors.Errorf("%s controller should have a threshold field", TypePHPID)
		}
		if attrs.Hi == nil || attrs.Lo == nil {
			return nil, errors.Errorf("%s controller should have both hi and lo gains", TypePHPID)
		}
		return NewPHPID(*attrs.Threshold, *attrs.Hi, *attrs.Lo), nil
	default:
		return nil, errors.Errorf("unsupported controller type %q", cfg.Type)
	}
}

func decodeAttributes(cfg Config, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(cfg.Attributes); err != nil {
		return errors.Wrapf(err, "decoding %s controller attributes", cfg.Type)
	}
	return nil
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
