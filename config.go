package rigid

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FrictionCone selects the friction-cone approximation used when clamping
// tangential impulses.
type FrictionCone string

const (
	// ConePyramidal clamps each tangent row independently to the box
	// [-mu*lambda_n, +mu*lambda_n] (a 4-facet pyramid).
	ConePyramidal FrictionCone = "pyramidal"
	// ConeElliptic scales the tangent impulse pair back onto the disc of
	// radius mu*lambda_n.
	ConeElliptic FrictionCone = "elliptic"
)

// Integrator selects the position/velocity update scheme.
type Integrator string

const (
	// IntegratorEuler is semi-implicit (symplectic) Euler: velocities
	// update from forces first, then positions from the new velocities.
	// Joint damping enters the force balance explicitly.
	IntegratorEuler Integrator = "euler"
	// IntegratorImplicitDamp is semi-implicit Euler with joint damping
	// folded implicitly into the velocity update, which stays stable at
	// damping values that make the explicit form blow up.
	IntegratorImplicitDamp Integrator = "implicitdamp"
)

// Config carries every solver and integrator policy knob. There are no
// hidden defaults: tests can force under- or over-convergence by setting
// Iterations and Tolerance explicitly.
type Config struct {
	// Iterations is the fixed sweep budget of the projected Gauss-Seidel
	// solver. The solver never runs longer; it may stop earlier when the
	// sweep residual drops below Tolerance.
	Iterations int `yaml:"iterations"`
	// Tolerance is the early-exit threshold on the largest impulse
	// change of one sweep.
	Tolerance float64 `yaml:"tolerance"`
	// Regularization is added to every row's effective mass diagonal and
	// to the joint-space mass matrix, damping redundant or
	// ill-conditioned constraint systems instead of letting them diverge.
	Regularization float64 `yaml:"regularization"`

	FrictionCone FrictionCone `yaml:"friction_cone"`
	Integrator   Integrator   `yaml:"integrator"`

	// Baumgarte scales positional stabilization: a violation err
	// contributes a bias velocity -Baumgarte*err/dt, capped by
	// MaxStabilizeVel so deep penetrations do not explode.
	Baumgarte       float64 `yaml:"baumgarte"`
	MaxStabilizeVel float64 `yaml:"max_stabilize_vel"`

	// LimitMargin activates a joint-limit row when the coordinate is
	// within this distance of a bound.
	LimitMargin float64 `yaml:"limit_margin"`
	// ContactMargin admits near-contacts within this separation; their
	// stored depth is clamped to zero.
	ContactMargin float64 `yaml:"contact_margin"`
	// BounceThreshold is the minimum approach speed before restitution
	// adds a rebound bias.
	BounceThreshold float64 `yaml:"bounce_threshold"`
	// MaxContactsPerPair caps the contacts one geom pair may emit
	// (heightfields aside, analytic colliders stay at or below 4).
	MaxContactsPerPair int `yaml:"max_contacts_per_pair"`

	// Workers bounds batch parallelism; 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`
}

// DefaultConfig documents the chosen defaults: a 50-sweep budget with a
// tight early-exit, pyramidal friction, Baumgarte beta=0.2 capped at
// 4 m/s of correction velocity.
func DefaultConfig() Config {
	return Config{
		Iterations:         50,
		Tolerance:          1e-8,
		Regularization:     1e-8,
		FrictionCone:       ConePyramidal,
		Integrator:         IntegratorEuler,
		Baumgarte:          0.2,
		MaxStabilizeVel:    4.0,
		LimitMargin:        0.01,
		ContactMargin:      0.005,
		BounceThreshold:    1.0,
		MaxContactsPerPair: 4,
	}
}

// LoadConfig reads a YAML config file. A missing file yields the defaults;
// a present but malformed file is an error. Absent fields keep their
// default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("rigid: parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Iterations < 1 {
		return fmt.Errorf("rigid: config iterations %d < 1", cfg.Iterations)
	}
	if cfg.FrictionCone != ConePyramidal && cfg.FrictionCone != ConeElliptic {
		return fmt.Errorf("rigid: unknown friction cone %q", cfg.FrictionCone)
	}
	if cfg.Integrator != IntegratorEuler && cfg.Integrator != IntegratorImplicitDamp {
		return fmt.Errorf("rigid: unknown integrator %q", cfg.Integrator)
	}
	if cfg.MaxContactsPerPair < 1 {
		return fmt.Errorf("rigid: max_contacts_per_pair %d < 1", cfg.MaxContactsPerPair)
	}
	return nil
}
