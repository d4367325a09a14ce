/*Package config parses the parameter bundle consumed by the driver loop: an
ini-style file read with gcfg, selectively overridden by "--Flag value"
command-line pairs, and finally validated into an immutable Params.
*/
package config

import (
	"fmt"
	"strconv"

	"gopkg.in/gcfg.v1"
)

// rawSection mirrors the field names of Params so that gcfg can populate it
// directly from a "[run]" section of a config file.
type rawSection struct {
	Dim              int
	LeafCapacity     int
	MaxTreeDepth     int
	CFLFactor        float64
	SPHSmoothingEta  float64
	ViscosityAlpha   float64
	ViscosityBeta    float64
	ViscosityEpsilon float64
	PeriodicX        bool
	PeriodicY        bool
	PeriodicZ        bool
	GravityEnabled   bool
	MACAngle         float64
	MaxMassCell      float64
	Snaps            int
	Threads          int
}

type rawFile struct {
	Run rawSection
}

// RawParams is the unprocessed configuration: everything gcfg read from the
// file, plus whatever flags were layered on top of it.
type RawParams struct {
	rawFile
	// set records which fields were explicitly provided on the command line,
	// so Overwrite only clobbers fields the user actually named.
	set map[string]string
}

// Default returns a RawParams pre-populated with the defaults every run
// needs before a config file or flags are applied.
func Default() *RawParams {
	return &RawParams{
		rawFile: rawFile{Run: rawSection{
			Dim:             3,
			LeafCapacity:    32,
			MaxTreeDepth:    20,
			CFLFactor:       0.3,
			SPHSmoothingEta: 1.2,
			ViscosityAlpha:  1.0,
			ViscosityBeta:   2.0,
			ViscosityEpsilon: 0.01,
			MACAngle:        0.5,
			MaxMassCell:     1e300,
			Snaps:           1,
			Threads:         1,
		}},
		set: map[string]string{},
	}
}

// ReadFile parses an ini-style config file into raw, using gcfg. Sections
// not present in the file leave the defaults untouched.
func ReadFile(raw *RawParams, fname string) error {
	if err := gcfg.ReadFileInto(&raw.rawFile, fname); err != nil {
		return fmt.Errorf("could not parse config file %q: %w", fname, err)
	}
	return nil
}

// Overwrite layers "--Flag value" command-line pairs onto raw. Unknown flag
// names are reported as an external (user-fixable) error by the caller.
func (raw *RawParams) Overwrite(flags map[string]string) error {
	for name, value := range flags {
		if err := raw.setField(name, value); err != nil {
			return err
		}
		raw.set[name] = value
	}
	return nil
}

func (raw *RawParams) setField(name, value string) error {
	r := &raw.Run
	switch name {
	case "Dim":
		return setInt(&r.Dim, value)
	case "LeafCapacity":
		return setInt(&r.LeafCapacity, value)
	case "MaxTreeDepth":
		return setInt(&r.MaxTreeDepth, value)
	case "CFLFactor":
		return setFloat(&r.CFLFactor, value)
	case "SPHSmoothingEta":
		return setFloat(&r.SPHSmoothingEta, value)
	case "ViscosityAlpha":
		return setFloat(&r.ViscosityAlpha, value)
	case "ViscosityBeta":
		return setFloat(&r.ViscosityBeta, value)
	case "ViscosityEpsilon":
		return setFloat(&r.ViscosityEpsilon, value)
	case "PeriodicX":
		return setBool(&r.PeriodicX, value)
	case "PeriodicY":
		return setBool(&r.PeriodicY, value)
	case "PeriodicZ":
		return setBool(&r.PeriodicZ, value)
	case "GravityEnabled":
		return setBool(&r.GravityEnabled, value)
	case "MACAngle":
		return setFloat(&r.MACAngle, value)
	case "MaxMassCell":
		return setFloat(&r.MaxMassCell, value)
	case "Snaps":
		return setInt(&r.Snaps, value)
	case "Threads":
		return setInt(&r.Threads, value)
	default:
		return fmt.Errorf("unrecognized configuration flag %q", name)
	}
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("expected an integer, got %q", value)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, value string) error {
	x, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("expected a floating-point number, got %q", value)
	}
	*dst = x
	return nil
}

func setBool(dst *bool, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("expected a boolean, got %q", value)
	}
	*dst = b
	return nil
}

// Params is the validated, immutable configuration passed down the driver's
// call chain. It must not be mutated after Process returns it; per-step
// state (iteration counters, dt) lives elsewhere.
type Params struct {
	Dim              int
	LeafCapacity     int
	MaxTreeDepth     int
	CFLFactor        float64
	SPHSmoothingEta  float64
	ViscosityAlpha   float64
	ViscosityBeta    float64
	ViscosityEpsilon float64
	PeriodicX        bool
	PeriodicY        bool
	PeriodicZ        bool
	GravityEnabled   bool
	MACAngle         float64
	MaxMassCell      float64
	Snaps            int
	Threads          int
}

// Process validates raw and returns the immutable Params the rest of the
// core consumes. Only validation that doesn't require touching external
// files happens here; this is a system boundary (an external config file),
// so precondition checks here are warranted.
func (raw *RawParams) Process() (*Params, error) {
	r := raw.Run
	switch {
	case r.Dim < 1 || r.Dim > 3:
		return nil, fmt.Errorf("Dim must be 1, 2, or 3, got %d", r.Dim)
	case r.LeafCapacity < 1:
		return nil, fmt.Errorf("LeafCapacity must be positive, got %d", r.LeafCapacity)
	case r.MaxTreeDepth < 1:
		return nil, fmt.Errorf("MaxTreeDepth must be positive, got %d", r.MaxTreeDepth)
	case r.CFLFactor <= 0:
		return nil, fmt.Errorf("CFLFactor must be positive, got %g", r.CFLFactor)
	case r.SPHSmoothingEta <= 0:
		return nil, fmt.Errorf("SPHSmoothingEta must be positive, got %g", r.SPHSmoothingEta)
	case r.Snaps < 1:
		return nil, fmt.Errorf("Snaps must be positive, got %d", r.Snaps)
	case r.Threads < 1:
		return nil, fmt.Errorf("Threads must be positive, got %d", r.Threads)
	}

	return &Params{
		Dim:              r.Dim,
		LeafCapacity:     r.LeafCapacity,
		MaxTreeDepth:     r.MaxTreeDepth,
		CFLFactor:        r.CFLFactor,
		SPHSmoothingEta:  r.SPHSmoothingEta,
		ViscosityAlpha:   r.ViscosityAlpha,
		ViscosityBeta:    r.ViscosityBeta,
		ViscosityEpsilon: r.ViscosityEpsilon,
		PeriodicX:        r.PeriodicX,
		PeriodicY:        r.PeriodicY,
		PeriodicZ:        r.PeriodicZ,
		GravityEnabled:   r.GravityEnabled,
		MACAngle:         r.MACAngle,
		MaxMassCell:      r.MaxMassCell,
		Snaps:            r.Snaps,
		Threads:          r.Threads,
	}, nil
}
