/*Package particle defines the SPH particle entity and its locality tag.

Locality is modelled as a tagged variant (LocalityKind plus an Owner field
naming the owning worker, which for Ghost and NonLocal is another worker
than the one holding the particle) rather than a pointer-null
convention, per the "implicit ownership of ghost particles" redesign note:
a ghost particle's owner is always named explicitly, never inferred from a
nil holder.
*/
package particle

import (
	"math"

	"github.com/phil-mansfield/mpisph/internal/morton"
	"gonum.org/v1/gonum/spatial/r3"
)

// LocalityKind classifies a particle's relationship to the worker holding
// it in its local tree.
type LocalityKind uint8

const (
	// Local particles are owned by this worker and are not shared with any
	// other worker's neighbourhood queries.
	Local LocalityKind = iota
	// Shared particles are owned by this worker but also live in at least
	// one other worker's ghost layer.
	Shared
	// Exclusive is a variant of Local reserved for particles whose full
	// interaction list is resolved without ever crossing a worker boundary
	// (interior particles, far from the owned region's margin).
	Exclusive
	// Ghost particles mirror a particle owned by another worker; Owner
	// names that worker.
	Ghost
	// NonLocal marks a particle that has been identified (e.g. during
	// distributed sort binning) as belonging to another worker's range but
	// has not yet been shipped there.
	NonLocal
	// PeriodicMirror marks a synthetic periodic-image copy of a Local
	// particle, emitted near a periodic boundary before planning so that
	// find_* queries are oblivious to periodicity. Cleaned before the next
	// rebuild.
	PeriodicMirror
)

// Locality names a particle's relationship to the worker that holds it.
type Locality struct {
	Kind  LocalityKind
	Owner int // owning worker; another worker than the holder for Ghost and NonLocal
}

// LocalTo returns the Locality for a particle owned by the given worker.
func LocalTo(worker int) Locality { return Locality{Kind: Local, Owner: worker} }

// GhostOf returns the Locality for a ghost mirroring a particle owned by
// owner.
func GhostOf(owner int) Locality { return Locality{Kind: Ghost, Owner: owner} }

// Mirror returns the Locality for a synthetic periodic image of a locally
// owned particle.
func Mirror(worker int) Locality { return Locality{Kind: PeriodicMirror, Owner: worker} }

// Particle is a single SPH point mass. Position/velocity/acceleration use
// gonum's r3.Vec regardless of the run's configured dimensionality; runs in
// 1D or 2D simply leave the trailing components at zero.
type Particle struct {
	ID                uint64
	Position          r3.Vec
	Velocity          r3.Vec
	VelocityHalfStep  r3.Vec
	Acceleration      r3.Vec
	Mass              float64
	Density           float64
	Pressure          float64
	Energy            float64
	Smoothing         float64
	Loc               Locality
	Key               morton.Key
}

// Owner returns the id of the worker that owns this particle.
func (p *Particle) Owner() int { return p.Loc.Owner }

// IsGhost reports whether p mirrors another worker's particle.
func (p *Particle) IsGhost() bool { return p.Loc.Kind == Ghost }

// IsMirror reports whether p is a synthetic periodic image due for cleanup
// before the next rebuild.
func (p *Particle) IsMirror() bool { return p.Loc.Kind == PeriodicMirror }

// Valid reports whether p satisfies the precondition invariants every
// admitted particle must hold: positive mass, non-negative
// density, and finite coordinates.
func (p *Particle) Valid() bool {
	return p.Mass > 0 &&
		p.Density >= 0 &&
		finite(p.Position.X) && finite(p.Position.Y) && finite(p.Position.Z)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
