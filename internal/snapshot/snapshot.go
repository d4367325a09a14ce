/*Package snapshot reads and writes the SPH initial-condition array of
structures: id, position, velocity, mass, density, internal energy,
smoothing length, and pressure per particle, plus the file-level particle
count, spatial dimension, and timestep.

Grounded on lib/snapio's gadget2.go: readRawGadgetHeader validates a
Fortran-style record length prefix against its footer before trusting a
block, and abstractGadget2.Read walks a fixed sequence of named, typed
blocks. This package keeps that record-framing discipline but drops
buffer.go's runtime-configurable field name/type list: dark-matter Gadget-2
files vary which blocks are present (some dumps skip "phi" or "acc"), but
every SPH snapshot in this domain carries the full field set named above,
so the block sequence is fixed at compile time instead of registered per
file.
*/
package snapshot

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/phil-mansfield/mpisph/internal/particle"
	"gonum.org/v1/gonum/spatial/r3"
)

// FieldNames lists the blocks written/read by Write/Read, in file order.
var FieldNames = []string{"id", "x", "v", "mass", "density", "energy", "smoothing", "pressure"}

// magicNumber identifies a file as one of this package's snapshots, the way
// lib/compress's MagicNumber flags a compressed checkpoint file.
const magicNumber = 0x53504831 // "SPH1"

// Header carries the attributes shared by every particle in a file.
type Header struct {
	NParticles int64
	Dimension  int
	Timestep   float64
}

// ToBytes implements snapio.Header's convention of exposing the raw header
// as bytes, e.g. for embedding in a checkpoint's own header block.
func (hd Header) ToBytes() []byte {
	b := make([]byte, 24)
	binary.LittleEndian.PutUint64(b[0:8], uint64(hd.NParticles))
	binary.LittleEndian.PutUint64(b[8:16], uint64(int64(hd.Dimension)))
	binary.LittleEndian.PutUint64(b[16:24], math.Float64bits(hd.Timestep))
	return b
}

// Read opens path and reads a binary SPH snapshot in the given byte order.
func Read(path string, order binary.ByteOrder) (*particle.Batch, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer f.Close()
	return ReadFrom(f, order)
}

// ReadFrom reads a binary SPH snapshot from rd.
func ReadFrom(rd io.Reader, order binary.ByteOrder) (*particle.Batch, Header, error) {
	var magic uint32
	if err := binary.Read(rd, order, &magic); err != nil {
		return nil, Header{}, err
	}
	if magic != magicNumber {
		return nil, Header{}, fmt.Errorf("snapshot: bad magic number 0x%x, not an SPH snapshot", magic)
	}

	var hd Header
	var dim int64
	if err := binary.Read(rd, order, &hd.NParticles); err != nil {
		return nil, Header{}, err
	}
	if err := binary.Read(rd, order, &dim); err != nil {
		return nil, Header{}, err
	}
	hd.Dimension = int(dim)
	if err := binary.Read(rd, order, &hd.Timestep); err != nil {
		return nil, Header{}, err
	}

	n := int(hd.NParticles)
	ids := make([]uint64, n)
	if err := readBlock(rd, order, ids); err != nil {
		return nil, Header{}, fmt.Errorf("snapshot: reading 'id' block: %w", err)
	}
	pos, err := readVecBlock(rd, order, n)
	if err != nil {
		return nil, Header{}, fmt.Errorf("snapshot: reading 'x' block: %w", err)
	}
	vel, err := readVecBlock(rd, order, n)
	if err != nil {
		return nil, Header{}, fmt.Errorf("snapshot: reading 'v' block: %w", err)
	}
	mass := make([]float64, n)
	if err := readBlock(rd, order, mass); err != nil {
		return nil, Header{}, fmt.Errorf("snapshot: reading 'mass' block: %w", err)
	}
	density := make([]float64, n)
	if err := readBlock(rd, order, density); err != nil {
		return nil, Header{}, fmt.Errorf("snapshot: reading 'density' block: %w", err)
	}
	energy := make([]float64, n)
	if err := readBlock(rd, order, energy); err != nil {
		return nil, Header{}, fmt.Errorf("snapshot: reading 'energy' block: %w", err)
	}
	smoothing := make([]float64, n)
	if err := readBlock(rd, order, smoothing); err != nil {
		return nil, Header{}, fmt.Errorf("snapshot: reading 'smoothing' block: %w", err)
	}
	pressure := make([]float64, n)
	if err := readBlock(rd, order, pressure); err != nil {
		return nil, Header{}, fmt.Errorf("snapshot: reading 'pressure' block: %w", err)
	}

	batch := particle.NewBatch(n)
	for i := 0; i < n; i++ {
		batch.Append(particle.Particle{
			ID:        ids[i],
			Position:  pos[i],
			Velocity:  vel[i],
			Mass:      mass[i],
			Density:   density[i],
			Energy:    energy[i],
			Smoothing: smoothing[i],
			Pressure:  pressure[i],
			Loc:       particle.LocalTo(0),
		})
	}
	return batch, hd, nil
}

// readBlock reads one Fortran-style framed record: a uint32 byte count, the
// raw data, and a matching uint32 footer, erroring if header and footer
// disagree the way readRawGadgetHeader does for a Gadget-2 block.
func readBlock(rd io.Reader, order binary.ByteOrder, dst interface{}) error {
	var recLen uint32
	if err := binary.Read(rd, order, &recLen); err != nil {
		return err
	}
	if err := binary.Read(rd, order, dst); err != nil {
		return err
	}
	var footer uint32
	if err := binary.Read(rd, order, &footer); err != nil {
		return err
	}
	if footer != recLen {
		return fmt.Errorf("record header (%d bytes) and footer (%d bytes) disagree", recLen, footer)
	}
	return nil
}

func readVecBlock(rd io.Reader, order binary.ByteOrder, n int) ([]r3.Vec, error) {
	flat := make([]float64, n*3)
	if err := readBlock(rd, order, flat); err != nil {
		return nil, err
	}
	out := make([]r3.Vec, n)
	for i := range out {
		out[i] = r3.Vec{X: flat[i*3], Y: flat[i*3+1], Z: flat[i*3+2]}
	}
	return out, nil
}

// Write writes batch to path as a binary SPH snapshot readable by Read.
func Write(path string, order binary.ByteOrder, batch *particle.Batch, hd Header) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteTo(f, order, batch, hd)
}

// WriteTo writes batch to wr as a binary SPH snapshot readable by ReadFrom.
func WriteTo(wr io.Writer, order binary.ByteOrder, batch *particle.Batch, hd Header) error {
	hd.NParticles = int64(batch.Len())
	if err := binary.Write(wr, order, uint32(magicNumber)); err != nil {
		return err
	}
	if err := binary.Write(wr, order, hd.NParticles); err != nil {
		return err
	}
	if err := binary.Write(wr, order, int64(hd.Dimension)); err != nil {
		return err
	}
	if err := binary.Write(wr, order, hd.Timestep); err != nil {
		return err
	}

	if err := writeBlock(wr, order, batch.ID); err != nil {
		return err
	}
	if err := writeVecBlock(wr, order, batch.Position); err != nil {
		return err
	}
	if err := writeVecBlock(wr, order, batch.Velocity); err != nil {
		return err
	}
	if err := writeBlock(wr, order, batch.Mass); err != nil {
		return err
	}
	if err := writeBlock(wr, order, batch.Density); err != nil {
		return err
	}
	if err := writeBlock(wr, order, batch.Energy); err != nil {
		return err
	}
	if err := writeBlock(wr, order, batch.Smoothing); err != nil {
		return err
	}
	return writeBlock(wr, order, batch.Pressure)
}

func writeBlock(wr io.Writer, order binary.ByteOrder, src interface{}) error {
	n, err := byteLen(src)
	if err != nil {
		return err
	}
	if err := binary.Write(wr, order, uint32(n)); err != nil {
		return err
	}
	if err := binary.Write(wr, order, src); err != nil {
		return err
	}
	return binary.Write(wr, order, uint32(n))
}

func writeVecBlock(wr io.Writer, order binary.ByteOrder, vecs []r3.Vec) error {
	flat := make([]float64, len(vecs)*3)
	for i, v := range vecs {
		flat[i*3], flat[i*3+1], flat[i*3+2] = v.X, v.Y, v.Z
	}
	return writeBlock(wr, order, flat)
}

func byteLen(src interface{}) (int, error) {
	switch s := src.(type) {
	case []uint64:
		return len(s) * 8, nil
	case []float64:
		return len(s) * 8, nil
	default:
		return 0, fmt.Errorf("snapshot: unsupported block type %T", src)
	}
}
