package snapshot

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/phil-mansfield/mpisph/internal/particle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func randomBatch(n int, seed int64) *particle.Batch {
	rng := rand.New(rand.NewSource(seed))
	b := particle.NewBatch(n)
	for i := 0; i < n; i++ {
		b.Append(particle.Particle{
			ID:        uint64(i + 1),
			Position:  r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()},
			Velocity:  r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()},
			Mass:      rng.Float64(),
			Density:   rng.Float64(),
			Energy:    rng.Float64(),
			Smoothing: rng.Float64(),
			Pressure:  rng.Float64(),
			Loc:       particle.LocalTo(0),
		})
	}
	return b
}

func assertBatchesEqual(t *testing.T, want, got *particle.Batch) {
	t.Helper()
	require.Equal(t, want.Len(), got.Len())
	for i := 0; i < want.Len(); i++ {
		assert.Equal(t, want.ID[i], got.ID[i])
		assert.Equal(t, want.Position[i], got.Position[i])
		assert.Equal(t, want.Velocity[i], got.Velocity[i])
		assert.Equal(t, want.Mass[i], got.Mass[i])
		assert.Equal(t, want.Density[i], got.Density[i])
		assert.Equal(t, want.Energy[i], got.Energy[i])
		assert.Equal(t, want.Smoothing[i], got.Smoothing[i])
		assert.Equal(t, want.Pressure[i], got.Pressure[i])
	}
}

func TestWriteToReadFromRoundTrips(t *testing.T) {
	batch := randomBatch(50, 1)
	hd := Header{Dimension: 3, Timestep: 0.01}

	var buf bytes.Buffer
	require.NoError(t, WriteTo(&buf, binary.LittleEndian, batch, hd))

	got, gotHd, err := ReadFrom(&buf, binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, int64(50), gotHd.NParticles)
	assert.Equal(t, 3, gotHd.Dimension)
	assert.InDelta(t, 0.01, gotHd.Timestep, 1e-15)
	assertBatchesEqual(t, batch, got)
}

func TestReadRejectsBadMagicNumber(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(0xdeadbeef)))

	_, _, err := ReadFrom(&buf, binary.LittleEndian)
	assert.Error(t, err)
}

func TestReadDetectsCorruptRecordFooter(t *testing.T) {
	batch := randomBatch(5, 2)
	hd := Header{Dimension: 3}

	var buf bytes.Buffer
	require.NoError(t, WriteTo(&buf, binary.LittleEndian, batch, hd))
	raw := buf.Bytes()

	// Corrupt the footer of the 'id' block (right after the 28-byte file
	// header and the 4-byte 'id' record-length prefix and its 40 bytes of
	// uint64 payload).
	footerOffset := 4 + 8 + 8 + 8 + 4 + 5*8
	raw[footerOffset] ^= 0xff

	_, _, err := ReadFrom(bytes.NewReader(raw), binary.LittleEndian)
	assert.Error(t, err)
}

func TestWriteReadCheckpointRoundTrips(t *testing.T) {
	batch := randomBatch(30, 3)
	hd := Header{Dimension: 3, Timestep: 0.5}
	path := filepath.Join(t.TempDir(), "checkpoint.chk")

	require.NoError(t, WriteCheckpoint(path, binary.LittleEndian, batch, hd))
	got, gotHd, err := ReadCheckpoint(path, binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, hd.Timestep, gotHd.Timestep)
	assertBatchesEqual(t, batch, got)
}

func TestWriteReadTreeDumpRoundTrips(t *testing.T) {
	records := []TreeDumpRecord{
		{Key: 0, BMin: r3.Vec{}, BMax: r3.Vec{X: 1, Y: 1, Z: 1}, Mass: 10, Count: 100},
		{Key: 5, BMin: r3.Vec{X: 0.5}, BMax: r3.Vec{X: 1, Y: 0.5, Z: 0.5}, Mass: 1.5, Count: 3},
	}
	path := filepath.Join(t.TempDir(), "tree.dmp")

	require.NoError(t, WriteTreeDump(path, binary.LittleEndian, records))
	got, err := ReadTreeDump(path, binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestWriteReadTreeDumpEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.dmp")
	require.NoError(t, WriteTreeDump(path, binary.LittleEndian, nil))
	got, err := ReadTreeDump(path, binary.LittleEndian)
	require.NoError(t, err)
	assert.Empty(t, got)
}
