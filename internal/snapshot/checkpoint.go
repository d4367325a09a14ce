package snapshot

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/phil-mansfield/mpisph/internal/morton"
	"github.com/phil-mansfield/mpisph/internal/particle"
	"github.com/phil-mansfield/mpisph/internal/snapcompress"
	"github.com/phil-mansfield/mpisph/internal/tree"
	"gonum.org/v1/gonum/spatial/r3"
)

// WriteCheckpoint writes batch to path in the same binary layout as Write,
// zstd-compressed as a single block through internal/snapcompress.
func WriteCheckpoint(path string, order binary.ByteOrder, batch *particle.Batch, hd Header) error {
	var buf bytes.Buffer
	if err := WriteTo(&buf, order, batch, hd); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return snapcompress.WriteBlock(f, buf.Bytes())
}

// ReadCheckpoint reads a checkpoint written by WriteCheckpoint.
func ReadCheckpoint(path string, order binary.ByteOrder) (*particle.Batch, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer f.Close()
	data, err := snapcompress.ReadBlock(f)
	if err != nil {
		return nil, Header{}, err
	}
	return ReadFrom(bytes.NewReader(data), order)
}

// TreeDumpRecord is one branch of the diagnostic tree-snapshot dump: its
// Morton key, bounding box, aggregate mass, and subtree particle count.
type TreeDumpRecord struct {
	Key        morton.Key
	BMin, BMax r3.Vec
	Mass       float64
	Count      int64
}

// DumpTree collects a TreeDumpRecord for every branch currently in tr,
// suitable for WriteTreeDump.
func DumpTree(tr *tree.Tree) []TreeDumpRecord {
	branches := tr.AllBranches()
	out := make([]TreeDumpRecord, len(branches))
	for i, b := range branches {
		out[i] = TreeDumpRecord{
			Key: b.Key, BMin: b.BMin, BMax: b.BMax,
			Mass: b.Mass, Count: int64(b.Count),
		}
	}
	return out
}

// WriteTreeDump zstd-compresses and writes a sequence of TreeDumpRecords to
// path, one fixed-width record per branch.
func WriteTreeDump(path string, order binary.ByteOrder, records []TreeDumpRecord) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, order, int64(len(records))); err != nil {
		return err
	}
	for _, r := range records {
		if err := binary.Write(&buf, order, uint64(r.Key)); err != nil {
			return err
		}
		fields := [8]float64{
			r.BMin.X, r.BMin.Y, r.BMin.Z,
			r.BMax.X, r.BMax.Y, r.BMax.Z,
			r.Mass, 0,
		}
		if err := binary.Write(&buf, order, fields); err != nil {
			return err
		}
		if err := binary.Write(&buf, order, r.Count); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return snapcompress.WriteBlock(f, buf.Bytes())
}

// ReadTreeDump reads a tree-snapshot dump written by WriteTreeDump.
func ReadTreeDump(path string, order binary.ByteOrder) ([]TreeDumpRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := snapcompress.ReadBlock(f)
	if err != nil {
		return nil, err
	}
	rd := bytes.NewReader(data)

	var n int64
	if err := binary.Read(rd, order, &n); err != nil {
		return nil, err
	}
	out := make([]TreeDumpRecord, n)
	for i := range out {
		var key uint64
		if err := binary.Read(rd, order, &key); err != nil {
			return nil, err
		}
		var fields [8]float64
		if err := binary.Read(rd, order, &fields); err != nil {
			return nil, err
		}
		var count int64
		if err := binary.Read(rd, order, &count); err != nil {
			return nil, err
		}
		out[i] = TreeDumpRecord{
			Key:   morton.Key(key),
			BMin:  r3.Vec{X: fields[0], Y: fields[1], Z: fields[2]},
			BMax:  r3.Vec{X: fields[3], Y: fields[4], Z: fields[5]},
			Mass:  fields[6],
			Count: count,
		}
	}
	return out, nil
}
