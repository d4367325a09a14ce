package catio

import (
	"bufio"
	"fmt"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
)

// domainHintColumns names the columns of a domain-decomposition hint file:
// one line per worker rank, giving the initial bounding box to seed a
// warm-started run's distributed sort.
var domainHintColumns = Config{
	Separator: ' ',
	Comment:   '#',
	ColumnNames: map[string]int{
		"rank": 0,
		"xmin": 1, "ymin": 2, "zmin": 3,
		"xmax": 4, "ymax": 5, "zmax": 6,
	},
}

// DomainHint is one worker's suggested starting bounding box.
type DomainHint struct {
	Rank       int
	BMin, BMax r3.Vec
}

// ReadDomainHints reads a domain-decomposition hint file, one line per
// worker rank.
func ReadDomainHints(fname string) ([]DomainHint, error) {
	r, err := TextFile(fname, domainHintColumns)
	if err != nil {
		return nil, err
	}
	ranks, err := r.ReadInts([]string{"rank"})
	if err != nil {
		return nil, err
	}
	coords, err := r.ReadFloat64s([]string{"xmin", "ymin", "zmin", "xmax", "ymax", "zmax"})
	if err != nil {
		return nil, err
	}

	out := make([]DomainHint, r.NumLines())
	for i := range out {
		out[i] = DomainHint{
			Rank: ranks[0][i],
			BMin: r3.Vec{X: coords[0][i], Y: coords[1][i], Z: coords[2][i]},
			BMax: r3.Vec{X: coords[3][i], Y: coords[4][i], Z: coords[5][i]},
		}
	}
	return out, nil
}

// WriteDomainHints writes a domain-decomposition hint file readable by
// ReadDomainHints.
func WriteDomainHints(fname string, hints []DomainHint) error {
	f, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# rank xmin ymin zmin xmax ymax zmax")
	for _, h := range hints {
		fmt.Fprintf(w, "%d %.17g %.17g %.17g %.17g %.17g %.17g\n",
			h.Rank, h.BMin.X, h.BMin.Y, h.BMin.Z, h.BMax.X, h.BMax.Y, h.BMax.Z)
	}
	return w.Flush()
}

// scalarLogColumns names the columns of a scalar-reduction log: one line
// per driver step recording the global conserved quantities.
var scalarLogColumns = Config{
	Separator: ' ',
	Comment:   '#',
	ColumnNames: map[string]int{
		"step": 0, "time": 1,
		"mass": 2, "px": 3, "py": 4, "pz": 5, "energy": 6,
	},
}

// ScalarRecord is one step's global scalar reductions.
type ScalarRecord struct {
	Step     int
	Time     float64
	Mass     float64
	Momentum r3.Vec
	Energy   float64
}

// ReadScalarLog reads a scalar-reduction log written by WriteScalarLog (or
// appended to by a running driver).
func ReadScalarLog(fname string) ([]ScalarRecord, error) {
	r, err := TextFile(fname, scalarLogColumns)
	if err != nil {
		return nil, err
	}
	steps, err := r.ReadInts([]string{"step"})
	if err != nil {
		return nil, err
	}
	vals, err := r.ReadFloat64s([]string{"time", "mass", "px", "py", "pz", "energy"})
	if err != nil {
		return nil, err
	}

	out := make([]ScalarRecord, r.NumLines())
	for i := range out {
		out[i] = ScalarRecord{
			Step:     steps[0][i],
			Time:     vals[0][i],
			Mass:     vals[1][i],
			Momentum: r3.Vec{X: vals[2][i], Y: vals[3][i], Z: vals[4][i]},
			Energy:   vals[5][i],
		}
	}
	return out, nil
}

// ScalarLogWriter appends scalar-reduction records to a log file, one line
// per call to Write, so a driver can stream them across a long run instead
// of buffering the whole history in memory.
type ScalarLogWriter struct {
	f *os.File
	w *bufio.Writer
}

// CreateScalarLog creates (or truncates) fname and returns a writer for it.
func CreateScalarLog(fname string) (*ScalarLogWriter, error) {
	f, err := os.Create(fname)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# step time mass px py pz energy")
	return &ScalarLogWriter{f: f, w: w}, nil
}

// Write appends one record and flushes it to disk.
func (s *ScalarLogWriter) Write(r ScalarRecord) error {
	_, err := fmt.Fprintf(s.w, "%d %.17g %.17g %.17g %.17g %.17g %.17g\n",
		r.Step, r.Time, r.Mass, r.Momentum.X, r.Momentum.Y, r.Momentum.Z, r.Energy)
	if err != nil {
		return err
	}
	return s.w.Flush()
}

// Close closes the underlying file.
func (s *ScalarLogWriter) Close() error { return s.f.Close() }
