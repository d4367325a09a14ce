/*Package catio reads whitespace-delimited text tables: the domain-decomposition
hint file consumed by a warm-started driver run, and the scalar-reduction
log (total mass, momentum, energy per step) written for offline analysis.

Adapted from lib/catio: same TextConfig-driven separator/comment/skip-lines/
column-name convention and the ReadInts/ReadFloat64s column-selection API,
but without newTextReader's block-splitting machinery (blockStart/
MaxBlockSize scanning, aimed at halo catalogues too large to buffer in one
piece). The tables this package reads — a handful of lines per worker, one
line per driver step — are orders of magnitude smaller than a cosmological
halo catalogue, so the whole file is read and parsed as a single block.
*/
package catio

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config controls how a text table is tokenized.
type Config struct {
	Separator   byte
	Comment     byte
	SkipLines   int
	ColumnNames map[string]int
}

// DefaultConfig splits on whitespace, treats '#' as a comment marker, and
// defines no named columns.
var DefaultConfig = Config{
	Separator:   ' ',
	Comment:     '#',
	ColumnNames: map[string]int{},
}

// Reader gives column-oriented access to a parsed text table.
type Reader struct {
	fields [][]string
	config Config
}

// TextFile opens and parses fname as a text table.
func TextFile(fname string, config ...Config) (*Reader, error) {
	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}
	return Text(data, config...), nil
}

// Text parses text as a text table already held in memory.
func Text(text []byte, config ...Config) *Reader {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	var fields [][]string
	scanner := bufio.NewScanner(bytes.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<24)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= cfg.SkipLines {
			continue
		}
		line := scanner.Text()
		if idx := strings.IndexByte(line, cfg.Comment); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		toks := strings.FieldsFunc(line, func(r rune) bool { return byte(r) == cfg.Separator })
		if cfg.Separator == ' ' {
			toks = strings.Fields(line)
		}
		fields = append(fields, toks)
	}
	return &Reader{fields: fields, config: cfg}
}

// NumLines returns the number of data lines (after skipping/comments).
func (r *Reader) NumLines() int { return len(r.fields) }

func (r *Reader) columnIndices(columns interface{}) ([]int, error) {
	switch c := columns.(type) {
	case []int:
		return c, nil
	case []string:
		idxs := make([]int, len(c))
		for i, name := range c {
			idx, ok := r.config.ColumnNames[name]
			if !ok {
				return nil, fmt.Errorf("catio: no column named %q", name)
			}
			idxs[i] = idx
		}
		return idxs, nil
	default:
		return nil, fmt.Errorf("catio: columns argument must be []int or []string, got %T", columns)
	}
}

// ReadInts reads the given columns (by index or by name via
// Config.ColumnNames) from every line, parsed as ints.
func (r *Reader) ReadInts(columns interface{}) ([][]int, error) {
	idxs, err := r.columnIndices(columns)
	if err != nil {
		return nil, err
	}
	out := make([][]int, len(idxs))
	for i := range out {
		out[i] = make([]int, len(r.fields))
	}
	for line, toks := range r.fields {
		for i, col := range idxs {
			if col >= len(toks) {
				return nil, fmt.Errorf("catio: line %d has only %d fields, wanted column %d", line, len(toks), col)
			}
			v, err := strconv.Atoi(toks[col])
			if err != nil {
				return nil, fmt.Errorf("catio: line %d, column %d: %w", line, col, err)
			}
			out[i][line] = v
		}
	}
	return out, nil
}

// ReadFloat64s reads the given columns (by index or by name) from every
// line, parsed as float64s.
func (r *Reader) ReadFloat64s(columns interface{}) ([][]float64, error) {
	idxs, err := r.columnIndices(columns)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(idxs))
	for i := range out {
		out[i] = make([]float64, len(r.fields))
	}
	for line, toks := range r.fields {
		for i, col := range idxs {
			if col >= len(toks) {
				return nil, fmt.Errorf("catio: line %d has only %d fields, wanted column %d", line, len(toks), col)
			}
			v, err := strconv.ParseFloat(toks[col], 64)
			if err != nil {
				return nil, fmt.Errorf("catio: line %d, column %d: %w", line, col, err)
			}
			out[i][line] = v
		}
	}
	return out, nil
}
