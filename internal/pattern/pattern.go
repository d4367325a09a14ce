/*Package pattern implements the miniature filename formatting language used
to expand checkpoint, diagnostic-dump, and per-worker output names across
steps and ranks, e.g.:

   "checkpoint/step{%04d,step}/worker{%03d,rank}.chk"
   Steps = "0..200 - 63"

adapted from lib/format: fixed text interleaved with {verb,name} variables,
where verb is a printf verb (%03d, %d, ...) and name names an integer
supplied by the caller (this package generalizes lib/format's hardcoded
"snapshot"/"output" rule names to an arbitrary caller-provided variable
map, since a driver step has more than two kinds of indexable thing: step,
rank, and checkpoint generation). The sequence mini-language ("0..100 -
63", "0..10 + 100") is unchanged from ExpandSequenceFormat.
*/
package pattern

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// BigSequence caps how many elements ExpandSequence will produce before
// treating the format string as a likely typo rather than a real request.
const BigSequence = 1 << 20

// ExpandSequence expands a sequence-format string into a sorted slice of
// distinct integers. The format is a series of tokens separated by "+"
// (add) or "-" (remove); each token is either a bare integer or an
// inclusive "a..b" range. Whitespace around "+"/"-" is ignored. Adding a
// value twice, or removing one that is not present, is an error.
func ExpandSequence(format string) ([]int, error) {
	tok, err := tokenizeSequence(format)
	if err != nil {
		return nil, err
	}
	adds, subs, err := addsSubs(tok)
	if err != nil {
		return nil, err
	}

	m := make(map[int]bool)
	for _, a := range adds {
		for _, n := range parseSequenceToken(a) {
			if m[n] {
				return nil, fmt.Errorf("pattern: %d is added more than once", n)
			}
			m[n] = true
		}
	}
	for _, s := range subs {
		for _, n := range parseSequenceToken(s) {
			if !m[n] {
				return nil, fmt.Errorf("pattern: %d is removed more times than it was added", n)
			}
			delete(m, n)
		}
	}
	if len(m) > BigSequence {
		return nil, fmt.Errorf("pattern: sequence would have %d elements, almost certainly a mistake", len(m))
	}

	out := make([]int, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func tokenizeSequence(format string) ([]string, error) {
	clean := strings.ReplaceAll(format, "+", " + ")
	clean = strings.ReplaceAll(clean, "-", " - ")
	raw := strings.Split(clean, " ")
	var tok []string
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r != "" {
			tok = append(tok, r)
		}
	}
	if len(tok) == 0 {
		return nil, fmt.Errorf("pattern: empty sequence format string")
	}
	return tok, nil
}

func addsSubs(tok []string) (adds, subs []string, err error) {
	start := 0
	if tok[0] == "+" || tok[0] == "-" {
		start = 0
	} else {
		if err := checkSequenceToken(tok[0]); err != nil {
			return nil, nil, fmt.Errorf("pattern: element 1, %q: %w", tok[0], err)
		}
		adds = append(adds, tok[0])
		start = 1
	}

	for i := start; i < len(tok); i += 2 {
		if tok[i] != "+" && tok[i] != "-" {
			return nil, nil, fmt.Errorf("pattern: element %d, %q, should be '+' or '-'", i+1, tok[i])
		}
		if i+1 >= len(tok) {
			return nil, nil, fmt.Errorf("pattern: sequence format ends in a trailing %q", tok[i])
		}
		if err := checkSequenceToken(tok[i+1]); err != nil {
			return nil, nil, fmt.Errorf("pattern: element %d, %q: %w", i+2, tok[i+1], err)
		}
		if tok[i] == "+" {
			adds = append(adds, tok[i+1])
		} else {
			subs = append(subs, tok[i+1])
		}
	}
	return adds, subs, nil
}

func checkSequenceToken(tok string) error {
	if tok == "" {
		return fmt.Errorf("empty token")
	}
	bounds := strings.Split(tok, "..")
	switch len(bounds) {
	case 1:
		if _, err := strconv.Atoi(bounds[0]); err != nil {
			return fmt.Errorf("%q is not an integer", bounds[0])
		}
		return nil
	case 2:
		start, err1 := strconv.Atoi(bounds[0])
		if err1 != nil {
			return fmt.Errorf("%q is not an integer", bounds[0])
		}
		end, err2 := strconv.Atoi(bounds[1])
		if err2 != nil {
			return fmt.Errorf("%q is not an integer", bounds[1])
		}
		if end < start {
			return fmt.Errorf("lower bound %d exceeds upper bound %d", start, end)
		}
		return nil
	default:
		return fmt.Errorf("more than one '..'")
	}
}

func parseSequenceToken(tok string) []int {
	bounds := strings.Split(tok, "..")
	if len(bounds) == 1 {
		n, _ := strconv.Atoi(tok)
		return []int{n}
	}
	start, _ := strconv.Atoi(bounds[0])
	end, _ := strconv.Atoi(bounds[1])
	out := make([]int, 0, end-start+1)
	for n := start; n <= end; n++ {
		out = append(out, n)
	}
	return out
}

// token is one {verb,name} variable found in a filename pattern.
type token struct {
	verb, name string
	start, end int // byte offsets of the {...} span in the original pattern
}

// Expand replaces every {verb,name} token in pattern with vars[name]
// formatted by verb (an integer printf verb, e.g. "%03d"), returning an
// error naming the offending token if a name is undefined or the span is
// malformed.
func Expand(format string, vars map[string]int) (string, error) {
	toks, err := scanTokens(format)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	prev := 0
	for _, t := range toks {
		b.WriteString(format[prev:t.start])
		v, ok := vars[t.name]
		if !ok {
			return "", fmt.Errorf("pattern: %q has no value for variable %q", format, t.name)
		}
		b.WriteString(fmt.Sprintf(t.verb, v))
		prev = t.end
	}
	b.WriteString(format[prev:])
	return b.String(), nil
}

func scanTokens(format string) ([]token, error) {
	var toks []token
	depth := 0
	start := 0
	for i := 0; i < len(format); i++ {
		switch format[i] {
		case '{':
			depth++
			if depth > 1 {
				return nil, fmt.Errorf("pattern: %q has nested '{' at index %d", format, i)
			}
			start = i
		case '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("pattern: %q has an unmatched '}' at index %d", format, i)
			}
			body := format[start+1 : i]
			parts := strings.SplitN(body, ",", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("pattern: %q has malformed variable %q (want verb,name)", format, body)
			}
			toks = append(toks, token{verb: parts[0], name: parts[1], start: start, end: i + 1})
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("pattern: %q has an unmatched '{'", format)
	}
	return toks, nil
}
