package appconfig

import (
	"fmt"
	"strconv"
	"strings"
)

// Pair is an input/output token length pair such as "32-32".
type Pair struct {
	In  int
	Out int
}

// ParsePair parses the "<in>-<out>" notation.
func ParsePair(s string) (Pair, error) {
	in, out, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Pair{}, fmt.Errorf("in_out_pairs: %q is not of the form <in>-<out>", s)
	}
	i, err := strconv.Atoi(in)
	if err != nil || i <= 0 {
		return Pair{}, fmt.Errorf("in_out_pairs: %q has an invalid input length", s)
	}
	o, err := strconv.Atoi(out)
	if err != nil || o < 0 {
		return Pair{}, fmt.Errorf("in_out_pairs: %q has an invalid output length", s)
	}
	return Pair{In: i, Out: o}, nil
}

// Label renders the pair the way reports print it.
func (p Pair) Label() string {
	return fmt.Sprintf("%d-%d", p.In, p.Out)
}
