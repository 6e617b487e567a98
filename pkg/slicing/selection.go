package slicing

import (
	"slices"
	"strconv"
	"strings"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
)

// ErrRangeToken is returned when a selection token has a non-numeric bound
var ErrRangeToken = perr.New(perr.CodeParse, "non-numeric range bound")

// ParseSelection turns a selection string such as "0-4,9;;2-" into one sorted
// index list per axis. Axes without a spec, or whose spec selects nothing,
// get their full range. Bounds are clamped to [0, length).
func ParseSelection(format string, axisLengths []int) ([][]int, error) {
	specs := strings.Split(format, ";")

	out := make([][]int, len(axisLengths))
	for i, n := range axisLengths {
		spec := ""
		if i < len(specs) {
			spec = specs[i]
		}
		sel, err := parseAxis(spec, 0, n)
		if err != nil {
			return nil, perr.WithField(err, "axis "+strconv.Itoa(i))
		}
		if len(sel) == 0 {
			sel = fullRange(0, n)
		}
		out[i] = sel
	}
	return out, nil
}

// GridAxesList parses a comma list of grid axis numbers in [1, axes). An
// empty selection returns every grid axis.
func GridAxesList(format string, axes int) ([]int, error) {
	sel, err := parseAxis(format, 1, axes)
	if err != nil {
		return nil, err
	}
	if len(sel) == 0 {
		return fullRange(1, axes), nil
	}
	return sel, nil
}

// parseAxis parses the comma tokens of one axis over [lo, hi)
func parseAxis(spec string, lo, hi int) ([]int, error) {
	var sel []int
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		first, last, dash := strings.Cut(tok, "-")
		if !dash {
			last = first
		}
		start, end := lo, hi
		if first != "" {
			v, err := strconv.Atoi(strings.TrimSpace(first))
			if err != nil {
				return nil, perr.Wrapf(ErrRangeToken, perr.CodeParse, "token %q", tok)
			}
			start = max(lo, v)
		}
		if last != "" {
			v, err := strconv.Atoi(strings.TrimSpace(last))
			if err != nil {
				return nil, perr.Wrapf(ErrRangeToken, perr.CodeParse, "token %q", tok)
			}
			end = min(hi, v+1)
		}
		for k := start; k < end; k++ {
			sel = append(sel, k)
		}
	}
	slices.Sort(sel)
	return slices.Compact(sel), nil
}

func fullRange(lo, hi int) []int {
	out := make([]int, 0, max(hi-lo, 0))
	for k := lo; k < hi; k++ {
		out = append(out, k)
	}
	return out
}

// Combine returns every tuple picking one index per axis, with axis 0
// varying slowest
func Combine(lists [][]int) [][]int {
	if len(lists) == 0 {
		return nil
	}
	total := 1
	for _, l := range lists {
		total *= len(l)
	}
	if total == 0 {
		return nil
	}

	out := make([][]int, 0, total)
	pos := make([]int, len(lists))
	for {
		tuple := make([]int, len(lists))
		for i, p := range pos {
			tuple[i] = lists[i][p]
		}
		out = append(out, tuple)

		i := len(lists) - 1
		for ; i >= 0; i-- {
			pos[i]++
			if pos[i] < len(lists[i]) {
				break
			}
			pos[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}

// FlattenGrid collapses all grid axes of dims into a single frame axis,
// leaving the trailing dim image axes untouched
func FlattenGrid(dims []int, dim int) []int {
	if len(dims) <= dim+1 {
		return append([]int(nil), dims...)
	}
	grid := dims[:len(dims)-dim]
	return append([]int{models.Size(grid)}, dims[len(dims)-dim:]...)
}
