// Package export writes reduced curves as whitespace separated text files
// and reads them back.
package export

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
)

// Header is an ordered list of key/value lines written before the data
type Header [][2]string

// Add appends a header line
func (h *Header) Add(key, value string) { *h = append(*h, [2]string{key, value}) }

// WriteCurve writes c as "# key: value" header lines followed by one
// "q I error" row per point. Errors are written as 0 when c carries none.
func WriteCurve(w io.Writer, header Header, c models.Profile) error {
	if len(c.Q) != len(c.I) || (c.Errors != nil && len(c.Errors) != len(c.I)) {
		return perr.Shapef("curve columns differ: %d q, %d I, %d errors", len(c.Q), len(c.I), len(c.Errors))
	}
	bw := bufio.NewWriter(w)
	for _, kv := range header {
		fmt.Fprintf(bw, "# %s: %s\n", kv[0], kv[1])
	}
	fmt.Fprintln(bw, "# q I error")
	for k := range c.Q {
		e := 0.0
		if c.Errors != nil {
			e = c.Errors[k]
		}
		fmt.Fprintf(bw, "%.8e %.8e %.8e\n", c.Q[k], c.I[k], e)
	}
	return bw.Flush()
}

// SaveCurve writes c to path, creating the parent directory
func SaveCurve(path string, header Header, c models.Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCurve(f, header, c); err != nil {
		f.Close()
		return perr.WithField(err, path)
	}
	return f.Close()
}

// ReadCurve parses a curve written by WriteCurve or any text file of two
// or three numeric columns. Lines starting with # are skipped. A file
// without an error column yields nil Errors.
func ReadCurve(r io.Reader) (models.Profile, error) {
	var c models.Profile
	withErrors := true
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return models.Profile{}, perr.Newf(perr.CodeParse, "line %d: expected at least 2 columns, got %d", line, len(fields))
		}
		vals := make([]float64, min(len(fields), 3))
		for i := range vals {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return models.Profile{}, perr.Wrapf(err, perr.CodeParse, "line %d column %d", line, i+1)
			}
			vals[i] = v
		}
		c.Q = append(c.Q, vals[0])
		c.I = append(c.I, vals[1])
		if len(vals) == 3 {
			c.Errors = append(c.Errors, vals[2])
		} else {
			withErrors = false
		}
	}
	if err := sc.Err(); err != nil {
		return models.Profile{}, perr.Wrap(err, perr.CodeIO, "read curve")
	}
	if !withErrors {
		c.Errors = nil
	}
	return c, nil
}

// LoadCurve reads a curve file
func LoadCurve(path string) (models.Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Profile{}, perr.WithField(perr.Wrap(err, perr.CodeIO, "open curve"), path)
	}
	defer f.Close()
	c, err := ReadCurve(f)
	if err != nil {
		return c, perr.WithField(err, path)
	}
	return c, nil
}

// StdDev converts variances to standard deviations
func StdDev(variances []float64) []float64 {
	if variances == nil {
		return nil
	}
	out := make([]float64, len(variances))
	for i, v := range variances {
		out[i] = math.Sqrt(math.Max(v, 0))
	}
	return out
}
