package export

import (
	"bytes"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
)

func TestWriteCurve(t *testing.T) {
	var header Header
	header.Add("source", "sample.nxs")
	header.Add("frame", "[0 1]")

	var buf bytes.Buffer
	c := models.Profile{Q: []float64{0.1, 0.2}, I: []float64{5, 2.5}}
	if err := WriteCurve(&buf, header, c); err != nil {
		t.Fatalf("WriteCurve failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	expected := []string{
		"# source: sample.nxs",
		"# frame: [0 1]",
		"# q I error",
		"1.00000000e-01 5.00000000e+00 0.00000000e+00",
		"2.00000000e-01 2.50000000e+00 0.00000000e+00",
	}
	if !reflect.DeepEqual(lines, expected) {
		t.Errorf("Expected\n%s\ngot\n%s", strings.Join(expected, "\n"), strings.Join(lines, "\n"))
	}

	bad := models.Profile{Q: []float64{1, 2}, I: []float64{1}}
	if err := WriteCurve(&buf, nil, bad); !perr.IsCode(err, perr.CodeShape) {
		t.Errorf("Expected shape error, got %v", err)
	}
}

func TestCurveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curves", "radial.dat")
	c := models.Profile{
		Q:      []float64{0.05, 0.1, 0.15},
		I:      []float64{100, 42.5, 7.25},
		Errors: []float64{10, 6.5, 2.75},
	}
	if err := SaveCurve(path, Header{{"run", "x"}}, c); err != nil {
		t.Fatalf("SaveCurve failed: %v", err)
	}

	got, err := LoadCurve(path)
	if err != nil {
		t.Fatalf("LoadCurve failed: %v", err)
	}
	if !reflect.DeepEqual(got, c) {
		t.Errorf("Expected %+v, got %+v", c, got)
	}
}

func TestReadCurve(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected models.Profile
		code     perr.Code
		wantErr  bool
	}{
		{
			name:     "two columns",
			input:    "# comment\n1 2\n\n3 4\n",
			expected: models.Profile{Q: []float64{1, 3}, I: []float64{2, 4}},
		},
		{
			name:     "extra columns ignored",
			input:    "1 2 0.5 9\n",
			expected: models.Profile{Q: []float64{1}, I: []float64{2}, Errors: []float64{0.5}},
		},
		{
			name:     "mixed columns drop errors",
			input:    "1 2 0.5\n3 4\n",
			expected: models.Profile{Q: []float64{1, 3}, I: []float64{2, 4}},
		},
		{name: "single column", input: "1\n", code: perr.CodeParse, wantErr: true},
		{name: "not a number", input: "1 abc\n", code: perr.CodeParse, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ReadCurve(strings.NewReader(tc.input))
			if tc.wantErr {
				if !perr.IsCode(err, tc.code) {
					t.Errorf("Expected %v error, got %v", tc.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadCurve failed: %v", err)
			}
			if !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("Expected %+v, got %+v", tc.expected, got)
			}
		})
	}
}

func TestStdDev(t *testing.T) {
	if StdDev(nil) != nil {
		t.Error("Expected nil for nil variances")
	}
	got := StdDev([]float64{4, 0, -1})
	if !reflect.DeepEqual(got, []float64{2, 0, 0}) {
		t.Errorf("Expected [2 0 0], got %v", got)
	}
}
