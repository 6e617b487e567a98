package calibration

import (
	"slices"
	"strings"

	"saxsreduce/internal/models"
)

// lamellar lists the (00l) reflections of a lamellar calibrant with long
// period d, in nm
func lamellar(d float64, orders ...int) []models.HKL {
	out := make([]models.HKL, len(orders))
	for i, l := range orders {
		out[i] = models.HKL{L: l, D: d / float64(l)}
	}
	return out
}

func ordersUpTo(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// standards maps calibrant names to their reflections. Built once, never mutated.
var standards = map[string][]models.HKL{
	"silver behenate": lamellar(5.838, ordersUpTo(13)...),
	"collagen wet":    lamellar(67.0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 15, 20, 21, 22, 30, 35, 41, 52, 71),
	"collagen dry":    lamellar(65.3, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 15),
}

// Standard returns a copy of the reflections of a named calibrant
func Standard(name string) ([]models.HKL, bool) {
	hkls, ok := standards[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return slices.Clone(hkls), true
}

// StandardNames returns the known calibrant names in sorted order
func StandardNames() []string {
	names := make([]string, 0, len(standards))
	for n := range standards {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
