package cluster

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/stat"
)

// Candidate is one user eligible for grouping in a cycle.
type Candidate struct {
	UserID int64
	Lat    float64
	Lng    float64

	// Prefs maps a food category name to a weight. May be nil.
	Prefs map[string]float64

	// Availability is an optional downsampled busy-fraction vector.
	Availability []float64
}

// Warning is a non-fatal condition found while assembling features.
type Warning struct {
	Group   string
	Column  string
	Message string
}

func (w Warning) String() string {
	if w.Column == "" {
		return fmt.Sprintf("%s: %s", w.Group, w.Message)
	}
	return fmt.Sprintf("%s[%s]: %s", w.Group, w.Column, w.Message)
}

// Feature group names.
const (
	GroupLocation     = "location"
	GroupPreference   = "preference"
	GroupAvailability = "availability"
)

// varianceEpsilon treats columns whose deviation is rounding noise as constant.
const varianceEpsilon = 1e-12

type column struct {
	group  string
	name   string
	weight float64
	values []float64
}

// Categories returns the sorted union of NFC-normalized preference category
// names across candidates.
func Categories(cands []Candidate) []string {
	seen := make(map[string]struct{})
	for _, c := range cands {
		for k := range c.Prefs {
			seen[norm.NFC.String(k)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// normalizedPrefs re-keys a preference map by NFC form. Weights of names
// that collapse to the same form are summed.
func normalizedPrefs(prefs map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(prefs))
	for k, v := range prefs {
		out[norm.NFC.String(k)] += v
	}
	return out
}

// BuildFeatures assembles the weighted, standardized feature matrix. Row i
// belongs to cands[i].
func BuildFeatures(cands []Candidate, p Params) ([][]float64, []Warning) {
	n := len(cands)
	var (
		cols     []column
		warnings []Warning
	)

	lat := make([]float64, n)
	lng := make([]float64, n)
	for i, c := range cands {
		lat[i], lng[i] = c.Lat, c.Lng
	}
	cols = append(cols,
		column{group: GroupLocation, name: "lat", weight: p.WLoc, values: lat},
		column{group: GroupLocation, name: "lng", weight: p.WLoc, values: lng},
	)

	cats := Categories(cands)
	if len(cats) > 0 {
		prefs := make([]map[string]float64, n)
		for i, c := range cands {
			prefs[i] = normalizedPrefs(c.Prefs)
		}
		for _, cat := range cats {
			vals := make([]float64, n)
			for i := range cands {
				vals[i] = prefs[i][cat]
			}
			cols = append(cols, column{group: GroupPreference, name: cat, weight: p.WPref, values: vals})
		}
	}

	if dims, ok, w := availabilityDims(cands); ok {
		for d := 0; d < dims; d++ {
			vals := make([]float64, n)
			for i, c := range cands {
				vals[i] = c.Availability[d]
			}
			cols = append(cols, column{group: GroupAvailability, name: fmt.Sprintf("t%02d", d), weight: p.WTime, values: vals})
		}
	} else if w != nil {
		warnings = append(warnings, *w)
	}

	X := make([][]float64, n)
	for i := range X {
		X[i] = make([]float64, len(cols))
	}

	zeroVar := make(map[string]int)
	for j, col := range cols {
		mean, std := stat.PopMeanStdDev(col.values, nil)
		if n < 2 || std <= varianceEpsilon*math.Max(1, math.Abs(mean)) {
			zeroVar[col.group]++
			continue
		}
		for i, v := range col.values {
			X[i][j] = (v - mean) / std * col.weight
		}
	}

	// One warning per group, in column order.
	reported := make(map[string]bool)
	for _, col := range cols {
		if zeroVar[col.group] == 0 || reported[col.group] {
			continue
		}
		reported[col.group] = true
		warnings = append(warnings, Warning{
			Group:   col.group,
			Message: fmt.Sprintf("%d zero-variance column(s) contribute nothing", zeroVar[col.group]),
		})
	}

	return X, warnings
}

// availabilityDims reports whether the availability group can be used: every
// candidate must carry a vector of the same non-zero length.
func availabilityDims(cands []Candidate) (int, bool, *Warning) {
	if len(cands) == 0 {
		return 0, false, nil
	}
	dims := len(cands[0].Availability)
	present := 0
	uniform := true
	for _, c := range cands {
		if len(c.Availability) > 0 {
			present++
		}
		if len(c.Availability) != dims {
			uniform = false
		}
	}
	if present == 0 {
		return 0, false, nil
	}
	if !uniform || dims == 0 {
		return 0, false, &Warning{
			Group:   GroupAvailability,
			Message: fmt.Sprintf("vectors missing or of unequal length (%d of %d present), group skipped", present, len(cands)),
		}
	}
	return dims, true, nil
}
