package planner

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tethys-ocean/tethys/engine/domain"
)

const (
	varPat  = `(temp(?:erature)?s?|sst|salinit(?:y|ies)|psal|salt|pressures?|pres|depths?)`
	fillPat = `(?:\s+(?:is|was|are|were|of|values?|readings?|levels?))*`
	cmpPat  = `(>=|<=|≥|≤|>|<|=|at\s+least|at\s+most|no\s+less\s+than|no\s+more\s+than|greater\s+than|more\s+than|higher\s+than|above|over|exceeding|exceeds|less\s+than|lower\s+than|below|under|equal\s+to|equals?|exactly)`
	numPat  = `(-?\d+(?:\.\d+)?)`
	unitPat = `(?:\s*(?:°\s*c\b|°|degrees?(?:\s+c(?:elsius)?\b)?|celsius|psu|dbar|decibars?|meters?|metres?|m\b|c\b))?`
)

var (
	betweenRe     = regexp.MustCompile(`(?i)\b` + varPat + fillPat + `\s+between\s+` + numPat + unitPat + `\s+and\s+` + numPat + unitPat)
	predicateRe   = regexp.MustCompile(`(?i)\b` + varPat + fillPat + `\s*` + cmpPat + `\s*` + numPat + unitPat)
	comparativeRe = regexp.MustCompile(`(?i)\b(warmer|hotter|colder|cooler|saltier|fresher|deeper|shallower)\s+than\s+` + numPat + unitPat)

	floatRe    = regexp.MustCompile(`(?i)\b(?:(?:float|platform|wmo)s?(?:\s+(?:id|number|no\.?))?\s*#?\s*)?(\d{7})\b`)
	coordRe    = regexp.MustCompile(`(?i)\b(?:(?:near|around|at|about)\s+)?(\d{1,2}(?:\.\d+)?)\s*°?\s*([ns])\b\s*,?\s*(\d{1,3}(?:\.\d+)?)\s*°?\s*([ew])\b`)
	deepestRe  = regexp.MustCompile(`(?i)\b(deepest)\b`)
	shallowRe  = regexp.MustCompile(`(?i)\b(shallowest)\b`)
	coordDelta = 2.5
)

// variableOf maps a question word to a stored variable. Depth questions use
// pressure, which every level carries (1 dbar is about 1 m).
func variableOf(word string) domain.Variable {
	w := strings.ToLower(word)
	switch {
	case strings.HasPrefix(w, "temp"), w == "sst":
		return domain.VarTemperature
	case strings.HasPrefix(w, "salin"), w == "psal", w == "salt":
		return domain.VarSalinity
	}
	return domain.VarPressure
}

func comparatorOf(phrase string) domain.Comparator {
	switch strings.Join(strings.Fields(strings.ToLower(phrase)), " ") {
	case ">=", "≥", "at least", "no less than":
		return domain.OpGE
	case "<=", "≤", "at most", "no more than":
		return domain.OpLE
	case "<", "less than", "lower than", "below", "under":
		return domain.OpLT
	case "=", "equal to", "equal", "equals", "exactly":
		return domain.OpEQ
	}
	return domain.OpGT
}

func number(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil && !math.IsNaN(v) && !math.IsInf(v, 0)
}

var yearOnlyRe = regexp.MustCompile(`^` + yearPat + `$`)

// yearLike reports whether s reads as a calendar year rather than a
// temperature or salinity bound.
func yearLike(s string) bool { return yearOnlyRe.MatchString(s) }

func extractPredicates(t *text) []domain.Predicate {
	var out []domain.Predicate
	t.each(betweenRe, func(m []string) bool {
		lo, ok1 := number(m[2])
		hi, ok2 := number(m[3])
		if !ok1 || !ok2 {
			return false
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		v := variableOf(m[1])
		if v != domain.VarPressure && yearLike(m[2]) && yearLike(m[3]) {
			// "temperature between 2020 and 2022" is a time range.
			return false
		}
		out = append(out,
			domain.Predicate{Variable: v, Op: domain.OpGE, Threshold: lo},
			domain.Predicate{Variable: v, Op: domain.OpLE, Threshold: hi})
		return true
	})
	t.each(predicateRe, func(m []string) bool {
		th, ok := number(m[3])
		if !ok {
			return false
		}
		out = append(out, domain.Predicate{Variable: variableOf(m[1]), Op: comparatorOf(m[2]), Threshold: th})
		return true
	})
	t.each(comparativeRe, func(m []string) bool {
		th, ok := number(m[2])
		if !ok {
			return false
		}
		p := domain.Predicate{Threshold: th}
		switch strings.ToLower(m[1]) {
		case "warmer", "hotter":
			p.Variable, p.Op = domain.VarTemperature, domain.OpGT
		case "colder", "cooler":
			p.Variable, p.Op = domain.VarTemperature, domain.OpLT
		case "saltier":
			p.Variable, p.Op = domain.VarSalinity, domain.OpGT
		case "fresher":
			p.Variable, p.Op = domain.VarSalinity, domain.OpLT
		case "deeper":
			p.Variable, p.Op = domain.VarPressure, domain.OpGT
		default:
			p.Variable, p.Op = domain.VarPressure, domain.OpLT
		}
		out = append(out, p)
		return true
	})
	return out
}

func extractPlatforms(t *text) []int {
	var out []int
	seen := map[int]bool{}
	t.each(floatRe, func(m []string) bool {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return false
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
		return true
	})
	return out
}

// extractCoordinates turns "12N, 68E" style positions into a box of
// ±coordDelta degrees.
func extractCoordinates(t *text) *domain.Region {
	var r *domain.Region
	t.each(coordRe, func(m []string) bool {
		if r != nil {
			return false
		}
		lat, ok1 := number(m[1])
		lon, ok2 := number(m[3])
		if !ok1 || !ok2 || lat > 90 || lon > 180 {
			return false
		}
		if strings.EqualFold(m[2], "s") {
			lat = -lat
		}
		if strings.EqualFold(m[4], "w") {
			lon = -lon
		}
		r = &domain.Region{
			Name:   fmt.Sprintf("%.1f%s %.1f%s", math.Abs(lat), strings.ToUpper(m[2]), math.Abs(lon), strings.ToUpper(m[4])),
			MinLat: math.Max(lat-coordDelta, -90),
			MaxLat: math.Min(lat+coordDelta, 90),
			MinLon: wrapLon(lon - coordDelta),
			MaxLon: wrapLon(lon + coordDelta),
		}
		return true
	})
	return r
}

func wrapLon(lon float64) float64 {
	switch {
	case lon < -180:
		return lon + 360
	case lon > 180:
		return lon - 360
	}
	return lon
}

func extractOrder(t *text) domain.Order {
	order := domain.OrderRecency
	t.each(deepestRe, func([]string) bool { order = domain.OrderDeepest; return true })
	if order == domain.OrderRecency {
		t.each(shallowRe, func([]string) bool { order = domain.OrderShallowest; return true })
	}
	return order
}
