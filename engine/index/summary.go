package index

import (
	"fmt"
	"strings"
	"time"

	"github.com/tethys-ocean/tethys/engine/domain"
)

// Profile is one float cycle: every measurement level sharing platform and
// cycle, ordered by pressure.
type Profile struct {
	Platform int
	Cycle    int
	Time     time.Time
	Lat      float64
	Lon      float64
	Levels   []domain.FloatRecord
}

// Key identifies the profile.
func (p Profile) Key() string { return fmt.Sprintf("%d_%d", p.Platform, p.Cycle) }

// Refs returns the record ids summarized by the profile.
func (p Profile) Refs() []string {
	out := make([]string, len(p.Levels))
	for i, l := range p.Levels {
		out[i] = l.ID
	}
	return out
}

func newProfile(first domain.FloatRecord) *Profile {
	return &Profile{
		Platform: first.Platform,
		Cycle:    first.Cycle,
		Time:     first.Time,
		Lat:      first.Lat,
		Lon:      first.Lon,
	}
}

// Summarize writes the text embedded for a profile: position and date, the
// surface and deepest levels, and the observed ranges.
func Summarize(p Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Argo float platform %d, profile index %d, located at latitude %.3f, longitude %.3f on %s.",
		p.Platform, p.Cycle, p.Lat, p.Lon, p.Time.UTC().Format("2006-01-02"))
	if len(p.Levels) == 0 {
		return b.String()
	}

	surface, deepest := p.Levels[0], p.Levels[len(p.Levels)-1]
	if len(p.Levels) > 1 {
		fmt.Fprintf(&b, " %d levels from %.1f to %.1f dbar.", len(p.Levels), pres(surface), pres(deepest))
		b.WriteString(" Surface measurement: " + measurement(surface))
		b.WriteString(" Deepest measurement: " + measurement(deepest))
	} else {
		b.WriteString(" Measurement: " + measurement(surface))
	}
	for _, v := range []domain.Variable{domain.VarTemperature, domain.VarSalinity} {
		if lo, hi, ok := valueRange(p.Levels, v); ok && len(p.Levels) > 1 {
			fmt.Fprintf(&b, " %s range %.2f to %.2f %s.", strings.ToUpper(string(v[:1]))+string(v[1:]), lo, hi, v.Unit())
		}
	}
	return b.String()
}

func pres(r domain.FloatRecord) float64 {
	if r.Pressure == nil {
		return 0
	}
	return *r.Pressure
}

func measurement(r domain.FloatRecord) string {
	var parts []string
	if v, ok := r.Value(domain.VarTemperature); ok {
		parts = append(parts, fmt.Sprintf("Temperature %.2f°C", v))
	}
	if v, ok := r.Value(domain.VarSalinity); ok {
		parts = append(parts, fmt.Sprintf("Salinity %.2f PSU", v))
	}
	if v, ok := r.Value(domain.VarPressure); ok {
		parts = append(parts, fmt.Sprintf("Pressure %.1f dbar", v))
	}
	return strings.Join(parts, ", ") + "."
}

func valueRange(levels []domain.FloatRecord, v domain.Variable) (lo, hi float64, ok bool) {
	for _, l := range levels {
		x, present := l.Value(v)
		if !present {
			continue
		}
		if !ok {
			lo, hi, ok = x, x, true
			continue
		}
		lo = min(lo, x)
		hi = max(hi, x)
	}
	return lo, hi, ok
}
