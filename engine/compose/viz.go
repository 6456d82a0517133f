package compose

import (
	"sort"

	"github.com/tethys-ocean/tethys/engine/domain"
	"github.com/tethys-ocean/tethys/pkg/fn"
)

// maxPlotProfiles is the most profiles drawn as depth series; more become a
// map.
const maxPlotProfiles = 3

// Visualize derives a plot payload from the record items: depth series when
// the records cover a few profiles with at least two levels each, otherwise
// one map point per profile. Nil when there are no records.
func Visualize(res domain.Result) *domain.Visualization {
	recs := res.Records()
	if len(recs) == 0 {
		return nil
	}
	keys, groups := fn.GroupByOrdered(recs, domain.FloatRecord.ProfileKey)

	plot := len(keys) <= maxPlotProfiles
	for _, k := range keys {
		if len(groups[k]) < 2 {
			plot = false
		}
	}
	if plot {
		v := &domain.Visualization{Kind: "profile"}
		for _, k := range keys {
			levels := groups[k]
			sort.SliceStable(levels, func(i, j int) bool { return pressureOf(levels[i]) < pressureOf(levels[j]) })
			for _, variable := range []domain.Variable{domain.VarTemperature, domain.VarSalinity} {
				s := domain.Series{Name: k, Variable: variable}
				for _, l := range levels {
					x, ok := l.Value(variable)
					if !ok || l.Pressure == nil {
						continue
					}
					s.X = append(s.X, x)
					s.Pressure = append(s.Pressure, *l.Pressure)
				}
				if len(s.X) > 0 {
					v.Series = append(v.Series, s)
				}
			}
		}
		return v
	}

	v := &domain.Visualization{Kind: "map"}
	for _, k := range keys {
		top := groups[k][0]
		for _, l := range groups[k][1:] {
			if pressureOf(l) < pressureOf(top) {
				top = l
			}
		}
		v.Points = append(v.Points, domain.GeoPoint{
			Platform:    top.Platform,
			Cycle:       top.Cycle,
			Lat:         top.Lat,
			Lon:         top.Lon,
			Time:        top.Time,
			Temperature: top.Temperature,
			Salinity:    top.Salinity,
		})
	}
	return v
}

func pressureOf(r domain.FloatRecord) float64 {
	if r.Pressure == nil {
		return 0
	}
	return *r.Pressure
}
