package planner

import (
	"regexp"
	"sort"
	"strings"

	"github.com/tethys-ocean/tethys/engine/domain"
)

// Bounding boxes are deliberately coarse. MinLon > MaxLon crosses the
// antimeridian.
var regions = []struct {
	region  domain.Region
	aliases []string
}{
	{domain.Region{Name: "Bay of Bengal", MinLat: 5, MaxLat: 23, MinLon: 80, MaxLon: 95}, []string{"bay of bengal", "bengal bay"}},
	{domain.Region{Name: "Arabian Sea", MinLat: 5, MaxLat: 25, MinLon: 50, MaxLon: 75}, []string{"arabian sea"}},
	{domain.Region{Name: "Andaman Sea", MinLat: 5, MaxLat: 17, MinLon: 92, MaxLon: 99}, []string{"andaman sea"}},
	{domain.Region{Name: "Laccadive Sea", MinLat: 5, MaxLat: 14, MinLon: 72, MaxLon: 80}, []string{"laccadive sea", "lakshadweep sea"}},
	{domain.Region{Name: "Indian Ocean", MinLat: -60, MaxLat: 30, MinLon: 20, MaxLon: 147}, []string{"indian ocean"}},
	{domain.Region{Name: "North Atlantic", MinLat: 0, MaxLat: 70, MinLon: -80, MaxLon: 0}, []string{"north atlantic"}},
	{domain.Region{Name: "South Atlantic", MinLat: -60, MaxLat: 0, MinLon: -70, MaxLon: 20}, []string{"south atlantic"}},
	{domain.Region{Name: "Atlantic Ocean", MinLat: -60, MaxLat: 70, MinLon: -80, MaxLon: 20}, []string{"atlantic ocean", "atlantic"}},
	{domain.Region{Name: "North Pacific", MinLat: 0, MaxLat: 65, MinLon: 120, MaxLon: -100}, []string{"north pacific"}},
	{domain.Region{Name: "South Pacific", MinLat: -60, MaxLat: 0, MinLon: 150, MaxLon: -70}, []string{"south pacific"}},
	{domain.Region{Name: "Pacific Ocean", MinLat: -60, MaxLat: 65, MinLon: 120, MaxLon: -70}, []string{"pacific ocean", "pacific"}},
	{domain.Region{Name: "Southern Ocean", MinLat: -90, MaxLat: -60, MinLon: -180, MaxLon: 180}, []string{"southern ocean", "antarctic ocean"}},
	{domain.Region{Name: "Arctic Ocean", MinLat: 66, MaxLat: 90, MinLon: -180, MaxLon: 180}, []string{"arctic ocean", "arctic"}},
	{domain.Region{Name: "Mediterranean Sea", MinLat: 30, MaxLat: 46, MinLon: -6, MaxLon: 36}, []string{"mediterranean sea", "mediterranean"}},
	{domain.Region{Name: "Red Sea", MinLat: 12, MaxLat: 30, MinLon: 32, MaxLon: 44}, []string{"red sea"}},
	{domain.Region{Name: "Gulf of Mexico", MinLat: 18, MaxLat: 31, MinLon: -98, MaxLon: -80}, []string{"gulf of mexico"}},
	{domain.Region{Name: "Caribbean Sea", MinLat: 9, MaxLat: 22, MinLon: -88, MaxLon: -60}, []string{"caribbean sea", "caribbean"}},
	{domain.Region{Name: "South China Sea", MinLat: 0, MaxLat: 23, MinLon: 99, MaxLon: 121}, []string{"south china sea"}},
	{domain.Region{Name: "Equator", MinLat: -5, MaxLat: 5, MinLon: -180, MaxLon: 180}, []string{"equatorial", "equator"}},
}

type aliasPattern struct {
	alias  string
	re     *regexp.Regexp
	region domain.Region
}

// aliasPatterns is sorted longest alias first.
var aliasPatterns = func() []aliasPattern {
	var out []aliasPattern
	for _, r := range regions {
		for _, a := range r.aliases {
			words := strings.Fields(regexp.QuoteMeta(a))
			re := regexp.MustCompile(`(?i)\b(?:the\s+)?` + strings.Join(words, `\s+`) + `\b`)
			out = append(out, aliasPattern{alias: a, re: re, region: r.region})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].alias) > len(out[j].alias) })
	return out
}()

// Regions returns the gazetteer entries, for documentation and the CLI.
func Regions() []domain.Region {
	out := make([]domain.Region, len(regions))
	for i, r := range regions {
		out[i] = r.region
	}
	return out
}

// extractRegion picks the longest matching alias; ties go to the earliest
// position. Only the chosen span is consumed.
func extractRegion(t *text) *domain.Region {
	var (
		best      *aliasPattern
		bestSpan  []int
		bestAlias int
	)
	for i := range aliasPatterns {
		ap := &aliasPatterns[i]
		loc := ap.re.FindStringIndex(t.String())
		if loc == nil {
			continue
		}
		if best == nil || len(ap.alias) > bestAlias || (len(ap.alias) == bestAlias && loc[0] < bestSpan[0]) {
			best, bestSpan, bestAlias = ap, loc, len(ap.alias)
		}
	}
	if best == nil {
		return nil
	}
	t.consume(bestSpan)
	r := best.region
	return &r
}
