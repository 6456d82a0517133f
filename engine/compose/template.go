package compose

import (
	"fmt"
	"strings"
	"time"

	"github.com/tethys-ocean/tethys/engine/domain"
)

// Rule serializes one field of a context item. Format is a fmt verb, or a
// time layout for time fields. Missing values are skipped.
type Rule struct {
	Field  string
	Label  string
	Format string
	Unit   string
}

// Template is the ordered rule set used to turn retrieved items into
// context lines.
type Template struct {
	Record  []Rule
	Snippet []Rule
}

// DefaultTemplate renders records as one measurement level per line and
// snippets as their summary text.
func DefaultTemplate() Template {
	return Template{
		Record: []Rule{
			{Field: "platform", Label: "float", Format: "%d"},
			{Field: "cycle", Label: "cycle", Format: "%d"},
			{Field: "time", Label: "date", Format: "2006-01-02"},
			{Field: "lat", Label: "lat", Format: "%.3f"},
			{Field: "lon", Label: "lon", Format: "%.3f"},
			{Field: "pressure", Label: "pressure", Format: "%.1f", Unit: "dbar"},
			{Field: "temperature", Label: "temperature", Format: "%.2f", Unit: "°C"},
			{Field: "salinity", Label: "salinity", Format: "%.2f", Unit: "PSU"},
			{Field: "project", Label: "project", Format: "%s"},
			{Field: "status", Label: "status", Format: "%s"},
		},
		Snippet: []Rule{
			{Field: "platform", Label: "float", Format: "%d"},
			{Field: "cycle", Label: "cycle", Format: "%d"},
			{Field: "text", Label: "summary", Format: "%s"},
		},
	}
}

func recordField(r *domain.FloatRecord, field string) (any, bool) {
	switch field {
	case "id":
		return r.ID, true
	case "platform":
		return r.Platform, true
	case "cycle":
		return r.Cycle, true
	case "time":
		return r.Time, !r.Time.IsZero()
	case "lat":
		return r.Lat, true
	case "lon":
		return r.Lon, true
	case "project":
		return r.Mission.Project, r.Mission.Project != ""
	case "platform_type":
		return r.Mission.PlatformType, r.Mission.PlatformType != ""
	case "data_mode":
		return r.Mission.DataMode, r.Mission.DataMode != ""
	case "status":
		return r.Mission.Status, r.Mission.Status != ""
	}
	v, ok := r.Value(domain.Variable(field))
	return v, ok
}

func snippetField(s *domain.Snippet, field string) (any, bool) {
	switch field {
	case "id":
		return s.ID, true
	case "platform":
		return s.Platform, s.Platform != 0
	case "cycle":
		return s.Cycle, s.Platform != 0
	case "text":
		text := strings.Join(strings.Fields(s.Text), " ")
		return text, text != ""
	}
	return nil, false
}

func render(rules []Rule, get func(string) (any, bool)) string {
	parts := make([]string, 0, len(rules))
	for _, r := range rules {
		v, ok := get(r.Field)
		if !ok {
			continue
		}
		var s string
		if t, isTime := v.(time.Time); isTime {
			s = t.UTC().Format(r.Format)
		} else {
			s = fmt.Sprintf(r.Format, v)
		}
		if r.Unit != "" {
			s += " " + r.Unit
		}
		parts = append(parts, r.Label+"="+s)
	}
	return strings.Join(parts, ", ")
}

// Line renders one item.
func (t Template) Line(it domain.Item) string {
	switch {
	case it.Record != nil:
		return "- [record] " + render(t.Record, func(f string) (any, bool) { return recordField(it.Record, f) })
	case it.Snippet != nil:
		return "- [summary] " + render(t.Snippet, func(f string) (any, bool) { return snippetField(it.Snippet, f) })
	}
	return ""
}

// Render serializes items in rank order, keeping whole lines within budget
// characters. Room for the omission marker is always reserved, so the output
// never exceeds budget. It returns the context and how many items were left
// out.
func (t Template) Render(items []domain.Item, budget int) (string, int) {
	var b strings.Builder
	for i, it := range items {
		line := t.Line(it)
		if line == "" {
			continue
		}
		after := len(items) - i - 1
		need := b.Len() + len(line) + 1
		if after > 0 {
			need += len(omitted(after))
		}
		if budget > 0 && need > budget {
			if m := omitted(after + 1); b.Len()+len(m) <= budget {
				b.WriteString(m)
			}
			return b.String(), after + 1
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), 0
}

func omitted(n int) string {
	return fmt.Sprintf("... %d more item(s) omitted\n", n)
}
