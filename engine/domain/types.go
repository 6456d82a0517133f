// Package domain defines the core types shared by the Tethys query pipeline:
// float records, query plans, retrieval results, answers and the error
// taxonomy. It also acts as the validation gate at pipeline entry points.
package domain

import (
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Mission is float deployment metadata carried alongside measurements.
type Mission struct {
	Project      string `json:"project,omitempty"`
	PlatformType string `json:"platform_type,omitempty"`
	DataMode     string `json:"data_mode,omitempty"` // R real-time, A adjusted, D delayed
	Status       string `json:"status,omitempty"`
}

// FloatRecord is one measurement level of one ARGO profile.
type FloatRecord struct {
	ID          string    `json:"id"`
	Platform    int       `json:"platform"`
	Cycle       int       `json:"cycle"`
	Time        time.Time `json:"time"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Temperature *float64  `json:"temperature,omitempty"`
	Salinity    *float64  `json:"salinity,omitempty"`
	Pressure    *float64  `json:"pressure,omitempty"`
	Depth       *float64  `json:"depth,omitempty"`
	TempQC      string    `json:"temp_qc,omitempty"`
	PsalQC      string    `json:"psal_qc,omitempty"`
	PresQC      string    `json:"pres_qc,omitempty"`
	Mission     Mission   `json:"mission"`
}

// RecordID builds the canonical record identifier.
func RecordID(platform, cycle int, pressure float64) string {
	return fmt.Sprintf("%d_%d_%s", platform, cycle, strconv.FormatFloat(pressure, 'f', -1, 64))
}

// ProfileKey identifies the profile (platform + cycle) a record belongs to.
func (r FloatRecord) ProfileKey() string {
	return fmt.Sprintf("%d_%d", r.Platform, r.Cycle)
}

// Value returns the value of a measured variable and whether it is present.
func (r FloatRecord) Value(v Variable) (float64, bool) {
	var p *float64
	switch v {
	case VarTemperature:
		p = r.Temperature
	case VarSalinity:
		p = r.Salinity
	case VarPressure:
		p = r.Pressure
	case VarDepth:
		p = r.Depth
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// F returns a pointer to v. Handy for building records.
func F(v float64) *float64 { return &v }

// Variable is a measured quantity that predicates can filter on.
type Variable string

const (
	VarTemperature Variable = "temperature"
	VarSalinity    Variable = "salinity"
	VarPressure    Variable = "pressure"
	VarDepth       Variable = "depth"
)

// Unit returns the display unit of a variable.
func (v Variable) Unit() string {
	switch v {
	case VarTemperature:
		return "°C"
	case VarSalinity:
		return "PSU"
	case VarPressure:
		return "dbar"
	case VarDepth:
		return "m"
	}
	return ""
}

// Comparator is a predicate operator.
type Comparator string

const (
	OpGT Comparator = ">"
	OpGE Comparator = ">="
	OpLT Comparator = "<"
	OpLE Comparator = "<="
	OpEQ Comparator = "="
)

// Valid reports whether c is a known comparator.
func (c Comparator) Valid() bool {
	switch c {
	case OpGT, OpGE, OpLT, OpLE, OpEQ:
		return true
	}
	return false
}

// Predicate is a variable + comparator + threshold triple.
type Predicate struct {
	Variable  Variable   `json:"variable"`
	Op        Comparator `json:"op"`
	Threshold float64    `json:"threshold"`
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s%s%s", p.Variable, p.Op, strconv.FormatFloat(p.Threshold, 'f', -1, 64))
}

// Match reports whether v satisfies the predicate.
func (p Predicate) Match(v float64) bool {
	switch p.Op {
	case OpGT:
		return v > p.Threshold
	case OpGE:
		return v >= p.Threshold
	case OpLT:
		return v < p.Threshold
	case OpLE:
		return v <= p.Threshold
	case OpEQ:
		return v == p.Threshold
	}
	return false
}

// Region is a named bounding box. MinLon > MaxLon means the box crosses the
// antimeridian.
type Region struct {
	Name   string  `json:"name"`
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether the point lies inside the box.
func (r Region) Contains(lat, lon float64) bool {
	if lat < r.MinLat || lat > r.MaxLat {
		return false
	}
	if r.MinLon <= r.MaxLon {
		return lon >= r.MinLon && lon <= r.MaxLon
	}
	return lon >= r.MinLon || lon <= r.MaxLon
}

// TimeRange is the half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range.
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// Filter holds the structured part of a plan.
type Filter struct {
	Region     *Region     `json:"region,omitempty"`
	Time       *TimeRange  `json:"time,omitempty"`
	Predicates []Predicate `json:"predicates,omitempty"`
	Platforms  []int       `json:"platforms,omitempty"`
}

// Empty reports whether the filter constrains nothing.
func (f Filter) Empty() bool {
	return f.Region == nil && f.Time == nil && len(f.Predicates) == 0 && len(f.Platforms) == 0
}

// Admits reports whether a semantic neighbor lies inside the filter's time
// range, region and floats. Predicates are not checked; summaries carry no
// level values. A neighbor without a time or position fails those bounds.
func (f Filter) Admits(n Neighbor) bool {
	if f.Time != nil && (n.Time.IsZero() || !f.Time.Contains(n.Time)) {
		return false
	}
	if f.Region != nil && (n.Lat == nil || n.Lon == nil || !f.Region.Contains(*n.Lat, *n.Lon)) {
		return false
	}
	if len(f.Platforms) > 0 && !slices.Contains(f.Platforms, n.Platform) {
		return false
	}
	return true
}

// Match reports whether a record satisfies every constraint of the filter.
func (f Filter) Match(r FloatRecord) bool {
	if f.Region != nil && !f.Region.Contains(r.Lat, r.Lon) {
		return false
	}
	if f.Time != nil && !f.Time.Contains(r.Time) {
		return false
	}
	for _, p := range f.Predicates {
		v, ok := r.Value(p.Variable)
		if !ok || !p.Match(v) {
			return false
		}
	}
	if len(f.Platforms) > 0 {
		found := false
		for _, id := range f.Platforms {
			if id == r.Platform {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Order selects how structured matches are ranked.
type Order string

const (
	OrderRecency    Order = "recency"
	OrderDeepest    Order = "deepest"
	OrderShallowest Order = "shallowest"
)

// Plan is the ephemeral, per-query retrieval plan.
type Plan struct {
	Question string `json:"question"`
	Filter   Filter `json:"filter"`
	Order    Order  `json:"order"`
	Residual string `json:"residual"`
}

// Structured reports whether the plan needs the relational store: it has a
// filter or asks for a depth ordering.
func (p Plan) Structured() bool {
	return !p.Filter.Empty() || p.Order == OrderDeepest || p.Order == OrderShallowest
}

// Neighbor is one vector-store hit.
type Neighbor struct {
	ID       string    `json:"id"`
	Refs     []string  `json:"refs"`
	Text     string    `json:"text"`
	Platform int       `json:"platform,omitempty"`
	Cycle    int       `json:"cycle,omitempty"`
	Time     time.Time `json:"time"`
	Lat      *float64  `json:"lat,omitempty"`
	Lon      *float64  `json:"lon,omitempty"`
	Score    float64   `json:"score"` // similarity, higher is closer
}

// Snippet is a text summary returned by semantic search.
type Snippet struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Refs     []string `json:"refs"`
	Platform int      `json:"platform,omitempty"`
	Cycle    int      `json:"cycle,omitempty"`
}

// ItemKind distinguishes record items from snippet items.
type ItemKind string

const (
	KindRecord  ItemKind = "record"
	KindSnippet ItemKind = "snippet"
)

// Item is one ranked entry of a Result.
type Item struct {
	Kind            ItemKind     `json:"kind"`
	Record          *FloatRecord `json:"record,omitempty"`
	Snippet         *Snippet     `json:"snippet,omitempty"`
	Score           float64      `json:"score"`
	StructuredScore float64      `json:"structured_score"`
	SemanticScore   float64      `json:"semantic_score"`
	Time            time.Time    `json:"time"`
}

// Key returns a stable identity used for deterministic ordering.
func (it Item) Key() string {
	if it.Record != nil {
		return it.Record.ID
	}
	if it.Snippet != nil {
		return it.Snippet.ID
	}
	return ""
}

// Result is the ranked retrieval output for one query.
type Result struct {
	Items    []Item  `json:"items"`
	Degraded bool    `json:"degraded"`
	Failures []error `json:"-"`
}

// Records returns the record items in rank order.
func (r Result) Records() []FloatRecord {
	var out []FloatRecord
	for _, it := range r.Items {
		if it.Record != nil {
			out = append(out, *it.Record)
		}
	}
	return out
}

// GeoPoint is one marker on a map payload.
type GeoPoint struct {
	Platform    int       `json:"platform"`
	Cycle       int       `json:"cycle"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Time        time.Time `json:"time"`
	Temperature *float64  `json:"temperature,omitempty"`
	Salinity    *float64  `json:"salinity,omitempty"`
}

// Series is one plotted line, X against pressure.
type Series struct {
	Name     string    `json:"name"`
	Variable Variable  `json:"variable"`
	X        []float64 `json:"x"`
	Pressure []float64 `json:"pressure"`
}

// Visualization is the optional payload a frontend can plot.
type Visualization struct {
	Kind   string     `json:"kind"` // "map" or "profile"
	Points []GeoPoint `json:"points,omitempty"`
	Series []Series   `json:"series,omitempty"`
}

// Answer is the composer output.
type Answer struct {
	Text          string         `json:"text"`
	Generated     bool           `json:"generated"`
	FallbackKind  ErrorKind      `json:"fallback_kind,omitempty"`
	Citations     []int          `json:"citations,omitempty"`
	UnverifiedIDs []int          `json:"unverified_ids,omitempty"`
	Visualization *Visualization `json:"visualization,omitempty"`
}
