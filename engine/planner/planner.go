// Package planner turns a natural-language question into a retrieval plan:
// a structured filter for the relational store and a residual text for
// semantic search. Extraction is rule based and has no side effects.
package planner

import (
	"strings"
	"time"

	"github.com/tethys-ocean/tethys/engine/domain"
)

// Planner extracts plans. It is safe for concurrent use.
type Planner struct {
	now func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock sets the clock used for relative ranges such as "last 6 months".
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// New creates a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Plan extracts floats, coordinates or a named region, depth ordering,
// variable predicates and a time range, in that order, each consuming its
// span. What is left, minus filler words, is the residual. A question with
// no structure keeps the whole question as residual; one that also has no
// alphanumeric content is unparseable.
func (p *Planner) Plan(question string) (domain.Plan, error) {
	plan := domain.Plan{Question: question}
	t := newText(question)

	plan.Filter.Platforms = extractPlatforms(t)
	if r := extractCoordinates(t); r != nil {
		plan.Filter.Region = r
	} else {
		plan.Filter.Region = extractRegion(t)
	}
	plan.Order = extractOrder(t)
	plan.Filter.Predicates = extractPredicates(t)
	plan.Filter.Time = extractTime(t, p.now().UTC())

	if !plan.Structured() {
		if !hasAlphanumeric(question) {
			return domain.Plan{}, &domain.UnparseableQueryError{Question: question}
		}
		plan.Residual = question
		return plan, nil
	}
	plan.Residual = strings.TrimSpace(residual(t))
	return plan, nil
}
