// Package compose turns a retrieval result into an answer: it serializes the
// ranked items into a bounded context, calls the generation service and
// falls back to a structured answer built from the result when generation
// fails.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tethys-ocean/tethys/engine/domain"
)

// Options configures a Composer.
type Options struct {
	ContextBudget int
	Timeout       time.Duration
	FallbackLines int
	Template      Template
}

// DefaultOptions returns the default budget and timeout.
func DefaultOptions() Options {
	return Options{
		ContextBudget: 6000,
		Timeout:       30 * time.Second,
		FallbackLines: 10,
		Template:      DefaultTemplate(),
	}
}

// Composer is stateless and safe for concurrent use.
type Composer struct {
	gen  Generator
	opts Options
	log  *slog.Logger
}

// New creates a Composer. A nil generator always produces fallback answers.
func New(gen Generator, opts Options, log *slog.Logger) *Composer {
	if log == nil {
		log = slog.Default()
	}
	if opts.Template.Record == nil && opts.Template.Snippet == nil {
		opts.Template = DefaultTemplate()
	}
	return &Composer{gen: gen, opts: opts, log: log}
}

// NoResultsText is the answer when retrieval found nothing.
const NoResultsText = "No ARGO records or profile summaries matched the question."

var errEmptyGeneration = errors.New("empty generation")

var floatIDRe = regexp.MustCompile(`\b\d{7}\b`)

// Compose answers question from res. A non-nil error means generation
// failed and the answer is the structured fallback; the error carries the
// failure kind. If ctx itself is canceled the error wraps ctx.Err().
func (c *Composer) Compose(ctx context.Context, question string, res domain.Result) (domain.Answer, error) {
	viz := Visualize(res)
	if len(res.Items) == 0 {
		text := NoResultsText
		if res.Degraded {
			text += " " + degradedNote
		}
		return domain.Answer{Text: text, Visualization: viz}, nil
	}

	contextText, omittedN := c.opts.Template.Render(res.Items, c.opts.ContextBudget)
	if omittedN > 0 {
		c.log.Debug("compose: context truncated", "omitted", omittedN, "budget", c.opts.ContextBudget)
	}

	text, err := c.generate(ctx, question, contextText)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Answer{}, fmt.Errorf("compose: %w", ctx.Err())
		}
		c.log.Warn("compose: generation failed, using fallback", "err", err, "kind", domain.KindOf(err))
		ans := c.Fallback(res)
		ans.FallbackKind = domain.KindOf(err)
		ans.Visualization = viz
		return ans, err
	}

	known := platformsOf(res)
	ans := domain.Answer{Text: text, Generated: true, Visualization: viz}
	for _, id := range Citations(text) {
		ans.Citations = append(ans.Citations, id)
		if !known[id] {
			ans.UnverifiedIDs = append(ans.UnverifiedIDs, id)
		}
	}
	if len(ans.UnverifiedIDs) > 0 {
		c.log.Warn("compose: answer cites floats outside the context", "ids", ans.UnverifiedIDs)
	}
	return ans, nil
}

func (c *Composer) generate(ctx context.Context, question, contextText string) (string, error) {
	if c.gen == nil {
		return "", &domain.GenerationServiceError{Err: errors.New("no generator configured")}
	}
	genCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	text, err := c.gen.Generate(genCtx, question, contextText)
	switch {
	case err != nil && ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || genCtx.Err() != nil):
		return "", &domain.GenerationTimeoutError{Timeout: c.opts.Timeout, Err: err}
	case err != nil:
		return "", &domain.GenerationServiceError{Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &domain.GenerationServiceError{Err: errEmptyGeneration}
	}
	return text, nil
}

const degradedNote = "Some data sources were unavailable, so results may be incomplete."

// Fallback builds a non-generated answer from the result alone.
func (c *Composer) Fallback(res domain.Result) domain.Answer {
	if len(res.Items) == 0 {
		return domain.Answer{Text: NoResultsText}
	}
	shown := len(res.Items)
	if c.opts.FallbackLines > 0 {
		shown = min(shown, c.opts.FallbackLines)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Generated answer unavailable. Top %d of %d retrieved item(s):\n", shown, len(res.Items))
	for _, it := range res.Items[:shown] {
		b.WriteString(c.opts.Template.Line(it))
		b.WriteByte('\n')
	}
	if res.Degraded {
		b.WriteString(degradedNote)
	}

	var cites []int
	seen := map[int]bool{}
	for _, it := range res.Items {
		p := itemPlatform(it)
		if p != 0 && !seen[p] {
			seen[p] = true
			cites = append(cites, p)
		}
	}
	return domain.Answer{Text: strings.TrimSpace(b.String()), Citations: cites}
}

// Citations returns the distinct 7-digit float ids in text, in order.
func Citations(text string) []int {
	var out []int
	seen := map[int]bool{}
	for _, m := range floatIDRe.FindAllString(text, -1) {
		id, err := strconv.Atoi(m)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func itemPlatform(it domain.Item) int {
	switch {
	case it.Record != nil:
		return it.Record.Platform
	case it.Snippet != nil:
		return it.Snippet.Platform
	}
	return 0
}

func platformsOf(res domain.Result) map[int]bool {
	out := make(map[int]bool)
	for _, it := range res.Items {
		if p := itemPlatform(it); p != 0 {
			out[p] = true
		}
		if it.Snippet != nil {
			for _, ref := range it.Snippet.Refs {
				if p, _, ok := strings.Cut(ref, "_"); ok {
					if id, err := strconv.Atoi(p); err == nil {
						out[id] = true
					}
				}
			}
		}
	}
	return out
}
