package planner

import (
	"regexp"
	"strings"
	"unicode"
)

// text is the question with consumed spans blanked out byte for byte, so
// match offsets stay valid across extractions.
type text struct {
	buf []byte
}

func newText(s string) *text { return &text{buf: []byte(s)} }

func (t *text) String() string { return string(t.buf) }

func (t *text) consume(loc []int) {
	for i := loc[0]; i < loc[1]; i++ {
		t.buf[i] = ' '
	}
}

// each runs fn over every match of re, consuming the spans fn accepts.
func (t *text) each(re *regexp.Regexp, fn func(m []string) bool) {
	s := t.String()
	for _, idx := range re.FindAllStringSubmatchIndex(s, -1) {
		m := make([]string, len(idx)/2)
		for i := range m {
			if idx[2*i] >= 0 {
				m[i] = s[idx[2*i]:idx[2*i+1]]
			}
		}
		if fn(m) {
			t.consume(idx[:2])
		}
	}
}

var stopwords = toSet(`a an the in on at of for with within and or to from by near around into over
	show me find list give get fetch tell what which where when how whats is are was were be been being
	do does did any all some there that this these those please can could would you i we us our my
	data float floats argo profile profiles measurement measurements record records reading readings
	value values level levels during between since than it its about have has had display plot map
	most recent latest newest`)

func toSet(words string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		out[w] = true
	}
	return out
}

// residual keeps the unconsumed words that carry meaning.
func residual(t *text) string {
	words := strings.FieldsFunc(t.String(), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})
	var kept []string
	for _, w := range words {
		w = strings.Trim(w, "-'")
		if w == "" || stopwords[strings.ToLower(w)] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func hasAlphanumeric(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
