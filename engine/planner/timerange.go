package planner

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tethys-ocean/tethys/engine/domain"
)

const monthPat = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

const yearPat = `((?:19|20)\d\d)`

var (
	isoRangeRe   = regexp.MustCompile(`(?i)\b(?:from\s+|between\s+)?(\d{4}-\d{2}-\d{2})\s*(?:to|until|through|and|-|–)\s*(\d{4}-\d{2}-\d{2})\b`)
	monthRangeRe = regexp.MustCompile(`(?i)\b(?:from\s+|between\s+)?` + monthPat + `(?:\s+` + yearPat + `)?\s*(?:to|until|through|and|-|–)\s*` + monthPat + `\s+` + yearPat + `\b`)
	yearRangeRe  = regexp.MustCompile(`(?i)\b(?:(?:from|between)\s+)?` + yearPat + `\s*(?:to|until|through|and|-|–)\s*` + yearPat + `\b`)
	sinceRe      = regexp.MustCompile(`(?i)\b(?:since|after)\s+` + yearPat + `\b`)
	lastRe       = regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(?:(\d+)\s+)?(days?|weeks?|months?|years?)\b`)
	qualifiedRe  = regexp.MustCompile(`(?i)\b(early|mid|late)[\s-]+` + yearPat + `\b`)
	monthYearRe  = regexp.MustCompile(`(?i)\b(?:in\s+)?` + monthPat + `\s+(?:of\s+)?` + yearPat + `\b`)
	isoMonthRe   = regexp.MustCompile(`\b` + yearPat + `-(0[1-9]|1[0-2])\b`)
	isoDayRe     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	yearRe       = regexp.MustCompile(`(?i)\b(?:in\s+|during\s+)?` + yearPat + `\b`)
)

func monthOf(name string) time.Month {
	switch strings.ToLower(name)[:3] {
	case "jan":
		return time.January
	case "feb":
		return time.February
	case "mar":
		return time.March
	case "apr":
		return time.April
	case "may":
		return time.May
	case "jun":
		return time.June
	case "jul":
		return time.July
	case "aug":
		return time.August
	case "sep":
		return time.September
	case "oct":
		return time.October
	case "nov":
		return time.November
	}
	return time.December
}

func year(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func utc(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

type timeRule func(m []string, now time.Time) (domain.TimeRange, bool)

// timeRules run in order; the first rule that produces a valid range wins.
var timeRules = []struct {
	re   *regexp.Regexp
	rule timeRule
}{
	{isoRangeRe, func(m []string, _ time.Time) (domain.TimeRange, bool) {
		start, err1 := time.Parse("2006-01-02", m[1])
		end, err2 := time.Parse("2006-01-02", m[2])
		if err1 != nil || err2 != nil {
			return domain.TimeRange{}, false
		}
		return domain.TimeRange{Start: start, End: end.AddDate(0, 0, 1)}, true
	}},
	{monthRangeRe, func(m []string, _ time.Time) (domain.TimeRange, bool) {
		y1 := year(m[4])
		if m[2] != "" {
			y1 = year(m[2])
		}
		start := utc(y1, monthOf(m[1]), 1)
		end := utc(year(m[4]), monthOf(m[3]), 1).AddDate(0, 1, 0)
		return domain.TimeRange{Start: start, End: end}, true
	}},
	{yearRangeRe, func(m []string, _ time.Time) (domain.TimeRange, bool) {
		return domain.TimeRange{Start: utc(year(m[1]), 1, 1), End: utc(year(m[2])+1, 1, 1)}, true
	}},
	{sinceRe, func(m []string, now time.Time) (domain.TimeRange, bool) {
		return domain.TimeRange{Start: utc(year(m[1]), 1, 1), End: now}, true
	}},
	{lastRe, func(m []string, now time.Time) (domain.TimeRange, bool) {
		n := 1
		if m[1] != "" {
			n, _ = strconv.Atoi(m[1])
		}
		var start time.Time
		switch strings.TrimSuffix(strings.ToLower(m[2]), "s") {
		case "day":
			start = now.AddDate(0, 0, -n)
		case "week":
			start = now.AddDate(0, 0, -7*n)
		case "month":
			start = now.AddDate(0, -n, 0)
		default:
			start = now.AddDate(-n, 0, 0)
		}
		return domain.TimeRange{Start: start, End: now}, true
	}},
	{qualifiedRe, func(m []string, _ time.Time) (domain.TimeRange, bool) {
		y := year(m[2])
		switch strings.ToLower(m[1]) {
		case "early":
			return domain.TimeRange{Start: utc(y, 1, 1), End: utc(y, 4, 1)}, true
		case "mid":
			return domain.TimeRange{Start: utc(y, 4, 1), End: utc(y, 10, 1)}, true
		}
		return domain.TimeRange{Start: utc(y, 10, 1), End: utc(y+1, 1, 1)}, true
	}},
	{monthYearRe, func(m []string, _ time.Time) (domain.TimeRange, bool) {
		start := utc(year(m[2]), monthOf(m[1]), 1)
		return domain.TimeRange{Start: start, End: start.AddDate(0, 1, 0)}, true
	}},
	{isoDayRe, func(m []string, _ time.Time) (domain.TimeRange, bool) {
		d, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			return domain.TimeRange{}, false
		}
		return domain.TimeRange{Start: d, End: d.AddDate(0, 0, 1)}, true
	}},
	{isoMonthRe, func(m []string, _ time.Time) (domain.TimeRange, bool) {
		mo, _ := strconv.Atoi(m[2])
		start := utc(year(m[1]), time.Month(mo), 1)
		return domain.TimeRange{Start: start, End: start.AddDate(0, 1, 0)}, true
	}},
	{yearRe, func(m []string, _ time.Time) (domain.TimeRange, bool) {
		y := year(m[1])
		return domain.TimeRange{Start: utc(y, 1, 1), End: utc(y+1, 1, 1)}, true
	}},
}

// extractTime consumes the first time expression found, trying the most
// specific rules first.
func extractTime(t *text, now time.Time) *domain.TimeRange {
	for _, r := range timeRules {
		var (
			found domain.TimeRange
			ok    bool
		)
		t.each(r.re, func(m []string) bool {
			if ok {
				return false
			}
			tr, valid := r.rule(m, now)
			if !valid || !tr.Start.Before(tr.End) {
				return false
			}
			found, ok = tr, true
			return true
		})
		if ok {
			return &found
		}
	}
	return nil
}
