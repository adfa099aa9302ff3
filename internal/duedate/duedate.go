// Package duedate turns the many shapes of Canvas due text into timestamps.
package duedate

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// RolloverWindow bounds how far a year-less date may sit from "now" before
// it is moved into the neighbouring year.
const RolloverWindow = 182 * 24 * time.Hour

var (
	prefixPattern   = regexp.MustCompile(`(?i)^\s*due\b(?:\s+date\b)?\s*:?\s*`)
	monthDayPattern = regexp.MustCompile(
		`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4}))?`,
	)
	relativePattern = regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday)\b`)
	meridiemPattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*([ap])\.?m\.?`)
	clockPattern    = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	atPattern       = regexp.MustCompile(`(?i)\s+at\s+`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

// Parse interprets text relative to now in loc. A missing time of day means
// 23:59:59. It reports false when nothing usable was found.
func Parse(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	s := Clean(text)
	if s == "" {
		return time.Time{}, false
	}
	now = now.In(loc)

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), true
	}
	if t, ok := parseRelative(s, now, loc); ok {
		return t, true
	}
	if t, matched, ok := parseMonthDay(s, now, loc); matched {
		return t, ok
	}
	return parseFallback(s, loc)
}

// Clean strips "Due:" prefixes, trailing punctuation and extra whitespace.
func Clean(text string) string {
	s := spacePattern.ReplaceAllString(strings.TrimSpace(text), " ")
	s = prefixPattern.ReplaceAllString(s, "")
	return strings.TrimRight(s, " .;,")
}

func parseRelative(s string, now time.Time, loc *time.Location) (time.Time, bool) {
	match := relativePattern.FindStringSubmatch(s)
	if match == nil {
		return time.Time{}, false
	}
	offset := 0
	switch strings.ToLower(match[1]) {
	case "tomorrow":
		offset = 1
	case "yesterday":
		offset = -1
	}
	base := now.AddDate(0, 0, offset)
	hour, minute, second := timeOfDay(s)
	return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, second, 0, loc), true
}

// parseMonthDay reports whether a month/day was present and whether it was valid.
func parseMonthDay(s string, now time.Time, loc *time.Location) (time.Time, bool, bool) {
	idx := monthDayPattern.FindStringSubmatchIndex(s)
	if idx == nil {
		return time.Time{}, false, false
	}
	month := months[strings.ToLower(s[idx[2]:idx[3]])[:3]]
	day, err := strconv.Atoi(s[idx[4]:idx[5]])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, true, false
	}
	year := now.Year()
	explicitYear := idx[6] >= 0
	if explicitYear {
		if year, err = strconv.Atoi(s[idx[6]:idx[7]]); err != nil {
			return time.Time{}, true, false
		}
	}
	hour, minute, second := timeOfDay(s[idx[1]:])

	due := time.Date(year, month, day, hour, minute, second, 0, loc)
	if due.Day() != day {
		return time.Time{}, true, false
	}
	if !explicitYear {
		due = rollover(due, now)
	}
	return due, true, true
}

func rollover(due, now time.Time) time.Time {
	switch {
	case now.Sub(due) > RolloverWindow:
		return due.AddDate(1, 0, 0)
	case due.Sub(now) > RolloverWindow:
		return due.AddDate(-1, 0, 0)
	default:
		return due
	}
}

// timeOfDay finds "11:59pm", "5 pm" or "17:30" in s; default end of day.
func timeOfDay(s string) (int, int, int) {
	if match := meridiemPattern.FindStringSubmatch(s); match != nil {
		hour, _ := strconv.Atoi(match[1])
		minute := 0
		if match[2] != "" {
			minute, _ = strconv.Atoi(match[2])
		}
		if hour >= 1 && hour <= 12 && minute < 60 {
			hour %= 12
			if strings.EqualFold(match[3], "p") {
				hour += 12
			}
			return hour, minute, 0
		}
	}
	if match := clockPattern.FindStringSubmatch(s); match != nil {
		hour, _ := strconv.Atoi(match[1])
		minute, _ := strconv.Atoi(match[2])
		return hour, minute, 0
	}
	return 23, 59, 59
}

func parseFallback(s string, loc *time.Location) (time.Time, bool) {
	if !strings.ContainsAny(s, "0123456789") {
		return time.Time{}, false
	}
	candidate := atPattern.ReplaceAllString(s, " ")
	t, err := dateparse.ParseIn(candidate, loc)
	if err != nil || t.Year() < 1971 {
		return time.Time{}, false
	}
	t = t.In(loc)
	if !hasClock(candidate) {
		t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, loc)
	}
	return t, true
}

// hasClock reports whether s carries a time of day.
func hasClock(s string) bool {
	return meridiemPattern.MatchString(s) || clockPattern.MatchString(s)
}
