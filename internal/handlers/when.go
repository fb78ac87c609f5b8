package handlers

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	isoDateRe  = regexp.MustCompile(`(?i)\b(?:on\s+)?(\d{4}-\d{2}-\d{2})\b`)
	relDayRe   = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow)\b`)
	weekdayRe  = regexp.MustCompile(`(?i)\b(?:(?:on|next|this)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	clock12Re  = regexp.MustCompile(`(?i)\b(?:(?:at|to|for|by|until)\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clock24Re  = regexp.MustCompile(`(?i)\b(?:(?:at|to|for|by|until)\s+)?(\d{1,2}):(\d{2})\b`)
	clockWdRe  = regexp.MustCompile(`(?i)\b(?:(?:at|to|for|by|until)\s+)?(noon|midnight)\b`)
	spaceRe    = regexp.MustCompile(`\s+`)
	trailingRe = regexp.MustCompile(`(?i)(\s+(on|at|to|for|by|from|until))+\s*$`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// When is a date and/or clock time mentioned in free text
type When struct {
	Date     time.Time // midnight of the mentioned day
	HasDate  bool
	Hour     int
	Minute   int
	HasClock bool
}

// Found reports whether any date or time was mentioned
func (w When) Found() bool {
	return w.HasDate || w.HasClock
}

// Resolve turns w into an absolute time for a new item. A bare clock time
// that has already passed today means tomorrow; a bare day starts at 9am.
func (w When) Resolve(now time.Time) (time.Time, bool) {
	if !w.Found() {
		return time.Time{}, false
	}
	day := startOfDay(now)
	if w.HasDate {
		day = w.Date
	}
	hour, minute := 9, 0
	if w.HasClock {
		hour, minute = w.Hour, w.Minute
	}
	t := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
	if !w.HasDate && t.Before(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, true
}

// Apply moves base to the mentioned day and/or clock time, keeping whatever
// w does not mention
func (w When) Apply(base time.Time) time.Time {
	y, m, d := base.Date()
	if w.HasDate {
		y, m, d = w.Date.Date()
	}
	hour, minute := base.Hour(), base.Minute()
	if w.HasClock {
		hour, minute = w.Hour, w.Minute
	}
	return time.Date(y, m, d, hour, minute, 0, 0, base.Location())
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseWhen extracts a date and clock time from text relative to now and
// returns the text with those phrases removed
func ParseWhen(text string, now time.Time) (When, string) {
	var w When
	rest := text

	if m := isoDateRe.FindStringSubmatchIndex(rest); m != nil {
		if d, err := time.ParseInLocation("2006-01-02", rest[m[2]:m[3]], now.Location()); err == nil {
			w.Date, w.HasDate = d, true
			rest = cut(rest, m[0], m[1])
		}
	}
	if !w.HasDate {
		if m := relDayRe.FindStringSubmatchIndex(rest); m != nil {
			w.Date, w.HasDate = startOfDay(now), true
			word := strings.ToLower(rest[m[2]:m[3]])
			if word == "tomorrow" {
				w.Date = w.Date.AddDate(0, 0, 1)
			}
			if word == "tonight" {
				w.Hour, w.HasClock = 19, true
			}
			rest = cut(rest, m[0], m[1])
		}
	}
	if !w.HasDate {
		if m := weekdayRe.FindStringSubmatchIndex(rest); m != nil {
			target := weekdays[strings.ToLower(rest[m[2]:m[3]])]
			ahead := (int(target) - int(now.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			w.Date, w.HasDate = startOfDay(now).AddDate(0, 0, ahead), true
			rest = cut(rest, m[0], m[1])
		}
	}

	if m := clock12Re.FindStringSubmatchIndex(rest); m != nil {
		hour, _ := strconv.Atoi(rest[m[2]:m[3]])
		minute := 0
		if m[4] >= 0 {
			minute, _ = strconv.Atoi(rest[m[4]:m[5]])
		}
		pm := strings.EqualFold(rest[m[6]:m[7]], "pm")
		if hour >= 1 && hour <= 12 && minute < 60 {
			hour %= 12
			if pm {
				hour += 12
			}
			w.Hour, w.Minute, w.HasClock = hour, minute, true
			rest = cut(rest, m[0], m[1])
		}
	} else if m := clock24Re.FindStringSubmatchIndex(rest); m != nil {
		hour, _ := strconv.Atoi(rest[m[2]:m[3]])
		minute, _ := strconv.Atoi(rest[m[4]:m[5]])
		if hour < 24 && minute < 60 {
			w.Hour, w.Minute, w.HasClock = hour, minute, true
			rest = cut(rest, m[0], m[1])
		}
	} else if m := clockWdRe.FindStringSubmatchIndex(rest); m != nil {
		w.Hour, w.Minute, w.HasClock = 12, 0, true
		if strings.EqualFold(rest[m[2]:m[3]], "midnight") {
			w.Hour = 0
		}
		rest = cut(rest, m[0], m[1])
	}

	rest = trailingRe.ReplaceAllString(strings.TrimSpace(spaceRe.ReplaceAllString(rest, " ")), "")
	return w, strings.TrimSpace(rest)
}

func cut(s string, start, end int) string {
	return s[:start] + " " + s[end:]
}
