package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var (
	// ErrUnknownFrequency is returned for frequency codes outside 0..3.
	ErrUnknownFrequency = errors.New("recurrence: unknown frequency code")
	// ErrUnknownWeekday is returned for weekday codes outside 0..6.
	ErrUnknownWeekday = errors.New("recurrence: unknown weekday code")
)

// untilLayout is the compact UTC form used by UNTIL.
const untilLayout = "20060102T150405Z"

var frequencies = [...]string{"YEARLY", "MONTHLY", "WEEKLY", "DAILY"}

var weekdays = [...]string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

// NWeekday selects the n-th occurrence of a weekday within the period.
type NWeekday struct {
	N   int `json:"n"`
	Day int `json:"day"`
}

// Rule is the platform's recurrence description as delivered on a scheduled
// event. It is only ever read.
type Rule struct {
	Start      *time.Time `json:"start,omitempty"`
	End        *time.Time `json:"end,omitempty"`
	Frequency  int        `json:"frequency"`
	Interval   int        `json:"interval"`
	ByWeekday  []int      `json:"by_weekday,omitempty"`
	ByNWeekday []NWeekday `json:"by_n_weekday,omitempty"`
	ByMonth    []int      `json:"by_month,omitempty"`
	ByMonthDay []int      `json:"by_month_day,omitempty"`
	ByYearDay  []int      `json:"by_year_day,omitempty"`
	Count      *int       `json:"count,omitempty"`
}

// FrequencyString maps a platform frequency code to its RRULE keyword.
func FrequencyString(code int) (string, error) {
	if code < 0 || code >= len(frequencies) {
		return "", fmt.Errorf("%w: %d", ErrUnknownFrequency, code)
	}
	return frequencies[code], nil
}

// WeekdayString maps a platform weekday code (0 = Monday) to its RRULE keyword.
func WeekdayString(code int) (string, error) {
	if code < 0 || code >= len(weekdays) {
		return "", fmt.Errorf("%w: %d", ErrUnknownWeekday, code)
	}
	return weekdays[code], nil
}

// Translate renders r as a single "RRULE:" line. A nil rule yields "" and no
// error. Field order is fixed and list values keep their input order; the
// n-th weekday entries are emitted under a second BYDAY key.
func Translate(r *Rule) (string, error) {
	if r == nil {
		return "", nil
	}

	freq, err := FrequencyString(r.Frequency)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("RRULE:FREQ=")
	sb.WriteString(freq)
	sb.WriteString(";INTERVAL=")
	sb.WriteString(strconv.Itoa(r.Interval))

	if len(r.ByWeekday) > 0 {
		days := make([]string, 0, len(r.ByWeekday))
		for _, d := range r.ByWeekday {
			day, err := WeekdayString(d)
			if err != nil {
				return "", err
			}
			days = append(days, day)
		}
		sb.WriteString(";BYDAY=")
		sb.WriteString(strings.Join(days, ","))
	}

	if len(r.ByNWeekday) > 0 {
		days := make([]string, 0, len(r.ByNWeekday))
		for _, nd := range r.ByNWeekday {
			day, err := WeekdayString(nd.Day)
			if err != nil {
				return "", err
			}
			days = append(days, strconv.Itoa(nd.N)+day)
		}
		sb.WriteString(";BYDAY=")
		sb.WriteString(strings.Join(days, ","))
	}

	writeInts(&sb, "BYMONTH", r.ByMonth)
	writeInts(&sb, "BYMONTHDAY", r.ByMonthDay)
	writeInts(&sb, "BYYEARDAY", r.ByYearDay)

	switch {
	case r.End != nil:
		sb.WriteString(";UNTIL=")
		sb.WriteString(r.End.UTC().Format(untilLayout))
	case r.Count != nil:
		sb.WriteString(";COUNT=")
		sb.WriteString(strconv.Itoa(*r.Count))
	}

	return sb.String(), nil
}

func writeInts(sb *strings.Builder, key string, values []int) {
	if len(values) == 0 {
		return
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, strconv.Itoa(v))
	}
	sb.WriteString(";")
	sb.WriteString(key)
	sb.WriteString("=")
	sb.WriteString(strings.Join(parts, ","))
}

// Validate checks that rule parses as an RFC 5545 recurrence rule. A repeated
// BYDAY key is accepted; only the syntax is checked, not the expansion.
func Validate(rule string) error {
	body := strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
	if body == "" {
		return errors.New("recurrence: empty rule")
	}
	if _, err := rrule.StrToRRule(body); err != nil {
		return fmt.Errorf("recurrence: parse %q: %w", rule, err)
	}
	return nil
}
