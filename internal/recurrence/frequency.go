// Package recurrence computes the run dates of recurring invoice templates.
package recurrence

import (
	"errors"
	"strings"
)

// Frequency names how often a template produces a new invoice.
type Frequency string

const (
	MonthlyFirstDay    Frequency = "monthly_first_day"
	MonthlySpecificDay Frequency = "monthly_specific_day"
	Weekly             Frequency = "weekly"
	Quarterly          Frequency = "quarterly"
	Yearly             Frequency = "yearly"
	CustomDays         Frequency = "custom_days"
)

var ErrUnknownFrequency = errors.New("unknown recurrence frequency")

// Frequencies lists every supported frequency.
var Frequencies = []Frequency{
	MonthlyFirstDay,
	MonthlySpecificDay,
	Weekly,
	Quarterly,
	Yearly,
	CustomDays,
}

// Valid reports whether f is one of the supported frequencies.
func (f Frequency) Valid() bool {
	for _, known := range Frequencies {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFrequency normalizes user input into a Frequency.
func ParseFrequency(raw string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(raw)))
	if !f.Valid() {
		return "", ErrUnknownFrequency
	}
	return f, nil
}
