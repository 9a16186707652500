package booking

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is the recurrence step unit.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// MaxOccurrences bounds any recurrence expansion.
const MaxOccurrences = 52

// Rule describes a bounded recurring series. Exactly one of Count and Until
// must be set.
type Rule struct {
	Frequency Frequency
	Interval  int
	Count     int
	Until     time.Time
}

// Validate checks the rule invariants without expanding it.
func (rule Rule) Validate() error {
	if rule.Frequency != FrequencyDaily && rule.Frequency != FrequencyWeekly {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRecurrenceRule, rule.Frequency)
	}
	if rule.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidRecurrenceRule)
	}
	hasCount := rule.Count != 0
	hasUntil := !rule.Until.IsZero()
	if hasCount == hasUntil {
		return fmt.Errorf("%w: exactly one of count and until must be set", ErrInvalidRecurrenceRule)
	}
	if hasCount && (rule.Count < 1 || rule.Count > MaxOccurrences) {
		return fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidRecurrenceRule, MaxOccurrences)
	}
	return nil
}

// Expand materializes the ordered occurrence ranges for an anchor. Each
// occurrence preserves the anchor's duration; the result is a pure function
// of the rule and the anchor. Expansions past MaxOccurrences fail rather
// than truncate.
func (rule Rule) Expand(anchor TimeRange) ([]TimeRange, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	step := rule.step()
	if rule.Count != 0 {
		occurrences := make([]TimeRange, 0, rule.Count)
		current := anchor
		for index := 0; index < rule.Count; index++ {
			occurrences = append(occurrences, current)
			current = current.Shift(step)
		}
		return occurrences, nil
	}
	until := rule.Until.UTC()
	if until.Before(anchor.Start()) {
		return nil, fmt.Errorf("%w: until precedes the anchor", ErrInvalidRecurrenceRule)
	}
	var occurrences []TimeRange
	current := anchor
	for !current.Start().After(until) {
		if len(occurrences) == MaxOccurrences {
			return nil, fmt.Errorf("%w: expansion exceeds %d occurrences", ErrInvalidRecurrenceRule, MaxOccurrences)
		}
		occurrences = append(occurrences, current)
		current = current.Shift(step)
	}
	return occurrences, nil
}

func (rule Rule) step() time.Duration {
	unit := 24 * time.Hour
	if rule.Frequency == FrequencyWeekly {
		unit = 7 * 24 * time.Hour
	}
	return time.Duration(rule.Interval) * unit
}

// String renders the compact stored form, e.g. "weekly;interval=1;count=3".
func (rule Rule) String() string {
	var builder strings.Builder
	builder.WriteString(string(rule.Frequency))
	fmt.Fprintf(&builder, ";interval=%d", rule.Interval)
	if rule.Count != 0 {
		fmt.Fprintf(&builder, ";count=%d", rule.Count)
	} else {
		fmt.Fprintf(&builder, ";until=%s", rule.Until.UTC().Format(time.RFC3339))
	}
	return builder.String()
}

// ParseRule reads the compact stored form back into a Rule.
func ParseRule(raw string) (Rule, error) {
	parts := strings.Split(strings.TrimSpace(raw), ";")
	if len(parts) < 2 {
		return Rule{}, fmt.Errorf("%w: %q", ErrInvalidRecurrenceRule, raw)
	}
	rule := Rule{Frequency: Frequency(parts[0])}
	for _, part := range parts[1:] {
		key, value, found := strings.Cut(part, "=")
		if !found {
			return Rule{}, fmt.Errorf("%w: malformed segment %q", ErrInvalidRecurrenceRule, part)
		}
		switch key {
		case "interval":
			interval, err := strconv.Atoi(value)
			if err != nil {
				return Rule{}, fmt.Errorf("%w: interval %q", ErrInvalidRecurrenceRule, value)
			}
			rule.Interval = interval
		case "count":
			count, err := strconv.Atoi(value)
			if err != nil {
				return Rule{}, fmt.Errorf("%w: count %q", ErrInvalidRecurrenceRule, value)
			}
			rule.Count = count
		case "until":
			until, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return Rule{}, fmt.Errorf("%w: until %q", ErrInvalidRecurrenceRule, value)
			}
			rule.Until = until.UTC()
		default:
			return Rule{}, fmt.Errorf("%w: unknown segment %q", ErrInvalidRecurrenceRule, key)
		}
	}
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}
