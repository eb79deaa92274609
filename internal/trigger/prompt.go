package trigger

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

var (
	// ErrInvalidPrompt is returned when a trigger prompt does not follow
	// "<comparison> <value> within <duration>, <action>"
	ErrInvalidPrompt = errors.New("invalid trigger prompt")
	// ErrUnknownMetric is returned for a condition that is not a tracked metric
	ErrUnknownMetric = errors.New("unknown trigger metric")
)

var promptPattern = regexp.MustCompile(`(?i)^\s*` +
	`(less than|fewer than|under|below|<|greater than|more than|over|above|>|equals|equal to|exactly|=)\s*` +
	`(\d+)\s+within\s+(\d+)\s*` +
	`(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d)?\s*` +
	`(?:,\s*(.*?))?\s*$`)

var comparisonWords = map[string]models.Comparator{
	"less than":    models.LessThan,
	"fewer than":   models.LessThan,
	"under":        models.LessThan,
	"below":        models.LessThan,
	"<":            models.LessThan,
	"greater than": models.GreaterThan,
	"more than":    models.GreaterThan,
	"over":         models.GreaterThan,
	"above":        models.GreaterThan,
	">":            models.GreaterThan,
	"equals":       models.Equal,
	"equal to":     models.Equal,
	"exactly":      models.Equal,
	"=":            models.Equal,
}

// ParsePrompt turns a condition metric and a prompt such as
// "less than 5 within 3600, make it in cartoon style" into a trigger
func ParsePrompt(condition, text string) (*models.Trigger, error) {
	metric := models.Metric(strings.ToLower(strings.TrimSpace(condition)))
	if !metric.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, condition)
	}

	m := promptPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrompt, text)
	}

	value, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: threshold %q", ErrInvalidPrompt, m[2])
	}
	amount, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: duration %q", ErrInvalidPrompt, m[3])
	}
	unit := unitSeconds(m[4])
	if amount > models.MaxTriggerDuration/unit {
		return nil, fmt.Errorf("%w: duration %s%s is too long", ErrInvalidPrompt, m[3], m[4])
	}

	t := &models.Trigger{
		Metric:     metric,
		Value:      value,
		Comparison: comparisonWords[strings.ToLower(m[1])],
		Duration:   amount * unit,
		Prompt:     m[5],
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrompt, err)
	}
	return t, nil
}

func unitSeconds(unit string) int64 {
	switch strings.ToLower(unit) {
	case "m", "min", "mins", "minute", "minutes":
		return 60
	case "h", "hr", "hrs", "hour", "hours":
		return 3600
	case "d", "day", "days":
		return 86400
	}
	return 1
}
