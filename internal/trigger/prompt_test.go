package trigger

import (
	"errors"
	"testing"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

func TestParsePrompt(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		prompt    string
		want      models.Trigger
	}{
		{
			name:      "less than with seconds",
			condition: "likes",
			prompt:    "less than 5 within 3600 seconds, make it in cartoon style post",
			want:      models.Trigger{Metric: models.MetricLikes, Value: 5, Comparison: models.LessThan, Duration: 3600, Prompt: "make it in cartoon style post"},
		},
		{
			name:      "greater than bare seconds",
			condition: "retweets",
			prompt:    "greater than 10 within 7200, create celebratory follow-up post",
			want:      models.Trigger{Metric: models.MetricRetweets, Value: 10, Comparison: models.GreaterThan, Duration: 7200, Prompt: "create celebratory follow-up post"},
		},
		{
			name:      "equals",
			condition: "Impressions",
			prompt:    "equals 0 within 1800 seconds, pivot strategy immediately",
			want:      models.Trigger{Metric: models.MetricImpressions, Value: 0, Comparison: models.Equal, Duration: 1800, Prompt: "pivot strategy immediately"},
		},
		{
			name:      "under with minutes",
			condition: "comments",
			prompt:    "under 3 within 10m, improve engagement tactics",
			want:      models.Trigger{Metric: models.MetricComments, Value: 3, Comparison: models.LessThan, Duration: 600, Prompt: "improve engagement tactics"},
		},
		{
			name:      "symbol and hours without action",
			condition: "likes",
			prompt:    "> 50 within 2 hours",
			want:      models.Trigger{Metric: models.MetricLikes, Value: 50, Comparison: models.GreaterThan, Duration: 7200},
		},
		{
			name:      "longest window",
			condition: "likes",
			prompt:    "under 1 within 106751 days",
			want:      models.Trigger{Metric: models.MetricLikes, Value: 1, Comparison: models.LessThan, Duration: 106751 * 86400},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrompt(tt.condition, tt.prompt)
			if err != nil {
				t.Fatalf("ParsePrompt() error = %v", err)
			}
			if *got != tt.want {
				t.Errorf("ParsePrompt() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParsePromptErrors(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		prompt    string
		want      error
	}{
		{"unknown metric", "followers", "less than 5 within 60, x", ErrUnknownMetric},
		{"missing within", "likes", "less than 5, do something", ErrInvalidPrompt},
		{"no comparison", "likes", "5 within 60, x", ErrInvalidPrompt},
		{"empty", "likes", "", ErrInvalidPrompt},
		{"duration overflows", "likes", "less than 5 within 9223372036854775807 days, x", ErrInvalidPrompt},
		{"duration past max", "likes", "less than 5 within 106752 days, x", ErrInvalidPrompt},
		{"duration out of int64 range", "likes", "less than 5 within 99999999999999999999, x", ErrInvalidPrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePrompt(tt.condition, tt.prompt)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParsePrompt() error = %v, want %v", err, tt.want)
			}
		})
	}
}
