// Package llm defines the content and strategy generation services and
// their HTTP and mock implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

// ErrIncompleteContent is returned when a generator does not produce both variants
var ErrIncompleteContent = errors.New("generator returned incomplete content")

// MaxContentLength is the platform's post length limit
const MaxContentLength = 280

// Variant is one generated body
type Variant struct {
	Label     models.VariantLabel `json:"variant_id"`
	Content   string              `json:"content"`
	Hook      string              `json:"hook,omitempty"`
	Hashtags  []string            `json:"hashtags,omitempty"`
	Reasoning string              `json:"reasoning,omitempty"`
	MediaURL  string              `json:"media_url,omitempty"`
}

// Content is an A/B pair
type Content struct {
	A Variant `json:"a"`
	B Variant `json:"b"`
}

// Get returns the variant for label
func (c *Content) Get(label models.VariantLabel) Variant {
	if label == models.VariantB {
		return c.B
	}
	return c.A
}

// Validate checks that both variants carry text
func (c *Content) Validate() error {
	if c == nil {
		return ErrIncompleteContent
	}
	if strings.TrimSpace(c.A.Content) == "" || strings.TrimSpace(c.B.Content) == "" {
		return ErrIncompleteContent
	}
	return nil
}

// GenerateRequest describes the post content is written for
type GenerateRequest struct {
	Title          string
	Description    string
	Phase          string
	CampaignName   string
	ProductContext string
	Goals          string
}

// VariantAnalysis summarizes how one published variant performed
type VariantAnalysis struct {
	Label       models.VariantLabel `json:"variant"`
	Content     string              `json:"content"`
	Likes       int64               `json:"likes"`
	Retweets    int64               `json:"retweets"`
	Comments    int64               `json:"comments"`
	Impressions int64               `json:"impressions"`
	CommentList []string            `json:"comment_list,omitempty"`
	Triggered   bool                `json:"triggered"`
}

// Analysis is the performance report handed to the generator on regeneration
type Analysis struct {
	Metric     models.Metric     `json:"metric"`
	Comparison models.Comparator `json:"comparison"`
	Threshold  int64             `json:"threshold"`
	Elapsed    time.Duration     `json:"elapsed"`
	Variants   []VariantAnalysis `json:"variants"`
}

// Summary renders the analysis as plain prompt text
func (a *Analysis) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trigger: %s %s %d", a.Metric, a.Comparison, a.Threshold)
	if a.Elapsed > 0 {
		fmt.Fprintf(&b, " after %s", a.Elapsed.Round(time.Second))
	}
	b.WriteString("\n")
	for _, v := range a.Variants {
		mark := ""
		if v.Triggered {
			mark = " (triggered)"
		}
		fmt.Fprintf(&b, "Variant %s%s: likes=%d retweets=%d comments=%d impressions=%d\n",
			v.Label, mark, v.Likes, v.Retweets, v.Comments, v.Impressions)
	}
	return b.String()
}

// RegenerateRequest asks for improved content after a trigger fired
type RegenerateRequest struct {
	GenerateRequest
	Prior       []models.ContentVariant
	Analysis    Analysis
	Instruction string
}

// ContextPost summarizes a preserved post for the strategy generator
type ContextPost struct {
	NodeID      string `json:"node_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Phase       int    `json:"phase"`
}

// PlanRequest asks for a strategy graph starting at StartPhase
type PlanRequest struct {
	CampaignName       string
	ProductDescription string
	Goals              string
	Direction          string
	StartPhase         int
	Existing           []ContextPost
}

// Plan is a strategy graph in Mermaid form
type Plan struct {
	Diagram string `json:"diagram"`
}

// ContentGenerator writes A/B variants for posts
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Content, error)
	Regenerate(ctx context.Context, req RegenerateRequest) (*Content, error)
}

// StrategyGenerator plans campaign graphs
type StrategyGenerator interface {
	Plan(ctx context.Context, req PlanRequest) (*Plan, error)
}

// Generator is implemented by both ChatClient and Mock
type Generator interface {
	ContentGenerator
	StrategyGenerator
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
