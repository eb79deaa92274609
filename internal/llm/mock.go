package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

// Mock is a deterministic offline generator
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Generate(ctx context.Context, req GenerateRequest) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Content{
		A: Variant{
			Label:     models.VariantA,
			Content:   truncate(fmt.Sprintf("%s: %s", req.Title, req.Description), MaxContentLength),
			Hook:      "value proposition",
			Hashtags:  []string{"#buildinpublic"},
			Reasoning: "direct statement of the benefit",
		},
		B: Variant{
			Label:     models.VariantB,
			Content:   truncate(fmt.Sprintf("🚀 %s? %s", req.Title, req.Description), MaxContentLength),
			Hook:      "curiosity",
			Hashtags:  []string{"#startups"},
			Reasoning: "question opener invites replies",
		},
	}, nil
}

func (m *Mock) Regenerate(ctx context.Context, req RegenerateRequest) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	angle := req.Instruction
	if angle == "" {
		angle = "sharper hook"
	}
	return &Content{
		A: Variant{
			Label:     models.VariantA,
			Content:   truncate(fmt.Sprintf("%s (%s): %s", req.Title, angle, req.Description), MaxContentLength),
			Hook:      angle,
			Reasoning: fmt.Sprintf("rewritten after %s %s %d", req.Analysis.Metric, req.Analysis.Comparison, req.Analysis.Threshold),
		},
		B: Variant{
			Label:     models.VariantB,
			Content:   truncate(fmt.Sprintf("✨ %s, now with a %s. %s", req.Title, angle, req.Description), MaxContentLength),
			Hook:      angle,
			Reasoning: "casual variant of the rewrite",
		},
	}, nil
}

// Plan keeps the existing posts and adds two posts to each phase from
// StartPhase up to at least phase 3
func (m *Mock) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := req.StartPhase
	if start < 1 {
		start = 1
	}
	last := max(start, 3)

	phases := make(map[int][]string)
	var b strings.Builder
	b.WriteString("graph TB\n")

	existing := make(map[int][]ContextPost)
	for _, p := range req.Existing {
		existing[p.Phase] = append(existing[p.Phase], p)
	}
	var kept []int
	for phase := range existing {
		kept = append(kept, phase)
	}
	sort.Ints(kept)

	for _, phase := range kept {
		fmt.Fprintf(&b, "    subgraph \"Phase %d\"\n", phase)
		for _, p := range existing[phase] {
			fmt.Fprintf(&b, "        %s[<title>%s</title><description>%s</description>]\n", p.NodeID, p.Title, p.Description)
			phases[phase] = append(phases[phase], p.NodeID)
		}
		b.WriteString("    end\n")
	}

	topic := req.Direction
	if topic == "" {
		topic = "launch"
	}
	for phase := start; phase <= last; phase++ {
		fmt.Fprintf(&b, "    subgraph \"Phase %d\"\n", phase)
		for i := 1; i <= 2; i++ {
			id := fmt.Sprintf("P%dN%d", phase, i)
			fmt.Fprintf(&b, "        %s[<title>%s post %d.%d</title><description>Phase %d content about %s</description>]\n",
				id, topic, phase, i, phase, topic)
			phases[phase] = append(phases[phase], id)
		}
		b.WriteString("    end\n")
	}

	// Link the latest preserved phase into the first new one, then chain phases
	var prev []string
	if len(kept) > 0 {
		prev = phases[kept[len(kept)-1]]
	}
	for phase := start; phase <= last; phase++ {
		cur := phases[phase]
		if len(prev) > 0 {
			for i := 0; i < max(len(prev), len(cur)); i++ {
				fmt.Fprintf(&b, "    %s --> %s\n", prev[i%len(prev)], cur[i%len(cur)])
			}
		}
		prev = cur
	}

	return &Plan{Diagram: b.String()}, nil
}
