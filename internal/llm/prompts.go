package llm

import (
	"fmt"
	"strings"
)

const contentSystemPrompt = `You write social media posts for technical founders and SaaS products.
Produce exactly two variants, A and B, each under 280 characters including hashtags.
Variant A is direct and professional. Variant B is casual and may use emojis.
Reply ONLY with JSON of the form:
{"variants":[{"variant_id":"A","content":"...","hook":"...","reasoning":"...","hashtags":["#..."]},
{"variant_id":"B","content":"...","hook":"...","reasoning":"...","hashtags":["#..."]}]}`

const strategySystemPrompt = `You plan go-to-market campaigns as a graph of posts grouped in phases.
Every phase you create holds between 2 and 5 posts. Edges only point from an earlier phase to a later one.
Reply ONLY with JSON of the form {"diagram":"<mermaid>"} where the diagram uses this syntax:
graph TB
    subgraph "Phase 1"
        N1[<title>Short title</title><description>What the post does</description>]
    end
    N1 --> N2`

func renderGeneratePrompt(req GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a post for %q.\n", req.Title)
	if req.Description != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", req.Description)
	}
	if req.Phase != "" {
		fmt.Fprintf(&b, "Campaign stage: %s\n", req.Phase)
	}
	writeProductContext(&b, req)
	return b.String()
}

func renderRegeneratePrompt(req RegenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rewrite the post %q, which is underperforming.\n", req.Title)
	if req.Description != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", req.Description)
	}
	writeProductContext(&b, req.GenerateRequest)

	if len(req.Prior) > 0 {
		b.WriteString("\nCurrent content:\n")
		for _, v := range req.Prior {
			fmt.Fprintf(&b, "- %s: %s\n", v.VariantID, v.Content)
		}
	}

	b.WriteString("\nPerformance:\n")
	b.WriteString(req.Analysis.Summary())

	if req.Instruction != "" {
		fmt.Fprintf(&b, "\nInstruction: %s\n", req.Instruction)
	}
	return b.String()
}

func renderPlanPrompt(req PlanRequest) string {
	var b strings.Builder
	if req.CampaignName != "" {
		fmt.Fprintf(&b, "Campaign: %s\n", req.CampaignName)
	}
	fmt.Fprintf(&b, "Product: %s\n", req.ProductDescription)
	if req.Goals != "" {
		fmt.Fprintf(&b, "Goals: %s\n", req.Goals)
	}

	if len(req.Existing) == 0 {
		b.WriteString("\nPlan the full campaign starting at Phase 1.\n")
		return b.String()
	}

	b.WriteString("\nThese posts are already planned and must be kept with their node ids:\n")
	for _, p := range req.Existing {
		fmt.Fprintf(&b, "- %s (Phase %d): %s. %s\n", p.NodeID, p.Phase, p.Title, p.Description)
	}
	fmt.Fprintf(&b, "\nReplace everything from Phase %d onward.", req.StartPhase)
	if req.Direction != "" {
		fmt.Fprintf(&b, " New direction: %s.", req.Direction)
	}
	b.WriteString(" Include the kept posts in the diagram and link them to the new posts.\n")
	return b.String()
}

func writeProductContext(b *strings.Builder, req GenerateRequest) {
	if req.CampaignName != "" {
		fmt.Fprintf(b, "Campaign: %s\n", req.CampaignName)
	}
	if req.ProductContext != "" {
		fmt.Fprintf(b, "Product: %s\n", req.ProductContext)
	}
	if req.Goals != "" {
		fmt.Fprintf(b, "Goals: %s\n", req.Goals)
	}
}
