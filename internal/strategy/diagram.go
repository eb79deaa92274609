package strategy

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

// Node is one planned post in a strategy diagram
type Node struct {
	ID          string
	Title       string
	Description string
	Phase       int
	// PhaseLabel is the subgraph title, e.g. "Phase 2 (Launch)"
	PhaseLabel string
}

// Edge is a directed dependency between two nodes
type Edge struct {
	From string
	To   string
}

// Graph is a parsed strategy diagram
type Graph struct {
	Nodes []Node
	Edges []Edge
	// Unparsed holds link lines that could not be read as edges
	Unparsed []string
}

// Node returns the first node with id
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

var (
	subgraphPattern = regexp.MustCompile(`^subgraph\s+(?:\w+\s*\[\s*)?"?([^"\]]*)"?\s*\]?\s*$`)
	nodePattern     = regexp.MustCompile(`^(\w+)\s*\[\s*"?(.*?)"?\s*\]\s*;?$`)
	arrowPattern    = regexp.MustCompile(`\s*--+>\s*(?:\|[^|]*\|\s*)?`)
	groupPattern    = regexp.MustCompile(`^\w+(?:\s*&\s*\w+)*$`)
	titlePattern    = regexp.MustCompile(`(?is)<title>(.*?)</title>`)
	descPattern     = regexp.MustCompile(`(?is)<description>(.*?)</description>`)
)

// ParseDiagram reads a Mermaid flowchart. Nodes take their phase from the
// enclosing subgraph; nodes outside a phase subgraph get phase 0. Chains
// such as "A --> B --> C" and groups such as "A & B --> C" expand into one
// edge per pair. Link lines that cannot be read that way are kept in
// Unparsed; other unknown lines are skipped.
func ParseDiagram(src string) *Graph {
	g := &Graph{}
	seenEdge := make(map[Edge]bool)

	var (
		phase int
		label string
	)

	for _, raw := range strings.Split(src, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "", strings.HasPrefix(line, "```"), strings.HasPrefix(line, "%%"):
			continue
		case strings.HasPrefix(line, "graph ") || strings.HasPrefix(line, "flowchart ") || line == "graph" || line == "flowchart":
			continue
		case line == "end":
			phase, label = 0, ""
			continue
		}

		if m := subgraphPattern.FindStringSubmatch(line); m != nil {
			label = strings.TrimSpace(m[1])
			phase = models.PhaseNumber(label)
			continue
		}

		if arrowPattern.MatchString(line) {
			if edges, ok := parseEdges(line); ok {
				for _, e := range edges {
					if !seenEdge[e] {
						seenEdge[e] = true
						g.Edges = append(g.Edges, e)
					}
				}
				continue
			}
			// an arrow inside node text is fine; inline node shapes on a link are not
			if m := nodePattern.FindStringSubmatch(line); m == nil || strings.ContainsAny(m[2], "[]") {
				g.Unparsed = append(g.Unparsed, line)
				continue
			}
		}
		if m := nodePattern.FindStringSubmatch(line); m != nil {
			n := Node{ID: m[1], Phase: phase, PhaseLabel: label}
			n.Title, n.Description = parseNodeText(m[2])
			g.Nodes = append(g.Nodes, n)
		}
	}

	return g
}

// parseEdges splits a link line into its pairwise edges
func parseEdges(line string) ([]Edge, bool) {
	parts := arrowPattern.Split(strings.TrimSuffix(line, ";"), -1)
	if len(parts) < 2 {
		return nil, false
	}

	groups := make([][]string, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if !groupPattern.MatchString(part) {
			return nil, false
		}
		for _, id := range strings.Split(part, "&") {
			groups[i] = append(groups[i], strings.TrimSpace(id))
		}
	}

	var edges []Edge
	for i := 0; i+1 < len(groups); i++ {
		for _, from := range groups[i] {
			for _, to := range groups[i+1] {
				edges = append(edges, Edge{From: from, To: to})
			}
		}
	}
	return edges, true
}

func parseNodeText(text string) (title, description string) {
	if m := titlePattern.FindStringSubmatch(text); m != nil {
		title = m[1]
	}
	if m := descPattern.FindStringSubmatch(text); m != nil {
		description = m[1]
	}
	if title == "" && description == "" {
		title = text
	}
	return html.UnescapeString(strings.TrimSpace(title)), html.UnescapeString(strings.TrimSpace(description))
}

// RenderDiagram writes g as a Mermaid flowchart with one subgraph per phase
func RenderDiagram(g *Graph) string {
	byPhase := make(map[int][]Node)
	labels := make(map[int]string)
	for _, n := range g.Nodes {
		byPhase[n.Phase] = append(byPhase[n.Phase], n)
		if labels[n.Phase] == "" && n.PhaseLabel != "" {
			labels[n.Phase] = n.PhaseLabel
		}
	}

	phases := make([]int, 0, len(byPhase))
	for p := range byPhase {
		phases = append(phases, p)
	}
	sort.Ints(phases)

	var b strings.Builder
	b.WriteString("graph TB\n")
	for _, p := range phases {
		label := labels[p]
		if label == "" {
			label = models.PhaseLabel(p)
		}
		fmt.Fprintf(&b, "    subgraph %q\n", label)
		for _, n := range byPhase[p] {
			fmt.Fprintf(&b, "        %s[<title>%s</title><description>%s</description>]\n",
				n.ID, escapeNodeText(n.Title), escapeNodeText(n.Description))
		}
		b.WriteString("    end\n")
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&b, "    %s --> %s\n", e.From, e.To)
	}
	return b.String()
}

// escapeNodeText keeps node text on one line and away from Mermaid syntax
func escapeNodeText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.NewReplacer("[", "&#91;", "]", "&#93;", "\"", "&quot;").Replace(s)
}
