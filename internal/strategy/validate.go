package strategy

import (
	"fmt"
	"sort"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

const (
	minPostsPerPhase = 2
	maxPostsPerPhase = 5
)

// plan is a diagram checked against the posts it must preserve
type plan struct {
	nodes []Node // new posts, in diagram order
	edges []Edge // edges with at least one new endpoint
}

// validate checks a planned graph that replaces everything from fromPhase
// onward. existing holds the preserved posts keyed by node id. Nodes in
// preserved phases must name existing posts; they are context only.
func validate(g *Graph, fromPhase int, existing map[string]models.Post) (*plan, error) {
	if len(g.Unparsed) > 0 {
		return nil, invalidf("cannot read link %q", g.Unparsed[0])
	}

	p := &plan{}
	phaseOf := make(map[string]int, len(g.Nodes))
	perPhase := make(map[int]int)

	for id, post := range existing {
		phaseOf[id] = post.PhaseNumber()
	}

	for _, n := range g.Nodes {
		if n.Phase < fromPhase {
			if _, ok := existing[n.ID]; !ok {
				return nil, invalidf("node %s in phase %d is not an existing post", n.ID, n.Phase)
			}
			continue
		}
		if _, ok := existing[n.ID]; ok {
			return nil, invalidf("node %s reuses the id of an existing post", n.ID)
		}
		if _, dup := phaseOf[n.ID]; dup {
			return nil, invalidf("node %s is declared twice", n.ID)
		}
		if n.Title == "" {
			return nil, invalidf("node %s has no title", n.ID)
		}

		phaseOf[n.ID] = n.Phase
		perPhase[n.Phase]++
		p.nodes = append(p.nodes, n)
	}

	if len(p.nodes) == 0 {
		return nil, invalidf("no posts planned from phase %d", fromPhase)
	}

	phases := make([]int, 0, len(perPhase))
	for phase := range perPhase {
		phases = append(phases, phase)
	}
	sort.Ints(phases)

	if phases[0] != fromPhase {
		return nil, invalidf("plan starts at phase %d, want %d", phases[0], fromPhase)
	}
	for _, phase := range phases {
		if n := perPhase[phase]; n < minPostsPerPhase || n > maxPostsPerPhase {
			return nil, invalidf("phase %d has %d posts, want %d to %d", phase, n, minPostsPerPhase, maxPostsPerPhase)
		}
	}

	for _, e := range g.Edges {
		from, ok := phaseOf[e.From]
		if !ok {
			return nil, invalidf("edge %s --> %s: unknown node %s", e.From, e.To, e.From)
		}
		to, ok := phaseOf[e.To]
		if !ok {
			return nil, invalidf("edge %s --> %s: unknown node %s", e.From, e.To, e.To)
		}

		if from >= to {
			return nil, invalidf("edge %s --> %s goes from phase %d to phase %d", e.From, e.To, from, to)
		}
		_, fromKept := existing[e.From]
		_, toKept := existing[e.To]
		if fromKept && toKept {
			// links between preserved posts are left as stored
			continue
		}
		p.edges = append(p.edges, e)
	}

	return p, nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}
