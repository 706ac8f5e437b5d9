package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"fintrack/internal/core"
)

// Condition selects which transitions of the source fire an edge.
type Condition string

const (
	// SignedIn fires when the auth root turns authenticated.
	SignedIn Condition = "signed_in"
	// SignedOut fires when the auth root stops being authenticated.
	SignedOut Condition = "signed_out"
	// DataChanged fires when a store replaces loaded data with newer data
	// while the session is authenticated. A first load does not fire it.
	DataChanged Condition = "data_changed"
)

// Effect is what an edge does to its target.
type Effect string

const (
	EffectFetch Effect = "fetch"
	EffectReset Effect = "reset"
)

// Edge is one dependency: when Source meets When, apply Effect to Target.
type Edge struct {
	Name   string
	Source core.Resource
	When   Condition
	Target core.Resource
	Effect Effect
}

// CreditDependents are refreshed whenever the credit list changes.
var CreditDependents = []core.Resource{
	core.ResourceBalance,
	core.ResourceGoal,
	core.ResourceCurrentGoal,
	core.ResourceRecommendation,
	core.ResourceReminder,
}

// DefaultEdges is the dependency table of the application.
func DefaultEdges() []Edge {
	var edges []Edge
	for _, r := range core.DataResources() {
		edges = append(edges,
			Edge{Name: "signin-" + string(r), Source: core.ResourceAuth, When: SignedIn, Target: r, Effect: EffectFetch},
			Edge{Name: "signout-" + string(r), Source: core.ResourceAuth, When: SignedOut, Target: r, Effect: EffectReset},
		)
	}
	for _, r := range CreditDependents {
		edges = append(edges, Edge{
			Name:   "credit-" + string(r),
			Source: core.ResourceCredit,
			When:   DataChanged,
			Target: r,
			Effect: EffectFetch,
		})
	}
	return edges
}

var (
	ErrUnknownStore = errors.New("unknown store")
	ErrAuthTarget   = errors.New("auth cannot be an edge target")
	ErrInvalidEdge  = errors.New("invalid edge")
	ErrCycle        = errors.New("dependency cycle")
)

// validateEdges checks every edge against the known stores and rejects
// cycles among data stores.
func validateEdges(edges []Edge, known map[core.Resource]bool) error {
	var errs []error
	names := map[string]bool{}
	for _, e := range edges {
		if e.Name == "" || names[e.Name] {
			errs = append(errs, fmt.Errorf("%w: missing or duplicate name %q", ErrInvalidEdge, e.Name))
		}
		names[e.Name] = true
		if e.Target == core.ResourceAuth {
			errs = append(errs, fmt.Errorf("edge %s: %w", e.Name, ErrAuthTarget))
		} else if !known[e.Target] {
			errs = append(errs, fmt.Errorf("edge %s: target %q: %w", e.Name, e.Target, ErrUnknownStore))
		}
		switch {
		case e.Source == core.ResourceAuth:
			if e.When != SignedIn && e.When != SignedOut {
				errs = append(errs, fmt.Errorf("%w %s: auth edges fire on sign-in or sign-out", ErrInvalidEdge, e.Name))
			}
		case !known[e.Source]:
			errs = append(errs, fmt.Errorf("edge %s: source %q: %w", e.Name, e.Source, ErrUnknownStore))
		case e.When != DataChanged:
			errs = append(errs, fmt.Errorf("%w %s: store edges fire on data changes", ErrInvalidEdge, e.Name))
		}
		if e.Effect != EffectFetch && e.Effect != EffectReset {
			errs = append(errs, fmt.Errorf("%w %s: effect %q", ErrInvalidEdge, e.Name, e.Effect))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, scc := range tarjanSCC(buildGraph(edges)) {
		if len(scc) > 1 || hasSelfLoop(scc[0], edges) {
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(scc, " -> "))
		}
	}
	return nil
}

type graph map[string][]string

func buildGraph(edges []Edge) graph {
	g := graph{}
	for _, e := range edges {
		src, dst := string(e.Source), string(e.Target)
		g[src] = append(g[src], dst)
		if g[dst] == nil {
			g[dst] = []string{}
		}
	}
	return g
}

func hasSelfLoop(node string, edges []Edge) bool {
	for _, e := range edges {
		if string(e.Source) == node && string(e.Target) == node {
			return true
		}
	}
	return false
}

// tarjanSCC returns the strongly connected components of g. Nodes are
// visited in sorted order so results are deterministic.
func tarjanSCC(g graph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(g))
	for v := range g {
		nodes = append(nodes, v)
	}
	sort.Strings(nodes)
	for _, v := range nodes {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}
	return sccs
}
