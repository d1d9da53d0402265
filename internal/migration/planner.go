package migration

import (
	"sort"
)

// sortByDependencies orders pending migrations with Kahn's algorithm over
// their dependency edges, breaking ties by lexical id. Dependencies in
// satisfied are treated as already met. Returns a DependencyCycleError when
// no valid order exists.
func sortByDependencies(pending []Migration, satisfied map[string]bool) ([]Migration, error) {
	byID := make(map[string]Migration, len(pending))
	for _, m := range pending {
		byID[m.ID] = m
	}

	indegree := make(map[string]int, len(pending))
	dependents := make(map[string][]string)
	for _, m := range pending {
		indegree[m.ID] += 0
		for _, dep := range m.Dependencies {
			if satisfied[dep] {
				continue
			}
			if _, ok := byID[dep]; !ok {
				return nil, &UnknownDependencyError{ID: m.ID, Dependency: dep}
			}
			indegree[m.ID]++
			dependents[dep] = append(dependents[dep], m.ID)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	ordered := make([]Migration, 0, len(pending))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])

		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				// insert keeping ready lexically sorted
				i := sort.SearchStrings(ready, dep)
				ready = append(ready, "")
				copy(ready[i+1:], ready[i:])
				ready[i] = dep
			}
		}
	}

	if len(ordered) < len(pending) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, &DependencyCycleError{IDs: stuck}
	}

	return ordered, nil
}
