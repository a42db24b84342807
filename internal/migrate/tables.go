// Package migrate implements the table migration engine: destination
// schema bootstrap, dependency-ordered transactional table copies, and
// row-count verification between a source and a destination database.
package migrate

import (
	"fmt"
	"sort"
)

// TableSpec declares one table to migrate: its name, the columns to copy
// in statement order, an optional auto-incrementing identity column, and
// the tables it references by foreign key.
type TableSpec struct {
	Name           string   `json:"name"`
	Columns        []string `json:"columns"`
	IdentityColumn string   `json:"identity_column,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
}

// Validate checks that the spec is internally consistent.
func (t *TableSpec) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table spec must have a name")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s must declare at least one column", t.Name)
	}
	if t.IdentityColumn != "" {
		found := false
		for _, col := range t.Columns {
			if col == t.IdentityColumn {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("table %s identity column %q is not in its column list", t.Name, t.IdentityColumn)
		}
	}
	for _, dep := range t.DependsOn {
		if dep == t.Name {
			return fmt.Errorf("table %s cannot depend on itself", t.Name)
		}
	}
	return nil
}

// SortTables orders tables so that every table comes after the tables it
// references (parents before children). Uses Kahn's algorithm with sorted
// queues for deterministic output.
func SortTables(tables []TableSpec) ([]TableSpec, error) {
	graph := make(map[string][]string)
	inDegree := make(map[string]int)

	for _, t := range tables {
		if _, ok := graph[t.Name]; ok {
			return nil, fmt.Errorf("duplicate table spec %s", t.Name)
		}
		graph[t.Name] = []string{}
		inDegree[t.Name] = 0
	}

	// Edge: parent -> child (parent must come before child)
	for _, t := range tables {
		for _, dep := range t.DependsOn {
			if _, ok := inDegree[dep]; !ok {
				return nil, fmt.Errorf("table %s depends on %s, which is not configured for migration", t.Name, dep)
			}
			graph[dep] = append(graph[dep], t.Name)
			inDegree[t.Name]++
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var sorted []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, current)

		neighbors := graph[current]
		sort.Strings(neighbors)

		for _, neighbor := range neighbors {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
				sort.Strings(queue)
			}
		}
	}

	if len(sorted) != len(inDegree) {
		return nil, fmt.Errorf("circular foreign key dependency detected")
	}

	tableMap := make(map[string]TableSpec)
	for _, t := range tables {
		tableMap[t.Name] = t
	}

	result := make([]TableSpec, 0, len(sorted))
	for _, name := range sorted {
		result = append(result, tableMap[name])
	}

	return result, nil
}
