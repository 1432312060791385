// Package departments models the organizational forest memberships
// cascade down.
package departments

import (
	"sort"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
)

// DefaultMaxDepth caps how deep a department may sit below its root
const DefaultMaxDepth = 64

// ID identifies a department
type ID string

// String returns the id as a string
func (id ID) String() string {
	return string(id)
}

// Department is a node in the organizational tree
type Department struct {
	ID       ID     `json:"id" yaml:"id"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	ParentID ID     `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	// RequireExplicitMembership stops memberships cascading into this department
	RequireExplicitMembership bool `json:"require_explicit_membership" yaml:"require_explicit_membership"`
}

// PathStep is a department on a cascade path
type PathStep struct {
	ID                        ID
	RequireExplicitMembership bool
}

// Hierarchy is an immutable, validated department forest
type Hierarchy struct {
	nodes    map[ID]Department
	children map[ID][]ID
	roots    []ID
	maxDepth int
}

// Option configures a Hierarchy
type Option func(*Hierarchy)

// WithMaxDepth overrides the depth cap
func WithMaxDepth(depth int) Option {
	return func(h *Hierarchy) {
		if depth > 0 {
			h.maxDepth = depth
		}
	}
}

// NewHierarchy validates depts and builds a hierarchy. Duplicate ids,
// dangling parents, cycles and over-deep chains are reported as
// CorruptHierarchy.
func NewHierarchy(depts []Department, opts ...Option) (*Hierarchy, error) {
	const op = "departments.Load"

	h := &Hierarchy{
		nodes:    make(map[ID]Department, len(depts)),
		children: make(map[ID][]ID),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(h)
	}

	for _, d := range depts {
		if d.ID == "" {
			return nil, accesserr.New(accesserr.ErrCorruptHierarchy, op).WithDetail("department without id")
		}
		if _, dup := h.nodes[d.ID]; dup {
			return nil, corrupt(op, d.ID, "duplicate id")
		}
		if d.ParentID == d.ID {
			return nil, corrupt(op, d.ID, "department is its own parent")
		}
		h.nodes[d.ID] = d
	}

	for _, d := range depts {
		if d.ParentID == "" {
			h.roots = append(h.roots, d.ID)
			continue
		}
		if _, ok := h.nodes[d.ParentID]; !ok {
			return nil, corrupt(op, d.ID, "parent "+d.ParentID.String()+" does not exist")
		}
		h.children[d.ParentID] = append(h.children[d.ParentID], d.ID)
	}

	for _, kids := range h.children {
		sortIDs(kids)
	}
	sortIDs(h.roots)

	// Every chain must reach a root within the depth cap
	for id := range h.nodes {
		if _, err := h.AncestorsOf(id); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// Get returns a department by id
func (h *Hierarchy) Get(id ID) (Department, bool) {
	d, ok := h.nodes[id]
	return d, ok
}

// Len returns the number of departments
func (h *Hierarchy) Len() int {
	return len(h.nodes)
}

// Roots returns the root departments in id order
func (h *Hierarchy) Roots() []ID {
	out := make([]ID, len(h.roots))
	copy(out, h.roots)
	return out
}

// AncestorsOf returns the ancestor chain of id, nearest first
func (h *Hierarchy) AncestorsOf(id ID) ([]ID, error) {
	const op = "departments.AncestorsOf"

	d, ok := h.nodes[id]
	if !ok {
		return nil, notFound(op, id)
	}

	var out []ID
	visited := map[ID]struct{}{id: {}}
	for cur := d.ParentID; cur != ""; {
		if _, seen := visited[cur]; seen {
			return nil, corrupt(op, id, "cycle through "+cur.String())
		}
		if len(out) >= h.maxDepth {
			return nil, corrupt(op, id, "ancestor chain exceeds depth cap")
		}
		visited[cur] = struct{}{}
		out = append(out, cur)

		parent, ok := h.nodes[cur]
		if !ok {
			return nil, corrupt(op, id, "dangling parent "+cur.String())
		}
		cur = parent.ParentID
	}
	return out, nil
}

// DescendantsOf returns every descendant of id in BFS order, nearest first
func (h *Hierarchy) DescendantsOf(id ID) ([]ID, error) {
	var out []ID
	err := h.Walk(id, func(ID, int) bool { return true }, func(d ID, _ int) {
		out = append(out, d)
	})
	return out, err
}

// Walk visits the descendants of id breadth first. enter decides whether
// a child and its subtree are visited; visit is called for every entered
// child with its distance from id.
func (h *Hierarchy) Walk(id ID, enter func(child ID, depth int) bool, visit func(child ID, depth int)) error {
	const op = "departments.Walk"

	if _, ok := h.nodes[id]; !ok {
		return notFound(op, id)
	}

	type item struct {
		id    ID
		depth int
	}
	visited := map[ID]struct{}{id: {}}
	queue := []item{{id: id}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, child := range h.children[cur.id] {
			if _, seen := visited[child]; seen {
				return corrupt(op, child, "revisited during traversal")
			}
			visited[child] = struct{}{}

			depth := cur.depth + 1
			if depth > h.maxDepth {
				return corrupt(op, child, "descendant chain exceeds depth cap")
			}
			if !enter(child, depth) {
				continue
			}
			visit(child, depth)
			queue = append(queue, item{id: child, depth: depth})
		}
	}
	return nil
}

// CascadePath returns the departments from from down to to, inclusive,
// annotated with their explicit-membership flag. from must be to or one
// of its ancestors.
func (h *Hierarchy) CascadePath(from, to ID) ([]PathStep, error) {
	const op = "departments.CascadePath"

	if _, ok := h.nodes[from]; !ok {
		return nil, notFound(op, from)
	}
	ancestors, err := h.AncestorsOf(to)
	if err != nil {
		return nil, err
	}

	chain := []ID{to}
	if from != to {
		found := false
		for _, a := range ancestors {
			chain = append(chain, a)
			if a == from {
				found = true
				break
			}
		}
		if !found {
			return nil, accesserr.New(accesserr.ErrUnrelatedDepartments, op).
				WithDepartment(to.String()).
				WithDetail("%s is not an ancestor", from)
		}
	}

	path := make([]PathStep, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		d := h.nodes[chain[i]]
		path = append(path, PathStep{ID: d.ID, RequireExplicitMembership: d.RequireExplicitMembership})
	}
	return path, nil
}

// IsWithin reports whether id is ancestor or one of its descendants
func (h *Hierarchy) IsWithin(id, ancestor ID) bool {
	if id == ancestor {
		_, ok := h.nodes[id]
		return ok
	}
	chain, err := h.AncestorsOf(id)
	if err != nil {
		return false
	}
	for _, a := range chain {
		if a == ancestor {
			return true
		}
	}
	return false
}

func sortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func notFound(op string, id ID) error {
	return accesserr.New(accesserr.ErrDepartmentNotFound, op).WithDepartment(id.String())
}

func corrupt(op string, id ID, detail string) error {
	return accesserr.New(accesserr.ErrCorruptHierarchy, op).WithDepartment(id.String()).WithDetail("%s", detail)
}
