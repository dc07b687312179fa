// Package tree folds crawled content records into a course hierarchy.
package tree

import (
	"fmt"
	"io"
	"strings"

	"course-portal-go/pkg/types"
)

// Kind classifies a tree node.
type Kind string

const (
	KindCourse  Kind = "course"
	KindEntry   Kind = "entry"
	KindFolder  Kind = "folder"
	KindContent Kind = "content"
)

// Node is one element of a course tree. Content nodes carry their record.
type Node struct {
	ID       string               `json:"id"`
	Title    string               `json:"title"`
	Kind     Kind                 `json:"kind"`
	Record   *types.ContentRecord `json:"record,omitempty"`
	Children []*Node              `json:"children,omitempty"`
}

type slot struct {
	node     Node
	children []int
}

type builder struct {
	slots     []slot
	entries   map[string]int
	records   map[string]int
	synthetic map[string]int
}

func (b *builder) add(parent int, n Node) int {
	b.slots = append(b.slots, slot{node: n})
	idx := len(b.slots) - 1
	if parent >= 0 {
		b.slots[parent].children = append(b.slots[parent].children, idx)
	}
	return idx
}

// Build places every record under the course root. A record goes under, in
// order of preference: the node of its ParentID, the entry named by its
// SectionName, an entry or synthesized folder named by its ParentTitle, or
// the root. Children keep input order.
func Build(course types.CourseMeta, entryTitles []string, records []*types.ContentRecord) *Node {
	b := &builder{
		entries:   make(map[string]int),
		records:   make(map[string]int),
		synthetic: make(map[string]int),
	}
	root := b.add(-1, Node{ID: course.ID, Title: course.Title(), Kind: KindCourse})

	for _, title := range entryTitles {
		if _, ok := b.entries[title]; ok {
			continue
		}
		b.entries[title] = b.add(root, Node{ID: "entry:" + title, Title: title, Kind: KindEntry})
	}

	for _, rec := range records {
		parent := b.parentOf(root, rec)
		idx := b.add(parent, Node{ID: rec.ID, Title: rec.Title, Kind: KindContent, Record: rec})
		if _, ok := b.records[rec.ID]; !ok {
			b.records[rec.ID] = idx
		}
	}
	return b.materialize(root)
}

func (b *builder) parentOf(root int, rec *types.ContentRecord) int {
	if idx, ok := b.records[rec.ParentID]; ok && rec.ParentID != "" {
		return idx
	}
	if idx, ok := b.entries[rec.SectionName]; ok {
		return idx
	}
	if rec.ParentTitle != "" {
		if idx, ok := b.entries[rec.ParentTitle]; ok {
			return idx
		}
		if idx, ok := b.synthetic[rec.ParentTitle]; ok {
			return idx
		}
		idx := b.add(root, Node{ID: "folder:" + rec.ParentTitle, Title: rec.ParentTitle, Kind: KindFolder})
		b.synthetic[rec.ParentTitle] = idx
		return idx
	}
	return root
}

func (b *builder) materialize(idx int) *Node {
	s := b.slots[idx]
	n := s.node
	if len(s.children) > 0 {
		n.Children = make([]*Node, len(s.children))
		for i, c := range s.children {
			n.Children[i] = b.materialize(c)
		}
	}
	return &n
}

// Walk visits the tree depth-first in pre-order.
func (n *Node) Walk(fn func(node *Node, depth int)) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// Find returns the first node with the given id, or nil.
func (n *Node) Find(id string) *Node {
	if n.ID == id {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// FindByKind returns the content nodes whose record has kind k, in
// pre-order.
func (n *Node) FindByKind(k types.ContentKind) []*Node {
	var out []*Node
	n.Walk(func(node *Node, _ int) {
		if node.Record != nil && node.Record.Kind == k {
			out = append(out, node)
		}
	})
	return out
}

// FindByTitle returns the nodes whose title contains query, ignoring case,
// in pre-order.
func (n *Node) FindByTitle(query string) []*Node {
	q := strings.ToLower(query)
	var out []*Node
	n.Walk(func(node *Node, _ int) {
		if strings.Contains(strings.ToLower(node.Title), q) {
			out = append(out, node)
		}
	})
	return out
}

// Path returns the nodes from n down to the node with the given id, or nil
// if there is none.
func (n *Node) Path(id string) []*Node {
	if n.ID == id {
		return []*Node{n}
	}
	for _, c := range n.Children {
		if p := c.Path(id); p != nil {
			return append([]*Node{n}, p...)
		}
	}
	return nil
}

// Count returns the number of nodes including n.
func (n *Node) Count() int {
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}

// Print writes an indented outline of the tree.
func (n *Node) Print(w io.Writer) error {
	var err error
	n.Walk(func(node *Node, depth int) {
		if err != nil {
			return
		}
		label := string(node.Kind)
		if node.Record != nil {
			label = node.Record.Kind.String()
		}
		_, err = fmt.Fprintf(w, "%s%s [%s]\n", strings.Repeat("  ", depth), node.Title, label)
	})
	return err
}
