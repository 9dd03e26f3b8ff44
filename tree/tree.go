// Package tree stores a hierarchy of named nodes in a self-referencing
// table and keeps an in-memory mirror of it in step with the database.
package tree

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/melkeydev/treedb/databases"
	"github.com/melkeydev/treedb/types"
	"go.uber.org/zap"
)

// TableName is the default node table.
const TableName = "tree_nodes"

// RootParentID is the parent_id written for top-level nodes.
const RootParentID int64 = 0

// Node is one mirrored row. Children are owned by the store; parent is a
// back reference and nil for roots.
type Node struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	ParentID int64   `json:"parent_id,omitempty"`
	Children []*Node `json:"children,omitempty"`

	parent *Node
}

func (n *Node) Parent() *Node { return n.parent }
func (n *Node) IsRoot() bool  { return n.parent == nil }

// Store is safe for concurrent use; every operation holds the store lock
// for its whole duration.
type Store struct {
	mu sync.Mutex

	table    string
	schema   *databases.SchemaManager
	reader   *databases.Reader
	modifier *databases.Modifier
	logger   *zap.SugaredLogger

	nodes map[int64]*Node
	roots []*Node
}

type Option func(*Store)

// WithTable stores nodes in table instead of TableName.
func WithTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.table = table
		}
	}
}

func NewStore(registry *databases.Registry, connectionName string, opts ...Option) *Store {
	s := &Store{
		table:    TableName,
		schema:   databases.NewSchemaManager(registry, connectionName),
		reader:   databases.NewReader(registry, connectionName),
		modifier: databases.NewModifier(registry, connectionName),
		logger:   registry.Logger(),
		nodes:    make(map[int64]*Node),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Table() string { return s.table }

// EnsureTable creates the node table when it does not exist yet.
func (s *Store) EnsureTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.schema.TableExists(ctx, s.table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return s.schema.CreateTable(ctx, s.table, []types.ColumnDefinition{
		{Name: "id", Type: "INTEGER", PrimaryKey: true, AutoIncrement: true},
		{Name: "name", Type: "TEXT", NotNull: true},
		{Name: "parent_id", Type: "INTEGER"},
	})
}

type record struct {
	id        int64
	name      string
	parentKey string
}

// Load replaces the mirror with the table contents. Rows are sorted by the
// text of parent_id and attached in one pass, so a row whose parent sorts
// after its own parent_id group is not reachable from the roots. Such rows
// are left out of the mirror.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.reader.SelectAll(ctx, s.table)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", s.table, err)
	}

	records := make([]record, 0, len(rows))
	for _, row := range rows {
		id, _ := row.Value("id").Int64()
		records = append(records, record{
			id:        id,
			name:      row.Value("name").String(),
			parentKey: row.Value("parent_id").String(),
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].parentKey < records[j].parentKey
	})

	s.nodes = make(map[int64]*Node, len(records))
	s.roots = nil

	dropped := 0
	for _, rec := range records {
		node := &Node{ID: rec.id, Name: rec.name}

		if isRootKey(rec.parentKey) {
			s.nodes[node.ID] = node
			s.roots = append(s.roots, node)
			continue
		}

		parentID, err := strconv.ParseInt(rec.parentKey, 10, 64)
		parent, ok := s.nodes[parentID]
		if err != nil || !ok {
			dropped++
			continue
		}

		node.ParentID = parentID
		s.attach(node, parent)
	}

	if dropped > 0 {
		s.logger.Debugw("tree rows not attached", "table", s.table, "count", dropped)
	}
	s.logger.Debugw("tree loaded", "table", s.table, "nodes", len(s.nodes))
	return nil
}

func isRootKey(key string) bool {
	return key == "" || key == "0" || key == "NULL"
}

func (s *Store) attach(node, parent *Node) {
	s.nodes[node.ID] = node
	if parent == nil {
		node.parent = nil
		node.ParentID = 0
		s.roots = append(s.roots, node)
		return
	}
	node.parent = parent
	node.ParentID = parent.ID
	parent.Children = append(parent.Children, node)
}

// AddNodeToRoot inserts a top-level node and mirrors it.
func (s *Store) AddNodeToRoot(ctx context.Context, name string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.add(ctx, name, nil)
}

// AddNodeToParent inserts a child of parentID, which must be in the mirror.
func (s *Store) AddNodeToParent(ctx context.Context, name string, parentID int64) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.nodes[parentID]
	if !ok {
		return nil, fmt.Errorf("parent node %d %w", parentID, databases.ErrNotFound)
	}
	return s.add(ctx, name, parent)
}

func (s *Store) add(ctx context.Context, name string, parent *Node) (*Node, error) {
	if name == "" {
		return nil, fmt.Errorf("node name: %w", databases.ErrEmpty)
	}

	values := types.Values{"name": name, "parent_id": RootParentID}
	if parent != nil {
		values["parent_id"] = parent.ID
	}

	id, err := s.modifier.InsertRecordAndReturnID(ctx, s.table, values)
	if err != nil {
		return nil, err
	}

	node := &Node{ID: id, Name: name}
	s.attach(node, parent)
	return node, nil
}

// DeleteNode removes a node and moves its children up to its parent in one
// transaction. The mirror changes only when the transaction commits.
func (s *Store) DeleteNode(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("node %d %w", id, databases.ErrNotFound)
	}

	grandparent := node.parent
	grandparentID := RootParentID
	if grandparent != nil {
		grandparentID = grandparent.ID
	}

	committed, err := s.modifier.ExecuteInTransaction(ctx, func() (bool, error) {
		if _, err := s.modifier.UpdateColumn(ctx, s.table, "parent_id", grandparentID,
			fmt.Sprintf("parent_id = %d", id)); err != nil {
			return false, err
		}
		return s.modifier.DeleteRecordByID(ctx, s.table, id, "id")
	})
	if err != nil {
		return err
	}
	if !committed {
		return fmt.Errorf("node %d %w", id, databases.ErrNotFound)
	}

	s.detach(node)
	for _, child := range node.Children {
		s.attach(child, grandparent)
	}
	node.Children = nil
	delete(s.nodes, id)
	return nil
}

func (s *Store) detach(node *Node) {
	siblings := &s.roots
	if node.parent != nil {
		siblings = &node.parent.Children
	}
	for i, n := range *siblings {
		if n == node {
			*siblings = append((*siblings)[:i], (*siblings)[i+1:]...)
			break
		}
	}
	node.parent = nil
}

// RenameNode updates the node's name in the table, then in the mirror.
func (s *Store) RenameNode(ctx context.Context, id int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		return fmt.Errorf("node name: %w", databases.ErrEmpty)
	}

	changed, err := s.modifier.UpdateRecordByID(ctx, s.table, id, types.Values{"name": name}, "id")
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("node %d %w", id, databases.ErrNotFound)
	}

	if node, ok := s.nodes[id]; ok {
		node.Name = name
	}
	return nil
}

// Snapshot deep-copies the mirror under the store lock. The copies share
// nothing with the store and can be read or encoded freely.
func (s *Store) Snapshot() []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	var clone func(nodes []*Node, parent *Node) []*Node
	clone = func(nodes []*Node, parent *Node) []*Node {
		if len(nodes) == 0 {
			return nil
		}
		out := make([]*Node, len(nodes))
		for i, n := range nodes {
			c := &Node{ID: n.ID, Name: n.Name, ParentID: n.ParentID, parent: parent}
			c.Children = clone(n.Children, c)
			out[i] = c
		}
		return out
	}
	return clone(s.roots, nil)
}

// Roots returns the top-level nodes in mirror order.
func (s *Store) Roots() []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Node(nil), s.roots...)
}

func (s *Store) Node(id int64) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	return n, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.nodes)
}

// Walk visits the mirror depth first, roots in order.
func (s *Store) Walk(fn func(n *Node, depth int)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var visit func(nodes []*Node, depth int)
	visit = func(nodes []*Node, depth int) {
		for _, n := range nodes {
			fn(n, depth)
			visit(n.Children, depth+1)
		}
	}
	visit(s.roots, 0)
}

// Close rolls back anything the store left uncommitted.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.modifier.Close()
}
