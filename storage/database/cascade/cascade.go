// Package cascade plans the removal of a root record and every row that depends on it.
//
// Each table declares how its rows reference the root: directly through a key of the
// root record (its id, its email...) or through a parent table whose dependent rows are
// removed too. The graph is ordered once so that children are always handled before the
// rows they reference.
package cascade

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// Ref is one way rows of a table reference the root record.
type Ref struct {
	Column    string
	Key       string // root key matched by Column, e.g. "id" or "email"
	Via       string // parent table whose removed rows Column points to
	ViaColumn string // defaults to "id"
	Nullify   bool   // clear Column instead of deleting the row
}

// ByKey matches rows whose column equals a key of the root record.
func ByKey(column, key string) Ref { return Ref{Column: column, Key: key} }

// Via matches rows whose column points to removed rows of a parent table.
func Via(column, table string) Ref { return Ref{Column: column, Via: table, ViaColumn: "id"} }

// SetNull clears column on rows where it equals a key of the root record.
func SetNull(column, key string) Ref { return Ref{Column: column, Key: key, Nullify: true} }

// Node declares how the rows of Table reference the root record.
type Node struct {
	Table string
	Refs  []Ref
}

// Statement is a single DELETE or UPDATE of the plan.
// Keys lists the root keys bound to $1, $2... in order.
type Statement struct {
	Table string
	SQL   string
	Keys  []string
}

// Args resolves the statement arguments from the root record keys.
func (s Statement) Args(keys map[string]interface{}) ([]interface{}, error) {
	args := make([]interface{}, 0, len(s.Keys))
	for _, k := range s.Keys {
		v, ok := keys[k]
		if !ok {
			return nil, errors.Errorf("cascade: missing key %q for %s", k, s.Table)
		}
		args = append(args, v)
	}
	return args, nil
}

type Plan []Statement

// Execer is the subset of *sql.Tx a Plan needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Exec runs every statement in order and returns the affected rows per table.
// It should run inside a transaction: a failed statement leaves the previous ones applied.
func (p Plan) Exec(ctx context.Context, exec Execer, keys map[string]interface{}) (map[string]int64, error) {
	affected := make(map[string]int64, len(p))
	for _, stmt := range p {
		args, err := stmt.Args(keys)
		if err != nil {
			return affected, err
		}
		res, err := exec.ExecContext(ctx, stmt.SQL, args...)
		if err != nil {
			return affected, errors.Wrapf(err, "cascading to %s", stmt.Table)
		}
		if n, err := res.RowsAffected(); err == nil {
			affected[stmt.Table] += n
		}
	}
	return affected, nil
}

// Graph is the set of tables depending on a root table.
type Graph struct {
	root  string
	nodes []Node
	index map[string]int
}

// New declares a graph. One of the nodes must be the root table itself.
func New(root string, nodes ...Node) *Graph {
	g := &Graph{root: root, nodes: nodes, index: make(map[string]int, len(nodes))}
	for i, n := range nodes {
		if _, dup := g.index[n.Table]; !dup {
			g.index[n.Table] = i
		}
	}
	return g
}

func (g *Graph) validate() error {
	if _, ok := g.index[g.root]; !ok {
		return errors.Errorf("cascade: root table %q is not declared", g.root)
	}
	seen := make(map[string]bool, len(g.nodes))
	for _, n := range g.nodes {
		if seen[n.Table] {
			return errors.Errorf("cascade: table %q declared twice", n.Table)
		}
		seen[n.Table] = true
		if len(n.Refs) == 0 {
			return errors.Errorf("cascade: table %q has no reference", n.Table)
		}

		for _, ref := range n.Refs {
			switch {
			case ref.Column == "":
				return errors.Errorf("cascade: %s: reference without column", n.Table)
			case (ref.Key == "") == (ref.Via == ""):
				return errors.Errorf("cascade: %s.%s: reference needs exactly one of key or via", n.Table, ref.Column)
			case ref.Nullify && ref.Via != "":
				return errors.Errorf("cascade: %s.%s: only direct references can be nullified", n.Table, ref.Column)
			case ref.Via == n.Table:
				return errors.Errorf("cascade: %s.%s: self reference", n.Table, ref.Column)
			}
			if ref.Via != "" {
				parent, ok := g.index[ref.Via]
				if !ok {
					return errors.Errorf("cascade: %s.%s: unknown table %q", n.Table, ref.Column, ref.Via)
				}
				if !hasDeleteRef(g.nodes[parent]) {
					return errors.Errorf("cascade: %s.%s: table %q removes no rows", n.Table, ref.Column, ref.Via)
				}
			}
		}
	}
	return nil
}

func hasDeleteRef(n Node) bool {
	for _, ref := range n.Refs {
		if !ref.Nullify {
			return true
		}
	}
	return false
}

// order sorts the tables so that every table comes before the tables it references.
func (g *Graph) order() ([]Node, error) {
	before := make([][]int, len(g.nodes)) // before[i]: nodes that must wait for i
	inDeg := make([]int, len(g.nodes))
	rootIdx := g.index[g.root]

	addEdge := func(from, to int) {
		for _, j := range before[from] {
			if j == to {
				return
			}
		}
		before[from] = append(before[from], to)
		inDeg[to]++
	}
	for i, n := range g.nodes {
		for _, ref := range n.Refs {
			if ref.Via != "" {
				addEdge(i, g.index[ref.Via])
			} else if i != rootIdx {
				addEdge(i, rootIdx)
			}
		}
	}

	sorted := make([]Node, 0, len(g.nodes))
	done := make([]bool, len(g.nodes))
	for len(sorted) < len(g.nodes) {
		next := -1
		for i := range g.nodes {
			if !done[i] && inDeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var cycle []string
			for i, n := range g.nodes {
				if !done[i] {
					cycle = append(cycle, n.Table)
				}
			}
			return nil, errors.Errorf("cascade: dependency cycle between %s", strings.Join(cycle, ", "))
		}
		done[next] = true
		sorted = append(sorted, g.nodes[next])
		for _, j := range before[next] {
			inDeg[j]--
		}
	}
	return sorted, nil
}

// Plan validates the graph and derives its statements, children first.
func (g *Graph) Plan() (Plan, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	nodes, err := g.order()
	if err != nil {
		return nil, err
	}

	plan := make(Plan, 0, len(nodes))
	for _, n := range nodes {
		if hasDeleteRef(n) {
			b := newBinder()
			where := g.predicate(n, b)
			plan = append(plan, Statement{
				Table: n.Table,
				SQL:   fmt.Sprintf("DELETE FROM %s WHERE %s", pq.QuoteIdentifier(n.Table), where),
				Keys:  b.keys,
			})
		}
		for _, ref := range n.Refs {
			if !ref.Nullify {
				continue
			}
			b := newBinder()
			col := pq.QuoteIdentifier(ref.Column)
			plan = append(plan, Statement{
				Table: n.Table,
				SQL: fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = %s",
					pq.QuoteIdentifier(n.Table), col, col, b.bind(ref.Key)),
				Keys: b.keys,
			})
		}
	}
	return plan, nil
}

// predicate selects the rows of n to delete.
func (g *Graph) predicate(n Node, b *binder) string {
	conds := make([]string, 0, len(n.Refs))
	for _, ref := range n.Refs {
		if ref.Nullify {
			continue
		}
		col := pq.QuoteIdentifier(ref.Column)
		if ref.Key != "" {
			conds = append(conds, fmt.Sprintf("%s = %s", col, b.bind(ref.Key)))
			continue
		}
		viaCol := ref.ViaColumn
		if viaCol == "" {
			viaCol = "id"
		}
		parent := g.nodes[g.index[ref.Via]]
		conds = append(conds, fmt.Sprintf("%s IN (SELECT %s FROM %s WHERE %s)",
			col, pq.QuoteIdentifier(viaCol), pq.QuoteIdentifier(parent.Table), g.predicate(parent, b)))
	}
	return strings.Join(conds, " OR ")
}

// binder numbers placeholders, reusing one per root key.
type binder struct {
	keys []string
	pos  map[string]int
}

func newBinder() *binder {
	return &binder{pos: make(map[string]int)}
}

func (b *binder) bind(key string) string {
	if p, ok := b.pos[key]; ok {
		return fmt.Sprintf("$%d", p)
	}
	b.keys = append(b.keys, key)
	b.pos[key] = len(b.keys)
	return fmt.Sprintf("$%d", len(b.keys))
}
